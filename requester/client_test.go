package requester

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"go.nsi.dev/provider/jobqueue"
	"go.nsi.dev/provider/protocol"
	"go.nsi.dev/provider/store"
	"go.nsi.dev/provider/store/rocksdb"
)

type fakeSender struct {
	failTimes int32
	calls     int32
}

func (f *fakeSender) Send(ctx context.Context, replyTo, method string, payload []byte) error {
	var n = atomic.AddInt32(&f.calls, 1)
	if n <= atomic.LoadInt32(&f.failTimes) {
		return errors.New("peer unreachable")
	}
	return nil
}

func newTestClient(t *testing.T, sender Sender, cfg Config) (*Client, *jobqueue.Engine, *rocksdb.Store) {
	t.Helper()
	var s, err = rocksdb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(s.Close)

	var log = logrus.NewEntry(logrus.New())
	var engine = jobqueue.NewEngine(s, 2, log)
	var c = New(engine, sender, s, cfg, log)
	return c, engine, s
}

func TestDeliverSucceedsAfterTransientFailures(t *testing.T) {
	var sender = &fakeSender{failTimes: 2}
	var c, engine, _ = newTestClient(t, sender, Config{Attempts: 5, FirstWait: time.Millisecond})

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)
	defer engine.Stop()

	var _, err = c.Deliver("conn-1", Callback{
		ConnectionID: "conn-1", ReplyTo: "127.0.0.1:0", Method: "reserveConfirmed", Body: []byte("x"),
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&sender.calls) >= 3
	}, time.Second, 5*time.Millisecond)
}

func TestDeliverExhaustsRetriesAndNotifiesTimeout(t *testing.T) {
	var sender = &fakeSender{failTimes: 1000}
	var c, engine, cs = newTestClient(t, sender, Config{Attempts: 2, FirstWait: time.Millisecond})

	require.NoError(t, cs.Create(store.Connection{ConnectionID: "conn-2"}))

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	engine.Start(ctx)
	defer engine.Stop()

	var _, err = c.Deliver("conn-2", Callback{
		ConnectionID: "conn-2", ReplyTo: "127.0.0.1:0", Method: "errorEvent", CorrelationID: "corr-1",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		var notifs, nerr = cs.ListNotifications("conn-2", 0, 0)
		return nerr == nil && len(notifs) == 1 && notifs[0].Kind == protocol.KindMessageDeliveryTimeout
	}, 2*time.Second, 10*time.Millisecond)
}
