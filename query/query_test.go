package query

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.nsi.dev/provider/fsm"
	"go.nsi.dev/provider/protocol"
	"go.nsi.dev/provider/store"
	"go.nsi.dev/provider/store/rocksdb"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	var s, err = rocksdb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return &Engine{CS: s}
}

func TestSummaryExcludesTransientStates(t *testing.T) {
	var e = newTestEngine(t)
	var cs = e.CS.(interface {
		Create(store.Connection) error
	})
	require.NoError(t, cs.Create(store.Connection{
		ConnectionID: "a", ReservationState: fsm.ReserveHeld, LastModified: time.Now(),
	}))
	require.NoError(t, cs.Create(store.Connection{
		ConnectionID: "b", ReservationState: fsm.ReserveChecking, LastModified: time.Now(),
	}))

	var entries, err = e.Summary(protocol.QueryRequest{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a", entries[0].ConnectionID)
}

func TestNotificationAndResultRoundTrip(t *testing.T) {
	var e = newTestEngine(t)
	var cs = e.CS.(interface {
		Create(store.Connection) error
	})
	require.NoError(t, cs.Create(store.Connection{ConnectionID: "conn-1"}))

	var _, err = e.CS.AppendNotification("conn-1", protocol.KindReserveTimeout, []byte("n1"))
	require.NoError(t, err)
	var _, err2 = e.CS.AppendResult("conn-1", "corr-1", []byte("r1"))
	require.NoError(t, err2)

	var notifs, nerr = e.Notification(protocol.QueryNotificationRequest{ConnectionID: "conn-1"})
	require.NoError(t, nerr)
	require.Len(t, notifs, 1)
	assert.Equal(t, []byte("n1"), notifs[0].Payload)

	var results, rerr = e.Result(protocol.QueryResultRequest{ConnectionID: "conn-1"})
	require.NoError(t, rerr)
	require.Len(t, results, 1)
	assert.Equal(t, "corr-1", results[0].CorrelationID)
}
