package jobqueue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.nsi.dev/provider/store"
	"go.nsi.dev/provider/store/rocksdb"
)

func newTestEngine(t *testing.T) (*Engine, *rocksdb.Store) {
	t.Helper()
	var s, err = rocksdb.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(s.Close)

	var e = NewEngine(s, 4, logrus.NewEntry(logrus.New()))
	return e, s
}

func TestRunNowJobExecutesAndMarksDone(t *testing.T) {
	var e, s = newTestEngine(t)
	var ran int32
	e.RegisterHandler("noop", func(ctx context.Context, job store.JobRecord) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	var jobID, err = e.Submit("noop", "conn-1", store.Trigger{Kind: store.TriggerRunNow}, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return atomic.LoadInt32(&ran) == 1 }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool {
		var rec, err = s.LoadJob(jobID)
		return err == nil && rec.State == store.JobDone
	}, time.Second, 5*time.Millisecond)
}

func TestSameConnectionJobsAreSerialized(t *testing.T) {
	var e, _ = newTestEngine(t)
	var running int32
	var sawOverlap int32

	e.RegisterHandler("slow", func(ctx context.Context, job store.JobRecord) error {
		if atomic.AddInt32(&running, 1) > 1 {
			atomic.StoreInt32(&sawOverlap, 1)
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil
	})

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	for i := 0; i < 5; i++ {
		var _, err = e.Submit("slow", "conn-shared", store.Trigger{Kind: store.TriggerRunNow}, nil)
		require.NoError(t, err)
	}

	time.Sleep(200 * time.Millisecond)
	assert.EqualValues(t, 0, atomic.LoadInt32(&sawOverlap))
}

func TestRecoverDropsJobsWhoseRecovererReturnsNil(t *testing.T) {
	var e, s = newTestEngine(t)
	e.RegisterHandler("query", func(context.Context, store.JobRecord) error { return nil })
	e.RegisterRecoverer("query", func(store.JobRecord) (*store.JobRecord, error) { return nil, nil })

	require.NoError(t, s.CreateJob(store.JobRecord{
		JobID:   "stale-query",
		JobKind: "query",
		Trigger: store.Trigger{Kind: store.TriggerRunNow},
		State:   store.JobPending,
	}))

	require.NoError(t, e.Recover(context.Background()))

	var _, err = s.LoadJob("stale-query")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecoverReschedulesJobsWhoseRecovererReturnsRecord(t *testing.T) {
	var e, s = newTestEngine(t)
	var ran int32
	e.RegisterHandler("nrm_activate", func(context.Context, store.JobRecord) error {
		atomic.AddInt32(&ran, 1)
		return nil
	})
	e.RegisterRecoverer("nrm_activate", func(rec store.JobRecord) (*store.JobRecord, error) {
		return &rec, nil
	})

	require.NoError(t, s.CreateJob(store.JobRecord{
		JobID:        "resume-me",
		JobKind:      "nrm_activate",
		ConnectionID: "conn-1",
		Trigger:      store.Trigger{Kind: store.TriggerRunNow},
		State:        store.JobRunning,
	}))

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	e.Start(ctx)
	defer e.Stop()

	require.NoError(t, e.Recover(context.Background()))

	require.Eventually(t, func() bool { return atomic.LoadInt32(&ran) == 1 }, time.Second, 5*time.Millisecond)
}
