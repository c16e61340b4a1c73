package rocksdb

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.nsi.dev/provider/fsm"
	"go.nsi.dev/provider/protocol"
	"go.nsi.dev/provider/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	var s, err = Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestCreateThenLoadRoundTrips(t *testing.T) {
	var s = newTestStore(t)

	var c = store.Connection{
		ConnectionID:     "conn-1",
		RequesterNSA:     "urn:ogf:network:requester.example:2024",
		ReservationState: fsm.ReserveStart,
	}
	require.NoError(t, s.Create(c))

	var got, err = s.Load("conn-1")
	require.NoError(t, err)
	assert.Equal(t, c.ConnectionID, got.ConnectionID)
	assert.Equal(t, fsm.ReserveStart, got.ReservationState)
}

func TestCreateDuplicateRejected(t *testing.T) {
	var s = newTestStore(t)
	var c = store.Connection{ConnectionID: "conn-1"}
	require.NoError(t, s.Create(c))
	assert.ErrorIs(t, s.Create(c), store.ErrDuplicate)
}

func TestLoadMissingReturnsNotFound(t *testing.T) {
	var s = newTestStore(t)
	var _, err = s.Load("nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateStateCASSucceedsOnMatchAndConflictsOnMismatch(t *testing.T) {
	var s = newTestStore(t)
	require.NoError(t, s.Create(store.Connection{
		ConnectionID:     "conn-1",
		ReservationState: fsm.ReserveStart,
	}))

	require.NoError(t, s.UpdateState("conn-1", store.MachineRSM,
		string(fsm.ReserveStart), string(fsm.ReserveChecking), false))

	var got, err = s.Load("conn-1")
	require.NoError(t, err)
	assert.Equal(t, fsm.ReserveChecking, got.ReservationState)

	// A stale caller still expecting ReserveStart loses the race.
	var conflictErr = s.UpdateState("conn-1", store.MachineRSM,
		string(fsm.ReserveStart), string(fsm.ReserveHeld), false)
	assert.ErrorIs(t, conflictErr, store.ErrConflict)
}

func TestUpdateStatePSMCreationSetsPSMExists(t *testing.T) {
	var s = newTestStore(t)
	require.NoError(t, s.Create(store.Connection{
		ConnectionID:      "conn-1",
		ProvisioningState: fsm.Released,
	}))

	require.NoError(t, s.UpdateState("conn-1", store.MachinePSM,
		string(fsm.Released), string(fsm.Provisioning), true))

	var got, err = s.Load("conn-1")
	require.NoError(t, err)
	assert.True(t, got.PSMExists)
	assert.Equal(t, fsm.Provisioning, got.ProvisioningState)
}

func TestAppendNotificationAssignsMonotonicIDsStartingAtOne(t *testing.T) {
	var s = newTestStore(t)
	require.NoError(t, s.Create(store.Connection{ConnectionID: "conn-1"}))

	var id1, err = s.AppendNotification("conn-1", protocol.KindReserveTimeout, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 1, id1)

	var id2, err2 = s.AppendNotification("conn-1", protocol.KindErrorEvent, nil)
	require.NoError(t, err2)
	assert.EqualValues(t, 2, id2)

	var notifs, err3 = s.ListNotifications("conn-1", 0, 0)
	require.NoError(t, err3)
	require.Len(t, notifs, 2)
	assert.EqualValues(t, 1, notifs[0].NotificationID)
	assert.EqualValues(t, 2, notifs[1].NotificationID)
}

func TestQuerySummaryExcludesCheckingAndFailedAndHonorsIfModifiedSince(t *testing.T) {
	var s = newTestStore(t)
	var base = time.Now().Add(-time.Hour)

	require.NoError(t, s.Create(store.Connection{
		ConnectionID:        "held",
		GlobalReservationID: "gri-1",
		ReservationState:    fsm.ReserveHeld,
		LastModified:        base.Add(2 * time.Hour),
	}))
	require.NoError(t, s.Create(store.Connection{
		ConnectionID:     "checking",
		ReservationState: fsm.ReserveChecking,
		LastModified:     base.Add(2 * time.Hour),
	}))
	require.NoError(t, s.Create(store.Connection{
		ConnectionID:     "failed",
		ReservationState: fsm.ReserveFailed,
		LastModified:     base.Add(2 * time.Hour),
	}))
	require.NoError(t, s.Create(store.Connection{
		ConnectionID:     "stale",
		ReservationState: fsm.ReserveHeld,
		LastModified:     base,
	}))

	var got, err = s.QuerySummary(nil, nil, base.Add(time.Hour).UnixNano())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "held", got[0].ConnectionID)
}

func TestQuerySummaryFiltersByConnectionOrGlobalReservationID(t *testing.T) {
	var s = newTestStore(t)
	var now = time.Now()

	require.NoError(t, s.Create(store.Connection{
		ConnectionID: "a", GlobalReservationID: "gri-a",
		ReservationState: fsm.ReserveHeld, LastModified: now,
	}))
	require.NoError(t, s.Create(store.Connection{
		ConnectionID: "b", GlobalReservationID: "gri-b",
		ReservationState: fsm.ReserveHeld, LastModified: now,
	}))

	var got, err = s.QuerySummary([]string{"a"}, nil, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ConnectionID)

	var got2, err2 = s.QuerySummary(nil, []string{"gri-b"}, 0)
	require.NoError(t, err2)
	require.Len(t, got2, 1)
	assert.Equal(t, "b", got2[0].ConnectionID)
}

func TestJobLifecycle(t *testing.T) {
	var s = newTestStore(t)
	var j = store.JobRecord{
		JobID:        "job-1",
		JobKind:      "nrm_reserve",
		ConnectionID: "conn-1",
		Trigger:      store.Trigger{Kind: store.TriggerRunNow},
		State:        store.JobPending,
	}
	require.NoError(t, s.CreateJob(j))

	var attempts, err = s.IncrementAttempts("job-1")
	require.NoError(t, err)
	assert.Equal(t, 1, attempts)

	require.NoError(t, s.UpdateJobState("job-1", store.JobRunning, ""))
	var got, err2 = s.LoadJob("job-1")
	require.NoError(t, err2)
	assert.Equal(t, store.JobRunning, got.State)
	assert.Equal(t, 1, got.Attempts)

	var pending, err3 = s.ListPendingJobs()
	require.NoError(t, err3)
	require.Len(t, pending, 1)

	require.NoError(t, s.UpdateJobState("job-1", store.JobDone, ""))
	var pendingAfter, err4 = s.ListPendingJobs()
	require.NoError(t, err4)
	assert.Len(t, pendingAfter, 0)

	require.NoError(t, s.DeleteJob("job-1"))
	var _, err5 = s.LoadJob("job-1")
	assert.ErrorIs(t, err5, store.ErrNotFound)
}
