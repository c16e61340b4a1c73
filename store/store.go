package store

import (
	"errors"

	"go.nsi.dev/provider/protocol"
)

// ErrDuplicate is returned by Create when a Connection with the same
// ConnectionID already exists.
var ErrDuplicate = errors.New("store: duplicate connection")

// ErrNotFound is returned by Load, UpdateState, and the job accessors
// when the requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned by UpdateState when expectedPrev does not match
// the record's current value for the given machine -- the compare-and-swap
// analogue of spec.md §4.2's "update_state ... ok | conflict".
var ErrConflict = errors.New("store: compare-and-swap conflict")

// ConnectionStore is the Connection Store (C2) contract of spec.md §4.2.
// Each write is serialised under the store's own per-connection lock;
// UpdateState additionally enforces
// compare-and-swap against the caller's expected previous state so that a
// timer racing a message (or vice versa) can never silently clobber the
// other's transition (spec.md §4.4's tie-break policy, §5's CAS note).
type ConnectionStore interface {
	Create(c Connection) error
	Load(connectionID string) (Connection, error)

	// UpdateState performs a compare-and-swap of the named machine's
	// state: it succeeds only if the record's current value for
	// |machine| equals expectedPrev, and atomically sets it to newState
	// and bumps LastModified. For MachinePSM, creating==true also flips
	// PSMExists to true as part of the same write (the "PSM is created on
	// first commit" rule of spec.md §3).
	UpdateState(connectionID string, machine Machine, expectedPrev, newState string, creating bool) error

	SetCircuitID(connectionID, circuitID string) error
	SetSchedule(connectionID string, sched Schedule) error
	SetLastModified(connectionID string) error

	AppendNotification(connectionID string, kind protocol.NotificationKind, payload []byte) (int64, error)
	AppendResult(connectionID, correlationID string, outcome []byte) (int64, error)

	// ListNotifications returns the notification range [startID, endID]
	// for connectionID (0 means unbounded on that side), in monotonic
	// notification_id order.
	ListNotifications(connectionID string, startID, endID int64) ([]Notification, error)
	// ListResults is the Result-log analogue of ListNotifications.
	ListResults(connectionID string, startID, endID int64) ([]Result, error)

	// QuerySummary returns every Connection matching the disjunctive
	// (connectionIDs, globalReservationIDs) filter (both empty means
	// "all"), excluding ReserveChecking/ReserveFailed, with
	// LastModified > ifModifiedSince (spec.md §4.8).
	QuerySummary(connectionIDs, globalReservationIDs []string, ifModifiedSince int64) ([]Connection, error)
}

// Schedule is the (start_time, end_time) pair set via SetSchedule.
type Schedule struct {
	StartTimeUnixNano int64 // 0 means unset ("as soon as committed")
	EndTimeUnixNano   int64 // 0 means unset ("forever")
}

// JobStore is the persisted side of the Job Engine (C3): job records
// survive restart so that Engine.Recover can rebuild in-flight work
// (spec.md §4.3, §4.7, §5).
type JobStore interface {
	CreateJob(j JobRecord) error
	LoadJob(jobID string) (JobRecord, error)
	UpdateJobState(jobID string, state JobState, lastError string) error
	IncrementAttempts(jobID string) (int, error)
	DeleteJob(jobID string) error

	// ListPendingJobs returns every job not in a terminal (done/failed)
	// state, for use by Engine.Recover on startup.
	ListPendingJobs() ([]JobRecord, error)
	// ListJobsForConnection returns every non-terminal job bearing
	// connectionID, for cancellation when LSM transitions to Terminating
	// (spec.md §4.4's "On LSM Terminating ... cancel pending jobs").
	ListJobsForConnection(connectionID string) ([]JobRecord, error)
}
