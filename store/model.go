// Package store implements the Connection Store (C2): the durable record
// of a Connection's criteria, schedule, endpoints, four state values, and
// its append-only notification / result logs, plus the Job Engine's
// persistent Job Records. It is grounded on dwarri-gazette's
// consumer/store-rocksdb package, which embeds RocksDB as a local,
// single-node durable store rather than relying on an external RDBMS --
// spec.md explicitly puts "the relational store's physical schema" out of
// scope, so any durable KV engine satisfying the operations below is a
// valid realization of C2.
package store

import (
	"time"

	"go.nsi.dev/provider/fsm"
	"go.nsi.dev/provider/protocol"
)

// Connection is the durable record described in spec.md §3.
type Connection struct {
	ConnectionID        string
	GlobalReservationID string
	Description         string
	RequesterNSA        string
	ProviderNSA         string
	ReservationVersion  int

	StartTime *time.Time
	EndTime   *time.Time

	BandwidthMbps int
	SrcPortID     string
	SrcVlan       int
	DstPortID     string
	DstVlan       int

	CircuitID string

	ReservationState  fsm.RState
	ProvisioningState fsm.PState
	LifecycleState    fsm.LState
	DataPlaneState    fsm.DState

	// PSMExists records whether the Provisioning State Machine has been
	// created yet. It is set when the first ReserveCommit is confirmed;
	// ProvisioningState is meaningless (and must not be CAS'd) until this
	// is true.
	PSMExists bool

	LastModified time.Time
}

// Machine identifies one of the four per-connection state machines, for
// use with UpdateState's CAS contract.
type Machine string

const (
	MachineRSM  Machine = "RSM"
	MachinePSM  Machine = "PSM"
	MachineLSM  Machine = "LSM"
	MachineDPSM Machine = "DPSM"
)

// Notification is one row of the append-only notification log (spec.md §3).
type Notification struct {
	NotificationID int64
	ConnectionID   string
	Timestamp      time.Time
	Kind           protocol.NotificationKind
	Payload        []byte
}

// Result is one row of the append-only result log (spec.md §3).
type Result struct {
	ResultID      int64
	ConnectionID  string
	Timestamp     time.Time
	CorrelationID string
	Outcome       []byte
}

// JobState is the lifecycle of a persisted Job Record (spec.md §3).
type JobState string

const (
	JobPending JobState = "pending"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// TriggerKind identifies how a Job is scheduled (spec.md §4.3).
type TriggerKind string

const (
	TriggerRunNow   TriggerKind = "run_now"
	TriggerAt       TriggerKind = "at"
	TriggerInterval TriggerKind = "interval"
)

// Trigger parametrizes a Job's schedule.
type Trigger struct {
	Kind     TriggerKind
	At       time.Time     // meaningful iff Kind == TriggerAt
	Interval time.Duration // meaningful iff Kind == TriggerInterval
}

// JobRecord is the durable record of a scheduled unit of work (spec.md §3).
type JobRecord struct {
	JobID        string
	JobKind      string
	ConnectionID string // empty for connection-independent jobs (e.g. topology refresh)
	Trigger      Trigger
	Payload      []byte
	State        JobState
	Attempts     int
	LastError    string
}
