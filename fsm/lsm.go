package fsm

// LState is a state of the Lifecycle State Machine.
type LState string

// LEvent is an event accepted by the Lifecycle State Machine.
type LEvent string

// Lifecycle State Machine states (spec.md §4.1).
const (
	Created       LState = "Created" // initial
	Failed        LState = "Failed"
	Terminating   LState = "Terminating"
	PassedEndTime LState = "PassedEndTime"
	Terminated    LState = "Terminated"
)

// Lifecycle State Machine events.
const (
	EvForcedEndNotify    LEvent = "forced_end_notification"
	EvEndtimeEvent       LEvent = "endtime_event"
	EvTerminateRequest   LEvent = "terminate_request"
	EvTerminateConfirmed LEvent = "terminate_confirmed"
)

var lsmTable = table[LState, LEvent]{
	Created: {
		EvForcedEndNotify:  Failed,
		EvEndtimeEvent:     PassedEndTime,
		EvTerminateRequest: Terminating,
	},
	Failed: {
		EvTerminateRequest: Terminating,
	},
	PassedEndTime: {
		EvTerminateRequest: Terminating,
	},
	Terminating: {
		EvTerminateConfirmed: Terminated,
	},
	// Terminated has no outgoing LSM transitions. Package process
	// consults the LSM only in HandleProvision (which requires Created)
	// and in the LSM-driven handlers; the RSM/PSM handlers (reserve,
	// commit, abort, release) do not check it, so a Terminated
	// connection's other machines are not blocked by this table.
}

// ApplyLSM evaluates the Lifecycle State Machine transition for
// (state, event), returning the next state or ErrRejected.
func ApplyLSM(state LState, event LEvent) (LState, error) {
	return apply(lsmTable, state, event)
}

// Terminal reports whether state has no outgoing transitions.
func (s LState) Terminal() bool { return s == Terminated }
