package fsm

// PState is a state of the Provisioning State Machine.
type PState string

// PEvent is an event accepted by the Provisioning State Machine.
type PEvent string

// Provisioning State Machine states (spec.md §4.1). The PSM only exists
// for a Connection once its first ReserveCommit has been confirmed:
// package process creates it then, and package store refuses PSM
// updates before that; this table does not track it.
const (
	Released    PState = "Released" // initial
	Provisioning PState = "Provisioning"
	Provisioned PState = "Provisioned"
	Releasing   PState = "Releasing"
)

// Provisioning State Machine events.
const (
	EvProvisionRequest  PEvent = "provision_request"
	EvProvisionConfirmed PEvent = "provision_confirmed"
	EvReleaseRequest    PEvent = "release_request"
	EvReleaseConfirmed  PEvent = "release_confirmed"
)

var psmTable = table[PState, PEvent]{
	Released: {
		EvProvisionRequest: Provisioning,
	},
	Provisioning: {
		EvProvisionConfirmed: Provisioned,
	},
	Provisioned: {
		EvReleaseRequest: Releasing,
	},
	Releasing: {
		EvReleaseConfirmed: Released,
	},
}

// ApplyPSM evaluates the Provisioning State Machine transition for
// (state, event), returning the next state or ErrRejected.
func ApplyPSM(state PState, event PEvent) (PState, error) {
	return apply(psmTable, state, event)
}
