package fsm

// DState is a state of the derived Data-Plane State Machine.
type DState string

// DEvent is an event accepted by the Data-Plane State Machine.
type DEvent string

// Data-Plane State Machine states (spec.md §4.1), driven internally by
// NRM backend callback outcomes rather than caller-triggered messages.
const (
	Deactivated     DState = "Deactivated" // initial
	Activating      DState = "Activating"
	Activated       DState = "Activated"
	Deactivating    DState = "Deactivating"
	ActivateFailed  DState = "ActivateFailed"
	DeactivateFailed DState = "DeactivateFailed"
)

// Data-Plane State Machine events.
const (
	EvActivateRequest    DEvent = "activate_request"
	EvActivateConfirmed  DEvent = "activate_confirmed"
	EvActivateFailed     DEvent = "activate_failed"
	EvDeactivateRequest   DEvent = "deactivate_request"
	EvDeactivateConfirmed DEvent = "deactivate_confirmed"
	EvDeactivateFailed    DEvent = "deactivate_failed"
)

var dpsmTable = table[DState, DEvent]{
	Deactivated: {
		EvActivateRequest: Activating,
	},
	Activating: {
		EvActivateConfirmed: Activated,
		EvActivateFailed:    ActivateFailed,
	},
	Activated: {
		EvDeactivateRequest: Deactivating,
	},
	Deactivating: {
		EvDeactivateConfirmed: Deactivated,
		EvDeactivateFailed:    DeactivateFailed,
	},
	// ActivateFailed/DeactivateFailed: an operator-triggered retry
	// re-enters via a fresh activate/deactivate_request; modeled as a
	// transition back into Activating/Deactivating.
	ActivateFailed: {
		EvActivateRequest: Activating,
	},
	DeactivateFailed: {
		EvDeactivateRequest: Deactivating,
	},
}

// ApplyDPSM evaluates the Data-Plane State Machine transition for
// (state, event), returning the next state or ErrRejected.
func ApplyDPSM(state DState, event DEvent) (DState, error) {
	return apply(dpsmTable, state, event)
}
