package process

import (
	"context"
	"time"

	"go.nsi.dev/provider/fsm"
	"go.nsi.dev/provider/protocol"
	"go.nsi.dev/provider/requester"
	"go.nsi.dev/provider/store"
)

// onHoldTimeout fires when a reservation's hold timer expires before
// Commit/Abort (spec.md §4.7). It re-validates against the connection's
// current RSM state before acting, so a timer racing a commit that landed
// first is a benign no-op (fsm.ErrRejected, not an error worth logging).
func (p *Processor) onHoldTimeout(ctx context.Context, connectionID string) error {
	var conn, err = p.CS.Load(connectionID)
	if err != nil {
		return err
	}
	var next, tErr = fsm.ApplyRSM(conn.ReservationState, fsm.EvReserveTimeoutNotify)
	if tErr != nil {
		// Already moved on (committed or aborted first); nothing to do.
		return nil
	}
	if err := p.CS.UpdateState(connectionID, store.MachineRSM, string(conn.ReservationState), string(next), false); err != nil {
		if err == store.ErrConflict {
			return nil
		}
		return err
	}

	var payload = protocol.ReserveTimeoutNotification{ConnectionID: connectionID, Timestamp: time.Now()}
	var body = encode(payload)
	if _, nerr := p.CS.AppendNotification(connectionID, protocol.KindReserveTimeout, body); nerr != nil {
		return nerr
	}
	var _, derr = p.Requester.Deliver(connectionID, requester.Callback{
		ConnectionID: connectionID, Method: "reserveTimeout", Body: body,
	})
	return derr
}

// onAutoStart fires at a reservation's scheduled start_time. This profile
// auto-activates the data plane once the start time is reached for an
// already-provisioned connection (spec.md's auto_start design note); if
// the connection was never provisioned in time, it is a no-op.
func (p *Processor) onAutoStart(ctx context.Context, connectionID string) error {
	var conn, err = p.CS.Load(connectionID)
	if err != nil {
		return err
	}
	if conn.ProvisioningState != fsm.Provisioned {
		return nil
	}
	return p.Activate(connectionID, "")
}

// onAutoEnd fires at a reservation's scheduled end_time: Created ->
// PassedEndTime (spec.md §4.1's forced LSM transition), deactivating the
// data plane if it is still up.
func (p *Processor) onAutoEnd(ctx context.Context, connectionID string) error {
	var conn, err = p.CS.Load(connectionID)
	if err != nil {
		return err
	}
	var next, tErr = fsm.ApplyLSM(conn.LifecycleState, fsm.EvEndtimeEvent)
	if tErr != nil {
		return nil // already terminating/terminated
	}
	if err := p.CS.UpdateState(connectionID, store.MachineLSM, string(conn.LifecycleState), string(next), false); err != nil {
		if err == store.ErrConflict {
			return nil
		}
		return err
	}
	if conn.DataPlaneState == fsm.Activated {
		return p.Deactivate(connectionID, "")
	}
	return nil
}
