package process

import (
	"context"

	"github.com/pkg/errors"

	"go.nsi.dev/provider/fsm"
	"go.nsi.dev/provider/protocol"
	"go.nsi.dev/provider/requester"
	"go.nsi.dev/provider/store"
)

// Activate drives the derived Data-Plane State Machine's activate path
// (spec.md §4.1). Unlike Reserve/Provision/Release, activation is not
// triggered by a distinct NSI-CS message type in this profile -- it is
// invoked once Provision completes (package process wires that
// internally) or by an operator/auto_start timer re-entry after an
// ActivateFailed state.
func (p *Processor) Activate(connectionID, correlationID string) error {
	var conn, err = p.CS.Load(connectionID)
	if err != nil {
		return err
	}
	var next, tErr = fsm.ApplyDPSM(conn.DataPlaneState, fsm.EvActivateRequest)
	if tErr != nil {
		return rejectTransition(tErr)
	}
	if err := p.CS.UpdateState(connectionID, store.MachineDPSM, string(conn.DataPlaneState), string(next), false); err != nil {
		return errors.Wrap(err, "applying activate_request")
	}
	var _, serr = p.Engine.Submit(jobActivate, connectionID, store.Trigger{Kind: store.TriggerRunNow},
		encode(connPayload{ConnectionID: connectionID, CorrelationID: correlationID}))
	return serr
}

// Deactivate is Activate's inverse.
func (p *Processor) Deactivate(connectionID, correlationID string) error {
	var conn, err = p.CS.Load(connectionID)
	if err != nil {
		return err
	}
	var next, tErr = fsm.ApplyDPSM(conn.DataPlaneState, fsm.EvDeactivateRequest)
	if tErr != nil {
		return rejectTransition(tErr)
	}
	if err := p.CS.UpdateState(connectionID, store.MachineDPSM, string(conn.DataPlaneState), string(next), false); err != nil {
		return errors.Wrap(err, "applying deactivate_request")
	}
	var _, serr = p.Engine.Submit(jobDeactivate, connectionID, store.Trigger{Kind: store.TriggerRunNow},
		encode(connPayload{ConnectionID: connectionID, CorrelationID: correlationID}))
	return serr
}

func (p *Processor) runActivate(ctx context.Context, job store.JobRecord) error {
	var payload, err = decodeConn(job.Payload)
	if err != nil {
		return err
	}
	var conn, lErr = p.CS.Load(payload.ConnectionID)
	if lErr != nil {
		return lErr
	}
	return p.activateDataPlane(ctx, conn, payload.CorrelationID)
}

func (p *Processor) runDeactivate(ctx context.Context, job store.JobRecord) error {
	var payload, err = decodeConn(job.Payload)
	if err != nil {
		return err
	}
	var conn, lErr = p.CS.Load(payload.ConnectionID)
	if lErr != nil {
		return lErr
	}
	return p.deactivateDataPlane(ctx, conn, payload.CorrelationID)
}

// activateDataPlane is the synchronous DPSM-activate sequence: call the
// backend, persist the resulting transition, and notify. On failure it
// also emits an ErrorEvent notification (spec.md §4.4, §7: NRM failures
// inside jobs are surfaced as a notification, not just a state change).
func (p *Processor) activateDataPlane(ctx context.Context, conn store.Connection, correlationID string) error {
	var aErr = p.Backend.Activate(ctx, circuitHandleOf(conn))
	var event = fsm.EvActivateConfirmed
	if aErr != nil {
		event = fsm.EvActivateFailed
	}
	var next, tErr = fsm.ApplyDPSM(conn.DataPlaneState, event)
	if tErr != nil {
		return tErr
	}
	if err := p.CS.UpdateState(conn.ConnectionID, store.MachineDPSM, string(conn.DataPlaneState), string(next), false); err != nil {
		return err
	}
	if nErr := p.notifyDataPlaneChange(conn.ConnectionID, next == fsm.Activated, conn.CircuitID); nErr != nil {
		return nErr
	}
	if aErr != nil {
		return p.notifyErrorEvent(conn.ConnectionID, correlationID, aErr)
	}
	return nil
}

// deactivateDataPlane is activateDataPlane's inverse, shared by the
// nrm_deactivate job handler and by Release/Terminate's own "bring the
// data plane down first" step (spec.md §4.4's "includes DeactivateJob if
// DPSM = Activated"), so every caller gets the same FSM-persist-notify
// sequence instead of a bare backend call.
func (p *Processor) deactivateDataPlane(ctx context.Context, conn store.Connection, correlationID string) error {
	if conn.DataPlaneState == fsm.Activated {
		// Inline callers arrive still Activated; apply deactivate_request
		// first, as Deactivate does for the nrm_deactivate job.
		var req, rErr = fsm.ApplyDPSM(conn.DataPlaneState, fsm.EvDeactivateRequest)
		if rErr != nil {
			return rErr
		}
		if err := p.CS.UpdateState(conn.ConnectionID, store.MachineDPSM, string(conn.DataPlaneState), string(req), false); err != nil {
			return err
		}
		conn.DataPlaneState = req
	}
	var dErr = p.Backend.Deactivate(ctx, circuitHandleOf(conn))
	var event = fsm.EvDeactivateConfirmed
	if dErr != nil {
		event = fsm.EvDeactivateFailed
	}
	var next, tErr = fsm.ApplyDPSM(conn.DataPlaneState, event)
	if tErr != nil {
		return tErr
	}
	if err := p.CS.UpdateState(conn.ConnectionID, store.MachineDPSM, string(conn.DataPlaneState), string(next), false); err != nil {
		return err
	}
	if nErr := p.notifyDataPlaneChange(conn.ConnectionID, next == fsm.Activated, conn.CircuitID); nErr != nil {
		return nErr
	}
	if dErr != nil {
		return p.notifyErrorEvent(conn.ConnectionID, correlationID, dErr)
	}
	return nil
}

// notifyDataPlaneChange appends a DataPlaneStateChange notification and
// delivers it to the requester (spec.md §4.1's DPSM is reported via
// notification, not a *Confirmed/*Failed response, since no NSI-CS
// message directly requested it in this profile).
func (p *Processor) notifyDataPlaneChange(connectionID string, active bool, circuitID string) error {
	var payload = protocol.DataPlaneStateChangeNotification{
		ConnectionID: connectionID,
		Active:       active,
		CircuitID:    circuitID,
	}
	var body = encode(payload)
	var _, nerr = p.CS.AppendNotification(connectionID, protocol.KindDataPlaneStateChange, body)
	if nerr != nil {
		return nerr
	}
	var _, derr = p.Requester.Deliver(connectionID, requester.Callback{
		ConnectionID: connectionID,
		Method:       "dataPlaneStateChange",
		Body:         body,
	})
	return derr
}
