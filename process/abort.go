package process

import (
	"context"

	"github.com/pkg/errors"

	"go.nsi.dev/provider/fsm"
	"go.nsi.dev/provider/protocol"
	"go.nsi.dev/provider/requester"
	"go.nsi.dev/provider/store"
)

// HandleReserveAbort processes an inbound ReserveAbort message (spec.md
// §4.1, §4.4): CAS {ReserveHeld,ReserveFailed} -> ReserveAborting, then enqueue the asynchronous nrm_abort job.
func (p *Processor) HandleReserveAbort(ctx context.Context, req protocol.ReserveAbortRequest) error {
	if err := req.Header.Validate(); err != nil {
		return err
	}
	var conn, err = p.CS.Load(req.ConnectionID)
	if err != nil {
		return err
	}
	var next, tErr = fsm.ApplyRSM(conn.ReservationState, fsm.EvReserveAbortRequest)
	if tErr != nil {
		return rejectTransition(tErr)
	}
	if err := p.CS.UpdateState(req.ConnectionID, store.MachineRSM, string(conn.ReservationState), string(next), false); err != nil {
		return errors.Wrap(err, "applying reserve_abort_request")
	}
	var _, serr = p.Engine.Submit(jobAbort, req.ConnectionID, store.Trigger{Kind: store.TriggerRunNow},
		encode(connPayload{ConnectionID: req.ConnectionID, CorrelationID: req.Header.CorrelationID}))
	return serr
}

func (p *Processor) runAbort(ctx context.Context, job store.JobRecord) error {
	var payload, err = decodeConn(job.Payload)
	if err != nil {
		return err
	}
	var conn, lErr = p.CS.Load(payload.ConnectionID)
	if lErr != nil {
		return lErr
	}

	// Abort is best-effort at the backend: spec.md's RSM table gives
	// reserve_abort_confirmed only one outgoing edge (-> ReserveStart), so
	// a backend abort failure is logged but does not block the
	// connection from returning to ReserveStart.
	if err := p.Backend.Abort(ctx, circuitHandleOf(conn)); err != nil {
		p.Log.WithError(err).WithField("connection_id", payload.ConnectionID).
			Warn("process: backend abort failed, proceeding to ReserveStart anyway")
	}

	var next, tErr = fsm.ApplyRSM(conn.ReservationState, fsm.EvReserveAbortConfirmed)
	if tErr != nil {
		return tErr
	}
	if err := p.CS.UpdateState(payload.ConnectionID, store.MachineRSM, string(conn.ReservationState), string(next), false); err != nil {
		return err
	}

	conn, lErr = p.CS.Load(payload.ConnectionID)
	if lErr != nil {
		return lErr
	}
	var _, derr = p.Requester.Deliver(payload.ConnectionID, requester.Callback{
		ConnectionID: payload.ConnectionID, Method: "reserveAbortConfirmed", CorrelationID: payload.CorrelationID,
		Body: encode(protocol.ConfirmedResponse{ConnectionID: payload.ConnectionID, States: states(conn)}),
	})
	return derr
}
