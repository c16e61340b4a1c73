package process

import (
	"context"

	"github.com/pkg/errors"

	"go.nsi.dev/provider/fsm"
	"go.nsi.dev/provider/protocol"
	"go.nsi.dev/provider/requester"
	"go.nsi.dev/provider/store"
)

// HandleTerminate processes an inbound Terminate message (spec.md §4.1,
// §4.4): CAS {Created,Failed,PassedEndTime} -> Terminating, cancel every
// other pending job for the connection (spec.md §4.4's "On LSM
// Terminating, cancel pending jobs"), then enqueue nrm_terminate.
func (p *Processor) HandleTerminate(ctx context.Context, req protocol.TerminateRequest) error {
	if err := req.Header.Validate(); err != nil {
		return err
	}
	var conn, err = p.CS.Load(req.ConnectionID)
	if err != nil {
		return err
	}
	var next, tErr = fsm.ApplyLSM(conn.LifecycleState, fsm.EvTerminateRequest)
	if tErr != nil {
		return rejectTransition(tErr)
	}
	if err := p.CS.UpdateState(req.ConnectionID, store.MachineLSM, string(conn.LifecycleState), string(next), false); err != nil {
		return errors.Wrap(err, "applying terminate_request")
	}

	p.cancelPendingJobs(req.ConnectionID)

	var _, serr = p.Engine.Submit(jobTerminate, req.ConnectionID, store.Trigger{Kind: store.TriggerRunNow},
		encode(connPayload{ConnectionID: req.ConnectionID, CorrelationID: req.Header.CorrelationID}))
	return serr
}

func (p *Processor) cancelPendingJobs(connectionID string) {
	var pending, err = p.JS.ListJobsForConnection(connectionID)
	if err != nil {
		p.Log.WithError(err).WithField("connection_id", connectionID).
			Error("process: failed to list pending jobs for termination cancellation")
		return
	}
	for _, j := range pending {
		if cErr := p.Engine.CancelJob(j.JobID); cErr != nil {
			p.Log.WithError(cErr).WithField("job_id", j.JobID).Warn("process: failed to cancel pending job")
		}
	}
}

func (p *Processor) runTerminate(ctx context.Context, job store.JobRecord) error {
	var payload, err = decodeConn(job.Payload)
	if err != nil {
		return err
	}
	var conn, lErr = p.CS.Load(payload.ConnectionID)
	if lErr != nil {
		return lErr
	}

	if dErr := p.deactivateIfActive(ctx, conn, payload.CorrelationID); dErr != nil {
		p.Log.WithError(dErr).WithField("connection_id", payload.ConnectionID).
			Warn("process: failed to deactivate data plane before terminate")
	}
	if conn.CircuitID != "" {
		if tErr := p.Backend.Terminate(ctx, circuitHandleOf(conn)); tErr != nil {
			p.Log.WithError(tErr).WithField("connection_id", payload.ConnectionID).
				Error("process: backend terminate failed")
			return p.failJob(payload.ConnectionID, payload.CorrelationID, "terminateFailed", conn, tErr)
		}
	}

	var next, terr = fsm.ApplyLSM(conn.LifecycleState, fsm.EvTerminateConfirmed)
	if terr != nil {
		return terr
	}
	if err := p.CS.UpdateState(payload.ConnectionID, store.MachineLSM, string(conn.LifecycleState), string(next), false); err != nil {
		return err
	}

	conn, lErr = p.CS.Load(payload.ConnectionID)
	if lErr != nil {
		return lErr
	}
	var _, derr = p.Requester.Deliver(payload.ConnectionID, requester.Callback{
		ConnectionID: payload.ConnectionID, Method: "terminateConfirmed", CorrelationID: payload.CorrelationID,
		Body: encode(protocol.ConfirmedResponse{ConnectionID: payload.ConnectionID, States: states(conn)}),
	})
	return derr
}
