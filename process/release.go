package process

import (
	"context"

	"github.com/pkg/errors"

	"go.nsi.dev/provider/fsm"
	"go.nsi.dev/provider/protocol"
	"go.nsi.dev/provider/requester"
	"go.nsi.dev/provider/store"
)

// HandleRelease processes an inbound Release message (spec.md §4.1): CAS
// Provisioned -> Releasing, then enqueue the asynchronous nrm_release job.
func (p *Processor) HandleRelease(ctx context.Context, req protocol.ReleaseRequest) error {
	if err := req.Header.Validate(); err != nil {
		return err
	}
	var conn, err = p.CS.Load(req.ConnectionID)
	if err != nil {
		return err
	}
	var next, tErr = fsm.ApplyPSM(conn.ProvisioningState, fsm.EvReleaseRequest)
	if tErr != nil {
		return rejectTransition(tErr)
	}
	if err := p.CS.UpdateState(req.ConnectionID, store.MachinePSM, string(conn.ProvisioningState), string(next), false); err != nil {
		return errors.Wrap(err, "applying release_request")
	}
	var _, serr = p.Engine.Submit(jobRelease, req.ConnectionID, store.Trigger{Kind: store.TriggerRunNow},
		encode(connPayload{ConnectionID: req.ConnectionID, CorrelationID: req.Header.CorrelationID}))
	return serr
}

func (p *Processor) runRelease(ctx context.Context, job store.JobRecord) error {
	var payload, err = decodeConn(job.Payload)
	if err != nil {
		return err
	}
	var conn, lErr = p.CS.Load(payload.ConnectionID)
	if lErr != nil {
		return lErr
	}
	if dpErr := p.deactivateIfActive(ctx, conn, payload.CorrelationID); dpErr != nil {
		p.Log.WithError(dpErr).WithField("connection_id", payload.ConnectionID).
			Warn("process: failed to deactivate data plane before release")
	}
	if rErr := p.Backend.Release(ctx, circuitHandleOf(conn)); rErr != nil {
		p.Log.WithError(rErr).WithField("connection_id", payload.ConnectionID).Error("process: backend release failed")
		return p.failJob(payload.ConnectionID, payload.CorrelationID, "releaseFailed", conn, rErr)
	}
	var next, tErr = fsm.ApplyPSM(conn.ProvisioningState, fsm.EvReleaseConfirmed)
	if tErr != nil {
		return tErr
	}
	if err := p.CS.UpdateState(payload.ConnectionID, store.MachinePSM, string(conn.ProvisioningState), string(next), false); err != nil {
		return err
	}
	conn, lErr = p.CS.Load(payload.ConnectionID)
	if lErr != nil {
		return lErr
	}
	var _, derr = p.Requester.Deliver(payload.ConnectionID, requester.Callback{
		ConnectionID: payload.ConnectionID, Method: "releaseConfirmed", CorrelationID: payload.CorrelationID,
		Body: encode(protocol.ConfirmedResponse{ConnectionID: payload.ConnectionID, States: states(conn)}),
	})
	return derr
}

// deactivateIfActive is a convenience used by both Release and Terminate:
// the data plane must come down before the provisioning config or circuit
// itself is torn down. It runs deactivateDataPlane inline, synchronously,
// rather than submitting a separate nrm_deactivate job: Release/Terminate
// are already executing under the connection's jobqueue lock, and a
// freshly submitted job for the same connection would only be queued
// behind it, not run before Backend.Release/Terminate is called.
func (p *Processor) deactivateIfActive(ctx context.Context, conn store.Connection, correlationID string) error {
	if conn.DataPlaneState != fsm.Activated {
		return nil
	}
	return p.deactivateDataPlane(ctx, conn, correlationID)
}
