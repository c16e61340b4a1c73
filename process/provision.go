package process

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"go.nsi.dev/provider/fsm"
	"go.nsi.dev/provider/protocol"
	"go.nsi.dev/provider/requester"
	"go.nsi.dev/provider/store"
)

// HandleProvision processes an inbound Provision message (spec.md §4.1,
// §4.4): requires PSM = Released, LSM = Created, and the current time not
// past end_time, then CAS Released -> Provisioning and enqueue the
// asynchronous nrm_provision job.
func (p *Processor) HandleProvision(ctx context.Context, req protocol.ProvisionRequest) error {
	if err := req.Header.Validate(); err != nil {
		return err
	}
	var conn, err = p.CS.Load(req.ConnectionID)
	if err != nil {
		return err
	}
	if !conn.PSMExists {
		return protocol.NewNsiError(protocol.NamespaceInvalidTransition, "connection has not been committed")
	}
	if conn.LifecycleState != fsm.Created {
		return protocol.NewNsiError(protocol.NamespaceInvalidTransition, "connection lifecycle state does not allow provisioning")
	}
	if conn.EndTime != nil && !time.Now().Before(*conn.EndTime) {
		return protocol.NewNsiError(protocol.NamespaceInvalidSchedule, "connection's end_time has already passed")
	}
	var next, tErr = fsm.ApplyPSM(conn.ProvisioningState, fsm.EvProvisionRequest)
	if tErr != nil {
		return rejectTransition(tErr)
	}
	if err := p.CS.UpdateState(req.ConnectionID, store.MachinePSM, string(conn.ProvisioningState), string(next), false); err != nil {
		return errors.Wrap(err, "applying provision_request")
	}
	var _, serr = p.Engine.Submit(jobProvision, req.ConnectionID, store.Trigger{Kind: store.TriggerRunNow},
		encode(connPayload{ConnectionID: req.ConnectionID, CorrelationID: req.Header.CorrelationID}))
	return serr
}

func (p *Processor) runProvision(ctx context.Context, job store.JobRecord) error {
	var payload, err = decodeConn(job.Payload)
	if err != nil {
		return err
	}
	var conn, lErr = p.CS.Load(payload.ConnectionID)
	if lErr != nil {
		return lErr
	}
	if pErr := p.Backend.Provision(ctx, circuitHandleOf(conn)); pErr != nil {
		p.Log.WithError(pErr).WithField("connection_id", payload.ConnectionID).Error("process: backend provision failed")
		return p.failJob(payload.ConnectionID, payload.CorrelationID, "provisionFailed", conn, pErr)
	}
	var next, tErr = fsm.ApplyPSM(conn.ProvisioningState, fsm.EvProvisionConfirmed)
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
		ConnectionID: payload.ConnectionID, Method: "provisionConfirmed", CorrelationID: payload.CorrelationID,
		Body: encode(protocol.ConfirmedResponse{ConnectionID: payload.ConnectionID, States: states(conn)}),
	})

	// start_time has already passed (or there was none): activate right
	// away instead of waiting on the AutoStartJob (spec.md §4.4).
	if conn.StartTime == nil || !time.Now().Before(*conn.StartTime) {
		if aErr := p.Activate(payload.ConnectionID, payload.CorrelationID); aErr != nil {
			p.Log.WithError(aErr).WithField("connection_id", payload.ConnectionID).
				Warn("process: failed to immediately activate past-start_time connection")
		}
	}
	return derr
}
