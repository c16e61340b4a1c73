package process

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"go.nsi.dev/provider/fsm"
	"go.nsi.dev/provider/nrm"
	"go.nsi.dev/provider/protocol"
	"go.nsi.dev/provider/requester"
	"go.nsi.dev/provider/store"
	"go.nsi.dev/provider/timer"
)

// HandleReserve processes an inbound Reserve message (spec.md §4.1, §4.4,
// §6): it validates the request synchronously, creates the Connection
// record and CASes ReserveStart -> ReserveChecking, then enqueues the
// asynchronous nrm_reserve job that actually calls the backend and, on
// completion, delivers reserveConfirmed or reserveFailed. It returns the
// assigned connection_id synchronously; the outcome always arrives later
// as a requester callback, never as this call's return value (spec.md
// §4.4's "no synchronous confirmation").
func (p *Processor) HandleReserve(ctx context.Context, req protocol.ReserveRequest) (string, error) {
	if err := req.Header.Validate(); err != nil {
		return "", err
	}

	var src, dst, resolveErr = p.resolveSTPs(req.Criteria)
	if resolveErr != nil {
		return "", resolveErr
	}
	if sched := req.Criteria.Schedule; sched.EndTime != nil && sched.StartTime != nil && sched.EndTime.Before(*sched.StartTime) {
		return "", protocol.NewNsiError(protocol.NamespaceInvalidSchedule, "end_time precedes start_time")
	}

	var connectionID = req.ConnectionID
	var isNew = connectionID == ""
	if isNew {
		connectionID = newCorrelationID()
	}

	var conn = store.Connection{
		ConnectionID:        connectionID,
		GlobalReservationID: req.GlobalReservationID,
		Description:         req.Description,
		RequesterNSA:        req.Header.RequesterNSA,
		ProviderNSA:         req.Header.ProviderNSA,
		ReservationVersion:  req.Criteria.Version,
		StartTime:           req.Criteria.Schedule.StartTime,
		EndTime:             req.Criteria.Schedule.EndTime,
		BandwidthMbps:       req.Criteria.CapacityMbps,
		SrcPortID:           src.StpID,
		SrcVlan:             req.Criteria.SrcSTP.Vlan,
		DstPortID:           dst.StpID,
		DstVlan:             req.Criteria.DstSTP.Vlan,
		ReservationState:    fsm.ReserveStart,
		// ProvisioningState and PSMExists are left zero: the PSM does not
		// exist until the first successful commit (spec.md §3).
		LifecycleState:      fsm.Created,
		DataPlaneState:      fsm.Deactivated,
	}

	if isNew {
		if err := p.CS.Create(conn); err != nil {
			return "", errors.Wrap(err, "creating connection")
		}
	}

	var next, tErr = fsm.ApplyRSM(fsm.ReserveStart, fsm.EvReserveRequest)
	if tErr != nil {
		return "", rejectTransition(tErr)
	}
	if err := p.CS.UpdateState(connectionID, store.MachineRSM, string(fsm.ReserveStart), string(next), false); err != nil {
		return "", errors.Wrap(err, "applying reserve_request")
	}

	var correlationID = req.Header.CorrelationID
	var spec = nrm.ReserveSpec{
		ConnectionID:  connectionID,
		SrcSTP:        src,
		SrcVlan:       req.Criteria.SrcSTP.Vlan,
		DstSTP:        dst,
		DstVlan:       req.Criteria.DstSTP.Vlan,
		BandwidthMbps: req.Criteria.CapacityMbps,
	}
	var _, err = p.Engine.Submit(jobReserve, connectionID, store.Trigger{Kind: store.TriggerRunNow},
		encode(reservePayload{ConnectionID: connectionID, CorrelationID: correlationID, Spec: spec}))
	if err != nil {
		return "", errors.Wrap(err, "enqueueing reserve job")
	}

	return connectionID, nil
}

// runReserve is the nrm_reserve job handler: it calls the backend and
// applies reserve_confirmed or reserve_failed to the RSM, scheduling the
// hold timer on success (spec.md §4.7).
func (p *Processor) runReserve(ctx context.Context, job store.JobRecord) error {
	var payload, err = decodeReserve(job.Payload)
	if err != nil {
		return err
	}

	var handle, rErr = p.Backend.Reserve(ctx, payload.Spec)

	var conn, lErr = p.CS.Load(payload.ConnectionID)
	if lErr != nil {
		return lErr
	}

	if rErr != nil {
		return p.failReserve(ctx, conn, payload, rErr)
	}

	if err := p.CS.SetCircuitID(payload.ConnectionID, string(handle)); err != nil {
		return err
	}
	var next, tErr = fsm.ApplyRSM(fsm.ReserveChecking, fsm.EvReserveConfirmed)
	if tErr != nil {
		return tErr
	}
	if err := p.CS.UpdateState(payload.ConnectionID, store.MachineRSM, string(fsm.ReserveChecking), string(next), false); err != nil {
		return err
	}

	if p.HoldTimeout > 0 {
		if _, err := p.Timers.ScheduleAt(payload.ConnectionID, timer.KindHoldTimeout, time.Now().Add(p.HoldTimeout)); err != nil {
			p.Log.WithError(err).WithField("connection_id", payload.ConnectionID).
				Error("process: failed to schedule hold timeout")
		}
	}

	conn, lErr = p.CS.Load(payload.ConnectionID)
	if lErr != nil {
		return lErr
	}
	var _, dErr = p.Requester.Deliver(payload.ConnectionID, requester.Callback{
		ConnectionID:  payload.ConnectionID,
		Method:        "reserveConfirmed",
		CorrelationID: payload.CorrelationID,
		Body: encode(protocol.ReserveConfirmedResponse{
			ConnectionID:        payload.ConnectionID,
			GlobalReservationID: conn.GlobalReservationID,
			States:              states(conn),
		}),
	})
	return dErr
}

func (p *Processor) failReserve(ctx context.Context, conn store.Connection, payload reservePayload, cause error) error {
	var next, tErr = fsm.ApplyRSM(fsm.ReserveChecking, fsm.EvReserveFailed)
	if tErr != nil {
		return tErr
	}
	if err := p.CS.UpdateState(payload.ConnectionID, store.MachineRSM, string(fsm.ReserveChecking), string(next), false); err != nil {
		return err
	}
	var nsiErr *protocol.NsiError
	if !errors.As(cause, &nsiErr) {
		nsiErr = protocol.WrapNsiError(protocol.NamespaceGenericRm, "reserve failed", cause)
	}
	var _, err = p.Requester.Deliver(payload.ConnectionID, requester.Callback{
		ConnectionID:  payload.ConnectionID,
		Method:        "reserveFailed",
		CorrelationID: payload.CorrelationID,
		Body: encode(protocol.FailedResponse{
			ConnectionID: payload.ConnectionID,
			States:       states(conn),
			Error:        nsiErr,
		}),
	})
	return err
}
