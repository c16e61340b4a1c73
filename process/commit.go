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

// HandleReserveCommit processes an inbound ReserveCommit message (spec.md
// §4.1, §4.4): CAS {ReserveHeld,ReserveTimeout} -> ReserveCommitting, then enqueue the
// asynchronous nrm_commit job. Like Reserve, the outcome (reserveCommit-
// Confirmed/Failed) is always delivered later via the requester client.
func (p *Processor) HandleReserveCommit(ctx context.Context, req protocol.ReserveCommitRequest) error {
	if err := req.Header.Validate(); err != nil {
		return err
	}
	var conn, err = p.CS.Load(req.ConnectionID)
	if err != nil {
		return err
	}
	var next, tErr = fsm.ApplyRSM(conn.ReservationState, fsm.EvReserveCommitRequest)
	if tErr != nil {
		return rejectTransition(tErr)
	}
	if err := p.CS.UpdateState(req.ConnectionID, store.MachineRSM, string(conn.ReservationState), string(next), false); err != nil {
		return errors.Wrap(err, "applying reserve_commit_request")
	}
	var _, serr = p.Engine.Submit(jobCommit, req.ConnectionID, store.Trigger{Kind: store.TriggerRunNow},
		encode(connPayload{ConnectionID: req.ConnectionID, CorrelationID: req.Header.CorrelationID}))
	return serr
}

func (p *Processor) runCommit(ctx context.Context, job store.JobRecord) error {
	var payload, err = decodeConn(job.Payload)
	if err != nil {
		return err
	}
	var conn, lErr = p.CS.Load(payload.ConnectionID)
	if lErr != nil {
		return lErr
	}

	var cErr = p.Backend.Commit(ctx, circuitHandleOf(conn))

	var event = fsm.EvReserveCommitConfirmed
	var method = "reserveCommitConfirmed"
	var nsiErr *protocol.NsiError
	if cErr != nil {
		event = fsm.EvReserveCommitFailed
		method = "reserveCommitFailed"
		if !errors.As(cErr, &nsiErr) {
			nsiErr = protocol.WrapNsiError(protocol.NamespaceGenericRm, "commit failed", cErr)
		}
	}

	var next, tErr = fsm.ApplyRSM(conn.ReservationState, event)
	if tErr != nil {
		return tErr
	}
	if err := p.CS.UpdateState(payload.ConnectionID, store.MachineRSM, string(conn.ReservationState), string(next), false); err != nil {
		return err
	}

	if cErr == nil {
		// The PSM is created, in state Released, on the first confirmed
		// commit (spec.md §3); an existing PSM is left as it is.
		if !conn.PSMExists {
			if err := p.CS.UpdateState(payload.ConnectionID, store.MachinePSM, "", string(fsm.Released), true); err != nil {
				return err
			}
		}
		p.scheduleAutoTimers(conn)
	}

	conn, lErr = p.CS.Load(payload.ConnectionID)
	if lErr != nil {
		return lErr
	}
	if cErr != nil {
		if nErr := p.notifyErrorEvent(payload.ConnectionID, payload.CorrelationID, cErr); nErr != nil {
			p.Log.WithError(nErr).WithField("connection_id", payload.ConnectionID).Error("process: failed to notify commit error event")
		}
		var _, derr = p.Requester.Deliver(payload.ConnectionID, requester.Callback{
			ConnectionID: payload.ConnectionID, Method: method, CorrelationID: payload.CorrelationID,
			Body: encode(protocol.FailedResponse{ConnectionID: payload.ConnectionID, States: states(conn), Error: nsiErr}),
		})
		return derr
	}
	var _, derr = p.Requester.Deliver(payload.ConnectionID, requester.Callback{
		ConnectionID: payload.ConnectionID, Method: method, CorrelationID: payload.CorrelationID,
		Body: encode(protocol.ConfirmedResponse{ConnectionID: payload.ConnectionID, States: states(conn)}),
	})
	return derr
}

// circuitHandleOf reads the backend-assigned circuit handle off a loaded
// Connection record.
func circuitHandleOf(conn store.Connection) nrm.CircuitHandle {
	return nrm.CircuitHandle(conn.CircuitID)
}

// scheduleAutoTimers schedules the AutoStartJob/AutoEndJob a successful
// ReserveCommit confirmation owes the connection's schedule (spec.md
// §4.4). A start_time already in the past is scheduled anyway: jobqueue's
// TriggerAt clamps a past "at" to a zero delay, so it simply fires right
// away, and onAutoStart is itself a no-op until the connection reaches
// Provisioned. A nil end_time means "runs forever", so no AutoEndJob is
// scheduled.
func (p *Processor) scheduleAutoTimers(conn store.Connection) {
	var start = time.Now()
	if conn.StartTime != nil {
		start = *conn.StartTime
	}
	if _, err := p.Timers.ScheduleAt(conn.ConnectionID, timer.KindAutoStart, start); err != nil {
		p.Log.WithError(err).WithField("connection_id", conn.ConnectionID).Error("process: failed to schedule auto_start")
	}
	if conn.EndTime != nil {
		if _, err := p.Timers.ScheduleAt(conn.ConnectionID, timer.KindAutoEnd, *conn.EndTime); err != nil {
			p.Log.WithError(err).WithField("connection_id", conn.ConnectionID).Error("process: failed to schedule auto_end")
		}
	}
}
