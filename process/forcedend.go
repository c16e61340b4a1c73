package process

import (
	"context"

	"go.nsi.dev/provider/fsm"
	"go.nsi.dev/provider/nrm"
	"go.nsi.dev/provider/store"
)

// WatchFaults consumes p.Backend.Faults() until ctx is cancelled, turning
// each backend-initiated Fault into a HandleForcedEnd call (spec.md §4.4's
// "ForcedEnd: may be raised by the backend (external fault)"). Call once
// after Register, alongside Engine.Start.
func (p *Processor) WatchFaults(ctx context.Context) {
	go func() {
		var faults = p.Backend.Faults()
		for {
			select {
			case <-ctx.Done():
				return
			case f, ok := <-faults:
				if !ok {
					return
				}
				if err := p.HandleForcedEnd(ctx, f); err != nil {
					p.Log.WithError(err).WithField("connection_id", f.ConnectionID).
						Error("process: failed to handle backend fault")
				}
			}
		}
	}()
}

// HandleForcedEnd applies a backend-raised fault to a connection's
// Lifecycle State Machine (Created -> Failed, spec.md §8 scenario 4),
// deactivates the data plane if it is still up, and emits the required
// ErrorEvent notification. A fault for a connection already past Created
// (e.g. terminating) is a benign no-op -- it lost the race.
func (p *Processor) HandleForcedEnd(ctx context.Context, f nrm.Fault) error {
	var conn, err = p.CS.Load(f.ConnectionID)
	if err != nil {
		return err
	}
	var next, tErr = fsm.ApplyLSM(conn.LifecycleState, fsm.EvForcedEndNotify)
	if tErr != nil {
		return nil
	}
	if err := p.CS.UpdateState(f.ConnectionID, store.MachineLSM, string(conn.LifecycleState), string(next), false); err != nil {
		if err == store.ErrConflict {
			return nil
		}
		return err
	}

	if conn.DataPlaneState == fsm.Activated {
		if dErr := p.deactivateDataPlane(ctx, conn, ""); dErr != nil {
			p.Log.WithError(dErr).WithField("connection_id", f.ConnectionID).
				Warn("process: failed to deactivate data plane on forced end")
		}
	}

	return p.notifyErrorEvent(f.ConnectionID, "", f.Err)
}
