// Package timer implements the Timer Subsystem (C7): persisted "run at
// time T" triggers for the reservation hold timeout, the auto-start and
// auto-end schedule events (spec.md §4.7). It is a thin wrapper over
// jobqueue's TriggerAt jobs -- a cancellation racing a firing timer is
// benign because the handler re-validates against the connection's
// current state via store.ConnectionStore.UpdateState's compare-and-swap
// before acting (spec.md §4.7's "cancellation races are benign").
package timer

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"go.nsi.dev/provider/jobqueue"
	"go.nsi.dev/provider/store"
)

// Kind identifies which of the three timer events a job fires.
type Kind string

const (
	KindHoldTimeout Kind = "hold_timeout"
	KindAutoStart   Kind = "auto_start"
	KindAutoEnd     Kind = "auto_end"
)

// jobKind maps a Kind to its jobqueue.Handler registration name.
func jobKind(k Kind) string { return "timer_" + string(k) }

// Fire is the persisted payload of a timer job.
type Fire struct {
	ConnectionID string
	Kind         Kind
}

// Timers schedules and dispatches the three spec.md §4.7 timer events.
type Timers struct {
	engine *jobqueue.Engine
	js     store.JobStore
	log    *logrus.Entry

	// handlers are the caller-supplied callbacks invoked when a timer
	// fires; they are responsible for the CAS re-validation against
	// current connection state.
	handlers map[Kind]func(ctx context.Context, connectionID string) error
}

// New constructs a Timers dispatcher and registers its job kinds with
// engine. Call RegisterHandler for each Kind before engine.Start.
func New(engine *jobqueue.Engine, js store.JobStore, log *logrus.Entry) *Timers {
	var t = &Timers{
		engine:   engine,
		js:       js,
		log:      log,
		handlers: make(map[Kind]func(context.Context, string) error),
	}
	for _, k := range []Kind{KindHoldTimeout, KindAutoStart, KindAutoEnd} {
		var kind = k
		engine.RegisterHandler(jobKind(kind), t.dispatch(kind))
		// Timer jobs carry their full input (connection_id, kind) in the
		// persisted payload, so recovery simply reschedules them rather
		// than dropping them -- there is no external caller state to lose.
		engine.RegisterRecoverer(jobKind(kind), func(rec store.JobRecord) (*store.JobRecord, error) {
			return &rec, nil
		})
	}
	return t
}

// RegisterHandler installs the callback invoked when a timer of kind
// fires for a connection.
func (t *Timers) RegisterHandler(kind Kind, h func(ctx context.Context, connectionID string) error) {
	t.handlers[kind] = h
}

func (t *Timers) dispatch(kind Kind) jobqueue.Handler {
	return func(ctx context.Context, job store.JobRecord) error {
		var fire, err = decodeFire(job.Payload)
		if err != nil {
			return errors.Wrap(err, "decoding timer payload")
		}
		var h = t.handlers[kind]
		if h == nil {
			t.log.WithField("kind", kind).Warn("timer: no handler registered, dropping fire")
			return nil
		}
		return h(ctx, fire.ConnectionID)
	}
}

// ScheduleAt schedules kind to fire for connectionID at at. Scheduling the
// same (connectionID, kind) again before the first fires effectively
// replaces it only if the caller also cancels the prior job ID; Timers
// does not implicitly dedupe, mirroring jobqueue's own "cancel pending
// jobs explicitly" model (spec.md §4.4).
func (t *Timers) ScheduleAt(connectionID string, kind Kind, at time.Time) (string, error) {
	var payload, err = encodeFire(Fire{ConnectionID: connectionID, Kind: kind})
	if err != nil {
		return "", err
	}
	return t.engine.Submit(jobKind(kind), connectionID, store.Trigger{Kind: store.TriggerAt, At: at}, payload)
}

// Cancel cancels a previously scheduled timer job.
func (t *Timers) Cancel(jobID string) error {
	return t.engine.CancelJob(jobID)
}
