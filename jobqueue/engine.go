package jobqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"go.nsi.dev/provider/store"
)

// Engine is the Job Engine (C3). The zero value is not usable; construct
// with NewEngine.
type Engine struct {
	js  store.JobStore
	log *logrus.Entry

	handlers   map[string]Handler
	recoverers map[string]Recoverer

	queue chan store.JobRecord

	cron *cron.Cron
	// cronEntries lets CancelJob remove an interval trigger's cron entry.
	cronMu      sync.Mutex
	cronEntries map[string]cron.EntryID
	timers      map[string]*time.Timer

	connMu sync.Mutex
	conns  map[string]*sync.Mutex

	workers int
	eg      *errgroup.Group

	closeOnce sync.Once
	done      chan struct{}
}

// NewEngine constructs an Engine backed by js, running workers concurrent
// job handlers. Handlers and recoverers must be registered (RegisterHandler
// / RegisterRecoverer) before Start.
func NewEngine(js store.JobStore, workers int, log *logrus.Entry) *Engine {
	if workers < 1 {
		workers = 1
	}
	return &Engine{
		js:          js,
		log:         log,
		handlers:    make(map[string]Handler),
		recoverers:  make(map[string]Recoverer),
		queue:       make(chan store.JobRecord, 64),
		cron:        cron.New(),
		cronEntries: make(map[string]cron.EntryID),
		timers:      make(map[string]*time.Timer),
		conns:       make(map[string]*sync.Mutex),
		workers:     workers,
		done:        make(chan struct{}),
	}
}

// RegisterHandler associates kind with h. Must be called before Start.
func (e *Engine) RegisterHandler(kind string, h Handler) { e.handlers[kind] = h }

// RegisterRecoverer associates kind with r. Jobs of a kind with no
// registered Recoverer are, on Recover, left pending forever (they will
// simply never be picked up again) -- every job kind packages process,
// requester and timer submit registers one (spec.md §4.3).
func (e *Engine) RegisterRecoverer(kind string, r Recoverer) { e.recoverers[kind] = r }

// connLock returns the mutex serializing jobs for connectionID. The empty
// connectionID (connection-independent jobs, e.g. topology refresh) is
// never serialized against anything.
func (e *Engine) connLock(connectionID string) *sync.Mutex {
	if connectionID == "" {
		return nil
	}
	e.connMu.Lock()
	defer e.connMu.Unlock()
	var m, ok = e.conns[connectionID]
	if !ok {
		m = new(sync.Mutex)
		e.conns[connectionID] = m
	}
	return m
}

// Submit persists a new job and schedules it according to its Trigger
// (spec.md §4.3): run_now jobs are enqueued immediately, at jobs are
// scheduled with a one-shot timer, and interval jobs get a cron entry.
func (e *Engine) Submit(kind, connectionID string, trigger store.Trigger, payload []byte) (string, error) {
	if _, ok := e.handlers[kind]; !ok {
		return "", errors.Errorf("jobqueue: no handler registered for kind %q", kind)
	}
	var rec = store.JobRecord{
		JobID:        uuid.NewString(),
		JobKind:      kind,
		ConnectionID: connectionID,
		Trigger:      trigger,
		Payload:      payload,
		State:        store.JobPending,
	}
	if err := e.js.CreateJob(rec); err != nil {
		return "", errors.Wrap(err, "persisting job")
	}
	e.schedule(rec)
	return rec.JobID, nil
}

// CancelJob removes any pending cron entry or timer for jobID and marks it
// failed in the store, implementing spec.md §4.4's "On LSM Terminating,
// cancel pending jobs for the connection".
func (e *Engine) CancelJob(jobID string) error {
	e.cronMu.Lock()
	if id, ok := e.cronEntries[jobID]; ok {
		e.cron.Remove(id)
		delete(e.cronEntries, jobID)
	}
	if t, ok := e.timers[jobID]; ok {
		t.Stop()
		delete(e.timers, jobID)
	}
	e.cronMu.Unlock()
	return e.js.UpdateJobState(jobID, store.JobFailed, "cancelled")
}

func (e *Engine) schedule(rec store.JobRecord) {
	switch rec.Trigger.Kind {
	case store.TriggerRunNow:
		e.enqueue(rec)
	case store.TriggerAt:
		var d = time.Until(rec.Trigger.At)
		if d < 0 {
			d = 0
		}
		var t = time.AfterFunc(d, func() { e.enqueue(rec) })
		e.cronMu.Lock()
		e.timers[rec.JobID] = t
		e.cronMu.Unlock()
	case store.TriggerInterval:
		var id, err = e.cron.AddFunc(fmt.Sprintf("@every %s", rec.Trigger.Interval), func() { e.enqueue(rec) })
		if err != nil {
			e.log.WithError(err).WithField("job_id", rec.JobID).Error("jobqueue: failed to schedule interval trigger")
			return
		}
		e.cronMu.Lock()
		e.cronEntries[rec.JobID] = id
		e.cronMu.Unlock()
	}
}

func (e *Engine) enqueue(rec store.JobRecord) {
	select {
	case e.queue <- rec:
	case <-e.done:
	}
}

// Start launches the worker pool and the cron scheduler. It returns
// immediately; workers run until ctx is done or Stop is called.
func (e *Engine) Start(ctx context.Context) {
	e.cron.Start()
	var eg, egCtx = errgroup.WithContext(ctx)
	e.eg = eg
	for i := 0; i < e.workers; i++ {
		eg.Go(func() error { e.worker(egCtx); return nil })
	}
}

// Stop halts the cron scheduler and waits for in-flight jobs to finish.
func (e *Engine) Stop() {
	e.closeOnce.Do(func() { close(e.done) })
	var cronCtx = e.cron.Stop()
	<-cronCtx.Done()
	if e.eg != nil {
		_ = e.eg.Wait()
	}
}

func (e *Engine) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case rec, ok := <-e.queue:
			if !ok {
				return
			}
			e.run(ctx, rec)
		}
	}
}

func (e *Engine) run(ctx context.Context, rec store.JobRecord) {
	var lock = e.connLock(rec.ConnectionID)
	if lock != nil {
		lock.Lock()
		defer lock.Unlock()
	}

	var jctx, finish = withTrace(ctx, "jobqueue", rec.JobKind)
	defer finish()
	addTrace(jctx, "run(job_id=%s, kind=%s, connection_id=%s, attempt=%d)",
		rec.JobID, rec.JobKind, rec.ConnectionID, rec.Attempts+1)

	if err := e.js.UpdateJobState(rec.JobID, store.JobRunning, ""); err != nil {
		e.log.WithError(err).WithField("job_id", rec.JobID).Error("jobqueue: failed to mark job running")
		return
	}
	var attempts, err = e.js.IncrementAttempts(rec.JobID)
	if err != nil {
		e.log.WithError(err).WithField("job_id", rec.JobID).Error("jobqueue: failed to record attempt")
		return
	}
	rec.Attempts = attempts

	var handler = e.handlers[rec.JobKind]
	if handler == nil {
		addTraceError(jctx, errors.Errorf("no handler for kind %q", rec.JobKind))
		_ = e.js.UpdateJobState(rec.JobID, store.JobFailed, "no handler registered")
		return
	}

	if runErr := handler(jctx, rec); runErr != nil {
		addTraceError(jctx, runErr)
		e.log.WithError(runErr).WithFields(logrus.Fields{
			"job_id": rec.JobID, "kind": rec.JobKind, "attempt": attempts,
		}).Warn("jobqueue: job attempt failed")
		_ = e.js.UpdateJobState(rec.JobID, store.JobPending, runErr.Error())
		return
	}

	addTrace(jctx, "completed")
	if rec.Trigger.Kind == store.TriggerInterval {
		// Recurring jobs stay "pending": each cron firing is a fresh
		// attempt at the same persisted job, not a new one.
		_ = e.js.UpdateJobState(rec.JobID, store.JobPending, "")
	} else {
		_ = e.js.UpdateJobState(rec.JobID, store.JobDone, "")
	}
}

// Recover replays every pending job from js through its registered
// Recoverer, re-scheduling what should resume and dropping what should not
// (spec.md §4.3's crash-recovery rule; a Recoverer that returns nil has
// its job deleted rather than replayed).
func (e *Engine) Recover(ctx context.Context) error {
	var pending, err = e.js.ListPendingJobs()
	if err != nil {
		return errors.Wrap(err, "listing pending jobs on recovery")
	}

	for _, rec := range pending {
		var recoverer = e.recoverers[rec.JobKind]
		if recoverer == nil {
			e.log.WithField("kind", rec.JobKind).Warn("jobqueue: no recoverer registered, leaving job pending")
			continue
		}
		var resumed, rerr = recoverer(rec)
		if rerr != nil {
			e.log.WithError(rerr).WithField("job_id", rec.JobID).Error("jobqueue: recoverer failed")
			continue
		}
		if resumed == nil {
			e.log.WithField("job_id", rec.JobID).WithField("kind", rec.JobKind).
				Info("jobqueue: dropping unrecoverable job after restart")
			_ = e.js.DeleteJob(rec.JobID)
			continue
		}
		e.schedule(*resumed)
	}
	return nil
}
