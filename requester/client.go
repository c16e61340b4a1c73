// Package requester implements the Connection Requester client (C6):
// outbound NSI callback delivery as ordinary jobqueue jobs, retried with
// exponential backoff and delivered at-least-once. It is grounded on
// dwarri-gazette's broker/client package, whose mapGRPCCtxErr distinguishes
// a genuinely failed RPC from one that failed only because the caller's
// own context expired -- the same distinction this package's retry
// predicate makes before counting an attempt against the backoff budget.
package requester

import (
	"context"
	"time"

	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"go.nsi.dev/provider/jobqueue"
	"go.nsi.dev/provider/protocol"
	"go.nsi.dev/provider/store"
)

// JobKind is the jobqueue.Handler kind this package registers.
const JobKind = "requester_callback"

// Sender delivers one already-encoded callback message to a requester's
// ReplyTo endpoint. Concrete implementations dial the out-of-scope
// Connection Requester gRPC service; package requester only concerns
// itself with retry/backoff/notification semantics around the call.
type Sender interface {
	Send(ctx context.Context, replyTo string, method string, payload []byte) error
}

// Callback is the persisted payload of a requester_callback job.
type Callback struct {
	ConnectionID  string
	ReplyTo       string
	Method        string // e.g. "reserveConfirmed", "errorEvent"
	CorrelationID string
	Body          []byte
}

// Client schedules and delivers outbound requester callbacks.
type Client struct {
	engine  *jobqueue.Engine
	sender  Sender
	cs      store.ConnectionStore
	log     *logrus.Entry
	attempts  uint
	firstWait time.Duration
}

// Config parametrizes retry behavior. Defaults match spec.md §4.6: 10
// attempts, exponential backoff starting at 1s and doubling.
type Config struct {
	Attempts  uint
	FirstWait time.Duration
}

// DefaultConfig returns spec.md §4.6's defaults.
func DefaultConfig() Config {
	return Config{Attempts: 10, FirstWait: time.Second}
}

// New constructs a Client and registers its handler and recoverer with
// engine. Callback payloads are JSON-encoded for persistence (codec.go);
// package jobqueue stores only opaque []byte.
func New(engine *jobqueue.Engine, sender Sender, cs store.ConnectionStore, cfg Config, log *logrus.Entry) *Client {
	var c = &Client{
		engine:    engine,
		sender:    sender,
		cs:        cs,
		log:       log,
		attempts:  cfg.Attempts,
		firstWait: cfg.FirstWait,
	}
	engine.RegisterHandler(JobKind, c.handle)
	// Requester callbacks carry everything needed to retry (the encoded
	// Callback payload persists with the job), so recovery simply resumes
	// delivery rather than dropping the job.
	engine.RegisterRecoverer(JobKind, func(rec store.JobRecord) (*store.JobRecord, error) {
		return &rec, nil
	})
	return c
}

// Deliver submits a callback as a run_now job; delivery (and its retries)
// happen asynchronously on the job engine (spec.md §4.6's "requester
// interactions happen as jobs, never inline with message processing").
func (c *Client) Deliver(connectionID string, cb Callback) (string, error) {
	var payload, err = encodeCallback(cb)
	if err != nil {
		return "", errors.Wrap(err, "encoding callback")
	}
	return c.engine.Submit(JobKind, connectionID, store.Trigger{Kind: store.TriggerRunNow}, payload)
}

func (c *Client) handle(ctx context.Context, job store.JobRecord) error {
	var cb, err = decodeCallback(job.Payload)
	if err != nil {
		return errors.Wrap(err, "decoding callback payload")
	}

	var attempt int
	var sendErr = retry.Do(
		func() error {
			attempt++
			var err = c.sender.Send(ctx, cb.ReplyTo, cb.Method, cb.Body)
			return mapGRPCCtxErr(ctx, err)
		},
		retry.Attempts(c.attempts),
		retry.Delay(c.firstWait),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(func(err error) bool { return !errors.Is(err, context.Canceled) }),
		retry.OnRetry(func(n uint, err error) {
			c.log.WithFields(logrus.Fields{
				"connection_id": cb.ConnectionID, "method": cb.Method, "attempt": n + 1,
			}).WithError(err).Warn("requester: delivery attempt failed, retrying")
		}),
	)

	if sendErr != nil {
		c.log.WithFields(logrus.Fields{
			"connection_id": cb.ConnectionID, "method": cb.Method, "attempts": attempt,
		}).Error("requester: exhausted delivery retries")
		return c.notifyDeliveryTimeout(ctx, cb)
	}
	return nil
}

// notifyDeliveryTimeout appends a MessageDeliveryTimeout notification
// (spec.md §4.6, §8 scenario 6) once retries are exhausted. It returns nil
// on success so jobqueue marks the job Done rather than retrying forever.
func (c *Client) notifyDeliveryTimeout(ctx context.Context, cb Callback) error {
	var payload, err = encodeNotification(protocol.MessageDeliveryTimeoutNotification{
		ConnectionID:  cb.ConnectionID,
		Timestamp:     time.Now(),
		CorrelationID: cb.CorrelationID,
	})
	if err != nil {
		return errors.Wrap(err, "encoding delivery-timeout notification")
	}
	var _, nerr = c.cs.AppendNotification(cb.ConnectionID, protocol.KindMessageDeliveryTimeout, payload)
	return nerr
}

// mapGRPCCtxErr returns ctx.Err() iff err represents a gRPC error whose
// code matches ctx's own cancellation/deadline state, so a request that
// failed only because our caller gave up is never mistaken for the peer
// having rejected it (dwarri-gazette's broker/client package makes the
// identical distinction in its own mapGRPCCtxErr).
func mapGRPCCtxErr(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() == context.DeadlineExceeded && status.Code(err) == codes.DeadlineExceeded {
		return ctx.Err()
	}
	if ctx.Err() == context.Canceled && status.Code(err) == codes.Canceled {
		return ctx.Err()
	}
	return err
}
