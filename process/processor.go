// Package process implements the message processors (C4): the synchronous
// validate -> CAS-state -> persist -> enqueue-backend-job -> ack path for
// every inbound NSI-CS 2.1 operation, plus the asynchronous job handlers
// that apply an NRM backend's outcome back onto a Connection's state
// machines. It is the seam where package fsm's pure transition tables,
// package store's durable CAS records, package nrm's backend port, package
// jobqueue's worker pool, and package requester's callback delivery are
// wired together -- the role dwarri-gazette's consumer.Replica plays in
// gluing a shard's Store, recovery log, and message pump together.
package process

import (
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"go.nsi.dev/provider/fsm"
	"go.nsi.dev/provider/jobqueue"
	"go.nsi.dev/provider/nrm"
	"go.nsi.dev/provider/protocol"
	"go.nsi.dev/provider/requester"
	"go.nsi.dev/provider/store"
	"go.nsi.dev/provider/timer"
	"go.nsi.dev/provider/topology"
)

// Processor wires together every component an inbound NSI-CS message or
// backend job callback needs to touch.
type Processor struct {
	CS       store.ConnectionStore
	JS       store.JobStore
	Engine   *jobqueue.Engine
	Backend  nrm.Backend
	Topology *topology.Cache
	Requester *requester.Client
	Timers   *timer.Timers
	Log      *logrus.Entry

	// HoldTimeout is how long a reservation may sit in ReserveHeld before
	// the hold timer fires (spec.md §4.7).
	HoldTimeout time.Duration
}

// Register installs every nrm_* job handler and recoverer this package
// owns, and every timer.Kind handler. Call once before Engine.Start.
func (p *Processor) Register() {
	p.Engine.RegisterHandler(jobReserve, p.runReserve)
	p.Engine.RegisterHandler(jobCommit, p.runCommit)
	p.Engine.RegisterHandler(jobAbort, p.runAbort)
	p.Engine.RegisterHandler(jobProvision, p.runProvision)
	p.Engine.RegisterHandler(jobRelease, p.runRelease)
	p.Engine.RegisterHandler(jobActivate, p.runActivate)
	p.Engine.RegisterHandler(jobDeactivate, p.runDeactivate)
	p.Engine.RegisterHandler(jobTerminate, p.runTerminate)

	for _, kind := range []string{jobReserve, jobCommit, jobAbort, jobProvision, jobRelease, jobActivate, jobDeactivate, jobTerminate} {
		var k = kind
		p.Engine.RegisterRecoverer(k, func(rec store.JobRecord) (*store.JobRecord, error) {
			return &rec, nil
		})
	}

	p.Timers.RegisterHandler(timer.KindHoldTimeout, p.onHoldTimeout)
	p.Timers.RegisterHandler(timer.KindAutoStart, p.onAutoStart)
	p.Timers.RegisterHandler(timer.KindAutoEnd, p.onAutoEnd)
}

const (
	jobReserve    = "nrm_reserve"
	jobCommit     = "nrm_commit"
	jobAbort      = "nrm_abort"
	jobProvision  = "nrm_provision"
	jobRelease    = "nrm_release"
	jobActivate   = "nrm_activate"
	jobDeactivate = "nrm_deactivate"
	jobTerminate  = "nrm_terminate"
)

// resolveSTPs looks up src/dst STPs in the topology cache and validates
// VLAN/bandwidth admissibility, the shared precondition of Reserve (spec.md
// §4.1's ReserveChecking processing).
func (p *Processor) resolveSTPs(c protocol.Criteria) (src, dst topology.STP, err error) {
	var ok bool
	src, ok = p.Topology.Lookup(c.SrcSTP.PortID)
	if !ok {
		return src, dst, protocol.NewNsiError(protocol.NamespaceStpUnknown, "unknown src STP: "+c.SrcSTP.PortID)
	}
	dst, ok = p.Topology.Lookup(c.DstSTP.PortID)
	if !ok {
		return src, dst, protocol.NewNsiError(protocol.NamespaceStpUnknown, "unknown dst STP: "+c.DstSTP.PortID)
	}
	if !src.AllowsVlan(c.SrcSTP.Vlan) || !dst.AllowsVlan(c.DstSTP.Vlan) {
		return src, dst, protocol.NewNsiError(protocol.NamespaceVlanMismatch, "requested VLAN outside STP's configured range")
	}
	if !src.AllowsBandwidth(c.CapacityMbps) || !dst.AllowsBandwidth(c.CapacityMbps) {
		return src, dst, protocol.NewNsiError(protocol.NamespaceCapacityUnavail, "requested bandwidth exceeds STP capacity")
	}
	return src, dst, nil
}

// states snapshots a Connection's four machines for outbound messages.
func states(c store.Connection) protocol.ConnectionStates {
	return protocol.ConnectionStates{
		ReservationState:  string(c.ReservationState),
		ProvisioningState: string(c.ProvisioningState),
		LifecycleState:    string(c.LifecycleState),
		DataPlaneActive:   c.DataPlaneState == fsm.Activated,
	}
}

// notifyErrorEvent appends an ErrorEvent notification and delivers it to
// the requester (spec.md §4.4's "on failure ... emits ErrorEvent", §7's
// "NRM errors ... are surfaced as the corresponding *Failed message to
// the requester plus an ErrorEvent notification"). cause is wrapped into
// an *protocol.NsiError if it is not one already.
func (p *Processor) notifyErrorEvent(connectionID, correlationID string, cause error) error {
	var nsiErr *protocol.NsiError
	if !errors.As(cause, &nsiErr) {
		nsiErr = protocol.WrapNsiError(protocol.NamespaceGenericRm, "operation failed", cause)
	}
	var payload = protocol.ErrorEventNotification{
		ConnectionID: connectionID,
		Timestamp:    time.Now(),
		Error:        nsiErr,
	}
	var body = encode(payload)
	if _, nerr := p.CS.AppendNotification(connectionID, protocol.KindErrorEvent, body); nerr != nil {
		return nerr
	}
	var _, derr = p.Requester.Deliver(connectionID, requester.Callback{
		ConnectionID: connectionID, Method: "errorEvent", CorrelationID: correlationID, Body: body,
	})
	return derr
}

// failJob is the common failure path for an asynchronous NRM job: it
// delivers the operation's *Failed response alongside the ErrorEvent
// notification (spec.md §7's "NRM errors ... are surfaced as the
// corresponding *Failed message to the requester plus an ErrorEvent
// notification") and returns cause unchanged, so the caller's own
// job-retry semantics are unaffected by this bookkeeping.
func (p *Processor) failJob(connectionID, correlationID, method string, conn store.Connection, cause error) error {
	if nErr := p.notifyErrorEvent(connectionID, correlationID, cause); nErr != nil {
		p.Log.WithError(nErr).WithField("connection_id", connectionID).Error("process: failed to notify error event")
	}
	var nsiErr *protocol.NsiError
	if !errors.As(cause, &nsiErr) {
		nsiErr = protocol.WrapNsiError(protocol.NamespaceGenericRm, method, cause)
	}
	if _, derr := p.Requester.Deliver(connectionID, requester.Callback{
		ConnectionID: connectionID, Method: method, CorrelationID: correlationID,
		Body: encode(protocol.FailedResponse{ConnectionID: connectionID, States: states(conn), Error: nsiErr}),
	}); derr != nil {
		p.Log.WithError(derr).WithField("connection_id", connectionID).Error("process: failed to deliver failed response")
	}
	return cause
}

// rejectTransition converts fsm.ErrRejected into the wire-level
// INVALID_TRANSITION error (spec.md §7), leaving the connection's
// persisted state untouched -- no store write happens until after a
// transition table lookup succeeds.
func rejectTransition(err error) error {
	if errors.Is(err, fsm.ErrRejected) {
		return protocol.NewNsiError(protocol.NamespaceInvalidTransition, "operation not valid in current state")
	}
	return err
}

func newCorrelationID() string { return uuid.NewString() }
