// Package nrm defines the Network Resource Manager backend port (C5):
// the capability set a concrete network element driver must implement so
// package process and package jobqueue can carry a reservation through to
// an active circuit without depending on any particular vendor's control
// plane. It is grounded on dwarri-gazette's broker/client package, which
// gives every transport (gRPC reader/appender, in this codebase) a small
// common interface the rest of the broker dispatches against regardless
// of which concrete stub backs it.
package nrm

import (
	"context"

	"go.nsi.dev/provider/protocol"
	"go.nsi.dev/provider/topology"
)

// ReserveSpec is the resolved, topology-checked request a Backend receives
// to reserve capacity between two STPs.
type ReserveSpec struct {
	ConnectionID string
	SrcSTP       topology.STP
	SrcVlan      int
	DstSTP       topology.STP
	DstVlan      int
	BandwidthMbps int
}

// CircuitHandle is the opaque, backend-assigned identifier for a reserved
// circuit (spec.md §3's circuit_id), round-tripped on every subsequent
// call for the same Connection.
type CircuitHandle string

// Fault is a backend-initiated, out-of-band failure report -- a network
// element raising an alarm with nothing in-flight waiting on it, as
// opposed to an error returned synchronously from one of Backend's other
// methods. It drives the forced_end_notification transition (spec.md
// §4.4, §8 scenario 4).
type Fault struct {
	ConnectionID string
	Err          error
}

// Backend is the Network Resource Manager port (spec.md §4.5). Every
// method either returns successfully or returns a *protocol.NsiError
// describing why the underlying network element rejected or failed to
// carry out the operation; package process and package jobqueue never
// inspect a Backend's internals, only this error.
//
// Backend implementations must be safe for concurrent use: distinct
// Connections may invoke them concurrently (spec.md §5's "jobs for
// different connection_ids run in parallel").
type Backend interface {
	// Reserve checks (and, depending on the backend, provisionally
	// holds) capacity for spec, returning a CircuitHandle to use on
	// Commit/Abort. Reserve performs no persistent provider-state
	// mutation; it must be safe to call speculatively and then Abort.
	Reserve(ctx context.Context, spec ReserveSpec) (CircuitHandle, error)

	// Commit finalizes a previously-Reserved circuit.
	Commit(ctx context.Context, handle CircuitHandle) error

	// Abort releases a Reserve that will not be committed.
	Abort(ctx context.Context, handle CircuitHandle) error

	// Timeout is invoked when a reservation's hold timer fires before
	// Commit/Abort; implementations should treat it identically to
	// Abort unless the underlying network element distinguishes them.
	Timeout(ctx context.Context, handle CircuitHandle) error

	// Provision configures the data path for handle (spec.md §4.1's PSM
	// Provisioning state) without activating it.
	Provision(ctx context.Context, handle CircuitHandle) error
	// Release tears down a Provisioned data path configuration.
	Release(ctx context.Context, handle CircuitHandle) error

	// Activate brings handle's data plane up; Deactivate brings it down.
	// These drive the derived Data-Plane State Machine (spec.md §4.1).
	Activate(ctx context.Context, handle CircuitHandle) error
	Deactivate(ctx context.Context, handle CircuitHandle) error

	// Terminate permanently releases all resources held by handle; no
	// further calls for it are valid afterward.
	Terminate(ctx context.Context, handle CircuitHandle) error

	// Topology returns the backend's current view of local STPs.
	// Nothing in this module calls it on a schedule; package topology's
	// Cache is built once at startup. Backends that have no dynamic
	// topology of their own (e.g. the YAML stub) may return the same set
	// every call.
	Topology(ctx context.Context) ([]topology.STP, error)

	// Faults streams backend-initiated Fault events not tied to any
	// in-flight call (spec.md §4.4's "may be raised by the backend
	// (external fault)"). A backend with no such source of its own may
	// return a channel that is never written to.
	Faults() <-chan Fault
}

// Unsupported is a convenience error for a Backend method a concrete
// driver intentionally does not implement (spec.md's "capability set"
// language allows a backend to support a subset of operations, e.g. a
// read-only topology-discovery-only backend).
func Unsupported(op string) *protocol.NsiError {
	return protocol.NewNsiError(protocol.NamespaceGenericRm, "unsupported operation: "+op)
}
