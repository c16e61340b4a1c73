// Package yamlstub implements a deterministic, in-memory nrm.Backend
// driven entirely by the YAML topology file, with no outbound network
// calls of its own. It is grounded on original_source's
// nrm/backends/yaml_topology_test.py Backend, which exists purely to
// exercise topology() and a VLAN-match invariant without talking to real
// equipment; this Go rendition keeps that same "no real NRM, topology
// only" character while satisfying the full nrm.Backend capability set so
// it can stand in for any backend during development or CI.
package yamlstub

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"go.nsi.dev/provider/nrm"
	"go.nsi.dev/provider/protocol"
	"go.nsi.dev/provider/topology"
)

// Backend is a yamlstub.Backend instance. The zero value is not usable;
// construct with New.
type Backend struct {
	log *logrus.Entry

	mu     sync.Mutex
	stps   []topology.STP
	active map[nrm.CircuitHandle]bool // true once Activate has succeeded
	connOf map[nrm.CircuitHandle]string

	faults chan nrm.Fault
}

// New constructs a Backend whose Topology always returns stps.
func New(stps []topology.STP, log *logrus.Entry) *Backend {
	return &Backend{
		log:    log,
		stps:   stps,
		active: make(map[nrm.CircuitHandle]bool),
		connOf: make(map[nrm.CircuitHandle]string),
		faults: make(chan nrm.Fault, 16),
	}
}

// Reserve validates that src and dst VLANs match (the one invariant the
// reference stub enforces) and mints a dummy circuit handle.
func (b *Backend) Reserve(_ context.Context, spec nrm.ReserveSpec) (nrm.CircuitHandle, error) {
	if spec.SrcVlan != spec.DstVlan {
		return "", protocol.NewNsiError(protocol.NamespaceVlanMismatch, "src and dst VLANs must match")
	}
	var handle = nrm.CircuitHandle(uuid.NewString())
	b.mu.Lock()
	b.connOf[handle] = spec.ConnectionID
	b.mu.Unlock()
	b.log.WithFields(logrus.Fields{
		"connection_id": spec.ConnectionID,
		"circuit_id":    handle,
	}).Info("yamlstub: reserved circuit")
	return handle, nil
}

// Commit is a no-op: the stub has no separate "held" resource to finalize.
func (b *Backend) Commit(context.Context, nrm.CircuitHandle) error { return nil }

// Abort is a no-op for the same reason Commit is.
func (b *Backend) Abort(context.Context, nrm.CircuitHandle) error { return nil }

// Timeout is treated identically to Abort.
func (b *Backend) Timeout(ctx context.Context, handle nrm.CircuitHandle) error {
	return b.Abort(ctx, handle)
}

// Provision is a no-op; the stub has no separate provisioning step.
func (b *Backend) Provision(context.Context, nrm.CircuitHandle) error { return nil }

// Release is a no-op for the same reason Provision is.
func (b *Backend) Release(context.Context, nrm.CircuitHandle) error { return nil }

// Activate marks handle active and logs the "link up" event, mirroring
// the reference stub's activate() log line.
func (b *Backend) Activate(_ context.Context, handle nrm.CircuitHandle) error {
	b.mu.Lock()
	b.active[handle] = true
	b.mu.Unlock()
	b.log.WithField("circuit_id", handle).Info("yamlstub: link up")
	return nil
}

// Deactivate marks handle inactive and logs the "link down" event.
func (b *Backend) Deactivate(_ context.Context, handle nrm.CircuitHandle) error {
	b.mu.Lock()
	delete(b.active, handle)
	b.mu.Unlock()
	b.log.WithField("circuit_id", handle).Info("yamlstub: link down")
	return nil
}

// Terminate deactivates handle if still active and forgets it.
func (b *Backend) Terminate(ctx context.Context, handle nrm.CircuitHandle) error {
	var err = b.Deactivate(ctx, handle)
	b.mu.Lock()
	delete(b.connOf, handle)
	b.mu.Unlock()
	return err
}

// Topology returns the STP set this Backend was constructed with.
func (b *Backend) Topology(context.Context) ([]topology.STP, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out = make([]topology.STP, len(b.stps))
	copy(out, b.stps)
	return out, nil
}

// String aids debugging and log output.
func (b *Backend) String() string {
	return fmt.Sprintf("yamlstub.Backend{stps=%d}", len(b.stps))
}

// Faults returns the channel package process watches for backend-raised
// forced-end events. Nothing in this deterministic stub raises one on its
// own; tests (and operators exercising the scenario by hand) drive it
// through InjectFault.
func (b *Backend) Faults() <-chan nrm.Fault {
	return b.faults
}

// InjectFault simulates an external fault on handle's circuit, the way a
// real network element would push a link-down alarm outside of any
// request/response cycle (spec.md §8 scenario 4). It is a no-op if handle
// is unknown (e.g. already terminated).
func (b *Backend) InjectFault(handle nrm.CircuitHandle, cause error) {
	b.mu.Lock()
	var connectionID, ok = b.connOf[handle]
	b.mu.Unlock()
	if !ok {
		return
	}
	select {
	case b.faults <- nrm.Fault{ConnectionID: connectionID, Err: cause}:
	default:
		b.log.WithField("circuit_id", handle).Warn("yamlstub: fault channel full, dropping fault")
	}
}
