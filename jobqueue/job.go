// Package jobqueue implements the Job Engine (C3): a persistent work
// queue whose jobs run on a fixed worker pool, serialized per connection_id
// but otherwise parallel, and that survives restart by replaying
// JobStore.ListPendingJobs through per-kind recover hooks. It is grounded
// on dwarri-gazette's consumer package: Engine plays the role Resolver
// plays there (assigning work to the right serialized context before
// handing it to a Replica), and the per-job trace lines are modeled on
// resolver.go's addTrace.
package jobqueue

import (
	"context"

	"go.nsi.dev/provider/store"
)

// Handler executes one attempt of a job of a particular kind. It must be
// idempotent: Engine may invoke it more than once for the same JobRecord
// after a crash recovery or a retry trigger.
type Handler func(ctx context.Context, job store.JobRecord) error

// Recoverer rebuilds the in-memory inputs a job of a particular kind needs
// to resume after a restart, given its persisted JobRecord. A Recoverer
// may return (nil, nil) to indicate the job should simply be dropped
// rather than re-run -- spec.md §4.3's rule for query jobs, whose inputs
// (the requester's original filter) are not persisted and are therefore
// unsafe to reconstruct after a crash.
type Recoverer func(job store.JobRecord) (*store.JobRecord, error)
