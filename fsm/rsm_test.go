package fsm

import (
	"testing"

	gc "github.com/go-check/check"
)

func Test(t *testing.T) { gc.TestingT(t) }

type RSMSuite struct{}

var _ = gc.Suite(&RSMSuite{})

func (s *RSMSuite) TestHappyPathRoundTrip(c *gc.C) {
	var st = ReserveStart

	var steps = []struct {
		ev   REvent
		want RState
	}{
		{EvReserveRequest, ReserveChecking},
		{EvReserveConfirmed, ReserveHeld},
		{EvReserveCommitRequest, ReserveCommitting},
		{EvReserveCommitConfirmed, ReserveStart},
	}
	for _, step := range steps {
		var next, err = ApplyRSM(st, step.ev)
		c.Assert(err, gc.IsNil)
		c.Check(next, gc.Equals, step.want)
		st = next
	}
}

func (s *RSMSuite) TestHoldTimeoutThenCommitStillAccepted(c *gc.C) {
	// Scenario 3 of spec.md §8: a timed-out hold may still be committed.
	var st, err = ApplyRSM(ReserveHeld, EvReserveTimeoutNotify)
	c.Assert(err, gc.IsNil)
	c.Check(st, gc.Equals, ReserveTimeout)

	st, err = ApplyRSM(st, EvReserveCommitRequest)
	c.Assert(err, gc.IsNil)
	c.Check(st, gc.Equals, ReserveCommitting)

	st, err = ApplyRSM(st, EvReserveCommitConfirmed)
	c.Assert(err, gc.IsNil)
	c.Check(st, gc.Equals, ReserveStart)
}

func (s *RSMSuite) TestVlanMismatchAbortRoundTrip(c *gc.C) {
	// Scenario 2 of spec.md §8.
	var st, err = ApplyRSM(ReserveChecking, EvReserveFailed)
	c.Assert(err, gc.IsNil)
	c.Check(st, gc.Equals, ReserveFailed)

	st, err = ApplyRSM(st, EvReserveAbortRequest)
	c.Assert(err, gc.IsNil)
	c.Check(st, gc.Equals, ReserveAborting)

	st, err = ApplyRSM(st, EvReserveAbortConfirmed)
	c.Assert(err, gc.IsNil)
	c.Check(st, gc.Equals, ReserveStart)
}

func (s *RSMSuite) TestIllegalTransitionRejectedWithoutSideEffects(c *gc.C) {
	var _, err = ApplyRSM(ReserveStart, EvReserveConfirmed)
	c.Assert(err, gc.Equals, ErrRejected)

	// ReserveStart is unaffected; a second, valid call still succeeds.
	var next, err2 = ApplyRSM(ReserveStart, EvReserveRequest)
	c.Assert(err2, gc.IsNil)
	c.Check(next, gc.Equals, ReserveChecking)
}

func (s *RSMSuite) TestConcurrentCommitAttemptsSecondLoses(c *gc.C) {
	// §9(c): after a CAS-protected write advances Committing -> Start,
	// a second reserve_commit_request against the stale Held/Timeout
	// state must be rejected by the store's CAS, not by the table
	// itself (the table has no notion of concurrency). Here we assert
	// that once the first commit's ReserveCommitting state is what the
	// second attempt observes, its commit_request is rejected.
	var next, err = ApplyRSM(ReserveHeld, EvReserveCommitRequest)
	c.Assert(err, gc.IsNil)
	c.Check(next, gc.Equals, ReserveCommitting)

	var _, err2 = ApplyRSM(next, EvReserveCommitRequest)
	c.Assert(err2, gc.Equals, ErrRejected)

	// A second commit_request against the now-stale ReserveHeld value
	// would, in the FSM alone, still "succeed" -- this is precisely why
	// store.UpdateState uses compare-and-swap against expected_prev_state
	// rather than relying on the table alone for concurrency safety.
}
