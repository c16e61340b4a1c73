package fsm

import "testing"

func TestPSMLinearProgression(t *testing.T) {
	var steps = []struct {
		state PState
		event PEvent
		want  PState
	}{
		{Released, EvProvisionRequest, Provisioning},
		{Provisioning, EvProvisionConfirmed, Provisioned},
		{Provisioned, EvReleaseRequest, Releasing},
		{Releasing, EvReleaseConfirmed, Released},
	}
	for _, step := range steps {
		var got, err = ApplyPSM(step.state, step.event)
		if err != nil {
			t.Fatalf("ApplyPSM(%s, %s): %v", step.state, step.event, err)
		}
		if got != step.want {
			t.Errorf("ApplyPSM(%s, %s) = %s, want %s", step.state, step.event, got, step.want)
		}
	}
}

func TestPSMNoBackEdges(t *testing.T) {
	if _, err := ApplyPSM(Provisioned, EvProvisionRequest); err != ErrRejected {
		t.Errorf("expected rejection re-entering Provisioning from Provisioned, got %v", err)
	}
}

func TestLSMTerminatedIsAbsorbing(t *testing.T) {
	var st, err = ApplyLSM(Terminating, EvTerminateConfirmed)
	if err != nil {
		t.Fatalf("ApplyLSM: %v", err)
	}
	if st != Terminated {
		t.Fatalf("got %s, want Terminated", st)
	}
	if !st.Terminal() {
		t.Fatal("Terminated.Terminal() = false")
	}
	for _, ev := range []LEvent{EvForcedEndNotify, EvEndtimeEvent, EvTerminateRequest, EvTerminateConfirmed} {
		if _, err := ApplyLSM(st, ev); err != ErrRejected {
			t.Errorf("event %s accepted from Terminated state", ev)
		}
	}
}

func TestLSMForcedEndFromCreated(t *testing.T) {
	var st, err = ApplyLSM(Created, EvForcedEndNotify)
	if err != nil {
		t.Fatalf("ApplyLSM: %v", err)
	}
	if st != Failed {
		t.Fatalf("got %s, want Failed", st)
	}
}

func TestDPSMActivateDeactivateRoundTrip(t *testing.T) {
	var st, err = ApplyDPSM(Deactivated, EvActivateRequest)
	if err != nil || st != Activating {
		t.Fatalf("activate_request: %s, %v", st, err)
	}
	st, err = ApplyDPSM(st, EvActivateConfirmed)
	if err != nil || st != Activated {
		t.Fatalf("activate_confirmed: %s, %v", st, err)
	}
	st, err = ApplyDPSM(st, EvDeactivateRequest)
	if err != nil || st != Deactivating {
		t.Fatalf("deactivate_request: %s, %v", st, err)
	}
	st, err = ApplyDPSM(st, EvDeactivateConfirmed)
	if err != nil || st != Deactivated {
		t.Fatalf("deactivate_confirmed: %s, %v", st, err)
	}
}

func TestDPSMActivateFailureThenRetry(t *testing.T) {
	var st, err = ApplyDPSM(Activating, EvActivateFailed)
	if err != nil || st != ActivateFailed {
		t.Fatalf("activate_failed: %s, %v", st, err)
	}
	st, err = ApplyDPSM(st, EvActivateRequest)
	if err != nil || st != Activating {
		t.Fatalf("retry activate_request: %s, %v", st, err)
	}
}
