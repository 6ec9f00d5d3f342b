package workflow_test

import (
	"testing"

	"github.com/mind-engage/peergrade/internal/workflow"
)

func TestDerive(t *testing.T) {
	steps := func(training, peerDone, selfDone bool, peerScored bool) []workflow.StepState {
		return []workflow.StepState{
			{Name: workflow.StepTraining, Complete: training},
			{Name: workflow.StepPeer, Complete: peerDone, HasScore: peerScored},
			{Name: workflow.StepSelf, Complete: selfDone},
		}
	}

	cases := []struct {
		name  string
		steps []workflow.StepState
		want  workflow.Status
	}{
		{"training first", steps(false, false, false, false), workflow.StatusTraining},
		{"peer next", steps(true, false, false, false), workflow.StatusPeer},
		{"self after peer", steps(true, true, false, false), workflow.StatusSelf},
		{"waiting for reviews", steps(true, true, true, false), workflow.StatusWaiting},
		{"done once scored", steps(true, true, true, true), workflow.StatusDone},
	}
	for _, tc := range cases {
		if got := workflow.Derive(false, tc.steps); got != tc.want {
			t.Fatalf("%s: Derive = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestDeriveCancelled(t *testing.T) {
	got := workflow.Derive(true, []workflow.StepState{
		{Name: workflow.StepPeer, Complete: true, HasScore: true},
	})
	if got != workflow.StatusCancelled {
		t.Fatalf("Derive = %q, want cancelled", got)
	}
}

func TestStaffScoreOverrides(t *testing.T) {
	// A staff score short-circuits even unmet submit-side requirements.
	got := workflow.Derive(false, []workflow.StepState{
		{Name: workflow.StepPeer, Complete: false},
		{Name: workflow.StepStaff, Staff: true, HasScore: true},
	})
	if got != workflow.StatusDone {
		t.Fatalf("Derive = %q, want done", got)
	}
}

func TestPeerOnlyFlow(t *testing.T) {
	if got := workflow.Derive(false, []workflow.StepState{{Name: workflow.StepPeer}}); got != workflow.StatusPeer {
		t.Fatalf("Derive = %q, want peer", got)
	}
	if got := workflow.Derive(false, []workflow.StepState{{Name: workflow.StepPeer, Complete: true}}); got != workflow.StatusWaiting {
		t.Fatalf("Derive = %q, want waiting", got)
	}
}
