package domain

import "testing"

func TestStatusTransitionsOnlyMoveForward(t *testing.T) {
	cases := []struct {
		from    Status
		to      Status
		allowed bool
	}{
		{StatusPending, StatusBuilding, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusReady, false},
		{StatusBuilding, StatusReady, true},
		{StatusBuilding, StatusFailed, true},
		{StatusBuilding, StatusBuilding, true},
		{StatusBuilding, StatusPending, false},
		{StatusReady, StatusStopped, true},
		{StatusReady, StatusCancelled, true},
		{StatusReady, StatusBuilding, false},
		{StatusReady, StatusPending, false},
		{StatusFailed, StatusBuilding, false},
		{StatusFailed, StatusReady, false},
		{StatusStopped, StatusReady, false},
		{StatusCancelled, StatusPending, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransition(tc.to); got != tc.allowed {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.allowed)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []Status{StatusFailed, StatusStopped, StatusCancelled} {
		if !s.Terminal() {
			t.Errorf("expected %s to be terminal", s)
		}
	}
	for _, s := range []Status{StatusPending, StatusBuilding, StatusReady} {
		if s.Terminal() {
			t.Errorf("expected %s to be non-terminal", s)
		}
	}
}

func TestPredecessorsGuardBackwardMoves(t *testing.T) {
	preds := Predecessors(StatusReady)
	if len(preds) != 1 || preds[0] != StatusBuilding {
		t.Fatalf("expected READY to be reachable only from BUILDING, got %v", preds)
	}
}

func TestSameSlotSeparatesProductionAndPreviews(t *testing.T) {
	prod := Deployment{ProjectID: "p1", Branch: "main"}
	prodOld := Deployment{ProjectID: "p1", Branch: "main"}
	previewA := Deployment{ProjectID: "p1", Branch: "feature-a", IsPreview: true}
	previewA2 := Deployment{ProjectID: "p1", Branch: "feature-a", IsPreview: true}
	previewB := Deployment{ProjectID: "p1", Branch: "feature-b", IsPreview: true}

	if !prod.SameSlot(prodOld) {
		t.Fatal("two production deployments of one project must share the slot")
	}
	if prod.SameSlot(previewA) {
		t.Fatal("preview must not share the production slot")
	}
	if !previewA.SameSlot(previewA2) {
		t.Fatal("previews of the same branch must share a slot")
	}
	if previewA.SameSlot(previewB) {
		t.Fatal("previews of different branches must not share a slot")
	}
	other := Deployment{ProjectID: "p2", Branch: "main"}
	if prod.SameSlot(other) {
		t.Fatal("deployments of different projects never share a slot")
	}
}

func TestTargetForBranch(t *testing.T) {
	project := Project{ProductionBranch: "main"}
	if got := TargetForBranch(project, "main"); got != TargetProduction {
		t.Fatalf("expected production target, got %s", got)
	}
	if got := TargetForBranch(project, "feature-x"); got != TargetPreview {
		t.Fatalf("expected preview target, got %s", got)
	}
}

func TestEnvVariableAppliesTo(t *testing.T) {
	v := EnvVariable{Key: "API_KEY", Targets: []string{TargetProduction}}
	if !v.AppliesTo(TargetProduction) {
		t.Fatal("expected production variable to apply to production")
	}
	if v.AppliesTo(TargetPreview) {
		t.Fatal("production-only variable must not apply to preview")
	}
}
