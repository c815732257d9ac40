package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/taskherd/taskherd/internal/types"
)

func stateAt(phase types.Phase) *types.WorkflowState {
	return &types.WorkflowState{
		IssueNumber: 42,
		Repo:        "octo/widgets",
		Phase:       phase,
	}
}

func boolPtr(v bool) *bool { return &v }

func TestAllowedLinearChain(t *testing.T) {
	linear := types.LinearPhases()
	for i := 0; i < len(linear)-1; i++ {
		if !Allowed(linear[i], linear[i+1]) {
			t.Errorf("Allowed(%s, %s) = false, want true", linear[i], linear[i+1])
		}
	}
}

func TestAllowedAbandonedFromNonTerminals(t *testing.T) {
	for _, phase := range types.LinearPhases() {
		want := phase != types.PhaseMerged
		if got := Allowed(phase, types.PhaseAbandoned); got != want {
			t.Errorf("Allowed(%s, abandoned) = %v, want %v", phase, got, want)
		}
	}
	if Allowed(types.PhaseAbandoned, types.PhaseSelection) {
		t.Error("abandoned should admit nothing")
	}
}

func TestAdvanceBackwardRejected(t *testing.T) {
	state := stateAt(types.PhaseTesting)
	err := Advance(state, types.PhaseResearch, AdvanceOptions{}, time.Now())
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("backward advance error = %v, want ErrInvalidTransition", err)
	}
	if state.Phase != types.PhaseTesting {
		t.Errorf("phase mutated to %s on failed advance", state.Phase)
	}
	if len(state.PhaseHistory) != 0 {
		t.Errorf("history grew on failed advance")
	}
}

func TestAdvanceTestingGate(t *testing.T) {
	now := time.Now()

	state := stateAt(types.PhaseTesting)
	err := Advance(state, types.PhaseCommit, AdvanceOptions{}, now)
	if !errors.Is(err, ErrTestsRequired) {
		t.Fatalf("ungated commit error = %v, want ErrTestsRequired", err)
	}
	if state.Phase != types.PhaseTesting {
		t.Errorf("phase mutated to %s despite gate", state.Phase)
	}

	err = Advance(state, types.PhaseCommit, AdvanceOptions{TestsPassed: boolPtr(true)}, now)
	if err != nil {
		t.Fatalf("gated advance with passing tests: %v", err)
	}
	if state.Phase != types.PhaseCommit {
		t.Errorf("phase = %s, want commit", state.Phase)
	}
	if state.TestsPassed == nil || !*state.TestsPassed {
		t.Error("tests_passed not recorded")
	}
}

func TestAdvanceGateAcceptsJustification(t *testing.T) {
	state := stateAt(types.PhaseTesting)
	err := Advance(state, types.PhaseCommit, AdvanceOptions{
		SkipJustification: "hotfix, verified manually in staging",
	}, time.Now())
	if err != nil {
		t.Fatalf("justified gated advance: %v", err)
	}
	if state.Phase != types.PhaseCommit {
		t.Errorf("phase = %s, want commit", state.Phase)
	}
}

func TestAdvanceFailedTestsBlockCommit(t *testing.T) {
	state := stateAt(types.PhaseTesting)
	err := Advance(state, types.PhaseCommit, AdvanceOptions{TestsPassed: boolPtr(false)}, time.Now())
	if !errors.Is(err, ErrTestsRequired) {
		t.Fatalf("failing tests error = %v, want ErrTestsRequired", err)
	}
}

func TestAdvanceForwardSkipNeedsJustification(t *testing.T) {
	state := stateAt(types.PhaseSelection)
	err := Advance(state, types.PhaseImplementation, AdvanceOptions{}, time.Now())
	if !errors.Is(err, ErrSkipJustificationRequired) {
		t.Fatalf("unjustified skip error = %v, want ErrSkipJustificationRequired", err)
	}
	if state.Phase != types.PhaseSelection {
		t.Errorf("phase mutated to %s on failed skip", state.Phase)
	}
}

func TestAdvanceGatedSkipReportsTestsFirst(t *testing.T) {
	// testing → pr skips commit, but with neither passing tests nor a
	// justification the gate failure wins over the skip failure.
	state := stateAt(types.PhaseTesting)
	err := Advance(state, types.PhasePR, AdvanceOptions{}, time.Now())
	if !errors.Is(err, ErrTestsRequired) {
		t.Fatalf("gated skip error = %v, want ErrTestsRequired", err)
	}
	if state.Phase != types.PhaseTesting {
		t.Errorf("phase mutated to %s on failed skip", state.Phase)
	}

	// Passing tests satisfy the gate but the skip itself still needs a
	// justification.
	err = Advance(state, types.PhasePR, AdvanceOptions{TestsPassed: boolPtr(true)}, time.Now())
	if !errors.Is(err, ErrSkipJustificationRequired) {
		t.Fatalf("unjustified gated skip error = %v, want ErrSkipJustificationRequired", err)
	}
}

func TestAdvanceForwardSkipRecordsEachPhase(t *testing.T) {
	now := time.Now()
	state := stateAt(types.PhaseSelection)
	err := Advance(state, types.PhaseImplementation, AdvanceOptions{
		SkipJustification: "branch already exists from earlier spike",
		SessionID:         "sess-1",
	}, now)
	if err != nil {
		t.Fatalf("justified skip: %v", err)
	}
	if state.Phase != types.PhaseImplementation {
		t.Errorf("phase = %s, want implementation", state.Phase)
	}

	// selection → implementation jumps research and branch.
	if len(state.Skips) != 2 {
		t.Fatalf("skip records = %d, want 2", len(state.Skips))
	}
	wantSkipped := []types.Phase{types.PhaseResearch, types.PhaseBranch}
	for i, skip := range state.Skips {
		if skip.SkippedPhase != wantSkipped[i] {
			t.Errorf("skip[%d] = %s, want %s", i, skip.SkippedPhase, wantSkipped[i])
		}
		if skip.Reason == "" || skip.SessionID != "sess-1" {
			t.Errorf("skip[%d] missing reason or session", i)
		}
	}
}

func TestAdvanceAbandonedAlwaysAllowed(t *testing.T) {
	for _, phase := range types.LinearPhases() {
		if phase == types.PhaseMerged {
			continue
		}
		state := stateAt(phase)
		if err := Advance(state, types.PhaseAbandoned, AdvanceOptions{}, time.Now()); err != nil {
			t.Errorf("abandon from %s: %v", phase, err)
		}
	}
}

func TestAdvanceFromTerminalRejected(t *testing.T) {
	for _, phase := range []types.Phase{types.PhaseMerged, types.PhaseAbandoned} {
		state := stateAt(phase)
		err := Advance(state, types.PhaseResearch, AdvanceOptions{}, time.Now())
		if !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("advance from %s error = %v, want ErrInvalidTransition", phase, err)
		}
	}
}

func TestAdvanceAppendsHistory(t *testing.T) {
	now := time.Now()
	state := stateAt(types.PhaseSelection)

	if err := Advance(state, types.PhaseResearch, AdvanceOptions{Trigger: "advance_workflow"}, now); err != nil {
		t.Fatal(err)
	}
	if len(state.PhaseHistory) != 1 {
		t.Fatalf("history length = %d, want 1", len(state.PhaseHistory))
	}
	tr := state.PhaseHistory[0]
	if tr.From != types.PhaseSelection || tr.To != types.PhaseResearch {
		t.Errorf("transition = %s -> %s, want selection -> research", tr.From, tr.To)
	}
	if tr.Trigger != "advance_workflow" {
		t.Errorf("trigger = %q", tr.Trigger)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store := NewStore(t.TempDir())

	created, err := store.Create("octo/widgets", 42)
	if err != nil {
		t.Fatal(err)
	}
	if created.Phase != types.PhaseSelection {
		t.Errorf("new state phase = %s, want selection", created.Phase)
	}
	if len(created.PhaseHistory) != 0 {
		t.Errorf("new state history = %d entries, want 0", len(created.PhaseHistory))
	}

	if err := Advance(created, types.PhaseResearch, AdvanceOptions{}, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := store.Save(created); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Get("octo/widgets", 42)
	if err != nil {
		t.Fatal(err)
	}
	if loaded == nil || loaded.Phase != types.PhaseResearch {
		t.Fatalf("loaded = %+v, want phase research", loaded)
	}

	if err := store.Delete("octo/widgets", 42); err != nil {
		t.Fatal(err)
	}
	gone, err := store.Get("octo/widgets", 42)
	if err != nil || gone != nil {
		t.Fatalf("after delete: state=%v err=%v, want nil/nil", gone, err)
	}

	// Deleting again is a no-op.
	if err := store.Delete("octo/widgets", 42); err != nil {
		t.Errorf("double delete: %v", err)
	}
}

func TestStoreGetAbsent(t *testing.T) {
	store := NewStore(t.TempDir())
	state, err := store.Get("octo/widgets", 7)
	if err != nil || state != nil {
		t.Fatalf("absent state = %v, err = %v, want nil/nil", state, err)
	}
}

func TestSlug(t *testing.T) {
	tests := []struct {
		title string
		want  string
	}{
		{"Fix login bug", "fix-login-bug"},
		{"Add OAuth2 support!!", "add-oauth2-support"},
		{"  spaces   everywhere  ", "spaces-everywhere"},
		{"ALL CAPS TITLE", "all-caps-title"},
		{"emoji 🎉 stripped", "emoji-stripped"},
	}
	for _, tt := range tests {
		if got := Slug(tt.title); got != tt.want {
			t.Errorf("Slug(%q) = %q, want %q", tt.title, got, tt.want)
		}
	}
}

func TestSlugTruncates(t *testing.T) {
	long := "this is a very long issue title that keeps going and going and going well past the limit"
	got := Slug(long)
	if len(got) > maxSlugLen {
		t.Errorf("slug length = %d, want <= %d", len(got), maxSlugLen)
	}
	if got[len(got)-1] == '-' {
		t.Errorf("slug %q has trailing dash", got)
	}
}

func TestBranchName(t *testing.T) {
	if got := BranchName(42, "Fix login bug"); got != "42-fix-login-bug" {
		t.Errorf("BranchName = %q, want 42-fix-login-bug", got)
	}
}
