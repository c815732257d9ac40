// Package workflow implements the per-issue workflow state machine: the
// phase transition relation, the advance contract with its testing gate and
// forward-skip rules, and the persistent per-issue state store.
package workflow

import (
	"errors"
	"fmt"
	"time"

	"github.com/taskherd/taskherd/internal/types"
)

// Sentinel errors for the advance contract.
var (
	// ErrInvalidTransition means the phase pair is not permitted.
	ErrInvalidTransition = errors.New("invalid phase transition")

	// ErrTestsRequired means a commit/pr transition lacked both a passing
	// tests flag and a skip justification.
	ErrTestsRequired = errors.New("tests must pass before commit/pr (or provide a skip justification)")

	// ErrSkipJustificationRequired means a forward skip lacked a
	// justification.
	ErrSkipJustificationRequired = errors.New("skip justification required for forward skip")
)

// transitions is the phase relation. Abandoned is reachable from every
// non-terminal phase; merged and abandoned admit nothing.
var transitions = map[types.Phase][]types.Phase{
	types.PhaseSelection:      {types.PhaseResearch, types.PhaseAbandoned},
	types.PhaseResearch:       {types.PhaseBranch, types.PhaseAbandoned},
	types.PhaseBranch:         {types.PhaseImplementation, types.PhaseAbandoned},
	types.PhaseImplementation: {types.PhaseTesting, types.PhaseAbandoned},
	types.PhaseTesting:        {types.PhaseCommit, types.PhaseAbandoned},
	types.PhaseCommit:         {types.PhasePR, types.PhaseAbandoned},
	types.PhasePR:             {types.PhaseReview, types.PhaseAbandoned},
	types.PhaseReview:         {types.PhaseMerged, types.PhaseAbandoned},
	types.PhaseMerged:         {},
	types.PhaseAbandoned:      {},
}

// Allowed reports whether the relation admits from→to directly.
func Allowed(from, to types.Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AdvanceOptions carries the caller-supplied inputs of one advance.
type AdvanceOptions struct {
	TestsPassed       *bool
	SkipJustification string
	Trigger           string
	SessionID         string
}

// gated reports whether entering the phase requires the testing gate.
func gated(to types.Phase) bool {
	return to == types.PhaseCommit || to == types.PhasePR
}

// Advance mutates state from its current phase to target, enforcing the
// relation, the testing gate, and the forward-skip rules. On success the
// transition (and any synthesized skip records) is appended to the state's
// history; on error the state is untouched.
func Advance(state *types.WorkflowState, target types.Phase, opts AdvanceOptions, now time.Time) error {
	if !target.Valid() {
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidTransition, target)
	}
	from := state.Phase

	testsOK := opts.TestsPassed != nil && *opts.TestsPassed
	justified := opts.SkipJustification != ""

	switch {
	case Allowed(from, target):
		if gated(target) && !testsOK && !justified {
			return fmt.Errorf("%s -> %s: %w", from, target, ErrTestsRequired)
		}

	case isForwardSkip(from, target):
		// The testing gate outranks the skip rule: a skip landing on
		// commit/pr with neither passing tests nor a justification reports
		// the gate failure.
		if gated(target) && !testsOK && !justified {
			return fmt.Errorf("%s -> %s: %w", from, target, ErrTestsRequired)
		}
		if !justified {
			return fmt.Errorf("%s -> %s: %w", from, target, ErrSkipJustificationRequired)
		}
		for _, skipped := range between(from, target) {
			state.Skips = append(state.Skips, types.SkipJustification{
				SkippedPhase: skipped,
				Reason:       opts.SkipJustification,
				Timestamp:    now,
				SessionID:    opts.SessionID,
			})
		}

	default:
		return fmt.Errorf("%s -> %s: %w", from, target, ErrInvalidTransition)
	}

	if opts.TestsPassed != nil {
		state.TestsPassed = opts.TestsPassed
	}
	state.PhaseHistory = append(state.PhaseHistory, types.Transition{
		From:      from,
		To:        target,
		Timestamp: now,
		Trigger:   opts.Trigger,
	})
	state.Phase = target
	state.UpdatedAt = now
	return nil
}

// isForwardSkip reports whether target is strictly later than from on the
// selection→merged line, past the directly-allowed successor.
func isForwardSkip(from, to types.Phase) bool {
	fi, ti := from.LinearIndex(), to.LinearIndex()
	return fi >= 0 && ti >= 0 && ti > fi+1
}

// between returns the intermediate phases jumped over by a forward skip.
func between(from, to types.Phase) []types.Phase {
	linear := types.LinearPhases()
	fi, ti := from.LinearIndex(), to.LinearIndex()
	return linear[fi+1 : ti]
}
