package engine

import (
	"context"
	"errors"

	"github.com/taskherd/taskherd/internal/github"
	"github.com/taskherd/taskherd/internal/types"
	"github.com/taskherd/taskherd/internal/workflow"
)

// AdvanceWorkflowArgs are the inputs of advance_workflow.
type AdvanceWorkflowArgs struct {
	Repo              string `json:"repo,omitempty"`
	IssueNumber       int    `json:"issueNumber"`
	TargetPhase       string `json:"targetPhase"`
	TestsPassed       *bool  `json:"testsPassed,omitempty"`
	SkipJustification string `json:"skipJustification,omitempty"`
	PRTitle           string `json:"prTitle,omitempty"` // required for the pr transition
	PRBody            string `json:"prBody,omitempty"`
}

// AdvanceWorkflowResult is the payload of a successful advance.
type AdvanceWorkflowResult struct {
	IssueNumber   int         `json:"issueNumber"`
	PreviousPhase types.Phase `json:"previousPhase"`
	CurrentPhase  types.Phase `json:"currentPhase"`
	BranchName    string      `json:"branchName,omitempty"`
	PRNumber      int         `json:"prNumber,omitempty"`
	PRURL         string      `json:"prUrl,omitempty"`
}

// AdvanceWorkflow applies one phase transition for an issue the calling
// session has locked, performing the branch and PR side effects on those
// transitions. On any failure the persisted state is untouched.
func (e *Engine) AdvanceWorkflow(ctx context.Context, args AdvanceWorkflowArgs) (result *AdvanceWorkflowResult, err error) {
	start := e.now()
	repo, err := e.resolveRepo(args.Repo)
	if err != nil {
		e.auditTool("advance_workflow", "", args.IssueNumber, start, err, nil)
		return nil, err
	}
	defer func() { e.auditTool("advance_workflow", repo, args.IssueNumber, start, err, nil) }()

	if err = e.requireLock(repo, args.IssueNumber); err != nil {
		return nil, err
	}

	state, loadErr := e.workflows.Get(repo, args.IssueNumber)
	if loadErr != nil {
		return nil, wrapInternal(loadErr, "loading workflow state")
	}
	if state == nil {
		return nil, Errf(CodeWorkflowNotFound, "no workflow state for #%d", args.IssueNumber)
	}

	target := types.Phase(args.TargetPhase)
	previous := state.Phase

	// The pr transition needs its inputs before anything mutates.
	if target == types.PhasePR {
		if state.BranchName == "" {
			return nil, Errf(CodeInvalidTransition, "no branch recorded for #%d: advance to branch first", args.IssueNumber)
		}
		if args.PRTitle == "" {
			return nil, Errf(CodeInvalidTransition, "prTitle is required for the pr transition")
		}
	}

	advErr := workflow.Advance(state, target, workflow.AdvanceOptions{
		TestsPassed:       args.TestsPassed,
		SkipJustification: args.SkipJustification,
		Trigger:           "advance_workflow",
		SessionID:         e.sessionID,
	}, e.now().UTC())
	if advErr != nil {
		switch {
		case errors.Is(advErr, workflow.ErrTestsRequired):
			return nil, Errf(CodeTestsRequired, "%v", advErr)
		case errors.Is(advErr, workflow.ErrSkipJustificationRequired):
			return nil, Errf(CodeSkipJustification, "%v", advErr)
		default:
			return nil, Errf(CodeInvalidTransition, "%v", advErr)
		}
	}

	result = &AdvanceWorkflowResult{
		IssueNumber:   args.IssueNumber,
		PreviousPhase: previous,
		CurrentPhase:  state.Phase,
	}

	// Side effects. These run before the state is persisted, so a remote
	// failure leaves durable state at the previous phase.
	switch target {
	case types.PhaseBranch:
		issue, getErr := e.gh.GetIssue(ctx, repo, args.IssueNumber)
		if getErr != nil {
			return nil, wrapRemote(getErr, "fetching issue for branch name")
		}
		branch := workflow.BranchName(args.IssueNumber, issue.Title)
		if brErr := e.gh.CreateBranch(ctx, repo, branch); brErr != nil {
			return nil, wrapRemote(brErr, "creating branch")
		}
		state.BranchName = branch
		result.BranchName = branch

	case types.PhasePR:
		pr, prErr := e.gh.CreatePull(ctx, repo, args.PRTitle, args.PRBody, state.BranchName)
		if prErr != nil {
			return nil, wrapRemote(prErr, "creating pull request")
		}
		state.PRNumber = pr.Number
		result.PRNumber = pr.Number
		result.PRURL = pr.HTMLURL
		if swapErr := e.gh.SwapLabels(ctx, repo, args.IssueNumber, github.StatusInProgress, github.StatusInReview); swapErr != nil {
			return nil, wrapRemote(swapErr, "flipping status label")
		}
	}

	if saveErr := e.workflows.Save(state); saveErr != nil {
		return nil, wrapInternal(saveErr, "saving workflow state")
	}

	e.auditPhase(repo, args.IssueNumber, previous, state.Phase)
	return result, nil
}

// requireLock verifies the calling session holds a live claim on the
// issue.
func (e *Engine) requireLock(repo string, issueNumber int) error {
	rec, stale, err := e.locks.Get(repo, issueNumber)
	if err != nil {
		return wrapInternal(err, "reading lock")
	}
	if rec == nil || stale || rec.SessionID != e.sessionID {
		return Errf(CodeNotLocked, "session does not hold the lock for #%d", issueNumber)
	}
	return nil
}
