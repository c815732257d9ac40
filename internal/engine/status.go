package engine

import (
	"context"

	"github.com/taskherd/taskherd/internal/types"
)

// GetWorkflowStatusArgs are the inputs of get_workflow_status.
type GetWorkflowStatusArgs struct {
	Repo        string `json:"repo,omitempty"`
	IssueNumber int    `json:"issueNumber,omitempty"`
}

// WorkflowStatusEntry pairs a claim with its workflow state.
type WorkflowStatusEntry struct {
	Lock     *types.LockRecord    `json:"lock"`
	Stale    bool                 `json:"stale"`
	Workflow *types.WorkflowState `json:"workflow,omitempty"`
}

// GetWorkflowStatusResult is the payload of get_workflow_status.
type GetWorkflowStatusResult struct {
	Entries []WorkflowStatusEntry `json:"entries"`
}

// GetWorkflowStatus returns the workflow record for one issue, or every
// claim the current session holds joined with its workflow state.
func (e *Engine) GetWorkflowStatus(ctx context.Context, args GetWorkflowStatusArgs) (result *GetWorkflowStatusResult, err error) {
	_ = ctx
	start := e.now()
	defer func() { e.auditTool("get_workflow_status", args.Repo, args.IssueNumber, start, err, nil) }()

	if args.IssueNumber > 0 {
		// Single-issue mode needs a repository; the session-wide listing
		// spans repositories and does not.
		repo, resolveErr := e.resolveRepo(args.Repo)
		if resolveErr != nil {
			err = resolveErr
			return nil, err
		}
		state, loadErr := e.workflows.Get(repo, args.IssueNumber)
		if loadErr != nil {
			return nil, wrapInternal(loadErr, "loading workflow state")
		}
		if state == nil {
			return nil, Errf(CodeWorkflowNotFound, "no workflow state for #%d", args.IssueNumber)
		}
		rec, stale, lockErr := e.locks.Get(repo, args.IssueNumber)
		if lockErr != nil {
			return nil, wrapInternal(lockErr, "reading lock")
		}
		return &GetWorkflowStatusResult{
			Entries: []WorkflowStatusEntry{{Lock: rec, Stale: stale, Workflow: state}},
		}, nil
	}

	held, listErr := e.locks.HeldBy(e.sessionID)
	if listErr != nil {
		return nil, wrapInternal(listErr, "listing locks")
	}

	result = &GetWorkflowStatusResult{Entries: []WorkflowStatusEntry{}}
	for _, info := range held {
		entry := WorkflowStatusEntry{Lock: info.Record, Stale: info.Stale}
		if state, loadErr := e.workflows.Get(info.Record.Repo, info.Record.IssueNumber); loadErr == nil {
			entry.Workflow = state
		}
		result.Entries = append(result.Entries, entry)
	}
	return result, nil
}
