package engine

import (
	"context"
	"fmt"
)

// Bounds on one bulk_update_issues invocation.
const (
	MinBulkIssues = 1
	MaxBulkIssues = 50
)

// BulkUpdateArgs are the inputs of bulk_update_issues.
type BulkUpdateArgs struct {
	Repo         string   `json:"repo,omitempty"`
	IssueNumbers []int    `json:"issueNumbers"`
	AddLabels    []string `json:"addLabels,omitempty"`
	RemoveLabels []string `json:"removeLabels,omitempty"`
	State        string   `json:"state,omitempty"` // "open" or "closed"
}

// BulkFailure records one issue that could not be updated.
type BulkFailure struct {
	IssueNumber int    `json:"issueNumber"`
	Error       string `json:"error"`
}

// BulkUpdateResult is the payload of bulk_update_issues.
type BulkUpdateResult struct {
	Repo    string        `json:"repo"`
	Total   int           `json:"total"`
	Updated []int         `json:"updated"`
	Failed  []BulkFailure `json:"failed"`
}

// BulkUpdateIssues applies the same label and state changes to up to fifty
// issues, sequentially. A per-issue failure is recorded and the walk
// continues; the operation as a whole fails iff any issue failed.
func (e *Engine) BulkUpdateIssues(ctx context.Context, args BulkUpdateArgs) (result *BulkUpdateResult, err error) {
	start := e.now()
	repo, err := e.resolveRepo(args.Repo)
	if err != nil {
		e.auditTool("bulk_update_issues", "", 0, start, err, nil)
		return nil, err
	}
	defer func() {
		e.auditTool("bulk_update_issues", repo, 0, start, err, map[string]any{
			"issue_count": len(args.IssueNumbers),
		})
	}()

	if n := len(args.IssueNumbers); n < MinBulkIssues || n > MaxBulkIssues {
		return nil, Errf(CodeInternal, "issueNumbers must contain %d to %d entries, got %d",
			MinBulkIssues, MaxBulkIssues, n)
	}
	if len(args.AddLabels) == 0 && len(args.RemoveLabels) == 0 && args.State == "" {
		return nil, Errf(CodeInternal, "nothing to do: pass addLabels, removeLabels, or state")
	}
	switch args.State {
	case "", "open", "closed":
	default:
		return nil, Errf(CodeInternal, "state must be open or closed, got %q", args.State)
	}

	result = &BulkUpdateResult{
		Repo:    repo,
		Total:   len(args.IssueNumbers),
		Updated: []int{},
		Failed:  []BulkFailure{},
	}

	for _, number := range args.IssueNumbers {
		if itemErr := e.updateOne(ctx, repo, number, args); itemErr != nil {
			result.Failed = append(result.Failed, BulkFailure{
				IssueNumber: number,
				Error:       itemErr.Error(),
			})
			continue
		}
		result.Updated = append(result.Updated, number)
	}

	if len(result.Failed) > 0 {
		err = Errf(CodeGitHubAPIError, "%d of %d issues failed to update",
			len(result.Failed), result.Total).
			WithDetails(map[string]any{"updated": result.Updated, "failed": result.Failed})
		return nil, err
	}
	return result, nil
}

// updateOne applies the requested changes to a single issue.
func (e *Engine) updateOne(ctx context.Context, repo string, number int, args BulkUpdateArgs) error {
	if len(args.AddLabels) > 0 {
		if err := e.gh.AddLabels(ctx, repo, number, args.AddLabels); err != nil {
			return fmt.Errorf("adding labels: %w", err)
		}
	}
	for _, label := range args.RemoveLabels {
		if err := e.gh.RemoveLabel(ctx, repo, number, label); err != nil {
			return fmt.Errorf("removing label %q: %w", label, err)
		}
	}
	if args.State != "" {
		if _, err := e.gh.SetIssueState(ctx, repo, number, args.State); err != nil {
			return fmt.Errorf("setting state: %w", err)
		}
	}
	return nil
}
