package engine

import (
	"context"

	"github.com/taskherd/taskherd/internal/github"
)

// GetPRStatusArgs are the inputs of get_pr_status.
type GetPRStatusArgs struct {
	Repo     string `json:"repo,omitempty"`
	PRNumber int    `json:"prNumber"`
}

// GetPRStatus aggregates the PR lifecycle state, CI state, and review
// summary for one pull request.
func (e *Engine) GetPRStatus(ctx context.Context, args GetPRStatusArgs) (status *github.PRStatus, err error) {
	start := e.now()
	repo, err := e.resolveRepo(args.Repo)
	if err != nil {
		e.auditTool("get_pr_status", "", 0, start, err, nil)
		return nil, err
	}
	defer func() { e.auditTool("get_pr_status", repo, 0, start, err, nil) }()

	if args.PRNumber <= 0 {
		return nil, Errf(CodeInternal, "prNumber is required")
	}

	status, prErr := e.gh.GetPRStatus(ctx, repo, args.PRNumber)
	if prErr != nil {
		return nil, wrapRemote(prErr, "fetching PR status")
	}
	return status, nil
}
