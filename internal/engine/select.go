package engine

import (
	"context"
	"errors"

	"github.com/taskherd/taskherd/internal/github"
	"github.com/taskherd/taskherd/internal/lockstore"
	"github.com/taskherd/taskherd/internal/score"
	"github.com/taskherd/taskherd/internal/types"
)

// SelectNextIssueArgs are the inputs of select_next_issue.
type SelectNextIssueArgs struct {
	Repo         string   `json:"repo,omitempty"`
	IncludeTypes []string `json:"includeTypes,omitempty"`
	ExcludeTypes []string `json:"excludeTypes,omitempty"`
}

// SelectNextIssueResult is the payload of a successful selection.
type SelectNextIssueResult struct {
	IssueNumber int               `json:"issueNumber"`
	Title       string            `json:"title"`
	URL         string            `json:"url"`
	Score       score.Score       `json:"score"`
	Lock        *types.LockRecord `json:"lock"`
	Phase       types.Phase       `json:"phase"`
}

// SelectNextIssue walks the ranked backlog and claims the first issue it
// can lock: local atomic claim first, then the remote advisory label flip,
// then the workflow record.
func (e *Engine) SelectNextIssue(ctx context.Context, args SelectNextIssueArgs) (result *SelectNextIssueResult, err error) {
	start := e.now()
	repo, err := e.resolveRepo(args.Repo)
	if err != nil {
		e.auditTool("select_next_issue", "", 0, start, err, nil)
		return nil, err
	}
	selected := 0
	defer func() { e.auditTool("select_next_issue", repo, selected, start, err, nil) }()

	ranked, err := e.candidates(ctx, repo, score.Filters{
		IncludeTypes: args.IncludeTypes,
		ExcludeTypes: args.ExcludeTypes,
	})
	if err != nil {
		return nil, err
	}
	if len(ranked) == 0 {
		return nil, Errf(CodeNoIssuesAvailable, "no eligible issues in %s", repo)
	}

	for _, r := range ranked {
		rec, acqErr := e.locks.Acquire(repo, r.Issue.Number, e.sessionID)
		if acqErr != nil {
			if errors.Is(acqErr, lockstore.ErrLockHeld) {
				continue
			}
			return nil, Errf(CodeLockCreationFailed, "acquiring lock for #%d: %v", r.Issue.Number, acqErr)
		}

		// Claim is ours; the advisory label is cross-host visibility only,
		// so a label failure releases the claim and surfaces the error.
		if swapErr := e.gh.SwapLabels(ctx, repo, r.Issue.Number, github.StatusBacklog, github.StatusInProgress); swapErr != nil {
			_ = e.locks.Release(repo, r.Issue.Number, e.sessionID)
			return nil, wrapRemote(swapErr, "flipping status label")
		}

		state, wfErr := e.workflows.Create(repo, r.Issue.Number)
		if wfErr != nil {
			_ = e.locks.Release(repo, r.Issue.Number, e.sessionID)
			return nil, wrapInternal(wfErr, "creating workflow state")
		}

		e.auditLock("lock_acquire", repo, r.Issue.Number, types.LevelInfo, map[string]any{
			"score": r.Score.Total,
		})

		selected = r.Issue.Number
		return &SelectNextIssueResult{
			IssueNumber: r.Issue.Number,
			Title:       r.Issue.Title,
			URL:         r.Issue.HTMLURL,
			Score:       r.Score,
			Lock:        rec,
			Phase:       state.Phase,
		}, nil
	}

	return nil, Errf(CodeAllIssuesLocked, "all %d candidates in %s are locked", len(ranked), repo)
}
