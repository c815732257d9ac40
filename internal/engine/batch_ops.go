package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/taskherd/taskherd/internal/batch"
	"github.com/taskherd/taskherd/internal/github"
	"github.com/taskherd/taskherd/internal/score"
	"github.com/taskherd/taskherd/internal/types"
)

// Bounds on one implement_batch invocation.
const (
	MinBatchCount = 1
	MaxBatchCount = 10
)

// Action tags a batch operation outcome.
type Action string

const (
	ActionImplement Action = "implement"
	ActionEmpty     Action = "empty"
	ActionComplete  Action = "complete"
	ActionTimeout   Action = "timeout"
)

// BatchProgress reports position within the batch: current is the
// one-based index of the in-flight issue.
type BatchProgress struct {
	Current int `json:"current"`
	Total   int `json:"total"`
}

// BatchIssue is the payload handed to the caller for the issue to work
// next.
type BatchIssue struct {
	Number int    `json:"number"`
	Title  string `json:"title"`
	URL    string `json:"url"`
}

// ImplementBatchArgs are the inputs of implement_batch.
type ImplementBatchArgs struct {
	Repo         string   `json:"repo,omitempty"`
	Count        int      `json:"count"`
	MaxPriority  string   `json:"maxPriority,omitempty"` // priority ceiling, e.g. "high" or "P1"
	IncludeTypes []string `json:"includeTypes,omitempty"`
	ExcludeTypes []string `json:"excludeTypes,omitempty"`
}

// ImplementBatchResult is the payload of implement_batch.
type ImplementBatchResult struct {
	Action       Action         `json:"action"`
	BatchID      string         `json:"batchId,omitempty"`
	Issue        *BatchIssue    `json:"issue,omitempty"`
	Queue        []int          `json:"queue,omitempty"`
	Progress     *BatchProgress `json:"progress,omitempty"`
	Instructions string         `json:"instructions,omitempty"`
}

// ImplementBatch ranks the backlog, optionally narrows it to a priority
// ceiling, takes the top count issues as an ordered queue, and hands the
// first one to the caller. The caller implements it, opens a PR, and
// reports back through batch_continue.
func (e *Engine) ImplementBatch(ctx context.Context, args ImplementBatchArgs) (result *ImplementBatchResult, err error) {
	start := e.now()
	repo, err := e.resolveRepo(args.Repo)
	if err != nil {
		e.auditTool("implement_batch", "", 0, start, err, nil)
		return nil, err
	}
	defer func() { e.auditTool("implement_batch", repo, 0, start, err, nil) }()

	if args.Count < MinBatchCount || args.Count > MaxBatchCount {
		return nil, Errf(CodeInternal, "count must be %d to %d, got %d",
			MinBatchCount, MaxBatchCount, args.Count)
	}

	ceiling := types.PriorityNone
	if args.MaxPriority != "" {
		ceiling = github.CoercePriority(args.MaxPriority)
		if ceiling == types.PriorityNone {
			return nil, Errf(CodeInternal, "unknown maxPriority %q", args.MaxPriority)
		}
	}

	ranked, err := e.candidates(ctx, repo, score.Filters{
		IncludeTypes: args.IncludeTypes,
		ExcludeTypes: args.ExcludeTypes,
	})
	if err != nil {
		return nil, err
	}
	ranked = score.CeilingFilter(ranked, ceiling)
	if len(ranked) == 0 {
		return &ImplementBatchResult{Action: ActionEmpty}, nil
	}

	if len(ranked) > args.Count {
		ranked = ranked[:args.Count]
	}
	queue := make([]int, len(ranked))
	for i, r := range ranked {
		queue[i] = r.Issue.Number
	}

	state, createErr := e.batches.Create(repo, queue)
	if createErr != nil {
		return nil, wrapInternal(createErr, "creating batch")
	}
	first, startErr := e.batches.StartNext(state.ID)
	if startErr != nil {
		return nil, wrapInternal(startErr, "starting first batch issue")
	}

	issue := &BatchIssue{Number: *first, Title: ranked[0].Issue.Title, URL: ranked[0].Issue.HTMLURL}
	return &ImplementBatchResult{
		Action:  ActionImplement,
		BatchID: state.ID,
		Issue:   issue,
		Queue:   queue[1:],
		Progress: &BatchProgress{
			Current: 1,
			Total:   state.TotalCount,
		},
		Instructions: implementInstructions(issue.Number, state.ID),
	}, nil
}

// BatchContinueArgs are the inputs of batch_continue.
type BatchContinueArgs struct {
	BatchID  string `json:"batchId"`
	PRNumber int    `json:"prNumber,omitempty"`
}

// BatchContinueResult is the payload of batch_continue.
type BatchContinueResult struct {
	Action       Action                 `json:"action"`
	BatchID      string                 `json:"batchId"`
	Issue        *BatchIssue            `json:"issue,omitempty"`
	CurrentIssue *int                   `json:"currentIssue,omitempty"` // timeout only
	CurrentPR    *int                   `json:"currentPr,omitempty"`    // timeout only
	Completed    []types.CompletedIssue `json:"completed,omitempty"`
	TotalCount   int                    `json:"totalCount,omitempty"`
	Progress     *BatchProgress         `json:"progress,omitempty"`
	Instructions string                 `json:"instructions,omitempty"`
}

// BatchContinue records the caller's PR on the batch, then polls that PR
// until it merges or the deadline passes. On merge the current issue moves
// to the completed list and the next queue entry (if any) is handed back.
// The deadline clock starts fresh on every invocation, so a timed-out
// batch resumes with a full window.
func (e *Engine) BatchContinue(ctx context.Context, args BatchContinueArgs) (result *BatchContinueResult, err error) {
	start := e.now()
	defer func() { e.auditTool("batch_continue", "", 0, start, err, map[string]any{"batch_id": args.BatchID}) }()

	if args.BatchID == "" {
		return nil, Errf(CodeInternal, "batchId is required")
	}
	state, getErr := e.batches.Get(args.BatchID)
	if getErr != nil {
		if errors.Is(getErr, batch.ErrNotFound) {
			return nil, Errf(CodeInternal, "unknown batch %q", args.BatchID)
		}
		return nil, wrapInternal(getErr, "loading batch")
	}

	switch state.Status {
	case types.BatchCompleted:
		return &BatchContinueResult{
			Action:     ActionComplete,
			BatchID:    state.ID,
			Completed:  state.Completed,
			TotalCount: state.TotalCount,
		}, nil
	case types.BatchAbandoned:
		return nil, Errf(CodeInternal, "batch %s was abandoned", state.ID)
	case types.BatchTimeout:
		if resumeErr := e.batches.Resume(state.ID); resumeErr != nil {
			return nil, wrapInternal(resumeErr, "resuming batch")
		}
	}

	if state.CurrentIssue == nil {
		return nil, Errf(CodeInternal, "batch %s has no issue in flight", state.ID)
	}
	if args.PRNumber > 0 {
		if setErr := e.batches.SetPR(state.ID, args.PRNumber); setErr != nil {
			return nil, wrapInternal(setErr, "recording PR on batch")
		}
		state.CurrentPR = &args.PRNumber
	}
	if state.CurrentPR == nil {
		return nil, Errf(CodeInternal, "batch %s has no PR recorded: pass prNumber", state.ID)
	}

	repo := state.Repository
	prNumber := *state.CurrentPR
	deadline := start.Add(e.pollDeadline)

	for {
		pr, prErr := e.gh.GetPull(ctx, repo, prNumber)
		if prErr == nil && github.StateOf(pr) == github.PRMerged {
			return e.advanceBatch(ctx, state.ID)
		}
		// A transient fetch failure just waits for the next tick.

		if !e.now().Add(e.pollInterval).After(deadline) {
			if sleepErr := e.sleep(ctx, e.pollInterval); sleepErr != nil {
				return nil, wrapInternal(sleepErr, "polling interrupted")
			}
			continue
		}

		if toErr := e.batches.Timeout(state.ID); toErr != nil {
			return nil, wrapInternal(toErr, "marking batch timed out")
		}
		return &BatchContinueResult{
			Action:       ActionTimeout,
			BatchID:      state.ID,
			CurrentIssue: state.CurrentIssue,
			CurrentPR:    state.CurrentPR,
			Instructions: "PR did not merge within the polling window. Call batch_continue again to resume waiting.",
		}, nil
	}
}

// advanceBatch completes the merged issue and hands out the next one, or
// reports the batch done.
func (e *Engine) advanceBatch(ctx context.Context, batchID string) (*BatchContinueResult, error) {
	state, compErr := e.batches.CompleteCurrent(batchID)
	if compErr != nil {
		return nil, wrapInternal(compErr, "completing batch issue")
	}

	if state.Status == types.BatchCompleted {
		return &BatchContinueResult{
			Action:     ActionComplete,
			BatchID:    state.ID,
			Completed:  state.Completed,
			TotalCount: state.TotalCount,
		}, nil
	}

	next, startErr := e.batches.StartNext(batchID)
	if startErr != nil {
		return nil, wrapInternal(startErr, "starting next batch issue")
	}
	if next == nil {
		// Queue drained without the status flipping; completion is racing
		// another process. Report done with what we have.
		return &BatchContinueResult{
			Action:     ActionComplete,
			BatchID:    state.ID,
			Completed:  state.Completed,
			TotalCount: state.TotalCount,
		}, nil
	}

	issue := &BatchIssue{Number: *next}
	if remote, getErr := e.gh.GetIssue(ctx, state.Repository, *next); getErr == nil {
		issue.Title = remote.Title
		issue.URL = remote.HTMLURL
	}

	return &BatchContinueResult{
		Action:  ActionImplement,
		BatchID: state.ID,
		Issue:   issue,
		Progress: &BatchProgress{
			Current: state.CompletedCount + 1,
			Total:   state.TotalCount,
		},
		Instructions: implementInstructions(*next, state.ID),
	}, nil
}

func implementInstructions(issueNumber int, batchID string) string {
	return fmt.Sprintf(
		"Implement issue #%d, open a pull request for it, then call batch_continue with batchId %q and the PR number.",
		issueNumber, batchID)
}
