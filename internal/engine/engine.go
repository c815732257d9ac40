// Package engine implements the twelve tool operations of the taskherd
// coordination service. An Engine is constructed once at bootstrap and
// threaded into every operation; there are no package-level singletons.
package engine

import (
	"context"
	"time"

	"github.com/taskherd/taskherd/internal/audit"
	"github.com/taskherd/taskherd/internal/batch"
	"github.com/taskherd/taskherd/internal/config"
	"github.com/taskherd/taskherd/internal/github"
	"github.com/taskherd/taskherd/internal/lockstore"
	"github.com/taskherd/taskherd/internal/score"
	"github.com/taskherd/taskherd/internal/types"
	"github.com/taskherd/taskherd/internal/workflow"
)

// Polling parameters for batch_continue.
const (
	// PollInterval is the sleep between PR status checks.
	PollInterval = 60 * time.Second

	// PollDeadline bounds one batch_continue invocation. The clock resets
	// on every invocation, so a timed-out batch resumes with a fresh
	// window.
	PollDeadline = 30 * time.Minute
)

// Engine wires the stores, the remote client, and the audit log behind the
// tool operations. One Engine serves one session.
type Engine struct {
	cfg       *config.Config
	gh        *github.Client
	locks     *lockstore.Store
	workflows *workflow.Store
	batches   *batch.Store
	audit     *audit.Logger
	sessionID string

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	pollInterval time.Duration
	pollDeadline time.Duration
}

// New assembles an Engine from its parts.
func New(cfg *config.Config, gh *github.Client, locks *lockstore.Store,
	workflows *workflow.Store, batches *batch.Store, log *audit.Logger, sessionID string) *Engine {
	return &Engine{
		cfg:          cfg,
		gh:           gh,
		locks:        locks,
		workflows:    workflows,
		batches:      batches,
		audit:        log,
		sessionID:    sessionID,
		now:          time.Now,
		sleep:        sleepCtx,
		pollInterval: PollInterval,
		pollDeadline: PollDeadline,
	}
}

// SessionID returns the engine's session identity.
func (e *Engine) SessionID() string { return e.sessionID }

// WithClock replaces the wall clock (tests).
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithPolling overrides the batch polling cadence and deadline (tests).
func (e *Engine) WithPolling(interval, deadline time.Duration, sleep func(context.Context, time.Duration) error) *Engine {
	e.pollInterval = interval
	e.pollDeadline = deadline
	if sleep != nil {
		e.sleep = sleep
	}
	return e
}

// sleepCtx sleeps without busy-looping, honoring cancellation.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// resolveRepo applies the resolution order: explicit argument, then the
// environment defaults, then REPO_REQUIRED.
func (e *Engine) resolveRepo(arg string) (string, error) {
	if arg != "" {
		if _, _, ok := config.SplitRepo(arg); !ok {
			return "", Errf(CodeRepoRequired, "repository must be owner/repo, got %q", arg)
		}
		return arg, nil
	}
	if repo := e.cfg.DefaultRepo(); repo != "" {
		return repo, nil
	}
	return "", Errf(CodeRepoRequired,
		"no repository: pass one or set %s (or %s and %s)",
		config.EnvRepository, config.EnvOwner, config.EnvRepo)
}

// auditTool emits the single per-invocation audit record.
func (e *Engine) auditTool(tool, repo string, issue int, start time.Time, opErr error, meta map[string]any) {
	rec := types.AuditRecord{
		Event:      types.EventTool,
		Tool:       tool,
		Repo:       repo,
		Issue:      issue,
		DurationMS: e.now().Sub(start).Milliseconds(),
		Outcome:    types.OutcomeSuccess,
		Metadata:   meta,
	}
	if opErr != nil {
		rec.Outcome = types.OutcomeFailure
		rec.Level = types.LevelError
		rec.Error = opErr.Error()
	}
	_ = e.audit.Log(rec)
}

// auditLock emits a supplemental lock-event record.
func (e *Engine) auditLock(action, repo string, issue int, level types.Level, meta map[string]any) {
	_ = e.audit.Log(types.AuditRecord{
		Event:    types.EventLock,
		Tool:     action,
		Repo:     repo,
		Issue:    issue,
		Level:    level,
		Metadata: meta,
	})
}

// auditPhase emits a supplemental phase-transition record.
func (e *Engine) auditPhase(repo string, issue int, from, to types.Phase) {
	_ = e.audit.Log(types.AuditRecord{
		Event: types.EventPhase,
		Tool:  "advance_workflow",
		Repo:  repo,
		Issue: issue,
		Phase: to,
		Metadata: map[string]any{
			"from": string(from),
			"to":   string(to),
		},
	})
}

// candidates runs the shared pipeline behind list_backlog,
// select_next_issue, and implement_batch: list open issues, fetch the
// advisory parent for each, filter, score, rank.
func (e *Engine) candidates(ctx context.Context, repo string, filters score.Filters) ([]score.Ranked, error) {
	issues, err := e.gh.ListOpenIssues(ctx, repo)
	if err != nil {
		return nil, wrapRemote(err, "listing issues")
	}

	filtered := filters.Apply(issues)
	cands := make([]score.Candidate, 0, len(filtered))
	for _, issue := range filtered {
		open, parent := e.gh.HasOpenParent(ctx, repo, issue.Number)
		cands = append(cands, score.Candidate{
			Issue:         issue,
			HasOpenParent: open,
			Parent:        parent,
		})
	}

	return score.Rank(cands, e.now()), nil
}
