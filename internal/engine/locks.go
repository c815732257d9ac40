package engine

import (
	"context"
	"fmt"

	"github.com/taskherd/taskherd/internal/github"
	"github.com/taskherd/taskherd/internal/types"
)

// ReleaseReason is why a lock is being released.
type ReleaseReason string

const (
	ReasonCompleted ReleaseReason = "completed"
	ReasonMerged    ReleaseReason = "merged"
	ReasonAbandoned ReleaseReason = "abandoned"
)

// ForceClaimConfirmation is the literal string force_claim demands.
const ForceClaimConfirmation = "I understand this may cause conflicts"

// ReleaseLockArgs are the inputs of release_lock.
type ReleaseLockArgs struct {
	Repo        string `json:"repo,omitempty"`
	IssueNumber int    `json:"issueNumber"`
	Reason      string `json:"reason,omitempty"` // completed (default), merged, abandoned
}

// ReleaseLockResult is the payload of a successful release.
type ReleaseLockResult struct {
	IssueNumber     int     `json:"issueNumber"`
	Reason          string  `json:"reason"`
	DurationSeconds float64 `json:"durationSeconds"`
}

// ReleaseLock drops the session's claim and workflow state, adjusting the
// remote advisory labels to match the release reason.
func (e *Engine) ReleaseLock(ctx context.Context, args ReleaseLockArgs) (result *ReleaseLockResult, err error) {
	start := e.now()
	repo, err := e.resolveRepo(args.Repo)
	if err != nil {
		e.auditTool("release_lock", "", args.IssueNumber, start, err, nil)
		return nil, err
	}
	defer func() { e.auditTool("release_lock", repo, args.IssueNumber, start, err, nil) }()

	reason := ReleaseReason(args.Reason)
	if reason == "" {
		reason = ReasonCompleted
	}
	switch reason {
	case ReasonCompleted, ReasonMerged, ReasonAbandoned:
	default:
		return nil, Errf(CodeInternal, "unknown release reason %q", args.Reason)
	}

	rec, _, lockErr := e.locks.Get(repo, args.IssueNumber)
	if lockErr != nil {
		return nil, wrapInternal(lockErr, "reading lock")
	}
	if rec == nil || rec.SessionID != e.sessionID {
		return nil, Errf(CodeNotLocked, "session does not hold the lock for #%d", args.IssueNumber)
	}

	switch reason {
	case ReasonAbandoned:
		if swapErr := e.gh.SwapLabels(ctx, repo, args.IssueNumber, github.StatusInProgress, github.StatusBacklog); swapErr != nil {
			return nil, wrapRemote(swapErr, "restoring backlog label")
		}
	case ReasonCompleted, ReasonMerged:
		for _, label := range []string{github.StatusInProgress, github.StatusInReview} {
			if rmErr := e.gh.RemoveLabel(ctx, repo, args.IssueNumber, label); rmErr != nil {
				return nil, wrapRemote(rmErr, "removing status label")
			}
		}
		if reason == ReasonMerged {
			if _, closeErr := e.gh.SetIssueState(ctx, repo, args.IssueNumber, "closed"); closeErr != nil {
				return nil, wrapRemote(closeErr, "closing issue")
			}
		}
	}

	if delErr := e.workflows.Delete(repo, args.IssueNumber); delErr != nil {
		return nil, wrapInternal(delErr, "deleting workflow state")
	}
	if relErr := e.locks.Release(repo, args.IssueNumber, e.sessionID); relErr != nil {
		return nil, wrapInternal(relErr, "releasing lock")
	}

	duration := e.now().Sub(rec.AcquiredAt)
	e.auditLock("lock_release", repo, args.IssueNumber, types.LevelInfo, map[string]any{
		"reason":           string(reason),
		"duration_seconds": duration.Seconds(),
	})

	return &ReleaseLockResult{
		IssueNumber:     args.IssueNumber,
		Reason:          string(reason),
		DurationSeconds: duration.Seconds(),
	}, nil
}

// ForceClaimArgs are the inputs of force_claim.
type ForceClaimArgs struct {
	Repo         string `json:"repo,omitempty"`
	IssueNumber  int    `json:"issueNumber"`
	Confirmation string `json:"confirmation"`
}

// ForceClaimResult is the payload of a successful takeover.
type ForceClaimResult struct {
	IssueNumber     int               `json:"issueNumber"`
	Lock            *types.LockRecord `json:"lock"`
	PreviousSession string            `json:"previousSession,omitempty"`
}

// ForceClaim takes over an issue regardless of existing claims. It is an
// explicit, logged, commented takeover and demands a literal confirmation
// string so no agent invokes it casually.
func (e *Engine) ForceClaim(ctx context.Context, args ForceClaimArgs) (result *ForceClaimResult, err error) {
	start := e.now()
	repo, err := e.resolveRepo(args.Repo)
	if err != nil {
		e.auditTool("force_claim", "", args.IssueNumber, start, err, nil)
		return nil, err
	}
	defer func() { e.auditTool("force_claim", repo, args.IssueNumber, start, err, nil) }()

	if args.Confirmation != ForceClaimConfirmation {
		return nil, Errf(CodeInvalidConfirmation,
			"confirmation must be the literal string %q", ForceClaimConfirmation)
	}

	prev, rec, claimErr := e.locks.ForceClaim(repo, args.IssueNumber, e.sessionID)
	if claimErr != nil {
		return nil, Errf(CodeLockCreationFailed, "force-claiming #%d: %v", args.IssueNumber, claimErr)
	}

	comment := fmt.Sprintf("Lock on this issue was force-claimed by session `%s`.", e.sessionID)
	if prev != nil {
		comment = fmt.Sprintf("Lock on this issue was force-claimed by session `%s` (previously held by `%s`).",
			e.sessionID, prev.SessionID)
	}
	if _, cmtErr := e.gh.AddComment(ctx, repo, args.IssueNumber, comment); cmtErr != nil {
		return nil, wrapRemote(cmtErr, "posting takeover comment")
	}

	state, wfErr := e.workflows.Get(repo, args.IssueNumber)
	if wfErr != nil {
		return nil, wrapInternal(wfErr, "loading workflow state")
	}
	if state == nil {
		if _, createErr := e.workflows.Create(repo, args.IssueNumber); createErr != nil {
			return nil, wrapInternal(createErr, "creating workflow state")
		}
	}

	var prevSession any
	result = &ForceClaimResult{IssueNumber: args.IssueNumber, Lock: rec}
	if prev != nil {
		prevSession = prev.SessionID
		result.PreviousSession = prev.SessionID
	}
	e.auditLock("force_claim", repo, args.IssueNumber, types.LevelWarn, map[string]any{
		"previous_session": prevSession,
	})

	return result, nil
}
