// Package types defines the core data structures shared by the taskherd
// coordination engine: workflow phases, lock records, batch state, and the
// structured audit record.
package types

import (
	"fmt"
	"time"
)

// Phase is a node in the per-issue workflow state machine.
type Phase string

// Workflow phases in linear order. Merged and Abandoned are terminal.
const (
	PhaseSelection      Phase = "selection"
	PhaseResearch       Phase = "research"
	PhaseBranch         Phase = "branch"
	PhaseImplementation Phase = "implementation"
	PhaseTesting        Phase = "testing"
	PhaseCommit         Phase = "commit"
	PhasePR             Phase = "pr"
	PhaseReview         Phase = "review"
	PhaseMerged         Phase = "merged"
	PhaseAbandoned      Phase = "abandoned"
)

// phaseOrder is the linear progression selection→merged. Abandoned sits
// outside the line; it is reachable from every non-terminal phase.
var phaseOrder = []Phase{
	PhaseSelection,
	PhaseResearch,
	PhaseBranch,
	PhaseImplementation,
	PhaseTesting,
	PhaseCommit,
	PhasePR,
	PhaseReview,
	PhaseMerged,
}

// LinearIndex returns the position of p on the selection→merged line, or -1
// for abandoned and unknown phases.
func (p Phase) LinearIndex() int {
	for i, ph := range phaseOrder {
		if ph == p {
			return i
		}
	}
	return -1
}

// LinearPhases returns the ordered selection→merged progression.
func LinearPhases() []Phase {
	out := make([]Phase, len(phaseOrder))
	copy(out, phaseOrder)
	return out
}

// Terminal reports whether no further transitions are possible from p.
func (p Phase) Terminal() bool {
	return p == PhaseMerged || p == PhaseAbandoned
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	return p == PhaseAbandoned || p.LinearIndex() >= 0
}

// Priority is the canonical priority class derived from issue labels.
type Priority string

// Canonical priority classes. The legacy P0..P3 convention is coerced to
// these at the GitHub mapping boundary and never leaks past it.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
	PriorityNone     Priority = ""
)

// Points returns the base score contribution for the priority class.
func (p Priority) Points() float64 {
	switch p {
	case PriorityCritical:
		return 1000
	case PriorityHigh:
		return 100
	case PriorityMedium:
		return 10
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// rank orders priorities for ceiling comparisons; higher is more urgent.
func (p Priority) rank() int {
	switch p {
	case PriorityCritical:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

// AtLeast reports whether p is the same or more urgent than other.
// PriorityNone is never at least anything.
func (p Priority) AtLeast(other Priority) bool {
	return p.rank() > 0 && p.rank() >= other.rank()
}

// LockRecord is one on-disk claim: a specific session working a specific
// issue. Its presence at the lock path IS the claim.
type LockRecord struct {
	IssueNumber int       `json:"issue_number"`
	Repo        string    `json:"repo"` // "owner/name"
	PID         int       `json:"pid"`
	SessionID   string    `json:"session_id"`
	AcquiredAt  time.Time `json:"acquired_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Transition is one entry in a workflow's phase history.
type Transition struct {
	From      Phase     `json:"from"`
	To        Phase     `json:"to"`
	Timestamp time.Time `json:"timestamp"`
	Trigger   string    `json:"trigger,omitempty"`
}

// SkipJustification records why an intermediate phase was jumped over.
type SkipJustification struct {
	SkippedPhase Phase     `json:"skipped_phase"`
	Reason       string    `json:"reason"`
	Timestamp    time.Time `json:"timestamp"`
	SessionID    string    `json:"session_id,omitempty"`
}

// WorkflowState is the persistent per-issue workflow record. Created when
// an issue is claimed, deleted when the lock is released.
type WorkflowState struct {
	IssueNumber  int                 `json:"issue_number"`
	Repo         string              `json:"repo"`
	Phase        Phase               `json:"phase"`
	PhaseHistory []Transition        `json:"phase_history"`
	Skips        []SkipJustification `json:"skips,omitempty"`
	BranchName   string              `json:"branch_name,omitempty"`
	TestsPassed  *bool               `json:"tests_passed,omitempty"`
	PRNumber     int                 `json:"pr_number,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// BatchStatus is the lifecycle state of a batch.
type BatchStatus string

const (
	BatchInProgress BatchStatus = "in_progress"
	BatchCompleted  BatchStatus = "completed"
	BatchTimeout    BatchStatus = "timeout"
	BatchAbandoned  BatchStatus = "abandoned"
)

// CompletedIssue is one finished entry in a batch.
type CompletedIssue struct {
	Issue     int       `json:"issue"`
	PR        int       `json:"pr"`
	StartedAt time.Time `json:"started_at"`
	MergedAt  time.Time `json:"merged_at"`
}

// BatchState is the persistent record of a sequential issue batch.
type BatchState struct {
	ID             string           `json:"id"`
	Repository     string           `json:"repository"`
	TotalCount     int              `json:"total_count"`
	CompletedCount int              `json:"completed_count"`
	CurrentIssue   *int             `json:"current_issue,omitempty"`
	CurrentPR      *int             `json:"current_pr,omitempty"`
	Queue          []int            `json:"queue"`
	Completed      []CompletedIssue `json:"completed"`
	StartedAt      time.Time        `json:"started_at"`
	Status         BatchStatus      `json:"status"`
}

// CheckInvariant verifies completed + queued + in-flight accounts for every
// issue the batch was created with.
func (b *BatchState) CheckInvariant() error {
	inFlight := 0
	if b.CurrentIssue != nil {
		inFlight = 1
	}
	if got := b.CompletedCount + len(b.Queue) + inFlight; got != b.TotalCount {
		return fmt.Errorf("batch %s invariant violated: completed=%d queue=%d inflight=%d total=%d",
			b.ID, b.CompletedCount, len(b.Queue), inFlight, b.TotalCount)
	}
	return nil
}

// Level is the severity of an audit record.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Outcome is the result classification of an audited action.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeSkipped Outcome = "skipped"
)

// Audit event kinds. Lock events have a longer retention target than
// general tool events; the retention sweep keys off this field.
const (
	EventTool  = "tool"
	EventLock  = "lock"
	EventPhase = "phase"
)

// AuditRecord is one line in the append-only audit log.
type AuditRecord struct {
	Timestamp  time.Time      `json:"timestamp"`
	Level      Level          `json:"level"`
	Event      string         `json:"event"`
	Tool       string         `json:"tool"`
	SessionID  string         `json:"session_id"`
	Repo       string         `json:"repo,omitempty"`
	Issue      int            `json:"issue,omitempty"`
	Phase      Phase          `json:"phase,omitempty"`
	DurationMS int64          `json:"duration_ms,omitempty"`
	Outcome    Outcome        `json:"outcome"`
	Error      string         `json:"error,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}
