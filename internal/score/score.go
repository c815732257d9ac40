// Package score implements the deterministic priority model: the scoring
// function that orders the backlog and the filter pipeline that narrows the
// candidate set before scoring.
//
// Determinism is the contract. A score is a pure function of the issue's
// labels, age, blocking relationships, and the current UTC day; two calls
// within the same day on the same inputs produce identical totals, and
// ordering never depends on API response order or label iteration order.
package score

import (
	"math"
	"sort"
	"time"

	"github.com/taskherd/taskherd/internal/github"
	"github.com/taskherd/taskherd/internal/types"
)

// Scoring constants.
const (
	// MaxAgeBonus caps the age contribution at 30 whole days.
	MaxAgeBonus = 30

	// BlockingMultiplier boosts issues that block other work.
	BlockingMultiplier = 1.5

	// BlockedPenalty shrinks issues whose parent is still open.
	BlockedPenalty = 0.1
)

// Score is the computed priority of one issue. Never persisted.
type Score struct {
	IssueNumber        int     `json:"issue_number"`
	BasePoints         float64 `json:"base_points"`
	AgeBonus           float64 `json:"age_bonus"`
	BlockingMultiplier float64 `json:"blocking_multiplier"`
	BlockedPenalty     float64 `json:"blocked_penalty"`
	Total              float64 `json:"total"`
}

// Candidate pairs an issue with the advisory signals scoring needs.
type Candidate struct {
	Issue         github.Issue
	HasOpenParent bool
	Parent        *github.Issue
}

// AgeDays returns the whole days elapsed from created to now (UTC
// wall-clock), never negative.
func AgeDays(created, now time.Time) int {
	days := int(math.Floor(now.UTC().Sub(created.UTC()).Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}

// Calculate computes the deterministic score for one candidate at now.
func Calculate(c Candidate, now time.Time) Score {
	s := Score{
		IssueNumber:        c.Issue.Number,
		BasePoints:         github.PriorityFromLabels(c.Issue.Labels).Points(),
		BlockingMultiplier: 1.0,
		BlockedPenalty:     1.0,
	}

	if c.Issue.CreatedAt != nil {
		age := AgeDays(*c.Issue.CreatedAt, now)
		if age > MaxAgeBonus {
			age = MaxAgeBonus
		}
		s.AgeBonus = float64(age)
	}

	if github.IsBlocking(c.Issue.Labels) {
		s.BlockingMultiplier = BlockingMultiplier
	}
	if c.HasOpenParent {
		s.BlockedPenalty = BlockedPenalty
	}

	s.Total = (s.BasePoints + s.AgeBonus) * s.BlockingMultiplier * s.BlockedPenalty
	return s
}

// Filters narrows the candidate pool before scoring.
type Filters struct {
	IncludeTypes []string // keep only these type classes, when non-empty
	ExcludeTypes []string // always drop these type classes
}

// Apply runs the fixed filter pipeline: drop in-progress issues, drop
// assigned issues, apply the include set, then the exclude set. Relative
// order is preserved and the pipeline is idempotent.
func (f Filters) Apply(issues []github.Issue) []github.Issue {
	out := make([]github.Issue, 0, len(issues))
	include := toSet(f.IncludeTypes)
	exclude := toSet(f.ExcludeTypes)

	for _, issue := range issues {
		if github.StatusFromLabels(issue.Labels) == "in-progress" {
			continue
		}
		if github.HasAssignee(&issue) {
			continue
		}
		typ := github.TypeFromLabels(issue.Labels)
		if len(include) > 0 && !include[typ] {
			continue
		}
		if exclude[typ] {
			continue
		}
		out = append(out, issue)
	}

	return out
}

func toSet(values []string) map[string]bool {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// Ranked is a scored candidate.
type Ranked struct {
	Candidate
	Score Score
}

// Rank scores every candidate and sorts strictly by descending total, with
// ascending issue number as the FIFO tie-break. The result is a total
// order on any candidate set.
func Rank(candidates []Candidate, now time.Time) []Ranked {
	ranked := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		ranked = append(ranked, Ranked{Candidate: c, Score: Calculate(c, now)})
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score.Total != ranked[j].Score.Total {
			return ranked[i].Score.Total > ranked[j].Score.Total
		}
		return ranked[i].Issue.Number < ranked[j].Issue.Number
	})

	return ranked
}

// CeilingFilter keeps candidates whose priority is at least the given
// class (e.g. ceiling high keeps critical and high). PriorityNone as the
// ceiling keeps everything.
func CeilingFilter(ranked []Ranked, ceiling types.Priority) []Ranked {
	if ceiling == types.PriorityNone {
		return ranked
	}
	out := make([]Ranked, 0, len(ranked))
	for _, r := range ranked {
		if github.PriorityFromLabels(r.Issue.Labels).AtLeast(ceiling) {
			out = append(out, r)
		}
	}
	return out
}
