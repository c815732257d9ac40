package engine

import (
	"context"

	"github.com/taskherd/taskherd/internal/score"
)

// ListBacklog default and ceiling for the result size.
const (
	DefaultBacklogLimit = 20
	MaxBacklogLimit     = 100
)

// ListBacklogArgs are the inputs of list_backlog.
type ListBacklogArgs struct {
	Repo         string   `json:"repo,omitempty"`
	Limit        int      `json:"limit,omitempty"`
	IncludeTypes []string `json:"includeTypes,omitempty"`
	ExcludeTypes []string `json:"excludeTypes,omitempty"`
}

// BacklogItem is one scored backlog entry.
type BacklogItem struct {
	IssueNumber int         `json:"issueNumber"`
	Title       string      `json:"title"`
	URL         string      `json:"url"`
	Labels      []string    `json:"labels"`
	Score       score.Score `json:"score"`
	IsLocked    bool        `json:"isLocked"`
	LockedBy    string      `json:"lockedBy,omitempty"`
	BlockedBy   int         `json:"blockedBy,omitempty"` // open parent issue number
}

// ListBacklogResult is the payload of list_backlog.
type ListBacklogResult struct {
	Repo  string        `json:"repo"`
	Total int           `json:"total"` // candidates after filtering
	Items []BacklogItem `json:"items"`
}

// ListBacklog is read-only: filter, score, sort, and annotate the backlog
// with local lock state and blocking parents.
func (e *Engine) ListBacklog(ctx context.Context, args ListBacklogArgs) (result *ListBacklogResult, err error) {
	start := e.now()
	repo, err := e.resolveRepo(args.Repo)
	if err != nil {
		e.auditTool("list_backlog", "", 0, start, err, nil)
		return nil, err
	}
	defer func() { e.auditTool("list_backlog", repo, 0, start, err, nil) }()

	limit := args.Limit
	if limit <= 0 {
		limit = DefaultBacklogLimit
	}
	if limit > MaxBacklogLimit {
		limit = MaxBacklogLimit
	}

	ranked, err := e.candidates(ctx, repo, score.Filters{
		IncludeTypes: args.IncludeTypes,
		ExcludeTypes: args.ExcludeTypes,
	})
	if err != nil {
		return nil, err
	}

	result = &ListBacklogResult{Repo: repo, Total: len(ranked), Items: []BacklogItem{}}
	for _, r := range ranked {
		if len(result.Items) >= limit {
			break
		}

		item := BacklogItem{
			IssueNumber: r.Issue.Number,
			Title:       r.Issue.Title,
			URL:         r.Issue.HTMLURL,
			Score:       r.Score,
		}
		for _, l := range r.Issue.Labels {
			item.Labels = append(item.Labels, l.Name)
		}
		if rec, _, lockErr := e.locks.Get(repo, r.Issue.Number); lockErr == nil && rec != nil {
			item.IsLocked = true
			item.LockedBy = rec.SessionID
		}
		if r.HasOpenParent && r.Parent != nil {
			item.BlockedBy = r.Parent.Number
		}

		result.Items = append(result.Items, item)
	}

	return result, nil
}
