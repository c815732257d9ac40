package engine

import (
	"context"
	"fmt"

	"github.com/taskherd/taskherd/internal/github"
	"github.com/taskherd/taskherd/internal/types"
)

// SyncBacklogLabelsArgs are the inputs of sync_backlog_labels.
type SyncBacklogLabelsArgs struct {
	Repo string `json:"repo,omitempty"`
	Mode string `json:"mode,omitempty"` // "report" (default) or "update"
}

// MissingLabels describes what one issue lacks.
type MissingLabels struct {
	IssueNumber     int      `json:"issueNumber"`
	Title           string   `json:"title"`
	MissingFamilies []string `json:"missingFamilies"`
	Applied         []string `json:"applied,omitempty"` // update mode only
	Error           string   `json:"error,omitempty"`
}

// SyncBacklogLabelsResult is the payload of sync_backlog_labels.
type SyncBacklogLabelsResult struct {
	Repo          string          `json:"repo"`
	Mode          string          `json:"mode"`
	EnsuredLabels int             `json:"ensuredLabels"` // labels newly created in the repo
	Scanned       int             `json:"scanned"`
	Issues        []MissingLabels `json:"issues"`
	Failed        int             `json:"failed"`
}

// SyncBacklogLabels ensures the managed label families exist, then scans
// open issues for missing priority/type/status labels. Report mode only
// lists them; update mode applies the configured defaults, collecting
// per-issue errors instead of aborting.
func (e *Engine) SyncBacklogLabels(ctx context.Context, args SyncBacklogLabelsArgs) (result *SyncBacklogLabelsResult, err error) {
	start := e.now()
	repo, err := e.resolveRepo(args.Repo)
	if err != nil {
		e.auditTool("sync_backlog_labels", "", 0, start, err, nil)
		return nil, err
	}
	defer func() { e.auditTool("sync_backlog_labels", repo, 0, start, err, nil) }()

	mode := args.Mode
	if mode == "" {
		mode = "report"
	}
	if mode != "report" && mode != "update" {
		return nil, Errf(CodeInternal, "mode must be report or update, got %q", args.Mode)
	}

	ensured, ensureErr := e.gh.EnsureLabels(ctx, repo)
	if ensureErr != nil {
		return nil, wrapRemote(ensureErr, "ensuring labels")
	}
	created := 0
	for _, res := range ensured {
		if res.Created && res.Error == "" {
			created++
		}
	}

	issues, listErr := e.gh.ListOpenIssues(ctx, repo)
	if listErr != nil {
		return nil, wrapRemote(listErr, "listing issues")
	}

	result = &SyncBacklogLabelsResult{
		Repo:          repo,
		Mode:          mode,
		EnsuredLabels: created,
		Scanned:       len(issues),
		Issues:        []MissingLabels{},
	}

	for _, issue := range issues {
		var missing []string
		var defaults []string
		if github.PriorityFromLabels(issue.Labels) == types.PriorityNone {
			missing = append(missing, "priority")
			defaults = append(defaults, "priority:"+string(e.cfg.DefaultPriority))
		}
		if github.TypeFromLabels(issue.Labels) == "" {
			missing = append(missing, "type")
			defaults = append(defaults, "type:"+e.cfg.DefaultType)
		}
		if github.StatusFromLabels(issue.Labels) == "" {
			missing = append(missing, "status")
			defaults = append(defaults, github.StatusBacklog)
		}
		if len(missing) == 0 {
			continue
		}

		entry := MissingLabels{
			IssueNumber:     issue.Number,
			Title:           issue.Title,
			MissingFamilies: missing,
		}
		if mode == "update" {
			if addErr := e.gh.AddLabels(ctx, repo, issue.Number, defaults); addErr != nil {
				entry.Error = fmt.Sprintf("applying defaults: %v", addErr)
				result.Failed++
			} else {
				entry.Applied = defaults
			}
		}
		result.Issues = append(result.Issues, entry)
	}

	return result, nil
}
