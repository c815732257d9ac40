package engine

import (
	"context"

	"github.com/taskherd/taskherd/internal/github"
	"github.com/taskherd/taskherd/internal/types"
)

// CreateIssueArgs are the inputs of create_issue.
type CreateIssueArgs struct {
	Repo               string   `json:"repo,omitempty"`
	Title              string   `json:"title"`
	Body               string   `json:"body,omitempty"` // raw body; overrides the template
	Context            string   `json:"context,omitempty"`
	AcceptanceCriteria []string `json:"acceptanceCriteria,omitempty"`
	TechnicalNotes     string   `json:"technicalNotes,omitempty"`
	Priority           string   `json:"priority,omitempty"` // canonical or P0..P3
	Type               string   `json:"type,omitempty"`
}

// CreateIssueResult is the payload of a successful create_issue.
type CreateIssueResult struct {
	IssueNumber int      `json:"issueNumber"`
	URL         string   `json:"url"`
	Labels      []string `json:"labels"`
}

// CreateIssue validates write access, ensures the managed label families
// exist, formats the body, and creates the issue labeled into the backlog.
func (e *Engine) CreateIssue(ctx context.Context, args CreateIssueArgs) (result *CreateIssueResult, err error) {
	start := e.now()
	repo, err := e.resolveRepo(args.Repo)
	if err != nil {
		e.auditTool("create_issue", "", 0, start, err, nil)
		return nil, err
	}
	defer func() { e.auditTool("create_issue", repo, 0, start, err, nil) }()

	if args.Title == "" {
		return nil, Errf(CodeInternal, "title is required")
	}

	writable, accessErr := e.gh.VerifyWriteAccess(ctx, repo)
	if accessErr != nil {
		return nil, wrapRemote(accessErr, "verifying access")
	}
	if !writable {
		return nil, Errf(CodeNoWriteAccess, "no write access to %s", repo)
	}

	if _, ensureErr := e.gh.EnsureLabels(ctx, repo); ensureErr != nil {
		return nil, wrapRemote(ensureErr, "ensuring labels")
	}

	body := args.Body
	if body == "" {
		body = FormatIssueBody(args.Title, args.Context, args.AcceptanceCriteria, args.TechnicalNotes)
	}

	priority := github.CoercePriority(args.Priority)
	if priority == types.PriorityNone {
		priority = e.cfg.DefaultPriority
	}
	issueType := args.Type
	if issueType == "" {
		issueType = e.cfg.DefaultType
	}

	labels := []string{
		"priority:" + string(priority),
		"type:" + issueType,
		github.StatusBacklog,
	}

	issue, createErr := e.gh.CreateIssue(ctx, repo, args.Title, body, labels)
	if createErr != nil {
		return nil, wrapRemote(createErr, "creating issue")
	}

	return &CreateIssueResult{
		IssueNumber: issue.Number,
		URL:         issue.HTMLURL,
		Labels:      labels,
	}, nil
}
