package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
)

// ListOpenIssues retrieves every open issue in the repository, following
// Link-header pagination. Pull requests are filtered out (the issues
// endpoint returns them interleaved).
func (c *Client) ListOpenIssues(ctx context.Context, repo string) ([]Issue, error) {
	var allIssues []Issue
	page := 1

	for {
		select {
		case <-ctx.Done():
			return allIssues, ctx.Err()
		default:
		}

		params := map[string]string{
			"state":    "open",
			"per_page": strconv.Itoa(MaxPageSize),
			"page":     strconv.Itoa(page),
		}

		urlStr := c.buildURL("/repos/"+repo+"/issues", params)
		respBody, headers, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to list issues: %w", err)
		}

		var issues []Issue
		if err := json.Unmarshal(respBody, &issues); err != nil {
			return nil, fmt.Errorf("failed to parse issues response: %w", err)
		}

		for i := range issues {
			if issues[i].PullRequest == nil {
				allIssues = append(allIssues, issues[i])
			}
		}

		if _, ok := hasNextPage(headers); !ok {
			break
		}
		page++

		if page > MaxPages {
			return nil, fmt.Errorf("pagination limit exceeded: stopped after %d pages", MaxPages)
		}
	}

	return allIssues, nil
}

// GetIssue retrieves a single issue by number.
func (c *Client) GetIssue(ctx context.Context, repo string, number int) (*Issue, error) {
	urlStr := c.buildURL("/repos/"+repo+"/issues/"+strconv.Itoa(number), nil)
	respBody, _, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch issue #%d: %w", number, err)
	}

	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return nil, fmt.Errorf("failed to parse issue response: %w", err)
	}

	return &issue, nil
}

// CreateIssue creates a new issue with the given labels.
func (c *Client) CreateIssue(ctx context.Context, repo, title, body string, labels []string) (*Issue, error) {
	reqBody := map[string]interface{}{
		"title": title,
		"body":  body,
	}
	if len(labels) > 0 {
		reqBody["labels"] = labels
	}

	urlStr := c.buildURL("/repos/"+repo+"/issues", nil)
	respBody, _, err := c.doRequest(ctx, http.MethodPost, urlStr, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create issue: %w", err)
	}

	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return nil, fmt.Errorf("failed to parse create response: %w", err)
	}

	return &issue, nil
}

// SetIssueState sets an issue open or closed. GitHub uses PATCH for issue
// updates.
func (c *Client) SetIssueState(ctx context.Context, repo string, number int, state string) (*Issue, error) {
	urlStr := c.buildURL("/repos/"+repo+"/issues/"+strconv.Itoa(number), nil)
	respBody, _, err := c.doRequest(ctx, http.MethodPatch, urlStr, map[string]interface{}{"state": state})
	if err != nil {
		return nil, fmt.Errorf("failed to update issue #%d: %w", number, err)
	}

	var issue Issue
	if err := json.Unmarshal(respBody, &issue); err != nil {
		return nil, fmt.Errorf("failed to parse update response: %w", err)
	}

	return &issue, nil
}

// AddComment posts a comment on an issue.
func (c *Client) AddComment(ctx context.Context, repo string, number int, body string) (*Comment, error) {
	urlStr := c.buildURL("/repos/"+repo+"/issues/"+strconv.Itoa(number)+"/comments", nil)
	respBody, _, err := c.doRequest(ctx, http.MethodPost, urlStr, map[string]interface{}{"body": body})
	if err != nil {
		return nil, fmt.Errorf("failed to comment on issue #%d: %w", number, err)
	}

	var comment Comment
	if err := json.Unmarshal(respBody, &comment); err != nil {
		return nil, fmt.Errorf("failed to parse comment response: %w", err)
	}

	return &comment, nil
}

// GetRepository retrieves repository metadata, including the caller's
// effective permissions and the default branch.
func (c *Client) GetRepository(ctx context.Context, repo string) (*Repository, error) {
	urlStr := c.buildURL("/repos/"+repo, nil)
	respBody, _, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch repository %s: %w", repo, err)
	}

	var r Repository
	if err := json.Unmarshal(respBody, &r); err != nil {
		return nil, fmt.Errorf("failed to parse repository response: %w", err)
	}

	return &r, nil
}

// VerifyWriteAccess reports whether the authenticated user can push to the
// repository.
func (c *Client) VerifyWriteAccess(ctx context.Context, repo string) (bool, error) {
	r, err := c.GetRepository(ctx, repo)
	if err != nil {
		return false, err
	}
	return r.Permissions != nil && r.Permissions.Push, nil
}
