package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
)

// GetRef retrieves a git reference, e.g. "heads/main".
func (c *Client) GetRef(ctx context.Context, repo, ref string) (*Ref, error) {
	urlStr := c.buildURL("/repos/"+repo+"/git/ref/"+ref, nil)
	respBody, _, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ref %s: %w", ref, err)
	}

	var r Ref
	if err := json.Unmarshal(respBody, &r); err != nil {
		return nil, fmt.Errorf("failed to parse ref response: %w", err)
	}

	return &r, nil
}

// CreateBranch creates a branch off the repository's default head and
// returns the branch name. An already-existing branch is not an error; the
// engine treats branch creation as idempotent per issue.
func (c *Client) CreateBranch(ctx context.Context, repo, branch string) error {
	r, err := c.GetRepository(ctx, repo)
	if err != nil {
		return err
	}

	head, err := c.GetRef(ctx, repo, "heads/"+r.DefaultBranch)
	if err != nil {
		return err
	}

	urlStr := c.buildURL("/repos/"+repo+"/git/refs", nil)
	body := map[string]interface{}{
		"ref": "refs/heads/" + branch,
		"sha": head.Object.SHA,
	}
	if _, _, err := c.doRequest(ctx, http.MethodPost, urlStr, body); err != nil {
		if apiErr, ok := asAPIError(err); ok && apiErr.StatusCode == http.StatusUnprocessableEntity {
			// Reference already exists.
			return nil
		}
		return fmt.Errorf("failed to create branch %s: %w", branch, err)
	}

	return nil
}

// CreatePull opens a pull request from head into the default branch.
func (c *Client) CreatePull(ctx context.Context, repo, title, body, head string) (*PullRequest, error) {
	r, err := c.GetRepository(ctx, repo)
	if err != nil {
		return nil, err
	}

	urlStr := c.buildURL("/repos/"+repo+"/pulls", nil)
	reqBody := map[string]interface{}{
		"title": title,
		"body":  body,
		"head":  head,
		"base":  r.DefaultBranch,
	}
	respBody, _, err := c.doRequest(ctx, http.MethodPost, urlStr, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create pull request: %w", err)
	}

	var pr PullRequest
	if err := json.Unmarshal(respBody, &pr); err != nil {
		return nil, fmt.Errorf("failed to parse pull request response: %w", err)
	}

	return &pr, nil
}

// GetPull retrieves a single pull request.
func (c *Client) GetPull(ctx context.Context, repo string, number int) (*PullRequest, error) {
	urlStr := c.buildURL("/repos/"+repo+"/pulls/"+strconv.Itoa(number), nil)
	respBody, _, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch PR #%d: %w", number, err)
	}

	var pr PullRequest
	if err := json.Unmarshal(respBody, &pr); err != nil {
		return nil, fmt.Errorf("failed to parse PR response: %w", err)
	}

	return &pr, nil
}

// StateOf maps GitHub's state+merged pair onto the engine's PR state:
// merged only when the PR is closed AND the merged flag is set.
func StateOf(pr *PullRequest) PRState {
	if pr.State == "closed" && pr.Merged {
		return PRMerged
	}
	if pr.State == "closed" {
		return PRClosed
	}
	return PROpen
}

// ListCheckRuns lists the check runs for a commit ref.
func (c *Client) ListCheckRuns(ctx context.Context, repo, ref string) ([]CheckRun, error) {
	params := map[string]string{"per_page": strconv.Itoa(MaxPageSize)}
	urlStr := c.buildURL("/repos/"+repo+"/commits/"+ref+"/check-runs", params)
	respBody, _, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list check runs for %s: %w", ref, err)
	}

	var parsed checkRunsResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse check runs response: %w", err)
	}

	return parsed.CheckRuns, nil
}

// AggregateChecks folds check runs into one CI state: failing dominates,
// then pending, then passing; no runs at all is "none".
func AggregateChecks(runs []CheckRun) ChecksState {
	if len(runs) == 0 {
		return ChecksNone
	}
	pending := false
	for _, run := range runs {
		switch run.Conclusion {
		case "failure", "timed_out", "cancelled":
			return ChecksFailing
		}
		if run.Status == "queued" || run.Status == "in_progress" {
			pending = true
		}
	}
	if pending {
		return ChecksPending
	}
	return ChecksPassing
}

// ListReviews lists the reviews on a pull request.
func (c *Client) ListReviews(ctx context.Context, repo string, number int) ([]Review, error) {
	params := map[string]string{"per_page": strconv.Itoa(MaxPageSize)}
	urlStr := c.buildURL("/repos/"+repo+"/pulls/"+strconv.Itoa(number)+"/reviews", params)
	respBody, _, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews for PR #%d: %w", number, err)
	}

	var reviews []Review
	if err := json.Unmarshal(respBody, &reviews); err != nil {
		return nil, fmt.Errorf("failed to parse reviews response: %w", err)
	}

	return reviews, nil
}

// AggregateReviews folds reviews into a summary. Reviewers are deduplicated
// by login and reported sorted for stable output.
func AggregateReviews(reviews []Review) ReviewSummary {
	summary := ReviewSummary{}
	seen := make(map[string]bool)
	for _, r := range reviews {
		switch r.State {
		case "APPROVED":
			summary.Approved = true
		case "CHANGES_REQUESTED":
			summary.ChangesRequested = true
		}
		if r.User != nil && r.User.Login != "" && !seen[r.User.Login] {
			seen[r.User.Login] = true
			summary.Reviewers = append(summary.Reviewers, r.User.Login)
		}
	}
	sort.Strings(summary.Reviewers)
	return summary
}

// GetPRStatus assembles the full status of a pull request: lifecycle
// state, aggregate CI state over the head commit, and review summary.
func (c *Client) GetPRStatus(ctx context.Context, repo string, number int) (*PRStatus, error) {
	pr, err := c.GetPull(ctx, repo, number)
	if err != nil {
		return nil, err
	}

	status := &PRStatus{
		Number: pr.Number,
		Title:  pr.Title,
		URL:    pr.HTMLURL,
		State:  StateOf(pr),
	}

	runs, err := c.ListCheckRuns(ctx, repo, pr.Head.SHA)
	if err != nil {
		return nil, err
	}
	status.Checks = AggregateChecks(runs)

	reviews, err := c.ListReviews(ctx, repo, number)
	if err != nil {
		return nil, err
	}
	status.Reviews = AggregateReviews(reviews)

	return status, nil
}
