// Package github provides a typed client for the subset of the GitHub REST
// API the coordination engine consumes: issues, labels, comments, branches,
// pull requests, check runs, reviews, and the advisory sub-issue parent
// lookup. It also maps label conventions onto the engine's priority, type,
// and status classes.
package github

import (
	"net/http"
	"time"
)

// API configuration constants.
const (
	// DefaultAPIEndpoint is the GitHub REST API base URL.
	DefaultAPIEndpoint = "https://api.github.com"

	// DefaultTimeout is the default HTTP request timeout.
	DefaultTimeout = 30 * time.Second

	// MaxRetries is the maximum number of retries for transient failures
	// and rate-limited requests.
	MaxRetries = 3

	// RetryDelay is the base delay between retries (exponential backoff).
	RetryDelay = time.Second

	// MaxPageSize is the maximum number of items to fetch per page.
	MaxPageSize = 100

	// MaxPages bounds Link-header pagination so a malformed header cannot
	// loop forever.
	MaxPages = 1000
)

// Client provides methods to interact with the GitHub REST API. Methods
// take the repository as an "owner/name" string so one client can serve
// every repository the engine is asked about.
type Client struct {
	Token      string       // GitHub personal access token
	BaseURL    string       // API base URL (default: https://api.github.com)
	HTTPClient *http.Client // Optional custom HTTP client
}

// Issue represents an issue from the GitHub API.
type Issue struct {
	ID          int        `json:"id"`     // Global unique ID
	Number      int        `json:"number"` // Repository-scoped issue number
	Title       string     `json:"title"`
	Body        string     `json:"body"`
	State       string     `json:"state"` // "open" or "closed"
	CreatedAt   *time.Time `json:"created_at"`
	UpdatedAt   *time.Time `json:"updated_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	Labels      []Label    `json:"labels"`
	Assignee    *User      `json:"assignee,omitempty"`
	Assignees   []User     `json:"assignees,omitempty"`
	User        *User      `json:"user,omitempty"` // Author
	HTMLURL     string     `json:"html_url"`
	PullRequest *PullRef   `json:"pull_request,omitempty"` // Non-nil if this is a PR
}

// PullRef indicates an issue is actually a pull request. The GitHub Issues
// API returns PRs alongside issues; this field distinguishes them.
type PullRef struct {
	URL string `json:"url,omitempty"`
}

// User represents a GitHub user.
type User struct {
	ID    int    `json:"id"`
	Login string `json:"login"`
}

// Label represents a GitHub label.
type Label struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description,omitempty"`
}

// Repository represents repository metadata including the caller's
// effective permissions.
type Repository struct {
	ID            int          `json:"id"`
	FullName      string       `json:"full_name"`
	DefaultBranch string       `json:"default_branch"`
	Permissions   *Permissions `json:"permissions,omitempty"`
}

// Permissions is the permission set GitHub reports for the authenticated
// user on a repository.
type Permissions struct {
	Admin bool `json:"admin"`
	Push  bool `json:"push"`
	Pull  bool `json:"pull"`
}

// Comment represents an issue comment.
type Comment struct {
	ID      int    `json:"id"`
	Body    string `json:"body"`
	HTMLURL string `json:"html_url"`
	User    *User  `json:"user,omitempty"`
}

// PullRequest represents a pull request from the GitHub API.
type PullRequest struct {
	ID      int    `json:"id"`
	Number  int    `json:"number"`
	Title   string `json:"title"`
	State   string `json:"state"` // "open" or "closed"
	Merged  bool   `json:"merged"`
	HTMLURL string `json:"html_url"`
	Head    PRHead `json:"head"`
}

// PRHead is the head branch of a pull request.
type PRHead struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// Ref represents a git reference.
type Ref struct {
	Ref    string    `json:"ref"`
	Object RefObject `json:"object"`
}

// RefObject is the object a git reference points at.
type RefObject struct {
	SHA  string `json:"sha"`
	Type string `json:"type"`
}

// CheckRun represents one check run on a commit.
type CheckRun struct {
	ID         int    `json:"id"`
	Name       string `json:"name"`
	Status     string `json:"status"`     // "queued", "in_progress", "completed"
	Conclusion string `json:"conclusion"` // "success", "failure", "timed_out", "cancelled", ...
}

// checkRunsResponse is the envelope of the check-runs listing endpoint.
type checkRunsResponse struct {
	TotalCount int        `json:"total_count"`
	CheckRuns  []CheckRun `json:"check_runs"`
}

// Review represents one pull request review.
type Review struct {
	ID    int    `json:"id"`
	State string `json:"state"` // "APPROVED", "CHANGES_REQUESTED", "COMMENTED", ...
	User  *User  `json:"user,omitempty"`
}

// PRState is the engine's view of a pull request's lifecycle.
type PRState string

const (
	PROpen   PRState = "open"
	PRClosed PRState = "closed"
	PRMerged PRState = "merged"
)

// ChecksState is the aggregate CI state over a commit's check runs.
type ChecksState string

const (
	ChecksNone    ChecksState = "none"
	ChecksPending ChecksState = "pending"
	ChecksPassing ChecksState = "passing"
	ChecksFailing ChecksState = "failing"
)

// ReviewSummary is the aggregate review state of a pull request.
// Approved and ChangesRequested are independent: a PR can carry both.
type ReviewSummary struct {
	Approved         bool     `json:"approved"`
	ChangesRequested bool     `json:"changes_requested"`
	Reviewers        []string `json:"reviewers,omitempty"`
}

// PRStatus is the assembled status of a pull request: state, CI, reviews.
type PRStatus struct {
	Number  int           `json:"number"`
	Title   string        `json:"title"`
	URL     string        `json:"url"`
	State   PRState       `json:"state"`
	Checks  ChecksState   `json:"checks"`
	Reviews ReviewSummary `json:"reviews"`
}
