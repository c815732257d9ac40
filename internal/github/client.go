package github

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// APIError is a non-2xx response from GitHub. The status code lets callers
// distinguish validation, auth, and not-found classes from server faults.
type APIError struct {
	StatusCode int
	Message    string
	URL        string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("github: %s (status %d)", e.Message, e.StatusCode)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// asAPIError unwraps err to an *APIError when one is present.
func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// NewClient creates a new GitHub client authenticated with token.
func NewClient(token string) *Client {
	return &Client{
		Token:   token,
		BaseURL: DefaultAPIEndpoint,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// WithHTTPClient returns a new client with a custom HTTP client.
func (c *Client) WithHTTPClient(httpClient *http.Client) *Client {
	return &Client{
		Token:      c.Token,
		BaseURL:    c.BaseURL,
		HTTPClient: httpClient,
	}
}

// WithBaseURL returns a new client with a custom base URL (for testing or
// GitHub Enterprise).
func (c *Client) WithBaseURL(baseURL string) *Client {
	return &Client{
		Token:      c.Token,
		BaseURL:    baseURL,
		HTTPClient: c.HTTPClient,
	}
}

// buildURL constructs a full API URL.
func (c *Client) buildURL(path string, params map[string]string) string {
	u := c.BaseURL + path

	if len(params) > 0 {
		values := url.Values{}
		for k, v := range params {
			values.Set(k, v)
		}
		u += "?" + values.Encode()
	}

	return u
}

// retriable reports whether a response status is worth retrying: server
// faults and rate limiting. Auth, validation, and not-found surface
// immediately.
func retriable(status int, header http.Header) bool {
	if status >= 500 {
		return true
	}
	if status == http.StatusTooManyRequests {
		return true
	}
	if status == http.StatusForbidden && header.Get("X-RateLimit-Remaining") == "0" {
		return true
	}
	return false
}

// retryAfterHint returns the server-requested delay, if any.
func retryAfterHint(header http.Header) (time.Duration, bool) {
	ra := header.Get("Retry-After")
	if ra == "" {
		return 0, false
	}
	seconds, err := strconv.Atoi(ra)
	if err != nil || seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds) * time.Second, true
}

// doRequest performs an HTTP request with authentication and bounded retry.
// Transient failures (network errors, 5xx, rate limiting) are retried up to
// MaxRetries times with exponential backoff, honoring Retry-After hints.
func (c *Client) doRequest(ctx context.Context, method, urlStr string, body interface{}) ([]byte, http.Header, error) {
	var jsonBody []byte
	if body != nil {
		var err error
		jsonBody, err = json.Marshal(body)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = RetryDelay
	bo.Reset()

	var lastErr error
	for attempt := 0; attempt <= MaxRetries; attempt++ {
		if attempt > 0 {
			delay := bo.NextBackOff()
			if hint, ok := retryAfterDelay(lastErr); ok {
				delay = hint
			}
			select {
			case <-ctx.Done():
				return nil, nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		var reqBody io.Reader
		if jsonBody != nil {
			reqBody = bytes.NewReader(jsonBody)
		}
		req, err := http.NewRequestWithContext(ctx, method, urlStr, reqBody)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Authorization", "Bearer "+c.Token)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/vnd.github+json")
		req.Header.Set("X-GitHub-Api-Version", "2022-11-28")

		resp, err := c.HTTPClient.Do(req)
		if err != nil {
			lastErr = fmt.Errorf("request failed (attempt %d/%d): %w", attempt+1, MaxRetries+1, err)
			continue
		}

		const maxResponseSize = 50 * 1024 * 1024
		respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		_ = resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response (attempt %d/%d): %w", attempt+1, MaxRetries+1, err)
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := &APIError{
				StatusCode: resp.StatusCode,
				Message:    apiMessage(respBody),
				URL:        urlStr,
			}
			if retriable(resp.StatusCode, resp.Header) {
				lastErr = &transientError{apiErr: apiErr}
				if hint, ok := retryAfterHint(resp.Header); ok {
					lastErr.(*transientError).retryAfter = &hint
				}
				continue
			}
			return nil, nil, apiErr
		}

		return respBody, resp.Header, nil
	}

	var te *transientError
	if errors.As(lastErr, &te) {
		return nil, nil, fmt.Errorf("max retries (%d) exceeded: %w", MaxRetries+1, te.apiErr)
	}
	return nil, nil, fmt.Errorf("max retries (%d) exceeded: %w", MaxRetries+1, lastErr)
}

// transientError wraps a retriable API error together with any Retry-After
// hint the server sent.
type transientError struct {
	apiErr     *APIError
	retryAfter *time.Duration
}

func (e *transientError) Error() string { return e.apiErr.Error() }
func (e *transientError) Unwrap() error { return e.apiErr }

func retryAfterDelay(err error) (time.Duration, bool) {
	var te *transientError
	if errors.As(err, &te) && te.retryAfter != nil {
		return *te.retryAfter, true
	}
	return 0, false
}

// apiMessage extracts the "message" field from an error body, falling back
// to the raw body.
func apiMessage(body []byte) string {
	var parsed struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Message != "" {
		return parsed.Message
	}
	msg := string(body)
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return msg
}

// linkNextPattern matches the "next" relation in GitHub Link headers.
var linkNextPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="next"`)

// hasNextPage checks the Link header for a next page URL and returns it.
func hasNextPage(headers http.Header) (string, bool) {
	link := headers.Get("Link")
	if link == "" {
		return "", false
	}
	matches := linkNextPattern.FindStringSubmatch(link)
	if len(matches) < 2 {
		return "", false
	}
	return matches[1], true
}
