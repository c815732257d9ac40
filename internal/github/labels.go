package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// LabelSpec is one label the engine manages: name, color, description.
type LabelSpec struct {
	Name        string `json:"name"`
	Color       string `json:"color"`
	Description string `json:"description"`
}

// ManagedLabels returns the three label families the engine creates on
// demand. Colors follow severity conventions; descriptions explain the
// family to humans browsing the repository.
func ManagedLabels() []LabelSpec {
	return []LabelSpec{
		// Priority family (canonical naming; P0..P3 is accepted as input
		// elsewhere but never created).
		{Name: "priority:critical", Color: "b60205", Description: "Drop everything"},
		{Name: "priority:high", Color: "d93f0b", Description: "Next up"},
		{Name: "priority:medium", Color: "fbca04", Description: "Normal priority"},
		{Name: "priority:low", Color: "0e8a16", Description: "When time permits"},

		// Type family.
		{Name: "type:bug", Color: "d73a4a", Description: "Something is broken"},
		{Name: "type:feature", Color: "a2eeef", Description: "New functionality"},
		{Name: "type:chore", Color: "cfd3d7", Description: "Maintenance work"},
		{Name: "type:docs", Color: "0075ca", Description: "Documentation"},

		// Status family (the advisory cross-host coordination signal).
		{Name: "status:backlog", Color: "ededed", Description: "Ready to be picked up"},
		{Name: "status:in-progress", Color: "1d76db", Description: "An agent is working this"},
		{Name: "status:in-review", Color: "5319e7", Description: "PR open, awaiting review"},
		{Name: "status:blocked", Color: "e11d21", Description: "Blocked on a dependency"},
	}
}

// ListLabels retrieves all labels defined in the repository.
func (c *Client) ListLabels(ctx context.Context, repo string) ([]Label, error) {
	var all []Label
	page := 1

	for {
		params := map[string]string{
			"per_page": strconv.Itoa(MaxPageSize),
			"page":     strconv.Itoa(page),
		}
		urlStr := c.buildURL("/repos/"+repo+"/labels", params)
		respBody, headers, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, fmt.Errorf("failed to list labels: %w", err)
		}

		var labels []Label
		if err := json.Unmarshal(respBody, &labels); err != nil {
			return nil, fmt.Errorf("failed to parse labels response: %w", err)
		}
		all = append(all, labels...)

		if _, ok := hasNextPage(headers); !ok {
			break
		}
		page++
		if page > MaxPages {
			return nil, fmt.Errorf("pagination limit exceeded: stopped after %d pages", MaxPages)
		}
	}

	return all, nil
}

// CreateLabel defines a new label in the repository.
func (c *Client) CreateLabel(ctx context.Context, repo string, spec LabelSpec) error {
	urlStr := c.buildURL("/repos/"+repo+"/labels", nil)
	if _, _, err := c.doRequest(ctx, http.MethodPost, urlStr, spec); err != nil {
		return fmt.Errorf("failed to create label %q: %w", spec.Name, err)
	}
	return nil
}

// EnsureResult reports what EnsureLabels did for one label.
type EnsureResult struct {
	Label   string `json:"label"`
	Created bool   `json:"created"`
	Error   string `json:"error,omitempty"`
}

// EnsureLabels creates any managed label missing from the repository.
// Idempotent: labels already present are left untouched. Per-label failures
// are collected rather than aborting the sweep.
func (c *Client) EnsureLabels(ctx context.Context, repo string) ([]EnsureResult, error) {
	existing, err := c.ListLabels(ctx, repo)
	if err != nil {
		return nil, err
	}
	present := make(map[string]bool, len(existing))
	for _, l := range existing {
		present[l.Name] = true
	}

	var results []EnsureResult
	for _, spec := range ManagedLabels() {
		if present[spec.Name] {
			results = append(results, EnsureResult{Label: spec.Name})
			continue
		}
		res := EnsureResult{Label: spec.Name, Created: true}
		if err := c.CreateLabel(ctx, repo, spec); err != nil {
			// 422 means another writer created it between list and create.
			if apiErr, ok := asAPIError(err); ok && apiErr.StatusCode == http.StatusUnprocessableEntity {
				res.Created = false
			} else {
				res.Created = false
				res.Error = err.Error()
			}
		}
		results = append(results, res)
	}

	return results, nil
}

// AddLabels adds labels to an issue. Adding a label the issue already
// carries is a successful no-op on GitHub's side.
func (c *Client) AddLabels(ctx context.Context, repo string, number int, labels []string) error {
	if len(labels) == 0 {
		return nil
	}
	urlStr := c.buildURL("/repos/"+repo+"/issues/"+strconv.Itoa(number)+"/labels", nil)
	if _, _, err := c.doRequest(ctx, http.MethodPost, urlStr, map[string]interface{}{"labels": labels}); err != nil {
		return fmt.Errorf("failed to add labels to #%d: %w", number, err)
	}
	return nil
}

// RemoveLabel removes one label from an issue. Removing a label the issue
// does not carry is treated as success: GitHub answers 404 and the desired
// state already holds.
func (c *Client) RemoveLabel(ctx context.Context, repo string, number int, label string) error {
	urlStr := c.buildURL("/repos/"+repo+"/issues/"+strconv.Itoa(number)+"/labels/"+url.PathEscape(label), nil)
	if _, _, err := c.doRequest(ctx, http.MethodDelete, urlStr, nil); err != nil {
		if IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to remove label %q from #%d: %w", label, number, err)
	}
	return nil
}

// SwapLabels removes one label and adds another, tolerating an absent
// remove target. Used to flip the advisory status label.
func (c *Client) SwapLabels(ctx context.Context, repo string, number int, remove, add string) error {
	if remove != "" {
		if err := c.RemoveLabel(ctx, repo, number, remove); err != nil {
			return err
		}
	}
	if add != "" {
		if err := c.AddLabels(ctx, repo, number, []string{add}); err != nil {
			return err
		}
	}
	return nil
}
