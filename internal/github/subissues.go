package github

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
)

// GetParent looks up the sub-issue parent of an issue, if any.
//
// The parent relationship is an advisory scoring signal only, so this
// method never fails: a missing parent, an unsupported API, and any other
// error all degrade to (nil, nil).
func (c *Client) GetParent(ctx context.Context, repo string, number int) *Issue {
	urlStr := c.buildURL("/repos/"+repo+"/issues/"+strconv.Itoa(number)+"/parent", nil)
	respBody, _, err := c.doRequest(ctx, http.MethodGet, urlStr, nil)
	if err != nil {
		return nil
	}

	var parent Issue
	if err := json.Unmarshal(respBody, &parent); err != nil {
		return nil
	}
	if parent.Number == 0 {
		return nil
	}

	return &parent
}

// HasOpenParent reports whether the issue has a parent that is still open.
// A closed parent and a failed lookup both mean "not blocked".
func (c *Client) HasOpenParent(ctx context.Context, repo string, number int) (bool, *Issue) {
	parent := c.GetParent(ctx, repo, number)
	if parent == nil {
		return false, nil
	}
	return parent.State == "open", parent
}
