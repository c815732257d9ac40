// Package rpc carries the tool operations over a line-delimited JSON
// protocol: one request object per line in, one response object per line
// out. The same envelope serves stdio and the optional unix socket.
package rpc

import "encoding/json"

// Operation names for the twelve tools.
const (
	OpCreateIssue       = "create_issue"
	OpListBacklog       = "list_backlog"
	OpSelectNextIssue   = "select_next_issue"
	OpAdvanceWorkflow   = "advance_workflow"
	OpReleaseLock       = "release_lock"
	OpForceClaim        = "force_claim"
	OpGetWorkflowStatus = "get_workflow_status"
	OpSyncBacklogLabels = "sync_backlog_labels"
	OpGetPRStatus       = "get_pr_status"
	OpBulkUpdateIssues  = "bulk_update_issues"
	OpImplementBatch    = "implement_batch"
	OpBatchContinue     = "batch_continue"
)

// Request is one tool invocation from the client.
type Request struct {
	Operation string          `json:"operation"`
	Args      json.RawMessage `json:"args,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}

// Response is the result envelope. Data is present iff Success; Error,
// Code, and Details describe the failure otherwise.
type Response struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      string          `json:"code,omitempty"`
	Details   map[string]any  `json:"details,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
}
