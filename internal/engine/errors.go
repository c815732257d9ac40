package engine

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-branchable error code. Every operation failure
// crossing the transport boundary carries exactly one.
type Code string

const (
	CodeRepoRequired          Code = "REPO_REQUIRED"
	CodeNoWriteAccess         Code = "NO_WRITE_ACCESS"
	CodeNoIssuesAvailable     Code = "NO_ISSUES_AVAILABLE"
	CodeAllIssuesLocked       Code = "ALL_ISSUES_LOCKED"
	CodeLockHeld              Code = "LOCK_HELD"
	CodeLockCreationFailed    Code = "LOCK_CREATION_FAILED"
	CodeNotLocked             Code = "NOT_LOCKED"
	CodeWorkflowNotFound      Code = "WORKFLOW_NOT_FOUND"
	CodeInvalidTransition     Code = "INVALID_PHASE_TRANSITION"
	CodeTestsRequired         Code = "TESTS_REQUIRED"
	CodeSkipJustification     Code = "SKIP_JUSTIFICATION_REQUIRED"
	CodeInvalidConfirmation   Code = "INVALID_CONFIRMATION"
	CodeGitHubAPIError        Code = "GITHUB_API_ERROR"
	CodeInternal              Code = "INTERNAL_ERROR"
)

// Error is a typed operation error: a stable code, a human message, and
// optional structured details for the caller to branch on.
type Error struct {
	Code    Code           `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errf builds an Error with a formatted message.
func Errf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithDetails attaches structured details.
func (e *Error) WithDetails(details map[string]any) *Error {
	e.Details = details
	return e
}

// AsError extracts a typed Error from err, if one is present.
func AsError(err error) (*Error, bool) {
	var opErr *Error
	if errors.As(err, &opErr) {
		return opErr, true
	}
	return nil, false
}

// CodeOf returns the stable code of err, defaulting to INTERNAL_ERROR.
func CodeOf(err error) Code {
	if opErr, ok := AsError(err); ok {
		return opErr.Code
	}
	return CodeInternal
}

// wrapRemote lifts a GitHub client failure to the stable taxonomy. Typed
// engine errors pass through untouched.
func wrapRemote(err error, context string) error {
	if err == nil {
		return nil
	}
	if opErr, ok := AsError(err); ok {
		return opErr
	}
	return Errf(CodeGitHubAPIError, "%s: %v", context, err)
}

// wrapInternal lifts a store failure to INTERNAL_ERROR unless a more
// specific typed error is already attached.
func wrapInternal(err error, context string) error {
	if err == nil {
		return nil
	}
	if opErr, ok := AsError(err); ok {
		return opErr
	}
	return Errf(CodeInternal, "%s: %v", context, err)
}
