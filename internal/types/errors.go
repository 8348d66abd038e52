package types

import "fmt"

// RetryableError represents an error that indicates the operation can be retried.
// This is typically used for transient errors like network timeouts, rate limits, or temporary server unavailability.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// NewRetryableError wraps an existing error as a RetryableError.
func NewRetryableError(err error) error {
	return &RetryableError{Err: err}
}

// InputError reports invalid or missing user input: no diff detected, a bad
// diff mode, a missing base branch. InputError aborts the run.
type InputError struct {
	Msg string
}

func (e *InputError) Error() string {
	return e.Msg
}

// NewInputError creates an InputError with a formatted message.
func NewInputError(format string, args ...any) error {
	return &InputError{Msg: fmt.Sprintf(format, args...)}
}

// VCSError reports a failed version-control command. It carries the command
// line and captured stderr so callers can surface the real cause. VCSError
// aborts the run.
type VCSError struct {
	Command string
	Stderr  string
	Err     error
}

func (e *VCSError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("vcs command %q failed: %v (stderr: %s)", e.Command, e.Err, e.Stderr)
	}
	return fmt.Sprintf("vcs command %q failed: %v", e.Command, e.Err)
}

func (e *VCSError) Unwrap() error {
	return e.Err
}

// ParseError reports a malformed patch. Affected hunks are skipped with a
// logged warning; parsing is never fatal to the run.
type ParseError struct {
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse diff: %s: %v", e.Detail, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// PlannerError reports an unusable planner response. Fusion falls back to
// rule-only selection when it sees one.
type PlannerError struct {
	Backend string
	Err     error
}

func (e *PlannerError) Error() string {
	return fmt.Sprintf("planner %s: %v", e.Backend, e.Err)
}

func (e *PlannerError) Unwrap() error {
	return e.Err
}

// ScannerUnavailableError reports a scanner whose availability probe failed.
// The scanner is skipped for the run and counted in the skipped breakdown.
type ScannerUnavailableError struct {
	Scanner string
	Reason  string
}

func (e *ScannerUnavailableError) Error() string {
	return fmt.Sprintf("scanner %s unavailable: %s", e.Scanner, e.Reason)
}

// ScannerRuntimeError reports a scan that failed mid-file. Issues produced
// before the failure are kept; progress still advances.
type ScannerRuntimeError struct {
	Scanner string
	File    string
	Err     error
}

func (e *ScannerRuntimeError) Error() string {
	return fmt.Sprintf("scanner %s failed on %s: %v", e.Scanner, e.File, e.Err)
}

func (e *ScannerRuntimeError) Unwrap() error {
	return e.Err
}

// PersistenceError reports a failed session write. The store falls back to a
// temp-directory copy; the pipeline never crashes on one.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// SessionNotFoundError reports a lookup of a session id that does not exist.
type SessionNotFoundError struct {
	SessionID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session not found: %s", e.SessionID)
}

// SessionOperationError reports a failed session-store operation other than
// a plain miss.
type SessionOperationError struct {
	Op        string
	SessionID string
	Err       error
}

func (e *SessionOperationError) Error() string {
	return fmt.Sprintf("session %s: %s: %v", e.SessionID, e.Op, e.Err)
}

func (e *SessionOperationError) Unwrap() error {
	return e.Err
}
