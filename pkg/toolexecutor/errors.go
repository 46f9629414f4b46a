package toolexecutor

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrToolNotFound is matched by every registry lookup miss.
	ErrToolNotFound = errors.New("tool not found")
	// ErrToolTimeout is matched when a tool exceeds its execution timeout.
	ErrToolTimeout = errors.New("tool execution timeout")
	// ErrArgsNotCopyable is returned in strict copy mode when arguments cannot be deep-copied.
	ErrArgsNotCopyable = errors.New("tool arguments cannot be deep-copied")
	// ErrToolNotApproved is returned when an approval hook rejects a call.
	ErrToolNotApproved = errors.New("tool call not approved")
	// ErrToolNotAllowed is returned when a tool policy denies a call.
	ErrToolNotAllowed = errors.New("tool not allowed by policy")
	// ErrInvalidArguments is returned when arguments fail schema validation.
	ErrInvalidArguments = errors.New("invalid tool arguments")
)

// ToolNotFoundError reports a registry lookup miss.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

func (e *ToolNotFoundError) Unwrap() error {
	return ErrToolNotFound
}

// ToolExecutionError wraps an error returned (or a panic raised) by a tool handler.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s failed: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// ToolTimeoutError reports that a tool did not finish within its timeout.
type ToolTimeoutError struct {
	Tool    string
	Timeout time.Duration
}

func (e *ToolTimeoutError) Error() string {
	return fmt.Sprintf("tool %s execution timeout after %v", e.Tool, e.Timeout)
}

func (e *ToolTimeoutError) Unwrap() error {
	return ErrToolTimeout
}

// AttemptRejectedError reports that an attempt gate refused another invocation of a
// tool, for example because its circuit opened or its rate limit ran out.
type AttemptRejectedError struct {
	Tool string
	Err  error
}

func (e *AttemptRejectedError) Error() string {
	return fmt.Sprintf("tool %s attempt rejected: %v", e.Tool, e.Err)
}

func (e *AttemptRejectedError) Unwrap() error {
	return e.Err
}

// NotApprovedError carries the reason an approval hook gave for rejecting a call.
type NotApprovedError struct {
	Tool   string
	Reason string
}

func (e *NotApprovedError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("tool %s was not approved", e.Tool)
	}
	return fmt.Sprintf("tool %s was not approved: %s", e.Tool, e.Reason)
}

func (e *NotApprovedError) Unwrap() error {
	return ErrToolNotApproved
}

// PolicyViolationError reports a tool blocked by an agent's tool policy.
type PolicyViolationError struct {
	Tool    string
	AgentID string
}

func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("tool '%s' is not allowed by agent policy", e.Tool)
}

func (e *PolicyViolationError) Unwrap() error {
	return ErrToolNotAllowed
}

// ValidationError lists every schema violation found in a call's arguments.
type ValidationError struct {
	Tool     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("parameter validation failed for %s: %s", e.Tool, strings.Join(e.Problems, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidArguments
}

func wrapToolError(tool string, err error) error {
	var execErr *ToolExecutionError
	var timeoutErr *ToolTimeoutError
	if errors.As(err, &execErr) || errors.As(err, &timeoutErr) {
		return err
	}
	return &ToolExecutionError{Tool: tool, Err: err}
}
