package core

import (
	"errors"
	"fmt"
)

// Standard sentinel errors for comparison using errors.Is()
// These are generic errors that can be wrapped with additional context
var (
	// Source-related errors
	ErrSourceNotFound    = errors.New("source not registered")
	ErrSchemaUnavailable = errors.New("schema unavailable")

	// Planner-related errors
	ErrPlannerUnavailable = errors.New("planner unavailable")
	ErrPlanParse          = errors.New("unable to parse plan")
	ErrEmptyPlan          = errors.New("empty plan")

	// Execution-related errors
	ErrDependencyMissing = errors.New("dependency not found")
	ErrReferenceInvalid  = errors.New("cross-step reference unresolvable")
	ErrToolNotAllowed    = errors.New("tool not allowed for db type")

	// Configuration errors
	ErrInvalidConfiguration = errors.New("invalid configuration")
	ErrMissingConfiguration = errors.New("missing required configuration")

	// HTTP/Network errors
	ErrConnectionFailed = errors.New("connection failed")
	ErrRequestFailed    = errors.New("request failed")
	ErrTimeout          = errors.New("operation timeout")
)

// FederationError provides structured error information with context.
// It implements the error interface and supports error wrapping.
type FederationError struct {
	Op      string // Operation that failed (e.g., "dispatcher.Call")
	Kind    string // Error kind (e.g., "transport", "plan", "fusion")
	ID      string // Optional ID of the entity involved (source id, step id)
	Message string // Human-readable message
	Err     error  // Underlying error for wrapping
}

// Error returns the string representation of the error
func (e *FederationError) Error() string {
	if e.Op != "" && e.Err != nil {
		if e.ID != "" {
			return fmt.Sprintf("%s [%s]: %v", e.Op, e.ID, e.Err)
		}
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s error", e.Kind)
}

// Unwrap returns the underlying error for use with errors.Is/As
func (e *FederationError) Unwrap() error {
	return e.Err
}

// NewFederationError creates a new FederationError
func NewFederationError(op, kind string, err error) *FederationError {
	return &FederationError{
		Op:   op,
		Kind: kind,
		Err:  err,
	}
}

// ToolError is reported by a backend adapter: the tool endpoint answered
// with a non-2xx status. The body is preserved for provenance.
type ToolError struct {
	SourceID string
	Tool     string
	Status   int
	Body     string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s on %s returned status %d", e.Tool, e.SourceID, e.Status)
}

// ProtocolError indicates a 2xx response whose body was not valid JSON.
type ProtocolError struct {
	SourceID string
	Tool     string
	Err      error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("tool %s on %s returned a non-JSON body: %v", e.Tool, e.SourceID, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}

// IsRetryable checks if an error is retryable.
// Retryable errors are typically transient network or availability issues.
// The core never retries; this is exposed for callers that layer retry policy on top.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRequestFailed)
}

// IsNotFound checks if an error represents a "not found" condition
func IsNotFound(err error) bool {
	return errors.Is(err, ErrSourceNotFound) ||
		errors.Is(err, ErrDependencyMissing)
}

// IsConfigurationError checks if an error is configuration-related
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrInvalidConfiguration) ||
		errors.Is(err, ErrMissingConfiguration)
}
