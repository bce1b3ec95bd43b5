package model

import "fmt"

// ErrorCode represents a structured API error code.
type ErrorCode string

const (
	ErrValidation ErrorCode = "VALIDATION_ERROR"
	ErrNotFound   ErrorCode = "NOT_FOUND"
	ErrConflict   ErrorCode = "CONFLICT"
	ErrInternal   ErrorCode = "INTERNAL_ERROR"
)

// APIError is a structured error returned by the LightCI API.
type APIError struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// FieldError describes a validation error on a specific field.
type FieldError struct {
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// NewValidationError creates an APIError with validation details.
func NewValidationError(msg string, details ...FieldError) *APIError {
	return &APIError{Code: ErrValidation, Message: msg, Details: details}
}

// NewNotFoundError creates a NOT_FOUND APIError.
func NewNotFoundError(resource, id string) *APIError {
	return &APIError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s '%s' not found", resource, id),
	}
}

// NewConflictError creates a CONFLICT APIError.
func NewConflictError(msg string) *APIError {
	return &APIError{Code: ErrConflict, Message: msg}
}

// NewInternalError creates an INTERNAL_ERROR APIError.
func NewInternalError(msg string) *APIError {
	return &APIError{Code: ErrInternal, Message: msg}
}

// ErrorKind classifies engine-internal failures.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation"
	KindConfig     ErrorKind = "config"
	KindExecutor   ErrorKind = "executor"
	KindDatabase   ErrorKind = "database"
	KindGit        ErrorKind = "git"
	KindWorkspace  ErrorKind = "workspace"
	KindArtifact   ErrorKind = "artifact"
)

// EngineError wraps a failure with its taxonomy kind. Per-step failures are
// recorded on StepResults instead; EngineError is for faults that concern a
// whole operation (trigger, persistence, workspace preparation).
type EngineError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *EngineError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Msg)
}

func (e *EngineError) Unwrap() error { return e.Err }

// NewEngineError creates an EngineError of the given kind.
func NewEngineError(kind ErrorKind, msg string, err error) *EngineError {
	return &EngineError{Kind: kind, Msg: msg, Err: err}
}

// InvalidTransitionError is returned when a state transition is not allowed.
type InvalidTransitionError struct {
	Entity string
	ID     string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid %s state transition: %s → %s (entity %s)", e.Entity, e.From, e.To, e.ID)
}
