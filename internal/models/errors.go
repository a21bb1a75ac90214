package models

import (
	"errors"
	"fmt"
)

type ErrorKind string

const (
	ErrorKindValidation     ErrorKind = "validation"
	ErrorKindRateLimited    ErrorKind = "rate_limited"
	ErrorKindTimeout        ErrorKind = "timeout"
	ErrorKindExternal       ErrorKind = "external"
	ErrorKindInternal       ErrorKind = "internal"
	ErrorKindResearchFailed ErrorKind = "research_failed"
)

// EngineError is the single error surface the engine exposes to callers.
// Transport-level errors from upstream services are carried as Cause and
// never returned raw.
type EngineError struct {
	Kind     ErrorKind
	Code     string
	Message  string
	Cause    error
	Metadata map[string]interface{}
}

func (e *EngineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// WithCause returns a copy carrying the underlying error, so predeclared
// errors stay immutable.
func (e *EngineError) WithCause(cause error) *EngineError {
	clone := *e
	clone.Cause = cause
	return &clone
}

func (e *EngineError) WithMetadata(key string, value interface{}) *EngineError {
	clone := *e
	clone.Metadata = make(map[string]interface{}, len(e.Metadata)+1)
	for k, v := range e.Metadata {
		clone.Metadata[k] = v
	}
	clone.Metadata[key] = value
	return &clone
}

func newError(kind ErrorKind, code, message string) *EngineError {
	return &EngineError{Kind: kind, Code: code, Message: message}
}

func NewValidationError(code, message string) *EngineError {
	return newError(ErrorKindValidation, code, message)
}

func NewRateLimitError(code, message string) *EngineError {
	return newError(ErrorKindRateLimited, code, message)
}

func NewTimeoutError(code, message string) *EngineError {
	return newError(ErrorKindTimeout, code, message)
}

func NewExternalError(code, message string) *EngineError {
	return newError(ErrorKindExternal, code, message)
}

func NewInternalError(code, message string) *EngineError {
	return newError(ErrorKindInternal, code, message)
}

func NewResearchFailedError(message string) *EngineError {
	return newError(ErrorKindResearchFailed, "RESEARCH_FAILED", message)
}

// WrapExternalError normalizes an upstream failure under a service tag,
// preserving an existing EngineError unchanged.
func WrapExternalError(service string, err error) *EngineError {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr
	}
	return NewExternalError(service+"_ERROR", "upstream call failed").WithCause(err)
}

func IsKind(err error, kind ErrorKind) bool {
	var engineErr *EngineError
	if errors.As(err, &engineErr) {
		return engineErr.Kind == kind
	}
	return false
}

func IsRateLimited(err error) bool {
	return IsKind(err, ErrorKindRateLimited)
}

func IsValidation(err error) bool {
	return IsKind(err, ErrorKindValidation)
}

func IsResearchFailed(err error) bool {
	return IsKind(err, ErrorKindResearchFailed)
}
