/**
 * Custom error types for the MCQ processing service
 *
 * Every failure carries a stable code, the script it belongs to, and the
 * workflow stage that produced it, so the endpoint layer can log context
 * before converting to an outward-facing message.
 */

package errors

import (
	"errors"
	"fmt"
	"time"
)

// ErrorCode enum for structured error handling
type ErrorCode string

const (
	// Read-path errors (fatal to the request)
	ErrorConnectionFailed ErrorCode = "CONNECTION_FAILED"
	ErrorHTTPStatus       ErrorCode = "HTTP_ERROR"
	ErrorDecodeFailed     ErrorCode = "DECODE_ERROR"
	ErrorNoData           ErrorCode = "NO_DATA"

	// Generation errors (fatal to the request)
	ErrorPipelineFailed ErrorCode = "PIPELINE_FAILED"

	// Soft errors (reported, not escalated)
	ErrorLookupFailed      ErrorCode = "LOOKUP_FAILED"
	ErrorPersistenceFailed ErrorCode = "PERSISTENCE_FAILED"
)

// ServiceError represents a structured workflow error
type ServiceError struct {
	Code      ErrorCode
	Message   string
	ScriptID  int
	Stage     string
	Timestamp time.Time
	Details   map[string]interface{}
	Cause     error
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// Factory functions for common errors

func NewConnectionError(stage string, scriptID int, baseURL string, cause error) *ServiceError {
	return &ServiceError{
		Code:      ErrorConnectionFailed,
		Message:   fmt.Sprintf("failed to connect to API at %s", baseURL),
		ScriptID:  scriptID,
		Stage:     stage,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"base_url": baseURL,
		},
		Cause: cause,
	}
}

func NewHTTPError(stage string, scriptID int, status int, body string) *ServiceError {
	return &ServiceError{
		Code:      ErrorHTTPStatus,
		Message:   fmt.Sprintf("HTTP error occurred: status %d", status),
		ScriptID:  scriptID,
		Stage:     stage,
		Timestamp: time.Now(),
		Details: map[string]interface{}{
			"status_code": status,
			"body":        body,
		},
	}
}

func NewDecodeError(stage string, scriptID int, cause error) *ServiceError {
	return &ServiceError{
		Code:      ErrorDecodeFailed,
		Message:   "invalid JSON response from API",
		ScriptID:  scriptID,
		Stage:     stage,
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewNoDataError(scriptID int, message string) *ServiceError {
	return &ServiceError{
		Code:      ErrorNoData,
		Message:   message,
		ScriptID:  scriptID,
		Stage:     "fetch",
		Timestamp: time.Now(),
	}
}

func NewPipelineError(scriptID int, cause error) *ServiceError {
	return &ServiceError{
		Code:      ErrorPipelineFailed,
		Message:   "an error occurred while processing script pages",
		ScriptID:  scriptID,
		Stage:     "pipeline",
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewLookupError(scriptID int, cause error) *ServiceError {
	return &ServiceError{
		Code:      ErrorLookupFailed,
		Message:   "could not check for existing CompareText record",
		ScriptID:  scriptID,
		Stage:     "lookup",
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

func NewPersistenceError(scriptID int, cause error) *ServiceError {
	return &ServiceError{
		Code:      ErrorPersistenceFailed,
		Message:   "failed to save MCQ result to database",
		ScriptID:  scriptID,
		Stage:     "persist",
		Timestamp: time.Now(),
		Cause:     cause,
	}
}

// CodeOf returns the error code of err, or "" when err carries none
func CodeOf(err error) ErrorCode {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Code
	}
	return ""
}

// ToMap converts the error to a map for structured storage
func (e *ServiceError) ToMap() map[string]interface{} {
	result := map[string]interface{}{
		"error_code": string(e.Code),
		"message":    e.Message,
		"script_id":  e.ScriptID,
		"stage":      e.Stage,
		"timestamp":  e.Timestamp,
	}

	for k, v := range e.Details {
		result[k] = v
	}

	if e.Cause != nil {
		result["cause"] = e.Cause.Error()
	}

	return result
}
