// Package errors provides a lightweight structured error type (ForgeError)
// for category-based classification and retry semantics in HTTP adapters and CLI.
package errors

import (
	"fmt"
)

// ErrorCategory represents the category of a fwforge error for classification
type ErrorCategory string

const (
	// User-facing configuration and input errors
	CategoryConfig     ErrorCategory = "config"
	CategoryValidation ErrorCategory = "validation"
	CategoryNotFound   ErrorCategory = "not_found"

	// Submission contention: the project is already running a unit
	CategoryBusy ErrorCategory = "busy"

	// Toolchain process errors
	CategoryLaunch    ErrorCategory = "launch"
	CategoryExecution ErrorCategory = "execution"
	CategoryArtifact  ErrorCategory = "artifact"

	// External system integration errors
	CategoryNetwork ErrorCategory = "network"
	CategoryGit     ErrorCategory = "git"

	// Runtime and infrastructure errors
	CategoryStorage  ErrorCategory = "storage"
	CategoryDaemon   ErrorCategory = "daemon"
	CategoryInternal ErrorCategory = "internal"
)

// ErrorSeverity indicates how critical an error is
type ErrorSeverity string

const (
	SeverityFatal   ErrorSeverity = "fatal"   // Stops execution
	SeverityError   ErrorSeverity = "error"   // Error, but not fatal
	SeverityWarning ErrorSeverity = "warning" // Continues with degraded functionality
	SeverityInfo    ErrorSeverity = "info"    // Informational, no impact
)

// ForgeError is a structured error with category, retryability, and context
type ForgeError struct {
	Category  ErrorCategory `json:"category"`
	Severity  ErrorSeverity `json:"severity"`
	Message   string        `json:"message"`
	Cause     error         `json:"cause,omitempty"`
	Retryable bool          `json:"retryable"`
	Context   ContextFields `json:"context,omitempty"`
}

// ContextFields carries structured context for ForgeError
type ContextFields map[string]any

// Error implements the error interface
func (e *ForgeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s (%s): %s: %v", e.Category, e.Severity, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s (%s): %s", e.Category, e.Severity, e.Message)
}

// Unwrap implements error unwrapping for Go 1.13+ error handling
func (e *ForgeError) Unwrap() error {
	return e.Cause
}

// WithContext adds context information to the error
func (e *ForgeError) WithContext(key string, value any) *ForgeError {
	if e.Context == nil {
		e.Context = make(ContextFields)
	}
	e.Context[key] = value
	return e
}

// New creates a new ForgeError
func New(category ErrorCategory, severity ErrorSeverity, message string) *ForgeError {
	return &ForgeError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: false,
	}
}

// Wrap creates a new ForgeError that wraps an existing error
func Wrap(err error, category ErrorCategory, severity ErrorSeverity, message string) *ForgeError {
	return &ForgeError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: false,
	}
}

// Retryable creates a new retryable ForgeError
func Retryable(category ErrorCategory, severity ErrorSeverity, message string) *ForgeError {
	return &ForgeError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Retryable: true,
	}
}

// WrapRetryable creates a new retryable ForgeError that wraps an existing error
func WrapRetryable(err error, category ErrorCategory, severity ErrorSeverity, message string) *ForgeError {
	return &ForgeError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Cause:     err,
		Retryable: true,
	}
}

// IsCategory checks if an error belongs to a specific category
func IsCategory(err error, category ErrorCategory) bool {
	if fe, ok := err.(*ForgeError); ok {
		return fe.Category == category
	}
	return false
}

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if fe, ok := err.(*ForgeError); ok {
		return fe.Retryable
	}
	return false
}

// GetCategory extracts the category from an error, or returns CategoryInternal if not a ForgeError
func GetCategory(err error) ErrorCategory {
	if fe, ok := err.(*ForgeError); ok {
		return fe.Category
	}
	return CategoryInternal
}

// ValidationError creates a new validation error (400 Bad Request)
func ValidationError(message string) *ForgeError {
	return &ForgeError{
		Category:  CategoryValidation,
		Severity:  SeverityWarning,
		Message:   message,
		Retryable: false,
	}
}

// WrapError wraps an existing error with a new ForgeError
func WrapError(err error, category ErrorCategory, message string) *ForgeError {
	return &ForgeError{
		Category:  category,
		Severity:  SeverityError,
		Message:   message,
		Cause:     err,
		Retryable: false,
	}
}
