package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a category of session error.
type ErrorCode string

const (
	// ErrCodeProviderUnavailable indicates the identity provider could not be reached or failed.
	ErrCodeProviderUnavailable ErrorCode = "provider_unavailable"
	// ErrCodeRoleNotFound indicates the identity has no profile.
	ErrCodeRoleNotFound ErrorCode = "role_not_found"
	// ErrCodeRoleAmbiguous indicates a profile exists but carries no role.
	ErrCodeRoleAmbiguous ErrorCode = "role_ambiguous"
	// ErrCodeCacheUnavailable indicates durable or ephemeral storage is denied or broken.
	ErrCodeCacheUnavailable ErrorCode = "cache_unavailable"
	// ErrCodeTimeout indicates an attempt did not finish within its deadline.
	ErrCodeTimeout ErrorCode = "timeout"
	// ErrCodeConflict indicates a conflict with existing data (e.g., unique constraint violation).
	ErrCodeConflict ErrorCode = "conflict"
	// ErrCodeValidation indicates invalid input data.
	ErrCodeValidation ErrorCode = "validation"
	// ErrCodeCanceled indicates the operation was canceled.
	ErrCodeCanceled ErrorCode = "canceled"
	// ErrCodeInternal indicates an unexpected failure.
	ErrCodeInternal ErrorCode = "internal"
)

// AppError represents a structured error with a code, message, and optional cause.
// It supports error wrapping and unwrapping for use with errors.Is and errors.As.
type AppError struct {
	// Code categorizes the error type
	Code ErrorCode
	// Message is a human-readable error message
	Message string
	// Cause is the underlying error that caused this error (optional)
	Cause error
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying cause, enabling errors.Is and errors.As.
func (e *AppError) Unwrap() error {
	return e.Cause
}

// ProviderUnavailable wraps a failure talking to the identity provider.
func ProviderUnavailable(cause error) *AppError {
	return &AppError{
		Code:    ErrCodeProviderUnavailable,
		Message: "identity provider unavailable",
		Cause:   cause,
	}
}

// RoleNotFound reports that the identity has no profile.
func RoleNotFound(identityID string) *AppError {
	return &AppError{
		Code:    ErrCodeRoleNotFound,
		Message: fmt.Sprintf("no profile for identity %q", identityID),
	}
}

// RoleAmbiguous reports that the identity's profile has no role.
func RoleAmbiguous(identityID string) *AppError {
	return &AppError{
		Code:    ErrCodeRoleAmbiguous,
		Message: fmt.Sprintf("profile for identity %q has no role", identityID),
	}
}

// CacheUnavailable wraps a storage failure.
func CacheUnavailable(cause error) *AppError {
	return &AppError{
		Code:    ErrCodeCacheUnavailable,
		Message: "cache unavailable",
		Cause:   cause,
	}
}

// Timeout creates a new Timeout error.
func Timeout(message string) *AppError {
	return &AppError{
		Code:    ErrCodeTimeout,
		Message: message,
	}
}

// Timeoutf creates a new Timeout error with formatted message.
func Timeoutf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeTimeout,
		Message: fmt.Sprintf(format, args...),
	}
}

// Validation creates a new Validation error.
func Validation(message string) *AppError {
	return &AppError{
		Code:    ErrCodeValidation,
		Message: message,
	}
}

// Internalf creates a new Internal error with formatted message.
func Internalf(format string, args ...any) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: fmt.Sprintf(format, args...),
	}
}

// Wrap wraps an existing error with an AppError, preserving the cause.
func Wrap(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// Wrapf wraps an existing error with an AppError and formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// IsCode checks if an error has a specific error code anywhere in its chain.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var appErr *AppError
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Cause
	}
	return false
}

// IsProviderUnavailable checks if an error is a ProviderUnavailable error.
func IsProviderUnavailable(err error) bool {
	return IsCode(err, ErrCodeProviderUnavailable)
}

// IsRoleNotFound checks if an error is a RoleNotFound error.
func IsRoleNotFound(err error) bool {
	return IsCode(err, ErrCodeRoleNotFound)
}

// IsRoleAmbiguous checks if an error is a RoleAmbiguous error.
func IsRoleAmbiguous(err error) bool {
	return IsCode(err, ErrCodeRoleAmbiguous)
}

// IsCacheUnavailable checks if an error is a CacheUnavailable error.
func IsCacheUnavailable(err error) bool {
	return IsCode(err, ErrCodeCacheUnavailable)
}

// IsTimeout checks if an error is a Timeout error.
func IsTimeout(err error) bool {
	return IsCode(err, ErrCodeTimeout)
}

// IsConflict checks if an error is a Conflict error.
func IsConflict(err error) bool {
	return IsCode(err, ErrCodeConflict)
}

// GetCode returns the outermost ErrorCode from an error, or empty string if not an AppError.
func GetCode(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}
