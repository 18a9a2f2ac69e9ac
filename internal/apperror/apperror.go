package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrValidation   = errors.New("validation error")
	ErrConflict     = errors.New("conflict")
	ErrForbidden    = errors.New("forbidden")
	ErrUnauthorized = errors.New("unauthorized")

	// ErrResource means the system could not allocate what an execution
	// needs (workspace directory, child process). Fatal for the execution.
	ErrResource = errors.New("resource error")

	// ErrStorage means the permanent store could not take ownership of the
	// output files. Degrades the result, does not abort the execution.
	ErrStorage = errors.New("storage error")

	// ErrPackageVerification means a package installed on demand still
	// fails to import. Fatal before the script runs.
	ErrPackageVerification = errors.New("package verification failed")
)

type AppError struct {
	Err     error  // sentinel cause
	Message string // Human-readable error message
	Field   string // Optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized returns an AppError for missing or invalid credentials.
// HTTP handlers map this to 401 Unauthorized.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

func Resource(message string, cause error) *AppError {
	if cause != nil {
		message = fmt.Sprintf("%s: %v", message, cause)
	}
	return &AppError{
		Err:     ErrResource,
		Message: message,
	}
}

func Storage(message string, cause error) *AppError {
	if cause != nil {
		message = fmt.Sprintf("%s: %v", message, cause)
	}
	return &AppError{
		Err:     ErrStorage,
		Message: message,
	}
}

// PackageVerification carries the retry hint the dashboard shows: the user
// should either reinstall the package or restart and retry the execution.
func PackageVerification(pkg string) *AppError {
	return &AppError{
		Err:     ErrPackageVerification,
		Message: fmt.Sprintf("package %q installed but failed import verification; reinstall it or retry the execution", pkg),
	}
}
