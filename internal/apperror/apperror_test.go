package apperror

import (
	"errors"
	"fmt"
	"testing"
)

func TestSentinelsUnwrap(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		sentinel error
	}{
		{"not found", NotFound("script", "abc"), ErrNotFound},
		{"validation", ValidationFailed("email", "required"), ErrValidation},
		{"conflict", Conflict("user", "a@example.com"), ErrConflict},
		{"forbidden", Forbidden("no"), ErrForbidden},
		{"unauthorized", Unauthorized("login first"), ErrUnauthorized},
		{"resource", Resource("spawning python3", errors.New("enoent")), ErrResource},
		{"storage", Storage("copying file", errors.New("enospc")), ErrStorage},
		{"package verification", PackageVerification("pandas"), ErrPackageVerification},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%v, sentinel) = false", tt.err)
			}
			if tt.err.Message == "" {
				t.Error("expected a human-readable message")
			}
		})
	}
}

func TestErrorsIs_ThroughWrapping(t *testing.T) {
	inner := NotFound("execution", "x1")
	wrapped := fmt.Errorf("loading execution: %w", inner)

	if !errors.Is(wrapped, ErrNotFound) {
		t.Error("sentinel lost through fmt.Errorf wrapping")
	}

	var appErr *AppError
	if !errors.As(wrapped, &appErr) {
		t.Fatal("errors.As failed through wrapping")
	}
	if appErr.Message != inner.Message {
		t.Errorf("Message = %q, want %q", appErr.Message, inner.Message)
	}
}

func TestCauseIsPreservedInMessage(t *testing.T) {
	err := Storage("copying chart.png", errors.New("disk full"))
	if got := err.Error(); got == "" || err.Message == "copying chart.png" {
		t.Errorf("cause missing from message: %q", got)
	}
}
