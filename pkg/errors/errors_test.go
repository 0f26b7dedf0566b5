package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestNew(t *testing.T) {
	err := New(CodeValidation, "validation failed", http.StatusUnprocessableEntity)

	if err.Code != CodeValidation {
		t.Errorf("expected code %s, got %s", CodeValidation, err.Code)
	}
	if err.Message != "validation failed" {
		t.Errorf("expected message 'validation failed', got %s", err.Message)
	}
	if err.HTTPStatus != http.StatusUnprocessableEntity {
		t.Errorf("expected status %d, got %d", http.StatusUnprocessableEntity, err.HTTPStatus)
	}
}

func TestWrap(t *testing.T) {
	originalErr := errors.New("ledger unavailable")
	wrapped := Wrap(originalErr, CodeInternal, "internal error", http.StatusInternalServerError)

	if wrapped.Err != originalErr {
		t.Errorf("expected wrapped error to contain original error")
	}
	if wrapped.Code != CodeInternal {
		t.Errorf("expected code %s, got %s", CodeInternal, wrapped.Code)
	}
}

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name: "without underlying error",
			appErr: &AppError{
				Code:    CodeNotFound,
				Message: "Booking not found",
			},
			expected: "NOT_FOUND: Booking not found",
		},
		{
			name: "with underlying error",
			appErr: &AppError{
				Code:    CodeCapacityConflict,
				Message: "gave up",
				Err:     errors.New("write conflict"),
			},
			expected: "CAPACITY_CONFLICT: gave up (caused by: write conflict)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.appErr.Error()
			if got != tt.expected {
				t.Errorf("Error() = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	originalErr := errors.New("original error")
	appErr := Wrap(originalErr, CodeInternal, "wrapped", http.StatusInternalServerError)

	if errors.Unwrap(appErr) != originalErr {
		t.Errorf("Unwrap() should return original error")
	}
}

func TestAppError_WithDetails(t *testing.T) {
	err := New(CodeValidation, "validation failed", http.StatusUnprocessableEntity)
	err = err.WithDetails(map[string]any{"field": "num_spots"})

	if err.Details["field"] != "num_spots" {
		t.Errorf("expected field 'num_spots', got %v", err.Details["field"])
	}
}

func TestNotFoundWithID(t *testing.T) {
	err := NotFoundWithID("Session", "12345")

	if err.Code != CodeNotFound {
		t.Errorf("expected code %s, got %s", CodeNotFound, err.Code)
	}
	if err.HTTPStatus != http.StatusNotFound {
		t.Errorf("expected status %d, got %d", http.StatusNotFound, err.HTTPStatus)
	}
	if err.Message != "Session not found" {
		t.Errorf("expected message 'Session not found', got %s", err.Message)
	}
	if err.Details["id"] != "12345" || err.Details["resource"] != "Session" {
		t.Errorf("unexpected details %v", err.Details)
	}
}

func TestDomainConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		wantCode   string
		wantStatus int
	}{
		{"validation", Validation("bad", nil), CodeValidation, http.StatusUnprocessableEntity},
		{"invalid input", InvalidInput("bad"), CodeInvalidInput, http.StatusBadRequest},
		{"conflict", Conflict("dup"), CodeConflict, http.StatusConflict},
		{"invalid transition", InvalidTransition("Booking", "checked_in", "cancelled"), CodeInvalidTransition, http.StatusConflict},
		{"state locked", StateLocked("cancelled session cannot change capacity", nil), CodeInvalidTransition, http.StatusConflict},
		{"session full", SessionFull("full", map[string]any{"reason": "waitlist_disabled"}), CodeSessionFull, http.StatusConflict},
		{"capacity conflict", CapacityConflict("retry budget exhausted", nil), CodeCapacityConflict, http.StatusConflict},
		{"internal", Internal("boom", errors.New("x")), CodeInternal, http.StatusInternalServerError},
		{"timeout", Timeout("slow"), CodeTimeout, http.StatusGatewayTimeout},
		{"unavailable", Unavailable("Ledger"), CodeUnavailable, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, tt.err.Code)
			}
			if tt.err.StatusCode() != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, tt.err.StatusCode())
			}
		})
	}
}

func TestInvalidTransition_Details(t *testing.T) {
	err := InvalidTransition("Booking", "checked_in", "cancelled")

	if err.Details["from"] != "checked_in" || err.Details["to"] != "cancelled" {
		t.Errorf("unexpected details %v", err.Details)
	}
	if !strings.Contains(err.Message, "checked_in") {
		t.Errorf("message should name the source status, got %s", err.Message)
	}
}

func TestAsAppError(t *testing.T) {
	appErr := NotFound("Booking")
	regularErr := errors.New("regular error")

	if AsAppError(appErr) != appErr {
		t.Errorf("AsAppError() should return same AppError")
	}

	result := AsAppError(regularErr)
	if result.Code != CodeInternal {
		t.Errorf("AsAppError() should wrap regular error as internal error")
	}
	if result.Err != regularErr {
		t.Errorf("AsAppError() should wrap the original error")
	}

	wrapped := fmt.Errorf("engine: %w", appErr)
	if AsAppError(wrapped) != appErr {
		t.Errorf("AsAppError() should unwrap to the AppError")
	}
	if !IsAppError(wrapped) {
		t.Errorf("IsAppError() should see through wrapping")
	}
}

func TestHasCode(t *testing.T) {
	err := fmt.Errorf("create: %w", SessionFull("full", nil))

	if !HasCode(err, CodeSessionFull) {
		t.Errorf("HasCode() should match SESSION_FULL")
	}
	if HasCode(err, CodeNotFound) {
		t.Errorf("HasCode() should not match NOT_FOUND")
	}
	if HasCode(errors.New("plain"), CodeSessionFull) {
		t.Errorf("HasCode() should be false for plain errors")
	}
}

func TestAppError_ToJSON(t *testing.T) {
	jsonStr := string(NotFoundWithID("Booking", "12345").ToJSON())

	if !strings.Contains(jsonStr, "NOT_FOUND") {
		t.Errorf("ToJSON() should contain error code")
	}
	if !strings.Contains(jsonStr, "not found") {
		t.Errorf("ToJSON() should contain error message")
	}
}
