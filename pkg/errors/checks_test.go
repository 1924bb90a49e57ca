package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestAsError(t *testing.T) {
	platformErr := New(CodeValidation, "test")

	got, ok := AsError(platformErr)
	if !ok || got != platformErr {
		t.Error("AsError should return the same platform error")
	}

	wrapped := Wrap(platformErr, CodeInternal, "wrapper")
	got, ok = AsError(wrapped)
	if !ok {
		t.Fatal("AsError should return true for wrapped platform error")
	}
	if got.Code != CodeInternal {
		t.Errorf("AsError should return outer error, got code %v", got.Code)
	}

	got, ok = AsError(errors.New("standard error"))
	if ok || got != nil {
		t.Error("AsError should return false for standard error")
	}

	got, ok = AsError(nil)
	if ok || got != nil {
		t.Error("AsError should return false for nil")
	}
}

func TestAsError_JoinedChain(t *testing.T) {
	platformErr := New(CodeTokenExpired, "expired")
	joined := errors.Join(errors.New("outer"), platformErr)

	got, ok := AsError(joined)
	if !ok {
		t.Fatal("AsError should find platform error in joined chain")
	}
	if got.Code != CodeTokenExpired {
		t.Errorf("got code %v, want %v", got.Code, CodeTokenExpired)
	}
}

func TestGetCode_HasCode(t *testing.T) {
	err := fmt.Errorf("verify: %w", New(CodeIssuerMismatch, "issuer"))

	if got := GetCode(err); got != CodeIssuerMismatch {
		t.Errorf("GetCode() = %v", got)
	}
	if !HasCode(err, CodeIssuerMismatch) {
		t.Error("HasCode should be true")
	}
	if HasCode(err, CodeTokenExpired) {
		t.Error("HasCode should be false for a different code")
	}
	if GetCode(errors.New("plain")) != "" {
		t.Error("GetCode should be empty for a standard error")
	}
}

func TestCategoryChecks(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		check func(error) bool
		want  bool
	}{
		{"validation", Validation("x"), IsValidation, true},
		{"validation on auth", ErrTokenExpired, IsValidation, false},
		{"authentication", ErrInvalidSignature, IsAuthentication, true},
		{"authentication excludes authz", ErrDenied, IsAuthentication, false},
		{"authorization", Denied(), IsAuthorization, true},
		{"not found", NotFoundf("order %d", 9), IsNotFound, true},
		{"acquisition", ErrAcquisitionFailed, IsAcquisition, true},
		{"internal", Internal("x"), IsInternal, true},
		{"unavailable", New(CodeUnavailableDependency, "x"), IsUnavailable, true},
		{"conflict", New(CodeConflict, "x"), IsConflict, true},
		{"upstream", New(CodeUpstreamRejected, "x"), IsUpstream, true},
		{"upstream is not acquisition", New(CodeUpstreamRejected, "x"), IsAcquisition, false},
		{"timeout", New(CodeTimeout, "x"), IsTimeout, true},
		{"standard error", errors.New("x"), IsInternal, false},
		{"nil", nil, IsAuthentication, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.check(tt.err); got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsClientError(t *testing.T) {
	for _, err := range []error{Validation("x"), ErrMalformedToken, Denied(), NotFoundf("x"), New(CodeConflict, "x")} {
		if !IsClientError(err) {
			t.Errorf("IsClientError(%v) = false, want true", err)
		}
	}
	for _, err := range []error{ErrAcquisitionFailed, Internal("x"), New(CodeUnavailable, "x"), errors.New("x")} {
		if IsClientError(err) {
			t.Errorf("IsClientError(%v) = true, want false", err)
		}
	}
}
