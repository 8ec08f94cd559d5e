package insights

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorMatchesByCode(t *testing.T) {
	cause := errors.New("device busy")
	err := fmt.Errorf("start capture: %w", WrapError(cause, ErrCodeMicrophoneUnavailable))

	if !errors.Is(err, ErrMicrophoneUnavailable) {
		t.Error("wrapped error does not match its sentinel")
	}
	if errors.Is(err, ErrNotConnected) {
		t.Error("error matched a different code")
	}
	if !errors.Is(err, cause) {
		t.Error("cause lost through WrapError")
	}
}

func TestWrapErrorNil(t *testing.T) {
	if WrapError(nil, ErrCodeWebSocket) != nil {
		t.Error("WrapError(nil) should be nil")
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{"plain", NewError("boom", ErrCodeTimeout), "boom"},
		{"wrapped", WrapError(errors.New("eof"), ErrCodeWebSocket), "eof"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestErrorDetails(t *testing.T) {
	e := NewError("bad config", ErrCodeConfigInvalid).AddDetail("field", "endpoint")
	if v, ok := e.GetDetail("field"); !ok || v != "endpoint" {
		t.Errorf("GetDetail = %v, %v", v, ok)
	}
	if _, ok := e.GetDetail("missing"); ok {
		t.Error("GetDetail found a missing key")
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		code string
		want bool
	}{
		{ErrCodeConnectionFailed, true},
		{ErrCodeWebSocket, true},
		{ErrCodeNotConnected, true},
		{ErrCodeInvalidAgent, false},
		{ErrCodeConfigInvalid, false},
	}
	for _, tt := range tests {
		if got := IsRetryableError(NewError("x", tt.code)); got != tt.want {
			t.Errorf("IsRetryableError(%s) = %v, want %v", tt.code, got, tt.want)
		}
	}
	if IsRetryableError(nil) {
		t.Error("IsRetryableError(nil) = true")
	}
}
