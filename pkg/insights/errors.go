package insights

import (
	"fmt"
	"time"
)

// Error codes as constants
const (
	ErrCodeConnectionFailed      = "CONNECTION_FAILED"
	ErrCodeNotConnected          = "NOT_CONNECTED"
	ErrCodeSessionClosed         = "SESSION_CLOSED"
	ErrCodeMicrophoneUnavailable = "MICROPHONE_UNAVAILABLE"
	ErrCodeWebSocket             = "WEBSOCKET_ERROR"
	ErrCodeJSONParse             = "JSON_PARSE_ERROR"
	ErrCodeInvalidAgent          = "INVALID_AGENT_CONFIG"
	ErrCodeInvalidModel          = "INVALID_MODEL"
	ErrCodeConfigInvalid         = "CONFIG_INVALID"
	ErrCodeTokenFailed           = "TOKEN_FAILED"
	ErrCodeTimeout               = "TIMEOUT_ERROR"
)

// Sentinels for errors.Is. Matching is by code.
var (
	ErrNotConnected          = &Error{Code: ErrCodeNotConnected, Message: "not connected to server"}
	ErrSessionClosed         = &Error{Code: ErrCodeSessionClosed, Message: "session is not running"}
	ErrMicrophoneUnavailable = &Error{Code: ErrCodeMicrophoneUnavailable, Message: "microphone unavailable"}
	ErrInvalidAgentConfig    = &Error{Code: ErrCodeInvalidAgent, Message: "invalid agent config"}
	ErrInvalidModel          = &Error{Code: ErrCodeInvalidModel, Message: "invalid model selection"}
)

// Error is a coded error with optional details and cause.
type Error struct {
	Code      string
	Message   string
	Timestamp time.Time
	Details   map[string]interface{}
	err       error
}

func NewError(message, code string) *Error {
	return &Error{
		Message:   message,
		Code:      code,
		Timestamp: time.Now(),
	}
}

// WrapError wraps err with a code. Returns nil for a nil err.
func WrapError(err error, code string) *Error {
	if err == nil {
		return nil
	}
	e := NewError(err.Error(), code)
	e.err = err
	return e
}

func (e *Error) Error() string {
	if e.err != nil && e.err.Error() != e.Message {
		return fmt.Sprintf("%s: %v", e.Message, e.err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.err
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) AddDetail(key string, value interface{}) *Error {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *Error) GetDetail(key string) (interface{}, bool) {
	if e.Details == nil {
		return nil, false
	}
	v, ok := e.Details[key]
	return v, ok
}

// IsRetryableError reports whether the transport layer recovers from err by itself.
func IsRetryableError(err *Error) bool {
	if err == nil {
		return false
	}
	switch err.Code {
	case ErrCodeConnectionFailed, ErrCodeWebSocket, ErrCodeTimeout, ErrCodeNotConnected:
		return true
	}
	return false
}
