package broker

import (
	"errors"
	"fmt"
)

// Error codes surfaced to send callers and to extensions in error envelopes
const (
	CodeAuthenticationFailed = "AUTHENTICATION_FAILED"
	CodeMaxSessionsExceeded  = "MAX_SESSIONS_EXCEEDED"
	CodeValidationError      = "VALIDATION_ERROR"
	CodeNoActiveDevice       = "NO_ACTIVE_DEVICE"
	CodeRequestTimeout       = "REQUEST_TIMEOUT"
	CodeConnectionLost       = "CONNECTION_LOST"
	CodeUnknownMessageType   = "UNKNOWN_MESSAGE_TYPE"
	CodeNotAuthenticated     = "NOT_AUTHENTICATED"
	CodeInvalidMessage       = "INVALID_MESSAGE"
)

// SendError is a typed failure for outward send operations. Callers branch
// on Code, not on the message text.
type SendError struct {
	Code    string
	Message string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewSendError creates a typed send failure
func NewSendError(code, format string, args ...interface{}) *SendError {
	return &SendError{
		Code:    code,
		Message: fmt.Sprintf(format, args...),
	}
}

// ErrorCode extracts the failure code from an error, or returns an empty
// string for untyped errors.
func ErrorCode(err error) string {
	var sendErr *SendError
	if errors.As(err, &sendErr) {
		return sendErr.Code
	}
	return ""
}
