package domain

import (
	"errors"
	"fmt"
)

type ErrorCode string

const (
	CodeAuthFailed        ErrorCode = "AUTH_FAILED"
	CodeNotAMember        ErrorCode = "NOT_A_MEMBER"
	CodeNotJoined         ErrorCode = "NOT_JOINED"
	CodeInvalidContent    ErrorCode = "INVALID_CONTENT"
	CodeMalformedEvent    ErrorCode = "MALFORMED_EVENT"
	CodePersistenceFailed ErrorCode = "PERSISTENCE_FAILED"
	CodeInternal          ErrorCode = "INTERNAL"
)

// ErrorEvent is the only error shape that crosses the wire to a client.
// Internal errors are normalized into it and never leak raw.
type ErrorEvent struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// GatewayError carries a protocol error code alongside the wrapped cause.
type GatewayError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *GatewayError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// Event returns the client-facing shape of the error.
func (e *GatewayError) Event() ErrorEvent {
	return ErrorEvent{Code: e.Code, Message: e.Message}
}

func NewGatewayError(code ErrorCode, message string, cause error) *GatewayError {
	return &GatewayError{Code: code, Message: message, Err: cause}
}

// AsGatewayError extracts a GatewayError from err, or wraps err as an
// internal error so clients always see the normalized shape.
func AsGatewayError(err error) *GatewayError {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge
	}
	return &GatewayError{Code: CodeInternal, Message: "internal error", Err: err}
}
