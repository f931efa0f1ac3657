package apitable

import (
	"errors"
	"fmt"
)

// Error codes reported alongside failed dispatches.
const (
	CodeInvalidPayload    = "INVALID_PAYLOAD"
	CodeMissingField      = "MISSING_FIELD"
	CodeUnknownAction     = "UNKNOWN_ACTION"
	CodeReadOnlyViolation = "READ_ONLY_VIOLATION"
	CodeTransportError    = "TRANSPORT_ERROR"
)

// ErrReadOnly is returned when a non-GET request is attempted with read-only
// credentials. No network I/O happens in that case.
var ErrReadOnly = errors.New("write operations are disabled in read-only mode")

// InvalidPayloadError reports a payload string that is not valid JSON.
type InvalidPayloadError struct {
	Raw string
	Err error
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("invalid JSON payload %q: %v", e.Raw, e.Err)
}

func (e *InvalidPayloadError) Unwrap() error { return e.Err }

// MissingFieldError reports a blank parameter required by an action.
type MissingFieldError struct {
	Action Action
	Field  string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("%s is required for %s", e.Field, e.Action)
}

// UnknownActionError reports an action name outside the supported set.
type UnknownActionError struct {
	Action string
}

func (e *UnknownActionError) Error() string {
	return fmt.Sprintf("unknown action %q", e.Action)
}

// TransportError wraps any failure while building, sending or reading the
// HTTP exchange.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return e.Err.Error() }

func (e *TransportError) Unwrap() error { return e.Err }

// ErrorCode maps a dispatch error to its stable code. Unrecognized errors are
// reported as transport errors.
func ErrorCode(err error) string {
	var (
		invalid *InvalidPayloadError
		missing *MissingFieldError
		unknown *UnknownActionError
	)
	switch {
	case errors.As(err, &invalid):
		return CodeInvalidPayload
	case errors.As(err, &missing):
		return CodeMissingField
	case errors.As(err, &unknown):
		return CodeUnknownAction
	case errors.Is(err, ErrReadOnly):
		return CodeReadOnlyViolation
	default:
		return CodeTransportError
	}
}

// ErrorMessage renders a dispatch error as the text message shown to the
// caller.
func ErrorMessage(err error) Message {
	var (
		invalid *InvalidPayloadError
		missing *MissingFieldError
		unknown *UnknownActionError
	)
	switch {
	case errors.As(err, &invalid):
		return TextMessage("Error: Invalid JSON format in payload: " + invalid.Raw)
	case errors.As(err, &missing):
		return TextMessage(fmt.Sprintf("Error: %s is required for %s.", missing.Field, missing.Action))
	case errors.As(err, &unknown):
		return TextMessage("Error: Unknown action " + unknown.Action)
	case errors.Is(err, ErrReadOnly):
		return TextMessage("Error: Tool is configured in Read-Only mode. Write operations are disabled.")
	default:
		return TextMessage("Error executing API call: " + err.Error())
	}
}
