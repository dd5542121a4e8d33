package models

import (
	"errors"
	"fmt"
)

// TransportErrorKind classifies failures at the device HTTP boundary.
type TransportErrorKind string

const (
	// TransportUnreachable indicates a connection-level failure (refused,
	// DNS, reset) before any HTTP response arrived.
	TransportUnreachable TransportErrorKind = "unreachable"
	// TransportTimeout indicates the configured deadline elapsed.
	TransportTimeout TransportErrorKind = "timeout"
	// TransportServerError indicates the device answered with a non-2xx status.
	TransportServerError TransportErrorKind = "server_error"
	// TransportMalformedBody indicates a 2xx response whose body could not
	// be decoded into the expected shape.
	TransportMalformedBody TransportErrorKind = "malformed_body"
)

// TransportError is the normalized failure for any device API call.
// StatusCode and Message are populated when the device produced a response.
type TransportError struct {
	Kind       TransportErrorKind
	StatusCode int
	Message    string
	Err        error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	switch {
	case e.Kind == TransportServerError && e.Message != "":
		return fmt.Sprintf("device error (HTTP %d): %s", e.StatusCode, e.Message)
	case e.Kind == TransportServerError:
		return fmt.Sprintf("device error (HTTP %d)", e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("device %s: %v", e.Kind, e.Err)
	default:
		return fmt.Sprintf("device %s", e.Kind)
	}
}

// Unwrap returns the underlying cause, if any.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportKind reports whether err wraps a TransportError of the given kind.
func IsTransportKind(err error, kind TransportErrorKind) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Kind == kind
}

// CommandRejectionKind classifies why the dispatcher refused a command
// without calling the device.
type CommandRejectionKind string

const (
	// RejectionBusy indicates another command was already in flight.
	RejectionBusy CommandRejectionKind = "busy"
	// RejectionPrecondition indicates the last-known state ruled the command out.
	RejectionPrecondition CommandRejectionKind = "precondition"
)

// CommandRejectedError is returned when a command is refused locally.
// No device call is made for a rejected command.
type CommandRejectedError struct {
	Kind    CommandRejectionKind
	Command CommandKind
	Reason  string
}

// Error implements the error interface.
func (e *CommandRejectedError) Error() string {
	return fmt.Sprintf("%s rejected (%s): %s", e.Command, e.Kind, e.Reason)
}

// IsBusy reports whether err is a busy rejection.
func IsBusy(err error) bool {
	var re *CommandRejectedError
	return errors.As(err, &re) && re.Kind == RejectionBusy
}

// IsPreconditionFailed reports whether err is a precondition rejection.
func IsPreconditionFailed(err error) bool {
	var re *CommandRejectedError
	return errors.As(err, &re) && re.Kind == RejectionPrecondition
}

// ErrStreamFailed indicates the stream session exhausted its single retry
// and will not reconnect without an explicit state change.
var ErrStreamFailed = errors.New("stream session failed after retry")
