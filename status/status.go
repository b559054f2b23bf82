// Package status defines the error taxonomy shared by every streaming-core
// component: a small set of named statuses plus an error type
// that carries one of them, in the spirit of the teacher's
// thrift.ApplicationException (a code plus a message, not a bare string).
package status

import "fmt"

// Status is the taxonomy of outcomes a streaming-core operation can report.
type Status int

const (
	OK Status = iota
	EmptyRingBuffer
	FullChannel
	NoSuchItem
	SkipSendEmptyMessage
	GetBundleTimeOut
	ChannelClosed
	InitQueueFailed
	BadMagic
	UnknownMessageType
	Truncated
	LengthMismatch
	IoError
	Interrupted
)

var names = [...]string{
	"OK",
	"EmptyRingBuffer",
	"FullChannel",
	"NoSuchItem",
	"SkipSendEmptyMessage",
	"GetBundleTimeOut",
	"ChannelClosed",
	"InitQueueFailed",
	"BadMagic",
	"UnknownMessageType",
	"Truncated",
	"LengthMismatch",
	"IoError",
	"Interrupted",
}

// String implements fmt.Stringer.
func (s Status) String() string {
	if int(s) < 0 || int(s) >= len(names) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return names[s]
}

// Error wraps a Status with a message and an optional underlying cause.
type Error struct {
	code  Status
	msg   string
	cause error
}

// New builds an *Error with no underlying cause.
func New(code Status, msg string) *Error {
	return &Error{code: code, msg: msg}
}

// Wrap builds an *Error that carries cause for %w-style unwrapping.
func Wrap(code Status, msg string, cause error) *Error {
	return &Error{code: code, msg: msg, cause: cause}
}

// Code returns the status code carried by e.
func (e *Error) Code() Status { return e.code }

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.msg)
}

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error { return e.cause }

// Is reports whether err is itself a *Error carrying code. It does not
// unwrap err.
func Is(err error, code Status) bool {
	e, ok := err.(*Error)
	return ok && e.code == code
}
