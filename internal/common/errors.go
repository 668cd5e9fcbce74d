package common

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error surfaced by the channels unwraps to one of these.
var (
	ErrMalformedPacket   = errors.New("malformed packet")
	ErrInvalidConfig     = errors.New("invalid config")
	ErrHandshakeTimeout  = errors.New("handshake timeout")
	ErrPeerUnreachable   = errors.New("peer unreachable")
	ErrProtocolMismatch  = errors.New("protocol mismatch")
	ErrFramingError      = errors.New("framing error")
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrClosed            = errors.New("channel closed")
)

// NoSequence marks an Error that does not refer to a fragment.
const NoSequence = -1

// Error carries the kind of a failure together with the context it happened in.
type Error struct {
	Kind     error
	Op       string
	Sequence int
	Expected int
	Actual   int
	Detail   string
	Err      error
}

func NewError(kind error, op string) *Error {
	return &Error{Kind: kind, Op: op, Sequence: NoSequence}
}

func (e *Error) WithSequence(seq uint16) *Error {
	e.Sequence = int(seq)
	return e
}

func (e *Error) WithMismatch(expected, actual int) *Error {
	e.Expected = expected
	e.Actual = actual
	return e
}

func (e *Error) WithDetail(format string, args ...any) *Error {
	e.Detail = fmt.Sprintf(format, args...)
	return e
}

func (e *Error) WithCause(err error) *Error {
	e.Err = err
	return e
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.Error())
	if e.Sequence != NoSequence {
		fmt.Fprintf(&b, " (sequence %d)", e.Sequence)
	}
	if e.Expected != 0 || e.Actual != 0 {
		fmt.Fprintf(&b, " (expected %d, got %d)", e.Expected, e.Actual)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}
