// Package errors provides structured error types for hopper.
// These errors carry the operation that failed and a Kind that maps
// one-to-one onto the error kinds reported over the wire.
package errors

import (
	"errors"
	"fmt"
)

// Op describes an operation, usually as "package.function".
type Op string

// Kind categorizes the type of error.
type Kind int

const (
	KindUnknown Kind = iota
	KindNotFound
	KindBadRequest
	KindUnknownMessageType
	KindCorruptState
	KindIO
	KindSingletonConflict
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindBadRequest:
		return "bad request"
	case KindUnknownMessageType:
		return "unknown message type"
	case KindCorruptState:
		return "corrupt state"
	case KindIO:
		return "I/O error"
	case KindSingletonConflict:
		return "singleton conflict"
	default:
		return "unknown error"
	}
}

// WireName returns the name used for the kind in protocol error payloads.
func (k Kind) WireName() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindBadRequest:
		return "BadRequest"
	case KindUnknownMessageType:
		return "UnknownMessageType"
	case KindCorruptState:
		return "CorruptStateError"
	case KindIO:
		return "IOError"
	case KindSingletonConflict:
		return "SingletonConflict"
	default:
		return "Internal"
	}
}

// KindFromWireName is the inverse of WireName. Unrecognized names map to KindUnknown.
func KindFromWireName(name string) Kind {
	for k := KindNotFound; k <= KindSingletonConflict; k++ {
		if k.WireName() == name {
			return k
		}
	}
	return KindUnknown
}

// Error is the structured error type for hopper.
type Error struct {
	Op      Op     // Operation that failed
	Kind    Kind   // Category of error
	Err     error  // Underlying error
	Context string // Additional context
}

// Error returns the error message.
func (e *Error) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Context, e.Err)
	}
	if e.Op != "" {
		return fmt.Sprintf("%s: %s", e.Op, e.Err)
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// E creates a new Error. Arguments can be:
// - Op: the operation name
// - Kind: the error kind
// - string: context message
// - error: the underlying error
func E(args ...interface{}) error {
	e := &Error{}
	for _, arg := range args {
		switch a := arg.(type) {
		case Op:
			e.Op = a
		case Kind:
			e.Kind = a
		case string:
			e.Context = a
		case error:
			e.Err = a
		}
	}
	if e.Err == nil {
		e.Err = errors.New(e.Context)
		e.Context = ""
	}
	return e
}

// Is reports whether err is of the given Kind.
func Is(err error, kind Kind) bool {
	return GetKind(err) == kind
}

// GetKind returns the Kind of an error. Nested *Error values are searched
// outermost first and the first non-unknown kind wins.
func GetKind(err error) Kind {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return KindUnknown
		}
		if e.Kind != KindUnknown {
			return e.Kind
		}
		err = e.Err
	}
	return KindUnknown
}

// Session errors
func SessionNotFound(id string) error {
	return E(Op("state.Sessions"), KindNotFound, fmt.Sprintf("session %s not found", id))
}

// Backlog errors
func BacklogNotFound(id string) error {
	return E(Op("state.Backlog"), KindNotFound, fmt.Sprintf("backlog item %s not found", id))
}

// Request errors
func BadRequest(op Op, reason string) error {
	return E(op, KindBadRequest, reason)
}

func MissingField(op Op, field string) error {
	return E(op, KindBadRequest, fmt.Sprintf("missing required field %q", field))
}

func UnknownMessageType(msgType string) error {
	return E(Op("server.Dispatch"), KindUnknownMessageType, fmt.Sprintf("unknown message type %q", msgType))
}

// Persistence errors
func SaveFailed(path string, err error) error {
	return E(Op("jsonl.Save"), KindIO, fmt.Sprintf("failed to save %s", path), err)
}

func LoadFailed(path string, err error) error {
	return E(Op("jsonl.Load"), KindIO, fmt.Sprintf("failed to read %s", path), err)
}

// Server lifecycle errors
func SingletonConflict(socketPath string) error {
	return E(Op("server.Listen"), KindSingletonConflict, fmt.Sprintf("another hopper server is already listening on %s", socketPath))
}
