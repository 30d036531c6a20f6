// Package apierr defines the error taxonomy shared by the Streamer, reader
// paths, and basin/stream configuration store, and how it maps onto HTTP
// status codes at the transport boundary.
package apierr

import (
	"errors"
	"fmt"
)

// Kind is a coarse error classification, not a Go type — every layer above
// the KV store surfaces one of these regardless of the underlying cause.
type Kind int

const (
	KindUnspecified Kind = iota
	KindNotFound
	KindAlreadyExists
	KindInvalidArgument
	KindWrongSeq
	KindNonMonotonicTimestamp
	KindUnavailable
	KindAborted
	KindCorrupt
	KindInternal
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindAlreadyExists:
		return "AlreadyExists"
	case KindInvalidArgument:
		return "InvalidArgument"
	case KindWrongSeq:
		return "WrongSeq"
	case KindNonMonotonicTimestamp:
		return "NonMonotonicTimestamp"
	case KindUnavailable:
		return "Unavailable"
	case KindAborted:
		return "Aborted"
	case KindCorrupt:
		return "Corrupt"
	case KindInternal:
		return "Internal"
	default:
		return "Unspecified"
	}
}

// Error carries a Kind alongside a human-readable message and, optionally,
// the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error with the given kind, message, and cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind from err, or KindInternal if err is not (or does
// not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
