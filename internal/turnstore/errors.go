package turnstore

import "fmt"

// Kind distinguishes TurnStore failure categories so callers can branch
// without string matching.
type Kind int

const (
	// KindNotFound means a referenced context, turn, or blob does not exist.
	KindNotFound Kind = iota
	// KindConflict means an idempotent append was retried with a payload
	// that does not match the originally stored turn for that key.
	KindConflict
	// KindInvalidInput means the caller-supplied request is malformed.
	KindInvalidInput
	// KindUnsupported means the backend does not implement the operation.
	KindUnsupported
	// KindSerialization means encoding/decoding the wire or disk format failed.
	KindSerialization
	// KindBackend means the underlying storage medium (disk, network, remote
	// server) returned an error.
	KindBackend
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInvalidInput:
		return "invalid_input"
	case KindUnsupported:
		return "unsupported"
	case KindSerialization:
		return "serialization"
	case KindBackend:
		return "backend"
	default:
		return "unknown"
	}
}

// Error is the structured error type returned by every TurnStore backend.
type Error struct {
	kind     Kind
	resource string // "context", "turn", "blob" for KindNotFound
	id       string
	message  string
	cause    error
}

// NewError constructs an Error of the given kind with a message.
func NewError(kind Kind, message string) *Error {
	return &Error{kind: kind, message: message}
}

// NewNotFound constructs a KindNotFound error naming the missing resource.
func NewNotFound(resource, id string) *Error {
	return &Error{kind: KindNotFound, resource: resource, id: id,
		message: fmt.Sprintf("%s %q not found", resource, id)}
}

// Wrap attaches a cause to an existing Error, returning a copy.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.cause = cause
	return &cp
}

// Kind reports the error category.
func (e *Error) Kind() Kind { return e.kind }

// Resource reports the missing resource type for KindNotFound errors.
func (e *Error) Resource() string { return e.resource }

// ID reports the missing resource id for KindNotFound errors.
func (e *Error) ID() string { return e.id }

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("turnstore: %s: %v", e.message, e.cause)
	}
	return fmt.Sprintf("turnstore: %s", e.message)
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.cause }
