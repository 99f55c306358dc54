package provider

import (
	"errors"
	"fmt"
)

// ErrorKind classifies provider failures into a small set of categories
// suitable for retry and UX decisions. Grounded on
// runtime/agent/model/provider_error.go's ProviderErrorKind.
type ErrorKind string

const (
	ErrorKindAuth           ErrorKind = "auth"
	ErrorKindInvalidRequest ErrorKind = "invalid_request"
	ErrorKindRateLimited    ErrorKind = "rate_limited"
	ErrorKindUnavailable    ErrorKind = "unavailable"
	ErrorKindUnknown        ErrorKind = "unknown"
)

// Error describes a failure returned by a model provider.
type Error struct {
	provider  string
	operation string
	http      int
	kind      ErrorKind
	code      string
	message   string
	requestID string
	retryable bool
	cause     error
}

// NewError constructs an Error. provider and kind are required.
func NewError(providerName, operation string, httpStatus int, kind ErrorKind, code, message, requestID string, retryable bool, cause error) *Error {
	if providerName == "" {
		panic("provider: provider name is required")
	}
	if kind == "" {
		panic("provider: error kind is required")
	}
	return &Error{
		provider:  providerName,
		operation: operation,
		http:      httpStatus,
		kind:      kind,
		code:      code,
		message:   message,
		requestID: requestID,
		retryable: retryable,
		cause:     cause,
	}
}

func (e *Error) Provider() string   { return e.provider }
func (e *Error) Operation() string  { return e.operation }
func (e *Error) HTTPStatus() int    { return e.http }
func (e *Error) Kind() ErrorKind    { return e.kind }
func (e *Error) Code() string       { return e.code }
func (e *Error) Message() string    { return e.message }
func (e *Error) RequestID() string  { return e.requestID }

// Retryable reports whether retrying may succeed without changing the
// request. The bundled adapters set it for HTTP 429 and 5xx responses
// (Bedrock: its throttling and service-unavailable error codes); errors that
// carry no HTTP status, network failures included, are not marked retryable.
func (e *Error) Retryable() bool { return e.retryable }

func (e *Error) Error() string {
	op := e.operation
	if op == "" {
		op = "request"
	}
	status := ""
	if e.http > 0 {
		status = fmt.Sprintf("%d ", e.http)
	}
	code := ""
	if e.code != "" {
		code = e.code + ": "
	}
	msg := e.message
	if msg == "" && e.cause != nil {
		msg = e.cause.Error()
	}
	if msg == "" {
		msg = "provider error"
	}
	return fmt.Sprintf("%s %s %s(%s): %s", e.provider, e.kind, status, op, code+msg)
}

func (e *Error) Unwrap() error { return e.cause }

// AsError returns the first *Error in err's chain, if any.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// RetryableFromHTTPStatus classifies an HTTP status per spec.md §7: 429 and
// any 5xx are retryable.
func RetryableFromHTTPStatus(status int) bool {
	return status == 429 || (status >= 500 && status <= 599)
}
