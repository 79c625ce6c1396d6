package piston

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies every failure the client reports.
type ErrorKind int

const (
	// KindUnexpected is the base kind: a status the endpoint does not document,
	// or a success body that could not be decoded.
	KindUnexpected ErrorKind = iota
	// KindValidation is an HTTP 400 from the execute endpoint.
	KindValidation
	// KindContentType is an HTTP 415 from the execute endpoint.
	KindContentType
	// KindServer is an HTTP 500.
	KindServer
	// KindNetwork means no HTTP response was received.
	KindNetwork
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnexpected:
		return "unexpected"
	case KindValidation:
		return "validation"
	case KindContentType:
		return "content_type"
	case KindServer:
		return "server"
	case KindNetwork:
		return "network"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

const (
	serviceName = "Piston API"

	defaultContentTypeMessage = "requests must be of type application/json"
	defaultServerMessage      = "Internal server error"
	unexpectedPrefix          = "Unexpected error: "
)

// Error is returned by every Client method that fails.
type Error struct {
	Kind    ErrorKind
	Message string
	// StatusCode is the HTTP status, or 0 for KindNetwork.
	StatusCode int
	// Cause is the transport failure for KindNetwork, or a decode error.
	Cause error
}

func (e *Error) Error() string {
	if e.Message == "" {
		return "piston: " + e.Kind.String() + " error"
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches the kind sentinels (ErrValidation, ErrNetwork, ...).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Message != "" {
		return false
	}
	return t.Kind == e.Kind
}

// Sentinels for errors.Is.
var (
	ErrUnexpected  = &Error{Kind: KindUnexpected}
	ErrValidation  = &Error{Kind: KindValidation}
	ErrContentType = &Error{Kind: KindContentType}
	ErrServer      = &Error{Kind: KindServer}
	ErrNetwork     = &Error{Kind: KindNetwork}
)

// KindOf returns the kind of a *Error anywhere in err's chain.
func KindOf(err error) (ErrorKind, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// PanicError carries a non-error value a Transport panicked with.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprint(e.Value)
}

func newNetworkError(cause error) *Error {
	return &Error{
		Kind:    KindNetwork,
		Message: fmt.Sprintf("Failed to connect to %s: %s", serviceName, cause.Error()),
		Cause:   cause,
	}
}

func newValidationError(msg string) *Error {
	return &Error{Kind: KindValidation, Message: msg, StatusCode: http.StatusBadRequest}
}

func newContentTypeError(msg string) *Error {
	if msg == "" {
		msg = defaultContentTypeMessage
	}
	return &Error{Kind: KindContentType, Message: msg, StatusCode: http.StatusUnsupportedMediaType}
}

func newServerError(msg string) *Error {
	if msg == "" {
		msg = defaultServerMessage
	}
	return &Error{Kind: KindServer, Message: msg, StatusCode: http.StatusInternalServerError}
}

func newUnexpectedError(status int, msg string, cause error) *Error {
	return &Error{Kind: KindUnexpected, Message: unexpectedPrefix + msg, StatusCode: status, Cause: cause}
}
