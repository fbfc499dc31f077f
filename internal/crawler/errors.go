package crawler

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is returned by stores when a key has no value.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write collides with existing state.
var ErrConflict = errors.New("conflict")

// ErrorKind classifies why a fetch did not succeed.
type ErrorKind string

// Error taxonomy shared by the validator, fetch client and dispatcher.
const (
	ErrorKindConstraintViolation ErrorKind = "ConstraintViolation"
	ErrorKindUnauthorized        ErrorKind = "Unauthorized"
	ErrorKindRateLimited         ErrorKind = "RateLimited"
	ErrorKindPayloadTooLarge     ErrorKind = "PayloadTooLarge"
	ErrorKindNetwork             ErrorKind = "NetworkError"
	ErrorKindGeneric             ErrorKind = "GenericFailure"
	ErrorKindTimeout             ErrorKind = "Timeout"
)

// HTTPStatus maps an error kind onto the status returned at the service boundary.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case "":
		return http.StatusOK
	case ErrorKindConstraintViolation:
		return http.StatusBadRequest
	case ErrorKindRateLimited:
		return http.StatusTooManyRequests
	case ErrorKindPayloadTooLarge:
		return http.StatusRequestEntityTooLarge
	case ErrorKindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// FetchError carries an ErrorKind alongside the underlying cause.
type FetchError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

// Error implements error.
func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap exposes the wrapped cause.
func (e *FetchError) Unwrap() error {
	return e.Err
}

// NewError builds a FetchError without an underlying cause.
func NewError(kind ErrorKind, format string, args ...any) *FetchError {
	return &FetchError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapError builds a FetchError around err.
func WrapError(kind ErrorKind, err error, message string) *FetchError {
	return &FetchError{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the ErrorKind from err, defaulting to GenericFailure.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ErrorKindGeneric
}

// MessageOf returns the human readable message carried by err.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Message
	}
	return err.Error()
}
