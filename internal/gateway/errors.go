package gateway

import (
	"errors"
	"fmt"
	"net/http"
)

// Error kinds. Every error returned by Client.Do wraps exactly one of them.
var (
	ErrAuth              = errors.New("authentication required")
	ErrValidation        = errors.New("request rejected")
	ErrNotFound          = errors.New("not found")
	ErrNetwork           = errors.New("network error")
	ErrServer            = errors.New("server error")
	ErrMalformedResponse = errors.New("malformed response")
)

// APIError is a failed API call. Status is 0 when no response was received.
type APIError struct {
	Status  int
	Message string
	// Fields holds Laravel validation messages keyed by input name.
	Fields map[string][]string

	kind  error
	cause error
}

func (e *APIError) Error() string {
	if e.Status == 0 {
		return fmt.Sprintf("%s: %s", e.kind, e.Message)
	}
	return fmt.Sprintf("%s (%d): %s", e.kind, e.Status, e.Message)
}

func (e *APIError) Unwrap() []error {
	if e.cause != nil {
		return []error{e.kind, e.cause}
	}
	return []error{e.kind}
}

// Kind returns the sentinel this error belongs to.
func (e *APIError) Kind() error { return e.kind }

func statusError(status int, message string, fields map[string][]string) *APIError {
	if message == "" {
		message = fmt.Sprintf("Request failed with status code %d", status)
	}
	return &APIError{Status: status, Message: message, Fields: fields, kind: classify(status)}
}

func networkError(cause error) *APIError {
	return &APIError{Message: cause.Error(), kind: ErrNetwork, cause: cause}
}

func malformed(status int, format string, args ...any) *APIError {
	return &APIError{Status: status, Message: fmt.Sprintf(format, args...), kind: ErrMalformedResponse}
}

func classify(status int) error {
	switch {
	case status == http.StatusUnauthorized:
		return ErrAuth
	case status == http.StatusNotFound:
		return ErrNotFound
	case status >= 400 && status < 500:
		return ErrValidation
	default:
		return ErrServer
	}
}

// MessageOf returns the server message carried by err, or fallback. Transport
// and decoding failures always yield fallback.
func MessageOf(err error, fallback string) string {
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Message == "" {
		return fallback
	}
	if apiErr.kind == ErrNetwork || apiErr.kind == ErrMalformedResponse {
		return fallback
	}
	return apiErr.Message
}
