package httperr

import (
	"encoding/json"
	"errors"
	"net/http"
)

// Error represents an HTTP error with all data needed for rendering.
// It implements the error interface and carries a stable user-facing
// message plus the underlying cause for logging.
type Error struct {
	// Err is the underlying error (for logging, not exposed to callers).
	Err error

	// Message is the user-facing error message.
	Message string

	// ErrorCode is an application-specific error code (e.g., a missing
	// permission code) for programmatic client handling.
	ErrorCode string

	// Code is the HTTP status code (e.g., 404, 500).
	Code int
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) StatusCode() int {
	return e.Code
}

// Option configures an Error.
type Option func(*Error)

// WithErrorCode sets an application-specific error code.
func WithErrorCode(code string) Option {
	return func(e *Error) {
		e.ErrorCode = code
	}
}

// WithError attaches the underlying cause.
func WithError(err error) Option {
	return func(e *Error) {
		e.Err = err
	}
}

// New creates an Error with the given status code and message.
func New(code int, message string, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: message,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Convenience constructors for the closed taxonomy.

func BadRequest(message string, opts ...Option) *Error {
	return New(http.StatusBadRequest, message, opts...)
}

func Unauthorized(message string, opts ...Option) *Error {
	return New(http.StatusUnauthorized, message, opts...)
}

func Forbidden(message string, opts ...Option) *Error {
	return New(http.StatusForbidden, message, opts...)
}

func NotFound(message string, opts ...Option) *Error {
	return New(http.StatusNotFound, message, opts...)
}

func Conflict(message string, opts ...Option) *Error {
	return New(http.StatusConflict, message, opts...)
}

func Internal(message string, opts ...Option) *Error {
	return New(http.StatusInternalServerError, message, opts...)
}

// As extracts an *Error from err's chain.
// Returns nil if the chain contains no *Error.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var httpErr *Error
	if errors.As(err, &httpErr) {
		return httpErr
	}
	return nil
}

// response is the JSON error envelope sent to callers.
type response struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// Render writes err as a JSON error response. Unclassified errors are
// rendered as a generic 500 so internal detail never leaks to the caller.
func Render(w http.ResponseWriter, err error) {
	httpErr := As(err)
	if httpErr == nil {
		httpErr = Internal("internal server error", WithError(err))
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(httpErr.Code)
	_ = json.NewEncoder(w).Encode(response{
		Error: httpErr.Message,
		Code:  httpErr.ErrorCode,
	})
}
