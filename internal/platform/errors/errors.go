// Package errors provides the structured error returned by HTTP handlers.
// Each error carries a category that fixes its status code and the "type"
// field of the JSON body.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	TypeValidation   ErrorType = "validation"
	TypeUnauthorized ErrorType = "unauthorized"
	TypeForbidden    ErrorType = "forbidden"
	TypeNotFound     ErrorType = "not_found"
	TypeRateLimited  ErrorType = "rate_limited"
	TypeUnavailable  ErrorType = "unavailable"
	TypeInternal     ErrorType = "internal"
)

var statusByType = map[ErrorType]int{
	TypeValidation:   http.StatusBadRequest,
	TypeUnauthorized: http.StatusUnauthorized,
	TypeForbidden:    http.StatusForbidden,
	TypeNotFound:     http.StatusNotFound,
	TypeRateLimited:  http.StatusTooManyRequests,
	TypeUnavailable:  http.StatusServiceUnavailable,
	TypeInternal:     http.StatusInternalServerError,
}

// typeByStatus covers the statuses Echo produces on its own.
var typeByStatus = map[int]ErrorType{
	http.StatusBadRequest:            TypeValidation,
	http.StatusUnprocessableEntity:   TypeValidation,
	http.StatusUnsupportedMediaType:  TypeValidation,
	http.StatusRequestEntityTooLarge: TypeValidation,
	http.StatusUnauthorized:          TypeUnauthorized,
	http.StatusForbidden:             TypeForbidden,
	http.StatusNotFound:              TypeNotFound,
	http.StatusMethodNotAllowed:      TypeNotFound,
	http.StatusTooManyRequests:       TypeRateLimited,
	http.StatusServiceUnavailable:    TypeUnavailable,
}

type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
	// status overrides the type's code for errors built by FromStatus.
	status int
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// HTTPStatus is 500 for unknown types.
func (e *Error) HTTPStatus() int {
	if e.status != 0 {
		return e.status
	}
	if code, ok := statusByType[e.Type]; ok {
		return code
	}
	return http.StatusInternalServerError
}

// WithContext attaches a field that is returned to the client and logged.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause, Context: make(map[string]any)}
}

func ValidationError(message string) *Error   { return newError(TypeValidation, message, nil) }
func UnauthorizedError(message string) *Error { return newError(TypeUnauthorized, message, nil) }
func ForbiddenError(message string) *Error    { return newError(TypeForbidden, message, nil) }
func NotFoundError(message string) *Error     { return newError(TypeNotFound, message, nil) }
func RateLimitedError(message string) *Error  { return newError(TypeRateLimited, message, nil) }

func UnavailableError(message string, cause error) *Error {
	return newError(TypeUnavailable, message, cause)
}

func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

// FromStatus builds an error that keeps a bare status code. An empty
// message becomes the status text.
func FromStatus(code int, message string, cause error) *Error {
	if message == "" {
		message = http.StatusText(code)
	}
	t, ok := typeByStatus[code]
	if !ok {
		t = TypeInternal
	}
	err := newError(t, message, cause)
	err.status = code
	return err
}

// ErrorResponse is the JSON body of every error response.
type ErrorResponse struct {
	Error         string         `json:"error"`
	Type          ErrorType      `json:"type"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
}

func (e *Error) ToResponse() ErrorResponse {
	return ErrorResponse{Error: e.Message, Type: e.Type, Context: e.Context}
}

// AsStructuredError returns the *Error in err's chain, or wraps err as an
// internal error. The cause of an internal error is never sent to clients.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}
	var structured *Error
	if errors.As(err, &structured) {
		return structured
	}
	return InternalError("internal server error", err)
}
