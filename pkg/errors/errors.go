package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents a typed domain error with HTTP awareness.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Status  int    `json:"-"`
	Err     error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped error.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches errors by code so callers can use errors.Is against the predefined values.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New creates a new Error instance.
func New(code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message}
}

// Wrap attaches context to an existing error.
func Wrap(err error, code string, status int, message string) *Error {
	return &Error{Code: code, Status: status, Message: message, Err: err}
}

// Predefined errors for common scenarios.
var (
	ErrNotFound              = New("NOT_FOUND", http.StatusNotFound, "resource not found")
	ErrDuplicateKey          = New("DUPLICATE_KEY", http.StatusConflict, "resource already exists")
	ErrAlreadyEnrolled       = New("ALREADY_ENROLLED", http.StatusBadRequest, "student already enrolled in this course")
	ErrInvalidCredentials    = New("INVALID_CREDENTIALS", http.StatusUnauthorized, "incorrect username or password")
	ErrUnauthorized          = New("UNAUTHORIZED", http.StatusUnauthorized, "could not validate credentials")
	ErrForbidden             = New("FORBIDDEN", http.StatusForbidden, "not enough permissions")
	ErrTokenMalformed        = New("TOKEN_MALFORMED", http.StatusUnauthorized, "token is malformed")
	ErrTokenInvalidSignature = New("TOKEN_INVALID_SIGNATURE", http.StatusUnauthorized, "token signature is invalid")
	ErrTokenExpired          = New("TOKEN_EXPIRED", http.StatusUnauthorized, "token has expired")
	ErrStorageFailure        = New("STORAGE_FAILURE", http.StatusInternalServerError, "storage failure")
	ErrValidation            = New("VALIDATION_ERROR", http.StatusBadRequest, "validation failed")
	ErrUnsupportedMedia      = New("UNSUPPORTED_MEDIA_TYPE", http.StatusUnsupportedMediaType, "unsupported media type")
	ErrPayloadTooLarge       = New("PAYLOAD_TOO_LARGE", http.StatusRequestEntityTooLarge, "payload too large")
	ErrTooManyRequests       = New("TOO_MANY_REQUESTS", http.StatusTooManyRequests, "too many requests")
	ErrServiceUnavailable    = New("SERVICE_UNAVAILABLE", http.StatusServiceUnavailable, "service unavailable")
	ErrInternal              = New("INTERNAL_ERROR", http.StatusInternalServerError, "internal server error")
)

// FromError normalises any error into an *Error.
func FromError(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Wrap(err, ErrInternal.Code, ErrInternal.Status, ErrInternal.Message)
}

// Clone returns a copy of the error allowing for message overrides.
func Clone(err *Error, message string) *Error {
	if err == nil {
		return nil
	}
	clone := *err
	if message != "" {
		clone.Message = message
	}
	return &clone
}

// WithStatus returns a copy of err reported with a different HTTP status, keeping its code.
func WithStatus(err error, status int) *Error {
	appErr := FromError(err)
	if appErr == nil {
		return nil
	}
	clone := *appErr
	clone.Status = status
	return &clone
}
