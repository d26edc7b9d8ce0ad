package auth

import (
	"errors"
	"strings"
)

var (
	ErrNotFound      = errors.New("auth: not found")
	ErrAlreadyExists = errors.New("auth: already exists")
	ErrConflict      = errors.New("auth: concurrent update")
	ErrInvalidInput  = errors.New("auth: invalid input")
	ErrUnauthorized  = errors.New("auth: unauthorized")
	ErrForbidden     = errors.New("auth: forbidden")
)

// AuthError is an authentication failure with a client-facing reason.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string { return e.Reason }

func (e *AuthError) Is(target error) bool { return target == ErrUnauthorized }

// Guard failure reasons.
var (
	ErrTokenMissing   = &AuthError{Reason: "Authentication token is missing"}
	ErrTokenInvalid   = &AuthError{Reason: "Authentication token is invalid"}
	ErrTokenExpired   = &AuthError{Reason: "Authentication token has expired"}
	ErrTokenNotActive = &AuthError{Reason: "Authentication token is not active yet"}
	ErrUserNotFound   = &AuthError{Reason: "User not found or deleted"}
	ErrTokenRevoked   = &AuthError{Reason: "Token is invalid with db"}
	ErrUserInactive   = &AuthError{Reason: "User not active"}
)

// FieldError names one offending input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports malformed input. It matches ErrInvalidInput.
type ValidationError struct {
	Message string
	Fields  []FieldError
}

func (e *ValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidInput }

// Invalid builds a single-field ValidationError whose message is msg.
func Invalid(field, msg string) error {
	return &ValidationError{Message: msg, Fields: []FieldError{{Field: field, Message: msg}}}
}

// NotFoundError is a missing-entity error with a client-facing message. It matches ErrNotFound.
type NotFoundError struct {
	Message string
}

func (e *NotFoundError) Error() string { return e.Message }

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NotFound wraps ErrNotFound with msg.
func NotFound(msg string) error {
	return &NotFoundError{Message: msg}
}
