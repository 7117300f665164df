package apperr

import (
	"errors"
	"fmt"
)

// Kind is the stable classification shared by the REST and socket surfaces.
type Kind string

const (
	KindUnauthorized      Kind = "UNAUTHORIZED"
	KindForbidden         Kind = "FORBIDDEN"
	KindConflict          Kind = "CONFLICT"
	KindValidation        Kind = "VALIDATION"
	KindInsufficientFunds Kind = "INSUFFICIENT_FUNDS"
	KindNotFound          Kind = "NOT_FOUND"
	KindInternal          Kind = "INTERNAL"
)

// Error is a classified application error. Key and Params are meant for
// client-side localized display.
type Error struct {
	Kind    Kind
	Key     string
	Message string
	Params  map[string]interface{}
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// WithParam returns a copy of e carrying an extra display parameter.
func (e *Error) WithParam(name string, value interface{}) *Error {
	cp := *e
	cp.Params = make(map[string]interface{}, len(e.Params)+1)
	for k, v := range e.Params {
		cp.Params[k] = v
	}
	cp.Params[name] = value
	return &cp
}

// New builds a classified error.
func New(kind Kind, key, message string) *Error {
	return &Error{Kind: kind, Key: key, Message: message}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, key, message string, err error) *Error {
	return &Error{Kind: kind, Key: key, Message: message, Err: err}
}

func Unauthorized(key, message string) *Error { return New(KindUnauthorized, key, message) }
func Forbidden(key, message string) *Error    { return New(KindForbidden, key, message) }
func Conflict(key, message string) *Error     { return New(KindConflict, key, message) }
func Validation(key, message string) *Error   { return New(KindValidation, key, message) }
func NotFound(key, message string) *Error     { return New(KindNotFound, key, message) }

func InsufficientFunds(key, message string) *Error {
	return New(KindInsufficientFunds, key, message)
}

// InvalidState is a Conflict raised when the aggregate is not in a state that
// admits the requested action.
func InvalidState(message string) *Error {
	return New(KindConflict, "invalid_state", message)
}

// As extracts the classified error from an error chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the kind of err. Errors that were never classified are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
