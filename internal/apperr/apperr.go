package apperr

import (
	"errors"
	"fmt"
)

type Kind string

const (
	KindUnknown    Kind = "UNKNOWN"
	KindValidation Kind = "VALIDATION"
	KindNotFound   Kind = "NOT_FOUND"
	KindAuth       Kind = "AUTH"
	KindForbidden  Kind = "FORBIDDEN"
	KindStorage    Kind = "STORAGE"
	KindChannel    Kind = "CHANNEL"
)

type Error struct {
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

func New(kind Kind, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func Validation(msg string) error {
	return New(KindValidation, msg)
}

func NotFound(msg string) error {
	return New(KindNotFound, msg)
}

func Auth(msg string) error {
	return New(KindAuth, msg)
}

func Forbidden(msg string) error {
	return New(KindForbidden, msg)
}

func Storage(msg string, cause error) error {
	return Wrap(KindStorage, msg, cause)
}

func Channel(msg string, cause error) error {
	return Wrap(KindChannel, msg, cause)
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// MessageOf returns the user-facing message of err.
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
