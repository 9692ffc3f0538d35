// Package apperr defines the rejection taxonomy shared by every realtime
// component. Rejections are local to the event that caused them; only the
// Kind and the public message ever reach a client.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	Internal          Kind = "Internal"
	Unauthenticated   Kind = "Unauthenticated"
	Forbidden         Kind = "Forbidden"
	InvalidTransition Kind = "InvalidTransition"
	TerminalState     Kind = "TerminalState"
	BadRequest        Kind = "BadRequest"
	NotFound          Kind = "NotFound"
)

// Error is a classified rejection. Err holds the underlying cause, if any,
// and is never shown to clients.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so sentinel comparisons like
// errors.Is(err, apperr.ErrForbidden) work regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrUnauthenticated   = &Error{Kind: Unauthenticated}
	ErrForbidden         = &Error{Kind: Forbidden}
	ErrInvalidTransition = &Error{Kind: InvalidTransition}
	ErrTerminalState     = &Error{Kind: TerminalState}
	ErrBadRequest        = &Error{Kind: BadRequest}
	ErrNotFound          = &Error{Kind: NotFound}
)

func New(kind Kind, msg string) *Error { return &Error{Kind: kind, Msg: msg} }

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, msg string, err error) *Error { return &Error{Kind: kind, Msg: msg, Err: err} }

// KindOf classifies err; unclassified errors are Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// PublicMessage is the text safe to send to a client.
func PublicMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return "internal error"
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case Unauthenticated:
		return http.StatusUnauthorized
	case Forbidden:
		return http.StatusForbidden
	case NotFound:
		return http.StatusNotFound
	case BadRequest:
		return http.StatusBadRequest
	case InvalidTransition, TerminalState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
