// Package derr carries the protocol error taxonomy. Every failure that
// crosses out of a handler is one of these kinds, mapped 1:1 onto an HTTP
// status, optionally tagged with a CalDAV precondition element.
package derr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindBadRequest Kind = iota
	KindForbidden
	KindNotFound
	KindConflict
	KindPreconditionFailed
	KindUnsupportedMediaType
	KindExpectationFailed
	KindServerError
	// KindInsufficientStorage is declared for entity-size enforcement but
	// not actively raised by this layer yet.
	KindInsufficientStorage
)

func (k Kind) Status() int {
	switch k {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindPreconditionFailed:
		return http.StatusPreconditionFailed
	case KindUnsupportedMediaType:
		return http.StatusUnsupportedMediaType
	case KindExpectationFailed:
		return http.StatusExpectationFailed
	case KindInsufficientStorage:
		return http.StatusInsufficientStorage
	default:
		return http.StatusInternalServerError
	}
}

// CalDAV precondition tags carried by Forbidden/PreconditionFailed errors.
const (
	TagNoUIDConflict           = "no-uid-conflict"
	TagOrganizerAllowed        = "organizer-allowed"
	TagValidCalendarData       = "valid-calendar-data"
	TagInvalidCalendarDataType = "invalid-calendar-data-type"
	TagSupportedCalendarData   = "supported-calendar-data"
	TagCollectionLocationOK    = "calendar-collection-location-ok"
	TagResourceMustBeNull      = "resource-must-be-null"
	TagOriginatorMissing       = "originator-specified"
	TagRecipientMissing        = "recipient-specified"
	TagVerificationFailed      = "verification-failed"
	TagValidSchedulingMessage  = "valid-scheduling-message"
)

// Error is the single typed error crossing handler boundaries.
type Error struct {
	Kind Kind
	// Precondition is the CalDAV/iSchedule precondition element name, when
	// one applies.
	Precondition string
	Msg          string
	Cause        error
}

func (e *Error) Error() string {
	s := http.StatusText(e.Kind.Status())
	if e.Precondition != "" {
		s += " (" + e.Precondition + ")"
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	return s
}

func (e *Error) Unwrap() error { return e.Cause }

func BadRequest(msg string) *Error { return &Error{Kind: KindBadRequest, Msg: msg} }

func BadRequestTag(tag, msg string) *Error {
	return &Error{Kind: KindBadRequest, Precondition: tag, Msg: msg}
}

func Forbidden(tag, msg string) *Error {
	return &Error{Kind: KindForbidden, Precondition: tag, Msg: msg}
}

func NotFound(msg string) *Error { return &Error{Kind: KindNotFound, Msg: msg} }

func Conflict(msg string) *Error { return &Error{Kind: KindConflict, Msg: msg} }

func PreconditionFailed(msg string) *Error {
	return &Error{Kind: KindPreconditionFailed, Msg: msg}
}

func UnsupportedMediaType(msg string) *Error {
	return &Error{Kind: KindUnsupportedMediaType, Msg: msg}
}

func ExpectationFailed(msg string) *Error {
	return &Error{Kind: KindExpectationFailed, Msg: msg}
}

// Wrap turns an unexpected failure into a server error, preserving typed
// errors already in the chain.
func Wrap(err error) *Error {
	if err == nil {
		return nil
	}
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Kind: KindServerError, Msg: err.Error(), Cause: err}
}

func Wrapf(err error, format string, args ...any) *Error {
	var de *Error
	if errors.As(err, &de) {
		return de
	}
	return &Error{Kind: KindServerError, Msg: fmt.Sprintf(format, args...), Cause: err}
}

// As extracts the typed error, wrapping unknown failures as server errors.
func As(err error) *Error { return Wrap(err) }

// Is reports whether err is a taxonomy error of the given kind.
func Is(err error, k Kind) bool {
	var de *Error
	return errors.As(err, &de) && de.Kind == k
}
