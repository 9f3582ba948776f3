package protocol

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for retry and surfacing decisions.
type Kind uint8

const (
	// KindTransient failures may succeed on retry: DB deadlocks, peer
	// disconnects, asset pull timeouts.
	KindTransient Kind = iota + 1
	// KindPermanent failures are safe to surface to the requester:
	// access denied, bad setting type, unknown principal.
	KindPermanent
	// KindCorrupt marks a realm whose template or state cannot be
	// trusted. The realm is broken, never the process.
	KindCorrupt
	// KindFatal failures take the whole server down in an orderly way.
	KindFatal
)

// Error pairs a failure with its kind.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func Transient(format string, args ...any) error {
	return &Error{Kind: KindTransient, Err: fmt.Errorf(format, args...)}
}

func Permanent(format string, args ...any) error {
	return &Error{Kind: KindPermanent, Err: fmt.Errorf(format, args...)}
}

func Corrupt(format string, args ...any) error {
	return &Error{Kind: KindCorrupt, Err: fmt.Errorf(format, args...)}
}

func Fatal(format string, args ...any) error {
	return &Error{Kind: KindFatal, Err: fmt.Errorf(format, args...)}
}

// KindOf reports the kind of an error. Unclassified failures count as
// transient so they are retried rather than surfaced.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}

// Outcome is the user-visible verdict on a request.
type Outcome uint8

const (
	OutcomeSuccess Outcome = iota + 1
	OutcomeNotAllowed
	OutcomeInternalError
)

// OutcomeFor maps an error onto a response verdict. Only permanent
// failures expose their message; everything else reports an opaque
// internal error.
func OutcomeFor(err error) (Outcome, string) {
	if err == nil {
		return OutcomeSuccess, ""
	}
	if KindOf(err) == KindPermanent {
		return OutcomeNotAllowed, err.Error()
	}
	return OutcomeInternalError, ""
}
