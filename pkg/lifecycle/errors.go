package lifecycle

import (
	"errors"
	"fmt"

	"sitter-points-backend/pkg/ledger"
	"sitter-points-backend/pkg/posts"
)

// Kind classifies a lifecycle failure.
type Kind string

const (
	KindInvalidDate         Kind = "invalid_date"
	KindInvalidInput        Kind = "invalid_input"
	KindInsufficientPoints  Kind = "insufficient_points"
	KindNotFound            Kind = "not_found"
	KindPreconditionFailed  Kind = "precondition_failed"
	KindInsufficientBalance Kind = "insufficient_balance"
	KindUnexpected          Kind = "unexpected"
)

// Error is the typed failure returned by every Engine transition. Message is
// safe to show to the caller; Err holds the internal cause, if any.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of err, or KindUnexpected for foreign errors.
func KindOf(err error) Kind {
	var lerr *Error
	if errors.As(err, &lerr) {
		return lerr.Kind
	}
	return KindUnexpected
}

// IsKind reports whether err is a lifecycle error of kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

func newError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func unexpected(err error) *Error {
	return &Error{Kind: KindUnexpected, Message: "something went wrong, please try again", Err: err}
}

func fromStore(err error) *Error {
	switch {
	case errors.Is(err, posts.ErrNotFound):
		return &Error{Kind: KindNotFound, Message: "post not found", Err: err}
	case errors.Is(err, posts.ErrPreconditionFailed):
		return &Error{Kind: KindPreconditionFailed, Message: "the post can no longer be changed this way", Err: err}
	default:
		return unexpected(err)
	}
}

func fromLedger(err error) *Error {
	switch {
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return &Error{Kind: KindInsufficientBalance, Message: "not enough points to complete this action", Err: err}
	case errors.Is(err, ledger.ErrMemberNotFound):
		return &Error{Kind: KindNotFound, Message: "member not found", Err: err}
	default:
		return unexpected(err)
	}
}
