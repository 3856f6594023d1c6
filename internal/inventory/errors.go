package inventory

import (
	"errors"
	"fmt"
)

// Kind classifies ledger failures. Callers map kinds to transport status.
type Kind string

const (
	KindValidation        Kind = "VALIDATION"
	KindNotFound          Kind = "NOT_FOUND"
	KindInsufficientStock Kind = "INSUFFICIENT_STOCK"
	KindInvalidState      Kind = "INVALID_STATE"
	KindAmbiguous         Kind = "AMBIGUOUS"
	KindInternal          Kind = "INTERNAL"
)

// Error is the typed failure raised by the ledger engine.
type Error struct {
	Kind    Kind
	Message string
	// ItemID names the item the failure concerns, when known.
	ItemID string
	// Line is the 1-based request line, or 0 when not line specific.
	Line int
	Err  error
}

func (e *Error) Error() string {
	msg := "inventory: " + e.Message
	if e.Message == "" {
		msg = "inventory: " + string(e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind, so errors.Is(err, ErrInsufficientStock)
// holds for any insufficient stock failure.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

// ErrorKind exposes the kind to transports that do not import this package.
func (e *Error) ErrorKind() string { return string(e.Kind) }

var (
	ErrValidation        = &Error{Kind: KindValidation}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrInsufficientStock = &Error{Kind: KindInsufficientStock}
	ErrInvalidState      = &Error{Kind: KindInvalidState}
	ErrAmbiguous         = &Error{Kind: KindAmbiguous}
	ErrInternal          = &Error{Kind: KindInternal}
)

// KindOf returns the ledger kind of err. Untyped errors are INTERNAL.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func validationf(format string, args ...any) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func notFound(what, id string) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf("%s %q not found", what, id), ItemID: itemIDFor(what, id)}
}

func itemIDFor(what, id string) string {
	if what == "item" {
		return id
	}
	return ""
}

func insufficient(itemID string, line int, format string, args ...any) error {
	return &Error{Kind: KindInsufficientStock, Message: fmt.Sprintf(format, args...), ItemID: itemID, Line: line}
}

func invalidState(itemID string, line int, format string, args ...any) error {
	return &Error{Kind: KindInvalidState, Message: fmt.Sprintf(format, args...), ItemID: itemID, Line: line}
}

func internal(msg string, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}
