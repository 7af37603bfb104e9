package extract

import (
	"errors"
	"fmt"
)

// Kind identifies a failure in the unified extraction taxonomy.
type Kind string

const (
	KindInvalidHTML          Kind = "invalid_html"
	KindUnsupportedMode      Kind = "unsupported_mode"
	KindInternalGuest        Kind = "internal_guest_error"
	KindMemoryLimitExceeded  Kind = "memory_limit_exceeded"
	KindFuelExhausted        Kind = "fuel_exhausted"
	KindTimeout              Kind = "timeout"
	KindPoolExhausted        Kind = "pool_exhausted"
	KindInstantiationFailure Kind = "instantiation_failure"
	KindFallbackFailed       Kind = "fallback_failed"
)

// Category groups kinds by how the pool accounts for them.
type Category string

const (
	CategoryGuest    Category = "guest"
	CategoryResource Category = "resource"
	CategoryTimeout  Category = "timeout"
	CategoryPool     Category = "pool"
	CategoryFallback Category = "fallback"
)

func (k Kind) Category() Category {
	switch k {
	case KindInvalidHTML, KindUnsupportedMode, KindInternalGuest:
		return CategoryGuest
	case KindMemoryLimitExceeded, KindFuelExhausted:
		return CategoryResource
	case KindTimeout:
		return CategoryTimeout
	case KindPoolExhausted, KindInstantiationFailure:
		return CategoryPool
	default:
		return CategoryFallback
	}
}

// Error is the only error shape that leaves the sandbox.
type Error struct {
	Kind       Kind
	Detail     string
	InstanceID string
	Cause      error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func (e *Error) Category() Category { return e.Kind.Category() }

// Sentinels for errors.Is.
var (
	ErrInvalidHTML          = &Error{Kind: KindInvalidHTML}
	ErrUnsupportedMode      = &Error{Kind: KindUnsupportedMode}
	ErrInternalGuest        = &Error{Kind: KindInternalGuest}
	ErrMemoryLimitExceeded  = &Error{Kind: KindMemoryLimitExceeded}
	ErrFuelExhausted        = &Error{Kind: KindFuelExhausted}
	ErrTimeout              = &Error{Kind: KindTimeout}
	ErrPoolExhausted        = &Error{Kind: KindPoolExhausted}
	ErrInstantiationFailure = &Error{Kind: KindInstantiationFailure}
	ErrFallbackFailed       = &Error{Kind: KindFallbackFailed}
)

// New builds an Error with a formatted detail.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error around a cause. A cause that already is an *Error is
// returned unchanged so kinds are never re-labelled on the way out.
func Wrap(kind Kind, cause error, detail string) *Error {
	var e *Error
	if errors.As(cause, &e) {
		return e
	}
	return &Error{Kind: kind, Detail: detail, Cause: cause}
}

// KindOf returns the kind of err, or "" if err is not an extraction error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsResourceLimit reports whether err was caused by a per-call resource budget.
func IsResourceLimit(err error) bool {
	return KindOf(err).Category() == CategoryResource
}

// FromGuest maps the error kinds a guest may report onto the host taxonomy.
func FromGuest(kind, message string) *Error {
	switch kind {
	case "invalid_html", "parse_error":
		return &Error{Kind: KindInvalidHTML, Detail: message}
	case "unsupported_mode":
		return &Error{Kind: KindUnsupportedMode, Detail: message}
	case "resource_limit":
		return &Error{Kind: KindMemoryLimitExceeded, Detail: message}
	default:
		if kind != "" && kind != "internal" {
			message = kind + ": " + message
		}
		return &Error{Kind: KindInternalGuest, Detail: message}
	}
}
