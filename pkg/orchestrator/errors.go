package orchestrator

import "errors"

// Kind is one of the seven structural error kinds the core returns (§7).
// It is never a language exception; callers branch on Kind via the Is*
// predicates below, the same errors.As pattern as the teacher's
// RetryableError/FatalError/NonCriticalError trio.
type Kind string

const (
	KindNotFound     Kind = "NOT_FOUND"
	KindForbidden    Kind = "FORBIDDEN"
	KindConflict     Kind = "CONFLICT"
	KindInvalidState Kind = "INVALID_STATE"
	KindValidation   Kind = "VALIDATION"
	KindTransient    Kind = "TRANSIENT"
	KindFatal        Kind = "FATAL"
)

// Error wraps an underlying cause with one of the Kind values above.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Err.Error() }
func (e *Error) Unwrap() error { return e.Err }

func newErr(k Kind, msg string) error {
	return &Error{Kind: k, Err: errors.New(msg)}
}

func wrapErr(k Kind, err error) error {
	return &Error{Kind: k, Err: err}
}

func notFound(msg string) error     { return newErr(KindNotFound, msg) }
func forbidden(msg string) error    { return newErr(KindForbidden, msg) }
func conflict(msg string) error     { return newErr(KindConflict, msg) }
func invalidState(msg string) error { return newErr(KindInvalidState, msg) }
func validation(msg string) error   { return newErr(KindValidation, msg) }
func transient(err error) error     { return wrapErr(KindTransient, err) }
func fatal(err error) error         { return wrapErr(KindFatal, err) }

func hasKind(err error, k Kind) bool {
	var oe *Error
	if !errors.As(err, &oe) {
		return false
	}
	return oe.Kind == k
}

func IsNotFound(err error) bool     { return hasKind(err, KindNotFound) }
func IsForbidden(err error) bool    { return hasKind(err, KindForbidden) }
func IsConflict(err error) bool     { return hasKind(err, KindConflict) }
func IsInvalidState(err error) bool { return hasKind(err, KindInvalidState) }
func IsValidation(err error) bool   { return hasKind(err, KindValidation) }
func IsTransient(err error) bool    { return hasKind(err, KindTransient) }
func IsFatal(err error) bool        { return hasKind(err, KindFatal) }
