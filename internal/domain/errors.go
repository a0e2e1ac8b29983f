package domain

import "errors"

// ErrorKind is the closed set of failure kinds surfaced to clients. Anything
// outside this set is reported as KindServerError with detail kept in logs.
type ErrorKind string

const (
	KindTokenNotFound        ErrorKind = "token_not_found"
	KindTokenExpired         ErrorKind = "token_expired"
	KindAuthFailed           ErrorKind = "auth_failed"
	KindInsufficientFunds    ErrorKind = "insufficient_funds"
	KindNameTaken            ErrorKind = "name_taken"
	KindUnknownCategory      ErrorKind = "unknown_category"
	KindNotAuthenticated     ErrorKind = "not_authenticated"
	KindAlreadyAuthenticated ErrorKind = "already_authenticated"
	KindServerError          ErrorKind = "server_error"
)

// Error is a tagged client-visible failure. Info is optional human-readable
// context that is safe to return to the client.
type Error struct {
	Kind ErrorKind
	Info string
}

func (e *Error) Error() string {
	if e.Info != "" {
		return string(e.Kind) + ": " + e.Info
	}
	return string(e.Kind)
}

// Is reports kind equality, so errors.Is(err, domain.Err(kind)) works on
// wrapped errors.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// Err returns a bare error of the given kind.
func Err(kind ErrorKind) *Error {
	return &Error{Kind: kind}
}

// Errf returns an error of the given kind with client-safe context.
func Errf(kind ErrorKind, info string) *Error {
	return &Error{Kind: kind, Info: info}
}

// KindOf extracts the client-visible kind from err. Unrecognized errors map
// to KindServerError; callers log the original before responding.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindServerError
}
