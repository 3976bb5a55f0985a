package session

import (
	"context"
	stderrors "errors"

	"github.com/goliatone/go-errors"
)

const (
	TextCodeNoActiveSession   = "session_not_found"
	TextCodeProfileNotFound   = "profile_not_found"
	TextCodeProfileExists     = "profile_exists"
	TextCodeNotAuthenticated  = "not_authenticated"
	TextCodeRequestTimeout    = "request_timed_out"
	TextCodeInvalidTransition = "invalid_session_transition"
	TextCodeMissingIdentity   = "missing_identity"
)

// ErrNoActiveSession is returned by AuthAPI.CurrentIdentity when the hosted
// service reports no existing session. It is an expected condition during
// restore, not a failure.
var ErrNoActiveSession = errors.New("no active session", errors.CategoryAuth).
	WithTextCode(TextCodeNoActiveSession).
	WithCode(errors.CodeUnauthorized)

// ErrProfileNotFound is the distinguished "no matching row" condition that
// triggers lazy profile creation.
var ErrProfileNotFound = errors.New("profile not found", errors.CategoryNotFound).
	WithTextCode(TextCodeProfileNotFound).
	WithCode(errors.CodeNotFound)

// ErrProfileExists is returned for a duplicate-key profile insert. The
// Resolver treats it as "already exists, re-fetch".
var ErrProfileExists = errors.New("profile already exists", errors.CategoryConflict).
	WithTextCode(TextCodeProfileExists).
	WithCode(errors.CodeConflict)

// ErrNotAuthenticated is returned when an operation that needs a session is
// invoked without one.
var ErrNotAuthenticated = errors.New("operation requires an authenticated session", errors.CategoryAuth).
	WithTextCode(TextCodeNotAuthenticated).
	WithCode(errors.CodeUnauthorized)

// ErrRequestTimeout is returned when an external call exceeds the configured
// request timeout.
var ErrRequestTimeout = errors.New("request timed out", errors.CategoryOperation).
	WithTextCode(TextCodeRequestTimeout).
	WithCode(errors.CodeInternal)

// ErrInvalidTransition is returned when the Store is asked for a phase change
// its transition table does not allow.
var ErrInvalidTransition = errors.New("invalid session phase transition", errors.CategoryConflict).
	WithTextCode(TextCodeInvalidTransition).
	WithCode(errors.CodeConflict)

// ErrMissingIdentity is returned when resolution is attempted without an
// identity.
var ErrMissingIdentity = errors.New("identity is required", errors.CategoryBadInput).
	WithTextCode(TextCodeMissingIdentity).
	WithCode(errors.CodeBadRequest)

// IsNotFound reports whether err represents a lookup miss.
func IsNotFound(err error) bool {
	return errors.IsNotFound(err)
}

// IsConflict reports whether err represents a duplicate-key rejection.
func IsConflict(err error) bool {
	if err == nil {
		return false
	}
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr.Category == errors.CategoryConflict
	}
	return false
}

// IsTimeout reports whether err came from an exceeded request deadline.
func IsTimeout(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr.TextCode == TextCodeRequestTimeout
	}
	return false
}
