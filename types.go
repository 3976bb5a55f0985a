package session

import (
	"context"
	"fmt"
	"time"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// AuthAPI is the hosted auth service surface this package consumes. It is
// implemented by the gotrue subpackage; tests provide fakes.
type AuthAPI interface {
	// CurrentIdentity returns the identity behind an existing session, or
	// ErrNoActiveSession when the service reports none.
	CurrentIdentity(ctx context.Context) (*Identity, error)
	SignInWithPassword(ctx context.Context, email, password string) (*Identity, error)
	// SignUp registers a new identity with the given metadata attached. The
	// service may require email verification before a session exists.
	SignUp(ctx context.Context, email, password string, metadata map[string]any) (*Identity, error)
	// AuthorizeURL returns the provider redirect URL for an OAuth sign-in.
	// The session is established later through AuthChanges.
	AuthorizeURL(ctx context.Context, provider, redirectTo string) (string, error)
	SignOut(ctx context.Context) error
	// AuthChanges delivers auth-state change notifications emitted by the
	// service. The channel is owned by the implementation and closed when
	// the client shuts down.
	AuthChanges() <-chan AuthChange
}

// AuthChangeEvent mirrors the event names the hosted service emits.
type AuthChangeEvent string

const (
	AuthChangeSignedIn       AuthChangeEvent = "SIGNED_IN"
	AuthChangeSignedOut      AuthChangeEvent = "SIGNED_OUT"
	AuthChangeTokenRefreshed AuthChangeEvent = "TOKEN_REFRESHED"
)

// AuthChange is a single auth-state change notification. Identity is nil for
// signed-out events.
type AuthChange struct {
	Event    AuthChangeEvent
	Identity *Identity
}

// ProfileStore is the keyed profile table surface. Implementations must
// return an error satisfying IsNotFound for a lookup miss and an error
// satisfying IsConflict for a duplicate-key insert, so the Resolver can
// branch on both.
type ProfileStore interface {
	GetByUserID(ctx context.Context, userID string) (*Profile, error)
	Create(ctx context.Context, profile *Profile) (*Profile, error)
	Upsert(ctx context.Context, profile *Profile) (*Profile, error)
}

// Config holds session options
type Config interface {
	GetIdleTimeout() time.Duration
	GetRequestTimeout() time.Duration
	GetOAuthProvider() string
	GetOAuthRedirectPath() string
	GetLoginRoute() string
	GetHomeRoute() string
}

// NewDefaultLogger returns the stdout printf logger used when no logger is
// provided.
func NewDefaultLogger() Logger {
	return defLogger{}
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] SESSION "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] SESSION "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] SESSION "+newline(format), args...)
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] SESSION "+newline(format), args...)
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
