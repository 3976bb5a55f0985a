package session

import "time"

const (
	// DefaultIdleTimeout is how long a session survives without user
	// activity before the IdleMonitor force-expires it.
	DefaultIdleTimeout = 30 * time.Minute

	// DefaultRequestTimeout bounds every external auth/profile call so the
	// UI never hangs on an indefinite "processing" state.
	DefaultRequestTimeout = 15 * time.Second

	// OAuthCallbackPath is the well-known path the OAuth provider redirects
	// back to. Landing there requires only the normal restore flow.
	OAuthCallbackPath = "/auth/callback"
)

// SimpleConfig is a value-based Config implementation with sensible zero
// value fallbacks.
type SimpleConfig struct {
	IdleTimeout       time.Duration
	RequestTimeout    time.Duration
	OAuthProvider     string
	OAuthRedirectPath string
	LoginRoute        string
	HomeRoute         string
}

var _ Config = SimpleConfig{}

func (c SimpleConfig) GetIdleTimeout() time.Duration {
	if c.IdleTimeout <= 0 {
		return DefaultIdleTimeout
	}
	return c.IdleTimeout
}

func (c SimpleConfig) GetRequestTimeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return DefaultRequestTimeout
	}
	return c.RequestTimeout
}

func (c SimpleConfig) GetOAuthProvider() string {
	if c.OAuthProvider == "" {
		return "google"
	}
	return c.OAuthProvider
}

func (c SimpleConfig) GetOAuthRedirectPath() string {
	if c.OAuthRedirectPath == "" {
		return OAuthCallbackPath
	}
	return c.OAuthRedirectPath
}

func (c SimpleConfig) GetLoginRoute() string {
	if c.LoginRoute == "" {
		return "/login"
	}
	return c.LoginRoute
}

func (c SimpleConfig) GetHomeRoute() string {
	if c.HomeRoute == "" {
		return "/"
	}
	return c.HomeRoute
}
