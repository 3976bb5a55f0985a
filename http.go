package session

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
)

// RouteGuard protects go-router routes with the session guard rules. It
// waits for the store to settle before deciding so a slow restore never
// produces a premature redirect.
type RouteGuard struct {
	store  *Store
	config Config
	logger Logger
	// SettleTimeout bounds how long a request waits for the store to leave
	// the loading phase before answering with a retryable 503.
	SettleTimeout time.Duration
	Debug         bool
}

// NewRouteGuard builds a guard over the given store.
func NewRouteGuard(store *Store, config Config) *RouteGuard {
	if config == nil {
		config = SimpleConfig{}
	}
	return &RouteGuard{
		store:         store,
		config:        config,
		logger:        defLogger{},
		SettleTimeout: DefaultRequestTimeout,
	}
}

func (g *RouteGuard) WithLogger(logger Logger) *RouteGuard {
	if logger != nil {
		g.logger = logger
	}
	return g
}

// Protected guards a route that requires an authenticated session.
func (g *RouteGuard) Protected() router.MiddlewareFunc {
	return g.middleware(GuardRule{RequiresAuth: true})
}

// AdminOnly guards a route that requires the admin role.
func (g *RouteGuard) AdminOnly() router.MiddlewareFunc {
	return g.middleware(GuardRule{RequiresAuth: true, RequiresAdmin: true})
}

// Public passes every visitor through but still waits for the store to
// settle, so handlers can read a stable session.
func (g *RouteGuard) Public() router.MiddlewareFunc {
	return g.middleware(GuardRule{})
}

func (g *RouteGuard) middleware(rule GuardRule) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(c router.Context) error {
			if !g.awaitSettled(c) {
				return c.Status(fiber.StatusServiceUnavailable).
					SendString("session still loading, retry shortly")
			}

			sess := g.store.Current()
			decision := Decide(g.store.Phase(), sess, rule)

			if g.Debug {
				g.logger.Debug("route guard: method=%s decision=%s session=%s",
					c.Method(), decision, print.MaybePrettyJSON(sess))
			}

			switch decision {
			case DecisionAllow:
				return hf(c)
			case DecisionRedirectToLogin:
				return c.Redirect(g.config.GetLoginRoute(), http.StatusSeeOther)
			case DecisionRedirectToHome:
				return c.Redirect(g.config.GetHomeRoute(), http.StatusSeeOther)
			default:
				// Pending past the settle window; same retryable answer.
				return c.Status(fiber.StatusServiceUnavailable).
					SendString("session still loading, retry shortly")
			}
		}
	}
}

// awaitSettled blocks until the store leaves the loading phase, the request
// context ends, or the settle window elapses.
func (g *RouteGuard) awaitSettled(c router.Context) bool {
	select {
	case <-g.store.Ready():
		return true
	default:
	}

	timer := time.NewTimer(g.SettleTimeout)
	defer timer.Stop()

	select {
	case <-g.store.Ready():
		return true
	case <-c.Context().Done():
		return false
	case <-timer.C:
		return false
	}
}
