// Package session implements the authenticated session lifecycle for
// applications backed by a hosted auth/data platform: a single source of
// truth for "who is logged in right now" (Store), identity-to-profile
// resolution with lazy profile creation (Resolver), auth operations bound to
// the external service (Manager), an idle-expiry countdown (IdleMonitor), and
// route guard decisions (Decide, RouteGuard).
//
// The external platform owns authentication and persistence; this package
// owns the in-memory lifecycle and the ordering guarantees around it. The
// startup restore and the platform's auth-change notifications both feed one
// serialized queue into the Store, so dependents always converge on a single
// consistent session value regardless of arrival order.
//
// Landing on the OAuth callback path requires no special handling: the
// application falls into the normal restore flow and the Store settles from
// the auth-change feed.
package session
