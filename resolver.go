package session

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"
)

// Resolver turns a raw identity into a full session by loading, and lazily
// creating, the matching profile. Concurrent resolutions for the same
// identity id are collapsed so at most one create is attempted per id.
type Resolver struct {
	profiles ProfileStore
	notifier Notifier
	activity ActivitySink
	logger   Logger
	group    singleflight.Group
	now      func() time.Time
}

// ResolverOption customizes resolver construction.
type ResolverOption func(*Resolver)

func WithResolverLogger(logger Logger) ResolverOption {
	return func(r *Resolver) {
		if logger != nil {
			r.logger = logger
		}
	}
}

func WithResolverNotifier(n Notifier) ResolverOption {
	return func(r *Resolver) {
		r.notifier = normalizeNotifier(n)
	}
}

func WithResolverActivitySink(s ActivitySink) ResolverOption {
	return func(r *Resolver) {
		r.activity = normalizeActivitySink(s)
	}
}

// NewResolver builds a resolver over the given profile store.
func NewResolver(profiles ProfileStore, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		profiles: profiles,
		notifier: noopNotifier{},
		activity: noopActivitySink{},
		logger:   defLogger{},
		now:      time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}

	return r
}

// Resolve produces the session for an identity. Resolution never fails the
// login: a profile store outage degrades to an identity-only session and one
// warning notification instead of an error.
func (r *Resolver) Resolve(ctx context.Context, identity *Identity) (*Session, error) {
	if identity == nil || identity.ID == "" {
		return nil, ErrMissingIdentity
	}

	v, err, _ := r.group.Do(identity.ID, func() (any, error) {
		return r.resolve(ctx, identity)
	})
	if err != nil {
		return nil, err
	}

	return v.(*Session), nil
}

func (r *Resolver) resolve(ctx context.Context, identity *Identity) (*Session, error) {
	profile, err := r.profiles.GetByUserID(ctx, identity.ID)
	if err == nil {
		return NewSession(identity, profile), nil
	}

	if !IsNotFound(err) {
		return r.degrade(ctx, identity, err), nil
	}

	created, err := r.createProfile(ctx, identity)
	if err != nil {
		return r.degrade(ctx, identity, err), nil
	}

	return NewSession(identity, created), nil
}

// createProfile inserts the default profile for a first-time identity. A
// duplicate-key rejection means another writer won the race; the existing row
// is authoritative and the outcome is still success.
func (r *Resolver) createProfile(ctx context.Context, identity *Identity) (*Profile, error) {
	seed, err := SeedProfile(identity, r.now())
	if err != nil {
		return nil, err
	}

	created, err := r.profiles.Create(ctx, seed)
	if err == nil {
		r.activity.Record(ctx, ActivityRecord{
			Event:  ActivityProfileCreated,
			UserID: identity.ID,
			Email:  identity.Email,
		})
		return created, nil
	}

	if IsConflict(err) {
		r.logger.Debug("profile create raced, re-fetching: user=%s", identity.ID)
		return r.profiles.GetByUserID(ctx, identity.ID)
	}

	return nil, err
}

// degrade builds the identity-only fallback session and emits the single
// non-fatal warning the failure produces.
func (r *Resolver) degrade(ctx context.Context, identity *Identity, cause error) *Session {
	r.logger.Warn("profile resolution failed, continuing without profile: user=%s error=%v", identity.ID, cause)
	r.notifier.Notify(ctx, Notification{
		Severity: SeverityWarning,
		Message:  "We could not load your profile. Some features may be unavailable.",
		Err:      cause,
	})
	return NewSession(identity, nil)
}
