package session

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-errors"
)

// Manager drives the session lifecycle: startup restore, the auth-change
// feed, the user-initiated operations, and idle expiry. All store mutations
// funnel through one apply mutex so a restore result and a change event can
// never interleave into a contradictory final state.
type Manager struct {
	config   Config
	auth     AuthAPI
	store    *Store
	resolver *Resolver
	idle     *IdleMonitor
	notifier Notifier
	activity ActivitySink
	logger   Logger

	origin    string
	onRestart func()

	// applyMu serializes resolve-then-set sequences across the restore, the
	// change feed, and user operations.
	applyMu sync.Mutex

	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// New builds a manager over the auth client and profile store. Configure it
// with the With* methods before Start.
func New(config Config, auth AuthAPI, profiles ProfileStore) *Manager {
	if config == nil {
		config = SimpleConfig{}
	}

	m := &Manager{
		config:   config,
		auth:     auth,
		store:    NewStore(),
		notifier: noopNotifier{},
		activity: noopActivitySink{},
		logger:   defLogger{},
		done:     make(chan struct{}),
	}

	m.resolver = NewResolver(profiles)
	m.idle = NewIdleMonitor(m.handleIdle, WithIdleTimeout(config.GetIdleTimeout()))

	return m
}

func (m *Manager) WithLogger(logger Logger) *Manager {
	if logger != nil {
		m.logger = logger
		m.resolver.logger = logger
		m.idle.logger = logger
		m.store.logger = logger
	}
	return m
}

func (m *Manager) WithNotifier(n Notifier) *Manager {
	m.notifier = normalizeNotifier(n)
	m.resolver.notifier = m.notifier
	return m
}

func (m *Manager) WithActivitySink(s ActivitySink) *Manager {
	m.activity = normalizeActivitySink(s)
	m.resolver.activity = m.activity
	return m
}

// WithOrigin sets the public origin used to build the OAuth redirect URL,
// e.g. "https://app.example.com".
func (m *Manager) WithOrigin(origin string) *Manager {
	m.origin = strings.TrimRight(origin, "/")
	return m
}

// WithRestartHook registers the application callback invoked after an idle
// expiry has torn the session down, so the app can re-enter its entry point.
func (m *Manager) WithRestartHook(fn func()) *Manager {
	m.onRestart = fn
	return m
}

// Store exposes the session store for subscribers and guards.
func (m *Manager) Store() *Store {
	return m.store
}

// Touch registers user activity with the inactivity monitor.
func (m *Manager) Touch() {
	m.idle.Touch()
}

// Start kicks off the startup restore and the auth-change consumer. It
// returns immediately; await Store().Ready() for the settled phase.
func (m *Manager) Start(ctx context.Context) error {
	if m.auth == nil {
		return errors.New("auth client is required", errors.CategoryBadInput).
			WithCode(errors.CodeBadRequest)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	go m.consumeAuthChanges(runCtx)
	go m.restore(runCtx)

	return nil
}

// Close stops the change consumer and the idle monitor.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
		m.idle.Stop()
		close(m.done)
	})
}

// restore re-establishes the session from whatever the platform already
// holds. Any failure settles the store to anonymous; restore never leaves
// the app stuck loading.
func (m *Manager) restore(ctx context.Context) {
	opCtx, cancel := m.opContext(ctx)
	defer cancel()

	identity, err := m.auth.CurrentIdentity(opCtx)
	if err != nil {
		if !stderrors.Is(err, context.Canceled) && !IsNotFound(err) && goErrTextCode(err) != TextCodeNoActiveSession {
			m.logger.Warn("session restore failed: %v", err)
		}
		m.applySession(ctx, nil)
		return
	}

	sess, err := m.resolver.Resolve(opCtx, identity)
	if err != nil {
		m.logger.Warn("session restore resolution failed: %v", err)
		m.applySession(ctx, nil)
		return
	}

	m.applySession(ctx, sess)
}

// consumeAuthChanges applies the platform's auth-state feed to the store.
// Token refreshes for the current user do not re-resolve the profile.
func (m *Manager) consumeAuthChanges(ctx context.Context) {
	changes := m.auth.AuthChanges()
	for {
		select {
		case <-ctx.Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			m.handleAuthChange(ctx, change)
		}
	}
}

func (m *Manager) handleAuthChange(ctx context.Context, change AuthChange) {
	switch change.Event {
	case AuthChangeSignedOut:
		m.applySession(ctx, nil)
	case AuthChangeSignedIn:
		if change.Identity == nil {
			return
		}
		opCtx, cancel := m.opContext(ctx)
		defer cancel()
		sess, err := m.resolver.Resolve(opCtx, change.Identity)
		if err != nil {
			m.logger.Warn("auth change resolution failed: %v", err)
			return
		}
		m.applySession(ctx, sess)
	case AuthChangeTokenRefreshed:
		m.applyMu.Lock()
		current := m.store.Current()
		if current != nil && change.Identity != nil && current.UserID() == change.Identity.ID {
			m.idle.Touch()
		}
		m.applyMu.Unlock()
	}
}

// applySession is the single write path into the store. It also keeps the
// idle monitor in lockstep with the authenticated state.
func (m *Manager) applySession(ctx context.Context, sess *Session) {
	m.applyMu.Lock()
	defer m.applyMu.Unlock()

	if err := m.store.set(sess); err != nil {
		m.logger.Error("session apply rejected: %v", err)
		return
	}

	if sess != nil {
		m.idle.Start()
	} else {
		m.idle.Stop()
	}
}

// Login signs in with email and password. On failure the store is untouched
// and the error is surfaced verbatim alongside one error notification.
func (m *Manager) Login(ctx context.Context, creds Credentials) (*Session, error) {
	if err := creds.Validate(); err != nil {
		m.notifyError(ctx, "Sign in failed.", err)
		return nil, err
	}

	opCtx, cancel := m.opContext(ctx)
	defer cancel()

	identity, err := m.auth.SignInWithPassword(opCtx, creds.Email, creds.Password)
	if err != nil {
		err = m.mapTimeout(err)
		m.activity.Record(ctx, ActivityRecord{Event: ActivityLoginFailure, Email: creds.Email})
		m.notifyError(ctx, "Sign in failed.", err)
		return nil, err
	}

	sess, err := m.resolver.Resolve(opCtx, identity)
	if err != nil {
		m.notifyError(ctx, "Sign in failed.", err)
		return nil, err
	}

	m.applySession(ctx, sess)
	m.activity.Record(ctx, ActivityRecord{
		Event:  ActivityLoginSuccess,
		UserID: sess.UserID(),
		Email:  sess.Email(),
	})
	m.notifier.Notify(ctx, Notification{
		Severity: SeveritySuccess,
		Message:  "Welcome back!",
	})

	return sess, nil
}

// SignUp registers a new identity. No session is established here; the
// platform may hold the account until email verification completes.
func (m *Manager) SignUp(ctx context.Context, payload SignupPayload) error {
	if err := payload.Validate(); err != nil {
		m.notifyError(ctx, "Sign up failed.", err)
		return err
	}

	opCtx, cancel := m.opContext(ctx)
	defer cancel()

	if _, err := m.auth.SignUp(opCtx, payload.Email, payload.Password, payload.Metadata()); err != nil {
		err = m.mapTimeout(err)
		m.activity.Record(ctx, ActivityRecord{Event: ActivitySignupFailure, Email: payload.Email})
		m.notifyError(ctx, "Sign up failed.", err)
		return err
	}

	m.activity.Record(ctx, ActivityRecord{Event: ActivitySignupSuccess, Email: payload.Email})
	m.notifier.Notify(ctx, Notification{
		Severity: SeveritySuccess,
		Message:  "Account created. Check your email to verify your address.",
	})

	return nil
}

// SignInWithGoogle returns the provider authorize URL. The caller redirects
// the user there; the session is established later through the auth-change
// feed once the provider bounces back to the callback path.
func (m *Manager) SignInWithGoogle(ctx context.Context) (string, error) {
	opCtx, cancel := m.opContext(ctx)
	defer cancel()

	redirectTo := m.origin + m.config.GetOAuthRedirectPath()
	url, err := m.auth.AuthorizeURL(opCtx, m.config.GetOAuthProvider(), redirectTo)
	if err != nil {
		err = m.mapTimeout(err)
		m.notifyError(ctx, "Could not start Google sign in.", err)
		return "", err
	}

	m.activity.Record(ctx, ActivityRecord{Event: ActivityOAuthStarted})
	m.notifier.Notify(ctx, Notification{
		Severity: SeverityInfo,
		Message:  "Redirecting to Google...",
	})

	return url, nil
}

// Logout signs out remotely and clears the local session. The local session
// is cleared even when the remote call fails; a stale server session must
// not keep the UI authenticated.
func (m *Manager) Logout(ctx context.Context) error {
	current := m.store.Current()
	if current == nil {
		return nil
	}

	opCtx, cancel := m.opContext(ctx)
	defer cancel()

	err := m.auth.SignOut(opCtx)

	m.applySession(ctx, nil)
	m.activity.Record(ctx, ActivityRecord{
		Event:  ActivityLogout,
		UserID: current.UserID(),
		Email:  current.Email(),
	})

	if err != nil {
		err = m.mapTimeout(err)
		m.notifyError(ctx, "Sign out completed locally, but the server reported an error.", err)
		return err
	}

	m.notifier.Notify(ctx, Notification{
		Severity: SeveritySuccess,
		Message:  "Signed out.",
	})

	return nil
}

// UpdateProfile persists a partial profile edit for the current session and
// folds the result back into the store.
func (m *Manager) UpdateProfile(ctx context.Context, update ProfileUpdate) (*Session, error) {
	current := m.store.Current()
	if current == nil {
		m.notifyError(ctx, "You need to be signed in to update your profile.", ErrNotAuthenticated)
		return nil, ErrNotAuthenticated
	}

	if err := update.Validate(); err != nil {
		m.notifyError(ctx, "Profile update failed.", err)
		return nil, err
	}

	base := current.Profile
	if base == nil {
		seeded, err := SeedProfile(&current.Identity, time.Now())
		if err != nil {
			m.notifyError(ctx, "Profile update failed.", err)
			return nil, err
		}
		base = seeded
	}

	opCtx, cancel := m.opContext(ctx)
	defer cancel()

	saved, err := m.resolver.profiles.Upsert(opCtx, update.Apply(base))
	if err != nil {
		err = m.mapTimeout(err)
		m.notifyError(ctx, "Profile update failed.", err)
		return nil, err
	}

	next := current.WithProfile(saved)
	m.applySession(ctx, next)
	m.activity.Record(ctx, ActivityRecord{
		Event:  ActivityProfileUpdated,
		UserID: next.UserID(),
		Email:  next.Email(),
	})
	m.notifier.Notify(ctx, Notification{
		Severity: SeveritySuccess,
		Message:  "Profile updated.",
	})

	return next, nil
}

// handleIdle runs on the idle monitor's timer goroutine when the countdown
// elapses: remote sign out, local teardown, one warning notification, then
// the application restart hook.
func (m *Manager) handleIdle() {
	ctx, cancel := context.WithTimeout(context.Background(), m.config.GetRequestTimeout())
	defer cancel()

	current := m.store.Current()
	if err := m.auth.SignOut(ctx); err != nil {
		m.logger.Warn("idle sign out failed, clearing local session anyway: %v", err)
	}

	m.applySession(ctx, nil)
	m.activity.Record(ctx, ActivityRecord{
		Event:  ActivityIdleExpired,
		UserID: current.UserID(),
		Email:  current.Email(),
	})
	m.notifier.Notify(ctx, Notification{
		Severity: SeverityWarning,
		Message:  "You were signed out due to inactivity.",
	})

	if m.onRestart != nil {
		m.onRestart()
	}
}

func (m *Manager) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.config.GetRequestTimeout())
}

// mapTimeout converts a deadline overrun into the request-timeout sentinel
// so callers and notifications name the real condition.
func (m *Manager) mapTimeout(err error) error {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrRequestTimeout, m.config.GetRequestTimeout())
	}
	return err
}

func (m *Manager) notifyError(ctx context.Context, msg string, err error) {
	m.logger.Error("%s: %v", msg, err)
	m.notifier.Notify(ctx, Notification{
		Severity: SeverityError,
		Message:  msg,
		Err:      err,
	})
}

func goErrTextCode(err error) string {
	var richErr *errors.Error
	if errors.As(err, &richErr) {
		return richErr.TextCode
	}
	return ""
}
