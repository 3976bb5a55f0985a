package session_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lumakit/go-session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerStartRestoresExistingSession(t *testing.T) {
	uid := uuid.New()
	auth := newFakeAuth()
	auth.identity = &session.Identity{
		ID:       uid.String(),
		Email:    "ada@example.com",
		Metadata: map[string]any{"full_name": "Ada Lovelace"},
	}

	profiles := newMemProfiles()
	manager := session.New(session.SimpleConfig{}, auth, profiles)
	defer manager.Close()

	require.NoError(t, manager.Start(context.Background()))
	<-manager.Store().Ready()

	sess := manager.Store().Current()
	require.NotNil(t, sess)
	assert.Equal(t, "ada@example.com", sess.Email())
	assert.Equal(t, "Ada Lovelace", sess.Name())
	assert.Equal(t, 1, profiles.creates(), "first visit lazily creates the profile")
}

func TestManagerStartSettlesAnonymousWithoutSession(t *testing.T) {
	auth := newFakeAuth()
	manager := session.New(session.SimpleConfig{}, auth, newMemProfiles())
	defer manager.Close()

	require.NoError(t, manager.Start(context.Background()))

	select {
	case <-manager.Store().Ready():
	case <-time.After(time.Second):
		t.Fatal("store must settle")
	}

	assert.Equal(t, session.PhaseAnonymous, manager.Store().Phase())
	assert.Nil(t, manager.Store().Current())
}

func TestManagerStartSettlesAnonymousOnRestoreError(t *testing.T) {
	auth := newFakeAuth()
	auth.currentErr = errors.New("gateway exploded")

	manager := session.New(session.SimpleConfig{}, auth, newMemProfiles())
	defer manager.Close()

	require.NoError(t, manager.Start(context.Background()))

	select {
	case <-manager.Store().Ready():
	case <-time.After(time.Second):
		t.Fatal("a failed restore must still settle the store")
	}

	assert.Equal(t, session.PhaseAnonymous, manager.Store().Phase())
}

func TestManagerLoginSuccess(t *testing.T) {
	uid := uuid.New()
	auth := newFakeAuth()
	auth.identity = &session.Identity{ID: uid.String(), Email: "ada@example.com"}

	notifier := &recordingNotifier{}
	sink := &recordingSink{}
	manager := session.New(session.SimpleConfig{}, auth, newMemProfiles()).
		WithNotifier(notifier).
		WithActivitySink(sink)
	defer manager.Close()

	sess, err := manager.Login(context.Background(), session.Credentials{
		Email:    "ada@example.com",
		Password: "correct horse",
	})
	require.NoError(t, err)
	require.NotNil(t, sess)

	assert.Equal(t, session.PhaseAuthenticated, manager.Store().Phase())
	assert.Equal(t, sess, manager.Store().Current())

	require.Equal(t, 1, notifier.count(), "exactly one notification per operation")
	n, _ := notifier.last()
	assert.Equal(t, session.SeveritySuccess, n.Severity)
	assert.Contains(t, sink.events(), session.ActivityLoginSuccess)
}

func TestManagerLoginFailureLeavesStoreUntouched(t *testing.T) {
	auth := newFakeAuth()
	wrong := errors.New("invalid login credentials")
	auth.signInErr = wrong

	notifier := &recordingNotifier{}
	manager := session.New(session.SimpleConfig{}, auth, newMemProfiles()).
		WithNotifier(notifier)
	defer manager.Close()

	before := manager.Store().Phase()
	_, err := manager.Login(context.Background(), session.Credentials{
		Email:    "ada@example.com",
		Password: "wrong",
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, wrong, "failure surfaced verbatim")

	assert.Equal(t, before, manager.Store().Phase())
	assert.Nil(t, manager.Store().Current())

	require.Equal(t, 1, notifier.count())
	n, _ := notifier.last()
	assert.Equal(t, session.SeverityError, n.Severity)
}

func TestManagerLoginValidatesPayload(t *testing.T) {
	manager := session.New(session.SimpleConfig{}, newFakeAuth(), newMemProfiles())
	defer manager.Close()

	_, err := manager.Login(context.Background(), session.Credentials{Email: "not-an-email", Password: "x"})
	require.Error(t, err)
	assert.Nil(t, manager.Store().Current())
}

func TestManagerSignUpEstablishesNoSession(t *testing.T) {
	auth := newFakeAuth()
	notifier := &recordingNotifier{}
	manager := session.New(session.SimpleConfig{}, auth, newMemProfiles()).
		WithNotifier(notifier)
	defer manager.Close()

	err := manager.SignUp(context.Background(), session.SignupPayload{
		Email:    "ada@example.com",
		Password: "correct horse battery",
		FullName: "Ada Lovelace",
	})
	require.NoError(t, err)

	assert.Nil(t, manager.Store().Current(), "signup must not establish a session")
	assert.Equal(t, "Ada Lovelace", auth.signUpMeta["full_name"], "name travels as identity metadata")

	require.Equal(t, 1, notifier.count())
	n, _ := notifier.last()
	assert.Equal(t, session.SeveritySuccess, n.Severity)
}

func TestManagerSignInWithGoogleBuildsRedirect(t *testing.T) {
	auth := newFakeAuth()
	manager := session.New(session.SimpleConfig{}, auth, newMemProfiles()).
		WithOrigin("https://shop.example.com/")
	defer manager.Close()

	url, err := manager.SignInWithGoogle(context.Background())
	require.NoError(t, err)

	assert.Contains(t, url, "provider=google")
	assert.Contains(t, url, "https://shop.example.com/auth/callback")
	assert.Nil(t, manager.Store().Current(), "session arrives later via the change feed")
}

func TestManagerLogoutClearsSessionEvenWhenRemoteFails(t *testing.T) {
	uid := uuid.New()
	auth := newFakeAuth()
	auth.identity = &session.Identity{ID: uid.String(), Email: "ada@example.com"}

	notifier := &recordingNotifier{}
	manager := session.New(session.SimpleConfig{}, auth, newMemProfiles()).
		WithNotifier(notifier)
	defer manager.Close()

	_, err := manager.Login(context.Background(), session.Credentials{
		Email:    "ada@example.com",
		Password: "correct horse",
	})
	require.NoError(t, err)

	auth.signOutErr = errors.New("revocation endpoint down")
	err = manager.Logout(context.Background())
	require.Error(t, err)

	assert.Equal(t, session.PhaseAnonymous, manager.Store().Phase())
	assert.Nil(t, manager.Store().Current(), "local session cleared unconditionally")
}

func TestManagerUpdateProfileRequiresSession(t *testing.T) {
	notifier := &recordingNotifier{}
	manager := session.New(session.SimpleConfig{}, newFakeAuth(), newMemProfiles()).
		WithNotifier(notifier)
	defer manager.Close()

	name := "Ada"
	_, err := manager.UpdateProfile(context.Background(), session.ProfileUpdate{FullName: &name})
	assert.ErrorIs(t, err, session.ErrNotAuthenticated)
	assert.Equal(t, 1, notifier.count())
}

func TestManagerUpdateProfilePersistsAndRefreshesSession(t *testing.T) {
	uid := uuid.New()
	auth := newFakeAuth()
	auth.identity = &session.Identity{ID: uid.String(), Email: "ada@example.com"}

	profiles := newMemProfiles()
	manager := session.New(session.SimpleConfig{}, auth, profiles)
	defer manager.Close()

	_, err := manager.Login(context.Background(), session.Credentials{
		Email:    "ada@example.com",
		Password: "correct horse",
	})
	require.NoError(t, err)

	name := "Countess of Lovelace"
	phone := "+14155552671"
	sess, err := manager.UpdateProfile(context.Background(), session.ProfileUpdate{
		FullName: &name,
		Phone:    &phone,
	})
	require.NoError(t, err)

	require.NotNil(t, sess.Profile)
	assert.Equal(t, name, sess.Profile.FullName)
	assert.Equal(t, "+14155552671", sess.Profile.Phone)
	assert.Equal(t, sess, manager.Store().Current())

	stored, err := profiles.GetByUserID(context.Background(), uid.String())
	require.NoError(t, err)
	assert.Equal(t, name, stored.FullName)
}

func TestManagerAuthChangeSignedOutClearsStore(t *testing.T) {
	uid := uuid.New()
	auth := newFakeAuth()
	auth.identity = &session.Identity{ID: uid.String(), Email: "ada@example.com"}

	manager := session.New(session.SimpleConfig{}, auth, newMemProfiles())
	defer manager.Close()

	require.NoError(t, manager.Start(context.Background()))
	<-manager.Store().Ready()
	require.Equal(t, session.PhaseAuthenticated, manager.Store().Phase())

	auth.changes <- session.AuthChange{Event: session.AuthChangeSignedOut}

	require.Eventually(t, func() bool {
		return manager.Store().Phase() == session.PhaseAnonymous
	}, time.Second, 10*time.Millisecond)
}

func TestManagerAuthChangeSignedInEstablishesSession(t *testing.T) {
	uid := uuid.New()
	auth := newFakeAuth()

	manager := session.New(session.SimpleConfig{}, auth, newMemProfiles())
	defer manager.Close()

	require.NoError(t, manager.Start(context.Background()))
	<-manager.Store().Ready()
	require.Equal(t, session.PhaseAnonymous, manager.Store().Phase())

	// OAuth callback: the platform announces the session, nothing else is
	// required of the app.
	auth.changes <- session.AuthChange{
		Event:    session.AuthChangeSignedIn,
		Identity: &session.Identity{ID: uid.String(), Email: "ada@example.com"},
	}

	require.Eventually(t, func() bool {
		return manager.Store().Phase() == session.PhaseAuthenticated
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, "ada@example.com", manager.Store().Current().Email())
}

func TestManagerIdleExpiryTearsDownOnce(t *testing.T) {
	uid := uuid.New()
	auth := newFakeAuth()
	auth.identity = &session.Identity{ID: uid.String(), Email: "ada@example.com"}

	var restarts atomic.Int32
	notifier := &recordingNotifier{}
	sink := &recordingSink{}

	manager := session.New(session.SimpleConfig{IdleTimeout: 30 * time.Millisecond}, auth, newMemProfiles()).
		WithNotifier(notifier).
		WithActivitySink(sink).
		WithRestartHook(func() { restarts.Add(1) })
	defer manager.Close()

	_, err := manager.Login(context.Background(), session.Credentials{
		Email:    "ada@example.com",
		Password: "correct horse",
	})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return manager.Store().Phase() == session.PhaseAnonymous
	}, time.Second, 5*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), restarts.Load(), "restart hook fires exactly once")
	assert.Equal(t, 1, auth.signOuts())
	assert.Contains(t, sink.events(), session.ActivityIdleExpired)

	n, ok := notifier.last()
	require.True(t, ok)
	assert.Equal(t, session.SeverityWarning, n.Severity)
	assert.True(t, strings.Contains(n.Message, "inactivity"))
}

func TestManagerRequestTimeoutSurfaces(t *testing.T) {
	auth := &slowAuth{fakeAuth: newFakeAuth(), delay: 200 * time.Millisecond}

	manager := session.New(session.SimpleConfig{RequestTimeout: 20 * time.Millisecond}, auth, newMemProfiles())
	defer manager.Close()

	_, err := manager.Login(context.Background(), session.Credentials{
		Email:    "ada@example.com",
		Password: "correct horse",
	})
	require.Error(t, err)
	assert.True(t, session.IsTimeout(err))
	assert.Nil(t, manager.Store().Current())
}

func TestManagerLogoutWithoutSessionIsNoop(t *testing.T) {
	auth := newFakeAuth()
	notifier := &recordingNotifier{}
	manager := session.New(session.SimpleConfig{}, auth, newMemProfiles()).
		WithNotifier(notifier)
	defer manager.Close()

	require.NoError(t, manager.Logout(context.Background()))

	assert.Equal(t, 0, auth.signOuts(), "nothing to revoke without a session")
	assert.Equal(t, 0, notifier.count(), "no notification for a no-op")
}

func TestManagerLoginResolutionBoundedByRequestTimeout(t *testing.T) {
	uid := uuid.New()
	auth := newFakeAuth()
	auth.identity = &session.Identity{ID: uid.String(), Email: "ada@example.com"}

	manager := session.New(session.SimpleConfig{RequestTimeout: 50 * time.Millisecond}, auth, &hangingProfiles{})
	defer manager.Close()

	type result struct {
		sess *session.Session
		err  error
	}
	done := make(chan result, 1)
	go func() {
		sess, err := manager.Login(context.Background(), session.Credentials{
			Email:    "ada@example.com",
			Password: "correct horse",
		})
		done <- result{sess, err}
	}()

	select {
	case res := <-done:
		// A wedged profile store degrades the session, it never hangs the
		// operation.
		require.NoError(t, res.err)
		require.NotNil(t, res.sess)
		assert.Nil(t, res.sess.Profile)
		assert.Equal(t, "ada@example.com", res.sess.Email())
	case <-time.After(time.Second):
		t.Fatal("login must return once the request timeout elapses")
	}
}

func TestManagerRestoreResolutionBoundedByRequestTimeout(t *testing.T) {
	uid := uuid.New()
	auth := newFakeAuth()
	auth.identity = &session.Identity{ID: uid.String(), Email: "ada@example.com"}

	manager := session.New(session.SimpleConfig{RequestTimeout: 50 * time.Millisecond}, auth, &hangingProfiles{})
	defer manager.Close()

	require.NoError(t, manager.Start(context.Background()))

	select {
	case <-manager.Store().Ready():
	case <-time.After(time.Second):
		t.Fatal("restore must settle once the request timeout elapses")
	}

	sess := manager.Store().Current()
	require.NotNil(t, sess)
	assert.Nil(t, sess.Profile)
}

// hangingProfiles blocks every call until the context is cancelled.
type hangingProfiles struct{}

func (h *hangingProfiles) GetByUserID(ctx context.Context, userID string) (*session.Profile, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (h *hangingProfiles) Create(ctx context.Context, profile *session.Profile) (*session.Profile, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (h *hangingProfiles) Upsert(ctx context.Context, profile *session.Profile) (*session.Profile, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

// slowAuth delays password sign-in past the configured request timeout.
type slowAuth struct {
	*fakeAuth
	delay time.Duration
}

func (s *slowAuth) SignInWithPassword(ctx context.Context, email, password string) (*session.Identity, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(s.delay):
		return s.fakeAuth.SignInWithPassword(ctx, email, password)
	}
}
