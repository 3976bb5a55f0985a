package session_test

import (
	"context"
	"fmt"
	"sync"

	"github.com/lumakit/go-session"
)

// fakeAuth is a scriptable AuthAPI for manager tests.
type fakeAuth struct {
	mu sync.Mutex

	identity     *session.Identity
	currentErr   error
	signInErr    error
	signUpErr    error
	signOutErr   error
	authorizeErr error
	authorizeURL string

	signOutCalls int
	signUpMeta   map[string]any

	changes chan session.AuthChange
}

func newFakeAuth() *fakeAuth {
	return &fakeAuth{changes: make(chan session.AuthChange, 8)}
}

func (f *fakeAuth) CurrentIdentity(ctx context.Context) (*session.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.currentErr != nil {
		return nil, f.currentErr
	}
	if f.identity == nil {
		return nil, session.ErrNoActiveSession
	}
	return f.identity, nil
}

func (f *fakeAuth) SignInWithPassword(ctx context.Context, email, password string) (*session.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signInErr != nil {
		return nil, f.signInErr
	}
	return f.identity, nil
}

func (f *fakeAuth) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*session.Identity, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signUpMeta = metadata
	if f.signUpErr != nil {
		return nil, f.signUpErr
	}
	return &session.Identity{Email: email, Metadata: metadata}, nil
}

func (f *fakeAuth) AuthorizeURL(ctx context.Context, provider, redirectTo string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.authorizeErr != nil {
		return "", f.authorizeErr
	}
	if f.authorizeURL != "" {
		return f.authorizeURL, nil
	}
	return fmt.Sprintf("https://platform.test/authorize?provider=%s&redirect_to=%s", provider, redirectTo), nil
}

func (f *fakeAuth) SignOut(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signOutCalls++
	return f.signOutErr
}

func (f *fakeAuth) AuthChanges() <-chan session.AuthChange {
	return f.changes
}

func (f *fakeAuth) signOuts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.signOutCalls
}

// memProfiles is an in-memory ProfileStore honoring the not-found and
// conflict contracts.
type memProfiles struct {
	mu sync.Mutex

	records map[string]*session.Profile

	getErr    error
	createErr error
	upsertErr error

	getCalls    int
	createCalls int
}

func newMemProfiles() *memProfiles {
	return &memProfiles{records: map[string]*session.Profile{}}
}

func (m *memProfiles) GetByUserID(ctx context.Context, userID string) (*session.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.getErr != nil {
		return nil, m.getErr
	}
	record, ok := m.records[userID]
	if !ok {
		return nil, fmt.Errorf("%w: user %s", session.ErrProfileNotFound, userID)
	}
	clone := *record
	return &clone, nil
}

func (m *memProfiles) Create(ctx context.Context, profile *session.Profile) (*session.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return nil, m.createErr
	}
	key := profile.ID.String()
	if _, exists := m.records[key]; exists {
		return nil, fmt.Errorf("%w: user %s", session.ErrProfileExists, key)
	}
	clone := *profile
	m.records[key] = &clone
	return profile, nil
}

func (m *memProfiles) Upsert(ctx context.Context, profile *session.Profile) (*session.Profile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return nil, m.upsertErr
	}
	clone := *profile
	m.records[profile.ID.String()] = &clone
	return profile, nil
}

func (m *memProfiles) put(profile *session.Profile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[profile.ID.String()] = profile
}

func (m *memProfiles) creates() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createCalls
}

// recordingNotifier captures every notification in arrival order.
type recordingNotifier struct {
	mu            sync.Mutex
	notifications []session.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n session.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.notifications)
}

func (r *recordingNotifier) last() (session.Notification, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.notifications) == 0 {
		return session.Notification{}, false
	}
	return r.notifications[len(r.notifications)-1], true
}

// recordingSink captures activity events in arrival order.
type recordingSink struct {
	mu      sync.Mutex
	records []session.ActivityRecord
}

func (r *recordingSink) Record(_ context.Context, record session.ActivityRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, record)
}

func (r *recordingSink) events() []session.ActivityEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]session.ActivityEvent, 0, len(r.records))
	for _, record := range r.records {
		out = append(out, record.Event)
	}
	return out
}
