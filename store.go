package session

import (
	"fmt"
	"sort"
	"sync"
)

// Phase is the lifecycle phase of the session store.
type Phase string

const (
	// PhaseLoading is the initial phase while the startup restore is in
	// flight. Guards must not redirect while the store is loading.
	PhaseLoading Phase = "loading"
	// PhaseAnonymous means the store has settled with no session.
	PhaseAnonymous Phase = "anonymous"
	// PhaseAuthenticated means a session is live.
	PhaseAuthenticated Phase = "authenticated"
)

// Transition describes one observable store state change.
type Transition struct {
	From    Phase
	To      Phase
	Session *Session
}

// Listener receives transitions in the order they occurred.
type Listener func(Transition)

// StoreOption customizes store construction.
type StoreOption func(*Store)

// WithStoreLogger overrides the default logger.
func WithStoreLogger(logger Logger) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store is the single source of truth for the current session. At most one
// session is live per store; mutation is internal to the package (Resolver
// and Manager), everything else reads.
type Store struct {
	// notifyMu serializes transitions end to end so listeners observe them
	// in order and never see a half-applied update.
	notifyMu sync.Mutex
	mu       sync.RWMutex

	phase     Phase
	session   *Session
	listeners map[int]Listener
	nextID    int

	ready     chan struct{}
	readyOnce sync.Once

	transitions map[Phase]map[Phase]struct{}
	logger      Logger
}

// NewStore returns a store in the loading phase.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		phase:     PhaseLoading,
		listeners: map[int]Listener{},
		ready:     make(chan struct{}),
		transitions: map[Phase]map[Phase]struct{}{
			PhaseLoading: {
				PhaseAnonymous:     {},
				PhaseAuthenticated: {},
			},
			PhaseAnonymous: {
				PhaseAuthenticated: {},
			},
			PhaseAuthenticated: {
				PhaseAnonymous:     {},
				PhaseAuthenticated: {},
			},
		},
		logger: defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	return s
}

// Current returns the latest known session, or nil when unauthenticated or
// still loading.
func (s *Store) Current() *Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.session
}

// Phase returns the current lifecycle phase.
func (s *Store) Phase() Phase {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phase
}

// Ready is closed once the store leaves the loading phase. It always closes:
// a failed restore settles the store to anonymous instead of hanging.
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// Subscribe registers a listener for subsequent transitions and returns its
// cancellation handle. Late subscribers read the settled value through
// Current. Listeners must not mutate the store synchronously.
func (s *Store) Subscribe(listener Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = listener
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// set applies a session value, deriving the target phase from it. A nil
// anonymous-to-anonymous update is a no-op so redundant producers do not
// generate spurious notifications.
func (s *Store) set(next *Session) error {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	target := PhaseAuthenticated
	if next == nil {
		target = PhaseAnonymous
	}

	s.mu.Lock()
	from := s.phase
	if from == PhaseAnonymous && target == PhaseAnonymous {
		s.mu.Unlock()
		return nil
	}

	if !s.canTransition(from, target) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, target)
	}

	s.phase = target
	s.session = next
	listeners := s.snapshotListeners()
	s.mu.Unlock()

	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Debug("session phase: %s -> %s", from, target)

	t := Transition{From: from, To: target, Session: next}
	for _, listener := range listeners {
		listener(t)
	}

	return nil
}

func (s *Store) canTransition(from, to Phase) bool {
	if allowed, ok := s.transitions[from]; ok {
		_, exists := allowed[to]
		return exists
	}
	return false
}

// snapshotListeners returns listeners in registration order. Caller holds mu.
func (s *Store) snapshotListeners() []Listener {
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)

	out := make([]Listener, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.listeners[id])
	}
	return out
}
