package session

import (
	"sync"
	"time"
)

// IdleMonitor tracks user inactivity for an authenticated session. One
// countdown exists at a time; Touch rearms it, Stop cancels it, and the
// expire callback fires at most once per Start.
type IdleMonitor struct {
	mu      sync.Mutex
	timeout time.Duration
	timer   *time.Timer
	running bool
	expired bool
	onIdle  func()
	logger  Logger
}

// IdleOption customizes monitor construction.
type IdleOption func(*IdleMonitor)

func WithIdleTimeout(timeout time.Duration) IdleOption {
	return func(m *IdleMonitor) {
		if timeout > 0 {
			m.timeout = timeout
		}
	}
}

func WithIdleLogger(logger Logger) IdleOption {
	return func(m *IdleMonitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewIdleMonitor builds a stopped monitor. onIdle runs on the timer
// goroutine when the countdown elapses.
func NewIdleMonitor(onIdle func(), opts ...IdleOption) *IdleMonitor {
	m := &IdleMonitor{
		timeout: DefaultIdleTimeout,
		onIdle:  onIdle,
		logger:  defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	return m
}

// Start arms the countdown. Starting a running monitor resets it, same as
// Touch.
func (m *IdleMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running = true
	m.expired = false
	m.rearm()
}

// Touch registers user activity, pushing the deadline out by the full
// timeout. A touch on a stopped or already expired monitor is ignored.
func (m *IdleMonitor) Touch() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running || m.expired {
		return
	}
	m.rearm()
}

// Stop cancels the countdown. The monitor is inert until the next Start.
func (m *IdleMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.running = false
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

// Running reports whether a countdown is armed.
func (m *IdleMonitor) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running && !m.expired
}

// rearm replaces the active timer. Caller holds mu.
func (m *IdleMonitor) rearm() {
	if m.timer != nil {
		m.timer.Stop()
	}
	m.timer = time.AfterFunc(m.timeout, m.expire)
}

func (m *IdleMonitor) expire() {
	m.mu.Lock()
	if !m.running || m.expired {
		m.mu.Unlock()
		return
	}
	m.expired = true
	m.running = false
	m.timer = nil
	m.mu.Unlock()

	m.logger.Info("session idle timeout elapsed")
	if m.onIdle != nil {
		m.onIdle()
	}
}
