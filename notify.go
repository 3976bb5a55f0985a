package session

import "context"

// Severity classifies a user-facing notification.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeveritySuccess Severity = "success"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is a single user-facing message produced by an operation.
// Every Manager operation emits exactly one of these per invocation.
type Notification struct {
	Severity Severity
	Message  string
	Err      error
}

// Notifier is the boundary where notifications are handed to the embedding
// application, typically a toast presenter. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, n Notification)

func (f NotifierFunc) Notify(ctx context.Context, n Notification) {
	f(ctx, n)
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, Notification) {}

func normalizeNotifier(n Notifier) Notifier {
	if n == nil {
		return noopNotifier{}
	}
	return n
}

// ActivityEvent identifies an auditable session lifecycle event.
type ActivityEvent string

const (
	ActivityLoginSuccess   ActivityEvent = "login_success"
	ActivityLoginFailure   ActivityEvent = "login_failure"
	ActivitySignupSuccess  ActivityEvent = "signup_success"
	ActivitySignupFailure  ActivityEvent = "signup_failure"
	ActivityLogout         ActivityEvent = "logout"
	ActivityIdleExpired    ActivityEvent = "idle_expired"
	ActivityProfileCreated ActivityEvent = "profile_created"
	ActivityProfileUpdated ActivityEvent = "profile_updated"
	ActivityOAuthStarted   ActivityEvent = "oauth_started"
)

// ActivityRecord carries one audit event plus optional detail.
type ActivityRecord struct {
	Event    ActivityEvent
	UserID   string
	Email    string
	Metadata map[string]any
}

// ActivitySink receives audit events. Implementations must be non-blocking;
// a nil sink is replaced with a noop.
type ActivitySink interface {
	Record(ctx context.Context, record ActivityRecord)
}

// ActivitySinkFunc adapts a function to the ActivitySink interface.
type ActivitySinkFunc func(ctx context.Context, record ActivityRecord)

func (f ActivitySinkFunc) Record(ctx context.Context, record ActivityRecord) {
	f(ctx, record)
}

type noopActivitySink struct{}

func (noopActivitySink) Record(context.Context, ActivityRecord) {}

func normalizeActivitySink(s ActivitySink) ActivitySink {
	if s == nil {
		return noopActivitySink{}
	}
	return s
}
