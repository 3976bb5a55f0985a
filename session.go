package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Session is the in-memory merge of an identity and its profile. Profile
// fields win on collision. A nil *Session means unauthenticated.
type Session struct {
	Identity   Identity   `json:"identity"`
	Profile    *Profile   `json:"profile,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// NewSession merges identity and profile into a session. The profile may be
// nil for a degraded session built from the identity alone.
func NewSession(identity *Identity, profile *Profile) *Session {
	if identity == nil {
		return nil
	}
	now := time.Now()
	return &Session{
		Identity:   *identity,
		Profile:    profile,
		ResolvedAt: &now,
	}
}

func (s *Session) UserID() string {
	if s == nil {
		return ""
	}
	return s.Identity.ID
}

func (s *Session) UserUUID() (uuid.UUID, error) {
	if s == nil {
		return uuid.Nil, ErrNotAuthenticated
	}
	return uuid.Parse(s.Identity.ID)
}

func (s *Session) Email() string {
	if s == nil {
		return ""
	}
	return s.Identity.Email
}

// Name returns the profile full name when present, falling back to identity
// metadata.
func (s *Session) Name() string {
	if s == nil {
		return ""
	}
	if s.Profile != nil && s.Profile.FullName != "" {
		return s.Profile.FullName
	}
	return s.Identity.FullName()
}

// AvatarURL returns the profile avatar when present, falling back to
// identity metadata.
func (s *Session) AvatarURL() string {
	if s == nil {
		return ""
	}
	if s.Profile != nil && s.Profile.AvatarURL != "" {
		return s.Profile.AvatarURL
	}
	return s.Identity.Avatar()
}

// IsAdmin reads the admin flag from the profile record only; the profile is
// the single source of truth for the role. A degraded session without a
// profile is never admin.
func (s *Session) IsAdmin() bool {
	if s == nil {
		return false
	}
	return s.Profile.IsAdmin()
}

// WithProfile returns a copy of the session carrying the given profile.
func (s *Session) WithProfile(profile *Profile) *Session {
	if s == nil {
		return nil
	}
	next := *s
	next.Profile = profile
	now := time.Now()
	next.ResolvedAt = &now
	return &next
}

func (s Session) String() string {
	return fmt.Sprintf(
		"user=%s email=%s admin=%t profile=%t",
		s.Identity.ID,
		s.Identity.Email,
		(&s).IsAdmin(),
		s.Profile != nil,
	)
}
