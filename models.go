package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Identity is the record issued by the external auth service for a logged-in
// principal. It is immutable from this package's perspective except for
// metadata refresh.
type Identity struct {
	ID        string         `json:"id,omitempty"`
	Email     string         `json:"email,omitempty"`
	Name      string         `json:"name,omitempty"`
	AvatarURL string         `json:"avatar_url,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MetadataString returns a string metadata value, or "" when absent or of a
// different type.
func (i *Identity) MetadataString(key string) string {
	if i == nil || i.Metadata == nil {
		return ""
	}
	if val, ok := i.Metadata[key].(string); ok {
		return val
	}
	return ""
}

// FullName prefers the provider-supplied full_name metadata over the plain
// display name.
func (i *Identity) FullName() string {
	if name := i.MetadataString("full_name"); name != "" {
		return name
	}
	if i == nil {
		return ""
	}
	return i.Name
}

// Avatar prefers the provider-supplied avatar_url metadata.
func (i *Identity) Avatar() string {
	if avatar := i.MetadataString("avatar_url"); avatar != "" {
		return avatar
	}
	if i == nil {
		return ""
	}
	return i.AvatarURL
}

// UUID parses the identity id.
func (i *Identity) UUID() (uuid.UUID, error) {
	return uuid.Parse(i.ID)
}

// Profile is the application-owned record keyed one-to-one by identity id.
// Created lazily the first time an identity without a matching profile is
// observed; never deleted by this package.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:prf"`
	ID            uuid.UUID      `bun:"id,pk,type:uuid" json:"id,omitempty"`
	FullName      string         `bun:"full_name" json:"full_name,omitempty"`
	AvatarURL     string         `bun:"avatar_url" json:"avatar_url,omitempty"`
	Admin         *bool          `bun:"is_admin" json:"is_admin,omitempty"`
	Phone         string         `bun:"phone_number" json:"phone_number,omitempty"`
	Company       string         `bun:"company" json:"company,omitempty"`
	Address       string         `bun:"address" json:"address,omitempty"`
	Bio           string         `bun:"bio" json:"bio,omitempty"`
	Notifications map[string]any `bun:"notifications,type:jsonb" json:"notifications,omitempty"`
	CreatedAt     *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// IsAdmin resolves strictly: only a present, literal true flag grants admin.
// Absence, null, or anything else is false.
func (p *Profile) IsAdmin() bool {
	if p == nil || p.Admin == nil {
		return false
	}
	return *p.Admin
}

// SeedProfile builds the default profile for an identity that has none yet,
// using best-effort values from the identity metadata.
func SeedProfile(identity *Identity, now time.Time) (*Profile, error) {
	uid, err := identity.UUID()
	if err != nil {
		return nil, fmt.Errorf("%w: identity id %q is not a valid uuid", ErrMissingIdentity, identity.ID)
	}

	created := now
	return &Profile{
		ID:        uid,
		FullName:  identity.FullName(),
		AvatarURL: identity.Avatar(),
		CreatedAt: &created,
	}, nil
}
