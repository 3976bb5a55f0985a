// Package repository persists application-owned profile records with bun.
package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/lumakit/go-session"
	"github.com/uptrace/bun"
)

// Profiles is the profile table surface. It satisfies session.ProfileStore:
// lookup misses satisfy session.IsNotFound and duplicate-key inserts satisfy
// session.IsConflict so the resolver can branch on both.
type Profiles interface {
	session.ProfileStore

	GetByUserIDTx(ctx context.Context, tx bun.IDB, userID string) (*session.Profile, error)
	CreateTx(ctx context.Context, tx bun.IDB, profile *session.Profile) (*session.Profile, error)
	UpsertTx(ctx context.Context, tx bun.IDB, profile *session.Profile) (*session.Profile, error)
}

type profiles struct {
	repository.Repository[*session.Profile]
	db *bun.DB
}

var _ Profiles = (*profiles)(nil)

// NewProfilesRepository builds the bun-backed profile store.
func NewProfilesRepository(db *bun.DB) Profiles {
	repo := repository.NewRepository[*session.Profile](db, repository.ModelHandlers[*session.Profile]{
		NewRecord: func() *session.Profile { return &session.Profile{} },
		GetID: func(p *session.Profile) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *session.Profile, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
	})

	return &profiles{
		Repository: repo,
		db:         db,
	}
}

func (r *profiles) GetByUserID(ctx context.Context, userID string) (*session.Profile, error) {
	return r.GetByUserIDTx(ctx, r.db, userID)
}

func (r *profiles) GetByUserIDTx(ctx context.Context, tx bun.IDB, userID string) (*session.Profile, error) {
	uid, err := uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q is not a valid uuid", session.ErrMissingIdentity, userID)
	}

	record := &session.Profile{}
	err = tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", uid).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, fmt.Errorf("%w: user %s", session.ErrProfileNotFound, userID)
		}
		return nil, err
	}

	return record, nil
}

func (r *profiles) Create(ctx context.Context, profile *session.Profile) (*session.Profile, error) {
	return r.CreateTx(ctx, r.db, profile)
}

func (r *profiles) CreateTx(ctx context.Context, tx bun.IDB, profile *session.Profile) (*session.Profile, error) {
	created, err := r.Repository.CreateTx(ctx, tx, profile)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, fmt.Errorf("%w: user %s", session.ErrProfileExists, profile.ID)
		}
		return nil, err
	}
	return created, nil
}

func (r *profiles) Upsert(ctx context.Context, profile *session.Profile) (*session.Profile, error) {
	return r.UpsertTx(ctx, r.db, profile)
}

// UpsertTx writes the editable profile columns. is_admin is deliberately not
// in the update set; the role can only change through backoffice tooling.
func (r *profiles) UpsertTx(ctx context.Context, tx bun.IDB, profile *session.Profile) (*session.Profile, error) {
	_, err := tx.NewInsert().
		Model(profile).
		On("CONFLICT (id) DO UPDATE").
		Set("full_name = EXCLUDED.full_name").
		Set("avatar_url = EXCLUDED.avatar_url").
		Set("phone_number = EXCLUDED.phone_number").
		Set("company = EXCLUDED.company").
		Set("address = EXCLUDED.address").
		Set("bio = EXCLUDED.bio").
		Set("notifications = EXCLUDED.notifications").
		Set("updated_at = CURRENT_TIMESTAMP").
		Exec(ctx)
	if err != nil {
		return nil, err
	}

	return r.GetByUserIDTx(ctx, tx, profile.ID.String())
}

// isDuplicateKey recognizes unique violations across the drivers we run
// against (postgres in production, sqlite in tests).
func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key value") ||
		strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "SQLSTATE 23505")
}
