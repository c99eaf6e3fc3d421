package domain

import (
	"context"
	"errors"
)

// ErrNotFound is returned by repositories when no record matches.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned on a uniqueness violation. The account linker
// treats it on create as "someone else just created it" and retries as a
// link.
var ErrDuplicate = errors.New("duplicate record")

// AccountRepository is the broker's view of the tenant account directory.
type AccountRepository interface {
	// FindByEmailOrUsername matches either field, case-insensitively,
	// within one auth group. Returns ErrNotFound when absent.
	FindByEmailOrUsername(ctx context.Context, authGroup, value string) (*Account, error)
	// Create inserts a new account. Returns ErrDuplicate when the
	// (auth group, email) uniqueness constraint is violated.
	Create(ctx context.Context, account *Account) error
	Update(ctx context.Context, account *Account) error
}

// OrganizationRepository reads organization configuration.
type OrganizationRepository interface {
	GetByID(ctx context.Context, authGroup, id string) (*Organization, error)
}

// AuthGroupRepository reads tenant configuration.
type AuthGroupRepository interface {
	GetByID(ctx context.Context, id string) (*AuthGroup, error)
}

// PKCESessionStore persists ephemeral proof-key sessions keyed by
// (auth group, state).
type PKCESessionStore interface {
	Save(ctx context.Context, session *PKCESession) error
	// Consume returns the session and removes it in one step. Returns
	// ErrNotFound when absent or expired.
	Consume(ctx context.Context, authGroup, state string) (*PKCESession, error)
}
