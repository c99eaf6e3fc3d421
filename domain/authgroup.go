package domain

import "time"

// AuthGroupStatus defines the administrative state of a tenant.
type AuthGroupStatus string

const (
	AuthGroupStatusActive AuthGroupStatus = "ACTIVE"
	// AuthGroupStatusLocked forbids creation of new accounts; existing
	// accounts may still sign in.
	AuthGroupStatusLocked AuthGroupStatus = "LOCKED"
)

// AuthGroup is one tenant: an isolated namespace with its own accounts and
// upstream federation configuration.
type AuthGroup struct {
	ID         string           `bson:"_id,omitempty" json:"id"`
	Name       string           `bson:"name" json:"name"`
	Status     AuthGroupStatus  `bson:"status" json:"status"`
	Federation FederationConfig `bson:"federation,omitempty" json:"federation,omitempty"`
	CreatedAt  time.Time        `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time        `bson:"updated_at" json:"updated_at"`
}

// Locked reports whether new account creation is administratively forbidden.
func (g *AuthGroup) Locked() bool {
	return g.Status == AuthGroupStatusLocked
}
