package domain

import "time"

// Identity is one upstream identity linked to an account, keyed by
// (id, provider). The broker exclusively appends and updates these entries;
// everything else on the account belongs to the account directory.
type Identity struct {
	ID       string         `bson:"id" json:"id"`             // subject at the upstream
	Provider string         `bson:"provider" json:"provider"` // connection code: spec.provider.name
	Profile  map[string]any `bson:"profile,omitempty" json:"profile,omitempty"`
}

// OrganizationTerms records terms acceptance metadata on an access grant.
type OrganizationTerms struct {
	Required   bool      `bson:"required" json:"required"`
	Version    string    `bson:"version,omitempty" json:"version,omitempty"`
	AcceptedAt time.Time `bson:"accepted_at,omitempty" json:"accepted_at,omitempty"`
}

// OrganizationAccess grants an account access to one organization.
type OrganizationAccess struct {
	Organization string             `bson:"organization" json:"organization"`
	Terms        *OrganizationTerms `bson:"terms,omitempty" json:"terms,omitempty"`
	CreatedAt    time.Time          `bson:"created_at" json:"created_at"`
}

// Account is a tenant-scoped user record. Email is unique per auth group.
type Account struct {
	ID         string               `bson:"_id,omitempty" json:"id"`
	AuthGroup  string               `bson:"auth_group" json:"auth_group"`
	Email      string               `bson:"email" json:"email"`
	Username   string               `bson:"username" json:"username"`
	Password   string               `bson:"password" json:"-"` // bcrypt hash; random placeholder for federated accounts
	Verified   bool                 `bson:"verified" json:"verified"`
	Identities []Identity           `bson:"identities,omitempty" json:"identities,omitempty"`
	Access     []OrganizationAccess `bson:"access,omitempty" json:"access,omitempty"`
	CreatedAt  time.Time            `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time            `bson:"updated_at" json:"updated_at"`
}

// FindIdentity returns the identity entry matching (id, provider), or nil.
func (a *Account) FindIdentity(id, provider string) *Identity {
	for i := range a.Identities {
		if a.Identities[i].ID == id && a.Identities[i].Provider == provider {
			return &a.Identities[i]
		}
	}
	return nil
}

// HasAccess reports whether the account already holds a grant for the
// organization.
func (a *Account) HasAccess(organizationID string) bool {
	for _, grant := range a.Access {
		if grant.Organization == organizationID {
			return true
		}
	}
	return false
}
