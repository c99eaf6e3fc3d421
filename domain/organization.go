package domain

import (
	"strings"
	"time"
)

// Organization is a sub-grouping within an auth group. It may contribute its
// own upstream connections and an auto-provisioning policy for federated
// accounts.
type Organization struct {
	ID        string           `bson:"_id,omitempty" json:"id"`
	AuthGroup string           `bson:"auth_group" json:"auth_group"`
	Name      string           `bson:"name" json:"name"`
	SSO       FederationConfig `bson:"sso,omitempty" json:"sso,omitempty"`

	// AutoCreate lets a successful federation attach an access grant (and
	// create the account when none exists) without an invitation.
	AutoCreate           bool     `bson:"auto_create" json:"auto_create"`
	RestrictEmailDomains bool     `bson:"restrict_email_domains" json:"restrict_email_domains"`
	EmailDomains         []string `bson:"email_domains,omitempty" json:"email_domains,omitempty"`
	RequireTerms         bool     `bson:"require_terms" json:"require_terms"`
	TermsVersion         string   `bson:"terms_version,omitempty" json:"terms_version,omitempty"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// DomainAllowed checks an email address against the organization's domain
// allow-list. Always true when the restriction is disabled.
func (o *Organization) DomainAllowed(email string) bool {
	if !o.RestrictEmailDomains {
		return true
	}
	at := strings.LastIndex(email, "@")
	if at < 0 {
		return false
	}
	dom := strings.ToLower(email[at+1:])
	for _, allowed := range o.EmailDomains {
		if strings.EqualFold(allowed, dom) {
			return true
		}
	}
	return false
}
