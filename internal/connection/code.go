// Package connection resolves externally visible connection codes against
// tenant and organization federation configuration.
package connection

import (
	"strings"

	"go.pilab.hu/idfed/domain"
	"go.pilab.hu/idfed/errors"
)

// Code addresses one upstream connection as the triple (spec, provider,
// name). Its string form, "spec.provider.name" (lower-case, spaces replaced
// with underscores), is both the UI button identifier and the URL path
// segment.
type Code struct {
	Spec     domain.ConnectionSpec
	Provider string
	Name     string
}

// Parse splits a raw connection code. It requires exactly three dot-separated
// segments and a known protocol spec.
func Parse(raw string) (Code, error) {
	parts := strings.Split(raw, ".")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return Code{}, errors.ErrMalformedConnectionCode
	}
	spec := domain.ConnectionSpec(strings.ToLower(parts[0]))
	switch spec {
	case domain.SpecOIDC, domain.SpecOAuth2, domain.SpecSAML:
	default:
		return Code{}, errors.ErrMalformedConnectionCode
	}
	return Code{Spec: spec, Provider: parts[1], Name: parts[2]}, nil
}

// Format builds the canonical code string for a configured connection.
func Format(spec domain.ConnectionSpec, provider, name string) string {
	return string(spec) + "." + Segment(provider) + "." + Segment(name)
}

// Segment normalizes one code segment: lower-case, spaces to underscores.
func Segment(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), " ", "_")
}

// String returns the canonical form of the code.
func (c Code) String() string {
	return Format(c.Spec, c.Provider, c.Name)
}

// OrganizationID returns the organization id when the provider segment is
// org-tagged.
func (c Code) OrganizationID() (string, bool) {
	return domain.OrgScoped(c.Provider)
}

// matches reports whether a configured connection answers to this code.
// Providers compare case-insensitively; names additionally treat underscores
// and spaces as equivalent.
func (c Code) matches(conn *domain.UpstreamConnection) bool {
	return Segment(conn.Provider) == Segment(c.Provider) &&
		Segment(conn.Name) == Segment(c.Name)
}
