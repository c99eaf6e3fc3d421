package connection

import (
	"context"

	"github.com/rs/zerolog/log"
	"go.pilab.hu/idfed/domain"
	"go.pilab.hu/idfed/errors"
)

// Resolved is the outcome of a connection lookup: the matched connection,
// its parsed code, and the organization that contributed it, when any.
type Resolved struct {
	Code Code
	Conn *domain.UpstreamConnection
	Org  *domain.Organization
}

// Resolver looks up connection codes against tenant configuration,
// transiently merging organization-contributed connections. It is read-only;
// at most one organization read happens per resolution.
type Resolver struct {
	orgs domain.OrganizationRepository
}

func NewResolver(orgs domain.OrganizationRepository) *Resolver {
	return &Resolver{orgs: orgs}
}

// Resolve finds the connection addressed by rawCode within the auth group's
// federation config. organizationID optionally supplies an organization
// context for auto-provisioning even when the provider segment is not
// org-tagged.
func (r *Resolver) Resolve(ctx context.Context, group *domain.AuthGroup, organizationID, rawCode string) (*Resolved, error) {
	code, err := Parse(rawCode)
	if err != nil {
		return nil, err
	}

	conns := group.Federation[code.Spec]

	var org *domain.Organization
	orgID, orgScoped := code.OrganizationID()
	if !orgScoped {
		orgID = organizationID
	}
	if orgID != "" {
		org, err = r.orgs.GetByID(ctx, group.ID, orgID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, errors.ErrUnknownConnection
			}
			return nil, err
		}
		// Merge the organization's per-spec connections for this
		// resolution only, provider tagged so they cannot shadow
		// tenant-level connections. The merge works on a copy so the
		// group's own slice is never written through, even when it has
		// spare capacity and the group is shared between requests.
		conns = append([]domain.UpstreamConnection(nil), conns...)
		for _, c := range org.SSO[code.Spec] {
			tagged := c
			if _, already := domain.OrgScoped(tagged.Provider); !already {
				tagged.Provider = domain.OrgProviderPrefix + org.ID
			}
			conns = append(conns, tagged)
		}
	}

	if len(conns) == 0 {
		log.Ctx(ctx).Debug().
			Str("auth_group", group.ID).
			Str("spec", string(code.Spec)).
			Msg("no connections configured for spec")
		return nil, errors.ErrUnknownConnection
	}

	for i := range conns {
		if code.matches(&conns[i]) {
			return &Resolved{Code: code, Conn: &conns[i], Org: org}, nil
		}
	}
	return nil, errors.ErrUnknownConnection
}
