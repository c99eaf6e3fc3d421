package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"go.pilab.hu/idfed/domain"
	"go.pilab.hu/idfed/errors"
	"go.pilab.hu/idfed/internal/metrics"
)

// AccountLinker resolves a normalized federated profile to a tenant account,
// creating one on first use. It is the only broker component that writes to
// the account directory.
type AccountLinker struct {
	accounts domain.AccountRepository
}

func NewAccountLinker(accounts domain.AccountRepository) *AccountLinker {
	return &AccountLinker{accounts: accounts}
}

// LinkOrCreate resolves profile to an account within the auth group.
// connectionCode becomes the identity entry's provider. org, when non-nil,
// supplies the auto-provisioning context.
//
// Creation races with concurrent federations for the same person; the
// (auth group, email) uniqueness constraint decides the winner and the loser
// retries as a link.
func (l *AccountLinker) LinkOrCreate(ctx context.Context, group *domain.AuthGroup, connectionCode string, profile *domain.FederatedProfile, org *domain.Organization) (*domain.Account, error) {
	account, err := l.accounts.FindByEmailOrUsername(ctx, group.ID, profile.Email)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if account == nil {
		account, err = l.create(ctx, group, connectionCode, profile, org)
		if err == nil {
			return account, nil
		}
		if !errors.Is(err, domain.ErrDuplicate) {
			return nil, err
		}
		// Someone else created the account between the lookup and the
		// insert. Link against theirs instead.
		account, err = l.accounts.FindByEmailOrUsername(ctx, group.ID, profile.Email)
		if err != nil {
			return nil, fmt.Errorf("account vanished after duplicate create: %w", err)
		}
	}

	return l.link(ctx, account, connectionCode, profile, org)
}

func (l *AccountLinker) create(ctx context.Context, group *domain.AuthGroup, connectionCode string, profile *domain.FederatedProfile, org *domain.Organization) (*domain.Account, error) {
	if group.Locked() {
		return nil, errors.Wrap(errors.ErrForbidden, fmt.Errorf("auth group %s is locked", group.ID))
	}

	// The organization policy gate runs before any write.
	grant, err := organizationGrant(org, profile.Email)
	if err != nil {
		return nil, err
	}

	// Federated accounts never sign in with a password; the placeholder
	// only satisfies the directory's schema.
	placeholder, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	account := &domain.Account{
		AuthGroup: group.ID,
		Email:     profile.Email,
		Username:  profile.Email,
		Password:  string(placeholder),
		Verified:  true,
		Identities: []domain.Identity{{
			ID:       profile.ID,
			Provider: connectionCode,
			Profile:  profile.Attributes,
		}},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if grant != nil {
		account.Access = []domain.OrganizationAccess{*grant}
	}

	if err := l.accounts.Create(ctx, account); err != nil {
		return nil, err
	}
	metrics.AccountCreatedInc()
	log.Ctx(ctx).Info().
		Str("auth_group", group.ID).
		Str("account", account.ID).
		Str("connection", connectionCode).
		Msg("created federated account")
	return account, nil
}

func (l *AccountLinker) link(ctx context.Context, account *domain.Account, connectionCode string, profile *domain.FederatedProfile, org *domain.Organization) (*domain.Account, error) {
	changed := false

	if identity := account.FindIdentity(profile.ID, connectionCode); identity == nil {
		account.Identities = append(account.Identities, domain.Identity{
			ID:       profile.ID,
			Provider: connectionCode,
			Profile:  profile.Attributes,
		})
		changed = true
	} else if len(profile.Attributes) > len(identity.Profile) {
		// Richer profile on a later login replaces the stored one.
		// Previously recorded attributes are never dropped because the
		// replacement only happens with strictly more claims.
		identity.Profile = profile.Attributes
		changed = true
	}

	if org != nil && !account.HasAccess(org.ID) {
		grant, err := organizationGrant(org, account.Email)
		if err != nil {
			return nil, err
		}
		if grant != nil {
			account.Access = append(account.Access, *grant)
			changed = true
		}
	}

	if changed {
		account.UpdatedAt = time.Now().UTC()
		if err := l.accounts.Update(ctx, account); err != nil {
			return nil, err
		}
	}
	metrics.AccountLinkedInc()
	return account, nil
}

// organizationGrant applies the auto-provisioning policy. Returns nil when
// the organization does not auto-add federated accounts, an access grant when
// it does, and ErrForbidden when the email's domain is outside the
// organization's allow-list.
func organizationGrant(org *domain.Organization, email string) (*domain.OrganizationAccess, error) {
	if org == nil || !org.AutoCreate {
		return nil, nil
	}
	if !org.DomainAllowed(email) {
		return nil, errors.Wrap(errors.ErrForbidden,
			fmt.Errorf("email domain not allowed for organization %s", org.ID))
	}
	grant := &domain.OrganizationAccess{
		Organization: org.ID,
		CreatedAt:    time.Now().UTC(),
	}
	if org.RequireTerms {
		grant.Terms = &domain.OrganizationTerms{
			Required: true,
			Version:  org.TermsVersion,
		}
	}
	return grant, nil
}
