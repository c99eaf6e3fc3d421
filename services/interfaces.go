// Package services contains the federation broker's orchestration layer: the
// callback validator, the account linker and the broker facade sequencing
// them. The authorization engine that owns /authorize, /token and interaction
// records is an external collaborator reached through the interfaces below.
package services

import (
	"context"
	"net/http"
)

// Interaction is one in-progress local login transaction tracked by the
// authorization engine. The broker reads it at both ends of the redirect
// dance and never writes it directly.
type Interaction struct {
	ID        string
	AuthGroup string
	ClientID  string
	// Params carries the request parameters of the interaction, including
	// the requested connection code ("connection") and an optional
	// organization context ("organization_id").
	Params map[string]string
}

// ConnectionCode returns the upstream connection the interaction asked for.
func (i *Interaction) ConnectionCode() string {
	return i.Params["connection"]
}

// OrganizationID returns the optional organization context supplied with the
// interaction.
func (i *Interaction) OrganizationID() string {
	return i.Params["organization_id"]
}

// ClientMeta is the subset of client metadata the broker needs: whether the
// client asked for the upstream access token to be passed through as a custom
// claim.
type ClientMeta struct {
	ID     string
	Scopes []string
}

// WantsFederatedToken reports whether the client requested the upstream
// access token passthrough scope.
func (c *ClientMeta) WantsFederatedToken() bool {
	for _, s := range c.Scopes {
		if s == "federated:token" {
			return true
		}
	}
	return false
}

// LoginResult is what the broker hands back to the authorization engine when
// a federation attempt resolves.
type LoginResult struct {
	AccountID string
}

// AuthorizationEngine is the collaborator that owns interactions, clients and
// token issuance. The broker only ever produces a login decision for it to
// finish.
type AuthorizationEngine interface {
	// InteractionDetails loads the in-flight interaction addressed by the
	// request (by path uid on initiation, by the interaction id embedded
	// in the correlation state on callback).
	InteractionDetails(ctx context.Context, r *http.Request, interactionID string) (*Interaction, error)
	// InteractionFinished completes the interaction with a login decision
	// and writes the engine's own redirect to the response.
	InteractionFinished(ctx context.Context, w http.ResponseWriter, r *http.Request, interaction *Interaction, result *LoginResult) error
	// FindClient loads the metadata of the client the interaction belongs
	// to.
	FindClient(ctx context.Context, clientID string) (*ClientMeta, error)
	// AttachFederatedToken stores the upstream access token on the
	// interaction record for later exposure as a custom claim.
	AttachFederatedToken(ctx context.Context, interactionID, accessToken string) error
}

// FederationErrorHook renders the uniform failure screen. Every broker
// failure funnels through it; the underlying cause is logged server-side and
// never reaches the browser.
type FederationErrorHook func(w http.ResponseWriter, r *http.Request, reason string)
