package services

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"go.pilab.hu/idfed/domain"
	"go.pilab.hu/idfed/errors"
	"go.pilab.hu/idfed/internal/connection"
	"go.pilab.hu/idfed/internal/correlation"
	"go.pilab.hu/idfed/internal/metrics"
	"go.pilab.hu/idfed/internal/upstream"
)

// Browser-visible failure reasons. The underlying cause never leaves the
// server log.
const (
	ReasonSetupIncomplete = "setup_incomplete"
	ReasonLoginFailed     = "login_failed"
	ReasonForbidden       = "forbidden"
)

// Broker is the request-facing facade of the federation subsystem. Initiate
// sends the browser to the upstream; Callback consumes the return leg and
// hands the resulting login decision to the authorization engine.
type Broker struct {
	engine     AuthorizationEngine
	groups     domain.AuthGroupRepository
	resolver   *connection.Resolver
	corr       *correlation.Manager
	adapters   map[domain.ConnectionSpec]upstream.Adapter
	normalizer *Normalizer
	linker     *AccountLinker
	publicURL  string
	onError    FederationErrorHook
}

func NewBroker(
	engine AuthorizationEngine,
	groups domain.AuthGroupRepository,
	resolver *connection.Resolver,
	corr *correlation.Manager,
	adapters map[domain.ConnectionSpec]upstream.Adapter,
	linker *AccountLinker,
	publicURL string,
	onError FederationErrorHook,
) *Broker {
	if onError == nil {
		onError = defaultErrorHook
	}
	return &Broker{
		engine:     engine,
		groups:     groups,
		resolver:   resolver,
		corr:       corr,
		adapters:   adapters,
		normalizer: NewNormalizer(),
		linker:     linker,
		publicURL:  publicURL,
		onError:    onError,
	}
}

// Initiate resolves the connection the interaction asked for, mints
// correlation state and redirects the browser to the upstream. interactionUID
// is the path segment of the engine-routed interaction URL.
func (b *Broker) Initiate(w http.ResponseWriter, r *http.Request, interactionUID string) {
	ctx := r.Context()

	interaction, err := b.engine.InteractionDetails(ctx, r, interactionUID)
	if err != nil {
		b.fail(ctx, w, r, fmt.Errorf("interaction lookup failed: %w", err))
		return
	}

	fc, err := b.prepare(ctx, interaction)
	if err != nil {
		b.fail(ctx, w, r, err)
		return
	}

	corr, err := b.corr.Begin(ctx, w, fc.Group, interaction.ID, fc.Resolved)
	if err != nil {
		b.fail(ctx, w, r, err)
		return
	}
	fc.Correlation = corr

	adapter, ok := b.adapters[fc.Resolved.Code.Spec]
	if !ok {
		b.fail(ctx, w, r, errors.Wrap(errors.ErrConnectionMisconfigured,
			fmt.Errorf("no adapter for spec %s", fc.Resolved.Code.Spec)))
		return
	}
	redirect, err := adapter.Initiate(ctx, fc)
	if err != nil {
		b.fail(ctx, w, r, err)
		return
	}

	metrics.InitiatedInc(string(fc.Resolved.Code.Spec))
	log.Ctx(ctx).Info().
		Str("interaction", interaction.ID).
		Str("connection", fc.Resolved.Code.String()).
		Msg("federation initiated")

	if len(redirect.HTML) > 0 {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(redirect.HTML)
		return
	}
	http.Redirect(w, r, redirect.URL, http.StatusSeeOther)
}

// Callback consumes the upstream's return leg for the connection addressed
// by rawCode, resolves the external identity to an account and finishes the
// interaction with the authorization engine.
func (b *Broker) Callback(w http.ResponseWriter, r *http.Request, rawCode string) {
	ctx := r.Context()

	state := submittedState(r)
	interactionID := correlation.InteractionID(state)
	if interactionID == "" {
		b.fail(ctx, w, r, errors.Wrap(errors.ErrCorrelationNotFound,
			fmt.Errorf("callback carries no interaction id")))
		return
	}

	interaction, err := b.engine.InteractionDetails(ctx, r, interactionID)
	if err != nil {
		b.fail(ctx, w, r, fmt.Errorf("interaction lookup failed: %w", err))
		return
	}

	fc, err := b.prepareCode(ctx, interaction, rawCode)
	if err != nil {
		b.fail(ctx, w, r, err)
		return
	}

	// Consumed before the adapter runs: the cookies become single-use and
	// the token exchange needs the stored PKCE verifier.
	corr, err := b.corr.Consume(ctx, w, r, fc.Group, fc.Resolved)
	if err != nil {
		b.fail(ctx, w, r, err)
		return
	}
	fc.Correlation = corr
	if err := correlation.Verify(state, corr.State); err != nil {
		b.fail(ctx, w, r, err)
		return
	}

	adapter, ok := b.adapters[fc.Resolved.Code.Spec]
	if !ok {
		b.fail(ctx, w, r, errors.Wrap(errors.ErrConnectionMisconfigured,
			fmt.Errorf("no adapter for spec %s", fc.Resolved.Code.Spec)))
		return
	}
	result, err := adapter.Complete(ctx, r, fc)
	if err != nil {
		b.fail(ctx, w, r, err)
		return
	}

	profile, err := b.normalizer.ValidateAndNormalize(ctx, result, corr, state)
	if err != nil {
		b.fail(ctx, w, r, err)
		return
	}

	account, err := b.linker.LinkOrCreate(ctx, fc.Group, fc.Resolved.Code.String(), profile, fc.Resolved.Org)
	if err != nil {
		b.fail(ctx, w, r, err)
		return
	}

	if result.AccessToken != "" {
		if err := b.attachFederatedToken(ctx, interaction, result.AccessToken); err != nil {
			b.fail(ctx, w, r, err)
			return
		}
	}

	metrics.ResolvedInc(string(fc.Resolved.Code.Spec))
	log.Ctx(ctx).Info().
		Str("interaction", interaction.ID).
		Str("connection", fc.Resolved.Code.String()).
		Str("account", account.ID).
		Msg("federation resolved")

	if err := b.engine.InteractionFinished(ctx, w, r, interaction, &LoginResult{AccountID: account.ID}); err != nil {
		b.fail(ctx, w, r, fmt.Errorf("failed to finish interaction: %w", err))
	}
}

// prepare loads the tenant and resolves the connection the interaction asked
// for.
func (b *Broker) prepare(ctx context.Context, interaction *Interaction) (*upstream.FederationContext, error) {
	return b.prepareCode(ctx, interaction, interaction.ConnectionCode())
}

func (b *Broker) prepareCode(ctx context.Context, interaction *Interaction, rawCode string) (*upstream.FederationContext, error) {
	group, err := b.groups.GetByID(ctx, interaction.AuthGroup)
	if err != nil {
		return nil, fmt.Errorf("auth group lookup failed: %w", err)
	}
	resolved, err := b.resolver.Resolve(ctx, group, interaction.OrganizationID(), rawCode)
	if err != nil {
		return nil, err
	}
	return &upstream.FederationContext{
		Group:         group,
		Resolved:      resolved,
		CallbackURL:   b.publicURL + correlation.CallbackPath(resolved.Code),
		InteractionID: interaction.ID,
	}, nil
}

// attachFederatedToken stores the upstream access token on the interaction
// when the client asked for passthrough.
func (b *Broker) attachFederatedToken(ctx context.Context, interaction *Interaction, token string) error {
	client, err := b.engine.FindClient(ctx, interaction.ClientID)
	if err != nil {
		return fmt.Errorf("client lookup failed: %w", err)
	}
	if !client.WantsFederatedToken() {
		return nil
	}
	return b.engine.AttachFederatedToken(ctx, interaction.ID, token)
}

// fail is the single failure path. Nothing is retried and nothing of the
// cause reaches the browser.
func (b *Broker) fail(ctx context.Context, w http.ResponseWriter, r *http.Request, err error) {
	reason := ReasonLoginFailed
	switch {
	case errors.Is(err, errors.ErrMalformedConnectionCode),
		errors.Is(err, errors.ErrUnknownConnection),
		errors.Is(err, errors.ErrConnectionMisconfigured):
		reason = ReasonSetupIncomplete
	case errors.Is(err, errors.ErrForbidden):
		reason = ReasonForbidden
	}
	metrics.FailedInc(reason)
	log.Ctx(ctx).Error().Err(err).Str("reason", reason).Msg("federation attempt failed")
	b.onError(w, r, reason)
}

// submittedState reads the state the upstream echoed back, whichever leg
// carried it.
func submittedState(r *http.Request) string {
	if s := r.FormValue("state"); s != "" {
		return s
	}
	return r.FormValue("RelayState")
}

func defaultErrorHook(w http.ResponseWriter, r *http.Request, reason string) {
	status := http.StatusBadRequest
	if reason == ReasonForbidden {
		status = http.StatusForbidden
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = fmt.Fprintf(w, "<html><body><h1>Sign-in failed</h1><p>Could not complete federated login (%s). Please try again.</p></body></html>", reason)
}
