package upstream

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"github.com/jellydator/ttlcache/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"go.pilab.hu/idfed/errors"
	"go.pilab.hu/idfed/internal/correlation"
)

// OIDCAdapter drives authorization-code federation against OpenID Connect
// upstreams, with provider metadata discovered once per connection and
// cached.
type OIDCAdapter struct {
	discovery *ttlcache.Cache[string, *gooidc.Provider]
}

func NewOIDCAdapter(discoveryTTL time.Duration) *OIDCAdapter {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, *gooidc.Provider](discoveryTTL),
		ttlcache.WithDisableTouchOnHit[string, *gooidc.Provider](),
	)
	go cache.Start()
	return &OIDCAdapter{discovery: cache}
}

// Stop releases the discovery cache's cleanup goroutine.
func (a *OIDCAdapter) Stop() {
	a.discovery.Stop()
}

// Initiate discovers the upstream's metadata, then builds an
// authorization-code request carrying the correlation state and nonce, the
// PKCE challenge when the connection requires proof-key exchange, and any
// vendor-mandated response mode.
func (a *OIDCAdapter) Initiate(ctx context.Context, fc *FederationContext) (*Redirect, error) {
	conn := fc.Conn()
	if conn.ClientID == "" || conn.DiscoveryURL == "" {
		return nil, errors.ErrConnectionMisconfigured
	}

	provider, err := a.provider(ctx, fc)
	if err != nil {
		return nil, err
	}
	cfg := a.oauthConfig(fc, provider)

	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("nonce", fc.Correlation.Nonce),
	}
	quirks := QuirksFor(conn.Provider)
	if quirks.ResponseMode != "" {
		opts = append(opts, oauth2.SetAuthURLParam("response_mode", quirks.ResponseMode))
	}
	if conn.PKCE {
		opts = append(opts, oauth2.S256ChallengeOption(fc.Correlation.PKCE.CodeVerifier))
	}

	return &Redirect{URL: cfg.AuthCodeURL(fc.Correlation.State, opts...)}, nil
}

// Complete consumes the callback. The standard path exchanges the code for
// tokens, using the stored PKCE verifier when required, then resolves the
// profile from the id token claims or a userinfo fetch depending on whether
// an access token came back. Providers flagged PostedIDToken may instead
// deliver the id token directly in the POST body; that token is only trusted
// after its nonce claim matches the cookie-held nonce.
func (a *OIDCAdapter) Complete(ctx context.Context, r *http.Request, fc *FederationContext) (*Result, error) {
	conn := fc.Conn()
	provider, err := a.provider(ctx, fc)
	if err != nil {
		return nil, err
	}
	verifier := provider.Verifier(&gooidc.Config{ClientID: conn.ClientID})

	quirks := QuirksFor(conn.Provider)
	if quirks.PostedIDToken {
		if raw := formOrQuery(r, "id_token"); raw != "" && formOrQuery(r, "code") == "" {
			return a.completePostedIDToken(ctx, raw, verifier, fc)
		}
	}

	code := formOrQuery(r, "code")
	if code == "" {
		return nil, errors.Wrap(errors.ErrUpstreamExchangeFailed, fmt.Errorf("callback carried no authorization code"))
	}

	cfg := a.oauthConfig(fc, provider)
	var exchangeOpts []oauth2.AuthCodeOption
	if conn.PKCE {
		exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(fc.Correlation.PKCE.CodeVerifier))
	}
	token, err := cfg.Exchange(ctx, code, exchangeOpts...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrUpstreamExchangeFailed, err)
	}

	claims := map[string]any{}
	if raw, ok := token.Extra("id_token").(string); ok && raw != "" {
		idToken, err := verifier.Verify(ctx, raw)
		if err != nil {
			return nil, errors.Wrap(errors.ErrUpstreamExchangeFailed, err)
		}
		if err := correlation.Verify(idToken.Nonce, fc.Correlation.Nonce); err != nil {
			return nil, err
		}
		if err := idToken.Claims(&claims); err != nil {
			return nil, errors.Wrap(errors.ErrUpstreamProfileFetchFailed, err)
		}
	}

	if token.AccessToken != "" {
		info, err := provider.UserInfo(ctx, oauth2.StaticTokenSource(token))
		if err != nil {
			return nil, errors.Wrap(errors.ErrUpstreamProfileFetchFailed, err)
		}
		userClaims := map[string]any{}
		if err := info.Claims(&userClaims); err != nil {
			return nil, errors.Wrap(errors.ErrUpstreamProfileFetchFailed, err)
		}
		// Userinfo is the richer source; id token claims fill the gaps.
		for k, v := range userClaims {
			claims[k] = v
		}
	}

	if len(claims) == 0 {
		return nil, errors.Wrap(errors.ErrUpstreamProfileFetchFailed, fmt.Errorf("upstream returned neither id token nor access token"))
	}
	return &Result{Claims: claims, AccessToken: token.AccessToken}, nil
}

func (a *OIDCAdapter) completePostedIDToken(ctx context.Context, raw string, verifier *gooidc.IDTokenVerifier, fc *FederationContext) (*Result, error) {
	idToken, err := verifier.Verify(ctx, raw)
	if err != nil {
		return nil, errors.Wrap(errors.ErrUpstreamExchangeFailed, err)
	}
	if err := correlation.Verify(idToken.Nonce, fc.Correlation.Nonce); err != nil {
		return nil, err
	}
	claims := map[string]any{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, errors.Wrap(errors.ErrUpstreamProfileFetchFailed, err)
	}
	log.Ctx(ctx).Debug().
		Str("connection", fc.Resolved.Code.String()).
		Msg("accepted posted id token")
	return &Result{Claims: claims}, nil
}

// provider returns the discovered metadata for the connection, fetching and
// caching it on first use.
func (a *OIDCAdapter) provider(ctx context.Context, fc *FederationContext) (*gooidc.Provider, error) {
	key := fc.Group.ID + "/" + fc.Resolved.Code.String()
	if item := a.discovery.Get(key); item != nil {
		return item.Value(), nil
	}
	issuer := strings.TrimSuffix(fc.Conn().DiscoveryURL, "/.well-known/openid-configuration")
	provider, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, errors.Wrap(errors.ErrConnectionMisconfigured, err)
	}
	a.discovery.Set(key, provider, ttlcache.DefaultTTL)
	return provider, nil
}

func (a *OIDCAdapter) oauthConfig(fc *FederationContext, provider *gooidc.Provider) *oauth2.Config {
	conn := fc.Conn()
	scopes := append([]string{gooidc.ScopeOpenID}, conn.Scopes...)
	return &oauth2.Config{
		ClientID:     conn.ClientID,
		ClientSecret: conn.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  fc.CallbackURL,
		Scopes:       dedupe(scopes),
	}
}

func dedupe(scopes []string) []string {
	seen := make(map[string]bool, len(scopes))
	out := scopes[:0]
	for _, s := range scopes {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func formOrQuery(r *http.Request, key string) string {
	if r.Method == http.MethodPost {
		if v := r.PostFormValue(key); v != "" {
			return v
		}
	}
	return r.URL.Query().Get(key)
}
