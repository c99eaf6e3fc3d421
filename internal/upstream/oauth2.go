package upstream

import (
	"context"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"go.pilab.hu/idfed/errors"
)

// OAuth2Adapter drives plain authorization-code federation against providers
// that are not OpenID Connect compliant: explicit endpoints, a configured
// profile URL, and per-vendor post-processing.
type OAuth2Adapter struct{}

func NewOAuth2Adapter() *OAuth2Adapter {
	return &OAuth2Adapter{}
}

// Initiate builds the authorization-code redirect, with an optional PKCE
// challenge persisted by the correlation manager.
func (a *OAuth2Adapter) Initiate(_ context.Context, fc *FederationContext) (*Redirect, error) {
	conn := fc.Conn()
	if conn.ClientID == "" || conn.AuthURL == "" || conn.TokenURL == "" {
		return nil, errors.ErrConnectionMisconfigured
	}

	var opts []oauth2.AuthCodeOption
	if conn.PKCE {
		opts = append(opts, oauth2.S256ChallengeOption(fc.Correlation.PKCE.CodeVerifier))
	}
	return &Redirect{URL: a.oauthConfig(fc).AuthCodeURL(fc.Correlation.State, opts...)}, nil
}

// Complete exchanges the code for an access token, fetches the configured
// profile endpoint, and applies vendor post-processing such as a secondary
// verified-email request. The claims always expose the subject under both
// lookups the normalizer accepts ("id" and "sub").
func (a *OAuth2Adapter) Complete(ctx context.Context, r *http.Request, fc *FederationContext) (*Result, error) {
	conn := fc.Conn()
	code := formOrQuery(r, "code")
	if code == "" {
		return nil, errors.Wrap(errors.ErrUpstreamExchangeFailed, fmt.Errorf("callback carried no authorization code"))
	}

	cfg := a.oauthConfig(fc)
	var exchangeOpts []oauth2.AuthCodeOption
	if conn.PKCE {
		exchangeOpts = append(exchangeOpts, oauth2.VerifierOption(fc.Correlation.PKCE.CodeVerifier))
	}
	token, err := cfg.Exchange(ctx, code, exchangeOpts...)
	if err != nil {
		return nil, errors.Wrap(errors.ErrUpstreamExchangeFailed, err)
	}

	if conn.ProfileURL == "" {
		return nil, errors.ErrConnectionMisconfigured
	}
	client := cfg.Client(ctx, token)
	claims := map[string]any{}
	if err := getJSON(ctx, client, conn.ProfileURL, &claims); err != nil {
		return nil, errors.Wrap(errors.ErrUpstreamProfileFetchFailed, err)
	}

	id := stringClaim(claims, "id")
	if id == "" {
		id = stringClaim(claims, "sub")
	}
	if id == "" {
		// Some providers return numeric ids; coerce before giving up.
		if n, ok := firstValue(claims["id"]).(float64); ok {
			id = fmt.Sprintf("%.0f", n)
		}
	}
	if id == "" {
		return nil, errors.ErrMissingIdentity
	}
	claims["id"] = id
	if stringClaim(claims, "sub") == "" {
		claims["sub"] = id
	}

	if stringClaim(claims, "email") == "" {
		quirks := QuirksFor(conn.Provider)
		if quirks.FetchEmail != nil {
			email, err := quirks.FetchEmail(ctx, client)
			if err != nil {
				return nil, errors.Wrap(errors.ErrUpstreamProfileFetchFailed, err)
			}
			claims["email"] = email
		}
	}
	if stringClaim(claims, "email") == "" {
		return nil, errors.ErrMissingEmail
	}

	return &Result{Claims: claims, AccessToken: token.AccessToken}, nil
}

func (a *OAuth2Adapter) oauthConfig(fc *FederationContext) *oauth2.Config {
	conn := fc.Conn()
	return &oauth2.Config{
		ClientID:     conn.ClientID,
		ClientSecret: conn.ClientSecret,
		Endpoint: oauth2.Endpoint{
			AuthURL:  conn.AuthURL,
			TokenURL: conn.TokenURL,
		},
		RedirectURL: fc.CallbackURL,
		Scopes:      conn.Scopes,
	}
}
