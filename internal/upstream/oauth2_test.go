package upstream_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"go.pilab.hu/idfed/domain"
	"go.pilab.hu/idfed/errors"
	"go.pilab.hu/idfed/internal/connection"
	"go.pilab.hu/idfed/internal/correlation"
	"go.pilab.hu/idfed/internal/upstream"
)

func oauth2Context(conn *domain.UpstreamConnection, verifier string) *upstream.FederationContext {
	code, _ := connection.Parse("oauth2.github.default")
	corr := &correlation.Correlation{State: "int1|aabb"}
	if verifier != "" {
		corr.PKCE = &domain.PKCESession{
			AuthGroup:     "grp1",
			State:         corr.State,
			CodeVerifier:  verifier,
			CodeChallenge: oauth2.S256ChallengeFromVerifier(verifier),
		}
	}
	return &upstream.FederationContext{
		Group:         &domain.AuthGroup{ID: "grp1"},
		Resolved:      &connection.Resolved{Code: code, Conn: conn},
		CallbackURL:   "https://broker.example.com/interaction/callback/oauth2/github/default",
		InteractionID: "int1",
		Correlation:   corr,
	}
}

func oauth2TestServer(t *testing.T, profile string, requireVerifier string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/token":
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "authorization_code", r.Form.Get("grant_type"))
			if requireVerifier != "" {
				assert.Equal(t, requireVerifier, r.Form.Get("code_verifier"))
			}
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"access_token":"up-token","token_type":"bearer"}`))
		case "/profile":
			assert.Equal(t, "Bearer up-token", r.Header.Get("Authorization"))
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(profile))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestOAuth2Initiate(t *testing.T) {
	adapter := upstream.NewOAuth2Adapter()
	fc := oauth2Context(&domain.UpstreamConnection{
		Provider: "github", Name: "default",
		ClientID: "cid", AuthURL: "https://idp.example.com/authorize", TokenURL: "https://idp.example.com/token",
		Scopes: []string{"read:user"},
	}, "")

	redirect, err := adapter.Initiate(context.Background(), fc)
	require.NoError(t, err)

	u, err := url.Parse(redirect.URL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "cid", q.Get("client_id"))
	assert.Equal(t, fc.CallbackURL, q.Get("redirect_uri"))
	assert.Equal(t, "int1|aabb", q.Get("state"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Empty(t, q.Get("code_challenge"))
}

func TestOAuth2Initiate_PKCEChallenge(t *testing.T) {
	adapter := upstream.NewOAuth2Adapter()
	verifier := oauth2.GenerateVerifier()
	fc := oauth2Context(&domain.UpstreamConnection{
		Provider: "github", Name: "default", PKCE: true,
		ClientID: "cid", AuthURL: "https://idp.example.com/authorize", TokenURL: "https://idp.example.com/token",
	}, verifier)

	redirect, err := adapter.Initiate(context.Background(), fc)
	require.NoError(t, err)

	u, _ := url.Parse(redirect.URL)
	assert.Equal(t, oauth2.S256ChallengeFromVerifier(verifier), u.Query().Get("code_challenge"))
	assert.Equal(t, "S256", u.Query().Get("code_challenge_method"))
}

func TestOAuth2Initiate_Misconfigured(t *testing.T) {
	adapter := upstream.NewOAuth2Adapter()
	fc := oauth2Context(&domain.UpstreamConnection{Provider: "github", Name: "default"}, "")

	_, err := adapter.Initiate(context.Background(), fc)
	assert.ErrorIs(t, err, errors.ErrConnectionMisconfigured)
}

func TestOAuth2Complete(t *testing.T) {
	server := oauth2TestServer(t, `{"id":"u1","email":"a@example.com","login":"alice"}`, "")
	defer server.Close()

	adapter := upstream.NewOAuth2Adapter()
	fc := oauth2Context(&domain.UpstreamConnection{
		Provider: "acme", Name: "default", ClientID: "cid", ClientSecret: "sec",
		AuthURL: server.URL + "/authorize", TokenURL: server.URL + "/token", ProfileURL: server.URL + "/profile",
	}, "")

	req := httptest.NewRequest(http.MethodGet, "/cb?code=authcode&state=int1%7Caabb", nil)
	result, err := adapter.Complete(context.Background(), req, fc)
	require.NoError(t, err)

	assert.Equal(t, "u1", result.Claims["id"])
	assert.Equal(t, "u1", result.Claims["sub"])
	assert.Equal(t, "a@example.com", result.Claims["email"])
	assert.Equal(t, "alice", result.Claims["login"])
	assert.Equal(t, "up-token", result.AccessToken)
}

func TestOAuth2Complete_NumericID(t *testing.T) {
	server := oauth2TestServer(t, `{"id":12345,"email":"a@example.com"}`, "")
	defer server.Close()

	adapter := upstream.NewOAuth2Adapter()
	fc := oauth2Context(&domain.UpstreamConnection{
		Provider: "acme", Name: "default", ClientID: "cid",
		AuthURL: server.URL + "/authorize", TokenURL: server.URL + "/token", ProfileURL: server.URL + "/profile",
	}, "")

	req := httptest.NewRequest(http.MethodGet, "/cb?code=authcode", nil)
	result, err := adapter.Complete(context.Background(), req, fc)
	require.NoError(t, err)
	assert.Equal(t, "12345", result.Claims["id"])
}

func TestOAuth2Complete_SendsPKCEVerifier(t *testing.T) {
	verifier := oauth2.GenerateVerifier()
	server := oauth2TestServer(t, `{"id":"u1","email":"a@example.com"}`, verifier)
	defer server.Close()

	adapter := upstream.NewOAuth2Adapter()
	fc := oauth2Context(&domain.UpstreamConnection{
		Provider: "acme", Name: "default", ClientID: "cid", PKCE: true,
		AuthURL: server.URL + "/authorize", TokenURL: server.URL + "/token", ProfileURL: server.URL + "/profile",
	}, verifier)

	req := httptest.NewRequest(http.MethodGet, "/cb?code=authcode", nil)
	_, err := adapter.Complete(context.Background(), req, fc)
	require.NoError(t, err)
}

func TestOAuth2Complete_MissingIdentity(t *testing.T) {
	server := oauth2TestServer(t, `{"email":"a@example.com"}`, "")
	defer server.Close()

	adapter := upstream.NewOAuth2Adapter()
	fc := oauth2Context(&domain.UpstreamConnection{
		Provider: "acme", Name: "default", ClientID: "cid",
		AuthURL: server.URL + "/authorize", TokenURL: server.URL + "/token", ProfileURL: server.URL + "/profile",
	}, "")

	req := httptest.NewRequest(http.MethodGet, "/cb?code=authcode", nil)
	_, err := adapter.Complete(context.Background(), req, fc)
	assert.ErrorIs(t, err, errors.ErrMissingIdentity)
}

func TestOAuth2Complete_MissingEmail(t *testing.T) {
	server := oauth2TestServer(t, `{"id":"u1"}`, "")
	defer server.Close()

	adapter := upstream.NewOAuth2Adapter()
	fc := oauth2Context(&domain.UpstreamConnection{
		Provider: "acme", Name: "default", ClientID: "cid",
		AuthURL: server.URL + "/authorize", TokenURL: server.URL + "/token", ProfileURL: server.URL + "/profile",
	}, "")

	req := httptest.NewRequest(http.MethodGet, "/cb?code=authcode", nil)
	_, err := adapter.Complete(context.Background(), req, fc)
	assert.ErrorIs(t, err, errors.ErrMissingEmail)
}

func TestOAuth2Complete_GitHubEmailQuirk(t *testing.T) {
	server := oauth2TestServer(t, `{"id":"u1","login":"alice"}`, "")
	defer server.Close()

	emails := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[
			{"email":"secondary@example.com","primary":false,"verified":true},
			{"email":"primary@example.com","primary":true,"verified":true}
		]`))
	}))
	defer emails.Close()

	original := upstream.GitHubEmailsEndpoint
	upstream.GitHubEmailsEndpoint = emails.URL
	defer func() { upstream.GitHubEmailsEndpoint = original }()

	adapter := upstream.NewOAuth2Adapter()
	fc := oauth2Context(&domain.UpstreamConnection{
		Provider: "github", Name: "default", ClientID: "cid",
		AuthURL: server.URL + "/authorize", TokenURL: server.URL + "/token", ProfileURL: server.URL + "/profile",
	}, "")

	req := httptest.NewRequest(http.MethodGet, "/cb?code=authcode", nil)
	result, err := adapter.Complete(context.Background(), req, fc)
	require.NoError(t, err)
	assert.Equal(t, "primary@example.com", result.Claims["email"])
}

func TestOAuth2Complete_NoCode(t *testing.T) {
	adapter := upstream.NewOAuth2Adapter()
	fc := oauth2Context(&domain.UpstreamConnection{
		Provider: "acme", Name: "default", ClientID: "cid",
		AuthURL: "https://idp.example.com/a", TokenURL: "https://idp.example.com/t",
	}, "")

	req := httptest.NewRequest(http.MethodGet, "/cb?error=access_denied", nil)
	_, err := adapter.Complete(context.Background(), req, fc)
	assert.ErrorIs(t, err, errors.ErrUpstreamExchangeFailed)
}
