package upstream_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"html"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/idfed/domain"
	"go.pilab.hu/idfed/errors"
	"go.pilab.hu/idfed/internal/connection"
	"go.pilab.hu/idfed/internal/correlation"
	"go.pilab.hu/idfed/internal/upstream"
)

// selfSignedCertPEM generates a throwaway IdP certificate.
func selfSignedCertPEM(t *testing.T) string {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "test-idp"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
}

// spKeyPairPEM generates an SP signing key and certificate, returning the
// certificate's raw DER alongside the PEM encodings.
func spKeyPairPEM(t *testing.T) (certPEM, keyPEM string, certDER []byte) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	template := x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "test-sp"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	certPEM = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	keyPEM = string(pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)}))
	return certPEM, keyPEM, der
}

func samlContext(t *testing.T, settings *domain.SAMLSettings) *upstream.FederationContext {
	t.Helper()
	code, err := connection.Parse("saml.corp.main")
	require.NoError(t, err)
	return &upstream.FederationContext{
		Group: &domain.AuthGroup{ID: "grp1"},
		Resolved: &connection.Resolved{
			Code: code,
			Conn: &domain.UpstreamConnection{Provider: "corp", Name: "main", SAML: settings},
		},
		CallbackURL:   "https://broker.example.com/interaction/callback/saml/corp/main",
		InteractionID: "int1",
		Correlation:   &correlation.Correlation{State: "int1|ccdd"},
	}
}

func testSettings(t *testing.T) *domain.SAMLSettings {
	return &domain.SAMLSettings{
		EntityID:    "https://idp.example.com",
		SSOURL:      "https://idp.example.com/sso",
		Certificate: selfSignedCertPEM(t),
	}
}

func TestSAMLInitiate_RedirectBinding(t *testing.T) {
	adapter := upstream.NewSAMLAdapter("https://broker.example.com")
	fc := samlContext(t, testSettings(t))

	redirect, err := adapter.Initiate(context.Background(), fc)
	require.NoError(t, err)
	require.Empty(t, redirect.HTML)

	u, err := url.Parse(redirect.URL)
	require.NoError(t, err)
	assert.Equal(t, "idp.example.com", u.Host)
	assert.Equal(t, "/sso", u.Path)
	assert.Equal(t, "int1|ccdd", u.Query().Get("RelayState"))
	assert.NotEmpty(t, u.Query().Get("SAMLRequest"))
}

func TestSAMLInitiate_PostBinding(t *testing.T) {
	settings := testSettings(t)
	settings.BindingPost = true
	adapter := upstream.NewSAMLAdapter("https://broker.example.com")

	redirect, err := adapter.Initiate(context.Background(), samlContext(t, settings))
	require.NoError(t, err)
	assert.Empty(t, redirect.URL)
	body := string(redirect.HTML)
	assert.Contains(t, body, "SAMLRequest")
	assert.Contains(t, body, "int1|ccdd")
	assert.Contains(t, body, "https://idp.example.com/sso")
}

func TestSAMLInitiate_Misconfigured(t *testing.T) {
	adapter := upstream.NewSAMLAdapter("https://broker.example.com")

	_, err := adapter.Initiate(context.Background(), samlContext(t, nil))
	assert.ErrorIs(t, err, errors.ErrConnectionMisconfigured)

	_, err = adapter.Initiate(context.Background(), samlContext(t, &domain.SAMLSettings{SSOURL: "https://x"}))
	assert.ErrorIs(t, err, errors.ErrConnectionMisconfigured)
}

func TestSAMLInitiate_SigningWithoutKey(t *testing.T) {
	settings := testSettings(t)
	settings.SignRequests = true
	adapter := upstream.NewSAMLAdapter("https://broker.example.com")

	_, err := adapter.Initiate(context.Background(), samlContext(t, settings))
	assert.ErrorIs(t, err, errors.ErrConnectionMisconfigured)
}

// A signed request must carry the SP certificate's DER bytes in its
// signature KeyInfo, not the PEM text the connection stores.
func TestSAMLInitiate_SignedRequestEmbedsDERCertificate(t *testing.T) {
	certPEM, keyPEM, certDER := spKeyPairPEM(t)
	settings := testSettings(t)
	settings.SignRequests = true
	settings.BindingPost = true
	settings.SPCertificate = certPEM
	settings.SPPrivateKey = keyPEM
	adapter := upstream.NewSAMLAdapter("https://broker.example.com")

	redirect, err := adapter.Initiate(context.Background(), samlContext(t, settings))
	require.NoError(t, err)

	m := regexp.MustCompile(`name="SAMLRequest" value="([^"]+)"`).FindStringSubmatch(string(redirect.HTML))
	require.Len(t, m, 2)
	// The form is rendered with html/template, which entity-escapes the
	// base64 value (e.g. "+" becomes "&#43;").
	request, err := base64.StdEncoding.DecodeString(html.UnescapeString(m[1]))
	require.NoError(t, err)

	doc := string(request)
	assert.Contains(t, doc, base64.StdEncoding.EncodeToString(certDER))
	assert.NotContains(t, doc, "-----BEGIN CERTIFICATE-----")
}

func TestSAMLInitiate_SignedRequestGarbageSPCertificate(t *testing.T) {
	_, keyPEM, _ := spKeyPairPEM(t)
	settings := testSettings(t)
	settings.SignRequests = true
	settings.SPCertificate = "not a certificate"
	settings.SPPrivateKey = keyPEM
	adapter := upstream.NewSAMLAdapter("https://broker.example.com")

	_, err := adapter.Initiate(context.Background(), samlContext(t, settings))
	assert.ErrorIs(t, err, errors.ErrConnectionMisconfigured)
}

// A relay state mismatch must abort before the assertion is even looked at.
func TestSAMLComplete_RelayStateMismatch(t *testing.T) {
	adapter := upstream.NewSAMLAdapter("https://broker.example.com")
	fc := samlContext(t, testSettings(t))

	form := url.Values{
		"RelayState":   {"int1|tampered"},
		"SAMLResponse": {"irrelevant"},
	}
	req := httptest.NewRequest(http.MethodPost, "/interaction/callback/saml/corp/main",
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, err := adapter.Complete(context.Background(), req, fc)
	assert.ErrorIs(t, err, errors.ErrCorrelationMismatch)
	assert.NotErrorIs(t, err, errors.ErrInvalidAssertion)
}

func TestSAMLComplete_MissingResponse(t *testing.T) {
	adapter := upstream.NewSAMLAdapter("https://broker.example.com")
	fc := samlContext(t, testSettings(t))

	form := url.Values{"RelayState": {"int1|ccdd"}}
	req := httptest.NewRequest(http.MethodPost, "/interaction/callback/saml/corp/main",
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, err := adapter.Complete(context.Background(), req, fc)
	assert.ErrorIs(t, err, errors.ErrInvalidAssertion)
}

func TestSAMLComplete_GarbageAssertion(t *testing.T) {
	adapter := upstream.NewSAMLAdapter("https://broker.example.com")
	fc := samlContext(t, testSettings(t))

	form := url.Values{
		"RelayState":   {"int1|ccdd"},
		"SAMLResponse": {"bm90IHhtbA=="},
	}
	req := httptest.NewRequest(http.MethodPost, "/interaction/callback/saml/corp/main",
		strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	_, err := adapter.Complete(context.Background(), req, fc)
	assert.ErrorIs(t, err, errors.ErrInvalidAssertion)
}

func TestSAMLMetadata(t *testing.T) {
	adapter := upstream.NewSAMLAdapter("https://broker.example.com")
	fc := samlContext(t, testSettings(t))

	md, err := adapter.Metadata(fc)
	require.NoError(t, err)
	body := string(md)
	assert.Contains(t, body, "EntityDescriptor")
	assert.Contains(t, body, fc.CallbackURL)
}
