package echo_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "go.pilab.hu/idfed/api/echo"
	"go.pilab.hu/idfed/domain"
	"go.pilab.hu/idfed/internal/connection"
	"go.pilab.hu/idfed/internal/upstream"
)

type fakeGroupRepo struct{ group *domain.AuthGroup }

func (f *fakeGroupRepo) GetByID(_ context.Context, id string) (*domain.AuthGroup, error) {
	if f.group == nil || f.group.ID != id {
		return nil, domain.ErrNotFound
	}
	return f.group, nil
}

type fakeOrgRepo struct{}

func (fakeOrgRepo) GetByID(_ context.Context, _, _ string) (*domain.Organization, error) {
	return nil, domain.ErrNotFound
}

func idpCertPEM(t *testing.T) string {
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

// The served metadata must advertise the broker's real callback URL as the
// assertion consumer service location.
func TestSAMLMetadataHandler(t *testing.T) {
	group := &domain.AuthGroup{
		ID:     "grp1",
		Status: domain.AuthGroupStatusActive,
		Federation: domain.FederationConfig{
			domain.SpecSAML: {{
				Provider: "corp",
				Name:     "main",
				SAML: &domain.SAMLSettings{
					EntityID:    "https://idp.example.com",
					SSOURL:      "https://idp.example.com/sso",
					Certificate: idpCertPEM(t),
				},
			}},
		},
	}

	fa := echoapi.NewFederationAPI(
		nil,
		&fakeGroupRepo{group: group},
		connection.NewResolver(fakeOrgRepo{}),
		upstream.NewSAMLAdapter("https://broker.example.com"),
		"https://broker.example.com",
	)

	req := httptest.NewRequest(http.MethodGet,
		"/federation/saml/metadata/saml/corp/main?auth_group=grp1", nil)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.SetParamNames("spec", "provider", "name")
	c.SetParamValues("saml", "corp", "main")

	require.NoError(t, fa.SAMLMetadataHandler(c))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, "EntityDescriptor")
	assert.Contains(t, body,
		`Location="https://broker.example.com/interaction/callback/saml/corp/main"`)
}

func TestSAMLMetadataHandler_UnknownConnection(t *testing.T) {
	fa := echoapi.NewFederationAPI(
		nil,
		&fakeGroupRepo{group: &domain.AuthGroup{ID: "grp1"}},
		connection.NewResolver(fakeOrgRepo{}),
		upstream.NewSAMLAdapter("https://broker.example.com"),
		"https://broker.example.com",
	)

	req := httptest.NewRequest(http.MethodGet,
		"/federation/saml/metadata/saml/ghost/main?auth_group=grp1", nil)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	c.SetParamNames("spec", "provider", "name")
	c.SetParamValues("saml", "ghost", "main")

	require.NoError(t, fa.SAMLMetadataHandler(c))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
