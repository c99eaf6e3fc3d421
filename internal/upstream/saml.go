package upstream

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"regexp"

	saml2 "github.com/russellhaering/gosaml2"
	dsig "github.com/russellhaering/goxmldsig"

	"go.pilab.hu/idfed/domain"
	"go.pilab.hu/idfed/errors"
	"go.pilab.hu/idfed/internal/correlation"
)

var emailSyntax = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

// SAMLAdapter drives SP-initiated federation against SAML 2.0 identity
// providers, with the correlation state carried as RelayState.
type SAMLAdapter struct {
	baseURL string
}

// NewSAMLAdapter creates the adapter. baseURL is this broker's externally
// reachable base URL, used for the SP issuer and audience.
func NewSAMLAdapter(baseURL string) *SAMLAdapter {
	return &SAMLAdapter{baseURL: baseURL}
}

// Initiate builds the SP-initiated login: a redirect URL for the redirect
// binding, or an auto-submitting form body for the POST binding.
func (a *SAMLAdapter) Initiate(_ context.Context, fc *FederationContext) (*Redirect, error) {
	sp, err := a.serviceProvider(fc)
	if err != nil {
		return nil, err
	}
	if fc.Conn().SAML.BindingPost {
		body, err := sp.BuildAuthBodyPost(fc.Correlation.State)
		if err != nil {
			return nil, errors.Wrap(errors.ErrConnectionMisconfigured, err)
		}
		return &Redirect{HTML: body}, nil
	}
	authURL, err := sp.BuildAuthURL(fc.Correlation.State)
	if err != nil {
		return nil, errors.Wrap(errors.ErrConnectionMisconfigured, err)
	}
	return &Redirect{URL: authURL}, nil
}

// Complete validates the POSTed assertion. The relay state must match the
// cookie-held state before the assertion is parsed at all; after validation
// it extracts the user id (NameID or a configured attribute) and a
// syntactically valid email.
func (a *SAMLAdapter) Complete(_ context.Context, r *http.Request, fc *FederationContext) (*Result, error) {
	if err := r.ParseForm(); err != nil {
		return nil, errors.Wrap(errors.ErrInvalidAssertion, err)
	}

	if err := correlation.Verify(r.FormValue("RelayState"), fc.Correlation.State); err != nil {
		return nil, err
	}

	encoded := r.FormValue("SAMLResponse")
	if encoded == "" {
		return nil, errors.Wrap(errors.ErrInvalidAssertion, fmt.Errorf("missing SAMLResponse"))
	}

	sp, err := a.serviceProvider(fc)
	if err != nil {
		return nil, err
	}
	info, err := sp.RetrieveAssertionInfo(encoded)
	if err != nil {
		return nil, errors.Wrap(errors.ErrInvalidAssertion, err)
	}
	if info.WarningInfo != nil {
		if info.WarningInfo.InvalidTime {
			return nil, errors.Wrap(errors.ErrInvalidAssertion, fmt.Errorf("assertion outside its validity window"))
		}
		if info.WarningInfo.NotInAudience {
			return nil, errors.Wrap(errors.ErrInvalidAssertion, fmt.Errorf("assertion not addressed to this audience"))
		}
	}

	settings := fc.Conn().SAML
	claims := map[string]any{}
	for name, attr := range info.Values {
		// SAML attributes are frequently multi-valued; the first
		// element becomes the scalar claim.
		if len(attr.Values) > 0 {
			claims[name] = attr.Values[0].Value
		}
	}

	userID := info.NameID
	if settings.UserIDAttribute != "" {
		if v := info.Values.Get(settings.UserIDAttribute); v != "" {
			userID = v
		}
	}
	if userID == "" {
		return nil, errors.Wrap(errors.ErrInvalidAssertion, errors.ErrMissingIdentity)
	}

	email := assertionEmail(info, settings)
	if email == "" {
		return nil, errors.Wrap(errors.ErrInvalidAssertion, errors.ErrMissingEmail)
	}
	if !emailSyntax.MatchString(email) {
		return nil, errors.Wrap(errors.ErrInvalidAssertion, fmt.Errorf("malformed email in assertion"))
	}

	claims["id"] = userID
	claims["email"] = email
	return &Result{Claims: claims}, nil
}

// Metadata renders the SP entity descriptor for IdP-side registration.
func (a *SAMLAdapter) Metadata(fc *FederationContext) ([]byte, error) {
	sp, err := a.serviceProvider(fc)
	if err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf(`<?xml version="1.0"?>
<md:EntityDescriptor xmlns:md="urn:oasis:names:tc:SAML:2.0:metadata" entityID="%s">
  <md:SPSSODescriptor protocolSupportEnumeration="urn:oasis:names:tc:SAML:2.0:protocol">
    <md:AssertionConsumerService Binding="urn:oasis:names:tc:SAML:2.0:bindings:HTTP-POST" Location="%s" index="1"/>
  </md:SPSSODescriptor>
</md:EntityDescriptor>`, sp.ServiceProviderIssuer, sp.AssertionConsumerServiceURL)), nil
}

func assertionEmail(info *saml2.AssertionInfo, settings *domain.SAMLSettings) string {
	if settings.EmailAttribute != "" {
		return info.Values.Get(settings.EmailAttribute)
	}
	for _, name := range []string{"email", "mail", "emailAddress",
		"http://schemas.xmlsoap.org/ws/2005/05/identity/claims/emailaddress"} {
		if v := info.Values.Get(name); v != "" {
			return v
		}
	}
	return ""
}

func (a *SAMLAdapter) serviceProvider(fc *FederationContext) (*saml2.SAMLServiceProvider, error) {
	settings := fc.Conn().SAML
	if settings == nil || settings.EntityID == "" || settings.SSOURL == "" || settings.Certificate == "" {
		return nil, errors.ErrConnectionMisconfigured
	}

	certBlock, _ := pem.Decode([]byte(settings.Certificate))
	if certBlock == nil {
		return nil, errors.Wrap(errors.ErrConnectionMisconfigured, fmt.Errorf("idp certificate is not PEM"))
	}
	cert, err := x509.ParseCertificate(certBlock.Bytes)
	if err != nil {
		return nil, errors.Wrap(errors.ErrConnectionMisconfigured, err)
	}
	certStore := &dsig.MemoryX509CertificateStore{Roots: []*x509.Certificate{cert}}

	if settings.SignRequests && settings.SPCertificate == "" {
		return nil, errors.Wrap(errors.ErrConnectionMisconfigured, fmt.Errorf("request signing requires an SP certificate"))
	}

	var keyStore dsig.X509KeyStore
	if settings.SPPrivateKey != "" {
		keyStore, err = parseKeyStore(settings)
		if err != nil {
			return nil, errors.Wrap(errors.ErrConnectionMisconfigured, err)
		}
	} else if settings.SignRequests || settings.EncryptedAsserts {
		return nil, errors.Wrap(errors.ErrConnectionMisconfigured, fmt.Errorf("signing or decryption requires an SP private key"))
	} else {
		keyStore = dsig.RandomKeyStoreForTest()
	}

	return &saml2.SAMLServiceProvider{
		IdentityProviderSSOURL:      settings.SSOURL,
		IdentityProviderIssuer:      settings.EntityID,
		ServiceProviderIssuer:       a.baseURL + "/federation/metadata",
		AssertionConsumerServiceURL: fc.CallbackURL,
		SignAuthnRequests:           settings.SignRequests,
		ForceAuthn:                  settings.ForceAuthn,
		AudienceURI:                 a.baseURL,
		IDPCertificateStore:         certStore,
		SPKeyStore:                  keyStore,
		NameIdFormat:                settings.NameIDFormat,
	}, nil
}

func parseKeyStore(settings *domain.SAMLSettings) (dsig.X509KeyStore, error) {
	keyBlock, _ := pem.Decode([]byte(settings.SPPrivateKey))
	if keyBlock == nil {
		return nil, fmt.Errorf("sp private key is not PEM")
	}
	privateKey, err := x509.ParsePKCS1PrivateKey(keyBlock.Bytes)
	if err != nil {
		pkcs8Key, err := x509.ParsePKCS8PrivateKey(keyBlock.Bytes)
		if err != nil {
			return nil, fmt.Errorf("failed to parse sp private key: %w", err)
		}
		var ok bool
		privateKey, ok = pkcs8Key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("sp private key is not RSA")
		}
	}
	store := &dsig.TLSCertKeyStore{PrivateKey: privateKey}
	if settings.SPCertificate != "" {
		// The key store wants DER; the configured certificate is PEM.
		spBlock, _ := pem.Decode([]byte(settings.SPCertificate))
		if spBlock == nil {
			return nil, fmt.Errorf("sp certificate is not PEM")
		}
		store.Certificate = [][]byte{spBlock.Bytes}
	}
	return store, nil
}
