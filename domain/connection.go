package domain

import "strings"

// ConnectionSpec identifies the federation protocol of an upstream connection.
type ConnectionSpec string

const (
	SpecOIDC   ConnectionSpec = "oidc"
	SpecOAuth2 ConnectionSpec = "oauth2"
	SpecSAML   ConnectionSpec = "saml"
)

// OrgProviderPrefix tags a provider segment as organization-scoped
// ("org:<organizationId>") so organization connections never collide with
// tenant-level ones.
const OrgProviderPrefix = "org:"

// UpstreamConnection is one configured upstream identity source. Records are
// administered per auth group (or per organization) and are read-only to the
// broker. A connection is uniquely addressed by (spec, provider, name).
type UpstreamConnection struct {
	Provider     string   `bson:"provider" json:"provider"`
	Name         string   `bson:"name" json:"name"`
	ClientID     string   `bson:"client_id" json:"client_id"`
	ClientSecret string   `bson:"client_secret,omitempty" json:"-"`
	DiscoveryURL string   `bson:"discovery_url,omitempty" json:"discovery_url,omitempty"`
	AuthURL      string   `bson:"auth_url,omitempty" json:"auth_url,omitempty"`
	TokenURL     string   `bson:"token_url,omitempty" json:"token_url,omitempty"`
	ProfileURL   string   `bson:"profile_url,omitempty" json:"profile_url,omitempty"`
	ResponseType string   `bson:"response_type,omitempty" json:"response_type,omitempty"`
	GrantType    string   `bson:"grant_type,omitempty" json:"grant_type,omitempty"`
	Scopes       []string `bson:"scopes,omitempty" json:"scopes,omitempty"`
	PKCE         bool     `bson:"pkce" json:"pkce"`
	ButtonType   string   `bson:"button_type,omitempty" json:"button_type,omitempty"`
	ButtonText   string   `bson:"button_text,omitempty" json:"button_text,omitempty"`

	// SAML holds the service-provider pairing for spec "saml".
	SAML *SAMLSettings `bson:"saml,omitempty" json:"saml,omitempty"`
}

// SAMLSettings configures the SP/IdP pair for a SAML connection.
type SAMLSettings struct {
	EntityID        string `bson:"entity_id" json:"entity_id"`
	SSOURL          string `bson:"sso_url" json:"sso_url"`
	Certificate     string `bson:"certificate" json:"certificate"` // PEM, IdP signing cert
	SPCertificate   string `bson:"sp_certificate,omitempty" json:"sp_certificate,omitempty"`
	SPPrivateKey    string `bson:"sp_private_key,omitempty" json:"-"`
	SignRequests    bool   `bson:"sign_requests" json:"sign_requests"`
	EncryptedAsserts bool  `bson:"encrypted_asserts" json:"encrypted_asserts"`
	ForceAuthn      bool   `bson:"force_authn" json:"force_authn"`
	NameIDFormat    string `bson:"name_id_format,omitempty" json:"name_id_format,omitempty"`
	// UserIDAttribute overrides NameID as the user identifier when set.
	UserIDAttribute string `bson:"user_id_attribute,omitempty" json:"user_id_attribute,omitempty"`
	EmailAttribute  string `bson:"email_attribute,omitempty" json:"email_attribute,omitempty"`
	BindingPost     bool   `bson:"binding_post" json:"binding_post"`
}

// FederationConfig maps a protocol spec to its ordered connection list for
// one auth group or organization.
type FederationConfig map[ConnectionSpec][]UpstreamConnection

// OrgScoped reports whether the provider segment carries an organization tag,
// returning the organization id when it does.
func OrgScoped(provider string) (string, bool) {
	if strings.HasPrefix(provider, OrgProviderPrefix) {
		return strings.TrimPrefix(provider, OrgProviderPrefix), true
	}
	return "", false
}
