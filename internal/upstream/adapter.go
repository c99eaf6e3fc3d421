// Package upstream holds the protocol adapters that speak to third-party
// identity providers: one implementation per federation protocol sharing a
// single initiate/complete contract.
package upstream

import (
	"context"
	"net/http"

	"go.pilab.hu/idfed/domain"
	"go.pilab.hu/idfed/internal/connection"
	"go.pilab.hu/idfed/internal/correlation"
)

// FederationContext carries everything one federation attempt resolved so
// far. It is constructed once per request by the broker and threaded through
// resolver, adapter, validator and linker; nothing mutates it by side
// channel.
type FederationContext struct {
	Group         *domain.AuthGroup
	Resolved      *connection.Resolved
	CallbackURL   string
	InteractionID string
	Correlation   *correlation.Correlation
}

// Conn is shorthand for the resolved connection.
func (fc *FederationContext) Conn() *domain.UpstreamConnection {
	return fc.Resolved.Conn
}

// Redirect is the outcome of initiation: either a URL the browser is sent to
// with a 303, or an auto-submitting HTML form body (SAML POST binding).
type Redirect struct {
	URL  string
	HTML []byte
}

// Result is the raw outcome of a completed callback: upstream claims plus
// the upstream access token, kept for the federated-token passthrough.
type Result struct {
	Claims      map[string]any
	AccessToken string
}

// Adapter is the per-protocol contract. Initiate builds the redirect to the
// upstream; Complete consumes the callback and returns the raw upstream
// profile.
type Adapter interface {
	Initiate(ctx context.Context, fc *FederationContext) (*Redirect, error)
	Complete(ctx context.Context, r *http.Request, fc *FederationContext) (*Result, error)
}

// firstValue coerces possibly multi-valued attribute values to a scalar by
// taking the first element when a list is returned.
func firstValue(v any) any {
	switch vals := v.(type) {
	case []any:
		if len(vals) == 0 {
			return nil
		}
		return vals[0]
	case []string:
		if len(vals) == 0 {
			return nil
		}
		return vals[0]
	default:
		return v
	}
}

// stringClaim reads a claim as a string, coercing lists to their first
// element.
func stringClaim(claims map[string]any, key string) string {
	if claims == nil {
		return ""
	}
	if s, ok := firstValue(claims[key]).(string); ok {
		return s
	}
	return ""
}
