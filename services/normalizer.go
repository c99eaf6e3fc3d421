package services

import (
	"context"

	"github.com/rs/zerolog/log"

	"go.pilab.hu/idfed/domain"
	"go.pilab.hu/idfed/errors"
	"go.pilab.hu/idfed/internal/correlation"
	"go.pilab.hu/idfed/internal/upstream"
)

// reservedClaims are claim names owned by this platform. When the upstream is
// itself an instance of this platform, its copies of these must not leak into
// the new profile.
var reservedClaims = map[string]struct{}{
	"group":     {},
	"iss":       {},
	"aud":       {},
	"nonce":     {},
	"jti":       {},
	"exp":       {},
	"iat":       {},
	"nbf":       {},
	"auth_time": {},
	"azp":       {},
	"at_hash":   {},
	"c_hash":    {},
	"sid":       {},
}

// Normalizer is the protocol-agnostic callback validator. It re-checks the
// correlation material the adapters already checked, enforces the identity
// contract (an identifier and an email, always), and shapes heterogeneous
// upstream claims into one FederatedProfile.
type Normalizer struct{}

func NewNormalizer() *Normalizer {
	return &Normalizer{}
}

// ValidateAndNormalize turns a raw adapter result into a FederatedProfile.
// submittedState is the state value the upstream echoed back (query/form
// param or SAML relay state); when present it must equal the cookie-held
// state even though the adapter verified it already.
func (n *Normalizer) ValidateAndNormalize(ctx context.Context, res *upstream.Result, corr *correlation.Correlation, submittedState string) (*domain.FederatedProfile, error) {
	if submittedState != "" {
		if err := correlation.Verify(submittedState, corr.State); err != nil {
			return nil, err
		}
	}
	if corr.Nonce != "" {
		if nonce := scalarString(res.Claims, "nonce"); nonce != "" && nonce != corr.Nonce {
			return nil, errors.ErrCorrelationMismatch
		}
	}

	id := scalarString(res.Claims, "id")
	if id == "" {
		id = scalarString(res.Claims, "sub")
	}
	if id == "" {
		return nil, errors.ErrMissingIdentity
	}
	email := scalarString(res.Claims, "email")
	if email == "" {
		return nil, errors.ErrMissingEmail
	}

	attrs := make(map[string]any, len(res.Claims))
	fromPlatform := isPlatformUpstream(res.Claims)
	for k, v := range res.Claims {
		if fromPlatform {
			if _, reserved := reservedClaims[k]; reserved {
				continue
			}
		}
		attrs[k] = scalar(v)
	}

	if fromPlatform {
		log.Ctx(ctx).Debug().Str("id", id).Msg("stripped reserved claims from platform upstream profile")
	}
	return &domain.FederatedProfile{ID: id, Email: email, Attributes: attrs}, nil
}

// isPlatformUpstream detects a profile issued by another instance of this
// platform: only our tokens carry a tenant "group" claim next to a standard
// issuer.
func isPlatformUpstream(claims map[string]any) bool {
	_, hasGroup := claims["group"]
	_, hasIssuer := claims["iss"]
	return hasGroup && hasIssuer
}

// scalar coerces multi-valued attribute values to their first element.
func scalar(v any) any {
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

func scalarString(claims map[string]any, key string) string {
	if claims == nil {
		return ""
	}
	if s, ok := scalar(claims[key]).(string); ok {
		return s
	}
	return ""
}
