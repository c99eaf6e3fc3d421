// Package correlation issues and validates the material binding a federation
// redirect-out to its matching redirect-back: client-held state/nonce cookies
// plus server-held PKCE sessions.
package correlation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"go.pilab.hu/idfed/domain"
	"go.pilab.hu/idfed/errors"
	"go.pilab.hu/idfed/internal/connection"
)

// CallbackPathPrefix is where upstreams redirect back to. Correlation
// cookies are scoped below it so concurrent attempts against different
// connections cannot collide.
const CallbackPathPrefix = "/interaction/callback"

// CallbackPath returns the callback path for one connection.
func CallbackPath(code connection.Code) string {
	return fmt.Sprintf("%s/%s/%s/%s", CallbackPathPrefix,
		code.Spec, connection.Segment(code.Provider), connection.Segment(code.Name))
}

// Correlation is the material minted at initiation and consumed on callback.
type Correlation struct {
	State string
	Nonce string
	PKCE  *domain.PKCESession
}

// InteractionID extracts the interaction id embedded as the first
// pipe-delimited segment of a state value.
func InteractionID(state string) string {
	if i := strings.Index(state, "|"); i > 0 {
		return state[:i]
	}
	return ""
}

// Manager pairs the two halves of the correlation contract: Begin on the
// redirect-out, Consume exactly once on the callback.
type Manager struct {
	sessions domain.PKCESessionStore
	ttl      time.Duration
	secure   bool
}

func NewManager(sessions domain.PKCESessionStore, ttl time.Duration, secureCookies bool) *Manager {
	return &Manager{sessions: sessions, ttl: ttl, secure: secureCookies}
}

// Begin mints state (and, for OIDC, nonce), sets them as path-scoped cookies
// named per connection, and persists a PKCE session when the connection
// requires proof-key exchange. The state embeds the interaction id so a
// callback can be correlated back to the in-flight interaction.
func (m *Manager) Begin(ctx context.Context, w http.ResponseWriter, group *domain.AuthGroup, interactionID string, res *connection.Resolved) (*Correlation, error) {
	rnd, err := randomHex(16)
	if err != nil {
		return nil, err
	}
	corr := &Correlation{State: interactionID + "|" + rnd}

	path := CallbackPath(res.Code)
	m.setCookie(w, cookieName(res.Code, "state"), corr.State, path)

	if res.Code.Spec == domain.SpecOIDC {
		nonce, err := randomHex(16)
		if err != nil {
			return nil, err
		}
		corr.Nonce = nonce
		m.setCookie(w, cookieName(res.Code, "nonce"), nonce, path)
	}

	if res.Conn.PKCE {
		verifier := oauth2.GenerateVerifier()
		now := time.Now().UTC()
		corr.PKCE = &domain.PKCESession{
			AuthGroup:     group.ID,
			State:         corr.State,
			CodeChallenge: oauth2.S256ChallengeFromVerifier(verifier),
			CodeVerifier:  verifier,
			CreatedAt:     now,
			ExpiresAt:     now.Add(m.ttl),
		}
		if err := m.sessions.Save(ctx, corr.PKCE); err != nil {
			return nil, fmt.Errorf("failed to persist pkce session: %w", err)
		}
	}

	log.Ctx(ctx).Debug().
		Str("connection", res.Code.String()).
		Str("interaction", interactionID).
		Bool("pkce", res.Conn.PKCE).
		Msg("correlation state issued")
	return corr, nil
}

// Consume reads the correlation cookies and immediately clears them on the
// same path, making the state single-use. When PKCE was required it also
// looks up and removes the matching session; a required session that is
// absent fails ErrCorrelationNotFound.
func (m *Manager) Consume(ctx context.Context, w http.ResponseWriter, r *http.Request, group *domain.AuthGroup, res *connection.Resolved) (*Correlation, error) {
	path := CallbackPath(res.Code)

	state := readCookie(r, cookieName(res.Code, "state"))
	nonce := readCookie(r, cookieName(res.Code, "nonce"))
	// Cleared before any validation so a retried callback never sees the
	// same value twice.
	m.clearCookie(w, cookieName(res.Code, "state"), path)
	m.clearCookie(w, cookieName(res.Code, "nonce"), path)

	if state == "" {
		return nil, errors.ErrCorrelationNotFound
	}
	corr := &Correlation{State: state, Nonce: nonce}

	if res.Conn.PKCE {
		session, err := m.sessions.Consume(ctx, group.ID, state)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return nil, errors.ErrCorrelationNotFound
			}
			return nil, fmt.Errorf("failed to consume pkce session: %w", err)
		}
		corr.PKCE = session
	}
	return corr, nil
}

// Verify compares a value submitted on callback against the cookie-held one.
// Any mismatch, including truncation, is a hard failure.
func Verify(submitted, held string) error {
	if submitted == "" || held == "" || submitted != held {
		return errors.ErrCorrelationMismatch
	}
	return nil
}

func cookieName(code connection.Code, kind string) string {
	return connection.Segment(code.Provider) + "." + connection.Segment(code.Name) + "." + kind
}

func (m *Manager) setCookie(w http.ResponseWriter, name, value, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     path,
		MaxAge:   int(m.ttl / time.Second),
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func (m *Manager) clearCookie(w http.ResponseWriter, name, path string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "null",
		Path:     path,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

func readCookie(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil || c.Value == "null" {
		return ""
	}
	return c.Value
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
