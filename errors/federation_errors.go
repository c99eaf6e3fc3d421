// Package errors defines the broker-wide federation error taxonomy. Every
// failure funnels through one of these sentinels (possibly wrapped) so the
// browser-visible behavior stays uniform regardless of which stage failed.
package errors

import (
	"errors"
	"fmt"
)

// Configuration errors. Fatal at initiation; rendered as a generic
// setup-incomplete message, logged with full detail server-side only.
var (
	ErrMalformedConnectionCode = errors.New("malformed connection code")
	ErrUnknownConnection       = errors.New("unknown upstream connection")
	ErrConnectionMisconfigured = errors.New("upstream connection is misconfigured")
)

// Correlation errors. Fatal for the attempt, never retried; the user must
// restart login, which mints fresh correlation state.
var (
	ErrCorrelationMismatch = errors.New("correlation state mismatch")
	ErrCorrelationNotFound = errors.New("correlation state not found")
)

// Upstream errors. The original upstream error body is never shown to the
// browser.
var (
	ErrUpstreamExchangeFailed     = errors.New("upstream code exchange failed")
	ErrUpstreamProfileFetchFailed = errors.New("upstream profile fetch failed")
	ErrInvalidAssertion           = errors.New("invalid saml assertion")
)

// Identity errors. The broker returns a stable code; messaging is the UI
// layer's concern.
var (
	ErrMissingIdentity = errors.New("upstream profile is missing an identifier")
	ErrMissingEmail    = errors.New("upstream profile is missing an email")
)

// Authorization errors.
var ErrForbidden = errors.New("forbidden")

// Wrap annotates err with a stage sentinel while keeping both inspectable
// through errors.Is.
func Wrap(sentinel, err error) error {
	if err == nil {
		return sentinel
	}
	return fmt.Errorf("%w: %w", sentinel, err)
}

// Is re-exports errors.Is so callers of this package need only one import.
func Is(err, target error) bool { return errors.Is(err, target) }
