package domain

// FederatedProfile is the normalized external identity produced by a protocol
// adapter. It exists only for the duration of one callback request. A profile
// without both ID and Email never reaches the account linker.
type FederatedProfile struct {
	ID         string         `json:"id"`
	Email      string         `json:"email"`
	Attributes map[string]any `json:"attributes,omitempty"`
}
