package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// EngineClient reaches a remotely running authorization engine over its
// internal REST surface. It is the production implementation of
// AuthorizationEngine; tests substitute their own.
type EngineClient struct {
	baseURL string
	client  *http.Client
}

func NewEngineClient(baseURL string) *EngineClient {
	return &EngineClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (e *EngineClient) InteractionDetails(ctx context.Context, r *http.Request, interactionID string) (*Interaction, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/internal/interaction/%s", e.baseURL, interactionID), nil)
	if err != nil {
		return nil, err
	}
	// The engine validates the browser's interaction session itself.
	if cookie := r.Header.Get("Cookie"); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	var interaction Interaction
	if err := e.do(req, &interaction); err != nil {
		return nil, fmt.Errorf("interaction details: %w", err)
	}
	return &interaction, nil
}

func (e *EngineClient) InteractionFinished(ctx context.Context, w http.ResponseWriter, r *http.Request, interaction *Interaction, result *LoginResult) error {
	body, err := json.Marshal(map[string]any{
		"login": map[string]string{"accountId": result.AccountID},
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/internal/interaction/%s/finish", e.baseURL, interaction.ID),
		bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if cookie := r.Header.Get("Cookie"); cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	var out struct {
		RedirectTo string `json:"redirect_to"`
	}
	if err := e.do(req, &out); err != nil {
		return fmt.Errorf("interaction finish: %w", err)
	}
	http.Redirect(w, r, out.RedirectTo, http.StatusSeeOther)
	return nil
}

func (e *EngineClient) FindClient(ctx context.Context, clientID string) (*ClientMeta, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/internal/client/%s", e.baseURL, clientID), nil)
	if err != nil {
		return nil, err
	}
	var meta ClientMeta
	if err := e.do(req, &meta); err != nil {
		return nil, fmt.Errorf("client lookup: %w", err)
	}
	return &meta, nil
}

func (e *EngineClient) AttachFederatedToken(ctx context.Context, interactionID, accessToken string) error {
	body, err := json.Marshal(map[string]string{"access_token": accessToken})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("%s/internal/interaction/%s/federated-token", e.baseURL, interactionID),
		bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if err := e.do(req, nil); err != nil {
		return fmt.Errorf("attach federated token: %w", err)
	}
	return nil
}

func (e *EngineClient) do(req *http.Request, out any) error {
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("engine returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

var _ AuthorizationEngine = (*EngineClient)(nil)
