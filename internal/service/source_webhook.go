package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// WebhookCandidateSource pulls candidates from an external feed endpoint.
// An empty endpoint means the feed is disabled and Fetch returns nothing.
type WebhookCandidateSource struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewWebhookCandidateSource(endpoint, token string) *WebhookCandidateSource {
	return &WebhookCandidateSource{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *WebhookCandidateSource) Fetch(ctx context.Context, workspaceID string, limit int) ([]Candidate, error) {
	if s.endpoint == "" {
		return nil, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint, nil)
	if err != nil {
		return nil, err
	}
	query := req.URL.Query()
	query.Set("workspace_id", workspaceID)
	query.Set("limit", strconv.Itoa(limit))
	req.URL.RawQuery = query.Encode()
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch candidates: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch candidates: status %d", resp.StatusCode)
	}

	var payload struct {
		Candidates []Candidate `json:"candidates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("fetch candidates: decode response: %w", err)
	}
	return payload.Candidates, nil
}
