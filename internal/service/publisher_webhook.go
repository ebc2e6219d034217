package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// WebhookPublisher delivers queue items to a channel through an outbound
// HTTP webhook. The receiving side owns the platform API credentials; this
// process only ever sees the resulting external post id.
type WebhookPublisher struct {
	channel  string
	endpoint string
	token    string
	client   *http.Client
}

func NewWebhookPublisher(channel, endpoint, token string) *WebhookPublisher {
	return &WebhookPublisher{
		channel:  channel,
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (p *WebhookPublisher) ChannelName() string {
	return p.channel
}

func (p *WebhookPublisher) Publish(ctx context.Context, content PublishContent) (string, error) {
	body, err := json.Marshal(content)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("publish to %s: %w", p.channel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("publish to %s: status %d", p.channel, resp.StatusCode)
	}

	var result struct {
		ExternalPostID string `json:"external_post_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("publish to %s: decode response: %w", p.channel, err)
	}
	if result.ExternalPostID == "" {
		return "", fmt.Errorf("publish to %s: response missing external_post_id", p.channel)
	}
	return result.ExternalPostID, nil
}
