package service

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// PublishContent is what the executor hands to a channel adapter.
type PublishContent struct {
	ItemID      string                 `json:"item_id"`
	WorkspaceID string                 `json:"workspace_id"`
	ItemType    string                 `json:"item_type"`
	Text        string                 `json:"text"`
	Metadata    map[string]interface{} `json:"metadata"`
}

// Publisher is the boundary to an external channel. Implementations own
// their wire protocol and retries; the core only sees the external post id
// or an error.
type Publisher interface {
	ChannelName() string
	Publish(ctx context.Context, content PublishContent) (string, error)
}

// PublisherRegistry maps queue item types to channel adapters. Built once
// at startup and passed by reference; nothing registers after that.
type PublisherRegistry struct {
	mu         sync.RWMutex
	publishers map[string]Publisher
	logger     *zap.Logger
}

func NewPublisherRegistry(logger *zap.Logger) *PublisherRegistry {
	return &PublisherRegistry{
		publishers: make(map[string]Publisher),
		logger:     logger,
	}
}

func (r *PublisherRegistry) Register(publisher Publisher) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := publisher.ChannelName()
	if _, exists := r.publishers[name]; exists {
		return fmt.Errorf("publisher for channel %s already registered", name)
	}
	r.publishers[name] = publisher
	r.logger.Info("Publisher registered", zap.String("channel", name))
	return nil
}

func (r *PublisherRegistry) Get(channel string) (Publisher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	publisher, exists := r.publishers[channel]
	if !exists {
		return nil, fmt.Errorf("publisher for channel %s not found", channel)
	}
	return publisher, nil
}

func (r *PublisherRegistry) Channels() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	channels := make([]string, 0, len(r.publishers))
	for name := range r.publishers {
		channels = append(channels, name)
	}
	return channels
}
