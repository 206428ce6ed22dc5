package store

import (
	"context"

	"github.com/samsaffron/chatstream/internal/chat"
)

// NoopStore is used when persistence is disabled. It discards writes and
// returns empty results for reads.
type NoopStore struct{}

func (s *NoopStore) Create(ctx context.Context, c *Conversation) error {
	if c.ID == "" {
		c.ID = chat.NewID()
	}
	return nil
}

func (s *NoopStore) Get(ctx context.Context, id string) (*Conversation, error) {
	return nil, nil
}

func (s *NoopStore) Delete(ctx context.Context, id string) error {
	return nil
}

func (s *NoopStore) List(ctx context.Context, limit int) ([]Conversation, error) {
	return nil, nil
}

func (s *NoopStore) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	return nil, nil
}

func (s *NoopStore) AddMessage(ctx context.Context, conversationID string, msg *chat.Message) error {
	return nil
}

func (s *NoopStore) Messages(ctx context.Context, conversationID string) ([]chat.Message, error) {
	return nil, nil
}

func (s *NoopStore) AddUsage(ctx context.Context, id string, turns, toolCalls, inputTokens, outputTokens int) error {
	return nil
}

func (s *NoopStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	return nil
}

func (s *NoopStore) Close() error {
	return nil
}
