package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/samsaffron/chatstream/internal/chat"
)

// LoggingStore wraps a Store and logs write failures once per operation.
// Callers treat persistence as best effort and keep going.
type LoggingStore struct {
	Store
	logger *slog.Logger
	mu     sync.Mutex
	warned map[string]bool
}

func NewLoggingStore(store Store, logger *slog.Logger) *LoggingStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingStore{
		Store:  store,
		logger: logger,
		warned: make(map[string]bool),
	}
}

func (s *LoggingStore) logOnce(op string, err error) {
	if err == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.warned[op] {
		return
	}
	s.warned[op] = true
	s.logger.Warn("conversation store write failed", "op", op, "error", err)
}

func (s *LoggingStore) Create(ctx context.Context, c *Conversation) error {
	err := s.Store.Create(ctx, c)
	s.logOnce("Create", err)
	return err
}

func (s *LoggingStore) AddMessage(ctx context.Context, conversationID string, msg *chat.Message) error {
	err := s.Store.AddMessage(ctx, conversationID, msg)
	s.logOnce("AddMessage", err)
	return err
}

func (s *LoggingStore) AddUsage(ctx context.Context, id string, turns, toolCalls, inputTokens, outputTokens int) error {
	err := s.Store.AddUsage(ctx, id, turns, toolCalls, inputTokens, outputTokens)
	s.logOnce("AddUsage", err)
	return err
}

func (s *LoggingStore) UpdateStatus(ctx context.Context, id string, status Status) error {
	err := s.Store.UpdateStatus(ctx, id, status)
	s.logOnce("UpdateStatus", err)
	return err
}
