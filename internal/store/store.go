package store

import (
	"context"
	"strings"
	"time"

	"github.com/samsaffron/chatstream/internal/chat"
	"github.com/samsaffron/chatstream/internal/config"
)

// Status is the outcome of the latest ask in a conversation.
type Status string

const (
	StatusActive      Status = "active"
	StatusComplete    Status = "complete"
	StatusError       Status = "error"
	StatusInterrupted Status = "interrupted"
)

// Conversation is a stored conversation and its accumulated metrics.
type Conversation struct {
	ID           string    `json:"id"`
	Title        string    `json:"title,omitempty"` // first user message, truncated
	Provider     string    `json:"provider"`
	Model        string    `json:"model"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	Turns        int       `json:"turns,omitempty"` // model round-trips
	ToolCalls    int       `json:"tool_calls,omitempty"`
	InputTokens  int       `json:"input_tokens,omitempty"`
	OutputTokens int       `json:"output_tokens,omitempty"`
	Status       Status    `json:"status,omitempty"`
	MessageCount int       `json:"message_count,omitempty"` // set by List
}

// SearchResult is a message matching a full-text query.
type SearchResult struct {
	ConversationID string    `json:"conversation_id"`
	MessageID      string    `json:"message_id"`
	Title          string    `json:"title"`
	Snippet        string    `json:"snippet"`
	CreatedAt      time.Time `json:"created_at"`
}

// Store persists conversations and their messages.
type Store interface {
	Create(ctx context.Context, c *Conversation) error
	// Get returns nil, nil when the conversation does not exist.
	Get(ctx context.Context, id string) (*Conversation, error)
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, limit int) ([]Conversation, error)
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)

	// AddMessage appends a message. Its Index is set to the allocated
	// position in the conversation.
	AddMessage(ctx context.Context, conversationID string, msg *chat.Message) error
	// Messages returns the conversation's messages in order.
	Messages(ctx context.Context, conversationID string) ([]chat.Message, error)

	// AddUsage adds one ask's metrics to the conversation totals.
	AddUsage(ctx context.Context, id string, turns, toolCalls, inputTokens, outputTokens int) error
	UpdateStatus(ctx context.Context, id string, status Status) error

	Close() error
}

// New opens the store described by cfg. A disabled store discards writes.
func New(cfg config.StoreConfig) (Store, error) {
	if !cfg.Enabled {
		return &NoopStore{}, nil
	}
	return NewSQLiteStore(cfg.Path)
}

// TruncateTitle returns the first line of content, truncated to 100 chars.
func TruncateTitle(content string) string {
	content = strings.TrimSpace(content)
	if idx := strings.Index(content, "\n"); idx != -1 {
		content = content[:idx]
	}
	if len(content) > 100 {
		content = content[:97] + "..."
	}
	return content
}
