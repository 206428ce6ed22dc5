package cmd

import (
	"context"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/samsaffron/chatstream/internal/chat"
	"github.com/samsaffron/chatstream/internal/completion"
	"github.com/samsaffron/chatstream/internal/llm"
	"github.com/samsaffron/chatstream/internal/signal"
	"github.com/samsaffron/chatstream/internal/store"
)

// exchange runs asks within one conversation and persists both sides.
type exchange struct {
	session   *completion.Session
	store     store.Store
	assistant completion.Assistant
	tools     []llm.Tool
	provider  string
	logger    *slog.Logger
	out       io.Writer
	render    bool

	conv    *store.Conversation
	history []chat.Message
	// interrupts replaces signal.OnInterrupt in tests.
	interrupts func(fn func()) (stop func())
}

// openConversation loads a stored conversation, or prepares a new one
// that is created on the first ask.
func (x *exchange) openConversation(ctx context.Context, id string) error {
	if id == "" {
		x.conv = &store.Conversation{Provider: x.provider, Model: x.assistant.Model}
		x.history = nil
		return nil
	}
	conv, err := x.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if conv == nil {
		return errConversationNotFound(id)
	}
	messages, err := x.store.Messages(ctx, id)
	if err != nil {
		return err
	}
	x.conv = conv
	x.history = messages
	return nil
}

// ask sends msg and prints the answer. An interrupt cancels this ask only.
func (x *exchange) ask(ctx context.Context, msg chat.Message) (completion.Summary, error) {
	if x.conv.ID == "" {
		x.conv.Title = store.TruncateTitle(msg.Content)
		if err := x.store.Create(ctx, x.conv); err != nil {
			x.logger.Debug("conversation not stored", "error", err)
		}
	}
	_ = x.store.AddMessage(ctx, x.conv.ID, &msg)
	_ = x.store.UpdateStatus(ctx, x.conv.ID, store.StatusActive)
	x.history = append(x.history, msg)

	var interrupted atomic.Bool
	interrupts := x.interrupts
	if interrupts == nil {
		interrupts = signal.OnInterrupt
	}
	stop := interrupts(func() {
		interrupted.Store(true)
		x.session.Registry().Cancel(msg.ID)
	})
	defer stop()

	out := newPrinter(x.out, x.render)
	summary, err := x.session.Completions(ctx, completion.CompletionsParams{
		Messages:  x.history,
		Assistant: x.assistant,
		Tools:     x.tools,
		OnChunk:   out.chunk,
		OnFilteredMessages: func(messages []chat.Message) {
			x.logger.Debug("sending history", "messages", len(messages), "message_id", msg.ID)
		},
	})
	out.finish()
	cancelled := ctx.Err() != nil

	// Record the outcome even when ctx was cancelled.
	ctx = context.WithoutCancel(ctx)
	if err != nil {
		_ = x.store.UpdateStatus(ctx, x.conv.ID, store.StatusError)
		return summary, err
	}

	if summary.Text != "" {
		reply := chat.Message{ID: chat.NewID(), Role: chat.RoleAssistant, Content: summary.Text}
		_ = x.store.AddMessage(ctx, x.conv.ID, &reply)
		x.history = append(x.history, reply)
	}
	_ = x.store.AddUsage(ctx, x.conv.ID, summary.Turns, summary.ToolCalls,
		summary.Usage.PromptTokens, summary.Usage.CompletionTokens)

	status := store.StatusComplete
	if interrupted.Load() || cancelled {
		status = store.StatusInterrupted
	}
	_ = x.store.UpdateStatus(ctx, x.conv.ID, status)
	return summary, nil
}

// clear adds a context reset marker.
func (x *exchange) clear(ctx context.Context) {
	marker := chat.Message{ID: chat.NewID(), Role: chat.RoleUser, Type: chat.TypeClear}
	if x.conv.ID != "" {
		_ = x.store.AddMessage(ctx, x.conv.ID, &marker)
	}
	x.history = append(x.history, marker)
}
