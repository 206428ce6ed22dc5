package chat

import "errors"

// ErrNoUserMessage is returned when filtering leaves nothing to answer.
var ErrNoUserMessage = errors.New("no user message in context")

// History is the model-visible part of a conversation, split into the
// prior context and the message being answered.
type History struct {
	Prior   []Message
	Current Message
}

// Messages returns the prior context followed by the current message.
func (h History) Messages() []Message {
	out := make([]Message, 0, len(h.Prior)+1)
	out = append(out, h.Prior...)
	return append(out, h.Current)
}

// BuildHistory selects the messages sent to the model. It keeps the last
// contextCount+2 messages, drops everything up to and including the last
// clear marker, drops preset and system messages and then skips ahead to
// the first user message. The last remaining message is the current ask.
func BuildHistory(messages []Message, contextCount int) (History, error) {
	filtered := FilterMessages(messages, contextCount)
	if len(filtered) == 0 {
		return History{}, ErrNoUserMessage
	}
	return History{
		Prior:   filtered[:len(filtered)-1],
		Current: filtered[len(filtered)-1],
	}, nil
}

// FilterMessages applies the context window and filters of BuildHistory
// without splitting off the current message.
func FilterMessages(messages []Message, contextCount int) []Message {
	window := contextCount + 2
	if window < 1 {
		window = 1
	}
	if len(messages) > window {
		messages = messages[len(messages)-window:]
	}

	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Type == TypeClear {
			messages = messages[i+1:]
			break
		}
	}

	visible := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Preset || msg.Role == RoleSystem {
			continue
		}
		visible = append(visible, msg)
	}

	for i, msg := range visible {
		if msg.Role == RoleUser {
			return visible[i:]
		}
	}
	return nil
}
