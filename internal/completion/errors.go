package completion

import (
	"github.com/samsaffron/chatstream/internal/chat"
	"github.com/samsaffron/chatstream/internal/llm"
)

var (
	// ErrDependencyUnavailable is returned when the file store or the
	// provider could not be reached before any chunk was delivered.
	ErrDependencyUnavailable = llm.ErrDependencyUnavailable
	// ErrStreamInterrupted is returned when output stopped part way: a
	// stream failed mid-read or a follow-up request after a tool call
	// could not be opened.
	ErrStreamInterrupted = llm.ErrStreamInterrupted
	// ErrNoUserMessage is returned when no user message survives filtering.
	ErrNoUserMessage = chat.ErrNoUserMessage
)
