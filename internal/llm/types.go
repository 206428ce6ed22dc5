package llm

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	// ErrDependencyUnavailable reports that a collaborator (file store or
	// provider endpoint) could not be reached while a request was being set up.
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	// ErrStreamInterrupted reports a transport failure after output started.
	ErrStreamInterrupted = errors.New("stream interrupted")
)

// Provider streams model output for a request.
type Provider interface {
	Name() string
	Capabilities() Capabilities
	// Stream opens a streamed completion. Errors returned here happen before
	// any event was produced.
	Stream(ctx context.Context, req Request) (Stream, error)
	// Generate performs a single-shot completion.
	Generate(ctx context.Context, req Request) (Event, error)
}

// Capabilities describe optional provider features.
type Capabilities struct {
	NativeWebSearch bool
	ToolCalls       bool
	FileReferences  bool // accepts PartFileRef parts natively
}

// Stream yields events until io.EOF.
type Stream interface {
	Recv() (Event, error)
	Close() error
}

// Request represents a single model turn.
type Request struct {
	Model           string
	System          string
	Messages        []Message
	Tools           []ToolSpec
	Search          bool
	MaxOutputTokens int
	Temperature     *float32
	TopP            *float32
	// SafetyThreshold is passed through to providers that understand it.
	SafetyThreshold string
}

// Role identifies a message role.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies a message content part.
type PartType string

const (
	PartText       PartType = "text"
	PartInlineData PartType = "inline_data"
	PartFileRef    PartType = "file_ref"
	PartToolCall   PartType = "tool_call"
	PartToolResult PartType = "tool_result"
)

// Message is one conversation turn: a role with ordered parts.
type Message struct {
	Role  Role
	Parts []Part
}

// Part represents a single content part. Exactly one payload is set,
// matching Type.
type Part struct {
	Type       PartType
	Text       string
	InlineData *Blob
	FileRef    *FileRef
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// Blob is binary content sent inline with the request.
type Blob struct {
	MIMEType string
	Data     []byte
}

// FileRef points at a file previously uploaded to the provider.
type FileRef struct {
	URI         string
	MIMEType    string
	DisplayName string
}

// ToolSpec describes a callable tool.
type ToolSpec struct {
	Name        string
	Description string
	Schema      map[string]any
}

// ToolCall is a model-requested tool invocation.
type ToolCall struct {
	ID         string
	Name       string
	Arguments  json.RawMessage
	ThoughtSig []byte // Gemini thought signature, echoed back with the result
}

// ToolResult is the output from executing a tool call.
type ToolResult struct {
	ID         string
	Name       string
	Content    string
	IsError    bool
	ThoughtSig []byte
}

// Event is one unit of model output: a text fragment, zero or more complete
// tool calls, and the usage reported so far.
type Event struct {
	Text      string
	ToolCalls []ToolCall
	Usage     *Usage
	// Grounding is the provider's search metadata, passed through verbatim.
	Grounding json.RawMessage
}

// Empty reports whether the event carries nothing worth emitting.
func (e Event) Empty() bool {
	return e.Text == "" && len(e.ToolCalls) == 0 && e.Usage == nil && len(e.Grounding) == 0
}

// Usage captures token usage if available.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Total returns TotalTokens, falling back to input+output.
func (u Usage) Total() int {
	if u.TotalTokens > 0 {
		return u.TotalTokens
	}
	return u.InputTokens + u.OutputTokens
}

// ToolCallMessage builds the model turn that requested the given calls.
func ToolCallMessage(calls []ToolCall) Message {
	parts := make([]Part, 0, len(calls))
	for i := range calls {
		call := calls[i]
		parts = append(parts, Part{Type: PartToolCall, ToolCall: &call})
	}
	return Message{Role: RoleAssistant, Parts: parts}
}

// ToolResultMessage builds the turn answering a ToolCallMessage.
func ToolResultMessage(results []ToolResult) Message {
	parts := make([]Part, 0, len(results))
	for i := range results {
		result := results[i]
		parts = append(parts, Part{Type: PartToolResult, ToolResult: &result})
	}
	return Message{Role: RoleTool, Parts: parts}
}

func chooseModel(requested, fallback string) string {
	if requested != "" {
		return requested
	}
	return fallback
}
