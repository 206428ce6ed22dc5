package completion

import (
	"encoding/json"

	"github.com/samsaffron/chatstream/internal/llm"
)

// Usage is the token usage reported with a chunk. Missing values are zero.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

func usageFrom(u *llm.Usage) Usage {
	if u == nil {
		return Usage{}
	}
	return Usage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.Total(),
	}
}

func (u Usage) add(o Usage) Usage {
	return Usage{
		PromptTokens:     u.PromptTokens + o.PromptTokens,
		CompletionTokens: u.CompletionTokens + o.CompletionTokens,
		TotalTokens:      u.TotalTokens + o.TotalTokens,
	}
}

// Metrics carries timing for a chunk. Times are milliseconds since the
// session started.
type Metrics struct {
	CompletionTokens int   `json:"completion_tokens"`
	TimeCompletionMs int64 `json:"time_completion_millsec"`
	TimeFirstTokenMs int64 `json:"time_first_token_millsec"`
}

// ToolState is the lifecycle state of a tool invocation.
type ToolState string

const (
	ToolInvoking ToolState = "invoking"
	ToolDone     ToolState = "done"
)

// ToolStatus describes one tool invocation. ID is "<tool>-<depth>".
type ToolStatus struct {
	ID       string    `json:"id"`
	Tool     string    `json:"tool"`
	Status   ToolState `json:"status"`
	Response string    `json:"response,omitempty"`
	IsError  bool      `json:"isError,omitempty"`
}

// StreamChunk is one update delivered to the caller.
type StreamChunk struct {
	Text         string          `json:"text"`
	Usage        Usage           `json:"usage"`
	Metrics      Metrics         `json:"metrics"`
	ToolStatuses []ToolStatus    `json:"toolStatuses,omitempty"`
	Search       json.RawMessage `json:"searchMetadata,omitempty"`
}

// UpsertToolStatus replaces the status with the same ID or appends it.
func UpsertToolStatus(statuses []ToolStatus, status ToolStatus) []ToolStatus {
	for i := range statuses {
		if statuses[i].ID == status.ID {
			statuses[i] = status
			return statuses
		}
	}
	return append(statuses, status)
}
