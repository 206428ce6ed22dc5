package llm

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestBuildOpenAIMessages(t *testing.T) {
	msgs := buildOpenAIMessages("be brief", []Message{
		userText("weather?"),
		{Role: RoleAssistant, Parts: []Part{
			{Type: PartText, Text: "checking"},
			{Type: PartToolCall, ToolCall: &ToolCall{ID: "c1", Name: "get_weather"}},
		}},
		ToolResultMessage([]ToolResult{
			{ID: "c1", Name: "get_weather", Content: "18C"},
			{ID: "c2", Name: "get_time", Content: "noon"},
		}),
	})

	if len(msgs) != 5 {
		t.Fatalf("expected 5 messages, got %d", len(msgs))
	}
	if msgs[0].OfSystem == nil {
		t.Errorf("first message should be the system prompt: %#v", msgs[0])
	}
	if msgs[1].OfUser == nil || msgs[1].OfUser.Content.OfString.Value != "weather?" {
		t.Errorf("user message = %#v", msgs[1].OfUser)
	}
	assistant := msgs[2].OfAssistant
	if assistant == nil || len(assistant.ToolCalls) != 1 {
		t.Fatalf("assistant message = %#v", assistant)
	}
	if assistant.ToolCalls[0].Function.Arguments != "{}" {
		t.Errorf("empty arguments should become {}, got %q", assistant.ToolCalls[0].Function.Arguments)
	}
	if msgs[3].OfTool == nil || msgs[3].OfTool.ToolCallID != "c1" || msgs[4].OfTool.ToolCallID != "c2" {
		t.Errorf("tool messages = %#v %#v", msgs[3].OfTool, msgs[4].OfTool)
	}
}

func TestBuildOpenAIUserMessageWithImage(t *testing.T) {
	msg := buildOpenAIUserMessage([]Part{
		{Type: PartText, Text: "what is this"},
		{Type: PartInlineData, InlineData: &Blob{MIMEType: "image/png", Data: []byte("png")}},
	})
	parts := msg.OfUser.Content.OfArrayOfContentParts
	if len(parts) != 2 {
		t.Fatalf("expected 2 content parts, got %d", len(parts))
	}
	if parts[1].OfImageURL == nil || !strings.HasPrefix(parts[1].OfImageURL.ImageURL.URL, "data:image/png;base64,") {
		t.Errorf("image part = %#v", parts[1])
	}
}

func TestBuildOpenAIUserMessagePlaceholders(t *testing.T) {
	msg := buildOpenAIUserMessage([]Part{
		{Type: PartText, Text: "summarise"},
		{Type: PartFileRef, FileRef: &FileRef{URI: "files/1", MIMEType: "application/pdf", DisplayName: "report.pdf"}},
	})
	text := msg.OfUser.Content.OfString.Value
	if !strings.Contains(text, "summarise") || !strings.Contains(text, "report.pdf") {
		t.Errorf("text = %q", text)
	}
}

func TestOpenAIStreamAccumulatesCalls(t *testing.T) {
	s := &openAIStream{calls: make(map[int64]*ToolCall)}
	s.appendCall(1, "c2", "second", `{"b":`)
	s.appendCall(0, "c1", "first", "")
	s.appendCall(1, "", "", `2}`)

	calls := s.flushCalls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(calls))
	}
	if calls[0].ID != "c1" || string(calls[0].Arguments) != "{}" {
		t.Errorf("calls[0] = %+v", calls[0])
	}
	var args map[string]int
	if err := json.Unmarshal(calls[1].Arguments, &args); err != nil || args["b"] != 2 {
		t.Errorf("calls[1] args = %s (%v)", calls[1].Arguments, err)
	}
	if again := s.flushCalls(); again != nil {
		t.Errorf("calls flushed twice: %+v", again)
	}
}

func TestBuildOpenAITools(t *testing.T) {
	tools := buildOpenAITools([]ToolSpec{{Name: "noop"}})
	if len(tools) != 1 || tools[0].Function.Name != "noop" {
		t.Fatalf("tools = %#v", tools)
	}
	if tools[0].Function.Parameters["type"] != "object" {
		t.Errorf("parameters = %#v", tools[0].Function.Parameters)
	}
}
