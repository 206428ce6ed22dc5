package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"
)

// AnthropicProvider implements Provider using the Anthropic Messages API.
type AnthropicProvider struct {
	client *anthropic.Client
	model  string
}

func NewAnthropicProvider(apiKey, model string) *AnthropicProvider {
	if model == "" {
		model = "claude-sonnet-4-5"
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &AnthropicProvider{client: &client, model: model}
}

func (p *AnthropicProvider) Name() string {
	return fmt.Sprintf("Anthropic (%s)", p.model)
}

func (p *AnthropicProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true}
}

func (p *AnthropicProvider) params(req Request) anthropic.MessageNewParams {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(chooseModel(req.Model, p.model)),
		MaxTokens: maxTokens(req.MaxOutputTokens, 4096),
		Messages:  buildAnthropicMessages(req.Messages),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = buildAnthropicTools(req.Tools)
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(float64(*req.Temperature))
	}
	if req.TopP != nil {
		params.TopP = anthropic.Float(float64(*req.TopP))
	}
	return params
}

func (p *AnthropicProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	stream := p.client.Messages.NewStreaming(ctx, p.params(req))
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("anthropic API error: %w", err)
	}
	return &anthropicStream{stream: stream, accumulator: newToolCallAccumulator()}, nil
}

func (p *AnthropicProvider) Generate(ctx context.Context, req Request) (Event, error) {
	msg, err := p.client.Messages.New(ctx, p.params(req))
	if err != nil {
		return Event{}, fmt.Errorf("anthropic API error: %w", err)
	}
	var event Event
	var text strings.Builder
	for _, block := range msg.Content {
		switch variant := block.AsAny().(type) {
		case anthropic.TextBlock:
			text.WriteString(variant.Text)
		case anthropic.ToolUseBlock:
			event.ToolCalls = append(event.ToolCalls, ToolCall{
				ID:        variant.ID,
				Name:      variant.Name,
				Arguments: toolInputToRaw(variant.Input),
			})
		}
	}
	event.Text = text.String()
	event.Usage = &Usage{
		InputTokens:  int(msg.Usage.InputTokens),
		OutputTokens: int(msg.Usage.OutputTokens),
	}
	return event, nil
}

// anthropicStream releases tool calls as they finish and hands them out
// together on the message delta, alongside the final usage.
type anthropicStream struct {
	stream      *ssestream.Stream[anthropic.MessageStreamEventUnion]
	accumulator *toolCallAccumulator
	finished    []ToolCall
	inputTokens int
	done        bool
}

func (s *anthropicStream) Recv() (Event, error) {
	for !s.done && s.stream.Next() {
		var event Event
		switch variant := s.stream.Current().AsAny().(type) {
		case anthropic.MessageStartEvent:
			s.inputTokens = int(variant.Message.Usage.InputTokens)
		case anthropic.ContentBlockDeltaEvent:
			switch delta := variant.Delta.AsAny().(type) {
			case anthropic.InputJSONDelta:
				s.accumulator.Append(variant.Index, delta.PartialJSON)
			case anthropic.TextDelta:
				event.Text = delta.Text
			}
		case anthropic.ContentBlockStartEvent:
			if block, ok := variant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				s.accumulator.Start(variant.Index, ToolCall{
					ID:        block.ID,
					Name:      block.Name,
					Arguments: toolInputToRaw(block.Input),
				})
			}
		case anthropic.ContentBlockStopEvent:
			if call, ok := s.accumulator.Finish(variant.Index); ok {
				s.finished = append(s.finished, call)
			}
		case anthropic.MessageDeltaEvent:
			input := int(variant.Usage.InputTokens)
			if input == 0 {
				input = s.inputTokens
			}
			event.Usage = &Usage{InputTokens: input, OutputTokens: int(variant.Usage.OutputTokens)}
			event.ToolCalls = s.finished
			s.finished = nil
		}
		if !event.Empty() {
			return event, nil
		}
	}
	if !s.done {
		s.done = true
		if err := s.stream.Err(); err != nil {
			return Event{}, fmt.Errorf("anthropic streaming error: %w", err)
		}
	}
	return Event{}, io.EOF
}

func (s *anthropicStream) Close() error {
	s.done = true
	return s.stream.Close()
}

func buildAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, msg := range messages {
		blocks := buildAnthropicBlocks(msg.Parts, msg.Role == RoleAssistant)
		if len(blocks) == 0 {
			continue
		}
		if msg.Role == RoleAssistant {
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		} else {
			out = append(out, anthropic.NewUserMessage(blocks...))
		}
	}
	return out
}

func buildAnthropicBlocks(parts []Part, allowToolUse bool) []anthropic.ContentBlockParamUnion {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(parts))
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(part.Text))
			}
		case PartInlineData:
			if part.InlineData == nil {
				continue
			}
			encoded := base64.StdEncoding.EncodeToString(part.InlineData.Data)
			switch {
			case isImageMIME(part.InlineData.MIMEType):
				blocks = append(blocks, anthropic.NewImageBlockBase64(part.InlineData.MIMEType, encoded))
			case part.InlineData.MIMEType == "application/pdf":
				blocks = append(blocks, anthropic.NewDocumentBlock(anthropic.Base64PDFSourceParam{Data: encoded}))
			default:
				blocks = append(blocks, anthropic.NewTextBlock(attachmentPlaceholder(part)))
			}
		case PartFileRef:
			if text := attachmentPlaceholder(part); text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(text))
			}
		case PartToolCall:
			if allowToolUse && part.ToolCall != nil {
				blocks = append(blocks, anthropic.NewToolUseBlock(part.ToolCall.ID, toolInputForRequest(part.ToolCall.Arguments), part.ToolCall.Name))
			}
		case PartToolResult:
			if part.ToolResult != nil {
				blocks = append(blocks, toolResultBlock(part.ToolResult))
			}
		}
	}
	return blocks
}

func toolResultBlock(result *ToolResult) anthropic.ContentBlockParamUnion {
	block := anthropic.ToolResultBlockParam{
		ToolUseID: result.ID,
		IsError:   anthropic.Bool(result.IsError),
		Content: []anthropic.ToolResultBlockParamContentUnion{
			{OfText: &anthropic.TextBlockParam{Text: result.Content}},
		},
	}
	return anthropic.ContentBlockParamUnion{OfToolResult: &block}
}

func buildAnthropicTools(specs []ToolSpec) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(specs))
	for _, spec := range specs {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type:       constant.Object("object"),
			Properties: spec.Schema["properties"],
			Required:   stringList(spec.Schema["required"]),
		}
		tool := anthropic.ToolUnionParamOfTool(inputSchema, spec.Name)
		if spec.Description != "" {
			tool.OfTool.Description = anthropic.String(spec.Description)
		}
		tools = append(tools, tool)
	}
	return tools
}

// toolInputForRequest decodes stored arguments so the SDK serializes them as
// an object rather than a JSON string.
func toolInputForRequest(raw json.RawMessage) any {
	var input map[string]any
	if len(raw) > 0 && json.Unmarshal(raw, &input) == nil {
		return input
	}
	return map[string]any{}
}

func toolInputToRaw(input any) json.RawMessage {
	switch v := input.(type) {
	case json.RawMessage:
		return v
	case []byte:
		return json.RawMessage(v)
	case string:
		return json.RawMessage(v)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return json.RawMessage(data)
	}
}

// toolCallAccumulator collects streamed tool input fragments per content
// block index.
type toolCallAccumulator struct {
	calls    map[int64]ToolCall
	fallback map[int64]json.RawMessage
	partial  map[int64]*strings.Builder
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{
		calls:    make(map[int64]ToolCall),
		fallback: make(map[int64]json.RawMessage),
		partial:  make(map[int64]*strings.Builder),
	}
}

func (a *toolCallAccumulator) Start(index int64, call ToolCall) {
	if len(call.Arguments) > 0 && string(call.Arguments) != "{}" {
		a.fallback[index] = call.Arguments
	}
	call.Arguments = nil
	a.calls[index] = call
}

func (a *toolCallAccumulator) Append(index int64, partial string) {
	if partial == "" {
		return
	}
	builder := a.partial[index]
	if builder == nil {
		builder = &strings.Builder{}
		a.partial[index] = builder
	}
	builder.WriteString(partial)
}

func (a *toolCallAccumulator) Finish(index int64) (ToolCall, bool) {
	call, ok := a.calls[index]
	if !ok {
		return ToolCall{}, false
	}
	switch {
	case a.partial[index] != nil && a.partial[index].Len() > 0:
		call.Arguments = json.RawMessage(a.partial[index].String())
	case a.fallback[index] != nil:
		call.Arguments = a.fallback[index]
	default:
		call.Arguments = json.RawMessage("{}")
	}
	delete(a.calls, index)
	delete(a.partial, index)
	delete(a.fallback, index)
	return call, true
}

func maxTokens(requested, fallback int) int64 {
	if requested > 0 {
		return int64(requested)
	}
	return int64(fallback)
}
