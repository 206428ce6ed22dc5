package llm

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/ssestream"
)

// OpenAIProvider implements Provider on the Chat Completions API, which also
// covers OpenAI-compatible endpoints reached through a base URL.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

func NewOpenAIProvider(apiKey, baseURL, model string) *OpenAIProvider {
	if model == "" {
		model = "gpt-4.1-mini"
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	client := openai.NewClient(opts...)
	return &OpenAIProvider{client: &client, model: model}
}

func (p *OpenAIProvider) Name() string {
	return fmt.Sprintf("OpenAI (%s)", p.model)
}

func (p *OpenAIProvider) Capabilities() Capabilities {
	return Capabilities{ToolCalls: true}
}

func (p *OpenAIProvider) params(req Request) openai.ChatCompletionNewParams {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(chooseModel(req.Model, p.model)),
		Messages: buildOpenAIMessages(req.System, req.Messages),
	}
	if len(req.Tools) > 0 {
		params.Tools = buildOpenAITools(req.Tools)
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(float64(*req.Temperature))
	}
	if req.TopP != nil {
		params.TopP = openai.Float(float64(*req.TopP))
	}
	return params
}

func (p *OpenAIProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	params := p.params(req)
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	if err := stream.Err(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("openai API error: %w", err)
	}
	return &openAIStream{stream: stream, calls: make(map[int64]*ToolCall)}, nil
}

func (p *OpenAIProvider) Generate(ctx context.Context, req Request) (Event, error) {
	resp, err := p.client.Chat.Completions.New(ctx, p.params(req))
	if err != nil {
		return Event{}, fmt.Errorf("openai API error: %w", err)
	}
	var event Event
	if len(resp.Choices) > 0 {
		msg := resp.Choices[0].Message
		event.Text = msg.Content
		for _, tc := range msg.ToolCalls {
			event.ToolCalls = append(event.ToolCalls, ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: []byte(tc.Function.Arguments),
			})
		}
	}
	if resp.Usage.TotalTokens > 0 {
		event.Usage = &Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
			TotalTokens:  int(resp.Usage.TotalTokens),
		}
	}
	return event, nil
}

// openAIStream turns chat completion chunks into events. Tool call
// fragments are accumulated by index and released together once the choice
// reports a finish reason.
type openAIStream struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	calls  map[int64]*ToolCall
	args   map[int64]*strings.Builder
	done   bool
}

func (s *openAIStream) Recv() (Event, error) {
	for !s.done {
		if !s.stream.Next() {
			s.done = true
			if err := s.stream.Err(); err != nil {
				return Event{}, fmt.Errorf("openai streaming error: %w", err)
			}
			if calls := s.flushCalls(); len(calls) > 0 {
				return Event{ToolCalls: calls}, nil
			}
			break
		}
		chunk := s.stream.Current()
		var event Event
		if chunk.Usage.TotalTokens > 0 {
			event.Usage = &Usage{
				InputTokens:  int(chunk.Usage.PromptTokens),
				OutputTokens: int(chunk.Usage.CompletionTokens),
				TotalTokens:  int(chunk.Usage.TotalTokens),
			}
		}
		if len(chunk.Choices) > 0 {
			choice := chunk.Choices[0]
			event.Text = choice.Delta.Content
			for _, tc := range choice.Delta.ToolCalls {
				s.appendCall(tc.Index, tc.ID, tc.Function.Name, tc.Function.Arguments)
			}
			if choice.FinishReason != "" {
				event.ToolCalls = s.flushCalls()
			}
		}
		if !event.Empty() {
			return event, nil
		}
	}
	return Event{}, io.EOF
}

func (s *openAIStream) appendCall(index int64, id, name, fragment string) {
	if s.args == nil {
		s.args = make(map[int64]*strings.Builder)
	}
	call, ok := s.calls[index]
	if !ok {
		call = &ToolCall{}
		s.calls[index] = call
		s.args[index] = &strings.Builder{}
	}
	if id != "" {
		call.ID = id
	}
	if name != "" {
		call.Name = name
	}
	s.args[index].WriteString(fragment)
}

func (s *openAIStream) flushCalls() []ToolCall {
	if len(s.calls) == 0 {
		return nil
	}
	indexes := make([]int64, 0, len(s.calls))
	for idx := range s.calls {
		indexes = append(indexes, idx)
	}
	sort.Slice(indexes, func(i, j int) bool { return indexes[i] < indexes[j] })
	calls := make([]ToolCall, 0, len(indexes))
	for _, idx := range indexes {
		call := *s.calls[idx]
		if args := s.args[idx].String(); args != "" {
			call.Arguments = []byte(args)
		} else {
			call.Arguments = []byte("{}")
		}
		calls = append(calls, call)
	}
	s.calls = make(map[int64]*ToolCall)
	s.args = nil
	return calls
}

func (s *openAIStream) Close() error {
	s.done = true
	return s.stream.Close()
}

func buildOpenAIMessages(system string, messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages)+1)
	if system != "" {
		out = append(out, openai.SystemMessage(system))
	}
	for _, msg := range messages {
		switch msg.Role {
		case RoleUser:
			out = append(out, buildOpenAIUserMessage(msg.Parts))
		case RoleAssistant:
			out = append(out, buildOpenAIAssistantMessage(msg.Parts))
		case RoleTool:
			for _, part := range msg.Parts {
				if part.Type == PartToolResult && part.ToolResult != nil {
					out = append(out, openai.ToolMessage(part.ToolResult.Content, part.ToolResult.ID))
				}
			}
		}
	}
	return out
}

func buildOpenAIUserMessage(parts []Part) openai.ChatCompletionMessageParamUnion {
	var content []openai.ChatCompletionContentPartUnionParam
	hasImage := false
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				content = append(content, openai.TextContentPart(part.Text))
			}
		case PartInlineData:
			if part.InlineData != nil && isImageMIME(part.InlineData.MIMEType) {
				hasImage = true
				content = append(content, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
					URL: dataURL(part.InlineData),
				}))
				continue
			}
			if text := attachmentPlaceholder(part); text != "" {
				content = append(content, openai.TextContentPart(text))
			}
		case PartFileRef:
			if text := attachmentPlaceholder(part); text != "" {
				content = append(content, openai.TextContentPart(text))
			}
		}
	}
	if !hasImage {
		var texts []string
		for _, part := range content {
			if part.OfText != nil {
				texts = append(texts, part.OfText.Text)
			}
		}
		return openai.UserMessage(strings.Join(texts, "\n"))
	}
	return openai.UserMessage(content)
}

func buildOpenAIAssistantMessage(parts []Part) openai.ChatCompletionMessageParamUnion {
	var assistant openai.ChatCompletionAssistantMessageParam
	if text := collectTextParts(parts); text != "" {
		assistant.Content.OfString = openai.String(text)
	}
	for _, part := range parts {
		if part.Type != PartToolCall || part.ToolCall == nil {
			continue
		}
		args := string(part.ToolCall.Arguments)
		if args == "" {
			args = "{}"
		}
		assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
			ID: part.ToolCall.ID,
			Function: openai.ChatCompletionMessageToolCallFunctionParam{
				Name:      part.ToolCall.Name,
				Arguments: args,
			},
		})
	}
	return openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant}
}

func buildOpenAITools(specs []ToolSpec) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(specs))
	for _, spec := range specs {
		schema := spec.Schema
		if schema == nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		tools = append(tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        spec.Name,
				Description: openai.String(spec.Description),
				Parameters:  openai.FunctionParameters(schema),
			},
		})
	}
	return tools
}
