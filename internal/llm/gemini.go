package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"strings"
	"sync"

	"google.golang.org/genai"
)

const gemmaTurnTemplate = "<start_of_turn>user\n%s<end_of_turn>\n<start_of_turn>user\n%s<end_of_turn>"

// GeminiProvider implements Provider using the Google Gemini API.
type GeminiProvider struct {
	apiKey  string
	baseURL string
	model   string

	mu     sync.Mutex
	client *genai.Client
}

func NewGeminiProvider(apiKey, baseURL, model string) *GeminiProvider {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiProvider{apiKey: apiKey, baseURL: baseURL, model: model}
}

func (p *GeminiProvider) Name() string {
	return fmt.Sprintf("Gemini (%s)", p.model)
}

func (p *GeminiProvider) Capabilities() Capabilities {
	return Capabilities{
		NativeWebSearch: true,
		ToolCalls:       true,
		FileReferences:  true,
	}
}

// Client returns the shared SDK client, creating it on first use.
func (p *GeminiProvider) Client(ctx context.Context) (*genai.Client, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return p.client, nil
	}
	cfg := &genai.ClientConfig{APIKey: p.apiKey, Backend: genai.BackendGeminiAPI}
	if p.baseURL != "" {
		cfg.HTTPOptions = genai.HTTPOptions{BaseURL: p.baseURL}
	}
	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	p.client = client
	return client, nil
}

func (p *GeminiProvider) prepare(ctx context.Context, req Request) (*genai.Client, string, []*genai.Content, *genai.GenerateContentConfig, error) {
	client, err := p.Client(ctx)
	if err != nil {
		return nil, "", nil, nil, err
	}
	model := chooseModel(req.Model, p.model)
	contents := buildGeminiContents(req.Messages)
	if len(contents) == 0 {
		return nil, "", nil, nil, fmt.Errorf("no user content provided")
	}

	config := &genai.GenerateContentConfig{
		Temperature:    req.Temperature,
		TopP:           req.TopP,
		SafetySettings: geminiSafetySettings(model, req.SafetyThreshold),
	}
	if req.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}
	if req.System != "" {
		if isGemmaModel(model) {
			foldGemmaSystemPrompt(contents, req.System)
		} else {
			config.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
		}
	}
	if req.Search {
		config.Tools = append(config.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
	}
	if len(req.Tools) > 0 {
		config.Tools = append(config.Tools, buildGeminiTools(req.Tools)...)
	}
	return client, model, contents, config, nil
}

// Stream opens a streamed completion. The first response is read eagerly so
// that connection and request errors surface here rather than on Recv.
func (p *GeminiProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	client, model, contents, config, err := p.prepare(ctx, req)
	if err != nil {
		return nil, err
	}
	next, stop := iter.Pull2(client.Models.GenerateContentStream(ctx, model, contents, config))
	s := &geminiStream{next: next, stop: stop}
	first, err, ok := next()
	if err != nil {
		stop()
		return nil, fmt.Errorf("gemini API error: %w", err)
	}
	if ok {
		s.pending = first
	} else {
		s.finished = true
	}
	return s, nil
}

func (p *GeminiProvider) Generate(ctx context.Context, req Request) (Event, error) {
	client, model, contents, config, err := p.prepare(ctx, req)
	if err != nil {
		return Event{}, err
	}
	resp, err := client.Models.GenerateContent(ctx, model, contents, config)
	if err != nil {
		return Event{}, fmt.Errorf("gemini API error: %w", err)
	}
	return geminiEvent(resp), nil
}

type geminiStream struct {
	next     func() (*genai.GenerateContentResponse, error, bool)
	stop     func()
	pending  *genai.GenerateContentResponse
	finished bool
}

func (s *geminiStream) Recv() (Event, error) {
	if s.pending != nil {
		resp := s.pending
		s.pending = nil
		return geminiEvent(resp), nil
	}
	if s.finished {
		return Event{}, io.EOF
	}
	resp, err, ok := s.next()
	if !ok {
		s.finished = true
		return Event{}, io.EOF
	}
	if err != nil {
		s.finished = true
		return Event{}, fmt.Errorf("gemini streaming error: %w", err)
	}
	return geminiEvent(resp), nil
}

func (s *geminiStream) Close() error {
	s.finished = true
	s.stop()
	return nil
}

// geminiEvent flattens one response into an Event. Thought parts are
// skipped; their signature is carried on the following function call.
func geminiEvent(resp *genai.GenerateContentResponse) Event {
	var event Event
	if resp == nil {
		return event
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		cand := resp.Candidates[0]
		if cand.Content != nil {
			var text strings.Builder
			var lastThoughtSig []byte
			for _, part := range cand.Content.Parts {
				if part == nil {
					continue
				}
				if part.Thought {
					if len(part.ThoughtSignature) > 0 {
						lastThoughtSig = part.ThoughtSignature
					}
					continue
				}
				text.WriteString(part.Text)
				if part.FunctionCall != nil {
					args, _ := json.Marshal(part.FunctionCall.Args)
					sig := part.ThoughtSignature
					if sig == nil {
						sig = lastThoughtSig
					}
					event.ToolCalls = append(event.ToolCalls, ToolCall{
						ID:         part.FunctionCall.ID,
						Name:       part.FunctionCall.Name,
						Arguments:  args,
						ThoughtSig: sig,
					})
				}
			}
			event.Text = text.String()
		}
		if cand.GroundingMetadata != nil {
			if raw, err := json.Marshal(cand.GroundingMetadata); err == nil {
				event.Grounding = raw
			}
		}
	}
	if resp.UsageMetadata != nil {
		event.Usage = &Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
			TotalTokens:  int(resp.UsageMetadata.TotalTokenCount),
		}
	}
	return event
}

func isGemmaModel(model string) bool {
	return strings.Contains(strings.ToLower(model), "gemma")
}

// foldGemmaSystemPrompt inlines the system prompt into the first user turn.
// Gemma rejects system instructions. The prompt is folded in only when the
// ask opens the conversation; tool-call rounds that follow it keep the fold
// so follow-up requests carry the prompt too.
func foldGemmaSystemPrompt(contents []*genai.Content, system string) {
	if len(contents) == 0 || contents[0].Role != genai.RoleUser {
		return
	}
	for _, content := range contents[1:] {
		if !isToolExchange(content) {
			return
		}
	}
	for _, part := range contents[0].Parts {
		if part.Text != "" {
			part.Text = fmt.Sprintf(gemmaTurnTemplate, system, part.Text)
			return
		}
	}
}

// isToolExchange reports whether content only carries function calls or
// function responses.
func isToolExchange(content *genai.Content) bool {
	if len(content.Parts) == 0 {
		return false
	}
	for _, part := range content.Parts {
		if part.FunctionCall == nil && part.FunctionResponse == nil {
			return false
		}
	}
	return true
}

var geminiSafetyCategories = []genai.HarmCategory{
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryHarassment,
	genai.HarmCategoryDangerousContent,
	genai.HarmCategoryCivicIntegrity,
}

// geminiSafetySettings applies one threshold to every category. An empty
// threshold disables blocking; the experimental 2.0 flash model only
// accepts OFF for that.
func geminiSafetySettings(model, threshold string) []*genai.SafetySetting {
	t := genai.HarmBlockThreshold(threshold)
	if threshold == "" {
		t = genai.HarmBlockThresholdBlockNone
		if model == "gemini-2.0-flash-exp" {
			t = genai.HarmBlockThresholdOff
		}
	}
	settings := make([]*genai.SafetySetting, 0, len(geminiSafetyCategories))
	for _, category := range geminiSafetyCategories {
		settings = append(settings, &genai.SafetySetting{Category: category, Threshold: t})
	}
	return settings
}

func buildGeminiTools(specs []ToolSpec) []*genai.Tool {
	decls := make([]*genai.FunctionDeclaration, 0, len(specs))
	for _, spec := range specs {
		decls = append(decls, &genai.FunctionDeclaration{
			Name:        spec.Name,
			Description: spec.Description,
			Parameters:  schemaToGenai(spec.Schema),
		})
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

func buildGeminiContents(messages []Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, msg := range messages {
		role := genai.RoleUser
		if msg.Role == RoleAssistant {
			role = genai.RoleModel
		}
		if content := buildGeminiContent(role, msg.Parts); content != nil {
			contents = append(contents, content)
		}
	}
	return contents
}

func buildGeminiContent(role string, parts []Part) *genai.Content {
	content := &genai.Content{Role: role}
	for _, part := range parts {
		switch part.Type {
		case PartText:
			if part.Text != "" {
				content.Parts = append(content.Parts, &genai.Part{Text: part.Text})
			}
		case PartInlineData:
			if part.InlineData != nil {
				content.Parts = append(content.Parts, &genai.Part{InlineData: &genai.Blob{
					MIMEType: part.InlineData.MIMEType,
					Data:     part.InlineData.Data,
				}})
			}
		case PartFileRef:
			if part.FileRef != nil {
				content.Parts = append(content.Parts, &genai.Part{FileData: &genai.FileData{
					FileURI:  part.FileRef.URI,
					MIMEType: part.FileRef.MIMEType,
				}})
			}
		case PartToolCall:
			if part.ToolCall == nil {
				continue
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   part.ToolCall.ID,
					Name: part.ToolCall.Name,
					Args: toolArgsToMap(part.ToolCall.Arguments),
				},
				ThoughtSignature: part.ToolCall.ThoughtSig,
			})
		case PartToolResult:
			if part.ToolResult == nil {
				continue
			}
			key := "output"
			if part.ToolResult.IsError {
				key = "error"
			}
			content.Parts = append(content.Parts, &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       part.ToolResult.ID,
					Name:     part.ToolResult.Name,
					Response: map[string]any{key: part.ToolResult.Content},
				},
				ThoughtSignature: part.ToolResult.ThoughtSig,
			})
		}
	}
	if len(content.Parts) == 0 {
		return nil
	}
	return content
}

func toolArgsToMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal(raw, &args); err == nil {
		return args
	}
	return map[string]any{"_raw": string(raw)}
}
