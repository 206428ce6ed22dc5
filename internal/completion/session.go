package completion

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/samsaffron/chatstream/internal/chat"
	"github.com/samsaffron/chatstream/internal/config"
	"github.com/samsaffron/chatstream/internal/llm"
	"github.com/samsaffron/chatstream/internal/tracer"
)

// Assistant holds the model and generation settings for a session.
type Assistant struct {
	Model           string
	Prompt          string
	ContextCount    int
	MaxTokens       int
	Temperature     *float32
	TopP            *float32
	StreamOutput    bool
	EnableWebSearch bool
	SafetyThreshold string
}

// AssistantFromConfig builds an Assistant from the assistant config section.
func AssistantFromConfig(cfg config.AssistantConfig, model string) Assistant {
	return Assistant{
		Model:           model,
		Prompt:          cfg.Prompt,
		ContextCount:    cfg.ContextCount,
		MaxTokens:       cfg.MaxTokens,
		Temperature:     cfg.Temperature,
		TopP:            cfg.TopP,
		StreamOutput:    cfg.StreamOutput,
		EnableWebSearch: cfg.EnableWebSearch,
		SafetyThreshold: cfg.SafetyThreshold,
	}
}

// CompletionsParams describes one ask.
type CompletionsParams struct {
	// Messages is the whole conversation; the last message is answered.
	Messages  []chat.Message
	Assistant Assistant
	// Tools is every tool the caller knows; the current message's
	// EnabledTools selects which of them the model sees.
	Tools []llm.Tool
	// OnChunk receives chunks in order, on the goroutine that called
	// Completions.
	OnChunk func(StreamChunk)
	// OnFilteredMessages receives the messages that will be sent, before
	// the request is made.
	OnFilteredMessages func([]chat.Message)
}

// Session runs completions against one provider. A Session may serve many
// asks concurrently; asks share nothing but the cancellation registry.
type Session struct {
	provider llm.Provider
	encoder  *chat.Encoder
	registry *Registry
	logger   *slog.Logger
	now      func() time.Time
	maxDepth int
}

type Option func(*Session)

func WithEncoder(encoder *chat.Encoder) Option {
	return func(s *Session) { s.encoder = encoder }
}

func WithRegistry(registry *Registry) Option {
	return func(s *Session) { s.registry = registry }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithClock replaces time.Now for metrics.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithMaxDepth caps tool-call recursion. Zero means no cap.
func WithMaxDepth(depth int) Option {
	return func(s *Session) { s.maxDepth = depth }
}

func NewSession(provider llm.Provider, opts ...Option) *Session {
	s := &Session{
		provider: provider,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.encoder == nil {
		s.encoder = chat.NewEncoder()
	}
	if s.registry == nil {
		s.registry = NewRegistry()
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Registry returns the cancellation registry, keyed by message ID.
func (s *Session) Registry() *Registry {
	return s.registry
}

// Completions answers the last message of p.Messages, delivering output
// through p.OnChunk until the model stops calling tools. Cancelling ctx or
// the message's token ends the ask early and returns a nil error.
func (s *Session) Completions(ctx context.Context, p CompletionsParams) (Summary, error) {
	history, err := chat.BuildHistory(p.Messages, p.Assistant.ContextCount)
	if err != nil {
		return Summary{}, err
	}
	if p.OnFilteredMessages != nil {
		p.OnFilteredMessages(history.Messages())
	}

	ctx, span := tracer.StartSpan(ctx, "completion.session", trace.WithAttributes(
		tracer.StringAttr("provider", s.provider.Name()),
		tracer.StringAttr("model", p.Assistant.Model),
		tracer.StringAttr("message_id", history.Current.ID),
		tracer.BoolAttr("stream", p.Assistant.StreamOutput),
	))
	defer span.End()

	token, cleanup := s.registry.Register(ctx, history.Current.ID)
	defer cleanup()
	ctx = token.Context()

	turns, err := s.encoder.EncodeAll(ctx, history.Messages())
	if err != nil {
		if token.Cancelled() {
			return Summary{}, nil
		}
		tracer.RecordError(span, err)
		return Summary{}, err
	}

	caps := s.provider.Capabilities()
	tools := llm.NewToolRegistry()
	if caps.ToolCalls {
		tools = llm.NewToolRegistry(llm.FilterTools(p.Tools, history.Current.EnabledTools)...)
	}

	req := llm.Request{
		Model:           p.Assistant.Model,
		System:          p.Assistant.Prompt,
		Search:          p.Assistant.EnableWebSearch && caps.NativeWebSearch,
		MaxOutputTokens: p.Assistant.MaxTokens,
		Temperature:     p.Assistant.Temperature,
		TopP:            p.Assistant.TopP,
		SafetyThreshold: p.Assistant.SafetyThreshold,
	}
	if tools.Len() > 0 {
		req.Tools = tools.AllSpecs()
	}

	metrics := newTracker(s.now)
	r := &run{
		session: s,
		req:     req,
		history: turns,
		tools:   tools,
		token:   token,
		metrics: metrics,
		emitter: newEmitter(token, metrics, p.OnChunk),
	}

	errc := make(chan error, 1)
	go func() {
		defer r.emitter.close()
		if p.Assistant.StreamOutput {
			errc <- r.stream(ctx)
		} else {
			errc <- r.generate(ctx, 0, "")
		}
	}()
	r.emitter.drain()
	// The producer observes the token at every blocking point, so this
	// returns promptly after a cancel and the open streams are closed.
	err = <-errc

	if token.Cancelled() {
		s.logger.Debug("completion cancelled", "message_id", history.Current.ID)
		return metrics.finish(), nil
	}
	if err != nil {
		tracer.RecordError(span, err)
		return metrics.finish(), err
	}
	return metrics.finish(), nil
}

// run is the state of one ask. Everything except the tracker and the
// emitter is touched only by the producer goroutine.
type run struct {
	session *Session
	req     llm.Request
	history []llm.Message
	tools   *llm.ToolRegistry
	token   *Token
	metrics *tracker
	emitter *emitter
	// calls counts tool calls per correlation index.
	calls map[string]int
}

type resolvedCall struct {
	call llm.ToolCall
	tool llm.Tool
}

func (r *run) request() llm.Request {
	req := r.req
	req.Messages = slices.Clone(r.history)
	return req
}

func (r *run) stream(ctx context.Context) error {
	stream, err := r.session.provider.Stream(ctx, r.request())
	if err != nil {
		if r.token.Cancelled() {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrDependencyUnavailable, err)
	}
	return r.consume(ctx, stream, 0)
}

// consume relays one stream. A tool-calling event runs its tools and
// recurses into the follow-up stream before the rest of this stream is read.
func (r *run) consume(ctx context.Context, stream llm.Stream, depth int) error {
	defer stream.Close()
	ctx, span := tracer.StartSpan(ctx, "completion.turn", trace.WithAttributes(tracer.IntAttr("depth", depth)))
	defer span.End()

	var final Usage
	defer func() { r.metrics.endTurn(final) }()

	for {
		if r.token.Cancelled() {
			return nil
		}
		event, err := stream.Recv()
		if r.token.Cancelled() {
			return nil
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			tracer.RecordError(span, err)
			return fmt.Errorf("%w: %w", ErrStreamInterrupted, err)
		}

		r.metrics.markFirstToken()
		if event.Usage != nil {
			final = usageFrom(event.Usage)
		}

		calls := r.resolve(event.ToolCalls, depth)
		if len(calls) == 0 {
			if !r.emitter.emit(r.chunk(event, r.metrics.statusSnapshot(), true)) {
				return nil
			}
			continue
		}

		if !r.callTools(ctx, event, calls, depth, true) {
			return nil
		}
		nested, err := r.session.provider.Stream(ctx, r.request())
		if err != nil {
			if r.token.Cancelled() {
				return nil
			}
			tracer.RecordError(span, err)
			return fmt.Errorf("%w: open follow-up request: %w", ErrStreamInterrupted, err)
		}
		if err := r.consume(ctx, nested, depth+1); err != nil {
			return err
		}
	}
}

// generate performs the single-shot flow. Tool calls are answered with
// further single-shot requests; the text of every response is delivered
// in one chunk at the end.
func (r *run) generate(ctx context.Context, depth int, text string) error {
	ctx, span := tracer.StartSpan(ctx, "completion.turn", trace.WithAttributes(tracer.IntAttr("depth", depth)))
	defer span.End()

	event, err := r.session.provider.Generate(ctx, r.request())
	if err != nil {
		if r.token.Cancelled() {
			return nil
		}
		tracer.RecordError(span, err)
		if depth == 0 {
			return fmt.Errorf("%w: %w", ErrDependencyUnavailable, err)
		}
		return fmt.Errorf("%w: follow-up request: %w", ErrStreamInterrupted, err)
	}
	usage := usageFrom(event.Usage)
	r.metrics.endTurn(usage)
	if r.token.Cancelled() {
		return nil
	}

	text += event.Text
	if calls := r.resolve(event.ToolCalls, depth); len(calls) > 0 {
		if !r.callTools(ctx, event, calls, depth, false) {
			return nil
		}
		return r.generate(ctx, depth+1, text)
	}

	chunk := StreamChunk{
		Text:         text,
		Usage:        usage,
		Metrics:      r.metrics.metrics(usage.CompletionTokens),
		ToolStatuses: r.metrics.statusSnapshot(),
		Search:       event.Grounding,
	}
	chunk.Metrics.TimeFirstTokenMs = 0
	r.emitter.emit(chunk)
	return nil
}

// resolve maps calls to registered tools. Calls naming unknown tools are
// dropped with a log line and leave no trace in the conversation.
func (r *run) resolve(calls []llm.ToolCall, depth int) []resolvedCall {
	if len(calls) == 0 {
		return nil
	}
	if limit := r.session.maxDepth; limit > 0 && depth >= limit {
		r.session.logger.Warn("tool call depth limit reached, ignoring calls", "depth", depth, "calls", len(calls))
		return nil
	}
	resolved := make([]resolvedCall, 0, len(calls))
	for _, call := range calls {
		tool, ok := r.tools.Resolve(call)
		if !ok {
			r.session.logger.Warn("model called unknown tool", "tool", call.Name, "depth", depth)
			continue
		}
		resolved = append(resolved, resolvedCall{call: call, tool: tool})
	}
	return resolved
}

// callTools runs resolved calls in order, emitting an invoking and a done
// status for each, then appends the call turn and the result turn to the
// history. It returns false if the session was cancelled on the way.
func (r *run) callTools(ctx context.Context, event llm.Event, calls []resolvedCall, depth int, carryText bool) bool {
	executed := make([]llm.ToolCall, 0, len(calls))
	results := make([]llm.ToolResult, 0, len(calls))

	for _, rc := range calls {
		if r.token.Cancelled() {
			return false
		}
		status := ToolStatus{
			ID:     r.correlationID(rc.call.Name, depth),
			Tool:   rc.call.Name,
			Status: ToolInvoking,
		}
		if !r.emitter.emit(r.chunk(event, r.metrics.upsertStatus(status), carryText)) {
			return false
		}
		carryText = false

		outcome, ok := r.invoke(ctx, rc, depth)
		if !ok {
			return false
		}
		r.metrics.toolCall()

		status.Status = ToolDone
		status.Response = outcome.Content
		status.IsError = outcome.IsError
		if !r.emitter.emit(r.chunk(event, r.metrics.upsertStatus(status), false)) {
			return false
		}

		executed = append(executed, rc.call)
		results = append(results, llm.ToolResult{
			ID:         rc.call.ID,
			Name:       rc.call.Name,
			Content:    outcome.Content,
			IsError:    outcome.IsError,
			ThoughtSig: rc.call.ThoughtSig,
		})
	}

	r.history = append(r.history, llm.ToolCallMessage(executed), llm.ToolResultMessage(results))
	return true
}

// correlationID is "<name>-<depth>" for the first call of a tool at a depth.
// Later calls of that tool at the same depth get a "-<n>" suffix.
func (r *run) correlationID(name string, depth int) string {
	id := fmt.Sprintf("%s-%d", name, depth)
	if r.calls == nil {
		r.calls = make(map[string]int)
	}
	n := r.calls[id]
	r.calls[id] = n + 1
	if n == 0 {
		return id
	}
	return fmt.Sprintf("%s-%d", id, n)
}

// invoke runs a tool on its own goroutine so that cancellation does not
// wait for it. An abandoned invocation keeps running and its result is
// discarded.
func (r *run) invoke(ctx context.Context, rc resolvedCall, depth int) (llm.ToolOutcome, bool) {
	done := make(chan llm.ToolOutcome, 1)
	go func() {
		ctx, span := tracer.StartSpan(context.WithoutCancel(ctx), "tool.invoke", trace.WithAttributes(
			tracer.StringAttr("tool", rc.call.Name),
			tracer.IntAttr("depth", depth),
		))
		defer span.End()
		outcome := llm.Invoke(ctx, rc.tool, rc.call.Arguments)
		if outcome.IsError {
			tracer.RecordError(span, errors.New(outcome.Content))
		}
		done <- outcome
	}()

	select {
	case outcome := <-done:
		return outcome, true
	case <-r.token.Done():
		return llm.ToolOutcome{}, false
	}
}

func (r *run) chunk(event llm.Event, statuses []ToolStatus, withText bool) StreamChunk {
	usage := usageFrom(event.Usage)
	chunk := StreamChunk{
		Usage:        usage,
		Metrics:      r.metrics.metrics(usage.CompletionTokens),
		ToolStatuses: statuses,
	}
	if withText {
		chunk.Text = event.Text
		chunk.Search = event.Grounding
	}
	return chunk
}
