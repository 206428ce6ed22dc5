package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// MockTurn is one scripted model response.
type MockTurn struct {
	Events []Event
	// OpenErr fails the request before any event is produced.
	OpenErr error
	// RecvErr is returned after all Events were read.
	RecvErr error
}

// MockProvider replays scripted turns, one per request, and records every
// request it receives.
type MockProvider struct {
	name         string
	capabilities Capabilities

	mu       sync.Mutex
	turns    []MockTurn
	Requests []Request
}

func NewMockProvider(name string) *MockProvider {
	return &MockProvider{
		name:         name,
		capabilities: Capabilities{ToolCalls: true},
	}
}

func (m *MockProvider) WithCapabilities(caps Capabilities) *MockProvider {
	m.capabilities = caps
	return m
}

func (m *MockProvider) Name() string               { return m.name }
func (m *MockProvider) Capabilities() Capabilities { return m.capabilities }

// AddTurn scripts the next response.
func (m *MockProvider) AddTurn(turn MockTurn) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, turn)
	return m
}

// AddTextResponse scripts a response that streams text word by word and
// finishes with a usage event.
func (m *MockProvider) AddTextResponse(text string) *MockProvider {
	var events []Event
	words := strings.SplitAfter(text, " ")
	for _, w := range words {
		if w != "" {
			events = append(events, Event{Text: w})
		}
	}
	events = append(events, Event{Usage: &Usage{InputTokens: 10, OutputTokens: len(words), TotalTokens: 10 + len(words)}})
	return m.AddTurn(MockTurn{Events: events})
}

// AddToolCall scripts a response holding a single tool call.
func (m *MockProvider) AddToolCall(id, name string, args any) *MockProvider {
	raw, err := json.Marshal(args)
	if err != nil {
		panic(fmt.Sprintf("mock tool call args: %v", err))
	}
	return m.AddTurn(MockTurn{Events: []Event{{
		ToolCalls: []ToolCall{{ID: id, Name: name, Arguments: raw}},
		Usage:     &Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}}})
}

// AddError scripts a request that fails to open.
func (m *MockProvider) AddError(err error) *MockProvider {
	return m.AddTurn(MockTurn{OpenErr: err})
}

// Remaining reports how many scripted turns have not been consumed.
func (m *MockProvider) Remaining() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.turns)
}

func (m *MockProvider) next(req Request) (MockTurn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Requests = append(m.Requests, req)
	if len(m.turns) == 0 {
		return MockTurn{}, errors.New("mock provider: no scripted turns left")
	}
	turn := m.turns[0]
	m.turns = m.turns[1:]
	return turn, nil
}

func (m *MockProvider) Stream(ctx context.Context, req Request) (Stream, error) {
	turn, err := m.next(req)
	if err != nil {
		return nil, err
	}
	if turn.OpenErr != nil {
		return nil, turn.OpenErr
	}
	return &sliceStream{events: turn.Events, err: turn.RecvErr}, nil
}

// Generate collapses the scripted events into one response.
func (m *MockProvider) Generate(ctx context.Context, req Request) (Event, error) {
	turn, err := m.next(req)
	if err != nil {
		return Event{}, err
	}
	if turn.OpenErr != nil {
		return Event{}, turn.OpenErr
	}
	if turn.RecvErr != nil {
		return Event{}, turn.RecvErr
	}
	var out Event
	var text strings.Builder
	for _, e := range turn.Events {
		text.WriteString(e.Text)
		out.ToolCalls = append(out.ToolCalls, e.ToolCalls...)
		if e.Usage != nil {
			out.Usage = e.Usage
		}
		if len(e.Grounding) > 0 {
			out.Grounding = e.Grounding
		}
	}
	out.Text = text.String()
	return out, nil
}
