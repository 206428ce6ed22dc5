package llm

import (
	"context"
	"errors"
	"io"
	"testing"
)

func drain(t *testing.T, stream Stream) []Event {
	t.Helper()
	defer stream.Close()
	var events []Event
	for {
		event, err := stream.Recv()
		if err == io.EOF {
			return events
		}
		if err != nil {
			t.Fatalf("Recv() error = %v", err)
		}
		events = append(events, event)
	}
}

func TestMockProvider_BasicInfo(t *testing.T) {
	p := NewMockProvider("test-mock")

	if got := p.Name(); got != "test-mock" {
		t.Errorf("Name() = %q, want %q", got, "test-mock")
	}

	// Default capabilities should have ToolCalls enabled
	caps := p.Capabilities()
	if !caps.ToolCalls {
		t.Error("expected ToolCalls to be true by default")
	}
}

func TestMockProvider_WithCapabilities(t *testing.T) {
	p := NewMockProvider("test").WithCapabilities(Capabilities{
		NativeWebSearch: true,
		ToolCalls:       false,
	})

	caps := p.Capabilities()
	if !caps.NativeWebSearch {
		t.Error("expected NativeWebSearch to be true")
	}
	if caps.ToolCalls {
		t.Error("expected ToolCalls to be false")
	}
}

func TestMockProvider_StreamTextResponse(t *testing.T) {
	p := NewMockProvider("test")
	p.AddTextResponse("Hello, world!")

	stream, err := p.Stream(context.Background(), Request{
		Messages: []Message{userText("Hi")},
	})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}

	var text string
	var gotUsage bool
	for _, event := range drain(t, stream) {
		text += event.Text
		if event.Usage != nil {
			gotUsage = true
		}
	}

	if text != "Hello, world!" {
		t.Errorf("text = %q, want %q", text, "Hello, world!")
	}
	if !gotUsage {
		t.Error("expected a usage event")
	}
	if len(p.Requests) != 1 || p.Requests[0].Messages[0].Parts[0].Text != "Hi" {
		t.Errorf("recorded requests = %+v", p.Requests)
	}
}

func TestMockProvider_StreamToolCall(t *testing.T) {
	p := NewMockProvider("test")
	p.AddToolCall("call-1", "read_file", map[string]string{"path": "main.go"})

	stream, err := p.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	events := drain(t, stream)
	if len(events) != 1 || len(events[0].ToolCalls) != 1 {
		t.Fatalf("events = %+v", events)
	}
	call := events[0].ToolCalls[0]
	if call.ID != "call-1" || call.Name != "read_file" || string(call.Arguments) != `{"path":"main.go"}` {
		t.Errorf("call = %+v", call)
	}
}

func TestMockProvider_MultiTurn(t *testing.T) {
	p := NewMockProvider("test").
		AddToolCall("c1", "search", map[string]string{"q": "go"}).
		AddTextResponse("Found it")

	for i, want := range []string{"", "Found it"} {
		stream, err := p.Stream(context.Background(), Request{})
		if err != nil {
			t.Fatalf("turn %d: Stream() error = %v", i, err)
		}
		var text string
		for _, event := range drain(t, stream) {
			text += event.Text
		}
		if text != want {
			t.Errorf("turn %d text = %q, want %q", i, text, want)
		}
	}
	if p.Remaining() != 0 {
		t.Errorf("Remaining() = %d, want 0", p.Remaining())
	}
}

func TestMockProvider_NoMoreTurns(t *testing.T) {
	p := NewMockProvider("test")
	if _, err := p.Stream(context.Background(), Request{}); err == nil {
		t.Fatal("expected an error without scripted turns")
	}
}

func TestMockProvider_Error(t *testing.T) {
	want := errors.New("connection refused")
	p := NewMockProvider("test").AddError(want)
	if _, err := p.Stream(context.Background(), Request{}); !errors.Is(err, want) {
		t.Fatalf("Stream() error = %v, want %v", err, want)
	}

	p.AddTurn(MockTurn{Events: []Event{{Text: "partial"}}, RecvErr: want})
	stream, err := p.Stream(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer stream.Close()
	if event, err := stream.Recv(); err != nil || event.Text != "partial" {
		t.Fatalf("first Recv() = %+v, %v", event, err)
	}
	if _, err := stream.Recv(); !errors.Is(err, want) {
		t.Fatalf("second Recv() error = %v, want %v", err, want)
	}
}

func TestMockProvider_Generate(t *testing.T) {
	p := NewMockProvider("test").AddTextResponse("one two")
	event, err := p.Generate(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if event.Text != "one two" || event.Usage == nil || event.Usage.OutputTokens != 2 {
		t.Errorf("event = %+v", event)
	}
}

func TestSliceStream_CloseStopsRecv(t *testing.T) {
	s := &sliceStream{events: []Event{{Text: "a"}, {Text: "b"}}}
	if _, err := s.Recv(); err != nil {
		t.Fatal(err)
	}
	s.Close()
	if _, err := s.Recv(); err != io.EOF {
		t.Errorf("Recv() after Close = %v, want EOF", err)
	}
}
