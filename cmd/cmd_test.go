package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"reflect"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/samsaffron/chatstream/internal/chat"
	"github.com/samsaffron/chatstream/internal/completion"
	"github.com/samsaffron/chatstream/internal/config"
	"github.com/samsaffron/chatstream/internal/llm"
	"github.com/samsaffron/chatstream/internal/mcp"
	"github.com/samsaffron/chatstream/internal/store"
	"github.com/samsaffron/chatstream/internal/testutil"
)

func TestParseProviderFlag(t *testing.T) {
	tests := []struct {
		in, provider, model string
	}{
		{"", "", ""},
		{"openai", "openai", ""},
		{"openai:gpt-4o", "openai", "gpt-4o"},
		{":gemini-2.5-pro", "", "gemini-2.5-pro"},
		{" anthropic:claude-sonnet-4-5 ", "anthropic", "claude-sonnet-4-5"},
	}
	for _, tt := range tests {
		p, m := parseProviderFlag(tt.in)
		if p != tt.provider || m != tt.model {
			t.Errorf("parseProviderFlag(%q) = %q, %q; want %q, %q", tt.in, p, m, tt.provider, tt.model)
		}
	}
}

func TestEnabledTools(t *testing.T) {
	tools := []llm.Tool{testutil.NewMockTool("weather__forecast", "x"), testutil.NewMockTool("files__read", "y")}
	tests := []struct {
		flag string
		want []string
	}{
		{"all", []string{"weather__forecast", "files__read"}},
		{"", []string{"weather__forecast", "files__read"}},
		{"none", nil},
		{"weather, files__read,", []string{"weather", "files__read"}},
	}
	for _, tt := range tests {
		if got := enabledTools(tt.flag, tools); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("enabledTools(%q) = %v, want %v", tt.flag, got, tt.want)
		}
	}
}

func TestParseKeyValues(t *testing.T) {
	got, err := parseKeyValues([]string{"A=1", "B=x=y", "C="})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"A": "1", "B": "x=y", "C": ""}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if _, err := parseKeyValues([]string{"novalue"}); err == nil {
		t.Error("expected error without =")
	}
	if m, _ := parseKeyValues(nil); m != nil {
		t.Errorf("nil input gave %v", m)
	}
}

func TestPrinterStatusesOncePerChange(t *testing.T) {
	var buf bytes.Buffer
	p := newPrinter(&buf, false)
	invoking := completion.ToolStatus{ID: "weather-0", Tool: "weather", Status: completion.ToolInvoking}
	done := completion.ToolStatus{ID: "weather-0", Tool: "weather", Status: completion.ToolDone, Response: "sunny"}

	p.chunk(completion.StreamChunk{Text: "Let me check", ToolStatuses: []completion.ToolStatus{invoking}})
	p.chunk(completion.StreamChunk{ToolStatuses: []completion.ToolStatus{invoking}})
	p.chunk(completion.StreamChunk{ToolStatuses: []completion.ToolStatus{done}})
	p.chunk(completion.StreamChunk{Text: "It is sunny.", ToolStatuses: []completion.ToolStatus{done}})
	p.finish()

	out := buf.String()
	if n := strings.Count(out, "weather"); n != 2 {
		t.Errorf("tool mentioned %d times, want 2:\n%s", n, out)
	}
	if !strings.Contains(out, "Let me check") || !strings.HasSuffix(out, "It is sunny.\n") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestToolStatusLineShowsError(t *testing.T) {
	line := toolStatusLine(completion.ToolStatus{Tool: "files__read", Status: completion.ToolDone, IsError: true, Response: "permission denied\nat /etc"})
	if !strings.Contains(line, "files__read") || !strings.Contains(line, "permission denied") || strings.Contains(line, "/etc") {
		t.Errorf("line = %q", line)
	}
}

func newTestExchange(t *testing.T, provider llm.Provider) (*exchange, *store.SQLiteStore, *bytes.Buffer) {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "c.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	var out bytes.Buffer
	x := &exchange{
		session:    completion.NewSession(provider, completion.WithLogger(logger)),
		store:      st,
		assistant:  completion.Assistant{Model: "mock-model", ContextCount: 5, StreamOutput: true},
		provider:   "mock",
		logger:     logger,
		out:        &out,
		interrupts: func(func()) func() { return func() {} },
	}
	return x, st, &out
}

func TestExchangePersistsBothSides(t *testing.T) {
	mock := llm.NewMockProvider("mock").AddTextResponse("Hello there")
	x, st, out := newTestExchange(t, mock)
	ctx := context.Background()
	if err := x.openConversation(ctx, ""); err != nil {
		t.Fatal(err)
	}

	summary, err := x.ask(ctx, chat.NewUserMessage("hi"))
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if summary.Text != "Hello there" || out.String() != "Hello there\n" {
		t.Errorf("summary = %q, output = %q", summary.Text, out.String())
	}

	conv, err := st.Get(ctx, x.conv.ID)
	if err != nil || conv == nil {
		t.Fatalf("conversation not stored: %v", err)
	}
	if conv.Title != "hi" || conv.Status != store.StatusComplete || conv.Turns != 1 {
		t.Errorf("conversation = %+v", conv)
	}
	msgs, err := st.Messages(ctx, conv.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != chat.RoleUser || msgs[1].Content != "Hello there" {
		t.Fatalf("messages = %+v", msgs)
	}

	// A reopened conversation sends the stored history.
	mock.AddTextResponse("Again")
	if err := x.openConversation(ctx, conv.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := x.ask(ctx, chat.NewUserMessage("and again")); err != nil {
		t.Fatal(err)
	}
	last := mock.Requests[len(mock.Requests)-1]
	if len(last.Messages) != 3 {
		t.Errorf("second request carried %d messages, want 3", len(last.Messages))
	}
}

func TestExchangeUnknownConversation(t *testing.T) {
	x, _, _ := newTestExchange(t, llm.NewMockProvider("mock"))
	err := x.openConversation(context.Background(), "missing")
	if _, ok := err.(errConversationNotFound); !ok {
		t.Errorf("err = %v", err)
	}
}

func TestExchangeInterruptMarksConversation(t *testing.T) {
	mock := llm.NewMockProvider("mock").
		AddToolCall("call-1", "slow", map[string]any{}).
		AddTextResponse("never sent")
	x, st, _ := newTestExchange(t, mock)

	var interrupt func()
	x.interrupts = func(fn func()) func() {
		interrupt = fn
		return func() {}
	}
	slow := testutil.NewMockToolWithSchema("slow", "", map[string]any{"type": "object"},
		func(ctx context.Context, args json.RawMessage) (string, error) {
			interrupt()
			return "late", nil
		})
	x.tools = []llm.Tool{slow}

	ctx := context.Background()
	if err := x.openConversation(ctx, ""); err != nil {
		t.Fatal(err)
	}
	msg := chat.NewUserMessage("run it")
	msg.EnabledTools = []string{"slow"}
	if _, err := x.ask(ctx, msg); err != nil {
		t.Fatalf("interrupted ask returned %v", err)
	}

	conv, _ := st.Get(ctx, x.conv.ID)
	if conv.Status != store.StatusInterrupted {
		t.Errorf("status = %s, want interrupted", conv.Status)
	}
	if len(mock.Requests) != 1 {
		t.Errorf("follow-up request sent after interrupt: %d requests", len(mock.Requests))
	}
}

func TestChatLoopCommands(t *testing.T) {
	mock := llm.NewMockProvider("mock").AddTextResponse("first").AddTextResponse("second")
	x, _, out := newTestExchange(t, mock)
	x.tools = []llm.Tool{testutil.NewMockTool("weather__forecast", "")}
	ctx := context.Background()
	if err := x.openConversation(ctx, ""); err != nil {
		t.Fatal(err)
	}

	in := strings.NewReader("one\n\n/tools\n/clear\ntwo\n/exit\nnot sent\n")
	if err := chatLoop(ctx, x, in, out, nil); err != nil {
		t.Fatalf("chatLoop: %v", err)
	}
	if len(mock.Requests) != 2 {
		t.Fatalf("got %d requests, want 2", len(mock.Requests))
	}
	// The clear marker drops the first exchange.
	if n := len(mock.Requests[1].Messages); n != 1 {
		t.Errorf("request after /clear carried %d messages, want 1", n)
	}
	if !strings.Contains(out.String(), "weather__forecast") {
		t.Errorf("/tools output missing:\n%s", out.String())
	}
}

func TestQuestionText(t *testing.T) {
	got, err := questionText([]string{"what", "is", "go"}, "")
	if err != nil || got != "what is go" {
		t.Errorf("questionText = %q, %v", got, err)
	}
	got, err = questionText([]string{"review"}, "diff --git a b\n")
	if err != nil || got != "review\n\ndiff --git a b" {
		t.Errorf("questionText with stdin = %q, %v", got, err)
	}
	if got, _ := questionText(nil, " piped "); got != "piped" {
		t.Errorf("questionText stdin only = %q", got)
	}
	if _, err := questionText(nil, ""); err == nil {
		t.Error("expected error for empty question")
	}
}

func TestNewEncoderUsesFileStoreOnlyWithFileReferences(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(`{"error":{"code":403,"message":"denied","status":"PERMISSION_DENIED"}}`))
	}))
	defer srv.Close()
	files := llm.NewGeminiFileStore(llm.NewGeminiProvider("test-key", srv.URL, "gemini-2.5-flash"))
	cfg := config.ChatConfig{PDFInlineLimit: 4}
	msg := chat.Message{
		Role:        chat.RoleUser,
		Attachments: []chat.Attachment{{Kind: chat.KindPDF, Name: "big.pdf", Data: []byte("%PDF-1.4 body")}},
	}

	tests := []struct {
		name      string
		caps      llm.Capabilities
		files     *llm.GeminiFileStore
		wantStore bool
	}{
		{"no file references", llm.Capabilities{}, files, false},
		{"no store", llm.Capabilities{FileReferences: true}, nil, false},
		{"file references", llm.Capabilities{FileReferences: true}, files, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			hits.Store(0)
			providers := &llm.Providers{Provider: llm.NewMockProvider("mock").WithCapabilities(tc.caps), Files: tc.files}
			turn, err := newEncoder(cfg, providers).Encode(context.Background(), msg)
			if tc.wantStore {
				if !errors.Is(err, llm.ErrDependencyUnavailable) || hits.Load() == 0 {
					t.Fatalf("err = %v, hits = %d; want the file store consulted", err, hits.Load())
				}
				return
			}
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if part := turn.Parts[1]; part.Type != llm.PartInlineData {
				t.Errorf("pdf part = %+v, want inline", part)
			}
			if hits.Load() != 0 {
				t.Errorf("file store called %d times", hits.Load())
			}
		})
	}
}

func TestTestServerReportsFailure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	var out bytes.Buffer
	err := testServer(ctx, &out, "broken", mcp.ServerConfig{Command: "/nonexistent/chatstream-mcp-server"})
	if err == nil {
		t.Fatal("expected start error")
	}
	if !strings.Contains(out.String(), "starting") || !strings.Contains(out.String(), "failed") {
		t.Errorf("status changes not reported:\n%s", out.String())
	}
}

func TestMCPRemoveForgetsCachedTools(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	cfg, err := mcp.LoadConfig()
	if err != nil {
		t.Fatal(err)
	}
	cfg.AddServer("files", mcp.ServerConfig{Command: "files-server"})
	if err := cfg.Save(); err != nil {
		t.Fatal(err)
	}
	if err := mcp.CacheTools("files", []mcp.ToolSpec{{Name: "read"}}); err != nil {
		t.Fatal(err)
	}

	var out bytes.Buffer
	mcpListCmd.SetOut(&out)
	defer mcpListCmd.SetOut(nil)
	if err := mcpList(mcpListCmd, nil); err != nil {
		t.Fatalf("list: %v", err)
	}
	if !strings.Contains(out.String(), "tools: read") || !strings.Contains(out.String(), "just now") {
		t.Errorf("list output:\n%s", out.String())
	}

	mcpRemoveCmd.SetOut(io.Discard)
	defer mcpRemoveCmd.SetOut(nil)
	if err := mcpRemove(mcpRemoveCmd, []string{"files"}); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok := mcp.LoadCachedTools("files"); ok {
		t.Error("tools still cached after remove")
	}
}
