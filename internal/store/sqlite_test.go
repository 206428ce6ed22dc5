package store

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/samsaffron/chatstream/internal/chat"
	"github.com/samsaffron/chatstream/internal/config"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "data", "conversations.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteStoreCreateGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	conv := &Conversation{Title: "hello", Provider: "gemini", Model: "gemini-2.5-flash"}
	if err := s.Create(ctx, conv); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if conv.ID == "" {
		t.Fatal("Create did not assign an ID")
	}

	got, err := s.Get(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got == nil {
		t.Fatal("expected conversation to exist")
	}
	if got.Title != "hello" || got.Provider != "gemini" || got.Status != StatusActive {
		t.Errorf("got %+v", got)
	}

	missing, err := s.Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Errorf("Get(missing) = %v, %v; want nil, nil", missing, err)
	}
}

func TestSQLiteStoreMessagesRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv := &Conversation{Provider: "openai", Model: "gpt-4.1-mini"}
	if err := s.Create(ctx, conv); err != nil {
		t.Fatal(err)
	}

	user := chat.NewUserMessage("what is in this picture?",
		chat.Attachment{Kind: chat.KindImage, Name: "cat.png", Data: []byte("png-bytes"), MIMEType: "image/png"},
		chat.Attachment{Kind: chat.KindPDF, Name: "doc.pdf", Path: "/tmp/doc.pdf", Data: []byte("not stored"), Size: 42},
	)
	user.EnabledTools = []string{"weather"}
	reply := chat.Message{ID: chat.NewID(), Role: chat.RoleAssistant, Content: "A cat."}
	clear := chat.Message{Role: chat.RoleUser, Type: chat.TypeClear}

	for _, msg := range []*chat.Message{&user, &reply, &clear} {
		if err := s.AddMessage(ctx, conv.ID, msg); err != nil {
			t.Fatalf("AddMessage: %v", err)
		}
	}
	if user.Index != 0 || reply.Index != 1 || clear.Index != 2 {
		t.Errorf("indexes = %d %d %d", user.Index, reply.Index, clear.Index)
	}
	if clear.ID == "" {
		t.Error("AddMessage did not assign an ID")
	}

	msgs, err := s.Messages(ctx, conv.ID)
	if err != nil {
		t.Fatalf("Messages: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d messages, want 3", len(msgs))
	}
	first := msgs[0]
	if first.ID != user.ID || first.Role != chat.RoleUser || first.Content != user.Content {
		t.Errorf("first = %+v", first)
	}
	if !reflect.DeepEqual(first.EnabledTools, []string{"weather"}) {
		t.Errorf("enabled tools = %v", first.EnabledTools)
	}
	if len(first.Attachments) != 2 {
		t.Fatalf("attachments = %+v", first.Attachments)
	}
	if img := first.Attachments[0]; !bytes.Equal(img.Data, []byte("png-bytes")) || img.MIMEType != "image/png" {
		t.Errorf("image attachment = %+v", img)
	}
	if pdf := first.Attachments[1]; pdf.Data != nil || pdf.Path != "/tmp/doc.pdf" || pdf.Size != 42 {
		t.Errorf("pdf attachment = %+v", pdf)
	}
	if msgs[1].EnabledTools != nil {
		t.Errorf("nil enabled tools came back as %v", msgs[1].EnabledTools)
	}
	if msgs[2].Type != chat.TypeClear {
		t.Errorf("type = %q", msgs[2].Type)
	}

	// Stored messages feed history building directly.
	history, err := chat.BuildHistory(msgs[:1], 5)
	if err != nil {
		t.Fatalf("BuildHistory: %v", err)
	}
	if history.Current.ID != user.ID {
		t.Errorf("current = %s", history.Current.ID)
	}
}

func TestSQLiteStoreUsageAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	older := &Conversation{Title: "older", Provider: "gemini", Model: "m"}
	newer := &Conversation{Title: "newer", Provider: "gemini", Model: "m"}
	for _, c := range []*Conversation{older, newer} {
		if err := s.Create(ctx, c); err != nil {
			t.Fatal(err)
		}
	}
	if err := s.AddUsage(ctx, older.ID, 2, 1, 100, 40); err != nil {
		t.Fatal(err)
	}
	if err := s.AddUsage(ctx, older.ID, 1, 0, 10, 5); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateStatus(ctx, older.ID, StatusComplete); err != nil {
		t.Fatal(err)
	}
	if err := s.AddMessage(ctx, older.ID, &chat.Message{Role: chat.RoleUser, Content: "hi"}); err != nil {
		t.Fatal(err)
	}

	got, err := s.Get(ctx, older.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Turns != 3 || got.ToolCalls != 1 || got.InputTokens != 110 || got.OutputTokens != 45 {
		t.Errorf("metrics = %+v", got)
	}
	if got.Status != StatusComplete {
		t.Errorf("status = %s", got.Status)
	}

	list, err := s.List(ctx, 10)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("List returned %d conversations", len(list))
	}
	if list[0].ID != older.ID {
		t.Errorf("most recently updated should come first, got %s", list[0].Title)
	}
	if list[0].MessageCount != 1 {
		t.Errorf("message count = %d", list[0].MessageCount)
	}
}

func TestSQLiteStoreDeleteCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv := &Conversation{Provider: "p", Model: "m"}
	if err := s.Create(ctx, conv); err != nil {
		t.Fatal(err)
	}
	if err := s.AddMessage(ctx, conv.ID, &chat.Message{Role: chat.RoleUser, Content: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete(ctx, conv.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	msgs, err := s.Messages(ctx, conv.ID)
	if err != nil || len(msgs) != 0 {
		t.Errorf("messages after delete = %v, %v", msgs, err)
	}
	if err := s.Delete(ctx, conv.ID); err == nil {
		t.Error("expected error deleting a missing conversation")
	}
}

func TestSQLiteStoreSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	conv := &Conversation{Title: "weather", Provider: "p", Model: "m"}
	if err := s.Create(ctx, conv); err != nil {
		t.Fatal(err)
	}
	for _, content := range []string{"is it raining in Sydney", "bring an umbrella"} {
		if err := s.AddMessage(ctx, conv.ID, &chat.Message{Role: chat.RoleUser, Content: content}); err != nil {
			t.Fatal(err)
		}
	}

	results, err := s.Search(ctx, "umbrella", 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1", len(results))
	}
	if results[0].ConversationID != conv.ID || !strings.Contains(results[0].Snippet, "**umbrella**") {
		t.Errorf("result = %+v", results[0])
	}
}

func TestSQLiteStoreReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "c.db")
	s, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatal(err)
	}
	conv := &Conversation{Provider: "p", Model: "m"}
	if err := s.Create(context.Background(), conv); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()
	if got, _ := s.Get(context.Background(), conv.ID); got == nil {
		t.Error("conversation lost after reopen")
	}
}

func TestNewDisabledStore(t *testing.T) {
	s, err := New(config.StoreConfig{Enabled: false})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*NoopStore); !ok {
		t.Fatalf("disabled store = %T", s)
	}
	conv := &Conversation{}
	if err := s.Create(context.Background(), conv); err != nil || conv.ID == "" {
		t.Errorf("noop Create: %v, id %q", err, conv.ID)
	}
}

type failingStore struct {
	NoopStore
}

func (failingStore) AddMessage(ctx context.Context, id string, msg *chat.Message) error {
	return errors.New("disk full")
}

func TestLoggingStoreWarnsOnce(t *testing.T) {
	var buf bytes.Buffer
	s := NewLoggingStore(&failingStore{}, slog.New(slog.NewTextHandler(&buf, nil)))
	for i := 0; i < 3; i++ {
		if err := s.AddMessage(context.Background(), "c", &chat.Message{}); err == nil {
			t.Fatal("expected error to pass through")
		}
	}
	if n := strings.Count(buf.String(), "disk full"); n != 1 {
		t.Errorf("warned %d times, want 1:\n%s", n, buf.String())
	}
}

func TestTruncateTitle(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  short  ", "short"},
		{"first line\nsecond", "first line"},
		{strings.Repeat("a", 120), strings.Repeat("a", 97) + "..."},
	}
	for _, tt := range tests {
		if got := TruncateTitle(tt.in); got != tt.want {
			t.Errorf("TruncateTitle(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
