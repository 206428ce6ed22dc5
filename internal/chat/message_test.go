package chat

import (
	"testing"

	"github.com/oklog/ulid/v2"
)

func TestNewIDUniqueAndIncreasing(t *testing.T) {
	const n = 10000
	seen := make(map[string]bool, n)
	prev := ""
	for i := 0; i < n; i++ {
		id := NewID()
		if _, err := ulid.ParseStrict(id); err != nil {
			t.Fatalf("NewID() = %q is not a ULID: %v", id, err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q after %d ids", id, i)
		}
		if id <= prev {
			t.Fatalf("id %q not after %q", id, prev)
		}
		seen[id] = true
		prev = id
	}
}

func TestNewUserMessage(t *testing.T) {
	att := Attachment{Kind: KindText, Name: "a.txt"}
	msg := NewUserMessage("hi", att)
	if msg.ID == "" || msg.Role != RoleUser || msg.Content != "hi" || len(msg.Attachments) != 1 {
		t.Errorf("message = %+v", msg)
	}
	if msg.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}
