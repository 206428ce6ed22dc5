package chat

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/samsaffron/chatstream/internal/llm"
)

// Role is the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// MessageType distinguishes ordinary messages from markers.
type MessageType string

const (
	TypeText MessageType = ""
	// TypeClear marks a context reset: nothing before it is sent to the model.
	TypeClear MessageType = "clear"
)

// AttachmentKind selects how an attachment is encoded.
type AttachmentKind string

const (
	KindImage    AttachmentKind = "image"
	KindPDF      AttachmentKind = "pdf"
	KindText     AttachmentKind = "text"
	KindDocument AttachmentKind = "document"
)

// Message is one entry of a conversation. Messages are never modified after
// they were sent.
type Message struct {
	ID          string
	Index       int
	Role        Role
	Content     string
	Attachments []Attachment
	// EnabledTools lists the tools (or tool sources) the model may call when
	// answering this message. Nil enables none.
	EnabledTools []string
	Type         MessageType
	// Preset messages are UI scaffolding and never reach the model.
	Preset    bool
	CreatedAt time.Time
}

// Attachment is a file attached to a message. Data holds the bytes when the
// caller already has them; otherwise they are read from Path.
type Attachment struct {
	ID       string
	Kind     AttachmentKind
	Name     string
	Path     string
	Data     []byte
	Size     int64
	MIMEType string
}

// FileStore keeps large attachments on the provider side.
type FileStore interface {
	// Lookup returns a previously uploaded file matching name and size, or
	// nil, nil when there is none.
	Lookup(ctx context.Context, name string, size int64) (*llm.FileRef, error)
	Upload(ctx context.Context, name, mimeType string, data []byte) (*llm.FileRef, error)
}

// NewID returns a new lexicographically sortable identifier. IDs made by
// one process strictly increase.
func NewID() string {
	return ulid.Make().String()
}

// NewUserMessage builds a user message with a fresh ID.
func NewUserMessage(content string, attachments ...Attachment) Message {
	return Message{
		ID:          NewID(),
		Role:        RoleUser,
		Content:     content,
		Attachments: attachments,
		CreatedAt:   time.Now(),
	}
}
