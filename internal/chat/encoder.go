package chat

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/samsaffron/chatstream/internal/llm"
)

// DefaultPDFInlineLimit is the PDF size from which documents are uploaded to
// the file store instead of being sent inline.
const DefaultPDFInlineLimit int64 = 20 * 1024 * 1024

// Encoder converts conversation messages into provider request turns.
type Encoder struct {
	files          FileStore
	pdfInlineLimit int64
	readFile       func(string) ([]byte, error)
	statFile       func(string) (int64, error)
}

type EncoderOption func(*Encoder)

// WithFileStore enables uploading large PDFs. Without a store every PDF is
// sent inline.
func WithFileStore(files FileStore) EncoderOption {
	return func(e *Encoder) { e.files = files }
}

func WithPDFInlineLimit(limit int64) EncoderOption {
	return func(e *Encoder) {
		if limit > 0 {
			e.pdfInlineLimit = limit
		}
	}
}

func NewEncoder(opts ...EncoderOption) *Encoder {
	e := &Encoder{
		pdfInlineLimit: DefaultPDFInlineLimit,
		readFile:       os.ReadFile,
		statFile: func(path string) (int64, error) {
			info, err := os.Stat(path)
			if err != nil {
				return 0, err
			}
			return info.Size(), nil
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Encode converts one message into a request turn. The message text comes
// first, followed by one part per attachment in attachment order. A file
// store failure fails the whole message; no partial turn is returned.
func (e *Encoder) Encode(ctx context.Context, msg Message) (llm.Message, error) {
	role := llm.RoleAssistant
	if msg.Role == RoleUser {
		role = llm.RoleUser
	}
	turn := llm.Message{Role: role}
	turn.Parts = append(turn.Parts, llm.Part{Type: llm.PartText, Text: msg.Content})

	for _, att := range msg.Attachments {
		part, ok, err := e.encodeAttachment(ctx, att)
		if err != nil {
			return llm.Message{}, err
		}
		if ok {
			turn.Parts = append(turn.Parts, part)
		}
	}
	return turn, nil
}

// EncodeAll encodes messages in order.
func (e *Encoder) EncodeAll(ctx context.Context, messages []Message) ([]llm.Message, error) {
	turns := make([]llm.Message, 0, len(messages))
	for _, msg := range messages {
		turn, err := e.Encode(ctx, msg)
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	return turns, nil
}

func (e *Encoder) encodeAttachment(ctx context.Context, att Attachment) (llm.Part, bool, error) {
	switch att.Kind {
	case KindImage:
		data, err := e.load(att)
		if err != nil {
			return llm.Part{}, false, err
		}
		return llm.Part{Type: llm.PartInlineData, InlineData: &llm.Blob{
			MIMEType: resolveMIMEType(att, data),
			Data:     data,
		}}, true, nil
	case KindPDF:
		part, err := e.encodePDF(ctx, att)
		return part, err == nil, err
	case KindText, KindDocument:
		data, err := e.load(att)
		if err != nil {
			return llm.Part{}, false, err
		}
		return llm.Part{Type: llm.PartText, Text: att.Name + "\n" + strings.TrimSpace(string(data))}, true, nil
	}
	return llm.Part{}, false, nil
}

func (e *Encoder) encodePDF(ctx context.Context, att Attachment) (llm.Part, error) {
	size, err := e.size(att)
	if err != nil {
		return llm.Part{}, err
	}
	if e.files == nil || size < e.pdfInlineLimit {
		data, err := e.load(att)
		if err != nil {
			return llm.Part{}, err
		}
		return llm.Part{Type: llm.PartInlineData, InlineData: &llm.Blob{MIMEType: "application/pdf", Data: data}}, nil
	}

	ref, err := e.files.Lookup(ctx, att.Name, size)
	if err != nil {
		return llm.Part{}, fmt.Errorf("%w: look up %s: %w", llm.ErrDependencyUnavailable, att.Name, err)
	}
	if ref == nil {
		data, err := e.load(att)
		if err != nil {
			return llm.Part{}, err
		}
		ref, err = e.files.Upload(ctx, att.Name, "application/pdf", data)
		if err != nil {
			return llm.Part{}, fmt.Errorf("%w: upload %s: %w", llm.ErrDependencyUnavailable, att.Name, err)
		}
	}
	if ref.MIMEType == "" {
		ref.MIMEType = "application/pdf"
	}
	return llm.Part{Type: llm.PartFileRef, FileRef: ref}, nil
}

func (e *Encoder) load(att Attachment) ([]byte, error) {
	if att.Data != nil {
		return att.Data, nil
	}
	if att.Path == "" {
		return nil, fmt.Errorf("attachment %s has no data", att.Name)
	}
	data, err := e.readFile(att.Path)
	if err != nil {
		return nil, fmt.Errorf("read attachment %s: %w", att.Name, err)
	}
	return data, nil
}

func (e *Encoder) size(att Attachment) (int64, error) {
	switch {
	case att.Size > 0:
		return att.Size, nil
	case att.Data != nil:
		return int64(len(att.Data)), nil
	case att.Path != "":
		size, err := e.statFile(att.Path)
		if err != nil {
			return 0, fmt.Errorf("stat attachment %s: %w", att.Name, err)
		}
		return size, nil
	}
	return 0, fmt.Errorf("attachment %s has no data", att.Name)
}

func resolveMIMEType(att Attachment, data []byte) string {
	if att.MIMEType != "" {
		return att.MIMEType
	}
	name := att.Name
	if name == "" {
		name = att.Path
	}
	if t := mime.TypeByExtension(strings.ToLower(filepath.Ext(name))); t != "" {
		return t
	}
	return http.DetectContentType(data)
}
