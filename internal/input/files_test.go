package input

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/samsaffron/chatstream/internal/chat"
)

func TestAttachments(t *testing.T) {
	tempDir := t.TempDir()

	file1 := filepath.Join(tempDir, "test1.txt")
	file2 := filepath.Join(tempDir, "test2.txt")
	pdf := filepath.Join(tempDir, "paper.pdf")
	os.WriteFile(file1, []byte("line1\nline2\nline3"), 0644)
	os.WriteFile(file2, []byte("content2"), 0644)
	os.WriteFile(pdf, []byte("%PDF-1.4"), 0644)
	os.Mkdir(filepath.Join(tempDir, "sub.txt"), 0755)

	t.Run("single file", func(t *testing.T) {
		atts, err := Attachments([]string{file1})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(atts) != 1 {
			t.Fatalf("expected 1 attachment, got %d", len(atts))
		}
		a := atts[0]
		if a.Kind != chat.KindText || a.Name != "test1.txt" || a.Path != file1 || a.Data != nil {
			t.Errorf("unexpected attachment %+v", a)
		}
		if a.ID == "" {
			t.Error("attachment has no ID")
		}
		if a.Size != int64(len("line1\nline2\nline3")) {
			t.Errorf("size = %d", a.Size)
		}
	})

	t.Run("glob skips directories", func(t *testing.T) {
		atts, err := Attachments([]string{filepath.Join(tempDir, "*.txt")})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(atts) != 2 {
			t.Fatalf("expected 2 attachments, got %d", len(atts))
		}
	})

	t.Run("glob without matches", func(t *testing.T) {
		atts, err := Attachments([]string{filepath.Join(tempDir, "*.md")})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(atts) != 0 {
			t.Errorf("expected no attachments, got %d", len(atts))
		}
	})

	t.Run("line range", func(t *testing.T) {
		atts, err := Attachments([]string{file1 + ":2-3"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(atts) != 1 {
			t.Fatalf("expected 1 attachment, got %d", len(atts))
		}
		if got := string(atts[0].Data); got != "line2\nline3" {
			t.Errorf("data = %q", got)
		}
		if atts[0].Name != "test1.txt:2-3" {
			t.Errorf("name = %q", atts[0].Name)
		}
	})

	t.Run("line range on pdf", func(t *testing.T) {
		if _, err := Attachments([]string{pdf + ":1-2"}); err == nil {
			t.Fatal("expected error for line range on a pdf")
		}
	})

	t.Run("pdf kind", func(t *testing.T) {
		atts, err := Attachments([]string{pdf})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if atts[0].Kind != chat.KindPDF || atts[0].MIMEType != "application/pdf" {
			t.Errorf("unexpected attachment %+v", atts[0])
		}
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := Attachments([]string{filepath.Join(tempDir, "nope.txt")})
		if err == nil {
			t.Fatal("expected error for missing file")
		}
	})

	t.Run("explicit directory", func(t *testing.T) {
		_, err := Attachments([]string{filepath.Join(tempDir, "sub.txt")})
		if err == nil || !strings.Contains(err.Error(), "directory") {
			t.Fatalf("expected directory error, got %v", err)
		}
	})
}

func TestKind(t *testing.T) {
	tests := []struct {
		path     string
		wantKind chat.AttachmentKind
		wantMIME string
	}{
		{"doc.PDF", chat.KindPDF, "application/pdf"},
		{"shot.png", chat.KindImage, "image/png"},
		{"photo.jpg", chat.KindImage, "image/jpeg"},
		{"data.json", chat.KindDocument, ""},
		{"config.yml", chat.KindDocument, ""},
		{"main.go", chat.KindText, ""},
		{"README", chat.KindText, ""},
	}
	for _, tc := range tests {
		t.Run(tc.path, func(t *testing.T) {
			kind, mimeType := Kind(tc.path)
			if kind != tc.wantKind || mimeType != tc.wantMIME {
				t.Errorf("Kind(%q) = %s, %q; want %s, %q", tc.path, kind, mimeType, tc.wantKind, tc.wantMIME)
			}
		})
	}
}

func TestReadPipedNil(t *testing.T) {
	got, err := readPiped(nil)
	if err != nil || got != "" {
		t.Fatalf("readPiped(nil) = %q, %v", got, err)
	}
}
