package input

import (
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/samsaffron/chatstream/internal/chat"
)

// Attachments turns file arguments into message attachments.
// Supported forms:
//   - Glob patterns (e.g., "*.png"): every matching file
//   - Regular paths, with ~ expanded
//   - Line ranges (e.g., "main.go:11-22"): only those lines, as text
//
// Directories matched by a glob are skipped. Bytes of whole files are read
// later by the encoder.
func Attachments(paths []string) ([]chat.Attachment, error) {
	var result []chat.Attachment

	for _, path := range paths {
		spec, err := ParseFileSpec(path)
		if err != nil {
			return nil, fmt.Errorf("invalid file spec %q: %w", path, err)
		}
		// A path that exists as given wins over a line range reading.
		if spec.HasRegion {
			if _, err := os.Stat(expandPath(path)); err == nil {
				spec = FileSpec{Path: path}
			}
		}

		expandedPath := expandPath(spec.Path)
		matches, err := filepath.Glob(expandedPath)
		if err != nil {
			return nil, fmt.Errorf("invalid glob pattern %q: %w", spec.Path, err)
		}
		if len(matches) == 0 {
			if containsGlobChars(spec.Path) {
				continue
			}
			matches = []string{expandedPath}
		}

		for _, match := range matches {
			info, err := os.Stat(match)
			if err != nil {
				return nil, fmt.Errorf("failed to stat %q: %w", match, err)
			}
			if info.IsDir() {
				if len(matches) == 1 && !containsGlobChars(spec.Path) {
					return nil, fmt.Errorf("%q is a directory", match)
				}
				continue
			}

			att, err := attachment(match, info.Size(), spec)
			if err != nil {
				return nil, err
			}
			result = append(result, att)
		}
	}

	return result, nil
}

func attachment(path string, size int64, spec FileSpec) (chat.Attachment, error) {
	kind, mimeType := Kind(path)
	att := chat.Attachment{
		ID:       chat.NewID(),
		Kind:     kind,
		Name:     filepath.Base(path),
		Path:     path,
		Size:     size,
		MIMEType: mimeType,
	}
	if !spec.HasRegion {
		return att, nil
	}
	if kind != chat.KindText && kind != chat.KindDocument {
		return chat.Attachment{}, fmt.Errorf("line ranges need a text file, got %q", path)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return chat.Attachment{}, fmt.Errorf("failed to read %q: %w", path, err)
	}
	region := FileSpec{Path: att.Name, StartLine: spec.StartLine, EndLine: spec.EndLine, HasRegion: true}
	att.Name = region.FormatSpecPath()
	att.Data = []byte(ExtractLines(string(content), spec.StartLine, spec.EndLine))
	att.Size = int64(len(att.Data))
	return att, nil
}

// Kind picks the attachment kind and, for binary kinds, the MIME type
// from the file extension.
func Kind(path string) (chat.AttachmentKind, string) {
	ext := strings.ToLower(filepath.Ext(path))
	mimeType := mime.TypeByExtension(ext)
	switch {
	case ext == ".pdf":
		return chat.KindPDF, "application/pdf"
	case strings.HasPrefix(mimeType, "image/"):
		return chat.KindImage, mimeType
	case ext == ".json", ext == ".csv", ext == ".xml", ext == ".html", ext == ".yaml", ext == ".yml":
		return chat.KindDocument, ""
	}
	return chat.KindText, ""
}

// ReadStdin reads all content from stdin.
// Returns empty string if stdin is a terminal.
func ReadStdin() (string, error) {
	return readPiped(os.Stdin)
}

func readPiped(f *os.File) (string, error) {
	if f == nil || term.IsTerminal(int(f.Fd())) {
		return "", nil
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}

// expandPath expands ~ to home directory
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}

// containsGlobChars returns true if the path contains glob metacharacters
func containsGlobChars(path string) bool {
	return strings.ContainsAny(path, "*?[")
}
