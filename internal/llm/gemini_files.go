package llm

import (
	"bytes"
	"context"
	"fmt"

	"google.golang.org/genai"
)

// GeminiFileStore keeps large attachments in the Gemini Files API so they
// can be referenced by URI instead of being sent inline.
type GeminiFileStore struct {
	provider *GeminiProvider
}

func NewGeminiFileStore(provider *GeminiProvider) *GeminiFileStore {
	return &GeminiFileStore{provider: provider}
}

// Lookup finds a previously uploaded file with the same display name and
// size. It returns nil, nil when no such file exists.
func (s *GeminiFileStore) Lookup(ctx context.Context, name string, size int64) (*FileRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	for file, err := range client.Files.All(ctx) {
		if err != nil {
			return nil, fmt.Errorf("list gemini files: %w", err)
		}
		if file == nil || file.DisplayName != name {
			continue
		}
		if file.SizeBytes != nil && *file.SizeBytes != size {
			continue
		}
		if file.State == genai.FileStateFailed {
			continue
		}
		return geminiFileRef(file), nil
	}
	return nil, nil
}

func (s *GeminiFileStore) Upload(ctx context.Context, name, mimeType string, data []byte) (*FileRef, error) {
	client, err := s.provider.Client(ctx)
	if err != nil {
		return nil, err
	}
	file, err := client.Files.Upload(ctx, bytes.NewReader(data), &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: name,
	})
	if err != nil {
		return nil, fmt.Errorf("upload %s to gemini: %w", name, err)
	}
	return geminiFileRef(file), nil
}

func geminiFileRef(file *genai.File) *FileRef {
	return &FileRef{
		URI:         file.URI,
		MIMEType:    file.MIMEType,
		DisplayName: file.DisplayName,
	}
}
