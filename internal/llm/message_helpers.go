package llm

import (
	"encoding/base64"
	"fmt"
	"strings"
)

func collectTextParts(parts []Part) string {
	var b strings.Builder
	for _, part := range parts {
		if part.Type == PartText {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

// attachmentPlaceholder renders a part the vendor cannot take natively as
// text so the model still knows the attachment exists.
func attachmentPlaceholder(part Part) string {
	switch part.Type {
	case PartFileRef:
		if part.FileRef == nil {
			return ""
		}
		name := part.FileRef.DisplayName
		if name == "" {
			name = part.FileRef.URI
		}
		return fmt.Sprintf("[attached file: %s (%s)]", name, part.FileRef.MIMEType)
	case PartInlineData:
		if part.InlineData == nil {
			return ""
		}
		return fmt.Sprintf("[attached %s, %d bytes]", part.InlineData.MIMEType, len(part.InlineData.Data))
	}
	return ""
}

func isImageMIME(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

func dataURL(blob *Blob) string {
	return "data:" + blob.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(blob.Data)
}
