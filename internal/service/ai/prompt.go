package ai

import (
	"fmt"
	"strings"
	"time"

	"docchat/internal/models"
)

// BuildSystemPrompt lists every synced document so the model can ground
// its answers in them. A non-empty override replaces the preamble.
func BuildSystemPrompt(docs []models.Document, override string) string {
	var refs []string
	for _, d := range docs {
		if !d.Synced() {
			continue
		}
		refs = append(refs, fmt.Sprintf("File: %s\nURI: %s\nType: %s\nUploaded: %s",
			d.Filename, *d.ExternalURI, d.MimeType, d.UploadDate.UTC().Format(time.RFC3339)))
	}

	var b strings.Builder
	if override != "" {
		b.WriteString(override)
	} else {
		b.WriteString("You are a helpful AI assistant with access to the user's document knowledge base.")
	}
	b.WriteString("\n\n")
	if len(refs) == 0 {
		b.WriteString("No documents have been uploaded yet.")
	} else {
		b.WriteString("The following files have been uploaded:\n\n")
		b.WriteString(strings.Join(refs, "\n\n"))
		b.WriteString("\n\nWhen answering questions, search through these documents for relevant information. Reference specific files when you use information from them.")
	}
	b.WriteString("\n\nIf the answer cannot be found in the uploaded documents, you may use your general knowledge, but always indicate when you're doing so.")
	return b.String()
}
