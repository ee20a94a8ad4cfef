package contentstore

import (
	"context"
	"errors"

	"google.golang.org/genai"

	"docchat/internal/logger"
)

// GeminiStore uploads documents to the Gemini Files API so they can be
// attached to chat turns by URI.
type GeminiStore struct {
	client *genai.Client
	log    *logger.Logger
}

func NewGeminiStore(ctx context.Context, apiKey string, log *logger.Logger) (*GeminiStore, error) {
	if apiKey == "" {
		return nil, errors.New("gemini api key is required for the gemini content store")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, externalErr("create gemini client", err)
	}
	return &GeminiStore{client: client, log: log.With("component", "GeminiStore")}, nil
}

func (s *GeminiStore) Kind() string { return "gemini" }

func (s *GeminiStore) Upload(ctx context.Context, path, displayName, mimeType string) (*Reference, error) {
	file, err := s.client.Files.UploadFromPath(ctx, path, &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: displayName,
	})
	if err != nil {
		return nil, externalErr("upload file", err)
	}
	ref := &Reference{URI: file.URI, MimeType: file.MIMEType, Name: file.Name}
	if ref.MimeType == "" {
		ref.MimeType = mimeType
	}
	s.log.Info("document uploaded to gemini", "name", file.Name, "uri", file.URI)
	return ref, nil
}
