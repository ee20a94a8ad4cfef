package ai

import (
	"context"
	"fmt"
	"io"
	"iter"
	"strings"

	"google.golang.org/genai"

	"docchat/internal/config"
	"docchat/internal/logger"
	"docchat/internal/models"
)

const defaultGeminiModel = "gemini-2.5-flash"

// GeminiStreamer talks to the Gemini API directly so uploaded documents can
// be attached to the turn as file parts.
type GeminiStreamer struct {
	client    *genai.Client
	model     string
	maxTokens int32
	log       *logger.Logger
}

func newGeminiStreamer(ctx context.Context, cfg config.ModelConfig, log *logger.Logger) (*GeminiStreamer, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("new gemini client: %w", err)
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultGeminiModel
	}
	return &GeminiStreamer{
		client:    client,
		model:     modelName,
		maxTokens: int32(cfg.MaxTokens),
		log:       log.With("service", "GeminiStreamer"),
	}, nil
}

func (s *GeminiStreamer) Stream(ctx context.Context, req Request) (Stream, error) {
	gc := &genai.GenerateContentConfig{}
	if req.System != "" {
		gc.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}
	if s.maxTokens > 0 {
		gc.MaxOutputTokens = s.maxTokens
	}
	contents := toGenaiContents(req)
	if len(contents) == 0 {
		return nil, fmt.Errorf("generate ai stream: empty conversation")
	}
	next, stop := iter.Pull2(s.client.Models.GenerateContentStream(ctx, s.model, contents, gc))
	return &geminiStream{next: next, stop: stop}, nil
}

type geminiStream struct {
	next func() (*genai.GenerateContentResponse, error, bool)
	stop func()
}

func (s *geminiStream) Recv() (string, error) {
	resp, err, ok := s.next()
	if !ok {
		return "", io.EOF
	}
	if err != nil {
		return "", err
	}
	if resp == nil {
		return "", nil
	}
	return resp.Text(), nil
}

func (s *geminiStream) Close() { s.stop() }

// toGenaiContents maps the history onto Gemini roles and attaches file
// parts for hosted documents to the latest user turn.
func toGenaiContents(req Request) []*genai.Content {
	lastUser := -1
	for i, msg := range req.History {
		if msg.Role == models.RoleUser {
			lastUser = i
		}
	}

	contents := make([]*genai.Content, 0, len(req.History))
	for i, msg := range req.History {
		if msg.Role == models.RoleSystem || msg.Content == "" {
			continue
		}
		role := genai.Role(genai.RoleUser)
		if msg.Role == models.RoleAssistant {
			role = genai.RoleModel
		}
		var parts []*genai.Part
		if i == lastUser {
			parts = append(parts, documentParts(req.Documents)...)
		}
		parts = append(parts, genai.NewPartFromText(msg.Content))
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}
	return contents
}

func documentParts(docs []models.Document) []*genai.Part {
	var parts []*genai.Part
	for _, d := range docs {
		if !d.Synced() || !strings.HasPrefix(*d.ExternalURI, "https://") {
			continue
		}
		parts = append(parts, genai.NewPartFromURI(*d.ExternalURI, d.MimeType))
	}
	return parts
}
