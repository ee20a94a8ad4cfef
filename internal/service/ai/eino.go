package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino-ext/components/model/claude"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"

	"docchat/internal/config"
	"docchat/internal/logger"
	"docchat/internal/models"
)

const defaultClaudeMaxTokens = 3000

func newEinoChatModel(ctx context.Context, cfg config.ModelConfig) (model.BaseChatModel, error) {
	var (
		chatModel model.BaseChatModel
		err       error
	)
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		oc := &openai.ChatModelConfig{
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			APIKey:  cfg.APIKey,
		}
		if cfg.MaxTokens > 0 {
			maxTokens := cfg.MaxTokens
			oc.MaxTokens = &maxTokens
		}
		chatModel, err = openai.NewChatModel(ctx, oc)
	case "claude":
		var baseURL *string
		if cfg.BaseURL != "" {
			baseURL = &cfg.BaseURL
		}
		maxTokens := cfg.MaxTokens
		if maxTokens <= 0 {
			maxTokens = defaultClaudeMaxTokens
		}
		chatModel, err = claude.NewChatModel(ctx, &claude.Config{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			BaseURL:   baseURL,
			MaxTokens: maxTokens,
		})
	case "gemini-eino":
		client, cerr := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if cerr != nil {
			return nil, fmt.Errorf("new gemini client: %w", cerr)
		}
		chatModel, err = gemini.NewChatModel(ctx, &gemini.Config{
			Client: client,
			Model:  cfg.Model,
		})
	default:
		return nil, fmt.Errorf("invalid provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("init %s chat model: %w", cfg.Provider, err)
	}
	return chatModel, nil
}

// EinoStreamer streams from any eino chat model. Documents only reach the
// model through the system prompt.
type EinoStreamer struct {
	chatModel model.BaseChatModel
	log       *logger.Logger
}

func NewEinoStreamer(chatModel model.BaseChatModel, log *logger.Logger) *EinoStreamer {
	if log == nil {
		log = logger.Nop()
	}
	return &EinoStreamer{chatModel: chatModel, log: log.With("service", "EinoStreamer")}
}

func (s *EinoStreamer) Stream(ctx context.Context, req Request) (Stream, error) {
	sr, err := s.chatModel.Stream(ctx, toSchemaMessages(req))
	if err != nil {
		return nil, fmt.Errorf("generate ai stream: %w", err)
	}
	return &einoStream{sr: sr}, nil
}

type einoStream struct {
	sr *schema.StreamReader[*schema.Message]
}

func (s *einoStream) Recv() (string, error) {
	chunk, err := s.sr.Recv()
	if err != nil {
		return "", err
	}
	if chunk == nil {
		return "", nil
	}
	return chunk.Content, nil
}

func (s *einoStream) Close() { s.sr.Close() }

func toSchemaMessages(req Request) []*schema.Message {
	messages := make([]*schema.Message, 0, len(req.History)+1)
	if req.System != "" {
		messages = append(messages, schema.SystemMessage(req.System))
	}
	for _, msg := range req.History {
		var role schema.RoleType
		switch msg.Role {
		case models.RoleAssistant:
			role = schema.Assistant
		case models.RoleSystem:
			role = schema.System
		default:
			role = schema.User
		}
		messages = append(messages, &schema.Message{Role: role, Content: msg.Content})
	}
	return messages
}
