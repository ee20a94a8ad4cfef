package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"docchat/internal/config"
	"docchat/internal/logger"
	"docchat/internal/models"
)

// Message is one prior turn passed to the model.
type Message struct {
	Role    models.Role
	Content string
}

// Request is a single model call: system instruction, the conversation so
// far (ending with the latest user message) and the documents in scope.
type Request struct {
	System    string
	History   []Message
	Documents []models.Document
}

// Stream yields text chunks until Recv returns io.EOF or another error.
type Stream interface {
	Recv() (string, error)
	Close()
}

// Streamer opens model streams.
type Streamer interface {
	Stream(ctx context.Context, req Request) (Stream, error)
}

// NewStreamer builds the streamer for cfg.Provider. "gemini" uses the
// native Gemini client and attaches documents as file parts; "openai",
// "claude" and "gemini-eino" go through eino chat models.
func NewStreamer(ctx context.Context, cfg config.ModelConfig, log *logger.Logger) (Streamer, error) {
	if log == nil {
		log = logger.Nop()
	}
	if cfg.APIKey == "" {
		return nil, errors.New("model api key is required")
	}
	switch strings.ToLower(cfg.Provider) {
	case "", "gemini":
		return newGeminiStreamer(ctx, cfg, log)
	case "openai", "claude", "gemini-eino":
		chatModel, err := newEinoChatModel(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewEinoStreamer(chatModel, log), nil
	default:
		return nil, fmt.Errorf("invalid provider: %s", cfg.Provider)
	}
}
