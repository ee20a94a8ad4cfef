package contentstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"docchat/internal/config"
	"docchat/internal/logger"
)

// ErrExternalStore wraps every failure raised by a remote content store.
var ErrExternalStore = errors.New("external content store")

// Reference identifies a file held by a content store.
type Reference struct {
	URI      string
	MimeType string
	Name     string
}

// Store hands a finished local upload to long-lived storage.
type Store interface {
	Upload(ctx context.Context, path, displayName, mimeType string) (*Reference, error)
	Kind() string
}

// New builds the store selected by cfg.Kind.
func New(ctx context.Context, cfg config.ContentStoreConfig, log *logger.Logger) (Store, error) {
	if log == nil {
		log = logger.Nop()
	}
	switch strings.ToLower(cfg.Kind) {
	case "", "gemini":
		return NewGeminiStore(ctx, cfg.APIKey, log)
	case "gcs":
		return NewGCSStore(ctx, cfg.Bucket, cfg.Prefix, cfg.CredentialsFile, log)
	case "local":
		return NewLocalStore(), nil
	default:
		return nil, fmt.Errorf("unsupported content store: %s", cfg.Kind)
	}
}

func externalErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrExternalStore, op, err)
}
