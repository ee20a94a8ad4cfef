package contentstore

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
)

// LocalStore keeps documents where the upload pipeline wrote them and
// references them by file URI.
type LocalStore struct{}

func NewLocalStore() *LocalStore { return &LocalStore{} }

func (s *LocalStore) Kind() string { return "local" }

func (s *LocalStore) Upload(ctx context.Context, path, displayName, mimeType string) (*Reference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve upload path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("stat upload: %w", err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs)}
	return &Reference{URI: u.String(), MimeType: mimeType, Name: displayName}, nil
}
