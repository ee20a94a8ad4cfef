package contentstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	"docchat/internal/logger"
)

// GCSStore copies documents into a Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
	prefix string
	log    *logger.Logger
}

func NewGCSStore(ctx context.Context, bucket, prefix, credentialsFile string, log *logger.Logger) (*GCSStore, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket is required")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, fmt.Errorf("gcs credentials file: %w", err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	opts = append(opts, option.WithScopes(storage.ScopeReadWrite))
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, externalErr("create storage client", err)
	}
	return &GCSStore{client: client, bucket: bucket, prefix: prefix, log: log.With("component", "GCSStore")}, nil
}

func (s *GCSStore) Kind() string { return "gcs" }

func (s *GCSStore) Upload(ctx context.Context, localPath, displayName, mimeType string) (*Reference, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return nil, fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	key := objectKey(s.prefix, displayName, filepath.Base(localPath))
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = mimeType
	w.Metadata = map[string]string{"filename": displayName}
	if _, err := io.Copy(w, f); err != nil {
		_ = w.Close()
		return nil, externalErr("copy object", err)
	}
	if err := w.Close(); err != nil {
		return nil, externalErr("close object writer", err)
	}

	uri := fmt.Sprintf("gs://%s/%s", s.bucket, key)
	s.log.Info("document uploaded to gcs", "uri", uri)
	return &Reference{URI: uri, MimeType: mimeType, Name: key}, nil
}

func objectKey(prefix, displayName, fallback string) string {
	name := displayName
	if name == "" {
		name = fallback
	}
	return path.Join(prefix, "documents", uuid.NewString()+"-"+path.Base(name))
}
