package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"docchat/internal/models"
)

// CreateDocument inserts one catalog row. Callers only invoke it once the
// local file is complete and the content store accepted it.
func (s *Service) CreateDocument(ctx context.Context, doc models.Document) (*models.Document, error) {
	if strings.TrimSpace(doc.Filename) == "" {
		return nil, errors.New("document filename is required")
	}
	if doc.StoragePath == "" {
		return nil, errors.New("document storage path is required")
	}
	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if doc.UploadDate.IsZero() {
		doc.UploadDate = time.Now().UTC()
	}
	var external sql.NullString
	if doc.ExternalURI != nil {
		external = sql.NullString{String: *doc.ExternalURI, Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, filename, mime_type, original_path, external_uri, size, upload_date) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.Filename, doc.MimeType, doc.StoragePath, external, doc.Size, doc.UploadDate,
	)
	if err != nil {
		return nil, persistErr("insert document", err)
	}
	s.log.Info("document committed", "id", doc.ID, "filename", doc.Filename, "synced", doc.Synced())
	return &doc, nil
}

// ListDocuments returns the catalog newest first.
func (s *Service) ListDocuments(ctx context.Context) ([]models.Document, error) {
	return s.queryDocuments(ctx,
		`SELECT id, filename, mime_type, original_path, external_uri, size, upload_date FROM documents ORDER BY upload_date DESC`)
}

// ListSyncedDocuments returns only documents that reached the content store.
func (s *Service) ListSyncedDocuments(ctx context.Context) ([]models.Document, error) {
	return s.queryDocuments(ctx,
		`SELECT id, filename, mime_type, original_path, external_uri, size, upload_date FROM documents
		 WHERE external_uri IS NOT NULL AND external_uri <> '' ORDER BY upload_date DESC`)
}

func (s *Service) queryDocuments(ctx context.Context, query string) ([]models.Document, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		var (
			d        models.Document
			external sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.Filename, &d.MimeType, &d.StoragePath, &external, &d.Size, &d.UploadDate); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		if external.Valid {
			uri := external.String
			d.ExternalURI = &uri
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}
