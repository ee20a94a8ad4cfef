package catalog

import (
	"database/sql"
	"errors"
	"fmt"

	"docchat/internal/logger"
)

var (
	// ErrPersistence wraps failed inserts and deletes.
	ErrPersistence = errors.New("persistence failure")
	// ErrChatNotFound is returned when a chat does not exist or belongs to another owner.
	ErrChatNotFound = errors.New("chat not found")
)

// Service owns the document catalog and the chat/message rows.
type Service struct {
	db  *sql.DB
	log *logger.Logger
}

func NewService(db *sql.DB, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{db: db, log: log.With("service", "CatalogService")}
}

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}
