package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingFile means the body ended without presenting the file field.
	ErrMissingFile = errors.New("no file uploaded")
	// ErrSizeLimitExceeded matches any *SizeLimitError.
	ErrSizeLimitExceeded = errors.New("file exceeds size limit")
	// ErrWriteFailure wraps local disk errors raised while persisting a field.
	ErrWriteFailure = errors.New("write upload file")
	// ErrInvalidContentType is returned when the request is not multipart/form-data.
	ErrInvalidContentType = errors.New("request is not multipart/form-data")
)

// SizeLimitError reports that a file field exceeded the configured cap.
type SizeLimitError struct {
	Limit int64
}

func (e *SizeLimitError) Error() string {
	if e.Limit > 0 && e.Limit%(1<<20) == 0 {
		return fmt.Sprintf("File exceeds %dMB limit", e.Limit>>20)
	}
	return fmt.Sprintf("File exceeds %d byte limit", e.Limit)
}

func (e *SizeLimitError) Is(target error) bool {
	return target == ErrSizeLimitExceeded
}

func writeFailure(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrWriteFailure, op, err)
}
