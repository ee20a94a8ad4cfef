package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"docchat/internal/logger"
)

const (
	// DefaultMaxBytes is the per-file cap applied when none is configured.
	DefaultMaxBytes  = 50 << 20
	progressInterval = 5 << 20
	maxNameBytes     = 200
	copyBufferSize   = 32 << 10
)

// FileSink writes a file field to a uniquely named file under dir and
// enforces a byte cap. On any failure the partial file is removed, so dir
// holds either one complete file for the upload or none.
type FileSink struct {
	dir      string
	maxBytes int64
	log      *logger.Logger

	newToken func() string
	create   func(path string) (io.WriteCloser, error)
}

func NewFileSink(dir string, maxBytes int64, log *logger.Logger) (*FileSink, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, errors.New("upload dir is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}
	if log == nil {
		log = logger.Nop()
	}
	return &FileSink{
		dir:      dir,
		maxBytes: maxBytes,
		log:      log.With("component", "FileSink"),
		newToken: uuid.NewString,
		create:   createExclusive,
	}, nil
}

func (s *FileSink) Dir() string     { return s.dir }
func (s *FileSink) MaxBytes() int64 { return s.maxBytes }

// Consume streams r into a new file named <token>-<filename>.
func (s *FileSink) Consume(ctx context.Context, field FieldInfo, r io.Reader) (*Upload, error) {
	name := s.newToken() + "-" + SafeFilename(field.Filename)
	target := filepath.Join(s.dir, name)
	f, err := s.create(target)
	if err != nil {
		return nil, writeFailure("create", err)
	}

	upload := &Upload{
		FieldName:        field.Name,
		OriginalFilename: field.Filename,
		MimeType:         field.ContentType,
		Path:             target,
	}
	log := s.log.With("filename", field.Filename, "path", target)
	log.Info("upload session started", "field", field.Name, "mime", field.ContentType)

	abort := func(cause error) (*Upload, error) {
		_ = f.Close()
		if err := upload.Remove(); err != nil {
			log.Error("remove partial upload failed", "error", err)
		}
		log.Warn("upload aborted", "bytes", upload.Size, "error", cause)
		return nil, cause
	}

	buf := make([]byte, copyBufferSize)
	nextReport := int64(progressInterval)
	for {
		if err := ctx.Err(); err != nil {
			return abort(err)
		}
		n, rerr := r.Read(buf)
		if n > 0 {
			if upload.Size+int64(n) > s.maxBytes {
				return abort(&SizeLimitError{Limit: s.maxBytes})
			}
			if _, werr := f.Write(buf[:n]); werr != nil {
				return abort(writeFailure("write", werr))
			}
			upload.Size += int64(n)
			if upload.Size >= nextReport {
				log.Debug("upload progress", "bytes", upload.Size)
				nextReport += progressInterval
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return abort(fmt.Errorf("read file field: %w", rerr))
		}
	}

	if syncer, ok := f.(interface{ Sync() error }); ok {
		if err := syncer.Sync(); err != nil {
			return abort(writeFailure("sync", err))
		}
	}
	if err := f.Close(); err != nil {
		if rmErr := upload.Remove(); rmErr != nil {
			log.Error("remove partial upload failed", "error", rmErr)
		}
		return nil, writeFailure("close", err)
	}
	log.Info("upload persisted", "bytes", upload.Size)
	return upload, nil
}

func createExclusive(target string) (io.WriteCloser, error) {
	return os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
}

// SafeFilename reduces a client supplied filename to a single path element
// without separators or control characters.
func SafeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	name = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f || r == '/' || r == ':' || r == utf8.RuneError {
			return -1
		}
		return r
	}, name)
	name = strings.TrimSpace(name)
	if name == "" || name == "." || name == ".." {
		return "upload"
	}
	if len(name) > maxNameBytes {
		ext := path.Ext(name)
		if len(ext) > 16 {
			ext = ""
		}
		base := name[:maxNameBytes-len(ext)]
		for !utf8.ValidString(base) {
			base = base[:len(base)-1]
		}
		name = base + ext
	}
	return name
}
