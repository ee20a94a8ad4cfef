package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"os"

	"docchat/internal/logger"
)

const defaultMimeType = "application/octet-stream"

// FieldInfo is the header block of one multipart part.
type FieldInfo struct {
	Name        string
	Filename    string
	ContentType string
}

// Upload is the ephemeral record of a persisted file field. It never leaves
// the request that produced it.
type Upload struct {
	FieldName        string
	OriginalFilename string
	MimeType         string
	Path             string
	Size             int64
}

// Remove deletes the local file backing the upload.
func (u *Upload) Remove() error {
	if u == nil || u.Path == "" {
		return nil
	}
	if err := os.Remove(u.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// FileConsumer persists the payload of the designated file field.
type FileConsumer interface {
	Consume(ctx context.Context, field FieldInfo, r io.Reader) (*Upload, error)
}

// BoundaryFromContentType extracts the multipart boundary from a Content-Type header.
func BoundaryFromContentType(contentType string) (string, error) {
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidContentType, err)
	}
	if mediaType != "multipart/form-data" {
		return "", fmt.Errorf("%w: got %s", ErrInvalidContentType, mediaType)
	}
	boundary := params["boundary"]
	if boundary == "" {
		return "", fmt.Errorf("%w: missing boundary", ErrInvalidContentType)
	}
	return boundary, nil
}

// ExtractFile scans r part by part and hands the first file part named
// fieldName to consumer. Every other part, including repeats of fieldName,
// is drained and discarded. Parsing is incremental; no part is buffered.
func ExtractFile(ctx context.Context, r io.Reader, boundary, fieldName string, consumer FileConsumer, log *logger.Logger) (*Upload, error) {
	if log == nil {
		log = logger.Nop()
	}
	mr := multipart.NewReader(r, boundary)
	var upload *Upload
	fail := func(err error) (*Upload, error) {
		if rmErr := upload.Remove(); rmErr != nil {
			log.Error("remove upload after parse failure", "path", upload.Path, "error", rmErr)
		}
		return nil, err
	}

	for {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		part, err := mr.NextRawPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fail(fmt.Errorf("read multipart part: %w", err))
		}

		info, isFile := describePart(part)
		if info.Name != fieldName || !isFile || upload != nil {
			n, err := io.Copy(io.Discard, part)
			part.Close()
			if err != nil {
				return fail(fmt.Errorf("drain field %q: %w", info.Name, err))
			}
			log.Debug("discarded multipart field", "field", info.Name, "bytes", n)
			continue
		}

		u, err := consumer.Consume(ctx, info, part)
		part.Close()
		if err != nil {
			return fail(err)
		}
		upload = u
	}

	if upload == nil {
		return nil, ErrMissingFile
	}
	return upload, nil
}

// describePart reads the Content-Disposition and Content-Type of a part. A
// part is a file when its disposition carries a filename parameter.
func describePart(part *multipart.Part) (FieldInfo, bool) {
	info := FieldInfo{
		Name:        part.FormName(),
		ContentType: part.Header.Get("Content-Type"),
	}
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return info, false
	}
	filename, isFile := params["filename"]
	if !isFile {
		return info, false
	}
	info.Filename = part.FileName()
	if info.Filename == "" {
		info.Filename = filename
	}
	if info.Filename == "" {
		info.Filename = "upload"
	}
	if info.ContentType == "" {
		info.ContentType = defaultMimeType
	}
	return info, true
}
