package ingest

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"

	"docchat/internal/logger"
)

// DefaultFileField is the only multipart field accepted as the upload.
const DefaultFileField = "file"

// Receiver runs the upload pipeline for one request body: the bridge reads
// the body, the extractor parses it, the sink persists the file field.
type Receiver struct {
	sink       FileConsumer
	field      string
	queueDepth int
	chunkSize  int
	log        *logger.Logger
}

type ReceiverOption func(*Receiver)

// WithQueue sets the bridge queue depth and chunk size.
func WithQueue(depth, chunkSize int) ReceiverOption {
	return func(r *Receiver) {
		r.queueDepth = depth
		r.chunkSize = chunkSize
	}
}

// WithField overrides the accepted file field name.
func WithField(name string) ReceiverOption {
	return func(r *Receiver) {
		if name != "" {
			r.field = name
		}
	}
}

func NewReceiver(sink FileConsumer, log *logger.Logger, opts ...ReceiverOption) *Receiver {
	if log == nil {
		log = logger.Nop()
	}
	r := &Receiver{
		sink:       sink,
		field:      DefaultFileField,
		queueDepth: defaultQueueDepth,
		chunkSize:  defaultChunkSize,
		log:        log.With("component", "Receiver"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Receive persists the file field of a multipart body. When it returns an
// error no file from this call remains on disk.
func (r *Receiver) Receive(ctx context.Context, body io.Reader, contentType string) (*Upload, error) {
	boundary, err := BoundaryFromContentType(contentType)
	if err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	bridge := NewBridge(gctx, body, r.queueDepth, r.chunkSize)
	g.Go(bridge.Run)

	var upload *Upload
	g.Go(func() error {
		defer bridge.Close()
		u, err := ExtractFile(gctx, bridge, boundary, r.field, r.sink, r.log)
		if err != nil {
			return err
		}
		upload = u
		return nil
	})

	if err := g.Wait(); err != nil {
		// The producer may fail after the parser already finished.
		if rmErr := upload.Remove(); rmErr != nil {
			r.log.Error("remove upload after pipeline failure", "path", upload.Path, "error", rmErr)
		}
		return nil, err
	}
	return upload, nil
}
