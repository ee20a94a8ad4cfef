package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

const (
	defaultQueueDepth = 4
	defaultChunkSize  = 32 << 10
)

// Bridge turns a pull-based source into a bounded stream of chunks consumed
// through io.Reader. Run is the single producer; Read is the consumer side.
// The queue capacity bounds how far the producer can run ahead, so a slow
// parser stops further reads from the source.
type Bridge struct {
	ctx       context.Context
	src       io.Reader
	chunkSize int

	chunks chan []byte
	// err is written before chunks is closed and read only after.
	err error
	cur []byte

	done      chan struct{}
	closeOnce sync.Once
}

func NewBridge(ctx context.Context, src io.Reader, depth, chunkSize int) *Bridge {
	if depth <= 0 {
		depth = defaultQueueDepth
	}
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	return &Bridge{
		ctx:       ctx,
		src:       src,
		chunkSize: chunkSize,
		chunks:    make(chan []byte, depth),
		done:      make(chan struct{}),
	}
}

// Run pulls chunks from the source until end of stream, a read error, context
// cancellation or Close. End of stream is signalled exactly once by closing
// the queue; a read error is delivered to the consumer as its terminal error.
func (b *Bridge) Run() error {
	defer close(b.chunks)
	for {
		select {
		case <-b.done:
			return nil
		case <-b.ctx.Done():
			b.err = b.ctx.Err()
			return b.err
		default:
		}
		buf := make([]byte, b.chunkSize)
		n, err := b.src.Read(buf)
		if n > 0 {
			select {
			case b.chunks <- buf[:n]:
			case <-b.done:
				return nil
			case <-b.ctx.Done():
				b.err = b.ctx.Err()
				return b.err
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			b.err = fmt.Errorf("read request body: %w", err)
			return b.err
		}
	}
}

// Read implements io.Reader over the queued chunks.
func (b *Bridge) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	for len(b.cur) == 0 {
		select {
		case chunk, ok := <-b.chunks:
			if !ok {
				if b.err != nil {
					return 0, b.err
				}
				return 0, io.EOF
			}
			b.cur = chunk
		case <-b.ctx.Done():
			return 0, b.ctx.Err()
		}
	}
	n := copy(p, b.cur)
	b.cur = b.cur[n:]
	return n, nil
}

// Close tells the producer the consumer is finished. It does not close the source.
func (b *Bridge) Close() error {
	b.closeOnce.Do(func() { close(b.done) })
	return nil
}
