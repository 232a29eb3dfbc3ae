// Package bgzip provides streaming reader and writer wrappers over the
// batched BGZF codec. The Writer buffers input and flushes deflated blocks
// batch by batch; the Reader inflates into a fixed buffer and serves reads
// out of it.
package bgzip

import (
	"errors"
	"fmt"
	"io"

	"github.com/vertti/bgzkit/internal/block"
	"github.com/vertti/bgzkit/internal/codec"
)

var errClosed = errors.New("bgzip: use of closed writer")

// WriterOptions configures a Writer.
type WriterOptions struct {
	Workers int // parallel deflate workers (default: NumCPU)
	Buffers int // deflate output buffers per batch, 1..codec.MaxBatchBlocks (default: max)
}

// Writer compresses data written to it into a stream of BGZF blocks.
// Close drains pending input and appends the 28-byte EOF sentinel block.
type Writer struct {
	w       io.Writer
	workers int
	buf     []byte
	arena   [][]byte
	err     error
	closed  bool
}

// NewWriter returns a Writer emitting BGZF to w.
func NewWriter(w io.Writer, opts *WriterOptions) (*Writer, error) {
	if opts == nil {
		opts = &WriterOptions{}
	}
	buffers := opts.Buffers
	if buffers == 0 {
		buffers = codec.MaxBatchBlocks
	}
	if buffers < 1 || buffers > codec.MaxBatchBlocks {
		return nil, fmt.Errorf("bgzip: buffers must be within 1..%d, got %d", codec.MaxBatchBlocks, buffers)
	}

	arena := make([][]byte, buffers)
	backing := make([]byte, buffers*block.MaxBlockSize)
	for i := range arena {
		arena[i] = backing[i*block.MaxBlockSize : (i+1)*block.MaxBlockSize]
	}
	return &Writer{w: w, workers: opts.Workers, arena: arena}, nil
}

// Write buffers p and deflates full batches once enough input has
// accumulated to keep every worker busy.
func (w *Writer) Write(p []byte) (int, error) {
	if w.err != nil {
		return 0, w.err
	}
	if w.closed {
		return 0, errClosed
	}
	w.buf = append(w.buf, p...)
	if len(w.buf) > len(w.arena)*block.MaxDataSize {
		w.compress(false)
	}
	if w.err != nil {
		return 0, w.err
	}
	return len(p), nil
}

// Flush deflates all buffered input, including a final short block, without
// writing the EOF sentinel.
func (w *Writer) Flush() error {
	if w.err != nil {
		return w.err
	}
	if w.closed {
		return errClosed
	}
	w.compress(true)
	return w.err
}

// Close drains buffered input and terminates the stream with the EOF
// sentinel block.
func (w *Writer) Close() error {
	if w.closed {
		return w.err
	}
	w.closed = true
	if w.err != nil {
		return w.err
	}
	w.compress(true)
	if w.err != nil {
		return w.err
	}
	if _, err := w.w.Write(block.EOFBlock); err != nil {
		w.err = fmt.Errorf("writing EOF block: %w", err)
	}
	return w.err
}

// compress drains the input buffer batch by batch. Without drainRemainder a
// final window shorter than block.MaxDataSize stays buffered so it can fill
// up before being committed to a block.
func (w *Writer) compress(drainRemainder bool) {
	for len(w.buf) > 0 {
		src := w.buf
		if !drainRemainder {
			src = src[:len(src)-len(src)%block.MaxDataSize]
		}
		sizes, err := codec.DeflateBatch(src, w.arena, w.workers)
		if err != nil {
			w.err = fmt.Errorf("deflating batch: %w", err)
			return
		}
		for i, size := range sizes {
			if _, err := w.w.Write(w.arena[i][:size]); err != nil {
				w.err = fmt.Errorf("writing block: %w", err)
				return
			}
		}
		consumed := min(len(w.buf), len(sizes)*block.MaxDataSize)
		w.buf = append(w.buf[:0], w.buf[consumed:]...)
		if len(w.buf) < block.MaxDataSize && !drainRemainder {
			return
		}
	}
}
