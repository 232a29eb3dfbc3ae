package bgzip

import (
	"errors"
	"fmt"
	"io"

	"github.com/vertti/bgzkit/internal/block"
	"github.com/vertti/bgzkit/internal/codec"
)

const (
	defaultBufferSize = 50 << 20
	defaultReadChunk  = 256 << 10
)

// ReaderOptions configures a Reader.
type ReaderOptions struct {
	Workers    int // parallel inflate workers (default: NumCPU)
	BufferSize int // decompression buffer size (default: 50 MiB, min: block.MaxBlockSize)
	ReadChunk  int // raw read size per fetch from the source (default: 256 KiB)
}

// Reader decompresses a BGZF stream. It fills a fixed decompression buffer
// one batch at a time and serves Read calls out of it, carrying any partial
// trailing block across refills.
type Reader struct {
	r       io.Reader
	workers int

	buf         []byte // decompression buffer
	start, stop int    // window of inflated bytes not yet served

	in      []byte // raw BGZF bytes not yet consumed by the planner
	scratch []byte
	eof     bool // underlying reader exhausted
}

// NewReader returns a Reader decompressing the BGZF stream from r.
func NewReader(r io.Reader, opts *ReaderOptions) (*Reader, error) {
	if opts == nil {
		opts = &ReaderOptions{}
	}
	bufSize := opts.BufferSize
	if bufSize == 0 {
		bufSize = defaultBufferSize
	}
	if bufSize < block.MaxBlockSize {
		return nil, fmt.Errorf("bgzip: buffer size %d cannot hold a %d byte block", bufSize, block.MaxBlockSize)
	}
	readChunk := opts.ReadChunk
	if readChunk == 0 {
		readChunk = defaultReadChunk
	}
	return &Reader{
		r:       r,
		workers: opts.Workers,
		buf:     make([]byte, bufSize),
		scratch: make([]byte, readChunk),
	}, nil
}

// Read serves inflated bytes, refilling the decompression buffer when it
// runs dry. It returns io.EOF once the source is exhausted at a block
// boundary; a source ending inside a block is reported as an unexpected EOF.
func (r *Reader) Read(p []byte) (int, error) {
	if r.start == r.stop {
		if err := r.fill(); err != nil {
			return 0, err
		}
		if r.start == r.stop {
			return 0, io.EOF
		}
	}
	n := copy(p, r.buf[r.start:r.stop])
	r.start += n
	return n, nil
}

// fill inflates the next batch into the buffer. On return either the window
// holds data, or the stream is cleanly finished.
func (r *Reader) fill() error {
	r.start, r.stop = 0, 0
	for {
		if len(r.in) > 0 {
			res, err := codec.InflateBatch([][]byte{r.in}, r.buf, r.workers, false)
			if err != nil {
				return err
			}
			if res.BytesRead > 0 {
				r.in = append(r.in[:0], r.in[res.BytesRead:]...)
			}
			r.stop = res.BytesWritten
			if res.BytesWritten > 0 {
				return nil
			}
			if res.BytesRead > 0 {
				continue // consumed empty blocks only, keep going
			}
		}
		if r.eof {
			if len(r.in) > 0 {
				return fmt.Errorf("bgzip: stream ends inside a block: %w", io.ErrUnexpectedEOF)
			}
			return nil
		}
		if err := r.fetch(); err != nil {
			return err
		}
	}
}

// fetch tops up the raw input buffer with one chunk from the source.
func (r *Reader) fetch() error {
	n, err := r.r.Read(r.scratch)
	r.in = append(r.in, r.scratch[:n]...)
	if err != nil {
		if errors.Is(err, io.EOF) {
			r.eof = true
			return nil
		}
		return fmt.Errorf("reading compressed input: %w", err)
	}
	return nil
}
