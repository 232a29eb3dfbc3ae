package block

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/klauspost/compress/flate"
)

// Inflater decompresses single blocks. It holds reusable DEFLATE state, so
// each executor worker creates one at pool startup and the per-block loop
// allocates nothing.
type Inflater struct {
	src bytes.Reader
	fr  io.ReadCloser
}

// NewInflater returns an Inflater ready for use.
func NewInflater() *Inflater {
	inf := &Inflater{}
	inf.fr = flate.NewReader(&inf.src)
	return inf
}

// Inflate decompresses blk's payload into dst, which must have length
// blk.InflatedSize. The decompressed stream must end exactly at that length
// and match the tailer's CRC.
func (inf *Inflater) Inflate(dst []byte, blk *Block) error {
	inf.src.Reset(blk.Payload)
	if err := inf.fr.(flate.Resetter).Reset(&inf.src, nil); err != nil {
		return fmt.Errorf("%w: %v", ErrDeflate, err)
	}
	if _, err := io.ReadFull(inf.fr, dst); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return fmt.Errorf("%w: payload inflated to fewer than %d bytes", ErrSizeMismatch, len(dst))
		}
		return fmt.Errorf("%w: %v", ErrDeflate, err)
	}
	var one [1]byte
	switch n, err := inf.fr.Read(one[:]); {
	case n != 0:
		return fmt.Errorf("%w: payload inflated past %d bytes", ErrSizeMismatch, len(dst))
	case err != nil && !errors.Is(err, io.EOF):
		return fmt.Errorf("%w: %v", ErrDeflate, err)
	}
	if crc := crc32.ChecksumIEEE(dst); crc != blk.CRC {
		return fmt.Errorf("%w: got %08x, want %08x", ErrChecksum, crc, blk.CRC)
	}
	return nil
}

// Deflater compresses single input windows into framed blocks. Like
// Inflater it is created once per worker and reused across blocks.
type Deflater struct {
	fw  *flate.Writer
	out sliceWriter
}

// NewDeflater returns a Deflater compressing at the maximum level.
func NewDeflater() (*Deflater, error) {
	d := &Deflater{}
	var err error
	d.fw, err = flate.NewWriter(&d.out, flate.BestCompression)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeflate, err)
	}
	return d, nil
}

// Deflate compresses src into one complete block at the start of dst,
// writing header, payload, and tailer. src must be at most MaxDataSize
// bytes and dst at least MaxBlockSize. It returns the block's on-wire size.
func (d *Deflater) Deflate(dst, src []byte) (int, error) {
	if len(src) > MaxDataSize {
		return 0, fmt.Errorf("%w: input window of %d bytes exceeds %d", ErrDeflate, len(src), MaxDataSize)
	}
	if len(dst) < MaxBlockSize {
		return 0, fmt.Errorf("%w: output buffer of %d bytes is smaller than %d", ErrDeflate, len(dst), MaxBlockSize)
	}
	d.out.reset(dst[DataOffset : MaxBlockSize-tailerSize])
	d.fw.Reset(&d.out)
	if _, err := d.fw.Write(src); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDeflate, err)
	}
	if err := d.fw.Close(); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDeflate, err)
	}
	n := d.out.n
	putHeader(dst, n)
	putTailer(dst[DataOffset+n:], crc32.ChecksumIEEE(src), len(src))
	return MetadataSize + n, nil
}

// sliceWriter writes into a fixed slice and fails once it is full, bounding
// the deflated payload to the block size ceiling.
type sliceWriter struct {
	buf []byte
	n   int
}

func (w *sliceWriter) reset(buf []byte) {
	w.buf = buf
	w.n = 0
}

func (w *sliceWriter) Write(p []byte) (int, error) {
	n := copy(w.buf[w.n:], p)
	w.n += n
	if n < len(p) {
		return n, errors.New("block payload does not fit the on-wire size ceiling")
	}
	return n, nil
}
