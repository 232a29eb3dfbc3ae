// Package block implements BGZF block framing: parsing and emitting the
// gzip member header, the "BC" size subfield, and the CRC/size tailer that
// wrap each block's raw DEFLATE payload.
package block

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Magic bytes opening every BGZF block: gzip magic, DEFLATE method, FEXTRA set.
var Magic = [4]byte{0x1f, 0x8b, 0x08, 0x04}

const (
	// MaxBlockSize is the largest legal on-wire size of one block.
	MaxBlockSize = 0x10000

	// MaxDataSize is the largest input window fed to one deflated block.
	// Chosen so the compressed form fits MaxBlockSize even for
	// incompressible data.
	MaxDataSize = 0x0ff00

	headerSize         = 12 // magic + mtime + xfl + os + extra_len
	subfieldHeaderSize = 4  // two id bytes + little-endian length
	sizeSubfieldLen    = 2  // payload of the "BC" subfield
	tailerSize         = 8  // crc32 + inflated size

	// DataOffset is where the DEFLATE payload begins in a block emitted by
	// this package: fixed header plus the single "BC" subfield.
	DataOffset = headerSize + subfieldHeaderSize + sizeSubfieldLen

	// MetadataSize is the framing overhead of an emitted block.
	MetadataSize = DataOffset + tailerSize
)

// EOFBlock is the 28-byte empty block that terminates a BGZF stream.
// See the SAM/BAM specification.
var EOFBlock = []byte{
	0x1f, 0x8b, 0x08, 0x04, 0x00, 0x00, 0x00, 0x00, 0x00, 0xff, 0x06, 0x00,
	0x42, 0x43, 0x02, 0x00, 0x1b, 0x00,
	0x03, 0x00,
	0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00,
}

var (
	// ErrMalformedHeader reports a block whose header cannot be a BGZF
	// block: bad magic, a missing or malformed "BC" subfield, or an extra
	// area that does not close cleanly.
	ErrMalformedHeader = errors.New("bgzf: malformed block header")

	// ErrNeedMoreBytes signals that the cursor ends before the block does.
	// It is a planning signal, not a failure: the unconsumed suffix is the
	// caller's tail.
	ErrNeedMoreBytes = errors.New("bgzf: need more bytes")

	// ErrSizeMismatch reports a block whose inflated length disagrees with
	// its tailer.
	ErrSizeMismatch = errors.New("bgzf: inflated size mismatch")

	// ErrChecksum reports a block whose inflated payload fails CRC-32
	// verification against its tailer.
	ErrChecksum = errors.New("bgzf: checksum mismatch")

	// ErrDeflate reports a failure inside the DEFLATE primitive itself.
	ErrDeflate = errors.New("bgzf: deflate stream error")
)

// Block describes one parsed BGZF block. Payload is a view into the source
// buffer; Block borrows it and owns nothing.
type Block struct {
	Payload      []byte // raw DEFLATE bytes
	Size         int    // on-wire length, BSIZE+1
	InflatedSize int    // uncompressed length from the tailer
	CRC          uint32 // CRC-32 of the inflated payload, from the tailer
}

// Cursor is a parse position within a source buffer. Parse advances it one
// whole block at a time; a failed parse leaves it untouched.
type Cursor struct {
	buf []byte
	off int
}

// NewCursor returns a cursor at the start of buf.
func NewCursor(buf []byte) Cursor {
	return Cursor{buf: buf}
}

// Offset returns the number of bytes consumed so far.
func (c *Cursor) Offset() int { return c.off }

// Tail returns the unconsumed suffix, or nil when the buffer is exhausted.
func (c *Cursor) Tail() []byte {
	if c.off == len(c.buf) {
		return nil
	}
	return c.buf[c.off:]
}

// take consumes n bytes if available.
func (c *Cursor) take(n int) ([]byte, bool) {
	if len(c.buf)-c.off < n {
		return nil, false
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, true
}

// Parse reads one complete block at the cursor. On success the cursor has
// advanced past the block's tailer. On any error the cursor is restored to
// its pre-parse position; ErrNeedMoreBytes means the buffer ends inside the
// block and the remainder should be carried as a tail.
func Parse(cur *Cursor) (Block, error) {
	saved := *cur
	blk, err := parse(cur)
	if err != nil {
		*cur = saved
		return Block{}, err
	}
	return blk, nil
}

func parse(cur *Cursor) (Block, error) {
	hdr, ok := cur.take(headerSize)
	if !ok {
		return Block{}, ErrNeedMoreBytes
	}
	if !bytes.Equal(hdr[:len(Magic)], Magic[:]) {
		return Block{}, fmt.Errorf("%w: bad magic % x", ErrMalformedHeader, hdr[:len(Magic)])
	}
	extraLen := int(binary.LittleEndian.Uint16(hdr[10:12]))
	extra, ok := cur.take(extraLen)
	if !ok {
		return Block{}, ErrNeedMoreBytes
	}

	// Walk the extra subfields, debiting header plus payload for each.
	// Exactly one "BC" subfield of length 2 must be present; anything else
	// is skipped.
	size := -1
	for len(extra) > 0 {
		if len(extra) < subfieldHeaderSize {
			return Block{}, fmt.Errorf("%w: extra area does not close on a subfield boundary", ErrMalformedHeader)
		}
		payloadLen := int(binary.LittleEndian.Uint16(extra[2:4]))
		if len(extra) < subfieldHeaderSize+payloadLen {
			return Block{}, fmt.Errorf("%w: subfield overruns extra area", ErrMalformedHeader)
		}
		if extra[0] == 'B' && extra[1] == 'C' {
			if payloadLen != sizeSubfieldLen {
				return Block{}, fmt.Errorf("%w: BC subfield has length %d", ErrMalformedHeader, payloadLen)
			}
			if size >= 0 {
				return Block{}, fmt.Errorf("%w: duplicate BC subfield", ErrMalformedHeader)
			}
			size = int(binary.LittleEndian.Uint16(extra[4:6])) + 1
		}
		extra = extra[subfieldHeaderSize+payloadLen:]
	}
	if size < 0 {
		return Block{}, fmt.Errorf("%w: no BC size subfield", ErrMalformedHeader)
	}

	payloadLen := size - headerSize - extraLen - tailerSize
	if payloadLen < 0 {
		return Block{}, fmt.Errorf("%w: block size %d smaller than its framing", ErrMalformedHeader, size)
	}
	payload, ok := cur.take(payloadLen)
	if !ok {
		return Block{}, ErrNeedMoreBytes
	}
	tailer, ok := cur.take(tailerSize)
	if !ok {
		return Block{}, ErrNeedMoreBytes
	}
	inflatedSize := binary.LittleEndian.Uint32(tailer[4:8])
	if inflatedSize > MaxBlockSize {
		return Block{}, fmt.Errorf("%w: inflated size %d exceeds %d", ErrMalformedHeader, inflatedSize, MaxBlockSize)
	}

	return Block{
		Payload:      payload,
		Size:         size,
		InflatedSize: int(inflatedSize),
		CRC:          binary.LittleEndian.Uint32(tailer[:4]),
	}, nil
}

// putHeader writes the fixed header and the "BC" subfield for a block whose
// DEFLATE payload is deflatedLen bytes. dst must have at least DataOffset
// bytes.
func putHeader(dst []byte, deflatedLen int) {
	copy(dst, Magic[:])
	dst[4], dst[5], dst[6], dst[7] = 0, 0, 0, 0 // mtime
	dst[8] = 0                                  // xfl
	dst[9] = 0xff                               // OS unknown
	binary.LittleEndian.PutUint16(dst[10:12], subfieldHeaderSize+sizeSubfieldLen)
	dst[12], dst[13] = 'B', 'C'
	binary.LittleEndian.PutUint16(dst[14:16], sizeSubfieldLen)
	bsize := MetadataSize + deflatedLen - 1
	binary.LittleEndian.PutUint16(dst[16:18], uint16(bsize)) //nolint:gosec // bsize < MaxBlockSize by construction
}

// putTailer writes the CRC and inflated-size tailer. dst must have at least
// tailerSize bytes.
func putTailer(dst []byte, crc uint32, inflatedLen int) {
	binary.LittleEndian.PutUint32(dst[:4], crc)
	binary.LittleEndian.PutUint32(dst[4:8], uint32(inflatedLen)) //nolint:gosec // bounded by MaxDataSize
}
