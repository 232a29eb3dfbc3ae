package block

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deflateBlock frames data as a single BGZF block.
func deflateBlock(t *testing.T, data []byte) []byte {
	t.Helper()
	d, err := NewDeflater()
	require.NoError(t, err)
	dst := make([]byte, MaxBlockSize)
	n, err := d.Deflate(dst, data)
	require.NoError(t, err)
	return dst[:n]
}

func TestDeflateParse_RoundTrip(t *testing.T) {
	t.Parallel()

	data := []byte("ABCDEFGH")
	wire := deflateBlock(t, data)

	cur := NewCursor(wire)
	blk, err := Parse(&cur)
	require.NoError(t, err)

	assert.Equal(t, len(wire), blk.Size)
	assert.Equal(t, len(data), blk.InflatedSize)
	assert.Equal(t, crc32.ChecksumIEEE(data), blk.CRC)
	assert.Equal(t, len(wire), cur.Offset())
	assert.Nil(t, cur.Tail())

	out := make([]byte, blk.InflatedSize)
	require.NoError(t, NewInflater().Inflate(out, &blk))
	assert.Equal(t, data, out)
}

func TestDeflate_EmptyInputMatchesEOFSentinel(t *testing.T) {
	t.Parallel()

	wire := deflateBlock(t, nil)
	assert.Len(t, wire, 28)
	assert.Equal(t, EOFBlock, wire)

	cur := NewCursor(wire)
	blk, err := Parse(&cur)
	require.NoError(t, err)
	assert.Zero(t, blk.InflatedSize)
	assert.Zero(t, blk.CRC)
	require.NoError(t, NewInflater().Inflate(nil, &blk))
}

func TestDeflate_WindowTooLarge(t *testing.T) {
	t.Parallel()

	d, err := NewDeflater()
	require.NoError(t, err)
	_, err = d.Deflate(make([]byte, MaxBlockSize), make([]byte, MaxDataSize+1))
	require.ErrorIs(t, err, ErrDeflate)
}

func TestDeflate_OutputTooSmall(t *testing.T) {
	t.Parallel()

	d, err := NewDeflater()
	require.NoError(t, err)
	_, err = d.Deflate(make([]byte, MaxBlockSize-1), []byte("abc"))
	require.ErrorIs(t, err, ErrDeflate)
}

func TestParse_BadMagic(t *testing.T) {
	t.Parallel()

	for i := range Magic {
		wire := deflateBlock(t, []byte("data"))
		wire[i] ^= 0xff

		cur := NewCursor(wire)
		_, err := Parse(&cur)
		require.ErrorIs(t, err, ErrMalformedHeader)
		assert.Zero(t, cur.Offset(), "failed parse must not advance the cursor")
	}
}

func TestParse_Truncated(t *testing.T) {
	t.Parallel()

	wire := deflateBlock(t, bytes.Repeat([]byte("truncate me at every seam "), 40))
	require.Greater(t, len(wire), 30)
	cuts := []int{0, 1, 4, 11, 12, 17, 18, 30, len(wire) - 8, len(wire) - 1}

	for _, cut := range cuts {
		cur := NewCursor(wire[:cut])
		_, err := Parse(&cur)
		require.ErrorIs(t, err, ErrNeedMoreBytes, "cut at %d", cut)
		assert.Zero(t, cur.Offset(), "cut at %d must restore the cursor", cut)
	}
}

// buildHeader assembles a block with an arbitrary extra subfield layout
// around the payload and tailer of a real block.
func buildHeader(t *testing.T, data []byte, subfields []byte) []byte {
	t.Helper()
	wire := deflateBlock(t, data)
	payloadAndTailer := wire[DataOffset:]

	size := headerSize + len(subfields) + len(payloadAndTailer)
	out := make([]byte, 0, size)
	out = append(out, Magic[:]...)
	out = append(out, 0, 0, 0, 0, 0, 0xff)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(subfields)))
	out = append(out, subfields...)
	out = append(out, payloadAndTailer...)

	// Patch BSIZE wherever the caller placed the BC subfield.
	if i := bytes.Index(subfields, []byte{'B', 'C', 2, 0}); i >= 0 {
		binary.LittleEndian.PutUint16(out[headerSize+i+4:], uint16(size-1))
	}
	return out
}

func TestParse_SkipsForeignSubfields(t *testing.T) {
	t.Parallel()

	data := []byte("payload under test")
	subfields := []byte{
		'X', 'Y', 3, 0, 1, 2, 3, // foreign subfield before BC
		'B', 'C', 2, 0, 0, 0, // BSIZE patched by buildHeader
		'Z', 'Z', 1, 0, 9, // foreign subfield after BC
	}
	wire := buildHeader(t, data, subfields)

	cur := NewCursor(wire)
	blk, err := Parse(&cur)
	require.NoError(t, err)
	assert.Equal(t, len(data), blk.InflatedSize)

	out := make([]byte, blk.InflatedSize)
	require.NoError(t, NewInflater().Inflate(out, &blk))
	assert.Equal(t, data, out)
}

func TestParse_MalformedExtras(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		subfields []byte
	}{
		{"no BC subfield", []byte{'X', 'Y', 2, 0, 1, 2}},
		{"BC wrong length", []byte{'B', 'C', 3, 0, 1, 2, 3}},
		{"subfield overruns extra area", []byte{'B', 'C', 200, 0, 1, 2}},
		{"extra area ends mid subfield header", []byte{'B', 'C', 2, 0, 0, 0, 'X'}},
		{"duplicate BC", []byte{'B', 'C', 2, 0, 0, 0, 'B', 'C', 2, 0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			wire := buildHeader(t, []byte("data"), tt.subfields)
			cur := NewCursor(wire)
			_, err := Parse(&cur)
			require.ErrorIs(t, err, ErrMalformedHeader)
			assert.Zero(t, cur.Offset())
		})
	}
}

func TestInflate_ChecksumMismatch(t *testing.T) {
	t.Parallel()

	wire := deflateBlock(t, []byte("checksummed content"))
	wire[len(wire)-8] ^= 0xff // first CRC byte of the tailer

	cur := NewCursor(wire)
	blk, err := Parse(&cur)
	require.NoError(t, err)

	err = NewInflater().Inflate(make([]byte, blk.InflatedSize), &blk)
	require.ErrorIs(t, err, ErrChecksum)
}

func TestInflate_SizeMismatch(t *testing.T) {
	t.Parallel()

	data := bytes.Repeat([]byte("abc"), 100)
	for _, delta := range []int{-1, 1} {
		wire := deflateBlock(t, data)
		binary.LittleEndian.PutUint32(wire[len(wire)-4:], uint32(len(data)+delta))

		cur := NewCursor(wire)
		blk, err := Parse(&cur)
		require.NoError(t, err)

		err = NewInflater().Inflate(make([]byte, blk.InflatedSize), &blk)
		require.ErrorIs(t, err, ErrSizeMismatch, "tailer size off by %d", delta)
	}
}

func TestInflate_CorruptPayload(t *testing.T) {
	t.Parallel()

	wire := deflateBlock(t, bytes.Repeat([]byte("not very random "), 64))
	for i := DataOffset; i < len(wire)-8; i++ {
		mutated := bytes.Clone(wire)
		mutated[i] ^= 0xff

		cur := NewCursor(mutated)
		blk, err := Parse(&cur)
		require.NoError(t, err)

		err = NewInflater().Inflate(make([]byte, blk.InflatedSize), &blk)
		require.Error(t, err, "corrupt payload byte %d must not verify", i)
		if !errors.Is(err, ErrDeflate) && !errors.Is(err, ErrSizeMismatch) {
			require.ErrorIs(t, err, ErrChecksum)
		}
	}
}

func TestEmittedBlocks_ReadableByGzip(t *testing.T) {
	t.Parallel()

	first := bytes.Repeat([]byte("interop "), 512)
	second := []byte("trailing block")

	var stream bytes.Buffer
	stream.Write(deflateBlock(t, first))
	stream.Write(deflateBlock(t, second))
	stream.Write(EOFBlock)

	gz, err := gzip.NewReader(&stream)
	require.NoError(t, err)
	defer gz.Close()

	out, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.Equal(t, append(bytes.Clone(first), second...), out)
}
