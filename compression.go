package zarr

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/qri-io/dataset/compression"
)

// codec ids as written by numcodecs
const (
	CodecNull = "null"
	CodecZlib = "zlib"
	CodecGzip = "gzip"
	CodecZstd = "zstd"
	CodecLZ4  = "lz4"
)

// CompressionMeta defines compression settings zarr-go understands
type CompressionMeta struct {
	ID      string `json:"id"`
	Cname   string `json:"cname,omitempty"`
	Clevel  int    `json:"clevel,omitempty"`
	Shuffle int    `json:"shuffle,omitempty"`
	Level   int    `json:"level,omitempty"`
}

func (m *CompressionMeta) id() string {
	if m == nil || m.ID == "" {
		return CodecNull
	}
	return m.ID
}

func (m *CompressionMeta) Decompressor(r io.ReadCloser) (io.ReadCloser, error) {
	switch m.id() {
	case CodecNull:
		return r, nil
	case CodecZlib:
		return zlib.NewReader(r)
	case CodecGzip:
		return compression.Decompressor(CodecGzip, r)
	case CodecZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	case CodecLZ4:
		return newLZ4BlockReader(r)
	}
	return nil, fmt.Errorf("%w: compressor %q", ErrUnsupported, m.id())
}

// Decode returns the decompressed bytes of one stored chunk
func (m *CompressionMeta) Decode(r io.ReadCloser) ([]byte, error) {
	defer r.Close()
	dr, err := m.Decompressor(r)
	if err != nil {
		return nil, err
	}
	defer dr.Close()
	return io.ReadAll(dr)
}

// Encode compresses one chunk for storage
func (m *CompressionMeta) Encode(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	switch m.id() {
	case CodecNull:
		return raw, nil
	case CodecZlib:
		level := m.Level
		if level == 0 {
			level = zlib.DefaultCompression
		}
		w, err := zlib.NewWriterLevel(&buf, level)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case CodecGzip:
		w := gzip.NewWriter(&buf)
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case CodecZstd:
		w, err := zstd.NewWriter(&buf)
		if err != nil {
			return nil, err
		}
		if _, err := w.Write(raw); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
	case CodecLZ4:
		dst := make([]byte, 4+lz4.CompressBlockBound(len(raw)))
		binary.LittleEndian.PutUint32(dst, uint32(len(raw)))
		n, err := lz4.CompressBlock(raw, dst[4:], nil)
		if err != nil {
			return nil, err
		}
		return dst[:4+n], nil
	default:
		return nil, fmt.Errorf("%w: compressor %q", ErrUnsupported, m.id())
	}
	return buf.Bytes(), nil
}

// numcodecs LZ4 prefixes each block with its decompressed size as a
// little-endian uint32
func newLZ4BlockReader(r io.ReadCloser) (io.ReadCloser, error) {
	defer r.Close()
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(src) < 4 {
		return nil, fmt.Errorf("lz4 block too short: %d bytes", len(src))
	}
	size := binary.LittleEndian.Uint32(src)
	dst := make([]byte, size)
	if size > 0 {
		n, err := lz4.UncompressBlock(src[4:], dst)
		if err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		dst = dst[:n]
	}
	return io.NopCloser(bytes.NewReader(dst)), nil
}
