package zarr

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

const (
	// Version is the zarr storage specification version this library reads
	// and writes
	Version = 2
)

// Array is a chunked N-dimensional array stored under a path in a Store
type Array struct {
	path  Path
	store Store
	mode  PersistenceMode
	meta  *ArrayMeta
	dtype DataType
}

// Create writes array metadata to path and returns the new, empty array.
// Every chunk of a new array reads as the fill value until written.
func Create(store Store, path string, m *ArrayMeta) (*Array, error) {
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}
	if m.ZarrFormat == 0 {
		m.ZarrFormat = Version
	}
	if m.Order == "" {
		m.Order = "C"
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return nil, err
	}
	if err := store.Put(p.Join(string(MTArray)).String(), bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return newArray(store, p, ModeReadWrite, m)
}

// CreateGroup writes group metadata and, when attrs is non-empty, the group's
// attributes to path
func CreateGroup(store Store, path string, attrs Attributes) error {
	p, err := NewPath(path)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Group{ZarrFormat: Version})
	if err != nil {
		return err
	}
	if err := store.Put(p.Join(string(MTGroup)).String(), bytes.NewReader(data)); err != nil {
		return err
	}
	if len(attrs) == 0 {
		return nil
	}
	return putAttributes(store, p, attrs)
}

// Open reads the array stored at path. A path without array metadata returns
// an error wrapping ErrNotfound.
func Open(store Store, path string, mode PersistenceMode) (*Array, error) {
	if mode != ModeRead && mode != ModeReadWrite {
		return nil, fmt.Errorf("%w: persistence mode %q", ErrUnsupported, mode)
	}
	p, err := NewPath(path)
	if err != nil {
		return nil, err
	}

	data, err := ReadAll(store, p.Join(string(MTArray)).String())
	if err != nil {
		if errors.Is(err, ErrNotfound) {
			return nil, fmt.Errorf("%w: array %q", ErrNotfound, p.String())
		}
		return nil, err
	}
	m, err := ParseArrayMeta(data)
	if err != nil {
		return nil, fmt.Errorf("array %q: %w", p.String(), err)
	}
	return newArray(store, p, mode, m)
}

func newArray(store Store, p Path, mode PersistenceMode, m *ArrayMeta) (*Array, error) {
	dt, err := m.Dtype.DataType()
	if err != nil {
		return nil, err
	}
	return &Array{
		path:  p,
		store: store,
		mode:  mode,
		meta:  m,
		dtype: dt,
	}, nil
}

func (a *Array) Path() string {
	return a.path.String()
}

func (a *Array) Meta() *ArrayMeta { return a.meta }

func (a *Array) Shape() []int { return append([]int(nil), a.meta.Shape...) }

func (a *Array) Chunks() []int { return append([]int(nil), a.meta.Chunks...) }

func (a *Array) Dtype() Dtype { return a.meta.Dtype }

// DataType is the element type Read returns a slice of
func (a *Array) DataType() DataType { return a.dtype }

// Attributes reads the array's .zattrs document. Arrays without one have
// empty attributes.
func (a *Array) Attributes() (Attributes, error) {
	return readAttributes(a.store, a.path)
}

// SetAttributes replaces the array's .zattrs document
func (a *Array) SetAttributes(attrs Attributes) error {
	if a.mode == ModeRead {
		return fmt.Errorf("%w: array %q opened read-only", ErrReadOnly, a.Path())
	}
	return putAttributes(a.store, a.path, attrs)
}

// Read returns the elements of the region [offset, offset+shape) in row-major
// order as a native slice matching DataType, e.g. []uint16 for "<u2".
// Regions exceeding the array's shape return a *RangeError.
func (a *Array) Read(shape, offset []int) (interface{}, error) {
	if err := checkRegion(a.meta.Shape, shape, offset); err != nil {
		return nil, err
	}
	size := a.dtype.Size()
	n := product(shape)
	buf := a.dtype.NewBuffer(n)
	if n == 0 {
		return buf, nil
	}

	raw := make([]byte, n*size)
	for _, p := range projections(a.meta.Chunks, shape, offset) {
		chunk, err := a.readChunk(p.ChunkCoords)
		if err != nil {
			return nil, err
		}
		copyRegion(raw, shape, p.OutSel, chunk, a.meta.Chunks, p.ChunkSel, p.Count, size)
	}

	if err := binary.Read(bytes.NewReader(raw), a.meta.Dtype.Order(), buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// Write stores data, a native slice of the array's DataType holding the
// row-major elements of the region [offset, offset+shape). Partially covered
// chunks are read, updated and rewritten.
func (a *Array) Write(data interface{}, shape, offset []int) error {
	if a.mode == ModeRead {
		return fmt.Errorf("%w: array %q opened read-only", ErrReadOnly, a.Path())
	}
	if err := checkRegion(a.meta.Shape, shape, offset); err != nil {
		return err
	}
	dt, n, ok := BufferType(data)
	if !ok {
		return fmt.Errorf("%w: buffer type %T", ErrUnsupported, data)
	}
	if dt != a.dtype {
		return fmt.Errorf("buffer type %s does not match array type %s", dt, a.dtype)
	}
	if n != product(shape) {
		return fmt.Errorf("buffer holds %d elements, region needs %d", n, product(shape))
	}
	if n == 0 {
		return nil
	}

	src := &bytes.Buffer{}
	if err := binary.Write(src, a.meta.Dtype.Order(), data); err != nil {
		return err
	}

	size := a.dtype.Size()
	for _, p := range projections(a.meta.Chunks, shape, offset) {
		chunk, err := a.readChunk(p.ChunkCoords)
		if err != nil {
			return err
		}
		copyRegion(chunk, a.meta.Chunks, p.ChunkSel, src.Bytes(), shape, p.OutSel, p.Count, size)
		enc, err := a.meta.Compressor.Encode(chunk)
		if err != nil {
			return err
		}
		if err := a.store.Put(a.chunkPath(p.ChunkCoords).String(), bytes.NewReader(enc)); err != nil {
			return err
		}
	}
	return nil
}

// readChunk returns the decoded bytes of one chunk, or a chunk of fill
// values when the chunk has never been written
func (a *Array) readChunk(coords []int) ([]byte, error) {
	want := product(a.meta.Chunks) * a.dtype.Size()
	f, err := a.store.Get(a.chunkPath(coords).String())
	if err != nil {
		if errors.Is(err, ErrNotfound) {
			return a.fillChunk()
		}
		return nil, err
	}
	data, err := a.meta.Compressor.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding chunk %s: %w", a.meta.ChunkKey(coords), err)
	}
	if len(data) < want {
		return nil, fmt.Errorf("chunk %s holds %d bytes, expected %d", a.meta.ChunkKey(coords), len(data), want)
	}
	return data[:want], nil
}

func (a *Array) fillChunk() ([]byte, error) {
	v, err := fillValue(a.meta.FillValue)
	if err != nil {
		return nil, err
	}
	elem := encodeElement(a.dtype, a.meta.Dtype.Order(), v)
	return bytes.Repeat(elem, product(a.meta.Chunks)), nil
}

func (a *Array) chunkPath(coords []int) Path {
	return a.path.Join(a.meta.ChunkKey(coords))
}

func fillValue(fv interface{}) (float64, error) {
	switch v := fv.(type) {
	case nil:
		return 0, nil
	case float64:
		return v, nil
	case json.Number:
		return v.Float64()
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case string:
		switch v {
		case FillValueNaN:
			return math.NaN(), nil
		case FillValueInfinity:
			return math.Inf(1), nil
		case FillValueNegativeInfinity:
			return math.Inf(-1), nil
		}
	}
	return 0, fmt.Errorf("%w: fill_value %v", ErrUnsupported, fv)
}

func encodeElement(t DataType, order binary.ByteOrder, v float64) []byte {
	b := make([]byte, t.Size())
	switch t {
	case Int8:
		b[0] = byte(int8(v))
	case Uint8:
		b[0] = uint8(v)
	case Int16:
		order.PutUint16(b, uint16(int16(v)))
	case Uint16:
		order.PutUint16(b, uint16(v))
	case Int32:
		order.PutUint32(b, uint32(int32(v)))
	case Uint32:
		order.PutUint32(b, uint32(v))
	case Int64:
		order.PutUint64(b, uint64(int64(v)))
	case Uint64:
		order.PutUint64(b, uint64(v))
	case Float32:
		order.PutUint32(b, math.Float32bits(float32(v)))
	case Float64:
		order.PutUint64(b, math.Float64bits(v))
	}
	return b
}

func readAttributes(store Store, p Path) (Attributes, error) {
	data, err := ReadAll(store, p.Join(string(MTAttributes)).String())
	if err != nil {
		if errors.Is(err, ErrNotfound) {
			return Attributes{}, nil
		}
		return nil, err
	}
	return ParseAttributes(data)
}

func putAttributes(store Store, p Path, attrs Attributes) error {
	data, err := json.MarshalIndent(attrs, "", "    ")
	if err != nil {
		return err
	}
	return store.Put(p.Join(string(MTAttributes)).String(), bytes.NewReader(data))
}

// PersistenceMode controls what an opened array allows. Both modes require
// existing array metadata; new arrays are made with Create.
type PersistenceMode string

const (
	// ‘r’ means read only (must exist)
	ModeRead PersistenceMode = "r"
	// ‘r+’ means read/write (must exist)
	ModeReadWrite PersistenceMode = "r+"
)

type Path []string

// NewPath normalizes a logical path so keys are consistent across stores:
// backslashes become forward slashes, leading and trailing slashes are
// stripped, and runs of slashes collapse into one. The empty path is the
// store root.
func NewPath(posix string) (Path, error) {
	posix = strings.ReplaceAll(posix, `\`, Delimiter)
	var p Path
	for _, seg := range strings.Split(posix, Delimiter) {
		switch seg {
		case "":
			continue
		case ".", "..":
			return nil, fmt.Errorf("invalid path segment %q in %q", seg, posix)
		}
		p = append(p, seg)
	}
	return p, nil
}

func (p Path) String() string {
	return strings.Join(p, Delimiter)
}

func (p Path) Join(elems ...string) Path {
	joined := make(Path, 0, len(p)+len(elems))
	joined = append(joined, p...)
	for _, e := range elems {
		for _, seg := range strings.Split(e, Delimiter) {
			if seg != "" {
				joined = append(joined, seg)
			}
		}
	}
	return joined
}
