package zarr

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/jsonc"
)

type MetaType string

const (
	// MTAttributes stores userland metadata keyed by array name
	MTAttributes MetaType = ".zattrs"
	// MTArray is the key for storing metadata on an array store
	MTArray MetaType = ".zarray"
	// MTGroup is the key for storing group definitions on an array store
	MTGroup MetaType = ".zgroup"
	// MTMetadata is the key for composite metadata
	MTMetadata MetaType = ".zmetadata"
)

type MetaTyper interface {
	MetaType() MetaType
}

var metaTypes = map[MetaType]struct{}{
	MTAttributes: {},
	MTArray:      {},
	MTGroup:      {},
}

// relies on the fact that all keynames are 7 characters long
func KeyMetaType(s string) (mt MetaType, ok bool) {
	if len(s) < 7 {
		return mt, false
	}
	mt = MetaType(s[len(s)-7:])
	_, ok = metaTypes[mt]
	return mt, ok
}

// IsMetadataKey reports whether a store key names a structural metadata
// document rather than chunk data
func IsMetadataKey(key string) bool {
	if _, ok := KeyMetaType(key); ok {
		return true
	}
	return strings.HasSuffix(key, string(MTMetadata))
}

// ConsolidatedMetadata is the .zmetadata document some writers place at the
// store root, holding every metadata document of the hierarchy
type ConsolidatedMetadata struct {
	ConsolidatedFormat int                  `json:"zarr_consolidated_format"`
	Metadata           map[string]MetaTyper `json:"metadata"`
}

type consolidatedMetaDecoder struct {
	ConsolidatedFormat int                        `json:"zarr_consolidated_format"`
	Metadata           map[string]json.RawMessage `json:"metadata"`
}

func (m *ConsolidatedMetadata) UnmarshalJSON(d []byte) error {
	cd := consolidatedMetaDecoder{}
	if err := json.Unmarshal(d, &cd); err != nil {
		return err
	}
	cm := ConsolidatedMetadata{
		ConsolidatedFormat: cd.ConsolidatedFormat,
		Metadata:           map[string]MetaTyper{},
	}

	for key, data := range cd.Metadata {
		kt, ok := KeyMetaType(key)
		if !ok {
			return fmt.Errorf("invalid consoldated metadata key: %q", key)
		}

		switch kt {
		case MTArray:
			arr := &ArrayMeta{}
			if err := json.Unmarshal(data, arr); err != nil {
				return fmt.Errorf("reading %q metadata: %w", key, err)
			}
			cm.Metadata[key] = arr
		case MTAttributes:
			attr, err := ParseAttributes(data)
			if err != nil {
				return fmt.Errorf("reading %q attributes: %w", key, err)
			}
			cm.Metadata[key] = attr
		case MTGroup:
			grp := &Group{}
			if err := json.Unmarshal(data, grp); err != nil {
				return fmt.Errorf("reading %q group: %w", key, err)
			}
			cm.Metadata[key] = grp
		}
	}

	*m = cm
	return nil
}

// Attributes returns the consolidated attributes stored for a node path
func (m *ConsolidatedMetadata) Attributes(path string) (Attributes, bool) {
	attrs, ok := m.Metadata[metaKey(path, MTAttributes)].(Attributes)
	return attrs, ok
}

// Keys lists node paths below prefix that carry metadata of type mt
func (m *ConsolidatedMetadata) Keys(prefix string, mt MetaType) []string {
	set := map[string]struct{}{}
	for key := range m.Metadata {
		if !strings.HasSuffix(key, string(mt)) {
			continue
		}
		node := strings.TrimSuffix(strings.TrimSuffix(key, string(mt)), "/")
		if node == "" {
			continue
		}
		if prefix != "" {
			if !strings.HasPrefix(node, prefix+"/") {
				continue
			}
			node = strings.TrimPrefix(node, prefix+"/")
		}
		set[node] = struct{}{}
	}
	return sortedKeys(set)
}

func metaKey(path string, mt MetaType) string {
	if path == "" {
		return string(mt)
	}
	return path + "/" + string(mt)
}

// Each array requires essential configuration metadata to be stored,
// enabling correct interpretation of the stored data.
// This metadata is encoded using JSON and stored as the value of the
// “.zarray” key within an array store.
type ArrayMeta struct {
	// An integer defining the version of the storage specification to which
	// the array store adheres.
	ZarrFormat int `json:"zarr_format"`
	// A list of integers defining the length of each dimension of the array.
	Shape []int `json:"shape"`
	// A list of integers defining the length of each dimension of a chunk of the
	// array. Note that all chunks within a Zarr array have the same shape.
	Chunks []int `json:"chunks"`
	// A string defining a valid data type for the array.
	Dtype Dtype `json:"dtype"`
	// A JSON object identifying the primary compression codec and providing
	// configuration parameters, or null if no compressor is to be used. The
	// object MUST contain an "id" key identifying the codec to be used.
	Compressor *CompressionMeta `json:"compressor"`

	// A scalar value providing the default value to use for uninitialized
	// portions of the array, or null if no fill_value is to be used.
	FillValue interface{} `json:"fill_value"`
	// Either “C” or “F”, defining the layout of bytes within each chunk of the
	// array. “C” means row-major order, i.e., the last dimension varies fastest;
	// “F” means column-major order, i.e., the first dimension varies fastest.
	Order string `json:"order"`
	// A list of JSON objects providing codec configurations, or null if no
	// filters are to be applied. Each codec configuration object MUST contain a
	// "id" key identifying the codec to be used.
	Filters []Filter `json:"filters"`

	// optional fields

	// If present, either the string "." or "/"" definining the separator placed
	// between the dimensions of a chunk. If the value is not set, then the
	// default MUST be assumed to be ".", leading to chunk keys of the form “0.0”.
	// Arrays defined with "/" as the dimension separator can be considered to
	// have nested, or hierarchical, keys of the form “0/0” that SHOULD where
	// possible produce a directory-like structure.
	DimensionSeparator string `json:"dimension_separator,omitempty"`
}

func (a ArrayMeta) MetaType() MetaType { return MTArray }

// ParseArrayMeta decodes and validates a .zarray document
func ParseArrayMeta(d []byte) (*ArrayMeta, error) {
	m := &ArrayMeta{}
	if err := json.Unmarshal(jsonc.ToJSON(d), m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate checks the fields this package relies on when reading chunks
func (a *ArrayMeta) Validate() error {
	if len(a.Shape) == 0 {
		return fmt.Errorf("%w: zero-dimensional arrays", ErrUnsupported)
	}
	if len(a.Chunks) != len(a.Shape) {
		return fmt.Errorf("chunks rank %d != shape rank %d", len(a.Chunks), len(a.Shape))
	}
	for i, c := range a.Chunks {
		if c <= 0 {
			return fmt.Errorf("chunk dimension %d must be positive, got %d", i, c)
		}
		if a.Shape[i] < 0 {
			return fmt.Errorf("shape dimension %d must not be negative, got %d", i, a.Shape[i])
		}
	}
	if a.Order != "" && a.Order != "C" {
		return fmt.Errorf("%w: %q memory order", ErrUnsupported, a.Order)
	}
	if len(a.Filters) > 0 {
		return fmt.Errorf("%w: filters %q", ErrUnsupported, a.Filters[0].ID)
	}
	if _, err := a.Dtype.DataType(); err != nil {
		return err
	}
	switch a.DimensionSeparator {
	case "", ".", "/":
	default:
		return fmt.Errorf("invalid dimension_separator %q", a.DimensionSeparator)
	}
	return nil
}

// ChunkKey generates the key for a chunk given its grid indices, relative to
// the array path
func (a *ArrayMeta) ChunkKey(indices []int) string {
	sep := a.DimensionSeparator
	if sep == "" {
		sep = "."
	}
	parts := make([]string, len(indices))
	for i, idx := range indices {
		parts[i] = fmt.Sprintf("%d", idx)
	}
	return strings.Join(parts, sep)
}

type Filter struct {
	ID     string `json:"id"`
	Delta  string `json:"delta,omitempty"`
	Dtype  string `json:"dtype,omitempty"`
	AsType string `json:"astype,omitempty"`
}

const (
	// Not a Number
	FillValueNaN = "NaN"
	// Infinity
	FillValueInfinity = "Infinity"
	// -Infinity
	FillValueNegativeInfinity = "-Infinity"
)

// Group is created by storing group metadata under the “.zgroup” key under
// some logical path. E.g., a group exists at the root of an array store if the
// “.zgroup” key exists in the store, and a group exists at logical path
// “foo/bar” if the “foo/bar/.zgroup” key exists in the store.
type Group struct {
	ZarrFormat int `json:"zarr_format"`
}

func (g Group) MetaType() MetaType { return MTGroup }
