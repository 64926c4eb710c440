package ngff

import (
	"encoding/binary"
	"errors"
	"iter"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	zarr "github.com/qri-io/ome-zarr-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArray struct {
	shape  []int
	chunks []int
	dtype  zarr.DataType
}

// fakeSource serves attributes and zero-filled arrays from memory, counting
// opens per path
type fakeSource struct {
	groups map[string]zarr.Attributes
	arrays map[string]fakeArray
	opens  map[string]int
	reads  int
	open   string
	closed bool
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		groups: map[string]zarr.Attributes{},
		arrays: map[string]fakeArray{},
		opens:  map[string]int{},
	}
}

func (f *fakeSource) totalOpens() int {
	n := 0
	for _, c := range f.opens {
		n += c
	}
	return n
}

func (f *fakeSource) Open(key string) error {
	f.open = ""
	if _, ok := f.arrays[key]; !ok {
		return zarr.ErrNotfound
	}
	f.opens[key]++
	f.open = key
	return nil
}

func (f *fakeSource) Shape() []int            { return f.arrays[f.open].shape }
func (f *fakeSource) ChunkShape() []int       { return f.arrays[f.open].chunks }
func (f *fakeSource) DataType() zarr.DataType { return f.arrays[f.open].dtype }
func (f *fakeSource) IsLittleEndian() bool    { return true }

func (f *fakeSource) Read(shape, offset []int) (interface{}, error) {
	if f.open == "" {
		return nil, zarr.ErrNotOpen
	}
	f.reads++
	n := 1
	for _, s := range shape {
		n *= s
	}
	return f.arrays[f.open].dtype.NewBuffer(n), nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}

func (f *fakeSource) GroupAttributes(key string) zarr.Attributes { return f.groups[key] }
func (f *fakeSource) ArrayAttributes(key string) zarr.Attributes { return nil }

func (f *fakeSource) GroupKeys(key string) []string {
	var keys []string
	for k := range f.groups {
		if k != "" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeSource) ArrayKeys(key string) []string {
	var keys []string
	for k := range f.arrays {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (f *fakeSource) ListLeafKeys(prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		var keys []string
		for k := range f.groups {
			keys = append(keys, zarr.JoinKey(k, ".zgroup"), zarr.JoinKey(k, ".zattrs"))
		}
		for k := range f.arrays {
			keys = append(keys, zarr.JoinKey(k, ".zarray"), zarr.JoinKey(k, "0.0"))
		}
		keys = append(keys, OMEXMLKey, "OME/notes.txt")
		sort.Strings(keys)
		for _, k := range keys {
			if !yield(k, nil) {
				return
			}
		}
	}
}

func pyramidSource(t *testing.T) *fakeSource {
	f := newFakeSource()
	f.groups[""] = mustAttrs(t, `{"multiscales": [{
		"axes": ["t", "c", "z", "y", "x"],
		"datasets": [{"path": "0"}, {"path": "1"}, {"path": "2"}]
	}]}`)
	f.groups["labels"] = mustAttrs(t, `{"labels": ["cells"]}`)
	f.groups["labels/cells"] = mustAttrs(t, `{
		"image-label": {"version": "0.4"},
		"multiscales": [{"datasets": [{"path": "0"}]}]
	}`)
	f.arrays["0"] = fakeArray{shape: []int{2, 3, 4, 64, 128}, chunks: []int{1, 1, 1, 32, 64}, dtype: zarr.Uint16}
	f.arrays["1"] = fakeArray{shape: []int{2, 3, 4, 32, 64}, chunks: []int{1, 1, 1, 32, 64}, dtype: zarr.Uint16}
	f.arrays["2"] = fakeArray{shape: []int{2, 3, 4, 16, 32}, chunks: []int{1, 1, 1, 16, 32}, dtype: zarr.Uint16}
	f.arrays["labels/cells/0"] = fakeArray{shape: []int{64, 128}, chunks: []int{64, 128}, dtype: zarr.Uint8}
	return f
}

func TestReaderSeries(t *testing.T) {
	src := pyramidSource(t)
	r, err := NewReader(src, "/data/image.zarr")
	require.NoError(t, err)

	assert.Equal(t, 1, r.SeriesCount())
	assert.Equal(t, 3, r.ResolutionCount())
	// every level is opened once to read its shape, labels excluded
	assert.Equal(t, map[string]int{"0": 1, "1": 1, "2": 1}, src.opens)

	for res := 0; res < 3; res++ {
		require.NoError(t, r.SetResolution(res))
		cm, err := r.CoreMetadata()
		require.NoError(t, err)
		assert.Equal(t, res, cm.ResolutionIndex)
		assert.Equal(t, 3, cm.ResolutionCount)
		assert.Equal(t, "XYZCT", cm.DimensionOrder)
		assert.Equal(t, 24, cm.ImageCount)
		assert.Equal(t, 128>>res, cm.SizeX)
		assert.Equal(t, zarr.Uint16, cm.DataType)
	}
	assert.Error(t, r.SetResolution(3))
	assert.Error(t, r.SetSeries(1))

	require.NoError(t, r.SetResolution(0))
	assert.Equal(t, 64, r.OptimalTileWidth())
	assert.Equal(t, 32, r.OptimalTileHeight())

	assert.Equal(t, map[string][]string{"labels": {"cells"}}, r.Labels())
	assert.Contains(t, r.ImageLabels(), "labels/cells")
	assert.Nil(t, r.Plate())
	assert.Equal(t, []string{DomainLM, DomainEM, DomainUnknown}, r.Domains())
	assert.Empty(t, r.Annotations())
}

func TestReaderSkipsRedundantReopen(t *testing.T) {
	src := pyramidSource(t)
	r, err := NewReader(src, "/data/image.zarr")
	require.NoError(t, err)
	initial := src.totalOpens()

	buf := make([]byte, 128*64*2)
	_, err = r.OpenBytes(0, buf)
	require.NoError(t, err)
	assert.Equal(t, initial+1, src.totalOpens(), "level 0 reopened after init left level 2 open")

	// switching away and back without reading opens nothing
	require.NoError(t, r.SetResolution(2))
	require.NoError(t, r.SetResolution(0))
	require.NoError(t, r.SetSeries(0))
	assert.Equal(t, initial+1, src.totalOpens())

	_, err = r.OpenBytes(5, buf)
	require.NoError(t, err)
	assert.Equal(t, initial+1, src.totalOpens(), "same path needs no reopen")

	require.NoError(t, r.SetResolution(1))
	_, err = r.ReadRegion(0, buf, 0, 0, 64, 32)
	require.NoError(t, err)
	assert.Equal(t, initial+2, src.totalOpens())
	assert.Equal(t, 2, src.opens["1"])
	assert.Equal(t, 3, src.reads)

	_, err = r.ReadRegion(0, buf, 60, 0, 8, 8)
	assert.Error(t, err, "region beyond plane")
	_, err = r.ReadRegion(24, buf, 0, 0, 8, 8)
	assert.Error(t, err, "plane beyond image count")
	_, err = r.ReadRegion(0, buf[:10], 0, 0, 8, 8)
	assert.Error(t, err, "short buffer")
}

func TestReaderQuickRead(t *testing.T) {
	src := pyramidSource(t)
	_, err := NewReader(src, "/data/image.zarr", WithQuickRead(true, false))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"0": 1}, src.opens)

	src = pyramidSource(t)
	r, err := NewReader(src, "/data/image.zarr", WithQuickRead(true, true))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"0": 1, "1": 1, "2": 1}, src.opens)
	require.NoError(t, r.SetResolution(2))
	cm, err := r.CoreMetadata()
	require.NoError(t, err)
	assert.Equal(t, 32, cm.SizeX, "verification keeps the true shape")
}

func TestReaderQuickReadLevelMetadata(t *testing.T) {
	src := pyramidSource(t)
	src.groups[""] = mustAttrs(t, `{"multiscales": [{
		"axes": ["t", "c", "z", "y", "x"],
		"datasets": [
			{"path": "0", "coordinateTransformations": [{"type": "scale", "scale": [1, 1, 1, 1, 1]}]},
			{"path": "1", "coordinateTransformations": [{"type": "scale", "scale": [1, 1, 1, 2, 2]}]},
			{"path": "2"}
		]
	}]}`)
	r, err := NewReader(src, "/data/image.zarr", WithQuickRead(true, false))
	require.NoError(t, err)

	require.NoError(t, r.SetResolution(1))
	cm, err := r.CoreMetadata()
	require.NoError(t, err)
	assert.Equal(t, "1", cm.Path)
	require.Len(t, cm.CoordinateTransformations, 1)
	assert.Equal(t, []float64{1, 1, 1, 2, 2}, cm.CoordinateTransformations[0].Scale)
	assert.Len(t, cm.Axes, 5)

	require.NoError(t, r.SetResolution(2))
	cm, err = r.CoreMetadata()
	require.NoError(t, err)
	assert.Nil(t, cm.CoordinateTransformations, "levels don't inherit the reference level's transformations")
}

func TestReaderIncludeLabelsAndFlatten(t *testing.T) {
	r, err := NewReader(pyramidSource(t), "/data/image.zarr", WithIncludeLabels(true))
	require.NoError(t, err)
	assert.Equal(t, 2, r.SeriesCount())
	require.NoError(t, r.SetSeries(1))
	assert.Equal(t, "labels/cells/0", r.SeriesPath())
	assert.Equal(t, 1, r.ResolutionCount())

	r, err = NewReader(pyramidSource(t), "/data/image.zarr", WithFlattenResolutions(true))
	require.NoError(t, err)
	assert.Equal(t, 3, r.SeriesCount())
	assert.Equal(t, 1, r.ResolutionCount())
	require.NoError(t, r.SetSeries(2))
	assert.Equal(t, "2", r.SeriesPath())
}

func TestReaderUsedFiles(t *testing.T) {
	r, err := NewReader(pyramidSource(t), "/data/image.zarr/")
	require.NoError(t, err)

	files, err := r.UsedFiles(true)
	require.NoError(t, err)
	assert.Contains(t, files, "/data/image.zarr/.zattrs")
	assert.Contains(t, files, "/data/image.zarr/0/.zarray")
	assert.Contains(t, files, "/data/image.zarr/"+OMEXMLKey)
	for _, f := range files {
		assert.NotContains(t, f, "labels", f)
		assert.False(t, strings.HasSuffix(f, "0.0"), f)
		assert.NotContains(t, f, "notes.txt")
	}

	files, err = r.UsedFiles(false)
	require.NoError(t, err)
	assert.Contains(t, files, "/data/image.zarr/0/0.0")
	assert.Contains(t, files, "/data/image.zarr/OME/notes.txt")
	for _, f := range files {
		assert.NotContains(t, f, "labels", f)
	}

	r, err = NewReader(pyramidSource(t), "/data/image.zarr", WithListPixels(false), WithIncludeLabels(true))
	require.NoError(t, err)
	files, err = r.UsedFiles(false)
	require.NoError(t, err)
	assert.Contains(t, files, "/data/image.zarr/labels/cells/.zattrs")
	assert.NotContains(t, files, "/data/image.zarr/0/0.0")
}

func TestReaderClose(t *testing.T) {
	src := pyramidSource(t)
	r, err := NewReader(src, "/data/image.zarr")
	require.NoError(t, err)

	require.NoError(t, r.Close())
	assert.True(t, src.closed)
	assert.True(t, errors.Is(r.SetSeries(0), ErrClosed))
	_, err = r.OpenBytes(0, make([]byte, 16))
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = r.UsedFiles(true)
	assert.True(t, errors.Is(err, ErrClosed))
	_, err = r.CoreMetadata()
	assert.True(t, errors.Is(err, ErrClosed))
	assert.Equal(t, 0, r.SeriesCount())
	assert.NoError(t, r.Close())
}

func TestReaderErrors(t *testing.T) {
	_, err := NewReader(newFakeSource(), "/data/empty.zarr")
	assert.True(t, errors.Is(err, ErrNoSeries))

	src := newFakeSource()
	src.groups[""] = mustAttrs(t, `{"multiscales": [{"axes": ["y", "x"], "datasets": [{"path": "0"}]}]}`)
	src.arrays["0"] = fakeArray{shape: []int{2, 3, 4}, chunks: []int{1, 3, 4}, dtype: zarr.Uint8}
	// three dimensions but only y and x declared: the c axis is filled in,
	// so a rank three array resolves
	_, err = NewReader(src, "/data/ok.zarr")
	require.NoError(t, err)

	src.arrays["0"] = fakeArray{shape: []int{1, 2, 3, 4, 5, 6}, chunks: []int{1, 1, 1, 1, 5, 6}, dtype: zarr.Uint8}
	_, err = NewReader(src, "/data/bad.zarr")
	var dm *DimensionMismatchError
	require.True(t, errors.As(err, &dm))
	assert.Equal(t, "0", dm.Path)
}

// writePlate lays out a two well plate on disk: A/1 holds a (c, y, x) uint16
// pyramid with a label image, B/2 a single level (y, x) uint8 image
func writePlate(t *testing.T, dir string) []uint16 {
	t.Helper()
	s, err := zarr.NewLocalStore(dir)
	require.NoError(t, err)

	require.NoError(t, zarr.CreateGroup(s, "", mustAttrs(t, `{"plate": {
		"name": "test plate",
		"field_count": 1,
		"rows": [{"name": "A"}, {"name": "B"}],
		"columns": [{"name": "1"}, {"name": "2"}],
		"acquisitions": [{"id": 7, "name": "run"}],
		"wells": [
			{"path": "A/1", "rowIndex": 0, "columnIndex": 0},
			{"path": "B/2"}
		]
	}}`)))
	require.NoError(t, zarr.CreateGroup(s, "A", nil))
	require.NoError(t, zarr.CreateGroup(s, "B", nil))
	require.NoError(t, zarr.CreateGroup(s, "A/1", mustAttrs(t, `{"well": {"images": [{"path": "0", "acquisition": 7}]}}`)))
	require.NoError(t, zarr.CreateGroup(s, "B/2", mustAttrs(t, `{"well": {"images": [{"path": "0", "acquisition": 99}]}}`)))

	require.NoError(t, zarr.CreateGroup(s, "A/1/0", mustAttrs(t, `{
		"multiscales": [{
			"version": "0.4",
			"name": "field",
			"axes": [
				{"name": "c", "type": "channel"},
				{"name": "y", "type": "space", "unit": "micrometer"},
				{"name": "x", "type": "space", "unit": "micrometer"}
			],
			"datasets": [
				{"path": "0", "coordinateTransformations": [{"type": "scale", "scale": [1, 0.5, 0.5]}]},
				{"path": "1", "coordinateTransformations": [{"type": "scale", "scale": [1, 1, 1]}]}
			],
			"coordinateTransformations": [{"type": "translation", "translation": [0, 10, 20]}]
		}],
		"omero": {"channels": [{"label": "DAPI"}, {"label": "GFP"}]}
	}`)))
	le := zarr.NewDtype(zarr.Uint16, zarr.BOLittleEndian)
	a, err := zarr.Create(s, "A/1/0/0", &zarr.ArrayMeta{Shape: []int{2, 4, 6}, Chunks: []int{1, 2, 3}, Dtype: le})
	require.NoError(t, err)
	pixels := make([]uint16, 2*4*6)
	for i := range pixels {
		pixels[i] = uint16(i)
	}
	require.NoError(t, a.Write(pixels, []int{2, 4, 6}, []int{0, 0, 0}))
	_, err = zarr.Create(s, "A/1/0/1", &zarr.ArrayMeta{Shape: []int{2, 2, 3}, Chunks: []int{1, 2, 3}, Dtype: le})
	require.NoError(t, err)

	require.NoError(t, zarr.CreateGroup(s, "A/1/0/labels", mustAttrs(t, `{"labels": ["cells"]}`)))
	require.NoError(t, zarr.CreateGroup(s, "A/1/0/labels/cells", mustAttrs(t, `{
		"image-label": {"version": "0.4", "source": {"image": "../../"}},
		"multiscales": [{"axes": ["y", "x"], "datasets": [{"path": "0"}]}]
	}`)))
	_, err = zarr.Create(s, "A/1/0/labels/cells/0", &zarr.ArrayMeta{Shape: []int{4, 6}, Chunks: []int{4, 6}, Dtype: zarr.NewDtype(zarr.Uint8, zarr.BONotRelevant)})
	require.NoError(t, err)

	require.NoError(t, zarr.CreateGroup(s, "B/2/0", mustAttrs(t, `{
		"multiscales": [{"axes": ["y", "x"], "datasets": [{"path": "0"}]}]
	}`)))
	_, err = zarr.Create(s, "B/2/0/0", &zarr.ArrayMeta{Shape: []int{3, 5}, Chunks: []int{3, 5}, Dtype: zarr.NewDtype(zarr.Uint8, zarr.BONotRelevant), FillValue: float64(9)})
	require.NoError(t, err)
	return pixels
}

func TestOpenPlate(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "plate.zarr")
	pixels := writePlate(t, dir)

	r, err := Open(filepath.Join(dir, "A", "1"), WithSaveAttributes(true))
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, 2, r.SeriesCount())
	assert.Equal(t, []string{DomainHCS}, r.Domains())

	cm, err := r.CoreMetadata()
	require.NoError(t, err)
	assert.Equal(t, "A/1/0/0", cm.Path)
	assert.Equal(t, CanonicalShape{SizeT: 1, SizeC: 2, SizeZ: 1, SizeY: 4, SizeX: 6, DimensionOrder: "XYCZT"}, cm.CanonicalShape)
	assert.Equal(t, 2, cm.ResolutionCount)
	assert.True(t, cm.LittleEndian)
	assert.Equal(t, 3, r.OptimalTileWidth())
	assert.Equal(t, 2, r.OptimalTileHeight())

	// plane 1 is the second channel
	buf := make([]byte, 4*6*2)
	n, err := r.OpenBytes(1, buf)
	require.NoError(t, err)
	require.Equal(t, len(buf), n)
	expect := make([]byte, 0, len(buf))
	for _, v := range pixels[24:] {
		expect = binary.LittleEndian.AppendUint16(expect, v)
	}
	assert.Equal(t, expect, buf)

	tile := make([]byte, 2*2*2)
	_, err = r.ReadRegion(0, tile, 2, 1, 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []uint16{8, 9, 14, 15}, []uint16{
		binary.LittleEndian.Uint16(tile[0:]), binary.LittleEndian.Uint16(tile[2:]),
		binary.LittleEndian.Uint16(tile[4:]), binary.LittleEndian.Uint16(tile[6:]),
	})

	require.Len(t, cm.Axes, 3)
	assert.Equal(t, Axis{Name: "x", Type: AxisSpace, Unit: "micrometer"}, cm.Axes[2])
	require.Len(t, cm.CoordinateTransformations, 1)
	assert.Equal(t, []float64{1, 0.5, 0.5}, cm.CoordinateTransformations[0].Scale)

	require.NoError(t, r.SetResolution(1))
	cm, err = r.CoreMetadata()
	require.NoError(t, err)
	assert.Equal(t, "A/1/0/1", cm.Path)
	require.Len(t, cm.CoordinateTransformations, 1)
	assert.Equal(t, "scale", cm.CoordinateTransformations[0].Type)
	assert.Equal(t, []float64{1, 1, 1}, cm.CoordinateTransformations[0].Scale)
	m, group, ok := r.Multiscale()
	require.True(t, ok)
	assert.Equal(t, "A/1/0", group)
	assert.Equal(t, "field", m.Name)
	require.Len(t, m.CoordinateTransformations, 1)
	assert.Equal(t, []float64{0, 10, 20}, m.CoordinateTransformations[0].Translation)

	require.NoError(t, r.SetSeries(1))
	cm, err = r.CoreMetadata()
	require.NoError(t, err)
	assert.Equal(t, "B/2/0/0", cm.Path)
	assert.Equal(t, []Axis{{Name: "y"}, {Name: "x"}}, cm.Axes)
	assert.Nil(t, cm.CoordinateTransformations)
	assert.Equal(t, zarr.Uint8, cm.DataType)
	plane := make([]byte, 15)
	_, err = r.OpenBytes(0, plane)
	require.NoError(t, err)
	assert.Equal(t, []byte{9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9, 9}, plane, "unwritten chunks read as the fill value")

	p := r.Plate()
	require.NotNil(t, p)
	assert.Equal(t, "test plate", p.Name)
	a1, _ := p.Well(0, 0)
	require.Len(t, a1.Samples, 1)
	assert.Equal(t, "A/1/0/0", a1.Samples[0].ImageRef)
	assert.Equal(t, 0, a1.Samples[0].Series)
	assert.Equal(t, 0, a1.Samples[0].Acquisition)
	b2, _ := p.Well(1, 1)
	assert.Equal(t, 3, b2.Index)
	require.Len(t, b2.Samples, 1)
	assert.Equal(t, 1, b2.Samples[0].Series)
	assert.Equal(t, -1, b2.Samples[0].Acquisition)

	assert.Nil(t, r.Omero(), "omero is read from the root group")
	assert.Equal(t, map[string][]string{"A/1/0/labels": {"cells"}}, r.Labels())
	assert.Equal(t, []string{"../../"}, r.ImageLabels()["A/1/0/labels/cells"].Source)

	var keys []string
	for _, a := range r.Annotations() {
		keys = append(keys, a.Key)
	}
	assert.Contains(t, keys, "")
	assert.Contains(t, keys, "A/1/0")

	files, err := r.UsedFiles(true)
	require.NoError(t, err)
	assert.Contains(t, files, filepath.ToSlash(dir)+"/A/1/0/0/.zarray")
	for _, f := range files {
		assert.True(t, zarr.IsMetadataKey(f), f)
		assert.NotContains(t, f, "/labels/")
	}
	files, err = r.UsedFiles(false)
	require.NoError(t, err)
	assert.Contains(t, files, filepath.ToSlash(dir)+"/A/1/0/0/1.0.0")
}
