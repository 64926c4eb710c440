package ngff

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	zarr "github.com/qri-io/ome-zarr-go"
)

// attribute keys read from group documents
const (
	AttrMultiscales = "multiscales"
	AttrPlate       = "plate"
	AttrWell        = "well"
	AttrOmero       = "omero"
	AttrLabels      = "labels"
	AttrImageLabel  = "image-label"
	AttrSource      = "source"
)

// DefaultDimensionOrder applies to arrays whose multiscale declares no axes.
// Their shapes are read as (t, c, z, y, x).
const DefaultDimensionOrder = "XYZCT"

// canonicalFill lists the axes added, each to the front, when fewer than five
// are declared
var canonicalFill = []string{"x", "y", "c", "z", "t"}

type AxisType string

const (
	AxisTime    AxisType = "time"
	AxisChannel AxisType = "channel"
	AxisSpace   AxisType = "space"
)

type Axis struct {
	Name string
	Type AxisType
	Unit string
}

// CoordinateTransformation maps array indices onto physical coordinates
type CoordinateTransformation struct {
	Type        string
	Scale       []float64
	Translation []float64
	Path        string
}

// Dataset is one resolution level of a multiscale
type Dataset struct {
	Path                      string
	CoordinateTransformations []CoordinateTransformation
}

// Multiscale is one entry of a group's "multiscales" list: an image pyramid
// ordered from full resolution to coarsest
type Multiscale struct {
	Name                      string
	Version                   string
	Type                      string
	Axes                      []Axis
	Datasets                  []Dataset
	CoordinateTransformations []CoordinateTransformation
}

// Dimensions returns the lower-cased axis names, padded to five when fewer are
// declared. A multiscale without axes has no dimensions.
func (m Multiscale) Dimensions() []string {
	if len(m.Axes) == 0 {
		return nil
	}
	dims := make([]string, 0, 5)
	for _, a := range m.Axes {
		dims = append(dims, strings.ToLower(a.Name))
	}
	if len(dims) < 5 {
		for _, axis := range canonicalFill {
			if !contains(dims, axis) {
				dims = append([]string{axis}, dims...)
			}
		}
	}
	return dims
}

// ParseMultiscales decodes the "multiscales" list of a group. Entries that
// can't be used are left out and reported in the returned error, which wraps
// ErrMalformedAttributes.
func ParseMultiscales(attrs zarr.Attributes) ([]Multiscale, error) {
	v, ok := attrs.Get(AttrMultiscales)
	if !ok || v.IsNull() {
		return nil, nil
	}
	list, ok := v.AsList()
	if !ok {
		return nil, malformed("multiscales is a %s, not a list", v.Kind())
	}
	var (
		out  []Multiscale
		errs []error
	)
	for i, el := range list {
		m, err := parseMultiscale(el)
		if err != nil {
			errs = append(errs, malformed("multiscales[%d]: %s", i, err))
			continue
		}
		out = append(out, m)
	}
	return out, errors.Join(errs...)
}

func parseMultiscale(v zarr.Value) (Multiscale, error) {
	m := Multiscale{}
	attrs, ok := v.AsMap()
	if !ok {
		return m, fmt.Errorf("entry is a %s, not an object", v.Kind())
	}
	m.Name, _ = attrs.String("name")
	m.Version, _ = attrs.String("version")
	m.Type, _ = attrs.String("type")

	if axes, ok := attrs.List("axes"); ok {
		for i, a := range axes {
			axis, err := parseAxis(a)
			if err != nil {
				return m, fmt.Errorf("axes[%d]: %s", i, err)
			}
			m.Axes = append(m.Axes, axis)
		}
	}

	datasets, ok := attrs.List("datasets")
	if !ok || len(datasets) == 0 {
		return m, errors.New("no datasets")
	}
	for i, d := range datasets {
		ds, ok := d.AsMap()
		if !ok {
			return m, fmt.Errorf("datasets[%d] is not an object", i)
		}
		path, ok := ds.String("path")
		if !ok {
			return m, fmt.Errorf("datasets[%d] has no path", i)
		}
		m.Datasets = append(m.Datasets, Dataset{
			Path:                      path,
			CoordinateTransformations: parseTransformations(ds),
		})
	}
	m.CoordinateTransformations = parseTransformations(attrs)
	return m, nil
}

func parseAxis(v zarr.Value) (Axis, error) {
	if name, ok := v.AsString(); ok {
		return Axis{Name: name}, nil
	}
	attrs, ok := v.AsMap()
	if !ok {
		return Axis{}, fmt.Errorf("axis is a %s", v.Kind())
	}
	name, ok := attrs.String("name")
	if !ok {
		return Axis{}, errors.New("axis has no name")
	}
	a := Axis{Name: name}
	if t, ok := attrs.String("type"); ok {
		a.Type = AxisType(t)
	}
	if u, ok := attrs.String("unit"); ok {
		a.Unit = u
	} else if u, ok := attrs.String("units"); ok {
		a.Unit = u
	}
	return a, nil
}

func parseTransformations(attrs zarr.Attributes) []CoordinateTransformation {
	list, ok := attrs.List("coordinateTransformations")
	if !ok {
		return nil
	}
	var out []CoordinateTransformation
	for _, el := range list {
		m, ok := el.AsMap()
		if !ok {
			continue
		}
		ct := CoordinateTransformation{}
		ct.Type, _ = m.String("type")
		ct.Path, _ = m.String("path")
		ct.Scale = floats(m, "scale")
		ct.Translation = floats(m, "translation")
		out = append(out, ct)
	}
	return out
}

func floats(attrs zarr.Attributes, key string) []float64 {
	list, ok := attrs.List(key)
	if !ok {
		return nil
	}
	out := make([]float64, 0, len(list))
	for _, v := range list {
		if f, ok := v.AsFloat(); ok {
			out = append(out, f)
		}
	}
	return out
}

// ResolutionTable accumulates the multiscales of every group visited, in
// visit order
type ResolutionTable struct {
	// Series holds the level paths of each series, full resolution first
	Series [][]string
	// Multiscales holds the entry each series was built from
	Multiscales []Multiscale
	// Groups holds the group key each series was declared on
	Groups []string
	// PathDimensions maps level paths to their lower-cased axis names
	PathDimensions map[string][]string
	// ResolutionIndex maps level paths to their position in their series
	ResolutionIndex map[string]int
	// ResolutionCount maps the full resolution path of each series to the
	// number of levels
	ResolutionCount map[string]int

	seriesOf map[string]int
	log      *slog.Logger
}

func NewResolutionTable(logger *slog.Logger) *ResolutionTable {
	if logger == nil {
		logger = discardLogger()
	}
	return &ResolutionTable{
		PathDimensions:  map[string][]string{},
		ResolutionIndex: map[string]int{},
		ResolutionCount: map[string]int{},
		seriesOf:        map[string]int{},
		log:             logger,
	}
}

// Add records every multiscale declared in the attributes of the group at
// groupKey. Each entry becomes a new series, numbered after all series added
// before it. Malformed entries are logged and skipped.
func (t *ResolutionTable) Add(groupKey string, attrs zarr.Attributes) {
	multiscales, err := ParseMultiscales(attrs)
	if err != nil {
		t.log.Warn("skipping multiscales", "path", groupKey, "error", err)
	}
	for _, m := range multiscales {
		t.addMultiscale(groupKey, m)
	}
}

func (t *ResolutionTable) addMultiscale(groupKey string, m Multiscale) {
	series := len(t.Series)
	dims := m.Dimensions()
	paths := make([]string, len(m.Datasets))
	for i, ds := range m.Datasets {
		p := zarr.JoinKey(groupKey, ds.Path)
		paths[i] = p
		if i == 0 {
			t.ResolutionCount[p] = len(m.Datasets)
		}
		t.ResolutionIndex[p] = i
		t.PathDimensions[p] = dims
		t.seriesOf[p] = series
	}
	t.Series = append(t.Series, paths)
	t.Multiscales = append(t.Multiscales, m)
	t.Groups = append(t.Groups, groupKey)
	t.log.Debug("added multiscale", "path", groupKey, "series", series, "levels", len(paths))
}

// SeriesOf returns the series a level path belongs to
func (t *ResolutionTable) SeriesOf(path string) (int, bool) {
	s, ok := t.seriesOf[path]
	return s, ok
}

// Multiscale returns the multiscale a level path was declared in and the key
// of the group declaring it
func (t *ResolutionTable) Multiscale(path string) (Multiscale, string, bool) {
	s, ok := t.seriesOf[path]
	if !ok {
		return Multiscale{}, "", false
	}
	return t.Multiscales[s], t.Groups[s], true
}

// Dataset returns the dataset entry of a level path
func (t *ResolutionTable) Dataset(path string) (Dataset, bool) {
	m, _, ok := t.Multiscale(path)
	if !ok {
		return Dataset{}, false
	}
	i := t.ResolutionIndex[path]
	if i >= len(m.Datasets) {
		return Dataset{}, false
	}
	return m.Datasets[i], true
}

// DimensionOrder returns the five letter dimension order of a level path: its
// axes reversed and upper-cased, so the fastest varying axis comes first
func (t *ResolutionTable) DimensionOrder(path string) string {
	return dimensionOrder(t.PathDimensions[path])
}

func dimensionOrder(dims []string) string {
	if len(dims) == 0 {
		return DefaultDimensionOrder
	}
	var sb strings.Builder
	for i := len(dims) - 1; i >= 0; i-- {
		sb.WriteString(strings.ToUpper(dims[i]))
	}
	return sb.String()
}

// OrderPaths regroups a flat list of array paths so the levels of every series
// are contiguous. Paths belonging to no series keep their relative order at
// the front, followed by the levels of each series in ascending series order.
func (t *ResolutionTable) OrderPaths(paths []string) []string {
	out := append([]string(nil), paths...)
	for _, levels := range t.Series {
		kept := out[:0:0]
		for _, p := range out {
			if !contains(levels, p) {
				kept = append(kept, p)
			}
		}
		for _, p := range levels {
			if contains(paths, p) {
				kept = append(kept, p)
			}
		}
		out = kept
	}
	return out
}

// Reset clears every table
func (t *ResolutionTable) Reset() {
	t.Series = nil
	t.Multiscales = nil
	t.Groups = nil
	clear(t.PathDimensions)
	clear(t.ResolutionIndex)
	clear(t.ResolutionCount)
	clear(t.seriesOf)
}

func contains(list []string, s string) bool {
	for _, el := range list {
		if el == s {
			return true
		}
	}
	return false
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
