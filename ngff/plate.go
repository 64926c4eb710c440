package ngff

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	zarr "github.com/qri-io/ome-zarr-go"
)

// Plate is the layout of a high content screening plate. Wells holds one
// entry per grid position, rows × columns, indexed by WellIndex.
type Plate struct {
	Name         string
	Version      string
	FieldCount   int
	Rows         []string
	Columns      []string
	Wells        []Well
	Acquisitions []Acquisition

	slots map[int]int
}

// Well is a grid position of a plate. Path is empty for positions no "wells"
// entry refers to.
type Well struct {
	Path    string
	Row     int
	Column  int
	Index   int
	Samples []WellSample
}

type Acquisition struct {
	ID                int
	Name              string
	Description       string
	MaximumFieldCount int
	StartTime         string
	EndTime           string
}

// WellSample is one field of view imaged in a well
type WellSample struct {
	PlateIndex int
	WellIndex  int
	FieldIndex int
	SiteID     string
	// ImagePath is the image group declared by the well
	ImagePath string
	// ImageRef is the key used to look the image up in the series list
	ImageRef string
	// Series is the global series index of the image, -1 when not found
	Series int
	// Acquisition is the acquisition slot, -1 when unlinked
	Acquisition int
}

// WellImage is an entry of a well's "images" list
type WellImage struct {
	Path        string
	Acquisition int
	// HasAcquisition is false when the entry names no acquisition
	HasAcquisition bool
}

// RowLetter returns the name of row r: "A" for 0, "Z" for 25, "AA" for 26
func RowLetter(r int) string {
	if r < 0 {
		return ""
	}
	var b []byte
	for n := r + 1; n > 0; n = (n - 1) / 26 {
		b = append([]byte{byte('A' + (n-1)%26)}, b...)
	}
	return string(b)
}

// RowIndex is the inverse of RowLetter. Letters are case insensitive.
func RowIndex(s string) (int, error) {
	if s == "" {
		return -1, errors.New("empty row name")
	}
	n := 0
	for _, r := range strings.ToUpper(s) {
		if r < 'A' || r > 'Z' {
			return -1, fmt.Errorf("invalid row name %q", s)
		}
		n = n*26 + int(r-'A'+1)
	}
	return n - 1, nil
}

// WellIndex is the position of a well in the row-major grid of a plate
func WellIndex(row, col, columns int) int {
	return row*columns + col
}

// AcquisitionSlot returns the position in Acquisitions of the acquisition
// with the given id
func (p *Plate) AcquisitionSlot(id int) (int, bool) {
	slot, ok := p.slots[id]
	return slot, ok
}

// Well returns the well at row and col
func (p *Plate) Well(row, col int) (*Well, bool) {
	if row < 0 || row >= len(p.Rows) || col < 0 || col >= len(p.Columns) {
		return nil, false
	}
	return &p.Wells[WellIndex(row, col, len(p.Columns))], true
}

// SampleCount is the number of well samples over all wells
func (p *Plate) SampleCount() int {
	n := 0
	for _, w := range p.Wells {
		n += len(w.Samples)
	}
	return n
}

// ParsePlate decodes the "plate" attribute. Attributes without one return a
// nil plate. A plate without rows, columns or wells is malformed. Wells whose
// position can't be resolved are left out and reported in the returned error
// alongside the plate.
func ParsePlate(attrs zarr.Attributes) (*Plate, error) {
	v, ok := attrs.Get(AttrPlate)
	if !ok || v.IsNull() {
		return nil, nil
	}
	m, ok := v.AsMap()
	if !ok {
		return nil, malformed("plate is a %s, not an object", v.Kind())
	}
	rows, ok := m.List("rows")
	if !ok {
		return nil, malformed("plate has no rows")
	}
	cols, ok := m.List("columns")
	if !ok {
		return nil, malformed("plate has no columns")
	}
	wells, ok := m.List("wells")
	if !ok {
		return nil, malformed("plate has no wells")
	}

	p := &Plate{slots: map[int]int{}}
	p.Name, _ = m.String("name")
	p.Version, _ = m.String("version")
	p.FieldCount, _ = m.Int("field_count")
	for i, r := range rows {
		p.Rows = append(p.Rows, entryName(r, RowLetter(i)))
	}
	for i, c := range cols {
		p.Columns = append(p.Columns, entryName(c, strconv.Itoa(i+1)))
	}

	if acqs, ok := m.List("acquisitions"); ok {
		for i, a := range acqs {
			acq := parseAcquisition(a, i)
			p.slots[acq.ID] = i
			p.Acquisitions = append(p.Acquisitions, acq)
		}
	}

	p.Wells = make([]Well, len(p.Rows)*len(p.Columns))
	for r := range p.Rows {
		for c := range p.Columns {
			idx := WellIndex(r, c, len(p.Columns))
			p.Wells[idx] = Well{Row: r, Column: c, Index: idx}
		}
	}

	var errs []error
	for i, w := range wells {
		wm, ok := w.AsMap()
		if !ok {
			errs = append(errs, malformed("wells[%d] is not an object", i))
			continue
		}
		path, ok := wm.String("path")
		if !ok {
			errs = append(errs, malformed("wells[%d] has no path", i))
			continue
		}
		row, col, err := wellCoords(wm, path, p)
		if err != nil {
			errs = append(errs, malformed("wells[%d] %q: %s", i, path, err))
			continue
		}
		if row < 0 || row >= len(p.Rows) || col < 0 || col >= len(p.Columns) {
			errs = append(errs, malformed("wells[%d] %q: position (%d, %d) outside %dx%d plate", i, path, row, col, len(p.Rows), len(p.Columns)))
			continue
		}
		p.Wells[WellIndex(row, col, len(p.Columns))].Path = path
	}
	return p, errors.Join(errs...)
}

// entryName reads a row or column entry, either a bare name or an object with
// a "name" field
func entryName(v zarr.Value, fallback string) string {
	if s, ok := v.AsString(); ok {
		return s
	}
	if m, ok := v.AsMap(); ok {
		if s, ok := m.String("name"); ok {
			return s
		}
	}
	return fallback
}

func parseAcquisition(v zarr.Value, i int) Acquisition {
	acq := Acquisition{ID: i}
	m, ok := v.AsMap()
	if !ok {
		return acq
	}
	if id, ok := m.Int("id"); ok {
		acq.ID = id
	}
	acq.Name, _ = m.String("name")
	acq.Description, _ = m.String("description")
	acq.MaximumFieldCount, _ = m.Int("maximumfieldcount")
	acq.StartTime = timestamp(m, "starttime")
	acq.EndTime = timestamp(m, "endtime")
	return acq
}

// timestamp reads a time that may be stored as text or as epoch milliseconds
func timestamp(m zarr.Attributes, key string) string {
	if s, ok := m.String(key); ok {
		return s
	}
	if n, ok := m.Int(key); ok {
		return strconv.Itoa(n)
	}
	return ""
}

// wellCoordResolver derives a well's row and column from one representation
type wellCoordResolver func(well zarr.Attributes, path string, p *Plate) (row, col int, ok bool)

// wellCoordResolvers are tried in order, the first to succeed wins
var wellCoordResolvers = []wellCoordResolver{
	explicitCoords("row_index", "column_index"),
	explicitCoords("rowIndex", "columnIndex"),
	namedCoords,
	pathCoords,
}

func wellCoords(well zarr.Attributes, path string, p *Plate) (row, col int, err error) {
	for _, resolve := range wellCoordResolvers {
		if row, col, ok := resolve(well, path, p); ok {
			return row, col, nil
		}
	}
	return -1, -1, errors.New("cannot determine row and column")
}

func explicitCoords(rowKey, colKey string) wellCoordResolver {
	return func(well zarr.Attributes, _ string, _ *Plate) (int, int, bool) {
		row, rok := well.Int(rowKey)
		col, cok := well.Int(colKey)
		return row, col, rok && cok
	}
}

// namedCoords looks the last two path segments up in the plate's row and
// column names
func namedCoords(_ zarr.Attributes, path string, p *Plate) (int, int, bool) {
	rowName, colName, ok := lastTwo(path)
	if !ok {
		return -1, -1, false
	}
	row, col := indexOf(p.Rows, rowName), indexOf(p.Columns, colName)
	return row, col, row >= 0 && col >= 0
}

// pathCoords parses the last two path segments, each as letters or a zero
// based number. A numeric column segment is the column index itself, so "B/3"
// lands in the fourth column when the plate's column names don't match "3".
func pathCoords(_ zarr.Attributes, path string, _ *Plate) (int, int, bool) {
	rowName, colName, ok := lastTwo(path)
	if !ok {
		return -1, -1, false
	}
	row, ok := segmentIndex(rowName)
	if !ok {
		return -1, -1, false
	}
	col, ok := segmentIndex(colName)
	if !ok {
		return -1, -1, false
	}
	return row, col, true
}

func segmentIndex(seg string) (int, bool) {
	if i, err := RowIndex(seg); err == nil {
		return i, true
	}
	i, err := strconv.Atoi(seg)
	if err != nil || i < 0 {
		return -1, false
	}
	return i, true
}

func lastTwo(path string) (string, string, bool) {
	segs := strings.Split(strings.Trim(path, "/"), "/")
	if len(segs) < 2 {
		return "", "", false
	}
	return segs[len(segs)-2], segs[len(segs)-1], true
}

func indexOf(list []string, s string) int {
	for i, el := range list {
		if strings.EqualFold(el, s) {
			return i
		}
	}
	return -1
}

// ParseWell decodes the "images" list of a well group. Attributes without a
// "well" entry return no images.
func ParseWell(attrs zarr.Attributes) ([]WellImage, error) {
	v, ok := attrs.Get(AttrWell)
	if !ok || v.IsNull() {
		return nil, nil
	}
	m, ok := v.AsMap()
	if !ok {
		return nil, malformed("well is a %s, not an object", v.Kind())
	}
	images, ok := m.List("images")
	if !ok {
		return nil, malformed("well has no images")
	}
	out := make([]WellImage, 0, len(images))
	for i, el := range images {
		im, ok := el.AsMap()
		if !ok {
			return nil, malformed("images[%d] is not an object", i)
		}
		img := WellImage{Acquisition: -1}
		img.Path, _ = im.String("path")
		if acq, ok := im.Int("acquisition"); ok {
			img.Acquisition, img.HasAcquisition = acq, true
		}
		out = append(out, img)
	}
	return out, nil
}

// BindPlate reads the images of every well named by the plate and records
// them as well samples. wellAttrs returns the attributes of a well group,
// seriesOf maps an image key to its global series index or -1.
func BindPlate(p *Plate, wellAttrs func(key string) zarr.Attributes, table *ResolutionTable, seriesOf func(key string) int, logger *slog.Logger) {
	if logger == nil {
		logger = discardLogger()
	}
	for w := range p.Wells {
		well := &p.Wells[w]
		if well.Path == "" {
			continue
		}
		images, err := ParseWell(wellAttrs(well.Path))
		if err != nil {
			logger.Warn("skipping well", "path", well.Path, "error", err)
			continue
		}
		for i, img := range images {
			ref := zarr.JoinKey(well.Path, strconv.Itoa(i))
			if _, ok := table.ResolutionCount[zarr.JoinKey(ref, "0")]; ok {
				ref = zarr.JoinKey(ref, "0")
			}
			sample := WellSample{
				PlateIndex:  0,
				WellIndex:   well.Index,
				FieldIndex:  i,
				SiteID:      fmt.Sprintf("WellSample:0:%d:%d", well.Index, i),
				ImagePath:   zarr.JoinKey(well.Path, img.Path),
				ImageRef:    ref,
				Series:      seriesOf(ref),
				Acquisition: -1,
			}
			if img.HasAcquisition {
				if slot, ok := p.AcquisitionSlot(img.Acquisition); ok {
					sample.Acquisition = slot
				} else {
					logger.Warn("unknown acquisition", "path", well.Path, "field", i, "acquisition", img.Acquisition)
				}
			}
			well.Samples = append(well.Samples, sample)
		}
	}
}
