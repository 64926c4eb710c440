package ngff

import (
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"

	zarr "github.com/qri-io/ome-zarr-go"
)

// ArraySource opens and reads one array at a time
type ArraySource interface {
	Open(key string) error
	Shape() []int
	ChunkShape() []int
	DataType() zarr.DataType
	IsLittleEndian() bool
	Read(shape, offset []int) (interface{}, error)
	Close() error
}

// AttributeSource answers attribute and hierarchy lookups. Keys are relative
// to the store root, the root group being "".
type AttributeSource interface {
	GroupAttributes(key string) zarr.Attributes
	ArrayAttributes(key string) zarr.Attributes
	GroupKeys(key string) []string
	ArrayKeys(key string) []string
}

// Source is everything a Reader needs from a store
type Source interface {
	ArraySource
	AttributeSource
	ListLeafKeys(prefix string) iter.Seq2[string, error]
}

var _ Source = (*zarr.Service)(nil)

// OMEXMLKey is the OME-XML sidecar some writers place beside the image data
const OMEXMLKey = "OME/METADATA.ome.xml"

// imaging domains reported by Domains
const (
	DomainHCS     = "High-Content Screening (HCS)"
	DomainLM      = "Light Microscopy"
	DomainEM      = "Electron Microscopy (EM)"
	DomainUnknown = "Unknown"
)

// CoreMetadata describes one resolution level of one series
type CoreMetadata struct {
	Path            string
	DataType        zarr.DataType
	Shape           []int
	ChunkShape      []int
	LittleEndian    bool
	ResolutionIndex int
	ResolutionCount int
	ImageCount      int
	CanonicalShape

	// Axes are the axes declared by the level's multiscale, nil when it
	// declares none
	Axes                      []Axis
	// CoordinateTransformations are the level's own transformations. Those
	// shared by every level are on the Multiscale.
	CoordinateTransformations []CoordinateTransformation
}

// Annotation is an attribute document kept when Options.SaveAttributes is set
type Annotation struct {
	Key  string
	JSON string
}

// Reader reads the image pyramids of an OME-NGFF store. Series are numbered
// in attribute walk order, each with its resolution levels full resolution
// first. A Reader is not safe for concurrent use.
type Reader struct {
	src  Source
	root string
	opts Options
	log  *slog.Logger

	table *ResolutionTable
	// one entry per array path, levels of a series contiguous
	core []CoreMetadata
	// index into core of the first level of each series
	seriesStart []int

	plate       *Plate
	omero       *Omero
	labels      map[string][]string
	imageLabels map[string]*ImageLabel
	annotations []Annotation

	series     int
	resolution int
	lastOpened string
	closed     bool
}

// Open opens the store holding root and reads its image pyramids. root may
// name any path inside the store; it is truncated to the store root unless
// an alternate root is configured.
func Open(root string, opts ...Option) (*Reader, error) {
	o := buildOptions(opts)
	storeRoot := zarr.StoreRoot(root)
	if o.AltStoreRoot != "" {
		storeRoot = o.AltStoreRoot
	}
	store, err := zarr.OpenStore(storeRoot, o.storeOptions()...)
	if err != nil {
		return nil, err
	}
	o.Logger.Info("opened store", "root", storeRoot, "type", store.Type())

	svc := zarr.NewService(store, o.Logger)
	r, err := NewReader(svc, storeRoot, WithOptions(o))
	if err != nil {
		svc.Close()
		return nil, err
	}
	return r, nil
}

// NewReader reads the image pyramids of src. root names the store for
// UsedFiles. The reader owns src and closes it on Close.
func NewReader(src Source, root string, opts ...Option) (*Reader, error) {
	o := buildOptions(opts)
	r := &Reader{
		src:         src,
		root:        strings.TrimSuffix(root, "/"),
		opts:        o,
		log:         o.Logger,
		table:       NewResolutionTable(o.Logger),
		labels:      map[string][]string{},
		imageLabels: map[string]*ImageLabel{},
	}
	if err := r.init(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Reader) init() error {
	rootAttrs := r.src.GroupAttributes("")
	if len(rootAttrs) > 0 {
		r.table.Add("", rootAttrs)
		omero, err := ParseOmero(rootAttrs)
		if err != nil {
			r.log.Warn("skipping omero metadata", "path", "", "error", err)
		}
		r.omero = omero
		r.annotate("", rootAttrs)
	}

	groups := r.src.GroupKeys("")
	SortKeys(groups)
	for _, key := range groups {
		attrs := r.src.GroupAttributes(key)
		if len(attrs) == 0 {
			continue
		}
		if r.opts.IncludeLabels || !isLabelKey(key) {
			r.table.Add(key, attrs)
		}
		if names, err := ParseLabels(attrs); err != nil {
			r.log.Warn("skipping labels", "path", key, "error", err)
		} else if names != nil {
			r.labels[key] = names
		}
		if il, err := ParseImageLabel(attrs); err != nil {
			r.log.Warn("skipping image label", "path", key, "error", err)
		} else if il != nil {
			r.imageLabels[key] = il
		}
		r.annotate(key, attrs)
	}

	var arrays []string
	for _, key := range r.src.ArrayKeys("") {
		if !r.opts.IncludeLabels && isLabelKey(key) {
			continue
		}
		arrays = append(arrays, key)
		if r.opts.SaveAttributes {
			r.annotate(key, r.src.ArrayAttributes(key))
		}
	}
	SortKeys(arrays)
	paths := r.table.OrderPaths(arrays)
	if len(paths) == 0 {
		return ErrNoSeries
	}

	if err := r.buildCore(paths); err != nil {
		return err
	}

	plate, err := ParsePlate(rootAttrs)
	if err != nil {
		r.log.Warn("reading plate", "error", err)
	}
	if plate != nil {
		BindPlate(plate, r.src.GroupAttributes, r.table, r.seriesOfKey, r.log)
		r.plate = plate
	}

	r.series, r.resolution = 0, 0
	r.log.Debug("initialized reader", "series", r.SeriesCount(), "arrays", len(r.core), "plate", r.plate != nil)
	return nil
}

func (r *Reader) annotate(key string, attrs zarr.Attributes) {
	if !r.opts.SaveAttributes || len(attrs) == 0 {
		return
	}
	data, err := json.MarshalIndent(attrs, "", "  ")
	if err != nil {
		r.log.Warn("failed to convert attributes to JSON", "path", key, "error", err)
		return
	}
	r.annotations = append(r.annotations, Annotation{Key: key, JSON: string(data)})
}

// buildCore opens every array once to read its shape and groups the paths
// into series
func (r *Reader) buildCore(paths []string) error {
	var quick *CoreMetadata
	r.core = make([]CoreMetadata, 0, len(paths))
	for i, p := range paths {
		cm, err := r.describe(p, quick)
		if err != nil {
			return err
		}
		if quick == nil && r.opts.QuickRead && !isLabelKey(p) {
			quick = &cm
		}

		s, inSeries := r.table.SeriesOf(p)
		startsSeries := i == 0 || r.opts.FlattenResolutions || !inSeries
		if !startsSeries {
			prev, ok := r.table.SeriesOf(paths[i-1])
			startsSeries = !ok || prev != s
		}
		if startsSeries {
			r.seriesStart = append(r.seriesStart, i)
		}
		r.core = append(r.core, cm)
	}

	for i, start := range r.seriesStart {
		end := len(r.core)
		if i+1 < len(r.seriesStart) {
			end = r.seriesStart[i+1]
		}
		for j := start; j < end; j++ {
			r.core[j].ResolutionIndex = j - start
			r.core[j].ResolutionCount = end - start
		}
	}
	return nil
}

// describe reads the core metadata of the array at path. With a quick
// reference the array is only opened when verification is on.
func (r *Reader) describe(path string, quick *CoreMetadata) (CoreMetadata, error) {
	if quick != nil && !isLabelKey(path) && !r.opts.VerifyQuickRead {
		cm := *quick
		cm.Path = path
		cm.CanonicalShape.DimensionOrder = r.table.DimensionOrder(path)
		r.levelMetadata(&cm)
		return cm, nil
	}

	if err := r.src.Open(path); err != nil {
		return CoreMetadata{}, fmt.Errorf("opening %q: %w", path, err)
	}
	r.lastOpened = path
	cm := CoreMetadata{
		Path:         path,
		DataType:     r.src.DataType(),
		Shape:        r.src.Shape(),
		ChunkShape:   r.src.ChunkShape(),
		LittleEndian: r.src.IsLittleEndian(),
	}
	cs, err := CanonicalShapeFor(cm.Shape, r.table.PathDimensions[path])
	if err != nil {
		var dm *DimensionMismatchError
		if errors.As(err, &dm) {
			dm.Path = path
		}
		return CoreMetadata{}, err
	}
	cm.CanonicalShape = cs
	cm.ImageCount = cs.PlaneCount()
	r.levelMetadata(&cm)

	if quick != nil && !isLabelKey(path) && !slices.Equal(quick.Shape, cm.Shape) {
		r.log.Warn("quick read shape mismatch", "path", path, "assumed", quick.Shape, "actual", cm.Shape)
	}
	return cm, nil
}

func (r *Reader) levelMetadata(cm *CoreMetadata) {
	cm.Axes, cm.CoordinateTransformations = nil, nil
	if m, _, ok := r.table.Multiscale(cm.Path); ok {
		cm.Axes = m.Axes
	}
	if ds, ok := r.table.Dataset(cm.Path); ok {
		cm.CoordinateTransformations = ds.CoordinateTransformations
	}
}

// seriesOfKey maps an array path to its series, -1 when it holds no series
func (r *Reader) seriesOfKey(key string) int {
	i := slices.IndexFunc(r.core, func(cm CoreMetadata) bool { return cm.Path == key })
	if i < 0 {
		return -1
	}
	s, _ := r.coreToSeries(i)
	return s
}

func (r *Reader) coreToSeries(i int) (series, resolution int) {
	for s := len(r.seriesStart) - 1; s >= 0; s-- {
		if r.seriesStart[s] <= i {
			return s, i - r.seriesStart[s]
		}
	}
	return -1, -1
}

func (r *Reader) current() *CoreMetadata {
	return &r.core[r.seriesStart[r.series]+r.resolution]
}

// SeriesCount is the number of image series in the store
func (r *Reader) SeriesCount() int { return len(r.seriesStart) }

// Series is the selected series
func (r *Reader) Series() int { return r.series }

// Resolution is the selected level of the current series, 0 being full
// resolution
func (r *Reader) Resolution() int { return r.resolution }

// SetSeries selects a series at full resolution. The array is opened by the
// next read.
func (r *Reader) SetSeries(s int) error {
	if r.closed {
		return ErrClosed
	}
	if s < 0 || s >= r.SeriesCount() {
		return fmt.Errorf("series %d out of range [0, %d)", s, r.SeriesCount())
	}
	r.series, r.resolution = s, 0
	return nil
}

// SetResolution selects a resolution level of the current series. The array
// is opened by the next read.
func (r *Reader) SetResolution(res int) error {
	if r.closed {
		return ErrClosed
	}
	if n := r.ResolutionCount(); res < 0 || res >= n {
		return fmt.Errorf("resolution %d out of range [0, %d)", res, n)
	}
	r.resolution = res
	return nil
}

// ResolutionCount is the number of levels of the current series
func (r *Reader) ResolutionCount() int {
	if r.closed {
		return 0
	}
	return r.current().ResolutionCount
}

// CoreMetadata describes the current series and resolution
func (r *Reader) CoreMetadata() (CoreMetadata, error) {
	if r.closed {
		return CoreMetadata{}, ErrClosed
	}
	return *r.current(), nil
}

// OptimalTileWidth is the chunk width of the current level
func (r *Reader) OptimalTileWidth() int {
	if r.closed {
		return 0
	}
	cm := r.current()
	if len(cm.ChunkShape) == 0 {
		return cm.SizeX
	}
	return cm.ChunkShape[len(cm.ChunkShape)-1]
}

// OptimalTileHeight is the chunk height of the current level
func (r *Reader) OptimalTileHeight() int {
	if r.closed {
		return 0
	}
	cm := r.current()
	if len(cm.ChunkShape) < 2 {
		return cm.SizeY
	}
	return cm.ChunkShape[len(cm.ChunkShape)-2]
}

// Plate returns the plate layout, nil when the store holds no plate
func (r *Reader) Plate() *Plate { return r.plate }

// Omero returns the rendering metadata of the root group, nil when absent
func (r *Reader) Omero() *Omero { return r.omero }

// Multiscale returns the multiscale the current level was declared in and
// the key of the group declaring it. Arrays outside any multiscale report
// false.
func (r *Reader) Multiscale() (Multiscale, string, bool) {
	if r.closed {
		return Multiscale{}, "", false
	}
	return r.table.Multiscale(r.current().Path)
}

// Labels maps group keys to the label images they list
func (r *Reader) Labels() map[string][]string { return r.labels }

// ImageLabels maps label image group keys to their descriptions
func (r *Reader) ImageLabels() map[string]*ImageLabel { return r.imageLabels }

// Annotations returns the attribute documents read during initialization,
// empty unless Options.SaveAttributes is set
func (r *Reader) Annotations() []Annotation { return r.annotations }

// Domains names the imaging domains of the store
func (r *Reader) Domains() []string {
	if r.plate != nil {
		return []string{DomainHCS}
	}
	return []string{DomainLM, DomainEM, DomainUnknown}
}

// SeriesPath is the array path of the current series and resolution
func (r *Reader) SeriesPath() string {
	if r.closed {
		return ""
	}
	return r.current().Path
}

// OpenBytes reads a whole plane of the current level into buf
func (r *Reader) OpenBytes(plane int, buf []byte) (int, error) {
	if r.closed {
		return 0, ErrClosed
	}
	cm := r.current()
	return r.ReadRegion(plane, buf, 0, 0, cm.SizeX, cm.SizeY)
}

// ReadRegion reads the w×h tile at (x, y) of a plane of the current level
// into buf, row-major with each element in the array's byte order. It
// returns the number of bytes written.
func (r *Reader) ReadRegion(plane int, buf []byte, x, y, w, h int) (int, error) {
	if r.closed {
		return 0, ErrClosed
	}
	cm := r.current()
	if x < 0 || y < 0 || w < 0 || h < 0 || x+w > cm.SizeX || y+h > cm.SizeY {
		return 0, fmt.Errorf("region (%d, %d, %d, %d) outside %dx%d plane", x, y, w, h, cm.SizeX, cm.SizeY)
	}
	if need := w * h * cm.DataType.Size(); len(buf) < need {
		return 0, fmt.Errorf("buffer of %d bytes is smaller than the %d byte region", len(buf), need)
	}
	z, c, t, err := ZCTCoords(cm.DimensionOrder, cm.SizeZ, cm.SizeC, cm.SizeT, plane)
	if err != nil {
		return 0, err
	}
	shape, offset, err := NativeRegion(cm.DimensionOrder, len(cm.Shape), z, c, t, x, y, w, h)
	if err != nil {
		return 0, err
	}

	if err := r.ensureOpen(cm.Path); err != nil {
		return 0, err
	}
	r.log.Debug("reading region", "path", cm.Path, "shape", shape, "offset", offset)
	data, err := r.src.Read(shape, offset)
	if err != nil {
		return 0, err
	}
	return Unpack(data, buf, r.src.IsLittleEndian())
}

// ensureOpen opens path unless it is the array opened last
func (r *Reader) ensureOpen(path string) error {
	if r.lastOpened == path {
		return nil
	}
	r.lastOpened = ""
	if err := r.src.Open(path); err != nil {
		return fmt.Errorf("opening %q: %w", path, err)
	}
	r.lastOpened = path
	return nil
}

// UsedFiles lists the files of the store. With noPixels set, or pixel listing
// disabled, only metadata files are listed. Files below a labels group are
// left out unless labels are included.
func (r *Reader) UsedFiles(noPixels bool) ([]string, error) {
	if r.closed {
		return nil, ErrClosed
	}
	metadataOnly := noPixels || !r.opts.ListPixels
	var files []string
	for key, err := range r.src.ListLeafKeys("") {
		if err != nil {
			return nil, err
		}
		if !r.opts.IncludeLabels && isLabelKey(key) {
			continue
		}
		if metadataOnly && !zarr.IsMetadataKey(key) && key != OMEXMLKey {
			continue
		}
		files = append(files, r.root+"/"+key)
	}
	return files, nil
}

// Close releases the source and clears every table. Calling Close more than
// once is a no-op.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	err := r.src.Close()
	r.table.Reset()
	r.core = nil
	r.seriesStart = nil
	r.plate = nil
	r.omero = nil
	r.labels = nil
	r.imageLabels = nil
	r.annotations = nil
	r.series, r.resolution = 0, 0
	r.lastOpened = ""
	return err
}

// isLabelKey reports whether key lies in a labels subtree
func isLabelKey(key string) bool {
	for _, seg := range strings.Split(key, "/") {
		if seg == "labels" {
			return true
		}
	}
	return false
}
