package ngff

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"

	zarr "github.com/qri-io/ome-zarr-go"
	"gopkg.in/yaml.v3"
)

// EnvListPixels overrides Options.ListPixels when set to a boolean
const EnvListPixels = "OMEZARR_LIST_PIXELS"

// Options configures a Reader
type Options struct {
	// SaveAttributes keeps every attribute document for Annotations
	SaveAttributes bool `yaml:"save_attributes"`
	// ListPixels includes chunk files in UsedFiles
	ListPixels bool `yaml:"list_pixels"`
	// QuickRead assumes every resolution level outside a labels subtree has
	// the shape of the first level opened, skipping per-level opens
	QuickRead bool `yaml:"quick_read"`
	// VerifyQuickRead opens every level anyway and warns when QuickRead's
	// assumption doesn't hold
	VerifyQuickRead bool `yaml:"verify_quick_read"`
	// IncludeLabels exposes label images as series
	IncludeLabels bool `yaml:"include_labels"`
	// AltStoreRoot replaces the store root derived from the opened path
	AltStoreRoot string `yaml:"alt_store_root"`
	// FlattenResolutions exposes every resolution level as its own series
	FlattenResolutions bool `yaml:"flatten_resolutions"`
	// S3Region is the region signed into S3 requests
	S3Region string `yaml:"s3_region"`

	Logger *slog.Logger `yaml:"-"`
}

func DefaultOptions() Options {
	return Options{ListPixels: true}
}

// Option configures a Reader
type Option func(*Options)

func WithLogger(l *slog.Logger) Option {
	return func(o *Options) { o.Logger = l }
}

func WithSaveAttributes(save bool) Option {
	return func(o *Options) { o.SaveAttributes = save }
}

func WithListPixels(list bool) Option {
	return func(o *Options) { o.ListPixels = list }
}

// WithQuickRead enables the shared shape shortcut. With verify set every
// level is still opened and mismatches are logged.
func WithQuickRead(quick, verify bool) Option {
	return func(o *Options) {
		o.QuickRead = quick
		o.VerifyQuickRead = verify
	}
}

func WithIncludeLabels(include bool) Option {
	return func(o *Options) { o.IncludeLabels = include }
}

func WithAltStoreRoot(root string) Option {
	return func(o *Options) { o.AltStoreRoot = root }
}

func WithFlattenResolutions(flatten bool) Option {
	return func(o *Options) { o.FlattenResolutions = flatten }
}

// WithOptions replaces every setting with o
func WithOptions(opts Options) Option {
	return func(o *Options) { *o = opts }
}

func buildOptions(opts []Option) Options {
	o := DefaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	applyEnv(&o)
	if o.Logger == nil {
		o.Logger = discardLogger()
	}
	return o
}

func applyEnv(o *Options) {
	v, ok := os.LookupEnv(EnvListPixels)
	if !ok {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		if o.Logger != nil {
			o.Logger.Warn("ignoring invalid environment value", "name", EnvListPixels, "value", v)
		}
		return
	}
	o.ListPixels = b
}

func (o Options) storeOptions() []zarr.StoreOption {
	opts := []zarr.StoreOption{zarr.WithStoreLogger(o.Logger)}
	if o.S3Region != "" {
		opts = append(opts, zarr.WithS3Region(o.S3Region))
	}
	return opts
}

// LoadOptions reads options from a YAML file. Settings the file leaves out
// keep their defaults.
func LoadOptions(path string) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("failed to read options file: %w", err)
	}
	o := DefaultOptions()
	if err := yaml.Unmarshal(data, &o); err != nil {
		return Options{}, fmt.Errorf("failed to parse options file: %w", err)
	}
	if o.VerifyQuickRead && !o.QuickRead {
		return Options{}, fmt.Errorf("verify_quick_read requires quick_read")
	}
	return o, nil
}
