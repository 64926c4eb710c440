package zarr

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

const (
	MemoryStoreType   = "MemoryStore"
	LocalStoreType    = "LocalStore"
	S3StoreType       = "S3Store"
	dirPermissionBits = 0755

	// Delimiter separates the levels of a store key
	Delimiter = "/"
	// RootMarker terminates the root segment of an OME-Zarr store path
	RootMarker = ".zarr"
)

// Store is a hierarchical key → bytes mapping. Keys are relative to the
// store root and use Delimiter between levels.
type Store interface {
	// Get opens a key for reading. Missing keys return an error wrapping
	// ErrNotfound.
	Get(key string) (io.ReadCloser, error)
	// Put writes val under key, replacing any previous value
	Put(key string, val io.Reader) error
	// Delete removes a key. Deleting a prefix removes everything below it.
	Delete(key string) error
	// ListKeysWithSuffix lists keys below prefix ending in suffix, with the
	// prefix, the suffix and the joining delimiter removed. Results are sorted
	// and unique; the prefix node itself is not included.
	ListKeysWithSuffix(prefix, suffix string) ([]string, error)
	// ListLeafKeys lazily yields every leaf key below prefix, relative to the
	// store root
	ListLeafKeys(prefix string) iter.Seq2[string, error]
	// Close releases any connection resources held by the store
	Close() error
	Type() string
}

// StoreOption configures OpenStore
type StoreOption func(*storeOptions)

type storeOptions struct {
	logger *slog.Logger
	region string
	secure *bool
}

// WithStoreLogger sets the logger used by the store
func WithStoreLogger(l *slog.Logger) StoreOption {
	return func(o *storeOptions) { o.logger = l }
}

// WithS3Region sets the signing region used for object store requests
func WithS3Region(region string) StoreOption {
	return func(o *storeOptions) { o.region = region }
}

// WithS3Secure overrides the TLS choice derived from the root's protocol
func WithS3Secure(secure bool) StoreOption {
	return func(o *storeOptions) { o.secure = &secure }
}

// OpenStore selects a backend from the textual form of root. Roots carrying an
// object store protocol marker are served by S3Store, anything else by
// LocalStore.
func OpenStore(root string, opts ...StoreOption) (Store, error) {
	o := &storeOptions{logger: discardLogger()}
	for _, opt := range opts {
		opt(o)
	}
	if IsS3Root(root) {
		return NewS3Store(root, o)
	}
	return NewLocalStore(root)
}

// StoreRoot truncates a path inside a store to the store root, the first
// segment ending in RootMarker. Paths without a marker are returned cleaned.
func StoreRoot(p string) string {
	i := strings.Index(strings.ToLower(p), RootMarker)
	if i < 0 {
		return strings.TrimSuffix(p, Delimiter)
	}
	return p[:i+len(RootMarker)]
}

// JoinKey joins key segments with Delimiter, ignoring empty segments
func JoinKey(elems ...string) string {
	parts := make([]string, 0, len(elems))
	for _, e := range elems {
		e = strings.Trim(e, Delimiter)
		if e != "" {
			parts = append(parts, e)
		}
	}
	return strings.Join(parts, Delimiter)
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// keyWithSuffix re-derives a node key from a full key: the prefix and the
// suffix are trimmed along with the delimiter joining them to the node
func keyWithSuffix(key, prefix, suffix string) (string, bool) {
	if !strings.HasSuffix(key, suffix) {
		return "", false
	}
	if prefix != "" {
		if !strings.HasPrefix(key, prefix+Delimiter) {
			return "", false
		}
		key = key[len(prefix)+1:]
	}
	node := strings.TrimSuffix(strings.TrimSuffix(key, suffix), Delimiter)
	if node == "" {
		return "", false
	}
	return node, true
}

type MemoryStore struct {
	lk   sync.Mutex
	data map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: map[string][]byte{},
	}
}

func (s *MemoryStore) Type() string { return MemoryStoreType }

func (s *MemoryStore) Get(key string) (io.ReadCloser, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	d, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotfound, key)
	}
	return io.NopCloser(bytes.NewReader(d)), nil
}

func (s *MemoryStore) Put(key string, val io.Reader) error {
	d, err := io.ReadAll(val)
	if err != nil {
		return err
	}

	s.lk.Lock()
	defer s.lk.Unlock()
	s.data[key] = d

	return nil
}

func (s *MemoryStore) Delete(key string) error {
	s.lk.Lock()
	defer s.lk.Unlock()
	delete(s.data, key)
	for k := range s.data {
		if strings.HasPrefix(k, key+Delimiter) {
			delete(s.data, k)
		}
	}
	return nil
}

func (s *MemoryStore) ListKeysWithSuffix(prefix, suffix string) ([]string, error) {
	s.lk.Lock()
	defer s.lk.Unlock()
	set := map[string]struct{}{}
	for k := range s.data {
		if node, ok := keyWithSuffix(k, prefix, suffix); ok {
			set[node] = struct{}{}
		}
	}
	return sortedKeys(set), nil
}

func (s *MemoryStore) ListLeafKeys(prefix string) iter.Seq2[string, error] {
	s.lk.Lock()
	set := map[string]struct{}{}
	for k := range s.data {
		if prefix == "" || k == prefix || strings.HasPrefix(k, prefix+Delimiter) {
			set[k] = struct{}{}
		}
	}
	s.lk.Unlock()
	keys := sortedKeys(set)
	return func(yield func(string, error) bool) {
		for _, k := range keys {
			if !yield(k, nil) {
				return
			}
		}
	}
}

func (s *MemoryStore) Close() error { return nil }

type LocalStore struct {
	base string
}

var _ Store = (*LocalStore)(nil)

// NewLocalStore opens a directory as a store. The directory is created on the
// first Put if it doesn't exist yet.
func NewLocalStore(base string) (*LocalStore, error) {
	base, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}

	return &LocalStore{
		base: base,
	}, nil
}

func (s *LocalStore) Type() string { return LocalStoreType }

// Base is the absolute directory backing the store
func (s *LocalStore) Base() string { return s.base }

func (s *LocalStore) path(key string) string {
	return filepath.Join(s.base, filepath.FromSlash(key))
}

func (s *LocalStore) Get(key string) (io.ReadCloser, error) {
	f, err := os.Open(s.path(key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotfound, key)
		}
		return nil, err
	}
	if fi, err := f.Stat(); err == nil && fi.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s is a directory", ErrNotfound, key)
	}
	return f, nil
}

func (s *LocalStore) Put(key string, val io.Reader) error {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), dirPermissionBits); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if _, err := io.Copy(f, val); err != nil {
		f.Close()
		return err
	}
	if c, ok := val.(io.Closer); ok {
		if err := c.Close(); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}

func (s *LocalStore) Delete(key string) error {
	path := s.path(key)
	if err := os.RemoveAll(path); err != nil {
		return err
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("unable to delete %s", path)
	}
	return nil
}

func (s *LocalStore) ListKeysWithSuffix(prefix, suffix string) ([]string, error) {
	set := map[string]struct{}{}
	for key, err := range s.ListLeafKeys(prefix) {
		if err != nil {
			if errors.Is(err, ErrNotfound) {
				return []string{}, nil
			}
			return nil, err
		}
		if node, ok := keyWithSuffix(key, prefix, suffix); ok {
			set[node] = struct{}{}
		}
	}
	return sortedKeys(set), nil
}

func (s *LocalStore) ListLeafKeys(prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		walkRoot := s.path(prefix)
		err := filepath.WalkDir(walkRoot, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if d.Type()&fs.ModeSymlink != 0 {
				fi, err := os.Stat(path)
				if err != nil || fi.IsDir() {
					return nil
				}
			}
			rel, err := filepath.Rel(s.base, path)
			if err != nil {
				return err
			}
			if !yield(filepath.ToSlash(rel), nil) {
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				err = fmt.Errorf("%w: %s", ErrNotfound, prefix)
			}
			yield("", err)
		}
	}
}

func (s *LocalStore) Close() error { return nil }

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
