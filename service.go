package zarr

import (
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
)

// Service reads arrays and attributes of one store. At most one array is open
// at a time: Open and Create replace the previous handle.
type Service struct {
	store        Store
	log          *slog.Logger
	consolidated *ConsolidatedMetadata

	current   *Array
	currentID string
}

// NewService wraps store. When the store root holds consolidated metadata,
// attribute and key lookups are answered from it instead of the store.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = discardLogger()
	}
	s := &Service{store: store, log: logger}
	s.consolidated = s.readConsolidated()
	return s
}

func (s *Service) readConsolidated() *ConsolidatedMetadata {
	f, err := s.store.Get(string(MTMetadata))
	if err != nil {
		if !errors.Is(err, ErrNotfound) {
			s.log.Warn("reading consolidated metadata", "error", err)
		}
		return nil
	}
	defer f.Close()
	cm := &ConsolidatedMetadata{}
	if err := json.NewDecoder(f).Decode(cm); err != nil {
		s.log.Warn("ignoring malformed consolidated metadata", "error", err)
		return nil
	}
	s.log.Debug("using consolidated metadata", "documents", len(cm.Metadata))
	return cm
}

// Store returns the backing store
func (s *Service) Store() Store { return s.store }

// Open makes the array at key the current handle
func (s *Service) Open(key string) error {
	s.current, s.currentID = nil, ""
	a, err := Open(s.store, key, ModeReadWrite)
	if err != nil {
		return err
	}
	s.log.Debug("opened array", "path", key)
	s.current, s.currentID = a, key
	return nil
}

// Create writes a new array at key and makes it the current handle
func (s *Service) Create(key string, m *ArrayMeta) error {
	s.current, s.currentID = nil, ""
	a, err := Create(s.store, key, m)
	if err != nil {
		return err
	}
	s.current, s.currentID = a, key
	return nil
}

func (s *Service) IsOpen() bool { return s.current != nil }

// ID is the key of the open array, empty when none is open
func (s *Service) ID() string { return s.currentID }

// Array returns the open array handle, nil when none is open
func (s *Service) Array() *Array { return s.current }

func (s *Service) Shape() []int {
	if s.current == nil {
		return nil
	}
	return s.current.Shape()
}

func (s *Service) ChunkShape() []int {
	if s.current == nil {
		return nil
	}
	return s.current.Chunks()
}

func (s *Service) DataType() DataType {
	if s.current == nil {
		return Unknown
	}
	return s.current.DataType()
}

func (s *Service) IsLittleEndian() bool {
	if s.current == nil {
		return false
	}
	return s.current.Dtype().ByteOrder == BOLittleEndian
}

func (s *Service) Read(shape, offset []int) (interface{}, error) {
	if s.current == nil {
		return nil, ErrNotOpen
	}
	return s.current.Read(shape, offset)
}

func (s *Service) Write(data interface{}, shape, offset []int) error {
	if s.current == nil {
		return ErrNotOpen
	}
	return s.current.Write(data, shape, offset)
}

// GroupAttributes returns the attributes of the group at key. Missing or
// malformed documents yield empty attributes.
func (s *Service) GroupAttributes(key string) Attributes {
	return s.attributes(key)
}

// ArrayAttributes returns the attributes of the array at key. Missing or
// malformed documents yield empty attributes.
func (s *Service) ArrayAttributes(key string) Attributes {
	return s.attributes(key)
}

func (s *Service) attributes(key string) Attributes {
	p, err := NewPath(key)
	if err != nil {
		s.log.Warn("invalid attribute path", "path", key, "error", err)
		return Attributes{}
	}
	if s.consolidated != nil {
		if attrs, ok := s.consolidated.Attributes(p.String()); ok {
			return attrs
		}
		return Attributes{}
	}
	attrs, err := readAttributes(s.store, p)
	if err != nil {
		s.log.Warn("ignoring unreadable attributes", "path", key, "error", err)
		return Attributes{}
	}
	return attrs
}

// GroupKeys lists every group below key, relative to key
func (s *Service) GroupKeys(key string) []string {
	return s.keys(key, MTGroup)
}

// ArrayKeys lists every array below key, relative to key
func (s *Service) ArrayKeys(key string) []string {
	return s.keys(key, MTArray)
}

func (s *Service) keys(key string, mt MetaType) []string {
	p, err := NewPath(key)
	if err != nil {
		s.log.Warn("invalid listing path", "path", key, "error", err)
		return []string{}
	}
	if s.consolidated != nil {
		return s.consolidated.Keys(p.String(), mt)
	}
	keys, err := s.store.ListKeysWithSuffix(p.String(), string(mt))
	if err != nil {
		s.log.Warn("listing keys", "path", key, "suffix", string(mt), "error", err)
		return []string{}
	}
	return keys
}

// ListLeafKeys lazily lists every stored key below prefix
func (s *Service) ListLeafKeys(prefix string) iter.Seq2[string, error] {
	return s.store.ListLeafKeys(prefix)
}

// Close drops the open handle and releases the store
func (s *Service) Close() error {
	s.current, s.currentID = nil, ""
	s.consolidated = nil
	return s.store.Close()
}

// ReadAll reads the complete contents of key, closing the reader
func ReadAll(store Store, key string) ([]byte, error) {
	f, err := store.Get(key)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
