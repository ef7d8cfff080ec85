package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

var (
	// ErrEmpty is returned when a slot holds no record.
	ErrEmpty = errors.New("storage slot is empty")

	// ErrCorrupt is returned when a slot holds a record that cannot be decoded.
	ErrCorrupt = errors.New("storage slot record is corrupt")
)

// Slot is a single named record of client-side storage.
type Slot interface {
	Load() ([]byte, error)
	Save(data []byte) error
	Clear() error
}

// FileSlot persists a record to a JSON file. It survives process restarts
// and backs the restorable local session.
type FileSlot struct {
	path string
}

var _ Slot = (*FileSlot)(nil)

// NewFileSlot creates dir if needed and returns a slot stored at dir/name.
func NewFileSlot(dir, name string) (*FileSlot, error) {
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get user home directory: %w", err)
		}
		dir = filepath.Join(home, ".navigator")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileSlot{path: filepath.Join(dir, name)}, nil
}

// Path returns the backing file path.
func (s *FileSlot) Path() string {
	return s.path
}

// Load reads the record, returning ErrEmpty when the file does not exist.
func (s *FileSlot) Load() ([]byte, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrEmpty
		}
		return nil, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	return data, nil
}

// Save replaces the record.
func (s *FileSlot) Save(data []byte) error {
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.path, err)
	}
	return nil
}

// Clear deletes the record. Clearing an empty slot is not an error.
func (s *FileSlot) Clear() error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", s.path, err)
	}
	return nil
}

// MemorySlot keeps a record in process memory for at most ttl.
// It backs the session-scoped edge identity recovery cache.
type MemorySlot struct {
	key   string
	cache *expirable.LRU[string, []byte]
}

var _ Slot = (*MemorySlot)(nil)

// NewMemorySlot returns an empty session-scoped slot. A zero ttl keeps the
// record until Clear or process exit.
func NewMemorySlot(key string, ttl time.Duration) *MemorySlot {
	return &MemorySlot{
		key:   key,
		cache: expirable.NewLRU[string, []byte](1, nil, ttl),
	}
}

func (s *MemorySlot) Load() ([]byte, error) {
	data, ok := s.cache.Get(s.key)
	if !ok || len(data) == 0 {
		return nil, ErrEmpty
	}
	return append([]byte(nil), data...), nil
}

func (s *MemorySlot) Save(data []byte) error {
	s.cache.Add(s.key, append([]byte(nil), data...))
	return nil
}

func (s *MemorySlot) Clear() error {
	s.cache.Remove(s.key)
	return nil
}

// LoadJSON decodes the slot record into v. A record that is not valid JSON
// yields ErrCorrupt.
func LoadJSON(s Slot, v any) error {
	data, err := s.Load()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return nil
}

// SaveJSON encodes v and stores it in the slot.
func SaveJSON(s Slot, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	return s.Save(data)
}
