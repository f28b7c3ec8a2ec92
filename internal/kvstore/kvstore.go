// Package kvstore provides a small file-backed key-value store with
// per-entry expiry. It replaces ad-hoc durable client storage for the
// session blob, the cached price table, the sticky backend origin and
// the saved customer name.
package kvstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Common errors
var (
	ErrNotFound = errors.New("kvstore: key not found")
	ErrExpired  = errors.New("kvstore: entry expired")
)

// entry is the on-disk representation of one key
type entry struct {
	Value   json.RawMessage `json:"value"`
	SavedAt time.Time       `json:"savedAt"`
	TTL     int64           `json:"ttlSeconds,omitempty"`
}

// Store persists one JSON file per key under a data directory.
// Writes are last-one-wins; there is no cross-process locking.
type Store struct {
	dir string
	mu  sync.Mutex
	now func() time.Time
}

// Open creates the data directory if needed and returns a store
func Open(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("kvstore: data directory is required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return &Store{dir: dir, now: time.Now}, nil
}

// Put stores a value under key. A zero ttl means the entry never expires.
func (s *Store) Put(key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode value for %q: %w", key, err)
	}
	e := entry{Value: raw, SavedAt: s.now()}
	if ttl > 0 {
		e.TTL = int64(ttl / time.Second)
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to encode entry for %q: %w", key, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return os.WriteFile(s.path(key), data, 0644)
}

// Get reads the value stored under key into out. An expired entry is
// removed and reported as ErrExpired, distinct from ErrNotFound.
func (s *Store) Get(key string, out interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to read entry for %q: %w", key, err)
	}

	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		// A corrupt entry is treated as missing so callers can rewrite it
		os.Remove(s.path(key))
		return ErrNotFound
	}

	if e.TTL > 0 && s.now().After(e.SavedAt.Add(time.Duration(e.TTL)*time.Second)) {
		os.Remove(s.path(key))
		return ErrExpired
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(e.Value, out); err != nil {
		return fmt.Errorf("failed to decode value for %q: %w", key, err)
	}
	return nil
}

// Delete removes a key. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.Remove(s.path(key))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func (s *Store) path(key string) string {
	// Keys are short identifiers; keep filenames predictable
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, key)
	return filepath.Join(s.dir, safe+".json")
}
