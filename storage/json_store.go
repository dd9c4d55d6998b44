package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const (
	schemaVersion = "1.0"
	lockTimeout   = 5 * time.Second
)

// JSONStore implements KV using a single JSON file. Values must themselves be
// JSON so the file stays readable. The file lock is held until Close.
type JSONStore struct {
	path   string
	lock   *FileLock
	data   *fileData
	mu     sync.RWMutex
	closed bool
}

type fileData struct {
	Version   string                     `json:"version"`
	UpdatedAt time.Time                  `json:"updated_at"`
	Entries   map[string]json.RawMessage `json:"entries"`
}

// NewJSONStore opens or creates the store at path.
func NewJSONStore(path string) (*JSONStore, error) {
	if path == "" {
		return nil, &StorageError{Op: "open", Entity: "store", Err: ErrInvalidInput}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, &StorageError{Op: "open", Entity: "store", ID: path, Err: err}
	}

	s := &JSONStore{path: path, lock: NewFileLock(path)}
	if err := s.lock.Lock(lockTimeout); err != nil {
		return nil, err
	}
	if err := s.load(); err != nil {
		s.lock.Unlock()
		return nil, err
	}
	return s, nil
}

func (s *JSONStore) load() error {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.data = newFileData()
			return nil
		}
		return &StorageError{Op: "read", Entity: "store", ID: s.path, Err: err}
	}

	s.data = &fileData{}
	if err := json.Unmarshal(raw, s.data); err != nil {
		return &StorageError{Op: "read", Entity: "store", ID: s.path, Err: ErrStorageCorrupt}
	}
	if s.data.Entries == nil {
		s.data.Entries = make(map[string]json.RawMessage)
	}
	return nil
}

// save must be called with mu held.
func (s *JSONStore) save() error {
	s.data.UpdatedAt = time.Now().UTC()

	w, err := NewAtomicWriter(s.path)
	if err != nil {
		return &StorageError{Op: "write", Entity: "store", ID: s.path, Err: err}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s.data); err != nil {
		w.Abort()
		return &StorageError{Op: "write", Entity: "store", ID: s.path, Err: err}
	}
	if err := w.Commit(); err != nil {
		return &StorageError{Op: "write", Entity: "store", ID: s.path, Err: err}
	}
	return nil
}

// Get implements KV.
func (s *JSONStore) Get(ctx context.Context, key string) ([]byte, error) {
	if err := checkKey("read", key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, &StorageError{Op: "read", Entity: "key", ID: key, Err: ErrClosed}
	}

	v, ok := s.data.Entries[key]
	if !ok {
		return nil, &StorageError{Op: "read", Entity: "key", ID: key, Err: ErrNotFound}
	}
	return bytes.Clone(v), nil
}

// Put implements KV. The whole file is rewritten atomically.
func (s *JSONStore) Put(ctx context.Context, key string, value []byte) error {
	if err := checkKey("write", key); err != nil {
		return err
	}
	if !json.Valid(value) {
		return &StorageError{Op: "write", Entity: "key", ID: key, Err: ErrInvalidInput}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return &StorageError{Op: "write", Entity: "key", ID: key, Err: ErrClosed}
	}

	prev, had := s.data.Entries[key]
	s.data.Entries[key] = json.RawMessage(bytes.Clone(value))
	if err := s.save(); err != nil {
		if had {
			s.data.Entries[key] = prev
		} else {
			delete(s.data.Entries, key)
		}
		return err
	}
	return nil
}

// Close releases the file lock.
func (s *JSONStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.lock.Unlock()
}

func newFileData() *fileData {
	return &fileData{
		Version:   schemaVersion,
		UpdatedAt: time.Now().UTC(),
		Entries:   make(map[string]json.RawMessage),
	}
}
