// Package storage provides the local key-value store that holds the
// dashboard's persisted configuration and video cache.
package storage

import (
	"context"
	"errors"
	"fmt"
)

// Sentinel errors for common storage conditions.
var (
	// ErrNotFound indicates the requested key is absent.
	ErrNotFound = errors.New("storage: not found")
	// ErrInvalidInput indicates an empty key or unknown backend.
	ErrInvalidInput = errors.New("storage: invalid input")
	// ErrStorageCorrupt indicates the backing file could not be parsed.
	ErrStorageCorrupt = errors.New("storage: data corruption detected")
	// ErrLockTimeout indicates a timeout acquiring a file lock.
	ErrLockTimeout = errors.New("storage: lock acquisition timeout")
	// ErrClosed indicates use of a closed store.
	ErrClosed = errors.New("storage: store closed")
)

// StorageError wraps storage errors with operation and entity context.
// Use errors.As() to extract it:
//
//	var storErr *storage.StorageError
//	if errors.As(err, &storErr) {
//		fmt.Printf("Failed to %s %s %s: %v\n", storErr.Op, storErr.Entity, storErr.ID, storErr.Err)
//	}
type StorageError struct {
	// Op is the operation that failed ("read", "write", "lock", "open").
	Op string
	// Entity is the kind of thing operated on ("key", "store", "file").
	Entity string
	// ID is the key or path if applicable.
	ID string
	// Err is the underlying error.
	Err error
}

func (e *StorageError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("storage: %s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
	}
	return fmt.Sprintf("storage: %s %s: %v", e.Op, e.Entity, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// KV is a string-keyed blob store. Put replaces the whole value (last write
// wins). Implementations must be safe for concurrent use.
type KV interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)
	// Put stores value under key.
	Put(ctx context.Context, key string, value []byte) error
	// Close releases any resources held by the store.
	Close() error
}

// Backend names accepted by Open.
const (
	BackendJSON   = "json"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Open opens the named backend at path. An empty backend means BackendJSON.
func Open(backend, path string) (KV, error) {
	switch backend {
	case "", BackendJSON:
		return NewJSONStore(path)
	case BackendSQLite:
		return NewSQLiteStore(path)
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, &StorageError{Op: "open", Entity: "store", ID: backend, Err: ErrInvalidInput}
	}
}

func checkKey(op, key string) error {
	if key == "" {
		return &StorageError{Op: op, Entity: "key", Err: ErrInvalidInput}
	}
	return nil
}
