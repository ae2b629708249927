// Package localstore persists opaque blobs under string keys on the device.
//
// The queue stores its whole state as one blob, so the interface is a
// key/value pair of Load and Save. Three drivers are provided:
//
//   - sqlite: a single table in a WAL-mode SQLite database
//   - file: one JSON file per key, replaced atomically
//   - memory: process-local map, for tests and dry runs
package localstore

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by Load when no blob exists for the key.
var ErrNotFound = errors.New("localstore: key not found")

// Store is a key/blob persistence backend.
type Store interface {
	// Load returns the blob saved under key, or ErrNotFound.
	Load(ctx context.Context, key string) ([]byte, error)
	// Save replaces the blob under key.
	Save(ctx context.Context, key string, blob []byte) error
	// Close releases the backend's resources.
	Close() error
}

// Driver names accepted by Open.
const (
	DriverSQLite = "sqlite"
	DriverFile   = "file"
	DriverMemory = "memory"
)

// Open creates a store for the named driver.
// path is the database file (sqlite) or directory (file); memory ignores it.
func Open(driver, path string) (Store, error) {
	switch driver {
	case DriverSQLite, "":
		if path == "" {
			return nil, fmt.Errorf("sqlite driver requires a path")
		}
		return OpenSQLite(path)
	case DriverFile:
		if path == "" {
			return nil, fmt.Errorf("file driver requires a directory")
		}
		return NewFileStore(path), nil
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown local store driver %q", driver)
	}
}
