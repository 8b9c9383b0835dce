package storage

import (
	"errors"
	"fmt"
)

// Store kinds accepted by NewStore and the -store flags.
const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// DefaultStoreKind is sqlite in builds tagged sqlite and memory otherwise.
func DefaultStoreKind() string {
	if sqliteEnabled {
		return StoreSQLite
	}
	return StoreMemory
}

// NewStore opens the run store of the given kind. An empty kind selects
// DefaultStoreKind; dbPath is only read by the sqlite store.
func NewStore(kind, dbPath string) (Store, error) {
	if kind == "" {
		kind = DefaultStoreKind()
	}
	switch kind {
	case StoreMemory:
		return NewMemoryStore(), nil
	case StoreSQLite:
		if dbPath == "" {
			return nil, errors.New("sqlite store requires a database path")
		}
		return newSQLiteStore(dbPath)
	default:
		return nil, fmt.Errorf("unsupported store backend %q (want %s or %s)", kind, StoreMemory, StoreSQLite)
	}
}

// CloseIfSupported releases stores that hold resources, such as the sqlite
// connection. Memory stores are left alone.
func CloseIfSupported(store Store) error {
	if closer, ok := store.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
