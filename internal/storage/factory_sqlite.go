//go:build sqlite

package storage

const sqliteEnabled = true

func newSQLiteStore(path string) (Store, error) {
	return NewSQLiteStore(path), nil
}
