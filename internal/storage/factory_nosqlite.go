//go:build !sqlite

package storage

import "errors"

const sqliteEnabled = false

func newSQLiteStore(string) (Store, error) {
	return nil, errors.New("sqlite store unavailable: build with -tags sqlite")
}
