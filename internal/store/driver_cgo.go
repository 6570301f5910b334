//go:build cgo

package store

import (
	_ "github.com/mattn/go-sqlite3"
)

// driverName is the database/sql driver registered for this build. cgo
// builds use mattn/go-sqlite3 so the sqlite_vec extension (init_vec.go) can
// auto-load against it.
const driverName = "sqlite3"
