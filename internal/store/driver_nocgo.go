//go:build !cgo

package store

import (
	_ "modernc.org/sqlite"
)

// driverName is the database/sql driver registered for this build. Without
// cgo, mattn/go-sqlite3 can't build, so modernc.org/sqlite's pure-Go driver
// stands in; the sqlite_vec ANN extension is unavailable on this path (it
// only auto-loads against the cgo driver) and callers fall back to brute
// force, same as when RequireVectorExt is false and the extension fails to
// load.
const driverName = "sqlite"
