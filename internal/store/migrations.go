package store

import (
	"database/sql"
	"fmt"

	"mnemex/internal/logging"
)

// CurrentSchemaVersion identifies the schema shape initSchema produces.
// Bump it and add a migration below whenever a column is added to an
// existing table rather than introduced via a new CREATE TABLE.
const CurrentSchemaVersion = 1

// columnMigration adds one column to an existing table if it is missing.
type columnMigration struct {
	Table  string
	Column string
	Def    string
}

// pendingColumnMigrations lists ALTER-TABLE-ADD-COLUMN migrations applied on
// every Open, so upgrading mnemex in place never requires a manual step.
var pendingColumnMigrations = []columnMigration{}

// RunMigrations applies pendingColumnMigrations and records the schema
// version. A failed ALTER is logged and skipped rather than treated as
// fatal, since it usually means the column already exists in a compatible
// form from an earlier partial migration.
func RunMigrations(db *sql.DB) error {
	for _, m := range pendingColumnMigrations {
		if !tableExists(db, m.Table) {
			continue
		}
		if columnExists(db, m.Table, m.Column) {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", m.Table, m.Column, m.Def)
		if _, err := db.Exec(stmt); err != nil {
			logging.Get(logging.CategoryStore).Warn("migration failed for %s.%s: %v", m.Table, m.Column, err)
		}
	}
	return setSchemaVersion(db, CurrentSchemaVersion)
}

func tableExists(db *sql.DB, table string) bool {
	var count int
	err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
	return err == nil && count > 0
}

func columnExists(db *sql.DB, table, column string) bool {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false
	}
	defer rows.Close()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt interface{}
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			continue
		}
		if name == column {
			return true
		}
	}
	return false
}

func setSchemaVersion(db *sql.DB, version int) error {
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		version INTEGER NOT NULL,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}
	var current int
	err := db.QueryRow("SELECT version FROM schema_versions ORDER BY applied_at DESC LIMIT 1").Scan(&current)
	if err == nil && current >= version {
		return nil
	}
	_, err = db.Exec("INSERT INTO schema_versions (version) VALUES (?)", version)
	return err
}
