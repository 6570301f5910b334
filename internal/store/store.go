// Package store implements the memory engine's storage substrate: a SQLite
// relational schema for every durable entity (spec.md §3), with an optional
// sqlite-vec vector index kept consistent with the relational rows via a
// dual-write-plus-reconciliation protocol (spec.md §9 "Dual-write
// consistency").
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"

	"mnemex/internal/embedding"
	"mnemex/internal/lock"
	"mnemex/internal/logging"
)

// Store is the relational + vector storage substrate for one mnemex engine
// instance. All projects share one database file; every row is scoped by
// project_id.
type Store struct {
	db              *sql.DB
	mu              sync.RWMutex
	dbPath          string
	embeddingEngine embedding.Engine
	vectorExt       bool
	requireVec      bool
	conns           *semaphore.Weighted // bounds concurrent long-running queries
	projectLocks    *lock.KeyedMutex
}

// Options configures Store construction.
type Options struct {
	Path             string
	EmbeddingEngine  embedding.Engine
	MaxOpenConns     int
	RequireVectorExt bool
}

// Open initializes (creating if needed) the SQLite database at opts.Path and
// runs schema migrations.
func Open(opts Options) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	if opts.Path != ":memory:" {
		dir := filepath.Dir(opts.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
	}

	db, err := sql.Open(driverName, opts.Path)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// A single connection avoids SQLITE_BUSY under WAL; every query, read or
	// write, runs on it one at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA busy_timeout = 5000",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			logging.Get(logging.CategoryStore).Warn("store: pragma failed %q: %v", pragma, err)
		}
	}

	maxConns := opts.MaxOpenConns
	if maxConns <= 0 {
		maxConns = 10
	}

	s := &Store{
		db:              db,
		dbPath:          opts.Path,
		embeddingEngine: opts.EmbeddingEngine,
		requireVec:      opts.RequireVectorExt,
		conns:           semaphore.NewWeighted(int64(maxConns)),
		projectLocks:    lock.NewKeyedMutex(),
	}

	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: init schema: %w", err)
	}

	if err := RunMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: run migrations: %w", err)
	}

	s.detectVecExtension()
	if s.requireVec && !s.vectorExt {
		db.Close()
		return nil, fmt.Errorf("store: sqlite-vec extension required but not available")
	}
	if s.vectorExt {
		logging.Get(logging.CategoryStore).Info("sqlite-vec extension detected, ANN search enabled")
		if err := s.ensureVectorTable(); err != nil {
			logging.Get(logging.CategoryStore).Warn("vec_memories table creation failed, disabling ANN: %v", err)
			s.vectorExt = false
		}
	} else {
		logging.Get(logging.CategoryStore).Warn("sqlite-vec extension not available, falling back to brute-force cosine search")
	}

	return s, nil
}

// LockProject acquires the advisory lock for projectID, blocking until it is
// free. Consolidation runs take the same lock through TryLockProject.
func (s *Store) LockProject(projectID string) { s.projectLocks.Lock(projectID) }

// UnlockProject releases the advisory lock for projectID.
func (s *Store) UnlockProject(projectID string) { s.projectLocks.Unlock(projectID) }

// TryLockProject attempts to acquire the advisory lock for projectID without
// blocking, reporting whether it succeeded.
func (s *Store) TryLockProject(projectID string) bool { return s.projectLocks.TryLock(projectID) }

// acquireConn bounds concurrent StoreMemory and VectorRecall calls via the
// shared semaphore; every other query skips it.
func (s *Store) acquireConn(ctx context.Context) (func(), error) {
	if err := s.conns.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("store: acquire connection slot: %w", err)
	}
	return func() { s.conns.Release(1) }, nil
}

// DB exposes the underlying *sql.DB for components that need raw access
// (the rule engine's fact-store warm start, for example).
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) detectVecExtension() {
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		s.vectorExt = true
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
		return
	}
	s.vectorExt = false
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL UNIQUE,
	path TEXT,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
	deleted_at DATETIME
);

CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	content TEXT NOT NULL,
	kind TEXT NOT NULL,
	tags TEXT,
	embedding BLOB,
	created_at DATETIME NOT NULL,
	last_accessed DATETIME NOT NULL,
	access_count INTEGER DEFAULT 0,
	usefulness REAL DEFAULT 0.5,
	confidence REAL DEFAULT 0.5,
	consolidation_state TEXT DEFAULT 'unconsolidated',
	version INTEGER DEFAULT 1,
	superseded_by TEXT,
	compression_level INTEGER DEFAULT 0,
	content_executive TEXT,
	source TEXT
);
CREATE INDEX IF NOT EXISTS idx_memories_project ON memories(project_id);
CREATE INDEX IF NOT EXISTS idx_memories_kind ON memories(kind);
CREATE INDEX IF NOT EXISTS idx_memories_state ON memories(consolidation_state);

CREATE TABLE IF NOT EXISTS memory_update_history (
	memory_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	content TEXT NOT NULL,
	replaced_at DATETIME NOT NULL,
	replaced_by TEXT,
	PRIMARY KEY (memory_id, version)
);

CREATE TABLE IF NOT EXISTS events (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	session TEXT,
	timestamp DATETIME NOT NULL,
	event_type TEXT,
	content TEXT NOT NULL,
	outcome TEXT,
	context_cwd TEXT,
	context_files TEXT,
	context_task TEXT,
	context_phase TEXT,
	context_branch TEXT,
	learning_delta REAL DEFAULT 0,
	surprise REAL DEFAULT 0,
	consolidation_status TEXT DEFAULT 'pending'
);
CREATE INDEX IF NOT EXISTS idx_events_project ON events(project_id);
CREATE INDEX IF NOT EXISTS idx_events_status ON events(consolidation_status);
CREATE INDEX IF NOT EXISTS idx_events_timestamp ON events(timestamp);

CREATE TABLE IF NOT EXISTS working_items (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	content TEXT NOT NULL,
	component TEXT NOT NULL,
	activation REAL NOT NULL,
	importance REAL NOT NULL,
	decay_rate REAL NOT NULL,
	memory_id TEXT,
	created_at DATETIME NOT NULL,
	last_accessed DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_working_items_project ON working_items(project_id);

CREATE TABLE IF NOT EXISTS links (
	project_id TEXT NOT NULL REFERENCES projects(id),
	from_id TEXT NOT NULL,
	from_layer TEXT NOT NULL,
	to_id TEXT NOT NULL,
	to_layer TEXT NOT NULL,
	link_type TEXT NOT NULL,
	strength REAL NOT NULL DEFAULT 0.1,
	co_occurrence_count INTEGER DEFAULT 1,
	last_strengthened DATETIME NOT NULL,
	PRIMARY KEY (project_id, from_id, from_layer, to_id, to_layer, link_type)
);
CREATE INDEX IF NOT EXISTS idx_links_from ON links(project_id, from_id, from_layer);
CREATE INDEX IF NOT EXISTS idx_links_to ON links(project_id, to_id, to_layer);

CREATE TABLE IF NOT EXISTS entities (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	name TEXT NOT NULL,
	type TEXT,
	observations TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	UNIQUE(project_id, name)
);
CREATE INDEX IF NOT EXISTS idx_entities_project ON entities(project_id);

CREATE TABLE IF NOT EXISTS relations (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	from_entity TEXT NOT NULL,
	to_entity TEXT NOT NULL,
	rel_type TEXT NOT NULL,
	strength REAL DEFAULT 0.5,
	confidence REAL DEFAULT 0.5,
	valid_from DATETIME NOT NULL,
	valid_until DATETIME
);
CREATE INDEX IF NOT EXISTS idx_relations_from ON relations(project_id, from_entity);
CREATE INDEX IF NOT EXISTS idx_relations_to ON relations(project_id, to_entity);

CREATE TABLE IF NOT EXISTS goals (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	text TEXT NOT NULL,
	type TEXT NOT NULL,
	parent_id TEXT,
	priority INTEGER DEFAULT 5,
	status TEXT DEFAULT 'active',
	progress REAL DEFAULT 0,
	deadline DATETIME,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_goals_project ON goals(project_id);

CREATE TABLE IF NOT EXISTS tasks (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	goal_id TEXT,
	content TEXT NOT NULL,
	status TEXT DEFAULT 'pending',
	priority INTEGER DEFAULT 5,
	requirements TEXT,
	dependencies TEXT,
	assignee TEXT,
	version INTEGER DEFAULT 1,
	effort_estimate REAL DEFAULT 0,
	effort_actual REAL DEFAULT 0,
	retry_count INTEGER DEFAULT 0,
	result TEXT,
	error TEXT,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
CREATE INDEX IF NOT EXISTS idx_tasks_assignee ON tasks(assignee);

CREATE TABLE IF NOT EXISTS agents (
	id TEXT PRIMARY KEY,
	type TEXT,
	capabilities TEXT,
	status TEXT DEFAULT 'idle',
	last_heartbeat DATETIME NOT NULL,
	current_task TEXT,
	registered_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS task_switches (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	from_goal_id TEXT,
	to_goal_id TEXT,
	cost_ms INTEGER,
	reason TEXT,
	pinned_items TEXT,
	switched_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS consolidation_runs (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	started_at DATETIME NOT NULL,
	completed_at DATETIME,
	status TEXT DEFAULT 'running',
	compression_ratio REAL,
	retrieval_recall REAL,
	pattern_consistency REAL,
	information_density REAL,
	overall REAL,
	phases TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_project ON consolidation_runs(project_id);

CREATE TABLE IF NOT EXISTS patterns (
	id TEXT PRIMARY KEY,
	run_id TEXT NOT NULL,
	project_id TEXT NOT NULL REFERENCES projects(id),
	type TEXT,
	content TEXT,
	confidence REAL,
	occurrences INTEGER,
	source_event_ids TEXT,
	promoted_memory_id TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_patterns_project ON patterns(project_id);

CREATE TABLE IF NOT EXISTS rules (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	category TEXT,
	rule_type TEXT,
	severity TEXT,
	condition TEXT NOT NULL,
	exception TEXT,
	enabled BOOLEAN DEFAULT 1,
	auto_block BOOLEAN DEFAULT 0,
	can_override BOOLEAN DEFAULT 1,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rules_project ON rules(project_id);

CREATE TABLE IF NOT EXISTS approvals (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	change_summary TEXT,
	confidence REAL,
	violations TEXT,
	snapshot_before_id TEXT,
	snapshot_after_id TEXT,
	status TEXT DEFAULT 'pending',
	decider TEXT,
	created_at DATETIME NOT NULL,
	decided_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_approvals_project ON approvals(project_id);

CREATE TABLE IF NOT EXISTS snapshots (
	id TEXT PRIMARY KEY,
	project_id TEXT NOT NULL REFERENCES projects(id),
	label TEXT,
	data BLOB,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id TEXT NOT NULL,
	action TEXT NOT NULL,
	actor_id TEXT,
	detail TEXT,
	created_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_project ON audit_log(project_id);

CREATE TABLE IF NOT EXISTS outbox (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	memory_id TEXT NOT NULL,
	operation TEXT NOT NULL,
	created_at DATETIME NOT NULL,
	attempts INTEGER DEFAULT 0,
	last_error TEXT
);
CREATE INDEX IF NOT EXISTS idx_outbox_created ON outbox(created_at);
`

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schemaDDL); err != nil {
		return fmt.Errorf("exec schema: %w", err)
	}
	return nil
}
