package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"mnemex/internal/errs"
	"mnemex/internal/logging"
	"mnemex/internal/types"
)

// StoreMemory inserts a new memory row. If an embedding engine is configured
// and m.Embedding is nil, one is generated from m.Content. The relational
// write and the vec0 index write happen in the same transaction when the
// vector extension is available; when it is not, the relational row alone
// is authoritative and VectorRecall falls back to brute-force cosine scan.
func (s *Store) StoreMemory(ctx context.Context, m *types.Memory) (*types.Memory, error) {
	release, err := s.acquireConn(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	now := time.Now()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.LastAccessed = m.CreatedAt
	if m.Version == 0 {
		m.Version = 1
	}
	if m.ConsolidationState == "" {
		m.ConsolidationState = types.StateUnconsolidated
	}

	if m.Embedding == nil && s.embeddingEngine != nil {
		vec, err := s.embeddingEngine.Embed(ctx, m.Content)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("embed on store failed for memory %s: %v", m.ID, err)
		} else {
			m.Embedding = vec
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "store_unavailable", "begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `INSERT INTO memories
		(id, project_id, content, kind, tags, embedding, created_at, last_accessed, access_count,
		 usefulness, confidence, consolidation_state, version, superseded_by, compression_level,
		 content_executive, source)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		m.ID, m.ProjectID, m.Content, string(m.Kind), encodeJSON(m.Tags), encodeEmbedding(m.Embedding),
		m.CreatedAt, m.LastAccessed, m.AccessCount, m.Usefulness, m.Confidence,
		string(m.ConsolidationState), m.Version, m.SupersededBy, m.CompressionLevel,
		m.ContentExecutive, m.Source,
	)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "memory_insert_failed", "insert memory row", err)
	}

	if err := s.writeVectorIndexLocked(tx, m); err != nil {
		if s.requireVec {
			return nil, errs.Wrap(errs.IndexUnavailable, "vector_index_write_failed", "write vector index", err)
		}
		logging.Get(logging.CategoryStore).Warn("vector index write skipped for memory %s: %v", m.ID, err)
		s.enqueueOutbox(tx, m.ID, "upsert")
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "commit_failed", "commit memory insert", err)
	}
	return m, nil
}

// GetMemory fetches one memory by id, scoped to projectID.
func (s *Store) GetMemory(ctx context.Context, projectID, id string) (*types.Memory, error) {
	row := s.db.QueryRowContext(ctx, memorySelectCols+` WHERE project_id = ? AND id = ?`, projectID, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "get_memory_failed", "query memory", err)
	}
	return m, nil
}

// TouchMemory records an access: bumps access_count and last_accessed.
func (s *Store) TouchMemory(ctx context.Context, projectID, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed = ? WHERE project_id = ? AND id = ?`,
		time.Now(), projectID, id)
	return err
}

// UpdateMemory performs an optimistic-lock-checked content update: the
// caller must supply the version it last read. On a mismatch a
// VersionConflict error carrying the current version is returned and
// nothing is written; on success the prior content is preserved in
// memory_update_history and the version goes up by one.
func (s *Store) UpdateMemory(ctx context.Context, projectID, id, newContent string, expectedVersion int64) (*types.Memory, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "store_unavailable", "begin transaction", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, memorySelectCols+` WHERE project_id = ? AND id = ?`, projectID, id)
	current, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "update_memory_failed", "query memory", err)
	}
	if current.Version != expectedVersion {
		return nil, errs.New(errs.VersionConflict, "version_conflict",
			fmt.Sprintf("memory %s is at version %d", id, current.Version)).WithConflictVersion(current.Version)
	}

	now := time.Now()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO memory_update_history (memory_id, version, content, replaced_at, replaced_by) VALUES (?,?,?,?,?)`,
		id, current.Version, current.Content, now, id)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "history_insert_failed", "record update history", err)
	}

	newVersion := current.Version + 1
	var newEmbedding []float32
	if s.embeddingEngine != nil {
		newEmbedding, _ = s.embeddingEngine.Embed(ctx, newContent)
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE memories SET content = ?, embedding = ?, version = ?, consolidation_state = ?, last_accessed = ? WHERE project_id = ? AND id = ?`,
		newContent, encodeEmbedding(newEmbedding), newVersion, string(types.StateReconsolidating), now, projectID, id)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "update_failed", "update memory content", err)
	}

	current.Content = newContent
	current.Embedding = newEmbedding
	current.Version = newVersion
	current.ConsolidationState = types.StateReconsolidating
	current.LastAccessed = now

	if err := s.writeVectorIndexLocked(tx, current); err != nil {
		s.enqueueOutbox(tx, id, "upsert")
	}

	if err := tx.Commit(); err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "commit_failed", "commit memory update", err)
	}
	return current, nil
}

// ForgetMemory deletes a memory and its vector index row.
func (s *Store) ForgetMemory(ctx context.Context, projectID, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errs.Wrap(errs.StoreUnavailable, "store_unavailable", "begin transaction", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE project_id = ? AND id = ?`, projectID, id)
	if err != nil {
		return errs.Wrap(errs.StoreUnavailable, "forget_failed", "delete memory", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.ErrNotFound
	}

	if s.vectorExt {
		if _, err := tx.ExecContext(ctx, `DELETE FROM vec_memories WHERE memory_id = ?`, id); err != nil {
			logging.Get(logging.CategoryStore).Warn("vector index delete failed for %s: %v", id, err)
		}
	}
	s.enqueueOutbox(tx, id, "delete")

	return tx.Commit()
}

// ListMemoriesForCompression returns consolidated memories older than
// minAge whose compression_level is still below targetLevel, the
// candidate set for one tier of the compression phase.
func (s *Store) ListMemoriesForCompression(ctx context.Context, projectID string, minAge time.Duration, targetLevel int) ([]*types.Memory, error) {
	cutoff := time.Now().Add(-minAge)
	rows, err := s.db.QueryContext(ctx, memorySelectCols+
		` WHERE project_id = ? AND created_at <= ? AND compression_level < ? AND consolidation_state != 'unconsolidated'
		ORDER BY created_at ASC`, projectID, cutoff, targetLevel)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "list_compressible_failed", "query compressible memories", err)
	}
	defer rows.Close()

	var out []*types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// ListUnconsolidatedMemories returns memories directly stored via store()
// that are still unconsolidated and older than minAge, the candidate set
// for the consolidation pipeline's memory-stabilization phase.
func (s *Store) ListUnconsolidatedMemories(ctx context.Context, projectID string, minAge time.Duration) ([]*types.Memory, error) {
	cutoff := time.Now().Add(-minAge)
	rows, err := s.db.QueryContext(ctx, memorySelectCols+
		` WHERE project_id = ? AND created_at <= ? AND consolidation_state = 'unconsolidated'
		ORDER BY created_at ASC`, projectID, cutoff)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "list_unconsolidated_failed", "query unconsolidated memories", err)
	}
	defer rows.Close()

	var out []*types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// SetCompressionLevel records the tier a memory's content was compressed to
// after CompressContent overwrote it via UpdateMemory.
func (s *Store) SetCompressionLevel(ctx context.Context, projectID, id string, level int) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET compression_level = ? WHERE project_id = ? AND id = ?`, level, projectID, id)
	if err != nil {
		return errs.Wrap(errs.StoreUnavailable, "set_compression_level_failed", "update compression level", err)
	}
	return nil
}

// MarkConsolidated transitions a memory from unconsolidated to consolidated,
// called once consolidation has folded its source events into it.
func (s *Store) MarkConsolidated(ctx context.Context, projectID, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET consolidation_state = ? WHERE project_id = ? AND id = ? AND consolidation_state = ?`,
		string(types.StateConsolidated), projectID, id, string(types.StateUnconsolidated))
	if err != nil {
		return errs.Wrap(errs.StoreUnavailable, "mark_consolidated_failed", "update consolidation state", err)
	}
	return nil
}

// MarkLabile transitions a consolidated memory to labile, the state a
// retrieval with reconsolidate=true puts it in for the duration of its
// update window.
func (s *Store) MarkLabile(ctx context.Context, projectID, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET consolidation_state = ? WHERE project_id = ? AND id = ? AND consolidation_state = ?`,
		string(types.StateLabile), projectID, id, string(types.StateConsolidated))
	if err != nil {
		return errs.Wrap(errs.StoreUnavailable, "mark_labile_failed", "update consolidation state", err)
	}
	return nil
}

// MarkStabilized returns a memory to consolidated once its labile window
// has closed, whether or not an update landed within it.
func (s *Store) MarkStabilized(ctx context.Context, projectID, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE memories SET consolidation_state = ? WHERE project_id = ? AND id = ? AND consolidation_state IN (?, ?)`,
		string(types.StateConsolidated), projectID, id, string(types.StateLabile), string(types.StateReconsolidating))
	if err != nil {
		return errs.Wrap(errs.StoreUnavailable, "mark_stabilized_failed", "update consolidation state", err)
	}
	return nil
}

// RecentMemories returns projectID's memories created within lookback,
// most-recent first, the candidate set for the retrieval router's temporal
// strategy (a recency-weighted range scan rather than a similarity search).
func (s *Store) RecentMemories(ctx context.Context, projectID string, lookback time.Duration, limit int) ([]*types.Memory, error) {
	cutoff := time.Now().Add(-lookback)
	rows, err := s.db.QueryContext(ctx, memorySelectCols+
		` WHERE project_id = ? AND created_at >= ? ORDER BY created_at DESC`, projectID, cutoff)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "recent_memories_failed", "query recent memories", err)
	}
	defer rows.Close()

	var out []*types.Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			continue
		}
		out = append(out, m)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

const memorySelectCols = `SELECT id, project_id, content, kind, tags, embedding, created_at, last_accessed,
	access_count, usefulness, confidence, consolidation_state, version, superseded_by, compression_level,
	content_executive, source FROM memories`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMemory(row rowScanner) (*types.Memory, error) {
	var m types.Memory
	var tags, kind, state sql.NullString
	var embedding []byte
	var supersededBy, contentExec, source sql.NullString
	if err := row.Scan(&m.ID, &m.ProjectID, &m.Content, &kind, &tags, &embedding, &m.CreatedAt,
		&m.LastAccessed, &m.AccessCount, &m.Usefulness, &m.Confidence, &state, &m.Version,
		&supersededBy, &m.CompressionLevel, &contentExec, &source); err != nil {
		return nil, err
	}
	m.Kind = types.MemoryKind(kind.String)
	m.ConsolidationState = types.ConsolidationState(state.String)
	m.Tags = decodeJSONStrings(tags.String)
	m.Embedding = decodeEmbedding(embedding)
	if supersededBy.Valid {
		v := supersededBy.String
		m.SupersededBy = &v
	}
	m.ContentExecutive = contentExec.String
	m.Source = source.String
	return &m, nil
}
