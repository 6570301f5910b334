package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"mnemex/internal/embedding"
	"mnemex/internal/logging"
	"mnemex/internal/types"
)

func (s *Store) ensureVectorTable() error {
	ddl := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_memories USING vec0(
		memory_id TEXT PRIMARY KEY,
		embedding float[%d]
	)`, types.EmbeddingDimensions)
	_, err := s.db.Exec(ddl)
	return err
}

// writeVectorIndexLocked upserts m's embedding into vec_memories within tx.
// Returns an error (without failing the caller's transaction by itself) if
// the vector extension isn't available, so callers can fall back to the
// outbox for later reconciliation.
func (s *Store) writeVectorIndexLocked(tx *sql.Tx, m *types.Memory) error {
	if !s.vectorExt || m.Embedding == nil {
		return fmt.Errorf("vector index unavailable or memory has no embedding")
	}
	_, err := tx.Exec(`INSERT INTO vec_memories (memory_id, embedding) VALUES (?, ?)
		ON CONFLICT(memory_id) DO UPDATE SET embedding = excluded.embedding`,
		m.ID, encodeEmbedding(m.Embedding))
	return err
}

func (s *Store) enqueueOutbox(tx *sql.Tx, memoryID, operation string) {
	if _, err := tx.Exec(`INSERT INTO outbox (memory_id, operation, created_at) VALUES (?,?,?)`,
		memoryID, operation, time.Now()); err != nil {
		logging.Get(logging.CategoryStore).Error("failed to enqueue outbox entry for %s/%s: %v", memoryID, operation, err)
	}
}

// ScoredMemory pairs a Memory with its similarity to a query vector.
type ScoredMemory struct {
	Memory     *types.Memory
	Similarity float64
}

// VectorRecall returns the k memories in projectID whose embeddings are most
// similar to queryVec. Uses the vec0 ANN index when available, otherwise a
// brute-force cosine scan over every embedded memory in the project.
func (s *Store) VectorRecall(ctx context.Context, projectID string, queryVec []float32, k int) ([]ScoredMemory, error) {
	release, err := s.acquireConn(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if s.vectorExt {
		return s.vectorRecallANN(ctx, projectID, queryVec, k)
	}
	return s.vectorRecallBruteForce(ctx, projectID, queryVec, k)
}

func (s *Store) vectorRecallANN(ctx context.Context, projectID string, queryVec []float32, k int) ([]ScoredMemory, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id FROM vec_memories v
		JOIN memories m ON m.id = v.memory_id
		WHERE m.project_id = ? AND v.embedding MATCH ? AND k = ?
		ORDER BY v.distance`,
		projectID, encodeEmbedding(queryVec), k)
	if err != nil {
		logging.Get(logging.CategoryStore).Warn("ANN query failed, falling back to brute force: %v", err)
		return s.vectorRecallBruteForce(ctx, projectID, queryVec, k)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}

	out := make([]ScoredMemory, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetMemory(ctx, projectID, id)
		if err != nil {
			continue
		}
		sim, _ := embedding.CosineSimilarity(queryVec, m.Embedding)
		out = append(out, ScoredMemory{Memory: m, Similarity: sim})
	}
	return out, nil
}

func (s *Store) vectorRecallBruteForce(ctx context.Context, projectID string, queryVec []float32, k int) ([]ScoredMemory, error) {
	rows, err := s.db.QueryContext(ctx, memorySelectCols+` WHERE project_id = ? AND embedding IS NOT NULL`, projectID)
	if err != nil {
		return nil, fmt.Errorf("brute-force scan: %w", err)
	}
	defer rows.Close()

	var scored []ScoredMemory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			continue
		}
		sim, err := embedding.CosineSimilarity(queryVec, m.Embedding)
		if err != nil {
			continue
		}
		scored = append(scored, ScoredMemory{Memory: m, Similarity: sim})
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].Similarity > scored[j].Similarity })
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// ReconcileOutbox retries the vector-index upserts StoreMemory and
// UpdateMemory queue when their inline write fails, and the index deletes
// ForgetMemory queues for every memory it removes; entries that have already
// failed maxAttempts times are skipped. This
// is the grace-period half of the dual-write protocol: inline writes cover
// the common case, the outbox covers transient vector-index unavailability.
func (s *Store) ReconcileOutbox(ctx context.Context, maxAttempts int) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, memory_id, operation, attempts FROM outbox WHERE attempts < ? ORDER BY created_at`, maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("query outbox: %w", err)
	}
	type entry struct {
		id, memoryID, operation string
		attempts                int
	}
	var entries []entry
	for rows.Next() {
		var e entry
		var id int64
		if err := rows.Scan(&id, &e.memoryID, &e.operation, &e.attempts); err != nil {
			continue
		}
		e.id = fmt.Sprint(id)
		entries = append(entries, e)
	}
	rows.Close()

	reconciled := 0
	for _, e := range entries {
		var opErr error
		switch e.operation {
		case "upsert":
			opErr = s.reconcileUpsert(ctx, e.memoryID)
		case "delete":
			opErr = s.reconcileDelete(ctx, e.memoryID)
		}
		if opErr != nil {
			s.db.ExecContext(ctx, `UPDATE outbox SET attempts = attempts + 1, last_error = ? WHERE id = ?`, opErr.Error(), e.id)
			continue
		}
		s.db.ExecContext(ctx, `DELETE FROM outbox WHERE id = ?`, e.id)
		reconciled++
	}
	return reconciled, nil
}

func (s *Store) reconcileUpsert(ctx context.Context, memoryID string) error {
	if !s.vectorExt {
		return fmt.Errorf("vector extension unavailable")
	}
	var projectID string
	err := s.db.QueryRowContext(ctx, `SELECT project_id FROM memories WHERE id = ?`, memoryID).Scan(&projectID)
	if err == sql.ErrNoRows {
		return nil // memory was since deleted; nothing to reconcile
	}
	if err != nil {
		return err
	}
	m, err := s.GetMemory(ctx, projectID, memoryID)
	if err != nil {
		return err
	}
	if m.Embedding == nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := s.writeVectorIndexLocked(tx, m); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) reconcileDelete(ctx context.Context, memoryID string) error {
	if !s.vectorExt {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM vec_memories WHERE memory_id = ?`, memoryID)
	return err
}
