package store

import (
	"context"

	"mnemex/internal/errs"
	"mnemex/internal/types"
)

// SaveWorkingItem upserts one working-memory buffer entry, so a restart can
// rehydrate the buffer instead of starting empty.
func (s *Store) SaveWorkingItem(ctx context.Context, it *types.WorkingItem) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO working_items
		(id, project_id, content, component, activation, importance, decay_rate, memory_id, created_at, last_accessed)
		VALUES (?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, activation = excluded.activation,
			importance = excluded.importance, memory_id = excluded.memory_id, last_accessed = excluded.last_accessed`,
		it.ID, it.ProjectID, it.Content, string(it.Component), it.Activation, it.Importance, it.DecayRate,
		it.MemoryID, it.CreatedAt, it.LastAccessed)
	if err != nil {
		return errs.Wrap(errs.StoreUnavailable, "save_working_item_failed", "upsert working item", err)
	}
	return nil
}

// DeleteWorkingItem removes an evicted working-memory entry.
func (s *Store) DeleteWorkingItem(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM working_items WHERE id = ?`, id)
	return err
}

// ListWorkingItems returns every persisted working-memory entry for
// projectID, used to rehydrate the in-process buffer on startup.
func (s *Store) ListWorkingItems(ctx context.Context, projectID string) ([]*types.WorkingItem, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, project_id, content, component, activation, importance, decay_rate, memory_id, created_at, last_accessed
		FROM working_items WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "list_working_items_failed", "query working items", err)
	}
	defer rows.Close()

	var out []*types.WorkingItem
	for rows.Next() {
		var it types.WorkingItem
		var component string
		if err := rows.Scan(&it.ID, &it.ProjectID, &it.Content, &component, &it.Activation, &it.Importance,
			&it.DecayRate, &it.MemoryID, &it.CreatedAt, &it.LastAccessed); err != nil {
			continue
		}
		it.Component = types.Component(component)
		out = append(out, &it)
	}
	return out, nil
}
