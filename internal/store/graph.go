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

// UpsertEntity creates or returns the existing entity named name in
// projectID, appending observation (if non-empty) to its observation list.
func (s *Store) UpsertEntity(ctx context.Context, projectID, name, entityType, observation string) (*types.Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var e types.Entity
	var observations sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT id, project_id, name, type, observations, created_at, updated_at
		FROM entities WHERE project_id = ? AND name = ?`, projectID, name).
		Scan(&e.ID, &e.ProjectID, &e.Name, &e.Type, &observations, &e.CreatedAt, &e.UpdatedAt)

	now := time.Now()
	if err == sql.ErrNoRows {
		e = types.Entity{ID: uuid.NewString(), ProjectID: projectID, Name: name, Type: entityType, CreatedAt: now, UpdatedAt: now}
		if observation != "" {
			e.Observations = []string{observation}
		}
		_, insErr := s.db.ExecContext(ctx, `INSERT INTO entities (id, project_id, name, type, observations, created_at, updated_at)
			VALUES (?,?,?,?,?,?,?)`, e.ID, e.ProjectID, e.Name, e.Type, encodeJSON(e.Observations), e.CreatedAt, e.UpdatedAt)
		if insErr != nil {
			return nil, errs.Wrap(errs.StoreUnavailable, "entity_insert_failed", "insert entity", insErr)
		}
		return &e, nil
	}
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "entity_lookup_failed", "query entity", err)
	}

	e.Observations = decodeJSONStrings(observations.String)
	if observation != "" {
		e.Observations = append(e.Observations, observation)
		e.UpdatedAt = now
		_, updErr := s.db.ExecContext(ctx, `UPDATE entities SET observations = ?, updated_at = ? WHERE id = ?`,
			encodeJSON(e.Observations), e.UpdatedAt, e.ID)
		if updErr != nil {
			return nil, errs.Wrap(errs.StoreUnavailable, "entity_update_failed", "update entity observations", updErr)
		}
	}
	return &e, nil
}

// GetEntity fetches one entity by name, scoped to projectID.
func (s *Store) GetEntity(ctx context.Context, projectID, name string) (*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var e types.Entity
	var observations sql.NullString
	err := s.db.QueryRowContext(ctx, `SELECT id, project_id, name, type, observations, created_at, updated_at
		FROM entities WHERE project_id = ? AND name = ?`, projectID, name).
		Scan(&e.ID, &e.ProjectID, &e.Name, &e.Type, &observations, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "entity_lookup_failed", "query entity", err)
	}
	e.Observations = decodeJSONStrings(observations.String)
	return &e, nil
}

// StoreRelation inserts a directed relation between two entities (by name).
// Strength and confidence are clamped to [0, 1]. Every call adds a new row;
// an existing relation between the same entities is not strengthened.
func (s *Store) StoreRelation(ctx context.Context, projectID, fromEntity, toEntity, relType string, strength, confidence float64) (*types.Relation, error) {
	if fromEntity == "" || toEntity == "" || relType == "" {
		return nil, errs.New(errs.InvalidArgument, "invalid_relation", "from/to entity and rel_type must be non-empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r := &types.Relation{
		ID: uuid.NewString(), ProjectID: projectID, FromEntity: fromEntity, ToEntity: toEntity,
		RelType: relType, Strength: types.ClampUnit(strength), Confidence: types.ClampUnit(confidence),
		ValidFrom: time.Now(),
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO relations (id, project_id, from_entity, to_entity, rel_type, strength, confidence, valid_from)
		VALUES (?,?,?,?,?,?,?,?)`, r.ID, r.ProjectID, r.FromEntity, r.ToEntity, r.RelType, r.Strength, r.Confidence, r.ValidFrom)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "relation_insert_failed", "insert relation", err)
	}
	return r, nil
}

// InvalidateRelation soft-invalidates a relation by setting valid_until,
// preserving it for historical graph queries instead of deleting the row.
func (s *Store) InvalidateRelation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE relations SET valid_until = ? WHERE id = ? AND valid_until IS NULL`, time.Now(), id)
	return err
}

// queryRelationsLocked executes the direction-filtered relation query
// assuming the caller already holds s.mu. TraversePath relies on this to
// avoid re-acquiring the lock from within its own BFS loop.
func (s *Store) queryRelationsLocked(ctx context.Context, projectID, entity, direction string) ([]*types.Relation, error) {
	var query string
	args := []interface{}{projectID}
	switch direction {
	case "outgoing":
		query = `SELECT id, project_id, from_entity, to_entity, rel_type, strength, confidence, valid_from, valid_until
			FROM relations WHERE project_id = ? AND from_entity = ? AND valid_until IS NULL`
		args = append(args, entity)
	case "incoming":
		query = `SELECT id, project_id, from_entity, to_entity, rel_type, strength, confidence, valid_from, valid_until
			FROM relations WHERE project_id = ? AND to_entity = ? AND valid_until IS NULL`
		args = append(args, entity)
	default:
		query = `SELECT id, project_id, from_entity, to_entity, rel_type, strength, confidence, valid_from, valid_until
			FROM relations WHERE project_id = ? AND (from_entity = ? OR to_entity = ?) AND valid_until IS NULL`
		args = append(args, entity, entity)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query relations: %w", err)
	}
	defer rows.Close()

	var out []*types.Relation
	for rows.Next() {
		r, err := scanRelation(rows)
		if err != nil {
			logging.Get(logging.CategoryStore).Warn("relation row scan failed: %v", err)
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// QueryRelations retrieves relations touching entity in projectID.
// direction is one of "outgoing", "incoming", or "" (both).
func (s *Store) QueryRelations(ctx context.Context, projectID, entity, direction string) ([]*types.Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryRelationsLocked(ctx, projectID, entity, direction)
}

// TraversePath finds the shortest relation path from one entity to another
// via breadth-first search, bounded at maxDepth hops.
func (s *Store) TraversePath(ctx context.Context, projectID, from, to string, maxDepth int) ([]*types.Relation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if maxDepth <= 0 {
		maxDepth = 5
	}

	type queueItem struct {
		entity string
		depth  int
	}

	cameFrom := make(map[string]*types.Relation)
	cameFrom[from] = nil
	queue := []queueItem{{entity: from, depth: 0}}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if current.entity == to {
			path := make([]*types.Relation, current.depth)
			curr := to
			for i := current.depth - 1; i >= 0; i-- {
				r := cameFrom[curr]
				if r == nil {
					break
				}
				path[i] = r
				curr = r.FromEntity
			}
			return path, nil
		}
		if current.depth >= maxDepth {
			continue
		}

		relations, err := s.queryRelationsLocked(ctx, projectID, current.entity, "outgoing")
		if err != nil {
			continue
		}
		for _, r := range relations {
			if _, visited := cameFrom[r.ToEntity]; !visited {
				cameFrom[r.ToEntity] = r
				queue = append(queue, queueItem{entity: r.ToEntity, depth: current.depth + 1})
			}
		}
	}
	return nil, fmt.Errorf("no path found from %s to %s within %d hops", from, to, maxDepth)
}

// ListEntityNames returns every entity name known in projectID, the
// candidate set the retrieval router checks a query's tokens against to
// decide whether the graph strategy applies.
func (s *Store) ListEntityNames(ctx context.Context, projectID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT name FROM entities WHERE project_id = ?`, projectID)
	if err != nil {
		return nil, fmt.Errorf("query entity names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}

func scanRelation(row rowScanner) (*types.Relation, error) {
	var r types.Relation
	var validUntil sql.NullTime
	if err := row.Scan(&r.ID, &r.ProjectID, &r.FromEntity, &r.ToEntity, &r.RelType, &r.Strength, &r.Confidence, &r.ValidFrom, &validUntil); err != nil {
		return nil, err
	}
	if validUntil.Valid {
		r.ValidUntil = &validUntil.Time
	}
	return &r, nil
}
