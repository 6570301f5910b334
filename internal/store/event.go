package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"mnemex/internal/errs"
	"mnemex/internal/types"
)

// RecordEvent persists an episodic event, the raw input consolidation later
// clusters and compresses into memories and patterns.
func (s *Store) RecordEvent(ctx context.Context, e *types.EpisodicEvent) (*types.EpisodicEvent, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.ConsolidationStatus == "" {
		e.ConsolidationStatus = "pending"
	}

	_, err := s.db.ExecContext(ctx, `INSERT INTO events
		(id, project_id, session, timestamp, event_type, content, outcome,
		 context_cwd, context_files, context_task, context_phase, context_branch,
		 learning_delta, surprise, consolidation_status)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.ProjectID, e.Session, e.Timestamp, e.EventType, e.Content, e.Outcome,
		e.Context.CWD, encodeJSON(e.Context.Files), e.Context.Task, e.Context.Phase, e.Context.Branch,
		e.LearningDelta, e.Surprise, e.ConsolidationStatus,
	)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "record_event_failed", "insert event", err)
	}
	return e, nil
}

// ListPendingEvents returns events awaiting consolidation for projectID,
// oldest first, capped at limit (0 means unbounded).
func (s *Store) ListPendingEvents(ctx context.Context, projectID string, limit int) ([]*types.EpisodicEvent, error) {
	query := eventSelectCols + ` WHERE project_id = ? AND consolidation_status = 'pending' ORDER BY timestamp ASC`
	args := []interface{}{projectID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "list_events_failed", "query pending events", err)
	}
	defer rows.Close()

	var out []*types.EpisodicEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// MarkEventsConsolidated flags eventIDs as consumed by a consolidation run.
func (s *Store) MarkEventsConsolidated(ctx context.Context, eventIDs []string, status string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	stmt, err := tx.PrepareContext(ctx, `UPDATE events SET consolidation_status = ? WHERE id = ?`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, id := range eventIDs {
		if _, err := stmt.ExecContext(ctx, status, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const eventSelectCols = `SELECT id, project_id, session, timestamp, event_type, content, outcome,
	context_cwd, context_files, context_task, context_phase, context_branch,
	learning_delta, surprise, consolidation_status FROM events`

func scanEvent(row rowScanner) (*types.EpisodicEvent, error) {
	var e types.EpisodicEvent
	var files sql.NullString
	if err := row.Scan(&e.ID, &e.ProjectID, &e.Session, &e.Timestamp, &e.EventType, &e.Content, &e.Outcome,
		&e.Context.CWD, &files, &e.Context.Task, &e.Context.Phase, &e.Context.Branch,
		&e.LearningDelta, &e.Surprise, &e.ConsolidationStatus); err != nil {
		return nil, err
	}
	e.Context.Files = decodeJSONStrings(files.String)
	return &e, nil
}
