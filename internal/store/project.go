package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"mnemex/internal/errs"
	"mnemex/internal/types"
)

// CreateProject registers a new project, generating an id if name is new.
func (s *Store) CreateProject(ctx context.Context, name, path string) (*types.Project, error) {
	var existing string
	err := s.db.QueryRowContext(ctx, `SELECT id FROM projects WHERE name = ? AND deleted_at IS NULL`, name).Scan(&existing)
	if err == nil {
		return s.GetProject(ctx, existing)
	}
	if err != sql.ErrNoRows {
		return nil, errs.Wrap(errs.StoreUnavailable, "create_project_failed", "check existing project", err)
	}

	p := &types.Project{ID: uuid.NewString(), Name: name, Path: path, CreatedAt: time.Now()}
	_, err = s.db.ExecContext(ctx, `INSERT INTO projects (id, name, path, created_at) VALUES (?,?,?,?)`,
		p.ID, p.Name, p.Path, p.CreatedAt)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "create_project_failed", "insert project", err)
	}
	return p, nil
}

// GetProject fetches a project by id.
func (s *Store) GetProject(ctx context.Context, id string) (*types.Project, error) {
	var p types.Project
	var deletedAt sql.NullTime
	err := s.db.QueryRowContext(ctx, `SELECT id, name, path, created_at, deleted_at FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Path, &p.CreatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "get_project_failed", "query project", err)
	}
	if deletedAt.Valid {
		p.DeletedAt = &deletedAt.Time
	}
	return &p, nil
}

// ProjectUsage reports current row counts against which QuotaConfig caps are
// enforced.
type ProjectUsage struct {
	Memories   int64
	Events     int64
	Procedures int64
	Entities   int64
}

// GetProjectUsage counts the quota-bearing rows for projectID.
func (s *Store) GetProjectUsage(ctx context.Context, projectID string) (ProjectUsage, error) {
	var u ProjectUsage
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE project_id = ? AND kind != 'procedural'`, projectID).Scan(&u.Memories); err != nil {
		return u, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE project_id = ?`, projectID).Scan(&u.Events); err != nil {
		return u, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE project_id = ? AND kind = 'procedural'`, projectID).Scan(&u.Procedures); err != nil {
		return u, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entities WHERE project_id = ?`, projectID).Scan(&u.Entities); err != nil {
		return u, err
	}
	return u, nil
}
