package store

import (
	"context"
	"time"

	"mnemex/internal/errs"
	"mnemex/internal/types"
)

// StrengthenLink applies a Hebbian update: creates the link at strength
// hebbianIncrement if absent, or nudges an existing link's strength toward
// 1 by hebbianIncrement * (1 - strength) and bumps its co-occurrence count.
func (s *Store) StrengthenLink(ctx context.Context, projectID string, from, to types.ItemRef, linkType types.LinkType, hebbianIncrement float64) (*types.AssociationLink, error) {
	now := time.Now()
	var existing types.AssociationLink
	err := s.db.QueryRowContext(ctx, `SELECT strength, co_occurrence_count FROM links
		WHERE project_id = ? AND from_id = ? AND from_layer = ? AND to_id = ? AND to_layer = ? AND link_type = ?`,
		projectID, from.ID, string(from.Layer), to.ID, string(to.Layer), string(linkType)).
		Scan(&existing.Strength, &existing.CoOccurrenceCount)

	link := &types.AssociationLink{
		ProjectID: projectID, From: from, To: to, Type: linkType, LastStrengthened: now,
	}
	if err != nil {
		link.Strength = types.ClampUnit(hebbianIncrement)
		link.CoOccurrenceCount = 1
	} else {
		link.Strength = types.ClampUnit(existing.Strength + hebbianIncrement*(1-existing.Strength))
		link.CoOccurrenceCount = existing.CoOccurrenceCount + 1
	}

	_, err = s.db.ExecContext(ctx, `INSERT INTO links
		(project_id, from_id, from_layer, to_id, to_layer, link_type, strength, co_occurrence_count, last_strengthened)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT(project_id, from_id, from_layer, to_id, to_layer, link_type)
		DO UPDATE SET strength = excluded.strength, co_occurrence_count = excluded.co_occurrence_count, last_strengthened = excluded.last_strengthened`,
		projectID, from.ID, string(from.Layer), to.ID, string(to.Layer), string(linkType), link.Strength, link.CoOccurrenceCount, now)
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "link_upsert_failed", "upsert association link", err)
	}
	return link, nil
}

// DecayLinks multiplies every link strength older than since by factor, and
// deletes links that decay below the admission threshold floor.
func (s *Store) DecayLinks(ctx context.Context, projectID string, since time.Time, factor, floor float64) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE links SET strength = strength * ? WHERE project_id = ? AND last_strengthened < ?`,
		factor, projectID, since)
	if err != nil {
		return 0, errs.Wrap(errs.StoreUnavailable, "decay_links_failed", "decay link strengths", err)
	}
	n, _ := res.RowsAffected()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM links WHERE project_id = ? AND strength < ?`, projectID, floor); err != nil {
		return n, errs.Wrap(errs.StoreUnavailable, "prune_links_failed", "prune weak links", err)
	}
	return n, nil
}

// LinksFrom returns every link originating at ref, strongest first.
func (s *Store) LinksFrom(ctx context.Context, projectID string, ref types.ItemRef) ([]*types.AssociationLink, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT from_id, from_layer, to_id, to_layer, link_type, strength, co_occurrence_count, last_strengthened
		FROM links WHERE project_id = ? AND from_id = ? AND from_layer = ? ORDER BY strength DESC`,
		projectID, ref.ID, string(ref.Layer))
	if err != nil {
		return nil, errs.Wrap(errs.StoreUnavailable, "links_from_failed", "query outgoing links", err)
	}
	defer rows.Close()

	var out []*types.AssociationLink
	for rows.Next() {
		l := &types.AssociationLink{ProjectID: projectID}
		var fromLayer, toLayer, linkType string
		if err := rows.Scan(&l.From.ID, &fromLayer, &l.To.ID, &toLayer, &linkType, &l.Strength, &l.CoOccurrenceCount, &l.LastStrengthened); err != nil {
			continue
		}
		l.From.Layer = types.ItemLayer(fromLayer)
		l.To.Layer = types.ItemLayer(toLayer)
		l.Type = types.LinkType(linkType)
		out = append(out, l)
	}
	return out, nil
}
