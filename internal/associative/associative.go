// Package associative maintains the weighted link graph between
// working-memory items, durable memories and graph entities, and performs
// the two operations that give memory its associative character: Hebbian
// strengthening of co-activated items, and bounded spreading activation
// from a set of seed items outward across the link graph.
package associative

import (
	"context"
	"sort"
	"time"

	"mnemex/internal/errs"
	"mnemex/internal/logging"
	"mnemex/internal/store"
	"mnemex/internal/types"
)

// Config tunes Hebbian reinforcement, decay and spreading activation.
type Config struct {
	HebbianIncrement float64 // nudge applied to a strengthened link per co-activation
	DecayFactor      float64 // multiplicative decay applied per tick
	DecayFloor       float64 // links below this strength are pruned
	SpreadDepth      int     // max hop count for spreading activation
	SpreadAlpha      float64 // per-hop attenuation factor, 0..1
}

// Network is one project-agnostic handle onto the persisted link graph.
type Network struct {
	cfg   Config
	store *store.Store
}

// New constructs a Network backed by st.
func New(cfg Config, st *store.Store) *Network {
	return &Network{cfg: cfg, store: st}
}

// Strengthen records that from and to were co-activated, applying a
// Hebbian update to their link's strength.
func (n *Network) Strengthen(ctx context.Context, projectID string, from, to types.ItemRef, linkType types.LinkType) (*types.AssociationLink, error) {
	link, err := n.store.StrengthenLink(ctx, projectID, from, to, linkType, n.cfg.HebbianIncrement)
	if err != nil {
		return nil, err
	}
	logging.Get(logging.CategoryAssociative).Debug("strengthened %s->%s (%s) to %.3f", from.ID, to.ID, linkType, link.Strength)
	return link, nil
}

// Decay applies the network's configured decay factor to every link last
// strengthened before the cutoff and prunes links that fall below floor.
// Call periodically (e.g. once per consolidation run).
func (n *Network) Decay(ctx context.Context, projectID string, cutoff time.Time) (int64, error) {
	affected, err := n.store.DecayLinks(ctx, projectID, cutoff, n.cfg.DecayFactor, n.cfg.DecayFloor)
	if err != nil {
		return 0, err
	}
	logging.Get(logging.CategoryAssociative).Debug("decayed %d links in %s", affected, projectID)
	return affected, nil
}

// Spread performs bounded-depth spreading activation outward from seeds,
// each starting at activation 1. Activation attenuates by SpreadAlpha per
// hop and is weighted by the traversed link's strength; an item reached by
// more than one path keeps its highest activation. The result is sorted by
// descending activation and excludes the seeds themselves.
func (n *Network) Spread(ctx context.Context, projectID string, seeds []types.ItemRef) ([]types.ActivationState, error) {
	if len(seeds) == 0 {
		return nil, errs.New(errs.InvalidArgument, "no_seeds", "spreading activation requires at least one seed item")
	}
	depth := n.cfg.SpreadDepth
	if depth <= 0 {
		depth = 2
	}

	seedSet := make(map[types.ItemRef]bool, len(seeds))
	best := make(map[types.ItemRef]*types.ActivationState)
	now := time.Now()

	type frontierItem struct {
		ref   types.ItemRef
		level float64
		hop   int
	}
	var frontier []frontierItem
	for _, s := range seeds {
		seedSet[s] = true
		frontier = append(frontier, frontierItem{ref: s, level: 1.0, hop: 0})
	}

	for hop := 0; hop < depth && len(frontier) > 0; hop++ {
		var next []frontierItem
		for _, f := range frontier {
			links, err := n.store.LinksFrom(ctx, projectID, f.ref)
			if err != nil {
				logging.Get(logging.CategoryAssociative).Warn("spread: links lookup failed for %s: %v", f.ref.ID, err)
				continue
			}
			for _, l := range links {
				activation := f.level * n.cfg.SpreadAlpha * l.Strength
				if activation <= 0 {
					continue
				}
				if seedSet[l.To] {
					continue
				}
				if existing, ok := best[l.To]; !ok || activation > existing.Level {
					best[l.To] = &types.ActivationState{Item: l.To, Level: activation, HopDistance: f.hop + 1, ActivatedAt: now}
				}
				next = append(next, frontierItem{ref: l.To, level: activation, hop: f.hop + 1})
			}
		}
		frontier = next
	}

	out := make([]types.ActivationState, 0, len(best))
	for _, v := range best {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Level > out[j].Level })
	return out, nil
}
