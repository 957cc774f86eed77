package visibility

import (
	"github.com/nidhogg/convograph/internal/filter"
	"github.com/nidhogg/convograph/internal/graph"
	"github.com/nidhogg/convograph/internal/timeline"
)

// Resolver is the one place node and edge drawability is decided. Renderer,
// layout and hit testing all consume its answers, so a node can never be
// visible in one subsystem and absent in another.
type Resolver struct {
	timeline *timeline.Timeline
	filters  *filter.Engine
	// semantic is an externally supplied match set (search results). Nil
	// means no semantic filtering; an empty non-nil set hides everything.
	semantic map[string]struct{}
}

// NewResolver wires the resolver to its timeline and filter inputs.
func NewResolver(tl *timeline.Timeline, fl *filter.Engine) *Resolver {
	return &Resolver{timeline: tl, filters: fl}
}

// SetSemanticSet installs a semantic match set from a search.
func (r *Resolver) SetSemanticSet(ids []string) {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	r.semantic = set
}

// ClearSemanticSet removes semantic filtering.
func (r *Resolver) ClearSemanticSet() { r.semantic = nil }

// SemanticActive reports whether a semantic match set is installed.
func (r *Resolver) SemanticActive() bool { return r.semantic != nil }

// NodeDrawable reports whether a node is rendered at all: it must be inside
// the temporal window, not hidden by a filter axis, and in the semantic set
// when one is active.
func (r *Resolver) NodeDrawable(id string) bool {
	if !r.timeline.NodeVisible(id) {
		return false
	}
	if r.filters.IsNodeHidden(id) {
		return false
	}
	if r.semantic != nil {
		if _, ok := r.semantic[id]; !ok {
			return false
		}
	}
	return true
}

// EdgeDrawable requires both endpoints drawable. Bypass edges follow the
// same rule; their anchors are visible by construction but may still fall
// outside the temporal window or semantic set.
func (r *Resolver) EdgeDrawable(e graph.Edge) bool {
	return r.NodeDrawable(e.Source) && r.NodeDrawable(e.Target)
}

// RenderSet is one frame's worth of drawability decisions.
type RenderSet struct {
	Nodes map[string]struct{}
	Edges []graph.Edge
}

// Resolve evaluates the full model plus synthesized edges (temporal,
// bypass) into a render set.
func (r *Resolver) Resolve(m *graph.Model, synthetic []graph.Edge) RenderSet {
	rs := RenderSet{
		Nodes: make(map[string]struct{}),
	}
	nodes := m.Nodes()
	for i := range nodes {
		id := nodes[i].ID
		if !r.NodeDrawable(id) {
			continue
		}
		rs.Nodes[id] = struct{}{}
	}
	for _, e := range m.Edges() {
		if r.EdgeDrawable(e) {
			rs.Edges = append(rs.Edges, e)
		}
	}
	for _, e := range synthetic {
		if r.EdgeDrawable(e) {
			rs.Edges = append(rs.Edges, e)
		}
	}
	return rs
}
