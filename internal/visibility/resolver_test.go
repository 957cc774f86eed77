package visibility

import (
	"fmt"
	"testing"
	"time"

	"github.com/nidhogg/convograph/internal/filter"
	"github.com/nidhogg/convograph/internal/graph"
	"github.com/nidhogg/convograph/internal/timeline"
	"go.uber.org/zap"
)

// fixture: 4 nodes one minute apart in session s1, chained by session edges.
// n1 uses tools so the tool-use axis can target it.
func fixture(t *testing.T) (*graph.Model, *timeline.Timeline, *filter.Engine, *Resolver) {
	t.Helper()
	base := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	var nodes []graph.Node
	for i := 0; i < 4; i++ {
		nodes = append(nodes, graph.Node{
			ID:         fmt.Sprintf("n%d", i),
			SessionID:  "s1",
			Timestamp:  base.Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
			HasToolUse: i == 1,
		})
	}
	var edges []graph.Edge
	for i := 0; i+1 < len(nodes); i++ {
		edges = append(edges, graph.Edge{
			Source: nodes[i].ID, Target: nodes[i+1].ID,
			Kind: graph.EdgeSession, SessionID: "s1",
		})
	}
	m := graph.NewModel(1, nodes, edges, zap.NewNop())

	tl := timeline.New(zap.NewNop())
	tl.Rebuild(m)
	fl := filter.NewEngine(zap.NewNop())
	fl.SetModel(m)
	fl.Recompute()
	return m, tl, fl, NewResolver(tl, fl)
}

func TestDrawableRequiresAllThreeGates(t *testing.T) {
	m, tl, fl, r := fixture(t)

	// All gates open.
	rs := r.Resolve(m, nil)
	if len(rs.Nodes) != 4 || len(rs.Edges) != 3 {
		t.Fatalf("unfiltered: nodes=%d edges=%d, want 4/3", len(rs.Nodes), len(rs.Edges))
	}

	// Temporal gate: scrub back so n3 (normalized 1.0) is future.
	tl.Seek(0.9)
	if r.NodeDrawable("n3") {
		t.Fatal("temporally future node must not be drawable")
	}
	tl.Seek(1.0)

	// Filter gate.
	fl.SetToolUseMode(filter.ModeFiltered)
	fl.Recompute()
	if r.NodeDrawable("n1") {
		t.Fatal("filter-hidden node must not be drawable")
	}
	fl.SetToolUseMode(filter.ModeOff)
	fl.Recompute()

	// Semantic gate.
	r.SetSemanticSet([]string{"n0", "n2"})
	if r.NodeDrawable("n1") || !r.NodeDrawable("n2") {
		t.Fatal("semantic set must gate drawability")
	}
	r.ClearSemanticSet()
	if !r.NodeDrawable("n1") {
		t.Fatal("clearing the semantic set restores drawability")
	}
}

func TestEmptySemanticSetHidesEverything(t *testing.T) {
	m, _, _, r := fixture(t)

	r.SetSemanticSet(nil)
	if !r.SemanticActive() {
		t.Fatal("an installed empty set is still active")
	}
	rs := r.Resolve(m, nil)
	if len(rs.Nodes) != 0 || len(rs.Edges) != 0 {
		t.Fatal("empty semantic set must hide all nodes and edges")
	}
}

func TestInactiveNodeHiddenButBridged(t *testing.T) {
	m, _, fl, r := fixture(t)

	fl.SetToolUseMode(filter.ModeInactive)
	fl.Recompute()
	rs := r.Resolve(m, fl.BypassEdges())
	if _, ok := rs.Nodes["n1"]; ok {
		t.Fatal("inactive node must not be drawable")
	}
	if len(rs.Nodes) != 3 {
		t.Fatalf("drawable nodes = %d, want 3", len(rs.Nodes))
	}
	// Session edges touching n1 drop; the bypass edge spans the gap.
	var bridged bool
	for _, e := range rs.Edges {
		if e.Source == "n1" || e.Target == "n1" {
			t.Fatalf("edge %s -> %s touches inactive node", e.Source, e.Target)
		}
		if e.Kind == graph.EdgeBypass && e.Source == "n0" && e.Target == "n2" {
			bridged = true
		}
	}
	if !bridged {
		t.Fatal("bypass edge n0 -> n2 must bridge the inactive gap")
	}
}

func TestEdgesNeverReachHiddenEndpoints(t *testing.T) {
	m, _, fl, r := fixture(t)

	fl.SetToolUseMode(filter.ModeFiltered)
	fl.Recompute()
	rs := r.Resolve(m, nil)
	for _, e := range rs.Edges {
		if e.Source == "n1" || e.Target == "n1" {
			t.Fatalf("edge %s -> %s touches hidden node", e.Source, e.Target)
		}
	}
	// n0-n1 and n1-n2 disappear; only n2-n3 survives.
	if len(rs.Edges) != 1 {
		t.Fatalf("surviving edges = %d, want 1", len(rs.Edges))
	}
}

func TestSyntheticEdgesFollowEndpointRule(t *testing.T) {
	m, _, fl, r := fixture(t)
	fl.Recompute()

	synthetic := []graph.Edge{
		{ID: "t1", Source: "n0", Target: "n2", Kind: graph.EdgeTemporal, Weight: 0.5},
		{ID: "t2", Source: "n0", Target: "missing", Kind: graph.EdgeTemporal, Weight: 0.5},
	}
	rs := r.Resolve(m, synthetic)
	found := false
	for _, e := range rs.Edges {
		if e.ID == "t1" {
			found = true
		}
		if e.ID == "t2" {
			t.Fatal("edge with unknown endpoint must be dropped")
		}
	}
	if !found {
		t.Fatal("synthetic edge between drawable nodes must survive")
	}
}

func TestBypassEdgeHiddenWhenAnchorScrubbedOut(t *testing.T) {
	m, tl, fl, r := fixture(t)
	_ = m

	fl.Recompute()
	bypass := graph.Edge{ID: "b1", Source: "n0", Target: "n3", Kind: graph.EdgeBypass}
	tl.Seek(1.0)
	if !r.EdgeDrawable(bypass) {
		t.Fatal("bypass edge with both anchors visible should draw")
	}
	tl.Seek(0.5)
	if r.EdgeDrawable(bypass) {
		t.Fatal("bypass edge must hide when an anchor leaves the temporal window")
	}
}
