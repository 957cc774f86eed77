package graph

import (
	"fmt"
	"math"
	"testing"
	"time"

	"go.uber.org/zap"
)

func spacedModel(t *testing.T, gaps ...time.Duration) *Model {
	t.Helper()
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	nodes := []Node{{ID: "n0", Timestamp: base.Format(time.RFC3339)}}
	at := base
	for i, gap := range gaps {
		at = at.Add(gap)
		nodes = append(nodes, Node{
			ID:        fmt.Sprintf("n%d", i+1),
			Timestamp: at.Format(time.RFC3339),
		})
	}
	return NewModel(1, nodes, nil, zap.NewNop())
}

func TestTemporalEdgesWithinWindow(t *testing.T) {
	// Gaps: 60s, 60s, then an hour. With a 150s window, n0-n1, n0-n2
	// (120s) and n1-n2 connect; n3 is isolated.
	m := spacedModel(t, time.Minute, time.Minute, time.Hour)
	edges := TemporalEdges(m, TemporalConfig{WindowSecs: 150, MaxEdges: 100}, nil)

	if len(edges) != 3 {
		t.Fatalf("edges = %d, want 3", len(edges))
	}
	for _, e := range edges {
		if e.Kind != EdgeTemporal || e.ID == "" {
			t.Fatalf("bad temporal edge: %+v", e)
		}
		if e.Source == "n3" || e.Target == "n3" {
			t.Fatalf("node beyond the window got an edge: %+v", e)
		}
	}
}

func TestTemporalEdgeStrengthDecaysLinearly(t *testing.T) {
	m := spacedModel(t, 50*time.Second)
	edges := TemporalEdges(m, TemporalConfig{WindowSecs: 100, MaxEdges: 10}, nil)
	if len(edges) != 1 {
		t.Fatalf("edges = %d, want 1", len(edges))
	}
	if math.Abs(edges[0].Weight-0.5) > 1e-9 {
		t.Fatalf("weight = %v, want 0.5 at half window", edges[0].Weight)
	}
}

func TestTemporalEdgesRespectMaxCap(t *testing.T) {
	gaps := make([]time.Duration, 50)
	for i := range gaps {
		gaps[i] = time.Second
	}
	m := spacedModel(t, gaps...)
	edges := TemporalEdges(m, TemporalConfig{WindowSecs: 3600, MaxEdges: 7}, nil)
	if len(edges) != 7 {
		t.Fatalf("edges = %d, want capped at 7", len(edges))
	}
}

func TestTemporalEdgesVisibleSetRestriction(t *testing.T) {
	m := spacedModel(t, time.Second, time.Second)
	visible := map[string]struct{}{"n0": {}, "n2": {}}
	edges := TemporalEdges(m, TemporalConfig{WindowSecs: 60, MaxEdges: 10}, visible)

	if len(edges) != 1 {
		t.Fatalf("edges = %d, want 1 (only between visible nodes)", len(edges))
	}
	if edges[0].Source != "n0" || edges[0].Target != "n2" {
		t.Fatalf("edge = %s -> %s", edges[0].Source, edges[0].Target)
	}
}

func TestTemporalEdgesSkipUntimedNodes(t *testing.T) {
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	m := NewModel(1, []Node{
		{ID: "a", Timestamp: base.Format(time.RFC3339)},
		{ID: "b", Timestamp: base.Add(time.Second).Format(time.RFC3339)},
		{ID: "u", Timestamp: "???"},
	}, nil, zap.NewNop())

	edges := TemporalEdges(m, TemporalConfig{WindowSecs: 60, MaxEdges: 10}, nil)
	if len(edges) != 1 {
		t.Fatalf("edges = %d, want 1", len(edges))
	}
	for _, e := range edges {
		if e.Source == "u" || e.Target == "u" {
			t.Fatal("untimed node must not get temporal edges")
		}
	}
}

func TestTemporalEdgesDisabled(t *testing.T) {
	m := spacedModel(t, time.Second)
	if edges := TemporalEdges(m, TemporalConfig{WindowSecs: 0, MaxEdges: 10}, nil); edges != nil {
		t.Fatal("zero window must synthesize nothing")
	}
	if edges := TemporalEdges(m, TemporalConfig{WindowSecs: 60, MaxEdges: 0}, nil); edges != nil {
		t.Fatal("zero cap must synthesize nothing")
	}
}
