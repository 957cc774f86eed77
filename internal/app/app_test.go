package app

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nidhogg/convograph/internal/filter"
	"github.com/nidhogg/convograph/internal/graph"
	"github.com/nidhogg/convograph/internal/layout"
	"github.com/nidhogg/convograph/internal/settings"
	"github.com/nidhogg/convograph/internal/source"
	"github.com/nidhogg/convograph/internal/timeline"
	"go.uber.org/zap"
)

type fakeFetcher struct {
	fetchFn   func(ctx context.Context, hours, limit int) (*source.GraphPayload, error)
	visibleFn func(ctx context.Context, query string, limit int) ([]string, error)
	healthErr error
}

func (f *fakeFetcher) FetchGraph(ctx context.Context, hours, limit int) (*source.GraphPayload, error) {
	return f.fetchFn(ctx, hours, limit)
}

func (f *fakeFetcher) FetchVisibleSet(ctx context.Context, query string, limit int) ([]string, error) {
	if f.visibleFn == nil {
		return nil, nil
	}
	return f.visibleFn(ctx, query, limit)
}

func (f *fakeFetcher) Health(ctx context.Context) error { return f.healthErr }

func sourceNode(id string, ts time.Time) graph.Node {
	return graph.Node{ID: id, Role: graph.RoleUser, SessionID: "s1", Timestamp: ts.Format(time.RFC3339)}
}

func sessionEdge(a, b string) graph.Edge {
	return graph.Edge{Source: a, Target: b, Kind: graph.EdgeSession, SessionID: "s1"}
}

func payloadOf(ids ...string) *source.GraphPayload {
	p := &source.GraphPayload{}
	base := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range ids {
		p.Nodes = append(p.Nodes, sourceNode(id, base.Add(time.Duration(i)*time.Minute)))
	}
	for i := 0; i+1 < len(ids); i++ {
		p.Edges = append(p.Edges, sessionEdge(ids[i], ids[i+1]))
	}
	return p
}

func newTestApp(f *fakeFetcher) *App {
	area := layout.Rect{Min: layout.Vec2{X: -100, Y: -100}, Max: layout.Vec2{X: 100, Y: 100}}
	return New(f, settings.Default(), area, 1, zap.NewNop())
}

func TestReloadSwapsModelIn(t *testing.T) {
	f := &fakeFetcher{fetchFn: func(ctx context.Context, hours, limit int) (*source.GraphPayload, error) {
		if hours != settings.Default().QueryHours {
			t.Errorf("hours = %d, want settings value", hours)
		}
		return payloadOf("a", "b", "c"), nil
	}}
	a := newTestApp(f)

	if err := a.Reload(context.Background()); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	m := a.Model()
	if len(m.Nodes()) != 3 || !m.HasNode("b") {
		t.Fatalf("model nodes = %d", len(m.Nodes()))
	}
	if _, ok := a.Positions()["a"]; !ok {
		t.Fatal("reloaded nodes must get layout positions")
	}
}

func TestReloadFailureKeepsPreviousModel(t *testing.T) {
	good := true
	f := &fakeFetcher{fetchFn: func(ctx context.Context, hours, limit int) (*source.GraphPayload, error) {
		if good {
			return payloadOf("a"), nil
		}
		return nil, source.ErrSourceUnavailable
	}}
	a := newTestApp(f)
	if err := a.Reload(context.Background()); err != nil {
		t.Fatalf("first reload: %v", err)
	}

	good = false
	err := a.Reload(context.Background())
	if !errors.Is(err, source.ErrSourceUnavailable) {
		t.Fatalf("err = %v, want ErrSourceUnavailable", err)
	}
	if !a.Model().HasNode("a") {
		t.Fatal("failed reload must keep the previous model")
	}
}

func TestStaleReloadIsDiscarded(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls int32
	f := &fakeFetcher{fetchFn: func(ctx context.Context, hours, limit int) (*source.GraphPayload, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			close(started)
			<-release
			return payloadOf("stale"), nil
		}
		return payloadOf("fresh"), nil
	}}
	a := newTestApp(f)

	done := make(chan error, 1)
	go func() { done <- a.Reload(context.Background()) }()
	<-started

	if err := a.Reload(context.Background()); err != nil {
		t.Fatalf("second reload: %v", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("stale reload should discard quietly, got %v", err)
	}

	m := a.Model()
	if m.HasNode("stale") || !m.HasNode("fresh") {
		t.Fatal("older fetch must not overwrite a newer model")
	}
}

func TestUpdateAppliesFiltersToRenderSet(t *testing.T) {
	p := payloadOf("a", "b", "c")
	p.Nodes[1].HasToolUse = true
	f := &fakeFetcher{fetchFn: func(ctx context.Context, hours, limit int) (*source.GraphPayload, error) {
		return p, nil
	}}
	a := newTestApp(f)
	if err := a.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}

	cfg := a.Settings()
	cfg.ToolUseMode = filter.ModeFiltered
	a.ApplySettings(cfg)

	rs := a.Update(1.0 / 60)
	if _, ok := rs.Nodes["b"]; ok {
		t.Fatal("filtered node leaked into the render set")
	}
	if len(rs.Nodes) != 2 {
		t.Fatalf("render set nodes = %d, want 2", len(rs.Nodes))
	}
	for _, e := range rs.Edges {
		if e.Source == "b" || e.Target == "b" {
			t.Fatal("edge touching filtered node leaked")
		}
	}
}

func TestUpdateBridgesInactiveNodes(t *testing.T) {
	p := payloadOf("a", "b", "c")
	p.Nodes[1].HasToolUse = true
	f := &fakeFetcher{fetchFn: func(ctx context.Context, hours, limit int) (*source.GraphPayload, error) {
		return p, nil
	}}
	a := newTestApp(f)
	if err := a.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}

	cfg := a.Settings()
	cfg.ToolUseMode = filter.ModeInactive
	a.ApplySettings(cfg)

	rs := a.Update(1.0 / 60)
	if _, ok := rs.Nodes["b"]; ok {
		t.Fatal("inactive node leaked into the render set")
	}
	if len(rs.Nodes) != 2 {
		t.Fatalf("render set nodes = %d, want 2", len(rs.Nodes))
	}
	if len(rs.Edges) != 1 {
		t.Fatalf("render set edges = %d, want the single bypass", len(rs.Edges))
	}
	be := rs.Edges[0]
	if be.Kind != graph.EdgeBypass || be.Source != "a" || be.Target != "c" {
		t.Fatalf("bypass edge %+v, want a -> c", be)
	}
}

func TestUpdateSynthesizesTemporalEdges(t *testing.T) {
	f := &fakeFetcher{fetchFn: func(ctx context.Context, hours, limit int) (*source.GraphPayload, error) {
		return payloadOf("a", "b"), nil
	}}
	a := newTestApp(f)
	if err := a.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}

	cfg := a.Settings()
	cfg.TemporalEdges = true
	cfg.TemporalWindowSecs = 120 // nodes are one minute apart
	a.ApplySettings(cfg)

	rs := a.Update(1.0 / 60)
	temporal := 0
	for _, e := range rs.Edges {
		if e.Kind == graph.EdgeTemporal {
			temporal++
		}
	}
	if temporal != 1 {
		t.Fatalf("temporal edges in render set = %d, want 1", temporal)
	}

	cfg.TemporalEdges = false
	a.ApplySettings(cfg)
	rs = a.Update(1.0 / 60)
	for _, e := range rs.Edges {
		if e.Kind == graph.EdgeTemporal {
			t.Fatal("temporal edges must vanish when disabled")
		}
	}
}

func TestDragPinsNodeAgainstSimulation(t *testing.T) {
	f := &fakeFetcher{fetchFn: func(ctx context.Context, hours, limit int) (*source.GraphPayload, error) {
		return payloadOf("a", "b"), nil
	}}
	a := newTestApp(f)
	if err := a.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}

	if !a.BeginDrag("a") {
		t.Fatal("BeginDrag on existing node must succeed")
	}
	if a.BeginDrag("ghost") {
		t.Fatal("BeginDrag on unknown node must fail")
	}

	held := layout.Vec2{X: 42, Y: -7}
	a.DragTo(held)
	for i := 0; i < 30; i++ {
		a.Update(1.0 / 60)
	}
	if pos, _ := a.Positions()["a"]; pos != held {
		t.Fatalf("dragged node moved to %+v while pinned", pos)
	}

	a.EndDrag()
	for i := 0; i < 30; i++ {
		a.Update(1.0 / 60)
	}
	if pos, _ := a.Positions()["a"]; pos == held {
		t.Fatal("released node should rejoin the simulation")
	}
}

func TestPhysicsDisabledFreezesLayout(t *testing.T) {
	f := &fakeFetcher{fetchFn: func(ctx context.Context, hours, limit int) (*source.GraphPayload, error) {
		return payloadOf("a", "b"), nil
	}}
	a := newTestApp(f)
	if err := a.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}

	cfg := a.Settings()
	cfg.PhysicsEnabled = false
	a.ApplySettings(cfg)

	before := a.Positions()
	for i := 0; i < 30; i++ {
		a.Update(1.0 / 60)
	}
	after := a.Positions()
	if after["a"] != before["a"] || after["b"] != before["b"] {
		t.Fatal("nodes must not move while physics is disabled")
	}
	if a.NeedsFrame() {
		t.Fatal("physics off with stopped playback should not request frames")
	}
}

func TestWindowStartFromSettingsHidesEarlyNodes(t *testing.T) {
	f := &fakeFetcher{fetchFn: func(ctx context.Context, hours, limit int) (*source.GraphPayload, error) {
		return payloadOf("a", "b", "c"), nil
	}}
	a := newTestApp(f)
	if err := a.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}

	cfg := a.Settings()
	cfg.TimelineWindowStart = 0.5
	a.ApplySettings(cfg)

	rs := a.Update(1.0 / 60)
	if _, ok := rs.Nodes["a"]; ok {
		t.Fatal("node before the window start leaked into the render set")
	}
	if len(rs.Nodes) != 2 {
		t.Fatalf("render set nodes = %d, want 2", len(rs.Nodes))
	}
}

func TestNeedsFrameQuietsDownWhenIdle(t *testing.T) {
	f := &fakeFetcher{fetchFn: func(ctx context.Context, hours, limit int) (*source.GraphPayload, error) {
		return payloadOf("a"), nil
	}}
	a := newTestApp(f)
	if err := a.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Physics off so the single node settles immediately.
	cfg := a.Settings()
	cfg.Physics.Repulsion = 0
	cfg.Physics.Attraction = 0
	cfg.Physics.Centering = 0
	a.ApplySettings(cfg)

	if !a.NeedsFrame() {
		t.Fatal("fresh settings must request a frame")
	}
	for i := 0; i < 10; i++ {
		a.Update(1.0 / 60)
	}
	if a.NeedsFrame() {
		t.Fatal("idle, settled app should stop requesting frames")
	}

	a.WithTimeline(func(tl *timeline.Timeline) { tl.Play() })
	if !a.NeedsFrame() {
		t.Fatal("playback must keep frames coming")
	}
}

func TestSemanticSearchInstallsMatchSet(t *testing.T) {
	f := &fakeFetcher{
		fetchFn: func(ctx context.Context, hours, limit int) (*source.GraphPayload, error) {
			return payloadOf("a", "b", "c"), nil
		},
		visibleFn: func(ctx context.Context, query string, limit int) ([]string, error) {
			if query != "deadlock" {
				t.Errorf("query = %q", query)
			}
			return []string{"a", "c"}, nil
		},
	}
	a := newTestApp(f)
	if err := a.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}

	n, err := a.SemanticSearch(context.Background(), "deadlock")
	if err != nil || n != 2 {
		t.Fatalf("SemanticSearch = %d, %v", n, err)
	}
	rs := a.Update(1.0 / 60)
	if _, ok := rs.Nodes["b"]; ok {
		t.Fatal("node outside semantic set leaked into render set")
	}

	a.ClearSemanticSearch()
	rs = a.Update(1.0 / 60)
	if len(rs.Nodes) != 3 {
		t.Fatalf("after clear: nodes = %d, want 3", len(rs.Nodes))
	}
}

func TestStatusSnapshot(t *testing.T) {
	f := &fakeFetcher{fetchFn: func(ctx context.Context, hours, limit int) (*source.GraphPayload, error) {
		return payloadOf("a", "b"), nil
	}}
	a := newTestApp(f)
	if err := a.Reload(context.Background()); err != nil {
		t.Fatal(err)
	}
	a.Update(1.0 / 60)

	st := a.Status(context.Background())
	if st.Nodes != 2 || st.Edges != 1 {
		t.Fatalf("status = %+v", st)
	}
	if !st.SourceHealthy {
		t.Fatal("healthy fake must report healthy")
	}
	if st.Generation == 0 {
		t.Fatal("generation must advance past zero after a reload")
	}

	f.healthErr = source.ErrSourceUnavailable
	if a.Status(context.Background()).SourceHealthy {
		t.Fatal("health error must surface in status")
	}
}
