package app

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nidhogg/convograph/internal/filter"
	"github.com/nidhogg/convograph/internal/graph"
	"github.com/nidhogg/convograph/internal/layout"
	"github.com/nidhogg/convograph/internal/settings"
	"github.com/nidhogg/convograph/internal/source"
	"github.com/nidhogg/convograph/internal/timeline"
	"github.com/nidhogg/convograph/internal/visibility"
	"go.uber.org/zap"
)

// Fetcher is the slice of the source client the app needs; narrowed for
// tests.
type Fetcher interface {
	FetchGraph(ctx context.Context, hours, limit int) (*source.GraphPayload, error)
	FetchVisibleSet(ctx context.Context, query string, limit int) ([]string, error)
	Health(ctx context.Context) error
}

// App owns the interactive state: one graph model at a time, the layout
// engine, timeline, filters and visibility resolver. All mutation happens
// under one mutex; the frame loop and the HTTP surface are the only
// callers.
type App struct {
	mu     sync.Mutex
	logger *zap.Logger
	client Fetcher

	model    *graph.Model
	engine   *layout.Engine
	timeline *timeline.Timeline
	filters  *filter.Engine
	resolver *visibility.Resolver
	cfg      settings.Settings

	// generation increments per reload request; a completed fetch only
	// lands if no newer request started meanwhile.
	generation atomic.Uint64

	temporal      []graph.Edge
	temporalDirty bool
	center        layout.Vec2
	dragID        string
	frameDirty    bool
}

// New wires an app with an empty model. seedArea bounds initial node
// placement.
func New(client Fetcher, cfg settings.Settings, seedArea layout.Rect, seed int64, logger *zap.Logger) *App {
	tl := timeline.New(logger)
	fl := filter.NewEngine(logger)
	a := &App{
		logger:     logger,
		client:     client,
		model:      graph.Empty(),
		engine:     layout.NewEngine(seedArea, seed, logger),
		timeline:   tl,
		filters:    fl,
		resolver:   visibility.NewResolver(tl, fl),
		center:     seedArea.Center(),
		frameDirty: true,
	}
	a.applySettingsLocked(cfg)
	return a
}

// Reload fetches the graph for the configured query window and swaps the
// model in. Safe to call concurrently: a fetch that finishes after a newer
// reload started is discarded, and on failure the previous model stays.
func (a *App) Reload(ctx context.Context) error {
	gen := a.generation.Add(1)

	a.mu.Lock()
	hours, limit := a.cfg.QueryHours, a.cfg.QueryLimit
	a.mu.Unlock()

	payload, err := a.client.FetchGraph(ctx, hours, limit)
	if err != nil {
		a.logger.Warn("reload failed, keeping previous model",
			zap.Uint64("generation", gen), zap.Error(err))
		return fmt.Errorf("reload: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.generation.Load() {
		a.logger.Debug("discarding stale reload", zap.Uint64("generation", gen))
		return nil
	}

	m := graph.NewModel(gen, payload.Nodes, payload.Edges, a.logger)
	a.model = m
	a.engine.SyncModel(m)
	a.timeline.Rebuild(m)
	a.filters.SetModel(m)
	a.temporalDirty = true
	a.frameDirty = true
	a.logger.Info("model reloaded",
		zap.Uint64("generation", gen),
		zap.Int("nodes", len(m.Nodes())),
		zap.Int("edges", len(m.Edges())))
	return nil
}

// Update advances one frame: playback first so visibility is current, then
// filters and synthesized edges, then one physics tick over exactly the
// drawable set. Returns the frame's render set.
func (a *App) Update(dt float64) visibility.RenderSet {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.timeline.Advance(dt)
	a.filters.Recompute()
	if a.temporalDirty {
		a.rebuildTemporalLocked()
	}

	synthetic := append(a.temporal[:0:0], a.temporal...)
	synthetic = append(synthetic, a.filters.BypassEdges()...)
	rs := a.resolver.Resolve(a.model, synthetic)

	if a.cfg.PhysicsEnabled {
		a.engine.Tick(dt, a.model, rs.Nodes, rs.Edges, a.center, a.cfg.Physics)
	}
	a.frameDirty = false
	return rs
}

func (a *App) rebuildTemporalLocked() {
	a.temporal = nil
	if a.cfg.TemporalEdges {
		a.temporal = graph.TemporalEdges(a.model, graph.TemporalConfig{
			WindowSecs: a.cfg.TemporalWindowSecs,
			MaxEdges:   a.cfg.TemporalMaxEdges,
		}, nil)
	}
	a.temporalDirty = false
}

// NeedsFrame reports whether the next frame would change anything, letting
// the host skip repaints once the layout settles and playback stops.
func (a *App) NeedsFrame() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.frameDirty || a.temporalDirty || a.filters.Dirty() {
		return true
	}
	if a.timeline.State() == timeline.Playing {
		return true
	}
	if !a.cfg.PhysicsEnabled {
		return false
	}
	return !a.engine.Settled(0.5)
}

// ApplySettings installs a new settings snapshot, pushing the relevant
// fields into each subsystem.
func (a *App) ApplySettings(cfg settings.Settings) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applySettingsLocked(cfg)
}

func (a *App) applySettingsLocked(cfg settings.Settings) {
	a.cfg = cfg
	a.filters.SetConfig(cfg.FilterConfig())
	a.timeline.SetSpeed(cfg.PlaybackSpeed)
	a.timeline.SetLoop(cfg.LoopPlayback)
	a.timeline.SetWindowStart(cfg.TimelineWindowStart)
	a.temporalDirty = true
	a.frameDirty = true
}

// Settings returns the current snapshot.
func (a *App) Settings() settings.Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cfg
}

// SemanticSearch runs a search against the source and installs the result
// as the visibility resolver's match set.
func (a *App) SemanticSearch(ctx context.Context, query string) (int, error) {
	a.mu.Lock()
	limit := a.cfg.SemanticLimit
	a.mu.Unlock()

	ids, err := a.client.FetchVisibleSet(ctx, query, limit)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resolver.SetSemanticSet(ids)
	a.frameDirty = true
	return len(ids), nil
}

// ClearSemanticSearch removes semantic filtering.
func (a *App) ClearSemanticSearch() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resolver.ClearSemanticSet()
	a.frameDirty = true
}

// BeginDrag pins a node to the cursor. Only one drag at a time.
func (a *App) BeginDrag(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.model.HasNode(id) {
		return false
	}
	if a.dragID != "" {
		a.engine.Pin(a.dragID, false)
	}
	a.dragID = id
	a.engine.Pin(id, true)
	return true
}

// DragTo moves the dragged node.
func (a *App) DragTo(pos layout.Vec2) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dragID == "" {
		return
	}
	a.engine.SetPosition(a.dragID, pos)
	a.frameDirty = true
}

// EndDrag releases the dragged node back to the simulation.
func (a *App) EndDrag() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.dragID == "" {
		return
	}
	a.engine.Pin(a.dragID, false)
	a.dragID = ""
	a.frameDirty = true
}

// Timeline exposes playback control to the HTTP surface. Callers hold no
// lock; the timeline methods themselves are invoked under the app mutex
// via WithTimeline.
func (a *App) WithTimeline(fn func(*timeline.Timeline)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a.timeline)
	a.frameDirty = true
}

// WithFilters runs fn with the filter engine under the app lock.
func (a *App) WithFilters(fn func(*filter.Engine)) {
	a.mu.Lock()
	defer a.mu.Unlock()
	fn(a.filters)
	a.frameDirty = true
}

// Positions returns a snapshot of node positions.
func (a *App) Positions() map[string]layout.Vec2 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.engine.Positions()
}

// Model returns the current model generation.
func (a *App) Model() *graph.Model {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.model
}

// Status is a health/summary snapshot for the status endpoint.
type Status struct {
	Generation    uint64             `json:"generation"`
	Nodes         int                `json:"nodes"`
	Edges         int                `json:"edges"`
	TemporalEdges int                `json:"temporal_edges"`
	BypassEdges   int                `json:"bypass_edges"`
	PlayState     timeline.PlayState `json:"play_state"`
	Position      float64            `json:"position"`
	Settled       bool               `json:"settled"`
	SourceHealthy bool               `json:"source_healthy"`
}

// Status reports the app's current shape. The source probe uses ctx.
func (a *App) Status(ctx context.Context) Status {
	healthy := a.client.Health(ctx) == nil

	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		Generation:    a.model.Generation(),
		Nodes:         len(a.model.Nodes()),
		Edges:         len(a.model.Edges()),
		TemporalEdges: len(a.temporal),
		BypassEdges:   len(a.filters.BypassEdges()),
		PlayState:     a.timeline.State(),
		Position:      a.timeline.Position(),
		Settled:       a.engine.Settled(0.5),
		SourceHealthy: healthy,
	}
}
