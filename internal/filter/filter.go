package filter

import (
	"github.com/google/uuid"
	"github.com/nidhogg/convograph/internal/graph"
	"go.uber.org/zap"
)

// Mode is the tri-state treatment a filter axis applies to matching nodes.
type Mode string

const (
	// ModeOff disables the axis entirely.
	ModeOff Mode = "off"
	// ModeInactive hides matching nodes but bridges the gaps they leave
	// in session chains with bypass edges.
	ModeInactive Mode = "inactive"
	// ModeFiltered removes matching nodes outright and cuts their chains;
	// no bypass edge may cross them.
	ModeFiltered Mode = "filtered"
)

// Valid reports whether m is one of the three known modes.
func (m Mode) Valid() bool {
	return m == ModeOff || m == ModeInactive || m == ModeFiltered
}

// defaultImportance is assumed when a node carries no importance score, so
// scoreless nodes sit exactly at the default threshold instead of vanishing.
const defaultImportance = 0.5

// Config holds the per-axis filter settings.
type Config struct {
	ToolUse             Mode                `json:"tool_use_mode"`
	Importance          Mode                `json:"importance_mode"`
	ImportanceThreshold float64             `json:"importance_threshold"`
	Project             Mode                `json:"project_mode"`
	HiddenProjects      map[string]struct{} `json:"-"`
}

// DefaultConfig returns all axes off with the midpoint threshold.
func DefaultConfig() Config {
	return Config{
		ToolUse:             ModeOff,
		Importance:          ModeOff,
		ImportanceThreshold: defaultImportance,
		Project:             ModeOff,
		HiddenProjects:      make(map[string]struct{}),
	}
}

// Engine classifies nodes against the filter axes and synthesizes bypass
// edges across the gaps that inactive nodes leave in session
// chains. Results are cached; Recompute re-derives them only after a
// config or model change marked the engine dirty.
type Engine struct {
	cfg    Config
	model  *graph.Model
	dirty  bool
	logger *zap.Logger

	inactive map[string]struct{}
	filtered map[string]struct{}
	bypass   []graph.Edge
}

// NewEngine creates an engine with all axes off and an empty model.
func NewEngine(logger *zap.Logger) *Engine {
	return &Engine{
		cfg:      DefaultConfig(),
		model:    graph.Empty(),
		dirty:    true,
		logger:   logger,
		inactive: make(map[string]struct{}),
		filtered: make(map[string]struct{}),
	}
}

// SetModel points the engine at a new model generation.
func (e *Engine) SetModel(m *graph.Model) {
	e.model = m
	e.dirty = true
}

// Config returns the current filter settings.
func (e *Engine) Config() Config { return e.cfg }

// SetConfig replaces all filter settings at once.
func (e *Engine) SetConfig(cfg Config) {
	if cfg.HiddenProjects == nil {
		cfg.HiddenProjects = make(map[string]struct{})
	}
	e.cfg = cfg
	e.dirty = true
}

// SetToolUseMode sets the tool-use axis treatment.
func (e *Engine) SetToolUseMode(m Mode) {
	e.cfg.ToolUse = m
	e.dirty = true
}

// SetImportanceMode sets the importance axis treatment.
func (e *Engine) SetImportanceMode(m Mode) {
	e.cfg.Importance = m
	e.dirty = true
}

// SetImportanceThreshold sets the score below which nodes match the
// importance axis. Clamped to [0, 1].
func (e *Engine) SetImportanceThreshold(v float64) {
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	e.cfg.ImportanceThreshold = v
	e.dirty = true
}

// SetProjectMode sets the project axis treatment.
func (e *Engine) SetProjectMode(m Mode) {
	e.cfg.Project = m
	e.dirty = true
}

// SetHiddenProjects replaces the set of projects the project axis matches.
func (e *Engine) SetHiddenProjects(projects []string) {
	set := make(map[string]struct{}, len(projects))
	for _, p := range projects {
		set[p] = struct{}{}
	}
	e.cfg.HiddenProjects = set
	e.dirty = true
}

// Dirty reports whether cached results are stale.
func (e *Engine) Dirty() bool { return e.dirty }

// Classify returns the treatment for one node. Axes are checked in fixed
// precedence order (tool use, then importance, then project) and the first
// matching active axis wins, so a node marked inactive by tool use stays
// inactive even when a later axis would filter it.
func (e *Engine) Classify(n *graph.Node) Mode {
	if m := axisMode(e.cfg.ToolUse); m != ModeOff && n.HasToolUse {
		return m
	}
	if m := axisMode(e.cfg.Importance); m != ModeOff {
		score := defaultImportance
		if n.Importance != nil {
			score = *n.Importance
		}
		if score < e.cfg.ImportanceThreshold {
			return m
		}
	}
	if m := axisMode(e.cfg.Project); m != ModeOff {
		if _, hidden := e.cfg.HiddenProjects[n.Project]; hidden {
			return m
		}
	}
	return ModeOff
}

// axisMode treats unknown mode strings as off.
func axisMode(m Mode) Mode {
	if !m.Valid() {
		return ModeOff
	}
	return m
}

// Recompute re-derives the inactive/filtered sets and the bypass edges when
// dirty. Cheap to call every frame.
func (e *Engine) Recompute() {
	if !e.dirty {
		return
	}
	e.inactive = make(map[string]struct{})
	e.filtered = make(map[string]struct{})

	nodes := e.model.Nodes()
	for i := range nodes {
		switch e.Classify(&nodes[i]) {
		case ModeInactive:
			e.inactive[nodes[i].ID] = struct{}{}
		case ModeFiltered:
			e.filtered[nodes[i].ID] = struct{}{}
		}
	}

	e.bypass = e.computeBypassEdges()
	e.dirty = false
	e.logger.Debug("filter recomputed",
		zap.Int("inactive", len(e.inactive)),
		zap.Int("filtered", len(e.filtered)),
		zap.Int("bypass_edges", len(e.bypass)))
}

// computeBypassEdges walks each session chain keeping the last visible node
// as anchor. Inactive nodes widen the current gap and yield one bypass edge
// when the next visible node appears; filtered nodes sever the chain so no
// edge spans them.
func (e *Engine) computeBypassEdges() []graph.Edge {
	var edges []graph.Edge
	for _, sid := range e.model.Sessions() {
		anchor := ""
		gap := false
		for _, id := range e.model.SessionChain(sid) {
			if _, cut := e.filtered[id]; cut {
				anchor = ""
				gap = false
				continue
			}
			if _, skip := e.inactive[id]; skip {
				if anchor != "" {
					gap = true
				}
				continue
			}
			if anchor != "" && gap {
				edges = append(edges, graph.Edge{
					ID:        uuid.NewString(),
					Source:    anchor,
					Target:    id,
					Kind:      graph.EdgeBypass,
					SessionID: sid,
					Weight:    1,
				})
			}
			anchor = id
			gap = false
		}
	}
	return edges
}

// IsNodeHidden reports whether the node is excluded from rendering, either
// as inactive (bridged) or filtered (severed).
func (e *Engine) IsNodeHidden(id string) bool {
	if _, ok := e.inactive[id]; ok {
		return true
	}
	_, ok := e.filtered[id]
	return ok
}

// InactiveIDs returns the cached bridged-hidden set. Callers must not
// mutate it.
func (e *Engine) InactiveIDs() map[string]struct{} { return e.inactive }

// FilteredIDs returns the cached severed-hidden set. Callers must not
// mutate it.
func (e *Engine) FilteredIDs() map[string]struct{} { return e.filtered }

// BypassEdges returns the cached bypass edges for the current settings.
func (e *Engine) BypassEdges() []graph.Edge { return e.bypass }
