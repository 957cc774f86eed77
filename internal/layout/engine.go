package layout

import (
	"hash/fnv"
	"math"
	"math/rand"

	"github.com/nidhogg/convograph/internal/graph"
	"go.uber.org/zap"
)

// Config holds the force-simulation constants. Passed explicitly so ticks
// are deterministic and testable in isolation.
type Config struct {
	Repulsion   float64 `json:"repulsion" validate:"gte=0"`
	Attraction  float64 `json:"attraction" validate:"gte=0"`
	Centering   float64 `json:"centering" validate:"gte=0"`
	Damping     float64 `json:"damping" validate:"gte=0,lt=1"`
	MinDistance float64 `json:"min_distance" validate:"gt=0"`
	MaxVelocity float64 `json:"max_velocity" validate:"gt=0"`
	RestLength  float64 `json:"rest_length" validate:"gt=0"`
	// SizeRepulsionWeight shifts repulsion mass toward importance scores
	// (0 = uniform, 1 = fully size-weighted).
	SizeRepulsionWeight float64 `json:"size_repulsion_weight" validate:"gte=0,lte=1"`
	// TemporalStrength scales spring pull along temporal edges.
	TemporalStrength float64 `json:"temporal_strength" validate:"gte=0"`
	// Theta is the Barnes-Hut approximation threshold.
	Theta float64 `json:"theta" validate:"gt=0"`
}

// DefaultConfig returns the tuning used by the desktop frontend.
func DefaultConfig() Config {
	return Config{
		Repulsion:           10000,
		Attraction:          0.1,
		Centering:           0.0001,
		Damping:             0.85,
		MinDistance:         30,
		MaxVelocity:         50,
		RestLength:          100,
		SizeRepulsionWeight: 0,
		TemporalStrength:    0.5,
		Theta:               1.0,
	}
}

// Kinetic is the per-node simulation state, kept apart from the node's
// semantic record.
type Kinetic struct {
	Pos    Vec2
	Vel    Vec2
	Pinned bool
}

// Engine advances the force simulation one tick per frame. It is the sole
// writer of kinetic state; drag input goes through Pin/SetPosition.
type Engine struct {
	kinetics map[string]*Kinetic
	seedArea Rect
	rng      *rand.Rand
	logger   *zap.Logger
}

// NewEngine creates an engine seeding new nodes inside seedArea.
func NewEngine(seedArea Rect, seed int64, logger *zap.Logger) *Engine {
	return &Engine{
		kinetics: make(map[string]*Kinetic),
		seedArea: seedArea,
		rng:      rand.New(rand.NewSource(seed)),
		logger:   logger,
	}
}

// SyncModel reconciles kinetic state with a new model generation: nodes
// that appeared get seeded positions, nodes that vanished are dropped,
// surviving nodes keep their position and velocity.
func (e *Engine) SyncModel(m *graph.Model) {
	alive := make(map[string]struct{}, len(m.Nodes()))
	for i := range m.Nodes() {
		id := m.Nodes()[i].ID
		alive[id] = struct{}{}
		if _, ok := e.kinetics[id]; !ok {
			e.kinetics[id] = &Kinetic{Pos: e.seedPos()}
		}
	}
	for id := range e.kinetics {
		if _, ok := alive[id]; !ok {
			delete(e.kinetics, id)
		}
	}
}

func (e *Engine) seedPos() Vec2 {
	return Vec2{
		X: e.seedArea.Min.X + e.rng.Float64()*(e.seedArea.Max.X-e.seedArea.Min.X),
		Y: e.seedArea.Min.Y + e.rng.Float64()*(e.seedArea.Max.Y-e.seedArea.Min.Y),
	}
}

// Position returns a node's current position.
func (e *Engine) Position(id string) (Vec2, bool) {
	k, ok := e.kinetics[id]
	if !ok {
		return Vec2{}, false
	}
	return k.Pos, true
}

// Positions returns a snapshot of all positions.
func (e *Engine) Positions() map[string]Vec2 {
	out := make(map[string]Vec2, len(e.kinetics))
	for id, k := range e.kinetics {
		out[id] = k.Pos
	}
	return out
}

// Pin marks a node as user-held: it stops integrating but still repels
// neighbors.
func (e *Engine) Pin(id string, pinned bool) {
	if k, ok := e.kinetics[id]; ok {
		k.Pinned = pinned
		if pinned {
			k.Vel = Vec2{}
		}
	}
}

// SetPosition moves a node directly; used by drag input while pinned.
func (e *Engine) SetPosition(id string, pos Vec2) {
	if k, ok := e.kinetics[id]; ok {
		k.Pos = pos
		k.Vel = Vec2{}
	}
}

// Tick advances the simulation by dt seconds. Only nodes in active
// participate: hidden nodes neither push others nor get pushed. Pinned
// nodes remain repulsion sources but receive no net force. Edges must
// already be restricted to the active set by the caller's visibility
// contract; endpoints outside it are skipped anyway.
func (e *Engine) Tick(dt float64, m *graph.Model, active map[string]struct{}, edges []graph.Edge, center Vec2, cfg Config) {
	if dt <= 0 || len(active) == 0 {
		return
	}

	ids := make([]string, 0, len(active))
	for i := range m.Nodes() {
		n := &m.Nodes()[i]
		if _, ok := active[n.ID]; !ok {
			continue
		}
		if _, ok := e.kinetics[n.ID]; !ok {
			continue
		}
		ids = append(ids, n.ID)
	}
	if len(ids) == 0 {
		return
	}

	forces := make(map[string]Vec2, len(ids))

	// Repulsion mass follows importance, sharpened by the size weight.
	exponent := 1.0 + 3.0*cfg.SizeRepulsionWeight
	bodies := make([]Body, 0, len(ids))
	for _, id := range ids {
		imp := 0.5
		if n, ok := m.NodeByID(id); ok && n.Importance != nil {
			imp = *n.Importance
		}
		bodies = append(bodies, Body{Pos: e.kinetics[id].Pos, Mass: math.Pow(imp, exponent)})
	}
	tree := BuildQuadtree(bodies, cfg.Theta)
	for _, id := range ids {
		k := e.kinetics[id]
		forces[id] = tree.RepulsionAt(k.Pos, cfg.Repulsion, cfg.MinDistance)
	}

	// Coincident pairs see zero repulsion from the tree; break the
	// singularity with a deterministic jitter so they separate.
	e.jitterCoincident(ids, forces)

	// Spring attraction along edges, Hooke's law toward the rest length.
	for _, edge := range edges {
		sk, ok := e.kinetics[edge.Source]
		if !ok {
			continue
		}
		tk, ok := e.kinetics[edge.Target]
		if !ok {
			continue
		}
		if _, ok := active[edge.Source]; !ok {
			continue
		}
		if _, ok := active[edge.Target]; !ok {
			continue
		}

		delta := tk.Pos.Sub(sk.Pos)
		dist := delta.Len()
		if dist < cfg.MinDistance {
			continue
		}
		displacement := dist - cfg.RestLength

		multiplier := 1.0
		switch edge.Kind {
		case graph.EdgeTemporal:
			multiplier = edge.Weight * cfg.TemporalStrength
		case graph.EdgeSimilarity:
			multiplier = edge.Weight
		}

		f := delta.Scale(cfg.Attraction * displacement * multiplier / dist)
		forces[edge.Source] = forces[edge.Source].Add(f)
		forces[edge.Target] = forces[edge.Target].Sub(f)
	}

	// Centering keeps disconnected components on screen.
	for _, id := range ids {
		k := e.kinetics[id]
		forces[id] = forces[id].Add(center.Sub(k.Pos).Scale(cfg.Centering))
	}

	// Semi-implicit Euler with damping and a velocity clamp.
	for _, id := range ids {
		k := e.kinetics[id]
		if k.Pinned {
			continue
		}
		k.Vel = k.Vel.Add(forces[id].Scale(dt)).Scale(cfg.Damping).Clamp(cfg.MaxVelocity)
		k.Pos = k.Pos.Add(k.Vel.Scale(dt))

		if !k.Pos.Finite() || !k.Vel.Finite() {
			// Degenerate configuration; reseed this node only and keep going.
			e.logger.Warn("non-finite kinetic state, reseeding node", zap.String("node", id))
			k.Pos = e.seedPos()
			k.Vel = Vec2{}
		}
	}
}

func (e *Engine) jitterCoincident(ids []string, forces map[string]Vec2) {
	byPos := make(map[Vec2][]string, len(ids))
	for _, id := range ids {
		p := e.kinetics[id].Pos
		byPos[p] = append(byPos[p], id)
	}
	for _, group := range byPos {
		if len(group) < 2 {
			continue
		}
		for _, id := range group {
			forces[id] = forces[id].Add(jitterFor(id))
		}
	}
}

// jitterFor derives a small displacement direction from the node ID so the
// same pair always separates the same way.
func jitterFor(id string) Vec2 {
	h := fnv.New64a()
	h.Write([]byte(id))
	sum := h.Sum64()
	angle := float64(sum%3600) / 3600 * 2 * math.Pi
	return Vec2{math.Cos(angle), math.Sin(angle)}.Scale(5)
}

// KineticEnergy is the sum of squared velocities, used by settle detection
// and the stability tests.
func (e *Engine) KineticEnergy() float64 {
	var total float64
	for _, k := range e.kinetics {
		total += k.Vel.LenSq()
	}
	return total
}

// Settled reports whether average speed has dropped below the threshold,
// which lets the host stop requesting repaints.
func (e *Engine) Settled(threshold float64) bool {
	if len(e.kinetics) == 0 {
		return true
	}
	var total float64
	for _, k := range e.kinetics {
		total += k.Vel.Len()
	}
	return total/float64(len(e.kinetics)) < threshold
}
