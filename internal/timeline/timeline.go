package timeline

import (
	"sort"

	"github.com/nidhogg/convograph/internal/graph"
	"go.uber.org/zap"
)

// PlayState is the playback state machine. Paused differs from Stopped only
// in that resuming continues from the current position.
type PlayState string

const (
	Stopped PlayState = "stopped"
	Playing PlayState = "playing"
	Paused  PlayState = "paused"
)

type entry struct {
	id    string
	secs  float64
	timed bool
}

// Timeline derives a playback axis from node timestamps and tracks the
// scrub position as a fraction of the full span. Nodes with unparseable
// timestamps are appended at the end of the axis instead of dropped, so
// the graph stays complete: they become visible once the scrubber reaches
// the end.
//
// Not safe for concurrent use; the owning app serializes access per frame.
type Timeline struct {
	entries     []entry
	norm        map[string]float64
	minTime     float64
	maxTime     float64
	position    float64
	windowStart float64
	state       PlayState
	speed       float64
	loop        bool
	logger      *zap.Logger
}

// New creates an empty timeline with the scrubber at the end (everything
// visible) and playback stopped.
func New(logger *zap.Logger) *Timeline {
	return &Timeline{
		norm:     make(map[string]float64),
		position: 1.0,
		state:    Stopped,
		speed:    1.0,
		logger:   logger,
	}
}

// Rebuild re-sorts the axis for a new model generation. The scrub position
// and window survive the rebuild (clamped); playback state is untouched.
func (t *Timeline) Rebuild(m *graph.Model) {
	nodes := m.Nodes()
	timed := make([]entry, 0, len(nodes))
	var untimed []entry
	for i := range nodes {
		n := &nodes[i]
		if secs, ok := n.TimestampSecs(); ok {
			timed = append(timed, entry{id: n.ID, secs: secs, timed: true})
		} else {
			untimed = append(untimed, entry{id: n.ID})
		}
	}
	sort.Slice(timed, func(i, j int) bool { return timed[i].secs < timed[j].secs })

	t.entries = append(timed, untimed...)
	if len(timed) > 0 {
		t.minTime = timed[0].secs
		t.maxTime = timed[len(timed)-1].secs
	} else {
		t.minTime, t.maxTime = 0, 0
	}

	t.norm = make(map[string]float64, len(t.entries))
	for _, en := range t.entries {
		if en.timed {
			t.norm[en.id] = t.PositionAtTime(en.secs)
		} else {
			t.norm[en.id] = 1.0
		}
	}

	t.position = clamp01(t.position)
	t.windowStart = clamp01(t.windowStart)
	if t.windowStart > t.position {
		t.windowStart = t.position
	}
	if len(untimed) > 0 {
		t.logger.Debug("timeline rebuilt with untimed nodes at end",
			zap.Int("timed", len(timed)), zap.Int("untimed", len(untimed)))
	}
}

// TimeAt converts a fraction of the span to epoch seconds.
func (t *Timeline) TimeAt(pos float64) float64 {
	return t.minTime + (t.maxTime-t.minTime)*pos
}

// PositionAtTime converts epoch seconds to a fraction of the span. A
// degenerate span maps everything to 1.0.
func (t *Timeline) PositionAtTime(secs float64) float64 {
	if t.maxTime <= t.minTime {
		return 1.0
	}
	return (secs - t.minTime) / (t.maxTime - t.minTime)
}

// Play starts or resumes playback.
func (t *Timeline) Play() {
	if t.state == Stopped && t.position >= 1.0 {
		t.position = t.windowStart
	}
	t.state = Playing
}

// Pause halts playback keeping the current position.
func (t *Timeline) Pause() {
	if t.state == Playing {
		t.state = Paused
	}
}

// Reset stops playback and rewinds to the start.
func (t *Timeline) Reset() {
	t.state = Stopped
	t.position = 0
}

// Seek moves the scrubber; legal in any state, always clamped.
func (t *Timeline) Seek(pos float64) {
	t.position = clamp01(pos)
	if t.windowStart > t.position {
		t.windowStart = t.position
	}
}

// SetWindowStart bounds visibility from below; clamped to the scrub position.
func (t *Timeline) SetWindowStart(pos float64) {
	t.windowStart = clamp01(pos)
	if t.windowStart > t.position {
		t.windowStart = t.position
	}
}

// SetSpeed sets the playback speed multiplier.
func (t *Timeline) SetSpeed(speed float64) {
	if speed > 0 {
		t.speed = speed
	}
}

// SetLoop makes playback wrap at the end instead of pausing.
func (t *Timeline) SetLoop(loop bool) { t.loop = loop }

// Advance moves the scrubber while playing: dt seconds of wall time cover
// speed*dt seconds of span. Auto-pauses at the end unless looping.
func (t *Timeline) Advance(dt float64) {
	if t.state != Playing || dt <= 0 {
		return
	}
	span := t.maxTime - t.minTime
	if span <= 0 {
		t.position = 1.0
		t.state = Paused
		return
	}
	t.position += t.speed * dt / span
	if t.position >= 1.0 {
		if t.loop {
			t.position = t.windowStart
		} else {
			t.position = 1.0
			t.state = Paused
		}
	}
}

// Step nudges the scrubber to the adjacent node timestamp for
// frame-by-frame inspection. direction is +1 or -1.
func (t *Timeline) Step(direction int) {
	idx, ok := t.nearestNotch(t.position)
	if !ok {
		return
	}
	target := idx
	current := t.norm[t.timedEntries()[idx].id]
	if direction > 0 && current <= t.position {
		target = idx + 1
	} else if direction < 0 && current >= t.position {
		target = idx - 1
	}
	timed := t.timedEntries()
	if target < 0 {
		target = 0
	}
	if target > len(timed)-1 {
		target = len(timed) - 1
	}
	t.Seek(t.norm[timed[target].id])
}

// SnapToNotch returns the fraction of the node timestamp nearest pos.
func (t *Timeline) SnapToNotch(pos float64) float64 {
	idx, ok := t.nearestNotch(pos)
	if !ok {
		return pos
	}
	return t.norm[t.timedEntries()[idx].id]
}

// NodeAt returns the ID of the node temporally closest to pos.
func (t *Timeline) NodeAt(pos float64) (string, bool) {
	idx, ok := t.nearestNotch(pos)
	if !ok {
		return "", false
	}
	return t.timedEntries()[idx].id, true
}

func (t *Timeline) timedEntries() []entry {
	end := len(t.entries)
	for end > 0 && !t.entries[end-1].timed {
		end--
	}
	return t.entries[:end]
}

func (t *Timeline) nearestNotch(pos float64) (int, bool) {
	timed := t.timedEntries()
	if len(timed) == 0 {
		return 0, false
	}
	target := t.TimeAt(pos)
	best := 0
	bestDiff := abs(timed[0].secs - target)
	for i := 1; i < len(timed); i++ {
		if d := abs(timed[i].secs - target); d < bestDiff {
			bestDiff = d
			best = i
		}
	}
	return best, true
}

// NodeVisible reports temporal visibility: the node's normalized timestamp
// must be at or before the scrub position and at or after the window start.
// Visibility is monotone non-decreasing in the scrub position.
func (t *Timeline) NodeVisible(id string) bool {
	n, ok := t.norm[id]
	if !ok {
		return false
	}
	return n <= t.position && n >= t.windowStart
}

// EdgeVisible requires both endpoints to be temporally visible; no edge may
// reach a temporally-future or windowed-out node.
func (t *Timeline) EdgeVisible(e graph.Edge) bool {
	return t.NodeVisible(e.Source) && t.NodeVisible(e.Target)
}

// VisibleNodes returns the set of temporally visible node IDs.
func (t *Timeline) VisibleNodes() map[string]struct{} {
	out := make(map[string]struct{}, len(t.entries))
	for _, en := range t.entries {
		if t.NodeVisible(en.id) {
			out[en.id] = struct{}{}
		}
	}
	return out
}

// State returns the playback state.
func (t *Timeline) State() PlayState { return t.state }

// Position returns the scrub position fraction.
func (t *Timeline) Position() float64 { return t.position }

// WindowStart returns the lower window bound fraction.
func (t *Timeline) WindowStart() float64 { return t.windowStart }

// Speed returns the playback speed multiplier.
func (t *Timeline) Speed() float64 { return t.speed }

// Span returns the covered time range in seconds.
func (t *Timeline) Span() float64 { return t.maxTime - t.minTime }

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
