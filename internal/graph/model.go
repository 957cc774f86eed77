package graph

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

// Role categorizes who produced a message node.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleNote      Role = "note"
	RoleTopic     Role = "topic"
)

// EdgeKind categorizes how two nodes are connected.
type EdgeKind string

const (
	// EdgeSession links consecutive messages within one session.
	EdgeSession EdgeKind = "session"
	// EdgeTemporal links nodes close in time, synthesized at load.
	EdgeTemporal EdgeKind = "temporal"
	// EdgeSimilarity links semantically similar nodes, supplied by the API.
	EdgeSimilarity EdgeKind = "similarity"
	// EdgeBypass bridges inactive nodes in a session chain, synthesized by the filter engine.
	EdgeBypass EdgeKind = "bypass"
)

// Node is one message/event in the conversation graph.
type Node struct {
	ID             string   `json:"id"`
	Role           Role     `json:"role"`
	ContentPreview string   `json:"content_preview"`
	SessionID      string   `json:"session_id"`
	SessionShort   string   `json:"session_short"`
	Project        string   `json:"project"`
	Timestamp      string   `json:"timestamp"`
	Importance     *float64 `json:"importance_score,omitempty"`
	OutputTokens   int      `json:"output_tokens"`
	InputTokens    int      `json:"input_tokens"`
	HasToolUse     bool     `json:"has_tool_usage"`

	ts      time.Time
	tsValid bool
}

// TimestampSecs returns the node's timestamp as epoch seconds. ok is false
// when the source timestamp was missing or unparseable.
func (n *Node) TimestampSecs() (secs float64, ok bool) {
	if !n.tsValid {
		return 0, false
	}
	return float64(n.ts.UnixNano()) / float64(time.Second), true
}

// Time returns the parsed timestamp. ok is false for malformed timestamps.
func (n *Node) Time() (time.Time, bool) {
	return n.ts, n.tsValid
}

// TotalTokens returns input + output tokens, used for display sizing.
func (n *Node) TotalTokens() int {
	return n.InputTokens + n.OutputTokens
}

// Edge is a directed connection between two nodes.
type Edge struct {
	// ID is set only on synthesized edges (temporal, bypass).
	ID        string   `json:"id,omitempty"`
	Source    string   `json:"source"`
	Target    string   `json:"target"`
	Kind      EdgeKind `json:"kind"`
	SessionID string   `json:"session_id,omitempty"`
	// Weight scales spring attraction for temporal and similarity edges.
	Weight float64 `json:"weight,omitempty"`
	// SessionInternal marks structural edges eligible for bypass bridging.
	SessionInternal bool `json:"session_internal,omitempty"`
}

// timestampLayouts covers the formats the ingest pipeline emits.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses an ISO-8601-ish timestamp string.
func ParseTimestamp(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Model holds the canonical node/edge set for one query window. It is
// immutable after construction and replaced wholesale on reload; all
// cross-references are identifier lookups into the index.
type Model struct {
	generation uint64
	nodes      []Node
	edges      []Edge
	index      map[string]int
	chains     map[string][]string
	sessions   []string
}

// NewModel builds a model from raw records, enforcing ingestion invariants:
// duplicate node IDs keep the first occurrence, edges referencing missing
// nodes are dropped here rather than at render time.
func NewModel(generation uint64, nodes []Node, edges []Edge, logger *zap.Logger) *Model {
	m := &Model{
		generation: generation,
		nodes:      make([]Node, 0, len(nodes)),
		index:      make(map[string]int, len(nodes)),
		chains:     make(map[string][]string),
	}

	dupes := 0
	for _, n := range nodes {
		if _, exists := m.index[n.ID]; exists {
			dupes++
			continue
		}
		n.ts, n.tsValid = ParseTimestamp(n.Timestamp)
		m.index[n.ID] = len(m.nodes)
		m.nodes = append(m.nodes, n)
	}

	dangling := 0
	m.edges = make([]Edge, 0, len(edges))
	for _, e := range edges {
		if !m.HasNode(e.Source) || !m.HasNode(e.Target) {
			dangling++
			continue
		}
		if e.Kind == "" {
			e.Kind = EdgeSession
		}
		if e.Kind == EdgeSession {
			e.SessionInternal = true
		}
		m.edges = append(m.edges, e)
	}

	m.buildChains()

	if dupes > 0 || dangling > 0 {
		logger.Warn("dropped malformed graph records",
			zap.Uint64("generation", generation),
			zap.Int("duplicate_nodes", dupes),
			zap.Int("dangling_edges", dangling))
	}
	logger.Debug("graph model loaded",
		zap.Uint64("generation", generation),
		zap.Int("nodes", len(m.nodes)),
		zap.Int("edges", len(m.edges)))
	return m
}

// buildChains derives per-session node order from session edges, which the
// API emits in sequence order. Session heads are nodes that are never a
// target within their session.
func (m *Model) buildChains() {
	next := make(map[string]string)
	isTarget := make(map[string]bool)
	heads := make(map[string][]string)

	for _, e := range m.edges {
		if !e.SessionInternal {
			continue
		}
		if _, dup := next[e.Source]; !dup {
			next[e.Source] = e.Target
		}
		isTarget[e.Target] = true
	}
	for _, e := range m.edges {
		if !e.SessionInternal {
			continue
		}
		if !isTarget[e.Source] {
			heads[e.SessionID] = append(heads[e.SessionID], e.Source)
		}
	}

	for sid, starts := range heads {
		seen := make(map[string]bool)
		var chain []string
		for _, start := range starts {
			for id := start; id != "" && !seen[id]; id = next[id] {
				seen[id] = true
				chain = append(chain, id)
			}
		}
		m.chains[sid] = chain
		m.sessions = append(m.sessions, sid)
	}
	sort.Strings(m.sessions)
}

// Generation identifies which reload produced this model.
func (m *Model) Generation() uint64 { return m.generation }

// Nodes returns the node arena. Callers must not mutate entries.
func (m *Model) Nodes() []Node { return m.nodes }

// Edges returns the canonical (ingested) edge set.
func (m *Model) Edges() []Edge { return m.edges }

// NodeByID looks a node up in the arena index.
func (m *Model) NodeByID(id string) (*Node, bool) {
	i, ok := m.index[id]
	if !ok {
		return nil, false
	}
	return &m.nodes[i], true
}

// HasNode reports whether id is present in this generation.
func (m *Model) HasNode(id string) bool {
	_, ok := m.index[id]
	return ok
}

// SessionChain returns node IDs of a session in sequence order.
func (m *Model) SessionChain(sessionID string) []string {
	return m.chains[sessionID]
}

// Sessions returns the session IDs that have structural chains.
func (m *Model) Sessions() []string { return m.sessions }

// Empty creates a zero-generation model with no records.
func Empty() *Model {
	return &Model{
		index:  make(map[string]int),
		chains: make(map[string][]string),
	}
}
