package graph

import (
	"sort"

	"github.com/google/uuid"
)

// TemporalConfig controls temporal-adjacency edge synthesis.
type TemporalConfig struct {
	// WindowSecs is the maximum time gap that still produces an edge.
	WindowSecs float64
	// MaxEdges caps the synthesized edge count to bound memory.
	MaxEdges int
}

// TemporalEdges synthesizes temporal-adjacency edges between nodes whose
// timestamps fall within the window. Strength decays linearly from 1.0 at
// zero gap to 0.0 at the window boundary. When visible is non-nil, only
// nodes in the set participate. Runs a sliding window over the sorted
// timestamps, so cost is proportional to the number of edges produced.
func TemporalEdges(m *Model, cfg TemporalConfig, visible map[string]struct{}) []Edge {
	if cfg.WindowSecs <= 0 || cfg.MaxEdges == 0 {
		return nil
	}

	type timed struct {
		id   string
		secs float64
	}
	nodes := m.Nodes()
	sorted := make([]timed, 0, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		secs, ok := n.TimestampSecs()
		if !ok {
			continue
		}
		if visible != nil {
			if _, in := visible[n.ID]; !in {
				continue
			}
		}
		sorted = append(sorted, timed{id: n.ID, secs: secs})
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].secs < sorted[j].secs })

	var edges []Edge
	for i := 0; i < len(sorted); i++ {
		for j := i + 1; j < len(sorted); j++ {
			dt := sorted[j].secs - sorted[i].secs
			if dt > cfg.WindowSecs {
				break
			}
			edges = append(edges, Edge{
				ID:     uuid.NewString(),
				Source: sorted[i].id,
				Target: sorted[j].id,
				Kind:   EdgeTemporal,
				Weight: 1.0 - dt/cfg.WindowSecs,
			})
			if len(edges) >= cfg.MaxEdges {
				return edges
			}
		}
	}
	return edges
}
