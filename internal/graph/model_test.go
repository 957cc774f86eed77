package graph

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestNewModelDropsDuplicateNodesKeepingFirst(t *testing.T) {
	nodes := []Node{
		{ID: "a", Project: "first"},
		{ID: "a", Project: "second"},
		{ID: "b"},
	}
	m := NewModel(1, nodes, nil, zap.NewNop())
	if len(m.Nodes()) != 2 {
		t.Fatalf("nodes = %d, want 2", len(m.Nodes()))
	}
	n, ok := m.NodeByID("a")
	if !ok || n.Project != "first" {
		t.Fatalf("duplicate resolution kept %q, want first occurrence", n.Project)
	}
}

func TestNewModelDropsDanglingEdges(t *testing.T) {
	nodes := []Node{{ID: "a"}, {ID: "b"}}
	edges := []Edge{
		{Source: "a", Target: "b"},
		{Source: "a", Target: "ghost"},
		{Source: "ghost", Target: "b"},
	}
	m := NewModel(1, nodes, edges, zap.NewNop())
	if len(m.Edges()) != 1 {
		t.Fatalf("edges = %d, want only the valid one", len(m.Edges()))
	}
}

func TestEmptyEdgeKindDefaultsToSession(t *testing.T) {
	m := NewModel(1, []Node{{ID: "a"}, {ID: "b"}},
		[]Edge{{Source: "a", Target: "b", SessionID: "s1"}}, zap.NewNop())
	e := m.Edges()[0]
	if e.Kind != EdgeSession || !e.SessionInternal {
		t.Fatalf("edge = %+v, want session-internal default", e)
	}
}

func TestSessionChainFollowsEdgeOrder(t *testing.T) {
	nodes := []Node{{ID: "c"}, {ID: "a"}, {ID: "b"}}
	edges := []Edge{
		{Source: "a", Target: "b", Kind: EdgeSession, SessionID: "s1"},
		{Source: "b", Target: "c", Kind: EdgeSession, SessionID: "s1"},
	}
	m := NewModel(1, nodes, edges, zap.NewNop())

	chain := m.SessionChain("s1")
	want := []string{"a", "b", "c"}
	if len(chain) != len(want) {
		t.Fatalf("chain = %v, want %v", chain, want)
	}
	for i := range want {
		if chain[i] != want[i] {
			t.Fatalf("chain = %v, want %v", chain, want)
		}
	}
	if len(m.Sessions()) != 1 || m.Sessions()[0] != "s1" {
		t.Fatalf("sessions = %v", m.Sessions())
	}
}

func TestSimilarityEdgesDoNotFormChains(t *testing.T) {
	nodes := []Node{{ID: "a"}, {ID: "b"}}
	edges := []Edge{{Source: "a", Target: "b", Kind: EdgeSimilarity, SessionID: "s1", Weight: 0.9}}
	m := NewModel(1, nodes, edges, zap.NewNop())
	if len(m.SessionChain("s1")) != 0 {
		t.Fatal("similarity edges must not contribute to session chains")
	}
}

func TestParseTimestampFormats(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"2025-06-01T12:00:00Z", true},
		{"2025-06-01T12:00:00.123456789Z", true},
		{"2025-06-01T12:00:00.123456", true},
		{"2025-06-01 12:00:00", true},
		{"2025-06-01", true},
		{"", false},
		{"yesterday", false},
		{"01/06/2025", false},
	}
	for _, c := range cases {
		if _, ok := ParseTimestamp(c.in); ok != c.ok {
			t.Errorf("ParseTimestamp(%q) ok = %v, want %v", c.in, ok, c.ok)
		}
	}
}

func TestTimestampSecs(t *testing.T) {
	m := NewModel(1, []Node{
		{ID: "a", Timestamp: "2025-06-01T12:00:00Z"},
		{ID: "b", Timestamp: "garbage"},
	}, nil, zap.NewNop())

	a, _ := m.NodeByID("a")
	secs, ok := a.TimestampSecs()
	if !ok {
		t.Fatal("valid timestamp must parse")
	}
	want := float64(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC).Unix())
	if secs != want {
		t.Fatalf("secs = %v, want %v", secs, want)
	}

	b, _ := m.NodeByID("b")
	if _, ok := b.TimestampSecs(); ok {
		t.Fatal("garbage timestamp must report not ok")
	}
}

func TestTotalTokens(t *testing.T) {
	n := Node{InputTokens: 120, OutputTokens: 80}
	if n.TotalTokens() != 200 {
		t.Fatalf("total = %d", n.TotalTokens())
	}
}

func TestEmptyModel(t *testing.T) {
	m := Empty()
	if m.Generation() != 0 || len(m.Nodes()) != 0 || m.HasNode("x") {
		t.Fatal("empty model must have no records")
	}
}
