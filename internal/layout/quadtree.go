package layout

// Barnes-Hut quadtree for repulsion in O(n log n) instead of O(n²).
// Distant groups of bodies are approximated by their center of mass.

const maxQuadDepth = 50

type quadNode struct {
	// Leaf when children is nil and count == 1.
	centerOfMass Vec2
	totalMass    float64
	count        int
	children     *[4]*quadNode
}

type quadBounds struct {
	min, max Vec2
}

func (b quadBounds) center() Vec2 {
	return Vec2{(b.min.X + b.max.X) / 2, (b.min.Y + b.max.Y) / 2}
}

func (b quadBounds) size() float64 {
	w := b.max.X - b.min.X
	h := b.max.Y - b.min.Y
	if w > h {
		return w
	}
	return h
}

// quadrant returns 0=NW, 1=NE, 2=SW, 3=SE for a position.
func (b quadBounds) quadrant(p Vec2) int {
	c := b.center()
	q := 0
	if p.X >= c.X {
		q |= 1
	}
	if p.Y >= c.Y {
		q |= 2
	}
	return q
}

func (b quadBounds) child(q int) quadBounds {
	c := b.center()
	switch q {
	case 0:
		return quadBounds{b.min, c}
	case 1:
		return quadBounds{Vec2{c.X, b.min.Y}, Vec2{b.max.X, c.Y}}
	case 2:
		return quadBounds{Vec2{b.min.X, c.Y}, Vec2{c.X, b.max.Y}}
	default:
		return quadBounds{c, b.max}
	}
}

// Quadtree approximates pairwise repulsion between bodies.
type Quadtree struct {
	root   *quadNode
	bounds quadBounds
	theta  float64
}

// Body is a point mass inserted into the tree.
type Body struct {
	Pos  Vec2
	Mass float64
}

// BuildQuadtree constructs a tree over the given bodies. Theta trades
// accuracy for speed; 1.0 is adequate for visualization.
func BuildQuadtree(bodies []Body, theta float64) *Quadtree {
	t := &Quadtree{theta: theta}
	if len(bodies) == 0 {
		return t
	}

	min := bodies[0].Pos
	max := bodies[0].Pos
	for _, b := range bodies[1:] {
		if b.Pos.X < min.X {
			min.X = b.Pos.X
		}
		if b.Pos.Y < min.Y {
			min.Y = b.Pos.Y
		}
		if b.Pos.X > max.X {
			max.X = b.Pos.X
		}
		if b.Pos.Y > max.Y {
			max.Y = b.Pos.Y
		}
	}

	// Pad and square the bounds; the tree subdivision assumes square cells.
	const padding = 100.0
	min = Vec2{min.X - padding, min.Y - padding}
	max = Vec2{max.X + padding, max.Y + padding}
	size := max.X - min.X
	if h := max.Y - min.Y; h > size {
		size = h
	}
	t.bounds = quadBounds{min, Vec2{min.X + size, min.Y + size}}

	for _, b := range bodies {
		if b.Mass <= 0 {
			continue
		}
		t.root = insert(t.root, b, t.bounds, 0)
	}
	return t
}

func insert(n *quadNode, b Body, bounds quadBounds, depth int) *quadNode {
	// Coincident points would recurse forever; merge them instead.
	if depth > maxQuadDepth {
		if n != nil {
			n.totalMass += b.Mass
			n.count++
		}
		return n
	}
	if n == nil {
		return &quadNode{centerOfMass: b.Pos, totalMass: b.Mass, count: 1}
	}

	if n.children == nil {
		existing := Body{Pos: n.centerOfMass, Mass: n.totalMass}
		n.children = &[4]*quadNode{}
		eq := bounds.quadrant(existing.Pos)
		n.children[eq] = insert(nil, existing, bounds.child(eq), depth+1)
	}

	nq := bounds.quadrant(b.Pos)
	n.children[nq] = insert(n.children[nq], b, bounds.child(nq), depth+1)

	total := n.totalMass + b.Mass
	n.centerOfMass = Vec2{
		X: (n.centerOfMass.X*n.totalMass + b.Pos.X*b.Mass) / total,
		Y: (n.centerOfMass.Y*n.totalMass + b.Pos.Y*b.Mass) / total,
	}
	n.totalMass = total
	n.count++
	return n
}

// RepulsionAt computes the aggregate repulsive force on a body at pos.
// Inverse-square falloff, with distances floored at minDistance to avoid
// the singularity between near-coincident bodies.
func (t *Quadtree) RepulsionAt(pos Vec2, strength, minDistance float64) Vec2 {
	if t.root == nil {
		return Vec2{}
	}
	return t.forceFrom(t.root, t.bounds, pos, strength, minDistance)
}

func (t *Quadtree) forceFrom(n *quadNode, bounds quadBounds, pos Vec2, strength, minDistance float64) Vec2 {
	delta := pos.Sub(n.centerOfMass)
	dist := delta.Len()

	// Treat far cells as a single body; recurse into near ones.
	if n.children == nil || (dist > 0 && bounds.size()/dist < t.theta) {
		if dist < 1e-6 {
			// A body pushing against itself (or an exactly coincident one)
			// contributes nothing here; the engine jitters coincident pairs.
			return Vec2{}
		}
		d := dist
		if d < minDistance {
			d = minDistance
		}
		magnitude := strength * n.totalMass / (d * d)
		return delta.Scale(magnitude / dist)
	}

	var f Vec2
	for q, child := range n.children {
		if child != nil {
			f = f.Add(t.forceFrom(child, bounds.child(q), pos, strength, minDistance))
		}
	}
	return f
}
