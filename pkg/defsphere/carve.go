package defsphere

import (
	"fmt"
	"math"

	"github.com/golang/geo/s2"
	"gonum.org/v1/gonum/spatial/r3"

	"surfreg/pkg/border"
)

const (
	// nearFraction of the mean edge length is how close a free vertex may
	// lie to a landmark segment before it is nudged off it.
	nearFraction = 0.01

	// nudgeFraction of the mean edge length is how far a nudged vertex ends
	// up from the segment.
	nudgeFraction = 0.05

	carveAttempts = 4

	// splitDepth bounds how often a segment that cannot be flipped out is
	// halved by a helper vertex.
	splitDepth = 8
)

// carver turns landmark segments into mesh edges by flipping the edges that
// cross them (Sloan's method). A segment the flips cannot recover is split
// at its midpoint and each half carved on its own.
type carver struct {
	t           *triangulation
	ins         *inserter
	radius      float64
	meanEdge    float64
	helper      map[int]bool
	constrained map[edgeKey]bool
}

// locked reports whether w lies on a landmark chain and must not move.
func (c *carver) locked(w int) bool {
	return (*c.ins.isLandmark)[w] || c.helper[w]
}

// carve makes the segment (a, b) a chain of constrained edges, usually a
// single one.
func (c *carver) carve(a, b int) error {
	return c.carveDepth(a, b, 0)
}

func (c *carver) carveDepth(a, b, depth int) error {
	if a == b {
		return nil
	}
	for attempt := 0; !c.t.hasEdge(a, b); attempt++ {
		crossing, err := c.crossingEdges(a, b)
		if err == nil {
			for _, e := range crossing {
				if c.constrained[keyOf(e[0], e[1])] {
					return fmt.Errorf("segment %d-%d crosses landmark edge %d-%d: %w",
						a, b, e[0], e[1], border.ErrLandmarkMismatch)
				}
			}
			if attempt < carveAttempts && c.nudge(a, b, crossing) {
				continue
			}
			err = c.flipOut(a, b, crossing)
		}
		if err == nil {
			break
		}
		if depth >= splitDepth {
			return err
		}
		return c.split(a, b, depth)
	}
	c.constrained[keyOf(a, b)] = true
	return nil
}

// split inserts a helper vertex at the midpoint of (a, b) and carves both
// halves.
func (c *carver) split(a, b, depth int) error {
	mid := r3.Add(r3.Unit(c.t.pos[a]), r3.Unit(c.t.pos[b]))
	if r3.Norm(mid) < 1e-12 {
		return fmt.Errorf("segment %d-%d joins antipodal points", a, b)
	}
	edges := len(c.constrained)
	m, err := c.ins.insertHelper(r3.Scale(c.radius, r3.Unit(mid)))
	if err != nil {
		return err
	}
	if len(c.constrained) != edges {
		return fmt.Errorf("segment %d-%d passes through a landmark edge: %w", a, b, border.ErrLandmarkMismatch)
	}
	if m == a || m == b {
		return fmt.Errorf("segment %d-%d is too short to split", a, b)
	}
	if !(*c.ins.isLandmark)[m] {
		c.helper[m] = true
	}
	if err := c.carveDepth(a, m, depth+1); err != nil {
		return err
	}
	return c.carveDepth(m, b, depth+1)
}

// crossingEdges walks from a toward b and returns, in order, the edges the
// segment passes through. Each edge is directed as it appears in the
// triangle on a's side.
func (c *carver) crossingEdges(a, b int) ([][2]int, error) {
	t := c.t
	A, B := t.point(a), t.point(b)

	fan, err := t.fan(a)
	if err != nil {
		return nil, err
	}
	u, v := -1, -1
	for _, ti := range fan {
		r := rotate(t.tris[ti], a)
		if s2.CrossingSign(A, B, t.point(r[1]), t.point(r[2])) == s2.Cross {
			u, v = r[1], r[2]
			break
		}
	}
	if u < 0 {
		return nil, fmt.Errorf("segment %d-%d leaves vertex %d through no triangle", a, b, a)
	}

	out := [][2]int{{u, v}}
	for {
		next, ok := t.edges[dirEdge{v, u}]
		if !ok {
			return nil, fmt.Errorf("edge %d-%d has no second triangle", u, v)
		}
		z := t.opposite(next, u, v)
		if z == b {
			return out, nil
		}
		if s2.RobustSign(A, B, t.point(z)) == s2.RobustSign(A, B, t.point(u)) {
			u = z
		} else {
			v = z
		}
		out = append(out, [2]int{u, v})
		if len(out) > len(t.tris) {
			return nil, fmt.Errorf("walk from %d to %d does not terminate", a, b)
		}
	}
}

// nudge moves free vertices that lie almost on the segment (a, b) a short
// distance off it, and reports whether any moved. A vertex whose move would
// fold one of its triangles stays put.
func (c *carver) nudge(a, b int, crossing [][2]int) bool {
	ua, ub := r3.Unit(c.t.pos[a]), r3.Unit(c.t.pos[b])
	n := r3.Unit(r3.Cross(ua, ub))
	near := nearFraction * c.meanEdge / c.radius
	away := nudgeFraction * c.meanEdge / c.radius

	moved := false
	seen := make(map[int]bool)
	for _, e := range crossing {
		for _, w := range e {
			if seen[w] || w == a || w == b || c.locked(w) {
				continue
			}
			seen[w] = true

			uw := r3.Unit(c.t.pos[w])
			d := r3.Dot(uw, n)
			if math.Abs(d) >= near {
				continue
			}
			if r3.Dot(r3.Cross(ua, uw), n) <= 0 || r3.Dot(r3.Cross(uw, ub), n) <= 0 {
				continue
			}
			side := 1.0
			if d < 0 {
				side = -1
			}
			dir := r3.Add(r3.Sub(uw, r3.Scale(d, n)), r3.Scale(side*away, n))
			if c.t.move(w, r3.Scale(c.radius, r3.Unit(dir))) {
				moved = true
			}
		}
	}
	return moved
}

// flipOut flips the crossing edges until the segment (a, b) is an edge.
func (c *carver) flipOut(a, b int, crossing [][2]int) error {
	t := c.t
	A, B := t.point(a), t.point(b)

	queue := append([][2]int(nil), crossing...)
	budget := 50*len(queue) + 100
	for len(queue) > 0 {
		if budget--; budget < 0 {
			return fmt.Errorf("could not carve segment %d-%d: %d edges left", a, b, len(queue))
		}
		e := queue[0]
		queue = queue[1:]

		p, q, ok := t.quad(e[0], e[1])
		if !ok {
			return fmt.Errorf("crossing edge %d-%d is not interior", e[0], e[1])
		}
		if !t.convex(e[0], e[1], p, q) || t.hasEdge(p, q) {
			queue = append(queue, e)
			continue
		}
		np, nq, err := t.flip(e[0], e[1])
		if err != nil {
			return err
		}
		if s2.CrossingSign(A, B, t.point(np), t.point(nq)) == s2.Cross {
			queue = append(queue, [2]int{np, nq})
		}
	}
	if !t.hasEdge(a, b) {
		return fmt.Errorf("segment %d-%d is still not an edge after flipping", a, b)
	}
	return nil
}
