package defsphere

import (
	"fmt"
	"math"

	"github.com/golang/geo/s2"
	"gonum.org/v1/gonum/spatial/r3"
)

// dirEdge is a directed edge. Each directed edge of a closed, consistently
// wound triangulation belongs to exactly one triangle.
type dirEdge [2]int

// edgeKey is an undirected edge, lower index first.
type edgeKey [2]int

func keyOf(a, b int) edgeKey {
	if a > b {
		a, b = b, a
	}
	return edgeKey{a, b}
}

// triangulation is the editable form of the deformation sphere while
// landmarks are inserted and carved. Triangles are never reordered in place
// except by flips, which rewrite two triangles under their old indices.
// Split triangles stay in tris, marked dead, until compact.
type triangulation struct {
	pos  []r3.Vec
	tris [][3]int
	dead []bool

	// edges maps each directed edge to its live triangle; anyTri holds one
	// live triangle per vertex.
	edges  map[dirEdge]int
	anyTri []int
}

func newTriangulation(pos []r3.Vec, tris [][3]int) *triangulation {
	t := &triangulation{
		pos:    pos,
		tris:   make([][3]int, 0, len(tris)),
		edges:  make(map[dirEdge]int, 3*len(tris)),
		anyTri: make([]int, len(pos)),
	}
	for _, tri := range tris {
		t.add(tri)
	}
	return t
}

// add appends a triangle and indexes its edges.
func (t *triangulation) add(tri [3]int) int {
	t.tris = append(t.tris, tri)
	t.dead = append(t.dead, false)
	idx := len(t.tris) - 1
	t.index(idx)
	return idx
}

func (t *triangulation) index(idx int) {
	tri := t.tris[idx]
	for k := 0; k < 3; k++ {
		t.edges[dirEdge{tri[k], tri[(k+1)%3]}] = idx
		t.anyTri[tri[k]] = idx
	}
}

func (t *triangulation) unindex(idx int) {
	tri := t.tris[idx]
	for k := 0; k < 3; k++ {
		e := dirEdge{tri[k], tri[(k+1)%3]}
		if t.edges[e] == idx {
			delete(t.edges, e)
		}
	}
}

// kill removes a triangle from the edge index.
func (t *triangulation) kill(idx int) {
	t.unindex(idx)
	t.dead[idx] = true
}

func (t *triangulation) addVertex(p r3.Vec) int {
	t.pos = append(t.pos, p)
	t.anyTri = append(t.anyTri, -1)
	return len(t.pos) - 1
}

// hasEdge reports whether a and b are joined by an edge.
func (t *triangulation) hasEdge(a, b int) bool {
	_, ok := t.edges[dirEdge{a, b}]
	return ok
}

// rotate returns tri cycled so that v comes first.
func rotate(tri [3]int, v int) [3]int {
	switch v {
	case tri[1]:
		return [3]int{tri[1], tri[2], tri[0]}
	case tri[2]:
		return [3]int{tri[2], tri[0], tri[1]}
	default:
		return tri
	}
}

// opposite returns the corner of triangle idx that is not on edge (a, b).
func (t *triangulation) opposite(idx, a, b int) int {
	for _, v := range t.tris[idx] {
		if v != a && v != b {
			return v
		}
	}
	return -1
}

// fan returns the live triangles around v in counter-clockwise order.
func (t *triangulation) fan(v int) ([]int, error) {
	start := t.anyTri[v]
	if start < 0 || t.dead[start] {
		return nil, fmt.Errorf("vertex %d has no live triangle", v)
	}
	var out []int
	cur := start
	for {
		out = append(out, cur)
		r := rotate(t.tris[cur], v)
		next, ok := t.edges[dirEdge{v, r[2]}]
		if !ok {
			return nil, fmt.Errorf("open fan around vertex %d", v)
		}
		if next == start {
			return out, nil
		}
		if len(out) > len(t.tris) {
			return nil, fmt.Errorf("fan around vertex %d does not close", v)
		}
		cur = next
	}
}

// edgeScore is the smallest edge-plane value of q in triangle idx; q is
// inside when it is at least -1e-12, the locator's tolerance.
func (t *triangulation) edgeScore(idx int, q r3.Vec) float64 {
	tri := t.tris[idx]
	a, b, c := r3.Unit(t.pos[tri[0]]), r3.Unit(t.pos[tri[1]]), r3.Unit(t.pos[tri[2]])
	if r3.Dot(q, r3.Add(r3.Add(a, b), c)) <= 0 {
		return math.Inf(-1)
	}
	return math.Min(r3.Dot(r3.Cross(a, b), q),
		math.Min(r3.Dot(r3.Cross(b, c), q), r3.Dot(r3.Cross(c, a), q)))
}

// walk moves from the live triangle start toward the unit direction q,
// always leaving through the edge q is furthest outside of, and returns the
// triangle containing q. It falls back to scan if the walk cycles.
func (t *triangulation) walk(start int, q r3.Vec) int {
	cur := start
	for steps := 0; steps < len(t.tris); steps++ {
		tri := t.tris[cur]
		worst, k := -1e-12, -1
		for i := 0; i < 3; i++ {
			a, b := r3.Unit(t.pos[tri[i]]), r3.Unit(t.pos[tri[(i+1)%3]])
			if s := r3.Dot(r3.Cross(a, b), q); s < worst {
				worst, k = s, i
			}
		}
		if k < 0 {
			return cur
		}
		next, ok := t.edges[dirEdge{tri[(k+1)%3], tri[k]}]
		if !ok {
			break
		}
		cur = next
	}
	return t.scan(q)
}

// scan tests every live triangle and returns the first containing q, or
// the one q is least outside of.
func (t *triangulation) scan(q r3.Vec) int {
	best, bestScore := -1, 0.0
	for i := range t.tris {
		if t.dead[i] {
			continue
		}
		s := t.edgeScore(i, q)
		if s >= -1e-12 {
			return i
		}
		if best < 0 || s > bestScore {
			best, bestScore = i, s
		}
	}
	return best
}

// ccw reports whether the triangle is wound counter-clockwise seen from
// outside the sphere, using exact predicates.
func (t *triangulation) ccw(tri [3]int) bool {
	return s2.RobustSign(t.point(tri[0]), t.point(tri[1]), t.point(tri[2])) == s2.CounterClockwise
}

// move places vertex v at p if every triangle around it stays unfolded, and
// reports whether it did.
func (t *triangulation) move(v int, p r3.Vec) bool {
	fan, err := t.fan(v)
	if err != nil {
		return false
	}
	old := t.pos[v]
	t.pos[v] = p
	for _, ti := range fan {
		if !t.ccw(t.tris[ti]) {
			t.pos[v] = old
			return false
		}
	}
	return true
}

// splitTriangle inserts vertex p inside triangle idx, replacing it by three.
func (t *triangulation) splitTriangle(idx, p int) {
	a, b, c := t.tris[idx][0], t.tris[idx][1], t.tris[idx][2]
	t.unindex(idx)
	t.add([3]int{a, b, p})
	t.add([3]int{b, c, p})
	t.add([3]int{c, a, p})
	t.kill(idx)
}

// splitEdge inserts vertex p on the edge (u, v) of triangle idx, replacing
// the two triangles sharing that edge by four.
func (t *triangulation) splitEdge(idx, u, v, p int) error {
	r1 := rotate(t.tris[idx], u)
	if r1[1] != v {
		u, v = v, u
		r1 = rotate(t.tris[idx], u)
	}
	c := r1[2]
	other, ok := t.edges[dirEdge{v, u}]
	if !ok {
		return fmt.Errorf("edge %d-%d has no second triangle", u, v)
	}
	d := t.opposite(other, u, v)

	t.unindex(idx)
	t.unindex(other)
	t.add([3]int{u, p, c})
	t.add([3]int{p, v, c})
	t.add([3]int{v, p, d})
	t.add([3]int{p, u, d})
	t.kill(idx)
	t.kill(other)
	return nil
}

// compact drops dead triangles and rebuilds the edge index.
func (t *triangulation) compact() {
	live := t.tris[:0:0]
	for i, tri := range t.tris {
		if !t.dead[i] {
			live = append(live, tri)
		}
	}
	t.tris = nil
	t.dead = nil
	t.edges = make(map[dirEdge]int, 3*len(live))
	for _, tri := range live {
		t.add(tri)
	}
}

// flip replaces the diagonal (u, v) of the quad formed by its two triangles
// with the other diagonal and returns the new edge. The two triangles keep
// their indices.
func (t *triangulation) flip(u, v int) (int, int, error) {
	t1, ok1 := t.edges[dirEdge{u, v}]
	t2, ok2 := t.edges[dirEdge{v, u}]
	if !ok1 || !ok2 {
		return 0, 0, fmt.Errorf("edge %d-%d is not interior", u, v)
	}
	p := t.opposite(t1, u, v)
	q := t.opposite(t2, u, v)
	if t.hasEdge(p, q) {
		return 0, 0, fmt.Errorf("flip of %d-%d would duplicate edge %d-%d", u, v, p, q)
	}

	t.unindex(t1)
	t.unindex(t2)
	t.tris[t1] = [3]int{u, q, p}
	t.tris[t2] = [3]int{q, v, p}
	t.index(t1)
	t.index(t2)
	return p, q, nil
}

// quad returns the two vertices opposite the edge (u, v).
func (t *triangulation) quad(u, v int) (p, q int, ok bool) {
	t1, ok1 := t.edges[dirEdge{u, v}]
	t2, ok2 := t.edges[dirEdge{v, u}]
	if !ok1 || !ok2 {
		return 0, 0, false
	}
	return t.opposite(t1, u, v), t.opposite(t2, u, v), true
}

// point returns vertex v as an s2 point.
func (t *triangulation) point(v int) s2.Point {
	p := t.pos[v]
	return s2.PointFromCoords(p.X, p.Y, p.Z)
}

// convex reports whether the quad around edge (u, v) admits the flip to
// (p, q), that is whether the two diagonals properly cross.
func (t *triangulation) convex(u, v, p, q int) bool {
	return s2.CrossingSign(t.point(u), t.point(v), t.point(p), t.point(q)) == s2.Cross
}
