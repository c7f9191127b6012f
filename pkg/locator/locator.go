// Package locator finds the triangle of a spherical mesh that contains a
// direction and the barycentric weights of that direction inside it.
package locator

import (
	"errors"
	"math"
	"sort"

	"gonum.org/v1/gonum/spatial/kdtree"
	"gonum.org/v1/gonum/spatial/r3"

	"surfreg/internal/parallel"
	"surfreg/pkg/mesh"
)

// ErrZeroQuery is returned for a query vector of zero length, which has no
// direction.
var ErrZeroQuery = errors.New("locator: zero-length query")

const (
	// edgeTolerance admits directions within this (unit-sphere) distance
	// outside an edge plane, so points on shared edges match both sides.
	edgeTolerance = 1e-12

	// candidateVertices is the number of nearest vertices whose incident
	// triangles are tried before falling back to a full scan.
	candidateVertices = 8
)

// Location is a triangle of the host mesh and the barycentric weights of a
// point inside it. The weights are non-negative and sum to one.
type Location struct {
	Triangle int
	Weights  [3]float64
}

// Vertex returns the corner of the location with the largest weight, ties
// going to the lowest vertex index.
func (l Location) Vertex(m *mesh.Mesh) int {
	t := m.Triangles[l.Triangle]
	best := 0
	for k := 1; k < 3; k++ {
		if l.Weights[k] > l.Weights[best] || (l.Weights[k] == l.Weights[best] && t[k] < t[best]) {
			best = k
		}
	}
	return t[best]
}

// Locator answers containment queries against one host mesh. The host's
// positions must not change while the Locator is in use. A Locator is safe
// for concurrent use.
type Locator struct {
	host *mesh.Mesh
	dirs []r3.Vec
	tree *kdtree.Tree
}

// New prepares a locator for the host mesh.
//
// Parameters:
//   - host: the spherical mesh to search; its positions must not change
//     while the locator is in use
//   - workers: goroutines for the crossover scan of the host (0 means one
//     per CPU)
//
// Hosts without crossovers get a k-d tree over their vertex directions;
// folded hosts are always scanned in full so that overlapping triangles
// resolve by lowest index.
func New(host *mesh.Mesh, workers int) *Locator {
	l := &Locator{host: host, dirs: make([]r3.Vec, len(host.Vertices))}
	for i, v := range host.Vertices {
		l.dirs[i] = r3.Unit(v)
	}

	if n, _ := host.CountCrossovers(workers); n == 0 && len(host.Vertices) > candidateVertices {
		points := make(dirPoints, len(l.dirs))
		for i, d := range l.dirs {
			points[i] = dirPoint{Vec: d, index: i}
		}
		l.tree = kdtree.New(points, false)
	}
	return l
}

// Locate returns the triangle containing the direction of q and q's
// barycentric weights in it. When q lies on a shared edge or vertex the
// lowest-numbered containing triangle is returned.
func (l *Locator) Locate(q r3.Vec) (Location, error) {
	if r3.Norm2(q) == 0 {
		return Location{}, ErrZeroQuery
	}
	q = r3.Unit(q)

	if l.tree != nil {
		if ti, ok := l.locateIndexed(q); ok {
			return Location{Triangle: ti, Weights: l.Barycentric(ti, q)}, nil
		}
	}
	ti := l.scan(q)
	return Location{Triangle: ti, Weights: l.Barycentric(ti, q)}, nil
}

// LocateNaive is Locate without the k-d tree: every triangle is tested in
// index order.
func (l *Locator) LocateNaive(q r3.Vec) (Location, error) {
	if r3.Norm2(q) == 0 {
		return Location{}, ErrZeroQuery
	}
	q = r3.Unit(q)
	ti := l.scan(q)
	return Location{Triangle: ti, Weights: l.Barycentric(ti, q)}, nil
}

// LocateAll locates every query, splitting the work across workers.
func (l *Locator) LocateAll(queries []r3.Vec, workers int) ([]Location, error) {
	out := make([]Location, len(queries))
	errs := make([]error, len(queries))
	parallel.For(len(queries), workers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			out[i], errs[i] = l.Locate(queries[i])
		}
	})
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// locateIndexed searches the triangles around the nearest vertices, then
// settles ties among the triangles around the first hit.
func (l *Locator) locateIndexed(q r3.Vec) (int, bool) {
	var candidates []int
	for _, v := range nearestVertices(l.tree, q, candidateVertices) {
		candidates = append(candidates, l.host.IncidentTriangles(v)...)
	}
	hit, ok := l.lowestContaining(q, candidates)
	if !ok {
		return 0, false
	}

	candidates = candidates[:0]
	for _, v := range l.host.Triangles[hit] {
		candidates = append(candidates, l.host.IncidentTriangles(v)...)
	}
	return l.lowestContaining(q, candidates)
}

func (l *Locator) lowestContaining(q r3.Vec, candidates []int) (int, bool) {
	sort.Ints(candidates)
	for i, ti := range candidates {
		if i > 0 && candidates[i-1] == ti {
			continue
		}
		if l.contains(ti, q) {
			return ti, true
		}
	}
	return 0, false
}

// scan tests every triangle in order. If numerical gaps leave q outside all
// of them, the triangle whose worst edge test is least violated is used.
func (l *Locator) scan(q r3.Vec) int {
	best, bestScore := 0, math.Inf(-1)
	for ti := range l.host.Triangles {
		if l.contains(ti, q) {
			return ti
		}
		if s := l.edgeScore(ti, q); s > bestScore {
			best, bestScore = ti, s
		}
	}
	return best
}

// contains reports whether q lies in the spherical triangle ti: on the inner
// side of all three edge planes and in the same hemisphere as the triangle.
func (l *Locator) contains(ti int, q r3.Vec) bool {
	t := l.host.Triangles[ti]
	a, b, c := l.dirs[t[0]], l.dirs[t[1]], l.dirs[t[2]]
	if r3.Dot(q, r3.Add(r3.Add(a, b), c)) <= 0 {
		return false
	}
	return r3.Dot(r3.Cross(a, b), q) >= -edgeTolerance &&
		r3.Dot(r3.Cross(b, c), q) >= -edgeTolerance &&
		r3.Dot(r3.Cross(c, a), q) >= -edgeTolerance
}

// edgeScore is the smallest normalised edge-plane distance of q from the
// inside of triangle ti; positive means inside.
func (l *Locator) edgeScore(ti int, q r3.Vec) float64 {
	t := l.host.Triangles[ti]
	a, b, c := l.dirs[t[0]], l.dirs[t[1]], l.dirs[t[2]]
	if r3.Dot(q, r3.Add(r3.Add(a, b), c)) <= 0 {
		return math.Inf(-1)
	}
	score := math.Inf(1)
	for _, e := range [3][2]r3.Vec{{a, b}, {b, c}, {c, a}} {
		n := r3.Cross(e[0], e[1])
		l := r3.Norm(n)
		if l == 0 {
			continue
		}
		score = math.Min(score, r3.Dot(n, q)/l)
	}
	return score
}

// Barycentric projects the direction q radially onto the plane of triangle
// ti and returns its planar barycentric weights, with negative round-off
// clamped to zero and the result renormalised to sum to one.
func (l *Locator) Barycentric(ti int, q r3.Vec) [3]float64 {
	t := l.host.Triangles[ti]
	return Barycentric(l.host.Vertices[t[0]], l.host.Vertices[t[1]], l.host.Vertices[t[2]], q)
}

// Barycentric returns the weights of the direction q in the triangle
// (a, b, c) after radial projection onto the triangle's plane. Degenerate
// triangles yield equal weights.
func Barycentric(a, b, c, q r3.Vec) [3]float64 {
	n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
	nn := r3.Norm2(n)
	if nn == 0 {
		return [3]float64{1.0 / 3, 1.0 / 3, 1.0 / 3}
	}

	p := q
	if denom := r3.Dot(n, q); denom != 0 {
		p = r3.Scale(r3.Dot(n, a)/denom, q)
	}

	w := [3]float64{
		r3.Dot(n, r3.Cross(r3.Sub(b, p), r3.Sub(c, p))) / nn,
		r3.Dot(n, r3.Cross(r3.Sub(c, p), r3.Sub(a, p))) / nn,
		r3.Dot(n, r3.Cross(r3.Sub(a, p), r3.Sub(b, p))) / nn,
	}
	sum := 0.0
	for k := range w {
		if w[k] < 0 {
			w[k] = 0
		}
		sum += w[k]
	}
	if sum == 0 {
		return [3]float64{1.0 / 3, 1.0 / 3, 1.0 / 3}
	}
	for k := range w {
		w[k] /= sum
	}
	return w
}

// Interpolate returns the barycentric combination of the corner positions
// of loc's triangle taken from positions.
func Interpolate(m *mesh.Mesh, positions []r3.Vec, loc Location) r3.Vec {
	t := m.Triangles[loc.Triangle]
	p := r3.Scale(loc.Weights[0], positions[t[0]])
	p = r3.Add(p, r3.Scale(loc.Weights[1], positions[t[1]]))
	return r3.Add(p, r3.Scale(loc.Weights[2], positions[t[2]]))
}
