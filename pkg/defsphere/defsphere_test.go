package defsphere

import (
	"errors"
	"fmt"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"surfreg/pkg/border"
	"surfreg/pkg/locator"
)

// circle returns n points of the great circle with the given normal.
func circle(name string, normal r3.Vec, radius float64, n int) border.Border {
	normal = r3.Unit(normal)
	e1 := r3.Unit(r3.Cross(normal, r3.Vec{X: 1}))
	e2 := r3.Cross(normal, e1)
	pts := make([]r3.Vec, n)
	for i := range pts {
		a := 2 * math.Pi * float64(i) / float64(n)
		pts[i] = r3.Scale(radius, r3.Add(r3.Scale(math.Cos(a), e1), r3.Scale(math.Sin(a), e2)))
	}
	return border.Border{Name: name, Closed: true, Points: pts}
}

// capBorder returns n points of the circle at angular radius alpha about axis.
func capBorder(name string, axis r3.Vec, alpha, radius float64, n int) border.Border {
	axis = r3.Unit(axis)
	e1 := r3.Unit(r3.Cross(axis, r3.Vec{X: 1}))
	e2 := r3.Cross(axis, e1)
	centre := r3.Scale(math.Cos(alpha), axis)
	pts := make([]r3.Vec, n)
	for i := range pts {
		a := 2 * math.Pi * float64(i) / float64(n)
		dir := r3.Add(r3.Scale(math.Cos(a), e1), r3.Scale(math.Sin(a), e2))
		pts[i] = r3.Scale(radius, r3.Add(centre, r3.Scale(math.Sin(alpha), dir)))
	}
	return border.Border{Name: name, Closed: true, Points: pts}
}

// chained reports whether u and v are joined by constrained edges whose
// inner vertices are not landmarks.
func chained(edges map[[2]int]bool, adj map[int][]int, isLandmark []bool, u, v int) bool {
	if edges[[2]int{min(u, v), max(u, v)}] {
		return true
	}
	seen := map[int]bool{u: true}
	stack := []int{u}
	for len(stack) > 0 {
		w := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for _, n := range adj[w] {
			if n == v {
				return true
			}
			if !seen[n] && !isLandmark[n] {
				seen[n] = true
				stack = append(stack, n)
			}
		}
	}
	return false
}

func checkSphere(t *testing.T, ds *DeformationSphere, radius float64) {
	t.Helper()
	m := ds.Mesh
	if err := m.CheckSphereTopology(); err != nil {
		t.Fatalf("deformation sphere is not a closed sphere: %v", err)
	}
	if d := m.MaxRadialDeviation(radius); d > 1e-12 {
		t.Errorf("vertices off the sphere by %g", d)
	}
	if n, list := m.CountCrossovers(1); n != 0 {
		t.Errorf("expected no crossovers, got %d (%v)", n, list)
	}
	if m.NumVertices() != ds.NumRegular+ds.NumInserted() {
		t.Errorf("vertex count %d != %d regular + %d inserted", m.NumVertices(), ds.NumRegular, ds.NumInserted())
	}
	if len(ds.IsLandmark) != m.NumVertices() {
		t.Errorf("IsLandmark has %d entries for %d vertices", len(ds.IsLandmark), m.NumVertices())
	}

	if err := m.CheckDegenerate(); err != nil {
		t.Errorf("degenerate triangle: %v", err)
	}

	edges := make(map[[2]int]bool)
	adj := make(map[int][]int)
	list := ds.ConstrainedEdges()
	for k, e := range list {
		if e[0] >= e[1] {
			t.Errorf("constrained edge %v not lower index first", e)
		}
		if k > 0 && (list[k-1][0] > e[0] || list[k-1][0] == e[0] && list[k-1][1] >= e[1]) {
			t.Errorf("constrained edges out of order at %d: %v then %v", k, list[k-1], e)
		}
		found := false
		for _, n := range m.Neighbors(e[0]) {
			if n == e[1] {
				found = true
			}
		}
		if !found {
			t.Errorf("constrained edge %v is not a mesh edge", e)
		}
		edges[e] = true
		adj[e[0]] = append(adj[e[0]], e[1])
		adj[e[1]] = append(adj[e[1]], e[0])
	}
	for bi, b := range ds.Borders {
		for s := 0; s < b.NumSegments(); s++ {
			i, j := b.Segment(s)
			u, v := ds.Vertex(bi, i), ds.Vertex(bi, j)
			if u == v {
				continue
			}
			if !chained(edges, adj, ds.IsLandmark, u, v) {
				t.Errorf("border %q segment %d (%d-%d) is not a chain of landmark edges", b.Name, s, u, v)
			}
		}
	}
	for _, ref := range ds.Landmarks {
		if !ds.IsLandmark[ref.Vertex] {
			t.Errorf("vertex %d referenced by a landmark but not flagged", ref.Vertex)
		}
		want := ds.Borders[ref.Border].Points[ref.Index]
		if got := m.Vertices[ref.Vertex]; r3.Norm(r3.Sub(got, want)) > 1e-9 {
			t.Errorf("landmark %+v at %v, border point %v", ref, got, want)
		}
	}
}

func TestBuildClosedBorder(t *testing.T) {
	b := circle("ring", r3.Vec{X: 0.3, Y: 0.2, Z: 0.93}, 100, 90)
	ds, err := Build([]border.Border{b}, Options{Resolution: 642, Density: 15, Radius: 100})
	if err != nil {
		t.Fatal(err)
	}
	if ds.NumRegular != 642 {
		t.Errorf("expected 642 regular vertices, got %d", ds.NumRegular)
	}
	if got, want := len(ds.Landmarks), len(ds.Borders[0].Points); got != want {
		t.Errorf("expected %d landmark references, got %d", want, got)
	}
	if len(ds.ConstrainedEdges()) == 0 {
		t.Errorf("expected constrained edges")
	}
	checkSphere(t, ds, 100)
}

func TestBuildOpenAndClosed(t *testing.T) {
	ring := circle("ring", r3.Vec{X: 0.1, Y: -0.25, Z: 0.96}, 50, 60)
	arc := border.Border{Name: "arc", Points: []r3.Vec{
		r3.Scale(50, r3.Unit(r3.Vec{X: 0.2, Y: 0.1, Z: 1})),
		r3.Scale(50, r3.Unit(r3.Vec{X: 0.5, Y: 0.2, Z: 1})),
	}}

	ds, err := Build([]border.Border{ring, arc}, Options{Resolution: 2562, Density: 4, Radius: 50})
	if err != nil {
		t.Fatal(err)
	}
	checkSphere(t, ds, 50)
	last := len(ds.Borders[1].Points) - 1
	if r3.Norm(r3.Sub(ds.Borders[1].Points[0], arc.Points[0])) > 1e-9 ||
		r3.Norm(r3.Sub(ds.Borders[1].Points[last], arc.Points[1])) > 1e-9 {
		t.Errorf("open border endpoints moved")
	}
}

func TestBuildIntersectingBorders(t *testing.T) {
	a := circle("a", r3.Vec{X: 0.3, Y: 0.2, Z: 0.93}, 100, 60)
	b := circle("b", r3.Vec{X: 0.9, Y: 0.1, Z: 0.3}, 100, 60)
	_, err := Build([]border.Border{a, b}, Options{Resolution: 642, Density: 12, Radius: 100})
	if !errors.Is(err, border.ErrLandmarkMismatch) {
		t.Errorf("expected ErrLandmarkMismatch for crossing borders, got %v", err)
	}
}

func TestBuildRejectsBadRadius(t *testing.T) {
	if _, err := Build(nil, Options{Resolution: 42}); err == nil {
		t.Errorf("expected an error for a zero radius")
	}
}

func TestBuildWithoutBorders(t *testing.T) {
	ds, err := Build(nil, Options{Resolution: 162, Radius: 2})
	if err != nil {
		t.Fatal(err)
	}
	if ds.Mesh.NumVertices() != 162 || ds.NumInserted() != 0 {
		t.Errorf("expected the plain regular sphere, got %d vertices", ds.Mesh.NumVertices())
	}
	checkSphere(t, ds, 2)
}

func TestBuildDefaultDensities(t *testing.T) {
	axis1 := r3.Vec{X: 0.3, Y: 0.2, Z: 0.93}
	axis2 := r3.Vec{X: -0.6, Y: 0.7, Z: -0.4}
	borders := []border.Border{
		capBorder("central", axis1, math.Pi/6, 100, 72),
		capBorder("calcarine", axis2, math.Pi/6, 100, 72),
	}

	tests := []struct {
		resolution int
		density    float64
		long       bool
	}{
		{10242, 2.5, false},
		{40962, 2.5, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%d vertices", tt.resolution), func(t *testing.T) {
			if tt.long && testing.Short() {
				t.Skip("skipping the finest sphere in short mode")
			}
			ds, err := Build(borders, Options{Resolution: tt.resolution, Density: tt.density, Radius: 100, Workers: 2})
			if err != nil {
				t.Fatal(err)
			}
			if ds.NumRegular != tt.resolution {
				t.Errorf("expected %d regular vertices, got %d", tt.resolution, ds.NumRegular)
			}
			checkSphere(t, ds, 100)
		})
	}
}

func TestMoveKeepsTrianglesUnfolded(t *testing.T) {
	ds, err := Build(nil, Options{Resolution: 162, Radius: 1})
	if err != nil {
		t.Fatal(err)
	}
	tr := newTriangulation(append([]r3.Vec(nil), ds.Mesh.Vertices...), ds.Mesh.Triangles)

	// Moving a vertex past its neighbours folds its fan.
	far := r3.Scale(-1, tr.pos[0])
	if tr.move(0, far) {
		t.Fatalf("move across the sphere should be refused")
	}
	if tr.pos[0] != ds.Mesh.Vertices[0] {
		t.Errorf("refused move changed the vertex")
	}

	n := ds.Mesh.Neighbors(0)[0]
	near := r3.Unit(r3.Add(r3.Scale(0.95, tr.pos[0]), r3.Scale(0.05, tr.pos[n])))
	if !tr.move(0, near) {
		t.Fatalf("short move toward a neighbour should be accepted")
	}
	if tr.pos[0] != near {
		t.Errorf("accepted move did not update the vertex")
	}
}

func TestConstrainedEdgeSurvivesSplit(t *testing.T) {
	ds, err := Build(nil, Options{Resolution: 162, Radius: 1})
	if err != nil {
		t.Fatal(err)
	}
	m := ds.Mesh
	tr := newTriangulation(append([]r3.Vec(nil), m.Vertices...), m.Triangles)
	isLandmark := make([]bool, m.NumVertices())
	ins := &inserter{
		t:           tr,
		regular:     m,
		loc:         locator.New(m, 1),
		isLandmark:  &isLandmark,
		snap:        snapFraction * m.MeanEdgeLength(),
		same:        coincident,
		nReg:        m.NumVertices(),
		constrained: make(map[edgeKey]bool),
	}
	u := m.Triangles[0][0]
	v := m.Triangles[0][1]
	ins.constrained[keyOf(u, v)] = true

	mid := r3.Unit(r3.Add(m.Vertices[u], m.Vertices[v]))
	w, err := ins.insertHelper(mid)
	if err != nil {
		t.Fatal(err)
	}
	if w < m.NumVertices() || isLandmark[w] {
		t.Fatalf("expected a new non-landmark vertex, got %d", w)
	}
	if ins.constrained[keyOf(u, v)] {
		t.Errorf("split edge %d-%d is still constrained", u, v)
	}
	for _, e := range []edgeKey{keyOf(u, w), keyOf(w, v)} {
		if !ins.constrained[e] || !tr.hasEdge(e[0], e[1]) {
			t.Errorf("half %v of the split edge lost its constraint", e)
		}
	}
	for i, tri := range tr.tris {
		if !tr.dead[i] && !tr.ccw(tri) {
			t.Errorf("triangle %d %v folded", i, tri)
		}
	}
}
