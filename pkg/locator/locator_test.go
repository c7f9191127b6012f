package locator

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"surfreg/pkg/sphere"
)

func randomDirection(rng *rand.Rand) r3.Vec {
	for {
		v := r3.Vec{X: rng.NormFloat64(), Y: rng.NormFloat64(), Z: rng.NormFloat64()}
		if n := r3.Norm(v); n > 1e-6 {
			return r3.Scale(1/n, v)
		}
	}
}

func TestLocateMatchesNaive(t *testing.T) {
	host, err := sphere.Standard(642)
	if err != nil {
		t.Fatal(err)
	}
	host.ProjectToSphere(50)
	l := New(host, 2)
	if l.tree == nil {
		t.Fatal("expected an index for a crossover-free host")
	}

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		q := randomDirection(rng)
		got, err := l.Locate(q)
		if err != nil {
			t.Fatal(err)
		}
		want, err := l.LocateNaive(q)
		if err != nil {
			t.Fatal(err)
		}
		if got.Triangle != want.Triangle {
			t.Fatalf("query %v: indexed triangle %d, naive triangle %d", q, got.Triangle, want.Triangle)
		}

		sum := got.Weights[0] + got.Weights[1] + got.Weights[2]
		if math.Abs(sum-1) > 1e-12 {
			t.Errorf("weights %v sum to %f", got.Weights, sum)
		}
		for _, w := range got.Weights {
			if w < 0 {
				t.Errorf("negative weight in %v", got.Weights)
			}
		}

		// The interpolated host position must point back along q.
		p := Interpolate(host, host.Vertices, got)
		if d := r3.Norm(r3.Sub(r3.Unit(p), q)); d > 1e-9 {
			t.Errorf("query %v reconstructed as %v (off by %g)", q, r3.Unit(p), d)
		}
	}
}

func TestLocateVertex(t *testing.T) {
	host, err := sphere.Standard(162)
	if err != nil {
		t.Fatal(err)
	}
	l := New(host, 2)
	for v, p := range host.Vertices {
		loc, err := l.Locate(p)
		if err != nil {
			t.Fatal(err)
		}
		if got := loc.Vertex(host); got != v {
			t.Errorf("vertex %d located nearest to vertex %d (weights %v)", v, got, loc.Weights)
		}
		lowest := host.IncidentTriangles(v)[0]
		for _, ti := range host.IncidentTriangles(v) {
			if ti < lowest {
				lowest = ti
			}
		}
		if loc.Triangle != lowest {
			t.Errorf("vertex %d: expected lowest incident triangle %d, got %d", v, lowest, loc.Triangle)
		}
	}
}

func TestLocateEdgeTieBreak(t *testing.T) {
	host, err := sphere.Standard(162)
	if err != nil {
		t.Fatal(err)
	}
	l := New(host, 2)
	for _, e := range host.Edges()[:40] {
		q := r3.Unit(r3.Add(host.Vertices[e[0]], host.Vertices[e[1]]))
		want := -1
		for _, ti := range host.IncidentTriangles(e[0]) {
			tri := host.Triangles[ti]
			if tri[0] == e[1] || tri[1] == e[1] || tri[2] == e[1] {
				if want < 0 || ti < want {
					want = ti
				}
			}
		}
		loc, err := l.Locate(q)
		if err != nil {
			t.Fatal(err)
		}
		if loc.Triangle != want {
			t.Errorf("edge %v: expected triangle %d, got %d", e, want, loc.Triangle)
		}
	}
}

func TestLocateFoldedHostScans(t *testing.T) {
	host, err := sphere.Standard(162)
	if err != nil {
		t.Fatal(err)
	}
	host.Vertices[0] = r3.Scale(-0.2, host.Vertices[0])
	l := New(host, 2)
	if l.tree != nil {
		t.Fatal("folded host must not use the index")
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 100; i++ {
		q := randomDirection(rng)
		loc, err := l.Locate(q)
		if err != nil {
			t.Fatal(err)
		}
		for ti := 0; ti < loc.Triangle; ti++ {
			if l.contains(ti, q) {
				t.Fatalf("triangle %d also contains %v but %d was returned", ti, q, loc.Triangle)
			}
		}
	}
}

func TestLocateZeroQuery(t *testing.T) {
	host, err := sphere.Standard(42)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(host, 2).Locate(r3.Vec{}); !errors.Is(err, ErrZeroQuery) {
		t.Errorf("expected ErrZeroQuery, got %v", err)
	}
}

func TestBarycentricCorners(t *testing.T) {
	a, b, c := r3.Vec{X: 1}, r3.Vec{Y: 1}, r3.Vec{Z: 1}
	w := Barycentric(a, b, c, r3.Vec{X: 1, Y: 1, Z: 1})
	for k := range w {
		if math.Abs(w[k]-1.0/3) > 1e-12 {
			t.Errorf("centroid weights should be 1/3, got %v", w)
		}
	}
	w = Barycentric(a, b, c, r3.Vec{X: 2})
	if math.Abs(w[0]-1) > 1e-12 {
		t.Errorf("corner a should have weight 1, got %v", w)
	}
	// Outside points are clamped onto the triangle.
	w = Barycentric(a, b, c, r3.Vec{X: 1, Y: -0.1, Z: 0.5})
	if w[1] != 0 {
		t.Errorf("expected clamped weight for b, got %v", w)
	}
}

func TestLocateAllWorkers(t *testing.T) {
	host, err := sphere.Standard(642)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(3))
	queries := make([]r3.Vec, 300)
	for i := range queries {
		queries[i] = randomDirection(rng)
	}

	want, err := New(host, 1).LocateAll(queries, 1)
	if err != nil {
		t.Fatal(err)
	}
	for _, workers := range []int{0, 3, 16} {
		got, err := New(host, workers).LocateAll(queries, workers)
		if err != nil {
			t.Fatal(err)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("%d workers: query %d located at %+v, want %+v", workers, i, got[i], want[i])
			}
		}
	}
}
