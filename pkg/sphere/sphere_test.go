package sphere

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func TestVertexCounts(t *testing.T) {
	for k, want := range StandardResolutions {
		if got := VertexCount(k); got != want {
			t.Errorf("k=%d: expected %d vertices, got %d", k, want, got)
		}
	}
	tests := []struct{ requested, k int }{
		{1, 0}, {12, 0}, {13, 1}, {42, 1}, {2000, 4}, {2562, 4}, {2563, 5},
	}
	for _, tt := range tests {
		if got := SubdivisionsFor(tt.requested); got != tt.k {
			t.Errorf("SubdivisionsFor(%d) = %d, want %d", tt.requested, got, tt.k)
		}
	}
}

func TestNewSphere(t *testing.T) {
	for k := 0; k <= 4; k++ {
		m, err := New(VertexCount(k))
		if err != nil {
			t.Fatalf("k=%d: %v", k, err)
		}
		if m.NumVertices() != VertexCount(k) {
			t.Errorf("k=%d: expected %d vertices, got %d", k, VertexCount(k), m.NumVertices())
		}
		if m.NumTriangles() != TriangleCount(k) {
			t.Errorf("k=%d: expected %d triangles, got %d", k, TriangleCount(k), m.NumTriangles())
		}
		if d := m.MaxRadialDeviation(1); d > 1e-12 {
			t.Errorf("k=%d: vertices off the unit sphere by %g", k, d)
		}
		if n, _ := m.CountCrossovers(1); n != 0 {
			t.Errorf("k=%d: expected outward winding, found %d inward triangles", k, n)
		}
		if err := m.CheckSphereTopology(); err != nil {
			t.Errorf("k=%d: %v", k, err)
		}
	}
}

func TestNoDuplicateVertices(t *testing.T) {
	m, err := New(642)
	if err != nil {
		t.Fatal(err)
	}
	seen := make(map[[3]int64]int)
	for i, v := range m.Vertices {
		key := [3]int64{
			int64(math.Round(v.X * 1e9)),
			int64(math.Round(v.Y * 1e9)),
			int64(math.Round(v.Z * 1e9)),
		}
		if j, ok := seen[key]; ok {
			t.Fatalf("vertices %d and %d coincide at %v", j, i, v)
		}
		seen[key] = i
	}
}

func TestStandardTable(t *testing.T) {
	a, err := Standard(162)
	if err != nil {
		t.Fatal(err)
	}
	a.Vertices[0] = r3.Vec{X: 10}

	b, err := Standard(162)
	if err != nil {
		t.Fatal(err)
	}
	if b.Vertices[0] == a.Vertices[0] {
		t.Errorf("Standard must hand out independent positions")
	}
	if !a.SameTopology(b) {
		t.Errorf("Standard spheres of one resolution should share topology")
	}

	if _, err := Standard(100); err == nil {
		t.Errorf("expected an error for a non-standard resolution")
	}
	m, err := Regular(100)
	if err != nil {
		t.Fatal(err)
	}
	if m.NumVertices() != 162 {
		t.Errorf("Regular(100) should round up to 162 vertices, got %d", m.NumVertices())
	}
}
