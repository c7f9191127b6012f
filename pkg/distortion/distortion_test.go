package distortion

import (
	"errors"
	"testing"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"surfreg/pkg/mesh"
	"surfreg/pkg/sphere"
)

func TestComputeUniformScale(t *testing.T) {
	s, err := sphere.Standard(162)
	if err != nil {
		t.Fatal(err)
	}
	f := s.Clone()
	for i, v := range f.Vertices {
		f.Vertices[i] = r3.Scale(3, v)
	}

	d, err := Compute(f, s)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range d {
		if !scalar.EqualWithinAbsOrRel(v, 1, 1e-12, 1e-12) {
			t.Fatalf("triangle %d: expected distortion 1 for a scaled copy, got %f", i, v)
		}
	}
}

func TestComputeStretched(t *testing.T) {
	s, err := sphere.Standard(162)
	if err != nil {
		t.Fatal(err)
	}
	f := s.Clone()
	for i, v := range f.Vertices {
		if v.Z > 0 {
			f.Vertices[i] = r3.Vec{X: 2 * v.X, Y: 2 * v.Y, Z: v.Z}
		}
	}

	d, err := Compute(f, s)
	if err != nil {
		t.Fatal(err)
	}
	if mean := stat.Mean(d, nil); !scalar.EqualWithinAbsOrRel(mean, 1, 1e-12, 1e-12) {
		t.Errorf("expected mean 1, got %f", mean)
	}

	north, south := 0.0, 0.0
	for i := range d {
		c := s.Triangle(i).Centroid()
		if c.Z > 0.5 {
			north = d[i]
		}
		if c.Z < -0.5 {
			south = d[i]
		}
	}
	if north <= south {
		t.Errorf("stretched hemisphere should carry more weight: north %f, south %f", north, south)
	}
}

func TestComputeTopologyMismatch(t *testing.T) {
	a, _ := sphere.Standard(42)
	b, _ := sphere.Standard(162)
	if _, err := Compute(a, b); err == nil {
		t.Errorf("expected an error for meshes of different topology")
	}

	flat := b.Clone()
	tri := flat.Triangles[0]
	flat.Vertices[tri[1]] = flat.Vertices[tri[0]]
	if _, err := Compute(b, flat); !errors.Is(err, mesh.ErrDegenerateMesh) {
		t.Errorf("expected ErrDegenerateMesh, got %v", err)
	}
}

func TestOnMeshSameTriangulation(t *testing.T) {
	s, _ := sphere.Standard(162)
	d := make([]float64, s.NumTriangles())
	for i := range d {
		d[i] = float64(i%5 + 1)
	}
	want := append([]float64(nil), d...)
	floats.Scale(1/stat.Mean(want, nil), want)

	got, err := OnMesh(s, d, s, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !floats.EqualApprox(got, want, 1e-12) {
		t.Errorf("transfer onto the same triangulation should be the identity")
	}

	w := VertexWeights(s, got)
	if len(w) != s.NumVertices() {
		t.Fatalf("expected %d vertex weights, got %d", s.NumVertices(), len(w))
	}
	if VertexWeights(s, nil) != nil {
		t.Errorf("nil distortion should give nil weights")
	}
}
