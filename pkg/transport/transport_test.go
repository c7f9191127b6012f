package transport

import (
	"errors"
	"math"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"surfreg/pkg/border"
	"surfreg/pkg/defmap"
	"surfreg/pkg/mesh"
	"surfreg/pkg/sphere"
)

// rotated returns a unit sphere and a copy rotated about a fixed axis, with
// the map from the rotated copy onto a coarser target sphere.
func rotated(t *testing.T, angle float64) (source, deformed *mesh.Mesh, rot r3.Rotation, fwd *defmap.Map) {
	t.Helper()
	source, err := sphere.Standard(642)
	if err != nil {
		t.Fatal(err)
	}
	rot = r3.NewRotation(angle, r3.Vec{X: 0.2, Y: -0.5, Z: 1})
	pos := make([]r3.Vec, source.NumVertices())
	for i, p := range source.Vertices {
		pos[i] = rot.Rotate(p)
	}
	deformed = source.WithPositions(pos)

	target, err := sphere.Standard(162)
	if err != nil {
		t.Fatal(err)
	}
	if fwd, err = defmap.Build(deformed, target, 2); err != nil {
		t.Fatal(err)
	}
	return source, deformed, rot, fwd
}

func TestPoints(t *testing.T) {
	source, deformed, rot, fwd := rotated(t, 0.4)
	tr, err := New(fwd, source, deformed, 2)
	if err != nil {
		t.Fatal(err)
	}

	t.Run("vertices", func(t *testing.T) {
		out, err := tr.Points(source.Vertices[:50])
		if err != nil {
			t.Fatal(err)
		}
		for i, p := range out {
			if d := r3.Norm(r3.Sub(p, deformed.Vertices[i])); d > 1e-9 {
				t.Errorf("vertex %d moved to %v, want %v", i, p, deformed.Vertices[i])
			}
		}
	})

	t.Run("interior points", func(t *testing.T) {
		in := []r3.Vec{
			r3.Unit(r3.Vec{X: 0.31, Y: 0.72, Z: -0.2}),
			r3.Unit(r3.Vec{X: -0.9, Y: 0.05, Z: 0.41}),
			r3.Unit(r3.Vec{X: 0.1, Y: -0.3, Z: -0.95}),
		}
		out, err := tr.Points(in)
		if err != nil {
			t.Fatal(err)
		}
		for i, p := range out {
			want := rot.Rotate(in[i])
			if d := r3.Norm(r3.Sub(p, want)); d > 1e-9 {
				t.Errorf("point %d: got %v, want %v", i, p, want)
			}
			if math.Abs(r3.Norm(p)-1) > 1e-9 {
				t.Errorf("point %d left the sphere: radius %f", i, r3.Norm(p))
			}
		}
	})
}

func TestBorders(t *testing.T) {
	source, deformed, rot, fwd := rotated(t, -0.7)
	tr, err := New(fwd, source, deformed, 2)
	if err != nil {
		t.Fatal(err)
	}

	in := []border.Border{
		{Name: "central", Points: []r3.Vec{
			r3.Unit(r3.Vec{X: 1, Y: 0.1, Z: 0.1}),
			r3.Unit(r3.Vec{X: 1, Y: 0.3, Z: 0.2}),
			r3.Unit(r3.Vec{X: 1, Y: 0.5, Z: 0.3}),
		}},
		{Name: "loop", Closed: true, Density: 0.1, Points: []r3.Vec{
			r3.Unit(r3.Vec{X: 0.1, Y: 0.1, Z: 1}),
			r3.Unit(r3.Vec{X: -0.1, Y: 0.1, Z: 1}),
			r3.Unit(r3.Vec{X: 0, Y: -0.1, Z: 1}),
		}},
	}
	out, err := tr.Borders(in)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d borders, got %d", len(in), len(out))
	}
	for i, b := range out {
		if b.Name != in[i].Name || b.Closed != in[i].Closed || b.Density != in[i].Density {
			t.Errorf("border %d: attributes changed from %+v to %+v", i, in[i], b)
		}
		for k, p := range b.Points {
			if d := r3.Norm(r3.Sub(p, rot.Rotate(in[i].Points[k]))); d > 1e-9 {
				t.Errorf("border %q point %d off by %g", b.Name, k, d)
			}
		}
	}
	if in[0].Points[0] != r3.Unit(r3.Vec{X: 1, Y: 0.1, Z: 0.1}) {
		t.Errorf("input border was modified")
	}
}

func TestPerVertexData(t *testing.T) {
	source, deformed, _, fwd := rotated(t, 0.2)
	tr, err := New(fwd, source, deformed, 2)
	if err != nil {
		t.Fatal(err)
	}

	scalars := make([]float64, source.NumVertices())
	labels := make([]int32, source.NumVertices())
	for i := range scalars {
		scalars[i] = 3
		labels[i] = 5
	}
	s, err := tr.Scalars(scalars)
	if err != nil {
		t.Fatal(err)
	}
	l, err := tr.Labels(labels)
	if err != nil {
		t.Fatal(err)
	}
	for i := range s {
		if math.Abs(s[i]-3) > 1e-9 || l[i] != 5 {
			t.Fatalf("target vertex %d: scalar %f label %d", i, s[i], l[i])
		}
	}

	if _, err := tr.Coordinates(source.Vertices[:10]); !errors.Is(err, defmap.ErrMismatch) {
		t.Errorf("short coordinate array should fail with ErrMismatch, got %v", err)
	}
}

func TestNewMismatch(t *testing.T) {
	source, deformed, _, fwd := rotated(t, 0.1)
	other, err := sphere.Standard(162)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := New(fwd, source, other, 2); !errors.Is(err, defmap.ErrMismatch) {
		t.Errorf("deformed sphere with another topology: expected ErrMismatch, got %v", err)
	}
	if _, err := New(fwd, other, deformed, 2); !errors.Is(err, defmap.ErrMismatch) {
		t.Errorf("source sphere with another topology: expected ErrMismatch, got %v", err)
	}

	fwd.Header.FromVertices++
	if _, err := New(fwd, source, deformed, 2); !errors.Is(err, defmap.ErrMismatch) {
		t.Errorf("map over another vertex count: expected ErrMismatch, got %v", err)
	}
}
