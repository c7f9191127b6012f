package defmap

import (
	"bytes"
	"errors"
	"math"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"

	"surfreg/pkg/mesh"
	"surfreg/pkg/sphere"
)

func standard(t *testing.T, n int) *mesh.Mesh {
	t.Helper()
	m, err := sphere.Standard(n)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func TestBuildIdentity(t *testing.T) {
	s := standard(t, 642)
	m, err := Build(s, s, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(m.Entries) != s.NumVertices() {
		t.Fatalf("expected %d entries, got %d", s.NumVertices(), len(m.Entries))
	}
	for i, e := range m.Entries {
		sum := e.Weights[0] + e.Weights[1] + e.Weights[2]
		if math.Abs(sum-1) > 1e-6 {
			t.Errorf("entry %d: weights sum to %f", i, sum)
		}
		if v := m.Vertex(i); v != i {
			t.Errorf("entry %d dominated by vertex %d", i, v)
		}
		tri := m.Triangles[e.Triangle]
		for k := range tri {
			if tri[k] == i && e.Weights[k] < 1-1e-9 {
				t.Errorf("entry %d: own weight %f", i, e.Weights[k])
			}
		}
	}
	if err := m.Verify(s, s); err != nil {
		t.Errorf("Verify failed on the build meshes: %v", err)
	}
}

func TestTransportConstants(t *testing.T) {
	from := standard(t, 2562)
	onto := standard(t, 642)
	rot := r3.NewRotation(0.3, r3.Vec{X: 1, Y: 2, Z: 3})
	for i, p := range onto.Vertices {
		onto.Vertices[i] = rot.Rotate(p)
	}

	m, err := Build(from, onto, 0)
	if err != nil {
		t.Fatal(err)
	}
	in := make([]float64, from.NumVertices())
	for i := range in {
		in[i] = 7
	}
	out, err := m.TransportScalars(in)
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range out {
		if math.Abs(v-7) > 1e-6 {
			t.Fatalf("vertex %d: constant 7 transported as %f", i, v)
		}
	}

	coords, err := m.TransportCoordinates(from.Vertices)
	if err != nil {
		t.Fatal(err)
	}
	for i, c := range coords {
		if r3.Norm(c) > 1+1e-12 {
			t.Errorf("vertex %d: interpolated coordinate outside the sphere", i)
		}
		if d := r3.Norm(r3.Sub(r3.Unit(c), onto.Vertices[i])); d > 1e-9 {
			t.Errorf("vertex %d: coordinate points %g away from the vertex", i, d)
		}
	}

	if _, err := m.TransportScalars(in[:10]); !errors.Is(err, ErrMismatch) {
		t.Errorf("expected ErrMismatch for a short input, got %v", err)
	}
}

func TestInverseConsistency(t *testing.T) {
	a := standard(t, 2562)
	b := standard(t, 642)
	rot := r3.NewRotation(0.2, r3.Vec{X: -1, Y: 0.5, Z: 2})
	for i, p := range b.Vertices {
		b.Vertices[i] = rot.Rotate(p)
	}

	forward, err := Build(a, b, 0)
	if err != nil {
		t.Fatal(err)
	}
	inverse, err := Build(b, a, 0)
	if err != nil {
		t.Fatal(err)
	}

	field := make([]float64, a.NumVertices())
	for i, p := range a.Vertices {
		field[i] = p.Z + 0.5*p.X
	}
	onB, err := forward.TransportScalars(field)
	if err != nil {
		t.Fatal(err)
	}
	back, err := inverse.TransportScalars(onB)
	if err != nil {
		t.Fatal(err)
	}

	h := b.MeanEdgeLength()
	for i := range field {
		if d := math.Abs(back[i] - field[i]); d > h*h {
			t.Errorf("vertex %d: round trip error %g exceeds h^2 = %g", i, d, h*h)
		}
	}
}

func TestTransportLabelsTieBreak(t *testing.T) {
	m := &Map{
		Header:    Header{FromVertices: 10, OntoVertices: 3},
		Triangles: [][3]int{{5, 2, 9}},
		Entries: []Entry{
			{Triangle: 0, Weights: [3]float64{0.5, 0.5, 0}},
			{Triangle: 0, Weights: [3]float64{0.2, 0.3, 0.5}},
			{Triangle: 0, Weights: [3]float64{1.0 / 3, 1.0 / 3, 1.0 / 3}},
		},
	}
	labels := make([]int32, 10)
	for i := range labels {
		labels[i] = int32(100 + i)
	}
	out, err := m.TransportLabels(labels)
	if err != nil {
		t.Fatal(err)
	}
	want := []int32{102, 109, 102}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("entry %d: expected label %d, got %d", i, want[i], out[i])
		}
	}
}

func TestSaveLoad(t *testing.T) {
	from := standard(t, 162)
	onto := standard(t, 42)
	m, err := Build(from, onto, 1)
	if err != nil {
		t.Fatal(err)
	}
	m.Header.ScheduleDigest = from.TopologyHash()

	path := filepath.Join(t.TempDir(), "maps", "forward.map")
	if err := m.Save(path); err != nil {
		t.Fatal(err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if got.Header != m.Header {
		t.Errorf("header mismatch: got %+v, want %+v", got.Header, m.Header)
	}
	for i := range m.Entries {
		if got.Entries[i] != m.Entries[i] {
			t.Fatalf("entry %d: got %+v, want %+v", i, got.Entries[i], m.Entries[i])
		}
	}
	if err := got.Verify(from, onto); err != nil {
		t.Errorf("reloaded map should verify: %v", err)
	}
	if err := got.Verify(onto, from); !errors.Is(err, ErrMismatch) {
		t.Errorf("expected ErrMismatch when meshes are swapped, got %v", err)
	}
}

func TestWriteRejectsUnencodableMaps(t *testing.T) {
	if _, err := toUint32("vertex count", int64(math.MaxUint32)+1); err == nil {
		t.Errorf("count above MaxUint32 should be rejected")
	}
	if _, err := toUint32("vertex count", -1); err == nil {
		t.Errorf("negative count should be rejected")
	}
	if n, err := toUint32("vertex count", math.MaxUint32); err != nil || n != math.MaxUint32 {
		t.Errorf("MaxUint32 should fit, got %d, %v", n, err)
	}

	from := standard(t, 42)
	onto := standard(t, 12)
	good, err := Build(from, onto, 1)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name   string
		modify func(*Map)
	}{
		{"negative vertex count", func(m *Map) { m.Header.FromVertices = -1 }},
		{"vertex out of range", func(m *Map) { m.Triangles[3] = [3]int{0, 1, m.Header.FromVertices} }},
		{"triangle out of range", func(m *Map) { m.Entries[2].Triangle = len(m.Triangles) }},
		{"entry count", func(m *Map) { m.Entries = m.Entries[1:] }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &Map{
				Header:    good.Header,
				Entries:   append([]Entry(nil), good.Entries...),
				Triangles: append([][3]int(nil), good.Triangles...),
			}
			tt.modify(m)
			var buf bytes.Buffer
			if _, err := m.WriteTo(&buf); err == nil {
				t.Errorf("expected an error")
			}
			if buf.Len() != 0 {
				t.Errorf("%d bytes written before the error", buf.Len())
			}
		})
	}
}
