// Package defmap holds deformation maps: for every vertex of one sphere, the
// triangle of another sphere that contains it and the barycentric weights
// inside that triangle. A map moves per-vertex data from the sphere it was
// located on to the sphere whose vertices it indexes.
package defmap

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"surfreg/pkg/locator"
	"surfreg/pkg/mesh"
)

// ErrMismatch reports data or meshes that do not belong to a map.
var ErrMismatch = errors.New("deformation map mismatch")

// Entry locates one vertex inside a triangle of the mesh data comes from.
type Entry struct {
	// Triangle indexes Map.Triangles.
	Triangle int

	// Weights are the barycentric weights of the triangle's corners, in
	// the triangle's corner order. They sum to one.
	Weights [3]float64
}

// Header identifies the meshes a map was built for.
type Header struct {
	// FromTopology and OntoTopology are the TopologyHash of the mesh data
	// is read from and of the mesh it is written onto.
	FromTopology string
	OntoTopology string

	// FromVertices and OntoVertices are the vertex counts of the two
	// meshes.
	FromVertices int
	OntoVertices int

	// ScheduleDigest identifies the registration schedule that produced
	// the deformed sphere, when known.
	ScheduleDigest string
}

// Map is a deformation map. Entries has one element per vertex of the mesh
// mapped onto; Triangles is the triangle list of the mesh mapped from.
type Map struct {
	Header    Header
	Entries   []Entry
	Triangles [][3]int
}

// Build locates every vertex of onto on from. Both meshes should be spheres
// about the origin; only vertex directions matter.
//
// Parameters:
//   - from: sphere whose triangles the entries refer to
//   - onto: sphere whose vertices get an entry each
//   - workers: goroutines for the location pass, 0 for one per CPU
//
// Returns:
//   - the map, whose header records both topologies
//   - an error if a vertex of onto falls in no triangle of from
func Build(from, onto *mesh.Mesh, workers int) (*Map, error) {
	locs, err := locator.New(from, workers).LocateAll(onto.Vertices, workers)
	if err != nil {
		return nil, fmt.Errorf("error locating vertices: %w", err)
	}
	m := &Map{
		Header: Header{
			FromTopology: from.TopologyHash(),
			OntoTopology: onto.TopologyHash(),
			FromVertices: from.NumVertices(),
			OntoVertices: onto.NumVertices(),
		},
		Entries:   make([]Entry, len(locs)),
		Triangles: append([][3]int(nil), from.Triangles...),
	}
	for i, loc := range locs {
		m.Entries[i] = Entry{Triangle: loc.Triangle, Weights: loc.Weights}
	}
	return m, nil
}

// Verify checks that from and onto are the meshes the map was built for.
func (m *Map) Verify(from, onto *mesh.Mesh) error {
	h := m.Header
	if from.NumVertices() != h.FromVertices || from.TopologyHash() != h.FromTopology {
		return fmt.Errorf("mesh mapped from has %d vertices and topology %.12s, map expects %d and %.12s: %w",
			from.NumVertices(), from.TopologyHash(), h.FromVertices, h.FromTopology, ErrMismatch)
	}
	if onto.NumVertices() != h.OntoVertices || onto.TopologyHash() != h.OntoTopology {
		return fmt.Errorf("mesh mapped onto has %d vertices and topology %.12s, map expects %d and %.12s: %w",
			onto.NumVertices(), onto.TopologyHash(), h.OntoVertices, h.OntoTopology, ErrMismatch)
	}
	return nil
}

func (m *Map) checkInput(n int) error {
	if n != m.Header.FromVertices {
		return fmt.Errorf("%d values for a map from %d vertices: %w", n, m.Header.FromVertices, ErrMismatch)
	}
	return nil
}

// TransportScalars maps one value per source vertex to one value per
// destination vertex: out[t] = Σ w_k · in[tri[k]].
func (m *Map) TransportScalars(in []float64) ([]float64, error) {
	if err := m.checkInput(len(in)); err != nil {
		return nil, err
	}
	out := make([]float64, len(m.Entries))
	for i, e := range m.Entries {
		tri := m.Triangles[e.Triangle]
		out[i] = e.Weights[0]*in[tri[0]] + e.Weights[1]*in[tri[1]] + e.Weights[2]*in[tri[2]]
	}
	return out, nil
}

// TransportCoordinates maps positions componentwise. The results are not
// projected onto any sphere.
func (m *Map) TransportCoordinates(in []r3.Vec) ([]r3.Vec, error) {
	if err := m.checkInput(len(in)); err != nil {
		return nil, err
	}
	out := make([]r3.Vec, len(m.Entries))
	for i, e := range m.Entries {
		tri := m.Triangles[e.Triangle]
		p := r3.Scale(e.Weights[0], in[tri[0]])
		p = r3.Add(p, r3.Scale(e.Weights[1], in[tri[1]]))
		out[i] = r3.Add(p, r3.Scale(e.Weights[2], in[tri[2]]))
	}
	return out, nil
}

// TransportLabels gives each destination vertex the label of the corner with
// the largest weight, ties going to the lowest vertex index.
func (m *Map) TransportLabels(in []int32) ([]int32, error) {
	if err := m.checkInput(len(in)); err != nil {
		return nil, err
	}
	out := make([]int32, len(m.Entries))
	for i := range m.Entries {
		out[i] = in[m.Vertex(i)]
	}
	return out, nil
}

// Vertex returns the source vertex that dominates entry i.
func (m *Map) Vertex(i int) int {
	e := m.Entries[i]
	tri := m.Triangles[e.Triangle]
	best := 0
	for k := 1; k < 3; k++ {
		if e.Weights[k] > e.Weights[best] || (e.Weights[k] == e.Weights[best] && tri[k] < tri[best]) {
			best = k
		}
	}
	return tri[best]
}
