// Package mesh provides the triangulated surface used throughout the
// registration: vertex positions, a triangle list and the derived
// vertex adjacency, together with the validation and crossover checks the
// driver relies on.
package mesh

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"
)

var (
	// ErrDegenerateMesh reports a zero-area or ill-formed triangle.
	ErrDegenerateMesh = errors.New("degenerate mesh")

	// ErrNonManifoldMesh reports a topology that is not a closed 2-manifold.
	ErrNonManifoldMesh = errors.New("non-manifold mesh")
)

// Mesh is a triangulated surface stored as flat index arrays.
//
// Vertices may be moved freely; the triangle list and the adjacency derived
// from it are fixed at construction and shared between clones.
type Mesh struct {
	// Vertices holds one position per vertex.
	Vertices []r3.Vec

	// Triangles holds vertex index triples wound so the normal points
	// outward.
	Triangles [][3]int

	topo *topology
}

// topology is the immutable adjacency of a mesh in CSR form.
type topology struct {
	nbrOffsets []int
	nbrIndex   []int
	triOffsets []int
	triIndex   []int
}

// New creates a mesh from positions and triangles. Triangle indices are
// checked against the vertex count and for repeated corners; the adjacency
// is built eagerly. Neither slice is copied.
func New(vertices []r3.Vec, triangles [][3]int) (*Mesh, error) {
	n := len(vertices)
	for i, t := range triangles {
		for _, v := range t {
			if v < 0 || v >= n {
				return nil, fmt.Errorf("triangle %d references vertex %d of %d: %w", i, v, n, ErrDegenerateMesh)
			}
		}
		if t[0] == t[1] || t[1] == t[2] || t[2] == t[0] {
			return nil, fmt.Errorf("triangle %d repeats a vertex %v: %w", i, t, ErrDegenerateMesh)
		}
	}

	m := &Mesh{Vertices: vertices, Triangles: triangles}
	m.topo = buildTopology(n, triangles)
	return m, nil
}

// MustNew is like New but panics on error. It is meant for meshes built by
// this module whose indices are known to be valid.
func MustNew(vertices []r3.Vec, triangles [][3]int) *Mesh {
	m, err := New(vertices, triangles)
	if err != nil {
		panic(err)
	}
	return m
}

// NumVertices returns the number of vertices.
func (m *Mesh) NumVertices() int { return len(m.Vertices) }

// NumTriangles returns the number of triangles.
func (m *Mesh) NumTriangles() int { return len(m.Triangles) }

// Neighbors returns the vertices sharing an edge with v. The returned slice
// is shared and must not be modified.
func (m *Mesh) Neighbors(v int) []int {
	return m.topo.nbrIndex[m.topo.nbrOffsets[v]:m.topo.nbrOffsets[v+1]]
}

// IncidentTriangles returns the triangles that use vertex v. The returned
// slice is shared and must not be modified.
func (m *Mesh) IncidentTriangles(v int) []int {
	return m.topo.triIndex[m.topo.triOffsets[v]:m.topo.triOffsets[v+1]]
}

// Triangle returns the positions of triangle i.
func (m *Mesh) Triangle(i int) r3.Triangle {
	t := m.Triangles[i]
	return r3.Triangle{m.Vertices[t[0]], m.Vertices[t[1]], m.Vertices[t[2]]}
}

// Clone returns a mesh with a private copy of the vertex positions and the
// same (shared, immutable) topology.
func (m *Mesh) Clone() *Mesh {
	return m.WithPositions(append([]r3.Vec(nil), m.Vertices...))
}

// WithPositions returns a mesh sharing m's topology with the given positions.
// It panics if the number of positions differs from the vertex count.
func (m *Mesh) WithPositions(positions []r3.Vec) *Mesh {
	if len(positions) != len(m.Vertices) {
		panic(fmt.Sprintf("mesh: %d positions for %d vertices", len(positions), len(m.Vertices)))
	}
	return &Mesh{Vertices: positions, Triangles: m.Triangles, topo: m.topo}
}

// SameTopology reports whether o has exactly the triangle list of m.
func (m *Mesh) SameTopology(o *Mesh) bool {
	if m.topo == o.topo {
		return true
	}
	if len(m.Vertices) != len(o.Vertices) || len(m.Triangles) != len(o.Triangles) {
		return false
	}
	for i, t := range m.Triangles {
		if o.Triangles[i] != t {
			return false
		}
	}
	return true
}
