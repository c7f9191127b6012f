// Package sphere generates regular unit-radius triangulated spheres by
// recursive subdivision of an icosahedron.
package sphere

import (
	"fmt"
	"sync"

	"gonum.org/v1/gonum/spatial/r3"

	"surfreg/pkg/mesh"
)

// StandardResolutions lists the vertex counts of the prebuilt spheres,
// 10·4^k+2 for k = 0..7.
var StandardResolutions = []int{12, 42, 162, 642, 2562, 10242, 40962, 163842}

// maxSubdivisions bounds New so a typo in a configuration cannot exhaust
// memory.
const maxSubdivisions = 9

// VertexCount returns the number of vertices after k subdivisions.
func VertexCount(k int) int { return 10*(1<<(2*k)) + 2 }

// TriangleCount returns the number of triangles after k subdivisions.
func TriangleCount(k int) int { return 20 * (1 << (2 * k)) }

// SubdivisionsFor returns the smallest k whose vertex count is at least
// minVertices.
func SubdivisionsFor(minVertices int) int {
	k := 0
	for VertexCount(k) < minVertices {
		k++
	}
	return k
}

// Icosahedron returns the 12-vertex, 20-triangle unit icosahedron wound
// outward.
func Icosahedron() *mesh.Mesh {
	const (
		x = 0.525731112119133606
		z = 0.850650808352039932
	)
	vertices := []r3.Vec{
		{X: -x, Z: z}, {X: x, Z: z}, {X: -x, Z: -z}, {X: x, Z: -z},
		{Y: z, Z: x}, {Y: z, Z: -x}, {Y: -z, Z: x}, {Y: -z, Z: -x},
		{X: z, Y: x}, {X: -z, Y: x}, {X: z, Y: -x}, {X: -z, Y: -x},
	}
	triangles := [][3]int{
		{0, 1, 4}, {0, 4, 9}, {9, 4, 5}, {4, 8, 5},
		{4, 1, 8}, {8, 1, 10}, {8, 10, 3}, {5, 8, 3},
		{5, 3, 2}, {2, 3, 7}, {7, 3, 10}, {7, 10, 6},
		{7, 6, 11}, {11, 6, 0}, {0, 6, 1}, {6, 10, 1},
		{9, 11, 0}, {9, 2, 11}, {9, 5, 2}, {7, 11, 2},
	}
	orientOutward(vertices, triangles)
	return mesh.MustNew(vertices, triangles)
}

// edgeKey identifies an edge by its vertex pair, lower index first.
type edgeKey [2]int

func keyOf(a, b int) edgeKey {
	if a > b {
		a, b = b, a
	}
	return edgeKey{a, b}
}

// Subdivide splits every triangle of a unit sphere into four by inserting
// the midpoints of its edges, projected back onto the unit sphere. Each
// edge midpoint is created once.
func Subdivide(m *mesh.Mesh) *mesh.Mesh {
	vertices := append([]r3.Vec(nil), m.Vertices...)
	triangles := make([][3]int, 0, 4*len(m.Triangles))
	lookup := make(map[edgeKey]int, 3*len(m.Triangles)/2)

	midpoint := func(a, b int) int {
		key := keyOf(a, b)
		if idx, ok := lookup[key]; ok {
			return idx
		}
		vertices = append(vertices, r3.Unit(r3.Add(vertices[a], vertices[b])))
		lookup[key] = len(vertices) - 1
		return len(vertices) - 1
	}

	for _, t := range m.Triangles {
		var mid [3]int
		for e := 0; e < 3; e++ {
			mid[e] = midpoint(t[e], t[(e+1)%3])
		}
		triangles = append(triangles,
			[3]int{t[0], mid[0], mid[2]},
			[3]int{t[1], mid[1], mid[0]},
			[3]int{t[2], mid[2], mid[1]},
			[3]int{mid[0], mid[1], mid[2]},
		)
	}
	return mesh.MustNew(vertices, triangles)
}

// New returns a regular unit sphere with at least minVertices vertices,
// computed by subdividing the icosahedron the smallest sufficient number of
// times.
func New(minVertices int) (*mesh.Mesh, error) {
	k := SubdivisionsFor(minVertices)
	if k > maxSubdivisions {
		return nil, fmt.Errorf("sphere with %d vertices needs %d subdivisions, limit is %d",
			minVertices, k, maxSubdivisions)
	}
	m := Icosahedron()
	for i := 0; i < k; i++ {
		m = Subdivide(m)
	}
	return m, nil
}

var (
	standardMu    sync.Mutex
	standardTable = make(map[int]*mesh.Mesh)
)

// Standard returns the prebuilt sphere with exactly the given vertex count,
// which must be one of StandardResolutions. The tessellation is built once
// per process; callers receive a clone whose positions they may modify.
func Standard(vertices int) (*mesh.Mesh, error) {
	known := false
	for _, n := range StandardResolutions {
		if n == vertices {
			known = true
			break
		}
	}
	if !known {
		return nil, fmt.Errorf("no standard sphere with %d vertices", vertices)
	}

	standardMu.Lock()
	defer standardMu.Unlock()
	m, ok := standardTable[vertices]
	if !ok {
		var err error
		m, err = New(vertices)
		if err != nil {
			return nil, err
		}
		standardTable[vertices] = m
	}
	return m.Clone(), nil
}

// Regular returns a unit sphere for the requested resolution, using the
// prebuilt table when the count is a standard resolution and subdivision
// otherwise.
func Regular(vertices int) (*mesh.Mesh, error) {
	if m, err := Standard(vertices); err == nil {
		return m, nil
	}
	return New(vertices)
}

// orientOutward flips any triangle whose winding normal points toward the
// origin.
func orientOutward(vertices []r3.Vec, triangles [][3]int) {
	for i, t := range triangles {
		if mesh.IsCrossover(vertices[t[0]], vertices[t[1]], vertices[t[2]]) {
			triangles[i][1], triangles[i][2] = t[2], t[1]
		}
	}
}
