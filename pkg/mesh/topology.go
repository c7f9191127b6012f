package mesh

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
)

// BuildNeighbors returns the vertex adjacency of a triangle list in CSR form:
// the neighbours of v are index[offsets[v]:offsets[v+1]], sorted ascending.
// Every triangle (a,b,c) contributes the pairs (a,b), (b,c) and (c,a) to both
// endpoints, so the relation is symmetric.
func BuildNeighbors(numVertices int, triangles [][3]int) (offsets, index []int) {
	sets := make([]map[int]struct{}, numVertices)
	add := func(a, b int) {
		if sets[a] == nil {
			sets[a] = make(map[int]struct{}, 6)
		}
		sets[a][b] = struct{}{}
	}
	for _, t := range triangles {
		for k := 0; k < 3; k++ {
			a, b := t[k], t[(k+1)%3]
			add(a, b)
			add(b, a)
		}
	}

	offsets = make([]int, numVertices+1)
	for v, s := range sets {
		offsets[v+1] = offsets[v] + len(s)
	}
	index = make([]int, offsets[numVertices])
	for v, s := range sets {
		row := index[offsets[v]:offsets[v]:offsets[v+1]]
		for n := range s {
			row = append(row, n)
		}
		sort.Ints(row)
	}
	return offsets, index
}

func buildTopology(numVertices int, triangles [][3]int) *topology {
	topo := &topology{}
	topo.nbrOffsets, topo.nbrIndex = BuildNeighbors(numVertices, triangles)

	topo.triOffsets = make([]int, numVertices+1)
	for _, t := range triangles {
		for _, v := range t {
			topo.triOffsets[v+1]++
		}
	}
	for v := 0; v < numVertices; v++ {
		topo.triOffsets[v+1] += topo.triOffsets[v]
	}
	topo.triIndex = make([]int, len(triangles)*3)
	next := append([]int(nil), topo.triOffsets[:numVertices]...)
	for i, t := range triangles {
		for _, v := range t {
			topo.triIndex[next[v]] = i
			next[v]++
		}
	}
	return topo
}

// Edges returns every undirected edge once as (low, high), sorted.
func (m *Mesh) Edges() [][2]int {
	var edges [][2]int
	for v := range m.Vertices {
		for _, n := range m.Neighbors(v) {
			if n > v {
				edges = append(edges, [2]int{v, n})
			}
		}
	}
	return edges
}

// CheckManifold verifies that the mesh is a closed, consistently oriented
// 2-manifold: every directed edge occurs exactly once and its reverse occurs
// exactly once, and every vertex belongs to at least one triangle.
func (m *Mesh) CheckManifold() error {
	directed := make(map[[2]int]int, len(m.Triangles)*3)
	for i, t := range m.Triangles {
		for k := 0; k < 3; k++ {
			e := [2]int{t[k], t[(k+1)%3]}
			if prev, ok := directed[e]; ok {
				return fmt.Errorf("edge %d-%d used by triangles %d and %d with the same direction: %w",
					e[0], e[1], prev, i, ErrNonManifoldMesh)
			}
			directed[e] = i
		}
	}
	for e, i := range directed {
		if _, ok := directed[[2]int{e[1], e[0]}]; !ok {
			return fmt.Errorf("edge %d-%d of triangle %d is on a boundary: %w", e[0], e[1], i, ErrNonManifoldMesh)
		}
	}
	for v := range m.Vertices {
		if len(m.IncidentTriangles(v)) == 0 {
			return fmt.Errorf("vertex %d is not used by any triangle: %w", v, ErrNonManifoldMesh)
		}
	}
	return nil
}

// CheckSphereTopology verifies that the mesh is a closed manifold with Euler
// characteristic 2, that is, a triangulated topological sphere.
func (m *Mesh) CheckSphereTopology() error {
	if err := m.CheckManifold(); err != nil {
		return err
	}
	v, f := len(m.Vertices), len(m.Triangles)
	e := 3 * f / 2
	if chi := v - e + f; chi != 2 {
		return fmt.Errorf("euler characteristic %d, want 2: %w", chi, ErrNonManifoldMesh)
	}
	return nil
}

// TopologyHash returns a hex SHA-256 digest of the vertex count and the
// triangle list. Two meshes with equal hashes can exchange per-vertex data.
func (m *Mesh) TopologyHash() string {
	h := sha256.New()
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(len(m.Vertices)))
	h.Write(buf[:])
	for _, t := range m.Triangles {
		for _, v := range t {
			binary.LittleEndian.PutUint32(buf[:], uint32(v))
			h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}
