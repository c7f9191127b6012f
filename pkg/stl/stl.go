// Package stl writes triangulated surfaces as binary STL files, for
// inspecting registered spheres and surfaces in external mesh viewers.
package stl

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"

	"surfreg/pkg/mesh"
)

// Triangle is one STL facet.
type Triangle struct {
	Normal  [3]float32
	Vertex1 [3]float32
	Vertex2 [3]float32
	Vertex3 [3]float32
}

func vec32(v r3.Vec) [3]float32 {
	return [3]float32{float32(v.X), float32(v.Y), float32(v.Z)}
}

// FromMesh converts every triangle of m to a facet. Degenerate triangles get
// a zero normal, which viewers recompute.
func FromMesh(m *mesh.Mesh) []Triangle {
	out := make([]Triangle, m.NumTriangles())
	for i := range out {
		tri := m.Triangle(i)
		n, err := m.TriangleNormal(i)
		if err != nil {
			n = r3.Vec{}
		}
		out[i] = Triangle{
			Normal:  vec32(n),
			Vertex1: vec32(tri[0]),
			Vertex2: vec32(tri[1]),
			Vertex3: vec32(tri[2]),
		}
	}
	return out
}

// SaveToSTL writes triangles to filename in binary STL format: an 80-byte
// header, a triangle count, then 50 bytes per triangle.
func SaveToSTL(filename string, triangles []Triangle) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return fmt.Errorf("error creating output directory: %w", err)
	}
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("error creating STL file: %w", err)
	}
	defer file.Close()

	w := bufio.NewWriter(file)
	var header [80]byte
	copy(header[:], "surfreg binary STL")
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("error writing STL header: %w", err)
	}
	if err := binary.Write(w, binary.LittleEndian, uint32(len(triangles))); err != nil {
		return fmt.Errorf("error writing triangle count: %w", err)
	}
	for i, t := range triangles {
		facet := struct {
			Triangle
			Attribute uint16
		}{Triangle: t}
		if err := binary.Write(w, binary.LittleEndian, &facet); err != nil {
			return fmt.Errorf("error writing triangle %d: %w", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("error writing STL file: %w", err)
	}
	return file.Close()
}

// SaveMesh writes m to filename as binary STL.
func SaveMesh(filename string, m *mesh.Mesh) error {
	return SaveToSTL(filename, FromMesh(m))
}
