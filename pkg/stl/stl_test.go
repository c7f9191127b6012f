package stl

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"surfreg/pkg/sphere"
)

// TestFromMesh verifies that facets of a sphere face outward
func TestFromMesh(t *testing.T) {
	m, err := sphere.Standard(162)
	if err != nil {
		t.Fatal(err)
	}
	triangles := FromMesh(m)
	if len(triangles) != m.NumTriangles() {
		t.Fatalf("Expected %d triangles, got %d", m.NumTriangles(), len(triangles))
	}

	for i, triangle := range triangles {
		// Vector from the sphere centre to the triangle centre
		var c [3]float32
		for k := 0; k < 3; k++ {
			c[k] = (triangle.Vertex1[k] + triangle.Vertex2[k] + triangle.Vertex3[k]) / 3
		}
		dot := c[0]*triangle.Normal[0] + c[1]*triangle.Normal[1] + c[2]*triangle.Normal[2]
		if dot <= 0 {
			t.Errorf("Triangle %d normal points inward, dot product: %f", i, dot)
		}
	}
}

// TestSaveToSTL verifies that the STL file can be written
func TestSaveToSTL(t *testing.T) {
	triangles := []Triangle{
		{
			Normal:  [3]float32{0, 0, 1},
			Vertex1: [3]float32{0, 0, 0},
			Vertex2: [3]float32{1, 0, 0},
			Vertex3: [3]float32{0, 1, 0},
		},
	}

	tmpDir, err := os.MkdirTemp("", "stl-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)
	path := filepath.Join(tmpDir, "out", "test.stl")

	if err := SaveToSTL(path, triangles); err != nil {
		t.Fatalf("Failed to save STL: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read output file: %v", err)
	}

	// STL header: 80 bytes
	// Number of triangles: 4 bytes
	// Triangle: 50 bytes (12 bytes per vertex, 12 bytes per normal, 2 bytes attribute)
	if want := 80 + 4 + 50; len(data) != want {
		t.Fatalf("Expected %d bytes, got %d", want, len(data))
	}
	if n := binary.LittleEndian.Uint32(data[80:84]); n != 1 {
		t.Errorf("Expected triangle count 1, got %d", n)
	}
}

// TestSaveMesh verifies the file size for a whole sphere
func TestSaveMesh(t *testing.T) {
	m, err := sphere.Standard(42)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "sphere.stl")
	if err := SaveMesh(path, m); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if want := int64(84 + 50*m.NumTriangles()); info.Size() != want {
		t.Errorf("Expected %d bytes, got %d", want, info.Size())
	}
}
