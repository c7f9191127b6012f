// Package npyio reads and writes surface arrays as NumPy .npy files:
// vertex coordinates as n×3 float64, triangles as n×3 int32, per-vertex
// scalars as float64 vectors and labels as int32 vectors.
package npyio

import (
	"fmt"
	"strings"

	"github.com/kshedden/gonpy"
	"gonum.org/v1/gonum/spatial/r3"

	"surfreg/pkg/mesh"
)

func newWriter(path string, shape ...int) (*gonpy.NpyWriter, error) {
	w, err := gonpy.NewFileWriter(path)
	if err != nil {
		return nil, fmt.Errorf("error creating %s: %w", path, err)
	}
	w.Shape = shape
	w.Version = 2
	return w, nil
}

func newReader(path string) (*gonpy.NpyReader, error) {
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, fmt.Errorf("error opening %s: %w", path, err)
	}
	if r.ColumnMajor {
		return nil, fmt.Errorf("%s: column-major arrays are not supported", path)
	}
	return r, nil
}

// kind returns the type code and width of a dtype such as "<f8".
func kind(dtype string) string {
	return strings.TrimLeft(dtype, "<>|=")
}

func readFloats(r *gonpy.NpyReader, path string) ([]float64, error) {
	switch kind(r.Dtype) {
	case "f8":
		return r.GetFloat64()
	case "f4":
		data, err := r.GetFloat32()
		if err != nil {
			return nil, err
		}
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%s: expected a float array, got dtype %s", path, r.Dtype)
	}
}

func readInts(r *gonpy.NpyReader, path string) ([]int64, error) {
	switch kind(r.Dtype) {
	case "i4":
		data, err := r.GetInt32()
		if err != nil {
			return nil, err
		}
		out := make([]int64, len(data))
		for i, v := range data {
			out[i] = int64(v)
		}
		return out, nil
	case "i8":
		return r.GetInt64()
	default:
		return nil, fmt.Errorf("%s: expected an integer array, got dtype %s", path, r.Dtype)
	}
}

func checkColumns(path string, shape []int, cols int) error {
	if len(shape) != 2 || shape[1] != cols {
		return fmt.Errorf("%s: expected shape (n, %d), got %v", path, cols, shape)
	}
	return nil
}

// SaveCoords writes vertex positions as an n×3 float64 array.
func SaveCoords(path string, coords []r3.Vec) error {
	w, err := newWriter(path, len(coords), 3)
	if err != nil {
		return err
	}
	data := make([]float64, 0, 3*len(coords))
	for _, p := range coords {
		data = append(data, p.X, p.Y, p.Z)
	}
	if err := w.WriteFloat64(data); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return nil
}

// LoadCoords reads an n×3 float array of vertex positions.
func LoadCoords(path string) ([]r3.Vec, error) {
	r, err := newReader(path)
	if err != nil {
		return nil, err
	}
	if err := checkColumns(path, r.Shape, 3); err != nil {
		return nil, err
	}
	data, err := readFloats(r, path)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	out := make([]r3.Vec, len(data)/3)
	for i := range out {
		out[i] = r3.Vec{X: data[3*i], Y: data[3*i+1], Z: data[3*i+2]}
	}
	return out, nil
}

// SaveTriangles writes triangles as an n×3 int32 array.
func SaveTriangles(path string, triangles [][3]int) error {
	w, err := newWriter(path, len(triangles), 3)
	if err != nil {
		return err
	}
	data := make([]int32, 0, 3*len(triangles))
	for _, t := range triangles {
		data = append(data, int32(t[0]), int32(t[1]), int32(t[2]))
	}
	if err := w.WriteInt32(data); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return nil
}

// LoadTriangles reads an n×3 int32 or int64 array of triangles.
func LoadTriangles(path string) ([][3]int, error) {
	r, err := newReader(path)
	if err != nil {
		return nil, err
	}
	if err := checkColumns(path, r.Shape, 3); err != nil {
		return nil, err
	}
	data, err := readInts(r, path)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	out := make([][3]int, len(data)/3)
	for i := range out {
		out[i] = [3]int{int(data[3*i]), int(data[3*i+1]), int(data[3*i+2])}
	}
	return out, nil
}

// SaveScalars writes one value per vertex as a float64 vector.
func SaveScalars(path string, values []float64) error {
	w, err := newWriter(path, len(values))
	if err != nil {
		return err
	}
	if err := w.WriteFloat64(values); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return nil
}

// LoadScalars reads a float vector.
func LoadScalars(path string) ([]float64, error) {
	r, err := newReader(path)
	if err != nil {
		return nil, err
	}
	if len(r.Shape) != 1 {
		return nil, fmt.Errorf("%s: expected a vector, got shape %v", path, r.Shape)
	}
	data, err := readFloats(r, path)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	return data, nil
}

// SaveLabels writes one label per vertex as an int32 vector.
func SaveLabels(path string, labels []int32) error {
	w, err := newWriter(path, len(labels))
	if err != nil {
		return err
	}
	if err := w.WriteInt32(labels); err != nil {
		return fmt.Errorf("error writing %s: %w", path, err)
	}
	return nil
}

// LoadLabels reads an int32 or int64 vector of labels.
func LoadLabels(path string) ([]int32, error) {
	r, err := newReader(path)
	if err != nil {
		return nil, err
	}
	if len(r.Shape) != 1 {
		return nil, fmt.Errorf("%s: expected a vector, got shape %v", path, r.Shape)
	}
	data, err := readInts(r, path)
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", path, err)
	}
	out := make([]int32, len(data))
	for i, v := range data {
		out[i] = int32(v)
	}
	return out, nil
}

// LoadMesh reads a mesh from a coordinate file and a triangle file.
func LoadMesh(coordsPath, trianglesPath string) (*mesh.Mesh, error) {
	coords, err := LoadCoords(coordsPath)
	if err != nil {
		return nil, err
	}
	tris, err := LoadTriangles(trianglesPath)
	if err != nil {
		return nil, err
	}
	m, err := mesh.New(coords, tris)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", trianglesPath, err)
	}
	return m, nil
}

// SaveMesh writes m as a coordinate file and a triangle file.
func SaveMesh(coordsPath, trianglesPath string, m *mesh.Mesh) error {
	if err := SaveCoords(coordsPath, m.Vertices); err != nil {
		return err
	}
	return SaveTriangles(trianglesPath, m.Triangles)
}
