// Package distortion measures how much area each triangle of a spherical
// mesh stands for on the cortical (fiducial) surface it was mapped from.
package distortion

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"

	"surfreg/pkg/locator"
	"surfreg/pkg/mesh"
)

// Compute returns one value per triangle: the triangle's fiducial area over
// its spherical area, after both meshes are scaled to the same total area.
// The result is normalised to mean 1. The meshes must share a triangle list.
func Compute(fiducial, sphere *mesh.Mesh) ([]float64, error) {
	if !fiducial.SameTopology(sphere) {
		return nil, fmt.Errorf("fiducial and spherical meshes differ in topology (%d/%d triangles)",
			fiducial.NumTriangles(), sphere.NumTriangles())
	}

	n := sphere.NumTriangles()
	areaF := make([]float64, n)
	areaS := make([]float64, n)
	for i := 0; i < n; i++ {
		areaF[i] = fiducial.TriangleArea(i)
		areaS[i] = sphere.TriangleArea(i)
		if areaS[i] == 0 {
			return nil, fmt.Errorf("spherical triangle %d has zero area: %w", i, mesh.ErrDegenerateMesh)
		}
	}
	totalF, totalS := floats.Sum(areaF), floats.Sum(areaS)
	if totalF == 0 {
		return nil, fmt.Errorf("fiducial mesh has zero area: %w", mesh.ErrDegenerateMesh)
	}

	d := make([]float64, n)
	floats.DivTo(d, areaF, areaS)
	floats.Scale(totalS/totalF, d)
	return normalize(d), nil
}

// normalize scales d in place to mean 1.
func normalize(d []float64) []float64 {
	if len(d) == 0 {
		return d
	}
	if mean := stat.Mean(d, nil); mean > 0 {
		floats.Scale(1/mean, d)
	}
	return d
}

// OnMesh carries a per-triangle distortion vector from host, the spherical
// mesh it was computed on, to another triangulation of the same sphere. Each
// triangle of onto takes the value of the host triangle containing its
// centroid direction. The transferred vector is renormalised to mean 1.
func OnMesh(host *mesh.Mesh, d []float64, onto *mesh.Mesh, workers int) ([]float64, error) {
	if len(d) != host.NumTriangles() {
		return nil, fmt.Errorf("distortion has %d values for %d triangles", len(d), host.NumTriangles())
	}

	centroids := make([]r3.Vec, onto.NumTriangles())
	for i := range centroids {
		centroids[i] = onto.Triangle(i).Centroid()
	}
	locs, err := locator.New(host, workers).LocateAll(centroids, workers)
	if err != nil {
		return nil, fmt.Errorf("error locating triangle centroids: %w", err)
	}

	out := make([]float64, len(locs))
	for i, loc := range locs {
		out[i] = d[loc.Triangle]
	}
	return normalize(out), nil
}

// VertexWeights averages the distortion of the triangles around each vertex.
// A nil d yields nil, meaning unweighted.
func VertexWeights(m *mesh.Mesh, d []float64) []float64 {
	if d == nil {
		return nil
	}
	w := make([]float64, m.NumVertices())
	for v := range w {
		tris := m.IncidentTriangles(v)
		if len(tris) == 0 {
			w[v] = 1
			continue
		}
		for _, ti := range tris {
			w[v] += d[ti]
		}
		w[v] /= float64(len(tris))
	}
	return w
}
