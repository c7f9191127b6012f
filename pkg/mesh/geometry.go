package mesh

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// AreaOfTriangle returns half the magnitude of the cross product of two
// edges of the triangle (a, b, c).
func AreaOfTriangle(a, b, c r3.Vec) float64 {
	return 0.5 * r3.Norm(r3.Cross(r3.Sub(b, a), r3.Sub(c, a)))
}

// TriangleArea returns the area of triangle i.
func (m *Mesh) TriangleArea(i int) float64 {
	t := m.Triangles[i]
	return AreaOfTriangle(m.Vertices[t[0]], m.Vertices[t[1]], m.Vertices[t[2]])
}

// TriangleNormal returns the unit normal of triangle i following its
// winding. A zero-area triangle has no normal and yields ErrDegenerateMesh.
func (m *Mesh) TriangleNormal(i int) (r3.Vec, error) {
	n := m.Triangle(i).Normal()
	l := r3.Norm(n)
	if l == 0 {
		return r3.Vec{}, fmt.Errorf("triangle %d has zero area: %w", i, ErrDegenerateMesh)
	}
	return r3.Scale(1/l, n), nil
}

// CheckDegenerate returns ErrDegenerateMesh for the first triangle with
// zero area.
func (m *Mesh) CheckDegenerate() error {
	for i := range m.Triangles {
		if _, err := m.TriangleNormal(i); err != nil {
			return err
		}
	}
	return nil
}

// Radius returns the mean distance of the vertices from the origin.
func (m *Mesh) Radius() float64 {
	if len(m.Vertices) == 0 {
		return 0
	}
	d := make([]float64, len(m.Vertices))
	for i, v := range m.Vertices {
		d[i] = r3.Norm(v)
	}
	return stat.Mean(d, nil)
}

// ProjectToSphere moves every vertex radially onto the sphere of the given
// radius centred at the origin. Vertices at the origin are left in place.
func (m *Mesh) ProjectToSphere(radius float64) {
	ProjectPositions(m.Vertices, radius)
}

// ProjectPositions moves every position radially onto the sphere of the
// given radius.
func ProjectPositions(positions []r3.Vec, radius float64) {
	for i, p := range positions {
		positions[i] = ProjectPoint(p, radius)
	}
}

// ProjectPoint returns p moved radially onto the sphere of the given radius.
func ProjectPoint(p r3.Vec, radius float64) r3.Vec {
	l := r3.Norm(p)
	if l == 0 {
		return p
	}
	return r3.Scale(radius/l, p)
}

// MeanEdgeLength returns the mean length of the undirected edges.
func (m *Mesh) MeanEdgeLength() float64 {
	total, count := 0.0, 0
	for v := range m.Vertices {
		for _, n := range m.Neighbors(v) {
			if n > v {
				total += r3.Norm(r3.Sub(m.Vertices[n], m.Vertices[v]))
				count++
			}
		}
	}
	if count == 0 {
		return 0
	}
	return total / float64(count)
}

// MaxRadialDeviation returns the largest relative deviation of a vertex's
// distance from the origin with respect to radius.
func (m *Mesh) MaxRadialDeviation(radius float64) float64 {
	worst := 0.0
	for _, v := range m.Vertices {
		if d := math.Abs(r3.Norm(v)-radius) / radius; d > worst {
			worst = d
		}
	}
	return worst
}
