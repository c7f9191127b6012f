package mesh

import (
	"gonum.org/v1/gonum/spatial/r3"

	"surfreg/internal/parallel"
)

// IsCrossover reports whether the triangle (a, b, c) is folded over on a
// sphere centred at the origin: its winding normal, projected onto the
// radial direction at its centroid, points inward.
//
// A triangle collapsed to zero area during registration counts as folded
// here rather than failing: it is a deformation state the crossover
// handling repairs. ErrDegenerateMesh is raised only where a normal is
// required, by TriangleNormal and CheckDegenerate, which Register runs on
// its input spheres and the deformation sphere build runs on its result.
func IsCrossover(a, b, c r3.Vec) bool {
	n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
	centroid := r3.Scale(1.0/3.0, r3.Add(r3.Add(a, b), c))
	return r3.Dot(n, centroid) <= 0
}

// CountCrossovers returns the number of folded triangles, zero-area ones
// included, and their indices in ascending order. The scan is split across workers (0 means one per
// CPU).
func (m *Mesh) CountCrossovers(workers int) (int, []int) {
	flags := make([]bool, len(m.Triangles))
	parallel.For(len(m.Triangles), workers, func(lo, hi int) {
		for i := lo; i < hi; i++ {
			t := m.Triangles[i]
			flags[i] = IsCrossover(m.Vertices[t[0]], m.Vertices[t[1]], m.Vertices[t[2]])
		}
	})

	var crossed []int
	for i, f := range flags {
		if f {
			crossed = append(crossed, i)
		}
	}
	return len(crossed), crossed
}
