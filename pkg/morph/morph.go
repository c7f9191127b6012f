package morph

import (
	"context"
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"surfreg/internal/parallel"
	"surfreg/pkg/mesh"
)

// MorphOptions configure Morph.
type MorphOptions struct {
	// Iterations caps the number of relaxation steps.
	Iterations int

	// Step scales each vertex's move per iteration.
	Step float64

	// LinearForce weights the pull toward rest edge lengths; AngularForce
	// weights the pull toward the rest shape of incident triangles.
	LinearForce  float64
	AngularForce float64

	// Tolerance ends the relaxation once the relative change in Energy
	// between iterations drops below it. Zero runs all iterations.
	Tolerance float64

	// Rest is the configuration whose edge lengths and triangle shapes the
	// mesh relaxes toward.
	Rest []r3.Vec

	Pinned  []bool
	Weights []float64
	Radius  float64
	Workers int
}

// MorphResult reports how a Morph call ended.
type MorphResult struct {
	Iterations int
	Energy     float64
	Converged  bool
}

func (o MorphOptions) validate(n int) error {
	if len(o.Rest) != n {
		return fmt.Errorf("%d rest positions for %d vertices", len(o.Rest), n)
	}
	if o.Step <= 0 {
		return fmt.Errorf("morph step must be positive, got %g", o.Step)
	}
	if o.Radius <= 0 {
		return fmt.Errorf("sphere radius must be positive, got %g", o.Radius)
	}
	if o.Pinned != nil && len(o.Pinned) != n {
		return fmt.Errorf("%d pin flags for %d vertices", len(o.Pinned), n)
	}
	if o.Weights != nil && len(o.Weights) != n {
		return fmt.Errorf("%d weights for %d vertices", len(o.Weights), n)
	}
	return nil
}

// Morph relaxes the unpinned vertices of m toward the edge lengths and
// triangle shapes of opts.Rest. Each iteration moves every free vertex by
//
//	step · (linear·F_lin + angular·F_ang)
//
// where F_lin is the weighted mean over incident edges of the length error
// along the edge direction, and F_ang the weighted mean offset toward the
// position that gives each incident triangle its rest shape.
//
// Parameters:
//   - ctx: checked between iterations
//   - m: mesh whose vertices are moved in place
//   - opts: iterations, step, force weights, rest shape and pins
//
// Returns:
//   - the energy and iteration count when the loop stopped
//   - ctx.Err() if the context ended, or an error for options that do not
//     fit m
func Morph(ctx context.Context, m *mesh.Mesh, opts MorphOptions) (MorphResult, error) {
	n := m.NumVertices()
	if opts.Iterations <= 0 {
		return MorphResult{}, nil
	}
	if err := opts.validate(n); err != nil {
		return MorphResult{}, err
	}

	prev := m.Vertices
	next := make([]r3.Vec, n)
	res := MorphResult{Energy: Energy(m, opts.Rest)}
	for res.Iterations < opts.Iterations {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if res.Energy == 0 {
			res.Converged = true
			break
		}
		parallel.For(n, opts.Workers, func(lo, hi int) {
			for v := lo; v < hi; v++ {
				next[v] = morphVertex(m, prev, v, opts)
			}
		})
		copy(prev, next)
		res.Iterations++

		e := Energy(m, opts.Rest)
		change := math.Abs(res.Energy-e) / res.Energy
		res.Energy = e
		if opts.Tolerance > 0 && change < opts.Tolerance {
			res.Converged = true
			break
		}
	}
	return res, nil
}

func morphVertex(m *mesh.Mesh, p []r3.Vec, v int, opts MorphOptions) r3.Vec {
	if opts.Pinned != nil && opts.Pinned[v] {
		return p[v]
	}
	weight := func(u int) float64 {
		if opts.Weights == nil {
			return 1
		}
		return opts.Weights[u]
	}
	rest := opts.Rest

	var linear r3.Vec
	total := 0.0
	for _, u := range m.Neighbors(v) {
		d := r3.Sub(p[u], p[v])
		l := r3.Norm(d)
		if l == 0 {
			continue
		}
		w := 0.5 * (weight(v) + weight(u))
		l0 := r3.Norm(r3.Sub(rest[u], rest[v]))
		linear = r3.Add(linear, r3.Scale(w*(l-l0)/l, d))
		total += w
	}
	if total > 0 {
		linear = r3.Scale(1/total, linear)
	}

	var angular r3.Vec
	total = 0
	for _, ti := range m.IncidentTriangles(v) {
		tri := m.Triangles[ti]
		a, b := tri[1], tri[2]
		switch v {
		case tri[1]:
			a, b = tri[2], tri[0]
		case tri[2]:
			a, b = tri[0], tri[1]
		}
		ideal, ok := restShape(rest[v], rest[a], rest[b], p[a], p[b])
		if !ok {
			continue
		}
		w := (weight(v) + weight(a) + weight(b)) / 3
		angular = r3.Add(angular, r3.Scale(w, r3.Sub(ideal, p[v])))
		total += w
	}
	if total > 0 {
		angular = r3.Scale(1/total, angular)
	}

	move := r3.Add(r3.Scale(opts.LinearForce, linear), r3.Scale(opts.AngularForce, angular))
	return mesh.ProjectPoint(r3.Add(p[v], r3.Scale(opts.Step, move)), opts.Radius)
}

// restShape returns where the apex of triangle (v, a, b) would sit over the
// current edge (a, b) if the triangle had its rest shape. The apex is
// expressed in the frame of the edge: along it, across it in the tangent
// plane, and along the outward normal at its midpoint.
func restShape(rv, ra, rb, a, b r3.Vec) (r3.Vec, bool) {
	re := r3.Sub(rb, ra)
	rn := r3.Add(ra, rb)
	if r3.Norm2(re) == 0 || r3.Norm2(rn) == 0 {
		return r3.Vec{}, false
	}
	rn = r3.Unit(rn)
	rperp := r3.Cross(rn, re)
	if r3.Norm2(rperp) == 0 {
		return r3.Vec{}, false
	}
	ll := r3.Norm2(re)

	off := r3.Sub(rv, ra)
	along := r3.Dot(off, re) / ll
	across := r3.Dot(off, rperp) / r3.Norm2(rperp)
	up := r3.Dot(off, rn) / math.Sqrt(ll)

	e := r3.Sub(b, a)
	nrm := r3.Add(a, b)
	if r3.Norm2(e) == 0 || r3.Norm2(nrm) == 0 {
		return r3.Vec{}, false
	}
	nrm = r3.Unit(nrm)
	ideal := r3.Add(a, r3.Scale(along, e))
	ideal = r3.Add(ideal, r3.Scale(across, r3.Cross(nrm, e)))
	return r3.Add(ideal, r3.Scale(up*r3.Norm(e), nrm)), true
}

// Energy returns the sum over edges of the squared difference between the
// current length and the length in rest.
func Energy(m *mesh.Mesh, rest []r3.Vec) float64 {
	e := 0.0
	for v := range m.Vertices {
		for _, u := range m.Neighbors(v) {
			if u <= v {
				continue
			}
			d := r3.Norm(r3.Sub(m.Vertices[u], m.Vertices[v])) - r3.Norm(r3.Sub(rest[u], rest[v]))
			e += d * d
		}
	}
	return e
}
