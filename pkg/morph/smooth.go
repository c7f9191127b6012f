// Package morph moves the free vertices of a spherical mesh while landmark
// vertices stay pinned: Laplacian smoothing, and morphing toward rest edge
// lengths and triangle shapes. Every update is a Jacobi step computed from a
// snapshot of the previous positions, followed by radial re-projection.
package morph

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"surfreg/internal/parallel"
	"surfreg/pkg/mesh"
)

// SmoothOptions configure Smooth.
type SmoothOptions struct {
	Iterations int

	// Lambda is the fraction of the way each vertex moves toward its
	// neighbourhood mean per iteration, in (0, 1].
	Lambda float64

	// Pinned vertices keep their positions.
	Pinned []bool

	// Weights, when set, weight each neighbour in the mean (one value per
	// vertex, typically the fiducial distortion).
	Weights []float64

	// Reference, when set, makes Smooth act on the displacement from this
	// configuration rather than on the positions themselves, so that the
	// reference is left unchanged.
	Reference []r3.Vec

	// Radius is the sphere radius vertices are projected back to.
	Radius float64

	Workers int
}

func (o SmoothOptions) validate(n int) error {
	if o.Lambda <= 0 || o.Lambda > 1 {
		return fmt.Errorf("smoothing lambda must be in (0, 1], got %g", o.Lambda)
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
	if o.Reference != nil && len(o.Reference) != n {
		return fmt.Errorf("%d reference positions for %d vertices", len(o.Reference), n)
	}
	return nil
}

// Smooth runs opts.Iterations of
//
//	p' = (1-λ)·p + λ·mean_w(p_n)
//
// over the unpinned vertices of m, in place. With a reference r the mean
// term becomes mean_w(p_n) - (mean_w(r_n) - r_v).
//
// Parameters:
//   - ctx: checked between iterations
//   - m: mesh whose vertices are smoothed in place
//   - opts: iterations, λ, pins, weights, reference and radius
//
// Returns:
//   - ctx.Err() if the context ended, or an error for options that do not
//     fit m
func Smooth(ctx context.Context, m *mesh.Mesh, opts SmoothOptions) error {
	if opts.Iterations <= 0 {
		return nil
	}
	n := m.NumVertices()
	if err := opts.validate(n); err != nil {
		return err
	}

	prev := m.Vertices
	next := make([]r3.Vec, n)
	for it := 0; it < opts.Iterations; it++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		parallel.For(n, opts.Workers, func(lo, hi int) {
			for v := lo; v < hi; v++ {
				next[v] = smoothVertex(m, prev, v, opts)
			}
		})
		copy(prev, next)
	}
	return nil
}

func smoothVertex(m *mesh.Mesh, p []r3.Vec, v int, opts SmoothOptions) r3.Vec {
	if opts.Pinned != nil && opts.Pinned[v] {
		return p[v]
	}
	nbrs := m.Neighbors(v)
	if len(nbrs) == 0 {
		return p[v]
	}

	var mean, refMean r3.Vec
	total := 0.0
	for _, u := range nbrs {
		w := 1.0
		if opts.Weights != nil {
			w = opts.Weights[u]
		}
		mean = r3.Add(mean, r3.Scale(w, p[u]))
		if opts.Reference != nil {
			refMean = r3.Add(refMean, r3.Scale(w, opts.Reference[u]))
		}
		total += w
	}
	if total <= 0 {
		return p[v]
	}
	target := r3.Scale(1/total, mean)
	if opts.Reference != nil {
		target = r3.Sub(target, r3.Sub(r3.Scale(1/total, refMean), opts.Reference[v]))
	}

	out := r3.Add(r3.Scale(1-opts.Lambda, p[v]), r3.Scale(opts.Lambda, target))
	return mesh.ProjectPoint(out, opts.Radius)
}

// LandmarkPins returns the pin set for landmark-constrained operators: the
// landmark vertices themselves.
func LandmarkPins(isLandmark []bool) []bool {
	return append([]bool(nil), isLandmark...)
}

// NeighborPins returns the pin set for landmark-neighbour-constrained
// smoothing: the landmark vertices and every vertex adjacent to one.
func NeighborPins(m *mesh.Mesh, isLandmark []bool) []bool {
	pins := LandmarkPins(isLandmark)
	for v, lm := range isLandmark {
		if !lm {
			continue
		}
		for _, u := range m.Neighbors(v) {
			pins[u] = true
		}
	}
	return pins
}
