// Package transport carries data that lives on a source surface over to the
// target surface once a registration has produced a deformed source sphere
// and its deformation map.
package transport

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"surfreg/pkg/border"
	"surfreg/pkg/defmap"
	"surfreg/pkg/locator"
	"surfreg/pkg/mesh"
)

// Transporter moves data from the source surface of a registration to its
// target surface.
//
// Per-vertex arrays go through the forward deformation map. Free points
// (border points, foci) are located on the source sphere and re-emitted at
// the same barycentric position on the deformed source sphere, which lies on
// the target sphere. A Transporter only reads its meshes and map and is safe
// for concurrent use.
type Transporter struct {
	// forward maps deformed source sphere data onto the target sphere
	forward *defmap.Map

	// source is the undeformed source sphere and deformed the same
	// triangulation after registration
	source   *mesh.Mesh
	deformed *mesh.Mesh

	// loc searches source; radius is that of deformed
	loc    *locator.Locator
	radius float64

	// workers bounds the goroutines used to locate points
	workers int
}

// New returns a Transporter for one registration result.
//
// Parameters:
//   - forward: the map from the deformed source sphere onto the target
//     sphere (Result.Forward)
//   - source: the source sphere as given to the registration
//   - deformed: the deformed source sphere (Result.DeformedSourceSphere)
//   - workers: goroutines used to locate points (0 means one per CPU)
//
// Returns an error wrapping defmap.ErrMismatch when source and deformed
// differ in topology or when forward reads another number of vertices.
func New(forward *defmap.Map, source, deformed *mesh.Mesh, workers int) (*Transporter, error) {
	if !source.SameTopology(deformed) {
		return nil, fmt.Errorf("source sphere and deformed source sphere differ in topology: %w", defmap.ErrMismatch)
	}
	if forward.Header.FromVertices != source.NumVertices() {
		return nil, fmt.Errorf("map reads %d vertices, source sphere has %d: %w",
			forward.Header.FromVertices, source.NumVertices(), defmap.ErrMismatch)
	}
	return &Transporter{
		forward:  forward,
		source:   source,
		deformed: deformed,
		loc:      locator.New(source, workers),
		radius:   deformed.Radius(),
		workers:  workers,
	}, nil
}

// Scalars maps a per-vertex real array of the source surface onto the
// target surface.
func (t *Transporter) Scalars(in []float64) ([]float64, error) {
	return t.forward.TransportScalars(in)
}

// Coordinates maps per-vertex positions (for example the source fiducial
// surface) onto the target surface.
func (t *Transporter) Coordinates(in []r3.Vec) ([]r3.Vec, error) {
	return t.forward.TransportCoordinates(in)
}

// Labels maps per-vertex integer labels onto the target surface.
func (t *Transporter) Labels(in []int32) ([]int32, error) {
	return t.forward.TransportLabels(in)
}

// Points moves points drawn on the source sphere to the target sphere: each
// is located on the source sphere and re-emitted at the same barycentric
// position on the deformed source sphere.
func (t *Transporter) Points(in []r3.Vec) ([]r3.Vec, error) {
	locs, err := t.loc.LocateAll(in, t.workers)
	if err != nil {
		return nil, fmt.Errorf("error locating points on the source sphere: %w", err)
	}
	out := make([]r3.Vec, len(locs))
	for i, l := range locs {
		out[i] = mesh.ProjectPoint(locator.Interpolate(t.deformed, t.deformed.Vertices, l), t.radius)
	}
	return out, nil
}

// Borders moves every border point with Points. Names and closed flags are
// kept.
func (t *Transporter) Borders(in []border.Border) ([]border.Border, error) {
	out := make([]border.Border, len(in))
	for i, b := range in {
		pts, err := t.Points(b.Points)
		if err != nil {
			return nil, fmt.Errorf("border %q: %w", b.Name, err)
		}
		out[i] = b.Clone()
		out[i].Points = pts
	}
	return out, nil
}
