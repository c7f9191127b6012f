// Package defsphere builds the working mesh of a registration stage: a
// regular sphere into which the landmark borders are inserted as chains of
// mesh edges.
package defsphere

import (
	"errors"
	"fmt"
	"sort"

	"gonum.org/v1/gonum/spatial/r3"

	"surfreg/pkg/border"
	"surfreg/pkg/locator"
	"surfreg/pkg/mesh"
	"surfreg/pkg/sphere"
)

const (
	// snapFraction of the mean edge length is the distance under which a
	// landmark point takes over an existing regular vertex instead of
	// being inserted.
	snapFraction = 0.1

	// edgeWeight is the barycentric weight below which a landmark point is
	// treated as lying on the opposite edge.
	edgeWeight = 1e-9

	// coincident is the relative distance under which two landmark points
	// share a vertex.
	coincident = 1e-9
)

// Options describe one stage's deformation sphere.
type Options struct {
	// Resolution is the requested number of regular vertices.
	Resolution int

	// Density is the arc length the borders are resampled to. Zero keeps
	// the border points as given.
	Density float64

	// Radius of the sphere.
	Radius float64

	// Workers bounds the goroutines of the parallel scans, zero meaning
	// one per CPU.
	Workers int
}

// LandmarkRef ties a landmark vertex to the border point it came from.
type LandmarkRef struct {
	Border int
	Index  int
	Vertex int
}

// DeformationSphere is a regular sphere with landmark borders embedded as
// mesh edges.
//
// Vertices [0, NumRegular) are the regular sphere's; vertices inserted for
// landmarks follow. A landmark point close to a regular vertex reuses that
// vertex, so IsLandmark may also be set below NumRegular.
type DeformationSphere struct {
	Mesh       *mesh.Mesh
	NumRegular int
	IsLandmark []bool

	// Landmarks holds one entry per border point, in border order.
	Landmarks []LandmarkRef

	// Borders are the input borders after resampling and projection; the
	// landmark vertices sit exactly at their points.
	Borders []border.Border

	vertexOf    [][]int
	constrained map[edgeKey]bool
}

// NumInserted returns the number of vertices added for landmarks, including
// helper vertices on carved segments.
func (d *DeformationSphere) NumInserted() int {
	return d.Mesh.NumVertices() - d.NumRegular
}

// Vertex returns the mesh vertex of point i of border b.
func (d *DeformationSphere) Vertex(b, i int) int {
	return d.vertexOf[b][i]
}

// ConstrainedEdges returns the landmark edges sorted by vertex, each with
// the lower index first. A segment split by helper vertices contributes one
// edge per piece.
func (d *DeformationSphere) ConstrainedEdges() [][2]int {
	out := make([][2]int, 0, len(d.constrained))
	for k := range d.constrained {
		out = append(out, [2]int(k))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i][0] != out[j][0] {
			return out[i][0] < out[j][0]
		}
		return out[i][1] < out[j][1]
	})
	return out
}

// Build creates the deformation sphere for borders.
//
// The borders are resampled to opts.Density and projected onto the sphere.
// Each point then either reuses a free regular vertex within a tenth of the
// mean edge length, when moving it folds nothing, or is inserted. Every
// border segment is carved into the mesh as landmark edges and the rest of
// the mesh is flipped back to Delaunay.
//
// Parameters:
//   - borders: landmark borders in any radius, left unmodified
//   - opts: regular resolution, border density and sphere radius
//
// Returns:
//   - the deformation sphere, a closed outward-wound mesh
//   - border.ErrLandmarkMismatch if segments of the borders cross each
//     other, mesh.ErrDegenerateMesh if a triangle ends up with zero area
func Build(borders []border.Border, opts Options) (*DeformationSphere, error) {
	if opts.Radius <= 0 {
		return nil, fmt.Errorf("deformation sphere radius must be positive, got %g", opts.Radius)
	}
	regular, err := sphere.Regular(opts.Resolution)
	if err != nil {
		return nil, fmt.Errorf("error building regular sphere: %w", err)
	}
	regular.ProjectToSphere(opts.Radius)
	nReg := regular.NumVertices()

	ds := &DeformationSphere{
		NumRegular:  nReg,
		Borders:     make([]border.Border, len(borders)),
		vertexOf:    make([][]int, len(borders)),
		constrained: make(map[edgeKey]bool),
	}
	for i, b := range borders {
		ds.Borders[i] = border.ProjectToSphere(border.Resample(b, opts.Density), opts.Radius)
	}

	t := newTriangulation(append([]r3.Vec(nil), regular.Vertices...), regular.Triangles)
	isLandmark := make([]bool, nReg)
	ins := &inserter{
		t:           t,
		regular:     regular,
		loc:         locator.New(regular, opts.Workers),
		isLandmark:  &isLandmark,
		snap:        snapFraction * regular.MeanEdgeLength(),
		same:        coincident * opts.Radius,
		nReg:        nReg,
		constrained: ds.constrained,
	}
	for bi, b := range ds.Borders {
		ds.vertexOf[bi] = make([]int, len(b.Points))
		for pi, p := range b.Points {
			v, err := ins.insert(p)
			if err != nil {
				return nil, fmt.Errorf("border %q point %d: %w", b.Name, pi, err)
			}
			ds.vertexOf[bi][pi] = v
			ds.Landmarks = append(ds.Landmarks, LandmarkRef{Border: bi, Index: pi, Vertex: v})
		}
	}

	c := carver{
		t:           t,
		ins:         ins,
		radius:      opts.Radius,
		meanEdge:    regular.MeanEdgeLength(),
		helper:      make(map[int]bool),
		constrained: ds.constrained,
	}
	for bi, b := range ds.Borders {
		for s := 0; s < b.NumSegments(); s++ {
			i, j := b.Segment(s)
			if err := c.carve(ds.vertexOf[bi][i], ds.vertexOf[bi][j]); err != nil {
				if errors.Is(err, border.ErrLandmarkMismatch) {
					return nil, fmt.Errorf("border %q: %w", b.Name, err)
				}
				return nil, fmt.Errorf("error carving border %q segment %d: %w", b.Name, s, err)
			}
		}
	}
	t.compact()

	seed := make([]int, len(t.pos))
	for v := range seed {
		seed[v] = v
	}
	t.lawson(seed, ds.constrained)

	m, err := mesh.New(t.pos, t.tris)
	if err != nil {
		return nil, err
	}
	if err := m.CheckManifold(); err != nil {
		return nil, fmt.Errorf("deformation sphere: %w", err)
	}
	if err := m.CheckDegenerate(); err != nil {
		return nil, fmt.Errorf("deformation sphere: %w", err)
	}
	ds.Mesh = m
	ds.IsLandmark = isLandmark
	return ds, nil
}

// inserter adds points to the triangulation one at a time and restores the
// Delaunay property around each, so later points land in well-shaped
// triangles.
type inserter struct {
	t       *triangulation
	regular *mesh.Mesh
	loc     *locator.Locator // over regular, to start the walk

	isLandmark  *[]bool
	snap        float64
	same        float64
	nReg        int
	constrained map[edgeKey]bool
}

// locate returns the live triangle containing p and p's weights in it.
func (ins *inserter) locate(p r3.Vec) (int, [3]float64, error) {
	start, err := ins.loc.Locate(p)
	if err != nil {
		return 0, [3]float64{}, err
	}
	t := ins.t
	v0 := ins.regular.Triangles[start.Triangle][0]
	ti := t.walk(t.anyTri[v0], r3.Unit(p))
	tri := t.tris[ti]
	return ti, locator.Barycentric(t.pos[tri[0]], t.pos[tri[1]], t.pos[tri[2]], p), nil
}

// extremes returns the corners with the largest and the smallest weight.
func extremes(w [3]float64) (hi, lo int) {
	for k := 1; k < 3; k++ {
		if w[k] > w[hi] {
			hi = k
		}
		if w[k] < w[lo] {
			lo = k
		}
	}
	return hi, lo
}

// insert places the landmark point p and returns its vertex. A landmark
// already at p is reused; a free regular vertex within the snap distance is
// moved onto p when that folds none of its triangles.
func (ins *inserter) insert(p r3.Vec) (int, error) {
	t := ins.t
	ti, w, err := ins.locate(p)
	if err != nil {
		return 0, err
	}
	tri := t.tris[ti]
	hi, lo := extremes(w)

	v := tri[hi]
	d := r3.Norm(r3.Sub(t.pos[v], p))
	lm := *ins.isLandmark
	switch {
	case lm[v] && d < ins.same:
		return v, nil
	case !lm[v] && v < ins.nReg && d < ins.snap && t.move(v, p):
		lm[v] = true
		t.lawson([]int{v}, ins.constrained)
		return v, nil
	}
	return ins.place(ti, w, lo, p, true)
}

// insertHelper places a vertex at p that belongs to no border, reusing any
// vertex already at p.
func (ins *inserter) insertHelper(p r3.Vec) (int, error) {
	t := ins.t
	ti, w, err := ins.locate(p)
	if err != nil {
		return 0, err
	}
	hi, lo := extremes(w)
	if v := t.tris[ti][hi]; r3.Norm(r3.Sub(t.pos[v], p)) < ins.same {
		return v, nil
	}
	return ins.place(ti, w, lo, p, false)
}

// place adds a vertex at p inside triangle ti, or on its edge opposite
// corner lo when p lies on that edge, then flips the surrounding edges back
// to Delaunay. A split landmark edge stays constrained in its two halves.
func (ins *inserter) place(ti int, w [3]float64, lo int, p r3.Vec, landmark bool) (int, error) {
	t := ins.t
	tri := t.tris[ti]
	nv := t.addVertex(p)
	*ins.isLandmark = append(*ins.isLandmark, landmark)

	if w[lo] < edgeWeight {
		u, v := tri[(lo+1)%3], tri[(lo+2)%3]
		if err := t.splitEdge(ti, u, v, nv); err != nil {
			return 0, err
		}
		if k := keyOf(u, v); ins.constrained[k] {
			delete(ins.constrained, k)
			ins.constrained[keyOf(u, nv)] = true
			ins.constrained[keyOf(nv, v)] = true
		}
	} else {
		t.splitTriangle(ti, nv)
	}
	t.lawson([]int{nv}, ins.constrained)
	return nv, nil
}
