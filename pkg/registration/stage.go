package registration

import (
	"context"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"surfreg/pkg/border"
	"surfreg/pkg/defsphere"
	"surfreg/pkg/distortion"
	"surfreg/pkg/locator"
	"surfreg/pkg/mesh"
	"surfreg/pkg/morph"
)

// job is the state of one Register call.
type job struct {
	*Registrar
	ctx context.Context

	radius float64
	source *mesh.Mesh // source sphere at the common radius
	pairs  []border.Pair
	dist   []float64 // per source-sphere triangle, nil when unused

	rotation *r3.Mat
	warnings []Warning
}

// cancelled returns ErrCancelled once the context has ended.
func (j *job) cancelled() error {
	if err := j.ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	}
	return nil
}

// check maps an operator error to ErrCancelled when the context ended.
func (j *job) check(err error) error {
	if err == nil {
		return nil
	}
	if cerr := j.cancelled(); cerr != nil {
		return cerr
	}
	return err
}

// sourceBorder gives a source border the point count of its resampled
// target partner and moves it onto the common sphere.
func sourceBorder(b border.Border, count int, density, radius float64) border.Border {
	if density <= 0 && len(b.Points) == count {
		return border.ProjectToSphere(b, radius)
	}
	return border.ProjectToSphere(border.ResampleToCount(b, count), radius)
}

const (
	// untangleRounds bounds the local smoothing passes run on leftover
	// crossovers; untangleIterations is the length of each.
	untangleRounds     = 8
	untangleIterations = 50
)

// stageState is what the operators of one stage work on.
type stageState struct {
	target    *mesh.Mesh // working sphere, target frame; the morph rest shape
	src       *mesh.Mesh // working sphere, source frame
	reference []r3.Vec   // source frame before the landmarks moved
	landmarks []bool
	collar    []bool
	weights   []float64
}

func (j *job) stage(si int, st Stage, prev *WorkingSphere) (*WorkingSphere, StageReport, error) {
	s := j.schedule
	workers := j.opts.Workers

	targets := make([]border.Border, len(j.pairs))
	for i, p := range j.pairs {
		targets[i] = p.Target
	}
	ds, err := defsphere.Build(targets, defsphere.Options{
		Resolution: st.Resolution,
		Density:    st.LandmarkDensity,
		Radius:     j.radius,
		Workers:    workers,
	})
	if err != nil {
		return nil, StageReport{}, err
	}
	report := StageReport{
		Resolution:    st.Resolution,
		Vertices:      ds.Mesh.NumVertices(),
		Landmarks:     len(ds.Landmarks),
		LandmarkEdges: len(ds.ConstrainedEdges()),
	}
	j.progress(si, -1, "deformation sphere with %d vertices, %d inserted for landmarks, %d landmark edges",
		ds.Mesh.NumVertices(), ds.NumInserted(), report.LandmarkEdges)

	sources := make([]border.Border, len(ds.Borders))
	for i, b := range ds.Borders {
		sources[i] = sourceBorder(j.pairs[i].Source, len(b.Points), st.LandmarkDensity, j.radius)
	}

	landmarks := morph.LandmarkPins(ds.IsLandmark)
	err = morph.Smooth(j.ctx, ds.Mesh, morph.SmoothOptions{
		Iterations: s.TargetSmoothingIterations,
		Lambda:     s.SmoothingLambda,
		Pinned:     landmarks,
		Radius:     j.radius,
		Workers:    workers,
	})
	if err = j.check(err); err != nil {
		return nil, report, err
	}

	var start []r3.Vec
	if prev == nil {
		if err := j.align(ds.Borders, sources); err != nil {
			return nil, report, err
		}
		start = unrotateAll(j.rotation, ds.Mesh.Vertices)
	} else {
		// Carry the previous stage's deformation over to this stage's
		// vertices through the previous working sphere.
		locs, err := locator.New(prev.Mesh, workers).LocateAll(ds.Mesh.Vertices, workers)
		if err != nil {
			return nil, report, fmt.Errorf("error resampling the previous stage: %w", err)
		}
		start = make([]r3.Vec, len(locs))
		for i, l := range locs {
			start[i] = mesh.ProjectPoint(locator.Interpolate(prev.Source, prev.Source.Vertices, l), j.radius)
		}
	}

	ss := &stageState{
		target:    ds.Mesh,
		reference: append([]r3.Vec(nil), start...),
		landmarks: landmarks,
		collar:    morph.NeighborPins(ds.Mesh, ds.IsLandmark),
	}
	for _, ref := range ds.Landmarks {
		start[ref.Vertex] = sources[ref.Border].Points[ref.Index]
	}
	ss.src = ds.Mesh.WithPositions(start)

	if j.dist != nil {
		d, err := distortion.OnMesh(j.source, j.dist, ss.src, workers)
		if err != nil {
			return nil, report, fmt.Errorf("error transferring distortion: %w", err)
		}
		ss.weights = distortion.VertexWeights(ss.src, d)
	}

	current, _ := ss.src.CountCrossovers(workers)
	j.progress(si, -1, "%d crossovers after moving the landmarks", current)

cycles:
	for c := 0; c < st.Cycles; c++ {
		if err := j.cancelled(); err != nil {
			return nil, report, err
		}
		for _, op := range st.Operators {
			saved := append([]r3.Vec(nil), ss.src.Vertices...)
			if err := j.check(j.apply(ss, op)); err != nil {
				return nil, report, err
			}
			n, _ := ss.src.CountCrossovers(workers)
			if n <= st.CrossoverThreshold || n <= current {
				current = n
				continue
			}

			j.progress(si, c, "%v raised crossovers from %d to %d, rolling back", op.Kind, current, n)
			copy(ss.src.Vertices, saved)
			fallback := Operator{Kind: LandmarkSmooth, Iterations: s.FallbackSmoothingIterations}
			if err := j.check(j.apply(ss, fallback)); err != nil {
				return nil, report, err
			}
			if n, _ = ss.src.CountCrossovers(workers); n > current {
				copy(ss.src.Vertices, saved)
				n = current
			}
			current = n
			if current > st.CrossoverThreshold {
				if current, err = j.untangle(ss); err != nil {
					return nil, report, err
				}
			}
			if current > st.CrossoverThreshold {
				report.Aborted = true
				report.CycleCrossovers = append(report.CycleCrossovers, current)
				j.warnings = append(j.warnings, Warning{
					Kind:       StageAborted,
					Stage:      si,
					Cycle:      c,
					Crossovers: current,
					Message:    fmt.Sprintf("stage %d stopped in cycle %d above its crossover threshold %d", si+1, c+1, st.CrossoverThreshold),
				})
				j.progress(si, c, "aborting stage with %d crossovers", current)
				break cycles
			}
		}
		if current > 0 {
			before := current
			if current, err = j.untangle(ss); err != nil {
				return nil, report, err
			}
			j.progress(si, c, "local smoothing took crossovers from %d to %d", before, current)
		}
		report.CycleCrossovers = append(report.CycleCrossovers, current)
		j.progress(si, c, "%d crossovers", current)
	}

	report.Energy = morph.Energy(ss.src, ss.target.Vertices)
	return &WorkingSphere{DeformationSphere: ds, Source: ss.src}, report, nil
}

// untangle smooths the neighbourhoods of folded triangles in the source
// frame until none are left or untangleRounds have run, and returns the
// crossover count. Round r frees the corners of the folded triangles and r
// rings around them, landmarks excepted; everything else stays pinned. The
// steps are plain uniform Laplacian ones, which pull a region with fixed
// boundary toward an unfolded embedding. A round that adds crossovers is
// undone.
func (j *job) untangle(ss *stageState) (int, error) {
	m := ss.src
	workers := j.opts.Workers
	n, folded := m.CountCrossovers(workers)
	for round := 1; n > 0 && round <= untangleRounds; round++ {
		free := make([]bool, m.NumVertices())
		for _, ti := range folded {
			for _, v := range m.Triangles[ti] {
				free[v] = true
			}
		}
		for r := 0; r < round; r++ {
			grown := append([]bool(nil), free...)
			for v, f := range free {
				if f {
					for _, w := range m.Neighbors(v) {
						grown[w] = true
					}
				}
			}
			free = grown
		}
		pins := make([]bool, len(free))
		for v := range pins {
			pins[v] = !free[v] || ss.landmarks[v]
		}

		saved := append([]r3.Vec(nil), m.Vertices...)
		err := morph.Smooth(j.ctx, m, morph.SmoothOptions{
			Iterations: untangleIterations,
			Lambda:     j.schedule.SmoothingLambda,
			Pinned:     pins,
			Radius:     j.radius,
			Workers:    workers,
		})
		if err = j.check(err); err != nil {
			return n, err
		}
		after, list := m.CountCrossovers(workers)
		if after > n {
			copy(m.Vertices, saved)
			continue
		}
		n, folded = after, list
	}
	return n, nil
}

// apply runs one operator on the source-frame positions.
func (j *job) apply(ss *stageState, op Operator) error {
	s := j.schedule
	switch op.Kind {
	case LandmarkSmooth, NeighborSmooth:
		pins := ss.landmarks
		if op.Kind == NeighborSmooth {
			pins = ss.collar
		}
		return morph.Smooth(j.ctx, ss.src, morph.SmoothOptions{
			Iterations: op.Iterations,
			Lambda:     s.SmoothingLambda,
			Pinned:     pins,
			Weights:    ss.weights,
			Reference:  ss.reference,
			Radius:     j.radius,
			Workers:    j.opts.Workers,
		})
	case Morph:
		_, err := morph.Morph(j.ctx, ss.src, morph.MorphOptions{
			Iterations:   op.Iterations,
			Step:         s.MorphStepSize,
			LinearForce:  s.MorphLinearForce,
			AngularForce: s.MorphAngularForce,
			Tolerance:    s.MorphTolerance,
			Rest:         ss.target.Vertices,
			Pinned:       ss.landmarks,
			Weights:      ss.weights,
			Radius:       j.radius,
			Workers:      j.opts.Workers,
		})
		return err
	}
	return fmt.Errorf("unknown operator %v", op.Kind)
}

// align sets the rotation seeding the first stage from the paired landmark
// points, or the identity when rigid alignment is off.
func (j *job) align(targets, sources []border.Border) error {
	var src, dst []r3.Vec
	if j.schedule.RigidAlignment {
		for i, t := range targets {
			src = append(src, sources[i].Points...)
			dst = append(dst, t.Points...)
		}
	}
	rot, err := rigidRotation(src, dst)
	if err != nil {
		return fmt.Errorf("rigid alignment: %w", err)
	}
	j.rotation = rot
	return nil
}
