// Package registration deforms a source sphere so that its landmark borders
// land on the matching borders of a target sphere, then builds the
// deformation maps between the two surfaces.
//
// A registration runs the stages of a Schedule in order. Each stage embeds
// the target borders in a regular sphere (the working sphere), places a copy
// of it in the source frame with its landmark vertices moved onto the source
// borders, and relaxes the rest of that copy by smoothing and morphing. The
// working sphere then relates the two frames: its target-frame and
// source-frame positions share one triangulation.
package registration

import (
	"context"
	"errors"
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"surfreg/internal/parallel"
	"surfreg/pkg/border"
	"surfreg/pkg/defmap"
	"surfreg/pkg/defsphere"
	"surfreg/pkg/distortion"
	"surfreg/pkg/locator"
	"surfreg/pkg/mesh"
)

// ErrCancelled is returned when the context ends during a registration.
// The error also wraps the context's error.
var ErrCancelled = errors.New("registration cancelled")

// Input holds the surfaces of a registration. The fiducial meshes share the
// triangulation of their spheres. Nothing in Input is modified.
type Input struct {
	SourceFiducial *mesh.Mesh
	SourceSphere   *mesh.Mesh
	SourceBorders  []border.Border

	TargetFiducial *mesh.Mesh
	TargetSphere   *mesh.Mesh
	TargetBorders  []border.Border
}

// ProgressCallback receives progress messages. stage and cycle are zero
// based; cycle is -1 for messages about the stage as a whole and stage is
// -1 for messages outside any stage.
type ProgressCallback func(stage, cycle int, message string)

// Options control how a registration runs, not what it computes.
type Options struct {
	// Workers bounds the goroutines used by the per-vertex loops. Zero
	// means one per CPU.
	Workers int

	Progress ProgressCallback

	// Verbose prints progress to stdout when no Progress callback is set.
	Verbose bool
}

// WarningKind classifies a Warning.
type WarningKind int

const (
	// StageAborted means a stage stopped cycling because crossovers
	// stayed above its threshold after rollback and fallback smoothing.
	StageAborted WarningKind = iota

	// RegistrationWarning means the final working sphere still has
	// crossovers.
	RegistrationWarning
)

func (k WarningKind) String() string {
	switch k {
	case StageAborted:
		return "stage aborted"
	case RegistrationWarning:
		return "registration warning"
	default:
		return fmt.Sprintf("WarningKind(%d)", int(k))
	}
}

// Warning is a recoverable problem reported with a result. Stage and Cycle
// are zero based; Cycle is -1 when the warning is not tied to a cycle.
type Warning struct {
	Kind       WarningKind
	Stage      int
	Cycle      int
	Crossovers int
	Message    string
}

func (w Warning) String() string {
	return fmt.Sprintf("%v: %s (%d crossovers)", w.Kind, w.Message, w.Crossovers)
}

// StageReport summarises one stage.
type StageReport struct {
	Resolution int
	Vertices   int
	Landmarks  int

	// LandmarkEdges is the number of mesh edges the borders were carved
	// into, helper-split segments counting once per piece.
	LandmarkEdges int

	// CycleCrossovers holds the crossover count at the end of every cycle
	// that ran.
	CycleCrossovers []int

	// Energy is the morphing energy of the source-frame positions against
	// the target-frame positions when the stage ended.
	Energy float64

	Aborted bool
}

// WorkingSphere is the deformation sphere of the last stage. The embedded
// DeformationSphere holds the target-frame positions; Source holds the
// source-frame positions of the same vertices.
type WorkingSphere struct {
	*defsphere.DeformationSphere
	Source *mesh.Mesh
}

// Result is the output of Register.
type Result struct {
	// DeformedSourceSphere has the source sphere's triangulation with every
	// vertex moved to its registered position on the target sphere.
	DeformedSourceSphere *mesh.Mesh

	Working *WorkingSphere

	// Forward moves per-vertex data from the source surface to the target
	// surface. Inverse, built when the schedule asks for both ways, moves
	// it back.
	Forward *defmap.Map
	Inverse *defmap.Map

	Warnings []Warning
	Stages   []StageReport

	// Matching lists the border pairs used and the borders left out.
	Matching *border.Matching

	// Radius is the common sphere radius, that of the target sphere.
	Radius float64

	// Rotation is the rigid rotation taking source landmarks to target
	// landmarks that seeded the first stage.
	Rotation *r3.Mat
}

// Registrar runs registrations with one schedule. It holds no state between
// calls and may be used from several goroutines.
type Registrar struct {
	schedule Schedule
	opts     Options
	digest   string
}

// NewRegistrar validates schedule and returns a Registrar for it.
//
// Parameters:
//   - schedule: stages and parameters, copied
//   - opts: worker count and progress reporting
//
// Returns:
//   - the registrar
//   - an error naming the first invalid schedule field
func NewRegistrar(schedule Schedule, opts Options) (*Registrar, error) {
	if err := schedule.Validate(); err != nil {
		return nil, fmt.Errorf("invalid schedule: %w", err)
	}
	digest, err := schedule.Digest()
	if err != nil {
		return nil, err
	}
	schedule.Stages = append([]Stage(nil), schedule.Stages...)
	opts.Workers = parallel.Workers(opts.Workers)
	return &Registrar{schedule: schedule, opts: opts, digest: digest}, nil
}

// Schedule returns the registrar's schedule.
func (r *Registrar) Schedule() Schedule {
	return r.schedule
}

// Register deforms in.SourceSphere onto in.TargetSphere.
//
// Parameters:
//   - ctx: cancels the registration between cycles and iterations
//   - in: the two surfaces and their borders
//
// Returns:
//   - the deformed source sphere, deformation maps, stage reports and
//     warnings. Crossover problems are reported as warnings.
//   - mesh.ErrNonManifoldMesh or mesh.ErrDegenerateMesh for invalid
//     meshes, border.ErrLandmarkMismatch for borders that cannot be paired
//     or embedded, ErrCancelled for a cancelled context. No result is
//     returned then.
func (r *Registrar) Register(ctx context.Context, in Input) (*Result, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}
	matching, err := border.Match(in.SourceBorders, in.TargetBorders)
	if err != nil {
		return nil, err
	}

	radius := in.TargetSphere.Radius()
	source := in.SourceSphere.Clone()
	source.ProjectToSphere(radius)

	j := &job{
		Registrar: r,
		ctx:       ctx,
		radius:    radius,
		source:    source,
		pairs:     matching.Pairs,
	}
	if r.schedule.UseDistortion {
		if j.dist, err = distortion.Compute(in.SourceFiducial, in.SourceSphere); err != nil {
			return nil, fmt.Errorf("source distortion: %w", err)
		}
	}
	r.progress(-1, -1, "%d border pairs, sphere radius %.4g", len(matching.Pairs), radius)

	var ws *WorkingSphere
	res := &Result{Matching: matching, Radius: radius}
	for si, st := range r.schedule.Stages {
		if err := j.cancelled(); err != nil {
			return nil, err
		}
		next, report, err := j.stage(si, st, ws)
		if err != nil {
			return nil, fmt.Errorf("stage %d: %w", si+1, err)
		}
		ws = next
		res.Stages = append(res.Stages, report)
	}
	res.Working = ws
	res.Rotation = j.rotation
	res.Warnings = j.warnings

	if n, _ := ws.Source.CountCrossovers(r.opts.Workers); n > 0 {
		res.Warnings = append(res.Warnings, Warning{
			Kind:       RegistrationWarning,
			Stage:      len(r.schedule.Stages) - 1,
			Cycle:      -1,
			Crossovers: n,
			Message:    "final working sphere has crossovers",
		})
	}

	if err := j.cancelled(); err != nil {
		return nil, err
	}
	r.progress(-1, -1, "deforming the source sphere")
	if res.DeformedSourceSphere, err = j.deform(ws); err != nil {
		return nil, err
	}

	r.progress(-1, -1, "building deformation maps")
	if res.Forward, err = defmap.Build(res.DeformedSourceSphere, in.TargetSphere, r.opts.Workers); err != nil {
		return nil, fmt.Errorf("error building forward map: %w", err)
	}
	res.Forward.Header.ScheduleDigest = r.digest
	if r.schedule.BothWays {
		if res.Inverse, err = defmap.Build(in.TargetSphere, res.DeformedSourceSphere, r.opts.Workers); err != nil {
			return nil, fmt.Errorf("error building inverse map: %w", err)
		}
		res.Inverse.Header.ScheduleDigest = r.digest
	}
	return res, nil
}

func (r *Registrar) progress(stage, cycle int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	switch {
	case r.opts.Progress != nil:
		r.opts.Progress(stage, cycle, msg)
	case r.opts.Verbose && stage < 0:
		fmt.Println(msg)
	case r.opts.Verbose && cycle < 0:
		fmt.Printf("Stage %d: %s\n", stage+1, msg)
	case r.opts.Verbose:
		fmt.Printf("Stage %d cycle %d: %s\n", stage+1, cycle+1, msg)
	}
}

// validateInput checks the meshes in the order topology, degeneracy,
// fiducial correspondence.
func validateInput(in Input) error {
	surfaces := []struct {
		name     string
		fiducial *mesh.Mesh
		sphere   *mesh.Mesh
	}{
		{"source", in.SourceFiducial, in.SourceSphere},
		{"target", in.TargetFiducial, in.TargetSphere},
	}
	for _, s := range surfaces {
		if s.fiducial == nil || s.sphere == nil {
			return fmt.Errorf("%s surface is missing", s.name)
		}
		if err := s.sphere.CheckSphereTopology(); err != nil {
			return fmt.Errorf("%s sphere: %w", s.name, err)
		}
		if err := s.sphere.CheckDegenerate(); err != nil {
			return fmt.Errorf("%s sphere: %w", s.name, err)
		}
		if !s.fiducial.SameTopology(s.sphere) {
			return fmt.Errorf("%s fiducial surface and sphere differ in topology: %w", s.name, mesh.ErrNonManifoldMesh)
		}
	}
	if in.TargetSphere.Radius() <= 0 {
		return fmt.Errorf("target sphere has zero radius: %w", mesh.ErrDegenerateMesh)
	}
	return nil
}

// deform moves every vertex of the source sphere through the working
// sphere: locate it among the source-frame positions and take the same
// barycentric combination of the target-frame positions.
func (j *job) deform(ws *WorkingSphere) (*mesh.Mesh, error) {
	locs, err := locator.New(ws.Source, j.opts.Workers).LocateAll(j.source.Vertices, j.opts.Workers)
	if err != nil {
		return nil, fmt.Errorf("error locating source vertices on the working sphere: %w", err)
	}
	out := j.source.Clone()
	for i, l := range locs {
		out.Vertices[i] = mesh.ProjectPoint(locator.Interpolate(ws.Source, ws.Mesh.Vertices, l), j.radius)
	}
	return out, nil
}
