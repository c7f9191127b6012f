package registration

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"gopkg.in/yaml.v3"
)

// DeformationKind selects the surface the working mesh lives on.
type DeformationKind int

const (
	// Spherical registers two spheres. It is the only kind implemented.
	Spherical DeformationKind = iota
)

func (k DeformationKind) String() string {
	switch k {
	case Spherical:
		return "spherical"
	default:
		return fmt.Sprintf("DeformationKind(%d)", int(k))
	}
}

// OperatorKind names a position-update operator of a cycle.
type OperatorKind int

const (
	// LandmarkSmooth smooths with the landmark vertices pinned.
	LandmarkSmooth OperatorKind = iota
	// NeighborSmooth also pins the 1-ring of every landmark vertex.
	NeighborSmooth
	// Morph relaxes toward the rest edge lengths and triangle shapes.
	Morph
)

func (k OperatorKind) String() string {
	switch k {
	case LandmarkSmooth:
		return "landmark-smooth"
	case NeighborSmooth:
		return "neighbor-smooth"
	case Morph:
		return "morph"
	default:
		return fmt.Sprintf("OperatorKind(%d)", int(k))
	}
}

// Operator is one step of a cycle.
type Operator struct {
	Kind       OperatorKind `yaml:"kind"`
	Iterations int          `yaml:"iterations"`
}

// Stage is one resolution level of the schedule.
type Stage struct {
	// Resolution is the number of regular vertices of the stage's
	// deformation sphere.
	Resolution int `yaml:"resolution"`

	// LandmarkDensity is the spacing borders are resampled to, in the
	// units of the sphere radius.
	LandmarkDensity float64 `yaml:"landmark_density"`

	Cycles    int        `yaml:"cycles"`
	Operators []Operator `yaml:"operators"`

	// CrossoverThreshold is the crossover count above which an operator
	// that made things worse is rolled back.
	CrossoverThreshold int `yaml:"crossover_threshold"`
}

// Schedule holds every parameter of a registration. It is treated as an
// immutable value once handed to NewRegistrar.
type Schedule struct {
	Kind   DeformationKind `yaml:"kind"`
	Stages []Stage         `yaml:"stages"`

	SmoothingLambda   float64 `yaml:"smoothing_lambda"`
	MorphLinearForce  float64 `yaml:"morph_linear_force"`
	MorphAngularForce float64 `yaml:"morph_angular_force"`
	MorphStepSize     float64 `yaml:"morph_step_size"`
	MorphTolerance    float64 `yaml:"morph_tolerance"`

	// FallbackSmoothingIterations of landmark smoothing are applied after
	// a rollback.
	FallbackSmoothingIterations int `yaml:"fallback_smoothing_iterations"`

	// TargetSmoothingIterations of landmark smoothing are applied once to
	// each stage's deformation sphere in the target frame.
	TargetSmoothingIterations int `yaml:"target_smoothing_iterations"`

	// RigidAlignment rotates the source landmarks onto the target
	// landmarks before the first stage.
	RigidAlignment bool `yaml:"rigid_alignment"`

	// UseDistortion weights smoothing and morphing by the fiducial area
	// distortion of the source surface.
	UseDistortion bool `yaml:"use_distortion"`

	// BothWays also builds the target to source map.
	BothWays bool `yaml:"both_ways"`
}

// DefaultSchedule returns the three-stage schedule. Landmark densities
// assume a sphere of radius 100.
func DefaultSchedule() Schedule {
	return Schedule{
		Kind: Spherical,
		Stages: []Stage{
			{
				Resolution:      2562,
				LandmarkDensity: 10,
				Cycles:          2,
				Operators: []Operator{
					{Kind: LandmarkSmooth, Iterations: 20},
					{Kind: Morph, Iterations: 40},
					{Kind: LandmarkSmooth, Iterations: 10},
				},
				CrossoverThreshold: 10,
			},
			{
				Resolution:      10242,
				LandmarkDensity: 5,
				Cycles:          3,
				Operators: []Operator{
					{Kind: LandmarkSmooth, Iterations: 15},
					{Kind: Morph, Iterations: 60},
					{Kind: NeighborSmooth, Iterations: 10},
				},
				CrossoverThreshold: 10,
			},
			{
				Resolution:      40962,
				LandmarkDensity: 2.5,
				Cycles:          2,
				Operators: []Operator{
					{Kind: LandmarkSmooth, Iterations: 10},
					{Kind: Morph, Iterations: 80},
					{Kind: NeighborSmooth, Iterations: 5},
				},
				CrossoverThreshold: 10,
			},
		},
		SmoothingLambda:             0.5,
		MorphLinearForce:            1.0,
		MorphAngularForce:           0.5,
		MorphStepSize:               0.5,
		MorphTolerance:              1e-6,
		FallbackSmoothingIterations: 10,
		TargetSmoothingIterations:   10,
		RigidAlignment:              true,
		UseDistortion:               true,
	}
}

// Validate reports the first invalid parameter of s.
func (s Schedule) Validate() error {
	if s.Kind != Spherical {
		return fmt.Errorf("unsupported deformation kind %v", s.Kind)
	}
	if len(s.Stages) == 0 {
		return fmt.Errorf("schedule has no stages")
	}
	if s.SmoothingLambda <= 0 || s.SmoothingLambda > 1 {
		return fmt.Errorf("smoothing lambda must be in (0, 1], got %g", s.SmoothingLambda)
	}
	if s.MorphStepSize <= 0 {
		return fmt.Errorf("morph step size must be positive, got %g", s.MorphStepSize)
	}
	if s.MorphLinearForce < 0 || s.MorphAngularForce < 0 {
		return fmt.Errorf("morph forces must not be negative (linear %g, angular %g)",
			s.MorphLinearForce, s.MorphAngularForce)
	}
	if s.MorphTolerance < 0 {
		return fmt.Errorf("morph tolerance must not be negative, got %g", s.MorphTolerance)
	}
	if s.FallbackSmoothingIterations < 0 || s.TargetSmoothingIterations < 0 {
		return fmt.Errorf("smoothing iteration counts must not be negative")
	}
	for i, st := range s.Stages {
		switch {
		case st.Resolution < 12:
			return fmt.Errorf("stage %d: resolution %d is below the icosahedron's 12 vertices", i+1, st.Resolution)
		case st.LandmarkDensity < 0:
			return fmt.Errorf("stage %d: landmark density must not be negative, got %g", i+1, st.LandmarkDensity)
		case st.Cycles < 1:
			return fmt.Errorf("stage %d: needs at least one cycle", i+1)
		case st.CrossoverThreshold < 0:
			return fmt.Errorf("stage %d: crossover threshold must not be negative", i+1)
		}
		for j, op := range st.Operators {
			if op.Kind < LandmarkSmooth || op.Kind > Morph {
				return fmt.Errorf("stage %d operator %d: unknown kind %v", i+1, j+1, op.Kind)
			}
			if op.Iterations < 0 {
				return fmt.Errorf("stage %d operator %d: negative iteration count", i+1, j+1)
			}
		}
	}
	return nil
}

// Digest returns the hex SHA-256 of the YAML encoding of s. Deformation
// maps record it to identify the schedule that produced them.
func (s Schedule) Digest() (string, error) {
	data, err := yaml.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("error encoding schedule: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
