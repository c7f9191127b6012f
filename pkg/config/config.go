// Package config provides configuration loading and management for surfreg.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"gopkg.in/yaml.v3"

	"surfreg/pkg/registration"
)

// ScheduleConfig is the registration schedule as written in the
// configuration file. The per-stage lists must all have one entry per stage.
type ScheduleConfig struct {
	SphereResolutionPerStage []int     `yaml:"sphere_resolution_per_stage"`
	LandmarkDensityPerStage  []float64 `yaml:"landmark_density_per_stage"`
	CyclesPerStage           []int     `yaml:"cycles_per_stage"`

	// Each cycle runs landmark smoothing, morphing, then post smoothing
	SmoothingIterationsPerCycle      []int  `yaml:"smoothing_iterations_per_cycle"`
	MorphingIterationsPerCycle       []int  `yaml:"morphing_iterations_per_cycle"`
	PostSmoothingIterationsPerCycle  []int  `yaml:"post_smoothing_iterations_per_cycle"`
	PostSmoothingNeighborConstrained []bool `yaml:"post_smoothing_neighbor_constrained"`

	SmoothingLambda            float64 `yaml:"smoothing_lambda"`
	MorphLinearForce           float64 `yaml:"morph_linear_force"`
	MorphAngularForce          float64 `yaml:"morph_angular_force"`
	MorphStepSize              float64 `yaml:"morph_step_size"`
	MorphTolerance             float64 `yaml:"morph_tolerance"`
	CrossoverRollbackThreshold int     `yaml:"crossover_rollback_threshold"`

	FallbackSmoothingIterations int `yaml:"fallback_smoothing_iterations"`
	TargetSmoothingIterations   int `yaml:"target_smoothing_iterations"`

	RigidAlignment bool `yaml:"rigid_alignment"`
	UseDistortion  bool `yaml:"use_distortion"`
	BothWays       bool `yaml:"both_ways"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`
	} `yaml:"processing"`

	// Schedule holds the registration parameters
	Schedule ScheduleConfig `yaml:"schedule"`

	// Output parameters
	Output struct {
		// Verbose controls the level of progress output
		Verbose bool `yaml:"verbose"`

		// SaveSTL also writes the deformed source sphere and the working
		// sphere as STL files
		SaveSTL bool `yaml:"saveSTL"`

		// SaveInverseMap writes the target to source map when it is built
		SaveInverseMap bool `yaml:"saveInverseMap"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.NumCores = runtime.NumCPU() // Use all available cores by default

	// Set default schedule, matching registration.DefaultSchedule
	cfg.Schedule = ScheduleConfig{
		SphereResolutionPerStage:         []int{2562, 10242, 40962},
		LandmarkDensityPerStage:          []float64{10, 5, 2.5},
		CyclesPerStage:                   []int{2, 3, 2},
		SmoothingIterationsPerCycle:      []int{20, 15, 10},
		MorphingIterationsPerCycle:       []int{40, 60, 80},
		PostSmoothingIterationsPerCycle:  []int{10, 10, 5},
		PostSmoothingNeighborConstrained: []bool{false, true, true},
		SmoothingLambda:                  0.5,
		MorphLinearForce:                 1.0,
		MorphAngularForce:                0.5,
		MorphStepSize:                    0.5,
		MorphTolerance:                   1e-6,
		CrossoverRollbackThreshold:       10,
		FallbackSmoothingIterations:      10,
		TargetSmoothingIterations:        10,
		RigidAlignment:                   true,
		UseDistortion:                    true,
		BothWays:                         false,
	}

	// Set default output parameters
	cfg.Output.Verbose = true
	cfg.Output.SaveSTL = false
	cfg.Output.SaveInverseMap = true

	return cfg
}

// RegistrationSchedule converts the schedule section into a validated
// registration.Schedule
func (c *Config) RegistrationSchedule() (registration.Schedule, error) {
	sc := c.Schedule
	n := len(sc.SphereResolutionPerStage)
	lists := []struct {
		key string
		len int
	}{
		{"landmark_density_per_stage", len(sc.LandmarkDensityPerStage)},
		{"cycles_per_stage", len(sc.CyclesPerStage)},
		{"smoothing_iterations_per_cycle", len(sc.SmoothingIterationsPerCycle)},
		{"morphing_iterations_per_cycle", len(sc.MorphingIterationsPerCycle)},
		{"post_smoothing_iterations_per_cycle", len(sc.PostSmoothingIterationsPerCycle)},
		{"post_smoothing_neighbor_constrained", len(sc.PostSmoothingNeighborConstrained)},
	}
	for _, l := range lists {
		if l.len != n {
			return registration.Schedule{}, fmt.Errorf("schedule: %s has %d entries for %d stages", l.key, l.len, n)
		}
	}

	s := registration.Schedule{
		Kind:                        registration.Spherical,
		SmoothingLambda:             sc.SmoothingLambda,
		MorphLinearForce:            sc.MorphLinearForce,
		MorphAngularForce:           sc.MorphAngularForce,
		MorphStepSize:               sc.MorphStepSize,
		MorphTolerance:              sc.MorphTolerance,
		FallbackSmoothingIterations: sc.FallbackSmoothingIterations,
		TargetSmoothingIterations:   sc.TargetSmoothingIterations,
		RigidAlignment:              sc.RigidAlignment,
		UseDistortion:               sc.UseDistortion,
		BothWays:                    sc.BothWays,
	}
	for i := 0; i < n; i++ {
		post := registration.LandmarkSmooth
		if sc.PostSmoothingNeighborConstrained[i] {
			post = registration.NeighborSmooth
		}
		s.Stages = append(s.Stages, registration.Stage{
			Resolution:      sc.SphereResolutionPerStage[i],
			LandmarkDensity: sc.LandmarkDensityPerStage[i],
			Cycles:          sc.CyclesPerStage[i],
			Operators: []registration.Operator{
				{Kind: registration.LandmarkSmooth, Iterations: sc.SmoothingIterationsPerCycle[i]},
				{Kind: registration.Morph, Iterations: sc.MorphingIterationsPerCycle[i]},
				{Kind: post, Iterations: sc.PostSmoothingIterationsPerCycle[i]},
			},
			CrossoverThreshold: sc.CrossoverRollbackThreshold,
		})
	}

	if err := s.Validate(); err != nil {
		return registration.Schedule{}, fmt.Errorf("schedule: %w", err)
	}
	return s, nil
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
