package models

import (
	"fmt"
	"os"
	"path/filepath"

	"surfreg/internal/npyio"
	"surfreg/pkg/border"
	"surfreg/pkg/mesh"
	"surfreg/pkg/registration"
)

// File names inside a subject directory
const (
	TopologyFile = "topo.npy"
	FiducialFile = "fiducial.coord.npy"
	SphereFile   = "sphere.coord.npy"
	BordersFile  = "borders.yaml"
)

// Subject is one cortical surface with its spherical map and landmarks,
// as stored in a subject directory
type Subject struct {
	// Dir is the directory the subject was loaded from
	Dir string

	// Fiducial is the folded cortical surface
	Fiducial *mesh.Mesh

	// Sphere is the spherical map of the same vertices
	Sphere *mesh.Mesh

	// Borders are the named landmark curves drawn on the sphere
	Borders []border.Border
}

// LoadSubject reads a subject directory: one triangle file shared by the
// fiducial and spherical coordinate files, and a border file.
func LoadSubject(dir string) (*Subject, error) {
	topo := filepath.Join(dir, TopologyFile)
	fiducial, err := npyio.LoadMesh(filepath.Join(dir, FiducialFile), topo)
	if err != nil {
		return nil, fmt.Errorf("error loading fiducial surface: %w", err)
	}
	coords, err := npyio.LoadCoords(filepath.Join(dir, SphereFile))
	if err != nil {
		return nil, fmt.Errorf("error loading sphere: %w", err)
	}
	if len(coords) != fiducial.NumVertices() {
		return nil, fmt.Errorf("sphere has %d vertices, fiducial surface %d", len(coords), fiducial.NumVertices())
	}
	borders, err := border.LoadFile(filepath.Join(dir, BordersFile))
	if err != nil {
		return nil, fmt.Errorf("error loading borders: %w", err)
	}
	return &Subject{
		Dir:      dir,
		Fiducial: fiducial,
		Sphere:   fiducial.WithPositions(coords),
		Borders:  borders,
	}, nil
}

// Save writes the subject into dir in the layout LoadSubject reads.
func (s *Subject) Save(dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating subject directory: %w", err)
	}
	if err := npyio.SaveMesh(filepath.Join(dir, FiducialFile), filepath.Join(dir, TopologyFile), s.Fiducial); err != nil {
		return err
	}
	if err := npyio.SaveCoords(filepath.Join(dir, SphereFile), s.Sphere.Vertices); err != nil {
		return err
	}
	return border.SaveFile(filepath.Join(dir, BordersFile), s.Borders)
}

// RegistrationInput pairs a source and a target subject for registration.
func RegistrationInput(source, target *Subject) registration.Input {
	return registration.Input{
		SourceFiducial: source.Fiducial,
		SourceSphere:   source.Sphere,
		SourceBorders:  source.Borders,
		TargetFiducial: target.Fiducial,
		TargetSphere:   target.Sphere,
		TargetBorders:  target.Borders,
	}
}
