package border

import (
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"
	"gopkg.in/yaml.v3"
)

// fileBorder is the on-disk form of a Border.
type fileBorder struct {
	Name    string       `yaml:"name"`
	Closed  bool         `yaml:"closed"`
	Density float64      `yaml:"density,omitempty"`
	Points  [][3]float64 `yaml:"points,flow"`
}

// borderFile is the document stored by SaveFile.
type borderFile struct {
	Borders []fileBorder `yaml:"borders"`
}

// LoadFile reads a YAML border file written by SaveFile.
func LoadFile(path string) ([]Border, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading border file: %w", err)
	}

	var doc borderFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("error parsing border file %s: %w", path, err)
	}

	borders := make([]Border, len(doc.Borders))
	for i, fb := range doc.Borders {
		if fb.Name == "" {
			return nil, fmt.Errorf("border %d in %s has no name", i, path)
		}
		points := make([]r3.Vec, len(fb.Points))
		for j, p := range fb.Points {
			points[j] = r3.Vec{X: p[0], Y: p[1], Z: p[2]}
		}
		borders[i] = Border{Name: fb.Name, Closed: fb.Closed, Points: points, Density: fb.Density}
	}
	return borders, nil
}

// SaveFile writes borders as YAML, creating the parent directory if needed.
func SaveFile(path string, borders []Border) error {
	doc := borderFile{Borders: make([]fileBorder, len(borders))}
	for i, b := range borders {
		points := make([][3]float64, len(b.Points))
		for j, p := range b.Points {
			points[j] = [3]float64{p.X, p.Y, p.Z}
		}
		doc.Borders[i] = fileBorder{Name: b.Name, Closed: b.Closed, Density: b.Density, Points: points}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("error creating border directory: %w", err)
	}
	data, err := yaml.Marshal(&doc)
	if err != nil {
		return fmt.Errorf("error marshaling borders: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("error writing border file: %w", err)
	}
	return nil
}
