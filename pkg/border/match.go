package border

import (
	"errors"
	"fmt"
)

// ErrLandmarkMismatch reports borders that cannot be paired: no common
// names, a pair whose closed flags differ, or landmark curves that cannot be
// embedded together.
var ErrLandmarkMismatch = errors.New("landmark mismatch")

// Pair is a source and target border sharing a name.
type Pair struct {
	Name   string
	Source Border
	Target Border
}

// Matching is the outcome of Match.
type Matching struct {
	// Pairs are in target order.
	Pairs []Pair

	// UnmatchedSource and UnmatchedTarget name the borders without a
	// partner. They take no part in registration.
	UnmatchedSource []string
	UnmatchedTarget []string
}

// Match pairs source and target borders by exact name. When a name occurs
// more than once on one side only its first occurrence is paired. Match
// fails with ErrLandmarkMismatch if nothing pairs or if a pair disagrees on
// whether it is closed.
func Match(source, target []Border) (*Matching, error) {
	bySource := make(map[string]int, len(source))
	for i, b := range source {
		if _, dup := bySource[b.Name]; !dup {
			bySource[b.Name] = i
		}
	}

	m := &Matching{}
	used := make(map[int]bool, len(source))
	for _, t := range target {
		i, ok := bySource[t.Name]
		if !ok || used[i] {
			m.UnmatchedTarget = append(m.UnmatchedTarget, t.Name)
			continue
		}
		s := source[i]
		if s.Closed != t.Closed {
			return nil, fmt.Errorf("border %q is closed=%t on the source and closed=%t on the target: %w",
				t.Name, s.Closed, t.Closed, ErrLandmarkMismatch)
		}
		used[i] = true
		m.Pairs = append(m.Pairs, Pair{Name: t.Name, Source: s, Target: t})
	}
	for i, s := range source {
		if !used[i] {
			m.UnmatchedSource = append(m.UnmatchedSource, s.Name)
		}
	}

	if len(m.Pairs) == 0 {
		return nil, fmt.Errorf("no border names shared by %d source and %d target borders: %w",
			len(source), len(target), ErrLandmarkMismatch)
	}
	return m, nil
}
