// Package border models named landmark curves drawn on a sphere: ordered
// open or closed polylines that are resampled to a fixed spacing and
// matched between source and target by name.
package border

import (
	"math"

	"github.com/golang/geo/s2"
	"gonum.org/v1/gonum/spatial/r3"

	"surfreg/pkg/mesh"
)

// sphereTolerance is the relative radial spread below which a border is
// treated as lying on a sphere and resampled along great circles.
const sphereTolerance = 1e-6

// Border is a named polyline. A closed border connects its last point back to
// its first; the first point is not repeated at the end.
type Border struct {
	Name   string
	Closed bool

	// Points are the polyline vertices in order.
	Points []r3.Vec

	// Density is the arc length between consecutive points the border was
	// last resampled to, or zero if it never was.
	Density float64
}

// Clone returns a deep copy of b.
func (b Border) Clone() Border {
	b.Points = append([]r3.Vec(nil), b.Points...)
	return b
}

// NumSegments returns the number of polyline segments, counting the closing
// segment of a closed border.
func (b Border) NumSegments() int {
	n := len(b.Points)
	switch {
	case n < 2:
		return 0
	case b.Closed && n > 2:
		return n
	default:
		return n - 1
	}
}

// Segment returns the endpoint indices of segment i.
func (b Border) Segment(i int) (int, int) {
	return i, (i + 1) % len(b.Points)
}

// polyline describes how a border is measured and interpolated: along great
// circles of a common radius when every point lies on one sphere, along
// straight chords otherwise.
type polyline struct {
	points    []r3.Vec
	spherical bool
	radius    float64
	cum       []float64
}

func newPolyline(b Border) polyline {
	pts := b.Points
	if b.Closed && len(pts) > 2 {
		pts = append(append([]r3.Vec(nil), pts...), pts[0])
	}
	pl := polyline{points: pts}

	if len(pts) > 0 {
		sum := 0.0
		for _, p := range pts {
			sum += r3.Norm(p)
		}
		pl.radius = sum / float64(len(pts))
		pl.spherical = pl.radius > 0
		for _, p := range pts {
			if math.Abs(r3.Norm(p)-pl.radius) > sphereTolerance*pl.radius {
				pl.spherical = false
				break
			}
		}
	}

	pl.cum = make([]float64, len(pts))
	for i := 1; i < len(pts); i++ {
		pl.cum[i] = pl.cum[i-1] + pl.segmentLength(pts[i-1], pts[i])
	}
	return pl
}

func (pl polyline) length() float64 {
	if len(pl.cum) == 0 {
		return 0
	}
	return pl.cum[len(pl.cum)-1]
}

func (pl polyline) segmentLength(a, b r3.Vec) float64 {
	if !pl.spherical {
		return r3.Norm(r3.Sub(b, a))
	}
	return float64(toS2(a).Distance(toS2(b))) * pl.radius
}

// at returns the point at arc length s from the start.
func (pl polyline) at(s float64) r3.Vec {
	last := len(pl.points) - 1
	if s <= 0 {
		return pl.points[0]
	}
	if s >= pl.cum[last] {
		return pl.points[last]
	}

	j := 0
	for j < last-1 && pl.cum[j+1] < s {
		j++
	}
	seg := pl.cum[j+1] - pl.cum[j]
	if seg == 0 {
		return pl.points[j]
	}
	t := (s - pl.cum[j]) / seg

	a, b := pl.points[j], pl.points[j+1]
	if !pl.spherical {
		return r3.Add(a, r3.Scale(t, r3.Sub(b, a)))
	}
	p := s2.Interpolate(t, toS2(a), toS2(b))
	return r3.Scale(pl.radius, r3.Vec{X: p.X, Y: p.Y, Z: p.Z})
}

func toS2(p r3.Vec) s2.Point {
	return s2.PointFromCoords(p.X, p.Y, p.Z)
}

// Length returns the arc length of b, including the closing segment of a
// closed border. Borders lying on a sphere are measured along great circles.
func Length(b Border) float64 {
	return newPolyline(b).length()
}

// Resample returns b with points spaced approximately density apart along its
// arc length. Open borders keep both endpoints exactly; closed borders keep
// their first point and close implicitly. A non-positive density or a border
// of fewer than two points yields an unchanged copy.
func Resample(b Border, density float64) Border {
	if density <= 0 || len(b.Points) < 2 {
		return b.Clone()
	}
	segments := int(math.Round(Length(b) / density))
	out := resample(b, segments)
	out.Density = density
	return out
}

// ResampleToCount returns b resampled to exactly count evenly spaced points.
// It is used to give a source border the point count of its target partner.
func ResampleToCount(b Border, count int) Border {
	if len(b.Points) < 2 || count < 2 {
		return b.Clone()
	}
	segments := count - 1
	if b.Closed {
		segments = count
	}
	out := resample(b, segments)
	out.Density = Length(out) / float64(out.NumSegments())
	return out
}

func resample(b Border, segments int) Border {
	minSegments := 1
	if b.Closed {
		minSegments = 3
	}
	if segments < minSegments {
		segments = minSegments
	}

	pl := newPolyline(b)
	total := pl.length()
	if total == 0 {
		return b.Clone()
	}

	n := segments + 1
	if b.Closed {
		n = segments
	}
	points := make([]r3.Vec, n)
	for i := range points {
		points[i] = pl.at(total * float64(i) / float64(segments))
	}
	points[0] = b.Points[0]
	if !b.Closed {
		points[n-1] = b.Points[len(b.Points)-1]
	}

	return Border{Name: b.Name, Closed: b.Closed, Points: points, Density: b.Density}
}

// ProjectToSphere returns b with every point moved radially onto the sphere
// of the given radius about the origin.
func ProjectToSphere(b Border, radius float64) Border {
	out := b.Clone()
	for i, p := range out.Points {
		out.Points[i] = mesh.ProjectPoint(p, radius)
	}
	return out
}
