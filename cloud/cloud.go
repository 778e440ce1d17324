package cloud

import (
	"math"
	"time"
)

// Point is a single lidar return in the sensor frame.
type Point struct {
	X, Y, Z float64
}

// Cloud is a timestamped unordered set of lidar returns.
type Cloud struct {
	Stamp  time.Time
	Points []Point
}

// Filter holds the preprocessing parameters applied to every scan before
// particle weighting.
type Filter struct {
	// DownsampleRadius is the uniform sampling radius: at most one point
	// is kept per cube of this edge length
	DownsampleRadius float64
	// RangeLimit truncates the cloud to |x|,|y|,|z| <= RangeLimit
	RangeLimit float64
	// ExclusionHalfWidth removes points inside the box of this half-width
	// around the sensor origin, which are self-returns off the platform
	ExclusionHalfWidth float64
}

// Apply runs the preprocessing pipeline on c and returns a new cloud with
// the same stamp. The input cloud is not modified. The result may be empty.
func (f Filter) Apply(c *Cloud) *Cloud {
	pts := Downsample(c.Points, f.DownsampleRadius)
	pts = LimitRange(pts, f.RangeLimit)
	pts = RemoveBox(pts, f.ExclusionHalfWidth)

	return &Cloud{Stamp: c.Stamp, Points: pts}
}

// Downsample returns a spatially uniform subsample of pts: the first point
// encountered in each cube of edge length radius is kept. A non-positive
// radius keeps every point.
func Downsample(pts []Point, radius float64) []Point {
	if radius <= 0 {
		out := make([]Point, len(pts))
		copy(out, pts)
		return out
	}

	type voxel struct{ i, j, k int }

	seen := make(map[voxel]struct{}, len(pts))
	out := make([]Point, 0, len(pts))

	for _, p := range pts {
		v := voxel{
			i: int(math.Floor(p.X / radius)),
			j: int(math.Floor(p.Y / radius)),
			k: int(math.Floor(p.Z / radius)),
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, p)
	}

	return out
}

// LimitRange drops points outside the axis-aligned cube |x|,|y|,|z| <= lim.
// A non-positive limit keeps every point.
func LimitRange(pts []Point, lim float64) []Point {
	if lim <= 0 {
		return pts
	}

	out := pts[:0:0]
	for _, p := range pts {
		if math.Abs(p.X) > lim || math.Abs(p.Y) > lim || math.Abs(p.Z) > lim {
			continue
		}
		out = append(out, p)
	}

	return out
}

// RemoveBox drops points inside the axis-aligned box of the given half-width
// centred on the origin. A non-positive half-width keeps every point.
func RemoveBox(pts []Point, half float64) []Point {
	if half <= 0 {
		return pts
	}

	out := pts[:0:0]
	for _, p := range pts {
		if math.Abs(p.X) <= half && math.Abs(p.Y) <= half && math.Abs(p.Z) <= half {
			continue
		}
		out = append(out, p)
	}

	return out
}
