package associate

import (
	"math"

	"github.com/banshee-data/collision.report/internal/fusion"
)

// CropBox bounds the region of interest in front of the ego vehicle.
// Bounds are inclusive. Typical values keep the ego lane ahead at road
// height: x 2..20 m, |y| <= 2 m, z -1.5..-0.9 m, reflectivity >= 0.1.
type CropBox struct {
	MinX, MaxX float64
	MaxY       float64 // half-width of the lane, applied to |y|
	MinZ, MaxZ float64
	MinR       float64
}

// Contains reports whether p lies in the crop region.
func (c CropBox) Contains(p fusion.RangePoint) bool {
	return p.X >= c.MinX && p.X <= c.MaxX &&
		math.Abs(p.Y) <= c.MaxY &&
		p.Z >= c.MinZ && p.Z <= c.MaxZ &&
		p.R >= c.MinR
}

// Crop returns the points inside c as a new slice; the input is untouched.
func Crop(points []fusion.RangePoint, c CropBox) []fusion.RangePoint {
	kept := make([]fusion.RangePoint, 0, len(points))
	for _, p := range points {
		if c.Contains(p) {
			kept = append(kept, p)
		}
	}
	return kept
}
