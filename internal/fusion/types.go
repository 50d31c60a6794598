package fusion

import (
	"time"

	"github.com/golang/geo/r2"
)

// RangePoint is a single LiDAR return in the sensor frame.
// Coordinate convention: X=forward, Y=left, Z=up (metres).
type RangePoint struct {
	X, Y, Z float64
	R       float64 // reflectivity, 0..1
}

// Keypoint is a 2D image feature. Only Pt is read by the fusion stages;
// the remaining fields are carried through from the feature extractor.
type Keypoint struct {
	Pt       r2.Point // pixel position
	Size     float64
	Angle    float64
	Response float64
	Octave   int
}

// Correspondence links a keypoint in the previous frame (PrevIdx) to a
// keypoint in the current frame (CurrIdx). Distance is the descriptor
// distance reported by the matcher.
type Correspondence struct {
	PrevIdx  int
	CurrIdx  int
	Distance float64
}

// Rect is an axis-aligned rectangle in pixel space.
type Rect struct {
	X, Y          float64
	Width, Height float64
}

// Contains reports whether p lies inside r. The test is half-open:
// X <= p.X < X+Width and Y <= p.Y < Y+Height.
func (r Rect) Contains(p r2.Point) bool {
	return r.X <= p.X && p.X < r.X+r.Width &&
		r.Y <= p.Y && p.Y < r.Y+r.Height
}

// Shrink returns r inset by shrinkFactor: the width and height lose that
// fraction in total, half on each side, so the result stays centred.
func (r Rect) Shrink(shrinkFactor float64) Rect {
	return Rect{
		X:      r.X + shrinkFactor*r.Width/2.0,
		Y:      r.Y + shrinkFactor*r.Height/2.0,
		Width:  r.Width * (1 - shrinkFactor),
		Height: r.Height * (1 - shrinkFactor),
	}
}

// Center returns the centre of r.
func (r Rect) Center() r2.Point {
	return r2.Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// DetectionBox is a detected object in one frame.
//
// PointIdx indexes Frame.Points and is filled by the associator.
// MatchIdx indexes the correspondence slice of the frame pair the box is
// being evaluated in and is filled by the keypoint match filter.
type DetectionBox struct {
	BoxID      int
	ClassID    int
	Confidence float64
	ROI        Rect

	PointIdx []int
	MatchIdx []int
}

// Reset clears the point and match assignments.
func (b *DetectionBox) Reset() {
	b.PointIdx = nil
	b.MatchIdx = nil
}

// Frame is the data of one time step. It owns its boxes, keypoints and
// range points exclusively.
type Frame struct {
	Index     int
	Timestamp time.Time
	Boxes     []DetectionBox
	Keypoints []Keypoint
	Points    []RangePoint
}

// Box returns the box with the given identifier, or nil.
func (f *Frame) Box(id int) *DetectionBox {
	for i := range f.Boxes {
		if f.Boxes[i].BoxID == id {
			return &f.Boxes[i]
		}
	}
	return nil
}

// BoxPoints gathers the range points assigned to b.
func (f *Frame) BoxPoints(b *DetectionBox) []RangePoint {
	pts := make([]RangePoint, 0, len(b.PointIdx))
	for _, idx := range b.PointIdx {
		if idx >= 0 && idx < len(f.Points) {
			pts = append(pts, f.Points[idx])
		}
	}
	return pts
}

// BoxCorrespondence maps a previous-frame box ID to the current-frame box
// ID it was matched with. It is built fresh for every frame pair.
type BoxCorrespondence map[int]int

// Descriptors is an opaque descriptor set produced by a FeatureExtractor
// and consumed only by the matching DescriptorMatcher.
type Descriptors interface {
	Rows() int
	Close() error
}

// FeatureExtractor detects keypoints in an image and describes them.
type FeatureExtractor interface {
	Extract(imagePath string) ([]Keypoint, Descriptors, error)
}

// DescriptorMatcher matches previous-frame descriptors against the
// current frame. PrevIdx of each result indexes prev, CurrIdx indexes curr.
type DescriptorMatcher interface {
	Match(prev, curr Descriptors) ([]Correspondence, error)
}
