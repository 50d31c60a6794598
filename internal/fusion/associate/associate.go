// Package associate assigns LiDAR range points to camera detection boxes.
//
// A point is projected into the image and tested against every box after
// the box has been shrunk by a fixed fraction. The point is kept only when
// exactly one shrunk box encloses it; points on the background or in the
// overlap of two boxes are dropped so that no box receives points that may
// belong to another object.
package associate

import (
	"fmt"

	"github.com/golang/geo/r2"

	"github.com/banshee-data/collision.report/internal/fusion"
)

// Projector maps a range point to a pixel. ok is false when the point
// cannot be imaged (behind the camera).
type Projector interface {
	Project(pt fusion.RangePoint) (px r2.Point, ok bool)
}

// Stats summarises one association pass.
type Stats struct {
	Assigned   int // points added to exactly one box
	Background int // points inside no shrunk box
	Ambiguous  int // points inside two or more shrunk boxes
	Behind     int // points that could not be projected
}

// Total returns the number of points examined.
func (s Stats) Total() int {
	return s.Assigned + s.Background + s.Ambiguous + s.Behind
}

// Associate appends the index of every unambiguously enclosed point to the
// PointIdx of its box. Existing assignments are kept; callers reset boxes
// before re-running. shrinkFactor must lie in [0, 1).
func Associate(boxes []fusion.DetectionBox, points []fusion.RangePoint, shrinkFactor float64, proj Projector) (Stats, error) {
	if shrinkFactor < 0 || shrinkFactor >= 1 {
		return Stats{}, fmt.Errorf("shrink factor must be in [0, 1), got %g", shrinkFactor)
	}

	shrunk := make([]fusion.Rect, len(boxes))
	for i := range boxes {
		shrunk[i] = boxes[i].ROI.Shrink(shrinkFactor)
	}

	var stats Stats
	for pi, pt := range points {
		px, ok := proj.Project(pt)
		if !ok {
			stats.Behind++
			continue
		}

		enclosing := -1
		count := 0
		for bi := range shrunk {
			if shrunk[bi].Contains(px) {
				enclosing = bi
				count++
				if count > 1 {
					break
				}
			}
		}

		switch count {
		case 0:
			stats.Background++
		case 1:
			boxes[enclosing].PointIdx = append(boxes[enclosing].PointIdx, pi)
			stats.Assigned++
		default:
			stats.Ambiguous++
		}
	}

	fusion.Tracef("associate: %d points, %d assigned, %d background, %d ambiguous, %d behind",
		len(points), stats.Assigned, stats.Background, stats.Ambiguous, stats.Behind)
	return stats, nil
}

// AssociateFrame runs Associate over a frame's own boxes and points.
func AssociateFrame(f *fusion.Frame, shrinkFactor float64, proj Projector) (Stats, error) {
	return Associate(f.Boxes, f.Points, shrinkFactor, proj)
}
