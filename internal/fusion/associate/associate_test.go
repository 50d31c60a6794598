package associate

import (
	"testing"

	"github.com/golang/geo/r2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/collision.report/internal/fusion"
)

// pixelProjector treats X and Y of a range point as pixel coordinates;
// Z < 0 marks the point as not projectable.
type pixelProjector struct{}

func (pixelProjector) Project(pt fusion.RangePoint) (r2.Point, bool) {
	if pt.Z < 0 {
		return r2.Point{}, false
	}
	return r2.Point{X: pt.X, Y: pt.Y}, true
}

func box(id int, x, y, w, h float64) fusion.DetectionBox {
	return fusion.DetectionBox{BoxID: id, ROI: fusion.Rect{X: x, Y: y, Width: w, Height: h}}
}

func TestAssociate_ExclusivePointGoesToItsBox(t *testing.T) {
	boxes := []fusion.DetectionBox{
		box(0, 0, 0, 100, 100),
		box(1, 200, 0, 100, 100),
	}
	points := []fusion.RangePoint{
		{X: 50, Y: 50},  // box 0
		{X: 250, Y: 50}, // box 1
		{X: 260, Y: 40}, // box 1
	}

	stats, err := Associate(boxes, points, 0.1, pixelProjector{})
	require.NoError(t, err)

	assert.Equal(t, []int{0}, boxes[0].PointIdx)
	assert.Equal(t, []int{1, 2}, boxes[1].PointIdx)
	assert.Equal(t, Stats{Assigned: 3}, stats)
}

func TestAssociate_OverlapIsDropped(t *testing.T) {
	boxes := []fusion.DetectionBox{
		box(0, 0, 0, 100, 100),
		box(1, 50, 0, 100, 100),
	}
	points := []fusion.RangePoint{
		{X: 75, Y: 50}, // inside both shrunk boxes
		{X: 20, Y: 50}, // only box 0
		{X: 130, Y: 50},
	}

	stats, err := Associate(boxes, points, 0.1, pixelProjector{})
	require.NoError(t, err)

	assert.Equal(t, []int{1}, boxes[0].PointIdx)
	assert.Equal(t, []int{2}, boxes[1].PointIdx)
	assert.Equal(t, 1, stats.Ambiguous)
	assert.Equal(t, 2, stats.Assigned)
}

func TestAssociate_ShrinkExcludesEdges(t *testing.T) {
	boxes := []fusion.DetectionBox{box(0, 0, 0, 100, 100)}
	// With shrink 0.2 the inner rect is [10, 90) in both axes.
	points := []fusion.RangePoint{
		{X: 5, Y: 50},  // inside raw box, outside shrunk
		{X: 10, Y: 10}, // shrunk top-left corner, included
		{X: 90, Y: 50}, // shrunk right edge, excluded
		{X: 89.9, Y: 89.9},
	}

	stats, err := Associate(boxes, points, 0.2, pixelProjector{})
	require.NoError(t, err)

	assert.Equal(t, []int{1, 3}, boxes[0].PointIdx)
	assert.Equal(t, 2, stats.Background)
}

func TestAssociate_BackgroundAndBehind(t *testing.T) {
	boxes := []fusion.DetectionBox{box(7, 0, 0, 10, 10)}
	points := []fusion.RangePoint{
		{X: 500, Y: 500},
		{X: 5, Y: 5, Z: -1},
	}

	stats, err := Associate(boxes, points, 0, pixelProjector{})
	require.NoError(t, err)

	assert.Empty(t, boxes[0].PointIdx)
	assert.Equal(t, Stats{Background: 1, Behind: 1}, stats)
	assert.Equal(t, 2, stats.Total())
}

func TestAssociate_InvalidShrinkFactor(t *testing.T) {
	for _, s := range []float64{-0.1, 1, 1.5} {
		_, err := Associate(nil, nil, s, pixelProjector{})
		assert.Error(t, err, "shrink %g", s)
	}
}

func TestAssociate_NoBoxes(t *testing.T) {
	stats, err := Associate(nil, []fusion.RangePoint{{X: 1, Y: 1}}, 0.1, pixelProjector{})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Background)
}

func TestAssociateFrame(t *testing.T) {
	f := &fusion.Frame{
		Boxes:  []fusion.DetectionBox{box(3, 0, 0, 100, 100)},
		Points: []fusion.RangePoint{{X: 40, Y: 40}, {X: 400, Y: 40}},
	}
	stats, err := AssociateFrame(f, 0.1, pixelProjector{})
	require.NoError(t, err)
	assert.Equal(t, []int{0}, f.Boxes[0].PointIdx)
	assert.Equal(t, 1, stats.Assigned)
}

func TestCrop(t *testing.T) {
	c := CropBox{MinX: 2, MaxX: 20, MaxY: 2, MinZ: -1.5, MaxZ: -0.9, MinR: 0.1}
	points := []fusion.RangePoint{
		{X: 8, Y: 0.5, Z: -1.0, R: 0.4},  // kept
		{X: 1, Y: 0, Z: -1.0, R: 0.4},    // too close
		{X: 25, Y: 0, Z: -1.0, R: 0.4},   // too far
		{X: 8, Y: -2.5, Z: -1.0, R: 0.4}, // outside lane
		{X: 8, Y: 0, Z: -0.5, R: 0.4},    // too high
		{X: 8, Y: 0, Z: -1.0, R: 0.05},   // low reflectivity
		{X: 20, Y: -2, Z: -1.5, R: 0.1},  // inclusive bounds
	}

	kept := Crop(points, c)
	assert.Equal(t, []fusion.RangePoint{points[0], points[6]}, kept)
	assert.Len(t, points, 7)
}
