// Package testutil provides shared test utilities and fixtures.
//
// This package centralises the synthetic camera, keypoint and point-cloud
// fixtures used across the fusion packages so the geometry stays
// consistent between tests.
package testutil

import (
	"math"
	"testing"

	"github.com/golang/geo/r2"

	"github.com/banshee-data/collision.report/internal/fusion"
)

// Forward camera intrinsics used by the fixtures.
const (
	FocalLength = 700.0
	CenterU     = 600.0
	CenterV     = 180.0
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// ForwardCalibration returns row-major matrices for a pinhole camera
// looking along the LiDAR X axis: camera x = -lidar y, camera y = -lidar z,
// camera z = lidar x. R_rect is the identity.
func ForwardCalibration() (pRect [12]float64, rRect [16]float64, rt [16]float64) {
	pRect = [12]float64{
		FocalLength, 0, CenterU, 0,
		0, FocalLength, CenterV, 0,
		0, 0, 1, 0,
	}
	rRect = [16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
	rt = [16]float64{
		0, -1, 0, 0,
		0, 0, -1, 0,
		1, 0, 0, 0,
		0, 0, 0, 1,
	}
	return pRect, rRect, rt
}

// PixelOf returns where ForwardCalibration projects a LiDAR point.
func PixelOf(p fusion.RangePoint) r2.Point {
	return r2.Point{
		X: FocalLength*(-p.Y)/p.X + CenterU,
		Y: FocalLength*(-p.Z)/p.X + CenterV,
	}
}

// KeypointAt builds a keypoint at pixel (x, y).
func KeypointAt(x, y float64) fusion.Keypoint {
	return fusion.Keypoint{Pt: r2.Point{X: x, Y: y}, Size: 7}
}

// ScaledKeypoints returns a previous/current keypoint pair of sets laid out
// on a grid with the given spacing around centre, where every current
// keypoint is the previous one scaled about centre by scale. The matches
// pair index i with index i.
func ScaledKeypoints(centre r2.Point, cols, rows int, spacing, scale float64) (prev, curr []fusion.Keypoint, matches []fusion.Correspondence) {
	for r := 0; r < rows; r++ {
		for c := 0; c < cols; c++ {
			off := r2.Point{
				X: (float64(c) - float64(cols-1)/2) * spacing,
				Y: (float64(r) - float64(rows-1)/2) * spacing,
			}
			p := centre.Add(off)
			q := centre.Add(off.Mul(scale))
			matches = append(matches, fusion.Correspondence{PrevIdx: len(prev), CurrIdx: len(curr)})
			prev = append(prev, fusion.Keypoint{Pt: p})
			curr = append(curr, fusion.Keypoint{Pt: q})
		}
	}
	return prev, curr, matches
}

// PointsAtDepth returns n range points spread over a small patch in front
// of the sensor, all with the given forward distance x.
func PointsAtDepth(x float64, n int) []fusion.RangePoint {
	pts := make([]fusion.RangePoint, n)
	for i := range pts {
		pts[i] = fusion.RangePoint{
			X: x,
			Y: 0.5 * math.Sin(float64(i)),
			Z: -1.0 + 0.1*math.Cos(float64(i)),
			R: 0.5,
		}
	}
	return pts
}
