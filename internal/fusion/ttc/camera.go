package ttc

import (
	"fmt"

	"github.com/banshee-data/collision.report/internal/fusion"
)

// DefaultMinKeypointDistance is the minimum pixel distance between two
// current-frame keypoints for their pair to contribute a ratio.
const DefaultMinKeypointDistance = 100.0

// CameraOptions tunes the camera estimator.
type CameraOptions struct {
	// MinKeypointDistance rejects pairs of current keypoints closer than
	// this (pixels). Zero selects DefaultMinKeypointDistance.
	MinKeypointDistance float64
}

func (o CameraOptions) minDist() float64 {
	if o.MinKeypointDistance <= 0 {
		return DefaultMinKeypointDistance
	}
	return o.MinKeypointDistance
}

// CameraEstimate is the result of a camera TTC computation.
type CameraEstimate struct {
	TTC         float64 // seconds; negative when the object recedes
	MedianRatio float64 // median of distCurr/distPrev
	Ratios      int     // number of keypoint pairs that produced a ratio
}

// Camera estimates TTC from the scale change of the object's keypoints.
//
// For every unordered pair (i, j), i before j in matches, the distance
// between the two current keypoints is divided by the distance between the
// two previous keypoints. Pairs whose previous distance is ~0 or whose
// current distance is below the minimum are skipped. With dT = 1/frameRate
// the estimate is TTC = -dT / (1 - median(ratios)).
//
// When no pair survives, fusion.ErrNoDistanceRatios is returned; when the
// median ratio is exactly 1, fusion.ErrNoScaleChange. Both are expected
// outcomes for sparse or static scenes.
func Camera(prevKpts, currKpts []fusion.Keypoint, matches []fusion.Correspondence, frameRate float64, opts CameraOptions) (CameraEstimate, error) {
	dT, err := frameInterval(frameRate)
	if err != nil {
		return CameraEstimate{}, err
	}
	minDist := opts.minDist()

	var ratios []float64
	for i := 0; i < len(matches)-1; i++ {
		outer := matches[i]
		if !inRange(outer, prevKpts, currKpts) {
			continue
		}
		outerCurr := currKpts[outer.CurrIdx].Pt
		outerPrev := prevKpts[outer.PrevIdx].Pt

		for j := i + 1; j < len(matches); j++ {
			inner := matches[j]
			if !inRange(inner, prevKpts, currKpts) {
				continue
			}
			distCurr := outerCurr.Sub(currKpts[inner.CurrIdx].Pt).Norm()
			distPrev := outerPrev.Sub(prevKpts[inner.PrevIdx].Pt).Norm()

			if distPrev > machineEpsilon && distCurr >= minDist {
				ratios = append(ratios, distCurr/distPrev)
			}
		}
	}

	median, ok := Median(ratios)
	if !ok {
		return CameraEstimate{}, fmt.Errorf("camera: %d matches: %w", len(matches), fusion.ErrNoDistanceRatios)
	}
	est := CameraEstimate{MedianRatio: median, Ratios: len(ratios)}
	if median == 1 {
		return est, fmt.Errorf("camera: %w", fusion.ErrNoScaleChange)
	}
	est.TTC = -dT / (1 - median)

	fusion.Tracef("ttc camera: %d ratios, median %.6f, ttc %.3fs", est.Ratios, est.MedianRatio, est.TTC)
	return est, nil
}

func inRange(m fusion.Correspondence, prevKpts, currKpts []fusion.Keypoint) bool {
	return m.PrevIdx >= 0 && m.PrevIdx < len(prevKpts) && m.CurrIdx >= 0 && m.CurrIdx < len(currKpts)
}
