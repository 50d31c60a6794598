// Package kptfilter assigns keypoint correspondences to a detection box
// and rejects the ones whose pixel displacement is far above the box
// average.
package kptfilter

import (
	"fmt"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/collision.report/internal/fusion"
)

// DefaultDistanceRatio is the multiple of the mean displacement at which a
// correspondence is rejected.
const DefaultDistanceRatio = 1.5

// Result describes one filter pass over a box.
type Result struct {
	Assigned     int     // correspondences whose current keypoint is in the box
	Kept         int     // correspondences surviving the outlier trim
	MeanDistance float64 // mean displacement over the assigned set, pixels
}

// Filter replaces box.MatchIdx with the indices (into matches) of the
// correspondences whose current keypoint lies in box.ROI and whose
// prev→curr displacement is below ratio times the mean displacement of
// all assigned correspondences. The mean is computed once over the
// assigned set and not recomputed after trimming. A ratio <= 0 selects
// DefaultDistanceRatio.
//
// If no correspondence falls inside the box, box.MatchIdx is left empty
// and fusion.ErrInsufficientMatches is returned.
func Filter(box *fusion.DetectionBox, prevKpts, currKpts []fusion.Keypoint, matches []fusion.Correspondence, ratio float64) (Result, error) {
	if ratio <= 0 {
		ratio = DefaultDistanceRatio
	}
	box.MatchIdx = nil

	// Assignment.
	assigned := make([]int, 0, len(matches))
	dists := make([]float64, 0, len(matches))
	for i, m := range matches {
		if m.CurrIdx < 0 || m.CurrIdx >= len(currKpts) || m.PrevIdx < 0 || m.PrevIdx >= len(prevKpts) {
			continue
		}
		curr := currKpts[m.CurrIdx].Pt
		if !box.ROI.Contains(curr) {
			continue
		}
		assigned = append(assigned, i)
		dists = append(dists, curr.Sub(prevKpts[m.PrevIdx].Pt).Norm())
	}

	res := Result{Assigned: len(assigned)}
	if len(assigned) == 0 {
		return res, fmt.Errorf("box %d: %w", box.BoxID, fusion.ErrInsufficientMatches)
	}

	// Outlier trim: collect survivors, then replace.
	res.MeanDistance = stat.Mean(dists, nil)
	limit := ratio * res.MeanDistance
	kept := make([]int, 0, len(assigned))
	for k, idx := range assigned {
		if dists[k] < limit {
			kept = append(kept, idx)
		}
	}
	box.MatchIdx = kept
	res.Kept = len(kept)

	fusion.Tracef("kptfilter: box %d assigned=%d kept=%d mean=%.2fpx", box.BoxID, res.Assigned, res.Kept, res.MeanDistance)
	return res, nil
}

// Matches returns the correspondences referenced by box.MatchIdx.
func Matches(box *fusion.DetectionBox, matches []fusion.Correspondence) []fusion.Correspondence {
	out := make([]fusion.Correspondence, 0, len(box.MatchIdx))
	for _, idx := range box.MatchIdx {
		if idx >= 0 && idx < len(matches) {
			out = append(out, matches[idx])
		}
	}
	return out
}
