// Package boxmatch links detection boxes of the previous frame to boxes of
// the current frame by counting keypoint correspondences.
//
// A correspondence votes for the pair (prevBox, currBox) when its previous
// keypoint lies in prevBox and its current keypoint lies in currBox. Each
// previous box is linked to the current box with the most votes. Ties go
// to the current box that appears first in the current frame's box order.
// A previous box with no votes at all is left out of the mapping and
// reported as unmatched.
package boxmatch

import (
	"github.com/banshee-data/collision.report/internal/fusion"
)

// Result describes how the mapping was derived.
type Result struct {
	// Votes[prevBoxID][currBoxID] is the number of supporting correspondences.
	// Only non-zero counts are stored.
	Votes map[int]map[int]int

	// Unmatched lists previous box IDs with zero votes, in frame order.
	Unmatched []int

	// Skipped counts correspondences whose keypoint indices were out of range.
	Skipped int
}

// Match builds the previous→current box mapping for one frame pair.
// The frames are read only. The result is deterministic for identical
// input.
func Match(matches []fusion.Correspondence, prev, curr *fusion.Frame) (fusion.BoxCorrespondence, Result) {
	res := Result{Votes: make(map[int]map[int]int, len(prev.Boxes))}
	mapping := make(fusion.BoxCorrespondence, len(prev.Boxes))

	// Resolve each correspondence to the boxes that contain its endpoints once,
	// instead of rescanning every match for every box pair.
	type membership struct {
		prevBoxes []int // indices into prev.Boxes
		currBoxes []int // indices into curr.Boxes
	}
	members := make([]membership, 0, len(matches))
	for _, m := range matches {
		if m.PrevIdx < 0 || m.PrevIdx >= len(prev.Keypoints) ||
			m.CurrIdx < 0 || m.CurrIdx >= len(curr.Keypoints) {
			res.Skipped++
			continue
		}
		pPt := prev.Keypoints[m.PrevIdx].Pt
		cPt := curr.Keypoints[m.CurrIdx].Pt

		var mem membership
		for i := range prev.Boxes {
			if prev.Boxes[i].ROI.Contains(pPt) {
				mem.prevBoxes = append(mem.prevBoxes, i)
			}
		}
		if len(mem.prevBoxes) == 0 {
			continue
		}
		for j := range curr.Boxes {
			if curr.Boxes[j].ROI.Contains(cPt) {
				mem.currBoxes = append(mem.currBoxes, j)
			}
		}
		if len(mem.currBoxes) == 0 {
			continue
		}
		members = append(members, mem)
	}

	// votes[i][j] counts correspondences for prev box i and curr box j.
	votes := make([][]int, len(prev.Boxes))
	for i := range votes {
		votes[i] = make([]int, len(curr.Boxes))
	}
	for _, mem := range members {
		for _, i := range mem.prevBoxes {
			for _, j := range mem.currBoxes {
				votes[i][j]++
			}
		}
	}

	for i := range prev.Boxes {
		prevID := prev.Boxes[i].BoxID
		best, bestVotes := -1, 0
		for j, v := range votes[i] {
			if v == 0 {
				continue
			}
			if res.Votes[prevID] == nil {
				res.Votes[prevID] = make(map[int]int)
			}
			res.Votes[prevID][curr.Boxes[j].BoxID] += v
			if v > bestVotes {
				best, bestVotes = j, v
			}
		}
		if best < 0 {
			res.Unmatched = append(res.Unmatched, prevID)
			fusion.Tracef("boxmatch: prev box %d has no votes", prevID)
			continue
		}
		mapping[prevID] = curr.Boxes[best].BoxID
		fusion.Tracef("boxmatch: prev box %d -> curr box %d (%d votes)", prevID, curr.Boxes[best].BoxID, bestVotes)
	}

	return mapping, res
}
