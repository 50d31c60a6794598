package boxmatch

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/banshee-data/collision.report/internal/fusion"
	"github.com/banshee-data/collision.report/internal/testutil"
)

func rect(x, y, w, h float64) fusion.Rect {
	return fusion.Rect{X: x, Y: y, Width: w, Height: h}
}

// frameBuilder accumulates a frame pair one correspondence at a time.
type frameBuilder struct {
	prev, curr fusion.Frame
	matches    []fusion.Correspondence
}

func (b *frameBuilder) addMatch(px, py, cx, cy float64) {
	b.prev.Keypoints = append(b.prev.Keypoints, testutil.KeypointAt(px, py))
	b.curr.Keypoints = append(b.curr.Keypoints, testutil.KeypointAt(cx, cy))
	b.matches = append(b.matches, fusion.Correspondence{
		PrevIdx: len(b.prev.Keypoints) - 1,
		CurrIdx: len(b.curr.Keypoints) - 1,
	})
}

func TestMatch_MajorityVoteWins(t *testing.T) {
	var b frameBuilder
	b.prev.Boxes = []fusion.DetectionBox{{BoxID: 1, ROI: rect(0, 0, 100, 100)}}
	b.curr.Boxes = []fusion.DetectionBox{
		{BoxID: 10, ROI: rect(0, 0, 100, 100)},   // A
		{BoxID: 11, ROI: rect(200, 0, 100, 100)}, // B
	}
	b.addMatch(10, 10, 12, 12)
	b.addMatch(20, 20, 22, 22)
	b.addMatch(30, 30, 33, 33)
	b.addMatch(40, 40, 250, 50)

	mapping, res := Match(b.matches, &b.prev, &b.curr)

	want := fusion.BoxCorrespondence{1: 10}
	if diff := cmp.Diff(want, mapping); diff != "" {
		t.Errorf("mapping mismatch (-want +got):\n%s", diff)
	}
	wantVotes := map[int]map[int]int{1: {10: 3, 11: 1}}
	if diff := cmp.Diff(wantVotes, res.Votes); diff != "" {
		t.Errorf("votes mismatch (-want +got):\n%s", diff)
	}
	if len(res.Unmatched) != 0 {
		t.Errorf("unexpected unmatched boxes: %v", res.Unmatched)
	}
}

func TestMatch_ZeroVotesIsOmitted(t *testing.T) {
	var b frameBuilder
	b.prev.Boxes = []fusion.DetectionBox{
		{BoxID: 1, ROI: rect(0, 0, 100, 100)},
		{BoxID: 2, ROI: rect(500, 500, 50, 50)}, // nothing lands here
	}
	b.curr.Boxes = []fusion.DetectionBox{{BoxID: 7, ROI: rect(0, 0, 100, 100)}}
	b.addMatch(10, 10, 11, 11)
	// Previous keypoint in box 1, current keypoint in no box.
	b.addMatch(50, 50, 900, 900)

	mapping, res := Match(b.matches, &b.prev, &b.curr)

	if diff := cmp.Diff(fusion.BoxCorrespondence{1: 7}, mapping); diff != "" {
		t.Errorf("mapping mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{2}, res.Unmatched); diff != "" {
		t.Errorf("unmatched mismatch (-want +got):\n%s", diff)
	}
	if _, ok := mapping[2]; ok {
		t.Error("box without votes must not appear in the mapping")
	}
}

func TestMatch_TieGoesToFirstCurrentBox(t *testing.T) {
	var b frameBuilder
	b.prev.Boxes = []fusion.DetectionBox{{BoxID: 4, ROI: rect(0, 0, 100, 100)}}
	b.curr.Boxes = []fusion.DetectionBox{
		{BoxID: 9, ROI: rect(200, 0, 100, 100)},
		{BoxID: 3, ROI: rect(0, 0, 100, 100)},
	}
	b.addMatch(10, 10, 10, 10)  // votes for 3
	b.addMatch(20, 20, 220, 20) // votes for 9

	mapping, _ := Match(b.matches, &b.prev, &b.curr)
	if got := mapping[4]; got != 9 {
		t.Errorf("tie resolved to %d, want first current box 9", got)
	}
}

func TestMatch_OverlappingBoxesBothReceiveVotes(t *testing.T) {
	var b frameBuilder
	b.prev.Boxes = []fusion.DetectionBox{{BoxID: 1, ROI: rect(0, 0, 100, 100)}}
	b.curr.Boxes = []fusion.DetectionBox{
		{BoxID: 5, ROI: rect(0, 0, 100, 100)},
		{BoxID: 6, ROI: rect(50, 0, 100, 100)},
	}
	b.addMatch(60, 50, 70, 50) // inside both current boxes
	b.addMatch(10, 50, 10, 50) // only box 5

	mapping, res := Match(b.matches, &b.prev, &b.curr)
	if mapping[1] != 5 {
		t.Errorf("mapping[1] = %d, want 5", mapping[1])
	}
	if diff := cmp.Diff(map[int]map[int]int{1: {5: 2, 6: 1}}, res.Votes); diff != "" {
		t.Errorf("votes mismatch (-want +got):\n%s", diff)
	}
}

func TestMatch_OutOfRangeIndicesSkipped(t *testing.T) {
	var b frameBuilder
	b.prev.Boxes = []fusion.DetectionBox{{BoxID: 1, ROI: rect(0, 0, 100, 100)}}
	b.curr.Boxes = []fusion.DetectionBox{{BoxID: 2, ROI: rect(0, 0, 100, 100)}}
	b.addMatch(10, 10, 10, 10)
	b.matches = append(b.matches,
		fusion.Correspondence{PrevIdx: 99, CurrIdx: 0},
		fusion.Correspondence{PrevIdx: 0, CurrIdx: -1},
	)

	mapping, res := Match(b.matches, &b.prev, &b.curr)
	if res.Skipped != 2 {
		t.Errorf("Skipped = %d, want 2", res.Skipped)
	}
	if mapping[1] != 2 {
		t.Errorf("mapping[1] = %d, want 2", mapping[1])
	}
}

func TestMatch_Deterministic(t *testing.T) {
	var b frameBuilder
	b.prev.Boxes = []fusion.DetectionBox{
		{BoxID: 0, ROI: rect(0, 0, 300, 200)},
		{BoxID: 1, ROI: rect(300, 0, 300, 200)},
		{BoxID: 2, ROI: rect(600, 0, 300, 200)},
	}
	b.curr.Boxes = []fusion.DetectionBox{
		{BoxID: 20, ROI: rect(590, 0, 300, 200)},
		{BoxID: 10, ROI: rect(290, 0, 300, 200)},
		{BoxID: 0, ROI: rect(0, 0, 290, 200)},
	}
	for i := 0; i < 60; i++ {
		x := float64(i*15) + 1
		b.addMatch(x, 100, x-5, 100)
	}

	first, firstRes := Match(b.matches, &b.prev, &b.curr)
	for run := 0; run < 10; run++ {
		again, againRes := Match(b.matches, &b.prev, &b.curr)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("run %d mapping differs (-first +again):\n%s", run, diff)
		}
		if diff := cmp.Diff(firstRes, againRes); diff != "" {
			t.Fatalf("run %d result differs (-first +again):\n%s", run, diff)
		}
	}
	if diff := cmp.Diff(fusion.BoxCorrespondence{0: 0, 1: 10, 2: 20}, first); diff != "" {
		t.Errorf("mapping mismatch (-want +got):\n%s", diff)
	}
}

func TestMatch_EmptyInput(t *testing.T) {
	prev := &fusion.Frame{Boxes: []fusion.DetectionBox{{BoxID: 1, ROI: rect(0, 0, 10, 10)}}}
	curr := &fusion.Frame{}

	mapping, res := Match(nil, prev, curr)
	if len(mapping) != 0 {
		t.Errorf("mapping = %v, want empty", mapping)
	}
	if diff := cmp.Diff([]int{1}, res.Unmatched); diff != "" {
		t.Errorf("unmatched mismatch (-want +got):\n%s", diff)
	}
}
