package dataset

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang/geo/r2"

	"github.com/banshee-data/collision.report/internal/fusion"
)

// BoxRecord is one detection as written by the detector.
type BoxRecord struct {
	ID         int     `json:"id" validate:"gte=0"`
	Class      int     `json:"class"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"width" validate:"gt=0"`
	Height     float64 `json:"height" validate:"gt=0"`
}

// KeypointRecord is one detected keypoint in pixel coordinates.
type KeypointRecord struct {
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
	Size     float64 `json:"size,omitempty"`
	Angle    float64 `json:"angle,omitempty"`
	Response float64 `json:"response,omitempty"`
	Octave   int     `json:"octave,omitempty"`
}

// MatchRecord links a keypoint of the previous frame to one of this frame.
type MatchRecord struct {
	Prev     int     `json:"prev" validate:"gte=0"`
	Curr     int     `json:"curr" validate:"gte=0"`
	Distance float64 `json:"distance,omitempty"`
}

// FrameRecord is the on-disk description of one frame.
type FrameRecord struct {
	Timestamp time.Time        `json:"timestamp"`
	Image     string           `json:"image,omitempty"`
	Lidar     string           `json:"lidar,omitempty"`
	Boxes     []BoxRecord      `json:"boxes" validate:"dive"`
	Keypoints []KeypointRecord `json:"keypoints,omitempty"`
	Matches   []MatchRecord    `json:"matches,omitempty" validate:"dive"`
}

var validate = validator.New()

// ParseFrameRecord decodes and validates a frame record.
func ParseFrameRecord(data []byte) (*FrameRecord, error) {
	var rec FrameRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse frame record: %w", err)
	}
	if err := rec.Validate(); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Validate checks field ranges, box ID uniqueness and that match indices
// refer to this frame's keypoints. Previous-frame indices can only be
// checked against the previous frame, see CheckMatches.
func (r *FrameRecord) Validate() error {
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid frame record: %w", err)
	}
	seen := make(map[int]bool, len(r.Boxes))
	for _, b := range r.Boxes {
		if seen[b.ID] {
			return fmt.Errorf("invalid frame record: duplicate box id %d", b.ID)
		}
		seen[b.ID] = true
	}
	if len(r.Keypoints) > 0 {
		for i, m := range r.Matches {
			if m.Curr >= len(r.Keypoints) {
				return fmt.Errorf("invalid frame record: match %d: keypoint %d of %d", i, m.Curr, len(r.Keypoints))
			}
		}
	}
	return nil
}

// CheckMatches verifies that the previous-frame indices of matches are
// in range for a previous frame with prevKeypoints keypoints.
func CheckMatches(matches []fusion.Correspondence, prevKeypoints int) error {
	for i, m := range matches {
		if m.PrevIdx >= prevKeypoints {
			return fmt.Errorf("match %d: previous keypoint %d of %d", i, m.PrevIdx, prevKeypoints)
		}
	}
	return nil
}

// Frame converts the record to a frame with no range points.
func (r *FrameRecord) Frame(index int) *fusion.Frame {
	f := &fusion.Frame{
		Index:     index,
		Timestamp: r.Timestamp,
		Boxes:     make([]fusion.DetectionBox, len(r.Boxes)),
		Keypoints: make([]fusion.Keypoint, len(r.Keypoints)),
	}
	for i, b := range r.Boxes {
		f.Boxes[i] = fusion.DetectionBox{
			BoxID:      b.ID,
			ClassID:    b.Class,
			Confidence: b.Confidence,
			ROI:        fusion.Rect{X: b.X, Y: b.Y, Width: b.Width, Height: b.Height},
		}
	}
	for i, k := range r.Keypoints {
		f.Keypoints[i] = fusion.Keypoint{
			Pt:       r2.Point{X: k.X, Y: k.Y},
			Size:     k.Size,
			Angle:    k.Angle,
			Response: k.Response,
			Octave:   k.Octave,
		}
	}
	return f
}

// Correspondences converts the record's matches.
func (r *FrameRecord) Correspondences() []fusion.Correspondence {
	out := make([]fusion.Correspondence, len(r.Matches))
	for i, m := range r.Matches {
		out[i] = fusion.Correspondence{PrevIdx: m.Prev, CurrIdx: m.Curr, Distance: m.Distance}
	}
	return out
}

// NewFrameRecord builds a record from a frame and the correspondences
// linking it to the previous frame.
func NewFrameRecord(f *fusion.Frame, matches []fusion.Correspondence) *FrameRecord {
	rec := &FrameRecord{
		Timestamp: f.Timestamp,
		Boxes:     make([]BoxRecord, len(f.Boxes)),
		Keypoints: make([]KeypointRecord, len(f.Keypoints)),
		Matches:   make([]MatchRecord, len(matches)),
	}
	for i, b := range f.Boxes {
		rec.Boxes[i] = BoxRecord{
			ID: b.BoxID, Class: b.ClassID, Confidence: b.Confidence,
			X: b.ROI.X, Y: b.ROI.Y, Width: b.ROI.Width, Height: b.ROI.Height,
		}
	}
	for i, k := range f.Keypoints {
		rec.Keypoints[i] = KeypointRecord{
			X: k.Pt.X, Y: k.Pt.Y, Size: k.Size, Angle: k.Angle, Response: k.Response, Octave: k.Octave,
		}
	}
	for i, m := range matches {
		rec.Matches[i] = MatchRecord{Prev: m.PrevIdx, Curr: m.CurrIdx, Distance: m.Distance}
	}
	return rec
}
