package fusion

import (
	"errors"
	"fmt"
)

// ErrUndefinedEstimate is wrapped by every degenerate-input error. A box
// pair reporting it has no TTC for this frame pair; processing of other
// boxes continues.
var ErrUndefinedEstimate = errors.New("undefined estimate")

var (
	// ErrInsufficientMatches: no correspondence fell inside the box.
	ErrInsufficientMatches = fmt.Errorf("insufficient matches: %w", ErrUndefinedEstimate)

	// ErrNoDistanceRatios: every keypoint pair was rejected by the
	// minimum-distance guards.
	ErrNoDistanceRatios = fmt.Errorf("no distance ratios: %w", ErrUndefinedEstimate)

	// ErrNoScaleChange: the median distance ratio is exactly 1.
	ErrNoScaleChange = fmt.Errorf("no relative scale change: %w", ErrUndefinedEstimate)

	// ErrEmptyPointSet: a frame has no range points, before or after trimming.
	ErrEmptyPointSet = fmt.Errorf("empty point set: %w", ErrUndefinedEstimate)

	// ErrNoRelativeMotion: previous and current distances are equal.
	ErrNoRelativeMotion = fmt.Errorf("no relative motion: %w", ErrUndefinedEstimate)
)

// ErrInvalidCalibration marks a malformed projection configuration. It is
// fatal at startup.
var ErrInvalidCalibration = errors.New("invalid calibration")
