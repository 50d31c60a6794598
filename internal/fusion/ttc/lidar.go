package ttc

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/collision.report/internal/fusion"
)

// DefaultTrimFraction is the relative deviation from the mean forward
// distance at which a range point is discarded.
const DefaultTrimFraction = 0.03

// LidarOptions tunes the LiDAR estimator.
type LidarOptions struct {
	// TrimFraction: points with |x - mean| >= TrimFraction*mean are
	// dropped before the final mean. Zero selects DefaultTrimFraction.
	TrimFraction float64
}

func (o LidarOptions) trimFraction() float64 {
	if o.TrimFraction <= 0 {
		return DefaultTrimFraction
	}
	return o.TrimFraction
}

// LidarEstimate is the result of a LiDAR TTC computation.
type LidarEstimate struct {
	TTC          float64 // seconds; negative when the object recedes
	PrevDistance float64 // d0, trimmed mean x of the previous frame
	CurrDistance float64 // d1, trimmed mean x of the current frame
	PrevKept     int     // previous-frame points surviving the trim
	CurrKept     int     // current-frame points surviving the trim
}

// ClosingSpeed is the approach speed in m/s implied by the two distances,
// negative when the object recedes.
func (e LidarEstimate) ClosingSpeed(frameRate float64) float64 {
	return (e.PrevDistance - e.CurrDistance) * frameRate
}

// Lidar estimates TTC from the approach of the object's trimmed mean
// forward distance under a constant-velocity model:
// TTC = d0 * dT / (d0 - d1), dT = 1/frameRate.
//
// Each frame's distance is a two-pass trimmed mean: the mean x of all
// points, then the mean x of the points within TrimFraction of it. The
// trim runs exactly once.
//
// fusion.ErrEmptyPointSet is returned when either frame has no points
// (before or after trimming); fusion.ErrNoRelativeMotion when d0 == d1.
func Lidar(prevPts, currPts []fusion.RangePoint, frameRate float64, opts LidarOptions) (LidarEstimate, error) {
	dT, err := frameInterval(frameRate)
	if err != nil {
		return LidarEstimate{}, err
	}
	frac := opts.trimFraction()

	d0, n0, err := TrimmedMeanX(prevPts, frac)
	if err != nil {
		return LidarEstimate{}, fmt.Errorf("lidar: previous frame: %w", err)
	}
	d1, n1, err := TrimmedMeanX(currPts, frac)
	if err != nil {
		return LidarEstimate{}, fmt.Errorf("lidar: current frame: %w", err)
	}

	est := LidarEstimate{PrevDistance: d0, CurrDistance: d1, PrevKept: n0, CurrKept: n1}
	if d0 == d1 {
		return est, fmt.Errorf("lidar: d0 = d1 = %.4fm: %w", d0, fusion.ErrNoRelativeMotion)
	}
	est.TTC = d0 * dT / (d0 - d1)

	fusion.Tracef("ttc lidar: d0=%.4fm (%d/%d) d1=%.4fm (%d/%d) ttc %.3fs",
		d0, n0, len(prevPts), d1, n1, len(currPts), est.TTC)
	return est, nil
}

// TrimmedMeanX computes the two-pass trimmed mean of the X coordinates and
// the number of points that contributed to it. The input is not modified.
func TrimmedMeanX(pts []fusion.RangePoint, trimFraction float64) (mean float64, kept int, err error) {
	if len(pts) == 0 {
		return 0, 0, fusion.ErrEmptyPointSet
	}

	xs := make([]float64, len(pts))
	for i, p := range pts {
		xs[i] = p.X
	}
	first := stat.Mean(xs, nil)
	limit := trimFraction * first

	survivors := make([]float64, 0, len(xs))
	for _, x := range xs {
		if math.Abs(first-x) < limit {
			survivors = append(survivors, x)
		}
	}
	if len(survivors) == 0 {
		return 0, 0, fmt.Errorf("all %d points trimmed around %.4fm: %w", len(pts), first, fusion.ErrEmptyPointSet)
	}
	return stat.Mean(survivors, nil), len(survivors), nil
}
