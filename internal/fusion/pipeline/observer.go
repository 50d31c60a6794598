package pipeline

import (
	"errors"
	"fmt"

	"github.com/banshee-data/collision.report/internal/fusion"
	"github.com/banshee-data/collision.report/internal/fusion/associate"
	"github.com/banshee-data/collision.report/internal/fusion/boxmatch"
	"github.com/banshee-data/collision.report/internal/units"
)

// Observer receives stage outputs as they are produced. Implementations
// must not modify the values they receive. Calls are made from the
// goroutine running Process, estimates in previous-box order.
type Observer interface {
	OnAssociation(frame int, stats associate.Stats)
	OnBoxMatch(prevFrame, currFrame int, mapping fusion.BoxCorrespondence, res boxmatch.Result)
	OnEstimate(est BoxEstimate)
}

// NopObserver ignores everything.
type NopObserver struct{}

func (NopObserver) OnAssociation(int, associate.Stats)                             {}
func (NopObserver) OnBoxMatch(int, int, fusion.BoxCorrespondence, boxmatch.Result) {}
func (NopObserver) OnEstimate(BoxEstimate)                                         {}

// LogObserver writes stage summaries to the fusion diag stream. When
// SpeedUnits is set and FrameRate is positive, LiDAR estimates also report
// the closing speed.
type LogObserver struct {
	FrameRate  float64
	SpeedUnits string
}

func (LogObserver) OnAssociation(frame int, s associate.Stats) {
	fusion.Diagf("frame %d: %d lidar points, %d assigned, %d ambiguous, %d background",
		frame, s.Total(), s.Assigned, s.Ambiguous, s.Background)
}

func (LogObserver) OnBoxMatch(prevFrame, currFrame int, mapping fusion.BoxCorrespondence, res boxmatch.Result) {
	fusion.Diagf("frames %d->%d: %d box matches, %d unmatched previous boxes",
		prevFrame, currFrame, len(mapping), len(res.Unmatched))
}

func (o LogObserver) OnEstimate(est BoxEstimate) {
	switch {
	case est.LidarErr == nil && est.CameraErr == nil:
		fusion.Diagf("frame %d box %d->%d: TTC lidar %.2fs camera %.2fs%s",
			est.CurrFrame, est.PrevBoxID, est.CurrBoxID, est.Lidar.TTC, est.Camera.TTC, o.closing(est))
	default:
		fusion.Diagf("frame %d box %d->%d: TTC lidar %s camera %s%s",
			est.CurrFrame, est.PrevBoxID, est.CurrBoxID,
			describe(est.Lidar.TTC, est.LidarErr), describe(est.Camera.TTC, est.CameraErr), o.closing(est))
	}
}

func (o LogObserver) closing(est BoxEstimate) string {
	if o.SpeedUnits == "" || o.FrameRate <= 0 || est.LidarErr != nil {
		return ""
	}
	v := units.ConvertSpeed(est.Lidar.ClosingSpeed(o.FrameRate), o.SpeedUnits)
	return fmt.Sprintf(", closing %.1f %s", v, units.Label(o.SpeedUnits))
}

func describe(v float64, err error) string {
	if err == nil {
		return formatSeconds(v)
	}
	if errors.Is(err, fusion.ErrUndefinedEstimate) {
		return "undefined (" + err.Error() + ")"
	}
	return "error (" + err.Error() + ")"
}

func formatSeconds(v float64) string {
	return fmt.Sprintf("%.2fs", v)
}

// MultiObserver forwards every call to each observer in order.
type MultiObserver []Observer

func (m MultiObserver) OnAssociation(frame int, s associate.Stats) {
	for _, o := range m {
		o.OnAssociation(frame, s)
	}
}

func (m MultiObserver) OnBoxMatch(prevFrame, currFrame int, mapping fusion.BoxCorrespondence, res boxmatch.Result) {
	for _, o := range m {
		o.OnBoxMatch(prevFrame, currFrame, mapping, res)
	}
}

func (m MultiObserver) OnEstimate(est BoxEstimate) {
	for _, o := range m {
		o.OnEstimate(est)
	}
}
