package pipeline

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/collision.report/internal/fusion"
	"github.com/banshee-data/collision.report/internal/fusion/associate"
	"github.com/banshee-data/collision.report/internal/fusion/boxmatch"
	"github.com/banshee-data/collision.report/internal/fusion/kptfilter"
	"github.com/banshee-data/collision.report/internal/fusion/ttc"
)

// Config holds the parameters of every stage.
type Config struct {
	ShrinkFactor       float64 // associator box shrink, [0,1)
	FrameRate          float64 // Hz, > 0
	MatchDistanceRatio float64 // keypoint filter bound as a multiple of the mean
	Camera             ttc.CameraOptions
	Lidar              ttc.LidarOptions

	// Crop, when set, is applied to a frame's points before association.
	Crop *associate.CropBox

	// RequireLidarPoints skips box pairs where either box has no assigned
	// range points.
	RequireLidarPoints bool

	// Workers bounds the number of box pairs estimated concurrently.
	// Values below 1 mean 1.
	Workers int
}

// DefaultConfig returns the parameters used by the reference setup.
func DefaultConfig() Config {
	return Config{
		ShrinkFactor:       0.10,
		FrameRate:          10,
		MatchDistanceRatio: kptfilter.DefaultDistanceRatio,
		Camera:             ttc.CameraOptions{MinKeypointDistance: ttc.DefaultMinKeypointDistance},
		Lidar:              ttc.LidarOptions{TrimFraction: ttc.DefaultTrimFraction},
		RequireLidarPoints: true,
		Workers:            1,
	}
}

// BoxEstimate is the outcome for one matched box pair. A non-nil error
// field means that estimate is absent; errors wrapping
// fusion.ErrUndefinedEstimate are expected for degenerate input.
type BoxEstimate struct {
	PrevFrame, CurrFrame int
	PrevBoxID, CurrBoxID int

	PrevPoints int // range points assigned to the previous box
	CurrPoints int // range points assigned to the current box

	Lidar    ttc.LidarEstimate
	LidarErr error

	Filter    kptfilter.Result
	Camera    ttc.CameraEstimate
	CameraErr error

	matchIdx []int
}

// LidarTTC returns the LiDAR estimate and whether it is defined.
func (e BoxEstimate) LidarTTC() (float64, bool) {
	return e.Lidar.TTC, e.LidarErr == nil && !math.IsNaN(e.Lidar.TTC) && !math.IsInf(e.Lidar.TTC, 0)
}

// CameraTTC returns the camera estimate and whether it is defined.
func (e BoxEstimate) CameraTTC() (float64, bool) {
	return e.Camera.TTC, e.CameraErr == nil && !math.IsNaN(e.Camera.TTC) && !math.IsInf(e.Camera.TTC, 0)
}

// PairResult is everything produced for one frame pair.
type PairResult struct {
	PrevFrame, CurrFrame int
	Mapping              fusion.BoxCorrespondence
	BoxMatch             boxmatch.Result
	Estimates            []BoxEstimate

	// SkippedNoPoints lists previous box IDs whose pair was not estimated
	// because a box had no range points.
	SkippedNoPoints []int
}

// Processor runs the stages over frames. It is safe for sequential use by
// one caller; frames passed to it must not be modified concurrently.
type Processor struct {
	cfg  Config
	proj associate.Projector
	obs  Observer
}

// New validates cfg and returns a Processor. A nil observer is replaced by
// NopObserver.
func New(cfg Config, proj associate.Projector, obs Observer) (*Processor, error) {
	if proj == nil {
		return nil, fmt.Errorf("pipeline: projector is required")
	}
	if cfg.ShrinkFactor < 0 || cfg.ShrinkFactor >= 1 || math.IsNaN(cfg.ShrinkFactor) {
		return nil, fmt.Errorf("pipeline: shrink factor %v outside [0,1)", cfg.ShrinkFactor)
	}
	if !(cfg.FrameRate > 0) || math.IsInf(cfg.FrameRate, 0) {
		return nil, fmt.Errorf("pipeline: frame rate %v must be positive and finite", cfg.FrameRate)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if obs == nil {
		obs = NopObserver{}
	}
	return &Processor{cfg: cfg, proj: proj, obs: obs}, nil
}

// Config returns the effective configuration.
func (p *Processor) Config() Config {
	return p.cfg
}

// Prepare crops the frame's points (when a crop is configured) and assigns
// them to the frame's boxes. It is run once, when a frame is ingested.
// Existing point assignments are discarded.
func (p *Processor) Prepare(ctx context.Context, f *fusion.Frame) (associate.Stats, error) {
	if err := ctx.Err(); err != nil {
		return associate.Stats{}, err
	}
	if p.cfg.Crop != nil {
		before := len(f.Points)
		f.Points = associate.Crop(f.Points, *p.cfg.Crop)
		fusion.Tracef("frame %d: crop kept %d of %d points", f.Index, len(f.Points), before)
	}
	for i := range f.Boxes {
		f.Boxes[i].PointIdx = nil
	}
	stats, err := associate.AssociateFrame(f, p.cfg.ShrinkFactor, p.proj)
	if err != nil {
		return stats, fmt.Errorf("frame %d: %w", f.Index, err)
	}
	p.obs.OnAssociation(f.Index, stats)
	return stats, nil
}

type job struct {
	prev, curr *fusion.DetectionBox
}

// Process matches the boxes of two prepared frames and estimates TTC for
// every matched pair. matches are the keypoint correspondences from prev
// to curr.
//
// Per-box failures are recorded on the estimate and never abort other
// boxes. The returned error is non-nil only when ctx is done; in that case
// no result is returned and the frames are unchanged. On success the
// current boxes' MatchIdx hold the filtered correspondences.
func (p *Processor) Process(ctx context.Context, prev, curr *fusion.Frame, matches []fusion.Correspondence) (*PairResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mapping, bm := boxmatch.Match(matches, prev, curr)
	p.obs.OnBoxMatch(prev.Index, curr.Index, mapping, bm)

	res := &PairResult{
		PrevFrame: prev.Index,
		CurrFrame: curr.Index,
		Mapping:   mapping,
		BoxMatch:  bm,
	}

	var jobs []job
	for i := range prev.Boxes {
		pb := &prev.Boxes[i]
		currID, ok := mapping[pb.BoxID]
		if !ok {
			continue
		}
		cb := curr.Box(currID)
		if cb == nil {
			continue
		}
		if p.cfg.RequireLidarPoints && (len(pb.PointIdx) == 0 || len(cb.PointIdx) == 0) {
			res.SkippedNoPoints = append(res.SkippedNoPoints, pb.BoxID)
			continue
		}
		jobs = append(jobs, job{prev: pb, curr: cb})
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	estimates := make([]BoxEstimate, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Workers)
	for k, j := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			estimates[k] = p.estimate(prev, curr, j, matches)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	for _, est := range estimates {
		if cb := curr.Box(est.CurrBoxID); cb != nil {
			cb.MatchIdx = est.matchIdx
		}
		p.obs.OnEstimate(est)
	}
	res.Estimates = estimates

	fusion.Diagf("frames %d->%d: %d box pairs estimated, %d skipped without points, %d unmatched",
		prev.Index, curr.Index, len(estimates), len(res.SkippedNoPoints), len(bm.Unmatched))
	return res, nil
}

// estimate runs the filter and both estimators for one box pair. It reads
// the frames and writes only to its own copy of the current box.
func (p *Processor) estimate(prev, curr *fusion.Frame, j job, matches []fusion.Correspondence) BoxEstimate {
	est := BoxEstimate{
		PrevFrame: prev.Index,
		CurrFrame: curr.Index,
		PrevBoxID: j.prev.BoxID,
		CurrBoxID: j.curr.BoxID,
	}

	prevPts := prev.BoxPoints(j.prev)
	currPts := curr.BoxPoints(j.curr)
	est.PrevPoints, est.CurrPoints = len(prevPts), len(currPts)
	est.Lidar, est.LidarErr = ttc.Lidar(prevPts, currPts, p.cfg.FrameRate, p.cfg.Lidar)

	box := *j.curr
	box.MatchIdx = nil
	est.Filter, est.CameraErr = kptfilter.Filter(&box, prev.Keypoints, curr.Keypoints, matches, p.cfg.MatchDistanceRatio)
	est.matchIdx = box.MatchIdx
	if est.CameraErr == nil {
		kept := kptfilter.Matches(&box, matches)
		est.Camera, est.CameraErr = ttc.Camera(prev.Keypoints, curr.Keypoints, kept, p.cfg.FrameRate, p.cfg.Camera)
	}

	fusion.Tracef("frame %d box %d->%d: points %d/%d matches %d/%d",
		curr.Index, est.PrevBoxID, est.CurrBoxID, est.PrevPoints, est.CurrPoints, est.Filter.Kept, est.Filter.Assigned)
	return est
}
