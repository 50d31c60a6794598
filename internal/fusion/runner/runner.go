// Package runner walks a dataset sequence through the pipeline, feeding
// each consecutive frame pair to a Processor and persisting the results.
package runner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/banshee-data/collision.report/internal/fusion"
	"github.com/banshee-data/collision.report/internal/fusion/dataset"
	"github.com/banshee-data/collision.report/internal/fusion/pipeline"
	"github.com/banshee-data/collision.report/internal/fusion/storage/sqlite"
)

// Options configure a Run.
type Options struct {
	Sequence  dataset.Sequence
	Processor *pipeline.Processor

	// Extractor and Matcher, when both set, supply keypoints and
	// correspondences for records that name an image but carry no
	// keypoints.
	Extractor fusion.FeatureExtractor
	Matcher   fusion.DescriptorMatcher

	// Store, when set, records the run and every estimate.
	Store      *sqlite.RunStore
	ConfigJSON json.RawMessage
}

// Summary counts what a run produced.
type Summary struct {
	RunID     string
	Frames    int
	Pairs     int
	Estimates int
	LidarTTCs int // defined LiDAR estimates
	CamTTCs   int // defined camera estimates
}

// Runner holds the state carried between frames.
type Runner struct {
	opts     Options
	buf      *fusion.FrameBuffer
	prev     *dataset.Sample
	prevDesc fusion.Descriptors
}

// New checks opts and returns a Runner.
func New(opts Options) (*Runner, error) {
	if opts.Processor == nil {
		return nil, fmt.Errorf("runner: processor is required")
	}
	if (opts.Extractor == nil) != (opts.Matcher == nil) {
		return nil, fmt.Errorf("runner: extractor and matcher must be set together")
	}
	if err := opts.Sequence.Validate(); err != nil {
		return nil, err
	}
	return &Runner{opts: opts, buf: fusion.NewFrameBuffer(2)}, nil
}

// Run processes every frame of the sequence. A frame that cannot be
// loaded or prepared ends the run; per-box estimation failures do not.
// When a store is configured the run is marked completed or failed.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	sum := &Summary{}
	defer r.release()

	if r.opts.Store != nil {
		run := &sqlite.Run{
			SequenceDir: r.opts.Sequence.Dir,
			FirstFrame:  r.opts.Sequence.First,
			LastFrame:   r.opts.Sequence.Last,
			ConfigJSON:  r.opts.ConfigJSON,
		}
		if err := r.opts.Store.StartRun(run); err != nil {
			return nil, err
		}
		sum.RunID = run.RunID
		fusion.Opsf("run %s started over %s frames %d..%d", run.RunID, run.SequenceDir, run.FirstFrame, run.LastFrame)
	}

	runErr := r.walk(ctx, sum)

	if r.opts.Store != nil {
		if err := r.opts.Store.FinishRun(sum.RunID, runErr); err != nil {
			fusion.Opsf("run %s: failed to record completion: %v", sum.RunID, err)
		}
	}
	if runErr != nil {
		return sum, runErr
	}
	fusion.Opsf("processed %d frames, %d pairs: %d estimates (%d lidar, %d camera)",
		sum.Frames, sum.Pairs, sum.Estimates, sum.LidarTTCs, sum.CamTTCs)
	return sum, nil
}

func (r *Runner) walk(ctx context.Context, sum *Summary) error {
	for _, idx := range r.opts.Sequence.Indices() {
		if err := ctx.Err(); err != nil {
			return err
		}
		smp, err := r.opts.Sequence.LoadPair(r.prev, idx)
		if err != nil {
			return err
		}
		if err := r.detect(smp); err != nil {
			return err
		}
		if _, err := r.opts.Processor.Prepare(ctx, smp.Frame); err != nil {
			return err
		}
		r.buf.Push(smp.Frame)
		r.prev = smp
		sum.Frames++

		prev, curr, ok := r.buf.Pair()
		if !ok {
			continue
		}
		res, err := r.opts.Processor.Process(ctx, prev, curr, smp.Matches)
		if err != nil {
			return err
		}
		sum.Pairs++
		if err := r.record(sum, res); err != nil {
			return err
		}
	}
	return nil
}

// detect fills keypoints and matches from the camera image when the
// record carries none.
func (r *Runner) detect(smp *dataset.Sample) error {
	if r.opts.Extractor == nil || smp.ImagePath == "" || len(smp.Frame.Keypoints) > 0 {
		r.dropDescriptors()
		return nil
	}
	kps, desc, err := r.opts.Extractor.Extract(smp.ImagePath)
	if err != nil {
		return fmt.Errorf("frame %d: %w", smp.Frame.Index, err)
	}
	smp.Frame.Keypoints = kps

	if r.prevDesc != nil {
		matches, err := r.opts.Matcher.Match(r.prevDesc, desc)
		if err != nil {
			desc.Close()
			return fmt.Errorf("frame %d: %w", smp.Frame.Index, err)
		}
		smp.Matches = matches
		fusion.Tracef("frame %d: %d keypoints, %d matches", smp.Frame.Index, len(kps), len(matches))
	}
	r.dropDescriptors()
	r.prevDesc = desc
	return nil
}

func (r *Runner) record(sum *Summary, res *pipeline.PairResult) error {
	stored := make([]sqlite.Estimate, 0, len(res.Estimates))
	for _, est := range res.Estimates {
		sum.Estimates++
		if _, ok := est.LidarTTC(); ok {
			sum.LidarTTCs++
		}
		if _, ok := est.CameraTTC(); ok {
			sum.CamTTCs++
		}
		stored = append(stored, sqlite.EstimateFromBox(sum.RunID, est))
	}
	if r.opts.Store == nil {
		return nil
	}
	if err := r.opts.Store.InsertEstimates(stored); err != nil {
		return fmt.Errorf("frame %d: %w", res.CurrFrame, err)
	}
	return nil
}

func (r *Runner) dropDescriptors() {
	if r.prevDesc != nil {
		r.prevDesc.Close()
		r.prevDesc = nil
	}
}

func (r *Runner) release() {
	r.dropDescriptors()
	r.buf.Clear()
	r.prev = nil
}
