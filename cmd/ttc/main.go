// Command ttc estimates per-vehicle time-to-collision over a recorded
// camera/LiDAR sequence.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/banshee-data/collision.report/internal/config"
	"github.com/banshee-data/collision.report/internal/fsutil"
	"github.com/banshee-data/collision.report/internal/fusion"
	"github.com/banshee-data/collision.report/internal/fusion/dataset"
	"github.com/banshee-data/collision.report/internal/fusion/features"
	"github.com/banshee-data/collision.report/internal/fusion/pipeline"
	"github.com/banshee-data/collision.report/internal/fusion/projection"
	"github.com/banshee-data/collision.report/internal/fusion/report"
	"github.com/banshee-data/collision.report/internal/fusion/runner"
	"github.com/banshee-data/collision.report/internal/fusion/storage/sqlite"
	"github.com/banshee-data/collision.report/internal/security"
	"github.com/banshee-data/collision.report/internal/version"
)

var (
	configFile  = flag.String("config", config.DefaultConfigPath, "Path to the fusion configuration (.json, .yaml)")
	calibFile   = flag.String("calib", "config/calib.kitti.json", "Path to the camera/LiDAR calibration")
	dataDir     = flag.String("data", "", "Sequence directory containing frames/ and velodyne/")
	firstFrame  = flag.Int("first", 0, "First frame index")
	lastFrame   = flag.Int("last", 18, "Last frame index (inclusive)")
	dbFile      = flag.String("db", "", "SQLite database for run results (disabled if empty)")
	plotDir     = flag.String("plot-dir", "", "Directory for the TTC charts (disabled if empty)")
	reportRun   = flag.String("report-run", "", "Render charts for a stored run ID into <plot-dir>/<run-id> instead of processing (requires -db and -plot-dir)")
	logLevel    = flag.String("log-level", "diag", "Log streams to enable: ops, diag or trace")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println("ttc", version.String())
		return
	}

	writers, err := logWriters(*logLevel, os.Stderr)
	if err != nil {
		log.Fatal(err)
	}
	fusion.SetLogWriters(writers)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *reportRun != "" {
		if err := renderStored(*reportRun); err != nil {
			log.Fatalf("report: %v", err)
		}
		return
	}
	if err := run(ctx); err != nil {
		log.Fatalf("ttc: %v", err)
	}
}

// logWriters enables the streams up to and including level.
func logWriters(level string, w io.Writer) (fusion.LogWriters, error) {
	switch level {
	case "ops":
		return fusion.LogWriters{Ops: w}, nil
	case "diag":
		return fusion.LogWriters{Ops: w, Diag: w}, nil
	case "trace":
		return fusion.LogWriters{Ops: w, Diag: w, Trace: w}, nil
	}
	return fusion.LogWriters{}, fmt.Errorf("unknown log level %q (want ops, diag or trace)", level)
}

func run(ctx context.Context) error {
	if *dataDir == "" {
		return fmt.Errorf("-data is required")
	}

	cfg, err := config.LoadFusionConfig(*configFile)
	if err != nil {
		return err
	}
	cal, err := config.LoadCalibration(*calibFile)
	if err != nil {
		return err
	}
	matrices, err := cal.Matrices()
	if err != nil {
		return err
	}
	proj, err := projection.New(matrices)
	if err != nil {
		return err
	}
	fusion.Opsf("loaded config %s and calibration %s", *configFile, *calibFile)

	collector := report.NewCollector()
	pcfg := cfg.PipelineConfig()
	logObs := pipeline.LogObserver{FrameRate: pcfg.FrameRate, SpeedUnits: cfg.GetSpeedUnits()}
	proc, err := pipeline.New(pcfg, proj, pipeline.MultiObserver{logObs, collector})
	if err != nil {
		return err
	}

	opts := runner.Options{
		Sequence: dataset.Sequence{
			FS:    fsutil.OSFileSystem{},
			Dir:   *dataDir,
			First: *firstFrame,
			Last:  *lastFrame,
			Step:  cfg.GetImageStep(),
		},
		Processor: proc,
	}

	ext, matcher, err := newFeatures(cfg)
	if err != nil {
		return err
	}
	defer ext.Close()
	defer matcher.Close()
	opts.Extractor, opts.Matcher = ext, matcher

	if *dbFile != "" {
		db, err := sqlite.Open(*dbFile)
		if err != nil {
			return err
		}
		defer db.Close()
		opts.Store = sqlite.NewRunStore(db)
		if opts.ConfigJSON, err = json.Marshal(cfg); err != nil {
			return err
		}
	}

	r, err := runner.New(opts)
	if err != nil {
		return err
	}
	sum, err := r.Run(ctx)
	if err != nil {
		return err
	}

	if *plotDir != "" {
		title := "TTC " + filepath.Base(*dataDir)
		if sum.RunID != "" {
			title += " (" + sum.RunID + ")"
		}
		paths, err := report.Write(fsutil.OSFileSystem{}, *plotDir, title, collector.Series())
		if err != nil {
			return err
		}
		fusion.Opsf("wrote %v", paths)
	}
	return nil
}

func newFeatures(cfg *config.FusionConfig) (*features.Extractor, *features.Matcher, error) {
	kind, err := features.ParseDetector(cfg.GetDetector())
	if err != nil {
		return nil, nil, err
	}
	sel, err := features.ParseSelector(cfg.GetSelector())
	if err != nil {
		return nil, nil, err
	}
	ext, err := features.NewExtractor(kind)
	if err != nil {
		return nil, nil, err
	}
	matcher, err := features.NewMatcher(kind, sel, features.DefaultRatio)
	if err != nil {
		ext.Close()
		return nil, nil, err
	}
	return ext, matcher, nil
}

// renderStored re-renders the charts of a stored run.
func renderStored(runID string) error {
	if *dbFile == "" || *plotDir == "" {
		return fmt.Errorf("-report-run requires -db and -plot-dir")
	}
	db, err := sqlite.Open(*dbFile)
	if err != nil {
		return err
	}
	defer db.Close()

	store := sqlite.NewRunStore(db)
	run, err := store.GetRun(runID)
	if err != nil {
		return err
	}
	estimates, err := store.ListEstimates(runID)
	if err != nil {
		return err
	}
	title := fmt.Sprintf("TTC %s (%s)", filepath.Base(run.SequenceDir), run.RunID)
	dir := filepath.Join(*plotDir, security.SanitizeFilename(run.RunID))
	paths, err := report.Write(fsutil.OSFileSystem{}, dir, title, report.FromStored(estimates))
	if err != nil {
		return err
	}
	fusion.Opsf("run %s: %d estimates, wrote %v", runID, len(estimates), paths)
	return nil
}
