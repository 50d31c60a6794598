package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/banshee-data/collision.report/internal/fusion/ttc"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write %s: %v", name, err)
	}
	return path
}

func TestEmptyConfigUsesDefaults(t *testing.T) {
	empty := EmptyFusionConfig()
	def := DefaultFusionConfig()

	if empty.GetShrinkFactor() != def.GetShrinkFactor() {
		t.Errorf("shrink factor: got %v, want %v", empty.GetShrinkFactor(), def.GetShrinkFactor())
	}
	if empty.GetFrameRate() != 10 {
		t.Errorf("frame rate: got %v, want 10", empty.GetFrameRate())
	}
	if empty.GetMinKeypointDist() != def.GetMinKeypointDist() {
		t.Errorf("min keypoint dist: got %v, want %v", empty.GetMinKeypointDist(), def.GetMinKeypointDist())
	}
	if empty.GetMatchDistanceRatio() != 1.5 {
		t.Errorf("match distance ratio: got %v, want 1.5", empty.GetMatchDistanceRatio())
	}
	if empty.GetLidarTrimFraction() != 0.03 {
		t.Errorf("lidar trim fraction: got %v, want 0.03", empty.GetLidarTrimFraction())
	}
	if !empty.GetRequireLidarPoints() {
		t.Error("require lidar points should default to true")
	}
	if empty.GetImageStep() != 1 || empty.GetWorkers() != 1 {
		t.Errorf("image step/workers: got %d/%d, want 1/1", empty.GetImageStep(), empty.GetWorkers())
	}
	if empty.GetDetector() != "ORB" || empty.GetSelector() != "KNN" {
		t.Errorf("detector/selector: got %s/%s", empty.GetDetector(), empty.GetSelector())
	}
	if empty.GetSpeedUnits() != "kph" {
		t.Errorf("speed units: got %q, want kph", empty.GetSpeedUnits())
	}
	if !empty.GetCropEnabled() {
		t.Error("crop should default to enabled")
	}
	if empty.GetCrop() != def.GetCrop() {
		t.Errorf("crop: got %+v, want %+v", empty.GetCrop(), def.GetCrop())
	}
	if err := def.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestLoadFusionConfig_PartialJSON(t *testing.T) {
	path := writeTemp(t, "partial.json", `{
		"frame_rate": 20,
		"workers": 4,
		"crop": {"max_x": 30, "enabled": false}
	}`)

	cfg, err := LoadFusionConfig(path)
	if err != nil {
		t.Fatalf("LoadFusionConfig failed: %v", err)
	}
	if cfg.GetFrameRate() != 20 {
		t.Errorf("frame rate: got %v, want 20", cfg.GetFrameRate())
	}
	if cfg.GetWorkers() != 4 {
		t.Errorf("workers: got %d, want 4", cfg.GetWorkers())
	}
	if cfg.GetCropEnabled() {
		t.Error("crop should be disabled")
	}
	crop := cfg.GetCrop()
	if crop.MaxX != 30 || crop.MinX != 2.0 || crop.MinZ != -1.5 {
		t.Errorf("crop: got %+v", crop)
	}
	// Omitted fields keep defaults.
	if cfg.GetShrinkFactor() != 0.10 {
		t.Errorf("shrink factor: got %v, want 0.10", cfg.GetShrinkFactor())
	}
}

func TestLoadFusionConfig_YAML(t *testing.T) {
	for _, ext := range []string{".yaml", ".yml"} {
		t.Run(ext, func(t *testing.T) {
			path := writeTemp(t, "fusion"+ext, "shrink_factor: 0.2\ndetector: BRISK\nselector: NN\ncrop:\n  min_r: 0.0\n")
			cfg, err := LoadFusionConfig(path)
			if err != nil {
				t.Fatalf("LoadFusionConfig failed: %v", err)
			}
			if cfg.GetShrinkFactor() != 0.2 {
				t.Errorf("shrink factor: got %v, want 0.2", cfg.GetShrinkFactor())
			}
			if cfg.GetDetector() != "BRISK" || cfg.GetSelector() != "NN" {
				t.Errorf("detector/selector: got %s/%s", cfg.GetDetector(), cfg.GetSelector())
			}
			if cfg.GetCrop().MinR != 0 {
				t.Errorf("min_r: got %v, want 0", cfg.GetCrop().MinR)
			}
		})
	}
}

func TestLoadFusionConfig_Errors(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{"wrong extension", "fusion.toml", `frame_rate = 10`, "extensions"},
		{"malformed json", "bad.json", `{"frame_rate": `, "failed to parse"},
		{"malformed yaml", "bad.yaml", "frame_rate: [", "failed to parse"},
		{"shrink factor of one", "s.json", `{"shrink_factor": 1.0}`, "ShrinkFactor"},
		{"negative frame rate", "f.json", `{"frame_rate": -5}`, "FrameRate"},
		{"trim fraction of one", "l.json", `{"lidar_trim_fraction": 1}`, "LidarTrimFraction"},
		{"zero workers", "w.json", `{"workers": 0}`, "Workers"},
		{"unknown detector", "d.json", `{"detector": "SURF"}`, "Detector"},
		{"unknown selector", "s2.json", `{"selector": "kNN"}`, "Selector"},
		{"unknown speed units", "u.json", `{"speed_units": "knots"}`, "speed_units"},
		{"inverted crop x", "c.json", `{"crop": {"min_x": 25}}`, "min_x"},
		{"inverted crop z", "z.json", `{"crop": {"min_z": 0, "max_z": -1}}`, "min_z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemp(t, tt.file, tt.content)
			_, err := LoadFusionConfig(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not mention %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFusionConfig_MissingAndTooLarge(t *testing.T) {
	if _, err := LoadFusionConfig(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}

	big := `{"frame_rate": 10` + strings.Repeat(" ", maxFileSize) + `}`
	path := writeTemp(t, "big.json", big)
	_, err := LoadFusionConfig(path)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected size error, got %v", err)
	}
}

func TestMustLoadDefaultConfig(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	if !reflect.DeepEqual(cfg, DefaultFusionConfig()) {
		t.Errorf("%s differs from DefaultFusionConfig", DefaultConfigPath)
	}
}

func TestPipelineConfig(t *testing.T) {
	cfg := DefaultFusionConfig().PipelineConfig()
	if cfg.ShrinkFactor != 0.10 || cfg.FrameRate != 10 || cfg.MatchDistanceRatio != 1.5 {
		t.Errorf("unexpected stage parameters: %+v", cfg)
	}
	if cfg.Camera.MinKeypointDistance != 100 || cfg.Lidar.TrimFraction != 0.03 {
		t.Errorf("unexpected estimator options: %+v %+v", cfg.Camera, cfg.Lidar)
	}
	if !cfg.RequireLidarPoints || cfg.Workers != 1 {
		t.Errorf("require points/workers: %v/%d", cfg.RequireLidarPoints, cfg.Workers)
	}
	if cfg.Crop == nil {
		t.Fatal("crop should be set by default")
	}
	if cfg.Crop.MinX != 2 || cfg.Crop.MaxX != 20 || cfg.Crop.MaxY != 2 || cfg.Crop.MinZ != -1.5 || cfg.Crop.MaxZ != -0.9 || cfg.Crop.MinR != 0.1 {
		t.Errorf("crop: %+v", *cfg.Crop)
	}

	off := EmptyFusionConfig()
	off.Crop = &CropConfig{Enabled: ptrBool(false)}
	if off.PipelineConfig().Crop != nil {
		t.Error("disabled crop should leave Crop nil")
	}
}

func TestPipelineConfig_ImageStepScalesFrameRate(t *testing.T) {
	path := writeTemp(t, "step.json", `{"frame_rate": 10, "image_step": 2}`)
	cfg, err := LoadFusionConfig(path)
	if err != nil {
		t.Fatalf("LoadFusionConfig: %v", err)
	}

	pcfg := cfg.PipelineConfig()
	if pcfg.FrameRate != 5 {
		t.Fatalf("FrameRate = %v, want 5 for 10 Hz sampled every 2nd frame", pcfg.FrameRate)
	}

	// 1 m closed over two sensor frames at 10 Hz is 5 m/s.
	est := ttc.LidarEstimate{PrevDistance: 10, CurrDistance: 9}
	if got := est.ClosingSpeed(pcfg.FrameRate); got != 5 {
		t.Errorf("ClosingSpeed = %v, want 5", got)
	}
}
