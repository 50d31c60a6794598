package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/collision.report/internal/fusion/associate"
	"github.com/banshee-data/collision.report/internal/fusion/pipeline"
	"github.com/banshee-data/collision.report/internal/fusion/ttc"
	"github.com/banshee-data/collision.report/internal/units"
)

// DefaultConfigPath is the path to the canonical fusion defaults file.
const DefaultConfigPath = "config/fusion.defaults.json"

// maxFileSize caps configuration and calibration files.
const maxFileSize = 1 * 1024 * 1024 // 1MB

// FusionConfig holds the estimation parameters. Every field is optional;
// the Get* methods fall back to the defaults for omitted fields, so
// partial configs are safe.
type FusionConfig struct {
	// Association
	ShrinkFactor *float64    `json:"shrink_factor,omitempty" yaml:"shrink_factor,omitempty" validate:"omitempty,gte=0,lt=1"`
	Crop         *CropConfig `json:"crop,omitempty" yaml:"crop,omitempty"`

	// Keypoint filtering and estimation
	FrameRate          *float64 `json:"frame_rate,omitempty" yaml:"frame_rate,omitempty" validate:"omitempty,gt=0"`
	MinKeypointDist    *float64 `json:"min_keypoint_dist,omitempty" yaml:"min_keypoint_dist,omitempty" validate:"omitempty,gt=0"`
	MatchDistanceRatio *float64 `json:"match_distance_ratio,omitempty" yaml:"match_distance_ratio,omitempty" validate:"omitempty,gt=0"`
	LidarTrimFraction  *float64 `json:"lidar_trim_fraction,omitempty" yaml:"lidar_trim_fraction,omitempty" validate:"omitempty,gt=0,lt=1"`
	RequireLidarPoints *bool    `json:"require_lidar_points,omitempty" yaml:"require_lidar_points,omitempty"`

	// Sequence and execution
	ImageStep *int `json:"image_step,omitempty" yaml:"image_step,omitempty" validate:"omitempty,gte=1"`
	Workers   *int `json:"workers,omitempty" yaml:"workers,omitempty" validate:"omitempty,gte=1,lte=64"`

	// Feature extraction, used when frame records carry images only
	Detector *string `json:"detector,omitempty" yaml:"detector,omitempty" validate:"omitempty,oneof=ORB BRISK AKAZE SIFT"`
	Selector *string `json:"selector,omitempty" yaml:"selector,omitempty" validate:"omitempty,oneof=NN KNN"`

	// Display
	SpeedUnits *string `json:"speed_units,omitempty" yaml:"speed_units,omitempty"`
}

// CropConfig bounds the LiDAR region of interest (metres, sensor frame).
type CropConfig struct {
	Enabled *bool    `json:"enabled,omitempty" yaml:"enabled,omitempty"`
	MinX    *float64 `json:"min_x,omitempty" yaml:"min_x,omitempty"`
	MaxX    *float64 `json:"max_x,omitempty" yaml:"max_x,omitempty"`
	MaxY    *float64 `json:"max_y,omitempty" yaml:"max_y,omitempty" validate:"omitempty,gte=0"`
	MinZ    *float64 `json:"min_z,omitempty" yaml:"min_z,omitempty"`
	MaxZ    *float64 `json:"max_z,omitempty" yaml:"max_z,omitempty"`
	MinR    *float64 `json:"min_r,omitempty" yaml:"min_r,omitempty" validate:"omitempty,gte=0"`
}

// CropBounds are resolved crop limits.
type CropBounds struct {
	MinX, MaxX, MaxY, MinZ, MaxZ, MinR float64
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }

// EmptyFusionConfig returns a FusionConfig with all fields nil.
func EmptyFusionConfig() *FusionConfig {
	return &FusionConfig{}
}

// DefaultFusionConfig returns a FusionConfig with every field set to its
// default.
func DefaultFusionConfig() *FusionConfig {
	return &FusionConfig{
		ShrinkFactor: ptrFloat64(0.10),
		Crop: &CropConfig{
			Enabled: ptrBool(true),
			MinX:    ptrFloat64(2.0),
			MaxX:    ptrFloat64(20.0),
			MaxY:    ptrFloat64(2.0),
			MinZ:    ptrFloat64(-1.5),
			MaxZ:    ptrFloat64(-0.9),
			MinR:    ptrFloat64(0.1),
		},
		FrameRate:          ptrFloat64(10),
		MinKeypointDist:    ptrFloat64(100),
		MatchDistanceRatio: ptrFloat64(1.5),
		LidarTrimFraction:  ptrFloat64(0.03),
		RequireLidarPoints: ptrBool(true),
		ImageStep:          ptrInt(1),
		Workers:            ptrInt(1),
		Detector:           ptrString("ORB"),
		Selector:           ptrString("KNN"),
		SpeedUnits:         ptrString(units.KPH),
	}
}

// readConfigFile checks the extension and size of path and returns its
// contents.
func readConfigFile(path string, exts ...string) (string, []byte, error) {
	cleanPath := filepath.Clean(path)
	ext := filepath.Ext(cleanPath)
	allowed := false
	for _, e := range exts {
		if ext == e {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", nil, fmt.Errorf("config file must have one of %v extensions, got %q", exts, ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return "", nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ext, data, nil
}

// LoadFusionConfig loads a FusionConfig from a .json, .yaml or .yml file
// of at most 1MB and validates it.
func LoadFusionConfig(path string) (*FusionConfig, error) {
	ext, data, err := readConfigFile(path, ".json", ".yaml", ".yml")
	if err != nil {
		return nil, err
	}

	cfg := EmptyFusionConfig()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", filepath.Base(path), err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *FusionConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,       // from internal/config/
		"../../../" + DefaultConfigPath,    // from internal/fusion/<pkg>/
		"../../../../" + DefaultConfigPath, // from internal/fusion/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadFusionConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

var validate = validator.New()

// Validate checks field ranges and crop consistency.
func (c *FusionConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.SpeedUnits != nil && *c.SpeedUnits != "" && !units.IsValid(*c.SpeedUnits) {
		return fmt.Errorf("speed_units must be one of: %s", units.GetValidUnitsString())
	}
	if c.Crop != nil {
		b := c.GetCrop()
		if b.MinX >= b.MaxX {
			return fmt.Errorf("crop min_x (%g) must be below max_x (%g)", b.MinX, b.MaxX)
		}
		if b.MinZ >= b.MaxZ {
			return fmt.Errorf("crop min_z (%g) must be below max_z (%g)", b.MinZ, b.MaxZ)
		}
	}
	return nil
}

// GetShrinkFactor returns the shrink_factor value or the default.
func (c *FusionConfig) GetShrinkFactor() float64 {
	if c.ShrinkFactor == nil {
		return 0.10
	}
	return *c.ShrinkFactor
}

// GetFrameRate returns the frame_rate value (Hz) or the default.
func (c *FusionConfig) GetFrameRate() float64 {
	if c.FrameRate == nil {
		return 10
	}
	return *c.FrameRate
}

// GetMinKeypointDist returns the min_keypoint_dist value (pixels) or the default.
func (c *FusionConfig) GetMinKeypointDist() float64 {
	if c.MinKeypointDist == nil {
		return 100
	}
	return *c.MinKeypointDist
}

// GetMatchDistanceRatio returns the match_distance_ratio value or the default.
func (c *FusionConfig) GetMatchDistanceRatio() float64 {
	if c.MatchDistanceRatio == nil {
		return 1.5
	}
	return *c.MatchDistanceRatio
}

// GetLidarTrimFraction returns the lidar_trim_fraction value or the default.
func (c *FusionConfig) GetLidarTrimFraction() float64 {
	if c.LidarTrimFraction == nil {
		return 0.03
	}
	return *c.LidarTrimFraction
}

// GetRequireLidarPoints returns the require_lidar_points value or the default.
func (c *FusionConfig) GetRequireLidarPoints() bool {
	if c.RequireLidarPoints == nil {
		return true
	}
	return *c.RequireLidarPoints
}

// GetImageStep returns the image_step value or the default.
func (c *FusionConfig) GetImageStep() int {
	if c.ImageStep == nil {
		return 1
	}
	return *c.ImageStep
}

// GetWorkers returns the workers value or the default.
func (c *FusionConfig) GetWorkers() int {
	if c.Workers == nil {
		return 1
	}
	return *c.Workers
}

// GetDetector returns the detector value or the default.
func (c *FusionConfig) GetDetector() string {
	if c.Detector == nil {
		return "ORB"
	}
	return *c.Detector
}

// GetSelector returns the selector value or the default.
func (c *FusionConfig) GetSelector() string {
	if c.Selector == nil {
		return "KNN"
	}
	return *c.Selector
}

// GetSpeedUnits returns the speed_units value or the default. An empty
// value turns closing speed reporting off.
func (c *FusionConfig) GetSpeedUnits() string {
	if c.SpeedUnits == nil {
		return units.KPH
	}
	return *c.SpeedUnits
}

// GetCropEnabled reports whether points are cropped before association.
func (c *FusionConfig) GetCropEnabled() bool {
	if c.Crop == nil || c.Crop.Enabled == nil {
		return true
	}
	return *c.Crop.Enabled
}

// GetCrop returns the crop bounds, field by field falling back to the
// defaults.
func (c *FusionConfig) GetCrop() CropBounds {
	b := CropBounds{MinX: 2.0, MaxX: 20.0, MaxY: 2.0, MinZ: -1.5, MaxZ: -0.9, MinR: 0.1}
	if c.Crop == nil {
		return b
	}
	set := func(dst *float64, src *float64) {
		if src != nil {
			*dst = *src
		}
	}
	set(&b.MinX, c.Crop.MinX)
	set(&b.MaxX, c.Crop.MaxX)
	set(&b.MaxY, c.Crop.MaxY)
	set(&b.MinZ, c.Crop.MinZ)
	set(&b.MaxZ, c.Crop.MaxZ)
	set(&b.MinR, c.Crop.MinR)
	return b
}

// PipelineConfig converts the configuration into processor parameters.
// Consecutive processed frames are image_step sensor frames apart, so the
// effective frame rate is frame_rate / image_step.
func (c *FusionConfig) PipelineConfig() pipeline.Config {
	cfg := pipeline.Config{
		ShrinkFactor:       c.GetShrinkFactor(),
		FrameRate:          c.GetFrameRate() / float64(c.GetImageStep()),
		MatchDistanceRatio: c.GetMatchDistanceRatio(),
		Camera:             ttc.CameraOptions{MinKeypointDistance: c.GetMinKeypointDist()},
		Lidar:              ttc.LidarOptions{TrimFraction: c.GetLidarTrimFraction()},
		RequireLidarPoints: c.GetRequireLidarPoints(),
		Workers:            c.GetWorkers(),
	}
	if c.GetCropEnabled() {
		b := c.GetCrop()
		cfg.Crop = &associate.CropBox{
			MinX: b.MinX, MaxX: b.MaxX,
			MaxY: b.MaxY,
			MinZ: b.MinZ, MaxZ: b.MaxZ,
			MinR: b.MinR,
		}
	}
	return cfg
}
