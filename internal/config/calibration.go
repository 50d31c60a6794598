package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/banshee-data/collision.report/internal/fusion/projection"
)

// Calibration is the on-disk form of the camera/LiDAR matrices, row-major.
// R_rect and RT accept either their 3×3 / 3×4 KITTI form or the full 4×4.
type Calibration struct {
	PRect []float64 `json:"p_rect_00" yaml:"p_rect_00"`
	RRect []float64 `json:"r_rect_00" yaml:"r_rect_00"`
	RT    []float64 `json:"rt" yaml:"rt"`
}

// LoadCalibration reads a JSON calibration file and checks its matrices.
func LoadCalibration(path string) (*Calibration, error) {
	_, data, err := readConfigFile(path, ".json")
	if err != nil {
		return nil, err
	}

	var cal Calibration
	if err := json.Unmarshal(data, &cal); err != nil {
		return nil, fmt.Errorf("failed to parse calibration %s: %w", filepath.Base(path), err)
	}
	if _, err := cal.Matrices(); err != nil {
		return nil, err
	}
	return &cal, nil
}

// Matrices expands the stored matrices into a projection.Calibration and
// validates it.
func (c *Calibration) Matrices() (projection.Calibration, error) {
	var out projection.Calibration
	if len(c.PRect) != 12 {
		return out, fmt.Errorf("p_rect_00 must have 12 values, got %d", len(c.PRect))
	}
	copy(out.PRect[:], c.PRect)

	r, err := expand4x4("r_rect_00", c.RRect, 9)
	if err != nil {
		return out, err
	}
	out.RRect = r

	rt, err := expand4x4("rt", c.RT, 12)
	if err != nil {
		return out, err
	}
	out.RT = rt

	if err := projection.Validate(out); err != nil {
		return out, err
	}
	return out, nil
}

// expand4x4 pads a 3×3 (short == 9) or 3×4 (short == 12) matrix to a
// homogeneous 4×4; 16 values are taken as is.
func expand4x4(name string, vals []float64, short int) ([16]float64, error) {
	out := projection.Identity4()
	switch len(vals) {
	case 16:
		copy(out[:], vals)
	case short:
		cols := short / 3
		for i := 0; i < 3; i++ {
			for j := 0; j < cols; j++ {
				out[i*4+j] = vals[i*cols+j]
			}
		}
	default:
		return out, fmt.Errorf("%s must have %d or 16 values, got %d", name, short, len(vals))
	}
	return out, nil
}
