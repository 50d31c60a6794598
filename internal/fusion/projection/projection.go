// Package projection maps LiDAR range points into camera pixel coordinates.
//
// The camera model is the KITTI rectified one: a 3×4 intrinsic projection
// P_rect, a 4×4 rectifying rotation R_rect and a 4×4 LiDAR-to-camera rigid
// transform RT. The three are multiplied once when the Projector is built.
package projection

import (
	"fmt"
	"math"

	"github.com/golang/geo/r2"
	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/collision.report/internal/fusion"
)

// MatrixValidationTolerance is the tolerance for checking that rotation
// blocks have unit determinant and homogeneous rows are exact.
const MatrixValidationTolerance = 0.01

// Calibration holds the camera/LiDAR matrices in row-major order.
type Calibration struct {
	PRect [12]float64 // 3×4 intrinsic projection
	RRect [16]float64 // 4×4 rectifying rotation
	RT    [16]float64 // 4×4 LiDAR→camera rigid transform
}

// Projector projects range points with a fixed combined matrix.
// It is safe for concurrent use.
type Projector struct {
	m [12]float64 // P_rect · R_rect · RT, row-major 3×4
}

// New validates cal and precomputes the combined projection. A non-nil
// error wraps fusion.ErrInvalidCalibration and is fatal for the run.
func New(cal Calibration) (*Projector, error) {
	if err := Validate(cal); err != nil {
		return nil, err
	}

	p := mat.NewDense(3, 4, cal.PRect[:])
	r := mat.NewDense(4, 4, cal.RRect[:])
	rt := mat.NewDense(4, 4, cal.RT[:])

	var rrt mat.Dense
	rrt.Mul(r, rt)
	var combined mat.Dense
	combined.Mul(p, &rrt)

	proj := &Projector{}
	for i := 0; i < 3; i++ {
		for j := 0; j < 4; j++ {
			proj.m[i*4+j] = combined.At(i, j)
		}
	}
	return proj, nil
}

// Project returns the pixel position of pt. ok is false when the point
// lies on or behind the image plane (non-positive depth), in which case
// the pixel is meaningless and must not be used for containment tests.
func (p *Projector) Project(pt fusion.RangePoint) (px r2.Point, ok bool) {
	m := &p.m
	u := m[0]*pt.X + m[1]*pt.Y + m[2]*pt.Z + m[3]
	v := m[4]*pt.X + m[5]*pt.Y + m[6]*pt.Z + m[7]
	w := m[8]*pt.X + m[9]*pt.Y + m[10]*pt.Z + m[11]
	if w <= 0 || math.IsNaN(w) {
		return r2.Point{}, false
	}
	return r2.Point{X: u / w, Y: v / w}, true
}

// Validate checks the calibration matrices for structural problems.
func Validate(cal Calibration) error {
	for name, vals := range map[string][]float64{
		"P_rect": cal.PRect[:],
		"R_rect": cal.RRect[:],
		"RT":     cal.RT[:],
	} {
		for i, v := range vals {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: %s[%d] is not finite", fusion.ErrInvalidCalibration, name, i)
			}
		}
	}

	if cal.PRect[0] <= 0 || cal.PRect[5] <= 0 {
		return fmt.Errorf("%w: P_rect focal lengths must be positive, got fx=%g fy=%g",
			fusion.ErrInvalidCalibration, cal.PRect[0], cal.PRect[5])
	}
	if cal.PRect[8] != 0 || cal.PRect[9] != 0 || cal.PRect[10] == 0 {
		return fmt.Errorf("%w: P_rect third row must be [0 0 f t] with f != 0", fusion.ErrInvalidCalibration)
	}
	if !IsValidTransformMatrix(cal.RRect) {
		return fmt.Errorf("%w: R_rect is not a proper rotation", fusion.ErrInvalidCalibration)
	}
	if !IsValidTransformMatrix(cal.RT) {
		return fmt.Errorf("%w: RT is not a proper rigid transform", fusion.ErrInvalidCalibration)
	}
	return nil
}

// IsValidTransformMatrix checks if a 4x4 row-major matrix is a rigid
// transform: the rotation block has determinant ≈ 1 and the last row is
// [0 0 0 1].
func IsValidTransformMatrix(T [16]float64) bool {
	r00, r01, r02 := T[0], T[1], T[2]
	r10, r11, r12 := T[4], T[5], T[6]
	r20, r21, r22 := T[8], T[9], T[10]

	det := r00*(r11*r22-r12*r21) - r01*(r10*r22-r12*r20) + r02*(r10*r21-r11*r20)
	if math.Abs(det-1.0) > MatrixValidationTolerance {
		return false
	}

	if T[12] != 0 || T[13] != 0 || T[14] != 0 || math.Abs(T[15]-1.0) > 0.001 {
		return false
	}
	return true
}

// Identity4 returns the 4×4 identity in row-major order.
func Identity4() [16]float64 {
	return [16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}
}
