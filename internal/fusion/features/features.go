// Package features detects keypoints in camera images and matches their
// descriptors between frames using OpenCV through gocv.
//
// It is the reference implementation of fusion.FeatureExtractor and
// fusion.DescriptorMatcher used by the ttc command when frame records
// carry images instead of precomputed correspondences.
package features

import (
	"fmt"
	"strings"

	"gocv.io/x/gocv"

	"github.com/banshee-data/collision.report/internal/fusion"
)

// Detector names a keypoint detector and descriptor extractor.
type Detector string

const (
	ORB   Detector = "ORB"
	BRISK Detector = "BRISK"
	AKAZE Detector = "AKAZE"
	SIFT  Detector = "SIFT"
)

// Selector chooses how candidate matches are selected.
type Selector string

const (
	// NearestNeighbour keeps the best match of every query descriptor.
	NearestNeighbour Selector = "NN"
	// KNearest keeps the best match only when it passes the ratio test
	// against the second best.
	KNearest Selector = "KNN"
)

// DefaultRatio is the descriptor distance ratio of the k=2 test.
const DefaultRatio = 0.8

// ParseDetector maps a case-insensitive name to a Detector.
func ParseDetector(name string) (Detector, error) {
	switch d := Detector(strings.ToUpper(name)); d {
	case ORB, BRISK, AKAZE, SIFT:
		return d, nil
	}
	return "", fmt.Errorf("features: unknown detector %q", name)
}

// ParseSelector maps a case-insensitive name to a Selector.
func ParseSelector(name string) (Selector, error) {
	switch s := Selector(strings.ToUpper(name)); s {
	case NearestNeighbour, KNearest:
		return s, nil
	}
	return "", fmt.Errorf("features: unknown selector %q", name)
}

// binary reports whether the detector produces binary descriptors.
func (d Detector) binary() bool {
	return d != SIFT
}

type detector interface {
	DetectAndCompute(src gocv.Mat, mask gocv.Mat) ([]gocv.KeyPoint, gocv.Mat)
	Close() error
}

// Extractor implements fusion.FeatureExtractor. It is not safe for
// concurrent use.
type Extractor struct {
	kind Detector
	det  detector
}

// NewExtractor creates the OpenCV detector for kind. Close releases it.
func NewExtractor(kind Detector) (*Extractor, error) {
	var det detector
	switch kind {
	case ORB:
		d := gocv.NewORB()
		det = &d
	case BRISK:
		d := gocv.NewBRISK()
		det = &d
	case AKAZE:
		d := gocv.NewAKAZE()
		det = &d
	case SIFT:
		d := gocv.NewSIFT()
		det = &d
	default:
		return nil, fmt.Errorf("features: unknown detector %q", kind)
	}
	return &Extractor{kind: kind, det: det}, nil
}

// Detector returns the detector kind.
func (e *Extractor) Detector() Detector {
	return e.kind
}

// Extract loads imagePath as grayscale and returns its keypoints and
// descriptors. The caller closes the descriptors.
func (e *Extractor) Extract(imagePath string) ([]fusion.Keypoint, fusion.Descriptors, error) {
	img := gocv.IMRead(imagePath, gocv.IMReadGrayScale)
	if img.Empty() {
		img.Close()
		return nil, nil, fmt.Errorf("features: cannot read image %s", imagePath)
	}
	defer img.Close()

	mask := gocv.NewMat()
	defer mask.Close()

	kps, desc := e.det.DetectAndCompute(img, mask)
	out := make([]fusion.Keypoint, len(kps))
	for i, k := range kps {
		out[i] = fusion.Keypoint{
			Pt:       r2Point(k.X, k.Y),
			Size:     k.Size,
			Angle:    k.Angle,
			Response: k.Response,
			Octave:   k.Octave,
		}
	}
	fusion.Tracef("features: %s %d keypoints in %s", e.kind, len(out), imagePath)
	return out, &descriptorSet{mat: desc}, nil
}

// Close releases the detector.
func (e *Extractor) Close() error {
	return e.det.Close()
}

// descriptorSet owns an OpenCV descriptor matrix, one row per keypoint.
type descriptorSet struct {
	mat gocv.Mat
}

func (d *descriptorSet) Rows() int {
	if d == nil {
		return 0
	}
	return d.mat.Rows()
}

func (d *descriptorSet) Close() error {
	return d.mat.Close()
}
