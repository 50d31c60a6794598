package features

import (
	"fmt"

	"github.com/golang/geo/r2"
	"gocv.io/x/gocv"

	"github.com/banshee-data/collision.report/internal/fusion"
)

// Matcher implements fusion.DescriptorMatcher with a brute-force matcher.
// Binary descriptors use the Hamming norm, SIFT uses L2.
type Matcher struct {
	bf       gocv.BFMatcher
	selector Selector
	ratio    float64
}

// NewMatcher creates a brute-force matcher for descriptors produced by
// kind. A ratio <= 0 selects DefaultRatio.
func NewMatcher(kind Detector, selector Selector, ratio float64) (*Matcher, error) {
	if selector != NearestNeighbour && selector != KNearest {
		return nil, fmt.Errorf("features: unknown selector %q", selector)
	}
	if ratio <= 0 {
		ratio = DefaultRatio
	}
	norm := gocv.NormL2
	if kind.binary() {
		norm = gocv.NormHamming
	}
	return &Matcher{
		bf:       gocv.NewBFMatcherWithParams(norm, false),
		selector: selector,
		ratio:    ratio,
	}, nil
}

// Match finds, for every previous descriptor, its match among the current
// descriptors. PrevIdx and CurrIdx index the keypoints the descriptors
// were extracted with.
func (m *Matcher) Match(prev, curr fusion.Descriptors) ([]fusion.Correspondence, error) {
	p, ok := prev.(*descriptorSet)
	if !ok {
		return nil, fmt.Errorf("features: previous descriptors of type %T", prev)
	}
	c, ok := curr.(*descriptorSet)
	if !ok {
		return nil, fmt.Errorf("features: current descriptors of type %T", curr)
	}
	if p.Rows() == 0 || c.Rows() == 0 {
		return nil, nil
	}

	k := 1
	if m.selector == KNearest {
		k = 2
	}
	knn := m.bf.KnnMatch(p.mat, c.mat, k)

	out := make([]fusion.Correspondence, 0, len(knn))
	discarded := 0
	for _, cands := range knn {
		if len(cands) == 0 {
			continue
		}
		best := cands[0]
		if m.selector == KNearest {
			if len(cands) < 2 || best.Distance >= m.ratio*cands[1].Distance {
				discarded++
				continue
			}
		}
		out = append(out, fusion.Correspondence{
			PrevIdx:  best.QueryIdx,
			CurrIdx:  best.TrainIdx,
			Distance: best.Distance,
		})
	}
	fusion.Tracef("features: %d matches, %d discarded by ratio test", len(out), discarded)
	return out, nil
}

// Close releases the matcher.
func (m *Matcher) Close() error {
	return m.bf.Close()
}

func r2Point(x, y float64) r2.Point {
	return r2.Point{X: x, Y: y}
}
