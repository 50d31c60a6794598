package dataset

import (
	"fmt"
	"path/filepath"

	"github.com/banshee-data/collision.report/internal/fsutil"
	"github.com/banshee-data/collision.report/internal/fusion"
	"github.com/banshee-data/collision.report/internal/security"
)

// Sub-directories of a sequence.
const (
	FramesDir   = "frames"
	VelodyneDir = "velodyne"
)

// Sequence addresses frames First, First+Step, ... up to Last inclusive.
type Sequence struct {
	FS    fsutil.FileSystem
	Dir   string
	First int
	Last  int
	Step  int
}

// Sample is one loaded frame.
type Sample struct {
	Frame *fusion.Frame
	// Matches link the previous sample's keypoints to this frame's.
	Matches []fusion.Correspondence
	// ImagePath is the resolved camera image path, empty if the record
	// names none.
	ImagePath string
}

// Validate checks the index range and step.
func (s Sequence) Validate() error {
	if s.FS == nil {
		return fmt.Errorf("sequence: no filesystem")
	}
	if s.First < 0 || s.Last < s.First {
		return fmt.Errorf("sequence: invalid range %d..%d", s.First, s.Last)
	}
	if s.Step < 1 {
		return fmt.Errorf("sequence: step %d must be at least 1", s.Step)
	}
	if !s.FS.Exists(filepath.Join(s.Dir, FramesDir)) {
		return fmt.Errorf("sequence: %s has no %s directory", s.Dir, FramesDir)
	}
	return nil
}

// Indices lists the frame indices of the sequence.
func (s Sequence) Indices() []int {
	if s.Step < 1 || s.Last < s.First {
		return nil
	}
	out := make([]int, 0, (s.Last-s.First)/s.Step+1)
	for i := s.First; i <= s.Last; i += s.Step {
		out = append(out, i)
	}
	return out
}

// FramePath is the location of the record for index.
func (s Sequence) FramePath(index int) string {
	return filepath.Join(s.Dir, FramesDir, fmt.Sprintf("%06d.json", index))
}

// VelodynePath is the default location of the scan for index.
func (s Sequence) VelodynePath(index int) string {
	return filepath.Join(s.Dir, VelodyneDir, fmt.Sprintf("%06d.bin", index))
}

// resolve maps a record path onto the sequence directory. Paths must be
// relative and stay inside it.
func (s Sequence) resolve(p string) (string, error) {
	if p == "" {
		return "", nil
	}
	return security.ResolveWithin(s.Dir, p)
}

// Load reads the record and LiDAR scan for index. A record may override
// the scan location with its "lidar" field; record paths are relative to
// the sequence directory and may not leave it.
func (s Sequence) Load(index int) (*Sample, error) {
	data, err := s.FS.ReadFile(s.FramePath(index))
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", index, err)
	}
	rec, err := ParseFrameRecord(data)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", index, err)
	}

	scan := s.VelodynePath(index)
	if rec.Lidar != "" {
		if scan, err = s.resolve(rec.Lidar); err != nil {
			return nil, fmt.Errorf("frame %d: lidar: %w", index, err)
		}
	}
	image, err := s.resolve(rec.Image)
	if err != nil {
		return nil, fmt.Errorf("frame %d: image: %w", index, err)
	}
	pts, err := LoadVelodyne(s.FS, scan)
	if err != nil {
		return nil, fmt.Errorf("frame %d: %w", index, err)
	}

	f := rec.Frame(index)
	f.Points = pts
	return &Sample{
		Frame:     f,
		Matches:   rec.Correspondences(),
		ImagePath: image,
	}, nil
}

// LoadPair loads index and checks its matches against the previous
// sample's keypoints.
func (s Sequence) LoadPair(prev *Sample, index int) (*Sample, error) {
	smp, err := s.Load(index)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return smp, nil
	}
	if err := CheckMatches(smp.Matches, len(prev.Frame.Keypoints)); err != nil {
		return nil, fmt.Errorf("frame %d: %w", index, err)
	}
	return smp, nil
}
