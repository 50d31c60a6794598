package dataset

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/banshee-data/collision.report/internal/fsutil"
	"github.com/banshee-data/collision.report/internal/fusion"
)

// velodyneRecordSize is the size of one KITTI point: four float32 values.
const velodyneRecordSize = 16

// ReadVelodyne decodes a KITTI velodyne scan. Points with non-finite
// coordinates are skipped.
func ReadVelodyne(r io.Reader) ([]fusion.RangePoint, error) {
	br := bufio.NewReader(r)
	var (
		rec [velodyneRecordSize]byte
		pts []fusion.RangePoint
	)
	for n := 0; ; n++ {
		_, err := io.ReadFull(br, rec[:])
		if errors.Is(err, io.EOF) {
			return pts, nil
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("velodyne: truncated record %d", n)
		}
		if err != nil {
			return nil, fmt.Errorf("velodyne: record %d: %w", n, err)
		}

		p := fusion.RangePoint{
			X: float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[0:4]))),
			Y: float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[4:8]))),
			Z: float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[8:12]))),
			R: float64(math.Float32frombits(binary.LittleEndian.Uint32(rec[12:16]))),
		}
		if !finite(p.X) || !finite(p.Y) || !finite(p.Z) || !finite(p.R) {
			continue
		}
		pts = append(pts, p)
	}
}

// WriteVelodyne encodes points in the KITTI velodyne layout.
func WriteVelodyne(w io.Writer, pts []fusion.RangePoint) error {
	bw := bufio.NewWriter(w)
	var rec [velodyneRecordSize]byte
	for _, p := range pts {
		binary.LittleEndian.PutUint32(rec[0:4], math.Float32bits(float32(p.X)))
		binary.LittleEndian.PutUint32(rec[4:8], math.Float32bits(float32(p.Y)))
		binary.LittleEndian.PutUint32(rec[8:12], math.Float32bits(float32(p.Z)))
		binary.LittleEndian.PutUint32(rec[12:16], math.Float32bits(float32(p.R)))
		if _, err := bw.Write(rec[:]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// LoadVelodyne reads a scan file.
func LoadVelodyne(fsys fsutil.FileSystem, path string) ([]fusion.RangePoint, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pts, err := ReadVelodyne(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return pts, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
