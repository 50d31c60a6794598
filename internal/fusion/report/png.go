package report

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/collision.report/internal/fsutil"
)

// segments splits the defined values of one sensor into runs of
// consecutive points, so that undefined estimates break the line.
func segments(pts []Point, value func(Point) *float64) []plotter.XYs {
	var (
		out []plotter.XYs
		cur plotter.XYs
	)
	for _, p := range pts {
		v := value(p)
		if v == nil {
			if len(cur) > 0 {
				out = append(out, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, plotter.XY{X: float64(p.Frame), Y: *v})
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

func lidarValue(p Point) *float64  { return p.Lidar }
func cameraValue(p Point) *float64 { return p.Camera }

// newPlot builds the TTC plot: solid lines for LiDAR, dashed for camera,
// one colour per box.
func newPlot(title string, series []Series) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Frame"
	p.Y.Label.Text = "TTC (s)"
	p.Add(plotter.NewGrid())

	for i, s := range series {
		color := plotutil.Color(i)
		for _, sensor := range []struct {
			name   string
			value  func(Point) *float64
			dashes []vg.Length
		}{
			{"lidar", lidarValue, nil},
			{"camera", cameraValue, []vg.Length{vg.Points(4), vg.Points(2)}},
		} {
			for k, seg := range segments(s.Points, sensor.value) {
				line, points, err := plotter.NewLinePoints(seg)
				if err != nil {
					return nil, err
				}
				line.Color = color
				line.Width = vg.Points(1)
				line.Dashes = sensor.dashes
				points.Color = color
				points.Radius = vg.Points(1.5)
				p.Add(line, points)
				if k == 0 {
					p.Legend.Add(fmt.Sprintf("%s %s", s.Label(), sensor.name), line)
				}
			}
		}
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WritePNG renders series to a PNG at path.
func WritePNG(fsys fsutil.FileSystem, path, title string, series []Series) error {
	p, err := newPlot(title, series)
	if err != nil {
		return fmt.Errorf("report: build plot: %w", err)
	}
	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}

	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("report: write %s: %w", path, err)
	}
	return f.Close()
}
