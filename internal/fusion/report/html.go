package report

import (
	"fmt"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/collision.report/internal/fsutil"
)

// missing is the echarts marker for an absent value.
const missing = "-"

// lineData lays the values of one sensor on the frame axis first..last.
func lineData(pts []Point, first, last int, value func(Point) *float64) []opts.LineData {
	data := make([]opts.LineData, last-first+1)
	for i := range data {
		data[i] = opts.LineData{Value: missing}
	}
	for _, p := range pts {
		if v := value(p); v != nil {
			data[p.Frame-first] = opts.LineData{Value: *v}
		}
	}
	return data
}

func newLineChart(title string, s Series, first, last int) *charts.Line {
	frames := make([]int, 0, last-first+1)
	for f := first; f <= last; f++ {
		frames = append(frames, f)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1200px", Height: "420px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: s.Label()}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Frame", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "TTC (s)", NameLocation: "middle", NameGap: 40}),
	)
	gaps := charts.WithLineChartOpts(opts.LineChart{ConnectNulls: opts.Bool(false), ShowSymbol: opts.Bool(true)})
	line.SetXAxis(frames).
		AddSeries("lidar", lineData(s.Points, first, last, lidarValue), gaps).
		AddSeries("camera", lineData(s.Points, first, last, cameraValue), gaps)
	return line
}

// WriteHTML renders one line chart per box into a single HTML page.
func WriteHTML(fsys fsutil.FileSystem, path, title string, series []Series) error {
	page := components.NewPage()
	page.PageTitle = title

	if first, last, ok := frameRange(series); ok {
		for _, s := range series {
			page.AddCharts(newLineChart(title, s, first, last))
		}
	}

	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("report: %w", err)
	}
	if err := page.Render(f); err != nil {
		f.Close()
		return fmt.Errorf("report: render %s: %w", path, err)
	}
	return f.Close()
}
