// Package report renders TTC series as charts: a PNG via gonum/plot and an
// interactive HTML page via go-echarts. Undefined estimates are drawn as
// gaps.
package report

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/banshee-data/collision.report/internal/fsutil"
	"github.com/banshee-data/collision.report/internal/fusion/pipeline"
	"github.com/banshee-data/collision.report/internal/fusion/storage/sqlite"
)

// Point is the pair of estimates for one box at one frame. A nil value is
// an undefined estimate.
type Point struct {
	Frame  int
	Lidar  *float64
	Camera *float64
}

// Series is the TTC history of one tracked object, ordered by frame. A
// track follows box matches across frame pairs: an estimate whose previous
// box is the current box of an earlier estimate extends that track, so
// detection IDs may change along it. StartFrame and BoxID name the
// detection the track starts from.
type Series struct {
	StartFrame int
	BoxID      int
	Points     []Point
}

// Label names the series in legends.
func (s Series) Label() string {
	return fmt.Sprintf("box %d @ frame %d", s.BoxID, s.StartFrame)
}

// link is one estimate together with the detections it connects.
type link struct {
	prevFrame, prevBox int
	currFrame, currBox int
	point              Point
}

// Collector accumulates estimates as the pipeline produces them. It
// implements pipeline.Observer.
type Collector struct {
	pipeline.NopObserver

	mu    sync.Mutex
	links []link
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{}
}

// OnEstimate records est with the box pair it was matched on.
func (c *Collector) OnEstimate(est pipeline.BoxEstimate) {
	p := Point{Frame: est.CurrFrame}
	if v, ok := est.LidarTTC(); ok {
		p.Lidar = &v
	}
	if v, ok := est.CameraTTC(); ok {
		p.Camera = &v
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.links = append(c.links, link{
		prevFrame: est.PrevFrame, prevBox: est.PrevBoxID,
		currFrame: est.CurrFrame, currBox: est.CurrBoxID,
		point: p,
	})
}

// Series returns the collected tracks ordered by start frame and box ID.
func (c *Collector) Series() []Series {
	c.mu.Lock()
	defer c.mu.Unlock()
	return buildSeries(c.links)
}

// FromStored builds tracks from persisted estimates.
func FromStored(estimates []sqlite.Estimate) []Series {
	links := make([]link, 0, len(estimates))
	for _, e := range estimates {
		links = append(links, link{
			prevFrame: e.PrevFrame, prevBox: e.PrevBoxID,
			currFrame: e.FrameIndex, currBox: e.CurrBoxID,
			point: Point{Frame: e.FrameIndex, Lidar: e.LidarTTC, Camera: e.CameraTTC},
		})
	}
	return buildSeries(links)
}

type detection struct{ frame, box int }

// buildSeries chains links into tracks. Each detection continues at most
// one track; a second estimate from the same previous box starts a new one.
func buildSeries(links []link) []Series {
	sorted := append([]link(nil), links...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].currFrame != sorted[j].currFrame {
			return sorted[i].currFrame < sorted[j].currFrame
		}
		return sorted[i].currBox < sorted[j].currBox
	})

	var out []Series
	open := make(map[detection]int)
	for _, l := range sorted {
		from := detection{l.prevFrame, l.prevBox}
		idx, ok := open[from]
		if ok {
			delete(open, from)
		} else {
			idx = len(out)
			out = append(out, Series{StartFrame: l.prevFrame, BoxID: l.prevBox})
		}
		out[idx].Points = append(out[idx].Points, l.point)
		open[detection{l.currFrame, l.currBox}] = idx
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].StartFrame != out[j].StartFrame {
			return out[i].StartFrame < out[j].StartFrame
		}
		return out[i].BoxID < out[j].BoxID
	})
	return out
}

// frameRange returns the smallest and largest frame over all series.
func frameRange(series []Series) (first, last int, ok bool) {
	for _, s := range series {
		for _, p := range s.Points {
			if !ok {
				first, last, ok = p.Frame, p.Frame, true
				continue
			}
			first = min(first, p.Frame)
			last = max(last, p.Frame)
		}
	}
	return first, last, ok
}

// File names written by Write.
const (
	PNGName  = "ttc.png"
	HTMLName = "ttc.html"
)

// Write renders both charts into dir, creating it if needed, and returns
// the written paths.
func Write(fsys fsutil.FileSystem, dir, title string, series []Series) ([]string, error) {
	if err := fsys.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("report: %w", err)
	}
	pngPath := filepath.Join(dir, PNGName)
	if err := WritePNG(fsys, pngPath, title, series); err != nil {
		return nil, err
	}
	htmlPath := filepath.Join(dir, HTMLName)
	if err := WriteHTML(fsys, htmlPath, title, series); err != nil {
		return nil, err
	}
	return []string{pngPath, htmlPath}, nil
}
