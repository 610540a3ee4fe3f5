// Package diag captures controller tick traces and renders them to
// PNG charts for offline tuning of thresholds and green times.
package diag

import (
	"fmt"
	"image/color"
	"path/filepath"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/junctionworks/crossflow/internal/fsutil"
	"github.com/junctionworks/crossflow/internal/traffic"
)

// maxSamples bounds a capture at one hour of 100ms ticks. Observe
// drops records beyond it until the next Start.
const maxSamples = 36000

// Series colors, shared across all charts so lane A is always the
// same hue.
var (
	laneAColor    = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	laneBColor    = color.RGBA{R: 214, G: 39, B: 40, A: 255}
	baselineColor = color.RGBA{R: 44, G: 160, B: 44, A: 255}
	cutoffColor   = color.RGBA{R: 148, G: 103, B: 189, A: 255}
)

// TickPlotter records controller ticks while enabled and renders the
// capture to PNG time-series charts. Wire Observe in as the
// controller's tick observer; it is cheap when no capture is running.
type TickPlotter struct {
	mu        sync.Mutex
	enabled   bool
	outputDir string
	fs        fsutil.FileSystem
	samples   []traffic.TickRecord
}

// NewTickPlotter creates a plotter writing through fs. A nil fs means
// the real filesystem.
func NewTickPlotter(fs fsutil.FileSystem) *TickPlotter {
	if fs == nil {
		fs = fsutil.OSFileSystem{}
	}
	return &TickPlotter{fs: fs}
}

// Start begins a new capture into outputDir, discarding any previous
// capture.
func (tp *TickPlotter) Start(outputDir string) error {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if err := tp.fs.MkdirAll(outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output dir: %w", err)
	}

	tp.outputDir = outputDir
	tp.enabled = true
	tp.samples = nil
	return nil
}

// Stop disables sampling. Call GeneratePlots to produce output files.
func (tp *TickPlotter) Stop() {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	tp.enabled = false
}

// IsEnabled returns true if the plotter is currently recording.
func (tp *TickPlotter) IsEnabled() bool {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.enabled
}

// SampleCount returns the number of ticks captured so far.
func (tp *TickPlotter) SampleCount() int {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return len(tp.samples)
}

// OutputDir returns the directory of the current capture.
func (tp *TickPlotter) OutputDir() string {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	return tp.outputDir
}

// Observe records one tick. It satisfies the controller's tick
// observer hook and returns immediately when no capture is running.
func (tp *TickPlotter) Observe(rec traffic.TickRecord) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if !tp.enabled || len(tp.samples) >= maxSamples {
		return
	}
	tp.samples = append(tp.samples, rec)
}

// GeneratePlots renders the capture to PNG files in the output
// directory. Returns the number of files written.
func (tp *TickPlotter) GeneratePlots() (int, error) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	if tp.outputDir == "" {
		return 0, fmt.Errorf("no output directory configured")
	}
	if len(tp.samples) == 0 {
		return 0, nil
	}

	count := 0
	charts := []struct {
		name  string
		build func() (*plot.Plot, error)
	}{
		{"lane_a_distance.png", func() (*plot.Plot, error) {
			return tp.distancePlot("Lane A", func(r traffic.TickRecord) traffic.LaneTick { return r.LaneA })
		}},
		{"lane_b_distance.png", func() (*plot.Plot, error) {
			return tp.distancePlot("Lane B", func(r traffic.TickRecord) traffic.LaneTick { return r.LaneB })
		}},
		{"speeds.png", tp.speedPlot},
		{"counts.png", tp.countPlot},
		{"signal.png", tp.signalPlot},
	}

	for _, c := range charts {
		p, err := c.build()
		if err != nil {
			return count, fmt.Errorf("%s: %w", c.name, err)
		}
		if err := tp.savePlot(p, c.name); err != nil {
			return count, err
		}
		count++
	}

	return count, nil
}

// distancePlot charts one lane's raw distance against its calibrated
// baseline and the presence cutoff (baseline minus threshold). Ticks
// where the sensor read failed leave a gap in the distance line.
func (tp *TickPlotter) distancePlot(label string, pick func(traffic.TickRecord) traffic.LaneTick) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s - Distance vs Baseline", label)
	p.X.Label.Text = "Tick"
	p.Y.Label.Text = "Distance (cm)"

	distPts := make(plotter.XYs, 0, len(tp.samples))
	basePts := make(plotter.XYs, 0, len(tp.samples))
	cutPts := make(plotter.XYs, 0, len(tp.samples))
	for _, rec := range tp.samples {
		lt := pick(rec)
		x := float64(rec.TickCount)
		if lt.SensorOK {
			distPts = append(distPts, plotter.XY{X: x, Y: lt.DistanceCm})
		}
		basePts = append(basePts, plotter.XY{X: x, Y: lt.BaselineCm})
		cutPts = append(cutPts, plotter.XY{X: x, Y: lt.BaselineCm - lt.ThresholdCm})
	}

	if err := addLine(p, "distance", distPts, laneAColor); err != nil {
		return nil, err
	}
	if err := addLine(p, "baseline", basePts, baselineColor); err != nil {
		return nil, err
	}
	if err := addLine(p, "presence cutoff", cutPts, cutoffColor); err != nil {
		return nil, err
	}

	configureLegend(p)
	return p, nil
}

func (tp *TickPlotter) speedPlot() (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Rolling Average Speed"
	p.X.Label.Text = "Tick"
	p.Y.Label.Text = "Speed (km/h)"

	aPts := make(plotter.XYs, 0, len(tp.samples))
	bPts := make(plotter.XYs, 0, len(tp.samples))
	for _, rec := range tp.samples {
		x := float64(rec.TickCount)
		aPts = append(aPts, plotter.XY{X: x, Y: rec.LaneA.AverageSpeedKmh})
		bPts = append(bPts, plotter.XY{X: x, Y: rec.LaneB.AverageSpeedKmh})
	}

	if err := addLine(p, "lane A", aPts, laneAColor); err != nil {
		return nil, err
	}
	if err := addLine(p, "lane B", bPts, laneBColor); err != nil {
		return nil, err
	}

	configureLegend(p)
	return p, nil
}

func (tp *TickPlotter) countPlot() (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Vehicle Count"
	p.X.Label.Text = "Tick"
	p.Y.Label.Text = "Count"

	aPts := make(plotter.XYs, 0, len(tp.samples))
	bPts := make(plotter.XYs, 0, len(tp.samples))
	for _, rec := range tp.samples {
		x := float64(rec.TickCount)
		aPts = append(aPts, plotter.XY{X: x, Y: float64(rec.LaneA.Count)})
		bPts = append(bPts, plotter.XY{X: x, Y: float64(rec.LaneB.Count)})
	}

	if err := addLine(p, "lane A", aPts, laneAColor); err != nil {
		return nil, err
	}
	if err := addLine(p, "lane B", bPts, laneBColor); err != nil {
		return nil, err
	}

	configureLegend(p)
	return p, nil
}

func (tp *TickPlotter) signalPlot() (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = "Signal State"
	p.X.Label.Text = "Tick"
	p.Y.Label.Text = "0=RED 1=GREEN_A 2=GREEN_B"

	pts := make(plotter.XYs, 0, len(tp.samples))
	for _, rec := range tp.samples {
		pts = append(pts, plotter.XY{X: float64(rec.TickCount), Y: signalLevel(rec.Signal)})
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return nil, err
	}
	line.Color = laneAColor
	line.Width = vg.Points(1)
	line.StepStyle = plotter.PostStep
	p.Add(line)
	p.Legend.Add("signal", line)

	configureLegend(p)
	return p, nil
}

func signalLevel(s traffic.Signal) float64 {
	switch s {
	case traffic.SignalGreenA:
		return 1
	case traffic.SignalGreenB:
		return 2
	default:
		return 0
	}
}

func addLine(p *plot.Plot, label string, pts plotter.XYs, c color.Color) error {
	if len(pts) == 0 {
		return nil
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.Color = c
	line.Width = vg.Points(1)
	p.Add(line)
	p.Legend.Add(label, line)
	return nil
}

func configureLegend(p *plot.Plot) {
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
}

// savePlot renders p to PNG through the configured filesystem.
func (tp *TickPlotter) savePlot(p *plot.Plot, name string) error {
	wt, err := p.WriterTo(14*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render %s: %w", name, err)
	}

	f, err := tp.fs.Create(filepath.Join(tp.outputDir, name))
	if err != nil {
		return fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", name, err)
	}
	return f.Close()
}
