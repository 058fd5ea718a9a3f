package meadow

import (
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"gonum.org/v1/gonum/stat"
)

// DroppedFrames returns how many refresh intervals at hz a frame of the
// given length overran, beyond the one it was due in.
func DroppedFrames(frameTime time.Duration, hz float64) int {
	expected := int(math.Floor(frameTime.Seconds() * hz))
	if expected > 1 {
		return expected - 1
	}
	return 0
}

// FrameSample is one recorded frame, in the perf CSV layout.
type FrameSample struct {
	Frame       uint64  `csv:"frame"`
	FrameTimeMs float64 `csv:"frame_time_ms"`
	FPS         float64 `csv:"fps"`
	Dropped60   int     `csv:"dropped_60hz"`
	Dropped120  int     `csv:"dropped_120hz"`
	Tiles       int     `csv:"tiles"`
	Instances   int     `csv:"instances"`
}

type PerfSummary struct {
	Frames      uint64
	MeanMs      float64
	StdDevMs    float64
	P99Ms       float64
	FPS         float64
	Dropped60   uint64
	Dropped120  uint64
	LastFrameMs float64
}

// PerfStats accumulates frame timings and dropped-frame counts at 60 and
// 120 Hz. Samples keeps at most MaxSamples frames, oldest first; the
// counters cover every frame.
type PerfStats struct {
	Samples    []FrameSample
	MaxSamples int

	totalFrames uint64
	dropped60   uint64
	dropped120  uint64
}

func NewPerfStats(maxSamples int) *PerfStats {
	return &PerfStats{MaxSamples: maxSamples}
}

// Record adds one frame of length dt.
func (p *PerfStats) Record(dt time.Duration) FrameSample {
	return p.RecordScene(dt, 0, 0)
}

// RecordScene is Record with the scene size at the time of the frame.
func (p *PerfStats) RecordScene(dt time.Duration, tiles, instances int) FrameSample {
	p.totalFrames++
	s := FrameSample{
		Frame:       p.totalFrames,
		FrameTimeMs: float64(dt.Microseconds()) / 1000,
		Dropped60:   DroppedFrames(dt, 60),
		Dropped120:  DroppedFrames(dt, 120),
		Tiles:       tiles,
		Instances:   instances,
	}
	if dt > 0 {
		s.FPS = 1 / dt.Seconds()
	}
	p.dropped60 += uint64(s.Dropped60)
	p.dropped120 += uint64(s.Dropped120)

	p.Samples = append(p.Samples, s)
	if p.MaxSamples > 0 && len(p.Samples) > p.MaxSamples {
		p.Samples = slices.Delete(p.Samples, 0, len(p.Samples)-p.MaxSamples)
	}
	return s
}

func (p *PerfStats) TotalFrames() uint64 { return p.totalFrames }

// Summary reduces the kept samples. Counters always cover every frame.
func (p *PerfStats) Summary() PerfSummary {
	sum := PerfSummary{
		Frames:     p.totalFrames,
		Dropped60:  p.dropped60,
		Dropped120: p.dropped120,
	}
	if len(p.Samples) == 0 {
		return sum
	}
	ms := make([]float64, len(p.Samples))
	for i, s := range p.Samples {
		ms[i] = s.FrameTimeMs
	}
	sum.LastFrameMs = ms[len(ms)-1]
	sum.MeanMs = stat.Mean(ms, nil)
	if len(ms) > 1 {
		sum.StdDevMs = stat.StdDev(ms, nil)
	}
	slices.Sort(ms)
	sum.P99Ms = stat.Quantile(0.99, stat.Empirical, ms, nil)
	if sum.MeanMs > 0 {
		sum.FPS = 1000 / sum.MeanMs
	}
	return sum
}

func (p *PerfStats) WriteCSV(w io.Writer) error {
	return gocsv.Marshal(p.Samples, w)
}

func (p *PerfStats) String() string {
	s := p.Summary()
	var sb strings.Builder
	sb.WriteString("-------Stats--------\n")
	fmt.Fprintf(&sb, "FPS: %.1f\n", s.FPS)
	fmt.Fprintf(&sb, "Frame time: %.2fms (mean %.2f, sd %.2f, p99 %.2f)\n", s.LastFrameMs, s.MeanMs, s.StdDevMs, s.P99Ms)
	fmt.Fprintf(&sb, "Total frames: %d\n", s.Frames)
	fmt.Fprintf(&sb, "Dropped frames@60hz: %d\n", s.Dropped60)
	fmt.Fprintf(&sb, "Dropped frames@120hz: %d\n", s.Dropped120)
	return sb.String()
}

// PerfStatsModule records every frame's length. Every ReportEvery it logs
// the summary; on shutdown it writes the samples to CSVPath when set.
type PerfStatsModule struct {
	ReportEvery time.Duration
	CSVPath     string
	MaxSamples  int
}

type perfReporter struct {
	every   time.Duration
	csvPath string
	since   time.Duration
}

func (m PerfStatsModule) Install(app *App, cmd *Commands) {
	keep := m.MaxSamples
	if keep <= 0 {
		keep = 10000
	}
	stats := NewPerfStats(keep)
	reporter := &perfReporter{every: m.ReportEvery, csvPath: m.CSVPath}
	cmd.AddResources(stats, reporter)

	app.UseSystem(System(perfStatsSystem).InStage(Finale).RunAlways())
	app.OnShutdown(func() {
		logger := app.Logger()
		logger.Infof("%s", stats.String())
		if reporter.csvPath == "" {
			return
		}
		if err := writePerfCSV(reporter.csvPath, stats); err != nil {
			logger.Errorf("perf csv: %v", err)
			return
		}
		logger.Infof("perf csv written to %s", reporter.csvPath)
	})
}

func perfStatsSystem(stats *PerfStats, reporter *perfReporter, t *Time, cmd *Commands) {
	if t.Frame <= 1 {
		// The first step measures startup, not a frame.
		return
	}
	tiles, instances := 0, 0
	if grass := Resource[GrassState](cmd.app); grass != nil {
		tiles, instances = grass.Len(), grass.Instances()
	}
	stats.RecordScene(t.Dt, tiles, instances)

	if reporter.every <= 0 {
		return
	}
	reporter.since += t.Dt
	if reporter.since >= reporter.every {
		reporter.since = 0
		cmd.Logger().Infof("%s", stats.String())
	}
}

func writePerfCSV(path string, stats *PerfStats) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := stats.WriteCSV(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
