package main

import (
	"flag"
	"fmt"
	"image/color"
	"math"
	"os"
	"sort"
	"strconv"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/i5heu/GoBoundedQueue/internal/report"
)

// series maps "Implementation (cap N)" -> total goroutines -> ns/msg samples.
type series map[string]map[float64][]float64

// concurrencyStats holds "5%-avg-min", median, and "5%-avg-max" for each concurrency level.
type concurrencyStats struct {
	x      float64 // category index plus per-implementation offset
	orig   float64 // NumProducers + NumConsumers
	min    float64
	median float64
	max    float64
}

// statsPoints implements XYer and YErrorer for concurrencyStats, so we can plot lines + error bars.
type statsPoints []concurrencyStats

func (s statsPoints) Len() int                { return len(s) }
func (s statsPoints) XY(i int) (x, y float64) { return s[i].x, s[i].median }
func (s statsPoints) YError(i int) (low, high float64) {
	return s[i].median - s[i].min, s[i].max - s[i].median
}

// categoryTicks implements a categorical X-axis: 0,1,2,... => labels for concurrency.
type categoryTicks struct {
	positions []float64
	labels    []string
}

func (ct categoryTicks) Ticks(min, max float64) []plot.Tick {
	var ticks []plot.Tick
	for i, pos := range ct.positions {
		if pos >= min && pos <= max {
			ticks = append(ticks, plot.Tick{Value: pos, Label: ct.labels[i]})
		}
	}
	return ticks
}

func main() {
	jsonFile := flag.String("jsonfile", "test-results.json", "Path to JSON file containing test sessions")
	outputPrefix := flag.String("out", "benchmark_graph", "Output graph image filename prefix")
	flag.Parse()

	sessions, err := report.Load(*jsonFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading JSON file: %v\n", err)
		os.Exit(1)
	}

	byCPU := groupByCPU(sessions)
	cpuCounts := make([]int, 0, len(byCPU))
	for cpus := range byCPU {
		cpuCounts = append(cpuCounts, cpus)
	}
	sort.Ints(cpuCounts)

	for _, cpus := range cpuCounts {
		p := renderPlot(cpus, byCPU[cpus])
		filename := fmt.Sprintf("%s_%d.png", *outputPrefix, cpus)
		if err := p.Save(12*vg.Inch, 9*vg.Inch, filename); err != nil {
			fmt.Fprintf(os.Stderr, "Error saving plot for %d CPU(s): %v\n", cpus, err)
			continue
		}
		fmt.Printf("Graph for %d CPU(s) saved to %s\n", cpus, filename)
	}
}

// groupByCPU buckets every benchmark by GOMAXPROCS. Runs that consumed
// nothing or carry an unparsable elapsed time are skipped.
func groupByCPU(sessions []report.FullReport) map[int]series {
	out := make(map[int]series)
	for _, session := range sessions {
		cpus := session.SystemInfo.SimulatedCPUCount
		if cpus == 0 {
			cpus = session.SystemInfo.NumCPU
		}
		for _, b := range session.Benchmarks {
			dur, err := time.ParseDuration(b.ActualElapsed)
			if err != nil || b.NumMessagesConsumed == 0 {
				continue
			}
			if out[cpus] == nil {
				out[cpus] = make(series)
			}
			name := fmt.Sprintf("%s (cap %d)", b.Implementation, b.Capacity)
			if out[cpus][name] == nil {
				out[cpus][name] = make(map[float64][]float64)
			}
			x := float64(b.NumProducers + b.NumConsumers)
			out[cpus][name][x] = append(out[cpus][name][x], float64(dur.Nanoseconds())/float64(b.NumMessagesConsumed))
		}
	}
	return out
}

// categories returns the sorted union of concurrency values in s.
func categories(s series) []float64 {
	set := make(map[float64]struct{})
	for _, byX := range s {
		for x := range byX {
			set[x] = struct{}{}
		}
	}
	out := make([]float64, 0, len(set))
	for x := range set {
		out = append(out, x)
	}
	sort.Float64s(out)
	return out
}

func renderPlot(cpus int, s series) *plot.Plot {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("Hand-off cost (5%%-avg-min / Median / 5%%-avg-max) vs. Concurrency for %d CPU(s)", cpus)
	p.X.Label.Text = "NumProducers + NumConsumers"
	p.Y.Label.Text = "Time per Msg"

	// Dark theme.
	p.BackgroundColor = color.RGBA{R: 30, G: 30, B: 30, A: 255}
	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	p.Title.TextStyle.Color = white
	p.X.Label.TextStyle.Color = white
	p.Y.Label.TextStyle.Color = white
	p.X.Color = white
	p.Y.Color = white
	p.X.Tick.Label.Color = white
	p.Y.Tick.Label.Color = white
	p.Legend.Top = true
	p.Legend.Left = true
	p.Legend.TextStyle.Color = white
	p.Y.Tick.Marker = plot.TickerFunc(nsTicks)
	p.Add(plotter.NewGrid())

	concValues := categories(s)
	index := make(map[float64]float64, len(concValues))
	ticks := categoryTicks{}
	for i, v := range concValues {
		index[v] = float64(i)
		ticks.positions = append(ticks.positions, float64(i))
		ticks.labels = append(ticks.labels, strconv.FormatFloat(v, 'f', -1, 64))
	}
	p.X.Tick.Marker = ticks

	// Sort implementations alphabetically for consistent legend ordering.
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)

	shapes := []draw.GlyphDrawer{
		draw.CircleGlyph{},
		draw.SquareGlyph{},
		draw.TriangleGlyph{},
		draw.CrossGlyph{},
	}

	// Slight offset so each implementation is visually separated.
	const offsetRange = 0.4
	offsetStep := offsetRange / float64(len(names))
	startOffset := -offsetRange/2 + offsetStep/2

	for i, name := range names {
		stats := buildStats(s[name])
		for j := range stats {
			stats[j].x = index[stats[j].orig] + startOffset + float64(i)*offsetStep
		}
		sort.Slice(stats, func(a, b int) bool { return stats[a].x < stats[b].x })
		sp := statsPoints(stats)
		c := plotutil.SoftColors[i%len(plotutil.SoftColors)]

		line, err := plotter.NewLine(sp)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating line for %s: %v\n", name, err)
			continue
		}
		line.Color = c

		points, err := plotter.NewScatter(sp)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating scatter for %s: %v\n", name, err)
			continue
		}
		points.GlyphStyle.Radius = vg.Points(5)
		points.Color = c
		points.Shape = shapes[i%len(shapes)]

		bars, err := plotter.NewYErrorBars(sp)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error creating error bars for %s: %v\n", name, err)
			continue
		}
		bars.Color = c

		p.Add(line, points, bars)
		p.Legend.Add(name, line, points)
	}
	return p
}

// nsTicks spaces about twenty labelled ticks logarithmically between min and max.
func nsTicks(min, max float64) []plot.Tick {
	const n = 20.0
	if min <= 0 {
		min = 1
	}
	if max <= min {
		return []plot.Tick{{Value: min, Label: report.FormatNs(min)}}
	}
	start, end := math.Log10(min), math.Log10(max)
	step := (end - start) / n
	ticks := make([]plot.Tick, 0, int(n)+1)
	for i := 0.0; i <= n; i++ {
		y := math.Pow(10, start+i*step)
		ticks = append(ticks, plot.Tick{Value: y, Label: report.FormatNs(y)})
	}
	return ticks
}

// buildStats summarises every concurrency level of one implementation.
func buildStats(byX map[float64][]float64) []concurrencyStats {
	var out []concurrencyStats
	for x, vals := range byX {
		if len(vals) == 0 {
			continue
		}
		st := report.Summarize(vals)
		out = append(out, concurrencyStats{
			x:      x,
			orig:   x,
			min:    st.Min,
			median: st.Median,
			max:    st.Max,
		})
	}
	return out
}
