package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"

	"github.com/i5heu/GoBoundedQueue/internal/queue"
	"github.com/i5heu/GoBoundedQueue/internal/report"
	"github.com/i5heu/GoBoundedQueue/internal/testbench"
	"github.com/i5heu/GoBoundedQueue/pkg/boundedqueue"
	"github.com/i5heu/GoBoundedQueue/pkg/buffered"
)

const resultsFile = "test-results.json"

// Implementation describes one blocking queue under benchmark.
type Implementation struct {
	name        string
	description string
	pkgName     string
	authors     []string
	features    []string
	newQueue    func(capacity int) queue.ClosableQueueInterface[*int]
}

func getImplementations() []Implementation {
	return []Implementation{
		{
			name:        "BoundedQueue",
			pkgName:     "boundedqueue",
			description: "Mutex plus not-full/not-empty condition variables over a ring buffer; callers park instead of spinning.",
			authors:     []string{"Mia Heidenstedt <heidenstedt.org>"},
			features:    []string{"MPMC", "FIFO", "Blocking", "Closable", "Cancelable"},
			newQueue: func(capacity int) queue.ClosableQueueInterface[*int] {
				return boundedqueue.MustNew[*int](capacity)
			},
		},
		{
			name:        "Golang Buffered Channel",
			pkgName:     "buffered",
			description: "A buffered channel; the runtime parks senders and receivers.",
			authors:     []string{"Mia Heidenstedt <heidenstedt.org>"},
			features:    []string{"MPMC", "FIFO", "Blocking", "Closable", "Cancelable"},
			newQueue: func(capacity int) queue.ClosableQueueInterface[*int] {
				return buffered.New[*int](capacity)
			},
		},
	}
}

type benchOptions struct {
	iterations      int
	cpu             int
	capacity        int
	duration        time.Duration
	exportJSON      bool
	highConcurrency bool
	progress        bool
}

func main() {
	var opts benchOptions
	flag.IntVar(&opts.iterations, "iter", 5, "Number of test iterations per concurrency setting")
	flag.IntVar(&opts.cpu, "cpu", 0, "If non-zero, test only that GOMAXPROCS value; if 0, test common CPU/vCPU values up to runtime.NumCPU()")
	flag.IntVar(&opts.capacity, "capacity", 1024, "Queue capacity")
	flag.DurationVar(&opts.duration, "duration", 5*time.Second, "Duration of each timed run")
	flag.BoolVar(&opts.exportJSON, "json", false, "Append results to "+resultsFile)
	flag.BoolVar(&opts.highConcurrency, "high-concurrency", false, "Include high concurrency configurations")
	flag.BoolVar(&opts.progress, "progress", false, "Display a progress bar with ETA")
	markdownTable := flag.Bool("markdown-table", false, "Print a markdown table of the last session in -jsonfile and exit")
	jsonFile := flag.String("jsonfile", resultsFile, "Path to JSON file for the markdown table")
	flag.Parse()

	if *markdownTable {
		if err := printMarkdown(os.Stdout, *jsonFile); err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			os.Exit(1)
		}
		return
	}
	if opts.capacity < 1 {
		fmt.Fprintln(os.Stderr, "Error:", boundedqueue.ErrInvalidCapacity)
		os.Exit(2)
	}

	sessions := runSuite(opts, os.Stdout)

	if opts.exportJSON {
		if err := report.Append(resultsFile, sessions...); err != nil {
			fmt.Fprintln(os.Stderr, "Error writing JSON file:", err)
			os.Exit(1)
		}
		fmt.Printf("\nWrote results to %s\n", resultsFile)
	}
}

// cpuSettings picks the GOMAXPROCS values to sweep. A requested value is
// clamped to the machine; otherwise every common core count that fits is used.
func cpuSettings(requested, available int) []int {
	if requested > 0 {
		return []int{min(requested, available)}
	}
	var out []int
	for _, n := range []int{1, 2, 3, 4, 6, 8, 12, 16, 32, 48, 56, 64, 96, 128, 192, 256, 384, 512} {
		if n <= available {
			out = append(out, n)
		}
	}
	return out
}

// concurrencyConfigs lists the producer/consumer pairs to run. 1:1 is the
// classic producer/consumer setup.
func concurrencyConfigs(high bool) []testbench.Config {
	cfgs := []testbench.Config{
		{NumProducers: 1, NumConsumers: 1},
		{NumProducers: 2, NumConsumers: 2},
		{NumProducers: 10, NumConsumers: 10},
		{NumProducers: 50, NumConsumers: 50},
	}
	if high {
		cfgs = append(cfgs,
			testbench.Config{NumProducers: 100, NumConsumers: 100},
			testbench.Config{NumProducers: 250, NumConsumers: 250},
			testbench.Config{NumProducers: 500, NumConsumers: 500},
		)
	}
	return cfgs
}

// runSuite runs every implementation for every GOMAXPROCS value and
// concurrency pair, and returns one report per GOMAXPROCS value.
func runSuite(opts benchOptions, out io.Writer) []report.FullReport {
	trueCPU := runtime.NumCPU()
	cpus := cpuSettings(opts.cpu, trueCPU)
	cfgs := concurrencyConfigs(opts.highConcurrency)
	impls := getImplementations()

	var bar *progressbar.ProgressBar
	if opts.progress {
		bar = progressbar.NewOptions(len(cpus)*len(cfgs)*opts.iterations*len(impls),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("Progress"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
			progressbar.OptionClearOnFinish(),
		)
		defer func() { _ = bar.Finish() }()
	}

	gen := func(i int) *int { return &i }

	var sessions []report.FullReport
	for _, n := range cpus {
		runtime.GOMAXPROCS(n)
		sys := report.GatherSystemInfo()
		sys.NumCPU = n
		sys.TrueCPU = trueCPU
		sys.SimulatedCPUCount = n

		fmt.Fprintf(out, "\n=============================\nGOMAXPROCS = %d\n=============================\n", n)

		var results []report.BenchmarkResult
		for _, cfg := range cfgs {
			fmt.Fprintf(out, "  [producers=%d, consumers=%d, capacity=%d]\n", cfg.NumProducers, cfg.NumConsumers, opts.capacity)
			for it := 1; it <= opts.iterations; it++ {
				fmt.Fprintf(out, "    iteration %d/%d\n", it, opts.iterations)
				for _, impl := range impls {
					runtime.GC()
					q := impl.newQueue(opts.capacity)
					// Let the GC and the previous run's goroutines settle.
					time.Sleep(250 * time.Millisecond)

					produced, consumed, took := testbench.RunTimedTest(q, cfg, opts.duration, gen)
					throughput := float64(consumed) / took.Seconds()
					if bar != nil {
						_ = bar.Add(1)
					}

					fmt.Fprintf(out, "    %s => produced=%d, consumed=%d, throughput=%.0f msg/s, took=%v\n",
						impl.name, produced, consumed, throughput, took)
					if produced != consumed {
						fmt.Fprintf(os.Stderr, "    %s lost messages: produced=%d consumed=%d\n", impl.name, produced, consumed)
					}

					results = append(results, report.BenchmarkResult{
						Implementation:      impl.name,
						Capacity:            opts.capacity,
						NumProducers:        cfg.NumProducers,
						NumConsumers:        cfg.NumConsumers,
						NumMessages:         produced,
						NumMessagesConsumed: consumed,
						TestDuration:        opts.duration.String(),
						ActualElapsed:       took.String(),
						Throughput:          throughput,
						Timestamp:           time.Now().Unix(),
						GoVersion:           runtime.Version(),
					})
				}
			}
		}

		sessions = append(sessions, report.FullReport{
			SessionTime: time.Now().Format(time.RFC3339),
			SystemInfo:  sys,
			Benchmarks:  results,
		})
	}
	return sessions
}

type tableRow struct {
	implementation string
	pkgName        string
	features       string
	setup          string
	throughput     float64
}

// markdownRows turns the benchmarks of one session into table rows, fastest first.
func markdownRows(session report.FullReport) []tableRow {
	meta := make(map[string]Implementation)
	for _, impl := range getImplementations() {
		meta[impl.name] = impl
	}
	rows := make([]tableRow, 0, len(session.Benchmarks))
	for _, b := range session.Benchmarks {
		row := tableRow{
			implementation: b.Implementation,
			setup:          fmt.Sprintf("%dP/%dC cap %d", b.NumProducers, b.NumConsumers, b.Capacity),
			throughput:     b.Throughput,
		}
		if m, ok := meta[b.Implementation]; ok {
			row.pkgName = m.pkgName
			row.features = strings.Join(m.features, ", ")
		}
		rows = append(rows, row)
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].throughput > rows[j].throughput })
	return rows
}

// printMarkdown writes a table of the last session stored in jsonFile.
func printMarkdown(w io.Writer, jsonFile string) error {
	sessions, err := report.Load(jsonFile)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		return errors.New("no sessions found in " + jsonFile)
	}
	fmt.Fprintln(w, "## Last Session Benchmark Summary")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "| Implementation           | Package         | Features                    | Setup                 | Throughput (msgs/sec) |")
	fmt.Fprintln(w, "|--------------------------|-----------------|-----------------------------|-----------------------|-----------------------|")
	for _, r := range markdownRows(sessions[len(sessions)-1]) {
		fmt.Fprintf(w, "| %-24s | %-15s | %-27s | %-21s | %21.0f |\n",
			r.implementation, r.pkgName, r.features, r.setup, r.throughput)
	}
	return nil
}
