package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/schollz/progressbar/v3"
	"github.com/sirupsen/logrus"

	"github.com/i5heu/GoBoundedQueue/internal/metrics"
	"github.com/i5heu/GoBoundedQueue/internal/report"
	"github.com/i5heu/GoBoundedQueue/internal/testbench"
	"github.com/i5heu/GoBoundedQueue/pkg/boundedqueue"
	"github.com/i5heu/GoBoundedQueue/pkg/config"
)

const banner = "========================================================"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one producer/consumer session and returns the exit status:
// 0 when exactly Items values were produced and consumed (in order for a
// single producer and consumer), 1 on a mismatch or failure, 2 on bad usage.
func run(args []string, stdout, stderr io.Writer) int {
	cfg, err := config.FromArgs("prodcons", args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	log := cfg.NewLogger(stderr)

	q, err := boundedqueue.New[int](cfg.Capacity)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	metrics.RegisterQueue(reg, "prodcons", q)

	if cfg.MetricsBind != "" {
		srv := &http.Server{
			Addr:              cfg.MetricsBind,
			Handler:           newRouter(reg, q),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.WithError(err).Error("metrics server error")
			}
		}()
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = srv.Shutdown(ctx)
		}()
	}

	fmt.Fprintln(stdout, banner)
	fmt.Fprintln(stdout, " PRODUCER/CONSUMER SIMULATION")
	fmt.Fprintf(stdout, " Buffer size: %d | Items: %d | Producers: %d | Consumers: %d\n",
		cfg.Capacity, cfg.Items, cfg.Producers, cfg.Consumers)
	fmt.Fprintln(stdout, banner)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	opts := []testbench.Option{testbench.WithMetrics(m)}
	var bar *progressbar.ProgressBar
	if cfg.Progress {
		bar = progressbar.NewOptions(cfg.Items,
			progressbar.OptionSetWriter(stderr),
			progressbar.OptionSetDescription("consuming"),
			progressbar.OptionShowCount(),
			progressbar.OptionSetPredictTime(true),
		)
		opts = append(opts, testbench.WithProgress(func() { _ = bar.Add(1) }))
	} else {
		opts = append(opts, testbench.WithLogger(log))
	}

	session, runErr := testbench.RunSession(ctx, q, cfg.Session(), func(i int) int { return i + 1 }, opts...)
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(stderr)
	}

	result := verify(cfg, session)
	if runErr != nil {
		result.Error = runErr.Error()
	}

	fmt.Fprintln(stdout)
	fmt.Fprintln(stdout, banner)
	fmt.Fprintf(stdout, " Produced: %d | Consumed: %d | In order: %t | Took: %s\n",
		result.Produced, len(result.Consumed), result.InOrder, result.Elapsed)
	fmt.Fprintf(stdout, " Consumed sequence: %v\n", result.Consumed)

	ok := runErr == nil && complete(result)
	if ok {
		fmt.Fprintln(stdout, " Synchronization complete. All items were processed.")
	} else {
		fmt.Fprintln(stdout, " Synchronization FAILED.")
		log.WithFields(logrus.Fields{
			"produced": result.Produced,
			"consumed": len(result.Consumed),
			"in_order": result.InOrder,
		}).WithError(runErr).Error("session check failed")
	}
	fmt.Fprintln(stdout, banner)

	if cfg.ReportFile != "" {
		sys := report.GatherSystemInfo()
		fr := report.FullReport{
			SessionTime: time.Now().Format(time.RFC3339),
			SystemInfo:  sys,
			Sessions:    []report.SessionResult{result},
		}
		if err := report.Append(cfg.ReportFile, fr); err != nil {
			log.WithError(err).Error("writing report")
			return 1
		}
		fmt.Fprintf(stdout, "Wrote report to %s\n", cfg.ReportFile)
	}

	if !ok {
		return 1
	}
	return 0
}

// verify builds the report entry for a session. session may be nil when the
// driver rejected the configuration.
func verify(cfg *config.Config, session *testbench.Session[int]) report.SessionResult {
	res := report.SessionResult{
		Capacity:      cfg.Capacity,
		NumProducers:  cfg.Producers,
		NumConsumers:  cfg.Consumers,
		Items:         cfg.Items,
		ProducerDelay: cfg.ProducerDelay.String(),
		ConsumerDelay: cfg.ConsumerDelay.String(),
	}
	if session == nil {
		return res
	}
	res.Produced = session.Produced
	res.Consumed = session.Consumed
	res.Elapsed = session.Elapsed.String()
	res.InOrder = slices.Equal(session.Consumed, expected(cfg.Items))
	return res
}

// complete reports whether every item 1..Items was consumed exactly once.
// A single producer feeding a single consumer must also preserve order.
func complete(res report.SessionResult) bool {
	if res.Produced != res.Items {
		return false
	}
	if res.NumProducers == 1 && res.NumConsumers == 1 {
		return res.InOrder
	}
	sorted := slices.Clone(res.Consumed)
	slices.Sort(sorted)
	return slices.Equal(sorted, expected(res.Items))
}

func expected(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}
