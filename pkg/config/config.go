package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/i5heu/GoBoundedQueue/internal/testbench"
)

// Config is the producer/consumer harness configuration. It can be read from
// a YAML file and overridden by command line flags.
type Config struct {
	Capacity      int           `yaml:"capacity"`
	Items         int           `yaml:"items"`
	Producers     int           `yaml:"producers"`
	Consumers     int           `yaml:"consumers"`
	ProducerDelay time.Duration `yaml:"producer_delay"`
	ConsumerDelay time.Duration `yaml:"consumer_delay"`
	Timeout       time.Duration `yaml:"timeout"`

	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	MetricsBind string `yaml:"metrics_bind"`
	ReportFile  string `yaml:"report_file"`
	Progress    bool   `yaml:"progress"`
}

// Default returns the classic demo: five slots, twelve items, one producer
// and one consumer, no pacing.
func Default() *Config {
	c := &Config{}
	c.applyDefaults()
	return c
}

// Load reads a YAML file, fills in defaults and validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes YAML, fills in defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromArgs resolves the configuration for a command: defaults, then the
// file named by -config, then any other flags given explicitly. A zero or
// missing field in the file means the default; a flag is taken as given.
func FromArgs(name string, args []string, output io.Writer) (*Config, error) {
	probe := flag.NewFlagSet(name, flag.ContinueOnError)
	probe.SetOutput(io.Discard)
	path := probe.String("config", "", "")
	Default().RegisterFlags(probe)
	// The first pass only looks for -config; parse errors surface in the second.
	_ = probe.Parse(args)

	cfg := Default()
	if *path != "" {
		loaded, err := Load(*path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(output)
	fs.String("config", "", "Path to a YAML configuration file")
	cfg.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	// cfg already carries defaults, so an explicit zero flag stays zero and
	// Validate judges it.
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// RegisterFlags binds every field to a flag on fs, using the current values
// as flag defaults.
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.Capacity, "capacity", c.Capacity, "Queue capacity")
	fs.IntVar(&c.Items, "items", c.Items, "Number of items to produce and consume")
	fs.IntVar(&c.Producers, "producers", c.Producers, "Number of producer goroutines")
	fs.IntVar(&c.Consumers, "consumers", c.Consumers, "Number of consumer goroutines")
	fs.DurationVar(&c.ProducerDelay, "producer-delay", c.ProducerDelay, "Pause after each produced item (presentation only)")
	fs.DurationVar(&c.ConsumerDelay, "consumer-delay", c.ConsumerDelay, "Pause after each consumed item (presentation only)")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "Abort the session after this long (0 disables)")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "Log level: debug, info, warn, error")
	fs.StringVar(&c.LogFormat, "log-format", c.LogFormat, "Log format: text or json")
	fs.StringVar(&c.MetricsBind, "metrics", c.MetricsBind, "Serve /metrics and /status on this address (empty disables)")
	fs.StringVar(&c.ReportFile, "json", c.ReportFile, "Append a JSON session report to this file (empty disables)")
	fs.BoolVar(&c.Progress, "progress", c.Progress, "Display a progress bar instead of the event trace")
}

func (c *Config) applyDefaults() {
	if c.Capacity == 0 {
		c.Capacity = 5
	}
	if c.Items == 0 {
		c.Items = 12
	}
	if c.Producers == 0 {
		c.Producers = 1
	}
	if c.Consumers == 0 {
		c.Consumers = 1
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Capacity < 1 {
		return fmt.Errorf("config: capacity must be positive, got %d", c.Capacity)
	}
	if c.Items < 0 {
		return fmt.Errorf("config: items must not be negative, got %d", c.Items)
	}
	if c.Producers < 1 || c.Consumers < 1 {
		return errors.New("config: producers and consumers must be at least 1")
	}
	if c.ProducerDelay < 0 || c.ConsumerDelay < 0 || c.Timeout < 0 {
		return errors.New("config: durations must not be negative")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("config: unknown log_format %q", c.LogFormat)
	}
	return nil
}

// Session returns the driver configuration.
func (c *Config) Session() testbench.Config {
	return testbench.Config{
		NumProducers:  c.Producers,
		NumConsumers:  c.Consumers,
		Items:         c.Items,
		ProducerDelay: c.ProducerDelay,
		ConsumerDelay: c.ConsumerDelay,
	}
}

// NewLogger builds a logrus logger writing to w at the configured level and
// format. Validate must have succeeded.
func (c *Config) NewLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
		l.SetLevel(lvl)
	}
	if c.LogFormat == "json" {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return l
}
