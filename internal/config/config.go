// Package config loads the readout configuration from YAML.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sebogh/readoutq/internal/emulator"
	"github.com/sebogh/readoutq/internal/frame"
	"github.com/sebogh/readoutq/internal/queue"
	"github.com/sebogh/readoutq/internal/readout"
	"github.com/sebogh/readoutq/internal/recorder"
)

var ErrInvalid = errors.New("invalid config")

// Config is the full readout configuration.
type Config struct {
	Buffer    BufferConfig            `yaml:"buffer"`
	Emulator  emulator.Config         `yaml:"emulator"`
	Recorder  recorder.Config         `yaml:"recorder"`
	Requester readout.RequesterConfig `yaml:"requester"`
	Cleaner   readout.CleanerConfig   `yaml:"cleaner"`
	Monitor   MonitorConfig           `yaml:"monitor"`
}

type BufferConfig struct {
	// Capacity is the number of records the buffer holds.
	Capacity       int    `yaml:"capacity"`
	LookupStrategy string `yaml:"lookup_strategy"`
}

type MonitorConfig struct {
	// Listen is the address serving /metrics and /ws. Empty disables it.
	Listen        string        `yaml:"listen"`
	StatsInterval time.Duration `yaml:"stats_interval"`
}

// Default returns a configuration with every section at its defaults.
func Default() Config {
	return Config{
		Buffer: BufferConfig{
			Capacity:       100000,
			LookupStrategy: string(queue.StrategyFixedRate),
		},
		Emulator:  emulator.DefaultConfig(),
		Recorder:  recorder.DefaultConfig(),
		Requester: readout.DefaultRequesterConfig(),
		Cleaner:   readout.DefaultCleanerConfig(),
		Monitor: MonitorConfig{
			Listen:        "127.0.0.1:9464",
			StatsInterval: time.Second,
		},
	}
}

// LoadFromFile loads a configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML bytes into a Config. Keys missing from data keep their
// defaults.
func Parse(data []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parsing config YAML: %w", err)
	}
	if err := validate(&c); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &c, nil
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}

// validate checks config integrity.
func validate(c *Config) error {
	if c.Buffer.Capacity <= 0 {
		return invalid("buffer.capacity must be positive, got %d", c.Buffer.Capacity)
	}
	if _, err := queue.ParseStrategy(c.Buffer.LookupStrategy); err != nil {
		return invalid("buffer.lookup_strategy: %v", err)
	}

	e := c.Emulator
	if e.DataFile == "" {
		return invalid("emulator.data_file is required")
	}
	if e.TickDifference != 0 && e.TickDifference != uint64(frame.TickDifference) {
		return invalid("emulator.tick_difference must be %d (or 0 for the record default), got %d",
			frame.TickDifference, e.TickDifference)
	}
	for name, r := range map[string]float64{
		"dropout_rate":     e.DropoutRate,
		"frame_error_rate": e.FrameErrorRate,
	} {
		if r < 0 || r > 1 {
			return invalid("emulator.%s must be in [0, 1], got %g", name, r)
		}
	}
	if e.Slowdown <= 0 {
		return invalid("emulator.slowdown must be positive, got %g", e.Slowdown)
	}
	if e.RandomPopulationSize <= 0 {
		return invalid("emulator.random_population_size must be positive, got %d", e.RandomPopulationSize)
	}

	if c.Recorder.Enabled {
		if c.Recorder.OutputFile == "" {
			return invalid("recorder.output_file is required")
		}
		if c.Recorder.StreamBufferSize <= 0 {
			return invalid("recorder.stream_buffer_size must be positive, got %d", c.Recorder.StreamBufferSize)
		}
		if _, err := recorder.ParseCompression(c.Recorder.Compression); err != nil {
			return invalid("recorder.compression_algorithm: %v", err)
		}
	} else {
		if c.Cleaner.Threshold <= 0 || c.Cleaner.Threshold > 1 {
			return invalid("cleaner.threshold must be in (0, 1], got %g", c.Cleaner.Threshold)
		}
		if c.Cleaner.Interval <= 0 {
			return invalid("cleaner.interval must be positive")
		}
	}

	if c.Requester.Enabled {
		if c.Requester.Interval <= 0 {
			return invalid("requester.interval must be positive")
		}
		if c.Requester.WindowWidth == 0 {
			return invalid("requester.window_width must be positive")
		}
	}

	if c.Monitor.Listen != "" && c.Monitor.StatsInterval <= 0 {
		c.Monitor.StatsInterval = time.Second
	}
	return nil
}
