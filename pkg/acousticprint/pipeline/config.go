package pipeline

import (
	"runtime"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint/dsp"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/fingerprint"
	"github.com/himanishpuri/acousticprint/pkg/models"
)

// Config is the immutable analysis configuration of a pipeline.
type Config struct {
	Strategy    models.Strategy `yaml:"strategy"`
	Mode        models.Mode     `yaml:"mode"`
	FrameLength int             `yaml:"frame_length"`
	// HopSize of 0 means the strategy default: the frame length for dense,
	// half of it for landmark.
	HopSize int    `yaml:"hop_size"`
	Window  string `yaml:"window"`
	Backend string `yaml:"backend"`

	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
	ChunkSize int `yaml:"chunk_size"`

	fingerprint.Params `yaml:",inline"`
}

const (
	DefaultFrameLength = 4096
	DefaultQueueSize   = 20
	DefaultChunkSize   = 4096

	minGoDSPFrame = 64
)

// DefaultConfig returns the defaults for the dense strategy in batch mode.
func DefaultConfig() Config {
	return Config{
		Strategy:    models.StrategyDense,
		Mode:        models.ModeBatch,
		FrameLength: DefaultFrameLength,
		Backend:     dsp.BackendGoDSP,
		Workers:     runtime.GOMAXPROCS(0),
		QueueSize:   DefaultQueueSize,
		ChunkSize:   DefaultChunkSize,
		Params:      fingerprint.DefaultParams(),
	}
}

// Resolved fills the strategy-dependent zero values.
func (c Config) Resolved() Config {
	if c.HopSize == 0 {
		if c.Strategy == models.StrategyLandmark {
			c.HopSize = c.FrameLength / 2
		} else {
			c.HopSize = c.FrameLength
		}
	}
	if c.Window == "" {
		if c.Strategy == models.StrategyLandmark {
			c.Window = dsp.WindowHann
		} else {
			c.Window = dsp.WindowNone
		}
	}
	if c.Backend == "" {
		c.Backend = dsp.BackendGoDSP
	}
	return c
}

// Validate checks c (after resolving defaults) and returns every violation
// as joined *models.ConfigError values.
func (c Config) Validate() error {
	c = c.Resolved()
	var errs models.ConfigErrors

	switch c.Strategy {
	case models.StrategyDense, models.StrategyLandmark:
	default:
		errs.Add("strategy", "must be %q or %q, got %q", models.StrategyDense, models.StrategyLandmark, c.Strategy)
	}
	switch c.Mode {
	case models.ModeBatch, models.ModeStream:
	default:
		errs.Add("mode", "must be %q or %q, got %q", models.ModeBatch, models.ModeStream, c.Mode)
	}

	if c.FrameLength < 2 {
		errs.Add("frame_length", "must be at least 2, got %d", c.FrameLength)
	} else if c.Backend == dsp.BackendGoDSP && (c.FrameLength < minGoDSPFrame || c.FrameLength&(c.FrameLength-1) != 0) {
		errs.Add("frame_length", "must be a power of two >= %d for the %s backend, got %d", minGoDSPFrame, dsp.BackendGoDSP, c.FrameLength)
	}

	switch c.Strategy {
	case models.StrategyLandmark:
		if c.HopSize <= 0 || c.HopSize >= c.FrameLength {
			errs.Add("hop_size", "landmark frames must overlap: need 0 < hop < %d, got %d", c.FrameLength, c.HopSize)
		}
		c.Landmark.Validate(&errs)
	case models.StrategyDense:
		if c.HopSize != c.FrameLength {
			errs.Add("hop_size", "dense frames do not overlap: hop must equal frame length %d, got %d", c.FrameLength, c.HopSize)
		}
		c.Dense.Validate(&errs)
	}

	if _, err := dsp.WindowByName(c.Window, 1); err != nil {
		errs.Add("window", "%v", err)
	}
	switch c.Backend {
	case dsp.BackendGoDSP, dsp.BackendGonum:
	default:
		errs.Add("backend", "must be %q or %q, got %q", dsp.BackendGoDSP, dsp.BackendGonum, c.Backend)
	}

	if c.Workers < 1 {
		errs.Add("workers", "must be >= 1, got %d", c.Workers)
	}
	if c.QueueSize < 1 {
		errs.Add("queue_size", "must be >= 1, got %d", c.QueueSize)
	}
	if c.ChunkSize < 1 {
		errs.Add("chunk_size", "must be >= 1, got %d", c.ChunkSize)
	}

	return errs.Err()
}
