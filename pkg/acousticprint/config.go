package acousticprint

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/himanishpuri/acousticprint/internal/metrics"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/audio"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/fingerprint"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/pipeline"
	"github.com/himanishpuri/acousticprint/pkg/models"
)

// Sink kinds accepted in OutputConfig.Sink.
const (
	SinkText     = "text"
	SinkSQLite   = "sqlite"
	SinkPostgres = "postgres"
	SinkBadger   = "badger"
)

type OutputConfig struct {
	// Sink is text, sqlite, postgres or badger.
	Sink string `yaml:"sink"`
	// Path is the text output file ("-" or empty for stdout), the sqlite
	// file or the badger directory.
	Path string `yaml:"path"`
	DSN  string `yaml:"dsn"`
}

type Config struct {
	pipeline.Config `yaml:",inline"`

	Decoder     string       `yaml:"decoder"`
	BlockFrames int          `yaml:"block_frames"`
	Output      OutputConfig `yaml:"output"`

	Logger  Logger           `yaml:"-"`
	Metrics *metrics.Metrics `yaml:"-"`
}

type Option func(*Config)

func WithStrategy(s models.Strategy) Option {
	return func(c *Config) {
		c.Strategy = s
	}
}

func WithMode(m models.Mode) Option {
	return func(c *Config) {
		c.Mode = m
	}
}

func WithFrameLength(n int) Option {
	return func(c *Config) {
		c.FrameLength = n
	}
}

func WithHopSize(n int) Option {
	return func(c *Config) {
		c.HopSize = n
	}
}

func WithWindow(name string) Option {
	return func(c *Config) {
		c.Window = name
	}
}

func WithBackend(name string) Option {
	return func(c *Config) {
		c.Backend = name
	}
}

func WithWorkers(n int) Option {
	return func(c *Config) {
		c.Workers = n
	}
}

func WithQueueSize(n int) Option {
	return func(c *Config) {
		c.QueueSize = n
	}
}

func WithChunkSize(n int) Option {
	return func(c *Config) {
		c.ChunkSize = n
	}
}

func WithDenseParams(p fingerprint.DenseParams) Option {
	return func(c *Config) {
		c.Dense = p
	}
}

func WithLandmarkParams(p fingerprint.LandmarkParams) Option {
	return func(c *Config) {
		c.Landmark = p
	}
}

func WithDecoder(name string) Option {
	return func(c *Config) {
		c.Decoder = name
	}
}

func WithBlockFrames(n int) Option {
	return func(c *Config) {
		c.BlockFrames = n
	}
}

// WithOutput selects the sink used by Fingerprint when no sink is passed.
func WithOutput(sink, path string) Option {
	return func(c *Config) {
		c.Output.Sink = sink
		c.Output.Path = path
	}
}

func WithDSN(dsn string) Option {
	return func(c *Config) {
		c.Output.DSN = dsn
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithConfig replaces the whole configuration, typically one read by
// LoadConfig. Options given after it still apply.
func WithConfig(cfg *Config) Option {
	return func(c *Config) {
		if cfg != nil {
			*c = *cfg
		}
	}
}

func defaultConfig() *Config {
	return &Config{
		Config:      pipeline.DefaultConfig(),
		Decoder:     audio.DecoderWAV,
		BlockFrames: audio.DefaultBlockFrames,
		Output:      OutputConfig{Sink: SinkText},
	}
}

// DefaultConfig returns a copy of the defaults.
func DefaultConfig() Config {
	return *defaultConfig()
}

// LoadConfig reads a YAML file over the defaults. Fields absent from the file
// keep their default value.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid field as a *models.ConfigError.
func (c *Config) Validate() error {
	var errs models.ConfigErrors
	for _, err := range unwrapJoined(c.Config.Validate()) {
		if ce, ok := err.(*models.ConfigError); ok {
			errs = append(errs, ce)
		}
	}

	switch c.Decoder {
	case audio.DecoderWAV, audio.DecoderMP3, audio.DecoderFFmpeg:
	default:
		errs.Add("decoder", "must be %q, %q or %q, got %q", audio.DecoderWAV, audio.DecoderMP3, audio.DecoderFFmpeg, c.Decoder)
	}
	if c.BlockFrames < 1 {
		errs.Add("block_frames", "must be >= 1, got %d", c.BlockFrames)
	}

	switch c.Output.Sink {
	case SinkText, SinkSQLite, SinkBadger:
	case SinkPostgres:
		if c.Output.DSN == "" {
			errs.Add("output.dsn", "required for the postgres sink")
		}
	default:
		errs.Add("output.sink", "must be one of text, sqlite, postgres, badger; got %q", c.Output.Sink)
	}

	return errs.Err()
}

func unwrapJoined(err error) []error {
	if err == nil {
		return nil
	}
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}
