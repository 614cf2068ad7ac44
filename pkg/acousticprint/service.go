package acousticprint

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint/audio"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/pipeline"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/storage"
	"github.com/himanishpuri/acousticprint/pkg/logger"
	"github.com/himanishpuri/acousticprint/pkg/models"
)

// Report is the outcome of one fingerprinting run.
type Report struct {
	*pipeline.Summary
	Input  string
	RunID  string // set for sqlite, postgres and badger sinks
	Output string // text output path, "-" for stdout
}

// Engine fingerprints inputs with one fixed configuration. It is safe for
// concurrent use.
type Engine struct {
	cfg    *Config
	pipe   *pipeline.Pipeline
	source audio.Source
	log    Logger

	mu     sync.Mutex
	store  runStore
	parent *Engine // set by Derive; the parent owns the store
}

func New(opts ...Option) (*Engine, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	pipe, err := pipeline.New(cfg.Config,
		pipeline.WithLogger(cfg.Logger),
		pipeline.WithMetrics(cfg.Metrics),
	)
	if err != nil {
		return nil, err
	}
	src, err := audio.NewSource(cfg.Decoder, cfg.BlockFrames)
	if err != nil {
		return nil, &models.ConfigError{Field: "decoder", Reason: err.Error()}
	}

	return &Engine{cfg: cfg, pipe: pipe, source: src, log: cfg.Logger}, nil
}

// Config returns the configuration with strategy defaults filled in.
func (e *Engine) Config() Config {
	cfg := *e.cfg
	cfg.Config = cfg.Config.Resolved()
	return cfg
}

// Derive returns an engine with opts applied over e's configuration. Hop
// size and window left at their defaults are resolved again for the derived
// strategy. The derived engine shares e's run store and must not outlive e.
func (e *Engine) Derive(opts ...Option) (*Engine, error) {
	cfg := *e.cfg
	child, err := New(append([]Option{WithConfig(&cfg)}, opts...)...)
	if err != nil {
		return nil, err
	}
	if e.parent != nil {
		child.parent = e.parent
	} else {
		child.parent = e
	}
	return child, nil
}

// Close releases the run store, if one was opened.
func (e *Engine) Close() error {
	if e.parent != nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store == nil {
		return nil
	}
	err := e.store.Close()
	e.store = nil
	return err
}

// Catalog returns the configured persistent store for reading runs.
func (e *Engine) Catalog() (RunCatalog, error) {
	return e.runStore()
}

func (e *Engine) runStore() (runStore, error) {
	if e.parent != nil {
		return e.parent.runStore()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.store != nil {
		return e.store, nil
	}
	s, err := openStore(e.cfg.Output)
	if err != nil {
		return nil, fmt.Errorf("opening %s store: %w", e.cfg.Output.Sink, err)
	}
	e.store = s
	return s, nil
}

// Fingerprint decodes input with the configured decoder and writes its
// records to sink. A nil sink means the configured output.
func (e *Engine) Fingerprint(ctx context.Context, input string, sink Sink) (*Report, error) {
	stream, err := e.source.Open(ctx, input)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	rep := &Report{Input: input}
	if sink == nil {
		sink, err = e.OpenSink(ctx, input, stream.Format(), rep)
		if err != nil {
			return nil, err
		}
	}

	e.log.Infof("Fingerprinting %s (%s, %s)", input, e.cfg.Strategy, e.cfg.Mode)
	sum, err := e.pipe.Run(ctx, stream, sink)
	rep.Summary = sum
	if err != nil {
		return rep, err
	}
	e.log.Infof("Wrote %d records for %s in %v", sum.Records, input, sum.TotalTime.Round(time.Millisecond))
	return rep, nil
}

// FingerprintToFile writes text records of input to output atomically.
func (e *Engine) FingerprintToFile(ctx context.Context, input, output string) (*Report, error) {
	sink, err := storage.CreateTextSink(output)
	if err != nil {
		return nil, err
	}
	rep, err := e.Fingerprint(ctx, input, sink)
	if rep != nil {
		rep.Output = output
	}
	if err != nil && rep == nil {
		sink.Abort()
	}
	return rep, err
}

// FingerprintBlocks runs the pipeline over an already opened stream.
func (e *Engine) FingerprintBlocks(ctx context.Context, stream audio.Stream, sink Sink) (*pipeline.Summary, error) {
	return e.pipe.Run(ctx, stream, sink)
}

// OpenSink opens the configured output for one run of input and records the
// run id or output path in rep.
func (e *Engine) OpenSink(ctx context.Context, input string, format models.Format, rep *Report) (Sink, error) {
	out := e.cfg.Output
	if out.Sink == SinkText {
		if out.Path == "" || out.Path == "-" {
			rep.Output = "-"
			return storage.NewTextWriter(os.Stdout), nil
		}
		rep.Output = out.Path
		return storage.CreateTextSink(out.Path)
	}

	store, err := e.runStore()
	if err != nil {
		return nil, err
	}
	sink, id, err := store.begin(ctx, models.RunInfo{
		Input:      input,
		Strategy:   e.cfg.Strategy,
		Mode:       e.cfg.Mode,
		SampleRate: format.SampleRate,
	})
	if err != nil {
		return nil, err
	}
	rep.RunID = id
	return sink, nil
}
