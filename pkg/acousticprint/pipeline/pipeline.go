// Package pipeline drives a fingerprinting run: it pulls blocks from a
// stream, reduces and frames them, runs the extractor and writes records to
// a sink, either as a batch parallel map or as a producer/consumer pair.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/himanishpuri/acousticprint/internal/metrics"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/audio"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/dsp"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/fingerprint"
	"github.com/himanishpuri/acousticprint/pkg/logger"
	"github.com/himanishpuri/acousticprint/pkg/models"
)

// Logger is the logging surface the pipeline needs.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// Sink receives records in output order. Commit is called once after a
// successful run, Abort after a failed one.
type Sink interface {
	Write(rec models.Record) error
	Commit() error
	Abort() error
}

// Summary describes a finished (or failed) run.
type Summary struct {
	Strategy      models.Strategy
	Mode          models.Mode
	Format        models.Format
	Samples       int
	Frames        int
	Records       int
	SkippedBlocks int
	PeakAmplitude float64

	// OutputDigest is the sink's xxhash64 over the text rendering of every
	// record, when the sink reports one.
	OutputDigest uint64

	DecodeTime   time.Duration
	AnalysisTime time.Duration
	EmitTime     time.Duration
	TotalTime    time.Duration
}

// digester is implemented by sinks that hash what they write.
type digester interface {
	Sum64() uint64
}

// Pipeline is safe to Run concurrently on different streams; all per-run
// state lives in the run.
type Pipeline struct {
	cfg     Config
	plan    dsp.Plan
	window  []float64
	log     Logger
	metrics *metrics.Metrics
}

type Option func(*Pipeline)

func WithLogger(l Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.log = l
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// New validates cfg and prepares the transform plan and window shared by
// every run.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	cfg = cfg.Resolved()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	plan, err := dsp.NewPlan(cfg.Backend, cfg.FrameLength)
	if err != nil {
		return nil, &models.ConfigError{Field: "backend", Reason: err.Error()}
	}
	window, err := dsp.WindowByName(cfg.Window, cfg.FrameLength)
	if err != nil {
		return nil, &models.ConfigError{Field: "window", Reason: err.Error()}
	}

	p := &Pipeline{
		cfg:    cfg,
		plan:   plan,
		window: window,
		log:    logger.GetLogger(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Config returns the resolved configuration.
func (p *Pipeline) Config() Config { return p.cfg }

// Run fingerprints stream into sink. On failure the sink is aborted and the
// returned error is a *models.PipelineError (or *models.UnsupportedFormat
// when the stream cannot be analysed at all).
func (p *Pipeline) Run(ctx context.Context, stream audio.Stream, sink Sink) (*Summary, error) {
	start := time.Now()
	sum := &Summary{Strategy: p.cfg.Strategy, Mode: p.cfg.Mode, Format: stream.Format()}

	err := p.run(ctx, stream, sink, sum)
	if err == nil {
		if cerr := sink.Commit(); cerr != nil {
			err = &models.PipelineError{Stage: "sink", Err: fmt.Errorf("commit: %w", cerr)}
		} else if d, ok := sink.(digester); ok {
			sum.OutputDigest = d.Sum64()
		}
	}
	sum.TotalTime = time.Since(start)

	status := string(models.RunComplete)
	if err != nil {
		status = string(models.RunIncomplete)
		if aerr := sink.Abort(); aerr != nil {
			p.log.Warnf("Failed to abort sink: %v", aerr)
		}
	}
	p.metrics.RunFinished(string(p.cfg.Strategy), string(p.cfg.Mode), status, sum.TotalTime)
	return sum, err
}

func (p *Pipeline) run(ctx context.Context, stream audio.Stream, sink Sink, sum *Summary) error {
	format := stream.Format()
	if format.Channels <= 0 {
		return &models.UnsupportedFormat{Reason: "zero channels"}
	}
	if format.SampleRate <= 0 {
		return &models.UnsupportedFormat{Reason: fmt.Sprintf("sample rate %d", format.SampleRate)}
	}
	if format.Encoding != models.EncodingInt && format.Encoding != models.EncodingFloat {
		return &models.UnsupportedFormat{Reason: fmt.Sprintf("sample encoding %s", format.Encoding)}
	}

	// The dense reducer concatenates channels, so its analysis stream runs
	// at channels times the source rate.
	rate := format.SampleRate
	if p.cfg.Strategy == models.StrategyDense {
		rate *= format.Channels
	}
	ex, err := fingerprint.New(p.cfg.Strategy, p.cfg.Params, p.cfg.FrameLength, rate, p.cfg.Mode == models.ModeStream)
	if err != nil {
		return &models.ConfigError{Field: "strategy", Reason: err.Error()}
	}

	r := &run{
		p:       p,
		stream:  stream,
		sink:    sink,
		ex:      ex,
		reducer: audio.ReducerFor(p.cfg.Strategy),
		format:  format,
		sum:     sum,
		label:   string(p.cfg.Strategy),
	}

	p.log.Debugf("Starting %s run in %s mode: %d Hz, %d channel(s), frame %d hop %d",
		p.cfg.Strategy, p.cfg.Mode, format.SampleRate, format.Channels, p.cfg.FrameLength, p.cfg.HopSize)

	if p.cfg.Mode == models.ModeStream {
		err = r.streaming(ctx)
	} else {
		err = r.batch(ctx)
	}
	if err != nil {
		return err
	}

	if p.cfg.Strategy == models.StrategyLandmark && sum.PeakAmplitude == 0 && p.cfg.Landmark.Normalize {
		p.log.Warnf("Input is silent, no landmarks produced")
	}
	return nil
}

// run holds the state of one Run call.
type run struct {
	p       *Pipeline
	stream  audio.Stream
	sink    Sink
	ex      fingerprint.Extractor
	reducer audio.Reducer
	format  models.Format
	sum     *Summary
	label   string
}

// nextSamples reads blocks until one reduces successfully and appends its
// samples to dst. Corrupt blocks are logged and skipped. io.EOF marks the
// end of the stream.
func (r *run) nextSamples(ctx context.Context, dst []float64) ([]float64, error) {
	for {
		b, err := r.stream.Next(ctx)
		if err != nil {
			var de *models.DecodeError
			if errors.As(err, &de) {
				r.sum.SkippedBlocks++
				r.p.metrics.DecodeErrorSkipped()
				r.p.log.Warnf("Skipping corrupt block %d: %v", de.Block, de.Err)
				continue
			}
			return dst, err
		}
		if b.Encoding != r.format.Encoding {
			return dst, &models.UnsupportedFormat{
				Reason: fmt.Sprintf("block encoding %s differs from stream encoding %s", b.Encoding, r.format.Encoding),
			}
		}

		before := len(dst)
		dst, err = r.reducer.Reduce(dst, b)
		if err != nil {
			return dst, err
		}
		for _, s := range dst[before:] {
			r.sum.PeakAmplitude = math.Max(r.sum.PeakAmplitude, math.Abs(s))
		}
		r.sum.Samples += len(dst) - before
		r.p.metrics.Samples(len(dst) - before)
		return dst, nil
	}
}

func (r *run) emit(recs []models.Record) error {
	if len(recs) == 0 {
		return nil
	}
	start := time.Now()
	defer func() { r.sum.EmitTime += time.Since(start) }()
	for _, rec := range recs {
		if err := r.sink.Write(rec); err != nil {
			return err
		}
	}
	r.sum.Records += len(recs)
	r.p.metrics.RecordsWritten(r.label, len(recs))
	return nil
}

func (r *run) finish(ctx context.Context, workers int) error {
	recs, err := r.ex.Finish(ctx, fingerprint.FinishInfo{
		PeakAmplitude: r.sum.PeakAmplitude,
		Workers:       workers,
	})
	if err != nil {
		return err
	}
	return r.emit(recs)
}

// stageError wraps err as a PipelineError unless it already is one.
func stageError(stage string, err error) error {
	if err == nil {
		return nil
	}
	var pe *models.PipelineError
	if errors.As(err, &pe) {
		return err
	}
	return &models.PipelineError{Stage: stage, Err: err}
}

// recoverStage turns a panic in a pipeline goroutine into a PipelineError.
func recoverStage(stage string, err *error) {
	if rec := recover(); rec != nil {
		*err = &models.PipelineError{Stage: stage, Err: fmt.Errorf("panic: %v", rec)}
	}
}

func isEOF(err error) bool { return errors.Is(err, io.EOF) }
