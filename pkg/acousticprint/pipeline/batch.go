package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint/dsp"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/fingerprint"
	"github.com/himanishpuri/acousticprint/pkg/models"
)

// batch decodes the whole input, then transforms frames on a worker pool.
// Results are stored by frame index and collected in order afterwards.
func (r *run) batch(ctx context.Context) error {
	cfg := r.p.cfg

	decodeStart := time.Now()
	var samples []float64
	for {
		var err error
		samples, err = r.nextSamples(ctx, samples)
		if isEOF(err) {
			break
		}
		if err != nil {
			return stageError("decode", err)
		}
	}
	r.sum.DecodeTime = time.Since(decodeStart)

	analysisStart := time.Now()
	pad := cfg.Strategy == models.StrategyDense
	frames, err := dsp.Frames(samples, cfg.FrameLength, cfg.HopSize, r.p.window, pad)
	if err != nil {
		return stageError("frame", err)
	}
	samples = nil
	r.sum.Frames = len(frames)

	results := make([]fingerprint.Result, len(frames))
	if err := r.transformAll(ctx, frames, results); err != nil {
		return err
	}

	for i := range results {
		recs, err := r.ex.Collect(results[i])
		if err != nil {
			return stageError("extract", err)
		}
		results[i] = fingerprint.Result{}
		if err := r.emit(recs); err != nil {
			return stageError("sink", err)
		}
	}
	if err := r.finish(ctx, cfg.Workers); err != nil {
		return stageError("finish", err)
	}

	r.sum.AnalysisTime = time.Since(analysisStart)
	return nil
}

// transformAll fans frame indices out to a fixed pool. Each worker owns its
// Transform; each frame's buffer is touched by exactly one worker.
func (r *run) transformAll(ctx context.Context, frames []dsp.Frame, results []fingerprint.Result) error {
	if len(frames) == 0 {
		return nil
	}
	workers := min(r.p.cfg.Workers, len(frames))

	g, gctx := errgroup.WithContext(ctx)
	jobs := make(chan int)

	for w := 0; w < workers; w++ {
		g.Go(func() (err error) {
			defer recoverStage("worker", &err)
			tr := r.p.plan.New()
			for i := range jobs {
				results[i] = r.ex.OnFrame(frames[i], tr)
				frames[i].Data = nil
				r.p.metrics.FrameDone(r.label)
			}
			return nil
		})
	}

	g.Go(func() error {
		defer close(jobs)
		for i := range frames {
			select {
			case jobs <- i:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return stageError("worker", err)
	}
	return nil
}
