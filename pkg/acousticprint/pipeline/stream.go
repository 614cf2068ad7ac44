package pipeline

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint/dsp"
	"github.com/himanishpuri/acousticprint/pkg/models"
)

// streaming runs one producer and one consumer connected by a bounded FIFO
// of sample chunks. The producer blocks while the queue is full and closes it
// only when the input ends cleanly; a failure on either side cancels the
// shared context instead.
func (r *run) streaming(ctx context.Context) error {
	cfg := r.p.cfg
	g, gctx := errgroup.WithContext(ctx)
	chunks := make(chan []float64, cfg.QueueSize)

	g.Go(func() (err error) {
		defer recoverStage("producer", &err)
		start := time.Now()
		if err := r.produce(gctx, chunks); err != nil {
			return err
		}
		r.sum.DecodeTime = time.Since(start)
		close(chunks)
		return nil
	})

	g.Go(func() (err error) {
		defer recoverStage("consumer", &err)
		start := time.Now()
		defer func() { r.sum.AnalysisTime = time.Since(start) }()
		return r.consume(gctx, chunks)
	})

	return g.Wait()
}

func (r *run) produce(ctx context.Context, chunks chan<- []float64) error {
	size := r.p.cfg.ChunkSize
	var pending []float64
	for {
		var err error
		pending, err = r.nextSamples(ctx, pending)
		eof := isEOF(err)
		if err != nil && !eof {
			return stageError("producer", err)
		}

		for len(pending) >= size || (eof && len(pending) > 0) {
			n := min(size, len(pending))
			chunk := make([]float64, n)
			copy(chunk, pending[:n])
			pending = pending[:copy(pending, pending[n:])]

			select {
			case chunks <- chunk:
				r.p.metrics.SetQueueDepth(len(chunks))
			case <-ctx.Done():
				return stageError("producer", ctx.Err())
			}
		}
		if eof {
			return nil
		}
	}
}

func (r *run) consume(ctx context.Context, chunks <-chan []float64) error {
	cfg := r.p.cfg
	pad := cfg.Strategy == models.StrategyDense
	framer, err := dsp.NewFramer(cfg.FrameLength, cfg.HopSize, r.p.window, pad)
	if err != nil {
		return stageError("consumer", err)
	}
	tr := r.p.plan.New()

	emit := func(fr dsp.Frame) error {
		res := r.ex.OnFrame(fr, tr)
		r.p.metrics.FrameDone(r.label)
		recs, err := r.ex.Collect(res)
		if err != nil {
			return err
		}
		return r.emit(recs)
	}

	for done := false; !done; {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				done = true
				break
			}
			r.p.metrics.SetQueueDepth(len(chunks))
			if err := framer.Push(chunk, emit); err != nil {
				return stageError("consumer", err)
			}
		case <-ctx.Done():
			return stageError("consumer", ctx.Err())
		}
	}

	if err := framer.Flush(emit); err != nil {
		return stageError("consumer", err)
	}
	r.sum.Frames = framer.Emitted()

	if err := r.finish(ctx, 1); err != nil {
		return stageError("consumer", err)
	}
	return nil
}
