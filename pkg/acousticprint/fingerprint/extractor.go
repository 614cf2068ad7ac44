// Package fingerprint turns transformed frames into fingerprint records.
//
// Two strategies share the same frame and transform stages: Dense emits one
// packed integer per frame, Landmark detects spectral peaks and pairs them
// into digests at the end of the run.
package fingerprint

import (
	"context"
	"fmt"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint/dsp"
	"github.com/himanishpuri/acousticprint/pkg/models"
)

// Result is the per-frame output of OnFrame.
type Result struct {
	Index  int
	Offset int
	Hash   uint64    // dense
	Row    []float64 // landmark magnitude row
}

// FinishInfo carries run-wide facts only known once the input is exhausted.
type FinishInfo struct {
	PeakAmplitude float64 // max |sample| of the analysed signal
	Workers       int     // parallelism allowed for end-of-run work
}

// Extractor is the strategy interface used by the pipeline.
type Extractor interface {
	Strategy() models.Strategy

	// OnFrame transforms fr.Data in place and reduces it to a Result.
	// It may be called concurrently for distinct frames.
	OnFrame(fr dsp.Frame, tr dsp.Transform) Result

	// Collect receives results strictly in frame order and returns any
	// records that are ready to be written.
	Collect(r Result) ([]models.Record, error)

	// Finish is called once after the last Collect.
	Finish(ctx context.Context, info FinishInfo) ([]models.Record, error)
}

// Params bundles the per-strategy parameters.
type Params struct {
	Dense    DenseParams    `yaml:"dense"`
	Landmark LandmarkParams `yaml:"landmark"`
}

// DefaultParams returns the defaults of both strategies.
func DefaultParams() Params {
	return Params{Dense: DefaultDenseParams(), Landmark: DefaultLandmarkParams()}
}

// New builds the extractor for one run. rolling selects incremental peak
// detection for the landmark strategy (streaming mode).
func New(strategy models.Strategy, p Params, frameLength, sampleRate int, rolling bool) (Extractor, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	switch strategy {
	case models.StrategyDense:
		return NewDense(p.Dense, frameLength, sampleRate), nil
	case models.StrategyLandmark:
		return NewLandmark(p.Landmark, frameLength, sampleRate, rolling)
	}
	return nil, fmt.Errorf("unknown strategy %q", strategy)
}
