package fingerprint

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint/dsp"
	"github.com/himanishpuri/acousticprint/pkg/models"
)

// LandmarkParams configures the peak-pairing strategy.
type LandmarkParams struct {
	// AmpMin is the magnitude floor a peak must exceed, expressed on the
	// peak-normalised signal when Normalize is set.
	AmpMin      float64 `yaml:"amp_min"`
	Radius      int     `yaml:"radius"`
	FanValue    int     `yaml:"fan_value"`
	MaxDeltaT   float64 `yaml:"max_delta_t"`
	Normalize   bool    `yaml:"normalize"`
	Digest      string  `yaml:"digest"`
	DigestBytes int     `yaml:"digest_bytes"`
}

func DefaultLandmarkParams() LandmarkParams {
	return LandmarkParams{
		AmpMin:      10,
		Radius:      20,
		FanValue:    15,
		MaxDeltaT:   5.0,
		Normalize:   true,
		Digest:      DigestSHA1,
		DigestBytes: 10,
	}
}

// Validate appends every violation to errs.
func (p LandmarkParams) Validate(errs *models.ConfigErrors) {
	if p.AmpMin < 0 {
		errs.Add("landmark.amp_min", "must be >= 0, got %g", p.AmpMin)
	}
	if p.Radius < 1 {
		errs.Add("landmark.radius", "must be >= 1, got %d", p.Radius)
	}
	if p.FanValue < 1 {
		errs.Add("landmark.fan_value", "must be >= 1, got %d", p.FanValue)
	}
	if p.MaxDeltaT < 0 {
		errs.Add("landmark.max_delta_t", "must be >= 0, got %g", p.MaxDeltaT)
	}
	if _, err := NewDigester(p.Digest, p.DigestBytes); err != nil {
		errs.Add("landmark.digest", "%v", err)
	}
}

// Grid is the spectral magnitude grid of one run, indexed by absolute row
// (frame) number and bin. Rows older than the detection window may be
// released in streaming mode.
type Grid struct {
	base  int
	rows  [][]float64
	times []float64
}

// Append adds the next row.
func (g *Grid) Append(row []float64, t float64) {
	g.rows = append(g.rows, row)
	g.times = append(g.times, t)
}

// Len is the number of rows appended so far, released ones included.
func (g *Grid) Len() int { return g.base + len(g.rows) }

// Bins is the row width.
func (g *Grid) Bins() int {
	if len(g.rows) == 0 {
		return 0
	}
	return len(g.rows[0])
}

// At returns the magnitude of cell (t, f).
func (g *Grid) At(t, f int) float64 { return g.rows[t-g.base][f] }

// Time returns the start time of row t.
func (g *Grid) Time(t int) float64 { return g.times[t-g.base] }

// Release drops every row below before.
func (g *Grid) Release(before int) {
	k := before - g.base
	if k <= 0 {
		return
	}
	k = min(k, len(g.rows))
	clear(g.rows[:k])
	g.rows = g.rows[k:]
	g.times = g.times[k:]
	g.base += k
}

// IsPeak reports whether cell (t, f) exceeds floor and is strictly greater
// than every other cell within radius r in both directions. The
// neighbourhood is clamped at the grid edges.
func IsPeak(g *Grid, t, f, r int, floor float64) bool {
	m := g.At(t, f)
	if !(m > floor) {
		return false
	}
	t0, t1 := max(g.base, t-r), min(g.Len()-1, t+r)
	f0, f1 := max(0, f-r), min(g.Bins()-1, f+r)
	for tt := t0; tt <= t1; tt++ {
		row := g.rows[tt-g.base]
		for ff := f0; ff <= f1; ff++ {
			if tt == t && ff == f {
				continue
			}
			if row[ff] >= m {
				return false
			}
		}
	}
	return true
}

// DetectRow returns the peaks of row t in ascending bin order.
func DetectRow(g *Grid, t, r int, floor, binHz float64) []models.Peak {
	var peaks []models.Peak
	for f := 0; f < g.Bins(); f++ {
		if IsPeak(g, t, f, r, floor) {
			peaks = append(peaks, models.Peak{
				Time:      g.Time(t),
				Frequency: float64(f) * binHz,
				Row:       t,
				Bin:       f,
				Magnitude: g.At(t, f),
			})
		}
	}
	return peaks
}

// Landmark is the peak-pairing extractor.
//
// In rolling mode a row is examined as soon as the r rows after it exist and
// rows that can no longer be part of a neighbourhood are released. Otherwise
// the whole grid is kept and examined in parallel by Finish. Either way all
// peaks are buffered and paired once the stream ends.
type Landmark struct {
	p          LandmarkParams
	frameLen   int
	sampleRate int
	binHz      float64
	rolling    bool
	digest     Digester

	grid  Grid
	next  int
	peaks []models.Peak
}

func NewLandmark(p LandmarkParams, frameLength, sampleRate int, rolling bool) (*Landmark, error) {
	dig, err := NewDigester(p.Digest, p.DigestBytes)
	if err != nil {
		return nil, err
	}
	return &Landmark{
		p:          p,
		frameLen:   frameLength,
		sampleRate: sampleRate,
		binHz:      float64(sampleRate) / float64(frameLength),
		rolling:    rolling,
		digest:     dig,
	}, nil
}

func (l *Landmark) Strategy() models.Strategy { return models.StrategyLandmark }

func (l *Landmark) OnFrame(fr dsp.Frame, tr dsp.Transform) Result {
	tr.Forward(fr.Data)
	row := make([]float64, len(fr.Data)/2)
	dsp.MagnitudeInto(row, fr.Data[:len(row)])
	return Result{Index: fr.Index, Offset: fr.Offset, Row: row}
}

func (l *Landmark) Collect(r Result) ([]models.Record, error) {
	l.grid.Append(r.Row, float64(r.Offset)/float64(l.sampleRate))
	if !l.rolling {
		return nil, nil
	}
	// Rows are tested against a zero floor here; the amplitude floor needs
	// the run's peak amplitude and is applied in Finish.
	for l.next+l.p.Radius < l.grid.Len() {
		l.peaks = append(l.peaks, DetectRow(&l.grid, l.next, l.p.Radius, 0, l.binHz)...)
		l.next++
		l.grid.Release(l.next - l.p.Radius)
	}
	return nil, nil
}

// Floor returns the absolute magnitude floor for a run whose analysed
// signal peaks at peakAmplitude. Comparing raw magnitudes against
// AmpMin*peak is the same test as comparing the peak-normalised spectrum
// against AmpMin.
func (l *Landmark) Floor(peakAmplitude float64) float64 {
	if l.p.Normalize {
		return l.p.AmpMin * peakAmplitude
	}
	return l.p.AmpMin
}

func (l *Landmark) Finish(ctx context.Context, info FinishInfo) ([]models.Record, error) {
	if l.p.Normalize && info.PeakAmplitude == 0 {
		return nil, nil
	}
	floor := l.Floor(info.PeakAmplitude)

	if l.rolling {
		for ; l.next < l.grid.Len(); l.next++ {
			l.peaks = append(l.peaks, DetectRow(&l.grid, l.next, l.p.Radius, 0, l.binHz)...)
		}
		kept := l.peaks[:0]
		for _, p := range l.peaks {
			if p.Magnitude > floor {
				kept = append(kept, p)
			}
		}
		l.peaks = kept
	} else {
		peaks, err := l.detectAll(ctx, floor, info.Workers)
		if err != nil {
			return nil, err
		}
		l.peaks = peaks
	}

	return Pair(l.peaks, l.p.FanValue, l.p.MaxDeltaT, l.digest), nil
}

// Peaks returns the peaks found so far (all of them after Finish).
func (l *Landmark) Peaks() []models.Peak { return l.peaks }

// Grid exposes the magnitude grid for inspection.
func (l *Landmark) Grid() *Grid { return &l.grid }

func (l *Landmark) detectAll(ctx context.Context, floor float64, workers int) ([]models.Peak, error) {
	rows := l.grid.Len()
	perRow := make([][]models.Peak, rows)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, workers))
	for t := 0; t < rows; t++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			perRow[t] = DetectRow(&l.grid, t, l.p.Radius, floor, l.binHz)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var peaks []models.Peak
	for _, p := range perRow {
		peaks = append(peaks, p...)
	}
	return peaks, nil
}
