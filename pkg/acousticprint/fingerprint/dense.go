package fingerprint

import (
	"context"
	"math/bits"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint/dsp"
	"github.com/himanishpuri/acousticprint/pkg/models"
)

// DenseParams configures the fixed-grid strategy.
//
// Bins in [MinBin, MaxBin) are scanned. Bin b falls in the first bucket k
// with b <= Bounds[k]; bins above the last bound land in an overflow bucket
// that is tracked but never encoded. Weights[k] scales the coarsened
// representative of bucket k in the packed hash.
type DenseParams struct {
	MinBin  int      `yaml:"min_bin"`
	MaxBin  int      `yaml:"max_bin"`
	Bounds  []int    `yaml:"bounds"`
	Weights []uint64 `yaml:"weights"`
	Fuzz    int      `yaml:"fuzz"`
}

// maxBands keeps slot numbers (bounds plus overflow) within a uint8.
const maxBands = 254

func DefaultDenseParams() DenseParams {
	return DenseParams{
		MinBin:  40,
		MaxBin:  300,
		Bounds:  []int{40, 80, 120, 180},
		Weights: []uint64{1, 100, 100_000, 100_000_000},
		Fuzz:    2,
	}
}

// Validate appends every violation to errs.
func (p DenseParams) Validate(errs *models.ConfigErrors) {
	if p.MinBin < 0 {
		errs.Add("dense.min_bin", "must be >= 0, got %d", p.MinBin)
	}
	if p.MaxBin <= p.MinBin {
		errs.Add("dense.max_bin", "must be greater than min_bin (%d), got %d", p.MinBin, p.MaxBin)
	}
	if len(p.Bounds) == 0 || len(p.Bounds) > maxBands {
		errs.Add("dense.bounds", "need between 1 and %d band boundaries, got %d", maxBands, len(p.Bounds))
	}
	for i, b := range p.Bounds {
		if b < p.MinBin || b >= p.MaxBin {
			errs.Add("dense.bounds", "boundary %d outside inspected range [%d, %d)", b, p.MinBin, p.MaxBin)
		}
		if i > 0 && b <= p.Bounds[i-1] {
			errs.Add("dense.bounds", "boundaries must be strictly ascending (%d after %d)", b, p.Bounds[i-1])
		}
	}
	if len(p.Weights) != len(p.Bounds) {
		errs.Add("dense.weights", "need one weight per boundary (%d), got %d", len(p.Bounds), len(p.Weights))
	} else if !p.fitsUint64() {
		errs.Add("dense.weights", "largest packed hash overflows uint64")
	}
	if p.Fuzz < 1 {
		errs.Add("dense.fuzz", "must be >= 1, got %d", p.Fuzz)
	}
}

// fitsUint64 reports whether EncodeDense cannot wrap. Bucket k never holds a
// bin above Bounds[k], and coarsening only rounds down.
func (p DenseParams) fitsUint64() bool {
	var total uint64
	for k, w := range p.Weights {
		if p.Bounds[k] <= 0 {
			continue
		}
		hi, term := bits.Mul64(uint64(p.Bounds[k]), w)
		if hi != 0 {
			return false
		}
		var carry uint64
		total, carry = bits.Add64(total, term, 0)
		if carry != 0 {
			return false
		}
	}
	return true
}

// BandTable maps a raw bin number to its bucket slot. It is built once per run.
type BandTable struct {
	minBin int
	slots  []uint8
	nSlots int
}

func NewBandTable(p DenseParams) BandTable {
	t := BandTable{minBin: p.MinBin, nSlots: len(p.Bounds) + 1}
	if p.MaxBin <= p.MinBin {
		return t
	}
	t.slots = make([]uint8, p.MaxBin-p.MinBin)
	for i := range t.slots {
		bin := p.MinBin + i
		slot := len(p.Bounds)
		for k, b := range p.Bounds {
			if bin <= b {
				slot = k
				break
			}
		}
		t.slots[i] = uint8(slot)
	}
	return t
}

// Slot returns the bucket slot of bin; len(Bounds) is the overflow bucket.
func (t BandTable) Slot(bin int) int {
	return int(t.slots[bin-t.minBin])
}

// Coarsen clears the sub-fuzz part of a bin index: b - b%fuzz.
// It is a projection, so Coarsen(Coarsen(b)) == Coarsen(b).
func Coarsen(bin, fuzz int) int {
	if fuzz <= 1 {
		return bin
	}
	return bin - bin%fuzz
}

// EncodeDense packs the coarsened bucket representatives into one integer.
func EncodeDense(points []int, weights []uint64, fuzz int) uint64 {
	var h uint64
	for k, w := range weights {
		h += uint64(Coarsen(points[k], fuzz)) * w
	}
	return h
}

// Dense is the fixed-grid extractor: one hash per frame.
type Dense struct {
	p          DenseParams
	table      BandTable
	sampleRate int
}

func NewDense(p DenseParams, frameLength, sampleRate int) *Dense {
	return &Dense{p: p, table: NewBandTable(p), sampleRate: sampleRate}
}

func (d *Dense) Strategy() models.Strategy { return models.StrategyDense }

func (d *Dense) OnFrame(fr dsp.Frame, tr dsp.Transform) Result {
	tr.Forward(fr.Data)
	return Result{Index: fr.Index, Offset: fr.Offset, Hash: d.Hash(fr.Data)}
}

// Hash computes the dense hash of an already transformed frame.
//
// Each bucket keeps the bin with the strictly greatest power seen so far,
// starting from bin 0 with score 0, so silent frames hash to 0 and ties keep
// the earliest bin. Bins at or beyond the frame length are skipped.
func (d *Dense) Hash(spectrum []complex128) uint64 {
	hi := min(d.p.MaxBin, len(spectrum))
	points := make([]int, d.table.nSlots)
	if hi <= d.p.MinBin {
		return EncodeDense(points, d.p.Weights, d.p.Fuzz)
	}

	power := make([]float64, hi-d.p.MinBin)
	dsp.PowerInto(power, spectrum[d.p.MinBin:hi])

	scores := make([]float64, d.table.nSlots)
	for i, m := range power {
		s := d.table.slots[i]
		if m > scores[s] {
			scores[s] = m
			points[s] = d.p.MinBin + i
		}
	}
	return EncodeDense(points, d.p.Weights, d.p.Fuzz)
}

func (d *Dense) Collect(r Result) ([]models.Record, error) {
	return []models.Record{{
		Kind: models.StrategyDense,
		Hash: r.Hash,
		Time: float64(r.Offset) / float64(d.sampleRate),
	}}, nil
}

func (d *Dense) Finish(context.Context, FinishInfo) ([]models.Record, error) {
	return nil, nil
}
