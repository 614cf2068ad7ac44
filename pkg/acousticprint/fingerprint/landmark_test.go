package fingerprint

import (
	"bytes"
	"context"
	"crypto/sha1"
	"math"
	"math/rand"
	"testing"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint/audio/audiotest"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/dsp"
	"github.com/himanishpuri/acousticprint/pkg/models"
)

func gridOf(rows [][]float64) *Grid {
	g := &Grid{}
	for i, r := range rows {
		g.Append(r, float64(i))
	}
	return g
}

func TestIsPeak(t *testing.T) {
	g := gridOf([][]float64{
		{9, 1, 1, 1},
		{1, 1, 5, 1},
		{1, 1, 1, 4},
		{1, 7, 1, 7},
	})

	tests := []struct {
		name  string
		t, f  int
		r     int
		floor float64
		want  bool
	}{
		{"corner maximum", 0, 0, 1, 0, true},
		{"interior maximum", 1, 2, 1, 0, true},
		{"dominated by neighbour", 2, 3, 1, 0, false},
		{"below floor", 1, 2, 1, 5, false},
		{"radius reaches larger cell", 1, 2, 2, 0, false},
		{"tie is not a peak", 3, 1, 2, 0, false},
		{"tie outside radius", 3, 1, 1, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsPeak(g, tt.t, tt.f, tt.r, tt.floor); got != tt.want {
				t.Errorf("IsPeak(%d,%d,r=%d,floor=%g) = %v, expected %v", tt.t, tt.f, tt.r, tt.floor, got, tt.want)
			}
		})
	}
}

func TestDetectedPeaksDominateNeighbourhood(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	const rows, bins, r = 60, 80, 3
	data := make([][]float64, rows)
	for i := range data {
		data[i] = make([]float64, bins)
		for j := range data[i] {
			data[i][j] = math.Floor(rng.Float64() * 50)
		}
	}
	g := gridOf(data)

	total := 0
	for ti := 0; ti < rows; ti++ {
		for _, p := range DetectRow(g, ti, r, 10, 1) {
			total++
			if p.Magnitude <= 10 {
				t.Fatalf("peak %+v does not exceed floor", p)
			}
			for tt := max(0, p.Row-r); tt <= min(rows-1, p.Row+r); tt++ {
				for ff := max(0, p.Bin-r); ff <= min(bins-1, p.Bin+r); ff++ {
					if (tt != p.Row || ff != p.Bin) && data[tt][ff] >= data[p.Row][p.Bin] {
						t.Fatalf("peak (%d,%d)=%v not strict max: (%d,%d)=%v", p.Row, p.Bin, data[p.Row][p.Bin], tt, ff, data[tt][ff])
					}
				}
			}
		}
	}
	if total == 0 {
		t.Fatal("Expected some peaks in a random grid")
	}
}

func mustDigester(t *testing.T, name string, size int) Digester {
	t.Helper()
	d, err := NewDigester(name, size)
	if err != nil {
		t.Fatalf("NewDigester failed: %v", err)
	}
	return d
}

func TestPairTwoPeaks(t *testing.T) {
	d := mustDigester(t, DigestSHA1, 10)
	peaks := []models.Peak{
		{Time: 2.0, Frequency: 400},
		{Time: 1.0, Frequency: 200},
	}

	recs := Pair(peaks, 1, 5.0, d)
	if len(recs) != 1 {
		t.Fatalf("Expected 1 pair, got %d", len(recs))
	}
	sum := sha1.Sum([]byte("200|400|1"))
	if !bytes.Equal(recs[0].Digest, sum[:10]) {
		t.Errorf("Expected digest %x, got %x", sum[:10], recs[0].Digest)
	}
	if recs[0].Time != 1.0 || recs[0].Kind != models.StrategyLandmark {
		t.Errorf("unexpected record %+v", recs[0])
	}

	if recs := Pair(peaks, 1, 0.9, d); len(recs) != 0 {
		t.Errorf("Expected no pairs with max_delta_t below 1, got %d", len(recs))
	}
}

func TestPairStableOrderAndFan(t *testing.T) {
	d := mustDigester(t, DigestSHA1, 10)
	peaks := []models.Peak{
		{Time: 1, Frequency: 100},
		{Time: 1, Frequency: 300},
		{Time: 0.5, Frequency: 50},
	}
	recs := Pair(peaks, 2, 10, d)
	want := [][]byte{
		d.Sum(PairKey(50, 100, 0.5)),
		d.Sum(PairKey(50, 300, 0.5)),
		d.Sum(PairKey(100, 300, 0)),
	}
	if len(recs) != len(want) {
		t.Fatalf("Expected %d records, got %d", len(want), len(recs))
	}
	for i := range want {
		if !bytes.Equal(recs[i].Digest, want[i]) {
			t.Errorf("record %d: expected %x, got %x", i, want[i], recs[i].Digest)
		}
	}
}

func TestPairBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	peaks := make([]models.Peak, 200)
	for i := range peaks {
		peaks[i] = models.Peak{Time: rng.Float64() * 30, Frequency: rng.Float64() * 5000}
	}
	const fan, maxDT = 4, 1.5

	// Reference: every (i, j) with j-i <= fan in the sorted list and a
	// delta within range, cut at the first out-of-range partner.
	d := mustDigester(t, DigestSHA1, 10)
	sorted := append([]models.Peak(nil), peaks...)
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].Time < sorted[j-1].Time; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	var want [][]byte
	for i := range sorted {
		for j := i + 1; j < len(sorted) && j-i <= fan; j++ {
			dt := sorted[j].Time - sorted[i].Time
			if dt < 0 || dt > maxDT {
				break
			}
			want = append(want, d.Sum(PairKey(sorted[i].Frequency, sorted[j].Frequency, dt)))
		}
	}

	got := Pair(peaks, fan, maxDT, d)
	if len(got) != len(want) {
		t.Fatalf("Expected %d pairs, got %d", len(want), len(got))
	}
	perAnchor := map[float64]int{}
	for i := range got {
		if !bytes.Equal(got[i].Digest, want[i]) {
			t.Fatalf("pair %d differs", i)
		}
		perAnchor[got[i].Time]++
	}
	for anchor, n := range perAnchor {
		if n > fan {
			t.Errorf("anchor %v paired %d times, fan is %d", anchor, n, fan)
		}
	}
}

func TestDigester(t *testing.T) {
	for _, tc := range []struct {
		name string
		size int
	}{{DigestSHA1, 10}, {DigestSHA1, 20}, {DigestBLAKE2b, 16}, {"", 10}} {
		d := mustDigester(t, tc.name, tc.size)
		if got := d.Sum([]byte("1|2|3")); len(got) != tc.size {
			t.Errorf("%s/%d: expected %d bytes, got %d", tc.name, tc.size, tc.size, len(got))
		}
	}
	for _, tc := range []struct {
		name string
		size int
	}{{"md5", 10}, {DigestSHA1, 0}, {DigestSHA1, 21}, {DigestBLAKE2b, 33}} {
		if _, err := NewDigester(tc.name, tc.size); err == nil {
			t.Errorf("%s/%d: expected error", tc.name, tc.size)
		}
	}
}

func TestPairKey(t *testing.T) {
	if got := string(PairKey(199.6, 400.4, 1.5)); got != "200|400|2" {
		t.Errorf("Expected 200|400|2, got %s", got)
	}
}

func runLandmark(t *testing.T, samples []float64, p LandmarkParams, rolling bool) ([]models.Record, []models.Peak) {
	t.Helper()
	const L, hop, sr = 1024, 512, 8000
	plan, err := dsp.NewPlan(dsp.BackendGoDSP, L)
	if err != nil {
		t.Fatalf("NewPlan failed: %v", err)
	}
	frames, err := dsp.Frames(samples, L, hop, dsp.Hann(L), false)
	if err != nil {
		t.Fatalf("Frames failed: %v", err)
	}
	lm, err := NewLandmark(p, L, sr, rolling)
	if err != nil {
		t.Fatalf("NewLandmark failed: %v", err)
	}
	for _, fr := range frames {
		if _, err := lm.Collect(lm.OnFrame(fr, plan.New())); err != nil {
			t.Fatalf("Collect failed: %v", err)
		}
	}
	var peak float64
	for _, s := range samples {
		peak = max(peak, math.Abs(s))
	}
	recs, err := lm.Finish(context.Background(), FinishInfo{PeakAmplitude: peak, Workers: 4})
	if err != nil {
		t.Fatalf("Finish failed: %v", err)
	}
	return recs, lm.Peaks()
}

func TestLandmarkRollingMatchesBatch(t *testing.T) {
	samples := audiotest.Chirp(8000*6, 8000, 4000, 9000, 440, 880, 660, 1320, 550)
	p := DefaultLandmarkParams()
	p.Radius = 5
	p.AmpMin = 1

	batch, batchPeaks := runLandmark(t, samples, p, false)
	rolling, rollingPeaks := runLandmark(t, samples, p, true)

	if len(batchPeaks) == 0 || len(batch) == 0 {
		t.Fatalf("Expected peaks and records, got %d peaks %d records", len(batchPeaks), len(batch))
	}
	if len(batchPeaks) != len(rollingPeaks) {
		t.Fatalf("peak count differs: batch %d rolling %d", len(batchPeaks), len(rollingPeaks))
	}
	for i := range batchPeaks {
		if batchPeaks[i] != rollingPeaks[i] {
			t.Fatalf("peak %d differs: %+v vs %+v", i, batchPeaks[i], rollingPeaks[i])
		}
	}
	if len(batch) != len(rolling) {
		t.Fatalf("record count differs: batch %d rolling %d", len(batch), len(rolling))
	}
	for i := range batch {
		if !bytes.Equal(batch[i].Digest, rolling[i].Digest) || batch[i].Time != rolling[i].Time {
			t.Fatalf("record %d differs", i)
		}
	}
}

func TestLandmarkNormalisationIsScaleInvariant(t *testing.T) {
	loud := audiotest.Chirp(8000*3, 8000, 2000, 20000, 500, 1500)
	quiet := make([]float64, len(loud))
	for i, s := range loud {
		quiet[i] = s / 4
	}
	p := DefaultLandmarkParams()
	p.Radius = 4
	p.AmpMin = 2

	_, loudPeaks := runLandmark(t, loud, p, false)
	_, quietPeaks := runLandmark(t, quiet, p, false)
	if len(loudPeaks) != len(quietPeaks) {
		t.Fatalf("Expected identical peak sets, got %d vs %d", len(loudPeaks), len(quietPeaks))
	}
	for i := range loudPeaks {
		if loudPeaks[i].Row != quietPeaks[i].Row || loudPeaks[i].Bin != quietPeaks[i].Bin {
			t.Fatalf("peak %d differs", i)
		}
	}
}

func TestLandmarkSilenceYieldsNothing(t *testing.T) {
	for _, rolling := range []bool{false, true} {
		recs, peaks := runLandmark(t, make([]float64, 8000), DefaultLandmarkParams(), rolling)
		if len(recs) != 0 || len(peaks) != 0 {
			t.Errorf("rolling=%v: expected nothing from silence, got %d records %d peaks", rolling, len(recs), len(peaks))
		}
	}
}

func TestGridRelease(t *testing.T) {
	g := gridOf([][]float64{{1}, {2}, {3}, {4}})
	g.Release(2)
	if g.Len() != 4 || g.At(2, 0) != 3 || g.Time(3) != 3 {
		t.Errorf("unexpected grid after release: len %d", g.Len())
	}
	g.Release(1)
	if g.Len() != 4 || len(g.rows) != 2 {
		t.Errorf("release below base should be a no-op")
	}
}

func TestLandmarkParamsValidate(t *testing.T) {
	var errs models.ConfigErrors
	DefaultLandmarkParams().Validate(&errs)
	if errs.Err() != nil {
		t.Fatalf("defaults should validate, got %v", errs.Err())
	}

	p := LandmarkParams{AmpMin: -1, Radius: 0, FanValue: 0, MaxDeltaT: -1, Digest: "crc", DigestBytes: 10}
	errs = nil
	p.Validate(&errs)
	fields := models.ConfigFields(errs.Err())
	if len(fields) != 5 {
		t.Errorf("Expected 5 violations, got %v", fields)
	}
}
