package dsp

import (
	"math"
	"math/cmplx"
	"math/rand"
	"testing"
)

func ramp(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = float64(i + 1)
	}
	return s
}

func TestWindows(t *testing.T) {
	for _, size := range []int{64, 256, 1024} {
		hann := Hann(size)
		if hann[0] != 0 {
			t.Errorf("Expected Hann[0]=0, got %f", hann[0])
		}
		if math.Abs(hann[size/2]-1) > 1e-12 {
			t.Errorf("Expected Hann peak 1 at centre, got %f", hann[size/2])
		}
		ham := Hamming(size)
		if math.Abs(ham[0]-0.08) > 1e-12 || math.Abs(ham[size-1]-0.08) > 1e-12 {
			t.Errorf("Expected Hamming edges 0.08, got %f/%f", ham[0], ham[size-1])
		}
	}

	for _, name := range []string{WindowNone, WindowRectangular, ""} {
		if w, err := WindowByName(name, 8); err != nil || w != nil {
			t.Errorf("Expected nil window for %q, got %v (%v)", name, w, err)
		}
	}
	if _, err := WindowByName("kaiser", 8); err == nil {
		t.Error("Expected error for unknown window")
	}
}

func TestFrameCounts(t *testing.T) {
	tests := []struct {
		name         string
		n, len, hop  int
		pad          bool
		expectFrames int
	}{
		{"padded exact", 8192, 4096, 4096, true, 2},
		{"padded partial", 8193, 4096, 4096, true, 3},
		{"padded short", 10, 4096, 4096, true, 1},
		{"padded empty", 0, 4096, 4096, true, 0},
		{"overlap exact", 4096, 4096, 2048, false, 1},
		{"overlap several", 10000, 4096, 2048, false, 3},
		{"overlap short", 4095, 4096, 2048, false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frames, err := Frames(ramp(tt.n), tt.len, tt.hop, nil, tt.pad)
			if err != nil {
				t.Fatalf("Frames failed: %v", err)
			}
			if len(frames) != tt.expectFrames {
				t.Errorf("Expected %d frames, got %d", tt.expectFrames, len(frames))
			}
			if got := FrameCount(tt.n, tt.len, tt.hop, tt.pad); got != tt.expectFrames {
				t.Errorf("FrameCount: expected %d, got %d", tt.expectFrames, got)
			}
			for i, fr := range frames {
				if len(fr.Data) != tt.len {
					t.Fatalf("frame %d has length %d", i, len(fr.Data))
				}
				if fr.Index != i || fr.Offset != i*tt.hop {
					t.Errorf("frame %d: index %d offset %d", i, fr.Index, fr.Offset)
				}
			}
		})
	}
}

func TestFramePaddingAndWindow(t *testing.T) {
	frames, err := Frames(ramp(6), 4, 4, nil, true)
	if err != nil {
		t.Fatalf("Frames failed: %v", err)
	}
	last := frames[1].Data
	want := []complex128{5, 6, 0, 0}
	for i := range want {
		if last[i] != want[i] {
			t.Errorf("padded frame[%d]: expected %v, got %v", i, want[i], last[i])
		}
	}

	win := []float64{0, 0.5, 1, 0.5}
	frames, err = Frames(ramp(4), 4, 2, win, false)
	if err != nil {
		t.Fatalf("Frames failed: %v", err)
	}
	want = []complex128{0, 1, 3, 2}
	for i := range want {
		if frames[0].Data[i] != want[i] {
			t.Errorf("windowed frame[%d]: expected %v, got %v", i, want[i], frames[0].Data[i])
		}
	}
}

func TestFramerIncrementalMatchesBatch(t *testing.T) {
	samples := ramp(20000)
	for _, tc := range []struct {
		hop int
		pad bool
	}{{4096, true}, {1024, false}} {
		batch, err := Frames(samples, 4096, tc.hop, Hann(4096), tc.pad)
		if err != nil {
			t.Fatalf("Frames failed: %v", err)
		}

		f, err := NewFramer(4096, tc.hop, Hann(4096), tc.pad)
		if err != nil {
			t.Fatalf("NewFramer failed: %v", err)
		}
		var got []Frame
		emit := func(fr Frame) error { got = append(got, fr); return nil }
		for start := 0; start < len(samples); start += 777 {
			end := min(start+777, len(samples))
			if err := f.Push(samples[start:end], emit); err != nil {
				t.Fatalf("Push failed: %v", err)
			}
		}
		if err := f.Flush(emit); err != nil {
			t.Fatalf("Flush failed: %v", err)
		}

		if len(got) != len(batch) {
			t.Fatalf("hop %d: expected %d frames, got %d", tc.hop, len(batch), len(got))
		}
		for i := range batch {
			if got[i].Offset != batch[i].Offset {
				t.Fatalf("frame %d offset %d != %d", i, got[i].Offset, batch[i].Offset)
			}
			for j := range batch[i].Data {
				if got[i].Data[j] != batch[i].Data[j] {
					t.Fatalf("frame %d sample %d differs", i, j)
				}
			}
		}
	}
}

func TestNewFramerRejectsBadGeometry(t *testing.T) {
	cases := []struct {
		length, hop int
		window      []float64
		pad         bool
	}{
		{0, 1, nil, false},
		{16, 0, nil, false},
		{16, 17, nil, false},
		{16, 8, nil, true},
		{16, 16, make([]float64, 8), true},
	}
	for _, c := range cases {
		if _, err := NewFramer(c.length, c.hop, c.window, c.pad); err == nil {
			t.Errorf("Expected error for length=%d hop=%d pad=%v", c.length, c.hop, c.pad)
		}
	}
}

func TestTransformBackends(t *testing.T) {
	const n = 256
	const bin = 10
	signal := make([]complex128, n)
	for i := range signal {
		signal[i] = complex(math.Sin(2*math.Pi*bin*float64(i)/n), 0)
	}

	var results [][]complex128
	for _, backend := range []string{BackendGoDSP, BackendGonum} {
		plan, err := NewPlan(backend, n)
		if err != nil {
			t.Fatalf("NewPlan(%s) failed: %v", backend, err)
		}
		if plan.Backend() != backend || plan.Size() != n {
			t.Errorf("unexpected plan %s/%d", plan.Backend(), plan.Size())
		}
		frame := append([]complex128(nil), signal...)
		plan.New().Forward(frame)

		peak := 0
		for k := 1; k < n/2; k++ {
			if cmplx.Abs(frame[k]) > cmplx.Abs(frame[peak]) {
				peak = k
			}
		}
		if peak != bin {
			t.Errorf("%s: expected peak at bin %d, got %d", backend, bin, peak)
		}
		if math.Abs(cmplx.Abs(frame[bin])-n/2) > 1e-6 {
			t.Errorf("%s: expected |X[%d]| = %d, got %f", backend, bin, n/2, cmplx.Abs(frame[bin]))
		}
		results = append(results, frame)
	}

	for k := range results[0] {
		if cmplx.Abs(results[0][k]-results[1][k]) > 1e-9 {
			t.Fatalf("backends disagree at bin %d: %v vs %v", k, results[0][k], results[1][k])
		}
	}
}

func TestTransformLengthMismatchPanics(t *testing.T) {
	plan, err := NewPlan(BackendGoDSP, 64)
	if err != nil {
		t.Fatalf("NewPlan failed: %v", err)
	}
	defer func() {
		if recover() == nil {
			t.Error("Expected panic on length mismatch")
		}
	}()
	plan.New().Forward(make([]complex128, 32))
}

func TestNewPlanErrors(t *testing.T) {
	if _, err := NewPlan("fftw", 64); err == nil {
		t.Error("Expected error for unknown backend")
	}
	if _, err := NewPlan(BackendGoDSP, 1); err == nil {
		t.Error("Expected error for size 1")
	}
}

func TestPowerKernelsAgree(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	src := make([]complex128, 1031)
	for i := range src {
		src[i] = complex(rng.NormFloat64()*3e4, rng.NormFloat64()*3e4)
	}

	scalar := make([]float64, len(src))
	unrolled := make([]float64, len(src))
	powerScalar(scalar, src)
	powerUnrolled(unrolled, src)

	for i := range src {
		if math.Float64bits(scalar[i]) != math.Float64bits(unrolled[i]) {
			t.Fatalf("kernels differ at %d: %v vs %v", i, scalar[i], unrolled[i])
		}
	}

	dispatched := make([]float64, len(src))
	PowerInto(dispatched, src)
	for i := range src {
		if dispatched[i] != scalar[i] {
			t.Fatalf("PowerInto differs at %d (accelerated=%v)", i, Accelerated())
		}
	}
}

func TestMagnitudeInto(t *testing.T) {
	src := []complex128{complex(3, 4), complex(0, 1), 0, complex(-5, 12)}
	dst := make([]float64, len(src))
	MagnitudeInto(dst, src)
	want := []float64{5, 1, 0, 13}
	for i := range want {
		if dst[i] != want[i] {
			t.Errorf("magnitude[%d]: expected %v, got %v", i, want[i], dst[i])
		}
	}
}
