package dsp

import (
	"fmt"

	"github.com/mjibson/go-dsp/fft"
	"gonum.org/v1/gonum/dsp/fourier"
)

// Transform backends.
const (
	BackendGoDSP = "godsp"
	BackendGonum = "gonum"
)

// Transform computes an unnormalised forward DFT in place. len(frame) must
// equal Size(); a mismatch panics.
type Transform interface {
	Size() int
	Forward(frame []complex128)
}

// Plan is the per-run transform configuration. New returns a Transform for
// one goroutine; backends without scratch state hand out a shared instance.
type Plan interface {
	Size() int
	Backend() string
	New() Transform
}

// NewPlan builds a plan of the given size for the named backend.
func NewPlan(backend string, size int) (Plan, error) {
	if size < 2 {
		return nil, fmt.Errorf("transform size must be at least 2, got %d", size)
	}
	switch backend {
	case "", BackendGoDSP:
		if size&(size-1) == 0 {
			fft.EnsureRadix2Factors(size)
		}
		return godspPlan{size: size}, nil
	case BackendGonum:
		return gonumPlan{size: size}, nil
	}
	return nil, fmt.Errorf("unknown transform backend %q", backend)
}

// godspPlan wraps go-dsp's FFT. Its twiddle factor cache is safe for
// concurrent use, so one value serves every worker.
type godspPlan struct{ size int }

func (p godspPlan) Size() int       { return p.size }
func (p godspPlan) Backend() string { return BackendGoDSP }
func (p godspPlan) New() Transform  { return p }

func (p godspPlan) Forward(frame []complex128) {
	checkLen(p.size, frame)
	copy(frame, fft.FFT(frame))
}

// gonumPlan hands out one fourier.CmplxFFT per caller; the gonum type
// keeps scratch space and must not be shared.
type gonumPlan struct{ size int }

func (p gonumPlan) Size() int       { return p.size }
func (p gonumPlan) Backend() string { return BackendGonum }
func (p gonumPlan) New() Transform {
	return &gonumTransform{fft: fourier.NewCmplxFFT(p.size), size: p.size}
}

type gonumTransform struct {
	fft  *fourier.CmplxFFT
	size int
}

func (t *gonumTransform) Size() int { return t.size }

func (t *gonumTransform) Forward(frame []complex128) {
	checkLen(t.size, frame)
	t.fft.Coefficients(frame, frame)
}

func checkLen(size int, frame []complex128) {
	if len(frame) != size {
		panic(fmt.Sprintf("dsp: frame length %d does not match transform size %d", len(frame), size))
	}
}
