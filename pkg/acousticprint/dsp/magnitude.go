package dsp

import (
	"math"

	"golang.org/x/sys/cpu"
)

// accelerated selects the unrolled kernel on CPUs with wide SIMD units,
// where the compiler schedules the independent lanes well. Both kernels
// perform the same operations per element, so results are bit-identical.
var accelerated = cpu.X86.HasAVX2 || cpu.ARM64.HasASIMD

// Accelerated reports whether the unrolled magnitude kernel is in use.
func Accelerated() bool { return accelerated }

// PowerInto writes re*re+im*im of each src value into dst[:len(src)].
func PowerInto(dst []float64, src []complex128) {
	dst = dst[:len(src)]
	if accelerated {
		powerUnrolled(dst, src)
		return
	}
	powerScalar(dst, src)
}

// MagnitudeInto writes |z| computed as sqrt(re*re+im*im).
func MagnitudeInto(dst []float64, src []complex128) {
	PowerInto(dst, src)
	for i, p := range dst[:len(src)] {
		dst[i] = math.Sqrt(p)
	}
}

// Power returns re*re+im*im for a single value.
// The explicit conversions stop the compiler from fusing into an FMA,
// keeping every path on the same rounding.
func Power(z complex128) float64 {
	re, im := real(z), imag(z)
	return float64(re*re) + float64(im*im)
}

func powerScalar(dst []float64, src []complex128) {
	for i, z := range src {
		dst[i] = Power(z)
	}
}

func powerUnrolled(dst []float64, src []complex128) {
	n := len(src)
	i := 0
	for ; i+4 <= n; i += 4 {
		s := src[i : i+4 : i+4]
		d := dst[i : i+4 : i+4]
		r0, i0 := real(s[0]), imag(s[0])
		r1, i1 := real(s[1]), imag(s[1])
		r2, i2 := real(s[2]), imag(s[2])
		r3, i3 := real(s[3]), imag(s[3])
		d[0] = float64(r0*r0) + float64(i0*i0)
		d[1] = float64(r1*r1) + float64(i1*i1)
		d[2] = float64(r2*r2) + float64(i2*i2)
		d[3] = float64(r3*r3) + float64(i3*i3)
	}
	for ; i < n; i++ {
		dst[i] = Power(src[i])
	}
}
