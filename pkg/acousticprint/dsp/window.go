package dsp

import (
	"fmt"
	"math"
)

// Window names accepted by WindowByName.
const (
	WindowNone        = "none"
	WindowRectangular = "rectangular" // same as none
	WindowHann        = "hann"
	WindowHamming     = "hamming"
)

// Hann returns a periodic Hann window of length n: 0.5*(1 - cos(2*pi*i/n)).
func Hann(n int) []float64 {
	w := make([]float64, n)
	for i := 0; i < n; i++ {
		w[i] = 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(n)))
	}
	return w
}

// Hamming returns a symmetric Hamming window of length n.
func Hamming(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	for i := 0; i < n; i++ {
		w[i] = 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(n-1))
	}
	return w
}

// WindowByName builds the named window. "none", "rectangular" and "" yield
// nil, meaning samples are used as-is.
func WindowByName(name string, n int) ([]float64, error) {
	switch name {
	case "", WindowNone, WindowRectangular:
		return nil, nil
	case WindowHann:
		return Hann(n), nil
	case WindowHamming:
		return Hamming(n), nil
	}
	return nil, fmt.Errorf("unknown window %q", name)
}
