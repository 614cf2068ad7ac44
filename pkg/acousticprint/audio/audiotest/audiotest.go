// Package audiotest builds synthetic PCM fixtures for tests.
package audiotest

import (
	"math"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WriteWAV writes interleaved 16-bit integer PCM samples to path.
func WriteWAV(path string, sampleRate, channels int, interleaved []int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, 1)
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           interleaved,
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		return err
	}
	return enc.Close()
}

// Sine returns n samples of a sine at freq Hz with the given amplitude.
func Sine(n, sampleRate int, freq, amplitude float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = amplitude * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate))
	}
	return s
}

// Chirp returns a tone whose frequency steps between freqs every step samples,
// which gives the landmark extractor distinct peaks over time.
func Chirp(n, sampleRate, step int, amplitude float64, freqs ...float64) []float64 {
	s := make([]float64, n)
	for i := range s {
		f := freqs[(i/step)%len(freqs)]
		s[i] = amplitude * math.Sin(2*math.Pi*f*float64(i)/float64(sampleRate))
	}
	return s
}

// Interleave quantises equally long channels into interleaved ints.
func Interleave(channels ...[]float64) []int {
	if len(channels) == 0 {
		return nil
	}
	n := len(channels[0])
	out := make([]int, 0, n*len(channels))
	for i := 0; i < n; i++ {
		for _, ch := range channels {
			out = append(out, int(math.Round(ch[i])))
		}
	}
	return out
}
