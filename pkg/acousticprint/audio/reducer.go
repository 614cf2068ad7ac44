package audio

import (
	"fmt"

	"github.com/himanishpuri/acousticprint/pkg/models"
)

// Reducer turns one multi-channel block into analysis samples appended to dst.
type Reducer interface {
	Reduce(dst []float64, b ChannelBlock) ([]float64, error)
}

// ReducerFunc adapts a function to Reducer.
type ReducerFunc func(dst []float64, b ChannelBlock) ([]float64, error)

func (f ReducerFunc) Reduce(dst []float64, b ChannelBlock) ([]float64, error) { return f(dst, b) }

// ConcatChannels appends each channel of the block one after another
// (channel 0, then channel 1, ...). The result is not a stereo mix: the
// concatenated stream is analysed as a single signal, so output depends on
// the decoder block size.
var ConcatChannels = ReducerFunc(func(dst []float64, b ChannelBlock) ([]float64, error) {
	if err := checkBlock(b); err != nil {
		return dst, err
	}
	for _, ch := range b.Channels {
		dst = append(dst, ch...)
	}
	return dst, nil
})

// AverageToMono appends the per-sample arithmetic mean across channels.
var AverageToMono = ReducerFunc(func(dst []float64, b ChannelBlock) ([]float64, error) {
	if err := checkBlock(b); err != nil {
		return dst, err
	}
	if len(b.Channels) == 1 {
		return append(dst, b.Channels[0]...), nil
	}
	n := float64(len(b.Channels))
	for i := 0; i < b.Frames(); i++ {
		var sum float64
		for _, ch := range b.Channels {
			sum += ch[i]
		}
		dst = append(dst, sum/n)
	}
	return dst, nil
})

// ReducerFor picks the reducer paired with a strategy.
func ReducerFor(s models.Strategy) Reducer {
	if s == models.StrategyLandmark {
		return AverageToMono
	}
	return ConcatChannels
}

func checkBlock(b ChannelBlock) error {
	if len(b.Channels) == 0 {
		return &models.UnsupportedFormat{Reason: "zero channels"}
	}
	if b.Encoding != models.EncodingInt && b.Encoding != models.EncodingFloat {
		return &models.UnsupportedFormat{Reason: fmt.Sprintf("sample encoding %s", b.Encoding)}
	}
	n := len(b.Channels[0])
	for c, ch := range b.Channels[1:] {
		if len(ch) != n {
			return &models.UnsupportedFormat{Reason: fmt.Sprintf("channel %d has %d samples, channel 0 has %d", c+1, len(ch), n)}
		}
	}
	return nil
}
