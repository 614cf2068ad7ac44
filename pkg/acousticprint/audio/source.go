// Package audio turns input files into planar PCM blocks and reduces
// multi-channel blocks into the single sample sequence the analysis runs on.
package audio

import (
	"context"
	"fmt"

	"github.com/himanishpuri/acousticprint/pkg/models"
)

// Decoder names accepted by NewSource. The decoder is always chosen
// explicitly; inputs are never sniffed.
const (
	DecoderWAV    = "wav"
	DecoderMP3    = "mp3"
	DecoderFFmpeg = "ffmpeg"
)

// DefaultBlockFrames is the number of sample frames per decoded block.
const DefaultBlockFrames = 1152

// maxConsecutiveDecodeFailures stops a stream whose decoder keeps failing
// without making progress.
const maxConsecutiveDecodeFailures = 8

// ChannelBlock is one decoded packet in planar layout: Channels[c][i] is
// sample i of channel c. All channels have the same length.
type ChannelBlock struct {
	Channels [][]float64
	Encoding models.Encoding
}

// Frames returns the per-channel sample count.
func (b ChannelBlock) Frames() int {
	if len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Stream yields blocks in arrival order.
//
// Next returns io.EOF after the last block. A *models.DecodeError means one
// packet was unusable; callers may keep reading. Any other error is fatal.
type Stream interface {
	Format() models.Format
	Next(ctx context.Context) (ChannelBlock, error)
	Close() error
}

// Source opens input paths. Open fails with a *models.SourceError matching
// models.ErrUnreadableSource when the path or container cannot be read.
type Source interface {
	Open(ctx context.Context, path string) (Stream, error)
}

// NewSource returns the source for the named decoder.
func NewSource(decoder string, blockFrames int) (Source, error) {
	if blockFrames <= 0 {
		blockFrames = DefaultBlockFrames
	}
	switch decoder {
	case "", DecoderWAV:
		return &WAVSource{BlockFrames: blockFrames}, nil
	case DecoderMP3:
		return &MP3Source{BlockFrames: blockFrames}, nil
	case DecoderFFmpeg:
		return &FFmpegSource{BlockFrames: blockFrames}, nil
	}
	return nil, fmt.Errorf("unknown decoder %q", decoder)
}

// deinterleave splits interleaved samples into planar channels. A trailing
// partial frame is dropped.
func deinterleave(data []int, channels int) [][]float64 {
	frames := len(data) / channels
	out := make([][]float64, channels)
	for c := range out {
		ch := make([]float64, frames)
		for i := 0; i < frames; i++ {
			ch[i] = float64(data[i*channels+c])
		}
		out[c] = ch
	}
	return out
}

// deinterleaveS16LE does the same for little-endian signed 16-bit bytes.
func deinterleaveS16LE(raw []byte, channels int) [][]float64 {
	frames := len(raw) / (2 * channels)
	out := make([][]float64, channels)
	for c := range out {
		ch := make([]float64, frames)
		for i := 0; i < frames; i++ {
			off := 2 * (i*channels + c)
			ch[i] = float64(int16(uint16(raw[off]) | uint16(raw[off+1])<<8))
		}
		out[c] = ch
	}
	return out
}
