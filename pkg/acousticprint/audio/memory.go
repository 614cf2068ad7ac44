package audio

import (
	"context"
	"io"
	"time"

	"github.com/himanishpuri/acousticprint/pkg/models"
)

// MemoryStream replays pre-decoded blocks. It backs the WASM entry point
// and tests.
type MemoryStream struct {
	format models.Format
	blocks []ChannelBlock
	pos    int

	// Delay is slept before each block is returned.
	Delay time.Duration
	// Fail maps a block index to an error returned instead of that block.
	Fail map[int]error
}

// NewMemoryStream wraps blocks. Every block's encoding is format.Encoding
// unless set explicitly.
func NewMemoryStream(format models.Format, blocks ...ChannelBlock) *MemoryStream {
	for i := range blocks {
		if blocks[i].Encoding == models.EncodingUnknown {
			blocks[i].Encoding = format.Encoding
		}
	}
	return &MemoryStream{format: format, blocks: blocks}
}

// FromInterleaved splits an interleaved buffer into blocks of blockFrames.
func FromInterleaved(samples []float64, format models.Format, blockFrames int) *MemoryStream {
	ch := format.Channels
	if ch <= 0 {
		return NewMemoryStream(format)
	}
	if blockFrames <= 0 {
		blockFrames = DefaultBlockFrames
	}
	total := len(samples) / ch
	var blocks []ChannelBlock
	for start := 0; start < total; start += blockFrames {
		end := min(start+blockFrames, total)
		planar := make([][]float64, ch)
		for c := range planar {
			data := make([]float64, end-start)
			for i := start; i < end; i++ {
				data[i-start] = samples[i*ch+c]
			}
			planar[c] = data
		}
		blocks = append(blocks, ChannelBlock{Channels: planar, Encoding: format.Encoding})
	}
	return NewMemoryStream(format, blocks...)
}

func (m *MemoryStream) Format() models.Format { return m.format }

func (m *MemoryStream) Next(ctx context.Context) (ChannelBlock, error) {
	if m.pos >= len(m.blocks) {
		return ChannelBlock{}, io.EOF
	}
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return ChannelBlock{}, ctx.Err()
		}
	} else if err := ctx.Err(); err != nil {
		return ChannelBlock{}, err
	}
	idx := m.pos
	m.pos++
	if err, ok := m.Fail[idx]; ok {
		return ChannelBlock{}, err
	}
	return m.blocks[idx], nil
}

func (m *MemoryStream) Close() error { return nil }

// MemorySource always opens the same stream, whatever the path.
type MemorySource struct {
	Stream *MemoryStream
}

func (s MemorySource) Open(ctx context.Context, _ string) (Stream, error) {
	return s.Stream, ctx.Err()
}
