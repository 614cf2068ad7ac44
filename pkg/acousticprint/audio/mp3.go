package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/hajimehoshi/go-mp3"

	"github.com/himanishpuri/acousticprint/pkg/models"
)

// go-mp3 always yields 16-bit little-endian stereo.
const mp3Channels = 2

// MP3Source decodes MPEG-1/2 layer III files with go-mp3.
type MP3Source struct {
	BlockFrames int
}

func (s *MP3Source) Open(ctx context.Context, path string) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, models.Unreadable(path, err)
	}
	dec, err := mp3.NewDecoder(f)
	if err != nil {
		f.Close()
		return nil, models.Unreadable(path, err)
	}

	block := s.BlockFrames
	if block <= 0 {
		block = DefaultBlockFrames
	}
	return &mp3Stream{
		file: f,
		dec:  dec,
		format: models.Format{
			SampleRate: dec.SampleRate(),
			Channels:   mp3Channels,
			BitDepth:   16,
			Encoding:   models.EncodingInt,
		},
		raw: make([]byte, block*mp3Channels*2),
	}, nil
}

type mp3Stream struct {
	file     *os.File
	dec      *mp3.Decoder
	format   models.Format
	raw      []byte
	block    int
	failures int
	done     bool
}

func (s *mp3Stream) Format() models.Format { return s.format }

func (s *mp3Stream) Next(ctx context.Context) (ChannelBlock, error) {
	if err := ctx.Err(); err != nil {
		return ChannelBlock{}, err
	}
	if s.done {
		return ChannelBlock{}, io.EOF
	}

	idx := s.block
	s.block++

	n, err := io.ReadFull(s.dec, s.raw)
	switch {
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		s.done = true
	case err != nil && n == 0:
		s.failures++
		if s.failures > maxConsecutiveDecodeFailures {
			return ChannelBlock{}, fmt.Errorf("mp3 decoder made no progress after %d failures: %w", s.failures, err)
		}
		return ChannelBlock{}, &models.DecodeError{Block: idx, Err: err}
	}
	if n < 2*mp3Channels {
		s.done = true
		return ChannelBlock{}, io.EOF
	}
	s.failures = 0

	return ChannelBlock{
		Channels: deinterleaveS16LE(s.raw[:n], mp3Channels),
		Encoding: models.EncodingInt,
	}, nil
}

func (s *mp3Stream) Close() error {
	return s.file.Close()
}
