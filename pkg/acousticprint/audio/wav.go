package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/himanishpuri/acousticprint/pkg/models"
)

const wavFormatPCM = 1

// WAVSource decodes integer PCM WAV files with go-audio.
type WAVSource struct {
	BlockFrames int
}

func (s *WAVSource) Open(ctx context.Context, path string) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, models.Unreadable(path, err)
	}

	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if !dec.IsValidFile() {
		f.Close()
		return nil, models.Unreadable(path, errors.New("not a valid WAV file"))
	}
	if dec.WavAudioFormat != wavFormatPCM {
		f.Close()
		return nil, &models.SourceError{Path: path, Err: &models.UnsupportedFormat{
			Reason: fmt.Sprintf("WAV audio format %d, only integer PCM (1) is supported", dec.WavAudioFormat),
		}}
	}
	if dec.NumChans == 0 {
		f.Close()
		return nil, &models.SourceError{Path: path, Err: &models.UnsupportedFormat{Reason: "zero channels"}}
	}

	block := s.BlockFrames
	if block <= 0 {
		block = DefaultBlockFrames
	}
	ch := int(dec.NumChans)

	return &wavStream{
		file: f,
		dec:  dec,
		format: models.Format{
			SampleRate: int(dec.SampleRate),
			Channels:   ch,
			BitDepth:   int(dec.BitDepth),
			Encoding:   models.EncodingInt,
		},
		buf: &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: ch, SampleRate: int(dec.SampleRate)},
			Data:           make([]int, block*ch),
			SourceBitDepth: int(dec.BitDepth),
		},
	}, nil
}

type wavStream struct {
	file     *os.File
	dec      *wav.Decoder
	format   models.Format
	buf      *audio.IntBuffer
	block    int
	failures int
	done     bool
}

func (s *wavStream) Format() models.Format { return s.format }

func (s *wavStream) Next(ctx context.Context) (ChannelBlock, error) {
	if err := ctx.Err(); err != nil {
		return ChannelBlock{}, err
	}
	if s.done {
		return ChannelBlock{}, io.EOF
	}

	idx := s.block
	s.block++

	n, err := s.dec.PCMBuffer(s.buf)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			s.done = true
		} else if n == 0 {
			s.failures++
			if s.failures > maxConsecutiveDecodeFailures {
				return ChannelBlock{}, fmt.Errorf("wav decoder made no progress after %d failures: %w", s.failures, err)
			}
			return ChannelBlock{}, &models.DecodeError{Block: idx, Err: err}
		}
	}
	if n == 0 {
		s.done = true
		return ChannelBlock{}, io.EOF
	}
	s.failures = 0

	return ChannelBlock{
		Channels: deinterleave(s.buf.Data[:n], s.format.Channels),
		Encoding: models.EncodingInt,
	}, nil
}

func (s *wavStream) Close() error {
	return s.file.Close()
}
