package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/himanishpuri/acousticprint/pkg/models"
)

// FFmpegSource decodes anything ffmpeg understands into signed 16-bit PCM
// at the input's own sample rate and channel count.
type FFmpegSource struct {
	BlockFrames int
	Binary      string // defaults to "ffmpeg"
	ProbeBinary string // defaults to "ffprobe"
}

func (s *FFmpegSource) Open(ctx context.Context, path string) (Stream, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, models.Unreadable(path, err)
	}

	probeBin := s.ProbeBinary
	if probeBin == "" {
		probeBin = "ffprobe"
	}
	meta, err := probeWith(ctx, probeBin, path)
	if err != nil {
		return nil, models.Unreadable(path, err)
	}
	if meta.Channels <= 0 {
		return nil, &models.SourceError{Path: path, Err: &models.UnsupportedFormat{Reason: "zero channels"}}
	}
	if meta.SampleRate <= 0 {
		return nil, models.Unreadable(path, errors.New("missing sample rate"))
	}

	bin := s.Binary
	if bin == "" {
		bin = "ffmpeg"
	}
	cmd := exec.CommandContext(
		ctx,
		bin,
		"-nostdin",
		"-v", "error",
		"-i", path,
		"-vn",
		"-f", "s16le",
		"-c:a", "pcm_s16le",
		"-",
	)
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, models.Unreadable(path, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, models.Unreadable(path, err)
	}

	block := s.BlockFrames
	if block <= 0 {
		block = DefaultBlockFrames
	}
	return &ffmpegStream{
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		format: models.Format{
			SampleRate: meta.SampleRate,
			Channels:   meta.Channels,
			BitDepth:   16,
			Encoding:   models.EncodingInt,
		},
		raw: make([]byte, block*meta.Channels*2),
	}, nil
}

type ffmpegStream struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr *tailBuffer
	format models.Format
	raw    []byte
	done   bool
	waited bool
}

func (s *ffmpegStream) Format() models.Format { return s.format }

func (s *ffmpegStream) Next(ctx context.Context) (ChannelBlock, error) {
	if err := ctx.Err(); err != nil {
		return ChannelBlock{}, err
	}
	if s.done {
		return ChannelBlock{}, io.EOF
	}

	n, err := io.ReadFull(s.stdout, s.raw)
	if err != nil {
		if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return ChannelBlock{}, fmt.Errorf("read ffmpeg output: %w", err)
		}
		s.done = true
		if werr := s.wait(); werr != nil {
			return ChannelBlock{}, werr
		}
	}
	frameBytes := 2 * s.format.Channels
	if n < frameBytes {
		return ChannelBlock{}, io.EOF
	}

	return ChannelBlock{
		Channels: deinterleaveS16LE(s.raw[:n], s.format.Channels),
		Encoding: models.EncodingInt,
	}, nil
}

func (s *ffmpegStream) wait() error {
	if s.waited {
		return nil
	}
	s.waited = true
	if err := s.cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg failed: %v (%s)", err, strings.TrimSpace(s.stderr.String()))
	}
	return nil
}

func (s *ffmpegStream) Close() error {
	if s.waited {
		return nil
	}
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	s.waited = true
	_ = s.cmd.Wait()
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string { return t.buf.String() }
