package audio

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint/audio/audiotest"
	"github.com/himanishpuri/acousticprint/pkg/models"
)

func block(chs ...[]float64) ChannelBlock {
	return ChannelBlock{Channels: chs, Encoding: models.EncodingInt}
}

func TestConcatChannels(t *testing.T) {
	out, err := ConcatChannels.Reduce(nil, block([]float64{1, 2, 3}, []float64{4, 5, 6}))
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	out, err = ConcatChannels.Reduce(out, block([]float64{7}, []float64{8}))
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	want := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	if len(out) != len(want) {
		t.Fatalf("Expected %v, got %v", want, out)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("Expected %v, got %v", want, out)
			break
		}
	}
}

func TestAverageToMono(t *testing.T) {
	out, err := AverageToMono.Reduce(nil, block([]float64{1, 2, -4}, []float64{3, 2, 4}))
	if err != nil {
		t.Fatalf("Reduce failed: %v", err)
	}
	want := []float64{2, 2, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("sample %d: expected %v, got %v", i, want[i], out[i])
		}
	}

	mono, _ := AverageToMono.Reduce(nil, block([]float64{5, 6}))
	if len(mono) != 2 || mono[0] != 5 || mono[1] != 6 {
		t.Errorf("Expected mono passthrough, got %v", mono)
	}
}

func TestReducersRejectBadBlocks(t *testing.T) {
	tests := []struct {
		name string
		b    ChannelBlock
	}{
		{"zero channels", ChannelBlock{Encoding: models.EncodingInt}},
		{"ragged", block([]float64{1, 2}, []float64{1})},
		{"unknown encoding", ChannelBlock{Channels: [][]float64{{1}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, r := range []Reducer{ConcatChannels, AverageToMono} {
				_, err := r.Reduce(nil, tt.b)
				var uf *models.UnsupportedFormat
				if !errors.As(err, &uf) {
					t.Errorf("Expected UnsupportedFormat, got %v", err)
				}
			}
		})
	}
}

func TestReducerFor(t *testing.T) {
	b := block([]float64{2}, []float64{4})
	dense, _ := ReducerFor(models.StrategyDense).Reduce(nil, b)
	landmark, _ := ReducerFor(models.StrategyLandmark).Reduce(nil, b)
	if len(dense) != 2 || len(landmark) != 1 || landmark[0] != 3 {
		t.Errorf("unexpected reducers: dense=%v landmark=%v", dense, landmark)
	}
}

func writeStereoFixture(t *testing.T, frames int) (string, []int) {
	t.Helper()
	left := audiotest.Sine(frames, 8000, 440, 8000)
	right := audiotest.Sine(frames, 8000, 220, 4000)
	data := audiotest.Interleave(left, right)
	path := filepath.Join(t.TempDir(), "stereo.wav")
	if err := audiotest.WriteWAV(path, 8000, 2, data); err != nil {
		t.Fatalf("WriteWAV failed: %v", err)
	}
	return path, data
}

func readAll(t *testing.T, s Stream) []ChannelBlock {
	t.Helper()
	var blocks []ChannelBlock
	for {
		b, err := s.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return blocks
		}
		if err != nil {
			t.Fatalf("Next failed: %v", err)
		}
		blocks = append(blocks, b)
	}
}

func TestWAVSourceRoundTrip(t *testing.T) {
	path, data := writeStereoFixture(t, 3000)

	src := &WAVSource{BlockFrames: 1000}
	stream, err := src.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer stream.Close()

	format := stream.Format()
	if format.SampleRate != 8000 || format.Channels != 2 || format.BitDepth != 16 || format.Encoding != models.EncodingInt {
		t.Errorf("unexpected format %+v", format)
	}

	blocks := readAll(t, stream)
	total := 0
	for _, b := range blocks {
		if len(b.Channels) != 2 {
			t.Fatalf("Expected 2 channels, got %d", len(b.Channels))
		}
		for i := 0; i < b.Frames(); i++ {
			if int(b.Channels[0][i]) != data[2*(total+i)] || int(b.Channels[1][i]) != data[2*(total+i)+1] {
				t.Fatalf("sample mismatch at frame %d", total+i)
			}
		}
		total += b.Frames()
	}
	if total != 3000 {
		t.Errorf("Expected 3000 frames, got %d", total)
	}
}

func TestWAVSourceUnreadable(t *testing.T) {
	dir := t.TempDir()
	junk := filepath.Join(dir, "junk.wav")
	if err := os.WriteFile(junk, []byte("definitely not a riff file"), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	for _, path := range []string{filepath.Join(dir, "missing.wav"), junk} {
		_, err := (&WAVSource{}).Open(context.Background(), path)
		if !errors.Is(err, models.ErrUnreadableSource) {
			t.Errorf("%s: expected ErrUnreadableSource, got %v", filepath.Base(path), err)
		}
		var se *models.SourceError
		if !errors.As(err, &se) || se.Path != path {
			t.Errorf("%s: expected SourceError with path, got %v", filepath.Base(path), err)
		}
	}
}

func TestNewSource(t *testing.T) {
	for _, name := range []string{"", DecoderWAV, DecoderMP3, DecoderFFmpeg} {
		if _, err := NewSource(name, 0); err != nil {
			t.Errorf("NewSource(%q) failed: %v", name, err)
		}
	}
	if _, err := NewSource("flac", 0); err == nil {
		t.Error("Expected error for unknown decoder")
	}
}

func TestMP3SourceRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.mp3")
	if err := os.WriteFile(path, make([]byte, 64), 0644); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	_, err := (&MP3Source{}).Open(context.Background(), path)
	if !errors.Is(err, models.ErrUnreadableSource) {
		t.Errorf("Expected ErrUnreadableSource, got %v", err)
	}
}

func TestMemoryStream(t *testing.T) {
	format := models.Format{SampleRate: 8000, Channels: 2, Encoding: models.EncodingFloat}
	interleaved := []float64{1, -1, 2, -2, 3, -3, 4, -4, 5, -5}
	s := FromInterleaved(interleaved, format, 2)
	s.Fail = map[int]error{1: &models.DecodeError{Block: 1, Err: errors.New("crc")}}

	b, err := s.Next(context.Background())
	if err != nil || b.Frames() != 2 || b.Channels[1][1] != -2 {
		t.Fatalf("unexpected first block %+v (%v)", b, err)
	}
	_, err = s.Next(context.Background())
	var de *models.DecodeError
	if !errors.As(err, &de) {
		t.Fatalf("Expected DecodeError, got %v", err)
	}
	b, err = s.Next(context.Background())
	if err != nil || b.Frames() != 1 || b.Channels[0][0] != 5 {
		t.Fatalf("unexpected last block %+v (%v)", b, err)
	}
	if _, err := s.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("Expected EOF, got %v", err)
	}
}

func TestParseProbe(t *testing.T) {
	out := []byte(`{
		"streams": [
			{"codec_type": "video", "codec_name": "mjpeg"},
			{"codec_type": "audio", "codec_name": "flac", "sample_rate": "44100", "channels": 2, "bits_per_sample": 16}
		],
		"format": {"filename": "/x/song.flac", "duration": "12.5", "format_name": "flac", "tags": {"title": "T", "artist": "A"}}
	}`)
	meta, err := parseProbe("/x/song.flac", out)
	if err != nil {
		t.Fatalf("parseProbe failed: %v", err)
	}
	if meta.SampleRate != 44100 || meta.Channels != 2 || meta.Codec != "flac" || meta.DurationSec != 12.5 || meta.Title != "T" {
		t.Errorf("unexpected metadata %+v", meta)
	}

	if _, err := parseProbe("x", []byte(`{"streams": []}`)); !errors.Is(err, errNoAudioStream) {
		t.Errorf("Expected errNoAudioStream, got %v", err)
	}
}

func TestFFmpegSourceMatchesWAV(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skipf("ffmpeg not available: %v", err)
	}
	if _, err := exec.LookPath("ffprobe"); err != nil {
		t.Skipf("ffprobe not available: %v", err)
	}
	path, data := writeStereoFixture(t, 2500)

	stream, err := (&FFmpegSource{BlockFrames: 700}).Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer stream.Close()

	if f := stream.Format(); f.Channels != 2 || f.SampleRate != 8000 {
		t.Fatalf("unexpected format %+v", f)
	}
	total := 0
	for _, b := range readAll(t, stream) {
		for i := 0; i < b.Frames(); i++ {
			if int(b.Channels[0][i]) != data[2*(total+i)] {
				t.Fatalf("sample mismatch at frame %d", total+i)
			}
		}
		total += b.Frames()
	}
	if total != 2500 {
		t.Errorf("Expected 2500 frames, got %d", total)
	}
}
