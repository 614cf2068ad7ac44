package pipeline

import (
	"context"
	"errors"
	"reflect"
	"slices"
	"testing"
	"time"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint/audio"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/audio/audiotest"
	"github.com/himanishpuri/acousticprint/pkg/logger"
	"github.com/himanishpuri/acousticprint/pkg/models"
)

const testRate = 44100

type memSink struct {
	recs      []models.Record
	failAfter int // Write fails once this many records are held; 0 disables
	commitErr error
	committed bool
	aborted   bool
}

var errSinkFull = errors.New("sink full")

func (s *memSink) Write(rec models.Record) error {
	if s.failAfter > 0 && len(s.recs) >= s.failAfter {
		return errSinkFull
	}
	s.recs = append(s.recs, rec)
	return nil
}

func (s *memSink) Commit() error {
	if s.commitErr != nil {
		return s.commitErr
	}
	s.committed = true
	return nil
}

func (s *memSink) Abort() error {
	s.aborted = true
	return nil
}

func monoFormat() models.Format {
	return models.Format{SampleRate: testRate, Channels: 1, BitDepth: 16, Encoding: models.EncodingInt}
}

func intStream(samples []float64, format models.Format, blockFrames int) *audio.MemoryStream {
	q := make([]float64, len(samples))
	for i, s := range samples {
		q[i] = float64(int(s))
	}
	return audio.FromInterleaved(q, format, blockFrames)
}

func chirp(n int) []float64 {
	return audiotest.Chirp(n, testRate, 8192, 12000, 440, 880, 1320, 2500, 660)
}

func newPipeline(t *testing.T, cfg Config) *Pipeline {
	t.Helper()
	p, err := New(cfg, WithLogger(logger.Discard()))
	if err != nil {
		t.Fatalf("Failed to create pipeline: %v", err)
	}
	return p
}

func runOnce(t *testing.T, cfg Config, stream audio.Stream) ([]models.Record, *Summary) {
	t.Helper()
	sink := &memSink{}
	sum, err := newPipeline(t, cfg).Run(context.Background(), stream, sink)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !sink.committed || sink.aborted {
		t.Fatalf("Expected committed sink, got committed=%v aborted=%v", sink.committed, sink.aborted)
	}
	return sink.recs, sum
}

func TestDenseRecordCountMatchesFrames(t *testing.T) {
	tests := []struct {
		name    string
		samples int
		want    int
	}{
		{"empty", 0, 0},
		{"shorter than a frame", 100, 1},
		{"exact frames", 3 * 4096, 3},
		{"partial tail", 10000, 3},
	}

	for _, mode := range []models.Mode{models.ModeBatch, models.ModeStream} {
		for _, tt := range tests {
			t.Run(string(mode)+"/"+tt.name, func(t *testing.T) {
				cfg := DefaultConfig()
				cfg.Mode = mode
				stream := intStream(audiotest.Sine(tt.samples, testRate, 440, 8000), monoFormat(), 0)

				recs, sum := runOnce(t, cfg, stream)
				if len(recs) != tt.want {
					t.Errorf("Expected %d records, got %d", tt.want, len(recs))
				}
				if sum.Frames != tt.want || sum.Records != tt.want {
					t.Errorf("Expected summary frames=records=%d, got frames=%d records=%d", tt.want, sum.Frames, sum.Records)
				}
				if sum.Samples != tt.samples {
					t.Errorf("Expected %d samples, got %d", tt.samples, sum.Samples)
				}
			})
		}
	}
}

func TestBatchAndStreamAgree(t *testing.T) {
	tests := []struct {
		name     string
		strategy models.Strategy
		n        int
	}{
		{"dense", models.StrategyDense, 50000},
		{"landmark", models.StrategyLandmark, 3 * testRate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := chirp(tt.n)

			batch := DefaultConfig()
			batch.Strategy = tt.strategy
			want, _ := runOnce(t, batch, intStream(samples, monoFormat(), 0))
			if len(want) == 0 {
				t.Fatalf("Expected records from batch run")
			}

			stream := batch
			stream.Mode = models.ModeStream
			stream.QueueSize = 1
			stream.ChunkSize = 1000
			got, _ := runOnce(t, stream, intStream(samples, monoFormat(), 777))

			if !reflect.DeepEqual(got, want) {
				t.Errorf("Expected stream output to equal batch output (%d vs %d records)", len(got), len(want))
			}
		})
	}
}

func TestOutputIndependentOfWorkers(t *testing.T) {
	for _, strategy := range []models.Strategy{models.StrategyDense, models.StrategyLandmark} {
		t.Run(string(strategy), func(t *testing.T) {
			samples := chirp(2 * testRate)

			cfg := DefaultConfig()
			cfg.Strategy = strategy
			cfg.Workers = 1
			want, _ := runOnce(t, cfg, intStream(samples, monoFormat(), 0))

			cfg.Workers = 8
			got, _ := runOnce(t, cfg, intStream(samples, monoFormat(), 0))
			if !reflect.DeepEqual(got, want) {
				t.Errorf("Expected identical output for 1 and 8 workers")
			}

			again, _ := runOnce(t, cfg, intStream(samples, monoFormat(), 0))
			if !reflect.DeepEqual(again, got) {
				t.Errorf("Expected repeated runs to be identical")
			}
		})
	}
}

func TestSlowProducer(t *testing.T) {
	samples := chirp(40000)

	cfg := DefaultConfig()
	want, _ := runOnce(t, cfg, intStream(samples, monoFormat(), 0))

	cfg.Mode = models.ModeStream
	cfg.QueueSize = 1
	stream := intStream(samples, monoFormat(), 0)
	stream.Delay = time.Millisecond
	got, _ := runOnce(t, cfg, stream)

	if !reflect.DeepEqual(got, want) {
		t.Errorf("Expected slow producer to yield the batch output")
	}
}

func TestStereoDenseTiming(t *testing.T) {
	left := audiotest.Sine(6000, testRate, 440, 8000)
	right := audiotest.Sine(6000, testRate, 660, 8000)
	interleaved := make([]float64, 0, 12000)
	for i := range left {
		interleaved = append(interleaved, float64(int(left[i])), float64(int(right[i])))
	}
	format := models.Format{SampleRate: testRate, Channels: 2, BitDepth: 16, Encoding: models.EncodingInt}

	recs, sum := runOnce(t, DefaultConfig(), audio.FromInterleaved(interleaved, format, 0))

	if sum.Samples != 12000 {
		t.Errorf("Expected channels to be concatenated into 12000 samples, got %d", sum.Samples)
	}
	if len(recs) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(recs))
	}
	want := 4096.0 / (2 * testRate)
	if recs[1].Time != want {
		t.Errorf("Expected second record at %v s, got %v", want, recs[1].Time)
	}
}

func TestDecodeErrorsAreSkipped(t *testing.T) {
	for _, mode := range []models.Mode{models.ModeBatch, models.ModeStream} {
		t.Run(string(mode), func(t *testing.T) {
			stream := intStream(audiotest.Sine(5000, testRate, 440, 8000), monoFormat(), 1000)
			stream.Fail = map[int]error{1: &models.DecodeError{Block: 1, Err: errors.New("bad crc")}}

			cfg := DefaultConfig()
			cfg.Mode = mode
			_, sum := runOnce(t, cfg, stream)

			if sum.SkippedBlocks != 1 {
				t.Errorf("Expected 1 skipped block, got %d", sum.SkippedBlocks)
			}
			if sum.Samples != 4000 {
				t.Errorf("Expected 4000 decoded samples, got %d", sum.Samples)
			}
		})
	}
}

func TestFailuresAbortTheSink(t *testing.T) {
	errDisk := errors.New("disk gone")

	tests := []struct {
		name      string
		mode      models.Mode
		sourceErr bool
		sink      *memSink
		wantErr   error
		stages    []string
	}{
		{"batch source", models.ModeBatch, true, &memSink{}, errDisk, []string{"decode"}},
		{"stream source", models.ModeStream, true, &memSink{}, errDisk, []string{"producer"}},
		{"batch sink", models.ModeBatch, false, &memSink{failAfter: 1}, errSinkFull, []string{"sink"}},
		{"stream sink", models.ModeStream, false, &memSink{failAfter: 1}, errSinkFull, []string{"consumer"}},
		{"commit", models.ModeBatch, false, &memSink{commitErr: errDisk}, errDisk, []string{"sink"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := intStream(audiotest.Sine(20000, testRate, 440, 8000), monoFormat(), 1000)
			if tt.sourceErr {
				stream.Fail = map[int]error{3: errDisk}
			}
			cfg := DefaultConfig()
			cfg.Mode = tt.mode

			_, err := newPipeline(t, cfg).Run(context.Background(), stream, tt.sink)

			var pe *models.PipelineError
			if !errors.As(err, &pe) {
				t.Fatalf("Expected *PipelineError, got %T: %v", err, err)
			}
			if !slices.Contains(tt.stages, pe.Stage) {
				t.Errorf("Expected stage in %v, got %q", tt.stages, pe.Stage)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Expected error to wrap %v, got %v", tt.wantErr, err)
			}
			if !tt.sink.aborted || tt.sink.committed {
				t.Errorf("Expected aborted sink, got committed=%v aborted=%v", tt.sink.committed, tt.sink.aborted)
			}
		})
	}
}

func TestUnsupportedFormat(t *testing.T) {
	t.Run("no channels", func(t *testing.T) {
		stream := audio.NewMemoryStream(models.Format{SampleRate: testRate, Encoding: models.EncodingInt})
		sink := &memSink{}
		_, err := newPipeline(t, DefaultConfig()).Run(context.Background(), stream, sink)

		var uf *models.UnsupportedFormat
		if !errors.As(err, &uf) {
			t.Fatalf("Expected *UnsupportedFormat, got %v", err)
		}
		if !sink.aborted {
			t.Errorf("Expected sink to be aborted")
		}
	})

	t.Run("encoding changes mid-stream", func(t *testing.T) {
		block := audio.ChannelBlock{Channels: [][]float64{make([]float64, 100)}}
		floatBlock := audio.ChannelBlock{Channels: [][]float64{make([]float64, 100)}, Encoding: models.EncodingFloat}
		stream := audio.NewMemoryStream(monoFormat(), block, floatBlock)

		_, err := newPipeline(t, DefaultConfig()).Run(context.Background(), stream, &memSink{})
		var uf *models.UnsupportedFormat
		if !errors.As(err, &uf) {
			t.Fatalf("Expected *UnsupportedFormat, got %v", err)
		}
	})
}

func TestCancellation(t *testing.T) {
	for _, mode := range []models.Mode{models.ModeBatch, models.ModeStream} {
		t.Run(string(mode), func(t *testing.T) {
			stream := intStream(audiotest.Sine(200*1000, testRate, 440, 8000), monoFormat(), 1000)
			stream.Delay = 5 * time.Millisecond

			cfg := DefaultConfig()
			cfg.Mode = mode
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
			defer cancel()

			sink := &memSink{}
			start := time.Now()
			_, err := newPipeline(t, cfg).Run(ctx, stream, sink)

			if !errors.Is(err, context.DeadlineExceeded) {
				t.Fatalf("Expected deadline error, got %v", err)
			}
			if time.Since(start) > 500*time.Millisecond {
				t.Errorf("Expected run to stop promptly, took %v", time.Since(start))
			}
			if !sink.aborted {
				t.Errorf("Expected sink to be aborted")
			}
		})
	}
}

func TestSilentLandmarkInput(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Strategy = models.StrategyLandmark

	recs, sum := runOnce(t, cfg, intStream(make([]float64, 3*4096), monoFormat(), 0))
	if len(recs) != 0 {
		t.Errorf("Expected no records for silence, got %d", len(recs))
	}
	if sum.PeakAmplitude != 0 {
		t.Errorf("Expected zero peak amplitude, got %v", sum.PeakAmplitude)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"strategy", func(c *Config) { c.Strategy = "spectral" }, "strategy"},
		{"mode", func(c *Config) { c.Mode = "realtime" }, "mode"},
		{"non power of two", func(c *Config) { c.FrameLength = 1000 }, "frame_length"},
		{"dense overlap", func(c *Config) { c.HopSize = 2048 }, "hop_size"},
		{"landmark no overlap", func(c *Config) {
			c.Strategy = models.StrategyLandmark
			c.HopSize = 4096
		}, "hop_size"},
		{"window", func(c *Config) { c.Window = "kaiser" }, "window"},
		{"backend", func(c *Config) { c.Backend = "fftw" }, "backend"},
		{"workers", func(c *Config) { c.Workers = 0 }, "workers"},
		{"queue", func(c *Config) { c.QueueSize = 0 }, "queue_size"},
		{"chunk", func(c *Config) { c.ChunkSize = -1 }, "chunk_size"},
		{"dense params", func(c *Config) { c.Dense.Fuzz = 0 }, "dense.fuzz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(cfg)
			if err == nil {
				t.Fatalf("Expected config error")
			}
			if !slices.Contains(models.ConfigFields(err), tt.field) {
				t.Errorf("Expected field %q in %v", tt.field, models.ConfigFields(err))
			}
		})
	}

	t.Run("gonum accepts any length", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Backend = "gonum"
		cfg.FrameLength = 1000
		if _, err := New(cfg); err != nil {
			t.Errorf("Expected gonum to accept length 1000, got %v", err)
		}
	})

	t.Run("defaults resolve per strategy", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Strategy = models.StrategyLandmark
		r := cfg.Resolved()
		if r.HopSize != 2048 || r.Window != "hann" {
			t.Errorf("Expected hop 2048 and hann window, got %d and %q", r.HopSize, r.Window)
		}
	})
}
