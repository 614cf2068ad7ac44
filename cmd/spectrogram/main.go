// Command spectrogram renders PNG spectrograms of audio inputs. It decodes
// through the same sources as the fingerprinter and mixes channels to mono,
// which makes it handy for tuning landmark parameters.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/draw"
	"io"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/eligwz/spectrogram"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint/audio"
	"github.com/himanishpuri/acousticprint/pkg/logger"
	"github.com/himanishpuri/acousticprint/pkg/models"
	"github.com/himanishpuri/acousticprint/pkg/utils"
)

func main() {
	outputDir := flag.String("out", "spectrograms", "Output directory for PNG files")
	decoder := flag.String("decoder", audio.DecoderWAV, "Input decoder: wav, mp3 or ffmpeg")
	width := flag.Int("width", 2048, "Image width in pixels")
	height := flag.Int("height", 512, "Image height in pixels (frequency bins)")
	log10 := flag.Bool("log10", false, "Use a logarithmic magnitude scale")
	flag.Parse()

	log := logger.GetLogger()

	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Usage: spectrogram [--out <dir>] [--decoder <name>] <file|dir>...")
		os.Exit(1)
	}

	src, err := audio.NewSource(*decoder, 0)
	if err != nil {
		log.Fatalf("Invalid decoder: %v", err)
	}
	if err := utils.MakeDir(*outputDir); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	ext := "." + *decoder
	if *decoder == audio.DecoderFFmpeg {
		ext = ""
	}

	var inputs []string
	for _, arg := range flag.Args() {
		err := filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			// explicit file arguments are always taken
			if path == arg || ext == "" || strings.EqualFold(filepath.Ext(path), ext) {
				inputs = append(inputs, path)
			}
			return nil
		})
		if err != nil {
			log.Fatalf("Failed to scan %s: %v", arg, err)
		}
	}

	ctx := context.Background()
	failed := 0
	for _, path := range inputs {
		fmt.Printf("Processing %s...\n", path)

		samples, sampleRate, err := readMono(ctx, src, path)
		if err != nil {
			log.Errorf("Error reading %s: %v", path, err)
			failed++
			continue
		}
		fmt.Printf("Read %d samples at %d Hz\n", len(samples), sampleRate)

		img := spectrogram.NewImage128(image.Rect(0, 0, *width, *height))
		black := spectrogram.ParseColor("000000")
		draw.Draw(img, img.Bounds(), image.NewUniform(black), image.Point{}, draw.Src)

		// Hamming window, FFT, magnitude
		spectrogram.Drawfft(
			img,
			samples,
			uint32(sampleRate),
			uint32(*height),
			false,
			false,
			true,
			*log10,
		)

		outputPath := filepath.Join(*outputDir, filepath.Base(path)+".png")
		if err := spectrogram.SavePng(img, outputPath); err != nil {
			log.Errorf("Error saving PNG for %s: %v", outputPath, err)
			failed++
			continue
		}
		fmt.Printf("Saved spectrogram to %s\n", outputPath)
	}

	if failed > 0 {
		fmt.Printf("❌ %d of %d input(s) failed\n", failed, len(inputs))
		os.Exit(1)
	}
	fmt.Println("Done!")
}

// readMono decodes path, averages its channels and scales the result to
// [-1, 1]. Corrupt blocks are skipped.
func readMono(ctx context.Context, src audio.Source, path string) ([]float64, int, error) {
	stream, err := src.Open(ctx, path)
	if err != nil {
		return nil, 0, err
	}
	defer stream.Close()

	var samples []float64
	for {
		block, err := stream.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		var de *models.DecodeError
		if errors.As(err, &de) {
			continue
		}
		if err != nil {
			return nil, 0, err
		}
		if samples, err = audio.AverageToMono.Reduce(samples, block); err != nil {
			return nil, 0, err
		}
	}
	if len(samples) == 0 {
		return nil, 0, errors.New("no samples decoded")
	}

	var peak float64
	for _, v := range samples {
		peak = math.Max(peak, math.Abs(v))
	}
	if peak > 0 {
		for i := range samples {
			samples[i] /= peak
		}
	}
	return samples, stream.Format().SampleRate, nil
}
