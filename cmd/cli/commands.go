package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/audio"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/storage"
	"github.com/himanishpuri/acousticprint/pkg/logger"
	"github.com/himanishpuri/acousticprint/pkg/models"
	"github.com/himanishpuri/acousticprint/pkg/utils"
)

func handleFingerprint(args []string) {
	log := logger.GetLogger()

	fs := flag.NewFlagSet("fingerprint", flag.ExitOnError)
	out := fs.String("out", getEnvOrDefault("ACOUSTICPRINT_OUT", ""), "Output file for one input, directory for several; '-' writes to stdout")
	preview := fs.Int("preview", 0, "Print the first N records of each input")
	timeout := fs.Duration("timeout", 30*time.Minute, "Give up on an input after this long")
	fs.Parse(args)

	inputs := fs.Args()
	if len(inputs) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: acousticprint fingerprint [--out <file|dir>] [--preview <n>] <input>...")
		os.Exit(1)
	}

	cfg, err := loadConfig()
	if err != nil {
		fail("Invalid configuration", err)
	}
	if *out == "" && cfg.Output.Sink == acousticprint.SinkText {
		*out = cfg.Output.Path
	}
	toStdout := cfg.Output.Sink == acousticprint.SinkText && (*out == "" || *out == "-")
	if toStdout && len(inputs) > 1 {
		fmt.Fprintln(os.Stderr, "Error: several inputs need --out <dir> or a database sink")
		os.Exit(1)
	}

	engine, err := createEngine(cfg)
	if err != nil {
		fail("Failed to create engine", err)
	}
	defer engine.Close()

	// Human output goes to stderr when records go to stdout.
	var ui io.Writer = os.Stdout
	if toStdout {
		ui = os.Stderr
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var bar *mpb.Bar
	var progress *mpb.Progress
	if len(inputs) > 1 {
		progress = mpb.New(mpb.WithWidth(64), mpb.WithOutput(os.Stderr))
		bar = progress.AddBar(int64(len(inputs)),
			mpb.PrependDecorators(
				decor.Name("Fingerprinting: "),
				decor.CountersNoUnit("%d / %d"),
			),
			mpb.AppendDecorators(
				decor.Percentage(),
				decor.EwmaETA(decor.ET_STYLE_GO, 60),
			),
		)
	}

	paths := outputPaths(*out, inputs)
	failed := 0
	var reports []*acousticprint.Report
	for i, input := range inputs {
		start := time.Now()
		runCtx, cancel := context.WithTimeout(ctx, *timeout)

		var rep *acousticprint.Report
		switch {
		case cfg.Output.Sink != acousticprint.SinkText:
			rep, err = engine.Fingerprint(runCtx, input, nil)
		case toStdout:
			rep, err = engine.Fingerprint(runCtx, input, storage.NewTextWriter(os.Stdout))
			if rep != nil {
				rep.Output = "-"
			}
		default:
			rep, err = engine.FingerprintToFile(runCtx, input, paths[i])
		}
		cancel()

		if bar != nil {
			bar.EwmaIncrement(time.Since(start))
		}
		if err != nil {
			failed++
			log.With("input", input).Errorf("Fingerprinting failed: %v", err)
			if len(inputs) == 1 {
				fail("Failed to fingerprint "+input, err)
			}
			continue
		}
		reports = append(reports, rep)
	}
	if progress != nil {
		progress.Wait()
	}

	for _, rep := range reports {
		printReport(ui, rep)
		if *preview > 0 {
			printPreview(ctx, ui, engine, rep, *preview)
		}
	}
	if failed > 0 {
		fmt.Fprintf(ui, "\n❌ %d of %d input(s) failed\n", failed, len(inputs))
		os.Exit(1)
	}
}

// outputPaths names the text output of each input. With several inputs out
// is a directory and each input gets <base>.txt inside it; inputs sharing a
// base name get <base>-2.txt, <base>-3.txt and so on.
func outputPaths(out string, inputs []string) []string {
	paths := make([]string, len(inputs))
	if len(inputs) == 1 {
		paths[0] = out
		return paths
	}
	taken := make(map[string]bool, len(inputs))
	for i, input := range inputs {
		base := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		name := base + ".txt"
		for n := 2; taken[name]; n++ {
			name = fmt.Sprintf("%s-%d.txt", base, n)
		}
		taken[name] = true
		paths[i] = filepath.Join(out, name)
	}
	return paths
}

func printReport(w io.Writer, rep *acousticprint.Report) {
	fmt.Fprintf(w, "\n✅ %s\n", rep.Input)
	fmt.Fprintf(w, "   Strategy: %s (%s)\n", rep.Strategy, rep.Mode)
	fmt.Fprintf(w, "   Format:   %d Hz, %d channel(s), %d-bit\n", rep.Format.SampleRate, rep.Format.Channels, rep.Format.BitDepth)
	fmt.Fprintf(w, "   Samples:  %s in %s frames\n", humanize.Comma(int64(rep.Samples)), humanize.Comma(int64(rep.Frames)))
	fmt.Fprintf(w, "   Records:  %s\n", humanize.Comma(int64(rep.Records)))
	if rep.SkippedBlocks > 0 {
		fmt.Fprintf(w, "   Skipped:  %d corrupt block(s)\n", rep.SkippedBlocks)
	}
	fmt.Fprintf(w, "   Digest:   %016x\n", rep.OutputDigest)
	fmt.Fprintf(w, "   Timing:   decode %v, analysis %v, emit %v, total %v\n",
		rep.DecodeTime.Round(time.Millisecond),
		rep.AnalysisTime.Round(time.Millisecond),
		rep.EmitTime.Round(time.Millisecond),
		rep.TotalTime.Round(time.Millisecond))
	switch {
	case rep.RunID != "":
		fmt.Fprintf(w, "   Run ID:   %s\n", rep.RunID)
	case rep.Output != "" && rep.Output != "-":
		size := ""
		if st, err := os.Stat(rep.Output); err == nil {
			size = " (" + humanize.Bytes(uint64(st.Size())) + ")"
		}
		fmt.Fprintf(w, "   Output:   %s%s\n", rep.Output, size)
	}
}

// printPreview shows the first n records of a finished run, read back from
// where they were written.
func printPreview(ctx context.Context, w io.Writer, engine *acousticprint.Engine, rep *acousticprint.Report, n int) {
	fmt.Fprintf(w, "   First %d record(s):\n", n)

	if rep.RunID != "" {
		cat, err := engine.Catalog()
		if err != nil {
			fmt.Fprintf(w, "   (preview unavailable: %v)\n", err)
			return
		}
		recs, err := cat.Records(ctx, rep.RunID)
		if err != nil {
			fmt.Fprintf(w, "   (preview unavailable: %v)\n", err)
			return
		}
		for i := 0; i < n && i < len(recs); i++ {
			fmt.Fprintf(w, "     %s\n", recs[i])
		}
		return
	}

	if rep.Output == "" || rep.Output == "-" {
		fmt.Fprintln(w, "   (records were written to stdout)")
		return
	}
	f, err := os.Open(rep.Output)
	if err != nil {
		fmt.Fprintf(w, "   (preview unavailable: %v)\n", err)
		return
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for i := 0; i < n && sc.Scan(); i++ {
		fmt.Fprintf(w, "     %s\n", sc.Text())
	}
}

func handleRuns(args []string) {
	fs := flag.NewFlagSet("runs", flag.ExitOnError)
	limit := fs.Int("limit", 20, "Maximum number of runs to list (0 = all)")
	fs.Parse(args)

	cfg, err := catalogConfig()
	if err != nil {
		fail("Invalid configuration", err)
	}
	engine, err := createEngine(cfg)
	if err != nil {
		fail("Failed to create engine", err)
	}
	defer engine.Close()

	cat, err := engine.Catalog()
	if err != nil {
		fail("Failed to open run store", err)
	}
	runs, err := cat.ListRuns(context.Background(), *limit)
	if err != nil {
		fail("Failed to list runs", err)
	}

	if len(runs) == 0 {
		fmt.Println("\n📭 No runs recorded")
		return
	}

	fmt.Printf("\n📚 %d run(s):\n\n", len(runs))
	for i, run := range runs {
		fmt.Printf("%d. %s  [%s]\n", i+1, run.ID, run.Status)
		fmt.Printf("   %s, %s mode, %s records, %s\n",
			run.Strategy, run.Mode, humanize.Comma(run.Records), humanize.Time(run.CreatedAt))
		if run.Input != "" {
			fmt.Printf("   Input: %s\n", run.Input)
		}
	}
}

func handleShow(args []string) {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	records := fs.Int("records", 10, "Number of records to print")
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Usage: acousticprint show [--records <n>] <run_id>")
		os.Exit(1)
	}
	id := fs.Arg(0)

	cfg, err := catalogConfig()
	if err != nil {
		fail("Invalid configuration", err)
	}
	engine, err := createEngine(cfg)
	if err != nil {
		fail("Failed to create engine", err)
	}
	defer engine.Close()

	cat, err := engine.Catalog()
	if err != nil {
		fail("Failed to open run store", err)
	}
	ctx := context.Background()
	run, err := cat.GetRun(ctx, id)
	if err != nil {
		fail("Run not found", err)
	}

	fmt.Printf("\n🎵 Run %s\n", run.ID)
	fmt.Printf("   Input:    %s\n", run.Input)
	fmt.Printf("   Strategy: %s (%s mode)\n", run.Strategy, run.Mode)
	fmt.Printf("   Rate:     %d Hz\n", run.SampleRate)
	fmt.Printf("   Status:   %s\n", run.Status)
	fmt.Printf("   Records:  %s\n", humanize.Comma(run.Records))
	fmt.Printf("   Digest:   %016x\n", run.Digest)
	fmt.Printf("   Created:  %s (%s)\n", run.CreatedAt.Format(time.RFC3339), humanize.Time(run.CreatedAt))
	if run.FinishedAt != nil {
		fmt.Printf("   Took:     %v\n", run.FinishedAt.Sub(run.CreatedAt).Round(time.Millisecond))
	}
	if run.Status != models.RunComplete {
		fmt.Println("   ⚠️  Run did not complete; records are partial")
	}

	if *records <= 0 {
		return
	}
	recs, err := cat.Records(ctx, id)
	if err != nil {
		fail("Failed to read records", err)
	}
	fmt.Printf("\n   First %d of %s record(s):\n", min(*records, len(recs)), humanize.Comma(int64(len(recs))))
	for i := 0; i < *records && i < len(recs); i++ {
		fmt.Printf("     %s\n", recs[i])
	}
}

func handleDelete(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: acousticprint delete <run_id>")
		os.Exit(1)
	}
	id := args[0]
	if !utils.ValidRunID(id) {
		fmt.Fprintf(os.Stderr, "❌ Invalid run ID: %s\n", id)
		os.Exit(1)
	}

	cfg, err := catalogConfig()
	if err != nil {
		fail("Invalid configuration", err)
	}
	engine, err := createEngine(cfg)
	if err != nil {
		fail("Failed to create engine", err)
	}
	defer engine.Close()

	cat, err := engine.Catalog()
	if err != nil {
		fail("Failed to open run store", err)
	}
	ctx := context.Background()
	run, err := cat.GetRun(ctx, id)
	if err != nil {
		fail("Run not found", err)
	}
	if err := cat.DeleteRun(ctx, id); err != nil {
		fail("Failed to delete run", err)
	}

	fmt.Printf("\n🗑️  Deleted run %s (%s records of %s)\n", id, humanize.Comma(run.Records), run.Input)
}

func handleProbe(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: acousticprint probe <input>")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	meta, err := audio.Probe(ctx, args[0])
	if err != nil {
		fail("Failed to probe "+args[0], err)
	}

	fmt.Printf("\n🔍 %s\n", meta.Filename)
	fmt.Printf("   Container: %s\n", meta.Format)
	fmt.Printf("   Codec:     %s\n", meta.Codec)
	fmt.Printf("   Rate:      %d Hz\n", meta.SampleRate)
	fmt.Printf("   Channels:  %d\n", meta.Channels)
	if meta.BitDepth > 0 {
		fmt.Printf("   Bit depth: %d\n", meta.BitDepth)
	}
	if meta.DurationSec > 0 {
		d := time.Duration(meta.DurationSec * float64(time.Second))
		fmt.Printf("   Duration:  %v\n", d.Round(time.Millisecond))
	}
	if meta.Title != "" || meta.Artist != "" {
		fmt.Printf("   Tags:      %q by %q\n", meta.Title, meta.Artist)
	}
}
