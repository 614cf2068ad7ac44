package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint"
	"github.com/himanishpuri/acousticprint/pkg/logger"
	"github.com/himanishpuri/acousticprint/pkg/models"
)

const defaultBadgerDir = "acousticprint.badger"

// Global flags
var (
	configPath string
	strategy   string
	mode       string
	decoder    string
	backend    string
	sinkKind   string
	dbPath     string
	dsn        string
	workers    int
	verbose    bool
)

// registerFlags runs after .env is loaded so env defaults see its values.
func registerFlags() {
	flag.StringVar(&configPath, "config", getEnvOrDefault("ACOUSTICPRINT_CONFIG", ""), "YAML configuration file")
	flag.StringVar(&strategy, "strategy", getEnvOrDefault("ACOUSTICPRINT_STRATEGY", ""), "Fingerprint strategy: dense or landmark")
	flag.StringVar(&mode, "mode", getEnvOrDefault("ACOUSTICPRINT_MODE", ""), "Pipeline mode: batch or stream")
	flag.StringVar(&decoder, "decoder", getEnvOrDefault("ACOUSTICPRINT_DECODER", ""), "Input decoder: wav, mp3 or ffmpeg")
	flag.StringVar(&backend, "backend", getEnvOrDefault("ACOUSTICPRINT_BACKEND", ""), "FFT backend: godsp or gonum")
	flag.StringVar(&sinkKind, "sink", getEnvOrDefault("ACOUSTICPRINT_SINK", ""), "Output sink: text, sqlite, postgres or badger")
	flag.StringVar(&dbPath, "db", getEnvOrDefault("ACOUSTICPRINT_DB_PATH", ""), "SQLite file or badger directory")
	flag.StringVar(&dsn, "dsn", getEnvOrDefault("ACOUSTICPRINT_DSN", ""), "Postgres DSN")
	flag.IntVar(&workers, "workers", getEnvIntOrDefault("ACOUSTICPRINT_WORKERS", 0), "Batch worker count (0 = all CPUs)")
	flag.BoolVar(&verbose, "verbose", false, "Debug logging with caller locations")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return defaultValue
}

// loadConfig merges the config file (if any) with the global flags.
func loadConfig() (*acousticprint.Config, error) {
	cfg := acousticprint.DefaultConfig()
	if configPath != "" {
		loaded, err := acousticprint.LoadConfig(configPath)
		if err != nil {
			return nil, err
		}
		cfg = *loaded
	}

	if strategy != "" {
		cfg.Strategy = models.Strategy(strategy)
	}
	if mode != "" {
		cfg.Mode = models.Mode(mode)
	}
	if decoder != "" {
		cfg.Decoder = decoder
	}
	if backend != "" {
		cfg.Backend = backend
	}
	if sinkKind != "" {
		cfg.Output.Sink = sinkKind
	}
	if dsn != "" {
		cfg.Output.DSN = dsn
	}
	if workers > 0 {
		cfg.Workers = workers
	}
	applyDBPath(&cfg)
	return &cfg, nil
}

// catalogConfig is loadConfig for commands that read stored runs. A text
// sink keeps no runs, so those fall back to the default sqlite file.
func catalogConfig() (*acousticprint.Config, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Output.Sink == acousticprint.SinkText {
		cfg.Output.Sink = acousticprint.SinkSQLite
		cfg.Output.Path = ""
		applyDBPath(cfg)
	}
	return cfg, nil
}

func applyDBPath(cfg *acousticprint.Config) {
	switch cfg.Output.Sink {
	case acousticprint.SinkSQLite:
		if dbPath != "" {
			cfg.Output.Path = dbPath
		}
	case acousticprint.SinkBadger:
		if dbPath != "" {
			cfg.Output.Path = dbPath
		}
		// an empty badger path would be an in-memory store
		if cfg.Output.Path == "" {
			cfg.Output.Path = defaultBadgerDir
		}
	}
}

// createEngine builds an engine from the merged configuration.
func createEngine(cfg *acousticprint.Config, opts ...acousticprint.Option) (*acousticprint.Engine, error) {
	return acousticprint.New(append([]acousticprint.Option{
		acousticprint.WithConfig(cfg),
		acousticprint.WithLogger(logger.GetLogger()),
	}, opts...)...)
}

// fail prints err for the user, logs it with a stack trace and exits.
func fail(what string, err error) {
	log := logger.GetLogger()
	fmt.Fprintf(os.Stderr, "❌ %s: %s\n", what, models.Describe(err))
	if fields := models.ConfigFields(err); len(fields) > 0 {
		fmt.Fprintf(os.Stderr, "   invalid fields: %v\n", fields)
	}
	log.Debugf("%s: %v", what, xerrors.New(err))
	os.Exit(1)
}

func main() {
	_ = godotenv.Load()
	registerFlags()
	flag.Usage = printUsage
	flag.Parse()

	log := logger.GetLogger()
	if verbose {
		log.SetLevel(logger.DEBUG)
		log.SetShowCaller(true)
	}

	if flag.NArg() < 1 {
		printUsage()
		os.Exit(1)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]
	log.Debugf("Executing command: %s", command)

	switch command {
	case "fingerprint":
		handleFingerprint(args)
	case "runs":
		handleRuns(args)
	case "show":
		handleShow(args)
	case "delete":
		handleDelete(args)
	case "probe":
		handleProbe(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "acousticprint - acoustic fingerprint generator")
	fmt.Fprintln(os.Stderr, "\nGlobal Options:")
	fmt.Fprintln(os.Stderr, "  --config <file>     YAML configuration (env: ACOUSTICPRINT_CONFIG)")
	fmt.Fprintln(os.Stderr, "  --strategy <name>   dense | landmark (env: ACOUSTICPRINT_STRATEGY, default: dense)")
	fmt.Fprintln(os.Stderr, "  --mode <name>       batch | stream (env: ACOUSTICPRINT_MODE, default: batch)")
	fmt.Fprintln(os.Stderr, "  --decoder <name>    wav | mp3 | ffmpeg (env: ACOUSTICPRINT_DECODER, default: wav)")
	fmt.Fprintln(os.Stderr, "  --backend <name>    godsp | gonum (env: ACOUSTICPRINT_BACKEND, default: godsp)")
	fmt.Fprintln(os.Stderr, "  --sink <name>       text | sqlite | postgres | badger (env: ACOUSTICPRINT_SINK, default: text)")
	fmt.Fprintln(os.Stderr, "  --db <path>         SQLite file or badger directory (env: ACOUSTICPRINT_DB_PATH)")
	fmt.Fprintln(os.Stderr, "  --dsn <dsn>         Postgres DSN (env: ACOUSTICPRINT_DSN)")
	fmt.Fprintln(os.Stderr, "  --workers <n>       Batch workers (env: ACOUSTICPRINT_WORKERS, default: all CPUs)")
	fmt.Fprintln(os.Stderr, "  --verbose           Debug logging with caller locations")
	fmt.Fprintln(os.Stderr, "\nUsage:")
	fmt.Fprintln(os.Stderr, "  acousticprint [global-options] fingerprint [--out <file|dir>] [--preview <n>] <input>...")
	fmt.Fprintln(os.Stderr, "  acousticprint [global-options] runs [--limit <n>]")
	fmt.Fprintln(os.Stderr, "  acousticprint [global-options] show [--records <n>] <run_id>")
	fmt.Fprintln(os.Stderr, "  acousticprint [global-options] delete <run_id>")
	fmt.Fprintln(os.Stderr, "  acousticprint probe <input>")
	fmt.Fprintln(os.Stderr, "\nExamples:")
	fmt.Fprintln(os.Stderr, "  # Dense hashes of a WAV file to hashes.txt")
	fmt.Fprintln(os.Stderr, "  acousticprint fingerprint --out hashes.txt song.wav")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "  # Landmarks of an mp3 in streaming mode, stored in sqlite")
	fmt.Fprintln(os.Stderr, "  acousticprint --strategy landmark --mode stream --decoder mp3 --sink sqlite --db runs.sqlite3 fingerprint song.mp3")
}
