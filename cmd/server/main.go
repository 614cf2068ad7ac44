//go:build !js && !wasm
// +build !js,!wasm

package main

import (
	"flag"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/himanishpuri/acousticprint/internal/metrics"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint"
	"github.com/himanishpuri/acousticprint/pkg/logger"
)

var (
	port           int
	configPath     string
	sinkKind       string
	dbPath         string
	dsn            string
	tempDir        string
	allowedOrigins string
	logRequests    bool
)

func registerFlags() {
	flag.IntVar(&port, "port", 8080, "HTTP server port")
	flag.StringVar(&configPath, "config", getEnvOrDefault("ACOUSTICPRINT_CONFIG", ""), "YAML configuration file")
	flag.StringVar(&sinkKind, "sink", getEnvOrDefault("ACOUSTICPRINT_SINK", acousticprint.SinkSQLite), "Run store for persisted runs: sqlite, postgres or badger")
	flag.StringVar(&dbPath, "db", getEnvOrDefault("ACOUSTICPRINT_DB_PATH", "acousticprint.sqlite3"), "SQLite file or badger directory")
	flag.StringVar(&dsn, "dsn", getEnvOrDefault("ACOUSTICPRINT_DSN", ""), "Postgres DSN")
	flag.StringVar(&tempDir, "temp", getEnvOrDefault("ACOUSTICPRINT_TEMP_DIR", os.TempDir()), "Temporary directory for uploads")
	flag.StringVar(&allowedOrigins, "origins", "*", "Comma-separated list of allowed CORS origins (use * for all)")
	flag.BoolVar(&logRequests, "log-requests", false, "Log every HTTP request")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	_ = godotenv.Load()
	registerFlags()
	flag.Parse()

	log := logger.GetLogger()

	// Parse allowed origins
	var origins []string
	if allowedOrigins == "*" {
		origins = []string{"*"}
	} else {
		origins = strings.Split(allowedOrigins, ",")
		for i := range origins {
			origins[i] = strings.TrimSpace(origins[i])
		}
	}

	cfg := acousticprint.DefaultConfig()
	if configPath != "" {
		loaded, err := acousticprint.LoadConfig(configPath)
		if err != nil {
			log.Fatalf("Invalid configuration: %v", xerrors.New(err))
		}
		cfg = *loaded
	}
	// uploads are always answered inline, the sink only backs persisted runs
	cfg.Output = acousticprint.OutputConfig{Sink: sinkKind, Path: dbPath, DSN: dsn}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	engine, err := acousticprint.New(
		acousticprint.WithConfig(&cfg),
		acousticprint.WithLogger(log),
		acousticprint.WithMetrics(m),
	)
	if err != nil {
		log.Fatalf("Failed to create engine: %v", xerrors.New(err))
	}
	defer engine.Close()

	config := &ServerConfig{
		Port:           port,
		Sink:           sinkKind,
		DBPath:         dbPath,
		TempDir:        tempDir,
		AllowedOrigins: origins,
		LogRequests:    logRequests,
	}

	server := NewServer(engine, config, reg, m)
	if err := server.Start(); err != nil {
		log.Fatalf("Server failed: %v", xerrors.New(err))
	}
}
