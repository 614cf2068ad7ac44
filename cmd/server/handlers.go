package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mdobak/go-xerrors"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/himanishpuri/acousticprint/internal/metrics"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/audio"
	"github.com/himanishpuri/acousticprint/pkg/acousticprint/storage"
	"github.com/himanishpuri/acousticprint/pkg/logger"
	"github.com/himanishpuri/acousticprint/pkg/models"
	"github.com/himanishpuri/acousticprint/pkg/utils"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	engine   *acousticprint.Engine
	config   *ServerConfig
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	log      acousticprint.Logger

	mu      sync.Mutex
	engines map[string]*acousticprint.Engine
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Sink           string
	DBPath         string
	TempDir        string
	AllowedOrigins []string
	LogRequests    bool
}

// NewServer creates a new server instance
func NewServer(engine *acousticprint.Engine, config *ServerConfig, reg *prometheus.Registry, m *metrics.Metrics) *Server {
	return &Server{
		engine:   engine,
		config:   config,
		registry: reg,
		metrics:  m,
		log:      logger.GetLogger(),
		engines:  make(map[string]*acousticprint.Engine),
	}
}

// engineFor returns an engine for the requested variant. Empty values keep
// the server configuration. Engines are cached and share the run store.
func (s *Server) engineFor(strategy, mode, decoder string) (*acousticprint.Engine, error) {
	base := s.engine.Config()
	if strategy == "" {
		strategy = string(base.Strategy)
	}
	if mode == "" {
		mode = string(base.Mode)
	}
	if decoder == "" {
		decoder = base.Decoder
	}
	key := strategy + "/" + mode + "/" + decoder

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.engines[key]; ok {
		return e, nil
	}
	e, err := s.engine.Derive(
		acousticprint.WithStrategy(models.Strategy(strategy)),
		acousticprint.WithMode(models.Mode(mode)),
		acousticprint.WithDecoder(decoder),
	)
	if err != nil {
		return nil, err
	}
	s.engines[key] = e
	return e, nil
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// respondFailure maps an engine error to a status code and logs it.
func (s *Server) respondFailure(w http.ResponseWriter, what string, err error) {
	var unsupported *models.UnsupportedFormat
	status := http.StatusInternalServerError
	switch {
	case models.IsConfigError(err):
		s.respondJSON(w, http.StatusBadRequest, ErrorResponse{
			Error:   http.StatusText(http.StatusBadRequest),
			Message: models.Describe(err),
			Code:    http.StatusBadRequest,
			Fields:  models.ConfigFields(err),
		})
		return
	case errors.Is(err, storage.ErrRunNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrUnreadableSource), errors.As(err, &unsupported):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	}

	if status >= http.StatusInternalServerError {
		s.log.Errorf("%s: %v", what, xerrors.New(err))
	} else {
		s.log.Warnf("%s: %v", what, err)
	}
	s.respondError(w, status, fmt.Sprintf("%s: %s", what, models.Describe(err)))
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": "acousticprint API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":      "GET /health",
			"metrics":     "GET /metrics",
			"fingerprint": "POST /api/fingerprint",
			"runs":        "GET /api/runs",
			"getRun":      "GET /api/runs/{id}",
			"deleteRun":   "DELETE /api/runs/{id}",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cfg := s.engine.Config()
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status":   "healthy",
		"time":     time.Now().Format(time.RFC3339),
		"strategy": string(cfg.Strategy),
		"mode":     string(cfg.Mode),
		"sink":     s.config.Sink,
	})
}

// handleFingerprint handles POST /api/fingerprint (multipart file upload)
func (s *Server) handleFingerprint(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	q := r.URL.Query()
	limit, err := parseLimit(r, "limit", DefaultRecordLimit)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	persist, err := parseBool(r, "persist")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.log.Errorf("Failed to parse form: %v", err)
		s.respondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		s.log.Errorf("Failed to get audio file: %v", err)
		s.respondError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()

	decoder := q.Get("decoder")
	if decoder == "" {
		decoder = decoderFor(header.Filename)
	}
	engine, err := s.engineFor(q.Get("strategy"), q.Get("mode"), decoder)
	if err != nil {
		s.respondFailure(w, "Invalid request", err)
		return
	}

	tempFile, err := s.saveUpload(file, header.Filename)
	if err != nil {
		s.log.Errorf("Failed to save upload: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to save uploaded file")
		return
	}
	defer os.Remove(tempFile)

	s.log.Infof("Fingerprinting upload %s (%s)", header.Filename, humanize.Bytes(uint64(header.Size)))

	var rep *acousticprint.Report
	var recs []models.Record
	if persist {
		rep, err = engine.Fingerprint(ctx, tempFile, nil)
		if err == nil {
			recs, err = s.storedRecords(ctx, engine, rep.RunID, limit)
		}
	} else {
		col := storage.NewCollector(limit)
		rep, err = engine.Fingerprint(ctx, tempFile, col)
		recs = col.Records
	}
	if err != nil {
		s.respondFailure(w, "Failed to fingerprint upload", err)
		return
	}

	status := http.StatusOK
	if rep.RunID != "" {
		status = http.StatusCreated
	}
	s.log.Infof("Fingerprinted %s: %d records", header.Filename, rep.Records)
	s.respondJSON(w, status, newFingerprintResponse(header.Filename, rep, recs))
}

func (s *Server) saveUpload(src io.Reader, filename string) (string, error) {
	name := fmt.Sprintf("upload_%d_%s", time.Now().UnixNano(), filepath.Base(filename))
	tempFile := filepath.Join(s.config.TempDir, name)
	out, err := os.Create(tempFile)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(tempFile)
		return "", err
	}
	if err := out.Close(); err != nil {
		os.Remove(tempFile)
		return "", err
	}
	return tempFile, nil
}

func (s *Server) storedRecords(ctx context.Context, engine *acousticprint.Engine, id string, limit int) ([]models.Record, error) {
	cat, err := engine.Catalog()
	if err != nil {
		return nil, err
	}
	recs, err := cat.Records(ctx, id)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// handleListRuns handles GET /api/runs
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, "limit", 100)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	cat, err := s.engine.Catalog()
	if err != nil {
		s.respondFailure(w, "Failed to open run store", err)
		return
	}
	runs, err := cat.ListRuns(r.Context(), limit)
	if err != nil {
		s.respondFailure(w, "Failed to list runs", err)
		return
	}
	if runs == nil {
		runs = []models.RunInfo{}
	}

	s.respondJSON(w, http.StatusOK, ListRunsResponse{
		Runs:  runs,
		Count: len(runs),
	})
}

// handleGetRun handles GET /api/runs/{id}
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request, id string) {
	limit, err := parseLimit(r, "records", DefaultRecordLimit)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	cat, err := s.engine.Catalog()
	if err != nil {
		s.respondFailure(w, "Failed to open run store", err)
		return
	}
	run, err := cat.GetRun(r.Context(), id)
	if err != nil {
		s.respondFailure(w, "Run lookup failed", err)
		return
	}

	resp := RunResponse{Run: *run, Hashes: []RecordDTO{}}
	if limit > 0 {
		recs, err := s.storedRecords(r.Context(), s.engine, id, limit)
		if err != nil {
			s.respondFailure(w, "Failed to read records", err)
			return
		}
		resp.Hashes = toRecordDTOs(recs)
		resp.Truncated = int64(len(recs)) < run.Records
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// handleDeleteRun handles DELETE /api/runs/{id}
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request, id string) {
	cat, err := s.engine.Catalog()
	if err != nil {
		s.respondFailure(w, "Failed to open run store", err)
		return
	}
	if err := cat.DeleteRun(r.Context(), id); err != nil {
		s.respondFailure(w, "Failed to delete run", err)
		return
	}

	s.log.Infof("Deleted run %s", id)
	s.respondJSON(w, http.StatusOK, DeleteRunResponse{
		Message: "Run deleted successfully",
		ID:      id,
	})
}

// handleFingerprintRoute routes requests to /api/fingerprint
func (s *Server) handleFingerprintRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.handleFingerprint(w, r)
}

// handleRuns routes requests to /api/runs
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.handleListRuns(w, r)
}

// handleRun routes requests to /api/runs/{id}
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/runs/")
	if id == "" {
		s.respondError(w, http.StatusBadRequest, "Run ID required")
		return
	}
	if !utils.ValidRunID(id) {
		s.respondError(w, http.StatusBadRequest, "Invalid run ID")
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.handleGetRun(w, r, id)
	case http.MethodDelete:
		s.handleDeleteRun(w, r, id)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// decoderFor picks a decoder from the upload's extension when the client
// did not name one.
func decoderFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp3":
		return audio.DecoderMP3
	case ".wav", ".wave":
		return audio.DecoderWAV
	}
	return ""
}
