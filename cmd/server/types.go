package main

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint"
	"github.com/himanishpuri/acousticprint/pkg/models"
)

// Record limits for JSON responses
const (
	// DefaultRecordLimit is returned when the client does not ask for more
	DefaultRecordLimit = 10000

	// MaxRecordLimit is the largest page of records a response may carry
	MaxRecordLimit = 50000

	// MaxUploadBytes caps multipart uploads to POST /api/fingerprint
	MaxUploadBytes = 100 << 20
)

// RecordDTO is one fingerprint record. Hash is decimal for dense runs and
// hex for landmark runs.
type RecordDTO struct {
	Hash string  `json:"hash"`
	Time float64 `json:"time"`
}

func toRecordDTOs(recs []models.Record) []RecordDTO {
	out := make([]RecordDTO, len(recs))
	for i, r := range recs {
		out[i] = RecordDTO{Hash: r.Key(), Time: r.Time}
	}
	return out
}

// FingerprintResponse is the response for POST /api/fingerprint
type FingerprintResponse struct {
	RunID         string      `json:"run_id,omitempty"`
	Filename      string      `json:"filename"`
	Strategy      string      `json:"strategy"`
	Mode          string      `json:"mode"`
	SampleRate    int         `json:"sample_rate"`
	Channels      int         `json:"channels"`
	Samples       int         `json:"samples"`
	Frames        int         `json:"frames"`
	Records       int         `json:"records"`
	SkippedBlocks int         `json:"skipped_blocks"`
	Digest        string      `json:"digest"`
	DecodeMs      int64       `json:"decode_ms"`
	AnalysisMs    int64       `json:"analysis_ms"`
	TotalMs       int64       `json:"total_ms"`
	Hashes        []RecordDTO `json:"hashes"`
	Truncated     bool        `json:"truncated"`
}

func newFingerprintResponse(filename string, rep *acousticprint.Report, recs []models.Record) FingerprintResponse {
	return FingerprintResponse{
		RunID:         rep.RunID,
		Filename:      filename,
		Strategy:      string(rep.Strategy),
		Mode:          string(rep.Mode),
		SampleRate:    rep.Format.SampleRate,
		Channels:      rep.Format.Channels,
		Samples:       rep.Samples,
		Frames:        rep.Frames,
		Records:       rep.Records,
		SkippedBlocks: rep.SkippedBlocks,
		Digest:        fmt.Sprintf("%016x", rep.OutputDigest),
		DecodeMs:      rep.DecodeTime.Milliseconds(),
		AnalysisMs:    rep.AnalysisTime.Milliseconds(),
		TotalMs:       rep.TotalTime.Milliseconds(),
		Hashes:        toRecordDTOs(recs),
		Truncated:     len(recs) < rep.Records,
	}
}

// ListRunsResponse is the response for GET /api/runs
type ListRunsResponse struct {
	Runs  []models.RunInfo `json:"runs"`
	Count int              `json:"count"`
}

// RunResponse is the response for GET /api/runs/{id}
type RunResponse struct {
	Run       models.RunInfo `json:"run"`
	Hashes    []RecordDTO    `json:"hashes"`
	Truncated bool           `json:"truncated"`
}

// DeleteRunResponse is the response for DELETE /api/runs/{id}
type DeleteRunResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string   `json:"error"`
	Message string   `json:"message,omitempty"`
	Code    int      `json:"code,omitempty"`
	Fields  []string `json:"fields,omitempty"`
}

// parseLimit reads a non-negative integer query parameter capped at
// MaxRecordLimit.
func parseLimit(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	if n > MaxRecordLimit {
		return 0, fmt.Errorf("%s too large: %d (maximum: %d)", key, n, MaxRecordLimit)
	}
	return n, nil
}

// parseBool accepts the strconv.ParseBool spellings; absent means false.
func parseBool(r *http.Request, key string) (bool, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", key)
	}
	return b, nil
}
