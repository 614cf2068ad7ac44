package models

import (
	"encoding/hex"
	"fmt"
	"strconv"
)

// Strategy selects the feature extractor used for a run.
type Strategy string

const (
	StrategyDense    Strategy = "dense"
	StrategyLandmark Strategy = "landmark"
)

// Mode selects how the pipeline schedules work.
type Mode string

const (
	ModeBatch  Mode = "batch"
	ModeStream Mode = "stream"
)

// Encoding is the amplitude domain of decoded samples. It must not change
// within a run.
type Encoding int

const (
	EncodingUnknown Encoding = iota
	EncodingInt              // raw integer PCM values
	EncodingFloat            // unit-normalised floats in [-1, 1]
)

func (e Encoding) String() string {
	switch e {
	case EncodingInt:
		return "int"
	case EncodingFloat:
		return "float"
	default:
		return "unknown"
	}
}

// Format describes a decoded stream.
type Format struct {
	SampleRate int
	Channels   int
	BitDepth   int
	Encoding   Encoding
}

// Peak is a local maximum of the magnitude grid.
type Peak struct {
	Time      float64 // seconds from stream start
	Frequency float64 // Hz
	Row       int
	Bin       int
	Magnitude float64
}

// Record is one emitted fingerprint entry.
//
// Dense runs fill Hash and set Time to the frame start. Landmark runs fill
// Digest (the truncated pair digest) and Time with the anchor peak time.
type Record struct {
	Kind   Strategy
	Hash   uint64
	Digest []byte
	Time   float64
}

// Key renders the hash part of the record: decimal for dense, hex for landmark.
func (r Record) Key() string {
	if r.Kind == StrategyLandmark {
		return hex.EncodeToString(r.Digest)
	}
	return strconv.FormatUint(r.Hash, 10)
}

// AppendLine appends the canonical text line for the record to dst.
func (r Record) AppendLine(dst []byte) []byte {
	switch r.Kind {
	case StrategyLandmark:
		dst = hex.AppendEncode(dst, r.Digest)
		dst = append(dst, '\t')
		dst = strconv.AppendFloat(dst, r.Time, 'f', 6, 64)
	default:
		dst = strconv.AppendUint(dst, r.Hash, 10)
	}
	return append(dst, '\n')
}

func (r Record) String() string {
	if r.Kind == StrategyLandmark {
		return fmt.Sprintf("%s@%.3fs", r.Key(), r.Time)
	}
	return r.Key()
}
