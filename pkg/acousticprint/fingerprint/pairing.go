package fingerprint

import (
	"crypto/sha1"
	"fmt"
	"math"
	"sort"
	"strconv"

	"golang.org/x/crypto/blake2b"

	"github.com/himanishpuri/acousticprint/pkg/models"
)

// Digest algorithms for landmark keys.
const (
	DigestSHA1    = "sha1"
	DigestBLAKE2b = "blake2b"
)

// Digester hashes a quantised peak pair and truncates the digest.
type Digester struct {
	name string
	size int
	sum  func([]byte) []byte
}

// NewDigester returns a digester producing size-byte keys.
func NewDigester(name string, size int) (Digester, error) {
	var (
		sum  func([]byte) []byte
		full int
	)
	switch name {
	case "", DigestSHA1:
		name, full = DigestSHA1, sha1.Size
		sum = func(b []byte) []byte { s := sha1.Sum(b); return s[:] }
	case DigestBLAKE2b:
		full = blake2b.Size256
		sum = func(b []byte) []byte { s := blake2b.Sum256(b); return s[:] }
	default:
		return Digester{}, fmt.Errorf("unknown digest %q", name)
	}
	if size < 1 || size > full {
		return Digester{}, fmt.Errorf("%s digest size must be in [1, %d], got %d", name, full, size)
	}
	return Digester{name: name, size: size, sum: sum}, nil
}

func (d Digester) Name() string { return d.name }
func (d Digester) Size() int    { return d.size }

// PairKey renders the textual key "f1|f2|dt" of rounded integers.
func PairKey(f1, f2, dt float64) []byte {
	key := make([]byte, 0, 24)
	key = strconv.AppendInt(key, int64(math.Round(f1)), 10)
	key = append(key, '|')
	key = strconv.AppendInt(key, int64(math.Round(f2)), 10)
	key = append(key, '|')
	key = strconv.AppendInt(key, int64(math.Round(dt)), 10)
	return key
}

// Sum digests a pair key and truncates it.
func (d Digester) Sum(key []byte) []byte {
	full := d.sum(key)
	out := make([]byte, d.size)
	copy(out, full)
	return out
}

// Pair sorts peaks by time (stable, so equal times keep discovery order)
// and pairs each with up to fan following peaks. The scan for an anchor stops
// at the first partner more than maxDT seconds later; peaks are time sorted,
// so no later partner can qualify.
func Pair(peaks []models.Peak, fan int, maxDT float64, d Digester) []models.Record {
	sorted := make([]models.Peak, len(peaks))
	copy(sorted, peaks)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time < sorted[j].Time })

	var records []models.Record
	for i, anchor := range sorted {
		for j := i + 1; j <= i+fan && j < len(sorted); j++ {
			dt := sorted[j].Time - anchor.Time
			if dt > maxDT {
				break
			}
			records = append(records, models.Record{
				Kind:   models.StrategyLandmark,
				Digest: d.Sum(PairKey(anchor.Frequency, sorted[j].Frequency, dt)),
				Time:   anchor.Time,
			})
		}
	}
	return records
}
