//go:build !js && !wasm
// +build !js,!wasm

package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/himanishpuri/acousticprint/pkg/models"
	"github.com/himanishpuri/acousticprint/pkg/utils"
)

// KVStore keeps runs in badger.
//
//	s/<run>           JSON run status
//	r/<run>/<seq:be64> record: float64 time bits, then the hash (be64) or digest
type KVStore struct {
	db *badger.DB
}

// OpenKVStore opens the store in dir. An empty dir keeps everything in memory.
func OpenKVStore(dir string) (*KVStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	} else if err := utils.MakeDir(dir); err != nil {
		return nil, fmt.Errorf("creating kv dir: %w", err)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}
	return &KVStore{db: db}, nil
}

func (s *KVStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func statusKey(id string) []byte { return []byte("s/" + id) }

func recordPrefix(id string) []byte { return []byte("r/" + id + "/") }

func recordKey(id string, seq uint64) []byte {
	k := recordPrefix(id)
	return binary.BigEndian.AppendUint64(k, seq)
}

func encodeRecord(rec models.Record) []byte {
	v := make([]byte, 8, 8+max(8, len(rec.Digest)))
	binary.BigEndian.PutUint64(v, math.Float64bits(rec.Time))
	if rec.Kind == models.StrategyLandmark {
		return append(v, rec.Digest...)
	}
	return binary.BigEndian.AppendUint64(v, rec.Hash)
}

func decodeRecord(kind models.Strategy, v []byte) (models.Record, error) {
	if len(v) < 8 {
		return models.Record{}, fmt.Errorf("record value too short (%d bytes)", len(v))
	}
	rec := models.Record{Kind: kind, Time: math.Float64frombits(binary.BigEndian.Uint64(v))}
	if kind == models.StrategyLandmark {
		rec.Digest = append([]byte(nil), v[8:]...)
		return rec, nil
	}
	if len(v) != 16 {
		return models.Record{}, fmt.Errorf("dense record value has %d bytes, expected 16", len(v))
	}
	rec.Hash = binary.BigEndian.Uint64(v[8:])
	return rec, nil
}

func (s *KVStore) putStatus(info models.RunInfo) error {
	val, err := json.Marshal(info)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(statusKey(info.ID), val)
	})
}

// Begin records a running run and returns its sink.
func (s *KVStore) Begin(info models.RunInfo) (*KVSink, error) {
	if info.ID == "" {
		info.ID = utils.NewRunID()
	}
	info.Status = models.RunRunning
	info.CreatedAt = time.Now().UTC()
	info.FinishedAt = nil
	if err := s.putStatus(info); err != nil {
		return nil, fmt.Errorf("writing run status: %w", err)
	}
	return &KVSink{store: s, info: info, wb: s.db.NewWriteBatch(), digest: newLineDigest()}, nil
}

func (s *KVStore) GetRun(id string) (*models.RunInfo, error) {
	var info models.RunInfo
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(statusKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error { return json.Unmarshal(v, &info) })
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("reading run %s: %w", id, err)
	}
	return &info, nil
}

// ListRuns returns all runs, newest first.
func (s *KVStore) ListRuns() ([]models.RunInfo, error) {
	var runs []models.RunInfo
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte("s/")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var info models.RunInfo
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &info) }); err != nil {
				return err
			}
			runs = append(runs, info)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	return runs, nil
}

// DeleteRun removes a run and its records.
func (s *KVStore) DeleteRun(id string) error {
	if _, err := s.GetRun(id); err != nil {
		return err
	}
	if err := s.db.DropPrefix(recordPrefix(id)); err != nil {
		return fmt.Errorf("deleting records of %s: %w", id, err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(statusKey(id))
	})
	if err != nil {
		return fmt.Errorf("deleting run %s: %w", id, err)
	}
	return nil
}

func (s *KVStore) countRecords(id string) (int64, error) {
	var n int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := recordPrefix(id)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting records of %s: %w", id, err)
	}
	return n, nil
}

// Records returns the records of a run in emission order.
func (s *KVStore) Records(id string) ([]models.Record, error) {
	info, err := s.GetRun(id)
	if err != nil {
		return nil, err
	}
	var out []models.Record
	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := recordPrefix(id)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				rec, err := decodeRecord(info.Strategy, v)
				if err != nil {
					return err
				}
				out = append(out, rec)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading records of %s: %w", id, err)
	}
	return out, nil
}

// KVSink writes records through a badger WriteBatch. Abort flushes what was
// accepted and records the number of keys badger actually holds.
type KVSink struct {
	store  *KVStore
	info   models.RunInfo
	wb     *badger.WriteBatch
	seq    uint64
	digest lineDigest
	closed bool
}

func (s *KVSink) RunID() string { return s.info.ID }

func (s *KVSink) Write(rec models.Record) error {
	if s.closed {
		return errSinkClosed
	}
	s.digest.render(rec)
	if err := s.wb.Set(recordKey(s.info.ID, s.seq), encodeRecord(rec)); err != nil {
		return fmt.Errorf("kv write: %w", err)
	}
	s.seq++
	return nil
}

func (s *KVSink) Commit() error {
	if s.closed {
		return errSinkClosed
	}
	s.closed = true
	if err := s.wb.Flush(); err != nil {
		s.finish(models.RunIncomplete)
		return fmt.Errorf("kv flush: %w", err)
	}
	return s.finish(models.RunComplete)
}

func (s *KVSink) Abort() error {
	if s.closed {
		return nil
	}
	s.closed = true
	flushErr := s.wb.Flush()
	if flushErr != nil {
		flushErr = fmt.Errorf("kv flush: %w", flushErr)
	}
	return errors.Join(flushErr, s.finish(models.RunIncomplete))
}

func (s *KVSink) finish(status models.RunStatus) error {
	now := time.Now().UTC()
	saved := s.digest.n
	if status != models.RunComplete {
		n, err := s.store.countRecords(s.info.ID)
		if err != nil {
			return err
		}
		saved = n
	}
	s.info.Status = status
	s.info.Records = saved
	s.info.Digest = 0
	if saved == s.digest.n {
		s.info.Digest = s.digest.Sum64()
	}
	s.info.FinishedAt = &now
	if err := s.store.putStatus(s.info); err != nil {
		return fmt.Errorf("writing run status: %w", err)
	}
	return nil
}

func (s *KVSink) Sum64() uint64 { return s.digest.Sum64() }
