//go:build !js && !wasm
// +build !js,!wasm

package storage

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/himanishpuri/acousticprint/pkg/models"
	"github.com/himanishpuri/acousticprint/pkg/utils"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	DefaultDBFile = "acousticprint.sqlite3"

	insertBatch = 500
	flushEvery  = 1000
)

var ErrRunNotFound = errors.New("run not found")

type Run struct {
	ID         string `gorm:"primaryKey;type:varchar(36)"`
	Input      string `gorm:"size:1024"`
	Strategy   string `gorm:"size:16;index:idx_run_strategy"`
	Mode       string `gorm:"size:16"`
	SampleRate int
	Status     string `gorm:"size:16;index:idx_run_status"`
	Records    int64
	Digest     string `gorm:"size:16"` // hex xxhash64; uint64 does not fit a signed column
	CreatedAt  time.Time
	FinishedAt *time.Time
}

type DenseHash struct {
	ID    uint    `gorm:"primaryKey;autoIncrement"`
	RunID string  `gorm:"type:varchar(36);index:idx_dense_run_seq,priority:1"`
	Seq   int64   `gorm:"index:idx_dense_run_seq,priority:2"`
	Hash  int64   `gorm:"index:idx_dense_hash"`
	TimeS float64 `gorm:"column:time_s"`
}

type LandmarkHash struct {
	ID     uint    `gorm:"primaryKey;autoIncrement"`
	RunID  string  `gorm:"type:varchar(36);index:idx_landmark_run_seq,priority:1"`
	Seq    int64   `gorm:"index:idx_landmark_run_seq,priority:2"`
	Digest string  `gorm:"size:64;index:idx_landmark_digest"`
	TimeS  float64 `gorm:"column:time_s"`
}

// RunStore persists runs and their records through gorm.
type RunStore struct {
	DB *gorm.DB
	db *sql.DB
}

// OpenRunStore opens (and migrates) a sqlite file or a postgres DSN.
func OpenRunStore(driver, dsn string) (*RunStore, error) {
	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		if dsn == "" {
			dsn = DefaultDBFile
		}
		if err := utils.EnsureParentDir(dsn); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
		dialector = sqlite.Open(dsn + "?_pragma=busy_timeout(5000)")
	case DriverPostgres:
		if dsn == "" {
			return nil, errors.New("postgres sink needs a DSN")
		}
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unknown database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s db: %w", driver, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}
	if driver == DriverSQLite {
		// one writer at a time; sqlite locks the whole file anyway
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(25)
		sqlDB.SetMaxIdleConns(5)
	}
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&Run{}, &DenseHash{}, &LandmarkHash{}); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &RunStore{DB: db, db: sqlDB}, nil
}

func (s *RunStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Begin registers a running run and returns the sink that fills it.
// info.ID is generated when empty.
func (s *RunStore) Begin(ctx context.Context, info models.RunInfo) (*RunSink, error) {
	if info.ID == "" {
		info.ID = utils.NewRunID()
	}
	run := &Run{
		ID:         info.ID,
		Input:      info.Input,
		Strategy:   string(info.Strategy),
		Mode:       string(info.Mode),
		SampleRate: info.SampleRate,
		Status:     string(models.RunRunning),
	}
	if err := s.DB.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("creating run: %w", err)
	}
	return &RunSink{store: s, ctx: ctx, run: run, kind: info.Strategy, digest: newLineDigest()}, nil
}

func (s *RunStore) ListRuns(ctx context.Context, limit int) ([]models.RunInfo, error) {
	q := s.DB.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var runs []Run
	if err := q.Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	out := make([]models.RunInfo, 0, len(runs))
	for i := range runs {
		out = append(out, runs[i].info())
	}
	return out, nil
}

func (s *RunStore) GetRun(ctx context.Context, id string) (*models.RunInfo, error) {
	var run Run
	err := s.DB.WithContext(ctx).Where("id = ?", id).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	info := run.info()
	return &info, nil
}

// Records returns the records of a run in emission order.
func (s *RunStore) Records(ctx context.Context, id string) ([]models.Record, error) {
	info, err := s.GetRun(ctx, id)
	if err != nil {
		return nil, err
	}

	db := s.DB.WithContext(ctx).Where("run_id = ?", id).Order("seq")
	if info.Strategy == models.StrategyLandmark {
		var rows []LandmarkHash
		if err := db.Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("querying landmark hashes: %w", err)
		}
		out := make([]models.Record, 0, len(rows))
		for _, r := range rows {
			digest, err := hex.DecodeString(r.Digest)
			if err != nil {
				return nil, fmt.Errorf("run %s seq %d: bad digest: %w", id, r.Seq, err)
			}
			out = append(out, models.Record{Kind: models.StrategyLandmark, Digest: digest, Time: r.TimeS})
		}
		return out, nil
	}

	var rows []DenseHash
	if err := db.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("querying dense hashes: %w", err)
	}
	out := make([]models.Record, 0, len(rows))
	for _, r := range rows {
		out = append(out, models.Record{Kind: models.StrategyDense, Hash: uint64(r.Hash), Time: r.TimeS})
	}
	return out, nil
}

// DeleteRun removes a run and its records.
func (s *RunStore) DeleteRun(ctx context.Context, id string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", id).Delete(&DenseHash{}).Error; err != nil {
			return err
		}
		if err := tx.Where("run_id = ?", id).Delete(&LandmarkHash{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Run{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: %s", ErrRunNotFound, id)
		}
		return nil
	})
}

func (r *Run) info() models.RunInfo {
	digest, _ := strconv.ParseUint(r.Digest, 16, 64)
	return models.RunInfo{
		ID:         r.ID,
		Input:      r.Input,
		Strategy:   models.Strategy(r.Strategy),
		Mode:       models.Mode(r.Mode),
		SampleRate: r.SampleRate,
		Status:     models.RunStatus(r.Status),
		Records:    r.Records,
		Digest:     digest,
		CreatedAt:  r.CreatedAt,
		FinishedAt: r.FinishedAt,
	}
}

// RunSink buffers records and inserts them in batches. Commit marks the run
// complete. Abort saves what is still buffered and marks the run incomplete;
// the stored record count is always the number of inserted rows.
type RunSink struct {
	store  *RunStore
	ctx    context.Context
	run    *Run
	kind   models.Strategy
	seq    int64
	saved  int64
	digest lineDigest
	closed bool

	dense    []DenseHash
	landmark []LandmarkHash
}

// RunID is the id of the run being written.
func (s *RunSink) RunID() string { return s.run.ID }

func (s *RunSink) Write(rec models.Record) error {
	if s.closed {
		return errSinkClosed
	}
	s.digest.render(rec)

	if s.kind == models.StrategyLandmark {
		s.landmark = append(s.landmark, LandmarkHash{
			RunID: s.run.ID, Seq: s.seq, Digest: hex.EncodeToString(rec.Digest), TimeS: rec.Time,
		})
	} else {
		s.dense = append(s.dense, DenseHash{
			RunID: s.run.ID, Seq: s.seq, Hash: int64(rec.Hash), TimeS: rec.Time,
		})
	}
	s.seq++

	if len(s.dense)+len(s.landmark) >= flushEvery {
		return s.flush(s.ctx)
	}
	return nil
}

// flush inserts the buffered rows in one transaction so saved stays exact.
func (s *RunSink) flush(ctx context.Context) error {
	n := len(s.dense) + len(s.landmark)
	if n == 0 {
		return nil
	}
	err := s.store.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(s.dense) > 0 {
			if err := tx.CreateInBatches(s.dense, insertBatch).Error; err != nil {
				return fmt.Errorf("batch insert dense hashes: %w", err)
			}
		}
		if len(s.landmark) > 0 {
			if err := tx.CreateInBatches(s.landmark, insertBatch).Error; err != nil {
				return fmt.Errorf("batch insert landmark hashes: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.saved += int64(n)
	s.dense, s.landmark = s.dense[:0], s.landmark[:0]
	return nil
}

func (s *RunSink) Commit() error {
	if s.closed {
		return errSinkClosed
	}
	s.closed = true
	if err := s.flush(s.ctx); err != nil {
		s.finish(models.RunIncomplete)
		return err
	}
	return s.finish(models.RunComplete)
}

func (s *RunSink) Abort() error {
	if s.closed {
		return nil
	}
	s.closed = true
	flushErr := s.flush(context.WithoutCancel(s.ctx))
	s.dense, s.landmark = nil, nil
	return errors.Join(flushErr, s.finish(models.RunIncomplete))
}

// finish uses a fresh context so a cancelled run can still be marked. The
// digest is only stored when it covers every saved row.
func (s *RunSink) finish(status models.RunStatus) error {
	now := time.Now()
	digest := ""
	if s.saved == s.digest.n {
		digest = fmt.Sprintf("%016x", s.digest.Sum64())
	}
	err := s.store.DB.WithContext(context.WithoutCancel(s.ctx)).
		Model(&Run{}).
		Where("id = ?", s.run.ID).
		Updates(map[string]any{
			"status":      string(status),
			"records":     s.saved,
			"digest":      digest,
			"finished_at": &now,
		}).Error
	if err != nil {
		return fmt.Errorf("updating run status: %w", err)
	}
	return nil
}

func (s *RunSink) Sum64() uint64 { return s.digest.Sum64() }
