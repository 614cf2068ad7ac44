package acousticprint

import (
	"context"

	"github.com/himanishpuri/acousticprint/pkg/models"
)

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}

// Sink receives the records of one run.
type Sink interface {
	Write(rec models.Record) error
	Commit() error
	Abort() error
}

// RunCatalog reads back runs kept by a persistent sink.
type RunCatalog interface {
	ListRuns(ctx context.Context, limit int) ([]models.RunInfo, error)
	GetRun(ctx context.Context, id string) (*models.RunInfo, error)
	Records(ctx context.Context, id string) ([]models.Record, error)
	DeleteRun(ctx context.Context, id string) error
	Close() error
}

// runStore is a catalog that can also record new runs.
type runStore interface {
	RunCatalog
	begin(ctx context.Context, info models.RunInfo) (Sink, string, error)
}
