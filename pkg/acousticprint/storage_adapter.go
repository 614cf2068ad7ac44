//go:build !js && !wasm
// +build !js,!wasm

package acousticprint

import (
	"context"
	"fmt"

	"github.com/himanishpuri/acousticprint/pkg/acousticprint/storage"
	"github.com/himanishpuri/acousticprint/pkg/models"
)

// sqlStore adapts storage.RunStore to runStore.
type sqlStore struct {
	*storage.RunStore
}

func (s sqlStore) begin(ctx context.Context, info models.RunInfo) (Sink, string, error) {
	sink, err := s.Begin(ctx, info)
	if err != nil {
		return nil, "", err
	}
	return sink, sink.RunID(), nil
}

// kvStore adapts storage.KVStore, whose calls need no context, to runStore.
type kvStore struct {
	kv *storage.KVStore
}

func (s kvStore) ListRuns(_ context.Context, limit int) ([]models.RunInfo, error) {
	runs, err := s.kv.ListRuns()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

func (s kvStore) GetRun(_ context.Context, id string) (*models.RunInfo, error) {
	return s.kv.GetRun(id)
}

func (s kvStore) Records(_ context.Context, id string) ([]models.Record, error) {
	return s.kv.Records(id)
}

func (s kvStore) DeleteRun(_ context.Context, id string) error {
	return s.kv.DeleteRun(id)
}

func (s kvStore) Close() error { return s.kv.Close() }

func (s kvStore) begin(_ context.Context, info models.RunInfo) (Sink, string, error) {
	sink, err := s.kv.Begin(info)
	if err != nil {
		return nil, "", err
	}
	return sink, sink.RunID(), nil
}

// openStore opens the persistent store named by out.
func openStore(out OutputConfig) (runStore, error) {
	switch out.Sink {
	case SinkSQLite:
		s, err := storage.OpenRunStore(storage.DriverSQLite, out.Path)
		if err != nil {
			return nil, err
		}
		return sqlStore{s}, nil
	case SinkPostgres:
		s, err := storage.OpenRunStore(storage.DriverPostgres, out.DSN)
		if err != nil {
			return nil, err
		}
		return sqlStore{s}, nil
	case SinkBadger:
		s, err := storage.OpenKVStore(out.Path)
		if err != nil {
			return nil, err
		}
		return kvStore{s}, nil
	}
	return nil, fmt.Errorf("sink %q keeps no runs", out.Sink)
}
