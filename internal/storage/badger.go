package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/dgraph-io/badger/v4"

	"l2g/internal/model"
)

// BadgerStore keeps every record under a "<kind>/<run id>" key. An empty path
// opens an in-memory database.
type BadgerStore struct {
	path string

	mu sync.RWMutex
	db *badger.DB
}

func NewBadgerStore(path string) *BadgerStore {
	return &BadgerStore{path: path}
}

func (s *BadgerStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}

	var opts badger.Options
	if s.path == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(s.path, 0o750); err != nil {
			return fmt.Errorf("create badger directory %s: %w", s.path, err)
		}
		opts = badger.DefaultOptions(s.path).WithSyncWrites(true)
	}
	opts = opts.WithNumVersionsToKeep(1).WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return fmt.Errorf("open badger database: %w", err)
	}
	s.db = db
	return nil
}

func runKey(id string) []byte { return []byte("run/" + id) }
func poolKey(runID string) []byte { return []byte("pool/" + runID) }
func historyKey(runID string) []byte { return []byte("history/" + runID) }
func diagnosticsKey(runID string) []byte { return []byte("diagnostics/" + runID) }
func lineageKey(runID string) []byte { return []byte("lineage/" + runID) }
func candidatesKey(runID string, g int) []byte { return fmt.Appendf(nil, "candidates/%s/%06d", runID, g) }

func (s *BadgerStore) SaveRun(_ context.Context, run model.RunRecord) error {
	payload, err := EncodeRun(run)
	if err != nil {
		return err
	}
	return s.put(runKey(run.ID), payload)
}

func (s *BadgerStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	payload, ok, err := s.get(runKey(id))
	if err != nil || !ok {
		return model.RunRecord{}, false, err
	}
	run, err := DecodeRun(payload)
	if err != nil {
		return model.RunRecord{}, false, fmt.Errorf("decode run %s: %w", id, err)
	}
	return run, true, nil
}

func (s *BadgerStore) ListRuns(ctx context.Context) ([]model.RunRecord, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	var runs []model.RunRecord
	prefix := []byte("run/")
	err = db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			err := item.Value(func(val []byte) error {
				run, err := DecodeRun(val)
				if err != nil {
					return fmt.Errorf("decode run %s: %w", item.Key()[len(prefix):], err)
				}
				runs = append(runs, run)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRuns(runs)
	return runs, nil
}

func (s *BadgerStore) SaveCandidates(_ context.Context, runID string, generation int, candidates []model.CandidateRecord) error {
	payload, err := EncodeCandidates(candidates)
	if err != nil {
		return err
	}
	return s.put(candidatesKey(runID, generation), payload)
}

func (s *BadgerStore) GetCandidates(_ context.Context, runID string, generation int) ([]model.CandidateRecord, bool, error) {
	payload, ok, err := s.get(candidatesKey(runID, generation))
	if err != nil || !ok {
		return nil, false, err
	}
	candidates, err := DecodeCandidates(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode candidates %s/%d: %w", runID, generation, err)
	}
	return candidates, true, nil
}

func (s *BadgerStore) SavePool(_ context.Context, runID string, pool model.PoolSnapshot) error {
	payload, err := EncodePool(pool)
	if err != nil {
		return err
	}
	return s.put(poolKey(runID), payload)
}

func (s *BadgerStore) GetPool(_ context.Context, runID string) (model.PoolSnapshot, bool, error) {
	payload, ok, err := s.get(poolKey(runID))
	if err != nil || !ok {
		return model.PoolSnapshot{}, false, err
	}
	pool, err := DecodePool(payload)
	if err != nil {
		return model.PoolSnapshot{}, false, fmt.Errorf("decode pool %s: %w", runID, err)
	}
	return pool, true, nil
}

func (s *BadgerStore) SaveFitnessHistory(_ context.Context, runID string, history []float64) error {
	payload, err := EncodeFitnessHistory(history)
	if err != nil {
		return err
	}
	return s.put(historyKey(runID), payload)
}

func (s *BadgerStore) GetFitnessHistory(_ context.Context, runID string) ([]float64, bool, error) {
	payload, ok, err := s.get(historyKey(runID))
	if err != nil || !ok {
		return nil, false, err
	}
	history, err := DecodeFitnessHistory(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode fitness history %s: %w", runID, err)
	}
	return history, true, nil
}

func (s *BadgerStore) SaveGenerationDiagnostics(_ context.Context, runID string, diagnostics []model.GenerationDiagnostics) error {
	payload, err := EncodeGenerationDiagnostics(diagnostics)
	if err != nil {
		return err
	}
	return s.put(diagnosticsKey(runID), payload)
}

func (s *BadgerStore) GetGenerationDiagnostics(_ context.Context, runID string) ([]model.GenerationDiagnostics, bool, error) {
	payload, ok, err := s.get(diagnosticsKey(runID))
	if err != nil || !ok {
		return nil, false, err
	}
	diagnostics, err := DecodeGenerationDiagnostics(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode diagnostics %s: %w", runID, err)
	}
	return diagnostics, true, nil
}

func (s *BadgerStore) SaveLineage(_ context.Context, runID string, lineage []model.LineageRecord) error {
	payload, err := EncodeLineage(lineage)
	if err != nil {
		return err
	}
	return s.put(lineageKey(runID), payload)
}

func (s *BadgerStore) GetLineage(_ context.Context, runID string) ([]model.LineageRecord, bool, error) {
	payload, ok, err := s.get(lineageKey(runID))
	if err != nil || !ok {
		return nil, false, err
	}
	lineage, err := DecodeLineage(payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode lineage %s: %w", runID, err)
	}
	return lineage, true, nil
}

func (s *BadgerStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *BadgerStore) put(key, payload []byte) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}
	return db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, payload)
	})
}

func (s *BadgerStore) get(key []byte) ([]byte, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, false, err
	}
	var payload []byte
	err = db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		payload, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return payload, true, nil
}

func (s *BadgerStore) getDB() (*badger.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, errors.New("store is not initialized")
	}
	return s.db, nil
}
