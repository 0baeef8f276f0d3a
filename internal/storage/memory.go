package storage

import (
	"context"
	"sync"

	"l2g/internal/model"
)

type candidateKey struct {
	runID      string
	generation int
}

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]model.RunRecord
	candidates  map[candidateKey][]model.CandidateRecord
	pools       map[string]model.PoolSnapshot
	history     map[string][]float64
	diagnostics map[string][]model.GenerationDiagnostics
	lineage     map[string][]model.LineageRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]model.RunRecord)
	s.candidates = make(map[candidateKey][]model.CandidateRecord)
	s.pools = make(map[string]model.PoolSnapshot)
	s.history = make(map[string][]float64)
	s.diagnostics = make(map[string][]model.GenerationDiagnostics)
	s.lineage = make(map[string][]model.LineageRecord)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sortRuns(runs)
	return runs, nil
}

func (s *MemoryStore) SaveCandidates(_ context.Context, runID string, generation int, candidates []model.CandidateRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.candidates[candidateKey{runID, generation}] = copyCandidates(candidates)
	return nil
}

func (s *MemoryStore) GetCandidates(_ context.Context, runID string, generation int) ([]model.CandidateRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	candidates, ok := s.candidates[candidateKey{runID, generation}]
	if !ok {
		return nil, false, nil
	}
	return copyCandidates(candidates), true, nil
}

func (s *MemoryStore) SavePool(_ context.Context, runID string, pool model.PoolSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pools[runID] = copyPool(pool)
	return nil
}

func (s *MemoryStore) GetPool(_ context.Context, runID string) (model.PoolSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pool, ok := s.pools[runID]
	if !ok {
		return model.PoolSnapshot{}, false, nil
	}
	return copyPool(pool), true, nil
}

func (s *MemoryStore) SaveFitnessHistory(_ context.Context, runID string, history []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := append([]float64(nil), history...)
	s.history[runID] = copied
	return nil
}

func (s *MemoryStore) GetFitnessHistory(_ context.Context, runID string) ([]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history, ok := s.history[runID]
	if !ok {
		return nil, false, nil
	}
	copied := append([]float64(nil), history...)
	return copied, true, nil
}

func (s *MemoryStore) SaveGenerationDiagnostics(_ context.Context, runID string, diagnostics []model.GenerationDiagnostics) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(copied, diagnostics)
	s.diagnostics[runID] = copied
	return nil
}

func (s *MemoryStore) GetGenerationDiagnostics(_ context.Context, runID string) ([]model.GenerationDiagnostics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	diagnostics, ok := s.diagnostics[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.GenerationDiagnostics, len(diagnostics))
	copy(copied, diagnostics)
	return copied, true, nil
}

func (s *MemoryStore) SaveLineage(_ context.Context, runID string, lineage []model.LineageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make([]model.LineageRecord, len(lineage))
	copy(copied, lineage)
	s.lineage[runID] = copied
	return nil
}

func (s *MemoryStore) GetLineage(_ context.Context, runID string) ([]model.LineageRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lineage, ok := s.lineage[runID]
	if !ok {
		return nil, false, nil
	}
	copied := make([]model.LineageRecord, len(lineage))
	copy(copied, lineage)
	return copied, true, nil
}

func copyCandidates(in []model.CandidateRecord) []model.CandidateRecord {
	out := make([]model.CandidateRecord, len(in))
	for i, c := range in {
		out[i] = c
		out[i].Genome = c.Genome.Clone()
	}
	return out
}

func copyPool(in model.PoolSnapshot) model.PoolSnapshot {
	out := in
	out.Entries = make([]model.PoolEntry, len(in.Entries))
	for i, e := range in.Entries {
		out.Entries[i] = model.PoolEntry{Genome: e.Genome.Clone(), Fitness: e.Fitness}
		if e.Auxiliary != nil {
			aux := *e.Auxiliary
			out.Entries[i].Auxiliary = &aux
		}
	}
	return out
}
