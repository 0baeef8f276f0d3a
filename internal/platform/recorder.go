// Package platform persists evolution runs. A Recorder observes an engine
// and writes every generation to a storage.Store as it completes, so an
// aborted run still leaves its history behind.
package platform

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"l2g/internal/evo"
	"l2g/internal/model"
	"l2g/internal/storage"
)

// NewRunID returns a fresh run identifier.
func NewRunID() string {
	return uuid.NewString()
}

type Recorder struct {
	store storage.Store
	now   func() time.Time

	mu          sync.Mutex
	run         model.RunRecord
	history     []float64
	diagnostics []model.GenerationDiagnostics
	lineage     []model.LineageRecord
}

// NewRecorder records into store under run.ID, assigning a new id when it is
// empty. The store must already be initialized.
func NewRecorder(store storage.Store, run model.RunRecord) (*Recorder, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if run.ID == "" {
		run.ID = NewRunID()
	}
	run.VersionedRecord = storage.Versioned()
	return &Recorder{store: store, now: time.Now, run: run}, nil
}

func (r *Recorder) RunID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run.ID
}

func (r *Recorder) Run() model.RunRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.run
}

// Start saves the run header in the running state.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	r.run.CreatedAt = now
	r.run.UpdatedAt = now
	r.run.Status = model.RunStatusRunning
	return r.store.SaveRun(ctx, r.run)
}

func (r *Recorder) ObserveGeneration(ctx context.Context, report evo.GenerationReport) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	runID := r.run.ID
	if err := r.store.SaveCandidates(ctx, runID, report.Generation, toModelCandidates(report.Generation, report.Outcomes)); err != nil {
		return fmt.Errorf("save candidates: %w", err)
	}
	if err := r.store.SavePool(ctx, runID, toModelPool(report.Generation, report.Pool)); err != nil {
		return fmt.Errorf("save pool: %w", err)
	}

	for _, o := range report.Outcomes {
		if !o.Failed() {
			r.history = append(r.history, o.Score.Fitness)
		}
	}
	if err := r.store.SaveFitnessHistory(ctx, runID, r.history); err != nil {
		return fmt.Errorf("save fitness history: %w", err)
	}
	r.diagnostics = append(r.diagnostics, toModelDiagnostics(report.Diagnostics))
	if err := r.store.SaveGenerationDiagnostics(ctx, runID, r.diagnostics); err != nil {
		return fmt.Errorf("save diagnostics: %w", err)
	}
	r.lineage = append(r.lineage, toModelLineage(report.Lineage)...)
	if err := r.store.SaveLineage(ctx, runID, r.lineage); err != nil {
		return fmt.Errorf("save lineage: %w", err)
	}

	r.run.Generations = report.Generation + 1
	r.run.BestFitness = report.Diagnostics.PoolBest
	for _, entry := range report.Pool {
		if entry.Fitness == report.Diagnostics.PoolBest {
			r.run.BestGenomeID = entry.Genome.ID
			break
		}
	}
	r.run.UpdatedAt = r.now().UTC()
	return r.store.SaveRun(ctx, r.run)
}

// Finish marks the run finished, or failed when runErr is non-nil.
func (r *Recorder) Finish(ctx context.Context, runErr error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.run.Status = model.RunStatusFinished
	r.run.Error = ""
	if runErr != nil {
		r.run.Status = model.RunStatusFailed
		r.run.Error = runErr.Error()
	}
	r.run.UpdatedAt = r.now().UTC()
	return r.store.SaveRun(ctx, r.run)
}

func toModelCandidates(generation int, outcomes []evo.Outcome) []model.CandidateRecord {
	out := make([]model.CandidateRecord, 0, len(outcomes))
	for _, o := range outcomes {
		rec := model.CandidateRecord{
			VersionedRecord: storage.Versioned(),
			Generation:      generation,
			Candidate:       o.Candidate,
			GenomeID:        o.Genome.ID,
			Seed:            o.Seed,
			Genome:          o.Genome.Clone(),
		}
		if o.Failed() {
			rec.Failed = true
			rec.Error = o.Err.Error()
		} else {
			rec.Fitness = o.Score.Fitness
			rec.Auxiliary = o.Score.Aux
		}
		out = append(out, rec)
	}
	return out
}

func toModelPool(generation int, entries []evo.Entry) model.PoolSnapshot {
	snapshot := model.PoolSnapshot{
		VersionedRecord: storage.Versioned(),
		Generation:      generation,
		Entries:         make([]model.PoolEntry, 0, len(entries)),
	}
	for _, e := range entries {
		entry := model.PoolEntry{Genome: e.Genome.Clone(), Fitness: e.Fitness}
		if e.Aux != nil {
			aux := *e.Aux
			entry.Auxiliary = &aux
		}
		snapshot.Entries = append(snapshot.Entries, entry)
	}
	return snapshot
}

func toModelLineage(edges []evo.LineageEdge) []model.LineageRecord {
	out := make([]model.LineageRecord, 0, len(edges))
	for _, edge := range edges {
		out = append(out, model.LineageRecord{
			VersionedRecord: storage.Versioned(),
			ParentID:        edge.Parent,
			GenomeID:        edge.Child,
			Generation:      edge.Generation,
		})
	}
	return out
}

func toModelDiagnostics(d evo.GenerationDiagnostics) model.GenerationDiagnostics {
	return model.GenerationDiagnostics{
		Generation:    d.Generation,
		Candidates:    d.Candidates,
		Failed:        d.Failed,
		BestFitness:   d.BestFitness,
		MeanFitness:   d.MeanFitness,
		MedianFitness: d.MedianFitness,
		MinFitness:    d.MinFitness,
		StdDevFitness: d.StdDevFitness,
		PoolFloor:     d.PoolFloor,
		PoolBest:      d.PoolBest,
		Replacements:  d.Replacements,
		BestGenomeID:  d.BestGenomeID,
		MeanAuxiliary: d.MeanAuxiliary,
	}
}
