package storage

import (
	"context"

	"l2g/internal/model"
)

// Store defines transaction-like persistence operations for evolution runs.
// Per-run slices (history, diagnostics, lineage) are saved whole and replace
// whatever was stored before.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, id string) (model.RunRecord, bool, error)
	// ListRuns returns every run ordered by creation time, oldest first.
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	SaveCandidates(ctx context.Context, runID string, generation int, candidates []model.CandidateRecord) error
	GetCandidates(ctx context.Context, runID string, generation int) ([]model.CandidateRecord, bool, error)
	SavePool(ctx context.Context, runID string, pool model.PoolSnapshot) error
	GetPool(ctx context.Context, runID string) (model.PoolSnapshot, bool, error)
	SaveFitnessHistory(ctx context.Context, runID string, history []float64) error
	GetFitnessHistory(ctx context.Context, runID string) ([]float64, bool, error)
	SaveGenerationDiagnostics(ctx context.Context, runID string, diagnostics []model.GenerationDiagnostics) error
	GetGenerationDiagnostics(ctx context.Context, runID string) ([]model.GenerationDiagnostics, bool, error)
	SaveLineage(ctx context.Context, runID string, lineage []model.LineageRecord) error
	GetLineage(ctx context.Context, runID string) ([]model.LineageRecord, bool, error)
}

// Versioned stamps a record header with the current schema and codec.
func Versioned() model.VersionedRecord {
	return model.VersionedRecord{SchemaVersion: CurrentSchemaVersion, CodecVersion: CurrentCodecVersion}
}
