package stats

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"l2g/internal/evo"
)

// Writer records every generation under Dir as an engine observer.
type Writer struct {
	Dir string
	// RingSize bounds the polygon search in stats.yaml.
	RingSize int
	// PlotCandidates enables a protocols.png per candidate.
	PlotCandidates bool

	mu       sync.Mutex
	history  []float64
	lineage  []evo.LineageEdge
	progress []ProgressPoint
	diag     []evo.GenerationDiagnostics
}

func NewWriter(dir string, ringSize int, plotCandidates bool) *Writer {
	return &Writer{Dir: dir, RingSize: ringSize, PlotCandidates: plotCandidates}
}

func (w *Writer) ObserveGeneration(_ context.Context, report evo.GenerationReport) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, o := range report.Outcomes {
		st := CandidateStats{
			Generation: report.Generation,
			Candidate:  o.Candidate,
			GenomeID:   o.Genome.ID,
			Seed:       o.Seed,
		}
		if o.Failed() {
			st.Failed = true
			st.Error = o.Err.Error()
		} else {
			st.Fitness = o.Score.Fitness
			st.Auxiliary = o.Score.Aux
			w.history = append(w.history, o.Score.Fitness)
		}
		if o.Run.Final != nil {
			summary := o.Run.Final.Summary(w.RingSize)
			st.Final = &summary
		}
		dir := CandidateDir(w.Dir, report.Generation, o.Candidate)
		if err := WriteCandidate(dir, o.Genome, o.Run.Trajectory, st, w.PlotCandidates); err != nil {
			return fmt.Errorf("write candidate %s: %w", dir, err)
		}
	}

	w.lineage = append(w.lineage, report.Lineage...)
	d := report.Diagnostics
	w.diag = append(w.diag, d)
	w.progress = append(w.progress, ProgressPoint{
		Generation: d.Generation,
		Best:       d.BestFitness,
		Mean:       d.MeanFitness,
		PoolFloor:  d.PoolFloor,
	})

	if err := writeJSON(filepath.Join(w.Dir, FitnessesFile), w.history); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(w.Dir, LineageFile), w.lineage); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(w.Dir, PoolFile), report.Pool); err != nil {
		return err
	}
	if err := writeJSON(filepath.Join(w.Dir, DiagnosticsFile), w.diag); err != nil {
		return err
	}
	return PlotProgress(filepath.Join(w.Dir, ProgressPlot), w.progress)
}
