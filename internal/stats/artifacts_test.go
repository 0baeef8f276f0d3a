package stats

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"l2g/internal/dna"
	"l2g/internal/evo"
	"l2g/internal/fitness"
	"l2g/internal/protocol"
	"l2g/internal/sim"
)

func squareSnapshot() *sim.Snapshot {
	p := sim.DefaultParams()
	particles := []sim.Particle{
		{X: 1, Y: 1, Shape: 0, Orientation: 0},
		{X: 2, Y: 1, Shape: 0, Orientation: 1},
		{X: 2, Y: 2, Shape: 0, Orientation: 2},
		{X: 1, Y: 2, Shape: 0, Orientation: 3},
	}
	return sim.NewSnapshot(p.Width, p.Height, p.Shapes, particles)
}

func testReport(t *testing.T) evo.GenerationReport {
	t.Helper()
	genome, err := dna.NewTimeNet(2, 3, 0.1, protocol.Flat(-1, 5, 4))
	if err != nil {
		t.Fatalf("genome: %v", err)
	}
	genome.ID = 1
	failed := genome.Clone()
	failed.ID = 2
	steps, err := evo.Preview(genome)
	if err != nil {
		t.Fatalf("preview: %v", err)
	}
	return evo.GenerationReport{
		Generation: 0,
		Outcomes: []evo.Outcome{
			{Candidate: 0, Genome: genome, Seed: 11, Run: sim.Run{Trajectory: steps, Final: squareSnapshot()}, Score: fitness.Score{Fitness: 1, Aux: 1}},
			{Candidate: 1, Genome: failed, Seed: 12, Err: &evo.JobError{Candidate: 1, GenomeID: 2, Err: errors.New("boom")}},
		},
		Pool:        []evo.Entry{{Genome: genome, Fitness: 1}},
		Lineage:     []evo.LineageEdge{{Parent: 0, Child: 1}, {Parent: 0, Child: 2}},
		Diagnostics: evo.GenerationDiagnostics{Generation: 0, Candidates: 2, Failed: 1, BestFitness: 1, MeanFitness: 1, PoolFloor: 1},
	}
}

func TestCandidateDirLayout(t *testing.T) {
	if got := CandidateDir("out", 3, 12); got != filepath.Join("out", "003", "012") {
		t.Fatalf("unexpected candidate dir %s", got)
	}
}

func TestProtocolCSVRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), ProtocolFile)
	steps := []protocol.Step{protocol.NewStep(1.5, -2), protocol.NewStep(20, 20), protocol.NewStep(0, -20)}
	if err := WriteProtocol(path, steps); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadProtocol(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !reflect.DeepEqual(got, steps) {
		t.Fatalf("round trip changed protocol: %+v", got)
	}
}

func TestWriterRecordsGeneration(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir, 8, true)
	report := testReport(t)
	if err := w.ObserveGeneration(context.Background(), report); err != nil {
		t.Fatalf("observe: %v", err)
	}

	first := CandidateDir(dir, 0, 0)
	for _, name := range []string{DNAFile, ProtocolFile, StatsFile, ProtocolsPlot} {
		info, err := os.Stat(filepath.Join(first, name))
		if err != nil || info.Size() == 0 {
			t.Fatalf("expected %s in %s: %v", name, first, err)
		}
	}
	genome, err := dna.ReadFile(filepath.Join(first, DNAFile))
	if err != nil {
		t.Fatalf("read dna: %v", err)
	}
	if !reflect.DeepEqual(genome, report.Outcomes[0].Genome) {
		t.Fatalf("dna.yaml does not reproduce the genome: %+v", genome)
	}
	st, err := ReadCandidateStats(first)
	if err != nil {
		t.Fatalf("read stats: %v", err)
	}
	if st.Seed != 11 || st.Final == nil || st.Final.Particles != 4 || st.Final.Polygons != 1 {
		t.Fatalf("unexpected stats %+v", st)
	}

	failed, err := ReadCandidateStats(CandidateDir(dir, 0, 1))
	if err != nil {
		t.Fatalf("read failed stats: %v", err)
	}
	if !failed.Failed || failed.Error == "" || failed.Final != nil {
		t.Fatalf("unexpected failed stats %+v", failed)
	}
	if _, err := os.Stat(filepath.Join(CandidateDir(dir, 0, 1), ProtocolsPlot)); !os.IsNotExist(err) {
		t.Fatalf("failed candidate should have no plot: %v", err)
	}

	history, err := ReadFitnesses(dir)
	if err != nil {
		t.Fatalf("read fitnesses: %v", err)
	}
	if !reflect.DeepEqual(history, []float64{1}) {
		t.Fatalf("failed candidates must not enter the fitness log: %v", history)
	}
	for _, name := range []string{LineageFile, PoolFile, DiagnosticsFile, ProgressPlot} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Fatalf("expected run-level %s: %v", name, err)
		}
	}
}

func TestWriteConfigAndPlotErrors(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	if err := WriteConfig(dir, []byte("seed: 1\n")); err != nil {
		t.Fatalf("write config: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, ConfigFile))
	if err != nil || string(data) != "seed: 1\n" {
		t.Fatalf("unexpected config %q: %v", data, err)
	}
	if err := PlotProtocols(filepath.Join(dir, "x.png"), "empty", nil); err == nil {
		t.Fatal("expected error for empty protocol plot")
	}
	if err := PlotProgress(filepath.Join(dir, "y.png"), nil); err == nil {
		t.Fatal("expected error for empty progress plot")
	}
}
