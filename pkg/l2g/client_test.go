package l2g

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l2g/internal/config"
	"l2g/internal/dna"
	"l2g/internal/fitness"
	"l2g/internal/model"
	"l2g/internal/stats"
)

func smallConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Seed = 5
	cfg.Workers = 2
	cfg.NumGenerations = 2
	cfg.SurvivorsPerGeneration = 2
	cfg.ChildrenPerSurvivor = 2
	cfg.Strategy = string(dna.KindFixedLengthLinear)
	cfg.NumPhases = 2
	cfg.Baseline.NumMegasteps = 4
	cfg.Sim.Width, cfg.Sim.Height = 8, 8
	cfg.Fitness = fitness.Func{Kind: fitness.KindPolygonSum, RingSize: 4}
	cfg.OutputDir = t.TempDir()
	cfg.PlotCandidates = false
	require.NoError(t, cfg.Validate())
	return cfg
}

func newClient(t *testing.T, reg prometheus.Registerer) *Client {
	t.Helper()
	client, err := New(Options{StoreKind: "memory", Registerer: reg})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRunPersistsAndQueries(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	client := newClient(t, reg)
	cfg := smallConfig(t)

	summary, err := client.Run(ctx, RunRequest{Config: cfg, RunID: "run-1"})
	require.NoError(t, err)
	assert.Equal(t, "run-1", summary.RunID)
	assert.Equal(t, 2, summary.Generations)
	assert.Len(t, summary.BestByGeneration, 2)
	assert.Len(t, summary.Pool, 2)
	assert.Equal(t, filepath.Join(cfg.OutputDir, "run-1"), summary.ArtifactsDir)

	runs, err := client.Runs(ctx, RunsRequest{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFinished, runs[0].Status)
	assert.Equal(t, "fll", runs[0].Strategy)
	assert.Equal(t, "polygon_sum", runs[0].Fitness)
	assert.Equal(t, summary.FinalBestFitness, runs[0].BestFitness)

	history, err := client.FitnessHistory(ctx, RunQuery{Latest: true})
	require.NoError(t, err)
	assert.Len(t, history, 8)

	lineage, err := client.Lineage(ctx, RunQuery{RunID: "run-1"})
	require.NoError(t, err)
	assert.Len(t, lineage, 8)
	for _, edge := range lineage[:4] {
		assert.Equal(t, uint64(0), edge.ParentID)
	}

	pool, err := client.Pool(ctx, RunQuery{Latest: true})
	require.NoError(t, err)
	require.Len(t, pool.Entries, 2)
	assert.GreaterOrEqual(t, pool.Entries[0].Fitness, pool.Entries[1].Fitness)
	assert.Equal(t, 1, pool.Generation)

	diagnostics, err := client.Diagnostics(ctx, RunQuery{Latest: true, Limit: 1})
	require.NoError(t, err)
	require.Len(t, diagnostics, 1)
	assert.Equal(t, 0, diagnostics[0].Generation)

	for _, name := range []string{stats.ConfigFile, stats.FitnessesFile, stats.PoolFile, stats.LineageFile} {
		assert.FileExists(t, filepath.Join(summary.ArtifactsDir, name))
	}
	assert.FileExists(t, filepath.Join(stats.CandidateDir(summary.ArtifactsDir, 1, 3), stats.DNAFile))

	assert.Equal(t, 2.0, testutil.ToFloat64(client.metrics.GenerationsTotal))
}

func TestReplayReproducesStoredCandidate(t *testing.T) {
	ctx := context.Background()
	client := newClient(t, nil)
	cfg := smallConfig(t)
	cfg.OutputDir = ""

	_, err := client.Run(ctx, RunRequest{Config: cfg, RunID: "run-replay"})
	require.NoError(t, err)
	candidates, ok, err := client.store.GetCandidates(ctx, "run-replay", 1)
	require.NoError(t, err)
	require.True(t, ok)
	want := candidates[2]

	out := t.TempDir()
	got, err := client.Replay(ctx, ReplayRequest{
		Config:     cfg,
		RunID:      "run-replay",
		Generation: 1,
		Candidate:  2,
		OutDir:     out,
	})
	require.NoError(t, err)
	assert.Equal(t, want.GenomeID, got.GenomeID)
	assert.Equal(t, want.Seed, got.Seed)
	assert.InDelta(t, want.Fitness, got.Fitness, 1e-12)
	assert.Equal(t, cfg.Baseline.NumMegasteps, got.Steps)
	assert.FileExists(t, filepath.Join(out, stats.StatsFile))

	_, err = client.Replay(ctx, ReplayRequest{Config: cfg, RunID: "run-replay", Generation: 1, Candidate: 99})
	assert.Error(t, err)
}

func TestReplayUsesTheRunConfiguration(t *testing.T) {
	ctx := context.Background()
	client := newClient(t, nil)
	cfg := smallConfig(t)
	cfg.OutputDir = ""

	_, err := client.Run(ctx, RunRequest{Config: cfg, RunID: "run-own-config"})
	require.NoError(t, err)
	candidates, ok, err := client.store.GetCandidates(ctx, "run-own-config", 1)
	require.NoError(t, err)
	require.True(t, ok)
	want := candidates[1]

	other := config.Default()
	require.NotEqual(t, cfg.Sim, other.Sim)
	got, err := client.Replay(ctx, ReplayRequest{
		Config:     other,
		RunID:      "run-own-config",
		Generation: 1,
		Candidate:  1,
	})
	require.NoError(t, err)
	assert.InDelta(t, want.Fitness, got.Fitness, 1e-12)
	assert.InDelta(t, want.Auxiliary, got.Auxiliary, 1e-12)
	assert.Equal(t, cfg.Baseline.NumMegasteps, got.Steps)

	_, err = client.Replay(ctx, ReplayRequest{Config: other, RunID: "missing"})
	assert.EqualError(t, err, "run not found: missing")
}

func TestReplayGenomeFileWithSeed(t *testing.T) {
	ctx := context.Background()
	client := newClient(t, nil)
	cfg := smallConfig(t)
	genome, err := cfg.Genome()
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), stats.DNAFile)
	require.NoError(t, dna.WriteFile(path, genome))

	seed := uint64(77)
	first, err := client.Replay(ctx, ReplayRequest{Config: cfg, GenomePath: path, Seed: &seed})
	require.NoError(t, err)
	second, err := client.Replay(ctx, ReplayRequest{Config: cfg, GenomePath: path, Seed: &seed})
	require.NoError(t, err)
	assert.Equal(t, uint64(77), first.Seed)
	assert.Equal(t, first, second)

	_, err = client.Replay(ctx, ReplayRequest{Config: cfg})
	assert.Error(t, err)
}

func TestQueriesRejectBadSelectors(t *testing.T) {
	ctx := context.Background()
	client := newClient(t, nil)

	_, err := client.Lineage(ctx, RunQuery{RunID: "x", Latest: true})
	assert.EqualError(t, err, "use either run id or latest")
	_, err = client.FitnessHistory(ctx, RunQuery{Latest: true})
	assert.EqualError(t, err, "no runs available")
	_, err = client.Pool(ctx, RunQuery{})
	assert.EqualError(t, err, "pool requires run id or latest")
	_, err = client.Lineage(ctx, RunQuery{RunID: "missing"})
	assert.EqualError(t, err, "lineage not found for run id: missing")
	_, err = client.Diagnostics(ctx, RunQuery{RunID: "x", Limit: -1})
	assert.Error(t, err)
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	client := newClient(t, nil)
	cfg := smallConfig(t)
	cfg.SurvivorsPerGeneration = 0
	_, err := client.Run(context.Background(), RunRequest{Config: cfg})
	assert.ErrorIs(t, err, config.ErrInvalid)
}

func TestCancelledRunIsRecordedAsFailed(t *testing.T) {
	client := newClient(t, nil)
	cfg := smallConfig(t)
	cfg.OutputDir = ""
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.Run(ctx, RunRequest{Config: cfg, RunID: "cancelled"})
	require.Error(t, err)

	runs, err := client.Runs(context.Background(), RunsRequest{})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusFailed, runs[0].Status)
	assert.NotEmpty(t, runs[0].Error)
}

func TestMutationVizWritesOnePlotPerMutation(t *testing.T) {
	client := newClient(t, nil)
	cfg := smallConfig(t)
	out := filepath.Join(t.TempDir(), "viz")

	paths, err := client.MutationViz(context.Background(), MutationVizRequest{Config: cfg, Count: 3, OutDir: out})
	require.NoError(t, err)
	require.Len(t, paths, 3)
	for _, path := range paths {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Positive(t, info.Size())
	}
	assert.FileExists(t, filepath.Join(out, stats.ConfigFile))

	_, err = client.MutationViz(context.Background(), MutationVizRequest{Config: cfg})
	assert.Error(t, err)
}
