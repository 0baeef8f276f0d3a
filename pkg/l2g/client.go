// Package l2g is the public entry point for running and inspecting
// protocol-evolution runs.
package l2g

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"l2g/internal/config"
	"l2g/internal/dna"
	"l2g/internal/evo"
	"l2g/internal/logging"
	"l2g/internal/metrics"
	"l2g/internal/model"
	"l2g/internal/platform"
	"l2g/internal/sim"
	"l2g/internal/sim/lattice"
	"l2g/internal/stats"
	"l2g/internal/storage"
)

type Options struct {
	StoreKind string
	StorePath string
	Logger    logrus.FieldLogger
	// Registerer receives the engine collectors. Nil disables metrics.
	Registerer prometheus.Registerer
	// Simulator defaults to the lattice simulator.
	Simulator sim.Simulator
}

type Client struct {
	store     storage.Store
	log       logrus.FieldLogger
	metrics   *metrics.EngineMetrics
	simulator sim.Simulator
	ready     bool
}

type RunRequest struct {
	Config config.Config
	// RunID is generated when empty.
	RunID string
}

type RunSummary struct {
	RunID            string
	ArtifactsDir     string
	Generations      int
	BestByGeneration []float64
	FinalBestFitness float64
	BestGenomeID     uint64
	Pool             []evo.Entry
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Status       model.RunStatus
	Strategy     string
	Fitness      string
	Seed         uint64
	Generations  int
	BestFitness  float64
	BestGenomeID uint64
	Error        string
}

// RunQuery selects a stored run by id, or the newest run when Latest is set.
type RunQuery struct {
	RunID  string
	Latest bool
	Limit  int
}

type LineageItem struct {
	GenomeID   uint64
	ParentID   uint64
	Generation int
}

// ReplayRequest re-simulates one genome. The genome comes from GenomePath
// when set, otherwise from the stored candidate (RunID, Generation,
// Candidate). Seed defaults to the stored candidate's seed, or Config.Seed
// for a genome file.
type ReplayRequest struct {
	Config     config.Config
	GenomePath string
	RunID      string
	Generation int
	Candidate  int
	Seed       *uint64
	// OutDir receives the candidate artifacts when set.
	OutDir string
}

type ReplaySummary struct {
	GenomeID  uint64
	Seed      uint64
	Fitness   float64
	Auxiliary float64
	Final     sim.Stats
	Steps     int
}

type MutationVizRequest struct {
	Config config.Config
	Count  int
	OutDir string
}

func New(opts Options) (*Client, error) {
	store, err := storage.NewStore(opts.StoreKind, opts.StorePath)
	if err != nil {
		return nil, err
	}
	log := opts.Logger
	if log == nil {
		log = logging.Discard()
	}
	simulator := opts.Simulator
	if simulator == nil {
		simulator = lattice.New()
	}
	c := &Client{store: store, log: log, simulator: simulator}
	if opts.Registerer != nil {
		c.metrics = metrics.New(opts.Registerer)
	}
	return c, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	return c.ensureStore(ctx)
}

func (c *Client) ensureStore(ctx context.Context) error {
	if c.ready {
		return nil
	}
	if err := c.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	c.ready = true
	return nil
}

// Run evolves req.Config to completion. Every generation is persisted as it
// completes and, when Config.OutputDir is set, written under
// <output_dir>/<run id>.
func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	if err := req.Config.Validate(); err != nil {
		return RunSummary{}, err
	}
	if err := c.ensureStore(ctx); err != nil {
		return RunSummary{}, err
	}
	cfg := req.Config
	raw, err := cfg.Marshal()
	if err != nil {
		return RunSummary{}, fmt.Errorf("render config: %w", err)
	}

	recorder, err := platform.NewRecorder(c.store, model.RunRecord{
		ID:                     req.RunID,
		Seed:                   cfg.Seed,
		Strategy:               cfg.Strategy,
		Fitness:                string(cfg.Fitness.Kind),
		NumGenerations:         cfg.NumGenerations,
		SurvivorsPerGeneration: cfg.SurvivorsPerGeneration,
		ChildrenPerSurvivor:    cfg.ChildrenPerSurvivor,
		Config:                 string(raw),
	})
	if err != nil {
		return RunSummary{}, err
	}
	runID := recorder.RunID()
	log := c.log.WithField("run_id", runID)

	engineCfg, err := cfg.EngineConfig(c.simulator, log)
	if err != nil {
		return RunSummary{}, err
	}
	engineCfg.Observers = append(engineCfg.Observers, recorder)
	if c.metrics != nil {
		engineCfg.Observers = append(engineCfg.Observers, c.metrics)
	}
	summary := RunSummary{RunID: runID}
	if cfg.OutputDir != "" {
		summary.ArtifactsDir = filepath.Join(cfg.OutputDir, runID)
		if err := stats.WriteConfig(summary.ArtifactsDir, raw); err != nil {
			return RunSummary{}, fmt.Errorf("write config: %w", err)
		}
		engineCfg.Observers = append(engineCfg.Observers,
			stats.NewWriter(summary.ArtifactsDir, engineCfg.Fitness.RingSize, cfg.PlotCandidates))
	}

	engine, err := evo.NewEngine(engineCfg)
	if err != nil {
		return RunSummary{}, err
	}
	if err := recorder.Start(ctx); err != nil {
		return RunSummary{}, fmt.Errorf("record run start: %w", err)
	}
	log.WithFields(logrus.Fields{
		"strategy":    cfg.Strategy,
		"fitness":     cfg.Fitness.Kind,
		"generations": cfg.NumGenerations,
		"population":  cfg.GenerationSize(),
	}).Info("run started")

	result, runErr := engine.Run(ctx)
	if err := recorder.Finish(context.WithoutCancel(ctx), runErr); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("record run finish: %w", err))
	}
	if runErr != nil {
		log.WithError(runErr).Error("run failed")
		return summary, runErr
	}

	run := recorder.Run()
	summary.Generations = result.Generations
	summary.FinalBestFitness = run.BestFitness
	summary.BestGenomeID = run.BestGenomeID
	summary.Pool = result.Pool
	for _, d := range result.Diagnostics {
		summary.BestByGeneration = append(summary.BestByGeneration, d.BestFitness)
	}
	log.WithFields(logrus.Fields{
		"best_fitness": summary.FinalBestFitness,
		"genome_id":    summary.BestGenomeID,
	}).Info("run finished")
	return summary, nil
}

// Runs lists stored runs, newest first.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]RunItem, 0, min(len(runs), req.Limit))
	for i := len(runs) - 1; i >= 0 && len(out) < req.Limit; i-- {
		r := runs[i]
		out = append(out, RunItem{
			RunID:        r.ID,
			CreatedAtUTC: r.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
			Status:       r.Status,
			Strategy:     r.Strategy,
			Fitness:      r.Fitness,
			Seed:         r.Seed,
			Generations:  r.Generations,
			BestFitness:  r.BestFitness,
			BestGenomeID: r.BestGenomeID,
			Error:        r.Error,
		})
	}
	return out, nil
}

func (c *Client) Lineage(ctx context.Context, req RunQuery) ([]LineageItem, error) {
	runID, err := c.resolveRun(ctx, req, "lineage")
	if err != nil {
		return nil, err
	}
	lineage, ok, err := c.store.GetLineage(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("lineage not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(lineage) > req.Limit {
		lineage = lineage[:req.Limit]
	}
	out := make([]LineageItem, 0, len(lineage))
	for _, rec := range lineage {
		out = append(out, LineageItem{GenomeID: rec.GenomeID, ParentID: rec.ParentID, Generation: rec.Generation})
	}
	return out, nil
}

func (c *Client) FitnessHistory(ctx context.Context, req RunQuery) ([]float64, error) {
	runID, err := c.resolveRun(ctx, req, "fitness history")
	if err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetFitnessHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("fitness history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[:req.Limit]
	}
	return append([]float64(nil), history...), nil
}

func (c *Client) Diagnostics(ctx context.Context, req RunQuery) ([]model.GenerationDiagnostics, error) {
	runID, err := c.resolveRun(ctx, req, "diagnostics")
	if err != nil {
		return nil, err
	}
	diagnostics, ok, err := c.store.GetGenerationDiagnostics(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("diagnostics not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(diagnostics) > req.Limit {
		diagnostics = diagnostics[:req.Limit]
	}
	return diagnostics, nil
}

// Pool returns the survivor pool after the run's latest generation, best
// first. Limit truncates the listing.
func (c *Client) Pool(ctx context.Context, req RunQuery) (model.PoolSnapshot, error) {
	runID, err := c.resolveRun(ctx, req, "pool")
	if err != nil {
		return model.PoolSnapshot{}, err
	}
	pool, ok, err := c.store.GetPool(ctx, runID)
	if err != nil {
		return model.PoolSnapshot{}, err
	}
	if !ok {
		return model.PoolSnapshot{}, fmt.Errorf("pool not found for run id: %s", runID)
	}
	entries := append([]model.PoolEntry(nil), pool.Entries...)
	sortPoolEntries(entries)
	if req.Limit > 0 && len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}
	pool.Entries = entries
	return pool, nil
}

// Replay re-runs one genome and reports its score and final structure. A
// stored candidate is simulated and scored with the configuration its run
// was started with; req.Config only applies to a genome file.
func (c *Client) Replay(ctx context.Context, req ReplayRequest) (ReplaySummary, error) {
	genome, seed, cfg, err := c.replayGenome(ctx, req)
	if err != nil {
		return ReplaySummary{}, err
	}
	if req.Seed != nil {
		seed = *req.Seed
	}
	fit, err := cfg.FitnessFunc()
	if err != nil {
		return ReplaySummary{}, err
	}
	out, err := evo.Replay(ctx, c.simulator, cfg.Sim, fit, genome, seed)
	if err != nil {
		return ReplaySummary{}, err
	}
	summary := ReplaySummary{
		GenomeID:  genome.ID,
		Seed:      seed,
		Fitness:   out.Score.Fitness,
		Auxiliary: out.Score.Aux,
		Steps:     len(out.Run.Trajectory),
	}
	if out.Run.Final != nil {
		summary.Final = out.Run.Final.Summary(fit.RingSize)
	}
	if req.OutDir != "" {
		final := summary.Final
		st := stats.CandidateStats{
			Generation: req.Generation,
			Candidate:  req.Candidate,
			GenomeID:   genome.ID,
			Seed:       seed,
			Fitness:    summary.Fitness,
			Auxiliary:  summary.Auxiliary,
			Final:      &final,
		}
		if err := stats.WriteCandidate(req.OutDir, genome, out.Run.Trajectory, st, true); err != nil {
			return ReplaySummary{}, fmt.Errorf("write replay artifacts: %w", err)
		}
	}
	c.log.WithFields(logrus.Fields{
		"genome_id": genome.ID,
		"seed":      seed,
		"fitness":   summary.Fitness,
	}).Info("replay finished")
	return summary, nil
}

func (c *Client) replayGenome(ctx context.Context, req ReplayRequest) (dna.Dna, uint64, config.Config, error) {
	if req.GenomePath != "" {
		if err := req.Config.Validate(); err != nil {
			return dna.Dna{}, 0, config.Config{}, err
		}
		genome, err := dna.ReadFile(req.GenomePath)
		if err != nil {
			return dna.Dna{}, 0, config.Config{}, err
		}
		return genome, req.Config.Seed, req.Config, nil
	}
	if req.RunID == "" {
		return dna.Dna{}, 0, config.Config{}, errors.New("replay requires a genome file or a run id")
	}
	if err := c.ensureStore(ctx); err != nil {
		return dna.Dna{}, 0, config.Config{}, err
	}
	run, ok, err := c.store.GetRun(ctx, req.RunID)
	if err != nil {
		return dna.Dna{}, 0, config.Config{}, err
	}
	if !ok {
		return dna.Dna{}, 0, config.Config{}, fmt.Errorf("run not found: %s", req.RunID)
	}
	if run.Config == "" {
		return dna.Dna{}, 0, config.Config{}, fmt.Errorf("run %s has no stored configuration", req.RunID)
	}
	cfg, err := config.Parse([]byte(run.Config))
	if err != nil {
		return dna.Dna{}, 0, config.Config{}, fmt.Errorf("run %s: %w", req.RunID, err)
	}
	candidates, ok, err := c.store.GetCandidates(ctx, req.RunID, req.Generation)
	if err != nil {
		return dna.Dna{}, 0, config.Config{}, err
	}
	if !ok {
		return dna.Dna{}, 0, config.Config{}, fmt.Errorf("generation %d not found for run id: %s", req.Generation, req.RunID)
	}
	for _, cand := range candidates {
		if cand.Candidate == req.Candidate {
			return cand.Genome, cand.Seed, cfg, nil
		}
	}
	return dna.Dna{}, 0, config.Config{}, fmt.Errorf("candidate %d not found in generation %d of run %s", req.Candidate, req.Generation, req.RunID)
}

// MutationViz plots Count successive mutations of the configured initial
// genome against the unmutated schedule, one protocols plot per mutation.
func (c *Client) MutationViz(_ context.Context, req MutationVizRequest) ([]string, error) {
	if req.Count <= 0 {
		return nil, errors.New("count must be > 0")
	}
	if req.OutDir == "" {
		return nil, errors.New("output directory is required")
	}
	if err := req.Config.Validate(); err != nil {
		return nil, err
	}
	genome, err := req.Config.Genome()
	if err != nil {
		return nil, err
	}
	initial, err := evo.Preview(genome)
	if err != nil {
		return nil, err
	}
	raw, err := req.Config.Marshal()
	if err != nil {
		return nil, err
	}
	if err := stats.WriteConfig(req.OutDir, raw); err != nil {
		return nil, err
	}
	paths := make([]string, 0, req.Count)
	for i := 1; i <= req.Count; i++ {
		genome.Mutate(uint64(i))
		genome.ID = uint64(i)
		steps, err := evo.Preview(genome)
		if err != nil {
			return nil, err
		}
		path := filepath.Join(req.OutDir, fmt.Sprintf("mutation_%03d.png", i))
		series := []stats.Series{
			{Label: "initial", Steps: initial},
			{Label: fmt.Sprintf("mutation %d", i), Steps: steps},
		}
		if err := stats.PlotProtocols(path, fmt.Sprintf("%s after %d mutations", genome.Kind, i), series); err != nil {
			return nil, fmt.Errorf("plot mutation %d: %w", i, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (c *Client) resolveRun(ctx context.Context, req RunQuery, what string) (string, error) {
	if req.RunID != "" && req.Latest {
		return "", errors.New("use either run id or latest")
	}
	if req.Limit < 0 {
		return "", errors.New("limit must be >= 0")
	}
	if err := c.ensureStore(ctx); err != nil {
		return "", err
	}
	if req.RunID != "" {
		return req.RunID, nil
	}
	if !req.Latest {
		return "", fmt.Errorf("%s requires run id or latest", what)
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return "", errors.New("no runs available")
	}
	return runs[len(runs)-1].ID, nil
}

func sortPoolEntries(entries []model.PoolEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Fitness > entries[j].Fitness
	})
}
