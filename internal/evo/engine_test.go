package evo

import (
	"context"
	"errors"
	"math/rand/v2"
	"reflect"
	"strings"
	"testing"

	"l2g/internal/dna"
	"l2g/internal/fitness"
	"l2g/internal/protocol"
	"l2g/internal/sim"
)

func squareAt(x, y int) []sim.Particle {
	return []sim.Particle{
		{X: x, Y: y, Shape: 0, Orientation: 0},
		{X: x + 1, Y: y, Shape: 0, Orientation: 1},
		{X: x + 1, Y: y + 1, Shape: 0, Orientation: 2},
		{X: x, Y: y + 1, Shape: 0, Orientation: 3},
	}
}

// squaresSimulator builds a number of isolated squares that depends on both
// the schedule and the run's random stream.
func squaresSimulator() sim.Simulator {
	return sim.SimulatorFunc(func(_ context.Context, params sim.Params, src protocol.Source, rng *rand.Rand) (sim.Run, error) {
		steps := protocol.Collect(src, nil)
		total := 0.0
		for _, step := range steps {
			total += step.InteractionEnergy
		}
		k := (int(total*10) + rng.IntN(3)) % 5
		var particles []sim.Particle
		for i := 0; i < k; i++ {
			particles = append(particles, squareAt(i*3, 0)...)
		}
		return sim.Run{Trajectory: steps, Final: sim.NewSnapshot(params.Width, params.Height, params.Shapes, particles)}, nil
	})
}

func initialGenome(t *testing.T) dna.Dna {
	t.Helper()
	d, err := dna.NewFixedLengthLinear(11, 2, 0.3, protocol.Flat(0, 5, 8))
	if err != nil {
		t.Fatalf("initial genome: %v", err)
	}
	return d
}

func polygonSum(t *testing.T) fitness.Func {
	t.Helper()
	f, err := fitness.New(fitness.Func{Kind: fitness.KindPolygonSum})
	if err != nil {
		t.Fatalf("fitness: %v", err)
	}
	return f
}

func newTestEngine(t *testing.T, mutate func(*Config)) *Engine {
	t.Helper()
	cfg := Config{
		Seed:                   42,
		Params:                 sim.DefaultParams(),
		Initial:                initialGenome(t),
		Fitness:                polygonSum(t),
		Simulator:              squaresSimulator(),
		NumGenerations:         3,
		SurvivorsPerGeneration: 2,
		ChildrenPerSurvivor:    3,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e
}

type capture struct {
	reports []GenerationReport
}

func (c *capture) ObserveGeneration(_ context.Context, report GenerationReport) error {
	c.reports = append(c.reports, report)
	return nil
}

func TestEngineScenarioSingleSurvivor(t *testing.T) {
	obs := &capture{}
	e := newTestEngine(t, func(cfg *Config) {
		cfg.SurvivorsPerGeneration = 1
		cfg.ChildrenPerSurvivor = 3
		cfg.NumGenerations = 2
		cfg.Observers = []Observer{obs}
	})
	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(obs.reports) != 2 {
		t.Fatalf("expected 2 generation reports, got %d", len(obs.reports))
	}
	for i, want := range []uint64{1, 2, 3} {
		if got := obs.reports[0].Outcomes[i].Genome.ID; got != want {
			t.Fatalf("generation 0 candidate %d: got id %d want %d", i, got, want)
		}
	}
	survivor := obs.reports[0].Pool[0].Genome.ID
	want := []LineageEdge{
		{Parent: 0, Child: 1}, {Parent: 0, Child: 2}, {Parent: 0, Child: 3},
		{Parent: survivor, Child: 4, Generation: 1}, {Parent: survivor, Child: 5, Generation: 1}, {Parent: survivor, Child: 6, Generation: 1},
	}
	if !reflect.DeepEqual(res.Lineage, want) {
		t.Fatalf("unexpected lineage:\n got %+v\nwant %+v", res.Lineage, want)
	}
	for i, want := range []uint64{4, 5, 6} {
		if got := obs.reports[1].Outcomes[i].Genome.ID; got != want {
			t.Fatalf("generation 1 candidate %d: got id %d want %d", i, got, want)
		}
	}
	if e.State() != StateFinished {
		t.Fatalf("expected finished state, got %s", e.State())
	}
}

func TestEngineIsReproducibleAcrossWorkerCounts(t *testing.T) {
	run := func(workers int) (Result, []GenerationReport) {
		obs := &capture{}
		e := newTestEngine(t, func(cfg *Config) {
			cfg.Workers = workers
			cfg.NumGenerations = 4
			cfg.Observers = []Observer{obs}
		})
		res, err := e.Run(context.Background())
		if err != nil {
			t.Fatalf("run with %d workers: %v", workers, err)
		}
		return res, obs.reports
	}
	serial, serialReports := run(1)
	parallel, parallelReports := run(8)
	if !reflect.DeepEqual(serial, parallel) {
		t.Fatalf("results differ between worker counts:\n1: %+v\n8: %+v", serial, parallel)
	}
	for g := range serialReports {
		for i := range serialReports[g].Outcomes {
			a, b := serialReports[g].Outcomes[i], parallelReports[g].Outcomes[i]
			if a.Seed != b.Seed || !reflect.DeepEqual(a.Run.Trajectory, b.Run.Trajectory) || a.Score != b.Score {
				t.Fatalf("generation %d candidate %d differs between worker counts", g, i)
			}
		}
	}
}

func TestEngineInvariantsHoldEveryGeneration(t *testing.T) {
	obs := &capture{}
	e := newTestEngine(t, func(cfg *Config) {
		cfg.NumGenerations = 6
		cfg.Observers = []Observer{obs}
	})
	res, err := e.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	floor := 0.0
	seen := map[uint64]bool{0: true}
	last := uint64(0)
	for g, report := range obs.reports {
		if len(report.Outcomes) != 6 {
			t.Fatalf("generation %d has %d candidates", g, len(report.Outcomes))
		}
		if report.Diagnostics.PoolFloor < floor {
			t.Fatalf("pool floor decreased at generation %d: %f -> %f", g, floor, report.Diagnostics.PoolFloor)
		}
		floor = report.Diagnostics.PoolFloor
		if len(report.Pool) != 2 {
			t.Fatalf("pool size changed to %d", len(report.Pool))
		}
		survivors := map[uint64]bool{}
		for _, entry := range report.Pool {
			survivors[entry.Genome.ID] = true
		}
		for _, edge := range report.Lineage {
			switch edge.Generation {
			case 0:
				if edge.Parent != 0 {
					t.Fatalf("initial child %d has parent %d", edge.Child, edge.Parent)
				}
			case g + 1:
				if !survivors[edge.Parent] {
					t.Fatalf("child %d of generation %d spawned from %d, which is not in the pool %v",
						edge.Child, edge.Generation, edge.Parent, survivors)
				}
			default:
				t.Fatalf("report %d carries an edge for generation %d", g, edge.Generation)
			}
		}
	}
	for _, edge := range res.Lineage {
		if edge.Child <= last || seen[edge.Child] {
			t.Fatalf("child id %d is not fresh and increasing", edge.Child)
		}
		if !seen[edge.Parent] {
			t.Fatalf("parent %d of child %d was never created", edge.Parent, edge.Child)
		}
		seen[edge.Child] = true
		last = edge.Child
	}
	if len(res.FitnessHistory) != 6*6 {
		t.Fatalf("expected one fitness per candidate, got %d", len(res.FitnessHistory))
	}
}

func TestEngineExcludesFailedCandidates(t *testing.T) {
	e := newTestEngine(t, nil)
	if err := e.Initialize(); err != nil {
		t.Fatalf("initialize: %v", err)
	}
	e.population[1].Linear = nil

	report, err := e.Step(context.Background())
	if err != nil {
		t.Fatalf("step: %v", err)
	}
	if report.Diagnostics.Failed != 1 {
		t.Fatalf("expected 1 failed candidate, got %d", report.Diagnostics.Failed)
	}
	var jobErr *JobError
	if !errors.As(report.Outcomes[1].Err, &jobErr) || jobErr.Candidate != 1 || jobErr.GenomeID != 2 {
		t.Fatalf("expected a job error for candidate 1, got %v", report.Outcomes[1].Err)
	}
	if !errors.Is(report.Outcomes[1].Err, dna.ErrArchitecture) {
		t.Fatalf("expected the architecture error to be wrapped, got %v", report.Outcomes[1].Err)
	}
	if got := len(e.FitnessHistory()); got != 5 {
		t.Fatalf("expected 5 fitness values, got %d", got)
	}
	for _, entry := range report.Pool {
		if entry.Genome.ID == 2 && entry.Fitness > 0 {
			t.Fatal("failed candidate must not enter the pool")
		}
	}
}

func TestEngineFailsWhenWholeGenerationFails(t *testing.T) {
	calls := 0
	e := newTestEngine(t, func(cfg *Config) {
		cfg.Workers = 1
		cfg.Simulator = sim.SimulatorFunc(func(context.Context, sim.Params, protocol.Source, *rand.Rand) (sim.Run, error) {
			calls++
			if calls%2 == 0 {
				panic("lattice exploded")
			}
			return sim.Run{}, errors.New("out of memory")
		})
	})
	_, err := e.Run(context.Background())
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v", err)
	}
	if !strings.Contains(err.Error(), "generation 0") {
		t.Fatalf("error should name the generation: %v", err)
	}
	if e.State() != StateFailed {
		t.Fatalf("expected failed state, got %s", e.State())
	}
	if _, err := e.Step(context.Background()); err == nil {
		t.Fatal("expected a failed engine to refuse further steps")
	}
}

func TestEngineRecoversSimulatorPanics(t *testing.T) {
	e := newTestEngine(t, func(cfg *Config) {
		cfg.Simulator = sim.SimulatorFunc(func(context.Context, sim.Params, protocol.Source, *rand.Rand) (sim.Run, error) {
			panic("boom")
		})
	})
	report, err := e.Step(context.Background())
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected ErrGenerationFailed, got %v (%+v)", err, report)
	}
}

func TestEngineStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := newTestEngine(t, nil)
	if _, err := e.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestEngineObserverErrorAbortsRun(t *testing.T) {
	e := newTestEngine(t, func(cfg *Config) {
		cfg.Observers = []Observer{ObserverFunc(func(context.Context, GenerationReport) error {
			return errors.New("disk full")
		})}
	})
	if _, err := e.Run(context.Background()); err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected observer error, got %v", err)
	}
}

func TestNewEngineValidation(t *testing.T) {
	base := Config{
		Params:                 sim.DefaultParams(),
		Initial:                initialGenome(t),
		Fitness:                polygonSum(t),
		Simulator:              squaresSimulator(),
		NumGenerations:         1,
		SurvivorsPerGeneration: 1,
		ChildrenPerSurvivor:    1,
	}
	cases := map[string]func(*Config){
		"simulator": func(c *Config) { c.Simulator = nil },
		"survivors": func(c *Config) { c.SurvivorsPerGeneration = 0 },
		"children":  func(c *Config) { c.ChildrenPerSurvivor = 0 },
		"genome":    func(c *Config) { c.Initial = dna.Dna{Kind: "spline"} },
		"fitness":   func(c *Config) { c.Fitness = fitness.Func{} },
		"params":    func(c *Config) { c.Params.Width = 0 },
	}
	for name, mutate := range cases {
		cfg := base
		cfg.Params.Shapes = append([]sim.Shape(nil), base.Params.Shapes...)
		mutate(&cfg)
		if _, err := NewEngine(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
