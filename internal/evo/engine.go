package evo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"

	"github.com/sirupsen/logrus"

	"l2g/internal/dna"
	"l2g/internal/fitness"
	"l2g/internal/sim"
)

var ErrGenerationFailed = errors.New("every candidate in the generation failed")

// engineStream keys the engine-owned PCG stream that candidate seeds are
// drawn from.
const engineStream uint64 = 0x6c3267

type State int

const (
	StateUninitialized State = iota
	StatePopulationSeeded
	StateRunning
	StateFinished
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StatePopulationSeeded:
		return "population_seeded"
	case StateRunning:
		return "running"
	case StateFinished:
		return "finished"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Config struct {
	Seed                   uint64
	Params                 sim.Params
	Initial                dna.Dna
	Fitness                fitness.Func
	Simulator              sim.Simulator
	NumGenerations         int
	SurvivorsPerGeneration int
	ChildrenPerSurvivor    int
	// Workers bounds the goroutines per generation; <= 0 means one per
	// candidate.
	Workers   int
	Logger    logrus.FieldLogger
	Observers []Observer
}

// GenerationReport is handed to observers after a generation has been pruned
// and, unless it was the last, the next population spawned. Lineage holds the
// edges created since the previous report, so the first report also carries
// the initial population's edges.
type GenerationReport struct {
	Generation  int
	Outcomes    []Outcome
	Pool        []Entry
	Lineage     []LineageEdge
	Diagnostics GenerationDiagnostics
}

// Observer receives every completed generation. A returned error aborts the
// run.
type Observer interface {
	ObserveGeneration(ctx context.Context, report GenerationReport) error
}

type ObserverFunc func(ctx context.Context, report GenerationReport) error

func (f ObserverFunc) ObserveGeneration(ctx context.Context, report GenerationReport) error {
	return f(ctx, report)
}

type Result struct {
	Pool           []Entry                 `json:"pool"`
	Lineage        []LineageEdge           `json:"lineage"`
	FitnessHistory []float64               `json:"fitness_history"`
	Diagnostics    []GenerationDiagnostics `json:"diagnostics"`
	Generations    int                     `json:"generations"`
}

// Engine runs the evolutionary loop. It is not safe for concurrent use; all
// engine state is mutated by the calling goroutine between generations.
type Engine struct {
	cfg    Config
	rng    *rand.Rand
	log    logrus.FieldLogger
	runner *GenerationRunner

	state          State
	generation     int
	population     []dna.Dna
	pool           *Pool
	repro          *reproducer
	reported       int
	fitnessHistory []float64
	diagnostics    []GenerationDiagnostics
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Simulator == nil {
		return nil, fmt.Errorf("simulator is required")
	}
	if cfg.NumGenerations < 0 {
		return nil, fmt.Errorf("num generations must be >= 0")
	}
	if cfg.SurvivorsPerGeneration <= 0 {
		return nil, fmt.Errorf("survivors per generation must be > 0")
	}
	if cfg.ChildrenPerSurvivor <= 0 {
		return nil, fmt.Errorf("children per survivor must be > 0")
	}
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Initial.Validate(); err != nil {
		return nil, fmt.Errorf("initial genome: %w", err)
	}
	if cfg.Fitness.Kind == "" {
		return nil, fmt.Errorf("fitness function is required")
	}
	log := cfg.Logger
	if log == nil {
		silent := logrus.New()
		silent.SetOutput(io.Discard)
		log = silent
	}
	return &Engine{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(cfg.Seed, engineStream)),
		log: log,
		runner: &GenerationRunner{
			Simulator: cfg.Simulator,
			Params:    cfg.Params,
			Fitness:   cfg.Fitness,
			Workers:   cfg.Workers,
		},
		state: StateUninitialized,
	}, nil
}

func (e *Engine) GenerationSize() int {
	return e.cfg.SurvivorsPerGeneration * e.cfg.ChildrenPerSurvivor
}

// Initialize spawns generation 0 from a singleton pool holding the initial
// genome and seeds the survivor pool with fitness-0 placeholders.
func (e *Engine) Initialize() error {
	if e.state != StateUninitialized {
		return fmt.Errorf("engine already initialized (state %s)", e.state)
	}
	initial := e.cfg.Initial.Clone()
	e.repro = newReproducer(initial.ID)
	e.population = e.repro.spawn([]dna.Dna{initial}, e.GenerationSize(), 0)
	e.pool = NewPool(e.population, e.cfg.SurvivorsPerGeneration)
	e.state = StatePopulationSeeded
	e.log.WithFields(logrus.Fields{
		"initial_genome":  initial.String(),
		"generation_size": len(e.population),
	}).Info("population seeded")
	return nil
}

// Step runs the current generation, prunes, and spawns the next population.
func (e *Engine) Step(ctx context.Context) (GenerationReport, error) {
	switch e.state {
	case StateUninitialized:
		if err := e.Initialize(); err != nil {
			return GenerationReport{}, err
		}
	case StateFinished:
		return GenerationReport{}, fmt.Errorf("engine finished after %d generations", e.generation)
	case StateFailed:
		return GenerationReport{}, fmt.Errorf("engine failed at generation %d", e.generation)
	}
	if e.generation >= e.cfg.NumGenerations {
		e.state = StateFinished
		return GenerationReport{}, fmt.Errorf("engine finished after %d generations", e.generation)
	}
	if len(e.population) != e.GenerationSize() {
		panic(fmt.Sprintf("evo: generation %d has %d candidates, want %d", e.generation, len(e.population), e.GenerationSize()))
	}
	if err := ctx.Err(); err != nil {
		return GenerationReport{}, err
	}

	e.state = StateRunning
	gen := e.generation
	log := e.log.WithField("generation", gen)
	log.WithField("candidates", len(e.population)).Info("generation started")

	outcomes := e.runner.Run(ctx, gen, e.population, e.rng)
	if err := ctx.Err(); err != nil {
		e.state = StateFailed
		return GenerationReport{}, fmt.Errorf("generation %d: %w", gen, err)
	}

	candidates := make([]dna.Dna, 0, len(outcomes))
	fitnesses := make([]float64, 0, len(outcomes))
	aux := make([]float64, 0, len(outcomes))
	for _, o := range outcomes {
		if o.Failed() {
			log.WithFields(logrus.Fields{
				"candidate": o.Candidate,
				"genome_id": o.Genome.ID,
				"seed":      o.Seed,
			}).WithError(o.Err).Warn("candidate failed")
			continue
		}
		candidates = append(candidates, o.Genome)
		fitnesses = append(fitnesses, o.Score.Fitness)
		aux = append(aux, o.Score.Aux)
	}
	if len(candidates) == 0 {
		e.state = StateFailed
		return GenerationReport{}, fmt.Errorf("generation %d: %w: %v", gen, ErrGenerationFailed, outcomes[0].Err)
	}
	e.fitnessHistory = append(e.fitnessHistory, fitnesses...)

	replaced := e.pool.Prune(candidates, fitnesses, aux)
	log.WithFields(logrus.Fields{
		"replaced":   replaced,
		"pool_floor": e.pool.Floor(),
	}).Debug("pool pruned")

	diag := summarizeGeneration(gen, outcomes, e.pool, replaced)
	e.diagnostics = append(e.diagnostics, diag)

	e.generation++
	e.population = nil
	if e.generation < e.cfg.NumGenerations {
		e.population = e.repro.spawn(e.pool.Genomes(), e.cfg.ChildrenPerSurvivor, e.generation)
	}
	report := GenerationReport{
		Generation:  gen,
		Outcomes:    outcomes,
		Pool:        e.pool.Entries(),
		Lineage:     append([]LineageEdge(nil), e.repro.lineage[e.reported:]...),
		Diagnostics: diag,
	}
	e.reported = len(e.repro.lineage)

	for _, observer := range e.cfg.Observers {
		if err := observer.ObserveGeneration(ctx, report); err != nil {
			e.state = StateFailed
			return report, fmt.Errorf("generation %d observer: %w", gen, err)
		}
	}

	log.WithFields(logrus.Fields{
		"best":   diag.BestFitness,
		"mean":   diag.MeanFitness,
		"failed": diag.Failed,
		"floor":  diag.PoolFloor,
	}).Info("generation finished")

	if e.generation >= e.cfg.NumGenerations {
		e.state = StateFinished
	} else {
		e.state = StatePopulationSeeded
	}
	return report, nil
}

// Run drives the engine through every remaining generation.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	if e.state == StateUninitialized {
		if err := e.Initialize(); err != nil {
			return Result{}, err
		}
	}
	if e.cfg.NumGenerations == 0 {
		e.state = StateFinished
	}
	for e.state != StateFinished {
		if _, err := e.Step(ctx); err != nil {
			return e.Result(), err
		}
	}
	return e.Result(), nil
}

func (e *Engine) Result() Result {
	out := Result{
		FitnessHistory: e.FitnessHistory(),
		Diagnostics:    append([]GenerationDiagnostics(nil), e.diagnostics...),
		Generations:    e.generation,
	}
	if e.pool != nil {
		out.Pool = e.pool.Entries()
	}
	if e.repro != nil {
		out.Lineage = e.repro.edges()
	}
	return out
}

func (e *Engine) State() State {
	return e.state
}

// Generation is the index of the next generation to run.
func (e *Engine) Generation() int {
	return e.generation
}

func (e *Engine) Population() []dna.Dna {
	out := make([]dna.Dna, len(e.population))
	for i, g := range e.population {
		out[i] = g.Clone()
	}
	return out
}

func (e *Engine) Pool() []Entry {
	if e.pool == nil {
		return nil
	}
	return e.pool.Entries()
}

func (e *Engine) Lineage() []LineageEdge {
	if e.repro == nil {
		return nil
	}
	return e.repro.edges()
}

func (e *Engine) FitnessHistory() []float64 {
	return append([]float64(nil), e.fitnessHistory...)
}

func (e *Engine) Diagnostics() []GenerationDiagnostics {
	return append([]GenerationDiagnostics(nil), e.diagnostics...)
}
