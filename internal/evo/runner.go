package evo

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/sourcegraph/conc/pool"

	"l2g/internal/dna"
	"l2g/internal/fitness"
	"l2g/internal/protocol"
	"l2g/internal/sim"
)

// Per-candidate streams derived from a job seed.
const (
	simStream     uint64 = 1
	fitnessStream uint64 = 2
)

// JobError identifies the candidate whose simulation failed.
type JobError struct {
	Generation int
	Candidate  int
	GenomeID   uint64
	Err        error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("generation %d candidate %d (genome %d): %v", e.Generation, e.Candidate, e.GenomeID, e.Err)
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Outcome is the result of one candidate's job. Err is non-nil when the
// candidate failed; such candidates carry no score.
type Outcome struct {
	Candidate int
	Genome    dna.Dna
	Seed      uint64
	Run       sim.Run
	Score     fitness.Score
	Err       error
}

func (o Outcome) Failed() bool {
	return o.Err != nil
}

// GenerationRunner executes one generation as a bounded parallel fan-out.
// Seeds are drawn up front in population order and results are returned in
// population order, so the outcome does not depend on the worker count.
type GenerationRunner struct {
	Simulator sim.Simulator
	Params    sim.Params
	Fitness   fitness.Func
	Workers   int
}

// Seeds draws one seed per candidate from rng, sequentially.
func Seeds(rng *rand.Rand, n int) []uint64 {
	seeds := make([]uint64, n)
	for i := range seeds {
		seeds[i] = rng.Uint64()
	}
	return seeds
}

func (r *GenerationRunner) Run(ctx context.Context, generation int, population []dna.Dna, rng *rand.Rand) []Outcome {
	seeds := Seeds(rng, len(population))
	outcomes := make([]Outcome, len(population))

	workers := r.Workers
	if workers <= 0 || workers > len(population) {
		workers = len(population)
	}
	p := pool.New().WithMaxGoroutines(max(workers, 1))
	for i := range population {
		genome := population[i].Clone()
		seed := seeds[i]
		idx := i
		p.Go(func() {
			outcomes[idx] = r.runOne(ctx, generation, idx, genome, seed)
		})
	}
	p.Wait()
	return outcomes
}

func (r *GenerationRunner) runOne(ctx context.Context, generation, idx int, genome dna.Dna, seed uint64) (out Outcome) {
	out = Outcome{Candidate: idx, Genome: genome, Seed: seed}
	fail := func(err error) Outcome {
		out.Err = &JobError{Generation: generation, Candidate: idx, GenomeID: genome.ID, Err: err}
		return out
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			out = fail(fmt.Errorf("simulation panicked: %v", recovered))
		}
	}()

	if err := ctx.Err(); err != nil {
		return fail(err)
	}
	src, err := genome.ProtocolSource()
	if err != nil {
		return fail(err)
	}
	run, err := r.Simulator.Run(ctx, r.Params, src, rand.New(rand.NewPCG(seed, simStream)))
	if err != nil {
		return fail(err)
	}
	if run.Final == nil {
		return fail(errors.New("simulator returned no final state"))
	}
	out.Run = run
	out.Score = r.Fitness.Eval(run, rand.New(rand.NewPCG(seed, fitnessStream)))
	return out
}

// Replay runs a single genome under seed outside of any engine, using the
// same per-candidate streams as a generation job.
func Replay(ctx context.Context, simulator sim.Simulator, params sim.Params, fit fitness.Func, genome dna.Dna, seed uint64) (Outcome, error) {
	r := &GenerationRunner{Simulator: simulator, Params: params, Fitness: fit, Workers: 1}
	out := r.runOne(ctx, 0, 0, genome.Clone(), seed)
	return out, out.Err
}

// Preview collects a genome's open-loop schedule without simulating. Closed
// loop genomes see no state.
func Preview(genome dna.Dna) ([]protocol.Step, error) {
	src, err := genome.ProtocolSource()
	if err != nil {
		return nil, err
	}
	return protocol.Collect(src, nil), nil
}
