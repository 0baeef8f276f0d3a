// Package sim is the boundary to the particle simulator: run parameters, the
// Simulator contract the engine drives, and structural analysis of a
// completed run.
package sim

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"l2g/internal/protocol"
)

var (
	ErrInvalidParams   = errors.New("invalid simulation parameters")
	ErrInvalidUnitCell = errors.New("invalid unit cell")
)

// Shape is a particle species. Patches is the number of bonding sites, laid
// out on consecutive lattice directions starting from the particle's
// orientation.
type Shape struct {
	Name    string `json:"name" yaml:"name"`
	Patches int    `json:"patches" yaml:"patches"`
}

// Params configures one simulation run.
type Params struct {
	Width             int     `json:"width" yaml:"width"`
	Height            int     `json:"height" yaml:"height"`
	InitialParticles  int     `json:"initial_particles" yaml:"initial_particles"`
	Shapes            []Shape `json:"shapes" yaml:"shapes"`
	MoveProbability   float64 `json:"move_probability" yaml:"move_probability"`
	RotateProbability float64 `json:"rotate_probability" yaml:"rotate_probability"`
	SweepsPerMegastep int     `json:"sweeps_per_megastep" yaml:"sweeps_per_megastep"`
}

func DefaultParams() Params {
	return Params{
		Width:             24,
		Height:            24,
		InitialParticles:  0,
		Shapes:            []Shape{{Name: "corner", Patches: 2}, {Name: "tee", Patches: 3}},
		MoveProbability:   0.4,
		RotateProbability: 0.3,
		SweepsPerMegastep: 1,
	}
}

// MaxPatches is the lattice coordination number.
const MaxPatches = 4

func (p Params) Validate() error {
	if p.Width < 2 || p.Height < 2 {
		return fmt.Errorf("%w: box must be at least 2x2, got %dx%d", ErrInvalidParams, p.Width, p.Height)
	}
	if p.InitialParticles < 0 || p.InitialParticles > p.Width*p.Height {
		return fmt.Errorf("%w: initial_particles=%d does not fit a %dx%d box",
			ErrInvalidParams, p.InitialParticles, p.Width, p.Height)
	}
	if len(p.Shapes) == 0 {
		return fmt.Errorf("%w: at least one shape is required", ErrInvalidParams)
	}
	for i, shape := range p.Shapes {
		if shape.Patches < 0 || shape.Patches > MaxPatches {
			return fmt.Errorf("%w: shape %d (%s) has %d patches, want 0..%d",
				ErrInvalidParams, i, shape.Name, shape.Patches, MaxPatches)
		}
	}
	if p.MoveProbability < 0 || p.RotateProbability < 0 || p.MoveProbability+p.RotateProbability > 1 {
		return fmt.Errorf("%w: move_probability=%g rotate_probability=%g must be non-negative and sum to at most 1",
			ErrInvalidParams, p.MoveProbability, p.RotateProbability)
	}
	if p.SweepsPerMegastep <= 0 {
		return fmt.Errorf("%w: sweeps_per_megastep must be > 0", ErrInvalidParams)
	}
	return nil
}

// Run is the outcome of one simulation: the control steps actually consumed
// and the final configuration.
type Run struct {
	Trajectory []protocol.Step `json:"trajectory"`
	Final      *Snapshot       `json:"final"`
}

// Simulator runs one fresh simulation seeded by rng, pulling a step from src
// once per megastep. Closed-loop sources are handed the in-progress state.
type Simulator interface {
	Run(ctx context.Context, params Params, src protocol.Source, rng *rand.Rand) (Run, error)
}

// SimulatorFunc adapts a function to the Simulator interface.
type SimulatorFunc func(ctx context.Context, params Params, src protocol.Source, rng *rand.Rand) (Run, error)

func (f SimulatorFunc) Run(ctx context.Context, params Params, src protocol.Source, rng *rand.Rand) (Run, error) {
	return f(ctx, params, src, rng)
}
