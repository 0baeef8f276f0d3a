package protocol

import (
	"errors"
	"fmt"
)

// Domain bounds for the two externally driven simulation parameters.
const (
	MinInteractionEnergy = 0.0
	MaxInteractionEnergy = 20.0
	MinChemicalPotential = -20.0
	MaxChemicalPotential = 20.0
)

// Step is one time slice of a control schedule.
type Step struct {
	InteractionEnergy float64 `json:"interaction_energy" yaml:"interaction_energy"`
	ChemicalPotential float64 `json:"chemical_potential" yaml:"chemical_potential"`
}

// NewStep returns a step clamped to the domain bounds.
func NewStep(interactionEnergy, chemicalPotential float64) Step {
	return Step{
		InteractionEnergy: clamp(interactionEnergy, MinInteractionEnergy, MaxInteractionEnergy),
		ChemicalPotential: clamp(chemicalPotential, MinChemicalPotential, MaxChemicalPotential),
	}
}

// Clamped returns s with both parameters forced into the domain bounds.
func (s Step) Clamped() Step {
	return NewStep(s.InteractionEnergy, s.ChemicalPotential)
}

// NaN maps to the lower bound so that a degenerate generator output still
// yields a usable step.
func clamp(value, min, max float64) float64 {
	if value != value {
		return min
	}
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// State is the live simulation snapshot handed to closed-loop sources.
type State interface {
	// PatchBondCounts returns a histogram where index k is the number of
	// particles with exactly k bonded patches.
	PatchBondCounts() []int
}

// Source yields a finite, monotonically advancing sequence of steps. Open-loop
// sources ignore the state argument, which may be nil.
type Source interface {
	// Start returns the step at t=0 without advancing.
	Start() Step
	// Next returns the next step, or false once the schedule is exhausted.
	Next(state State) (Step, bool)
	// Len returns the number of steps remaining.
	Len() int
}

// Collect drains src against a fixed state. It is intended for open-loop
// sources and for previews of closed-loop sources.
func Collect(src Source, state State) []Step {
	out := make([]Step, 0, src.Len())
	for {
		step, ok := src.Next(state)
		if !ok {
			return out
		}
		out = append(out, step)
	}
}

// Synthesis is the baseline target protocol a generator perturbs.
type Synthesis struct {
	InteractionEnergy []float64 `json:"interaction_energy" yaml:"interaction_energy"`
	ChemicalPotential []float64 `json:"chemical_potential" yaml:"chemical_potential"`
}

// Flat returns a constant baseline of n megasteps.
func Flat(chemicalPotential, interactionEnergy float64, n int) Synthesis {
	s := Synthesis{
		InteractionEnergy: make([]float64, n),
		ChemicalPotential: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		s.InteractionEnergy[i] = interactionEnergy
		s.ChemicalPotential[i] = chemicalPotential
	}
	return s
}

// Validate checks that both channels are present and aligned.
func (s Synthesis) Validate() error {
	if len(s.InteractionEnergy) == 0 {
		return errors.New("baseline protocol is empty")
	}
	if len(s.InteractionEnergy) != len(s.ChemicalPotential) {
		return fmt.Errorf("baseline channel length mismatch: interaction_energy=%d chemical_potential=%d",
			len(s.InteractionEnergy), len(s.ChemicalPotential))
	}
	return nil
}

func (s Synthesis) Len() int {
	return len(s.InteractionEnergy)
}

// At returns the unclamped baseline value at index i. Indexes past the end
// hold the final value.
func (s Synthesis) At(i int) (interactionEnergy, chemicalPotential float64) {
	if s.Len() == 0 {
		return 0, 0
	}
	if i < 0 {
		i = 0
	}
	if i >= s.Len() {
		i = s.Len() - 1
	}
	return s.InteractionEnergy[i], s.ChemicalPotential[i]
}

func (s Synthesis) Clone() Synthesis {
	return Synthesis{
		InteractionEnergy: append([]float64(nil), s.InteractionEnergy...),
		ChemicalPotential: append([]float64(nil), s.ChemicalPotential...),
	}
}

// Fraction returns the normalized time of index i in a schedule of n steps.
func Fraction(i, n int) float64 {
	if n <= 0 {
		return 0
	}
	return float64(i) / float64(n)
}
