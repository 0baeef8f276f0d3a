package dna

import (
	"fmt"
	"math/rand/v2"

	"l2g/internal/nn"
	"l2g/internal/protocol"
)

// ProtocolSource builds a fresh control schedule for d. Each call returns an
// independent source positioned at t=0.
func (d Dna) ProtocolSource() (protocol.Source, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	switch d.Kind {
	case KindTimeNet:
		return newTimeNetSource(d.TimeNet, d.Baseline), nil
	case KindFixedLengthLinear, KindFixedLengthLinearTempOnly:
		steps, err := linearSteps(d.Kind, d.Linear, d.Baseline)
		if err != nil {
			return nil, fmt.Errorf("dna %d: %w", d.ID, err)
		}
		return protocol.NewFixed(steps), nil
	case KindMicroState:
		return microStateSource(d.MicroState, d.Baseline), nil
	}
	return nil, fmt.Errorf("dna %d: %w: %q", d.ID, ErrUnknownKind, d.Kind)
}

// Replay rebuilds the network from the seed and applies each recorded round.
func (c *TimeNetConfig) Replay() *nn.TimeNet {
	net := nn.NewTimeNet(c.Seed, c.NumLayers, c.MutationFactor)
	for _, round := range c.Rounds {
		net.Mutate(rand.New(rand.NewPCG(c.Seed, round)))
	}
	return net
}

// timeNetSource adds the network output to running accumulators, so a
// persistent positive output ramps the parameter over the schedule.
type timeNetSource struct {
	net      *nn.TimeNet
	baseline protocol.Synthesis
	n        int
	next     int
	epAccum  float64
	muAccum  float64
}

func newTimeNetSource(cfg *TimeNetConfig, baseline protocol.Synthesis) *timeNetSource {
	return &timeNetSource{
		net:      cfg.Replay(),
		baseline: baseline,
		n:        baseline.Len(),
	}
}

func (s *timeNetSource) Start() protocol.Step {
	epsilon, mu := s.net.Eval(0)
	ie, cp := s.baseline.At(0)
	return protocol.NewStep(ie+epsilon+s.epAccum, cp+mu+s.muAccum)
}

func (s *timeNetSource) Next(_ protocol.State) (protocol.Step, bool) {
	if s.next >= s.n {
		return protocol.Step{}, false
	}
	epsilon, mu := s.net.Eval(protocol.Fraction(s.next, s.n))
	s.epAccum += epsilon
	s.muAccum += mu
	ie, cp := s.baseline.At(s.next)
	s.next++
	return protocol.NewStep(ie+s.epAccum, cp+s.muAccum), true
}

func (s *timeNetSource) Len() int {
	return s.n - s.next
}

// linearSteps evaluates the network once on the phase start times and turns
// the outputs into per-phase slopes. Each phase spans baseline.Len()/P steps
// and the values ramp linearly from the baseline's initial point.
func linearSteps(kind Kind, cfg *LinearConfig, baseline protocol.Synthesis) ([]protocol.Step, error) {
	phases := cfg.NumPhases
	times := make([]float64, phases)
	for p := range times {
		times[p] = protocol.Fraction(p, phases)
	}
	slopes, err := cfg.Net.Forward(times)
	if err != nil {
		return nil, err
	}
	epsilonSlopes := slopes[:phases]
	var muSlopes []float64
	if kind == KindFixedLengthLinear {
		muSlopes = slopes[phases:]
	}

	phaseLen := baseline.Len() / phases
	epsilon, mu := baseline.At(0)
	steps := make([]protocol.Step, 0, baseline.Len())
	for p := 0; p < phases; p++ {
		epsilonDelta := epsilonSlopes[p] / float64(phaseLen)
		muDelta := 0.0
		if muSlopes != nil {
			muDelta = muSlopes[p] / float64(phaseLen)
		}
		for i := 0; i < phaseLen; i++ {
			steps = append(steps, protocol.Step{InteractionEnergy: epsilon, ChemicalPotential: mu})
			epsilon += epsilonDelta
			mu += muDelta
		}
	}
	return steps, nil
}

// MicroStateScale converts raw patch-bond counts into network inputs.
const MicroStateScale = 1000.0

func microStateSource(cfg *MicroStateConfig, baseline protocol.Synthesis) *protocol.Adaptive {
	net := cfg.Net.Clone()
	bins := cfg.PatchBins
	return protocol.NewAdaptive(baseline.Len(), func(i, n int, state protocol.State) protocol.Step {
		inputs := make([]float64, bins+1)
		if state != nil {
			counts := state.PatchBondCounts()
			for k := 0; k < bins && k < len(counts); k++ {
				inputs[k] = float64(counts[k]) / MicroStateScale
			}
		}
		inputs[bins] = protocol.Fraction(i, n)
		ie, cp := baseline.At(i)
		outputs, err := net.Forward(inputs)
		if err != nil {
			return protocol.NewStep(ie, cp)
		}
		return protocol.NewStep(ie+outputs[0], cp+outputs[1])
	})
}
