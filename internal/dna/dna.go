// Package dna defines the candidate control-signal generators evolved by the
// engine. A Dna is a tagged union: Kind selects which of the variant configs
// is populated, and every variant can rebuild its control schedule from that
// config alone.
package dna

import (
	"errors"
	"fmt"
	"math/rand/v2"

	"l2g/internal/nn"
	"l2g/internal/protocol"
)

var (
	ErrUnknownKind  = errors.New("unknown dna kind")
	ErrArchitecture = errors.New("incompatible generator architecture")
)

type Kind string

const (
	KindTimeNet                   Kind = "timenet"
	KindFixedLengthLinear         Kind = "fll"
	KindFixedLengthLinearTempOnly Kind = "fll_temp_only"
	KindMicroState                Kind = "microstate"
)

func Kinds() []Kind {
	return []Kind{KindTimeNet, KindFixedLengthLinear, KindFixedLengthLinearTempOnly, KindMicroState}
}

func ParseKind(name string) (Kind, error) {
	for _, kind := range Kinds() {
		if string(kind) == name {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownKind, name)
}

// TimeNetConfig is a seed-replay generator: the network is rebuilt from Seed
// and then perturbed once per entry in Rounds, each round drawing from a
// stream keyed by (Seed, round).
type TimeNetConfig struct {
	Seed           uint64   `json:"seed" yaml:"seed"`
	NumLayers      int      `json:"num_layers" yaml:"num_layers"`
	MutationFactor float64  `json:"mutation_factor" yaml:"mutation_factor"`
	Rounds         []uint64 `json:"rounds,omitempty" yaml:"rounds,flow,omitempty"`
}

// LinearConfig backs both fixed-length-linear variants. The network maps the
// phase start times to one slope per phase and driven channel.
type LinearConfig struct {
	Seed           uint64     `json:"seed" yaml:"seed"`
	NumPhases      int        `json:"num_phases" yaml:"num_phases"`
	MutationFactor float64    `json:"mutation_factor" yaml:"mutation_factor"`
	Net            nn.Network `json:"net" yaml:"net"`
}

// MicroStateConfig is the closed-loop variant. Inputs are the live patch-bond
// histogram (PatchBins entries, scaled by 1/1000) plus normalized time.
type MicroStateConfig struct {
	Seed           uint64     `json:"seed" yaml:"seed"`
	PatchBins      int        `json:"patch_bins" yaml:"patch_bins"`
	MutationFactor float64    `json:"mutation_factor" yaml:"mutation_factor"`
	Net            nn.Network `json:"net" yaml:"net"`
}

type Dna struct {
	ID         uint64             `json:"id" yaml:"id"`
	Kind       Kind               `json:"kind" yaml:"kind"`
	Baseline   protocol.Synthesis `json:"baseline" yaml:"baseline"`
	TimeNet    *TimeNetConfig     `json:"timenet,omitempty" yaml:"timenet,omitempty"`
	Linear     *LinearConfig      `json:"linear,omitempty" yaml:"linear,omitempty"`
	MicroState *MicroStateConfig  `json:"microstate,omitempty" yaml:"microstate,omitempty"`
}

func NewTimeNet(seed uint64, numLayers int, mutationFactor float64, baseline protocol.Synthesis) (Dna, error) {
	d := Dna{
		Kind:     KindTimeNet,
		Baseline: baseline.Clone(),
		TimeNet: &TimeNetConfig{
			Seed:           seed,
			NumLayers:      numLayers,
			MutationFactor: mutationFactor,
		},
	}
	return d, d.Validate()
}

// NewFixedLengthLinear drives both channels. NewFixedLengthLinearTempOnly
// drives interaction energy only and holds chemical potential at the
// baseline's initial value.
func NewFixedLengthLinear(seed uint64, numPhases int, mutationFactor float64, baseline protocol.Synthesis) (Dna, error) {
	return newLinear(KindFixedLengthLinear, seed, numPhases, mutationFactor, baseline)
}

func NewFixedLengthLinearTempOnly(seed uint64, numPhases int, mutationFactor float64, baseline protocol.Synthesis) (Dna, error) {
	return newLinear(KindFixedLengthLinearTempOnly, seed, numPhases, mutationFactor, baseline)
}

func newLinear(kind Kind, seed uint64, numPhases int, mutationFactor float64, baseline protocol.Synthesis) (Dna, error) {
	if numPhases <= 0 {
		return Dna{}, fmt.Errorf("%w: num_phases must be > 0", ErrArchitecture)
	}
	net, err := nn.NewNetwork(linearSizes(kind, numPhases), "sigmoid", "identity", rand.New(rand.NewPCG(seed, 0)))
	if err != nil {
		return Dna{}, fmt.Errorf("%w: %v", ErrArchitecture, err)
	}
	d := Dna{
		Kind:     kind,
		Baseline: baseline.Clone(),
		Linear: &LinearConfig{
			Seed:           seed,
			NumPhases:      numPhases,
			MutationFactor: mutationFactor,
			Net:            net,
		},
	}
	return d, d.Validate()
}

func linearSizes(kind Kind, numPhases int) []int {
	outputs := 2 * numPhases
	if kind == KindFixedLengthLinearTempOnly {
		outputs = numPhases
	}
	return []int{numPhases, numPhases, outputs}
}

func NewMicroState(seed uint64, patchBins, hiddenSize int, mutationFactor float64, baseline protocol.Synthesis) (Dna, error) {
	if patchBins <= 0 || hiddenSize <= 0 {
		return Dna{}, fmt.Errorf("%w: patch_bins and hidden_size must be > 0", ErrArchitecture)
	}
	net, err := nn.NewNetwork([]int{patchBins + 1, hiddenSize, 2}, "sigmoid", "identity", rand.New(rand.NewPCG(seed, 0)))
	if err != nil {
		return Dna{}, fmt.Errorf("%w: %v", ErrArchitecture, err)
	}
	d := Dna{
		Kind:     KindMicroState,
		Baseline: baseline.Clone(),
		MicroState: &MicroStateConfig{
			Seed:           seed,
			PatchBins:      patchBins,
			MutationFactor: mutationFactor,
			Net:            net,
		},
	}
	return d, d.Validate()
}

// Validate reports configuration errors: a kind whose config is missing, or
// network dimensions that do not match the variant's architecture.
func (d Dna) Validate() error {
	if err := d.Baseline.Validate(); err != nil {
		return fmt.Errorf("dna %d: %w", d.ID, err)
	}
	switch d.Kind {
	case KindTimeNet:
		if d.TimeNet == nil {
			return fmt.Errorf("dna %d: %w: timenet config is missing", d.ID, ErrArchitecture)
		}
		if d.TimeNet.NumLayers <= 0 {
			return fmt.Errorf("dna %d: %w: num_layers must be > 0", d.ID, ErrArchitecture)
		}
	case KindFixedLengthLinear, KindFixedLengthLinearTempOnly:
		cfg := d.Linear
		if cfg == nil {
			return fmt.Errorf("dna %d: %w: linear config is missing", d.ID, ErrArchitecture)
		}
		if cfg.NumPhases <= 0 {
			return fmt.Errorf("dna %d: %w: num_phases must be > 0", d.ID, ErrArchitecture)
		}
		if d.Baseline.Len()%cfg.NumPhases != 0 {
			return fmt.Errorf("dna %d: %w: baseline length %d is not divisible by %d phases",
				d.ID, ErrArchitecture, d.Baseline.Len(), cfg.NumPhases)
		}
		if err := checkSizes(cfg.Net, linearSizes(d.Kind, cfg.NumPhases)); err != nil {
			return fmt.Errorf("dna %d: %w", d.ID, err)
		}
	case KindMicroState:
		cfg := d.MicroState
		if cfg == nil {
			return fmt.Errorf("dna %d: %w: microstate config is missing", d.ID, ErrArchitecture)
		}
		if cfg.Net.Inputs() != cfg.PatchBins+1 || cfg.Net.Outputs() != 2 {
			return fmt.Errorf("dna %d: %w: microstate net must map %d inputs to 2 outputs, got sizes %v",
				d.ID, ErrArchitecture, cfg.PatchBins+1, cfg.Net.Sizes)
		}
		if err := cfg.Net.Validate(); err != nil {
			return fmt.Errorf("dna %d: %w: %v", d.ID, ErrArchitecture, err)
		}
	default:
		return fmt.Errorf("dna %d: %w: %q", d.ID, ErrUnknownKind, d.Kind)
	}
	return nil
}

func checkSizes(net nn.Network, want []int) error {
	if len(net.Sizes) != len(want) {
		return fmt.Errorf("%w: sizes %v, want %v", ErrArchitecture, net.Sizes, want)
	}
	for i := range want {
		if net.Sizes[i] != want[i] {
			return fmt.Errorf("%w: sizes %v, want %v", ErrArchitecture, net.Sizes, want)
		}
	}
	if err := net.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrArchitecture, err)
	}
	return nil
}

// Clone returns a deep copy; mutating the clone never touches d.
func (d Dna) Clone() Dna {
	out := Dna{
		ID:       d.ID,
		Kind:     d.Kind,
		Baseline: d.Baseline.Clone(),
	}
	if d.TimeNet != nil {
		cfg := *d.TimeNet
		cfg.Rounds = append([]uint64(nil), d.TimeNet.Rounds...)
		out.TimeNet = &cfg
	}
	if d.Linear != nil {
		cfg := *d.Linear
		cfg.Net = d.Linear.Net.Clone()
		out.Linear = &cfg
	}
	if d.MicroState != nil {
		cfg := *d.MicroState
		cfg.Net = d.MicroState.Net.Clone()
		out.MicroState = &cfg
	}
	return out
}

// Mutate perturbs d into the genome identified by newID. Seed-replay variants
// record one more perturbation round; direct-weight variants add uniform noise
// in [-mutation_factor, mutation_factor] to every weight and clamp to [-1, 1].
// The noise stream is keyed by (seed, newID), so the result depends only on
// the parent config and the new id.
func (d *Dna) Mutate(newID uint64) {
	switch d.Kind {
	case KindTimeNet:
		rounds := make([]uint64, len(d.TimeNet.Rounds), len(d.TimeNet.Rounds)+1)
		copy(rounds, d.TimeNet.Rounds)
		d.TimeNet.Rounds = append(rounds, newID)
	case KindFixedLengthLinear, KindFixedLengthLinearTempOnly:
		d.Linear.Net = perturbed(d.Linear.Net, d.Linear.Seed, newID, d.Linear.MutationFactor)
	case KindMicroState:
		d.MicroState.Net = perturbed(d.MicroState.Net, d.MicroState.Seed, newID, d.MicroState.MutationFactor)
	}
	d.ID = newID
}

func perturbed(net nn.Network, seed, newID uint64, magnitude float64) nn.Network {
	out := net.Clone()
	nn.PerturbWeights(rand.New(rand.NewPCG(seed, newID)), out.Weights, magnitude)
	return out
}

// MutationCount is the number of perturbation rounds applied since the
// initial genome, for variants that track it.
func (d Dna) MutationCount() int {
	if d.TimeNet != nil {
		return len(d.TimeNet.Rounds)
	}
	return 0
}

func (d Dna) String() string {
	return fmt.Sprintf("%s#%d", d.Kind, d.ID)
}
