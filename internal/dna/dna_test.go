package dna

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"l2g/internal/protocol"
)

type fakeState []int

func (s fakeState) PatchBondCounts() []int { return s }

func baseline(n int) protocol.Synthesis {
	return protocol.Flat(-2.5, 10.0, n)
}

func allKinds(t *testing.T) []Dna {
	t.Helper()
	timenet, err := NewTimeNet(7, 16, 0.05, baseline(20))
	require.NoError(t, err)
	fll, err := NewFixedLengthLinear(7, 4, 0.05, baseline(20))
	require.NoError(t, err)
	tempOnly, err := NewFixedLengthLinearTempOnly(7, 4, 0.05, baseline(20))
	require.NoError(t, err)
	micro, err := NewMicroState(7, 4, 8, 0.05, baseline(20))
	require.NoError(t, err)
	return []Dna{timenet, fll, tempOnly, micro}
}

func schedule(t *testing.T, d Dna, state protocol.State) []protocol.Step {
	t.Helper()
	src, err := d.ProtocolSource()
	require.NoError(t, err)
	return protocol.Collect(src, state)
}

func TestProtocolSourceIsDeterministicAndBounded(t *testing.T) {
	for _, d := range allKinds(t) {
		t.Run(string(d.Kind), func(t *testing.T) {
			first := schedule(t, d, fakeState{1, 2, 3, 4})
			second := schedule(t, d.Clone(), fakeState{1, 2, 3, 4})
			require.Len(t, first, 20)
			assert.Equal(t, first, second)
			for _, step := range first {
				assert.GreaterOrEqual(t, step.InteractionEnergy, protocol.MinInteractionEnergy)
				assert.LessOrEqual(t, step.InteractionEnergy, protocol.MaxInteractionEnergy)
				assert.GreaterOrEqual(t, step.ChemicalPotential, protocol.MinChemicalPotential)
				assert.LessOrEqual(t, step.ChemicalPotential, protocol.MaxChemicalPotential)
			}
		})
	}
}

func TestMutateAssignsIDAndChangesSchedule(t *testing.T) {
	for _, parent := range allKinds(t) {
		t.Run(string(parent.Kind), func(t *testing.T) {
			before := schedule(t, parent, fakeState{1, 2, 3, 4})

			child := parent.Clone()
			child.Mutate(9)
			assert.Equal(t, uint64(9), child.ID)
			assert.Equal(t, uint64(0), parent.ID)
			assert.Equal(t, before, schedule(t, parent, fakeState{1, 2, 3, 4}), "parent must be untouched")
			assert.NotEqual(t, before, schedule(t, child, fakeState{1, 2, 3, 4}))
		})
	}
}

func TestSiblingsDiverge(t *testing.T) {
	for _, parent := range allKinds(t) {
		t.Run(string(parent.Kind), func(t *testing.T) {
			a := parent.Clone()
			a.Mutate(1)
			b := parent.Clone()
			b.Mutate(2)
			assert.NotEqual(t, schedule(t, a, fakeState{0, 1}), schedule(t, b, fakeState{0, 1}))

			again := parent.Clone()
			again.Mutate(1)
			assert.Equal(t, schedule(t, a, fakeState{0, 1}), schedule(t, again, fakeState{0, 1}))
		})
	}
}

func TestTimeNetRecordsRounds(t *testing.T) {
	d, err := NewTimeNet(3, 8, 0.1, baseline(10))
	require.NoError(t, err)
	d.Mutate(4)
	child := d.Clone()
	child.Mutate(11)

	assert.Equal(t, []uint64{4}, d.TimeNet.Rounds)
	assert.Equal(t, []uint64{4, 11}, child.TimeNet.Rounds)
	assert.Equal(t, 2, child.MutationCount())
}

func TestDirectMutationKeepsWeightsBounded(t *testing.T) {
	d, err := NewFixedLengthLinear(1, 2, 5.0, baseline(10))
	require.NoError(t, err)
	for id := uint64(1); id <= 5; id++ {
		d.Mutate(id)
	}
	for _, w := range d.Linear.Net.Weights {
		assert.GreaterOrEqual(t, w, -1.0)
		assert.LessOrEqual(t, w, 1.0)
	}
}

func TestTempOnlyHoldsChemicalPotential(t *testing.T) {
	d, err := NewFixedLengthLinearTempOnly(5, 2, 0.1, baseline(8))
	require.NoError(t, err)
	for _, step := range schedule(t, d, nil) {
		assert.Equal(t, -2.5, step.ChemicalPotential)
	}
}

func TestLinearStartsAtBaseline(t *testing.T) {
	d, err := NewFixedLengthLinear(5, 2, 0.1, baseline(8))
	require.NoError(t, err)
	src, err := d.ProtocolSource()
	require.NoError(t, err)
	assert.Equal(t, protocol.Step{InteractionEnergy: 10.0, ChemicalPotential: -2.5}, src.Start())
}

func TestMicroStateReactsToState(t *testing.T) {
	d, err := NewMicroState(2, 3, 6, 0.1, baseline(5))
	require.NoError(t, err)
	empty := schedule(t, d, fakeState{0, 0, 0})
	crowded := schedule(t, d, fakeState{900, 500, 300})
	assert.NotEqual(t, empty, crowded)

	// Short or missing histograms are padded with zeros.
	assert.Equal(t, empty, schedule(t, d, fakeState{}))
	assert.Equal(t, empty, schedule(t, d, nil))
}

func TestValidateRejectsBadArchitecture(t *testing.T) {
	_, err := NewFixedLengthLinear(1, 3, 0.1, baseline(10))
	require.ErrorIs(t, err, ErrArchitecture)

	d, err := NewMicroState(1, 3, 4, 0.1, baseline(10))
	require.NoError(t, err)
	d.MicroState.PatchBins = 5
	require.ErrorIs(t, d.Validate(), ErrArchitecture)

	d = Dna{Kind: "spline", Baseline: baseline(4)}
	require.ErrorIs(t, d.Validate(), ErrUnknownKind)

	d = Dna{Kind: KindTimeNet, Baseline: baseline(4)}
	require.ErrorIs(t, d.Validate(), ErrArchitecture)
}

func TestParseKind(t *testing.T) {
	kind, err := ParseKind("fll_temp_only")
	require.NoError(t, err)
	assert.Equal(t, KindFixedLengthLinearTempOnly, kind)

	_, err = ParseKind("bogus")
	assert.True(t, errors.Is(err, ErrUnknownKind))
}

func TestYAMLRoundTripPreservesSchedule(t *testing.T) {
	dir := t.TempDir()
	for _, d := range allKinds(t) {
		t.Run(string(d.Kind), func(t *testing.T) {
			d.Mutate(3)
			path := filepath.Join(dir, string(d.Kind)+".yaml")
			require.NoError(t, WriteFile(path, d))

			loaded, err := ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, d.ID, loaded.ID)
			assert.Equal(t, schedule(t, d, fakeState{3, 2, 1, 0}), schedule(t, loaded, fakeState{3, 2, 1, 0}))
		})
	}
}

func TestUnmarshalRejectsInvalid(t *testing.T) {
	_, err := Unmarshal([]byte("id: 1\nkind: fll\nbaseline:\n  interaction_energy: [1]\n  chemical_potential: [1]\n"))
	require.ErrorIs(t, err, ErrArchitecture)
}
