package evo

import (
	"fmt"

	"l2g/internal/dna"
)

// Entry is one survivor slot. Aux is nil for seed slots that no evaluated
// candidate has replaced yet.
type Entry struct {
	Genome  dna.Dna  `json:"genome"`
	Fitness float64  `json:"fitness"`
	Aux     *float64 `json:"aux,omitempty"`
}

// Pool is the fixed-size elite set kept across the whole run. Its minimum
// fitness never decreases.
type Pool struct {
	entries []Entry
}

// NewPool seeds size placeholder slots with fitness 0 from the first size
// genomes of seeds.
func NewPool(seeds []dna.Dna, size int) *Pool {
	if size <= 0 {
		panic(fmt.Sprintf("evo: pool size must be > 0, got %d", size))
	}
	if len(seeds) < size {
		panic(fmt.Sprintf("evo: need %d genomes to seed the pool, got %d", size, len(seeds)))
	}
	entries := make([]Entry, size)
	for i := range entries {
		entries[i] = Entry{Genome: seeds[i].Clone()}
	}
	return &Pool{entries: entries}
}

func (p *Pool) Len() int {
	return len(p.entries)
}

// Entries returns a copy of the pool in slot order.
func (p *Pool) Entries() []Entry {
	out := make([]Entry, len(p.entries))
	for i, e := range p.entries {
		out[i] = Entry{Genome: e.Genome.Clone(), Fitness: e.Fitness}
		if e.Aux != nil {
			aux := *e.Aux
			out[i].Aux = &aux
		}
	}
	return out
}

// Genomes returns copies of the survivors in slot order.
func (p *Pool) Genomes() []dna.Dna {
	out := make([]dna.Dna, len(p.entries))
	for i, e := range p.entries {
		out[i] = e.Genome.Clone()
	}
	return out
}

// Worst returns the slot holding the minimum fitness. Ties go to the lowest
// index.
func (p *Pool) Worst() (int, float64) {
	idx, worst := 0, p.entries[0].Fitness
	for i := 1; i < len(p.entries); i++ {
		if p.entries[i].Fitness < worst {
			idx, worst = i, p.entries[i].Fitness
		}
	}
	return idx, worst
}

// Best returns the entry with the maximum fitness. Ties go to the lowest
// index.
func (p *Pool) Best() Entry {
	best := 0
	for i := 1; i < len(p.entries); i++ {
		if p.entries[i].Fitness > p.entries[best].Fitness {
			best = i
		}
	}
	return p.Entries()[best]
}

func (p *Pool) Floor() float64 {
	_, worst := p.Worst()
	return worst
}

// Prune offers candidates to the pool in arrival order. A candidate replaces
// the current worst slot only when its fitness is strictly greater. aux may
// be nil; otherwise it must match candidates in length. Prune returns the
// number of replacements.
func (p *Pool) Prune(candidates []dna.Dna, fitnesses []float64, aux []float64) int {
	if len(candidates) == 0 {
		panic("evo: prune called with no candidates")
	}
	if len(fitnesses) != len(candidates) {
		panic(fmt.Sprintf("evo: prune got %d candidates and %d fitness values", len(candidates), len(fitnesses)))
	}
	if aux != nil && len(aux) != len(candidates) {
		panic(fmt.Sprintf("evo: prune got %d candidates and %d auxiliary values", len(candidates), len(aux)))
	}
	if len(p.entries) == 0 {
		panic("evo: prune on an empty pool")
	}
	replaced := 0
	for i, candidate := range candidates {
		idx, worst := p.Worst()
		if !(fitnesses[i] > worst) {
			continue
		}
		entry := Entry{Genome: candidate.Clone(), Fitness: fitnesses[i]}
		if aux != nil {
			value := aux[i]
			entry.Aux = &value
		}
		p.entries[idx] = entry
		replaced++
	}
	return replaced
}
