package evo

import "l2g/internal/dna"

// LineageEdge records that Child was produced by mutating a clone of Parent.
// Generation is the index of the generation the child was spawned into.
type LineageEdge struct {
	Parent     uint64 `json:"parent"`
	Child      uint64 `json:"child"`
	Generation int    `json:"generation"`
}

// reproducer owns the id counter and the lineage log. Only the orchestrating
// goroutine touches it, between generations.
type reproducer struct {
	nextID  uint64
	lineage []LineageEdge
}

func newReproducer(initialID uint64) *reproducer {
	return &reproducer{nextID: initialID + 1}
}

// spawn produces perParent mutated clones of every parent, in parent order.
// Each clone is assigned the next id, which is never reused.
func (r *reproducer) spawn(parents []dna.Dna, perParent, generation int) []dna.Dna {
	children := make([]dna.Dna, 0, len(parents)*perParent)
	for _, parent := range parents {
		for c := 0; c < perParent; c++ {
			child := parent.Clone()
			r.lineage = append(r.lineage, LineageEdge{Parent: parent.ID, Child: r.nextID, Generation: generation})
			child.Mutate(r.nextID)
			r.nextID++
			children = append(children, child)
		}
	}
	return children
}

func (r *reproducer) edges() []LineageEdge {
	return append([]LineageEdge(nil), r.lineage...)
}
