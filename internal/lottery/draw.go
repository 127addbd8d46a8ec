// Package lottery implements the weighted multi-slot draw. It is pure: given
// the same Input (including the seed) it always produces the same Outcome,
// which is what lets an interrupted allocation be replayed.
package lottery

import (
	"math"
	"math/rand/v2"
	"sort"
	"time"
)

// pcgStream is the fixed second PCG word; only the seed varies between runs.
const pcgStream uint64 = 0x9e3779b97f4a7c15

// Candidate is one slot entry taking part in the draw.
type Candidate struct {
	EntryID   string
	GroupID   string
	SlotID    string
	Weight    float64
	CreatedAt time.Time
}

// NewRand returns the deterministic generator used for a seed.
func NewRand(seed int64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), pcgStream))
}

// NewSeed picks a fresh seed for a run.
func NewSeed() int64 {
	return rand.Int64()
}

type keyed struct {
	c   Candidate
	key float64
}

// Sample draws up to k candidates without replacement, each step choosing a
// remaining candidate with probability proportional to its weight.
//
// Every candidate gets the key -ln(U)/weight for an independent uniform U and
// the k smallest keys win (exponential-key reservoir sampling). Keys are drawn
// in the order of cands, so callers must pass a stable order for results to
// be reproducible. Equal keys fall back to creation time, then entry id.
func Sample(rng *rand.Rand, cands []Candidate, k int) []Candidate {
	if k <= 0 || len(cands) == 0 {
		return nil
	}

	keys := make([]keyed, len(cands))
	for i, c := range cands {
		u := 1 - rng.Float64() // (0, 1]
		w := c.Weight
		if w <= 0 || math.IsNaN(w) {
			w = math.SmallestNonzeroFloat64
		}
		keys[i] = keyed{c: c, key: -math.Log(u) / w}
	}

	if k >= len(keys) {
		out := make([]Candidate, len(cands))
		copy(out, cands)
		return out
	}

	sort.SliceStable(keys, func(i, j int) bool {
		a, b := keys[i], keys[j]
		if a.key != b.key {
			return a.key < b.key
		}
		if !a.c.CreatedAt.Equal(b.c.CreatedAt) {
			return a.c.CreatedAt.Before(b.c.CreatedAt)
		}
		return a.c.EntryID < b.c.EntryID
	})

	out := make([]Candidate, k)
	for i := range out {
		out[i] = keys[i].c
	}
	return out
}

// sortCandidates orders by creation time, then id.
func sortCandidates(cands []Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		if !cands[i].CreatedAt.Equal(cands[j].CreatedAt) {
			return cands[i].CreatedAt.Before(cands[j].CreatedAt)
		}
		return cands[i].EntryID < cands[j].EntryID
	})
}
