package lottery

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidates(weights ...float64) []Candidate {
	base := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	out := make([]Candidate, len(weights))
	for i, w := range weights {
		out[i] = Candidate{
			EntryID:   fmt.Sprintf("e%d", i),
			GroupID:   fmt.Sprintf("g%d", i),
			SlotID:    "slot",
			Weight:    w,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		}
	}
	return out
}

func TestSample_Size(t *testing.T) {
	rng := NewRand(1)
	cands := candidates(1, 1, 1, 1, 1)

	assert.Len(t, Sample(rng, cands, 2), 2)
	assert.Len(t, Sample(rng, cands, 5), 5)
	assert.Len(t, Sample(rng, cands, 9), 5)
	assert.Empty(t, Sample(rng, cands, 0))
	assert.Empty(t, Sample(rng, nil, 3))
}

func TestSample_NoDuplicates(t *testing.T) {
	rng := NewRand(99)
	cands := candidates(1, 2, 3, 4, 5, 6, 7)
	for i := 0; i < 200; i++ {
		seen := map[string]bool{}
		for _, c := range Sample(rng, cands, 4) {
			require.False(t, seen[c.EntryID], "entry %s drawn twice", c.EntryID)
			seen[c.EntryID] = true
		}
	}
}

func TestSample_Deterministic(t *testing.T) {
	cands := candidates(1, 2, 1, 5, 1, 3)
	a := Sample(NewRand(2024), cands, 3)
	b := Sample(NewRand(2024), cands, 3)
	assert.Equal(t, a, b)
}

// Capacity 2 over five equally weighted entries: every entry should win in
// about 2/5 of the trials.
func TestSample_UniformChiSquare(t *testing.T) {
	const trials = 10000
	cands := candidates(1, 1, 1, 1, 1)
	rng := NewRand(42)

	wins := map[string]int{}
	for i := 0; i < trials; i++ {
		got := Sample(rng, cands, 2)
		require.Len(t, got, 2)
		for _, c := range got {
			wins[c.EntryID]++
		}
	}

	expected := float64(trials) * 2 / 5
	chi2 := 0.0
	for _, c := range cands {
		d := float64(wins[c.EntryID]) - expected
		chi2 += d * d / expected
	}
	// 4 degrees of freedom, p = 0.001.
	assert.Less(t, chi2, 18.47, "win counts %v", wins)
}

func TestSample_Weighted(t *testing.T) {
	const trials = 10000
	cands := candidates(3, 1)
	rng := NewRand(7)

	heavy := 0
	for i := 0; i < trials; i++ {
		if Sample(rng, cands, 1)[0].EntryID == "e0" {
			heavy++
		}
	}
	assert.InDelta(t, 0.75, float64(heavy)/trials, 0.025)
}
