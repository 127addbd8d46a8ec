package lottery

import (
	"sort"

	"github.com/Shivanand-hulikatti/session-lottery/internal/model"
)

// DefaultMaxPasses bounds the backfill loop when Input.MaxPasses is unset.
const DefaultMaxPasses = 5

// Group is an applicant's entry group as seen by the draw.
type Group struct {
	ID     string
	Policy model.CancellationPolicy
}

// Input is everything the draw depends on.
type Input struct {
	Seed      int64
	Capacity  map[string]int // slot id -> places still free before the draw
	Groups    []Group
	Entries   []Candidate
	MaxPasses int
}

// Outcome is the final status of every entry and group.
type Outcome struct {
	Entries map[string]model.EntryStatus
	Groups  map[string]model.GroupStatus
	// Winners lists won entries in the order they were finalized.
	Winners []Candidate
	Passes  int
}

// WonBySlot counts winners per slot.
func (o *Outcome) WonBySlot() map[string]int {
	out := make(map[string]int)
	for _, w := range o.Winners {
		out[w.SlotID]++
	}
	return out
}

type groupState struct {
	group   Group
	entries []Candidate
	final   bool
	status  model.GroupStatus
}

// Allocate runs the draw, reconciles every group by its cancellation policy
// and backfills capacity released by cancelled all_or_nothing groups.
//
// Each pass draws, for every slot, among the entries that are still pending,
// sized by the slot's free capacity. Then:
//
//   - partial_ok: every drawn entry is won for good; undrawn entries stay
//     pending for later passes.
//   - all_or_nothing: if every entry of the group was drawn the group wins;
//     if only some were, the group is cancelled, all its entries lose and the
//     places it was drawn for are released; if none were, it stays pending.
//
// Passes repeat while a pass released capacity, up to MaxPasses. Whatever is
// still pending at the end loses.
//
// An all_or_nothing group therefore ends cancelled only when it was drawn for
// some of its slots but not all. A group never drawn for any slot held no
// places and ends lost, the same as a partial_ok group that won nothing.
func Allocate(in Input) *Outcome {
	maxPasses := in.MaxPasses
	if maxPasses <= 0 {
		maxPasses = DefaultMaxPasses
	}

	capacity := make(map[string]int, len(in.Capacity))
	for slot, c := range in.Capacity {
		if c < 0 {
			c = 0
		}
		capacity[slot] = c
	}

	entries := make([]Candidate, len(in.Entries))
	copy(entries, in.Entries)
	sortCandidates(entries)

	groups := make(map[string]*groupState, len(in.Groups))
	groupOrder := make([]string, 0, len(in.Groups))
	for _, g := range in.Groups {
		if _, ok := groups[g.ID]; ok {
			continue
		}
		groups[g.ID] = &groupState{group: g}
		groupOrder = append(groupOrder, g.ID)
	}

	bySlot := make(map[string][]Candidate)
	for _, e := range entries {
		gs, ok := groups[e.GroupID]
		if !ok {
			// An entry without a known group is treated as its own partial_ok group.
			gs = &groupState{group: Group{ID: e.GroupID, Policy: model.PolicyPartialOK}}
			groups[e.GroupID] = gs
			groupOrder = append(groupOrder, e.GroupID)
		}
		gs.entries = append(gs.entries, e)
		bySlot[e.SlotID] = append(bySlot[e.SlotID], e)
	}
	sort.Strings(groupOrder)

	slotOrder := make([]string, 0, len(bySlot))
	for slot := range bySlot {
		slotOrder = append(slotOrder, slot)
	}
	sort.Strings(slotOrder)

	out := &Outcome{
		Entries: make(map[string]model.EntryStatus, len(entries)),
		Groups:  make(map[string]model.GroupStatus, len(groups)),
	}
	pending := make(map[string]bool, len(entries))
	for _, e := range entries {
		pending[e.EntryID] = true
	}

	rng := NewRand(in.Seed)

	for pass := 1; pass <= maxPasses; pass++ {
		out.Passes = pass

		drawn := make(map[string]bool)
		for _, slot := range slotOrder {
			free := capacity[slot]
			if free <= 0 {
				continue
			}
			var cands []Candidate
			for _, c := range bySlot[slot] {
				if pending[c.EntryID] {
					cands = append(cands, c)
				}
			}
			for _, w := range Sample(rng, cands, free) {
				drawn[w.EntryID] = true
			}
		}

		released := 0
		for _, id := range groupOrder {
			gs := groups[id]
			if gs.final {
				continue
			}
			switch gs.group.Policy {
			case model.PolicyAllOrNothing:
				hits := 0
				for _, e := range gs.entries {
					if drawn[e.EntryID] {
						hits++
					}
				}
				switch {
				case hits == 0:
					// Nothing claimed; eligible again if capacity is released.
				case hits == len(gs.entries):
					for _, e := range gs.entries {
						out.win(e, capacity, pending)
					}
					gs.final, gs.status = true, model.GroupWon
				default:
					for _, e := range gs.entries {
						out.lose(e, pending)
					}
					gs.final, gs.status = true, model.GroupCancelled
					released += hits
				}
			default:
				for _, e := range gs.entries {
					if pending[e.EntryID] && drawn[e.EntryID] {
						out.win(e, capacity, pending)
					}
				}
			}
		}

		if released == 0 {
			break
		}
	}

	for _, e := range entries {
		if pending[e.EntryID] {
			out.lose(e, pending)
		}
	}

	for _, id := range groupOrder {
		gs := groups[id]
		if gs.final {
			out.Groups[id] = gs.status
			continue
		}
		out.Groups[id] = partialStatus(gs.entries, out.Entries)
	}

	return out
}

func (o *Outcome) win(e Candidate, capacity map[string]int, pending map[string]bool) {
	o.Entries[e.EntryID] = model.EntryWon
	o.Winners = append(o.Winners, e)
	capacity[e.SlotID]--
	delete(pending, e.EntryID)
}

func (o *Outcome) lose(e Candidate, pending map[string]bool) {
	o.Entries[e.EntryID] = model.EntryLost
	delete(pending, e.EntryID)
}

func partialStatus(entries []Candidate, results map[string]model.EntryStatus) model.GroupStatus {
	won := 0
	for _, e := range entries {
		if results[e.EntryID] == model.EntryWon {
			won++
		}
	}
	switch {
	case len(entries) > 0 && won == len(entries):
		return model.GroupWon
	case won > 0:
		return model.GroupPartialWon
	default:
		return model.GroupLost
	}
}
