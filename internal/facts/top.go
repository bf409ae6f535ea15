package facts

import (
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/sells-group/campaignfin/internal/model"
	"github.com/sells-group/campaignfin/internal/resolve"
)

type partyKey struct {
	cand  string
	cycle int
	name  string
	state string
}

type tally struct {
	name      string
	state     string
	employer  string
	empDate   time.Time
	total     decimal.Decimal
	count     int64
	firstDate time.Time
}

// ranker accumulates totals per counterparty for one kind of transaction.
type ranker struct {
	kind    model.Kind
	tallies map[partyKey]*tally
}

func newRanker(kind model.Kind) *ranker {
	return &ranker{kind: kind, tallies: make(map[partyKey]*tally)}
}

func (r *ranker) add(k candCycle, tx model.Transaction) {
	name := resolve.NormalizeName(tx.Name)
	if name == "" {
		return
	}
	pk := partyKey{cand: k.id, cycle: k.cycle, name: name, state: tx.State}
	t := r.tallies[pk]
	if t == nil {
		t = &tally{name: name, state: tx.State, total: decimal.Zero}
		r.tallies[pk] = t
	}
	t.total = t.total.Add(tx.Amount)
	t.count++
	if dateBefore(tx.Date, t.firstDate) {
		t.firstDate = tx.Date
	}
	// Employer comes from the earliest dated record that has one; equal
	// dates fall to the smaller string.
	if tx.Employer != "" {
		if t.employer == "" || dateBefore(tx.Date, t.empDate) ||
			(tx.Date.Equal(t.empDate) && tx.Employer < t.employer) {
			t.employer = tx.Employer
			t.empDate = tx.Date
		}
	}
}

// top ranks each candidate-cycle's tallies by summed amount descending,
// then earliest transaction date, then name and state, and keeps n.
func (r *ranker) top(n int) []model.TopEntry {
	groups := make(map[candCycle][]model.TopEntry)
	for pk, t := range r.tallies {
		k := candCycle{pk.cand, pk.cycle}
		groups[k] = append(groups[k], model.TopEntry{
			CandidateID: pk.cand,
			Cycle:       pk.cycle,
			Kind:        r.kind,
			Name:        t.name,
			State:       t.state,
			Employer:    t.employer,
			Total:       t.total,
			Count:       t.count,
			FirstDate:   t.firstDate,
		})
	}

	keys := make([]candCycle, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, func(a, b candCycle) int {
		return compareCandCycle(a.id, a.cycle, b.id, b.cycle)
	})

	var out []model.TopEntry
	for _, k := range keys {
		entries := groups[k]
		slices.SortFunc(entries, compareEntries)
		if len(entries) > n {
			entries = entries[:n]
		}
		for i := range entries {
			entries[i].Rank = i + 1
		}
		out = append(out, entries...)
	}
	return out
}

func compareEntries(a, b model.TopEntry) int {
	if c := b.Total.Cmp(a.Total); c != 0 {
		return c
	}
	if !a.FirstDate.Equal(b.FirstDate) {
		if dateBefore(a.FirstDate, b.FirstDate) {
			return -1
		}
		return 1
	}
	if c := strings.Compare(a.Name, b.Name); c != 0 {
		return c
	}
	return strings.Compare(a.State, b.State)
}

// dateBefore orders dates with the zero time last.
func dateBefore(a, b time.Time) bool {
	switch {
	case a.IsZero():
		return false
	case b.IsZero():
		return true
	default:
		return a.Before(b)
	}
}
