// Package snapshot holds the read model served to lookups and matches: the
// union of every cycle's latest published build.
package snapshot

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	"github.com/sells-group/campaignfin/internal/model"
)

// Cycle is the full derived dataset produced by one build of one cycle.
// Receipts are staged with the build but never held by a Snapshot; they
// are read a page at a time from the store.
type Cycle struct {
	Cycle           int                        `json:"cycle"`
	BuildID         string                     `json:"build_id"`
	Candidates      []model.Candidate          `json:"candidates"`
	Committees      []model.Committee          `json:"committees"`
	Links           []model.CandidateCommittee `json:"links"`
	Summaries       []model.CycleSummary       `json:"summaries"`
	CommitteeViews  []model.CommitteeView      `json:"committee_views"`
	Series          []model.SeriesPoint        `json:"series"`
	TopContributors []model.TopEntry           `json:"top_contributors"`
	TopVendors      []model.TopEntry           `json:"top_vendors"`
	Receipts        []model.ItemizedReceipt    `json:"-"`
}

type cmteCycle struct {
	id    string
	cycle int
}

// Snapshot is immutable after New and safe for concurrent reads.
type Snapshot struct {
	Version string
	Builds  map[int]string

	candidates []model.Candidate
	byCand     map[string]*CandidateData
	committees map[cmteCycle]model.Committee
}

// CandidateData is everything known about one candidate id across cycles.
// Every slice is ordered by cycle descending.
type CandidateData struct {
	Rows            []model.Candidate
	Links           []model.CandidateCommittee
	Summaries       []model.CycleSummary
	CommitteeViews  []model.CommitteeView
	Series          []model.SeriesPoint
	TopContributors []model.TopEntry
	TopVendors      []model.TopEntry
}

// New assembles a snapshot from per-cycle builds. A cycle listed twice
// keeps the entry given last.
func New(cycles ...Cycle) *Snapshot {
	byCycle := make(map[int]Cycle, len(cycles))
	for _, c := range cycles {
		byCycle[c.Cycle] = c
	}
	keys := make([]int, 0, len(byCycle))
	for k := range byCycle {
		keys = append(keys, k)
	}
	// Newest cycle first so per-candidate slices come out cycle-descending.
	slices.SortFunc(keys, func(a, b int) int { return cmp.Compare(b, a) })

	s := &Snapshot{
		Builds:     make(map[int]string, len(keys)),
		byCand:     make(map[string]*CandidateData),
		committees: make(map[cmteCycle]model.Committee),
	}
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		c := byCycle[k]
		s.Builds[k] = c.BuildID
		parts = append(parts, fmt.Sprintf("%d:%s", k, c.BuildID))
		s.add(c)
	}
	s.Version = strings.Join(parts, ",")
	return s
}

func (s *Snapshot) data(id string) *CandidateData {
	d := s.byCand[id]
	if d == nil {
		d = &CandidateData{}
		s.byCand[id] = d
	}
	return d
}

func (s *Snapshot) add(c Cycle) {
	s.candidates = append(s.candidates, c.Candidates...)
	for _, r := range c.Candidates {
		d := s.data(r.ID)
		d.Rows = append(d.Rows, r)
	}
	for _, m := range c.Committees {
		s.committees[cmteCycle{m.ID, m.Cycle}] = m
	}
	for _, l := range c.Links {
		d := s.data(l.CandidateID)
		d.Links = append(d.Links, l)
	}
	for _, r := range c.Summaries {
		d := s.data(r.CandidateID)
		d.Summaries = append(d.Summaries, r)
	}
	for _, v := range c.CommitteeViews {
		d := s.data(v.CandidateID)
		d.CommitteeViews = append(d.CommitteeViews, v)
	}
	for _, p := range c.Series {
		d := s.data(p.CandidateID)
		d.Series = append(d.Series, p)
	}
	for _, e := range c.TopContributors {
		d := s.data(e.CandidateID)
		d.TopContributors = append(d.TopContributors, e)
	}
	for _, e := range c.TopVendors {
		d := s.data(e.CandidateID)
		d.TopVendors = append(d.TopVendors, e)
	}
}

// Candidates returns every candidate row in the snapshot.
func (s *Snapshot) Candidates() []model.Candidate {
	return s.candidates
}

// Candidate returns the data for id. Candidates without a dimension row
// are reported as absent.
func (s *Snapshot) Candidate(id string) (*CandidateData, bool) {
	d, ok := s.byCand[id]
	if !ok || len(d.Rows) == 0 {
		return nil, false
	}
	return d, true
}

// Committee returns the committee master row for id in cycle.
func (s *Snapshot) Committee(id string, cycle int) (model.Committee, bool) {
	m, ok := s.committees[cmteCycle{id, cycle}]
	return m, ok
}

// Cycles returns the published cycles, newest first.
func (s *Snapshot) Cycles() []int {
	out := make([]int, 0, len(s.Builds))
	for k := range s.Builds {
		out = append(out, k)
	}
	slices.SortFunc(out, func(a, b int) int { return cmp.Compare(b, a) })
	return out
}
