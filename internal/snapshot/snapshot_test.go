package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/campaignfin/internal/model"
)

func TestNew_MergesCyclesNewestFirst(t *testing.T) {
	s := New(
		Cycle{
			Cycle: 2022, BuildID: "b22",
			Candidates: []model.Candidate{{ID: "C001", Cycle: 2022}},
			Summaries:  []model.CycleSummary{{CandidateID: "C001", Cycle: 2022}},
		},
		Cycle{
			Cycle: 2024, BuildID: "b24",
			Candidates: []model.Candidate{{ID: "C001", Cycle: 2024}, {ID: "C002", Cycle: 2024}},
			Committees: []model.Committee{{ID: "K1", Cycle: 2024, Name: "DOE FOR CONGRESS"}},
			Links:      []model.CandidateCommittee{{CandidateID: "C001", CommitteeID: "K1", Cycle: 2024, Role: model.RolePrincipal}},
			Summaries:  []model.CycleSummary{{CandidateID: "C001", Cycle: 2024}},
		},
	)

	assert.Equal(t, "2024:b24,2022:b22", s.Version)
	assert.Equal(t, []int{2024, 2022}, s.Cycles())
	assert.Len(t, s.Candidates(), 3)

	d, ok := s.Candidate("C001")
	require.True(t, ok)
	require.Len(t, d.Summaries, 2)
	assert.Equal(t, 2024, d.Summaries[0].Cycle)
	assert.Equal(t, 2022, d.Summaries[1].Cycle)
	assert.Len(t, d.Links, 1)

	m, ok := s.Committee("K1", 2024)
	require.True(t, ok)
	assert.Equal(t, "DOE FOR CONGRESS", m.Name)

	_, ok = s.Candidate("NOPE")
	assert.False(t, ok)
}

func TestNew_LastCycleEntryWins(t *testing.T) {
	s := New(
		Cycle{Cycle: 2024, BuildID: "old"},
		Cycle{Cycle: 2024, BuildID: "new"},
	)
	assert.Equal(t, "2024:new", s.Version)
}

func TestNew_Empty(t *testing.T) {
	s := New()
	assert.Equal(t, "", s.Version)
	assert.Empty(t, s.Cycles())
}
