package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/campaignfin/internal/match"
	"github.com/sells-group/campaignfin/internal/model"
)

type fakeMatcher struct {
	results map[string]model.MatchResult
	calls   []match.Hints
	err     error
}

func (f *fakeMatcher) Match(_ context.Context, name string, hints match.Hints) (model.MatchResult, error) {
	if f.err != nil {
		return model.MatchResult{}, f.err
	}
	f.calls = append(f.calls, hints)
	if r, ok := f.results[name]; ok {
		return r, nil
	}
	return model.MatchResult{Query: name, Tier: model.TierNone}, nil
}

func newFakeMatcher() *fakeMatcher {
	return &fakeMatcher{results: map[string]model.MatchResult{
		"Jane Doe":   {CandidateIDs: []string{"H4NY01001"}, Tier: model.TierExact},
		"John Smith": {CandidateIDs: []string{"A", "B"}, Tier: model.TierAmbiguous},
		"J. Smith":   {CandidateIDs: []string{"A"}, Tier: model.TierExactContext},
	}}
}

func readCSV(t *testing.T, s string) [][]string {
	t.Helper()
	recs, err := csv.NewReader(strings.NewReader(s)).ReadAll()
	require.NoError(t, err)
	return recs
}

func TestMatchCSV(t *testing.T) {
	in := `market,candidate_names,jurisdiction
m1,Jane Doe,New York
m2,John Smith; J. Smith,TX
m3,,CA
m4,Nobody Here,
`
	m := newFakeMatcher()
	var out bytes.Buffer
	counts, err := matchCSV(context.Background(), m, strings.NewReader(in), &out, matchOptions{
		NameCol:  "candidate_names",
		StateCol: "Jurisdiction",
	})
	require.NoError(t, err)

	assert.Equal(t, matchCounts{Rows: 4, Skipped: 1, Matched: 3, Unmatched: 1}, counts)

	recs := readCSV(t, out.String())
	require.Len(t, recs, 5)
	assert.Equal(t, []string{"market", "candidate_names", "jurisdiction", "matched_candidate_ids", "matched_names", "match_tier"}, recs[0])
	assert.Equal(t, []string{"m1", "Jane Doe", "New York", `["H4NY01001"]`, `["Jane Doe"]`, "exact"}, recs[1])
	assert.Equal(t, `["A","B"]`, recs[2][3])
	assert.Equal(t, `["John Smith","J. Smith"]`, recs[2][4])
	assert.Equal(t, "ambiguous;exact+context", recs[2][5])
	assert.Equal(t, []string{"m3", "", "CA", "[]", "[]", ""}, recs[3])
	assert.Equal(t, []string{"m4", "Nobody Here", "", "[]", "[]", "none"}, recs[4])

	// Hints come from the configured columns; office is absent.
	require.NotEmpty(t, m.calls)
	assert.Equal(t, match.Hints{State: "New York"}, m.calls[0])
}

func TestMatchCSV_Limit(t *testing.T) {
	in := "name\nJane Doe\nJohn Smith\nJ. Smith\n"
	var out bytes.Buffer
	counts, err := matchCSV(context.Background(), newFakeMatcher(), strings.NewReader(in), &out, matchOptions{NameCol: "name", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, counts.Rows)
	assert.Len(t, readCSV(t, out.String()), 3)
}

func TestMatchCSV_Errors(t *testing.T) {
	var out bytes.Buffer
	_, err := matchCSV(context.Background(), newFakeMatcher(), strings.NewReader(""), &out, matchOptions{NameCol: "name"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty input")

	_, err = matchCSV(context.Background(), newFakeMatcher(), strings.NewReader("candidate\nJane\n"), &out, matchOptions{NameCol: "name"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `column "name" not found`)

	failing := &fakeMatcher{err: model.ErrNoPublishedSnapshot}
	_, err = matchCSV(context.Background(), failing, strings.NewReader("name\nJane Doe\n"), &out, matchOptions{NameCol: "name"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrNoPublishedSnapshot))
}

func TestSplitNames(t *testing.T) {
	assert.Equal(t, []string{"DOE, JANE", "SMITH, JOHN"}, splitNames("DOE, JANE ; SMITH, JOHN", ";"))
	assert.Equal(t, []string{"a", "b"}, splitNames("a|b", "|"))
	assert.Nil(t, splitNames("  ", ";"))
	assert.Equal(t, []string{"x"}, splitNames("x", ""))
}
