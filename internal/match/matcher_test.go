package match

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/campaignfin/internal/model"
	"github.com/sells-group/campaignfin/internal/resolve"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func candidate(id, name, state, office string, cycle int) model.Candidate {
	return model.Candidate{
		ID: id, Cycle: cycle, DisplayName: name, State: state, Office: office,
		SearchKeys: resolve.SearchKeys(name),
	}
}

func smiths() *Matcher {
	return New(NewIndex("v1", []model.Candidate{
		candidate("A", "SMITH, JOHN", "TX", "H", 2024),
		candidate("B", "SMITH, JOHN", "CA", "S", 2024),
		candidate("C", "DOE, JANE Q.", "NY", "H", 2024),
		candidate("C", "DOE, JANE Q.", "NY", "H", 2022),
		candidate("D", "CHER", "CA", "H", 2024),
	}))
}

func TestMatch_StateHintSelectsOne(t *testing.T) {
	res := smiths().Match(context.Background(), "John Smith", Hints{State: "TX"})
	assert.Equal(t, []string{"A"}, res.CandidateIDs)
	assert.Equal(t, model.TierExactContext, res.Tier)
	assert.Equal(t, StepFull, res.Relaxation)
	assert.Equal(t, []string{"state=TX"}, res.FiltersApplied)
	assert.NoError(t, res.Err())
}

func TestMatch_NoHintsAmbiguous(t *testing.T) {
	res := smiths().Match(context.Background(), "John Smith", Hints{})
	assert.Equal(t, []string{"A", "B"}, res.CandidateIDs)
	assert.Equal(t, model.TierAmbiguous, res.Tier)

	var amb *model.AmbiguousNameError
	require.ErrorAs(t, res.Err(), &amb)
	assert.Equal(t, []string{"A", "B"}, amb.IDs)
}

func TestMatch_NoFuzzy(t *testing.T) {
	res := smiths().Match(context.Background(), "Jon Smyth", Hints{})
	assert.Empty(t, res.CandidateIDs)
	assert.Equal(t, model.TierNone, res.Tier)
	assert.True(t, errors.Is(res.Err(), model.ErrNoMatch))
}

func TestMatch_Relaxation(t *testing.T) {
	m := smiths()
	tests := []struct {
		name  string
		query string
		hints Hints
		ids   []string
		tier  model.Tier
		step  string
	}{
		{"full state name", "John Smith", Hints{State: "Texas", Office: "house"}, []string{"A"}, model.TierExactContext, StepFull},
		{"drop office", "John Smith", Hints{State: "TX", Office: "S"}, []string{"A"}, model.TierExactContext, StepDropOffice},
		{"drop state", "John Smith", Hints{State: "NY", Office: "Senate"}, []string{"B"}, model.TierExactContext, StepDropState},
		{"name only", "Jane Doe", Hints{State: "CA", Office: "S"}, []string{"C"}, model.TierExact, StepNameOnly},
		{"name only ambiguous", "John Smith", Hints{State: "NY", Office: "P"}, []string{"A", "B"}, model.TierAmbiguous, StepNameOnly},
		{"no hints unique", "Jane Q. Doe", Hints{}, []string{"C"}, model.TierExact, StepNameOnly},
		{"fec order", "DOE, JANE", Hints{}, []string{"C"}, model.TierExact, StepNameOnly},
		{"single token constrained", "Cher", Hints{State: "CA"}, []string{"D"}, model.TierExactContext, StepFull},
		{"single token never relaxes", "Cher", Hints{State: "NY"}, []string{}, model.TierNone, ""},
		{"empty name", "  ", Hints{}, []string{}, model.TierNone, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := m.Match(context.Background(), tt.query, tt.hints)
			assert.Equal(t, tt.ids, res.CandidateIDs)
			assert.Equal(t, tt.tier, res.Tier)
			assert.Equal(t, tt.step, res.Relaxation)
		})
	}
}

func TestMatch_MiddleNameNotDropped(t *testing.T) {
	res := smiths().Match(context.Background(), "Jane R. Doe", Hints{})
	assert.Equal(t, model.TierNone, res.Tier)
}

func TestMatch_Deterministic(t *testing.T) {
	m := smiths()
	first := m.Match(context.Background(), "John Smith", Hints{Office: "H"})
	for range 10 {
		assert.Equal(t, first, m.Match(context.Background(), "John Smith", Hints{Office: "H"}))
	}
}

func TestLadder_DropsRepeatedSteps(t *testing.T) {
	names := func(h Hints) []string {
		var out []string
		for _, s := range ladder(h) {
			out = append(out, s.name)
		}
		return out
	}
	assert.Equal(t, []string{StepNameOnly}, names(Hints{}))
	assert.Equal(t, []string{StepFull, StepDropState}, names(Hints{State: "TX"}))
	assert.Equal(t, []string{StepFull, StepDropOffice}, names(Hints{Office: "H"}))
	assert.Equal(t, []string{StepFull, StepDropOffice, StepDropState, StepNameOnly}, names(Hints{State: "TX", Office: "H"}))
}

type memCache struct {
	data map[Key]model.MatchResult
	gets int
	err  error
}

func (c *memCache) Get(_ context.Context, k Key) (*model.MatchResult, error) {
	c.gets++
	if c.err != nil {
		return nil, c.err
	}
	r, ok := c.data[k]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (c *memCache) Put(_ context.Context, k Key, res model.MatchResult) error {
	if c.err != nil {
		return c.err
	}
	c.data[k] = res
	return nil
}

func TestMatch_Cache(t *testing.T) {
	c := &memCache{data: map[Key]model.MatchResult{}}
	m := New(smiths().Index(), WithCache(c))

	first := m.Match(context.Background(), "John Smith", Hints{State: "tx"})
	require.Len(t, c.data, 1)
	for k := range c.data {
		assert.Equal(t, "v1", k.Version)
		assert.Equal(t, "TX", k.State)
	}

	second := m.Match(context.Background(), "John Smith", Hints{State: "TX"})
	assert.Equal(t, first, second)
	assert.Equal(t, 2, c.gets)
}

func TestMatch_CacheErrorIgnored(t *testing.T) {
	c := &memCache{data: map[Key]model.MatchResult{}, err: errors.New("disk full")}
	m := New(smiths().Index(), WithCache(c))
	res := m.Match(context.Background(), "John Smith", Hints{State: "TX"})
	assert.Equal(t, []string{"A"}, res.CandidateIDs)
}
