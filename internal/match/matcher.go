package match

import (
	"context"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/campaignfin/internal/model"
	"github.com/sells-group/campaignfin/internal/resolve"
)

// Key identifies one cached match result. Name holds the query's lookup
// keys joined by "|".
type Key struct {
	Name    string
	State   string
	Office  string
	Version string
}

// Cache stores match results per snapshot version.
type Cache interface {
	Get(ctx context.Context, k Key) (*model.MatchResult, error)
	Put(ctx context.Context, k Key, res model.MatchResult) error
}

// Matcher answers name queries against one Index.
type Matcher struct {
	idx   *Index
	cache Cache
	log   *zap.Logger
}

// Option configures a Matcher.
type Option func(*Matcher)

// WithCache attaches a result cache.
func WithCache(c Cache) Option {
	return func(m *Matcher) { m.cache = c }
}

// New creates a Matcher over idx.
func New(idx *Index, opts ...Option) *Matcher {
	m := &Matcher{idx: idx, log: zap.L().With(zap.String("component", "match"))}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Index returns the snapshot index the matcher reads.
func (m *Matcher) Index() *Index { return m.idx }

// Match resolves name under hints. It is a pure function of (name, hints,
// snapshot); cache failures are logged and never change the answer.
func (m *Matcher) Match(ctx context.Context, name string, hints Hints) model.MatchResult {
	hints = Hints{State: resolve.NormalizeState(hints.State), Office: resolve.NormalizeOffice(hints.Office)}
	normalized := resolve.NormalizeName(name)
	key := Key{
		Name:    strings.Join(resolve.QueryKeys(name), "|"),
		State:   hints.State,
		Office:  hints.Office,
		Version: m.idx.version,
	}

	if m.cache != nil && key.Name != "" {
		cached, err := m.cache.Get(ctx, key)
		if err != nil {
			m.log.Warn("match: cache get failed", zap.Error(err))
		} else if cached != nil {
			cached.Query = name
			return *cached
		}
	}

	res := m.resolve(name, normalized, hints)

	if m.cache != nil && key.Name != "" {
		if err := m.cache.Put(ctx, key, res); err != nil {
			m.log.Warn("match: cache put failed", zap.Error(err))
		}
	}
	return res
}

func (m *Matcher) resolve(query, normalized string, hints Hints) model.MatchResult {
	res := model.MatchResult{
		Query:          query,
		NormalizedName: normalized,
		CandidateIDs:   []string{},
		Tier:           model.TierNone,
		FiltersApplied: []string{},
	}
	if normalized == "" {
		return res
	}

	pool := m.idx.lookup(resolve.QueryKeys(query))
	steps := ladder(hints)
	if len(resolve.Tokens(normalized)) < 2 {
		steps = steps[:1]
	}

	for _, s := range steps {
		ids := candidateIDs(s.hints.filter(pool))
		if len(ids) == 0 {
			continue
		}
		res.CandidateIDs = ids
		res.FiltersApplied = s.hints.applied()
		res.Relaxation = s.name
		switch {
		case len(ids) > 1:
			res.Tier = model.TierAmbiguous
		case s.hints != (Hints{}):
			res.Tier = model.TierExactContext
		default:
			res.Tier = model.TierExact
		}
		return res
	}
	return res
}

// candidateIDs returns the distinct ids of the rows, sorted.
func candidateIDs(cands []model.Candidate) []string {
	ids := make([]string, 0, len(cands))
	for _, c := range cands {
		ids = append(ids, c.ID)
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}
