// Package lookup serves read-only candidate profiles from the latest
// published snapshot.
package lookup

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaignfin/internal/match"
	"github.com/sells-group/campaignfin/internal/metrics"
	"github.com/sells-group/campaignfin/internal/model"
	"github.com/sells-group/campaignfin/internal/snapshot"
	"github.com/sells-group/campaignfin/internal/warehouse"
)

// ErrInvalidQuery marks a request the caller must correct.
var ErrInvalidQuery = errors.New("invalid query")

// Query asks for one candidate by id or by free-text name. ID wins when
// both are set.
type Query struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name,omitempty"`
	State  string `json:"state,omitempty"`
	Office string `json:"office,omitempty"`
}

// CommitteeLink is one committee linked to the candidate in one cycle.
type CommitteeLink struct {
	Committee model.Committee      `json:"committee"`
	Role      model.Role           `json:"role"`
	Cycle     int                  `json:"cycle"`
	Activity  *model.CommitteeView `json:"activity,omitempty"`
}

// Profile is the assembled candidate record.
type Profile struct {
	Candidate       model.Candidate      `json:"candidate"`
	Cycles          []model.Candidate    `json:"cycles"`
	Committees      []CommitteeLink      `json:"committees"`
	Summaries       []model.CycleSummary `json:"summaries"`
	TopContributors []model.TopEntry     `json:"top_contributors"`
	TopVendors      []model.TopEntry     `json:"top_vendors"`
	Series          []model.SeriesPoint  `json:"series"`
	Match           *model.MatchResult   `json:"match,omitempty"`
	Version         string               `json:"snapshot_version"`
}

// Cache stores assembled profiles. Keys embed the snapshot version.
type Cache interface {
	Get(ctx context.Context, key string) (*Profile, error)
	Set(ctx context.Context, key string, p *Profile) error
}

// ReceiptReader reads pages of published itemized receipts.
type ReceiptReader interface {
	Receipts(ctx context.Context, q warehouse.ReceiptQuery) ([]model.ItemizedReceipt, error)
}

// ReceiptPage is one page of a candidate's itemized receipts.
type ReceiptPage struct {
	CandidateID string                  `json:"candidate_id"`
	Cycles      []int                   `json:"cycles,omitempty"`
	Page        int                     `json:"page"`
	Limit       int                     `json:"limit"`
	Rows        []model.ItemizedReceipt `json:"rows"`
	Version     string                  `json:"snapshot_version"`
}

type current struct {
	snap    *snapshot.Snapshot
	matcher *match.Matcher
}

// Service answers lookups. Publish swaps the snapshot atomically; readers
// never observe a partially replaced snapshot.
type Service struct {
	cur        atomic.Pointer[current]
	cache      Cache
	matchCache match.Cache
	receipts   ReceiptReader
	metrics    *metrics.Metrics
	log        *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithCache attaches a profile cache.
func WithCache(c Cache) Option {
	return func(s *Service) { s.cache = c }
}

// WithMatchCache attaches a matcher result cache.
func WithMatchCache(c match.Cache) Option {
	return func(s *Service) { s.matchCache = c }
}

// WithReceipts serves itemized receipts from r.
func WithReceipts(r ReceiptReader) Option {
	return func(s *Service) { s.receipts = r }
}

// WithMetrics records lookup and match outcomes on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService returns a Service with no snapshot published.
func NewService(opts ...Option) *Service {
	s := &Service{log: zap.L().With(zap.String("component", "lookup"))}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Publish makes snap the snapshot every subsequent call reads.
func (s *Service) Publish(snap *snapshot.Snapshot) {
	var mopts []match.Option
	if s.matchCache != nil {
		mopts = append(mopts, match.WithCache(s.matchCache))
	}
	s.cur.Store(&current{
		snap:    snap,
		matcher: match.New(match.NewIndex(snap.Version, snap.Candidates()), mopts...),
	})
	s.metrics.SetPublishedCycles(len(snap.Cycles()))
	s.log.Info("lookup: snapshot published", zap.String("version", snap.Version))
}

// Snapshot returns the published snapshot, or nil.
func (s *Service) Snapshot() *snapshot.Snapshot {
	if c := s.cur.Load(); c != nil {
		return c.snap
	}
	return nil
}

// Match runs the identity matcher against the published snapshot.
func (s *Service) Match(ctx context.Context, name string, hints match.Hints) (model.MatchResult, error) {
	c := s.cur.Load()
	if c == nil {
		return model.MatchResult{}, model.ErrNoPublishedSnapshot
	}
	r := c.matcher.Match(ctx, name, hints)
	s.metrics.ObserveMatch(string(r.Tier))
	return r, nil
}

// Lookup resolves q and assembles the profile. It fails with
// model.ErrNotFound, *model.AmbiguousNameError, or
// model.ErrNoPublishedSnapshot.
func (s *Service) Lookup(ctx context.Context, q Query) (*Profile, error) {
	p, cached, err := s.lookup(ctx, q)
	s.metrics.ObserveLookup(outcome(err), cached)
	return p, err
}

// Receipts returns one page of a candidate's itemized receipts. The
// candidate must exist in the published snapshot.
func (s *Service) Receipts(ctx context.Context, q warehouse.ReceiptQuery) (*ReceiptPage, error) {
	c := s.cur.Load()
	if c == nil {
		return nil, model.ErrNoPublishedSnapshot
	}
	if s.receipts == nil {
		return nil, eris.New("lookup: itemized receipts are not configured")
	}
	q.CandidateID = strings.ToUpper(strings.TrimSpace(q.CandidateID))
	if _, ok := c.snap.Candidate(q.CandidateID); !ok {
		return nil, eris.Wrapf(model.ErrNotFound, "lookup: candidate %s", q.CandidateID)
	}
	q, err := q.Normalize()
	if err != nil {
		return nil, errors.Join(ErrInvalidQuery, err)
	}

	rows, err := s.receipts.Receipts(ctx, q)
	if err != nil {
		return nil, err
	}
	return &ReceiptPage{
		CandidateID: q.CandidateID,
		Cycles:      q.Cycles,
		Page:        q.Page,
		Limit:       q.Limit,
		Rows:        rows,
		Version:     c.snap.Version,
	}, nil
}

func outcome(err error) string {
	var amb *model.AmbiguousNameError
	switch {
	case err == nil:
		return "found"
	case errors.As(err, &amb):
		return "ambiguous"
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrNoPublishedSnapshot):
		return "unavailable"
	default:
		return "error"
	}
}

func (s *Service) lookup(ctx context.Context, q Query) (*Profile, bool, error) {
	c := s.cur.Load()
	if c == nil {
		return nil, false, model.ErrNoPublishedSnapshot
	}

	id := strings.ToUpper(strings.TrimSpace(q.ID))
	var res *model.MatchResult
	if id == "" {
		if strings.TrimSpace(q.Name) == "" {
			return nil, false, eris.Wrap(model.ErrNotFound, "lookup: empty query")
		}
		r := c.matcher.Match(ctx, q.Name, match.Hints{State: q.State, Office: q.Office})
		switch r.Tier {
		case model.TierNone:
			return nil, false, eris.Wrapf(model.ErrNotFound, "lookup: no candidate named %q", q.Name)
		case model.TierAmbiguous:
			return nil, false, r.Err()
		}
		res = &r
		id = r.CandidateIDs[0]
	}

	key := c.snap.Version + "|" + id
	if s.cache != nil {
		p, err := s.cache.Get(ctx, key)
		if err != nil {
			s.log.Warn("lookup: cache get failed", zap.String("key", key), zap.Error(err))
		} else if p != nil {
			out := *p
			out.Match = res
			return &out, true, nil
		}
	}

	p, ok := assemble(c.snap, id)
	if !ok {
		return nil, false, eris.Wrapf(model.ErrNotFound, "lookup: candidate %s", id)
	}
	if s.cache != nil {
		if err := s.cache.Set(ctx, key, p); err != nil {
			s.log.Warn("lookup: cache set failed", zap.String("key", key), zap.Error(err))
		}
		if sc, ok := s.cache.(interface{ Stats() CacheStats }); ok {
			s.metrics.SetCacheEntries(sc.Stats().Entries)
		}
	}

	out := *p
	out.Match = res
	return &out, false, nil
}

func assemble(snap *snapshot.Snapshot, id string) (*Profile, bool) {
	d, ok := snap.Candidate(id)
	if !ok {
		return nil, false
	}
	p := &Profile{
		Candidate:       d.Rows[0],
		Cycles:          d.Rows,
		Committees:      []CommitteeLink{},
		Summaries:       d.Summaries,
		TopContributors: d.TopContributors,
		TopVendors:      d.TopVendors,
		Series:          d.Series,
		Version:         snap.Version,
	}
	for _, l := range d.Links {
		cl := CommitteeLink{Role: l.Role, Cycle: l.Cycle}
		if m, ok := snap.Committee(l.CommitteeID, l.Cycle); ok {
			cl.Committee = m
		} else {
			cl.Committee = model.Committee{ID: l.CommitteeID, Cycle: l.Cycle}
		}
		for i := range d.CommitteeViews {
			v := &d.CommitteeViews[i]
			if v.CommitteeID == l.CommitteeID && v.Cycle == l.Cycle {
				cl.Activity = v
				break
			}
		}
		p.Committees = append(p.Committees, cl)
	}
	return p, true
}
