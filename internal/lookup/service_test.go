package lookup

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/campaignfin/internal/match"
	"github.com/sells-group/campaignfin/internal/model"
	"github.com/sells-group/campaignfin/internal/resolve"
	"github.com/sells-group/campaignfin/internal/snapshot"
	"github.com/sells-group/campaignfin/internal/warehouse"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func cand(id, name, state, office string, cycle int) model.Candidate {
	return model.Candidate{
		ID: id, Cycle: cycle, DisplayName: name, NormalizedName: resolve.NormalizeName(name),
		SearchKeys: resolve.SearchKeys(name), State: state, Office: office,
	}
}

func testSnapshot() *snapshot.Snapshot {
	return snapshot.New(
		snapshot.Cycle{
			Cycle: 2022, BuildID: "b22",
			Candidates: []model.Candidate{cand("C001", "DOE, JANE Q.", "NY", "H", 2022)},
			Summaries:  []model.CycleSummary{{CandidateID: "C001", Cycle: 2022, IndividualTotal: decimal.NewFromInt(10)}},
		},
		snapshot.Cycle{
			Cycle: 2024, BuildID: "b24",
			Candidates: []model.Candidate{
				cand("C001", "DOE, JANE Q.", "NY", "H", 2024),
				cand("A", "SMITH, JOHN", "TX", "H", 2024),
				cand("B", "SMITH, JOHN", "CA", "S", 2024),
			},
			Committees: []model.Committee{{ID: "K1", Cycle: 2024, Name: "DOE FOR CONGRESS"}},
			Links:      []model.CandidateCommittee{{CandidateID: "C001", CommitteeID: "K1", Cycle: 2024, Role: model.RolePrincipal}},
			Summaries:  []model.CycleSummary{{CandidateID: "C001", Cycle: 2024, IndividualTotal: decimal.RequireFromString("500.00")}},
			CommitteeViews: []model.CommitteeView{
				{CandidateID: "C001", CommitteeID: "K1", Cycle: 2024, Role: model.RolePrincipal, TotalReceipts: decimal.NewFromInt(500)},
			},
			TopContributors: []model.TopEntry{{CandidateID: "C001", Cycle: 2024, Rank: 1, Name: "ROE RICHARD"}},
		},
	)
}

func publishedService(opts ...Option) *Service {
	s := NewService(opts...)
	s.Publish(testSnapshot())
	return s
}

func TestLookup_NoSnapshot(t *testing.T) {
	_, err := NewService().Lookup(context.Background(), Query{ID: "C001"})
	assert.ErrorIs(t, err, model.ErrNoPublishedSnapshot)
}

func TestLookup_ByID(t *testing.T) {
	p, err := publishedService().Lookup(context.Background(), Query{ID: "c001"})
	require.NoError(t, err)

	assert.Equal(t, "C001", p.Candidate.ID)
	assert.Equal(t, 2024, p.Candidate.Cycle)
	require.Len(t, p.Summaries, 2)
	assert.Equal(t, 2024, p.Summaries[0].Cycle)
	assert.Equal(t, 2022, p.Summaries[1].Cycle)
	require.Len(t, p.Committees, 1)
	assert.Equal(t, "DOE FOR CONGRESS", p.Committees[0].Committee.Name)
	require.NotNil(t, p.Committees[0].Activity)
	assert.True(t, p.Committees[0].Activity.TotalReceipts.Equal(decimal.NewFromInt(500)))
	assert.Len(t, p.TopContributors, 1)
	assert.Nil(t, p.Match)
	assert.Equal(t, "2024:b24,2022:b22", p.Version)
}

func TestLookup_ByName(t *testing.T) {
	p, err := publishedService().Lookup(context.Background(), Query{Name: "Jane Doe"})
	require.NoError(t, err)
	assert.Equal(t, "C001", p.Candidate.ID)
	assert.True(t, p.Summaries[0].IndividualTotal.Equal(decimal.RequireFromString("500")))
	require.NotNil(t, p.Match)
	assert.Equal(t, model.TierExact, p.Match.Tier)
}

func TestLookup_Ambiguous(t *testing.T) {
	_, err := publishedService().Lookup(context.Background(), Query{Name: "John Smith"})
	var amb *model.AmbiguousNameError
	require.ErrorAs(t, err, &amb)
	assert.Equal(t, []string{"A", "B"}, amb.IDs)
}

func TestLookup_HintsDisambiguate(t *testing.T) {
	p, err := publishedService().Lookup(context.Background(), Query{Name: "John Smith", State: "California"})
	require.NoError(t, err)
	assert.Equal(t, "B", p.Candidate.ID)
	assert.Equal(t, model.TierExactContext, p.Match.Tier)
}

func TestLookup_NotFound(t *testing.T) {
	s := publishedService()
	for _, q := range []Query{{ID: "ZZZ"}, {Name: "Jon Smyth"}, {}} {
		_, err := s.Lookup(context.Background(), q)
		assert.True(t, errors.Is(err, model.ErrNotFound), "%+v", q)
	}
}

func TestLookup_CacheIsKeyedBySnapshot(t *testing.T) {
	cache := NewMemoryCache(10, time.Minute)
	s := publishedService(WithCache(cache))
	ctx := context.Background()

	_, err := s.Lookup(ctx, Query{ID: "C001"})
	require.NoError(t, err)
	_, err = s.Lookup(ctx, Query{ID: "C001"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), cache.Stats().Hits)

	s.Publish(snapshot.New(snapshot.Cycle{
		Cycle: 2024, BuildID: "b24-2",
		Candidates: []model.Candidate{cand("C001", "DOE, JANE Q.", "NY", "H", 2024)},
	}))
	p, err := s.Lookup(ctx, Query{ID: "C001"})
	require.NoError(t, err)
	assert.Equal(t, "2024:b24-2", p.Version)
	assert.Empty(t, p.Summaries)
	assert.Equal(t, int64(1), cache.Stats().Hits)
}

func TestService_Match(t *testing.T) {
	res, err := publishedService().Match(context.Background(), "John Smith", match.Hints{State: "TX"})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, res.CandidateIDs)

	_, err = NewService().Match(context.Background(), "John Smith", match.Hints{})
	assert.ErrorIs(t, err, model.ErrNoPublishedSnapshot)
}

func TestMemoryCache_EvictsAndExpires(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(2, time.Minute)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return base }

	require.NoError(t, c.Set(ctx, "a", &Profile{Version: "a"}))
	require.NoError(t, c.Set(ctx, "b", &Profile{Version: "b"}))
	got, _ := c.Get(ctx, "a")
	require.NotNil(t, got)
	require.NoError(t, c.Set(ctx, "c", &Profile{Version: "c"}))

	got, _ = c.Get(ctx, "b")
	assert.Nil(t, got, "least recently used entry evicted")
	got, _ = c.Get(ctx, "a")
	assert.NotNil(t, got)

	c.now = func() time.Time { return base.Add(2 * time.Minute) }
	got, _ = c.Get(ctx, "c")
	assert.Nil(t, got)
	assert.Equal(t, 1, c.Stats().Entries)
}

type fakeRedis struct {
	data   map[string]string
	ttl    time.Duration
	getErr error
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value any, expiration time.Duration) *redis.StatusCmd {
	f.data[key] = string(value.([]byte))
	f.ttl = expiration
	return redis.NewStatusResult("OK", nil)
}

func TestRedisCache_RoundTrip(t *testing.T) {
	ctx := context.Background()
	f := &fakeRedis{data: map[string]string{}}
	c := NewRedisCache(f, 5*time.Minute)

	got, err := c.Get(ctx, "v1|C001")
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, c.Set(ctx, "v1|C001", &Profile{Candidate: model.Candidate{ID: "C001"}, Version: "v1"}))
	assert.Equal(t, 5*time.Minute, f.ttl)
	assert.Contains(t, f.data, "campaignfin:profile:v1|C001")

	got, err = c.Get(ctx, "v1|C001")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "C001", got.Candidate.ID)
}

func TestRedisCache_Error(t *testing.T) {
	c := NewRedisCache(&fakeRedis{getErr: errors.New("connection refused")}, time.Minute)
	_, err := c.Get(context.Background(), "k")
	assert.Error(t, err)
}

func TestRedisCache_ServiceFallsThroughOnError(t *testing.T) {
	c := NewRedisCache(&fakeRedis{data: map[string]string{}, getErr: errors.New("down")}, time.Minute)
	p, err := publishedService(WithCache(c)).Lookup(context.Background(), Query{ID: "C001"})
	require.NoError(t, err)
	assert.Equal(t, "C001", p.Candidate.ID)
}

func receiptStore(t *testing.T) *warehouse.Memory {
	t.Helper()
	ctx := context.Background()
	m := warehouse.NewMemory()
	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }
	rcpt := func(sub int64, d int) model.ItemizedReceipt {
		return model.ItemizedReceipt{
			CandidateID: "C001", Role: model.RolePrincipal,
			Transaction: model.Transaction{
				SubID: sub, CommitteeID: "K1", Kind: model.KindReceipt, Cycle: 2024,
				Date: day(d), Amount: decimal.NewFromInt(sub), Hash: "h" + decimal.NewFromInt(sub).String(),
			},
		}
	}
	b, err := m.BeginBuild(ctx, 2024, "b24")
	require.NoError(t, err)
	require.NoError(t, b.Stage(ctx, snapshot.Cycle{
		Cycle: 2024, BuildID: "b24",
		Receipts: []model.ItemizedReceipt{rcpt(1, 1), rcpt(2, 3), rcpt(3, 2)},
	}, nil))
	require.NoError(t, b.Publish(ctx))
	return m
}

func TestService_Receipts(t *testing.T) {
	s := publishedService(WithReceipts(receiptStore(t)))

	page, err := s.Receipts(context.Background(), warehouse.ReceiptQuery{CandidateID: " c001 ", Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, "C001", page.CandidateID)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 2, page.Limit)
	require.Len(t, page.Rows, 2)
	assert.Equal(t, int64(2), page.Rows[0].SubID)
	assert.Equal(t, int64(3), page.Rows[1].SubID)

	page, err = s.Receipts(context.Background(), warehouse.ReceiptQuery{CandidateID: "C001", Limit: 2, Page: 2})
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)
	assert.Equal(t, int64(1), page.Rows[0].SubID)
}

func TestService_ReceiptsErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewService(WithReceipts(warehouse.NewMemory())).Receipts(ctx, warehouse.ReceiptQuery{CandidateID: "C001"})
	assert.ErrorIs(t, err, model.ErrNoPublishedSnapshot)

	_, err = publishedService().Receipts(ctx, warehouse.ReceiptQuery{CandidateID: "C001"})
	assert.Error(t, err)

	s := publishedService(WithReceipts(warehouse.NewMemory()))
	_, err = s.Receipts(ctx, warehouse.ReceiptQuery{CandidateID: "NOPE"})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = s.Receipts(ctx, warehouse.ReceiptQuery{CandidateID: "C001", Limit: 5000})
	assert.ErrorIs(t, err, ErrInvalidQuery)
}
