package warehouse

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/campaignfin/internal/facts"
	"github.com/sells-group/campaignfin/internal/model"
	"github.com/sells-group/campaignfin/internal/snapshot"
)

// Memory is an in-process Store used by tests and by `store.driver:
// memory`. It keeps the same lock and publish semantics as Postgres.
type Memory struct {
	mu        sync.Mutex
	locked    map[int]bool
	published map[int]memoryPublication
	quar      map[string][]model.Quarantine
	builds    []BuildEntry
	now       func() time.Time
}

type memoryPublication struct {
	data snapshot.Cycle
	at   time.Time
}

var _ Store = (*Memory)(nil)

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{
		locked:    make(map[int]bool),
		published: make(map[int]memoryPublication),
		quar:      make(map[string][]model.Quarantine),
		now:       time.Now,
	}
}

type memBuild struct {
	store  *Memory
	id     string
	cycle  int
	staged *snapshot.Cycle
	quar   []model.Quarantine
	done   bool
}

// BeginBuild implements Store.
func (m *Memory) BeginBuild(_ context.Context, cycle int, buildID string) (Build, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.locked[cycle] {
		return nil, eris.Wrapf(model.ErrBuildInProgress, "warehouse: cycle %d", cycle)
	}
	m.locked[cycle] = true
	return &memBuild{store: m, id: buildID, cycle: cycle}, nil
}

func (b *memBuild) ID() string { return b.id }
func (b *memBuild) Cycle() int { return b.cycle }

func (b *memBuild) Stage(_ context.Context, data snapshot.Cycle, quarantine []model.Quarantine) error {
	if b.done {
		return eris.New("warehouse: build already finished")
	}
	data.Cycle = b.cycle
	data.BuildID = b.id
	b.staged = &data
	b.quar = quarantine
	return nil
}

func (b *memBuild) Publish(_ context.Context) error {
	if b.done {
		return eris.New("warehouse: build already finished")
	}
	if b.staged == nil {
		b.staged = &snapshot.Cycle{Cycle: b.cycle, BuildID: b.id}
	}
	m := b.store
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published[b.cycle] = memoryPublication{data: *b.staged, at: m.now()}
	m.quar[b.id] = b.quar
	delete(m.locked, b.cycle)
	b.done = true
	return nil
}

func (b *memBuild) Discard(_ context.Context) error {
	if b.done {
		return nil
	}
	b.done = true
	m := b.store
	m.mu.Lock()
	delete(m.locked, b.cycle)
	m.mu.Unlock()
	return nil
}

// Published implements Store.
func (m *Memory) Published(_ context.Context) ([]Publication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Publication, 0, len(m.published))
	for c, p := range m.published {
		out = append(out, Publication{Cycle: c, BuildID: p.data.BuildID, PublishedAt: p.at})
	}
	slices.SortFunc(out, func(a, b Publication) int { return b.Cycle - a.Cycle })
	return out, nil
}

// Load implements Store.
func (m *Memory) Load(_ context.Context) (*snapshot.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.published) == 0 {
		return nil, model.ErrNoPublishedSnapshot
	}
	parts := make([]snapshot.Cycle, 0, len(m.published))
	for _, p := range m.published {
		parts = append(parts, p.data)
	}
	return snapshot.New(parts...), nil
}

// Receipts implements Store with the same ordering as Postgres.
func (m *Memory) Receipts(_ context.Context, q ReceiptQuery) ([]model.ItemizedReceipt, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	var all []model.ItemizedReceipt
	for c, p := range m.published {
		if len(q.Cycles) > 0 && !slices.Contains(q.Cycles, c) {
			continue
		}
		for _, r := range p.data.Receipts {
			if r.CandidateID == q.CandidateID {
				all = append(all, r)
			}
		}
	}
	m.mu.Unlock()

	slices.SortFunc(all, facts.CompareReceipts)
	start := min(q.Offset(), len(all))
	end := min(start+q.Limit, len(all))
	return all[start:end], nil
}

// Quarantine returns the rows quarantined by a published build.
func (m *Memory) Quarantine(buildID string) []model.Quarantine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.quar[buildID]
}

// StartBuild implements BuildLog.
func (m *Memory) StartBuild(_ context.Context, buildID string, cycle int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := int64(len(m.builds) + 1)
	m.builds = append(m.builds, BuildEntry{ID: id, BuildID: buildID, Cycle: cycle, Status: StatusRunning, StartedAt: m.now()})
	return id, nil
}

// CompleteBuild implements BuildLog.
func (m *Memory) CompleteBuild(_ context.Context, id int64, stats BuildStats) error {
	return m.finish(id, StatusComplete, "", stats)
}

// FailBuild implements BuildLog.
func (m *Memory) FailBuild(_ context.Context, id int64, errMsg string, stats BuildStats) error {
	return m.finish(id, StatusFailed, errMsg, stats)
}

func (m *Memory) finish(id int64, status, errMsg string, stats BuildStats) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 1 || int(id) > len(m.builds) {
		return eris.Errorf("buildlog: unknown build %d", id)
	}
	e := &m.builds[id-1]
	now := m.now()
	e.Status = status
	e.CompletedAt = &now
	e.Error = errMsg
	e.Stats = stats
	return nil
}

// ListBuilds implements BuildLog.
func (m *Memory) ListBuilds(_ context.Context, limit int) ([]BuildEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]BuildEntry, 0, len(m.builds))
	for i := len(m.builds) - 1; i >= 0; i-- {
		out = append(out, m.builds[i])
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
