// Package pipeline runs cycle builds: read the raw bulk files, derive
// dimensions, linkage and facts, then stage and publish them through the
// warehouse. Cycles build in parallel; each holds its own cycle lock.
package pipeline

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/campaignfin/internal/dimension"
	"github.com/sells-group/campaignfin/internal/metrics"
	"github.com/sells-group/campaignfin/internal/rawsource"
	"github.com/sells-group/campaignfin/internal/schema"
	"github.com/sells-group/campaignfin/internal/warehouse"
)

// Engine orchestrates cycle builds.
type Engine struct {
	store    warehouse.Store
	source   rawsource.Source
	registry *schema.Registry
	metrics  *metrics.Metrics
	newID    func() string
	now      func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics records build counters on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithRegistry replaces the built-in header registry.
func WithRegistry(r *schema.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

// NewEngine creates an engine reading from src and writing to store.
func NewEngine(store warehouse.Store, src rawsource.Source, opts ...Option) *Engine {
	e := &Engine{
		store:    store,
		source:   src,
		registry: schema.DefaultRegistry(),
		newID:    uuid.NewString,
		now:      time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// RunOpts selects the cycles to build.
type RunOpts struct {
	Cycles  []int // default: DefaultCycles
	Workers int   // parallel cycle builds, default: one per cycle
	TopN    int   // ranked entries kept per candidate per cycle
}

// CycleResult is the outcome of one cycle build.
type CycleResult struct {
	Cycle   int                  `json:"cycle"`
	BuildID string               `json:"build_id"`
	Status  string               `json:"status"`
	Stats   warehouse.BuildStats `json:"stats"`
	Elapsed time.Duration        `json:"elapsed"`
	Err     error                `json:"-"`
}

// DefaultCycles returns the three most recent even cycles as of now.
func DefaultCycles(now time.Time) []int {
	even := now.Year() - now.Year()%2
	return []int{even, even - 2, even - 4}
}

// Run builds every selected cycle. A failed cycle never stops the others
// and never touches its published snapshot. The returned error reports
// how many cycles failed; results are in cycle order, newest first.
func (e *Engine) Run(ctx context.Context, opts RunOpts) ([]CycleResult, error) {
	log := zap.L().With(zap.String("component", "pipeline.engine"))

	cycles, err := normalizeCycles(opts.Cycles, e.now())
	if err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = len(cycles)
	}

	log.Info("starting builds", zap.Ints("cycles", cycles), zap.Int("workers", workers))

	results := make([]CycleResult, len(cycles))
	var g errgroup.Group
	g.SetLimit(workers)
	for i, cycle := range cycles {
		g.Go(func() error {
			results[i] = e.BuildCycle(ctx, cycle, opts.TopN)
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	var errs []error
	for _, r := range results {
		if r.Err != nil {
			failed++
			errs = append(errs, r.Err)
		}
	}
	log.Info("builds complete",
		zap.Int("built", len(results)-failed),
		zap.Int("failed", failed),
	)
	if failed > 0 {
		return results, eris.Wrapf(errors.Join(errs...), "pipeline: %d of %d cycles failed", failed, len(cycles))
	}
	return results, nil
}

func normalizeCycles(in []int, now time.Time) ([]int, error) {
	if len(in) == 0 {
		return DefaultCycles(now), nil
	}
	out := make([]int, 0, len(in))
	for _, c := range in {
		d, ok := dimension.DeriveCycle(c)
		if !ok || d != c {
			return nil, eris.Errorf("pipeline: %d is not an election cycle", c)
		}
		if !slices.Contains(out, c) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b int) int { return b - a })
	return out, nil
}

// BuildCycle runs one cycle end to end under its cycle lock. On any
// failure the staged rows are discarded and the build log records the
// error with whatever counters were gathered.
func (e *Engine) BuildCycle(ctx context.Context, cycle, topN int) CycleResult {
	start := e.now()
	res := CycleResult{Cycle: cycle, BuildID: e.newID()}
	log := zap.L().With(
		zap.String("component", "pipeline.engine"),
		zap.Int("cycle", cycle),
		zap.String("build_id", res.BuildID),
	)

	build, err := e.store.BeginBuild(ctx, cycle, res.BuildID)
	if err != nil {
		res.Status = warehouse.StatusFailed
		res.Err = eris.Wrapf(err, "pipeline: cycle %d", cycle)
		log.Warn("build not started", zap.Error(err))
		return res
	}

	logID, err := e.store.StartBuild(ctx, res.BuildID, cycle)
	if err != nil {
		e.discard(build, log)
		res.Status = warehouse.StatusFailed
		res.Err = eris.Wrapf(err, "pipeline: cycle %d: start build log", cycle)
		return res
	}

	log.Info("build started")
	stats := newStats()
	err = e.runBuild(ctx, build, topN, stats)
	res.Stats = stats.result()
	res.Elapsed = e.now().Sub(start)

	// Recording the outcome must survive a cancelled build context.
	logCtx := context.WithoutCancel(ctx)
	if err != nil {
		e.discard(build, log)
		res.Status = warehouse.StatusFailed
		res.Err = eris.Wrapf(err, "pipeline: cycle %d", cycle)
		if logErr := e.store.FailBuild(logCtx, logID, err.Error(), res.Stats); logErr != nil {
			log.Error("failed to record build failure", zap.Error(logErr))
		}
		log.Error("build failed", zap.Error(err), zap.Duration("elapsed", res.Elapsed))
	} else {
		res.Status = warehouse.StatusComplete
		if logErr := e.store.CompleteBuild(logCtx, logID, res.Stats); logErr != nil {
			log.Error("failed to record build completion", zap.Error(logErr))
		}
		log.Info("build published",
			zap.Int64("candidates", res.Stats.Candidates),
			zap.Int64("committees", res.Stats.Committees),
			zap.Int64("links", res.Stats.Links),
			zap.Int64("quarantined", res.Stats.Quarantined),
			zap.Int64("duplicates", res.Stats.Duplicates),
			zap.Duration("elapsed", res.Elapsed),
		)
	}

	e.metrics.ObserveBuild(cycle, res.Status, res.Elapsed)
	e.metrics.ObserveDuplicates(cycle, res.Stats.Duplicates)
	return res
}

func (e *Engine) runBuild(ctx context.Context, build warehouse.Build, topN int, stats *buildStats) error {
	data, quarantine, err := e.derive(ctx, build.Cycle(), build.ID(), topN, stats)
	if err != nil {
		return err
	}
	if err := build.Stage(ctx, data, quarantine); err != nil {
		return err
	}
	return build.Publish(ctx)
}

func (e *Engine) discard(build warehouse.Build, log *zap.Logger) {
	if err := build.Discard(context.Background()); err != nil {
		log.Error("failed to discard build", zap.Error(err))
	}
}

// buildStats gathers counters from every stage of one build.
type buildStats struct {
	mu sync.Mutex
	s  warehouse.BuildStats
}

func newStats() *buildStats {
	return &buildStats{s: warehouse.BuildStats{
		Rows:     map[string]int64{},
		ByReason: map[string]int64{},
	}}
}

func (b *buildStats) update(fn func(s *warehouse.BuildStats)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(&b.s)
}

func (b *buildStats) result() warehouse.BuildStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.s
}
