package server

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaignfin/internal/model"
	"github.com/sells-group/campaignfin/internal/snapshot"
	"github.com/sells-group/campaignfin/internal/warehouse"
)

// Loader reads published snapshots.
type Loader interface {
	Published(ctx context.Context) ([]warehouse.Publication, error)
	Load(ctx context.Context) (*snapshot.Snapshot, error)
}

// Publisher receives freshly loaded snapshots.
type Publisher interface {
	Publish(snap *snapshot.Snapshot)
	Snapshot() *snapshot.Snapshot
}

// Reloader polls the published pointers and swaps in a new snapshot when
// any cycle's build changes. Lookups keep reading the previous snapshot
// until the swap.
type Reloader struct {
	loader   Loader
	target   Publisher
	interval time.Duration
	log      *zap.Logger
}

// NewReloader polls every interval. Default: 1m.
func NewReloader(loader Loader, target Publisher, interval time.Duration) *Reloader {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Reloader{
		loader:   loader,
		target:   target,
		interval: interval,
		log:      zap.L().With(zap.String("component", "server.reload")),
	}
}

// Reload loads and publishes a snapshot if the published builds differ
// from the one being served. It reports whether a swap happened.
func (r *Reloader) Reload(ctx context.Context) (bool, error) {
	pubs, err := r.loader.Published(ctx)
	if err != nil {
		return false, eris.Wrap(err, "reload: published")
	}
	if len(pubs) == 0 {
		return false, nil
	}
	if cur := r.target.Snapshot(); cur != nil && sameBuilds(cur.Builds, pubs) {
		return false, nil
	}

	snap, err := r.loader.Load(ctx)
	if errors.Is(err, model.ErrNoPublishedSnapshot) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrap(err, "reload: load")
	}
	r.target.Publish(snap)
	return true, nil
}

func sameBuilds(cur map[int]string, pubs []warehouse.Publication) bool {
	if len(cur) != len(pubs) {
		return false
	}
	for _, p := range pubs {
		if cur[p.Cycle] != p.BuildID {
			return false
		}
	}
	return true
}

// Run reloads on every tick until ctx ends. Failures are logged and the
// current snapshot keeps serving.
func (r *Reloader) Run(ctx context.Context) {
	t := time.NewTicker(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			swapped, err := r.Reload(ctx)
			if err != nil {
				r.log.Warn("snapshot reload failed", zap.Error(err))
				continue
			}
			if swapped {
				r.log.Info("snapshot reloaded", zap.String("version", r.target.Snapshot().Version))
			}
		}
	}
}
