package main

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/campaignfin/internal/db"
	"github.com/sells-group/campaignfin/internal/lookup"
	"github.com/sells-group/campaignfin/internal/matchcache"
	"github.com/sells-group/campaignfin/internal/metrics"
	"github.com/sells-group/campaignfin/internal/rawsource"
	"github.com/sells-group/campaignfin/internal/warehouse"
)

// openStore connects the configured warehouse. The memory driver keeps
// nothing between runs and is useful for dry-run builds.
func openStore(ctx context.Context) (warehouse.Store, func(), error) {
	switch cfg.Store.Driver {
	case "memory":
		return warehouse.NewMemory(), func() {}, nil
	case "postgres":
		pool, err := db.Connect(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return warehouse.NewPostgres(pool), pool.Close, nil
	default:
		return nil, nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func openSource(ctx context.Context) (rawsource.Source, error) {
	switch cfg.Raw.Source {
	case "fs":
		return rawsource.FS{Root: cfg.Raw.Dir}, nil
	case "s3":
		s3cfg := cfg.Raw.S3
		return rawsource.NewS3(ctx, rawsource.S3Config{
			Bucket:          s3cfg.Bucket,
			Prefix:          s3cfg.Prefix,
			Region:          s3cfg.Region,
			Endpoint:        s3cfg.Endpoint,
			AccessKeyID:     s3cfg.AccessKeyID,
			SecretAccessKey: s3cfg.SecretAccessKey,
			PathStyle:       s3cfg.PathStyle,
		})
	default:
		return nil, eris.Errorf("unsupported raw source: %s", cfg.Raw.Source)
	}
}

// newLookupService loads the published snapshot into a lookup service.
// The match cache is optional; a failure to open it is logged and skipped.
func newLookupService(ctx context.Context, store warehouse.Store, withCache bool) (*lookup.Service, func(), error) {
	opts := []lookup.Option{lookup.WithMetrics(metrics.Default()), lookup.WithReceipts(store)}
	closeFn := func() {}

	var mc *matchcache.SQLite
	if withCache && cfg.Match.CachePath != "" {
		c, err := matchcache.Open(ctx, cfg.Match.CachePath, time.Duration(cfg.Match.CacheTTLSecs)*time.Second)
		if err != nil {
			zap.L().Warn("match cache unavailable", zap.String("path", cfg.Match.CachePath), zap.Error(err))
		} else {
			mc = c
			opts = append(opts, lookup.WithMatchCache(c))
			closeFn = func() { _ = c.Close() }
		}
	}

	snap, err := store.Load(ctx)
	if err != nil {
		closeFn()
		return nil, nil, eris.Wrap(err, "load snapshot")
	}
	svc := lookup.NewService(opts...)
	svc.Publish(snap)

	if mc != nil {
		if n, err := mc.Prune(ctx, snap.Version); err != nil {
			zap.L().Warn("match cache prune failed", zap.Error(err))
		} else if n > 0 {
			zap.L().Debug("match cache pruned", zap.Int64("entries", n))
		}
	}
	return svc, closeFn, nil
}

// parseCycles parses "2024,2022" into cycles. Empty input means the
// configured cycles.
func parseCycles(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return cfg.Pipeline.Cycles, nil
	}
	var out []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, eris.Wrapf(err, "invalid cycle %q", part)
		}
		out = append(out, n)
	}
	return out, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
