package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/campaignfin/internal/config"
	"github.com/sells-group/campaignfin/internal/fetcher"
	"github.com/sells-group/campaignfin/internal/metrics"
	"github.com/sells-group/campaignfin/internal/pipeline"
	"github.com/sells-group/campaignfin/internal/resilience"
)

var (
	fetchCycles string
	fetchTables string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Download FEC bulk files into the raw directory",
	Long: `Mirrors the FEC bulk archives for each cycle into raw.dir. Archives
whose ETag is unchanged are skipped. All cycles share one request quota.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("fetch"); err != nil {
			return err
		}
		cycles, err := parseCycles(fetchCycles)
		if err != nil {
			return err
		}
		if len(cycles) == 0 {
			cycles = pipeline.DefaultCycles(time.Now())
		}
		tables, err := parseTables(fetchTables)
		if err != nil {
			return err
		}

		f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
			UserAgent:         cfg.Fetch.UserAgent,
			APIKey:            cfg.Fetch.APIKey,
			Timeout:           time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
			Retry:             fetchRetry(cfg.Fetch),
			RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
			Quota:             fetcher.NewQuotaTracker(cfg.Fetch.QuotaPerWindow, cfg.Fetch.Window()),
			Metrics:           metrics.Default(),
		})
		bulk := fetcher.NewBulk(f, cfg.Fetch.BaseURL, cfg.Raw.Dir)

		results, fetchErr := fetchAll(ctx, bulk, cycles, tables, cfg.Pipeline.Workers)
		formatFetchResults(os.Stdout, results)
		return fetchErr
	},
}

func init() {
	fetchCmd.Flags().StringVar(&fetchCycles, "cycles", "", "comma-separated cycles (default from config, else the three most recent)")
	fetchCmd.Flags().StringVar(&fetchTables, "tables", "", "comma-separated tables (default: all)")
	rootCmd.AddCommand(fetchCmd)
}

// fetchRetry maps the fetch settings onto the download retry policy.
func fetchRetry(f config.FetchConfig) resilience.RetryConfig {
	return resilience.FromRetryConfig(resilience.Settings{
		MaxAttempts:      f.MaxRetries,
		InitialBackoffMs: f.InitialBackoffMs,
		MaxBackoffMs:     f.MaxBackoffMs,
		MaxHintWaitSecs:  f.MaxHintWaitSecs,
		Multiplier:       f.BackoffMultiplier,
		JitterFraction:   f.JitterFraction,
	})
}

func parseTables(s string) ([]string, error) {
	if strings.TrimSpace(s) == "" {
		return fetcher.BulkTables, nil
	}
	var out []string
	for _, t := range strings.Split(s, ",") {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if !slices.Contains(fetcher.BulkTables, t) {
			return nil, eris.Errorf("unknown table %q (want one of %s)", t, strings.Join(fetcher.BulkTables, ","))
		}
		out = append(out, t)
	}
	return out, nil
}

// fetchAll fetches cycles in parallel. A failed cycle does not cancel the
// others; every failure is reported in the returned error.
func fetchAll(ctx context.Context, bulk *fetcher.Bulk, cycles []int, tables []string, workers int) ([]fetcher.Result, error) {
	var (
		mu      sync.Mutex
		results []fetcher.Result
		errs    []error
	)
	g := new(errgroup.Group)
	if workers > 0 {
		g.SetLimit(workers)
	}
	for _, cycle := range cycles {
		g.Go(func() error {
			res, err := bulk.FetchCycle(ctx, cycle, tables)
			mu.Lock()
			defer mu.Unlock()
			results = append(results, res...)
			if err != nil {
				zap.L().Error("fetch cycle failed", zap.Int("cycle", cycle), zap.Error(err))
				errs = append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	slices.SortStableFunc(results, func(a, b fetcher.Result) int {
		if a.Cycle != b.Cycle {
			return b.Cycle - a.Cycle
		}
		return slices.Index(fetcher.BulkTables, a.Table) - slices.Index(fetcher.BulkTables, b.Table)
	})
	if len(errs) > 0 {
		return results, eris.Wrapf(errors.Join(errs...), "fetch: %d of %d cycles failed", len(errs), len(cycles))
	}
	return results, nil
}

func formatFetchResults(out io.Writer, results []fetcher.Result) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CYCLE\tTABLE\tSTATUS\tBYTES")
	for _, r := range results {
		status := "unchanged"
		switch {
		case r.Missing:
			status = "missing"
		case r.Changed:
			status = "updated"
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", r.Cycle, r.Table, status, r.Bytes)
	}
	_ = w.Flush()
}
