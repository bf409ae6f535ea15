package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/campaignfin/internal/metrics"
	"github.com/sells-group/campaignfin/internal/model"
	"github.com/sells-group/campaignfin/internal/pipeline"
	"github.com/sells-group/campaignfin/internal/schema"
	"github.com/sells-group/campaignfin/internal/warehouse"
)

var (
	buildCycles  string
	buildWorkers int
	buildTopN    int
)

var buildCmd = &cobra.Command{
	Use:   "build",
	Short: "Rebuild and publish cycles from raw bulk files",
	Long: `Derives dimensions, linkage and facts for each cycle and publishes the
result atomically. Cycles build in parallel; a failed cycle keeps its
previously published snapshot and does not stop the others.

Examples:
  campaignfin build                     # three most recent cycles
  campaignfin build --cycles 2024,2022  # explicit cycles`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if buildWorkers > 0 {
			cfg.Pipeline.Workers = buildWorkers
		}
		if buildTopN > 0 {
			cfg.Pipeline.TopN = buildTopN
		}
		if err := cfg.Validate("build"); err != nil {
			return err
		}
		cycles, err := parseCycles(buildCycles)
		if err != nil {
			return err
		}

		store, closeStore, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		src, err := openSource(ctx)
		if err != nil {
			return err
		}

		opts := []pipeline.Option{pipeline.WithMetrics(metrics.Default())}
		if cfg.Pipeline.HeaderSpec != "" {
			reg, err := schema.LoadRegistry(cfg.Pipeline.HeaderSpec)
			if err != nil {
				return err
			}
			opts = append(opts, pipeline.WithRegistry(reg))
		}

		engine := pipeline.NewEngine(store, src, opts...)
		results, runErr := engine.Run(ctx, pipeline.RunOpts{
			Cycles:  cycles,
			Workers: cfg.Pipeline.Workers,
			TopN:    cfg.Pipeline.TopN,
		})
		formatCycleResults(os.Stdout, results)
		if mem, ok := store.(*warehouse.Memory); ok {
			formatQuarantine(os.Stdout, mem, results, 20)
		}
		if runErr != nil {
			return runErr
		}

		zap.L().Info("build complete", zap.Int("cycles", len(results)))
		return nil
	},
}

func init() {
	buildCmd.Flags().StringVar(&buildCycles, "cycles", "", "comma-separated cycles (default from config, else the three most recent)")
	buildCmd.Flags().IntVar(&buildWorkers, "workers", 0, "parallel cycle builds (default from config)")
	buildCmd.Flags().IntVar(&buildTopN, "top-n", 0, "ranked contributors and vendors per candidate (default from config)")
	rootCmd.AddCommand(buildCmd)
}

// formatCycleResults writes one line per cycle build to out.
func formatCycleResults(out io.Writer, results []pipeline.CycleResult) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CYCLE\tSTATUS\tBUILD\tELAPSED\tCANDIDATES\tCOMMITTEES\tLINKS\tQUARANTINED\tDUPLICATES\tMISSING\tERROR")
	for _, r := range results {
		errMsg := ""
		if r.Err != nil {
			errMsg = truncate(r.Err.Error(), 60)
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%s\t%s\n",
			r.Cycle,
			r.Status,
			r.BuildID,
			r.Elapsed.Round(time.Millisecond),
			r.Stats.Candidates,
			r.Stats.Committees,
			r.Stats.Links,
			r.Stats.Quarantined,
			r.Stats.Duplicates,
			strings.Join(r.Stats.Missing, ","),
			errMsg,
		)
	}
	_ = w.Flush()
}

type quarantineSource interface {
	Quarantine(buildID string) []model.Quarantine
}

// formatQuarantine lists quarantined rows of published builds, at most
// limit per cycle. A memory-store build has no other place to inspect them.
func formatQuarantine(out io.Writer, src quarantineSource, results []pipeline.CycleResult, limit int) {
	var rows [][]model.Quarantine
	var cycles []int
	for _, r := range results {
		if r.Status != warehouse.StatusComplete {
			continue
		}
		if q := src.Quarantine(r.BuildID); len(q) > 0 {
			rows = append(rows, q)
			cycles = append(cycles, r.Cycle)
		}
	}
	if len(rows) == 0 {
		return
	}

	_, _ = fmt.Fprintln(out)
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CYCLE\tTABLE\tLINE\tREASON\tDETAIL")
	for i, qs := range rows {
		for j, q := range qs {
			if j == limit {
				_, _ = fmt.Fprintf(w, "%d\t\t\t\t(%d more)\n", cycles[i], len(qs)-limit)
				break
			}
			_, _ = fmt.Fprintf(w, "%d\t%s\t%d\t%s\t%s\n", cycles[i], q.Table, q.Line, q.Reason, truncate(q.Detail, 60))
		}
	}
	_ = w.Flush()
}
