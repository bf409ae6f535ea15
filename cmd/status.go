package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/campaignfin/internal/warehouse"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the build log and published cycles",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("status"); err != nil {
			return err
		}

		store, closeStore, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		pubs, err := store.Published(ctx)
		if err != nil {
			return eris.Wrap(err, "status: published")
		}
		entries, err := store.ListBuilds(ctx, statusLimit)
		if err != nil {
			return eris.Wrap(err, "status: build log")
		}

		if len(entries) == 0 {
			zap.L().Info("no builds found, run 'campaignfin build' to build cycles")
			return nil
		}

		formatPublished(os.Stdout, pubs)
		formatBuildEntries(os.Stdout, entries)
		return nil
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 50, "maximum build log entries to show")
	rootCmd.AddCommand(statusCmd)
}

// formatPublished writes the published pointer of every cycle to out.
func formatPublished(out io.Writer, pubs []warehouse.Publication) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CYCLE\tPUBLISHED BUILD\tPUBLISHED AT")
	for _, p := range pubs {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\n", p.Cycle, p.BuildID, p.PublishedAt.Format("2006-01-02 15:04"))
	}
	_, _ = fmt.Fprintln(w)
	_ = w.Flush()
}

// formatBuildEntries writes a tabular representation of build log entries to out.
func formatBuildEntries(out io.Writer, entries []warehouse.BuildEntry) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tCYCLE\tSTATUS\tSTARTED\tDURATION\tCANDIDATES\tQUARANTINED\tDUPLICATES\tERROR")
	_, _ = fmt.Fprintln(w, "--\t-----\t------\t-------\t--------\t----------\t-----------\t----------\t-----")

	for _, e := range entries {
		dur := "-"
		if e.CompletedAt != nil {
			dur = e.CompletedAt.Sub(e.StartedAt).Round(time.Second).String()
		}

		_, _ = fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			e.ID,
			e.Cycle,
			e.Status,
			e.StartedAt.Format("2006-01-02 15:04"),
			dur,
			e.Stats.Candidates,
			e.Stats.Quarantined,
			e.Stats.Duplicates,
			truncate(e.Error, 60),
		)
	}
	_ = w.Flush()
}
