package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sells-group/campaignfin/internal/lookup"
	"github.com/sells-group/campaignfin/internal/warehouse"
)

var (
	receiptsCycles string
	receiptsLimit  int
	receiptsPage   int
	receiptsJSON   bool
)

var receiptsCmd = &cobra.Command{
	Use:   "receipts <candidate-id>",
	Short: "Page through a candidate's itemized receipts",
	Example: `  campaignfin receipts H4NY01001 --cycles 2024 --limit 50
  campaignfin receipts H4NY01001 --page 2 --json`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("lookup"); err != nil {
			return err
		}
		q := warehouse.ReceiptQuery{CandidateID: args[0], Limit: receiptsLimit, Page: receiptsPage}
		if strings.TrimSpace(receiptsCycles) != "" {
			cycles, err := parseCycles(receiptsCycles)
			if err != nil {
				return err
			}
			q.Cycles = cycles
		}

		store, closeStore, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		svc, closeSvc, err := newLookupService(ctx, store, false)
		if err != nil {
			return err
		}
		defer closeSvc()

		page, err := svc.Receipts(ctx, q)
		if err != nil {
			return err
		}
		if receiptsJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(page)
		}
		formatReceipts(os.Stdout, page)
		return nil
	},
}

func init() {
	receiptsCmd.Flags().StringVar(&receiptsCycles, "cycles", "", "comma-separated cycles (default: every published cycle)")
	receiptsCmd.Flags().IntVar(&receiptsLimit, "limit", warehouse.DefaultReceiptLimit, "rows per page (1-1000)")
	receiptsCmd.Flags().IntVar(&receiptsPage, "page", 1, "page number, starting at 1")
	receiptsCmd.Flags().BoolVar(&receiptsJSON, "json", false, "print the page as JSON")
	rootCmd.AddCommand(receiptsCmd)
}

// formatReceipts writes one page of receipts as a table.
func formatReceipts(out io.Writer, p *lookup.ReceiptPage) {
	_, _ = fmt.Fprintf(out, "%s  page %d  limit %d  snapshot %s\n\n", p.CandidateID, p.Page, p.Limit, p.Version)
	if len(p.Rows) == 0 {
		_, _ = fmt.Fprintln(out, "no receipts")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "DATE\tCYCLE\tCOMMITTEE\tCONTRIBUTOR\tSTATE\tAMOUNT\tFLAGS")
	for _, r := range p.Rows {
		date := ""
		if !r.Date.IsZero() {
			date = r.Date.Format("2006-01-02")
		}
		var flags []string
		if r.Memo {
			flags = append(flags, "memo")
		}
		if r.Joint {
			flags = append(flags, "joint")
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\t%s\t%s\t%s\t%s\t%s\n",
			date, r.Cycle, r.CommitteeID, truncate(r.Name, 40), r.State, r.Amount.StringFixed(2), strings.Join(flags, ","))
	}
	_ = w.Flush()
}
