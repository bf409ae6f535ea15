package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/campaignfin/internal/lookup"
	"github.com/sells-group/campaignfin/internal/model"
)

var (
	lookupID     string
	lookupState  string
	lookupOffice string
	lookupJSON   bool
)

var lookupCmd = &cobra.Command{
	Use:   "lookup [name]",
	Short: "Look up a candidate profile by name or id",
	Example: `  campaignfin lookup "Jane Doe" --state NY
  campaignfin lookup --id H4NY01001 --json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("lookup"); err != nil {
			return err
		}
		q := lookup.Query{ID: lookupID, Name: strings.Join(args, " "), State: lookupState, Office: lookupOffice}
		if strings.TrimSpace(q.ID) == "" && strings.TrimSpace(q.Name) == "" {
			return eris.New("lookup: a name argument or --id is required")
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

		p, err := svc.Lookup(ctx, q)
		var amb *model.AmbiguousNameError
		if errors.As(err, &amb) {
			return eris.Errorf("lookup: %q matches several candidates, narrow with --state/--office or use --id: %s",
				amb.Name, strings.Join(amb.IDs, ", "))
		}
		if err != nil {
			return err
		}

		if lookupJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		}
		formatProfile(os.Stdout, p)
		return nil
	},
}

func init() {
	lookupCmd.Flags().StringVar(&lookupID, "id", "", "candidate id")
	lookupCmd.Flags().StringVar(&lookupState, "state", "", "state hint (code or name)")
	lookupCmd.Flags().StringVar(&lookupOffice, "office", "", "office hint (P, S, H or president, senate, house)")
	lookupCmd.Flags().BoolVar(&lookupJSON, "json", false, "print the profile as JSON")
	rootCmd.AddCommand(lookupCmd)
}

// formatProfile writes a readable candidate profile to out.
func formatProfile(out io.Writer, p *lookup.Profile) {
	c := p.Candidate
	_, _ = fmt.Fprintf(out, "%s (%s)\n", c.DisplayName, c.ID)
	office := c.OfficeFull
	if office == "" {
		office = c.Office
	}
	_, _ = fmt.Fprintf(out, "  %s %s %s  party %s  cycle %d\n", office, c.State, c.District, c.Party, c.Cycle)
	if p.Match != nil {
		_, _ = fmt.Fprintf(out, "  matched %q as %s via %s\n", p.Match.Query, p.Match.Tier, p.Match.Relaxation)
	}
	_, _ = fmt.Fprintf(out, "  snapshot %s\n\n", p.Version)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "CYCLE\tRECEIPTS\tINDIVIDUAL\tCOMMITTEE\tPARTY\tSELF\tOTHER\tDISBURSEMENTS\tJOINT")
	for _, s := range p.Summaries {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\t%t\n",
			s.Cycle,
			s.TotalReceipts.StringFixed(2),
			s.IndividualTotal.StringFixed(2),
			s.CommitteeTotal.StringFixed(2),
			s.PartyTotal.StringFixed(2),
			s.SelfTotal.StringFixed(2),
			s.OtherTotal.StringFixed(2),
			s.TotalDisbursements.StringFixed(2),
			s.JointAttribution,
		)
	}
	_ = w.Flush()

	if len(p.Committees) > 0 {
		_, _ = fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "CYCLE\tCOMMITTEE\tROLE\tNAME")
		for _, cl := range p.Committees {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", cl.Cycle, cl.Committee.ID, cl.Role, cl.Committee.Name)
		}
		_ = w.Flush()
	}

	if len(p.TopContributors) > 0 {
		_, _ = fmt.Fprintln(out)
		w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "CYCLE\tRANK\tCONTRIBUTOR\tSTATE\tTOTAL")
		for _, e := range p.TopContributors {
			_, _ = fmt.Fprintf(w, "%d\t%d\t%s\t%s\t%s\n", e.Cycle, e.Rank, e.Name, e.State, e.Total.StringFixed(2))
		}
		_ = w.Flush()
	}
}
