package main

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/campaignfin/internal/match"
	"github.com/sells-group/campaignfin/internal/model"
)

var (
	matchIn        string
	matchOut       string
	matchNameCol   string
	matchStateCol  string
	matchOfficeCol string
	matchSep       string
	matchLimit     int
	matchNoCache   bool
)

var matchCmd = &cobra.Command{
	Use:   "match",
	Short: "Match candidate names in a CSV against the published snapshot",
	Long: `Reads a collaborator CSV and appends matched_candidate_ids (JSON array),
matched_names and match_tier columns. A name cell may hold several names
separated by --sep. Rows without a name are passed through unmatched.

Examples:
  campaignfin match --in markets.csv --out markets_matched.csv
  campaignfin match --in markets.csv --name-col candidate_names --state-col jurisdiction`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("match"); err != nil {
			return err
		}

		in, err := os.Open(matchIn)
		if err != nil {
			return eris.Wrap(err, "match: open input")
		}
		defer in.Close() //nolint:errcheck

		var out io.Writer = os.Stdout
		if matchOut != "" {
			f, err := os.Create(matchOut)
			if err != nil {
				return eris.Wrap(err, "match: create output")
			}
			defer f.Close() //nolint:errcheck
			out = f
		}

		store, closeStore, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer closeStore()

		svc, closeSvc, err := newLookupService(ctx, store, !matchNoCache)
		if err != nil {
			return err
		}
		defer closeSvc()

		counts, err := matchCSV(ctx, svc, in, out, matchOptions{
			NameCol:   matchNameCol,
			StateCol:  matchStateCol,
			OfficeCol: matchOfficeCol,
			Separator: matchSep,
			Limit:     matchLimit,
		})
		if err != nil {
			return err
		}

		zap.L().Info("match complete",
			zap.Int("rows", counts.Rows),
			zap.Int("rows_skipped", counts.Skipped),
			zap.Int("names_matched", counts.Matched),
			zap.Int("names_unmatched", counts.Unmatched),
			zap.String("snapshot_version", svc.Snapshot().Version),
		)
		return nil
	},
}

func init() {
	matchCmd.Flags().StringVar(&matchIn, "in", "", "input CSV path (required)")
	matchCmd.Flags().StringVar(&matchOut, "out", "", "output CSV path (default stdout)")
	matchCmd.Flags().StringVar(&matchNameCol, "name-col", "name", "column holding candidate names")
	matchCmd.Flags().StringVar(&matchStateCol, "state-col", "state", "column holding the state hint")
	matchCmd.Flags().StringVar(&matchOfficeCol, "office-col", "office", "column holding the office hint")
	matchCmd.Flags().StringVar(&matchSep, "sep", ";", "separator between several names in one cell")
	matchCmd.Flags().IntVar(&matchLimit, "limit", 0, "process at most this many rows (0 = all)")
	matchCmd.Flags().BoolVar(&matchNoCache, "no-cache", false, "skip the local match cache")
	_ = matchCmd.MarkFlagRequired("in")
	rootCmd.AddCommand(matchCmd)
}

// rowMatcher is the part of the lookup service the CSV matcher needs.
type rowMatcher interface {
	Match(ctx context.Context, name string, hints match.Hints) (model.MatchResult, error)
}

type matchOptions struct {
	NameCol   string
	StateCol  string
	OfficeCol string
	Separator string
	Limit     int
}

type matchCounts struct {
	Rows      int
	Skipped   int
	Matched   int
	Unmatched int
}

// matchCSV copies r to w with the match columns appended. Hint columns
// that are absent from the header are ignored.
func matchCSV(ctx context.Context, m rowMatcher, r io.Reader, w io.Writer, opts matchOptions) (matchCounts, error) {
	var counts matchCounts

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err == io.EOF {
		return counts, eris.New("match: empty input")
	}
	if err != nil {
		return counts, eris.Wrap(err, "match: read header")
	}
	nameIdx := columnIndex(header, opts.NameCol)
	if nameIdx < 0 {
		return counts, eris.Errorf("match: column %q not found", opts.NameCol)
	}
	stateIdx := columnIndex(header, opts.StateCol)
	officeIdx := columnIndex(header, opts.OfficeCol)

	cw := csv.NewWriter(w)
	if err := cw.Write(append(slices.Clone(header), "matched_candidate_ids", "matched_names", "match_tier")); err != nil {
		return counts, eris.Wrap(err, "match: write header")
	}

	for {
		if opts.Limit > 0 && counts.Rows >= opts.Limit {
			break
		}
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return counts, eris.Wrapf(err, "match: read row %d", counts.Rows+1)
		}
		counts.Rows++

		hints := match.Hints{State: cell(rec, stateIdx), Office: cell(rec, officeIdx)}
		names := splitNames(cell(rec, nameIdx), opts.Separator)
		if len(names) == 0 {
			counts.Skipped++
		}

		ids := []string{}
		var matchedNames, tiers []string
		for _, name := range names {
			res, err := m.Match(ctx, name, hints)
			if err != nil {
				return counts, eris.Wrapf(err, "match: row %d", counts.Rows)
			}
			tiers = append(tiers, string(res.Tier))
			if !res.Matched() {
				zap.L().Debug("no candidate match", zap.String("name", name), zap.String("state", hints.State))
				counts.Unmatched++
				continue
			}
			counts.Matched++
			matchedNames = append(matchedNames, name)
			for _, id := range res.CandidateIDs {
				if !slices.Contains(ids, id) {
					ids = append(ids, id)
				}
			}
		}

		idsJSON, _ := json.Marshal(ids)
		namesJSON, _ := json.Marshal(orEmpty(matchedNames))
		out := append(slices.Clone(rec), string(idsJSON), string(namesJSON), strings.Join(tiers, ";"))
		if err := cw.Write(out); err != nil {
			return counts, eris.Wrap(err, "match: write row")
		}
	}

	cw.Flush()
	return counts, eris.Wrap(cw.Error(), "match: flush")
}

func columnIndex(header []string, name string) int {
	if name == "" {
		return -1
	}
	for i, h := range header {
		if strings.EqualFold(strings.TrimSpace(h), name) {
			return i
		}
	}
	return -1
}

func cell(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func splitNames(raw, sep string) []string {
	if sep == "" {
		sep = ";"
	}
	var out []string
	for _, part := range strings.Split(raw, sep) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func orEmpty(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
