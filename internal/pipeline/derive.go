package pipeline

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"slices"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/campaignfin/internal/dimension"
	"github.com/sells-group/campaignfin/internal/facts"
	"github.com/sells-group/campaignfin/internal/linkage"
	"github.com/sells-group/campaignfin/internal/model"
	"github.com/sells-group/campaignfin/internal/schema"
	"github.com/sells-group/campaignfin/internal/snapshot"
	"github.com/sells-group/campaignfin/internal/warehouse"
)

// sourceTable is one raw table read for every cycle. Only the masters are
// required; a cycle may legitimately lack linkage or itemized files.
type sourceTable struct {
	name     string
	required bool
}

var sourceTables = []sourceTable{
	{name: schema.TableCandidates, required: true},
	{name: schema.TableCommittees, required: true},
	{name: schema.TableLinkages},
	{name: schema.TableIndividual},
	{name: schema.TableCmteToCmte},
	{name: schema.TableOperatingExp},
}

var transactionTables = []string{
	schema.TableIndividual,
	schema.TableCmteToCmte,
	schema.TableOperatingExp,
}

type loadedTable struct {
	rows    []*schema.Row
	report  *schema.Report
	missing bool
}

// derive reads every raw table for cycle in parallel and runs the
// dimension, linkage and fact stages over them.
func (e *Engine) derive(ctx context.Context, cycle int, buildID string, topN int, stats *buildStats) (snapshot.Cycle, []model.Quarantine, error) {
	log := zap.L().With(zap.String("component", "pipeline.derive"), zap.Int("cycle", cycle))

	loaded := make([]loadedTable, len(sourceTables))
	g, gctx := errgroup.WithContext(ctx)
	for i, t := range sourceTables {
		g.Go(func() error {
			lt, err := e.readTable(gctx, cycle, t)
			if err != nil {
				return err
			}
			loaded[i] = lt
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return snapshot.Cycle{}, nil, err
	}

	var quarantine []model.Quarantine
	rows := make(map[string][]*schema.Row, len(sourceTables))
	for i, t := range sourceTables {
		lt := loaded[i]
		if lt.missing {
			log.Warn("raw table missing, skipped", zap.String("table", t.name))
			stats.update(func(s *warehouse.BuildStats) { s.Missing = append(s.Missing, t.name) })
			continue
		}
		rows[t.name] = lt.rows
		quarantine = append(quarantine, lt.report.Samples...)

		byReason := make(map[string]int64, len(lt.report.ByReason))
		for r, n := range lt.report.ByReason {
			byReason[string(r)] = n
		}
		stats.update(func(s *warehouse.BuildStats) {
			s.Rows[t.name] = lt.report.Rows
			s.Quarantined += lt.report.Quarantined
			for r, n := range byReason {
				s.ByReason[r] += n
			}
		})
		e.metrics.ObserveRows(t.name, lt.report.Rows, byReason)
		log.Info("raw table read",
			zap.String("table", t.name),
			zap.String("version", lt.report.Version),
			zap.Int64("rows", lt.report.Rows),
			zap.Int64("quarantined", lt.report.Quarantined),
		)
	}

	cands, candRep := dimension.BuildCandidates(cycle, rows[schema.TableCandidates])
	cmtes, cmteRep := dimension.BuildCommittees(cycle, rows[schema.TableCommittees])
	authorized, authBad := linkage.AuthorizedDeclarations(cycle, rows[schema.TableLinkages])
	linked := linkage.Resolve(cands, cmtes, linkage.PrincipalDeclarations(cands, cmtes), authorized)

	derived := slices.Concat(candRep.Quarantined, cmteRep.Quarantined, authBad)
	var txs []model.Transaction
	for _, table := range transactionTables {
		t, bad := linkage.Transactions(table, cycle, rows[table])
		txs = append(txs, t...)
		derived = append(derived, bad...)
	}

	out := facts.Aggregate(facts.Input{
		Candidates:   cands,
		Links:        linked.Links,
		Transactions: txs,
		TopN:         topN,
	})

	stats.update(func(s *warehouse.BuildStats) {
		s.Quarantined += int64(len(derived))
		for _, q := range derived {
			s.ByReason[string(q.Reason)]++
		}
		s.Candidates = int64(len(cands))
		s.Committees = int64(len(cmtes))
		s.Links = int64(len(linked.Links))
		s.Unlinked = int64(len(linked.Diagnostics.Unlinked))
		s.Duplicates = int64(out.Stats.Duplicates)
		s.Superseded = int64(out.Stats.Superseded + candRep.Superseded + cmteRep.Superseded)
		s.Memo = int64(out.Stats.Memo)
		s.Unattributed = int64(out.Stats.Unattributed)
	})
	if n := len(linked.Diagnostics.Unlinked); n > 0 {
		log.Info("candidates with no linked committee", zap.Int("count", n))
	}

	return snapshot.Cycle{
		Cycle:           cycle,
		BuildID:         buildID,
		Candidates:      cands,
		Committees:      cmtes,
		Links:           linked.Links,
		Summaries:       out.Summaries,
		CommitteeViews:  out.CommitteeViews,
		Series:          out.Series,
		TopContributors: out.TopContributors,
		TopVendors:      out.TopVendors,
		Receipts:        out.Receipts,
	}, append(quarantine, derived...), nil
}

// readTable resolves a table's layout from its header file and reads its
// rows. A table without a header file is read with the newest layout. A
// header that matches no known layout aborts the build.
func (e *Engine) readTable(ctx context.Context, cycle int, t sourceTable) (loadedTable, error) {
	layout, err := e.layout(ctx, cycle, t.name)
	if err != nil {
		return loadedTable{}, err
	}

	rc, err := e.source.Open(ctx, cycle, t.name)
	if errors.Is(err, fs.ErrNotExist) && !t.required {
		return loadedTable{missing: true}, nil
	}
	if err != nil {
		return loadedTable{}, eris.Wrapf(err, "pipeline: open %s", t.name)
	}
	defer rc.Close() //nolint:errcheck

	rows, rep, err := schema.ReadAll(layout, rc)
	if err != nil {
		return loadedTable{}, eris.Wrapf(err, "pipeline: read %s", t.name)
	}
	return loadedTable{rows: rows, report: rep}, nil
}

func (e *Engine) layout(ctx context.Context, cycle int, table string) (*schema.Layout, error) {
	rc, err := e.source.OpenHeader(ctx, cycle, table)
	if errors.Is(err, fs.ErrNotExist) {
		return e.registry.Latest(table)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: open %s header", table)
	}
	defer rc.Close() //nolint:errcheck

	header, err := schema.ReadHeader(io.LimitReader(rc, 1<<20))
	if err != nil {
		return nil, err
	}
	return e.registry.Resolve(table, header)
}
