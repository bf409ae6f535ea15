package warehouse

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/campaignfin/internal/db"
	"github.com/sells-group/campaignfin/internal/model"
	"github.com/sells-group/campaignfin/internal/snapshot"
)

const (
	schemaName = "fec"
	// cycleLockClass is the first key of the two-key advisory lock taken
	// per cycle; the cycle is the second.
	cycleLockClass = 8675310
)

// derivedTables are every table holding build rows, in staging order.
var derivedTables = []string{
	"candidates",
	"committees",
	"candidate_committees",
	"cycle_summaries",
	"committee_views",
	"monthly_series",
	"top_entries",
	"receipts",
	"quarantine",
}

// Postgres is the pgx-backed Store.
type Postgres struct {
	pool db.Pool
	log  *zap.Logger
}

var _ Store = (*Postgres)(nil)

// NewPostgres wraps pool.
func NewPostgres(pool db.Pool) *Postgres {
	return &Postgres{pool: pool, log: zap.L().With(zap.String("component", "warehouse"))}
}

type pgBuild struct {
	store  *Postgres
	tx     pgx.Tx
	id     string
	cycle  int
	done   bool
	staged int64
}

// BeginBuild opens the build transaction and takes a transaction-scoped
// advisory lock for the cycle. The lock is released when the transaction
// commits or rolls back, so a crashed build never leaves it held.
func (p *Postgres) BeginBuild(ctx context.Context, cycle int, buildID string) (Build, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: begin build")
	}
	var locked bool
	if err := tx.QueryRow(ctx, "SELECT pg_try_advisory_xact_lock($1, $2)", int32(cycleLockClass), int32(cycle)).Scan(&locked); err != nil {
		_ = tx.Rollback(ctx)
		return nil, eris.Wrapf(err, "warehouse: lock cycle %d", cycle)
	}
	if !locked {
		_ = tx.Rollback(ctx)
		return nil, eris.Wrapf(model.ErrBuildInProgress, "warehouse: cycle %d", cycle)
	}
	return &pgBuild{store: p, tx: tx, id: buildID, cycle: cycle}, nil
}

func (b *pgBuild) ID() string { return b.id }
func (b *pgBuild) Cycle() int { return b.cycle }

// Stage COPYs the build's rows into the shadow tables inside the build
// transaction.
func (b *pgBuild) Stage(ctx context.Context, data snapshot.Cycle, quarantine []model.Quarantine) error {
	if b.done {
		return eris.New("warehouse: build already finished")
	}
	sets, err := stageRows(b.id, b.cycle, data, quarantine)
	if err != nil {
		return err
	}
	for _, s := range sets {
		n, err := db.CopyInto(ctx, b.tx, schemaName, s.table, s.columns, s.rows)
		if err != nil {
			return eris.Wrapf(err, "warehouse: stage %s", s.table)
		}
		b.staged += n
	}
	return nil
}

// Publish swaps the cycle's published pointer to this build, drops rows of
// superseded builds and commits.
func (b *pgBuild) Publish(ctx context.Context) error {
	if b.done {
		return eris.New("warehouse: build already finished")
	}
	if _, err := b.tx.Exec(ctx,
		`INSERT INTO fec.published_snapshots (cycle, build_id, published_at)
		 VALUES ($1, $2, now())
		 ON CONFLICT (cycle) DO UPDATE SET build_id = EXCLUDED.build_id, published_at = EXCLUDED.published_at`,
		b.cycle, b.id,
	); err != nil {
		_ = b.Discard(ctx)
		return eris.Wrapf(err, "warehouse: publish cycle %d", b.cycle)
	}
	for _, t := range derivedTables {
		if _, err := b.tx.Exec(ctx,
			"DELETE FROM "+pgx.Identifier{schemaName, t}.Sanitize()+" WHERE cycle = $1 AND build_id <> $2",
			b.cycle, b.id,
		); err != nil {
			_ = b.Discard(ctx)
			return eris.Wrapf(err, "warehouse: prune %s", t)
		}
	}
	if err := b.tx.Commit(ctx); err != nil {
		b.done = true
		return eris.Wrapf(err, "warehouse: commit cycle %d", b.cycle)
	}
	b.done = true
	b.store.log.Info("warehouse: published",
		zap.Int("cycle", b.cycle),
		zap.String("build_id", b.id),
		zap.Int64("rows", b.staged),
	)
	return nil
}

func (b *pgBuild) Discard(ctx context.Context) error {
	if b.done {
		return nil
	}
	b.done = true
	if err := b.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return eris.Wrapf(err, "warehouse: discard cycle %d", b.cycle)
	}
	return nil
}

type rowSet struct {
	table   string
	columns []string
	rows    [][]any
}

func numeric(d decimal.Decimal) pgtype.Numeric {
	return pgtype.Numeric{Int: d.Coefficient(), Exp: d.Exponent(), Valid: true}
}

func stageRows(buildID string, cycle int, data snapshot.Cycle, quarantine []model.Quarantine) ([]rowSet, error) {
	var firstErr error
	doc := func(v any) []byte {
		b, err := json.Marshal(v)
		if err != nil && firstErr == nil {
			firstErr = eris.Wrap(err, "warehouse: encode row")
		}
		return b
	}

	cands := rowSet{table: "candidates", columns: []string{"build_id", "cycle", "candidate_id", "name", "party", "office", "state", "district", "doc"}}
	for _, c := range data.Candidates {
		cands.rows = append(cands.rows, []any{buildID, cycle, c.ID, c.DisplayName, c.Party, c.Office, c.State, c.District, doc(c)})
	}
	cmtes := rowSet{table: "committees", columns: []string{"build_id", "cycle", "committee_id", "name", "designation", "doc"}}
	for _, c := range data.Committees {
		cmtes.rows = append(cmtes.rows, []any{buildID, cycle, c.ID, c.Name, string(c.Designation), doc(c)})
	}
	links := rowSet{table: "candidate_committees", columns: []string{"build_id", "cycle", "candidate_id", "committee_id", "role", "doc"}}
	for _, l := range data.Links {
		links.rows = append(links.rows, []any{buildID, cycle, l.CandidateID, l.CommitteeID, string(l.Role), doc(l)})
	}
	sums := rowSet{table: "cycle_summaries", columns: []string{"build_id", "cycle", "candidate_id", "individual_total", "total_receipts", "total_disbursements", "joint_attribution", "doc"}}
	for _, s := range data.Summaries {
		sums.rows = append(sums.rows, []any{buildID, cycle, s.CandidateID, numeric(s.IndividualTotal), numeric(s.TotalReceipts), numeric(s.TotalDisbursements), s.JointAttribution, doc(s)})
	}
	views := rowSet{table: "committee_views", columns: []string{"build_id", "cycle", "candidate_id", "committee_id", "total_receipts", "joint", "doc"}}
	for _, v := range data.CommitteeViews {
		views.rows = append(views.rows, []any{buildID, cycle, v.CandidateID, v.CommitteeID, numeric(v.TotalReceipts), v.Joint, doc(v)})
	}
	series := rowSet{table: "monthly_series", columns: []string{"build_id", "cycle", "candidate_id", "month", "receipts", "disbursements", "doc"}}
	for _, p := range data.Series {
		series.rows = append(series.rows, []any{buildID, cycle, p.CandidateID, p.Month, numeric(p.Receipts), numeric(p.Disbursements), doc(p)})
	}
	top := rowSet{table: "top_entries", columns: []string{"build_id", "cycle", "candidate_id", "kind", "rank", "total", "doc"}}
	for _, list := range [][]model.TopEntry{data.TopContributors, data.TopVendors} {
		for _, e := range list {
			top.rows = append(top.rows, []any{buildID, cycle, e.CandidateID, string(e.Kind), e.Rank, numeric(e.Total), doc(e)})
		}
	}
	receipts := rowSet{table: "receipts", columns: []string{"build_id", "cycle", "candidate_id", "committee_id", "sub_id", "receipt_date", "amount", "memo", "hash", "doc"}}
	for _, r := range data.Receipts {
		date := pgtype.Date{Time: r.Date, Valid: !r.Date.IsZero()}
		receipts.rows = append(receipts.rows, []any{buildID, cycle, r.CandidateID, r.CommitteeID, r.SubID, date, numeric(r.Amount), r.Memo, r.Hash, doc(r)})
	}
	quar := rowSet{table: "quarantine", columns: []string{"build_id", "cycle", "table_name", "line", "reason", "detail", "raw"}}
	for _, q := range quarantine {
		quar.rows = append(quar.rows, []any{buildID, cycle, q.Table, q.Line, string(q.Reason), q.Detail, q.Raw})
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return []rowSet{cands, cmtes, links, sums, views, series, top, receipts, quar}, nil
}

// Published returns the published pointer for every cycle, newest first.
func (p *Postgres) Published(ctx context.Context) ([]Publication, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT cycle, build_id, published_at FROM fec.published_snapshots ORDER BY cycle DESC`)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: list published")
	}
	defer rows.Close()

	var out []Publication
	for rows.Next() {
		var pub Publication
		if err := rows.Scan(&pub.Cycle, &pub.BuildID, &pub.PublishedAt); err != nil {
			return nil, eris.Wrap(err, "warehouse: scan published")
		}
		out = append(out, pub)
	}
	return out, rows.Err()
}

// Load reads the published rows of every table inside one repeatable-read
// transaction so a concurrent publish is never half visible.
func (p *Postgres) Load(ctx context.Context) (*snapshot.Snapshot, error) {
	tx, err := p.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: begin load")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	rows, err := tx.Query(ctx, `SELECT cycle, build_id FROM fec.published_snapshots`)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: load published")
	}
	cycles := make(map[int]*snapshot.Cycle)
	for rows.Next() {
		var c snapshot.Cycle
		if err := rows.Scan(&c.Cycle, &c.BuildID); err != nil {
			rows.Close()
			return nil, eris.Wrap(err, "warehouse: scan published")
		}
		cycles[c.Cycle] = &c
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "warehouse: load published")
	}
	if len(cycles) == 0 {
		return nil, model.ErrNoPublishedSnapshot
	}

	at := func(cycle int) *snapshot.Cycle { return cycles[cycle] }
	steps := []func() error{
		func() error {
			return loadDocs(ctx, tx, "candidates", "candidate_id", func(c int, v model.Candidate) {
				if d := at(c); d != nil {
					d.Candidates = append(d.Candidates, v)
				}
			})
		},
		func() error {
			return loadDocs(ctx, tx, "committees", "committee_id", func(c int, v model.Committee) {
				if d := at(c); d != nil {
					d.Committees = append(d.Committees, v)
				}
			})
		},
		func() error {
			return loadDocs(ctx, tx, "candidate_committees", "candidate_id, committee_id", func(c int, v model.CandidateCommittee) {
				if d := at(c); d != nil {
					d.Links = append(d.Links, v)
				}
			})
		},
		func() error {
			return loadDocs(ctx, tx, "cycle_summaries", "candidate_id", func(c int, v model.CycleSummary) {
				if d := at(c); d != nil {
					d.Summaries = append(d.Summaries, v)
				}
			})
		},
		func() error {
			return loadDocs(ctx, tx, "committee_views", "candidate_id, committee_id", func(c int, v model.CommitteeView) {
				if d := at(c); d != nil {
					d.CommitteeViews = append(d.CommitteeViews, v)
				}
			})
		},
		func() error {
			return loadDocs(ctx, tx, "monthly_series", "candidate_id, month", func(c int, v model.SeriesPoint) {
				if d := at(c); d != nil {
					d.Series = append(d.Series, v)
				}
			})
		},
		func() error {
			return loadDocs(ctx, tx, "top_entries", "candidate_id, kind, rank", func(c int, v model.TopEntry) {
				d := at(c)
				switch {
				case d == nil:
				case v.Kind == model.KindDisbursement:
					d.TopVendors = append(d.TopVendors, v)
				default:
					d.TopContributors = append(d.TopContributors, v)
				}
			})
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}

	parts := make([]snapshot.Cycle, 0, len(cycles))
	for _, c := range cycles {
		parts = append(parts, *c)
	}
	return snapshot.New(parts...), nil
}

// Receipts reads one page of a candidate's published receipts.
func (p *Postgres) Receipts(ctx context.Context, q ReceiptQuery) ([]model.ItemizedReceipt, error) {
	q, err := q.Normalize()
	if err != nil {
		return nil, err
	}
	cycles := make([]int32, 0, len(q.Cycles))
	for _, c := range q.Cycles {
		cycles = append(cycles, int32(c))
	}

	rows, err := p.pool.Query(ctx,
		`SELECT t.doc FROM fec.receipts t
		 JOIN fec.published_snapshots p ON p.cycle = t.cycle AND p.build_id = t.build_id
		 WHERE t.candidate_id = $1 AND (cardinality($2::int[]) = 0 OR t.cycle = ANY($2))
		 ORDER BY t.receipt_date DESC NULLS LAST, t.sub_id DESC, t.hash
		 LIMIT $3 OFFSET $4`,
		q.CandidateID, cycles, q.Limit, q.Offset(),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "warehouse: receipts for %s", q.CandidateID)
	}
	defer rows.Close()

	out := make([]model.ItemizedReceipt, 0, q.Limit)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, eris.Wrap(err, "warehouse: scan receipt")
		}
		var r model.ItemizedReceipt
		if err := json.Unmarshal(raw, &r); err != nil {
			return nil, eris.Wrap(err, "warehouse: decode receipt")
		}
		out = append(out, r)
	}
	return out, eris.Wrapf(rows.Err(), "warehouse: receipts for %s", q.CandidateID)
}

func prefixed(cols string) string {
	parts := strings.Split(cols, ",")
	for i, c := range parts {
		parts[i] = "t." + strings.TrimSpace(c)
	}
	return strings.Join(parts, ", ")
}

// loadDocs decodes the doc column of every published row of table.
func loadDocs[T any](ctx context.Context, tx pgx.Tx, table, orderBy string, add func(cycle int, v T)) error {
	ident := pgx.Identifier{schemaName, table}.Sanitize()
	rows, err := tx.Query(ctx,
		"SELECT t.cycle, t.doc FROM "+ident+" t"+
			" JOIN fec.published_snapshots p ON p.cycle = t.cycle AND p.build_id = t.build_id"+
			" ORDER BY t.cycle, "+prefixed(orderBy))
	if err != nil {
		return eris.Wrapf(err, "warehouse: load %s", table)
	}
	defer rows.Close()

	for rows.Next() {
		var cycle int
		var raw []byte
		if err := rows.Scan(&cycle, &raw); err != nil {
			return eris.Wrapf(err, "warehouse: scan %s", table)
		}
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return eris.Wrapf(err, "warehouse: decode %s row", table)
		}
		add(cycle, v)
	}
	return eris.Wrapf(rows.Err(), "warehouse: load %s", table)
}
