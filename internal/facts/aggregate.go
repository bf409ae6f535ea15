// Package facts aggregates itemized transactions into per-candidate,
// per-cycle summaries, committee views, monthly series and top-N lists.
// Every output is sorted and depends only on the set of inputs, never on
// their order.
package facts

import (
	"cmp"
	"slices"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/campaignfin/internal/model"
)

// DefaultTopN is the number of ranked entries kept per candidate per cycle.
const DefaultTopN = 25

// Input is everything one aggregation run reads.
type Input struct {
	Candidates   []model.Candidate
	Links        []model.CandidateCommittee
	Transactions []model.Transaction
	TopN         int
}

// Stats are the counters reported for manual QA.
type Stats struct {
	Input        int `json:"input"`
	Duplicates   int `json:"duplicates"`
	Superseded   int `json:"superseded"`
	Memo         int `json:"memo"`
	Unattributed int `json:"unattributed"`
	Attributed   int `json:"attributed"`
}

// Output holds the derived aggregates. Receipts are the itemized receipts,
// memo rows included, ordered by candidate and then newest first.
type Output struct {
	Summaries       []model.CycleSummary    `json:"summaries"`
	CommitteeViews  []model.CommitteeView   `json:"committee_views"`
	Series          []model.SeriesPoint     `json:"series"`
	TopContributors []model.TopEntry        `json:"top_contributors"`
	TopVendors      []model.TopEntry        `json:"top_vendors"`
	Receipts        []model.ItemizedReceipt `json:"receipts"`
	Stats           Stats                   `json:"stats"`
}

type candCycle struct {
	id    string
	cycle int
}

type cmteCycle struct {
	id    string
	cycle int
}

type viewK struct {
	cand  string
	cmte  string
	cycle int
}

type seriesK struct {
	cand  string
	cycle int
	month string
}

type link struct {
	cand string
	role model.Role
}

// Aggregate runs the full fact build.
func Aggregate(in Input) Output {
	topN := in.TopN
	if topN <= 0 {
		topN = DefaultTopN
	}

	var out Output
	txs, dedup := Dedupe(in.Transactions)
	out.Stats.Input = len(in.Transactions)
	out.Stats.Duplicates = dedup.Duplicates
	out.Stats.Superseded = dedup.Superseded
	if err := dedup.Err(); err != nil {
		zap.L().Info("facts: duplicates skipped", zap.Error(err))
	}

	cands := make(map[candCycle]model.Candidate, len(in.Candidates))
	summaries := make(map[candCycle]*model.CycleSummary, len(in.Candidates))
	for _, c := range in.Candidates {
		k := candCycle{c.ID, c.Cycle}
		cands[k] = c
		summaries[k] = newSummary(c.ID, c.Cycle)
	}

	byCmte := make(map[cmteCycle][]link)
	seenLink := make(map[viewK]bool, len(in.Links))
	for _, l := range in.Links {
		if _, ok := cands[candCycle{l.CandidateID, l.Cycle}]; !ok {
			continue
		}
		vk := viewK{l.CandidateID, l.CommitteeID, l.Cycle}
		if seenLink[vk] {
			continue
		}
		seenLink[vk] = true
		k := cmteCycle{l.CommitteeID, l.Cycle}
		byCmte[k] = append(byCmte[k], link{cand: l.CandidateID, role: l.Role})
	}

	views := make(map[viewK]*model.CommitteeView)
	for k, ls := range byCmte {
		for _, l := range ls {
			views[viewK{l.cand, k.id, k.cycle}] = &model.CommitteeView{
				CandidateID:        l.cand,
				CommitteeID:        k.id,
				Cycle:              k.cycle,
				Role:               l.role,
				TotalReceipts:      decimal.Zero,
				TotalDisbursements: decimal.Zero,
				Joint:              len(ls) > 1,
				LinkedCandidates:   len(ls),
			}
		}
	}

	series := make(map[seriesK]*model.SeriesPoint)
	contributors := newRanker(model.KindReceipt)
	vendors := newRanker(model.KindDisbursement)

	for _, tx := range txs {
		ls := byCmte[cmteCycle{tx.CommitteeID, tx.Cycle}]
		if len(ls) == 0 {
			out.Stats.Unattributed++
			continue
		}
		out.Stats.Attributed++
		if tx.Memo {
			out.Stats.Memo++
		}
		joint := len(ls) > 1

		for _, l := range ls {
			k := candCycle{l.cand, tx.Cycle}
			s := summaries[k]
			if tx.Kind == model.KindReceipt {
				out.Receipts = append(out.Receipts, model.ItemizedReceipt{CandidateID: l.cand, Role: l.role, Joint: joint, Transaction: tx})
			}
			if tx.Memo {
				s.MemoCount++
				continue
			}
			v := views[viewK{l.cand, tx.CommitteeID, tx.Cycle}]
			if joint {
				s.JointAttribution = true
			}

			switch tx.Kind {
			case model.KindDisbursement:
				s.TotalDisbursements = s.TotalDisbursements.Add(tx.Amount)
				s.DisbursementCount++
				v.TotalDisbursements = v.TotalDisbursements.Add(tx.Amount)
				if joint {
					s.JointDisbursements = s.JointDisbursements.Add(tx.Amount)
				}
				v.DisbursementCount++
				vendors.add(k, tx)
			default:
				s.Add(Classify(tx, cands[k]), tx.Amount)
				s.TotalReceipts = s.TotalReceipts.Add(tx.Amount)
				s.ReceiptCount++
				if joint {
					s.JointReceipts = s.JointReceipts.Add(tx.Amount)
				}
				v.TotalReceipts = v.TotalReceipts.Add(tx.Amount)
				v.ReceiptCount++
				contributors.add(k, tx)
			}

			if !tx.Date.IsZero() {
				addSeries(series, k, tx)
			}
		}
	}

	for _, s := range summaries {
		out.Summaries = append(out.Summaries, *s)
	}
	slices.SortFunc(out.Summaries, func(a, b model.CycleSummary) int {
		return compareCandCycle(a.CandidateID, a.Cycle, b.CandidateID, b.Cycle)
	})

	for _, v := range views {
		out.CommitteeViews = append(out.CommitteeViews, *v)
	}
	slices.SortFunc(out.CommitteeViews, func(a, b model.CommitteeView) int {
		if c := compareCandCycle(a.CandidateID, a.Cycle, b.CandidateID, b.Cycle); c != 0 {
			return c
		}
		return strings.Compare(a.CommitteeID, b.CommitteeID)
	})

	for _, p := range series {
		out.Series = append(out.Series, *p)
	}
	slices.SortFunc(out.Series, func(a, b model.SeriesPoint) int {
		if c := compareCandCycle(a.CandidateID, a.Cycle, b.CandidateID, b.Cycle); c != 0 {
			return c
		}
		return strings.Compare(a.Month, b.Month)
	})

	slices.SortFunc(out.Receipts, CompareReceipts)

	out.TopContributors = contributors.top(topN)
	out.TopVendors = vendors.top(topN)

	zap.L().Debug("facts: aggregated",
		zap.Int("transactions", out.Stats.Input),
		zap.Int("duplicates", out.Stats.Duplicates),
		zap.Int("superseded", out.Stats.Superseded),
		zap.Int("unattributed", out.Stats.Unattributed),
		zap.Int("summaries", len(out.Summaries)),
	)
	return out
}

func newSummary(id string, cycle int) *model.CycleSummary {
	return &model.CycleSummary{
		CandidateID:        id,
		Cycle:              cycle,
		IndividualTotal:    decimal.Zero,
		CommitteeTotal:     decimal.Zero,
		PartyTotal:         decimal.Zero,
		SelfTotal:          decimal.Zero,
		OtherTotal:         decimal.Zero,
		TotalReceipts:      decimal.Zero,
		TotalDisbursements: decimal.Zero,
		JointReceipts:      decimal.Zero,
		JointDisbursements: decimal.Zero,
	}
}

func addSeries(series map[seriesK]*model.SeriesPoint, k candCycle, tx model.Transaction) {
	month := tx.Date.Format("2006-01")
	sk := seriesK{k.id, k.cycle, month}
	p := series[sk]
	if p == nil {
		p = &model.SeriesPoint{
			CandidateID:   k.id,
			Cycle:         k.cycle,
			Month:         month,
			Receipts:      decimal.Zero,
			Disbursements: decimal.Zero,
		}
		series[sk] = p
	}
	if tx.Kind == model.KindDisbursement {
		p.Disbursements = p.Disbursements.Add(tx.Amount)
	} else {
		p.Receipts = p.Receipts.Add(tx.Amount)
	}
}

// CompareReceipts orders receipts by candidate, then date descending with
// undated rows last, then SUB_ID descending, then content hash.
func CompareReceipts(a, b model.ItemizedReceipt) int {
	if c := strings.Compare(a.CandidateID, b.CandidateID); c != 0 {
		return c
	}
	switch {
	case a.Date.IsZero() != b.Date.IsZero():
		if a.Date.IsZero() {
			return 1
		}
		return -1
	case !a.Date.Equal(b.Date):
		return b.Date.Compare(a.Date)
	case a.SubID != b.SubID:
		return cmp.Compare(b.SubID, a.SubID)
	}
	return strings.Compare(a.Hash, b.Hash)
}

func compareCandCycle(aID string, aCycle int, bID string, bCycle int) int {
	if c := strings.Compare(aID, bID); c != 0 {
		return c
	}
	return aCycle - bCycle
}
