package facts

import (
	"slices"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/campaignfin/internal/model"
)

// DedupeStats counts what Dedupe removed.
type DedupeStats struct {
	// Duplicates are byte-identical re-ingestions, detected by content hash.
	Duplicates int
	// Superseded are distinct records that share a committee and
	// transaction id with a later amendment.
	Superseded int
}

// Err reports skipped re-ingestions as model.ErrDuplicateTransaction. It
// is nil when nothing was skipped. Callers count it; it never fails a load.
func (s DedupeStats) Err() error {
	if s.Duplicates == 0 {
		return nil
	}
	return eris.Wrapf(model.ErrDuplicateTransaction, "facts: skipped %d re-ingested transactions", s.Duplicates)
}

type tranKey struct {
	kind  model.Kind
	cycle int
	cmte  string
	tran  string
}

// Dedupe drops repeated content hashes, then keeps one record per
// (committee, transaction id): the highest sub id, ties to the greater
// hash. Records without a transaction id are only hash-deduplicated. The
// result is sorted by hash so callers see the same slice for any input
// order.
func Dedupe(txs []model.Transaction) ([]model.Transaction, DedupeStats) {
	var stats DedupeStats
	seen := make(map[string]bool, len(txs))
	byTran := make(map[tranKey]model.Transaction)
	var loose []model.Transaction

	for _, tx := range txs {
		if seen[tx.Hash] {
			stats.Duplicates++
			continue
		}
		seen[tx.Hash] = true

		if tx.TransactionID == "" {
			loose = append(loose, tx)
			continue
		}
		k := tranKey{kind: tx.Kind, cycle: tx.Cycle, cmte: tx.CommitteeID, tran: tx.TransactionID}
		cur, ok := byTran[k]
		if ok {
			stats.Superseded++
			if !supersedes(tx, cur) {
				continue
			}
		}
		byTran[k] = tx
	}

	out := loose
	for _, tx := range byTran {
		out = append(out, tx)
	}
	slices.SortFunc(out, func(a, b model.Transaction) int {
		return strings.Compare(a.Hash, b.Hash)
	})
	return out, stats
}

func supersedes(next, cur model.Transaction) bool {
	if next.SubID != cur.SubID {
		return next.SubID > cur.SubID
	}
	return next.Hash > cur.Hash
}
