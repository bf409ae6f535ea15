package linkage

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/sells-group/campaignfin/internal/dimension"
	"github.com/sells-group/campaignfin/internal/model"
	"github.com/sells-group/campaignfin/internal/schema"
)

// AssignCycle picks a transaction's cycle: the batch's cycle when the file
// is partitioned by cycle, otherwise the transaction date rolled forward.
func AssignCycle(batchCycle int, date time.Time) (int, bool) {
	if batchCycle != 0 {
		return dimension.DeriveCycle(batchCycle)
	}
	if date.IsZero() {
		return 0, false
	}
	return dimension.DeriveCycle(date.Year())
}

// KindOf reports whether a table holds receipts or disbursements.
func KindOf(table string) model.Kind {
	if table == schema.TableOperatingExp {
		return model.KindDisbursement
	}
	return model.KindReceipt
}

// Transactions converts itemized rows into transactions with a cycle and
// a content hash. Rows without a committee or a derivable cycle are
// quarantined.
func Transactions(table string, batchCycle int, rows []*schema.Row) ([]model.Transaction, []model.Quarantine) {
	kind := KindOf(table)
	out := make([]model.Transaction, 0, len(rows))
	var bad []model.Quarantine

	for _, row := range rows {
		cmte := strings.ToUpper(row.Str("CMTE_ID"))
		if cmte == "" {
			bad = append(bad, model.Quarantine{
				Table: table, Line: row.Line, Reason: model.ReasonTypeCoercion,
				Detail: "missing CMTE_ID", Raw: row.Raw(),
			})
			continue
		}
		date := row.Date("TRANSACTION_DT")
		cycle, ok := AssignCycle(batchCycle, date)
		if !ok {
			bad = append(bad, model.Quarantine{
				Table: table, Line: row.Line, Reason: model.ReasonCycle,
				Detail: "no batch cycle and no transaction date", Raw: row.Raw(),
			})
			continue
		}

		raw := row.Raw()
		out = append(out, model.Transaction{
			Kind:          kind,
			CommitteeID:   cmte,
			TransactionID: row.Str("TRAN_ID"),
			SubID:         row.Int("SUB_ID"),
			Cycle:         cycle,
			Amount:        row.Decimal("TRANSACTION_AMT"),
			Date:          date,
			EntityType:    strings.ToUpper(row.Str("ENTITY_TP")),
			Name:          row.Str("NAME"),
			City:          row.Str("CITY"),
			State:         strings.ToUpper(row.Str("STATE")),
			Zip:           row.Str("ZIP_CODE"),
			Employer:      row.Str("EMPLOYER"),
			Occupation:    row.Str("OCCUPATION"),
			OtherID:       strings.ToUpper(row.Str("OTHER_ID")),
			Purpose:       row.Str("PURPOSE"),
			Memo:          strings.EqualFold(row.Str("MEMO_CD"), "X"),
			Hash:          ContentHash(table, raw),
		})
	}
	return out, bad
}

// ContentHash is the duplicate-ingestion guard: identical records from the
// same table always hash alike.
func ContentHash(table, raw string) string {
	sum := sha256.Sum256([]byte(table + "\n" + raw))
	return hex.EncodeToString(sum[:])
}
