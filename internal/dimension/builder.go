package dimension

import (
	"slices"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/campaignfin/internal/model"
	"github.com/sells-group/campaignfin/internal/resolve"
	"github.com/sells-group/campaignfin/internal/schema"
)

// Report counts what a build dropped or superseded.
type Report struct {
	Quarantined []model.Quarantine
	// Superseded counts rows that lost to another row with the same
	// identifier in the same cycle.
	Superseded int
}

type candidateRow struct {
	c   model.Candidate
	raw string
}

// BuildCandidates turns candidate master rows into one Candidate per
// (identifier, cycle), sorted by cycle then identifier. When an identifier
// repeats, the row with the latest election year wins and ties fall to
// the greater raw record, so input order never matters.
func BuildCandidates(batchCycle int, rows []*schema.Row) ([]model.Candidate, Report) {
	var rep Report
	best := make(map[entityKey]candidateRow, len(rows))

	for _, row := range rows {
		id := strings.ToUpper(row.Str("CAND_ID"))
		if id == "" {
			rep.Quarantined = append(rep.Quarantined, quarantine(schema.TableCandidates, row, model.ReasonTypeCoercion, "missing CAND_ID"))
			continue
		}
		cycle, ok := pickCycle(batchCycle, row.Int("CAND_ELECTION_YR"))
		if !ok {
			rep.Quarantined = append(rep.Quarantined, quarantine(schema.TableCandidates, row, model.ReasonCycle, "no derivable cycle"))
			continue
		}

		name := row.Str("CAND_NAME")
		office := strings.ToUpper(row.Str("CAND_OFFICE"))
		c := model.Candidate{
			ID:             id,
			Cycle:          cycle,
			DisplayName:    DisplayCase(name),
			NormalizedName: resolve.NormalizeName(name),
			SearchKeys:     resolve.SearchKeys(name),
			Party:          strings.ToUpper(row.Str("CAND_PTY_AFFILIATION")),
			Office:         office,
			OfficeFull:     model.OfficeName(office),
			State:          strings.ToUpper(row.Str("CAND_OFFICE_ST")),
			District:       row.Str("CAND_OFFICE_DISTRICT"),
			ElectionYear:   int(row.Int("CAND_ELECTION_YR")),
			Incumbency:     row.Str("CAND_ICI"),
			Status:         row.Str("CAND_STATUS"),
			PrincipalCmte:  strings.ToUpper(row.Str("CAND_PCC")),
		}

		key := entityKey{id: id, cycle: cycle}
		cur, seen := best[key]
		next := candidateRow{c: c, raw: row.Raw()}
		if seen {
			rep.Superseded++
			if !candidateWins(next, cur) {
				continue
			}
		}
		best[key] = next
	}

	out := make([]model.Candidate, 0, len(best))
	for _, cr := range best {
		out = append(out, cr.c)
	}
	slices.SortFunc(out, func(a, b model.Candidate) int {
		if a.Cycle != b.Cycle {
			return a.Cycle - b.Cycle
		}
		return strings.Compare(a.ID, b.ID)
	})

	zap.L().Debug("dimension: candidates built",
		zap.Int("cycle", batchCycle),
		zap.Int("rows", len(rows)),
		zap.Int("candidates", len(out)),
		zap.Int("superseded", rep.Superseded),
		zap.Int("quarantined", len(rep.Quarantined)),
	)
	return out, rep
}

func candidateWins(next, cur candidateRow) bool {
	if next.c.ElectionYear != cur.c.ElectionYear {
		return next.c.ElectionYear > cur.c.ElectionYear
	}
	return next.raw > cur.raw
}

type committeeRow struct {
	c   model.Committee
	raw string
}

// BuildCommittees turns committee master rows into one Committee per
// (identifier, cycle), sorted by cycle then identifier. Duplicates resolve
// to the greater raw record.
func BuildCommittees(batchCycle int, rows []*schema.Row) ([]model.Committee, Report) {
	var rep Report
	best := make(map[entityKey]committeeRow, len(rows))

	for _, row := range rows {
		id := strings.ToUpper(row.Str("CMTE_ID"))
		if id == "" {
			rep.Quarantined = append(rep.Quarantined, quarantine(schema.TableCommittees, row, model.ReasonTypeCoercion, "missing CMTE_ID"))
			continue
		}
		// The committee master carries no year of its own.
		cycle, ok := pickCycle(batchCycle, 0)
		if !ok {
			rep.Quarantined = append(rep.Quarantined, quarantine(schema.TableCommittees, row, model.ReasonCycle, "no derivable cycle"))
			continue
		}

		name := row.Str("CMTE_NM")
		code := strings.ToUpper(row.Str("CMTE_DSGN"))
		c := model.Committee{
			ID:             id,
			Cycle:          cycle,
			Name:           name,
			NormalizedName: resolve.NormalizeName(name),
			Designation:    Designation(code),
			DesignationCD:  code,
			Type:           strings.ToUpper(row.Str("CMTE_TP")),
			Treasurer:      row.Str("TRES_NM"),
			Party:          strings.ToUpper(row.Str("CMTE_PTY_AFFILIATION")),
			FilingFreq:     row.Str("CMTE_FILING_FREQ"),
			OrgType:        row.Str("ORG_TP"),
			ConnectedOrg:   row.Str("CONNECTED_ORG_NM"),
			City:           row.Str("CMTE_CITY"),
			State:          strings.ToUpper(row.Str("CMTE_ST")),
			Zip:            row.Str("CMTE_ZIP"),
			CandidateID:    strings.ToUpper(row.Str("CAND_ID")),
		}

		key := entityKey{id: id, cycle: cycle}
		cur, seen := best[key]
		next := committeeRow{c: c, raw: row.Raw()}
		if seen {
			rep.Superseded++
			if next.raw <= cur.raw {
				continue
			}
		}
		best[key] = next
	}

	out := make([]model.Committee, 0, len(best))
	for _, cr := range best {
		out = append(out, cr.c)
	}
	slices.SortFunc(out, func(a, b model.Committee) int {
		if a.Cycle != b.Cycle {
			return a.Cycle - b.Cycle
		}
		return strings.Compare(a.ID, b.ID)
	})

	zap.L().Debug("dimension: committees built",
		zap.Int("cycle", batchCycle),
		zap.Int("rows", len(rows)),
		zap.Int("committees", len(out)),
		zap.Int("superseded", rep.Superseded),
		zap.Int("quarantined", len(rep.Quarantined)),
	)
	return out, rep
}

// Designation maps a committee designation code.
func Designation(code string) model.Designation {
	switch code {
	case "P":
		return model.DesignationPrincipal
	case "A":
		return model.DesignationAuthorized
	case "J":
		return model.DesignationJoint
	case "D":
		return model.DesignationLeadership
	case "B":
		return model.DesignationLobbyist
	case "U":
		return model.DesignationUnauth
	default:
		return model.DesignationOther
	}
}

// DisplayCase title-cases a name and collapses whitespace.
func DisplayCase(name string) string {
	name = strings.Join(strings.Fields(name), " ")
	return cases.Title(language.English).String(name)
}

type entityKey struct {
	id    string
	cycle int
}

func quarantine(table string, row *schema.Row, reason model.QuarantineReason, detail string) model.Quarantine {
	return model.Quarantine{Table: table, Line: row.Line, Reason: reason, Detail: detail, Raw: row.Raw()}
}
