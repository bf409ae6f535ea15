// Package linkage builds the candidate/committee graph per cycle and
// assigns cycles to itemized transactions.
package linkage

import (
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/campaignfin/internal/dimension"
	"github.com/sells-group/campaignfin/internal/model"
	"github.com/sells-group/campaignfin/internal/schema"
)

// Source names where a declaration came from.
type Source string

const (
	SourceCandidatePCC    Source = "candidate_pcc"
	SourceCommitteeMaster Source = "committee_master"
	SourceLinkageFile     Source = "linkage_file"
)

// Declaration is one assertion that a committee belongs to a candidate.
type Declaration struct {
	CandidateID string
	CommitteeID string
	Cycle       int
	Role        model.Role
	Source      Source
}

// Diagnostics are data-quality signals. None of them is an error.
type Diagnostics struct {
	Declarations int
	// Unlinked lists candidates with zero linked committees.
	Unlinked []string
	// NoPrincipal lists candidates with links but no principal committee.
	NoPrincipal []string
	// UnknownCandidate counts declarations naming a candidate absent from
	// the dimension; they are dropped.
	UnknownCandidate int
	// UnknownCommittee counts edges to committees absent from the
	// dimension; they are kept.
	UnknownCommittee int
	Quarantined      []model.Quarantine
}

// Result is the resolved graph for one cycle.
type Result struct {
	Links       []model.CandidateCommittee
	Diagnostics Diagnostics
}

// PrincipalDeclarations reads principal-committee declarations from the
// dimension rows: a candidate's stated principal committee, and committees
// designated principal that name their candidate.
func PrincipalDeclarations(cands []model.Candidate, cmtes []model.Committee) []Declaration {
	var out []Declaration
	for _, c := range cands {
		if c.PrincipalCmte == "" {
			continue
		}
		out = append(out, Declaration{
			CandidateID: c.ID, CommitteeID: c.PrincipalCmte, Cycle: c.Cycle,
			Role: model.RolePrincipal, Source: SourceCandidatePCC,
		})
	}
	for _, m := range cmtes {
		if m.CandidateID == "" {
			continue
		}
		out = append(out, Declaration{
			CandidateID: m.CandidateID, CommitteeID: m.ID, Cycle: m.Cycle,
			Role: RoleFor(m.DesignationCD), Source: SourceCommitteeMaster,
		})
	}
	return out
}

// AuthorizedDeclarations reads the candidate-committee linkage file.
func AuthorizedDeclarations(batchCycle int, rows []*schema.Row) ([]Declaration, []model.Quarantine) {
	var (
		out []Declaration
		bad []model.Quarantine
	)
	for _, row := range rows {
		cand := strings.ToUpper(row.Str("CAND_ID"))
		cmte := strings.ToUpper(row.Str("CMTE_ID"))
		if cand == "" || cmte == "" {
			bad = append(bad, model.Quarantine{
				Table: schema.TableLinkages, Line: row.Line, Reason: model.ReasonTypeCoercion,
				Detail: "missing CAND_ID or CMTE_ID", Raw: row.Raw(),
			})
			continue
		}
		year := batchCycle
		if year == 0 {
			year = int(row.Int("FEC_ELECTION_YR"))
		}
		cycle, ok := dimension.DeriveCycle(year)
		if !ok {
			bad = append(bad, model.Quarantine{
				Table: schema.TableLinkages, Line: row.Line, Reason: model.ReasonCycle,
				Detail: "no derivable cycle", Raw: row.Raw(),
			})
			continue
		}
		out = append(out, Declaration{
			CandidateID: cand, CommitteeID: cmte, Cycle: cycle,
			Role: RoleFor(strings.ToUpper(row.Str("CMTE_DSGN"))), Source: SourceLinkageFile,
		})
	}
	return out, bad
}

// RoleFor maps a designation code to a linkage role. Only P and J state a
// role outright; every other code is an inferred authorization.
func RoleFor(code string) model.Role {
	switch code {
	case "P":
		return model.RolePrincipal
	case "J":
		return model.RoleJoint
	default:
		return model.RoleAuthorized
	}
}

type edgeKey struct {
	cand  string
	cmte  string
	cycle int
}

// Resolve merges declarations into one edge per (candidate, committee,
// cycle). An explicit principal declaration always wins; otherwise all
// declarations must agree on a role or the edge falls back to authorized.
// The output is sorted and independent of declaration order.
func Resolve(cands []model.Candidate, cmtes []model.Committee, decls ...[]Declaration) Result {
	var res Result

	knownCand := make(map[idCycle]bool, len(cands))
	for _, c := range cands {
		knownCand[idCycle{c.ID, c.Cycle}] = true
	}
	knownCmte := make(map[idCycle]bool, len(cmtes))
	for _, m := range cmtes {
		knownCmte[idCycle{m.ID, m.Cycle}] = true
	}

	roles := make(map[edgeKey]map[model.Role]bool)
	for _, set := range decls {
		for _, d := range set {
			res.Diagnostics.Declarations++
			if !knownCand[idCycle{d.CandidateID, d.Cycle}] {
				res.Diagnostics.UnknownCandidate++
				continue
			}
			k := edgeKey{cand: d.CandidateID, cmte: d.CommitteeID, cycle: d.Cycle}
			if roles[k] == nil {
				roles[k] = make(map[model.Role]bool, 1)
			}
			roles[k][d.Role] = true
		}
	}

	linked := make(map[idCycle]bool)
	principal := make(map[idCycle]bool)
	for k, rs := range roles {
		role := settle(rs)
		res.Links = append(res.Links, model.CandidateCommittee{
			CandidateID: k.cand, CommitteeID: k.cmte, Cycle: k.cycle, Role: role,
		})
		ck := idCycle{k.cand, k.cycle}
		linked[ck] = true
		if role == model.RolePrincipal {
			principal[ck] = true
		}
		if !knownCmte[idCycle{k.cmte, k.cycle}] {
			res.Diagnostics.UnknownCommittee++
		}
	}

	slices.SortFunc(res.Links, compareLinks)

	for _, c := range cands {
		ck := idCycle{c.ID, c.Cycle}
		switch {
		case !linked[ck]:
			res.Diagnostics.Unlinked = append(res.Diagnostics.Unlinked, c.ID)
		case !principal[ck]:
			res.Diagnostics.NoPrincipal = append(res.Diagnostics.NoPrincipal, c.ID)
		}
	}
	slices.Sort(res.Diagnostics.Unlinked)
	slices.Sort(res.Diagnostics.NoPrincipal)

	zap.L().Debug("linkage: resolved",
		zap.Int("declarations", res.Diagnostics.Declarations),
		zap.Int("links", len(res.Links)),
		zap.Int("unlinked_candidates", len(res.Diagnostics.Unlinked)),
		zap.Int("no_principal", len(res.Diagnostics.NoPrincipal)),
		zap.Int("unknown_candidate", res.Diagnostics.UnknownCandidate),
	)
	return res
}

func settle(rs map[model.Role]bool) model.Role {
	if rs[model.RolePrincipal] {
		return model.RolePrincipal
	}
	if len(rs) == 1 {
		for r := range rs {
			return r
		}
	}
	return model.RoleAuthorized
}

func compareLinks(a, b model.CandidateCommittee) int {
	if a.Cycle != b.Cycle {
		return a.Cycle - b.Cycle
	}
	if c := strings.Compare(a.CandidateID, b.CandidateID); c != 0 {
		return c
	}
	return strings.Compare(a.CommitteeID, b.CommitteeID)
}

type idCycle struct {
	id    string
	cycle int
}
