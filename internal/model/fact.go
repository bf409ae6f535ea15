package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bucket is a contributor classification used in cycle summaries.
type Bucket string

const (
	BucketIndividual Bucket = "individual"
	BucketCommittee  Bucket = "committee"
	BucketParty      Bucket = "party"
	BucketSelf       Bucket = "candidate_self"
	BucketOther      Bucket = "other"
)

// CycleSummary holds per-candidate, per-cycle totals. Every total is
// re-derivable from transactions plus linkage.
type CycleSummary struct {
	CandidateID        string          `json:"candidate_id"`
	Cycle              int             `json:"cycle"`
	IndividualTotal    decimal.Decimal `json:"individual_total"`
	CommitteeTotal     decimal.Decimal `json:"committee_total"`
	PartyTotal         decimal.Decimal `json:"party_total"`
	SelfTotal          decimal.Decimal `json:"candidate_self_total"`
	OtherTotal         decimal.Decimal `json:"other_total"`
	TotalReceipts      decimal.Decimal `json:"total_receipts"`
	TotalDisbursements decimal.Decimal `json:"total_disbursements"`
	ReceiptCount       int64           `json:"receipt_count"`
	DisbursementCount  int64           `json:"disbursement_count"`
	MemoCount          int64           `json:"memo_count"`
	// JointAttribution is set when any contributing committee is linked to
	// more than one candidate, so summing across candidates overcounts.
	JointAttribution   bool            `json:"joint_attribution"`
	JointReceipts      decimal.Decimal `json:"joint_receipts"`
	JointDisbursements decimal.Decimal `json:"joint_disbursements"`
}

// Add credits amount to the given bucket.
func (s *CycleSummary) Add(b Bucket, amount decimal.Decimal) {
	switch b {
	case BucketIndividual:
		s.IndividualTotal = s.IndividualTotal.Add(amount)
	case BucketCommittee:
		s.CommitteeTotal = s.CommitteeTotal.Add(amount)
	case BucketParty:
		s.PartyTotal = s.PartyTotal.Add(amount)
	case BucketSelf:
		s.SelfTotal = s.SelfTotal.Add(amount)
	default:
		s.OtherTotal = s.OtherTotal.Add(amount)
	}
}

// CommitteeView is the committee-level activity attributed to one linked
// candidate. Joint committees repeat their full totals for every candidate.
type CommitteeView struct {
	CandidateID        string          `json:"candidate_id"`
	CommitteeID        string          `json:"committee_id"`
	Cycle              int             `json:"cycle"`
	Role               Role            `json:"role"`
	TotalReceipts      decimal.Decimal `json:"total_receipts"`
	TotalDisbursements decimal.Decimal `json:"total_disbursements"`
	ReceiptCount       int64           `json:"receipt_count"`
	DisbursementCount  int64           `json:"disbursement_count"`
	Joint              bool            `json:"joint"`
	LinkedCandidates   int             `json:"linked_candidates"`
}

// TopEntry is one ranked contributor or vendor.
type TopEntry struct {
	CandidateID string          `json:"candidate_id"`
	Cycle       int             `json:"cycle"`
	Kind        Kind            `json:"kind"`
	Rank        int             `json:"rank"`
	Name        string          `json:"name"`
	State       string          `json:"state,omitempty"`
	Employer    string          `json:"employer,omitempty"`
	Total       decimal.Decimal `json:"total"`
	Count       int64           `json:"count"`
	FirstDate   time.Time       `json:"first_date"`
}

// SeriesPoint is one month of receipts and disbursements for a candidate.
type SeriesPoint struct {
	CandidateID   string          `json:"candidate_id"`
	Cycle         int             `json:"cycle"`
	Month         string          `json:"month"` // YYYY-MM
	Receipts      decimal.Decimal `json:"receipts"`
	Disbursements decimal.Decimal `json:"disbursements"`
}

// ItemizedReceipt is one receipt attributed to a linked candidate. A
// receipt of a joint committee appears once per linked candidate.
type ItemizedReceipt struct {
	CandidateID string `json:"candidate_id"`
	Role        Role   `json:"role"`
	Joint       bool   `json:"joint"`
	Transaction
}

// Tier is a coarse confidence label attached to a match.
type Tier string

const (
	TierExactContext Tier = "exact+context"
	TierExact        Tier = "exact"
	TierAmbiguous    Tier = "ambiguous"
	TierNone         Tier = "none"
)

// MatchResult is the outcome of one identity match. It is ephemeral.
type MatchResult struct {
	Query          string   `json:"query"`
	NormalizedName string   `json:"normalized_name"`
	CandidateIDs   []string `json:"candidate_ids"`
	Tier           Tier     `json:"tier"`
	// FiltersApplied lists the hints still in force at the winning step.
	FiltersApplied []string `json:"filters_applied"`
	// Relaxation names the step that produced the result.
	Relaxation     string   `json:"relaxation"`
}

// Matched reports whether the result carries at least one identifier.
func (m MatchResult) Matched() bool {
	return len(m.CandidateIDs) > 0
}

// Err maps the tier onto the matcher error taxonomy: ErrNoMatch for no
// match, *AmbiguousNameError for several, nil otherwise.
func (m MatchResult) Err() error {
	switch m.Tier {
	case TierNone:
		return ErrNoMatch
	case TierAmbiguous:
		return &AmbiguousNameError{Name: m.Query, IDs: m.CandidateIDs}
	}
	return nil
}
