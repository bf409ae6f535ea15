// Package model defines the candidate, committee and transaction entities
// shared by every stage of the campaign-finance pipeline.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role is the relationship between a candidate and a committee in a cycle.
type Role string

const (
	RolePrincipal  Role = "principal"
	RoleAuthorized Role = "authorized"
	RoleJoint      Role = "joint"
)

// Designation is the committee designation carried on the committee master.
type Designation string

const (
	DesignationPrincipal  Designation = "principal"
	DesignationAuthorized Designation = "authorized"
	DesignationJoint      Designation = "joint"
	DesignationLeadership Designation = "leadership"
	DesignationLobbyist   Designation = "lobbyist"
	DesignationUnauth     Designation = "unauthorized"
	DesignationOther      Designation = "other"
)

// Office descriptions keyed by the single-letter office code.
var officeNames = map[string]string{
	"P": "President",
	"S": "Senate",
	"H": "House",
}

// OfficeName returns the display name for an office code.
func OfficeName(code string) string {
	return officeNames[code]
}

// Candidate is one candidate identifier in one cycle.
type Candidate struct {
	ID             string   `json:"id"`
	Cycle          int      `json:"cycle"`
	DisplayName    string   `json:"display_name"`
	NormalizedName string   `json:"normalized_name"`
	SearchKeys     []string `json:"search_keys,omitempty"`
	Party          string   `json:"party,omitempty"`
	Office         string   `json:"office,omitempty"`
	OfficeFull     string   `json:"office_full,omitempty"`
	State          string   `json:"state,omitempty"`
	District       string   `json:"district,omitempty"`
	ElectionYear   int      `json:"election_year,omitempty"`
	Incumbency     string   `json:"incumbency,omitempty"`
	Status         string   `json:"status,omitempty"`
	PrincipalCmte  string   `json:"principal_committee_id,omitempty"`
}

// Committee is one committee identifier in one cycle.
type Committee struct {
	ID             string      `json:"id"`
	Cycle          int         `json:"cycle"`
	Name           string      `json:"name"`
	NormalizedName string      `json:"normalized_name"`
	Designation    Designation `json:"designation"`
	DesignationCD  string      `json:"designation_code,omitempty"`
	Type           string      `json:"type,omitempty"`
	Treasurer      string      `json:"treasurer,omitempty"`
	Party          string      `json:"party,omitempty"`
	FilingFreq     string      `json:"filing_frequency,omitempty"`
	OrgType        string      `json:"org_type,omitempty"`
	ConnectedOrg   string      `json:"connected_org,omitempty"`
	City           string      `json:"city,omitempty"`
	State          string      `json:"state,omitempty"`
	Zip            string      `json:"zip,omitempty"`
	CandidateID    string      `json:"candidate_id,omitempty"`
}

// CandidateCommittee is one edge of the candidate/committee graph.
type CandidateCommittee struct {
	CandidateID string `json:"candidate_id"`
	CommitteeID string `json:"committee_id"`
	Cycle       int    `json:"cycle"`
	Role        Role   `json:"role"`
}

// Kind distinguishes receipts from disbursements.
type Kind string

const (
	KindReceipt      Kind = "receipt"
	KindDisbursement Kind = "disbursement"
)

// Transaction is an itemized receipt or disbursement.
type Transaction struct {
	Kind          Kind            `json:"kind"`
	CommitteeID   string          `json:"committee_id"`
	TransactionID string          `json:"transaction_id"`
	SubID         int64           `json:"sub_id"`
	Cycle         int             `json:"cycle"`
	Amount        decimal.Decimal `json:"amount"`
	Date          time.Time       `json:"date"`
	EntityType    string          `json:"entity_type,omitempty"`
	Name          string          `json:"name"`
	City          string          `json:"city,omitempty"`
	State         string          `json:"state,omitempty"`
	Zip           string          `json:"zip,omitempty"`
	Employer      string          `json:"employer,omitempty"`
	Occupation    string          `json:"occupation,omitempty"`
	OtherID       string          `json:"other_id,omitempty"`
	Purpose       string          `json:"purpose,omitempty"`
	Memo          bool            `json:"memo"`
	Hash          string          `json:"hash"`
}
