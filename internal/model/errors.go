package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the pipeline error taxonomy.
var (
	ErrSchemaMismatch       = errors.New("schema mismatch")
	ErrNoMatch              = errors.New("no match")
	ErrNotFound             = errors.New("not found")
	ErrRateLimitExceeded    = errors.New("rate limit exceeded")
	ErrBuildInProgress      = errors.New("build already in progress for cycle")
	ErrNoPublishedSnapshot  = errors.New("no published snapshot")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
)

// QuarantineReason is a code recorded with every quarantined row.
type QuarantineReason string

const (
	ReasonFieldCount   QuarantineReason = "field_count_mismatch"
	ReasonTypeCoercion QuarantineReason = "type_coercion_failure"
	ReasonEncoding     QuarantineReason = "encoding_error"
	ReasonCycle        QuarantineReason = "cycle_derivation_failure"
)

// ParseError describes a malformed raw row. It never aborts a load.
type ParseError struct {
	Table  string
	Line   int
	Field  string
	Reason QuarantineReason
	Detail string
}

func (e *ParseError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s line %d field %s: %s: %s", e.Table, e.Line, e.Field, e.Reason, e.Detail)
	}
	return fmt.Sprintf("%s line %d: %s: %s", e.Table, e.Line, e.Reason, e.Detail)
}

// AmbiguousNameError carries every candidate the matcher could not
// separate so callers can disambiguate.
type AmbiguousNameError struct {
	Name string
	IDs  []string
}

func (e *AmbiguousNameError) Error() string {
	return fmt.Sprintf("ambiguous name %q: %s", e.Name, strings.Join(e.IDs, ","))
}

// Quarantine is one rejected row with its reason code.
type Quarantine struct {
	Table  string           `json:"table"`
	Line   int              `json:"line"`
	Reason QuarantineReason `json:"reason"`
	Detail string           `json:"detail"`
	Raw    string           `json:"raw,omitempty"`
}

// QuarantineFrom converts a ParseError into a quarantine record.
func QuarantineFrom(pe *ParseError, raw string) Quarantine {
	detail := pe.Detail
	if pe.Field != "" {
		detail = pe.Field + ": " + detail
	}
	return Quarantine{Table: pe.Table, Line: pe.Line, Reason: pe.Reason, Detail: detail, Raw: raw}
}
