package resolve

import (
	"slices"
	"strings"
)

var namePrefixes = map[string]bool{
	"DR": true, "HON": true, "GOV": true, "SEN": true, "REP": true,
	"MR": true, "MRS": true, "MS": true,
}

var nameSuffixes = map[string]bool{
	"JR": true, "SR": true, "II": true, "III": true, "IV": true,
}

// NameParts is a person name split into components. All parts are
// normalized.
type NameParts struct {
	First  string
	Middle string
	Last   string
	Prefix string
	Suffix string
}

// ParseName splits a raw name. Regulator filings use "LAST, FIRST MIDDLE";
// anything without a comma is read as "First Middle Last".
func ParseName(raw string) NameParts {
	var parts NameParts
	if i := strings.IndexByte(raw, ','); i >= 0 {
		last := Tokens(NormalizeName(raw[:i]))
		rest := Tokens(NormalizeName(raw[i+1:]))
		rest, parts.Prefix = trimPrefix(rest)
		rest, parts.Suffix = trimSuffix(rest)
		last, sfx := trimSuffix(last)
		if parts.Suffix == "" {
			parts.Suffix = sfx
		}
		parts.Last = strings.Join(last, " ")
		if len(rest) > 0 {
			parts.First = rest[0]
			parts.Middle = strings.Join(rest[1:], " ")
		}
		return parts
	}

	toks := Tokens(NormalizeName(raw))
	toks, parts.Prefix = trimPrefix(toks)
	toks, parts.Suffix = trimSuffix(toks)
	switch len(toks) {
	case 0:
	case 1:
		parts.Last = toks[0]
	default:
		parts.First = toks[0]
		parts.Last = toks[len(toks)-1]
		parts.Middle = strings.Join(toks[1:len(toks)-1], " ")
	}
	return parts
}

func trimPrefix(toks []string) ([]string, string) {
	if len(toks) > 1 && namePrefixes[toks[0]] {
		return toks[1:], toks[0]
	}
	return toks, ""
}

func trimSuffix(toks []string) ([]string, string) {
	if len(toks) > 1 && nameSuffixes[toks[len(toks)-1]] {
		return toks[:len(toks)-1], toks[len(toks)-1]
	}
	return toks, ""
}

// Canonical renders parts as "FIRST MIDDLE LAST" without prefix or suffix.
func (p NameParts) Canonical() string {
	return joinNonEmpty(p.First, p.Middle, p.Last)
}

// SearchKeys returns the exact keys a name can be found under: the plain
// normalized form, the canonical first-middle-last form, and first-last
// with the middle dropped. Keys are sorted and unique.
func SearchKeys(raw string) []string {
	keys := []string{NormalizeName(raw)}
	p := ParseName(raw)
	keys = append(keys, p.Canonical())
	if p.First != "" && p.Last != "" {
		keys = append(keys, joinNonEmpty(p.First, p.Last))
	}
	return uniqueSorted(keys)
}

// QueryKeys returns the keys a free-text query is looked up by. Unlike
// SearchKeys it never drops the middle name, so "Jane Q. Doe" cannot
// match a different "Jane R. Doe".
func QueryKeys(raw string) []string {
	return uniqueSorted([]string{NormalizeName(raw), ParseName(raw).Canonical()})
}

// HasKey reports whether any query key of raw is among keys, which must
// be sorted as SearchKeys returns them.
func HasKey(raw string, keys []string) bool {
	for _, k := range QueryKeys(raw) {
		if _, ok := slices.BinarySearch(keys, k); ok {
			return true
		}
	}
	return false
}

func joinNonEmpty(parts ...string) string {
	var out []string
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, " ")
}

func uniqueSorted(keys []string) []string {
	out := keys[:0]
	for _, k := range keys {
		if k != "" {
			out = append(out, k)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
