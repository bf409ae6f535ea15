// Package resolve normalizes candidate and contributor names into the exact
// keys used for matching.
package resolve

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// stripMarks builds a fresh transformer per call; chained transformers
// carry state and are not safe for concurrent use.
func stripMarks() transform.Transformer {
	return transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}

// NormalizeName standardizes a person or committee name by:
//  1. Decomposing and dropping diacritics (JOSÉ -> JOSE)
//  2. Converting to uppercase
//  3. Dropping apostrophes and periods (O'NEIL -> ONEIL, Q. -> Q)
//  4. Replacing every other punctuation rune with a space
//  5. Collapsing runs of whitespace
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}

	if folded, _, err := transform.String(stripMarks(), name); err == nil {
		name = folded
	}
	name = strings.ToUpper(name)

	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r == '\'' || r == '.' || r == '’':
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// Tokens splits a normalized name into words.
func Tokens(normalized string) []string {
	return strings.Fields(normalized)
}
