// Package match resolves free-text candidate names to candidate ids by
// exact normalized-name lookup under progressively relaxed hints.
package match

import (
	"cmp"
	"slices"
	"strings"

	"github.com/sells-group/campaignfin/internal/model"
	"github.com/sells-group/campaignfin/internal/resolve"
)

// Index is an immutable name index over one dimension snapshot. It is safe
// for concurrent use.
type Index struct {
	version string
	byKey   map[string][]model.Candidate
}

// NewIndex indexes every candidate row under each of its search keys. The
// version identifies the snapshot and is part of every cache key.
func NewIndex(version string, cands []model.Candidate) *Index {
	idx := &Index{version: version, byKey: make(map[string][]model.Candidate)}
	for _, c := range cands {
		keys := c.SearchKeys
		if len(keys) == 0 {
			keys = resolve.SearchKeys(c.DisplayName)
		}
		for _, k := range keys {
			idx.byKey[k] = append(idx.byKey[k], c)
		}
	}
	for k, cs := range idx.byKey {
		slices.SortFunc(cs, func(a, b model.Candidate) int {
			return cmp.Or(strings.Compare(a.ID, b.ID), cmp.Compare(a.Cycle, b.Cycle))
		})
		idx.byKey[k] = slices.CompactFunc(cs, func(a, b model.Candidate) bool {
			return a.ID == b.ID && a.Cycle == b.Cycle
		})
	}
	return idx
}

// Version returns the snapshot version the index was built from.
func (idx *Index) Version() string { return idx.version }

// Len returns the number of distinct keys.
func (idx *Index) Len() int { return len(idx.byKey) }

// lookup returns every candidate row reachable from the query keys.
func (idx *Index) lookup(keys []string) []model.Candidate {
	var out []model.Candidate
	for _, k := range keys {
		out = append(out, idx.byKey[k]...)
	}
	return out
}
