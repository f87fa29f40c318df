package reconcile

import (
	"sort"
	"strings"

	"github.com/shelfline-wms/shelfline/internal/inventory"
)

// MatchMethod names which rung of the priority chain produced a match.
type MatchMethod string

const (
	// MatchNone means no existing record qualified.
	MatchNone MatchMethod = "none"
	// MatchByProductID is an exact external-identifier match.
	MatchByProductID MatchMethod = "product_id"
	// MatchBySKU is an exact SKU match, name-constrained when possible.
	MatchBySKU MatchMethod = "sku"
	// MatchByName is a fuzzy name-similarity match.
	MatchByName MatchMethod = "name"
)

// ScoredCandidate pairs a record with its similarity score.
type ScoredCandidate struct {
	Record *inventory.Record
	Score  float64
}

// MatchCandidate is the resolver output for one row: zero, one, or many
// matching records. A non-empty Conflicts slice means the match is ambiguous
// and must go to human review.
type MatchCandidate struct {
	Method    MatchMethod
	Primary   *inventory.Record
	Conflicts []ScoredCandidate
	Score     float64
}

// Index holds all live records keyed for O(1) identifier lookups, built once
// per run so resolution is O(rows) instead of O(rows x existing).
type Index struct {
	byProductID map[string]*inventory.Record
	bySKU       map[string][]*inventory.Record
	all         []*inventory.Record
}

// NewIndex builds an Index over a snapshot of existing records.
func NewIndex(records []inventory.Record) *Index {
	ix := &Index{
		byProductID: make(map[string]*inventory.Record, len(records)),
		bySKU:       make(map[string][]*inventory.Record, len(records)),
	}
	for i := range records {
		ix.Add(&records[i])
	}
	return ix
}

// Add registers a record, including not-yet-persisted ones so that later rows
// in the same import accumulate instead of duplicating.
func (ix *Index) Add(rec *inventory.Record) {
	if rec.ProductID != "" {
		ix.byProductID[rec.ProductID] = rec
	}
	if rec.SKU != "" {
		ix.bySKU[rec.SKU] = append(ix.bySKU[rec.SKU], rec)
	}
	ix.all = append(ix.all, rec)
}

// Resolve runs the priority chain: exact productId, then exact SKU, then
// fuzzy name similarity. Fuzzy matching only applies when the row carries no
// identifier at all, which is the marketplace-listing import shape.
func (ix *Index) Resolve(item Item) MatchCandidate {
	if item.ProductID != "" {
		if rec, ok := ix.byProductID[item.ProductID]; ok {
			return MatchCandidate{Method: MatchByProductID, Primary: rec, Score: 1}
		}
	}

	if item.SKU != "" {
		if mc, ok := ix.resolveBySKU(item); ok {
			return mc
		}
		// An identifier was present but matched nothing: this is a new item,
		// not a candidate for fuzzy matching.
		return MatchCandidate{Method: MatchNone}
	}
	if item.ProductID != "" {
		return MatchCandidate{Method: MatchNone}
	}

	return ix.resolveByName(item)
}

func (ix *Index) resolveBySKU(item Item) (MatchCandidate, bool) {
	matches := ix.bySKU[item.SKU]
	if len(matches) == 0 {
		return MatchCandidate{}, false
	}
	if len(matches) == 1 {
		return MatchCandidate{Method: MatchBySKU, Primary: matches[0], Score: 1}, true
	}
	// Common SKUs without identifiers over-match; constrain by name.
	if item.Name != "" {
		var named []*inventory.Record
		for _, rec := range matches {
			if strings.EqualFold(strings.TrimSpace(rec.Name), strings.TrimSpace(item.Name)) {
				named = append(named, rec)
			}
		}
		if len(named) == 1 {
			return MatchCandidate{Method: MatchBySKU, Primary: named[0], Score: 1}, true
		}
		if len(named) > 1 {
			matches = named
		}
	}
	// Several records share the SKU and the name does not disambiguate:
	// surface all of them rather than guessing.
	mc := MatchCandidate{Method: MatchBySKU, Primary: matches[0], Score: 1}
	for _, rec := range matches[1:] {
		mc.Conflicts = append(mc.Conflicts, ScoredCandidate{Record: rec, Score: 1})
	}
	return mc, true
}

func (ix *Index) resolveByName(item Item) MatchCandidate {
	if item.Name == "" {
		return MatchCandidate{Method: MatchNone}
	}
	var qualifying []ScoredCandidate
	for _, rec := range ix.all {
		score := Similarity(item.Name, rec.Name)
		if score >= NameMatchThreshold {
			qualifying = append(qualifying, ScoredCandidate{Record: rec, Score: score})
		}
	}
	if len(qualifying) == 0 {
		return MatchCandidate{Method: MatchNone}
	}
	sort.SliceStable(qualifying, func(i, j int) bool {
		return qualifying[i].Score > qualifying[j].Score
	})
	return MatchCandidate{
		Method:    MatchByName,
		Primary:   qualifying[0].Record,
		Conflicts: qualifying[1:],
		Score:     qualifying[0].Score,
	}
}
