package reconcile

import (
	"strings"

	"github.com/shelfline-wms/shelfline/internal/inventory"
)

// dimensionFields is the lower-stakes conflict class: a row whose only
// disagreements are physical measurements gets a dimension conflict, resolved
// independently of identity conflicts.
var dimensionFields = map[string]bool{
	"length": true,
	"width":  true,
	"height": true,
	"weight": true,
}

// Classify turns a resolved row into its outcome. The comparison allow-list
// is name, quantity, price, location, sku, dimensions, weight and condition;
// barcode is deliberately excluded and always preserved from the existing
// record.
func Classify(row ImportRow, match MatchCandidate) RowOutcome {
	item := row.Item

	if len(match.Conflicts) > 0 {
		return conflictedAmbiguous(row, match)
	}

	if match.Primary == nil {
		return unmatchedOrCreate(row)
	}
	primary := *match.Primary

	// Identifier stability beats field equality: a productId pointing at a
	// different SKU is always a conflict.
	if match.Method == MatchByProductID && item.SKU != "" && item.SKU != primary.SKU {
		return RowOutcome{
			Kind: OutcomeConflicted,
			Row:  row,
			Conflict: &Conflict{
				Key:      item.ProductID,
				Type:     ConflictDuplicateItemID,
				RowIndex: row.Index,
				Candidates: []Candidate{{
					Record: primary,
					Score:  match.Score,
					Diffs:  compareFields(primary, item),
				}},
				Proposed: item,
				Status:   ConflictPending,
			},
		}
	}

	diffs := compareFields(primary, item)
	if len(diffs) > 0 {
		ctype := ConflictFieldMismatch
		if allDimensionDiffs(diffs) {
			ctype = ConflictDimensionMismatch
		}
		return RowOutcome{
			Kind: OutcomeConflicted,
			Row:  row,
			Conflict: &Conflict{
				Key:      conflictKey(item),
				Type:     ctype,
				RowIndex: row.Index,
				Candidates: []Candidate{{
					Record: primary,
					Score:  match.Score,
					Diffs:  diffs,
				}},
				Proposed: item,
				Status:   ConflictPending,
			},
		}
	}

	// Clean match: accept, merging in barcode, images and marketplace
	// metadata the existing record lacks.
	patch := mergePatch(primary, item)
	return RowOutcome{
		Kind:     OutcomeMatched,
		Row:      row,
		Op:       OpUpdate,
		TargetID: primary.ID,
		Patch:    &patch,
	}
}

func conflictedAmbiguous(row ImportRow, match MatchCandidate) RowOutcome {
	item := row.Item
	ctype := ConflictAmbiguousSKU
	if match.Method == MatchByName {
		ctype = ConflictAmbiguousName
	}
	candidates := make([]Candidate, 0, len(match.Conflicts)+1)
	candidates = append(candidates, Candidate{
		Record: *match.Primary,
		Score:  match.Score,
		Diffs:  compareFields(*match.Primary, item),
	})
	for _, sc := range match.Conflicts {
		candidates = append(candidates, Candidate{
			Record: *sc.Record,
			Score:  sc.Score,
			Diffs:  compareFields(*sc.Record, item),
		})
	}
	return RowOutcome{
		Kind: OutcomeConflicted,
		Row:  row,
		Conflict: &Conflict{
			Key:        conflictKey(item),
			Type:       ctype,
			RowIndex:   row.Index,
			Candidates: candidates,
			Proposed:   item,
			Status:     ConflictPending,
		},
	}
}

func unmatchedOrCreate(row ImportRow) RowOutcome {
	item := row.Item
	if item.Name == "" && item.ProductID == "" && item.SKU == "" {
		return RowOutcome{Kind: OutcomeUnmatched, Row: row, Reason: "no product name"}
	}
	if item.SKU == "" {
		// Name-only row that matched nothing; without a SKU there is nothing
		// to shelve it under.
		return RowOutcome{Kind: OutcomeUnmatched, Row: row, Reason: "no match found"}
	}
	rec := recordFromItem(item)
	return RowOutcome{Kind: OutcomeMatched, Row: row, Op: OpCreate, Create: &rec}
}

// compareFields reports allow-listed fields where the CSV disagrees with the
// stored record. A value missing from the CSV is never a difference.
func compareFields(rec inventory.Record, item Item) []FieldDiff {
	var diffs []FieldDiff

	if item.Name != "" && strings.TrimSpace(item.Name) != strings.TrimSpace(rec.Name) {
		diffs = append(diffs, FieldDiff{Field: "name", Existing: rec.Name, Incoming: item.Name})
	}
	if item.Quantity != rec.Quantity {
		diffs = append(diffs, FieldDiff{Field: "quantity", Existing: rec.Quantity, Incoming: item.Quantity})
	}
	if d := floatDiff("price", rec.Price, item.Price); d != nil {
		diffs = append(diffs, *d)
	}
	if item.Location != "" && item.Location != rec.Location {
		diffs = append(diffs, FieldDiff{Field: "location", Existing: rec.Location, Incoming: item.Location})
	}
	if item.SKU != "" && item.SKU != rec.SKU {
		diffs = append(diffs, FieldDiff{Field: "sku", Existing: rec.SKU, Incoming: item.SKU})
	}
	if d := floatDiff("length", rec.Length, item.Length); d != nil {
		diffs = append(diffs, *d)
	}
	if d := floatDiff("width", rec.Width, item.Width); d != nil {
		diffs = append(diffs, *d)
	}
	if d := floatDiff("height", rec.Height, item.Height); d != nil {
		diffs = append(diffs, *d)
	}
	if d := floatDiff("weight", rec.Weight, item.Weight); d != nil {
		diffs = append(diffs, *d)
	}
	if item.Condition != "" && !strings.EqualFold(item.Condition, rec.Condition) {
		diffs = append(diffs, FieldDiff{Field: "condition", Existing: rec.Condition, Incoming: item.Condition})
	}
	return diffs
}

func floatDiff(field string, existing, incoming *float64) *FieldDiff {
	if incoming == nil {
		return nil
	}
	if existing != nil && *existing == *incoming {
		return nil
	}
	diff := FieldDiff{Field: field, Incoming: *incoming}
	if existing != nil {
		diff.Existing = *existing
	}
	return &diff
}

func allDimensionDiffs(diffs []FieldDiff) bool {
	for _, d := range diffs {
		if !dimensionFields[d.Field] {
			return false
		}
	}
	return true
}

func conflictKey(item Item) string {
	if item.ProductID != "" {
		return item.ProductID
	}
	if item.SKU != "" {
		return item.SKU
	}
	return item.Name
}

// mergePatch builds the clean-match update: metadata the record lacks, never
// an overwrite of a recorded barcode.
func mergePatch(rec inventory.Record, item Item) inventory.FieldPatch {
	var patch inventory.FieldPatch
	if item.Barcode != "" && rec.Barcode == "" {
		patch.Barcode = &item.Barcode
	}
	if len(item.Images) > 0 {
		patch.Images = item.Images
	}
	if item.ItemID != "" && item.ItemID != rec.ItemID {
		patch.ItemID = &item.ItemID
	}
	if item.EbayURL != "" && item.EbayURL != rec.EbayURL {
		patch.EbayURL = &item.EbayURL
	}
	if item.EbaySellerName != "" && item.EbaySellerName != rec.EbaySellerName {
		patch.EbaySellerName = &item.EbaySellerName
	}
	return patch
}

// patchFromItem builds the full allow-listed patch for accept_csv
// resolutions; the resolution is the explicit override the barcode invariant
// requires.
func patchFromItem(item Item) inventory.FieldPatch {
	patch := inventory.FieldPatch{
		Length: item.Length,
		Width:  item.Width,
		Height: item.Height,
		Weight: item.Weight,
		Price:  item.Price,
	}
	if item.SKU != "" {
		patch.SKU = &item.SKU
	}
	if item.Location != "" {
		patch.Location = &item.Location
	}
	if item.Name != "" {
		patch.Name = &item.Name
	}
	if item.Quantity > 0 {
		patch.Quantity = &item.Quantity
	}
	if item.Condition != "" {
		patch.Condition = &item.Condition
	}
	if item.Barcode != "" {
		patch.Barcode = &item.Barcode
		patch.OverrideBarcode = true
	}
	if len(item.Images) > 0 {
		patch.Images = item.Images
	}
	if item.ItemID != "" {
		patch.ItemID = &item.ItemID
	}
	if item.EbayURL != "" {
		patch.EbayURL = &item.EbayURL
	}
	if item.EbaySellerName != "" {
		patch.EbaySellerName = &item.EbaySellerName
	}
	return patch
}

// recordFromItem materialises a new record from a row; the inventory service
// derives the location when the row did not carry one.
func recordFromItem(item Item) inventory.Record {
	return inventory.Record{
		ProductID:      item.ProductID,
		SKU:            item.SKU,
		Location:       item.Location,
		Quantity:       item.Quantity,
		Barcode:        item.Barcode,
		Name:           item.Name,
		Condition:      item.Condition,
		Length:         item.Length,
		Width:          item.Width,
		Height:         item.Height,
		Weight:         item.Weight,
		Price:          item.Price,
		Images:         item.Images,
		ItemID:         item.ItemID,
		EbayURL:        item.EbayURL,
		EbaySellerName: item.EbaySellerName,
	}
}
