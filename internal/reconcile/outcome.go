package reconcile

import (
	"github.com/shelfline-wms/shelfline/internal/inventory"
)

// OutcomeKind discriminates RowOutcome variants.
type OutcomeKind string

const (
	// OutcomeMatched rows are written at commit, either as a create or a
	// field-subset update.
	OutcomeMatched OutcomeKind = "matched"
	// OutcomeConflicted rows need human resolution before any write.
	OutcomeConflicted OutcomeKind = "conflicted"
	// OutcomeUnmatched rows are neither written nor retried.
	OutcomeUnmatched OutcomeKind = "unmatched"
)

// WriteOp classifies the upsert a matched row produces.
type WriteOp string

const (
	// OpCreate inserts a new record.
	OpCreate WriteOp = "create"
	// OpUpdate patches an existing record.
	OpUpdate WriteOp = "update"
)

// ConflictType names why a row needs review.
type ConflictType string

const (
	// ConflictFieldMismatch: same identity, allow-listed fields differ.
	ConflictFieldMismatch ConflictType = "field_mismatch"
	// ConflictDimensionMismatch: only physical measurement fields differ.
	// Lower stakes than an identity conflict; resolvable independently.
	ConflictDimensionMismatch ConflictType = "dimension_mismatch"
	// ConflictDuplicateItemID: productId matched but the SKU differs.
	// Identifier stability beats convenience auto-merge, always a conflict.
	ConflictDuplicateItemID ConflictType = "duplicate_item_id"
	// ConflictAmbiguousName: several records scored above the fuzzy threshold.
	ConflictAmbiguousName ConflictType = "ambiguous_name"
	// ConflictAmbiguousSKU: several records share the SKU and the name does
	// not disambiguate.
	ConflictAmbiguousSKU ConflictType = "ambiguous_sku"
	// ConflictSKUError: bulk fast path found a productId whose stored SKU
	// disagrees with the feed; parked for manual follow-up.
	ConflictSKUError ConflictType = "sku_error"
)

// ConflictStatus tracks resolution state.
type ConflictStatus string

const (
	// ConflictPending awaits a resolution.
	ConflictPending ConflictStatus = "PENDING"
	// ConflictResolved has been actioned.
	ConflictResolved ConflictStatus = "RESOLVED"
)

// ResolutionAction is the human decision applied to one conflicted row.
type ResolutionAction string

const (
	// ResolutionKeepExisting leaves the stored record untouched.
	ResolutionKeepExisting ResolutionAction = "keep_existing"
	// ResolutionAcceptCSV overwrites the stored record with the row's values.
	ResolutionAcceptCSV ResolutionAction = "accept_csv"
	// ResolutionCreateDuplicate keeps the stored record and inserts the row
	// as a separate record.
	ResolutionCreateDuplicate ResolutionAction = "create_duplicate"
	// ResolutionReplaceExisting deletes the stored record first so its
	// identifier can be reassigned without a unique-constraint collision.
	ResolutionReplaceExisting ResolutionAction = "replace_existing"
)

// KnownAction reports whether s is a valid resolution action.
func KnownAction(s string) bool {
	switch ResolutionAction(s) {
	case ResolutionKeepExisting, ResolutionAcceptCSV, ResolutionCreateDuplicate, ResolutionReplaceExisting:
		return true
	}
	return false
}

// FieldDiff is one differing allow-listed field.
type FieldDiff struct {
	Field    string      `json:"field"`
	Existing interface{} `json:"existingValue"`
	Incoming interface{} `json:"csvValue"`
}

// Candidate is one existing record competing for a conflicted row.
type Candidate struct {
	Record inventory.Record `json:"record"`
	Score  float64          `json:"score,omitempty"`
	Diffs  []FieldDiff      `json:"differences,omitempty"`
}

// Conflict is the persisted description of a detected mismatch.
type Conflict struct {
	ID         string           `json:"id,omitempty"`
	Key        string           `json:"key"`
	Type       ConflictType     `json:"conflictType"`
	RowIndex   int              `json:"rowIndex"`
	Candidates []Candidate      `json:"candidates"`
	Proposed   Item             `json:"proposedUpdate"`
	Status     ConflictStatus   `json:"status"`
	Resolution ResolutionAction `json:"resolution,omitempty"`
}

// RowOutcome is the classification of one import row. Kind is the
// discriminant; exactly the fields for that kind are set.
type RowOutcome struct {
	Kind OutcomeKind `json:"kind"`
	Row  ImportRow   `json:"row"`

	// Matched
	Op       WriteOp               `json:"op,omitempty"`
	TargetID string                `json:"targetId,omitempty"`
	Patch    *inventory.FieldPatch `json:"patch,omitempty"`
	Create   *inventory.Record     `json:"create,omitempty"`

	// Conflicted
	Conflict *Conflict `json:"conflict,omitempty"`

	// Unmatched
	Reason string `json:"reason,omitempty"`
}
