package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/shelfline-wms/shelfline/internal/inventory"
	"github.com/shelfline-wms/shelfline/internal/shared"
)

// DefaultBatchSize chunks bulk create writes.
const DefaultBatchSize = 100

// InventoryPort is the slice of the inventory service the orchestrator
// writes through. Going through the service keeps the quantity and barcode
// invariants in one place.
type InventoryPort interface {
	ListAll(ctx context.Context) ([]inventory.Record, error)
	Create(ctx context.Context, rec inventory.Record) (inventory.Record, error)
	CreateBatch(ctx context.Context, recs []inventory.Record) error
	ApplyPatch(ctx context.Context, id string, patch inventory.FieldPatch) (inventory.Record, bool, error)
	Delete(ctx context.Context, id string) error
}

// RunStore persists import runs across the review round-trip.
type RunStore interface {
	Create(ctx context.Context, run Run) error
	Get(ctx context.Context, id string) (Run, error)
	Update(ctx context.Context, run Run) error
}

// IdempotencyPort guards a run's commit against double submission.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

// Orchestrator drives the parse -> review -> commit lifecycle and the
// no-review bulk fast path.
type Orchestrator struct {
	store      RunStore
	inv        InventoryPort
	idem       IdempotencyPort
	normalizer *Normalizer
	logger     *slog.Logger
	batchSize  int
}

// NewOrchestrator builds the orchestrator. idem may be nil, which disables
// the commit guard (tests, single-writer deployments).
func NewOrchestrator(store RunStore, inv InventoryPort, idem IdempotencyPort, batchSize int, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Orchestrator{
		store:      store,
		inv:        inv,
		idem:       idem,
		normalizer: NewNormalizer(NormalizerOptions{}),
		logger:     logger,
		batchSize:  batchSize,
	}
}

// GetRun loads one run.
func (o *Orchestrator) GetRun(ctx context.Context, id string) (Run, error) {
	return o.store.Get(ctx, id)
}

// Parse fetches a source, classifies every row against a snapshot of live
// inventory, and persists the run READY_FOR_REVIEW. Rows are processed in
// file order; a row whose identifiers match an earlier row's pending create
// reconciles against that pending record instead of duplicating it.
func (o *Orchestrator) Parse(ctx context.Context, src RowSource, kind SourceKind) (Run, error) {
	run := Run{
		ID:        uuid.NewString(),
		Source:    kind,
		SourceRef: src.Ref(),
		Status:    StatusParsing,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := o.store.Create(ctx, run); err != nil {
		return Run{}, err
	}

	rows, err := src.Rows(ctx)
	if err != nil {
		return o.fail(ctx, run, err)
	}

	existing, err := o.inv.ListAll(ctx)
	if err != nil {
		return o.fail(ctx, run, err)
	}
	ix := NewIndex(existing)

	outcomes := make([]RowOutcome, 0, len(rows))
	for i, raw := range rows {
		row := o.normalizer.Normalize(i, raw)
		if row.Item.Quantity <= 0 {
			outcomes = append(outcomes, RowOutcome{
				Kind:   OutcomeUnmatched,
				Row:    row,
				Reason: "quantity not positive",
			})
			continue
		}
		out := Classify(row, ix.Resolve(row.Item))
		if out.Kind == OutcomeMatched && out.Op == OpCreate {
			// Pre-assign the id and index the pending record so later rows
			// in the same file update it rather than creating twice.
			out.Create.ID = uuid.NewString()
			out.TargetID = out.Create.ID
			ix.Add(out.Create)
		}
		outcomes = append(outcomes, out)
	}

	run.Outcomes = outcomes
	run.Summary = summarize(outcomes)
	run.Status = StatusReadyForReview
	run.UpdatedAt = time.Now().UTC()
	if err := o.store.Update(ctx, run); err != nil {
		return Run{}, err
	}
	o.logger.Info("import parsed",
		slog.String("run_id", run.ID),
		slog.String("source", string(kind)),
		slog.Int("rows", run.Summary.TotalRows),
		slog.Int("conflicts", run.Summary.Conflicts))
	return run, nil
}

// ApplyResolutions records reviewer decisions and moves the run to
// RESOLVING. Decisions can arrive in several batches; a later resolution for
// the same row replaces the earlier one.
func (o *Orchestrator) ApplyResolutions(ctx context.Context, runID string, resolutions []Resolution) (Run, error) {
	run, err := o.store.Get(ctx, runID)
	if err != nil {
		return Run{}, err
	}
	if run.Status != StatusReadyForReview && run.Status != StatusResolving {
		return Run{}, ErrRunNotReady
	}

	conflictRows := make(map[int]bool)
	for _, oc := range run.Outcomes {
		if oc.Kind == OutcomeConflicted {
			conflictRows[oc.Row.Index] = true
		}
	}
	for _, res := range resolutions {
		if !KnownAction(string(res.Action)) {
			return Run{}, fmt.Errorf("%w: %q", ErrUnknownAction, res.Action)
		}
		if !conflictRows[res.RowIndex] {
			return Run{}, fmt.Errorf("reconcile: row %d has no conflict", res.RowIndex)
		}
	}

	byRow := make(map[int]Resolution, len(run.Resolutions)+len(resolutions))
	for _, res := range run.Resolutions {
		byRow[res.RowIndex] = res
	}
	for _, res := range resolutions {
		byRow[res.RowIndex] = res
	}
	merged := make([]Resolution, 0, len(byRow))
	for _, oc := range run.Outcomes {
		if res, ok := byRow[oc.Row.Index]; ok {
			merged = append(merged, res)
		}
	}
	run.Resolutions = merged
	run.Status = StatusResolving
	run.UpdatedAt = time.Now().UTC()
	if err := o.store.Update(ctx, run); err != nil {
		return Run{}, err
	}
	return run, nil
}

// Commit applies a reviewed run: matched writes plus resolved conflicts.
// Every conflict needs a resolution first. Row failures do not abort the
// commit; they are collected in the result.
func (o *Orchestrator) Commit(ctx context.Context, runID string) (Run, error) {
	run, err := o.store.Get(ctx, runID)
	if err != nil {
		return Run{}, err
	}
	switch run.Status {
	case StatusReadyForReview, StatusResolving:
	case StatusCommitted:
		return Run{}, ErrRunCommitted
	default:
		return Run{}, ErrRunNotReady
	}

	byRow := make(map[int]Resolution, len(run.Resolutions))
	for _, res := range run.Resolutions {
		byRow[res.RowIndex] = res
	}
	for _, oc := range run.Outcomes {
		if oc.Kind == OutcomeConflicted {
			if _, ok := byRow[oc.Row.Index]; !ok {
				return Run{}, ErrUnresolvedConflicts
			}
		}
	}

	if o.idem != nil {
		if err := o.idem.CheckAndInsert(ctx, commitKey(run.ID), "reconcile"); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Run{}, ErrRunCommitted
			}
			return Run{}, err
		}
	}

	run.Status = StatusResolving
	run.UpdatedAt = time.Now().UTC()
	if err := o.store.Update(ctx, run); err != nil {
		// Nothing written yet; free the guard so the feed is not lost.
		o.releaseCommitKey(ctx, run.ID)
		return o.fail(ctx, run, err)
	}

	result := CommitResult{}
	for i := range run.Outcomes {
		oc := &run.Outcomes[i]
		switch oc.Kind {
		case OutcomeMatched:
			o.applyMatched(ctx, oc, &result)
		case OutcomeConflicted:
			o.applyResolution(ctx, oc, byRow[oc.Row.Index], &result)
		}
	}

	run.Result = &result
	run.Status = StatusCommitted
	run.UpdatedAt = time.Now().UTC()
	if err := o.store.Update(ctx, run); err != nil {
		// The writes went out but the result did not stick; record the
		// failure and free the guard along with it.
		o.releaseCommitKey(ctx, run.ID)
		return o.fail(ctx, run, err)
	}
	o.logger.Info("import committed",
		slog.String("run_id", run.ID),
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
		slog.Int("errors", len(result.Errors)))
	return run, nil
}

func (o *Orchestrator) applyMatched(ctx context.Context, oc *RowOutcome, result *CommitResult) {
	switch oc.Op {
	case OpCreate:
		if _, err := o.inv.Create(ctx, *oc.Create); err != nil {
			result.Errors = append(result.Errors, rowError(oc.Row.Index, err))
			return
		}
		result.Created++
	case OpUpdate:
		if oc.Patch == nil || oc.Patch.IsEmpty() {
			return
		}
		_, deleted, err := o.inv.ApplyPatch(ctx, oc.TargetID, *oc.Patch)
		if err != nil {
			result.Errors = append(result.Errors, rowError(oc.Row.Index, err))
			return
		}
		if deleted {
			result.Deleted++
		} else {
			result.Updated++
		}
	}
}

func (o *Orchestrator) applyResolution(ctx context.Context, oc *RowOutcome, res Resolution, result *CommitResult) {
	conflict := oc.Conflict
	target := res.TargetID
	if target == "" && len(conflict.Candidates) > 0 {
		target = conflict.Candidates[0].Record.ID
	}

	var err error
	switch res.Action {
	case ResolutionKeepExisting:
		if res.UseCSVDimensions && target != "" {
			patch := dimensionsPatch(conflict.Proposed)
			if !patch.IsEmpty() {
				if _, _, perr := o.inv.ApplyPatch(ctx, target, patch); perr != nil {
					err = perr
				} else {
					result.Updated++
				}
			}
		}
	case ResolutionAcceptCSV:
		patch := patchFromItem(conflict.Proposed)
		if !res.UseCSVDimensions && conflict.Type != ConflictDimensionMismatch {
			patch = patch.WithoutDimensions()
		}
		var deleted bool
		if _, deleted, err = o.inv.ApplyPatch(ctx, target, patch); err == nil {
			if deleted {
				result.Deleted++
			} else {
				result.Updated++
			}
		}
	case ResolutionCreateDuplicate:
		rec := recordFromItem(conflict.Proposed)
		// The stored record keeps the identifier; the duplicate gets none.
		for _, cand := range conflict.Candidates {
			if rec.ProductID != "" && cand.Record.ProductID == rec.ProductID {
				rec.ProductID = ""
				break
			}
		}
		if _, err = o.inv.Create(ctx, rec); err == nil {
			result.Created++
		}
	case ResolutionReplaceExisting:
		if err = o.inv.Delete(ctx, target); err == nil {
			result.Deleted++
			if _, err = o.inv.Create(ctx, recordFromItem(conflict.Proposed)); err == nil {
				result.Created++
			}
		}
	}
	if err != nil {
		result.Errors = append(result.Errors, rowError(oc.Row.Index, err))
		return
	}
	conflict.Status = ConflictResolved
	conflict.Resolution = res.Action
}

// BulkUpsert is the no-review fast path for trusted feeds: matched rows are
// written immediately, quantities for repeated identifiers accumulate, and
// creates go out in chunks. ProductID rows whose stored SKU disagrees with
// the feed are parked as sku_error conflicts on the returned run instead of
// being written.
func (o *Orchestrator) BulkUpsert(ctx context.Context, src RowSource, kind SourceKind) (Run, error) {
	run := Run{
		ID:        uuid.NewString(),
		Source:    kind,
		SourceRef: src.Ref(),
		Status:    StatusParsing,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := o.store.Create(ctx, run); err != nil {
		return Run{}, err
	}

	rows, err := src.Rows(ctx)
	if err != nil {
		return o.fail(ctx, run, err)
	}
	existing, err := o.inv.ListAll(ctx)
	if err != nil {
		return o.fail(ctx, run, err)
	}
	ix := NewIndex(existing)

	result := CommitResult{}
	var outcomes []RowOutcome
	var pending []*inventory.Record
	pendingSet := make(map[*inventory.Record]bool)

	for i, raw := range rows {
		row := o.normalizer.Normalize(i, raw)
		item := row.Item
		if item.Quantity <= 0 {
			outcomes = append(outcomes, RowOutcome{Kind: OutcomeUnmatched, Row: row, Reason: "quantity not positive"})
			continue
		}

		mc := ix.Resolve(item)
		switch {
		case len(mc.Conflicts) > 0:
			// Ambiguity never auto-writes, even on the fast path.
			outcomes = append(outcomes, Classify(row, mc))

		case mc.Primary == nil:
			if item.SKU == "" {
				reason := "no match found"
				if item.Name == "" && item.ProductID == "" {
					reason = "no product name"
				}
				outcomes = append(outcomes, RowOutcome{Kind: OutcomeUnmatched, Row: row, Reason: reason})
				continue
			}
			rec := recordFromItem(item)
			rec.ID = uuid.NewString()
			ix.Add(&rec)
			pending = append(pending, &rec)
			pendingSet[&rec] = true
			outcomes = append(outcomes, RowOutcome{Kind: OutcomeMatched, Row: row, Op: OpCreate, TargetID: rec.ID})

		case mc.Method == MatchByProductID && item.SKU != "" && item.SKU != mc.Primary.SKU:
			out := Classify(row, mc)
			out.Conflict.Type = ConflictSKUError
			outcomes = append(outcomes, out)

		default:
			primary := mc.Primary
			if pendingSet[primary] {
				// Same file referenced this not-yet-written record again;
				// fold the quantity in before the batch goes out.
				primary.Quantity += item.Quantity
				outcomes = append(outcomes, RowOutcome{Kind: OutcomeMatched, Row: row, Op: OpUpdate, TargetID: primary.ID})
				continue
			}
			qty := primary.Quantity + item.Quantity
			patch := mergePatch(*primary, item)
			patch.Quantity = &qty
			_, _, err := o.inv.ApplyPatch(ctx, primary.ID, patch)
			if err != nil {
				result.Errors = append(result.Errors, rowError(i, err))
				continue
			}
			primary.Quantity = qty
			result.Updated++
			outcomes = append(outcomes, RowOutcome{Kind: OutcomeMatched, Row: row, Op: OpUpdate, TargetID: primary.ID})
		}
	}

	created, errs := o.flushCreates(ctx, pending)
	result.Created += created
	result.Errors = append(result.Errors, errs...)

	run.Outcomes = outcomes
	run.Summary = summarize(outcomes)
	run.Result = &result
	if run.Summary.Conflicts > 0 {
		// sku_error rows stay parked for manual follow-up.
		run.Status = StatusReadyForReview
	} else {
		run.Status = StatusCommitted
	}
	run.UpdatedAt = time.Now().UTC()
	if err := o.store.Update(ctx, run); err != nil {
		return Run{}, err
	}
	o.logger.Info("bulk upsert finished",
		slog.String("run_id", run.ID),
		slog.Int("created", result.Created),
		slog.Int("updated", result.Updated),
		slog.Int("parked", run.Summary.Conflicts))
	return run, nil
}

// flushCreates writes pending records in chunks. A failed chunk falls back to
// row-by-row writes so one bad record does not sink its neighbours.
func (o *Orchestrator) flushCreates(ctx context.Context, pending []*inventory.Record) (int, []string) {
	var created int
	var errs []string
	for start := 0; start < len(pending); start += o.batchSize {
		end := start + o.batchSize
		if end > len(pending) {
			end = len(pending)
		}
		chunk := make([]inventory.Record, 0, end-start)
		for _, rec := range pending[start:end] {
			chunk = append(chunk, *rec)
		}
		if err := o.inv.CreateBatch(ctx, chunk); err == nil {
			created += len(chunk)
			continue
		}
		for _, rec := range chunk {
			if _, err := o.inv.Create(ctx, rec); err != nil {
				errs = append(errs, fmt.Sprintf("sku %s: %v", rec.SKU, err))
				continue
			}
			created++
		}
	}
	return created, errs
}

func commitKey(runID string) string { return "commit:" + runID }

// releaseCommitKey hands the commit guard back after a failed commit so the
// key does not outlive a run that never reached COMMITTED.
func (o *Orchestrator) releaseCommitKey(ctx context.Context, runID string) {
	if o.idem == nil {
		return
	}
	if err := o.idem.Delete(ctx, commitKey(runID)); err != nil {
		o.logger.Error("release commit key", slog.String("run_id", runID), slog.Any("error", err))
	}
}

func (o *Orchestrator) fail(ctx context.Context, run Run, cause error) (Run, error) {
	run.Status = StatusFailed
	run.Error = cause.Error()
	run.UpdatedAt = time.Now().UTC()
	if err := o.store.Update(ctx, run); err != nil {
		o.logger.Error("mark run failed", slog.String("run_id", run.ID), slog.Any("error", err))
	}
	return run, cause
}

func summarize(outcomes []RowOutcome) Summary {
	s := Summary{TotalRows: len(outcomes)}
	for _, oc := range outcomes {
		switch oc.Kind {
		case OutcomeMatched:
			s.Matched++
		case OutcomeConflicted:
			s.Conflicts++
			if oc.Conflict != nil && oc.Conflict.Type == ConflictDimensionMismatch {
				s.DimensionConflicts++
			}
		case OutcomeUnmatched:
			s.Unmatched++
		}
	}
	return s
}

func dimensionsPatch(item Item) inventory.FieldPatch {
	return inventory.FieldPatch{
		Length: item.Length,
		Width:  item.Width,
		Height: item.Height,
		Weight: item.Weight,
	}
}

func rowError(index int, err error) string {
	return fmt.Sprintf("row %d: %v", index, err)
}
