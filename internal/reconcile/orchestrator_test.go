package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shelfline-wms/shelfline/internal/inventory"
	"github.com/shelfline-wms/shelfline/internal/shared"
)

type memRunStore struct {
	mu          sync.Mutex
	runs        map[string]Run
	gets        int
	failUpdates int
}

func newMemRunStore() *memRunStore {
	return &memRunStore{runs: make(map[string]Run)}
}

func (s *memRunStore) Create(_ context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run
	return nil
}

func (s *memRunStore) Get(_ context.Context, id string) (Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets++
	run, ok := s.runs[id]
	if !ok {
		return Run{}, ErrRunNotFound
	}
	return run, nil
}

func (s *memRunStore) Update(_ context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failUpdates > 0 {
		s.failUpdates--
		return errors.New("store unavailable")
	}
	if _, ok := s.runs[run.ID]; !ok {
		return ErrRunNotFound
	}
	s.runs[run.ID] = run
	return nil
}

func (s *memRunStore) ListRecent(_ context.Context, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Run, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type fakeInventory struct {
	mu        sync.Mutex
	records   map[string]inventory.Record
	seq       int
	failBatch bool
}

func newFakeInventory(seed ...inventory.Record) *fakeInventory {
	f := &fakeInventory{records: make(map[string]inventory.Record)}
	for _, rec := range seed {
		f.records[rec.ID] = rec
	}
	return f
}

func (f *fakeInventory) ListAll(context.Context) ([]inventory.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]inventory.Record, 0, len(f.records))
	for _, rec := range f.records {
		out = append(out, rec)
	}
	return out, nil
}

func (f *fakeInventory) Create(_ context.Context, rec inventory.Record) (inventory.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if strings.TrimSpace(rec.SKU) == "" {
		return inventory.Record{}, inventory.ErrSKURequired
	}
	if rec.ID == "" {
		f.seq++
		rec.ID = "gen-" + strconv.Itoa(f.seq)
	}
	if rec.Location == "" {
		rec.Location = inventory.ExtractLocation(rec.SKU)
	}
	for _, other := range f.records {
		if rec.ProductID != "" && other.ProductID == rec.ProductID {
			return inventory.Record{}, inventory.ErrDuplicateProductID
		}
	}
	f.records[rec.ID] = rec
	return rec, nil
}

func (f *fakeInventory) CreateBatch(ctx context.Context, recs []inventory.Record) error {
	if f.failBatch {
		return inventory.ErrDuplicateProductID
	}
	for _, rec := range recs {
		if _, err := f.Create(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeInventory) ApplyPatch(_ context.Context, id string, patch inventory.FieldPatch) (inventory.Record, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return inventory.Record{}, false, inventory.ErrNotFound
	}
	if patch.Quantity != nil {
		if *patch.Quantity < 0 {
			return inventory.Record{}, false, inventory.ErrNegativeQuantity
		}
		if *patch.Quantity == 0 {
			delete(f.records, id)
			return inventory.Record{}, true, nil
		}
		rec.Quantity = *patch.Quantity
	}
	if patch.Name != nil {
		rec.Name = *patch.Name
	}
	if patch.SKU != nil {
		rec.SKU = *patch.SKU
		rec.Location = inventory.ExtractLocation(rec.SKU)
	}
	if patch.Location != nil {
		rec.Location = *patch.Location
	}
	if patch.Price != nil {
		rec.Price = patch.Price
	}
	if patch.Length != nil {
		rec.Length = patch.Length
	}
	if patch.Width != nil {
		rec.Width = patch.Width
	}
	if patch.Height != nil {
		rec.Height = patch.Height
	}
	if patch.Weight != nil {
		rec.Weight = patch.Weight
	}
	if patch.Barcode != nil && (rec.Barcode == "" || patch.OverrideBarcode) {
		rec.Barcode = *patch.Barcode
	}
	if patch.Condition != nil {
		rec.Condition = *patch.Condition
	}
	if patch.Images != nil {
		rec.Images = patch.Images
	}
	f.records[id] = rec
	return rec, false, nil
}

func (f *fakeInventory) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[id]; !ok {
		return inventory.ErrNotFound
	}
	delete(f.records, id)
	return nil
}

func (f *fakeInventory) bySKU(sku string) []inventory.Record {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []inventory.Record
	for _, rec := range f.records {
		if rec.SKU == sku {
			out = append(out, rec)
		}
	}
	return out
}

type fakeIdem struct {
	mu   sync.Mutex
	keys map[string]bool
}

func newFakeIdem() *fakeIdem { return &fakeIdem{keys: make(map[string]bool)} }

func (f *fakeIdem) CheckAndInsert(_ context.Context, key, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[key] {
		return shared.ErrIdempotencyConflict
	}
	f.keys[key] = true
	return nil
}

func (f *fakeIdem) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.keys, key)
	return nil
}

func (f *fakeIdem) has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.keys[key]
}

func newTestOrchestrator(inv *fakeInventory) (*Orchestrator, *memRunStore) {
	store := newMemRunStore()
	o := NewOrchestrator(store, inv, newFakeIdem(), 2, slog.Default())
	return o, store
}

func csvSource(t *testing.T, doc string) *CSVSource {
	t.Helper()
	return NewCSVSource(strings.NewReader(doc), "test.csv")
}

func TestParseAndCommitCreatesAgainstEmptyInventory(t *testing.T) {
	inv := newFakeInventory()
	o, _ := newTestOrchestrator(inv)

	run, err := o.Parse(context.Background(),
		csvSource(t, "product id,sku,name,quantity\nEB-1001,A101-F,Blue Widget,3\n"),
		SourceUpload)
	require.NoError(t, err)
	require.Equal(t, StatusReadyForReview, run.Status)
	require.Equal(t, Summary{TotalRows: 1, Matched: 1}, run.Summary)
	require.Equal(t, OpCreate, run.Outcomes[0].Op)

	run, err = o.Commit(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCommitted, run.Status)
	require.Equal(t, 1, run.Result.Created)

	created := inv.bySKU("A101-F")
	require.Len(t, created, 1)
	require.Equal(t, "EB-1001", created[0].ProductID)
	require.Equal(t, "A101", created[0].Location, "location derived from sku")
}

func TestParseSkipsNonPositiveQuantity(t *testing.T) {
	o, _ := newTestOrchestrator(newFakeInventory())

	run, err := o.Parse(context.Background(),
		csvSource(t, "sku,name,quantity\nA101-F,Blue Widget,0\nB205-C,Desk Lamp,-2\n"),
		SourceUpload)
	require.NoError(t, err)
	require.Equal(t, 2, run.Summary.Unmatched)
	require.Equal(t, "quantity not positive", run.Outcomes[0].Reason)
}

func TestParseReconcilesDuplicateRowsAgainstPendingCreate(t *testing.T) {
	o, _ := newTestOrchestrator(newFakeInventory())

	run, err := o.Parse(context.Background(),
		csvSource(t, "product id,sku,name,quantity\nEB-1001,A101-F,Blue Widget,3\nEB-1001,A101-F,Blue Widget,3\n"),
		SourceUpload)
	require.NoError(t, err)
	require.Equal(t, 2, run.Summary.Matched)
	require.Equal(t, OpCreate, run.Outcomes[0].Op)
	require.Equal(t, OpUpdate, run.Outcomes[1].Op)
	require.Equal(t, run.Outcomes[0].TargetID, run.Outcomes[1].TargetID)
}

func TestCommitRejectsUnresolvedConflicts(t *testing.T) {
	existing := inventory.Record{ID: "rec-1", SKU: "A101-F", Name: "Blue Widget", Quantity: 5, Location: "A101"}
	o, _ := newTestOrchestrator(newFakeInventory(existing))

	run, err := o.Parse(context.Background(),
		csvSource(t, "sku,name,quantity\nA101-F,Blue Widget,9\n"),
		SourceUpload)
	require.NoError(t, err)
	require.Equal(t, 1, run.Summary.Conflicts)

	_, err = o.Commit(context.Background(), run.ID)
	require.ErrorIs(t, err, ErrUnresolvedConflicts)
}

func TestCommitAppliesResolutions(t *testing.T) {
	existing := inventory.Record{ID: "rec-1", SKU: "A101-F", Name: "Blue Widget", Quantity: 5, Location: "A101", Barcode: "0123456789"}
	inv := newFakeInventory(existing)
	o, _ := newTestOrchestrator(inv)

	run, err := o.Parse(context.Background(),
		csvSource(t, "sku,name,quantity,barcode\nA101-F,Blue Widget,9,9999999999\n"),
		SourceUpload)
	require.NoError(t, err)
	require.Equal(t, ConflictFieldMismatch, run.Outcomes[0].Conflict.Type)

	_, err = o.ApplyResolutions(context.Background(), run.ID, []Resolution{
		{RowIndex: 0, Action: ResolutionAcceptCSV},
	})
	require.NoError(t, err)

	run, err = o.Commit(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, 1, run.Result.Updated)
	require.Equal(t, ConflictResolved, run.Outcomes[0].Conflict.Status)

	recs := inv.bySKU("A101-F")
	require.Len(t, recs, 1)
	require.Equal(t, 9, recs[0].Quantity)
	require.Equal(t, "9999999999", recs[0].Barcode, "accept_csv is the explicit barcode override")
}

func TestCommitReplaceExisting(t *testing.T) {
	existing := inventory.Record{ID: "rec-1", ProductID: "EB-1001", SKU: "A101-F", Name: "Blue Widget", Quantity: 5}
	inv := newFakeInventory(existing)
	o, _ := newTestOrchestrator(inv)

	run, err := o.Parse(context.Background(),
		csvSource(t, "product id,sku,name,quantity\nEB-1001,B205-C,Blue Widget,5\n"),
		SourceUpload)
	require.NoError(t, err)
	require.Equal(t, ConflictDuplicateItemID, run.Outcomes[0].Conflict.Type)

	_, err = o.ApplyResolutions(context.Background(), run.ID, []Resolution{
		{RowIndex: 0, Action: ResolutionReplaceExisting, TargetID: "rec-1"},
	})
	require.NoError(t, err)

	run, err = o.Commit(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, 1, run.Result.Deleted)
	require.Equal(t, 1, run.Result.Created)
	require.Empty(t, inv.bySKU("A101-F"))

	moved := inv.bySKU("B205-C")
	require.Len(t, moved, 1)
	require.Equal(t, "EB-1001", moved[0].ProductID)
}

func TestCommitKeepExistingWithCSVDimensions(t *testing.T) {
	existing := inventory.Record{ID: "rec-1", SKU: "A101-F", Name: "Blue Widget", Quantity: 5, Length: fptr(10)}
	inv := newFakeInventory(existing)
	o, _ := newTestOrchestrator(inv)

	run, err := o.Parse(context.Background(),
		csvSource(t, "sku,name,quantity,length\nA101-F,Blue Widget,5,12\n"),
		SourceUpload)
	require.NoError(t, err)
	require.Equal(t, ConflictDimensionMismatch, run.Outcomes[0].Conflict.Type)
	require.Equal(t, 1, run.Summary.DimensionConflicts)

	_, err = o.ApplyResolutions(context.Background(), run.ID, []Resolution{
		{RowIndex: 0, Action: ResolutionKeepExisting, UseCSVDimensions: true},
	})
	require.NoError(t, err)

	run, err = o.Commit(context.Background(), run.ID)
	require.NoError(t, err)

	recs := inv.bySKU("A101-F")
	require.Len(t, recs, 1)
	require.Equal(t, 5, recs[0].Quantity, "identity fields untouched")
	require.Equal(t, 12.0, *recs[0].Length)
}

func TestCommitIsIdempotent(t *testing.T) {
	o, _ := newTestOrchestrator(newFakeInventory())

	run, err := o.Parse(context.Background(),
		csvSource(t, "sku,name,quantity\nA101-F,Blue Widget,3\n"),
		SourceUpload)
	require.NoError(t, err)

	_, err = o.Commit(context.Background(), run.ID)
	require.NoError(t, err)

	_, err = o.Commit(context.Background(), run.ID)
	require.ErrorIs(t, err, ErrRunCommitted)
}

func TestApplyResolutionsEntersResolving(t *testing.T) {
	existing := inventory.Record{ID: "rec-1", SKU: "A101-F", Name: "Blue Widget", Quantity: 5}
	o, store := newTestOrchestrator(newFakeInventory(existing))

	run, err := o.Parse(context.Background(),
		csvSource(t, "sku,name,quantity\nA101-F,Blue Widget,9\n"),
		SourceUpload)
	require.NoError(t, err)
	require.Equal(t, StatusReadyForReview, run.Status)

	run, err = o.ApplyResolutions(context.Background(), run.ID, []Resolution{
		{RowIndex: 0, Action: ResolutionKeepExisting},
	})
	require.NoError(t, err)
	require.Equal(t, StatusResolving, run.Status)

	stored, err := store.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, StatusResolving, stored.Status, "a poll sees the run resolving")

	// Reviewers can revise decisions, and commit accepts the RESOLVING run.
	run, err = o.ApplyResolutions(context.Background(), run.ID, []Resolution{
		{RowIndex: 0, Action: ResolutionAcceptCSV},
	})
	require.NoError(t, err)
	require.Equal(t, StatusResolving, run.Status)

	run, err = o.Commit(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCommitted, run.Status)
}

func TestCommitStoreFailureMarksRunFailed(t *testing.T) {
	inv := newFakeInventory()
	store := newMemRunStore()
	idem := newFakeIdem()
	o := NewOrchestrator(store, inv, idem, 2, slog.Default())

	run, err := o.Parse(context.Background(),
		csvSource(t, "sku,name,quantity\nA101-F,Blue Widget,3\n"),
		SourceUpload)
	require.NoError(t, err)

	store.failUpdates = 1
	_, err = o.Commit(context.Background(), run.ID)
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrRunCommitted)

	stored, err := store.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, stored.Status)
	require.NotEmpty(t, stored.Error)
	require.Empty(t, inv.bySKU("A101-F"), "nothing written before the failure")
	require.False(t, idem.has(commitKey(run.ID)), "guard released, a fresh import is not locked out")
}

func TestApplyResolutionsRejectsInvalidResolutions(t *testing.T) {
	existing := inventory.Record{ID: "rec-1", SKU: "A101-F", Name: "Blue Widget", Quantity: 5}
	o, _ := newTestOrchestrator(newFakeInventory(existing))

	run, err := o.Parse(context.Background(),
		csvSource(t, "sku,name,quantity\nA101-F,Blue Widget,9\n"),
		SourceUpload)
	require.NoError(t, err)

	_, err = o.ApplyResolutions(context.Background(), run.ID, []Resolution{
		{RowIndex: 0, Action: "merge_somehow"},
	})
	require.ErrorIs(t, err, ErrUnknownAction)

	_, err = o.ApplyResolutions(context.Background(), run.ID, []Resolution{
		{RowIndex: 42, Action: ResolutionKeepExisting},
	})
	require.Error(t, err)
}

func TestParseFailsRunOnEmptySource(t *testing.T) {
	o, store := newTestOrchestrator(newFakeInventory())

	run, err := o.Parse(context.Background(), csvSource(t, ""), SourceUpload)
	require.ErrorIs(t, err, ErrNoRows)

	stored, err := store.Get(context.Background(), run.ID)
	require.NoError(t, err)
	require.Equal(t, StatusFailed, stored.Status)
	require.NotEmpty(t, stored.Error)
}

func TestBulkUpsertAccumulatesQuantities(t *testing.T) {
	existing := inventory.Record{ID: "rec-1", SKU: "A101-F", Name: "Blue Widget", Quantity: 2, Location: "A101"}
	inv := newFakeInventory(existing)
	o, _ := newTestOrchestrator(inv)

	doc := "sku,name,quantity\n" +
		"A101-F,Blue Widget,3\n" + // existing: 2+3
		"B205-C,Desk Lamp,1\n" + // new
		"B205-C,Desk Lamp,4\n" // accumulates into the pending create
	run, err := o.BulkUpsert(context.Background(), csvSource(t, doc), SourceScheduled)
	require.NoError(t, err)
	require.Equal(t, StatusCommitted, run.Status)
	require.Equal(t, 1, run.Result.Created)
	require.Equal(t, 1, run.Result.Updated, "folding into a pending create is not a store write")

	recs := inv.bySKU("A101-F")
	require.Len(t, recs, 1)
	require.Equal(t, 5, recs[0].Quantity)

	lamps := inv.bySKU("B205-C")
	require.Len(t, lamps, 1)
	require.Equal(t, 5, lamps[0].Quantity)
}

func TestBulkUpsertParksSKUErrors(t *testing.T) {
	existing := inventory.Record{ID: "rec-1", ProductID: "EB-1001", SKU: "A101-F", Name: "Blue Widget", Quantity: 5}
	inv := newFakeInventory(existing)
	o, _ := newTestOrchestrator(inv)

	run, err := o.BulkUpsert(context.Background(),
		csvSource(t, "product id,sku,name,quantity\nEB-1001,B205-C,Blue Widget,5\n"),
		SourceScheduled)
	require.NoError(t, err)
	require.Equal(t, StatusReadyForReview, run.Status)
	require.Equal(t, 1, run.Summary.Conflicts)
	require.Equal(t, ConflictSKUError, run.Outcomes[0].Conflict.Type)

	recs := inv.bySKU("A101-F")
	require.Len(t, recs, 1)
	require.Equal(t, 5, recs[0].Quantity, "parked rows are never written")
}

func TestBulkUpsertFallsBackRowByRow(t *testing.T) {
	inv := newFakeInventory()
	inv.failBatch = true
	o, _ := newTestOrchestrator(inv)

	doc := "sku,name,quantity\nA101-F,Blue Widget,1\nB205-C,Desk Lamp,2\nC303-D,Mug,3\n"
	run, err := o.BulkUpsert(context.Background(), csvSource(t, doc), SourceScheduled)
	require.NoError(t, err)
	require.Equal(t, 3, run.Result.Created)
	require.Empty(t, run.Result.Errors)
	require.Len(t, inv.bySKU("C303-D"), 1)
}

func TestCoordinatorSerializesPerSource(t *testing.T) {
	c := NewCoordinator()

	require.True(t, c.Acquire("feed-url", "run-1"))
	require.False(t, c.Acquire("feed-url", "run-2"))
	require.True(t, c.Acquire("other-feed", "run-3"))

	// Only the holder can release.
	c.Release("feed-url", "run-2")
	_, held := c.Holder("feed-url")
	require.True(t, held)

	c.Release("feed-url", "run-1")
	require.True(t, c.Acquire("feed-url", "run-2"))
}
