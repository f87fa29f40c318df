package inventory

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type memoryRepo struct {
	records map[string]Record
	nextID  int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{records: make(map[string]Record)}
}

func (r *memoryRepo) ListAll(ctx context.Context) ([]Record, error) {
	out := make([]Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out, nil
}

func (r *memoryRepo) Get(ctx context.Context, id string) (Record, error) {
	rec, ok := r.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (r *memoryRepo) FindByProductID(ctx context.Context, productID string) (*Record, error) {
	for _, rec := range r.records {
		if rec.ProductID == productID {
			out := rec
			return &out, nil
		}
	}
	return nil, nil
}

func (r *memoryRepo) FindBySKU(ctx context.Context, sku string) ([]Record, error) {
	var out []Record
	for _, rec := range r.records {
		if rec.SKU == sku {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *memoryRepo) Create(ctx context.Context, rec Record) (Record, error) {
	if rec.ProductID != "" {
		for _, existing := range r.records {
			if existing.ProductID == rec.ProductID {
				return Record{}, ErrDuplicateProductID
			}
		}
	}
	if rec.ID == "" {
		r.nextID++
		rec.ID = fmt.Sprintf("rec-%d", r.nextID)
	}
	r.records[rec.ID] = rec
	return rec, nil
}

func (r *memoryRepo) CreateBatch(ctx context.Context, recs []Record) error {
	for _, rec := range recs {
		if _, err := r.Create(ctx, rec); err != nil {
			return err
		}
	}
	return nil
}

func (r *memoryRepo) Update(ctx context.Context, id string, patch FieldPatch) (Record, error) {
	rec, ok := r.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if patch.ProductID != nil {
		rec.ProductID = *patch.ProductID
	}
	if patch.SKU != nil {
		rec.SKU = *patch.SKU
	}
	if patch.Location != nil {
		rec.Location = *patch.Location
	}
	if patch.Quantity != nil {
		rec.Quantity = *patch.Quantity
	}
	if patch.Name != nil {
		rec.Name = *patch.Name
	}
	if patch.Condition != nil {
		rec.Condition = *patch.Condition
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
	if patch.Barcode != nil {
		rec.Barcode = *patch.Barcode
	}
	if patch.Images != nil {
		rec.Images = patch.Images
	}
	if patch.ItemID != nil {
		rec.ItemID = *patch.ItemID
	}
	if patch.EbayURL != nil {
		rec.EbayURL = *patch.EbayURL
	}
	if patch.EbaySellerName != nil {
		rec.EbaySellerName = *patch.EbaySellerName
	}
	r.records[id] = rec
	return rec, nil
}

func (r *memoryRepo) Delete(ctx context.Context, id string) error {
	if _, ok := r.records[id]; !ok {
		return ErrNotFound
	}
	delete(r.records, id)
	return nil
}

func intPtr(v int) *int { return &v }

func strPtr(v string) *string { return &v }

func TestCreateDerivesLocation(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	rec, err := svc.Create(ctx, Record{SKU: "A101-F", Name: "Lamp", Quantity: 5})
	require.NoError(t, err)
	require.Equal(t, "A101", rec.Location)

	rec, err = svc.Create(ctx, Record{SKU: "zz99", Name: "Odd", Quantity: 1})
	require.NoError(t, err)
	require.Equal(t, "zz99", rec.Location)

	_, err = svc.Create(ctx, Record{Name: "No SKU", Quantity: 1})
	require.ErrorIs(t, err, ErrSKURequired)
}

func TestApplyPatchDeletesOnZeroQuantity(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	rec, err := svc.Create(ctx, Record{SKU: "B202-F", Name: "Shade", Quantity: 2})
	require.NoError(t, err)

	_, deleted, err := svc.ApplyPatch(ctx, rec.ID, FieldPatch{Quantity: intPtr(0)})
	require.NoError(t, err)
	require.True(t, deleted)

	_, err = svc.Get(ctx, rec.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestApplyPatchRejectsNegativeQuantity(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	rec, err := svc.Create(ctx, Record{SKU: "B202-F", Name: "Shade", Quantity: 2})
	require.NoError(t, err)

	_, _, err = svc.ApplyPatch(ctx, rec.ID, FieldPatch{Quantity: intPtr(-1)})
	require.ErrorIs(t, err, ErrNegativeQuantity)

	got, err := svc.Get(ctx, rec.ID)
	require.NoError(t, err)
	require.Equal(t, 2, got.Quantity)
}

func TestApplyPatchPreservesBarcode(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	rec, err := svc.Create(ctx, Record{SKU: "C303-F", Name: "Plug", Quantity: 1, Barcode: "123456"})
	require.NoError(t, err)

	got, _, err := svc.ApplyPatch(ctx, rec.ID, FieldPatch{Barcode: strPtr("999999"), Quantity: intPtr(4)})
	require.NoError(t, err)
	require.Equal(t, "123456", got.Barcode)
	require.Equal(t, 4, got.Quantity)

	// An explicit resolution override does replace it.
	got, _, err = svc.ApplyPatch(ctx, rec.ID, FieldPatch{Barcode: strPtr("999999"), OverrideBarcode: true})
	require.NoError(t, err)
	require.Equal(t, "999999", got.Barcode)
}

func TestApplyPatchRelocatesOnSKUChange(t *testing.T) {
	repo := newMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()

	rec, err := svc.Create(ctx, Record{SKU: "A101-F", Name: "Lamp", Quantity: 3})
	require.NoError(t, err)

	got, _, err := svc.ApplyPatch(ctx, rec.ID, FieldPatch{SKU: strPtr("e501-n")})
	require.NoError(t, err)
	require.Equal(t, "e501-n", got.SKU)
	require.Equal(t, "E501", got.Location)
}
