package inventory

import (
	"context"
	"log/slog"
	"strings"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	ListAll(ctx context.Context) ([]Record, error)
	Get(ctx context.Context, id string) (Record, error)
	FindByProductID(ctx context.Context, productID string) (*Record, error)
	FindBySKU(ctx context.Context, sku string) ([]Record, error)
	Create(ctx context.Context, rec Record) (Record, error)
	CreateBatch(ctx context.Context, recs []Record) error
	Update(ctx context.Context, id string, patch FieldPatch) (Record, error)
	Delete(ctx context.Context, id string) error
}

// Service is the write boundary for inventory records. It owns the invariants
// that reconciliation and manual edits both rely on: quantities never go
// negative, a record emptied to zero is deleted, and a recorded barcode is
// never silently replaced.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, logger: logger}
}

// ListAll returns every live record.
func (s *Service) ListAll(ctx context.Context) ([]Record, error) {
	return s.repo.ListAll(ctx)
}

// Get loads one record.
func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	return s.repo.Get(ctx, id)
}

// FindByProductID returns the record with the external identifier, or nil.
func (s *Service) FindByProductID(ctx context.Context, productID string) (*Record, error) {
	return s.repo.FindByProductID(ctx, productID)
}

// FindBySKU returns all records sharing a SKU.
func (s *Service) FindBySKU(ctx context.Context, sku string) ([]Record, error) {
	return s.repo.FindBySKU(ctx, sku)
}

// Create validates and inserts a new record, deriving the location from the
// SKU when none was supplied.
func (s *Service) Create(ctx context.Context, rec Record) (Record, error) {
	if strings.TrimSpace(rec.SKU) == "" {
		return Record{}, ErrSKURequired
	}
	if rec.Quantity < 0 {
		return Record{}, ErrNegativeQuantity
	}
	if rec.Location == "" {
		rec.Location = ExtractLocation(rec.SKU)
	}
	if len(rec.Images) > MaxImageSlots {
		rec.Images = rec.Images[:MaxImageSlots]
	}
	return s.repo.Create(ctx, rec)
}

// CreateBatch inserts several records after per-record validation.
func (s *Service) CreateBatch(ctx context.Context, recs []Record) error {
	for i := range recs {
		if strings.TrimSpace(recs[i].SKU) == "" {
			return ErrSKURequired
		}
		if recs[i].Quantity < 0 {
			return ErrNegativeQuantity
		}
		if recs[i].Location == "" {
			recs[i].Location = ExtractLocation(recs[i].SKU)
		}
	}
	return s.repo.CreateBatch(ctx, recs)
}

// ApplyPatch updates a record. The returned bool reports whether the record
// was deleted because its quantity reached zero.
func (s *Service) ApplyPatch(ctx context.Context, id string, patch FieldPatch) (Record, bool, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return Record{}, false, err
	}

	if patch.Quantity != nil {
		if *patch.Quantity < 0 {
			return Record{}, false, ErrNegativeQuantity
		}
		if *patch.Quantity == 0 {
			if err := s.repo.Delete(ctx, id); err != nil {
				return Record{}, false, err
			}
			s.logger.Info("deleted empty record",
				slog.String("id", id), slog.String("sku", existing.SKU))
			return Record{}, true, nil
		}
	}

	if patch.Barcode != nil && existing.Barcode != "" && !patch.OverrideBarcode {
		patch.Barcode = nil
	}
	// A SKU change moves the item unless the caller pinned a location.
	if patch.SKU != nil && patch.Location == nil {
		loc := ExtractLocation(*patch.SKU)
		patch.Location = &loc
	}

	rec, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		return Record{}, false, err
	}
	return rec, false, nil
}

// Delete removes a record explicitly.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.repo.Delete(ctx, id)
}
