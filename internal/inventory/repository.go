package inventory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists inventory records in PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

const recordColumns = `id, product_id, sku, location, quantity, barcode, name, condition,
	length, width, height, weight, price, images, item_id, ebay_url, ebay_seller_name,
	created_at, updated_at`

// ListAll returns every live record. Reconciliation loads this once per run
// and indexes in memory; no pagination on purpose.
func (r *Repository) ListAll(ctx context.Context) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM inventory_items ORDER BY sku`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Get loads a single record by id.
func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	query := `SELECT ` + recordColumns + ` FROM inventory_items WHERE id = $1`
	rec, err := scanRecord(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, err
	}
	return rec, nil
}

// FindByProductID returns the record carrying the external identifier, or nil.
func (r *Repository) FindByProductID(ctx context.Context, productID string) (*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM inventory_items WHERE product_id = $1`
	rec, err := scanRecord(r.db.QueryRow(ctx, query, productID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

// FindBySKU returns all records sharing a SKU. SKUs are not unique.
func (r *Repository) FindBySKU(ctx context.Context, sku string) ([]Record, error) {
	query := `SELECT ` + recordColumns + ` FROM inventory_items WHERE sku = $1 ORDER BY created_at`
	rows, err := r.db.Query(ctx, query, sku)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Create inserts a record, assigning the id when absent.
func (r *Repository) Create(ctx context.Context, rec Record) (Record, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	images, err := marshalImages(rec.Images)
	if err != nil {
		return Record{}, err
	}
	query := `INSERT INTO inventory_items (id, product_id, sku, location, quantity, barcode, name, condition,
		length, width, height, weight, price, images, item_id, ebay_url, ebay_seller_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`
	_, err = r.db.Exec(ctx, query,
		rec.ID, nullable(rec.ProductID), rec.SKU, rec.Location, rec.Quantity, rec.Barcode, rec.Name, rec.Condition,
		rec.Length, rec.Width, rec.Height, rec.Weight, rec.Price, images,
		rec.ItemID, rec.EbayURL, rec.EbaySellerName, rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return Record{}, mapPgError(err)
	}
	return rec, nil
}

// CreateBatch inserts records inside one transaction. The whole batch fails
// together; callers needing row-level fallback retry individually.
func (r *Repository) CreateBatch(ctx context.Context, recs []Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := range recs {
		if recs[i].ID == "" {
			recs[i].ID = uuid.NewString()
		}
		now := time.Now().UTC()
		images, err := marshalImages(recs[i].Images)
		if err != nil {
			return err
		}
		query := `INSERT INTO inventory_items (id, product_id, sku, location, quantity, barcode, name, condition,
			length, width, height, weight, price, images, item_id, ebay_url, ebay_seller_name, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`
		if _, err := tx.Exec(ctx, query,
			recs[i].ID, nullable(recs[i].ProductID), recs[i].SKU, recs[i].Location, recs[i].Quantity,
			recs[i].Barcode, recs[i].Name, recs[i].Condition,
			recs[i].Length, recs[i].Width, recs[i].Height, recs[i].Weight, recs[i].Price, images,
			recs[i].ItemID, recs[i].EbayURL, recs[i].EbaySellerName, now, now); err != nil {
			return mapPgError(err)
		}
	}
	return tx.Commit(ctx)
}

// Update applies a field-subset patch and returns the stored record.
func (r *Repository) Update(ctx context.Context, id string, patch FieldPatch) (Record, error) {
	sets := []string{"updated_at = $1"}
	args := []interface{}{time.Now().UTC()}
	argPos := 2

	add := func(column string, value interface{}) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argPos))
		args = append(args, value)
		argPos++
	}

	if patch.ProductID != nil {
		add("product_id", nullable(*patch.ProductID))
	}
	if patch.SKU != nil {
		add("sku", *patch.SKU)
	}
	if patch.Location != nil {
		add("location", *patch.Location)
	}
	if patch.Quantity != nil {
		add("quantity", *patch.Quantity)
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Condition != nil {
		add("condition", *patch.Condition)
	}
	if patch.Price != nil {
		add("price", *patch.Price)
	}
	if patch.Length != nil {
		add("length", *patch.Length)
	}
	if patch.Width != nil {
		add("width", *patch.Width)
	}
	if patch.Height != nil {
		add("height", *patch.Height)
	}
	if patch.Weight != nil {
		add("weight", *patch.Weight)
	}
	if patch.Barcode != nil {
		add("barcode", *patch.Barcode)
	}
	if patch.Images != nil {
		images, err := marshalImages(patch.Images)
		if err != nil {
			return Record{}, err
		}
		add("images", images)
	}
	if patch.ItemID != nil {
		add("item_id", *patch.ItemID)
	}
	if patch.EbayURL != nil {
		add("ebay_url", *patch.EbayURL)
	}
	if patch.EbaySellerName != nil {
		add("ebay_seller_name", *patch.EbaySellerName)
	}

	query := fmt.Sprintf(`UPDATE inventory_items SET %s WHERE id = $%d RETURNING `+recordColumns,
		joinSets(sets), argPos)
	args = append(args, id)

	rec, err := scanRecord(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, mapPgError(err)
	}
	return rec, nil
}

// Delete removes a record.
func (r *Repository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM inventory_items WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func joinSets(sets []string) string {
	out := ""
	for i, s := range sets {
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return out
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var productID *string
	var images []byte
	err := row.Scan(&rec.ID, &productID, &rec.SKU, &rec.Location, &rec.Quantity, &rec.Barcode,
		&rec.Name, &rec.Condition, &rec.Length, &rec.Width, &rec.Height, &rec.Weight, &rec.Price,
		&images, &rec.ItemID, &rec.EbayURL, &rec.EbaySellerName, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return Record{}, err
	}
	if productID != nil {
		rec.ProductID = *productID
	}
	if len(images) > 0 {
		if err := json.Unmarshal(images, &rec.Images); err != nil {
			return Record{}, fmt.Errorf("inventory: decode images: %w", err)
		}
	}
	return rec, nil
}

// Images live as jsonb in storage; the typed list stays the in-memory model.
func marshalImages(images []string) ([]byte, error) {
	if len(images) > MaxImageSlots {
		images = images[:MaxImageSlots]
	}
	if images == nil {
		images = []string{}
	}
	return json.Marshal(images)
}

// product_id carries a partial unique index; empty strings are stored as NULL
// so absent identifiers never collide.
func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicateProductID
	}
	return err
}
