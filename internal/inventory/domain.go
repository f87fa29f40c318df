package inventory

import (
	"errors"
	"time"
)

// MaxImageSlots caps how many image URLs a record carries.
const MaxImageSlots = 24

// Record is the canonical stock-keeping entity.
type Record struct {
	ID             string    `json:"id"`
	ProductID      string    `json:"productId,omitempty"`
	SKU            string    `json:"sku"`
	Location       string    `json:"location"`
	Quantity       int       `json:"quantity"`
	Barcode        string    `json:"barcode,omitempty"`
	Name           string    `json:"name"`
	Condition      string    `json:"condition,omitempty"`
	Length         *float64  `json:"length,omitempty"`
	Width          *float64  `json:"width,omitempty"`
	Height         *float64  `json:"height,omitempty"`
	Weight         *float64  `json:"weight,omitempty"`
	Price          *float64  `json:"price,omitempty"`
	Images         []string  `json:"images,omitempty"`
	ItemID         string    `json:"itemId,omitempty"`
	EbayURL        string    `json:"ebayUrl,omitempty"`
	EbaySellerName string    `json:"ebaySellerName,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// FieldPatch describes a field-subset update. Nil pointers leave the stored
// value untouched; Images is only written when non-nil.
type FieldPatch struct {
	ProductID *string  `json:"productId,omitempty"`
	SKU       *string  `json:"sku,omitempty"`
	Location  *string  `json:"location,omitempty"`
	Quantity  *int     `json:"quantity,omitempty"`
	Name      *string  `json:"name,omitempty"`
	Condition *string  `json:"condition,omitempty"`
	Price     *float64 `json:"price,omitempty"`
	Length    *float64 `json:"length,omitempty"`
	Width     *float64 `json:"width,omitempty"`
	Height    *float64 `json:"height,omitempty"`
	Weight    *float64 `json:"weight,omitempty"`
	// Barcode is sticky: it is only written when the record has none, unless
	// OverrideBarcode is set by an explicit resolution.
	Barcode         *string  `json:"barcode,omitempty"`
	OverrideBarcode bool     `json:"overrideBarcode,omitempty"`
	Images          []string `json:"images,omitempty"`
	ItemID          *string  `json:"itemId,omitempty"`
	EbayURL         *string  `json:"ebayUrl,omitempty"`
	EbaySellerName  *string  `json:"ebaySellerName,omitempty"`
}

// IsEmpty reports whether the patch writes nothing.
func (p FieldPatch) IsEmpty() bool {
	return p.ProductID == nil && p.SKU == nil && p.Location == nil && p.Quantity == nil &&
		p.Name == nil && p.Condition == nil && p.Price == nil &&
		p.Length == nil && p.Width == nil && p.Height == nil && p.Weight == nil &&
		p.Barcode == nil && p.Images == nil &&
		p.ItemID == nil && p.EbayURL == nil && p.EbaySellerName == nil
}

// WithoutDimensions returns a copy with length/width/height/weight cleared.
func (p FieldPatch) WithoutDimensions() FieldPatch {
	p.Length = nil
	p.Width = nil
	p.Height = nil
	p.Weight = nil
	return p
}

// ErrNotFound indicates a missing inventory record.
var ErrNotFound = errors.New("inventory: record not found")

// ErrNegativeQuantity indicates an update that would drive stock below zero.
var ErrNegativeQuantity = errors.New("inventory: quantity must not be negative")

// ErrDuplicateProductID indicates a product identifier collision across live records.
var ErrDuplicateProductID = errors.New("inventory: product id already in use")

// ErrSKURequired indicates a record without a SKU.
var ErrSKURequired = errors.New("inventory: sku is required")
