// Package reconcile implements the CSV/bulk inventory reconciliation engine:
// normalizing variant CSV rows, resolving them against live inventory, and
// classifying each row as a clean upsert, a conflict for human review, or
// unmatched noise.
package reconcile

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/shelfline-wms/shelfline/internal/inventory"
)

// Item is the normalized shape of one CSV row. Optional numerics stay nil when
// the source column is missing or unparseable; quantity alone defaults to 0 so
// downstream logic can skip non-positive rows.
type Item struct {
	ProductID      string   `json:"productId,omitempty"`
	SKU            string   `json:"sku,omitempty"`
	Name           string   `json:"name,omitempty"`
	Location       string   `json:"location,omitempty"`
	Quantity       int      `json:"quantity"`
	Condition      string   `json:"condition,omitempty"`
	Barcode        string   `json:"barcode,omitempty"`
	Price          *float64 `json:"price,omitempty"`
	Length         *float64 `json:"length,omitempty"`
	Width          *float64 `json:"width,omitempty"`
	Height         *float64 `json:"height,omitempty"`
	Weight         *float64 `json:"weight,omitempty"`
	ItemID         string   `json:"itemId,omitempty"`
	EbayURL        string   `json:"ebayUrl,omitempty"`
	EbaySellerName string   `json:"ebaySellerName,omitempty"`
	Images         []string `json:"images,omitempty"`
	ImagesJSON     string   `json:"imagesJson,omitempty"`
}

// ImportRow is one parsed CSV record before reconciliation. The raw row is
// preserved for audit and for re-deriving columns the normalizer did not map.
type ImportRow struct {
	Index int               `json:"rowIndex"`
	Item  Item              `json:"item"`
	Raw   map[string]string `json:"raw,omitempty"`
}

// fieldAliases maps each canonical field to the header spellings seen across
// warehouse exports and marketplace listing dumps. Matching is
// case-insensitive; extend the table here rather than in lookup call sites.
var fieldAliases = map[string][]string{
	"productId":      {"product id", "productid", "product_id", "asin", "listing id", "listingid"},
	"sku":            {"sku", "custom label", "customlabel", "custom label (sku)", "item sku", "seller sku"},
	"name":           {"name", "title", "product name", "item name", "item title"},
	"location":       {"location", "storage location", "bin", "shelf"},
	"quantity":       {"quantity", "qty", "available quantity", "quantity available", "stock", "qty available"},
	"condition":      {"condition", "item condition"},
	"barcode":        {"barcode", "upc", "ean", "isbn", "upc/ean/isbn"},
	"price":          {"price", "start price", "current price", "buy it now price"},
	"length":         {"length", "item length", "package length"},
	"width":          {"width", "item width", "package width"},
	"height":         {"height", "item height", "package height"},
	"weight":         {"weight", "item weight", "package weight", "shipping weight"},
	"itemId":         {"item id", "itemid", "item number", "itemnumber", "ebay item id"},
	"ebayUrl":        {"ebay url", "ebayurl", "listing url", "view item url"},
	"ebaySellerName": {"ebay seller name", "seller", "seller name", "sellername"},
}

// imageColumnFormats are the accepted spellings of indexed image columns,
// e.g. "image1", "image 3", "picture url 12".
var imageColumnFormats = []string{
	"image%d", "image %d", "image_%d", "img%d",
	"imageurl%d", "image url %d", "picture%d", "picture url %d",
}

// NormalizerOptions tune the output shape.
type NormalizerOptions struct {
	// EncodeImagesJSON additionally emits the collected image URLs as one
	// JSON-encoded string, for callers feeding legacy text columns.
	EncodeImagesJSON bool
}

// Normalizer maps arbitrary CSV rows into canonical Items.
type Normalizer struct {
	opts NormalizerOptions
}

// NewNormalizer builds a Normalizer.
func NewNormalizer(opts NormalizerOptions) *Normalizer {
	return &Normalizer{opts: opts}
}

// Normalize produces a best-effort ImportRow. It never fails: a malformed
// value yields an absent field, and row-level validity is a downstream
// classification, not a normalizer error.
func (n *Normalizer) Normalize(index int, raw map[string]string) ImportRow {
	item := Item{
		ProductID:      lookup(raw, "productId"),
		SKU:            lookup(raw, "sku"),
		Name:           lookup(raw, "name"),
		Location:       lookup(raw, "location"),
		Condition:      lookup(raw, "condition"),
		Barcode:        lookup(raw, "barcode"),
		ItemID:         lookup(raw, "itemId"),
		EbayURL:        lookup(raw, "ebayUrl"),
		EbaySellerName: lookup(raw, "ebaySellerName"),
		Quantity:       parseQuantity(lookup(raw, "quantity")),
		Price:          parseOptionalFloat(lookup(raw, "price")),
		Length:         parseOptionalFloat(lookup(raw, "length")),
		Width:          parseOptionalFloat(lookup(raw, "width")),
		Height:         parseOptionalFloat(lookup(raw, "height")),
		Weight:         parseOptionalFloat(lookup(raw, "weight")),
		Images:         collectImages(raw),
	}
	if n.opts.EncodeImagesJSON && len(item.Images) > 0 {
		if encoded, err := json.Marshal(item.Images); err == nil {
			item.ImagesJSON = string(encoded)
		}
	}
	return ImportRow{Index: index, Item: item, Raw: raw}
}

// lookup resolves a canonical field: exact alias key first, then a
// case-insensitive scan of all row keys.
func lookup(raw map[string]string, canonical string) string {
	aliases := fieldAliases[canonical]
	for _, alias := range aliases {
		if v, ok := raw[alias]; ok {
			return strings.TrimSpace(v)
		}
	}
	for key, v := range raw {
		folded := strings.ToLower(strings.TrimSpace(key))
		for _, alias := range aliases {
			if folded == alias {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

func collectImages(raw map[string]string) []string {
	var images []string
	for i := 1; i <= inventory.MaxImageSlots; i++ {
		url := ""
		for _, format := range imageColumnFormats {
			if v := lookupKey(raw, fmt.Sprintf(format, i)); v != "" {
				url = v
				break
			}
		}
		if url != "" {
			images = append(images, url)
		}
	}
	return images
}

func lookupKey(raw map[string]string, want string) string {
	if v, ok := raw[want]; ok {
		return strings.TrimSpace(v)
	}
	for key, v := range raw {
		if strings.EqualFold(strings.TrimSpace(key), want) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

// parseQuantity defaults to 0 on absent or unparseable input; a zero quantity
// means "skip this row" downstream, never NaN and never an error.
func parseQuantity(s string) int {
	f := parseOptionalFloat(s)
	if f == nil {
		return 0
	}
	return int(*f)
}

// parseOptionalFloat returns nil for missing or non-numeric values rather
// than zero, so absent optional fields stay absent.
func parseOptionalFloat(s string) *float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &v
}
