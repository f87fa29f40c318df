package inventory

import (
	"regexp"
	"strings"
)

// SKUs encode their shelf as a leading letter plus 1-3 digits, e.g. "A101-F"
// lives on shelf A101. Trailing characters after the digit run are ignored.
var locationPattern = regexp.MustCompile(`^[A-Za-z][0-9]{1,3}`)

// ExtractLocation derives the storage-location code from a SKU. When the SKU
// carries no recognisable prefix the SKU itself is the location; that is the
// fallback policy, not an error.
func ExtractLocation(sku string) string {
	if m := locationPattern.FindString(sku); m != "" {
		return strings.ToUpper(m)
	}
	return sku
}
