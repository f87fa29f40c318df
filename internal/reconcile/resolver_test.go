package reconcile

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/shelfline-wms/shelfline/internal/inventory"
)

func TestResolvePriorityChain(t *testing.T) {
	records := []inventory.Record{
		{ID: "rec-1", ProductID: "EB-1001", SKU: "A101-F", Name: "Blue Widget"},
		{ID: "rec-2", SKU: "B205-C", Name: "Desk Lamp"},
	}
	ix := NewIndex(records)

	mc := ix.Resolve(Item{ProductID: "EB-1001", SKU: "WRONG", Name: "whatever"})
	require.Equal(t, MatchByProductID, mc.Method)
	require.Equal(t, "rec-1", mc.Primary.ID)

	mc = ix.Resolve(Item{SKU: "B205-C"})
	require.Equal(t, MatchBySKU, mc.Method)
	require.Equal(t, "rec-2", mc.Primary.ID)

	mc = ix.Resolve(Item{Name: "Desk Lamp"})
	require.Equal(t, MatchByName, mc.Method)
	require.Equal(t, "rec-2", mc.Primary.ID)
	require.Equal(t, 1.0, mc.Score)
}

func TestResolveIdentifierMissEndsChain(t *testing.T) {
	ix := NewIndex([]inventory.Record{{ID: "rec-1", SKU: "A101-F", Name: "Blue Widget"}})

	// The SKU misses; the near-identical name must not rescue the row into a
	// fuzzy match.
	mc := ix.Resolve(Item{SKU: "Z999-X", Name: "Blue Widget"})
	require.Equal(t, MatchNone, mc.Method)
	require.Nil(t, mc.Primary)

	mc = ix.Resolve(Item{ProductID: "EB-9999"})
	require.Equal(t, MatchNone, mc.Method)
}

func TestResolveSharedSKUConstrainedByName(t *testing.T) {
	records := []inventory.Record{
		{ID: "rec-1", SKU: "A101-F", Name: "Blue Widget"},
		{ID: "rec-2", SKU: "A101-F", Name: "Red Widget"},
	}
	ix := NewIndex(records)

	mc := ix.Resolve(Item{SKU: "A101-F", Name: "red widget"})
	require.Equal(t, MatchBySKU, mc.Method)
	require.Equal(t, "rec-2", mc.Primary.ID)
	require.Empty(t, mc.Conflicts)
}

func TestResolveSharedSKUAmbiguous(t *testing.T) {
	records := []inventory.Record{
		{ID: "rec-1", SKU: "A101-F", Name: "Blue Widget"},
		{ID: "rec-2", SKU: "A101-F", Name: "Red Widget"},
	}
	ix := NewIndex(records)

	mc := ix.Resolve(Item{SKU: "A101-F"})
	require.Equal(t, MatchBySKU, mc.Method)
	require.Len(t, mc.Conflicts, 1)
}

func TestResolveFuzzyNameSurfacesAllCandidates(t *testing.T) {
	records := []inventory.Record{
		{ID: "rec-1", SKU: "A101-F", Name: "Widget A"},
		{ID: "rec-2", SKU: "B202-C", Name: "Widget A "},
		{ID: "rec-3", SKU: "C303-D", Name: "Unrelated Thing"},
	}
	ix := NewIndex(records)

	mc := ix.Resolve(Item{Name: "Widget A"})
	require.Equal(t, MatchByName, mc.Method)
	require.NotNil(t, mc.Primary)
	require.Len(t, mc.Conflicts, 1)
	require.Equal(t, 1.0, mc.Score)
}

func TestIndexAddAccumulatesPending(t *testing.T) {
	ix := NewIndex(nil)
	pending := &inventory.Record{ID: "pending-1", ProductID: "EB-1001", SKU: "A101-F", Name: "Blue Widget"}
	ix.Add(pending)

	mc := ix.Resolve(Item{ProductID: "EB-1001"})
	require.Equal(t, MatchByProductID, mc.Method)
	require.Same(t, pending, mc.Primary)
}
