package ledger_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pharmacy-ledger/ledger"
)

func TestQuery_StockIsOrderedByName(t *testing.T) {
	e, mem := newTestEngine()
	stock(t, e, "zinc", 1, "1")
	stock(t, e, "Aspirin", 1, "1")
	stock(t, e, "cough syrup", 1, "1")

	items, err := ledger.NewQuery(mem).Stock(context.Background())
	require.NoError(t, err)

	names := make([]string, len(items))
	for i, it := range items {
		names[i] = it.Name
	}
	assert.Equal(t, []string{"Aspirin", "cough syrup", "zinc"}, names)
}

func TestQuery_LowStock(t *testing.T) {
	// GIVEN: Items at 3, 10 and 50
	// WHEN: Asking for low stock with the default threshold (10)
	// THEN: Only the item strictly below 10 is listed

	e, mem := newTestEngine()
	stock(t, e, "A", 3, "1")
	stock(t, e, "B", 10, "1")
	stock(t, e, "C", 50, "1")
	q := ledger.NewQuery(mem)

	low, err := q.LowStock(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, low, 1)
	assert.Equal(t, "A", low[0].Name)

	low, err = q.LowStock(context.Background(), 51)
	require.NoError(t, err)
	assert.Len(t, low, 3)
}

func TestQuery_RecentSalesNewestFirstAndBounded(t *testing.T) {
	e, mem := newTestEngine()
	stock(t, e, "A", 100, "1")
	for i := 0; i < 5; i++ {
		_, err := sell(e, ledger.SaleLine{Product: "A", Quantity: 1})
		require.NoError(t, err)
	}
	q := ledger.NewQuery(mem)

	sales, err := q.RecentSales(context.Background(), 3)
	require.NoError(t, err)
	require.Len(t, sales, 3)
	assert.Equal(t, "B00000005", sales[0].BillNo)
	assert.Equal(t, "B00000003", sales[2].BillNo)
	require.Len(t, sales[0].Lines, 1)

	sales, err = q.RecentSales(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, sales, 5)
}

func TestQuery_RecentPurchases(t *testing.T) {
	e, mem := newTestEngine()
	for _, p := range []string{"A", "B"} {
		_, err := e.Purchase(context.Background(), ledger.PurchaseRequest{Supplier: "s", Product: p, Quantity: 1, Rate: money("1")})
		require.NoError(t, err)
	}

	purchases, err := ledger.NewQuery(mem).RecentPurchases(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, purchases, 2)
	assert.Equal(t, "B", purchases[0].ProductName)
}

func TestQuery_Sale(t *testing.T) {
	e, mem := newTestEngine()
	stock(t, e, "A", 10, "2.50")
	sale, err := sell(e, ledger.SaleLine{Product: "A", Quantity: 2})
	require.NoError(t, err)

	got, err := ledger.NewQuery(mem).Sale(context.Background(), sale.ID)
	require.NoError(t, err)
	assert.Equal(t, sale.BillNo, got.BillNo)
	assert.True(t, sale.Total.Equal(got.Total))
	require.Len(t, got.Lines, 1)
	assert.Equal(t, int64(2), got.Lines[0].Quantity)

	_, err = ledger.NewQuery(mem).Sale(context.Background(), "nope")
	assert.True(t, ledger.IsNotFound(err))
}

func TestQuery_AuditFlagsDrift(t *testing.T) {
	// GIVEN: An item whose quantity was changed behind the engine's back
	// THEN: Audit reports it with the ledger total

	e, mem := newTestEngine()
	item := stock(t, e, "A", 10, "1")
	assertAuditClean(t, mem)

	_, err := mem.AdjustQuantity(context.Background(), item.ID, 5)
	require.NoError(t, err)

	discrepancies, err := ledger.NewQuery(mem).Audit(context.Background())
	require.NoError(t, err)
	require.Len(t, discrepancies, 1)
	assert.Equal(t, int64(15), discrepancies[0].Item.Quantity)
	assert.Equal(t, int64(10), discrepancies[0].LedgerTotal)
}

func TestQuery_ReconcileCountsFromSameListing(t *testing.T) {
	e, mem := newTestEngine()
	stock(t, e, "A", 10, "1")
	b := stock(t, e, "B", 4, "1")
	stock(t, e, "C", 0, "1")
	_, err := mem.AdjustQuantity(context.Background(), b.ID, -1)
	require.NoError(t, err)

	res, err := ledger.NewQuery(mem).Reconcile(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, res.Checked)
	require.Len(t, res.Discrepancies, 1)
	assert.Equal(t, "B", res.Discrepancies[0].Item.Name)
	assert.Equal(t, int64(4), res.Discrepancies[0].LedgerTotal)
}

func TestQuery_UnknownItem(t *testing.T) {
	_, mem := newTestEngine()
	_, err := ledger.NewQuery(mem).Item(context.Background(), "ghost")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	_, err = ledger.NewQuery(mem).Movements(context.Background(), "ghost")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}
