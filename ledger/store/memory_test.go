package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/pharmacy-ledger/ledger"
	"github.com/warp/pharmacy-ledger/ledger/store"
)

func newItem(id, name string, qty int64) ledger.StockItem {
	return ledger.StockItem{
		ID:       ledger.ItemID(id),
		Name:     name,
		Quantity: qty,
		Price:    decimal.NewFromInt(1),
		Rate:     decimal.NewFromInt(1),
	}
}

func TestMemory_FindByIDOrName(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	_, err := m.Upsert(ctx, newItem("item-1", " Paracetamol ", 5))
	require.NoError(t, err)

	byID, err := m.Find(ctx, "item-1")
	require.NoError(t, err)
	byName, err := m.Find(ctx, "PARACETAMOL")
	require.NoError(t, err)

	assert.Equal(t, byID, byName)
	assert.Equal(t, "Paracetamol", byID.Name)

	_, err = m.Find(ctx, "ghost")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestMemory_UpsertRejectsNameCollisionAndNegative(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	_, err := m.Upsert(ctx, newItem("item-1", "Aspirin", 1))
	require.NoError(t, err)

	_, err = m.Upsert(ctx, newItem("item-2", "aspirin", 1))
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)

	_, err = m.Upsert(ctx, newItem("item-3", "Other", -1))
	assert.ErrorIs(t, err, ledger.ErrInvalidInput)
}

func TestMemory_UpsertRenameFreesOldName(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	_, err := m.Upsert(ctx, newItem("item-1", "Old", 1))
	require.NoError(t, err)
	_, err = m.Upsert(ctx, newItem("item-1", "New", 1))
	require.NoError(t, err)

	_, err = m.Find(ctx, "Old")
	assert.ErrorIs(t, err, ledger.ErrNotFound)
	_, err = m.Upsert(ctx, newItem("item-2", "Old", 1))
	assert.NoError(t, err)
}

func TestMemory_AdjustQuantityGuardsNegative(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	_, err := m.Upsert(ctx, newItem("item-1", "A", 3))
	require.NoError(t, err)

	_, err = m.AdjustQuantity(ctx, "item-1", -4)
	var se *ledger.InsufficientStockError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, int64(3), se.Available)

	item, err := m.AdjustQuantity(ctx, "item-1", -3)
	require.NoError(t, err)
	assert.Equal(t, int64(0), item.Quantity)

	_, err = m.AdjustQuantity(ctx, "missing", 1)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestMemory_WithTxRollsBackOnError(t *testing.T) {
	// GIVEN: A transaction that writes and then fails
	// THEN: None of its writes are visible

	ctx := context.Background()
	m := store.NewMemory()
	_, err := m.Upsert(ctx, newItem("item-1", "A", 10))
	require.NoError(t, err)

	boom := errors.New("boom")
	err = m.WithTx(ctx, func(tx ledger.Tx) error {
		if _, err := tx.AdjustQuantity(ctx, "item-1", -5); err != nil {
			return err
		}
		if _, err := tx.Upsert(ctx, newItem("item-2", "B", 1)); err != nil {
			return err
		}
		if _, err := tx.NextBillSequence(ctx); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	item, err := m.Find(ctx, "item-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), item.Quantity)
	_, err = m.Find(ctx, "B")
	assert.ErrorIs(t, err, ledger.ErrNotFound)

	seq, err := m.NextBillSequence(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), seq)
}

func TestMemory_SecondReturnRejected(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	now := time.Now().UTC()

	require.NoError(t, m.RecordSale(ctx, ledger.SaleTransaction{ID: "s-1", BillNo: "B1", CreatedAt: now}))
	require.NoError(t, m.RecordSale(ctx, ledger.SaleTransaction{ID: "r-1", BillNo: "B2", IsReturn: true, ReturnOf: "s-1", CreatedAt: now}))

	err := m.RecordSale(ctx, ledger.SaleTransaction{ID: "r-2", BillNo: "B3", IsReturn: true, ReturnOf: "s-1", CreatedAt: now})
	assert.ErrorIs(t, err, ledger.ErrAlreadyReturned)

	ret, ok, err := m.FindReturn(ctx, "s-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, ledger.SaleID("r-1"), ret.ID)
}

func TestMemory_SaleItemsWriteMovements(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	_, err := m.Upsert(ctx, newItem("item-1", "A", 10))
	require.NoError(t, err)
	require.NoError(t, m.RecordSale(ctx, ledger.SaleTransaction{ID: "s-1", BillNo: "B1"}))

	err = m.RecordSaleItems(ctx, "s-1", []ledger.SaleLineItem{
		{ID: "l-1", SaleID: "s-1", ItemID: "item-1", ProductName: "A", Quantity: 4, UnitPrice: decimal.NewFromInt(1)},
	})
	require.NoError(t, err)

	moves, err := m.Movements(ctx, "item-1")
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, int64(-4), moves[0].Delta)
	assert.Equal(t, ledger.MoveSale, moves[0].Kind)
	assert.Equal(t, "s-1", moves[0].ReferenceID)

	err = m.RecordSaleItems(ctx, "unknown", nil)
	assert.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestMemory_ListFiltersAndStopsEarly(t *testing.T) {
	ctx := context.Background()
	m := store.NewMemory()
	for i, name := range []string{"C", "A", "B"} {
		_, err := m.Upsert(ctx, newItem(name, name, int64(i*10)))
		require.NoError(t, err)
	}

	below := int64(15)
	low, err := ledger.Collect(m.List(ctx, ledger.StockFilter{Below: &below}))
	require.NoError(t, err)
	require.Len(t, low, 2)
	assert.Equal(t, "A", low[0].Name)
	assert.Equal(t, "C", low[1].Name)

	var seen int
	for _, err := range m.List(ctx, ledger.StockFilter{}) {
		require.NoError(t, err)
		seen++
		break
	}
	assert.Equal(t, 1, seen)

	// Restartable: a fresh iteration sees everything again.
	all, err := ledger.Collect(m.List(ctx, ledger.StockFilter{}))
	require.NoError(t, err)
	assert.Len(t, all, 3)
}
