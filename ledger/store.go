/*
store.go - Persistence interfaces for stock and the ledger

PURPOSE:
  Defines the boundary between the transaction engine and the database.
  The Engine is the only caller of the write methods, and always calls
  them inside Store.WithTx so that stock deltas and ledger rows commit
  together or not at all.

KEY INTERFACES:
  StockRepository: find / upsert / adjust / list stock items
  LedgerWriter:    append purchase, sale, return and movement rows
  LedgerReader:    read back sales, purchases and movements
  Tx:              all three, scoped to one database transaction
  Store:           Tx plus WithTx for atomic units of work

APPEND-ONLY CONTRACT:
  LedgerWriter has no Update or Delete. Corrections are return sales.
  StockItem.Quantity is the only field mutated in place, and only through
  AdjustQuantity (or Upsert by the engine while it holds the item lock).

IMPLEMENTATIONS:
  - ledger/store/memory.go: In-memory for testing
  - store/sqlite/sqlite.go: SQLite
*/
package ledger

import (
	"context"
	"iter"
)

// =============================================================================
// STOCK REPOSITORY
// =============================================================================

// StockFilter narrows List. A nil Below lists everything.
type StockFilter struct {
	Below *int64 // quantity strictly below this value
}

func (f StockFilter) Match(item StockItem) bool {
	return f.Below == nil || item.Quantity < *f.Below
}

type StockRepository interface {
	// Find looks an item up by ID, then by product name.
	Find(ctx context.Context, ref string) (StockItem, error)

	// Upsert creates the item if its ID is unknown, else overwrites its
	// name, batch, expiry, quantity and pricing.
	Upsert(ctx context.Context, item StockItem) (StockItem, error)

	// AdjustQuantity applies delta atomically. Fails with
	// InsufficientStockError if the result would be negative.
	AdjustQuantity(ctx context.Context, id ItemID, delta int64) (StockItem, error)

	// List yields items ordered by name. Each call starts a new pass.
	List(ctx context.Context, filter StockFilter) iter.Seq2[StockItem, error]
}

// =============================================================================
// LEDGER ENTRY WRITER / READER
// =============================================================================

// LedgerWriter appends immutable rows. It performs no business validation.
type LedgerWriter interface {
	RecordPurchase(ctx context.Context, rec PurchaseRecord) error

	// RecordSale writes a sale or return header (without lines). A second
	// return for the same original sale fails with AlreadyReturnedError.
	RecordSale(ctx context.Context, sale SaleTransaction) error

	// RecordSaleItems writes line items and their negative movements.
	RecordSaleItems(ctx context.Context, saleID SaleID, items []SaleLineItem) error

	// RecordReturnItems writes line items and their positive movements.
	RecordReturnItems(ctx context.Context, returnID SaleID, items []SaleLineItem) error

	RecordStockEntry(ctx context.Context, mv Movement) error

	// NextBillSequence allocates the next value of the bill number sequence.
	NextBillSequence(ctx context.Context) (int64, error)
}

type LedgerReader interface {
	// GetSale returns a sale or return with its lines.
	GetSale(ctx context.Context, id SaleID) (SaleTransaction, error)

	// FindReturn returns the return referencing saleID, if any.
	FindReturn(ctx context.Context, saleID SaleID) (SaleTransaction, bool, error)

	// RecentSales returns sales and returns, newest first.
	RecentSales(ctx context.Context, limit int) ([]SaleTransaction, error)

	// RecentPurchases returns purchases, newest first.
	RecentPurchases(ctx context.Context, limit int) ([]PurchaseRecord, error)

	// Movements returns an item's movements, oldest first.
	Movements(ctx context.Context, id ItemID) ([]Movement, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

type Tx interface {
	StockRepository
	LedgerWriter
	LedgerReader
}

// Store wraps Tx with transaction support.
type Store interface {
	Tx

	// WithTx executes fn within a transaction.
	// If fn returns error, the transaction is rolled back.
	// If fn returns nil, the transaction is committed.
	WithTx(ctx context.Context, fn func(Tx) error) error
}

// Collect drains a List sequence into a slice.
func Collect(seq iter.Seq2[StockItem, error]) ([]StockItem, error) {
	var items []StockItem
	for item, err := range seq {
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}
