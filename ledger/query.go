package ledger

import (
	"context"
)

// =============================================================================
// QUERY - Read-only reporting over stock and ledger history
// =============================================================================

const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 500
)

// Query exposes read-only views. It never mutates the store.
type Query struct {
	Store             Tx
	LowStockThreshold int64
	RecentLimit       int
}

func NewQuery(store Tx) *Query {
	return &Query{
		Store:             store,
		LowStockThreshold: DefaultLowStockThreshold,
		RecentLimit:       DefaultRecentLimit,
	}
}

// Stock lists every item by name.
func (q *Query) Stock(ctx context.Context) ([]StockItem, error) {
	return Collect(q.Store.List(ctx, StockFilter{}))
}

// LowStock lists items whose quantity is below threshold. A non-positive
// threshold uses the configured one.
func (q *Query) LowStock(ctx context.Context, threshold int64) ([]StockItem, error) {
	if threshold <= 0 {
		threshold = q.LowStockThreshold
	}
	return Collect(q.Store.List(ctx, StockFilter{Below: &threshold}))
}

func (q *Query) Item(ctx context.Context, ref string) (StockItem, error) {
	return q.Store.Find(ctx, ref)
}

func (q *Query) RecentSales(ctx context.Context, limit int) ([]SaleTransaction, error) {
	return q.Store.RecentSales(ctx, q.limit(limit))
}

func (q *Query) RecentPurchases(ctx context.Context, limit int) ([]PurchaseRecord, error) {
	return q.Store.RecentPurchases(ctx, q.limit(limit))
}

func (q *Query) Sale(ctx context.Context, id SaleID) (SaleTransaction, error) {
	return q.Store.GetSale(ctx, id)
}

// Movements returns the quantity history of the item ref resolves to.
func (q *Query) Movements(ctx context.Context, ref string) ([]Movement, error) {
	item, err := q.Store.Find(ctx, ref)
	if err != nil {
		return nil, err
	}
	return q.Store.Movements(ctx, item.ID)
}

func (q *Query) limit(n int) int {
	switch {
	case n <= 0 && q.RecentLimit > 0:
		n = q.RecentLimit
	case n <= 0:
		n = DefaultRecentLimit
	}
	if n > MaxRecentLimit {
		n = MaxRecentLimit
	}
	return n
}

// =============================================================================
// AUDIT - quantity on hand must equal the sum of its movements
// =============================================================================

type Discrepancy struct {
	Item        StockItem
	LedgerTotal int64
}

// AuditResult is one reconciliation pass: how many items were checked and
// which of them disagree with their movements.
type AuditResult struct {
	Checked       int
	Discrepancies []Discrepancy
}

// Audit returns every item whose quantity disagrees with its movements.
func (q *Query) Audit(ctx context.Context) ([]Discrepancy, error) {
	res, err := q.Reconcile(ctx)
	return res.Discrepancies, err
}

// Reconcile checks every item against its movements in a single listing.
func (q *Query) Reconcile(ctx context.Context) (AuditResult, error) {
	// Drain the listing first; stores may hold their connection while iterating.
	items, err := q.Stock(ctx)
	if err != nil {
		return AuditResult{}, err
	}

	res := AuditResult{Checked: len(items)}
	for _, item := range items {
		moves, err := q.Store.Movements(ctx, item.ID)
		if err != nil {
			return AuditResult{}, err
		}
		var sum int64
		for _, m := range moves {
			sum += m.Delta
		}
		if sum != item.Quantity {
			res.Discrepancies = append(res.Discrepancies, Discrepancy{Item: item, LedgerTotal: sum})
		}
	}
	return res, nil
}
