// Package store provides an in-memory ledger.Store.
package store

import (
	"context"
	"fmt"
	"iter"
	"math"
	"slices"
	"strings"
	"sync"

	"github.com/warp/pharmacy-ledger/ledger"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory keeps all state behind one RWMutex. WithTx holds the write lock for
// the whole transaction and restores a snapshot if fn fails.
type Memory struct {
	mu sync.RWMutex
	st *state
}

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

var _ ledger.Store = (*Memory)(nil)

// WithTx executes fn within a transaction.
// For memory store, this is simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snapshot := m.st.clone()
	if err := fn(&txMemoryView{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// =============================================================================
// DIRECT ACCESS (outside a transaction)
// =============================================================================

func (m *Memory) Find(_ context.Context, ref string) (ledger.StockItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.find(ref)
}

func (m *Memory) Upsert(_ context.Context, item ledger.StockItem) (ledger.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.upsert(item)
}

func (m *Memory) AdjustQuantity(_ context.Context, id ledger.ItemID, delta int64) (ledger.StockItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.adjust(id, delta)
}

func (m *Memory) List(_ context.Context, filter ledger.StockFilter) iter.Seq2[ledger.StockItem, error] {
	return func(yield func(ledger.StockItem, error) bool) {
		m.mu.RLock()
		items := m.st.list(filter)
		m.mu.RUnlock()
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
	}
}

func (m *Memory) RecordPurchase(_ context.Context, rec ledger.PurchaseRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.recordPurchase(rec)
}

func (m *Memory) RecordSale(_ context.Context, sale ledger.SaleTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.recordSale(sale)
}

func (m *Memory) RecordSaleItems(_ context.Context, saleID ledger.SaleID, items []ledger.SaleLineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.recordLines(saleID, items, ledger.MoveSale, -1)
}

func (m *Memory) RecordReturnItems(_ context.Context, returnID ledger.SaleID, items []ledger.SaleLineItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.recordLines(returnID, items, ledger.MoveReturn, 1)
}

func (m *Memory) RecordStockEntry(_ context.Context, mv ledger.Movement) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.recordMovement(mv)
}

func (m *Memory) NextBillSequence(_ context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.billSeq++
	return m.st.billSeq, nil
}

func (m *Memory) GetSale(_ context.Context, id ledger.SaleID) (ledger.SaleTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getSale(id)
}

func (m *Memory) FindReturn(_ context.Context, saleID ledger.SaleID) (ledger.SaleTransaction, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.findReturn(saleID)
}

func (m *Memory) RecentSales(_ context.Context, limit int) ([]ledger.SaleTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.recentSales(limit), nil
}

func (m *Memory) RecentPurchases(_ context.Context, limit int) ([]ledger.PurchaseRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.recentPurchases(limit), nil
}

func (m *Memory) Movements(_ context.Context, id ledger.ItemID) ([]ledger.Movement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.st.movements[id]), nil
}

// =============================================================================
// TRANSACTIONAL VIEW - used while WithTx holds the write lock
// =============================================================================

type txMemoryView struct {
	st *state
}

func (tv *txMemoryView) Find(_ context.Context, ref string) (ledger.StockItem, error) {
	return tv.st.find(ref)
}

func (tv *txMemoryView) Upsert(_ context.Context, item ledger.StockItem) (ledger.StockItem, error) {
	return tv.st.upsert(item)
}

func (tv *txMemoryView) AdjustQuantity(_ context.Context, id ledger.ItemID, delta int64) (ledger.StockItem, error) {
	return tv.st.adjust(id, delta)
}

func (tv *txMemoryView) List(_ context.Context, filter ledger.StockFilter) iter.Seq2[ledger.StockItem, error] {
	return func(yield func(ledger.StockItem, error) bool) {
		for _, item := range tv.st.list(filter) {
			if !yield(item, nil) {
				return
			}
		}
	}
}

func (tv *txMemoryView) RecordPurchase(_ context.Context, rec ledger.PurchaseRecord) error {
	return tv.st.recordPurchase(rec)
}

func (tv *txMemoryView) RecordSale(_ context.Context, sale ledger.SaleTransaction) error {
	return tv.st.recordSale(sale)
}

func (tv *txMemoryView) RecordSaleItems(_ context.Context, saleID ledger.SaleID, items []ledger.SaleLineItem) error {
	return tv.st.recordLines(saleID, items, ledger.MoveSale, -1)
}

func (tv *txMemoryView) RecordReturnItems(_ context.Context, returnID ledger.SaleID, items []ledger.SaleLineItem) error {
	return tv.st.recordLines(returnID, items, ledger.MoveReturn, 1)
}

func (tv *txMemoryView) RecordStockEntry(_ context.Context, mv ledger.Movement) error {
	return tv.st.recordMovement(mv)
}

func (tv *txMemoryView) NextBillSequence(_ context.Context) (int64, error) {
	tv.st.billSeq++
	return tv.st.billSeq, nil
}

func (tv *txMemoryView) GetSale(_ context.Context, id ledger.SaleID) (ledger.SaleTransaction, error) {
	return tv.st.getSale(id)
}

func (tv *txMemoryView) FindReturn(_ context.Context, saleID ledger.SaleID) (ledger.SaleTransaction, bool, error) {
	return tv.st.findReturn(saleID)
}

func (tv *txMemoryView) RecentSales(_ context.Context, limit int) ([]ledger.SaleTransaction, error) {
	return tv.st.recentSales(limit), nil
}

func (tv *txMemoryView) RecentPurchases(_ context.Context, limit int) ([]ledger.PurchaseRecord, error) {
	return tv.st.recentPurchases(limit), nil
}

func (tv *txMemoryView) Movements(_ context.Context, id ledger.ItemID) ([]ledger.Movement, error) {
	return slices.Clone(tv.st.movements[id]), nil
}

// =============================================================================
// STATE
// =============================================================================

type state struct {
	items     map[ledger.ItemID]ledger.StockItem
	names     map[string]ledger.ItemID
	purchases []ledger.PurchaseRecord
	sales     map[ledger.SaleID]ledger.SaleTransaction // headers, no lines
	saleOrder []ledger.SaleID
	lines     map[ledger.SaleID][]ledger.SaleLineItem
	returns   map[ledger.SaleID]ledger.SaleID // original -> return
	movements map[ledger.ItemID][]ledger.Movement
	billSeq   int64
}

func newState() *state {
	return &state{
		items:     make(map[ledger.ItemID]ledger.StockItem),
		names:     make(map[string]ledger.ItemID),
		sales:     make(map[ledger.SaleID]ledger.SaleTransaction),
		lines:     make(map[ledger.SaleID][]ledger.SaleLineItem),
		returns:   make(map[ledger.SaleID]ledger.SaleID),
		movements: make(map[ledger.ItemID][]ledger.Movement),
	}
}

// clone copies every container. Stored values are never mutated in place,
// so copying the containers is enough for rollback.
func (s *state) clone() *state {
	c := &state{
		items:     make(map[ledger.ItemID]ledger.StockItem, len(s.items)),
		names:     make(map[string]ledger.ItemID, len(s.names)),
		purchases: slices.Clone(s.purchases),
		sales:     make(map[ledger.SaleID]ledger.SaleTransaction, len(s.sales)),
		saleOrder: slices.Clone(s.saleOrder),
		lines:     make(map[ledger.SaleID][]ledger.SaleLineItem, len(s.lines)),
		returns:   make(map[ledger.SaleID]ledger.SaleID, len(s.returns)),
		movements: make(map[ledger.ItemID][]ledger.Movement, len(s.movements)),
		billSeq:   s.billSeq,
	}
	for k, v := range s.items {
		c.items[k] = v
	}
	for k, v := range s.names {
		c.names[k] = v
	}
	for k, v := range s.sales {
		c.sales[k] = v
	}
	for k, v := range s.lines {
		c.lines[k] = slices.Clone(v)
	}
	for k, v := range s.returns {
		c.returns[k] = v
	}
	for k, v := range s.movements {
		c.movements[k] = slices.Clone(v)
	}
	return c
}

func (s *state) find(ref string) (ledger.StockItem, error) {
	if item, ok := s.items[ledger.ItemID(ref)]; ok {
		return item, nil
	}
	if id, ok := s.names[ledger.NameKey(ref)]; ok {
		return s.items[id], nil
	}
	return ledger.StockItem{}, &ledger.NotFoundError{Kind: "product", Ref: ref}
}

func (s *state) upsert(item ledger.StockItem) (ledger.StockItem, error) {
	key := ledger.NameKey(item.Name)
	switch {
	case item.ID == "":
		return ledger.StockItem{}, &ledger.InvalidInputError{Field: "id", Reason: "required"}
	case key == "":
		return ledger.StockItem{}, &ledger.InvalidInputError{Field: "name", Reason: "required"}
	case item.Quantity < 0:
		return ledger.StockItem{}, &ledger.InvalidInputError{Field: "quantity", Reason: "must not be negative"}
	}
	if owner, ok := s.names[key]; ok && owner != item.ID {
		return ledger.StockItem{}, &ledger.InvalidInputError{Field: "name", Reason: fmt.Sprintf("%q belongs to another item", item.Name)}
	}

	if prev, ok := s.items[item.ID]; ok {
		delete(s.names, ledger.NameKey(prev.Name))
		item.CreatedAt = prev.CreatedAt
	}
	item.Name = strings.TrimSpace(item.Name)
	s.items[item.ID] = item
	s.names[key] = item.ID
	return item, nil
}

func (s *state) adjust(id ledger.ItemID, delta int64) (ledger.StockItem, error) {
	item, ok := s.items[id]
	if !ok {
		return ledger.StockItem{}, &ledger.NotFoundError{Kind: "product", Ref: string(id)}
	}
	if delta > 0 && item.Quantity > math.MaxInt64-delta {
		return ledger.StockItem{}, &ledger.InvalidInputError{
			Field:  "quantity",
			Reason: fmt.Sprintf("adding %d to %q overflows its quantity", delta, item.Name),
		}
	}
	if item.Quantity+delta < 0 {
		return ledger.StockItem{}, &ledger.InsufficientStockError{
			ItemID:    item.ID,
			Product:   item.Name,
			Available: item.Quantity,
			Requested: -delta,
		}
	}
	item.Quantity += delta
	s.items[id] = item
	return item, nil
}

func (s *state) list(filter ledger.StockFilter) []ledger.StockItem {
	out := make([]ledger.StockItem, 0, len(s.items))
	for _, item := range s.items {
		if filter.Match(item) {
			out = append(out, item)
		}
	}
	slices.SortFunc(out, func(a, b ledger.StockItem) int {
		return strings.Compare(ledger.NameKey(a.Name), ledger.NameKey(b.Name))
	})
	return out
}

func (s *state) recordPurchase(rec ledger.PurchaseRecord) error {
	s.purchases = append(s.purchases, rec)
	return s.recordMovement(ledger.Movement{
		ID:          ledger.MovementID("mv-" + string(rec.ID)),
		ItemID:      rec.ItemID,
		Kind:        ledger.MovePurchase,
		Delta:       rec.Quantity,
		ReferenceID: string(rec.ID),
		CreatedAt:   rec.CreatedAt,
	})
}

func (s *state) recordSale(sale ledger.SaleTransaction) error {
	if _, dup := s.sales[sale.ID]; dup {
		return ledger.Storage("record sale", fmt.Errorf("duplicate sale id %s", sale.ID))
	}
	if sale.IsReturn {
		if existing, ok := s.returns[sale.ReturnOf]; ok {
			return &ledger.AlreadyReturnedError{SaleID: sale.ReturnOf, ReturnID: existing}
		}
		s.returns[sale.ReturnOf] = sale.ID
	}
	sale.Lines = nil
	s.sales[sale.ID] = sale
	s.saleOrder = append(s.saleOrder, sale.ID)
	return nil
}

func (s *state) recordLines(saleID ledger.SaleID, items []ledger.SaleLineItem, kind ledger.MovementKind, sign int64) error {
	sale, ok := s.sales[saleID]
	if !ok {
		return &ledger.NotFoundError{Kind: "sale", Ref: string(saleID)}
	}
	for _, l := range items {
		s.lines[saleID] = append(s.lines[saleID], l)
		if err := s.recordMovement(ledger.Movement{
			ID:          ledger.MovementID("mv-" + string(l.ID)),
			ItemID:      l.ItemID,
			Kind:        kind,
			Delta:       sign * l.Quantity,
			ReferenceID: string(saleID),
			CreatedAt:   sale.CreatedAt,
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *state) recordMovement(mv ledger.Movement) error {
	if _, ok := s.items[mv.ItemID]; !ok {
		return &ledger.NotFoundError{Kind: "product", Ref: string(mv.ItemID)}
	}
	s.movements[mv.ItemID] = append(s.movements[mv.ItemID], mv)
	return nil
}

func (s *state) getSale(id ledger.SaleID) (ledger.SaleTransaction, error) {
	sale, ok := s.sales[id]
	if !ok {
		return ledger.SaleTransaction{}, &ledger.NotFoundError{Kind: "sale", Ref: string(id)}
	}
	sale.Lines = slices.Clone(s.lines[id])
	return sale, nil
}

func (s *state) findReturn(saleID ledger.SaleID) (ledger.SaleTransaction, bool, error) {
	retID, ok := s.returns[saleID]
	if !ok {
		return ledger.SaleTransaction{}, false, nil
	}
	ret, err := s.getSale(retID)
	return ret, err == nil, err
}

func (s *state) recentSales(limit int) []ledger.SaleTransaction {
	out := make([]ledger.SaleTransaction, 0, min(limit, len(s.saleOrder)))
	for i := len(s.saleOrder) - 1; i >= 0 && len(out) < limit; i-- {
		sale, _ := s.getSale(s.saleOrder[i])
		out = append(out, sale)
	}
	return out
}

func (s *state) recentPurchases(limit int) []ledger.PurchaseRecord {
	out := make([]ledger.PurchaseRecord, 0, min(limit, len(s.purchases)))
	for i := len(s.purchases) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.purchases[i])
	}
	return out
}
