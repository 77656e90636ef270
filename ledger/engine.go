/*
engine.go - Transaction engine for purchases, sales and returns

PURPOSE:
  The Engine is the only writer of stock quantities and ledger rows. Each
  operation is one atomic unit: it either commits every stock delta with
  its ledger rows, or nothing at all.

OPERATION FLOW:
  ┌─────────────────────────────────────────────────────────────────┐
  │                                                                 │
  │  Pending ──▶ Validating ──▶ Committed                           │
  │                  │                                              │
  │                  └────────▶ Aborted (no writes visible)         │
  │                                                                 │
  └─────────────────────────────────────────────────────────────────┘

  Validating is read-only. The move to Committed happens inside
  Store.WithTx and is the only place durable mutation occurs.

ISOLATION:
  1. Every item a request touches is locked in the engine's lock table,
     keys sorted so overlapping multi-line sales cannot deadlock.
  2. Inside the transaction the sale re-reads its items, checks every line
     against that one snapshot (cumulative per item), and only then writes.
  3. Stores apply quantity deltas as guarded read-modify-writes, so a
     negative quantity is refused even without the engine's locks.

RETURNS:
  A return restores every line of the original sale and is linked to it.
  A sale can be returned at most once (AlreadyReturnedError); stores back
  this with a unique constraint.

SEE ALSO:
  - store.go: Tx and Store interfaces
  - locks.go: per-key lock table
  - query.go: read-only views
*/
package ledger

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// DefaultLowStockThreshold is the reorder level used when none is configured.
const DefaultLowStockThreshold int64 = 10

// Phase of an operation, used in logs.
type Phase string

const (
	PhasePending    Phase = "pending"
	PhaseValidating Phase = "validating"
	PhaseCommitted  Phase = "committed"
	PhaseAborted    Phase = "aborted"
)

// =============================================================================
// REQUESTS
// =============================================================================

type PurchaseRequest struct {
	Supplier string
	Product  string // item ID or product name
	Batch    string
	Expiry   *time.Time
	Quantity int64
	Rate     decimal.Decimal
	Discount decimal.Decimal
	Price    *decimal.Decimal // retail price; defaults to Rate for new items
}

type PurchaseReceipt struct {
	Record  PurchaseRecord
	Item    StockItem
	Created bool
}

type SaleLine struct {
	Product  string // item ID or product name
	Quantity int64
}

type SaleRequest struct {
	CustomerID string
	DoctorID   string
	Discount   decimal.Decimal
	Tax        decimal.Decimal
	Lines      []SaleLine
}

type ReturnRequest struct {
	OriginalSaleID SaleID
}

// StockEntryRequest adds or updates an item directly, outside a supplier
// purchase (opening stock, corrections from a physical count).
type StockEntryRequest struct {
	Product  string
	Quantity int64
	Price    decimal.Decimal
	Rate     *decimal.Decimal
	Batch    string
	Expiry   *time.Time
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine is safe for concurrent use. NewEngine fills in defaults; a struct
// literal needs only Store, and falls back to the same clock and ID source.
type Engine struct {
	Store     Store
	Directory Directory      // optional
	Recorder  Recorder       // optional
	Events    EventPublisher // optional
	Logger    zerolog.Logger

	LowStockThreshold int64

	Now   func() time.Time
	NewID func(prefix string) string

	locksOnce sync.Once
	locks     *lockTable
}

// NewEngine creates an engine over store with default settings.
func NewEngine(store Store) *Engine {
	return &Engine{
		Store:             store,
		Logger:            log.Logger,
		LowStockThreshold: DefaultLowStockThreshold,
		Now:               func() time.Time { return time.Now().UTC() },
		NewID:             func(prefix string) string { return prefix + "-" + uuid.NewString() },
	}
}

// =============================================================================
// PURCHASE
// =============================================================================

// Purchase receives stock from a supplier. Known products are incremented
// and take the latest batch, expiry and pricing; unknown products are created.
func (e *Engine) Purchase(ctx context.Context, req PurchaseRequest) (receipt PurchaseReceipt, err error) {
	start := e.begin("purchase")
	defer func() { err = e.finish("purchase", start, err) }()

	if err := req.validate(); err != nil {
		return PurchaseReceipt{}, err
	}

	keys := []string{productKey(req.Product)}
	if known, err := e.Store.Find(ctx, req.Product); err == nil {
		keys = append(keys, itemKey(known.ID))
	} else if !IsNotFound(err) {
		return PurchaseReceipt{}, Storage("find product", err)
	}
	unlock := e.lock(keys...)
	defer unlock()

	now := e.now()
	err = e.Store.WithTx(ctx, func(tx Tx) error {
		item, err := tx.Find(ctx, req.Product)
		switch {
		case err == nil:
			if err := checkIncrement(item, req.Quantity); err != nil {
				return err
			}
			item, err = tx.AdjustQuantity(ctx, item.ID, req.Quantity)
			if err != nil {
				return err
			}
			if req.Batch != "" {
				item.Batch = req.Batch
			}
			if req.Expiry != nil {
				item.Expiry = req.Expiry
			}
			item.Rate = req.Rate
			if req.Price != nil {
				item.Price = *req.Price
			}
			item.UpdatedAt = now
			item, err = tx.Upsert(ctx, item)
		case IsNotFound(err):
			price := req.Rate
			if req.Price != nil {
				price = *req.Price
			}
			item, err = tx.Upsert(ctx, StockItem{
				ID:        ItemID(e.newID("item")),
				Name:      strings.TrimSpace(req.Product),
				Batch:     req.Batch,
				Expiry:    req.Expiry,
				Quantity:  req.Quantity,
				Price:     price,
				Rate:      req.Rate,
				CreatedAt: now,
				UpdatedAt: now,
			})
			receipt.Created = true
		}
		if err != nil {
			return err
		}

		rec := PurchaseRecord{
			ID:          PurchaseID(e.newID("pur")),
			Supplier:    strings.TrimSpace(req.Supplier),
			ItemID:      item.ID,
			ProductName: item.Name,
			Batch:       req.Batch,
			Expiry:      req.Expiry,
			Quantity:    req.Quantity,
			Rate:        req.Rate,
			Discount:    req.Discount,
			CreatedAt:   now,
		}
		if err := tx.RecordPurchase(ctx, rec); err != nil {
			return err
		}
		receipt.Record = rec
		receipt.Item = item
		return nil
	})
	if err != nil {
		return PurchaseReceipt{}, Storage("purchase", err)
	}

	e.publish(ctx, Event{
		Type:       EventPurchaseRecorded,
		OccurredAt: now,
		PurchaseID: string(receipt.Record.ID),
		ItemID:     receipt.Item.ID,
		Product:    receipt.Item.Name,
		Quantity:   req.Quantity,
	})
	return receipt, nil
}

func (r PurchaseRequest) validate() error {
	switch {
	case strings.TrimSpace(r.Product) == "":
		return invalid("product", "required")
	case strings.TrimSpace(r.Supplier) == "":
		return invalid("supplier", "required")
	case r.Quantity <= 0:
		return invalid("quantity", "must be greater than zero")
	case r.Rate.IsNegative():
		return invalid("rate", "must not be negative")
	case r.Discount.IsNegative() || r.Discount.GreaterThan(hundred):
		return invalid("discount", "must be between 0 and 100")
	case r.Price != nil && r.Price.IsNegative():
		return invalid("price", "must not be negative")
	}
	return nil
}

// =============================================================================
// SALE
// =============================================================================

type plannedLine struct {
	line     int // 1-based position in the request
	itemID   ItemID
	quantity int64
}

// Sale sells every line or nothing. Lines with a non-positive quantity are
// skipped; an unknown product or a shortfall on any line aborts the sale.
func (e *Engine) Sale(ctx context.Context, req SaleRequest) (sale SaleTransaction, err error) {
	start := e.begin("sale")
	defer func() { err = e.finish("sale", start, err) }()

	if err := req.validate(); err != nil {
		return SaleTransaction{}, err
	}
	if err := e.checkParties(ctx, req); err != nil {
		return SaleTransaction{}, err
	}

	planned := make([]plannedLine, 0, len(req.Lines))
	keys := make([]string, 0, len(req.Lines))
	for i, l := range req.Lines {
		item, err := e.Store.Find(ctx, l.Product)
		if IsNotFound(err) {
			return SaleTransaction{}, &NotFoundError{Kind: "product", Ref: l.Product, Line: i + 1}
		}
		if err != nil {
			return SaleTransaction{}, Storage("find product", err)
		}
		if l.Quantity <= 0 {
			continue
		}
		planned = append(planned, plannedLine{line: i + 1, itemID: item.ID, quantity: l.Quantity})
		keys = append(keys, itemKey(item.ID))
	}
	if len(planned) == 0 {
		return SaleTransaction{}, invalid("lines", "no items selected")
	}

	unlock := e.lock(keys...)
	defer unlock()

	var lowStock []Event
	err = e.Store.WithTx(ctx, func(tx Tx) error {
		var err error
		sale, lowStock, err = e.commitSale(ctx, tx, req, planned)
		return err
	})
	if err != nil {
		return SaleTransaction{}, Storage("sale", err)
	}

	e.publish(ctx, Event{
		Type:       EventSaleCommitted,
		OccurredAt: sale.CreatedAt,
		SaleID:     sale.ID,
		BillNo:     sale.BillNo,
		Total:      sale.Total.StringFixed(MoneyPlaces),
	})
	for _, ev := range lowStock {
		e.publish(ctx, ev)
	}
	return sale, nil
}

// commitSale validates every line against one snapshot, then writes.
func (e *Engine) commitSale(ctx context.Context, tx Tx, req SaleRequest, planned []plannedLine) (SaleTransaction, []Event, error) {
	snapshot := make(map[ItemID]StockItem)
	requested := make(map[ItemID]int64)
	var order []ItemID

	saleID := SaleID(e.newID("sale"))
	lines := make([]SaleLineItem, 0, len(planned))

	for _, p := range planned {
		item, seen := snapshot[p.itemID]
		if !seen {
			var err error
			item, err = tx.Find(ctx, string(p.itemID))
			if IsNotFound(err) {
				return SaleTransaction{}, nil, &NotFoundError{Kind: "product", Ref: string(p.itemID), Line: p.line}
			}
			if err != nil {
				return SaleTransaction{}, nil, err
			}
			snapshot[item.ID] = item
			order = append(order, item.ID)
		}

		if p.quantity > math.MaxInt64-requested[item.ID] {
			return SaleTransaction{}, nil, &InvalidInputError{
				Field:  fmt.Sprintf("lines[%d].quantity", p.line),
				Reason: fmt.Sprintf("total requested for %q exceeds %d", item.Name, int64(math.MaxInt64)),
			}
		}
		requested[item.ID] += p.quantity
		if requested[item.ID] > item.Quantity {
			return SaleTransaction{}, nil, &InsufficientStockError{
				ItemID:    item.ID,
				Product:   item.Name,
				Line:      p.line,
				Available: item.Quantity,
				Requested: requested[item.ID],
			}
		}

		lines = append(lines, SaleLineItem{
			ID:          LineID(e.newID("line")),
			SaleID:      saleID,
			ItemID:      item.ID,
			ProductName: item.Name,
			Quantity:    p.quantity,
			UnitPrice:   item.Price,
		})
	}

	// Every line holds; from here on we write.
	seq, err := tx.NextBillSequence(ctx)
	if err != nil {
		return SaleTransaction{}, nil, err
	}
	sale := SaleTransaction{
		ID:         saleID,
		BillNo:     BillNumber(seq),
		CustomerID: strings.TrimSpace(req.CustomerID),
		DoctorID:   strings.TrimSpace(req.DoctorID),
		Discount:   req.Discount,
		Tax:        req.Tax,
		Total:      ComputeTotal(lines, req.Discount, req.Tax),
		CreatedAt:  e.now(),
		Lines:      lines,
	}
	if err := tx.RecordSale(ctx, sale); err != nil {
		return SaleTransaction{}, nil, err
	}

	var lowStock []Event
	for _, id := range order {
		after, err := tx.AdjustQuantity(ctx, id, -requested[id])
		if err != nil {
			return SaleTransaction{}, nil, err
		}
		before := snapshot[id].Quantity
		if after.Quantity < e.LowStockThreshold && before >= e.LowStockThreshold {
			lowStock = append(lowStock, Event{
				Type:       EventStockLow,
				OccurredAt: sale.CreatedAt,
				SaleID:     sale.ID,
				ItemID:     id,
				Product:    after.Name,
				Quantity:   after.Quantity,
				Threshold:  e.LowStockThreshold,
			})
		}
	}

	if err := tx.RecordSaleItems(ctx, sale.ID, lines); err != nil {
		return SaleTransaction{}, nil, err
	}
	return sale, lowStock, nil
}

func (r SaleRequest) validate() error {
	switch {
	case len(r.Lines) == 0:
		return invalid("lines", "no items selected")
	case strings.TrimSpace(r.CustomerID) == "":
		return invalid("customer_id", "required")
	case r.Discount.IsNegative() || r.Discount.GreaterThan(hundred):
		return invalid("discount", "must be between 0 and 100")
	case r.Tax.IsNegative():
		return invalid("tax", "must not be negative")
	}
	return nil
}

func (e *Engine) checkParties(ctx context.Context, req SaleRequest) error {
	if e.Directory == nil {
		return nil
	}
	ok, err := e.Directory.CustomerExists(ctx, req.CustomerID)
	if err != nil {
		return Storage("lookup customer", err)
	}
	if !ok {
		return &NotFoundError{Kind: "customer", Ref: req.CustomerID}
	}
	if req.DoctorID == "" {
		return nil
	}
	ok, err = e.Directory.DoctorExists(ctx, req.DoctorID)
	if err != nil {
		return Storage("lookup doctor", err)
	}
	if !ok {
		return &NotFoundError{Kind: "doctor", Ref: req.DoctorID}
	}
	return nil
}

// BillNumber formats a bill sequence value.
func BillNumber(seq int64) string {
	return fmt.Sprintf("B%08d", seq)
}

// =============================================================================
// RETURN
// =============================================================================

// Return reverses a whole sale: every line goes back into stock and a
// return transaction linked to the sale is recorded.
func (e *Engine) Return(ctx context.Context, req ReturnRequest) (ret SaleTransaction, err error) {
	start := e.begin("return")
	defer func() { err = e.finish("return", start, err) }()

	if strings.TrimSpace(string(req.OriginalSaleID)) == "" {
		return SaleTransaction{}, invalid("original_sale_id", "required")
	}

	orig, err := e.Store.GetSale(ctx, req.OriginalSaleID)
	if err != nil {
		return SaleTransaction{}, Storage("get sale", err)
	}
	if orig.IsReturn {
		return SaleTransaction{}, invalid("original_sale_id", "a return cannot be returned")
	}

	keys := []string{saleKey(orig.ID)}
	for _, l := range orig.Lines {
		keys = append(keys, itemKey(l.ItemID))
	}
	unlock := e.lock(keys...)
	defer unlock()

	err = e.Store.WithTx(ctx, func(tx Tx) error {
		var err error
		ret, err = e.commitReturn(ctx, tx, orig.ID)
		return err
	})
	if err != nil {
		return SaleTransaction{}, Storage("return", err)
	}

	e.publish(ctx, Event{
		Type:       EventSaleReturned,
		OccurredAt: ret.CreatedAt,
		SaleID:     ret.ReturnOf,
		BillNo:     ret.BillNo,
		Total:      ret.Total.StringFixed(MoneyPlaces),
	})
	return ret, nil
}

func (e *Engine) commitReturn(ctx context.Context, tx Tx, saleID SaleID) (SaleTransaction, error) {
	orig, err := tx.GetSale(ctx, saleID)
	if err != nil {
		return SaleTransaction{}, err
	}
	existing, returned, err := tx.FindReturn(ctx, saleID)
	if err != nil {
		return SaleTransaction{}, err
	}
	if returned {
		return SaleTransaction{}, &AlreadyReturnedError{SaleID: saleID, ReturnID: existing.ID}
	}

	retID := SaleID(e.newID("ret"))
	lines := make([]SaleLineItem, len(orig.Lines))
	for i, l := range orig.Lines {
		lines[i] = SaleLineItem{
			ID:          LineID(e.newID("line")),
			SaleID:      retID,
			ItemID:      l.ItemID,
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		}
	}

	seq, err := tx.NextBillSequence(ctx)
	if err != nil {
		return SaleTransaction{}, err
	}
	ret := SaleTransaction{
		ID:         retID,
		BillNo:     BillNumber(seq),
		CustomerID: orig.CustomerID,
		DoctorID:   orig.DoctorID,
		Discount:   decimal.Zero,
		Tax:        decimal.Zero,
		Total:      orig.Total,
		IsReturn:   true,
		ReturnOf:   orig.ID,
		CreatedAt:  e.now(),
		Lines:      lines,
	}
	if err := tx.RecordSale(ctx, ret); err != nil {
		return SaleTransaction{}, err
	}
	for _, l := range lines {
		if _, err := tx.AdjustQuantity(ctx, l.ItemID, l.Quantity); err != nil {
			return SaleTransaction{}, err
		}
	}
	if err := tx.RecordReturnItems(ctx, retID, lines); err != nil {
		return SaleTransaction{}, err
	}
	return ret, nil
}

// =============================================================================
// STOCK ENTRY
// =============================================================================

// StockEntry adds Quantity units to a product and sets its retail price,
// creating the product if it does not exist yet.
func (e *Engine) StockEntry(ctx context.Context, req StockEntryRequest) (item StockItem, err error) {
	start := e.begin("stock_entry")
	defer func() { err = e.finish("stock_entry", start, err) }()

	switch {
	case strings.TrimSpace(req.Product) == "":
		return StockItem{}, invalid("product", "required")
	case req.Quantity < 0:
		return StockItem{}, invalid("quantity", "must not be negative")
	case req.Price.IsNegative():
		return StockItem{}, invalid("price", "must not be negative")
	case req.Rate != nil && req.Rate.IsNegative():
		return StockItem{}, invalid("rate", "must not be negative")
	}

	keys := []string{productKey(req.Product)}
	if known, err := e.Store.Find(ctx, req.Product); err == nil {
		keys = append(keys, itemKey(known.ID))
	} else if !IsNotFound(err) {
		return StockItem{}, Storage("find product", err)
	}
	unlock := e.lock(keys...)
	defer unlock()

	now := e.now()
	err = e.Store.WithTx(ctx, func(tx Tx) error {
		found, err := tx.Find(ctx, req.Product)
		switch {
		case err == nil:
			item = found
			if err := checkIncrement(found, req.Quantity); err != nil {
				return err
			}
			if req.Quantity > 0 {
				if item, err = tx.AdjustQuantity(ctx, found.ID, req.Quantity); err != nil {
					return err
				}
			}
		case IsNotFound(err):
			item = StockItem{
				ID:        ItemID(e.newID("item")),
				Name:      strings.TrimSpace(req.Product),
				Quantity:  req.Quantity,
				CreatedAt: now,
			}
		default:
			return err
		}

		item.Price = req.Price
		if req.Rate != nil {
			item.Rate = *req.Rate
		}
		if req.Batch != "" {
			item.Batch = req.Batch
		}
		if req.Expiry != nil {
			item.Expiry = req.Expiry
		}
		item.UpdatedAt = now
		if item, err = tx.Upsert(ctx, item); err != nil {
			return err
		}

		if req.Quantity == 0 {
			return nil
		}
		return tx.RecordStockEntry(ctx, Movement{
			ID:          MovementID(e.newID("mv")),
			ItemID:      item.ID,
			Kind:        MoveStockEntry,
			Delta:       req.Quantity,
			ReferenceID: string(item.ID),
			CreatedAt:   now,
		})
	})
	if err != nil {
		return StockItem{}, Storage("stock entry", err)
	}
	return item, nil
}

// lock acquires keys in the engine's lock table, creating the table on
// first use so that a struct-literal Engine works too.
func (e *Engine) lock(keys ...string) func() {
	e.locksOnce.Do(func() {
		if e.locks == nil {
			e.locks = newLockTable()
		}
	})
	return e.locks.Lock(keys...)
}

func (e *Engine) now() time.Time {
	if e.Now == nil {
		return time.Now().UTC()
	}
	return e.Now()
}

func (e *Engine) newID(prefix string) string {
	if e.NewID == nil {
		return prefix + "-" + uuid.NewString()
	}
	return e.NewID(prefix)
}

// checkIncrement refuses a delta that would push the quantity on hand past
// the largest representable count.
func checkIncrement(item StockItem, delta int64) error {
	if delta > 0 && item.Quantity > math.MaxInt64-delta {
		return &InvalidInputError{
			Field:  "quantity",
			Reason: fmt.Sprintf("%q has %d on hand; adding %d exceeds %d", item.Name, item.Quantity, delta, int64(math.MaxInt64)),
		}
	}
	return nil
}

// =============================================================================
// OBSERVABILITY
// =============================================================================

func (e *Engine) begin(op string) time.Time {
	e.Logger.Debug().Str("operation", op).Str("phase", string(PhaseValidating)).Msg("ledger operation started")
	return time.Now()
}

func (e *Engine) finish(op string, start time.Time, err error) error {
	elapsed := time.Since(start)
	kind := KindOf(err)

	outcome, phase := OutcomeCommitted, PhaseCommitted
	evt := e.Logger.Debug()
	if err != nil {
		outcome, phase = OutcomeAborted, PhaseAborted
		if IsClientError(err) {
			evt = e.Logger.Info()
		} else {
			evt = e.Logger.Error()
		}
	}
	evt.Str("operation", op).
		Str("phase", string(phase)).
		Str("kind", string(kind)).
		Dur("elapsed", elapsed).
		Err(err).
		Msg("ledger operation finished")

	if e.Recorder != nil {
		e.Recorder.ObserveOperation(op, outcome, kind, elapsed)
	}
	return err
}

func (e *Engine) publish(ctx context.Context, ev Event) {
	if e.Events == nil {
		return
	}
	if err := e.Events.Publish(ctx, ev); err != nil {
		e.Logger.Warn().Err(err).Str("event", string(ev.Type)).Msg("failed to publish ledger event")
	}
}
