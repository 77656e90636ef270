/*
Package ledger provides the pharmacy inventory ledger and transaction engine.

PURPOSE:
  This package owns stock quantities and the append-only history of every
  purchase, sale and sale return. Stock is only ever changed by the Engine,
  and every change is written together with the ledger rows that explain it.

KEY CONCEPTS IN THIS FILE (types.go):
  - StockItem: A tracked medicine and its quantity on hand
  - PurchaseRecord: Immutable record of stock received from a supplier
  - SaleTransaction: Immutable sale (or return) header with its line items
  - Movement: One quantity delta against one item, the raw ledger entry
  - Money helpers: decimal arithmetic rounded to MoneyPlaces

DESIGN PRINCIPLES:
  1. Immutability: Sales are never edited, only reversed by a return
  2. Precision: Money uses decimal.Decimal, never float64
  3. Type Safety: Distinct ID types for items, sales and purchases
  4. Auditability: Quantity == sum of movement deltas for every item

USAGE:
  engine := ledger.NewEngine(store)
  sale, err := engine.Sale(ctx, ledger.SaleRequest{
      CustomerID: "walk-in",
      Lines:      []ledger.SaleLine{{Product: "Paracetamol", Quantity: 30}},
  })

SEE ALSO:
  - store.go: Stock Repository and Ledger Entry Writer interfaces
  - engine.go: Purchase, Sale, Return
  - query.go: Read-only reporting
*/
package ledger

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ItemID string
type PurchaseID string
type SaleID string
type LineID string
type MovementID string

// =============================================================================
// MONEY
// =============================================================================

// MoneyPlaces is the number of decimal places money values are rounded to.
const MoneyPlaces = 2

var hundred = decimal.NewFromInt(100)

// RoundMoney rounds half away from zero to MoneyPlaces.
func RoundMoney(d decimal.Decimal) decimal.Decimal { return d.Round(MoneyPlaces) }

// ComputeTotal returns sum(q*price) * (1 - discount/100) * (1 + tax/100),
// rounded once at the end.
func ComputeTotal(lines []SaleLineItem, discountPct, taxPct decimal.Decimal) decimal.Decimal {
	subtotal := decimal.Zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Amount())
	}
	discountFactor := decimal.NewFromInt(1).Sub(discountPct.Div(hundred))
	taxFactor := decimal.NewFromInt(1).Add(taxPct.Div(hundred))
	return RoundMoney(subtotal.Mul(discountFactor).Mul(taxFactor))
}

// =============================================================================
// STOCK ITEM
// =============================================================================

// StockItem is a medicine tracked by the store. Items are never deleted so
// that history stays attributable.
type StockItem struct {
	ID        ItemID
	Name      string
	Batch     string
	Expiry    *time.Time
	Quantity  int64
	Price     decimal.Decimal // retail, per unit
	Rate      decimal.Decimal // cost, per unit
	CreatedAt time.Time
	UpdatedAt time.Time
}

// NameKey normalises a product name for identity comparisons.
func NameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// =============================================================================
// LEDGER RECORDS
// =============================================================================

// PurchaseRecord is stock received from a supplier. Batch and expiry are
// copied at purchase time.
type PurchaseRecord struct {
	ID          PurchaseID
	Supplier    string
	ItemID      ItemID
	ProductName string
	Batch       string
	Expiry      *time.Time
	Quantity    int64
	Rate        decimal.Decimal
	Discount    decimal.Decimal // supplier discount, percent
	CreatedAt   time.Time
}

// SaleTransaction is a sale, or a return when IsReturn is set.
type SaleTransaction struct {
	ID         SaleID
	BillNo     string
	CustomerID string
	DoctorID   string
	Discount   decimal.Decimal
	Tax        decimal.Decimal
	Total      decimal.Decimal
	IsReturn   bool
	ReturnOf   SaleID
	CreatedAt  time.Time
	Lines      []SaleLineItem
}

// SaleLineItem is one product within a sale. UnitPrice is the item's retail
// price when the sale was validated.
type SaleLineItem struct {
	ID          LineID
	SaleID      SaleID
	ItemID      ItemID
	ProductName string
	Quantity    int64
	UnitPrice   decimal.Decimal
}

func (l SaleLineItem) Amount() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(l.Quantity))
}

// =============================================================================
// MOVEMENT - Raw quantity ledger
// =============================================================================

type MovementKind string

const (
	MovePurchase   MovementKind = "purchase"
	MoveSale       MovementKind = "sale"
	MoveReturn     MovementKind = "return"
	MoveStockEntry MovementKind = "stock_entry"
)

// Movement records one quantity delta against one item. ReferenceID points
// at the purchase, sale or return that caused it.
type Movement struct {
	ID          MovementID
	ItemID      ItemID
	Kind        MovementKind
	Delta       int64
	ReferenceID string
	CreatedAt   time.Time
}
