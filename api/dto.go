/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the ledger's domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients
  - *Response: Response wrappers

MONEY:
  Requests accept money as a JSON number or string ("2.50" or 2.5).
  Responses always carry money as a string with two decimal places.

DATES:
  Timestamps are RFC3339 in UTC. Expiry dates are YYYY-MM-DD.

SEE ALSO:
  - handlers.go: Uses these types
  - ledger/types.go: Domain types
*/
package api

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/pharmacy-ledger/ledger"
)

const expiryLayout = "2006-01-02"

// =============================================================================
// STOCK
// =============================================================================

type StockItemDTO struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Batch     string  `json:"batch,omitempty"`
	Expiry    *string `json:"expiry,omitempty"`
	Quantity  int64   `json:"quantity"`
	Price     string  `json:"price"`
	Rate      string  `json:"rate"`
	CreatedAt string  `json:"created_at"`
	UpdatedAt string  `json:"updated_at"`
}

// StockEntryRequest adds units to a product or creates it.
type StockEntryRequest struct {
	Product  string           `json:"product"`
	Quantity int64            `json:"quantity"`
	Price    decimal.Decimal  `json:"price"`
	Rate     *decimal.Decimal `json:"rate,omitempty"`
	Batch    string           `json:"batch,omitempty"`
	Expiry   string           `json:"expiry,omitempty"`
}

type MovementDTO struct {
	ID          string `json:"id"`
	ItemID      string `json:"item_id"`
	Kind        string `json:"kind"`
	Delta       int64  `json:"delta"`
	ReferenceID string `json:"reference_id"`
	CreatedAt   string `json:"created_at"`
}

type MovementsResponse struct {
	Item      StockItemDTO  `json:"item"`
	Movements []MovementDTO `json:"movements"`
}

// =============================================================================
// PURCHASES
// =============================================================================

type PurchaseRequest struct {
	Supplier string           `json:"supplier"`
	Product  string           `json:"product"`
	Batch    string           `json:"batch,omitempty"`
	Expiry   string           `json:"expiry,omitempty"`
	Quantity int64            `json:"quantity"`
	Rate     decimal.Decimal  `json:"rate"`
	Discount decimal.Decimal  `json:"discount"`
	Price    *decimal.Decimal `json:"price,omitempty"`
}

type PurchaseDTO struct {
	ID          string  `json:"id"`
	Supplier    string  `json:"supplier"`
	ItemID      string  `json:"item_id"`
	ProductName string  `json:"product_name"`
	Batch       string  `json:"batch,omitempty"`
	Expiry      *string `json:"expiry,omitempty"`
	Quantity    int64   `json:"quantity"`
	Rate        string  `json:"rate"`
	Discount    string  `json:"discount"`
	CreatedAt   string  `json:"created_at"`
}

type PurchaseResponse struct {
	Purchase PurchaseDTO  `json:"purchase"`
	Item     StockItemDTO `json:"item"`
	Created  bool         `json:"created"`
}

// =============================================================================
// SALES
// =============================================================================

type SaleLineRequest struct {
	Product  string `json:"product"`
	Quantity int64  `json:"quantity"`
}

type SaleRequest struct {
	CustomerID string            `json:"customer_id"`
	DoctorID   string            `json:"doctor_id,omitempty"`
	Discount   decimal.Decimal   `json:"discount"`
	Tax        decimal.Decimal   `json:"tax"`
	Items      []SaleLineRequest `json:"items"`
}

type SaleLineDTO struct {
	ID          string `json:"id"`
	ItemID      string `json:"item_id"`
	ProductName string `json:"product_name"`
	Quantity    int64  `json:"quantity"`
	UnitPrice   string `json:"unit_price"`
	Amount      string `json:"amount"`
}

type SaleDTO struct {
	ID         string        `json:"id"`
	BillNo     string        `json:"bill_no"`
	CustomerID string        `json:"customer_id"`
	DoctorID   string        `json:"doctor_id,omitempty"`
	Discount   string        `json:"discount"`
	Tax        string        `json:"tax"`
	Total      string        `json:"total"`
	IsReturn   bool          `json:"is_return"`
	ReturnOf   string        `json:"return_of,omitempty"`
	CreatedAt  string        `json:"created_at"`
	Items      []SaleLineDTO `json:"items"`
}

// =============================================================================
// AUDIT & ERRORS
// =============================================================================

type DiscrepancyDTO struct {
	Item        StockItemDTO `json:"item"`
	LedgerTotal int64        `json:"ledger_total"`
}

type AuditResponse struct {
	Consistent    bool             `json:"consistent"`
	Checked       int              `json:"checked"`
	Discrepancies []DiscrepancyDTO `json:"discrepancies"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
	Product string `json:"product,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func money(d decimal.Decimal) string {
	return d.StringFixed(ledger.MoneyPlaces)
}

func timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func expiryString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(expiryLayout)
	return &s
}

// parseExpiry accepts YYYY-MM-DD or a full RFC3339 timestamp.
func parseExpiry(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range []string{expiryLayout, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t, nil
		}
	}
	return nil, &ledger.InvalidInputError{Field: "expiry", Reason: fmt.Sprintf("%q is not a date (YYYY-MM-DD)", s)}
}

func toStockItemDTO(item ledger.StockItem) StockItemDTO {
	return StockItemDTO{
		ID:        string(item.ID),
		Name:      item.Name,
		Batch:     item.Batch,
		Expiry:    expiryString(item.Expiry),
		Quantity:  item.Quantity,
		Price:     money(item.Price),
		Rate:      money(item.Rate),
		CreatedAt: timestamp(item.CreatedAt),
		UpdatedAt: timestamp(item.UpdatedAt),
	}
}

func toStockItemDTOs(items []ledger.StockItem) []StockItemDTO {
	dtos := make([]StockItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toStockItemDTO(item)
	}
	return dtos
}

func toMovementDTO(m ledger.Movement) MovementDTO {
	return MovementDTO{
		ID:          string(m.ID),
		ItemID:      string(m.ItemID),
		Kind:        string(m.Kind),
		Delta:       m.Delta,
		ReferenceID: m.ReferenceID,
		CreatedAt:   timestamp(m.CreatedAt),
	}
}

func toPurchaseDTO(p ledger.PurchaseRecord) PurchaseDTO {
	return PurchaseDTO{
		ID:          string(p.ID),
		Supplier:    p.Supplier,
		ItemID:      string(p.ItemID),
		ProductName: p.ProductName,
		Batch:       p.Batch,
		Expiry:      expiryString(p.Expiry),
		Quantity:    p.Quantity,
		Rate:        money(p.Rate),
		Discount:    money(p.Discount),
		CreatedAt:   timestamp(p.CreatedAt),
	}
}

func toSaleDTO(s ledger.SaleTransaction) SaleDTO {
	dto := SaleDTO{
		ID:         string(s.ID),
		BillNo:     s.BillNo,
		CustomerID: s.CustomerID,
		DoctorID:   s.DoctorID,
		Discount:   money(s.Discount),
		Tax:        money(s.Tax),
		Total:      money(s.Total),
		IsReturn:   s.IsReturn,
		ReturnOf:   string(s.ReturnOf),
		CreatedAt:  timestamp(s.CreatedAt),
		Items:      make([]SaleLineDTO, len(s.Lines)),
	}
	for i, l := range s.Lines {
		dto.Items[i] = SaleLineDTO{
			ID:          string(l.ID),
			ItemID:      string(l.ItemID),
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   money(l.UnitPrice),
			Amount:      money(l.Amount()),
		}
	}
	return dto
}

func (r SaleRequest) toLedger() ledger.SaleRequest {
	lines := make([]ledger.SaleLine, len(r.Items))
	for i, it := range r.Items {
		lines[i] = ledger.SaleLine{Product: it.Product, Quantity: it.Quantity}
	}
	return ledger.SaleRequest{
		CustomerID: r.CustomerID,
		DoctorID:   r.DoctorID,
		Discount:   r.Discount,
		Tax:        r.Tax,
		Lines:      lines,
	}
}

func (r PurchaseRequest) toLedger() (ledger.PurchaseRequest, error) {
	expiry, err := parseExpiry(r.Expiry)
	if err != nil {
		return ledger.PurchaseRequest{}, err
	}
	return ledger.PurchaseRequest{
		Supplier: r.Supplier,
		Product:  r.Product,
		Batch:    r.Batch,
		Expiry:   expiry,
		Quantity: r.Quantity,
		Rate:     r.Rate,
		Discount: r.Discount,
		Price:    r.Price,
	}, nil
}

func (r StockEntryRequest) toLedger() (ledger.StockEntryRequest, error) {
	expiry, err := parseExpiry(r.Expiry)
	if err != nil {
		return ledger.StockEntryRequest{}, err
	}
	return ledger.StockEntryRequest{
		Product:  r.Product,
		Quantity: r.Quantity,
		Price:    r.Price,
		Rate:     r.Rate,
		Batch:    r.Batch,
		Expiry:   expiry,
	}, nil
}
