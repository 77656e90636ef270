/*
handlers.go - HTTP API handlers for the pharmacy ledger

PURPOSE:
  Exposes the transaction engine and the query surface via REST API.
  Handles HTTP request/response and JSON serialization, and delegates every
  stock change to ledger.Engine.

ENDPOINTS:
  Stock:
    GET    /api/stock                    Current stock, ordered by name
    POST   /api/stock                    Explicit stock entry
    GET    /api/stock/low?threshold=N    Items below the reorder level
    GET    /api/stock/{ref}              One item by ID or name
    GET    /api/stock/{ref}/movements    Quantity ledger of one item

  Purchases:
    GET    /api/purchases?limit=N        Recent purchases, newest first
    POST   /api/purchases                Receive stock from a supplier

  Sales:
    GET    /api/sales?limit=N            Recent sales and returns
    POST   /api/sales                    Sell one or more items atomically
    GET    /api/sales/{id}               One sale with its lines
    POST   /api/sales/{id}/return        Return a whole sale

  Audit:
    GET    /api/audit                    Items whose quantity disagrees with the ledger

REQUEST FLOW:
  1. Parse HTTP request
  2. Convert DTO to a ledger request
  3. Call the engine or query surface
  4. Serialize response
  5. Map ledger error kinds to HTTP status

ERROR HANDLING:
  - 400: invalid_input
  - 404: not_found
  - 409: insufficient_stock, already_returned
  - 500: storage_error and anything unclassified

SECURITY NOTE:
  No authentication here. The service is expected to sit behind a gateway
  that authenticates staff.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/warp/pharmacy-ledger/ledger"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *ledger.Engine
	Query  *ledger.Query
	Logger zerolog.Logger

	// Ping reports storage health for /healthz. Optional.
	Ping func(ctx context.Context) error
}

// NewHandler creates a handler over engine and query.
func NewHandler(engine *ledger.Engine, query *ledger.Query) *Handler {
	return &Handler{
		Engine: engine,
		Query:  query,
		Logger: log.Logger.With().Str("component", "api").Logger(),
	}
}

// =============================================================================
// STOCK HANDLERS
// =============================================================================

// ListStock returns every item ordered by name.
func (h *Handler) ListStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.Query.Stock(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockItemDTOs(items))
}

// LowStock returns items below ?threshold (default: configured reorder level).
func (h *Handler) LowStock(w http.ResponseWriter, r *http.Request) {
	var threshold int64
	if s := r.URL.Query().Get("threshold"); s != "" {
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid threshold", errors.New("threshold must be a positive integer"))
			return
		}
		threshold = n
	}

	items, err := h.Query.LowStock(r.Context(), threshold)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockItemDTOs(items))
}

// GetItem returns one item by ID or product name.
func (h *Handler) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.Query.Item(r.Context(), pathParam(r, "ref"))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toStockItemDTO(item))
}

// GetMovements returns the quantity ledger of one item.
func (h *Handler) GetMovements(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	item, err := h.Query.Item(ctx, pathParam(r, "ref"))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	moves, err := h.Query.Movements(ctx, string(item.ID))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	resp := MovementsResponse{
		Item:      toStockItemDTO(item),
		Movements: make([]MovementDTO, len(moves)),
	}
	for i, m := range moves {
		resp.Movements[i] = toMovementDTO(m)
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateStockEntry adds units to a product, creating it if needed.
func (h *Handler) CreateStockEntry(w http.ResponseWriter, r *http.Request) {
	var req StockEntryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := req.toLedger()
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	item, err := h.Engine.StockEntry(r.Context(), entry)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStockItemDTO(item))
}

// =============================================================================
// PURCHASE HANDLERS
// =============================================================================

// ListPurchases returns recent purchases, newest first.
func (h *Handler) ListPurchases(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	purchases, err := h.Query.RecentPurchases(r.Context(), limit)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	dtos := make([]PurchaseDTO, len(purchases))
	for i, p := range purchases {
		dtos[i] = toPurchaseDTO(p)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreatePurchase records stock received from a supplier.
func (h *Handler) CreatePurchase(w http.ResponseWriter, r *http.Request) {
	var req PurchaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	purchase, err := req.toLedger()
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	receipt, err := h.Engine.Purchase(r.Context(), purchase)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, PurchaseResponse{
		Purchase: toPurchaseDTO(receipt.Record),
		Item:     toStockItemDTO(receipt.Item),
		Created:  receipt.Created,
	})
}

// =============================================================================
// SALE HANDLERS
// =============================================================================

// ListSales returns recent sales and returns, newest first.
func (h *Handler) ListSales(w http.ResponseWriter, r *http.Request) {
	limit, ok := limitParam(w, r)
	if !ok {
		return
	}
	sales, err := h.Query.RecentSales(r.Context(), limit)
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	dtos := make([]SaleDTO, len(sales))
	for i, s := range sales {
		dtos[i] = toSaleDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateSale sells every requested line or nothing.
func (h *Handler) CreateSale(w http.ResponseWriter, r *http.Request) {
	var req SaleRequest
	if !decodeBody(w, r, &req) {
		return
	}

	sale, err := h.Engine.Sale(r.Context(), req.toLedger())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSaleDTO(sale))
}

// GetSale returns one sale or return with its lines.
func (h *Handler) GetSale(w http.ResponseWriter, r *http.Request) {
	sale, err := h.Query.Sale(r.Context(), ledger.SaleID(pathParam(r, "id")))
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toSaleDTO(sale))
}

// ReturnSale reverses a whole sale.
func (h *Handler) ReturnSale(w http.ResponseWriter, r *http.Request) {
	ret, err := h.Engine.Return(r.Context(), ledger.ReturnRequest{
		OriginalSaleID: ledger.SaleID(pathParam(r, "id")),
	})
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toSaleDTO(ret))
}

// =============================================================================
// AUDIT & HEALTH
// =============================================================================

// Audit compares every item's quantity with the sum of its movements.
func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	res, err := h.Query.Reconcile(r.Context())
	if err != nil {
		h.writeLedgerError(w, r, err)
		return
	}

	resp := AuditResponse{
		Consistent:    len(res.Discrepancies) == 0,
		Checked:       res.Checked,
		Discrepancies: make([]DiscrepancyDTO, len(res.Discrepancies)),
	}
	for i, d := range res.Discrepancies {
		resp.Discrepancies[i] = DiscrepancyDTO{Item: toStockItemDTO(d.Item), LedgerTotal: d.LedgerTotal}
	}
	writeJSON(w, http.StatusOK, resp)
}

// Health reports liveness and storage reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.Ping != nil {
		if err := h.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Storage unavailable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// statusFor maps a ledger error kind to an HTTP status.
func statusFor(kind ledger.Kind) int {
	switch kind {
	case ledger.KindInvalidInput:
		return http.StatusBadRequest
	case ledger.KindNotFound:
		return http.StatusNotFound
	case ledger.KindInsufficientStock, ledger.KindAlreadyReturned:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

var errorMessages = map[ledger.Kind]string{
	ledger.KindInvalidInput:      "Invalid request",
	ledger.KindNotFound:          "Not found",
	ledger.KindInsufficientStock: "Insufficient stock",
	ledger.KindAlreadyReturned:   "Sale already returned",
}

func (h *Handler) writeLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	kind := ledger.KindOf(err)
	status := statusFor(kind)

	resp := ErrorResponse{Error: "Internal error", Code: string(kind), Details: err.Error()}
	if msg, ok := errorMessages[kind]; ok {
		resp.Error = msg
	}
	if kind == ledger.KindUnknown {
		resp.Code = string(ledger.KindStorage)
	}

	var se *ledger.InsufficientStockError
	var nf *ledger.NotFoundError
	switch {
	case errors.As(err, &se):
		resp.Product = se.Product
	case errors.As(err, &nf) && nf.Kind == "product":
		resp.Product = nf.Ref
	}

	if status >= http.StatusInternalServerError {
		h.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	writeJSON(w, status, resp)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return false
	}
	return true
}

func limitParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	s := r.URL.Query().Get("limit")
	if s == "" {
		return 0, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "Invalid limit", errors.New("limit must be a positive integer"))
		return 0, false
	}
	return n, true
}

// pathParam returns an unescaped chi URL parameter.
func pathParam(r *http.Request, name string) string {
	raw := chi.URLParam(r, name)
	if v, err := url.PathUnescape(raw); err == nil {
		return v
	}
	return raw
}
