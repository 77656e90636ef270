/*
Package catalog converts catalog files into stock entries.

PURPOSE:
  Loads an opening stock list (or a physical count) from JSON or CSV and
  applies it through the engine's StockEntry operation, so every unit that
  enters the system has a matching ledger movement.

JSON SCHEMA:
  {
    "items": [
      {
        "name": "Paracetamol 500mg",
        "quantity": 120,
        "price": "2.50",
        "rate": "1.10",
        "batch": "PCM-2291",
        "expiry": "2027-03-31"
      }
    ]
  }

  A bare top-level array of items is accepted too. Money may be a JSON
  string or number.

CSV SCHEMA:
  name,quantity,price,rate,batch,expiry
  Paracetamol 500mg,120,2.50,1.10,PCM-2291,2027-03-31

  The header row is required; columns may appear in any order. Only name,
  quantity and price are mandatory.

USAGE:
  entries, err := catalog.ParseFile("catalog.csv")
  if err != nil {
      return err
  }
  n, err := catalog.Load(ctx, engine, entries)

SEE ALSO:
  - ledger/engine.go: StockEntry
*/
package catalog

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/pharmacy-ledger/ledger"
)

const dateLayout = "2006-01-02"

// =============================================================================
// SCHEMA TYPES
// =============================================================================

// ItemJSON is the JSON representation of one catalog row.
type ItemJSON struct {
	Name     string           `json:"name"`
	Quantity int64            `json:"quantity"`
	Price    decimal.Decimal  `json:"price"`
	Rate     *decimal.Decimal `json:"rate,omitempty"`
	Batch    string           `json:"batch,omitempty"`
	Expiry   string           `json:"expiry,omitempty"` // YYYY-MM-DD
}

type FileJSON struct {
	Items []ItemJSON `json:"items"`
}

// Format of a catalog file.
type Format string

const (
	FormatJSON Format = "json"
	FormatCSV  Format = "csv"
)

// RowError reports which catalog row failed to parse. Row is 1-based and
// counts data rows only.
type RowError struct {
	Row int
	Err error
}

func (e *RowError) Error() string { return fmt.Sprintf("catalog row %d: %v", e.Row, e.Err) }
func (e *RowError) Unwrap() error { return e.Err }

// =============================================================================
// PARSING
// =============================================================================

// ParseFile reads path and picks the format from its extension.
func ParseFile(path string) ([]ledger.StockEntryRequest, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	defer f.Close()

	format := FormatJSON
	if strings.EqualFold(filepath.Ext(path), ".csv") {
		format = FormatCSV
	}
	return Parse(f, format)
}

// Parse decodes a catalog in the given format.
func Parse(r io.Reader, format Format) ([]ledger.StockEntryRequest, error) {
	var (
		items []ItemJSON
		err   error
	)
	switch format {
	case FormatJSON:
		items, err = decodeJSON(r)
	case FormatCSV:
		items, err = decodeCSV(r)
	default:
		return nil, fmt.Errorf("unknown catalog format %q", format)
	}
	if err != nil {
		return nil, err
	}

	out := make([]ledger.StockEntryRequest, 0, len(items))
	for i, it := range items {
		req, err := it.toRequest()
		if err != nil {
			return nil, &RowError{Row: i + 1, Err: err}
		}
		out = append(out, req)
	}
	return out, nil
}

func decodeJSON(r io.Reader) ([]ItemJSON, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	data = bytes.TrimSpace(data)

	if len(data) > 0 && data[0] == '[' {
		var items []ItemJSON
		if err := json.Unmarshal(data, &items); err != nil {
			return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
		}
		return items, nil
	}

	var file FileJSON
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse catalog JSON: %w", err)
	}
	return file.Items, nil
}

func decodeCSV(r io.Reader) ([]ItemJSON, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, required := range []string{"name", "quantity", "price"} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("catalog header is missing %q", required)
		}
	}

	var items []ItemJSON
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return items, nil
		}
		if err != nil {
			return nil, &RowError{Row: row, Err: err}
		}
		field := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		it := ItemJSON{
			Name:   field("name"),
			Batch:  field("batch"),
			Expiry: field("expiry"),
		}
		if it.Quantity, err = strconv.ParseInt(field("quantity"), 10, 64); err != nil {
			return nil, &RowError{Row: row, Err: fmt.Errorf("quantity: %w", err)}
		}
		if it.Price, err = decimal.NewFromString(field("price")); err != nil {
			return nil, &RowError{Row: row, Err: fmt.Errorf("price: %w", err)}
		}
		if s := field("rate"); s != "" {
			rate, err := decimal.NewFromString(s)
			if err != nil {
				return nil, &RowError{Row: row, Err: fmt.Errorf("rate: %w", err)}
			}
			it.Rate = &rate
		}
		items = append(items, it)
	}
}

func (it ItemJSON) toRequest() (ledger.StockEntryRequest, error) {
	req := ledger.StockEntryRequest{
		Product:  strings.TrimSpace(it.Name),
		Quantity: it.Quantity,
		Price:    it.Price,
		Rate:     it.Rate,
		Batch:    strings.TrimSpace(it.Batch),
	}
	if req.Product == "" {
		return ledger.StockEntryRequest{}, errors.New("name is required")
	}
	if it.Expiry != "" {
		t, err := time.Parse(dateLayout, it.Expiry)
		if err != nil {
			return ledger.StockEntryRequest{}, fmt.Errorf("expiry: %w", err)
		}
		req.Expiry = &t
	}
	return req, nil
}

// =============================================================================
// LOADING
// =============================================================================

// StockEntrant is the engine operation Load drives.
type StockEntrant interface {
	StockEntry(ctx context.Context, req ledger.StockEntryRequest) (ledger.StockItem, error)
}

// Load applies every entry in order and stops at the first failure. It
// returns how many entries were applied.
func Load(ctx context.Context, e StockEntrant, entries []ledger.StockEntryRequest) (int, error) {
	for i, req := range entries {
		if _, err := e.StockEntry(ctx, req); err != nil {
			return i, &RowError{Row: i + 1, Err: err}
		}
	}
	return len(entries), nil
}
