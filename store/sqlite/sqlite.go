/*
Package sqlite provides a SQLite-backed implementation of ledger.Store.

PURPOSE:
  Persists stock items and the append-only ledger (purchases, sales,
  returns, sale lines, movements) in SQLite through sqlx.

APPEND-ONLY ENFORCEMENT:
  - purchases, sales, sale_items and movements are INSERT-only
  - stock_items.quantity is the only column updated for stock changes,
    always through a guarded UPDATE (quantity + delta >= 0)
  - No DELETE statements anywhere

KEY TABLES:
  stock_items: One row per medicine, unique by normalised name
  purchases:   Stock received from suppliers
  sales:       Sale and return headers; bill_no unique, return_of unique
  sale_items:  Lines of sales and returns
  movements:   Quantity ledger, one row per delta
  sequences:   Named monotonic counters (bill numbers)

CONSTRAINTS:
  - CHECK (quantity >= 0) on stock_items backs the no-negative invariant
  - idx_sales_return_of: a sale is returned at most once
  - idx_sales_bill_no: bill numbers are unique

CONCURRENCY:
  The pool is capped at one connection, so SQLite sees one writer at a time
  and WithTx is serialised by database/sql. Iterating List holds that
  connection until the sequence is drained or abandoned.

USAGE:
  store, err := sqlite.New("./data/pharmacy.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := ledger.NewEngine(store)

SEE ALSO:
  - ledger/store.go: Interface definitions
  - ledger/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"math"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/pharmacy-ledger/ledger"
)

const (
	timeLayout = "2006-01-02T15:04:05.000000000Z07:00" // fixed width, sorts as text
	dateLayout = "2006-01-02"
)

// Store implements ledger.Store using SQLite.
type Store struct {
	conn
	db *sqlx.DB
}

var _ ledger.Store = (*Store)(nil)

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sqlx.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: ":memory:" databases are per-connection, and SQLite
	// allows a single writer anyway.
	db.SetMaxOpenConns(1)

	store := &Store{conn: conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS stock_items (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		name_key TEXT NOT NULL,
		batch TEXT NOT NULL DEFAULT '',
		expiry TEXT,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		price TEXT NOT NULL,
		rate TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_stock_items_name_key
		ON stock_items(name_key);
	CREATE INDEX IF NOT EXISTS idx_stock_items_quantity
		ON stock_items(quantity);

	-- Purchases (append-only)
	CREATE TABLE IF NOT EXISTS purchases (
		id TEXT PRIMARY KEY,
		supplier TEXT NOT NULL,
		item_id TEXT NOT NULL REFERENCES stock_items(id),
		product_name TEXT NOT NULL,
		batch TEXT NOT NULL DEFAULT '',
		expiry TEXT,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		rate TEXT NOT NULL,
		discount TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_purchases_created_at
		ON purchases(created_at DESC);

	-- Sales and returns (append-only)
	CREATE TABLE IF NOT EXISTS sales (
		id TEXT PRIMARY KEY,
		bill_no TEXT NOT NULL,
		customer_id TEXT NOT NULL,
		doctor_id TEXT NOT NULL DEFAULT '',
		discount TEXT NOT NULL,
		tax TEXT NOT NULL,
		total TEXT NOT NULL,
		is_return BOOLEAN NOT NULL DEFAULT 0,
		return_of TEXT REFERENCES sales(id),
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_sales_bill_no
		ON sales(bill_no);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_sales_return_of
		ON sales(return_of) WHERE return_of IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_sales_created_at
		ON sales(created_at DESC);

	CREATE TABLE IF NOT EXISTS sale_items (
		id TEXT PRIMARY KEY,
		sale_id TEXT NOT NULL REFERENCES sales(id),
		line_no INTEGER NOT NULL,
		item_id TEXT NOT NULL REFERENCES stock_items(id),
		product_name TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity > 0),
		unit_price TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sale_items_sale
		ON sale_items(sale_id, line_no);

	-- Quantity ledger
	CREATE TABLE IF NOT EXISTS movements (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL REFERENCES stock_items(id),
		kind TEXT NOT NULL,
		delta INTEGER NOT NULL,
		reference_id TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_movements_item
		ON movements(item_id, created_at);

	CREATE TABLE IF NOT EXISTS sequences (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`
	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx executes fn within a database transaction. The transaction is
// rolled back unless fn returns nil and the commit succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ledger.Storage("begin transaction", err)
	}
	defer tx.Rollback()

	if err := fn(conn{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Storage("commit", err)
	}
	return nil
}

// conn implements ledger.Tx over either the pool or an open transaction.
type conn struct {
	q sqlx.ExtContext
}

// =============================================================================
// STOCK REPOSITORY
// =============================================================================

const itemColumns = `id, name, batch, expiry, quantity, price, rate, created_at, updated_at`

type itemRow struct {
	ID        string          `db:"id"`
	Name      string          `db:"name"`
	Batch     string          `db:"batch"`
	Expiry    sql.NullString  `db:"expiry"`
	Quantity  int64           `db:"quantity"`
	Price     decimal.Decimal `db:"price"`
	Rate      decimal.Decimal `db:"rate"`
	CreatedAt string          `db:"created_at"`
	UpdatedAt string          `db:"updated_at"`
}

func (r itemRow) toItem() ledger.StockItem {
	return ledger.StockItem{
		ID:        ledger.ItemID(r.ID),
		Name:      r.Name,
		Batch:     r.Batch,
		Expiry:    parseDate(r.Expiry),
		Quantity:  r.Quantity,
		Price:     r.Price,
		Rate:      r.Rate,
		CreatedAt: parseTime(r.CreatedAt),
		UpdatedAt: parseTime(r.UpdatedAt),
	}
}

// Find looks an item up by ID, then by normalised name.
func (c conn) Find(ctx context.Context, ref string) (ledger.StockItem, error) {
	var row itemRow
	err := sqlx.GetContext(ctx, c.q, &row,
		`SELECT `+itemColumns+` FROM stock_items WHERE id = ? OR name_key = ?
		 ORDER BY id = ? DESC LIMIT 1`,
		ref, ledger.NameKey(ref), ref,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.StockItem{}, &ledger.NotFoundError{Kind: "product", Ref: ref}
	}
	if err != nil {
		return ledger.StockItem{}, ledger.Storage("find stock item", err)
	}
	return row.toItem(), nil
}

// Upsert inserts the item or overwrites it by ID.
func (c conn) Upsert(ctx context.Context, item ledger.StockItem) (ledger.StockItem, error) {
	key := ledger.NameKey(item.Name)
	switch {
	case item.ID == "":
		return ledger.StockItem{}, &ledger.InvalidInputError{Field: "id", Reason: "required"}
	case key == "":
		return ledger.StockItem{}, &ledger.InvalidInputError{Field: "name", Reason: "required"}
	case item.Quantity < 0:
		return ledger.StockItem{}, &ledger.InvalidInputError{Field: "quantity", Reason: "must not be negative"}
	}

	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = now
	}

	query := `
		INSERT INTO stock_items (id, name, name_key, batch, expiry, quantity, price, rate, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			name_key = excluded.name_key,
			batch = excluded.batch,
			expiry = excluded.expiry,
			quantity = excluded.quantity,
			price = excluded.price,
			rate = excluded.rate,
			updated_at = excluded.updated_at
	`
	_, err := c.q.ExecContext(ctx, query,
		item.ID,
		strings.TrimSpace(item.Name),
		key,
		item.Batch,
		formatDate(item.Expiry),
		item.Quantity,
		item.Price,
		item.Rate,
		formatTime(item.CreatedAt),
		formatTime(item.UpdatedAt),
	)
	if isUniqueConstraintError(err, "stock_items.name_key") {
		return ledger.StockItem{}, &ledger.InvalidInputError{
			Field:  "name",
			Reason: fmt.Sprintf("%q belongs to another item", item.Name),
		}
	}
	if err != nil {
		return ledger.StockItem{}, ledger.Storage("upsert stock item", err)
	}
	return c.Find(ctx, string(item.ID))
}

// AdjustQuantity applies delta with a guarded UPDATE so the check and the
// write are one statement. The upper bound keeps SQLite from promoting an
// overflowing sum to REAL.
func (c conn) AdjustQuantity(ctx context.Context, id ledger.ItemID, delta int64) (ledger.StockItem, error) {
	ceiling := int64(math.MaxInt64)
	if delta > 0 {
		ceiling -= delta
	}
	res, err := c.q.ExecContext(ctx,
		`UPDATE stock_items SET quantity = quantity + ?, updated_at = ?
		 WHERE id = ? AND quantity <= ? AND quantity + ? >= 0`,
		delta, formatTime(time.Now().UTC()), id, ceiling, delta,
	)
	if err != nil {
		return ledger.StockItem{}, ledger.Storage("adjust quantity", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return ledger.StockItem{}, ledger.Storage("adjust quantity", err)
	}

	item, err := c.Find(ctx, string(id))
	if err != nil {
		return ledger.StockItem{}, err
	}
	if n == 0 && delta > 0 {
		return ledger.StockItem{}, &ledger.InvalidInputError{
			Field:  "quantity",
			Reason: fmt.Sprintf("adding %d to %q overflows its quantity", delta, item.Name),
		}
	}
	if n == 0 {
		return ledger.StockItem{}, &ledger.InsufficientStockError{
			ItemID:    item.ID,
			Product:   item.Name,
			Available: item.Quantity,
			Requested: -delta,
		}
	}
	return item, nil
}

// List streams items ordered by name.
func (c conn) List(ctx context.Context, filter ledger.StockFilter) iter.Seq2[ledger.StockItem, error] {
	return func(yield func(ledger.StockItem, error) bool) {
		query := `SELECT ` + itemColumns + ` FROM stock_items`
		var args []any
		if filter.Below != nil {
			query += ` WHERE quantity < ?`
			args = append(args, *filter.Below)
		}
		query += ` ORDER BY name_key`

		rows, err := c.q.QueryxContext(ctx, query, args...)
		if err != nil {
			yield(ledger.StockItem{}, ledger.Storage("list stock items", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var row itemRow
			if err := rows.StructScan(&row); err != nil {
				yield(ledger.StockItem{}, ledger.Storage("scan stock item", err))
				return
			}
			if !yield(row.toItem(), nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(ledger.StockItem{}, ledger.Storage("list stock items", err))
		}
	}
}

// =============================================================================
// LEDGER ENTRY WRITER
// =============================================================================

func (c conn) RecordPurchase(ctx context.Context, rec ledger.PurchaseRecord) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO purchases
		(id, supplier, item_id, product_name, batch, expiry, quantity, rate, discount, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Supplier, rec.ItemID, rec.ProductName, rec.Batch,
		formatDate(rec.Expiry), rec.Quantity, rec.Rate, rec.Discount,
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return ledger.Storage("record purchase", err)
	}
	return c.insertMovement(ctx, ledger.Movement{
		ID:          ledger.MovementID("mv-" + string(rec.ID)),
		ItemID:      rec.ItemID,
		Kind:        ledger.MovePurchase,
		Delta:       rec.Quantity,
		ReferenceID: string(rec.ID),
		CreatedAt:   rec.CreatedAt,
	})
}

func (c conn) RecordSale(ctx context.Context, sale ledger.SaleTransaction) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO sales
		(id, bill_no, customer_id, doctor_id, discount, tax, total, is_return, return_of, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sale.ID, sale.BillNo, sale.CustomerID, sale.DoctorID,
		sale.Discount, sale.Tax, sale.Total, sale.IsReturn,
		nullString(string(sale.ReturnOf)), formatTime(sale.CreatedAt),
	)
	if isUniqueConstraintError(err, "sales.return_of") {
		return &ledger.AlreadyReturnedError{SaleID: sale.ReturnOf}
	}
	if err != nil {
		return ledger.Storage("record sale", err)
	}
	return nil
}

func (c conn) RecordSaleItems(ctx context.Context, saleID ledger.SaleID, items []ledger.SaleLineItem) error {
	return c.insertLines(ctx, saleID, items, ledger.MoveSale, -1)
}

func (c conn) RecordReturnItems(ctx context.Context, returnID ledger.SaleID, items []ledger.SaleLineItem) error {
	return c.insertLines(ctx, returnID, items, ledger.MoveReturn, 1)
}

func (c conn) RecordStockEntry(ctx context.Context, mv ledger.Movement) error {
	return c.insertMovement(ctx, mv)
}

// NextBillSequence increments and returns the "bill" counter.
func (c conn) NextBillSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := c.q.QueryRowxContext(ctx, `
		INSERT INTO sequences (name, value) VALUES ('bill', 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
		RETURNING value`,
	).Scan(&seq)
	if err != nil {
		return 0, ledger.Storage("next bill sequence", err)
	}
	return seq, nil
}

func (c conn) insertLines(ctx context.Context, saleID ledger.SaleID, items []ledger.SaleLineItem, kind ledger.MovementKind, sign int64) error {
	var createdAt string
	err := sqlx.GetContext(ctx, c.q, &createdAt, `SELECT created_at FROM sales WHERE id = ?`, saleID)
	if errors.Is(err, sql.ErrNoRows) {
		return &ledger.NotFoundError{Kind: "sale", Ref: string(saleID)}
	}
	if err != nil {
		return ledger.Storage("record sale items", err)
	}

	for i, l := range items {
		_, err := c.q.ExecContext(ctx, `
			INSERT INTO sale_items (id, sale_id, line_no, item_id, product_name, quantity, unit_price)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			l.ID, saleID, i+1, l.ItemID, l.ProductName, l.Quantity, l.UnitPrice,
		)
		if err != nil {
			return ledger.Storage("record sale items", err)
		}
		if err := c.insertMovement(ctx, ledger.Movement{
			ID:          ledger.MovementID("mv-" + string(l.ID)),
			ItemID:      l.ItemID,
			Kind:        kind,
			Delta:       sign * l.Quantity,
			ReferenceID: string(saleID),
			CreatedAt:   parseTime(createdAt),
		}); err != nil {
			return err
		}
	}
	return nil
}

func (c conn) insertMovement(ctx context.Context, mv ledger.Movement) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO movements (id, item_id, kind, delta, reference_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		mv.ID, mv.ItemID, mv.Kind, mv.Delta, mv.ReferenceID, formatTime(mv.CreatedAt),
	)
	if err != nil {
		return ledger.Storage("record movement", err)
	}
	return nil
}

// =============================================================================
// LEDGER READER
// =============================================================================

const saleColumns = `id, bill_no, customer_id, doctor_id, discount, tax, total, is_return, return_of, created_at`

type saleRow struct {
	ID         string          `db:"id"`
	BillNo     string          `db:"bill_no"`
	CustomerID string          `db:"customer_id"`
	DoctorID   string          `db:"doctor_id"`
	Discount   decimal.Decimal `db:"discount"`
	Tax        decimal.Decimal `db:"tax"`
	Total      decimal.Decimal `db:"total"`
	IsReturn   bool            `db:"is_return"`
	ReturnOf   sql.NullString  `db:"return_of"`
	CreatedAt  string          `db:"created_at"`
}

type lineRow struct {
	ID          string          `db:"id"`
	SaleID      string          `db:"sale_id"`
	ItemID      string          `db:"item_id"`
	ProductName string          `db:"product_name"`
	Quantity    int64           `db:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price"`
}

func (c conn) GetSale(ctx context.Context, id ledger.SaleID) (ledger.SaleTransaction, error) {
	var row saleRow
	err := sqlx.GetContext(ctx, c.q, &row, `SELECT `+saleColumns+` FROM sales WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.SaleTransaction{}, &ledger.NotFoundError{Kind: "sale", Ref: string(id)}
	}
	if err != nil {
		return ledger.SaleTransaction{}, ledger.Storage("get sale", err)
	}
	return c.withLines(ctx, row)
}

func (c conn) FindReturn(ctx context.Context, saleID ledger.SaleID) (ledger.SaleTransaction, bool, error) {
	var row saleRow
	err := sqlx.GetContext(ctx, c.q, &row, `SELECT `+saleColumns+` FROM sales WHERE return_of = ?`, saleID)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.SaleTransaction{}, false, nil
	}
	if err != nil {
		return ledger.SaleTransaction{}, false, ledger.Storage("find return", err)
	}
	ret, err := c.withLines(ctx, row)
	return ret, err == nil, err
}

func (c conn) RecentSales(ctx context.Context, limit int) ([]ledger.SaleTransaction, error) {
	var rows []saleRow
	err := sqlx.SelectContext(ctx, c.q, &rows,
		`SELECT `+saleColumns+` FROM sales ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, ledger.Storage("recent sales", err)
	}
	out := make([]ledger.SaleTransaction, 0, len(rows))
	for _, row := range rows {
		sale, err := c.withLines(ctx, row)
		if err != nil {
			return nil, err
		}
		out = append(out, sale)
	}
	return out, nil
}

func (c conn) withLines(ctx context.Context, row saleRow) (ledger.SaleTransaction, error) {
	var lines []lineRow
	err := sqlx.SelectContext(ctx, c.q, &lines,
		`SELECT id, sale_id, item_id, product_name, quantity, unit_price
		 FROM sale_items WHERE sale_id = ? ORDER BY line_no`, row.ID)
	if err != nil {
		return ledger.SaleTransaction{}, ledger.Storage("get sale items", err)
	}

	sale := ledger.SaleTransaction{
		ID:         ledger.SaleID(row.ID),
		BillNo:     row.BillNo,
		CustomerID: row.CustomerID,
		DoctorID:   row.DoctorID,
		Discount:   row.Discount,
		Tax:        row.Tax,
		Total:      row.Total,
		IsReturn:   row.IsReturn,
		ReturnOf:   ledger.SaleID(row.ReturnOf.String),
		CreatedAt:  parseTime(row.CreatedAt),
		Lines:      make([]ledger.SaleLineItem, len(lines)),
	}
	for i, l := range lines {
		sale.Lines[i] = ledger.SaleLineItem{
			ID:          ledger.LineID(l.ID),
			SaleID:      ledger.SaleID(l.SaleID),
			ItemID:      ledger.ItemID(l.ItemID),
			ProductName: l.ProductName,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
		}
	}
	return sale, nil
}

type purchaseRow struct {
	ID          string          `db:"id"`
	Supplier    string          `db:"supplier"`
	ItemID      string          `db:"item_id"`
	ProductName string          `db:"product_name"`
	Batch       string          `db:"batch"`
	Expiry      sql.NullString  `db:"expiry"`
	Quantity    int64           `db:"quantity"`
	Rate        decimal.Decimal `db:"rate"`
	Discount    decimal.Decimal `db:"discount"`
	CreatedAt   string          `db:"created_at"`
}

func (c conn) RecentPurchases(ctx context.Context, limit int) ([]ledger.PurchaseRecord, error) {
	var rows []purchaseRow
	err := sqlx.SelectContext(ctx, c.q, &rows, `
		SELECT id, supplier, item_id, product_name, batch, expiry, quantity, rate, discount, created_at
		FROM purchases ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, ledger.Storage("recent purchases", err)
	}
	out := make([]ledger.PurchaseRecord, len(rows))
	for i, r := range rows {
		out[i] = ledger.PurchaseRecord{
			ID:          ledger.PurchaseID(r.ID),
			Supplier:    r.Supplier,
			ItemID:      ledger.ItemID(r.ItemID),
			ProductName: r.ProductName,
			Batch:       r.Batch,
			Expiry:      parseDate(r.Expiry),
			Quantity:    r.Quantity,
			Rate:        r.Rate,
			Discount:    r.Discount,
			CreatedAt:   parseTime(r.CreatedAt),
		}
	}
	return out, nil
}

type movementRow struct {
	ID          string `db:"id"`
	ItemID      string `db:"item_id"`
	Kind        string `db:"kind"`
	Delta       int64  `db:"delta"`
	ReferenceID string `db:"reference_id"`
	CreatedAt   string `db:"created_at"`
}

func (c conn) Movements(ctx context.Context, id ledger.ItemID) ([]ledger.Movement, error) {
	var rows []movementRow
	err := sqlx.SelectContext(ctx, c.q, &rows, `
		SELECT id, item_id, kind, delta, reference_id, created_at
		FROM movements WHERE item_id = ? ORDER BY created_at, rowid`, id)
	if err != nil {
		return nil, ledger.Storage("movements", err)
	}
	out := make([]ledger.Movement, len(rows))
	for i, r := range rows {
		out[i] = ledger.Movement{
			ID:          ledger.MovementID(r.ID),
			ItemID:      ledger.ItemID(r.ItemID),
			Kind:        ledger.MovementKind(r.Kind),
			Delta:       r.Delta,
			ReferenceID: r.ReferenceID,
			CreatedAt:   parseTime(r.CreatedAt),
		}
	}
	return out, nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(timeLayout, s)
	return t
}

func formatDate(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(dateLayout), Valid: true}
}

func parseDate(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t, err := time.Parse(dateLayout, s.String)
	if err != nil {
		return nil
	}
	return &t
}

// isUniqueConstraintError reports a UNIQUE violation on the given
// table.column.
func isUniqueConstraintError(err error, column string) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) || se.ExtendedCode != sqlite3.ErrConstraintUnique {
		return false
	}
	return strings.Contains(se.Error(), column)
}
