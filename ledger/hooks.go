package ledger

import (
	"context"
	"time"
)

// =============================================================================
// COLLABORATOR HOOKS - all optional, nil means "not wired"
// =============================================================================

// Directory resolves customer and doctor references. The engine only asks
// whether they exist; identity management lives elsewhere.
type Directory interface {
	CustomerExists(ctx context.Context, id string) (bool, error)
	DoctorExists(ctx context.Context, id string) (bool, error)
}

// Outcome of one engine operation.
type Outcome string

const (
	OutcomeCommitted Outcome = "committed"
	OutcomeAborted   Outcome = "aborted"
)

// Recorder observes finished operations. Implemented by package metrics.
type Recorder interface {
	ObserveOperation(op string, outcome Outcome, kind Kind, elapsed time.Duration)
}

// =============================================================================
// EVENTS - published after commit
// =============================================================================

type EventType string

const (
	EventPurchaseRecorded EventType = "purchase.recorded"
	EventSaleCommitted    EventType = "sale.committed"
	EventSaleReturned     EventType = "sale.returned"
	EventStockLow         EventType = "stock.low"
	EventReorderAlert     EventType = "stock.reorder"
)

type Event struct {
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	SaleID     SaleID    `json:"sale_id,omitempty"`
	BillNo     string    `json:"bill_no,omitempty"`
	PurchaseID string    `json:"purchase_id,omitempty"`
	ItemID     ItemID    `json:"item_id,omitempty"`
	Product    string    `json:"product,omitempty"`
	Quantity   int64     `json:"quantity,omitempty"`
	Threshold  int64     `json:"threshold,omitempty"`
	Total      string    `json:"total,omitempty"`
}

// EventPublisher delivers events to interested parties (reorder desk,
// receipt printer). Publishing never affects a committed operation.
type EventPublisher interface {
	Publish(ctx context.Context, ev Event) error
}
