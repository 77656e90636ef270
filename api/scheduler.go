/*
scheduler.go - Periodic low-stock and ledger audit scanner

PURPOSE:
  Periodically lists items below the reorder level, publishes reorder
  alerts for them and checks that every item's quantity still equals the
  sum of its ledger movements.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Runs once immediately on Start
  - Alerts once per item per quantity: an item that stays low at the same
    quantity is not re-alerted on every tick; a further drop alerts again
  - Items that recover above the threshold are forgotten
  - Audit discrepancies are logged at error level, never corrected

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scanner is active (default: true)

USAGE:
  scanner := NewLowStockScanner(query)
  scanner.Events = publisher
  scanner.Start()
  // ... later
  scanner.Stop()

SEE ALSO:
  - ledger/query.go: LowStock and Audit
  - notify/rabbit.go: Reorder alert delivery
*/
package api

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/warp/pharmacy-ledger/ledger"
)

// LowStockGauge receives the size of each scan. Implemented by metrics.Metrics.
type LowStockGauge interface {
	SetLowStock(n int)
}

// ScanResult summarises one pass.
type ScanResult struct {
	LowStock      []ledger.StockItem
	Alerted       int
	Discrepancies []ledger.Discrepancy
}

// LowStockScanner handles periodic reorder alerts and audits.
type LowStockScanner struct {
	Query         *ledger.Query
	Events        ledger.EventPublisher // optional
	Gauge         LowStockGauge         // optional
	Logger        zerolog.Logger
	CheckInterval time.Duration
	Enabled       bool
	Now           func() time.Time

	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex

	alertMu sync.Mutex
	alerted map[ledger.ItemID]int64
}

// NewLowStockScanner creates a new scanner.
func NewLowStockScanner(query *ledger.Query) *LowStockScanner {
	return &LowStockScanner{
		Query:         query,
		Logger:        log.Logger.With().Str("component", "scanner").Logger(),
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		Now:           func() time.Time { return time.Now().UTC() },
		alerted:       make(map[ledger.ItemID]int64),
	}
}

// Start begins the scanner. A stopped scanner may be started again.
func (s *LowStockScanner) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Enabled || s.CheckInterval <= 0 {
		s.Logger.Info().Msg("scanner disabled, not starting")
		return
	}
	if s.ticker != nil {
		return
	}

	s.ticker = time.NewTicker(s.CheckInterval)
	s.stop = make(chan struct{})
	s.wg.Add(1)
	go s.run(s.ticker, s.stop)

	s.Logger.Info().Dur("interval", s.CheckInterval).Msg("scanner started")
}

// Stop stops the scanner and waits for an in-flight pass to finish.
func (s *LowStockScanner) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ticker != nil {
		s.ticker.Stop()
		close(s.stop)
		s.wg.Wait()
		s.ticker = nil
		s.Logger.Info().Msg("scanner stopped")
	}
}

func (s *LowStockScanner) run(ticker *time.Ticker, stop <-chan struct{}) {
	defer s.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-stop
		cancel()
	}()

	// Run immediately on start
	s.scan(ctx)

	for {
		select {
		case <-ticker.C:
			s.scan(ctx)
		case <-stop:
			return
		}
	}
}

func (s *LowStockScanner) scan(ctx context.Context) {
	if _, err := s.RunNow(ctx); err != nil && ctx.Err() == nil {
		s.Logger.Error().Err(err).Msg("scan failed")
	}
}

// RunNow performs one pass immediately.
func (s *LowStockScanner) RunNow(ctx context.Context) (ScanResult, error) {
	var res ScanResult

	low, err := s.Query.LowStock(ctx, 0)
	if err != nil {
		return res, err
	}
	res.LowStock = low
	if s.Gauge != nil {
		s.Gauge.SetLowStock(len(low))
	}

	res.Alerted = s.alert(ctx, low)

	res.Discrepancies, err = s.Query.Audit(ctx)
	if err != nil {
		return res, err
	}
	for _, d := range res.Discrepancies {
		s.Logger.Error().
			Str("item_id", string(d.Item.ID)).
			Str("product", d.Item.Name).
			Int64("quantity", d.Item.Quantity).
			Int64("ledger_total", d.LedgerTotal).
			Msg("stock quantity disagrees with ledger")
	}

	s.Logger.Debug().
		Int("low_stock", len(low)).
		Int("alerted", res.Alerted).
		Int("discrepancies", len(res.Discrepancies)).
		Msg("scan completed")
	return res, nil
}

// alert publishes reorder alerts for items not yet alerted at their
// current quantity and forgets items that are no longer low.
func (s *LowStockScanner) alert(ctx context.Context, low []ledger.StockItem) int {
	s.alertMu.Lock()
	defer s.alertMu.Unlock()

	stillLow := make(map[ledger.ItemID]bool, len(low))
	sent := 0
	for _, item := range low {
		stillLow[item.ID] = true
		if last, ok := s.alerted[item.ID]; ok && last <= item.Quantity {
			continue
		}
		if s.Events != nil {
			err := s.Events.Publish(ctx, ledger.Event{
				Type:       ledger.EventReorderAlert,
				OccurredAt: s.Now(),
				ItemID:     item.ID,
				Product:    item.Name,
				Quantity:   item.Quantity,
				Threshold:  s.Query.LowStockThreshold,
			})
			if err != nil {
				s.Logger.Warn().Err(err).Str("product", item.Name).Msg("failed to publish reorder alert")
				continue
			}
		}
		s.alerted[item.ID] = item.Quantity
		sent++
	}
	for id := range s.alerted {
		if !stillLow[id] {
			delete(s.alerted, id)
		}
	}
	return sent
}
