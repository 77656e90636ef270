// Package notify delivers ledger events to RabbitMQ.
//
// Every event is published as one JSON message to a durable queue on the
// default exchange, with the event type as the message type. Consumers
// (reorder desk, receipt printer) are outside this service.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"github.com/warp/pharmacy-ledger/ledger"
)

// channel is the part of *amqp.Channel the publisher uses.
type channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type Rabbit struct {
	conn    *amqp.Connection
	ch      channel
	queue   string
	timeout time.Duration
	logger  zerolog.Logger
}

var _ ledger.EventPublisher = (*Rabbit)(nil)

// NewRabbit dials url and declares queue.
func NewRabbit(url, queue string, logger zerolog.Logger) (*Rabbit, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare queue %s: %w", queue, err)
	}

	r := newRabbit(ch, queue, logger)
	r.conn = conn
	return r, nil
}

func newRabbit(ch channel, queue string, logger zerolog.Logger) *Rabbit {
	return &Rabbit{
		ch:      ch,
		queue:   queue,
		timeout: 5 * time.Second,
		logger:  logger.With().Str("component", "notify").Str("queue", queue).Logger(),
	}
}

// Publish implements ledger.EventPublisher.
func (r *Rabbit) Publish(ctx context.Context, ev ledger.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	err = r.ch.PublishWithContext(ctx, "", r.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Type:         string(ev.Type),
		Timestamp:    ev.OccurredAt,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Type, err)
	}
	r.logger.Debug().Str("event", string(ev.Type)).Msg("event published")
	return nil
}

func (r *Rabbit) Close() {
	if r.ch != nil {
		_ = r.ch.Close()
	}
	if r.conn != nil {
		_ = r.conn.Close()
	}
}

// =============================================================================
// LOG PUBLISHER - used when no broker is configured
// =============================================================================

// Log writes events to a logger instead of a broker.
type Log struct {
	Logger zerolog.Logger
}

func (l Log) Publish(_ context.Context, ev ledger.Event) error {
	l.Logger.Info().
		Str("event", string(ev.Type)).
		Str("sale_id", string(ev.SaleID)).
		Str("bill_no", ev.BillNo).
		Str("item_id", string(ev.ItemID)).
		Str("product", ev.Product).
		Int64("quantity", ev.Quantity).
		Msg("ledger event")
	return nil
}
