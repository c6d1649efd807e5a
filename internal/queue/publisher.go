package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/travel-booking/internal/audit"
	"github.com/iliyamo/travel-booking/internal/booking"
	"github.com/iliyamo/travel-booking/internal/logger"
)

// Publisher sends JSON messages to durable RabbitMQ queues. It dials per
// publish, which keeps it free of reconnect state at the cost of a
// connection per message; traffic here is a handful of events per booking.
type Publisher struct {
	url string
	log *logger.Logger
}

func NewPublisher(url string, lg *logger.Logger) *Publisher {
	if lg == nil {
		lg = logger.Discard()
	}
	return &Publisher{url: url, log: lg}
}

var (
	_ booking.RefundNotifier = (*Publisher)(nil)
	_ audit.Stream           = (*Publisher)(nil)
)

// RefundRequested publishes to booking.refund_requested.
func (p *Publisher) RefundRequested(ctx context.Context, r booking.RefundRequest) error {
	return p.Publish(ctx, RefundQueueName, r.BookingID, newRefundEvent(r))
}

// PublishAudit publishes to audit.events.
func (p *Publisher) PublishAudit(ctx context.Context, e audit.Entry) error {
	return p.Publish(ctx, AuditQueueName, fmt.Sprintf("audit-%d", e.Seq), newAuditEvent(e))
}

// Publish declares queue (durable, idempotent) and publishes v as a
// persistent message.
func (p *Publisher) Publish(ctx context.Context, queue, messageID string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	cfg := amqp.Config{Dial: amqp.DefaultDial(5 * time.Second)}
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			cfg.Dial = amqp.DefaultDial(d)
		}
	}
	conn, err := amqp.DialConfig(p.url, cfg)
	if err != nil {
		p.log.Warn("rabbitmq dial failed", "queue", queue, "err", err)
		return fmt.Errorf("dial broker: %w", err)
	}
	defer func() { _ = conn.Close() }()

	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}

	pub := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    messageID,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := ch.PublishWithContext(ctx, "", queue, false, false, pub); err != nil {
		p.log.Warn("rabbitmq publish failed", "queue", queue, "err", err)
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}
