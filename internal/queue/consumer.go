package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/iliyamo/travel-booking/internal/booking"
	"github.com/iliyamo/travel-booking/internal/logger"
	"github.com/iliyamo/travel-booking/internal/model"
	"github.com/iliyamo/travel-booking/internal/payment"
)

// RefundCompleter closes a refund obligation once money has been returned.
type RefundCompleter interface {
	MarkRefunded(ctx context.Context, id string) (*model.Booking, error)
}

// RefundWorker handles one booking.refund_requested message: ask the
// provider for the refund, then mark the booking refunded.
type RefundWorker struct {
	Refunder payment.Refunder
	Bookings RefundCompleter
	Timeout  time.Duration
	Log      *logger.Logger
}

func (w *RefundWorker) Handle(ctx context.Context, body []byte) error {
	var ev RefundRequestedEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.BookingID == "" {
		return errors.New("refund event without booking_id")
	}

	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rctx, cancel := context.WithTimeout(ctx, timeout)
	err := w.Refunder.Refund(rctx, booking.RefundRequest{
		BookingID:     ev.BookingID,
		OwnerID:       ev.OwnerID,
		PaymentStatus: model.PaymentStatus(ev.PaymentStatus),
		AmountCents:   ev.AmountCents,
		Currency:      ev.Currency,
		RequestedBy:   ev.RequestedBy,
		RequestedAt:   ev.RequestedAt,
	})
	cancel()
	if err != nil {
		return fmt.Errorf("refund %s: %w", ev.BookingID, err)
	}

	mctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if _, err := w.Bookings.MarkRefunded(mctx, ev.BookingID); err != nil {
		return fmt.Errorf("mark refunded %s: %w", ev.BookingID, err)
	}
	if w.Log != nil {
		w.Log.Info("refund completed", "booking_id", ev.BookingID, "amount_cents", ev.AmountCents)
	}
	return nil
}

// StartRefundConsumer consumes booking.refund_requested until ctx is done,
// reconnecting with backoff when the broker goes away. A message that fails
// is nacked without requeue and logged; nothing is rolled back.
func StartRefundConsumer(ctx context.Context, url string, w *RefundWorker, lg *logger.Logger) error {
	if lg == nil {
		lg = logger.Discard()
	}
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(url)
		if err != nil {
			lg.Warn("refund-consumer: dial failed", "err", err, "retry_in", backoff.String())
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = consumeLoop(ctx, conn, w, lg)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lg.Warn("refund-consumer: consume loop ended, reconnecting", "err", err)
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func consumeLoop(ctx context.Context, conn *amqp.Connection, w *RefundWorker, lg *logger.Logger) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(10, 0, false); err != nil {
		lg.Warn("refund-consumer: set QoS failed", "err", err)
	}
	if _, err := ch.QueueDeclare(RefundQueueName, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(RefundQueueName, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := w.Handle(ctx, d.Body); err != nil {
				lg.Error("refund-consumer: handle message failed", "err", err, "message_id", d.MessageId)
				_ = d.Nack(false, false)
				continue
			}
			_ = d.Ack(false)
		}
	}
}
