package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/iliyamo/travel-booking/internal/audit"
	"github.com/iliyamo/travel-booking/internal/logger"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaAuditSink streams audit entries to a Kafka topic, keyed by target so
// every entry about one booking lands on the same partition.
type KafkaAuditSink struct {
	writer messageWriter
}

var _ audit.Stream = (*KafkaAuditSink)(nil)

func NewKafkaAuditSink(brokers []string, topic string, lg *logger.Logger) (*KafkaAuditSink, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("at least one broker is required")
	}
	if topic == "" {
		topic = AuditTopicName
	}
	if lg == nil {
		lg = logger.Discard()
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  3,
		BatchTimeout: 50 * time.Millisecond,
		Logger:       kafka.LoggerFunc(func(string, ...any) {}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...any) {
			lg.Warn(fmt.Sprintf("kafka: "+msg, args...))
		}),
	}
	return &KafkaAuditSink{writer: w}, nil
}

func (k *KafkaAuditSink) PublishAudit(ctx context.Context, e audit.Entry) error {
	body, err := json.Marshal(newAuditEvent(e))
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	key := e.Target
	if key == "" {
		key = e.Actor
	}
	msg := kafka.Message{
		Key:   []byte(key),
		Value: body,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "action", Value: []byte(e.Action)},
			{Key: "seq", Value: []byte(strconv.FormatUint(e.Seq, 10))},
		},
	}
	return k.writer.WriteMessages(ctx, msg)
}

func (k *KafkaAuditSink) Close() error { return k.writer.Close() }
