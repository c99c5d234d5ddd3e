// Package event publishes promo code lifecycle events to Kafka.
package event

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/promo-engine/internal/domain/promo"
	"github.com/xenking/promo-engine/internal/promojson"
)

var _ promo.Publisher = (*Publisher)(nil)

// Config holds the Kafka producer settings.
type Config struct {
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic" default:"promo-events"`
	BatchTimeout time.Duration `yaml:"batch_timeout" default:"10ms"`
}

type writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes one message per event, keyed by policy id so that the
// events of a policy stay ordered within a partition.
type Publisher struct {
	w       writer
	topic   string
	brokers []string
}

// NewPublisher creates a Kafka-backed Publisher.
func NewPublisher(cfg Config) *Publisher {
	return &Publisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.Hash{},
			BatchTimeout: cfg.BatchTimeout,
			RequiredAcks: kafka.RequireAll,
		},
		topic:   cfg.Topic,
		brokers: cfg.Brokers,
	}
}

// Publish implements promo.Publisher.
func (p *Publisher) Publish(ctx context.Context, e promo.Event) error {
	var key string
	if e.Policy != nil {
		key = e.Policy.ID
	}
	msg := kafka.Message{
		Topic: p.topic,
		Key:   []byte(key),
		Value: promojson.MarshalEvent(e),
		Time:  e.At,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	}
	if err := p.w.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", e.Type, p.topic, err)
	}
	zctx.From(ctx).Debug("Event published",
		zap.String("type", string(e.Type)),
		zap.String("promo_id", key),
	)
	return nil
}

// Ping dials the brokers and succeeds once one of them answers.
func (p *Publisher) Ping(ctx context.Context) error {
	if len(p.brokers) == 0 {
		return errors.New("no kafka brokers configured")
	}
	var lastErr error
	for _, addr := range p.brokers {
		conn, err := kafka.DialContext(ctx, "tcp", addr)
		if err != nil {
			lastErr = err
			continue
		}
		_, err = conn.Brokers()
		_ = conn.Close()
		if err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return errors.Wrap(lastErr, "all kafka brokers unreachable")
}

// Close flushes pending messages.
func (p *Publisher) Close() error {
	return p.w.Close()
}
