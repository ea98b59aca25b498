// Package events publishes checkout lifecycle events for downstream
// consumers (fulfilment, notifications, analytics).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dmaretti/storefront/config"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
)

type Type string

const (
	TypeOrderCompleted Type = "checkout.order_completed"
	TypePaymentFailed  Type = "checkout.payment_failed"
	TypeCancelled      Type = "checkout.cancelled"
)

type Event struct {
	ID        string          `json:"id"`
	Type      Type            `json:"type"`
	UserID    string          `json:"user_id"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publisher is the sink for lifecycle events. The checkout flow treats
// publishing as fire-and-forget: a broker outage never fails a checkout.
type Publisher interface {
	Publish(ctx context.Context, typ Type, userID string, payload any) error
}

type KafkaPublisher struct {
	writer *kafka.Writer
	log    logrus.FieldLogger
}

func NewKafkaPublisher(cfg config.Kafka, log logrus.FieldLogger) *KafkaPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.CheckoutTopic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: 10 * time.Second,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaPublisher{writer: writer, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, typ Type, userID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding event payload: %w", err)
	}

	evt := Event{
		ID:        uuid.NewString(),
		Type:      typ,
		UserID:    userID,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}

	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(userID),
		Value: value,
	}

	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("writing event[%s]: %w", typ, err)
	}

	p.log.WithFields(logrus.Fields{
		"event_id": evt.ID,
		"type":     typ,
	}).Debug("published checkout event")

	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}
