package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"

	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
	"github.com/angelmondragon/kisaan-ledger/pkg/logger"
	"github.com/angelmondragon/kisaan-ledger/pkg/metrics"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox/registry"
)

const consumerName = "ledger-auditor"

// Delivery is a ledger event as received from the topic.
type Delivery struct {
	MessageID string
	EventID   uuid.UUID
	EventType enums.OutboxEventType
	Data      []byte
}

// Handler processes one delivery.
type Handler interface {
	Handle(ctx context.Context, delivery Delivery) error
}

type idempotencyChecker interface {
	CheckAndMarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	Delete(ctx context.Context, consumer string, eventID uuid.UUID) error
}

type receiver interface {
	Receive(ctx context.Context, f func(context.Context, *gcppubsub.Message)) error
}

// Consumer pulls ledger events and hands each one to the handler at most
// once per idempotency window.
type Consumer struct {
	subscription receiver
	handler      Handler
	manager      idempotencyChecker
	metrics      *metrics.AuditMetrics
	logg         *logger.Logger
}

func NewConsumer(subscription receiver, handler Handler, manager idempotencyChecker, m *metrics.AuditMetrics, logg *logger.Logger) (*Consumer, error) {
	if subscription == nil {
		return nil, errors.New("ledger subscription is required")
	}
	if handler == nil {
		return nil, errors.New("audit handler is required")
	}
	if manager == nil {
		return nil, errors.New("idempotency manager is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	return &Consumer{
		subscription: subscription,
		handler:      handler,
		manager:      manager,
		metrics:      m,
		logg:         logg,
	}, nil
}

// Run receives until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context) error {
	return c.subscription.Receive(ctx, func(innerCtx context.Context, msg *gcppubsub.Message) {
		if c.process(innerCtx, msg.ID, msg.Data, msg.Attributes) {
			msg.Ack()
			return
		}
		msg.Nack()
	})
}

// process returns true when the message should be acked.
func (c *Consumer) process(ctx context.Context, messageID string, data []byte, attrs map[string]string) bool {
	logCtx := c.logg.WithField(ctx, "message_id", messageID)

	delivery, err := buildDelivery(messageID, data, attrs)
	if err != nil {
		c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "audit.invalid_message")
		c.metrics.IncEvent(attrs["event_type"], "invalid")
		return true
	}
	logCtx = c.logg.WithFields(logCtx, map[string]any{
		"event_id":   delivery.EventID.String(),
		"event_type": string(delivery.EventType),
	})

	already, err := c.manager.CheckAndMarkProcessed(logCtx, consumerName, delivery.EventID)
	if err != nil {
		c.logg.Error(logCtx, "audit.idempotency_check_failed", err)
		return false
	}
	if already {
		c.logg.Info(logCtx, "audit.duplicate_event")
		c.metrics.IncEvent(string(delivery.EventType), "duplicate")
		return true
	}

	if err := c.handler.Handle(logCtx, delivery); err != nil {
		var nonRetryable registry.NonRetryableError
		if errors.As(err, &nonRetryable) {
			c.logg.Warn(c.logg.WithField(logCtx, "error", err.Error()), "audit.event_dropped")
			c.metrics.IncEvent(string(delivery.EventType), "dropped")
			return true
		}
		c.logg.Error(logCtx, "audit.handle_failed", err)
		c.metrics.IncEvent(string(delivery.EventType), "failed")
		if delErr := c.manager.Delete(logCtx, consumerName, delivery.EventID); delErr != nil {
			c.logg.Error(logCtx, "audit.idempotency_release_failed", delErr)
		}
		return false
	}

	c.metrics.IncEvent(string(delivery.EventType), "audited")
	c.logg.Info(logCtx, "audit.event_handled")
	return true
}

func buildDelivery(messageID string, data []byte, attrs map[string]string) (Delivery, error) {
	eventType, err := enums.ParseOutboxEventType(strings.TrimSpace(attrs["event_type"]))
	if err != nil {
		return Delivery{}, fmt.Errorf("event_type: %w", err)
	}

	rawID := strings.TrimSpace(attrs["event_id"])
	if rawID == "" {
		var envelope outbox.PayloadEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			return Delivery{}, fmt.Errorf("decode envelope: %w", err)
		}
		rawID = strings.TrimSpace(envelope.EventID)
	}
	eventID, err := uuid.Parse(rawID)
	if err != nil {
		return Delivery{}, fmt.Errorf("event_id: %w", err)
	}

	return Delivery{
		MessageID: messageID,
		EventID:   eventID,
		EventType: eventType,
		Data:      data,
	}, nil
}
