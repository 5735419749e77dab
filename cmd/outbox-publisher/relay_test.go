package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/angelmondragon/kisaan-ledger/pkg/config"
	"github.com/angelmondragon/kisaan-ledger/pkg/db/models"
	"github.com/angelmondragon/kisaan-ledger/pkg/enums"
	"github.com/angelmondragon/kisaan-ledger/pkg/logger"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox"
	"github.com/angelmondragon/kisaan-ledger/pkg/outbox/registry"
)

type fakeDB struct{}

func (fakeDB) Ping(context.Context) error { return nil }

func (fakeDB) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error { return fn(nil) }

type fakeTopics struct{}

func (fakeTopics) Ping(context.Context) error { return nil }

func (fakeTopics) Publisher(string) *gcppubsub.Publisher { return nil }

type fakeOutbox struct {
	events    []models.OutboxEvent
	published []uuid.UUID
	failed    []uuid.UUID
	terminal  []uuid.UUID
}

func (f *fakeOutbox) FetchUnpublishedForPublish(_ *gorm.DB, limit, _ int) ([]models.OutboxEvent, error) {
	if len(f.events) > limit {
		return f.events[:limit], nil
	}
	return f.events, nil
}

func (f *fakeOutbox) MarkPublishedTx(_ *gorm.DB, id uuid.UUID) error {
	f.published = append(f.published, id)
	return nil
}

func (f *fakeOutbox) MarkFailedTx(_ *gorm.DB, id uuid.UUID, _ error) error {
	f.failed = append(f.failed, id)
	return nil
}

func (f *fakeOutbox) MarkTerminalTx(_ *gorm.DB, id uuid.UUID, _ error, _ int) error {
	f.terminal = append(f.terminal, id)
	return nil
}

type fakeDeadLetters struct {
	entries []models.OutboxDLQ
}

func (f *fakeDeadLetters) InsertTx(_ *gorm.DB, entry models.OutboxDLQ) error {
	f.entries = append(f.entries, entry)
	return nil
}

type fakeResult struct {
	err error
}

func (r fakeResult) Get(context.Context) (string, error) { return "msg-id", r.err }

type fakePublisher struct {
	results  []error
	messages []*gcppubsub.Message
}

func (p *fakePublisher) Publish(_ context.Context, msg *gcppubsub.Message) publishResult {
	p.messages = append(p.messages, msg)
	var err error
	if len(p.results) > 0 {
		err, p.results = p.results[0], p.results[1:]
	}
	return fakeResult{err: err}
}

func testRegistry(t *testing.T) *registry.EventRegistry {
	t.Helper()
	reg, err := registry.NewEventRegistry(config.PubSubConfig{LedgerTopic: "ledger"})
	require.NoError(t, err)
	return reg
}

func paymentEvent(t *testing.T, attempts int) models.OutboxEvent {
	t.Helper()
	shopID := uuid.New()
	envelope := outbox.PayloadEnvelope{
		Version:    1,
		EventID:    uuid.NewString(),
		OccurredAt: time.Now().UTC(),
		Actor:      &outbox.ActorRef{UserID: uuid.New(), ShopID: &shopID},
		Data:       json.RawMessage(`{"payment_id":"` + uuid.NewString() + `"}`),
	}
	raw, err := json.Marshal(envelope)
	require.NoError(t, err)
	return models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventPaymentRecorded,
		AggregateType: enums.AggregatePayment,
		AggregateID:   uuid.New(),
		Payload:       raw,
		AttemptCount:  attempts,
	}
}

func newTestRelay(t *testing.T, store *fakeOutbox, dlq *fakeDeadLetters, pub *fakePublisher, maxAttempts int) *Relay {
	t.Helper()
	relay, err := NewRelay(RelayParams{
		Config:           config.OutboxConfig{BatchSize: 10, MaxAttempts: maxAttempts},
		Logger:           logger.New(logger.Options{ServiceName: "outbox-test", Output: io.Discard}),
		DB:               fakeDB{},
		Topics:           fakeTopics{},
		Outbox:           store,
		DeadLetters:      dlq,
		Registry:         testRegistry(t),
		PublisherFactory: func(string) publisher { return pub },
	})
	require.NoError(t, err)
	return relay
}

func TestDrainBatchContinuesAfterTransientFailure(t *testing.T) {
	store := &fakeOutbox{events: []models.OutboxEvent{paymentEvent(t, 0), paymentEvent(t, 0)}}
	pub := &fakePublisher{results: []error{errors.New("unavailable"), nil}}
	relay := newTestRelay(t, store, &fakeDeadLetters{}, pub, 5)

	handled, err := relay.drainBatch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, handled)
	assert.Equal(t, []uuid.UUID{store.events[0].ID}, store.failed)
	assert.Equal(t, []uuid.UUID{store.events[1].ID}, store.published)

	require.Len(t, pub.messages, 2)
	attrs := pub.messages[1].Attributes
	assert.Equal(t, "payment_recorded", attrs["event_type"])
	assert.Equal(t, store.events[1].AggregateID.String(), attrs["aggregate_id"])
	assert.NotEmpty(t, attrs["shop_id"])
}

func TestDrainBatchDeadLettersUnknownPayload(t *testing.T) {
	event := paymentEvent(t, 0)
	event.Payload = json.RawMessage(`{"version":1,"eventId":"x","data":null}`)
	store := &fakeOutbox{events: []models.OutboxEvent{event}}
	dlq := &fakeDeadLetters{}
	pub := &fakePublisher{}
	relay := newTestRelay(t, store, dlq, pub, 5)

	_, err := relay.drainBatch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, pub.messages)
	require.Len(t, dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonNonRetryable, dlq.entries[0].ErrorReason)
	assert.Equal(t, []uuid.UUID{event.ID}, store.terminal)
}

func TestDrainBatchDeadLettersAtMaxAttempts(t *testing.T) {
	event := paymentEvent(t, 2)
	store := &fakeOutbox{events: []models.OutboxEvent{event}}
	dlq := &fakeDeadLetters{}
	relay := newTestRelay(t, store, dlq, &fakePublisher{results: []error{errors.New("timeout")}}, 3)

	_, err := relay.drainBatch(context.Background())
	require.NoError(t, err)
	require.Len(t, dlq.entries, 1)
	assert.Equal(t, enums.OutboxDLQReasonMaxAttempts, dlq.entries[0].ErrorReason)
	assert.Empty(t, store.failed)
	assert.Equal(t, []uuid.UUID{event.ID}, store.terminal)
}

func TestNextBackoffCaps(t *testing.T) {
	assert.Equal(t, time.Second, nextBackoff(500*time.Millisecond, time.Second))
	assert.Equal(t, maxBackoff, nextBackoff(8*time.Second, time.Second))
	assert.Equal(t, 2*time.Second, nextBackoff(0, time.Second))
}
