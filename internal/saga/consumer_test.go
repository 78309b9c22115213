package saga

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/pkg/kafka"
	"github.com/prohmpiriya/ticket-rush/pkg/retry"
)

type fakeSource struct {
	mu        sync.Mutex
	batches   [][]*kafka.Record
	committed []*kafka.Record
	rewound   []*kafka.Record
	commitErr error
}

func (s *fakeSource) Poll(ctx context.Context) ([]*kafka.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.batches) == 0 {
		return nil, kafka.ErrConsumerClosed
	}
	next := s.batches[0]
	s.batches = s.batches[1:]
	return next, nil
}

func (s *fakeSource) CommitRecords(ctx context.Context, records []*kafka.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.commitErr != nil {
		return s.commitErr
	}
	s.committed = append(s.committed, records...)
	return nil
}

// Rewind redelivers the given records ahead of anything still queued
func (s *fakeSource) Rewind(records []*kafka.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rewound = append(s.rewound, records...)
	s.batches = append([][]*kafka.Record{records}, s.batches...)
}

func (s *fakeSource) GroupID() string { return "test-group" }
func (s *fakeSource) Close()          {}

func (s *fakeSource) committedOffsets() map[int64]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[int64]bool{}
	for _, r := range s.committed {
		out[r.Offset] = true
	}
	return out
}

type fakeDLQ struct {
	mu     sync.Mutex
	parked []*retry.DLQMessage
	err    error
}

func (d *fakeDLQ) PublishToDLQ(ctx context.Context, msg *retry.DLQMessage) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.parked = append(d.parked, msg)
	return nil
}

func (d *fakeDLQ) GetDLQTopic(originalTopic string) string { return originalTopic + ".dlq" }

func newDLQHandler(publisher retry.DLQPublisher) *retry.DLQHandler {
	return retry.NewDLQHandler(publisher, &retry.DLQHandlerConfig{
		RetryConfig: &retry.Config{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond},
		Source:      "test",
	})
}

func failureRecord(t *testing.T, offset int64, reservationID string) *kafka.Record {
	t.Helper()
	event := domain.NewPaymentFailureEvent(&domain.SettlementContext{
		PaymentID:     "pay-" + reservationID,
		UserID:        "user-1",
		ReservationID: reservationID,
		SeatID:        "seat-1",
		SaleID:        "sale-1",
		Amount:        50000,
	}, domain.FailureInsufficientBalance, domain.ErrInsufficientBalance)
	value, err := json.Marshal(event)
	require.NoError(t, err)
	return &kafka.Record{
		Topic:     "payment.failure",
		Partition: 0,
		Offset:    offset,
		Key:       []byte(reservationID),
		Value:     value,
		Headers:   []kgo.RecordHeader{{Key: "event_id", Value: []byte(event.EventID)}},
	}
}

func TestEventConsumer_HandlesAndCommits(t *testing.T) {
	source := &fakeSource{}
	source.batches = [][]*kafka.Record{{failureRecord(t, 0, "res-1"), failureRecord(t, 1, "res-2")}}

	var mu sync.Mutex
	var seen []string
	handler := HandlerFunc(func(ctx context.Context, event *domain.PaymentOutcomeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, event.ReservationID)
		return nil
	})

	consumer := NewEventConsumer("compensation", source, handler, newDLQHandler(&fakeDLQ{}), nil)
	require.NoError(t, consumer.Run(context.Background()))

	assert.ElementsMatch(t, []string{"res-1", "res-2"}, seen)
	assert.Equal(t, map[int64]bool{0: true, 1: true}, source.committedOffsets())
}

func TestEventConsumer_SameKeyKeepsOrder(t *testing.T) {
	source := &fakeSource{}
	var batch []*kafka.Record
	for i := int64(0); i < 20; i++ {
		batch = append(batch, failureRecord(t, i, "res-1"))
	}
	source.batches = [][]*kafka.Record{batch}

	var offsets []string
	handler := HandlerFunc(func(ctx context.Context, event *domain.PaymentOutcomeEvent) error {
		offsets = append(offsets, event.EventID)
		return nil
	})

	consumer := NewEventConsumer("compensation", source, handler, newDLQHandler(&fakeDLQ{}), &EventConsumerConfig{Workers: 4})
	consumer.ProcessBatch(context.Background(), batch)

	require.Len(t, offsets, 20)
	for i, r := range batch {
		assert.Equal(t, kafka.HeaderValue(r, "event_id"), offsets[i])
	}
}

func TestEventConsumer_ParksFailingRecord(t *testing.T) {
	source := &fakeSource{}
	dlq := &fakeDLQ{}
	records := []*kafka.Record{failureRecord(t, 0, "res-1"), failureRecord(t, 1, "res-2")}

	attempts := map[string]int{}
	var mu sync.Mutex
	handler := HandlerFunc(func(ctx context.Context, event *domain.PaymentOutcomeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		attempts[event.ReservationID]++
		if event.ReservationID == "res-1" {
			return errors.New("db down")
		}
		return nil
	})

	consumer := NewEventConsumer("compensation", source, handler, newDLQHandler(dlq), nil)
	consumer.ProcessBatch(context.Background(), records)

	assert.Equal(t, 3, attempts["res-1"])
	assert.Equal(t, 1, attempts["res-2"])
	require.Len(t, dlq.parked, 1)
	assert.Equal(t, "res-1", dlq.parked[0].OriginalKey)
	assert.Equal(t, "db down", dlq.parked[0].Error)
	assert.Equal(t, map[int64]bool{0: true, 1: true}, source.committedOffsets())
}

func TestEventConsumer_UndecodableRecordIsParkedAtOnce(t *testing.T) {
	source := &fakeSource{}
	dlq := &fakeDLQ{}
	calls := 0
	handler := HandlerFunc(func(ctx context.Context, event *domain.PaymentOutcomeEvent) error {
		calls++
		return nil
	})

	consumer := NewEventConsumer("compensation", source, handler, newDLQHandler(dlq), nil)
	consumer.ProcessBatch(context.Background(), []*kafka.Record{{Topic: "payment.failure", Offset: 7, Value: []byte("{not json")}})

	assert.Equal(t, 0, calls)
	require.Len(t, dlq.parked, 1)
	assert.Equal(t, 1, dlq.parked[0].Attempts)
	assert.True(t, source.committedOffsets()[7])
}

func TestEventConsumer_UnparkedRecordBlocksPartitionCommit(t *testing.T) {
	source := &fakeSource{}
	dlq := &fakeDLQ{err: errors.New("kafka down")}
	records := []*kafka.Record{failureRecord(t, 0, "res-1"), failureRecord(t, 1, "res-2"), failureRecord(t, 2, "res-3")}

	handler := HandlerFunc(func(ctx context.Context, event *domain.PaymentOutcomeEvent) error {
		if event.ReservationID == "res-2" {
			return errors.New("db down")
		}
		return nil
	})

	consumer := NewEventConsumer("compensation", source, handler, newDLQHandler(dlq), &EventConsumerConfig{PollBackoff: time.Millisecond})
	consumer.ProcessBatch(context.Background(), records)

	committed := source.committedOffsets()
	assert.True(t, committed[0])
	assert.False(t, committed[1])
	assert.False(t, committed[2])
	require.Len(t, source.rewound, 1)
	assert.Equal(t, int64(1), source.rewound[0].Offset)
}

func TestEventConsumer_UnparkedRecordIsRedeliveredBeforeLaterBatch(t *testing.T) {
	source := &fakeSource{}
	source.batches = [][]*kafka.Record{
		{failureRecord(t, 5, "res-a")},
		{failureRecord(t, 6, "res-b")},
	}
	dlq := &fakeDLQ{err: errors.New("kafka down")}

	var mu sync.Mutex
	handled := map[string]int{}
	handler := HandlerFunc(func(ctx context.Context, event *domain.PaymentOutcomeEvent) error {
		mu.Lock()
		defer mu.Unlock()
		handled[event.ReservationID]++
		// res-a keeps failing for the whole first delivery
		if event.ReservationID == "res-a" && handled["res-a"] <= 3 {
			return errors.New("db down")
		}
		return nil
	})

	consumer := NewEventConsumer("compensation", source, handler, newDLQHandler(dlq), &EventConsumerConfig{PollBackoff: time.Millisecond})
	require.NoError(t, consumer.Run(context.Background()))

	assert.Equal(t, 4, handled["res-a"])
	assert.Equal(t, 1, handled["res-b"])
	require.Len(t, source.rewound, 1)
	assert.Equal(t, int64(5), source.rewound[0].Offset)

	require.Len(t, source.committed, 2)
	assert.Equal(t, int64(5), source.committed[0].Offset)
	assert.Equal(t, int64(6), source.committed[1].Offset)
}

func TestHandlers_FilterByEventType(t *testing.T) {
	success := domain.NewPaymentSuccessEvent(&domain.SettlementContext{ReservationID: "res-1"})
	failure := domain.NewPaymentFailureEvent(&domain.SettlementContext{ReservationID: "res-1"}, domain.FailureStuck, nil)

	err := CompensationHandler(nil).Handle(context.Background(), success)
	assert.True(t, retry.IsPermanent(err))

	assert.NoError(t, CleanupHandler(nil).Handle(context.Background(), failure))
	assert.NoError(t, SoldOutHandler(nil).Handle(context.Background(), failure))
	assert.NoError(t, ReportHandler(nil).Handle(context.Background(), success))
}
