package saga

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/metrics"
	"github.com/prohmpiriya/ticket-rush/pkg/kafka"
	"github.com/prohmpiriya/ticket-rush/pkg/logger"
	"github.com/prohmpiriya/ticket-rush/pkg/retry"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// RecordSource is the part of kafka.Consumer the event consumer needs
type RecordSource interface {
	Poll(ctx context.Context) ([]*kafka.Record, error)
	CommitRecords(ctx context.Context, records []*kafka.Record) error
	Rewind(records []*kafka.Record)
	GroupID() string
	Close()
}

var _ RecordSource = (*kafka.Consumer)(nil)

// EventConsumerConfig contains configuration for an event consumer
type EventConsumerConfig struct {
	// Workers bounds how many records are processed at once. Records with
	// the same key always go to the same worker, in offset order.
	Workers int
	// PollBackoff is the pause after a failed poll or a rewind
	PollBackoff time.Duration
	Logger      *logger.Logger
}

// EventConsumer feeds payment outcome records of one consumer group to a
// handler. Offsets are committed only after a record was handled or parked
// in the DLQ.
type EventConsumer struct {
	name    string
	source  RecordSource
	handler EventHandler
	dlq     *retry.DLQHandler
	workers int
	backoff time.Duration
	log     *logger.Logger
}

// NewEventConsumer creates a new event consumer
func NewEventConsumer(name string, source RecordSource, handler EventHandler, dlq *retry.DLQHandler, cfg *EventConsumerConfig) *EventConsumer {
	c := &EventConsumer{
		name:    name,
		source:  source,
		handler: handler,
		dlq:     dlq,
		workers: 8,
		backoff: time.Second,
		log:     logger.Get(),
	}
	if cfg != nil {
		if cfg.Workers > 0 {
			c.workers = cfg.Workers
		}
		if cfg.PollBackoff > 0 {
			c.backoff = cfg.PollBackoff
		}
		if cfg.Logger != nil {
			c.log = cfg.Logger
		}
	}
	if c.dlq == nil {
		c.dlq = retry.NewDLQHandler(retry.NewNoOpDLQPublisher(), &retry.DLQHandlerConfig{
			RetryConfig: &retry.Config{MaxRetries: 3, InitialInterval: 200 * time.Millisecond, MaxInterval: 2 * time.Second},
			Source:      name,
		})
	}
	return c
}

// Name returns the consumer name
func (c *EventConsumer) Name() string {
	return c.name
}

// Close leaves the consumer group
func (c *EventConsumer) Close() {
	c.source.Close()
}

// Run polls until ctx is done or the source is closed
func (c *EventConsumer) Run(ctx context.Context) error {
	c.log.Info(fmt.Sprintf("Consumer %s started (group %s)", c.name, c.source.GroupID()))
	defer c.log.Info(fmt.Sprintf("Consumer %s stopped", c.name))

	for {
		records, err := c.source.Poll(ctx)
		switch {
		case errors.Is(err, kafka.ErrConsumerClosed):
			return nil
		case ctx.Err() != nil:
			return nil
		case err != nil:
			c.log.Warn(fmt.Sprintf("Consumer %s poll failed", c.name), zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		if len(records) == 0 {
			continue
		}
		c.ProcessBatch(ctx, records)
	}
}

// ProcessBatch handles a batch and commits what may be committed. A partition
// whose record could neither be handled nor parked is left uncommitted from
// that record on and its fetch position is moved back to it, so the next
// poll delivers it again before anything later on that partition.
func (c *EventConsumer) ProcessBatch(ctx context.Context, records []*kafka.Record) {
	lanes := make([][]*kafka.Record, c.workers)
	for _, r := range records {
		i := lane(r.Key, c.workers)
		lanes[i] = append(lanes[i], r)
	}

	var (
		mu      sync.Mutex
		stuck   = map[partitionKey]*kafka.Record{}
		wg      sync.WaitGroup
		handled []*kafka.Record
	)
	for _, batch := range lanes {
		if len(batch) == 0 {
			continue
		}
		wg.Add(1)
		go func(batch []*kafka.Record) {
			defer wg.Done()
			for _, r := range batch {
				err := c.process(ctx, r)
				mu.Lock()
				if err != nil {
					pk := partitionKey{r.Topic, r.Partition}
					if first, ok := stuck[pk]; !ok || r.Offset < first.Offset {
						stuck[pk] = r
					}
				} else {
					handled = append(handled, r)
				}
				mu.Unlock()
			}
		}(batch)
	}
	wg.Wait()

	commit := handled[:0]
	for _, r := range handled {
		if first, ok := stuck[partitionKey{r.Topic, r.Partition}]; ok && r.Offset > first.Offset {
			continue
		}
		commit = append(commit, r)
	}

	if err := c.source.CommitRecords(ctx, commit); err != nil {
		c.log.ErrorContext(ctx, fmt.Sprintf("Consumer %s failed to commit", c.name), zap.Error(err))
	}

	if len(stuck) == 0 {
		return
	}
	rewind := make([]*kafka.Record, 0, len(stuck))
	for _, r := range stuck {
		c.log.WarnContext(ctx, fmt.Sprintf("Consumer %s rewinding %s[%d] to offset %d", c.name, r.Topic, r.Partition, r.Offset))
		rewind = append(rewind, r)
	}
	c.source.Rewind(rewind)

	select {
	case <-ctx.Done():
	case <-time.After(c.backoff):
	}
}

// process returns an error only when the record must be redelivered
func (c *EventConsumer) process(ctx context.Context, r *kafka.Record) error {
	headers := make(map[string]string, len(r.Headers))
	for _, h := range r.Headers {
		headers[h.Key] = string(h.Value)
	}

	ctx = telemetry.ExtractHeaders(ctx, headers)
	ctx, span := telemetry.StartSpan(ctx, "consumer."+c.name+".process", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	span.SetAttributes(
		attribute.String("messaging.destination", r.Topic),
		attribute.Int64("messaging.kafka.partition", int64(r.Partition)),
		attribute.Int64("messaging.kafka.offset", r.Offset),
		attribute.String("messaging.kafka.consumer_group", c.source.GroupID()),
	)

	msgCtx := &retry.MessageContext{
		ID:      kafka.HeaderValue(r, "event_id"),
		Topic:   r.Topic,
		Key:     string(r.Key),
		Payload: json.RawMessage(r.Value),
		Headers: headers,
		Metadata: map[string]interface{}{
			"consumer":  c.name,
			"group":     c.source.GroupID(),
			"partition": r.Partition,
			"offset":    r.Offset,
		},
	}
	if msgCtx.ID == "" {
		msgCtx.ID = fmt.Sprintf("%s-%d-%d", r.Topic, r.Partition, r.Offset)
	}

	var event domain.PaymentOutcomeEvent
	err := c.dlq.ProcessWithDLQ(ctx, msgCtx, func(ctx context.Context) error {
		if err := json.Unmarshal(r.Value, &event); err != nil {
			return retry.Permanent(fmt.Errorf("failed to decode payment event: %w", err))
		}
		return c.handler.Handle(ctx, &event)
	})
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return nil
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())

	parked := !errors.Is(err, retry.ErrDLQPublish)
	if parked {
		metrics.RecordDLQ(ctx, r.Topic)
	}
	c.log.ErrorContext(ctx, fmt.Sprintf("Consumer %s gave up on record %s", c.name, msgCtx.ID),
		zap.String("topic", r.Topic),
		zap.Int32("partition", r.Partition),
		zap.Int64("offset", r.Offset),
		zap.String("key", string(r.Key)),
		zap.String("payment_id", event.PaymentID),
		zap.String("reservation_id", event.ReservationID),
		zap.String("user_id", event.UserID),
		zap.String("seat_id", event.SeatID),
		zap.Int64("amount", event.Amount),
		zap.Bool("parked", parked),
		zap.Error(err),
	)
	if parked {
		return nil
	}
	return err
}

type partitionKey struct {
	topic     string
	partition int32
}

func lane(key []byte, n int) int {
	if n <= 1 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(n))
}
