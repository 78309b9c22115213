package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// ErrConsumerClosed is returned by Poll after Close
var ErrConsumerClosed = errors.New("kafka consumer closed")

// ConsumerConfig holds consumer group configuration
type ConsumerConfig struct {
	Brokers          []string
	GroupID          string
	Topics           []string
	ClientID         string
	MaxRetries       int
	RetryInterval    time.Duration
	SessionTimeout   time.Duration
	RebalanceTimeout time.Duration
	MaxPollRecords   int
}

// Consumer is a consumer-group member with manual offset commits
type Consumer struct {
	client *kgo.Client
	config *ConsumerConfig
}

// NewConsumer joins the consumer group. Offsets are only committed through
// CommitRecords, which gives at-least-once delivery.
func NewConsumer(ctx context.Context, cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil || len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka consumer requires at least one broker")
	}
	if cfg.GroupID == "" || len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("kafka consumer requires a group id and topics")
	}
	if cfg.SessionTimeout == 0 {
		cfg.SessionTimeout = 30 * time.Second
	}
	if cfg.RebalanceTimeout == 0 {
		cfg.RebalanceTimeout = 60 * time.Second
	}
	if cfg.RetryInterval == 0 {
		cfg.RetryInterval = time.Second
	}
	if cfg.MaxPollRecords == 0 {
		cfg.MaxPollRecords = 500
	}

	opts := []kgo.Opt{
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.GroupID),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
		kgo.SessionTimeout(cfg.SessionTimeout),
		kgo.RebalanceTimeout(cfg.RebalanceTimeout),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	}
	if cfg.ClientID != "" {
		opts = append(opts, kgo.ClientID(cfg.ClientID))
	}

	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka client: %w", err)
	}

	if err := pingWithRetry(ctx, client, cfg.MaxRetries, cfg.RetryInterval); err != nil {
		return nil, err
	}
	return &Consumer{client: client, config: cfg}, nil
}

// Poll blocks until records are available or ctx is done
func (c *Consumer) Poll(ctx context.Context) ([]*Record, error) {
	fetches := c.client.PollRecords(ctx, c.config.MaxPollRecords)
	if fetches.IsClientClosed() {
		return nil, ErrConsumerClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var errs []error
	fetches.EachError(func(topic string, partition int32, err error) {
		errs = append(errs, fmt.Errorf("fetch %s[%d]: %w", topic, partition, err))
	})

	records := fetches.Records()
	if len(records) == 0 && len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return records, nil
}

// CommitRecords commits the offsets of the given records
func (c *Consumer) CommitRecords(ctx context.Context, records []*Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := c.client.CommitRecords(ctx, records...); err != nil {
		return fmt.Errorf("failed to commit offsets: %w", err)
	}
	return nil
}

// Rewind moves the fetch position of each record's partition back to that
// record, dropping anything already buffered past it. The next Poll starts
// from there.
func (c *Consumer) Rewind(records []*Record) {
	if len(records) == 0 {
		return
	}
	offsets := make(map[string]map[int32]kgo.EpochOffset)
	for _, r := range records {
		if offsets[r.Topic] == nil {
			offsets[r.Topic] = make(map[int32]kgo.EpochOffset)
		}
		offsets[r.Topic][r.Partition] = kgo.EpochOffset{Epoch: -1, Offset: r.Offset}
	}
	c.client.SetOffsets(offsets)
}

// GroupID returns the consumer group this consumer belongs to
func (c *Consumer) GroupID() string {
	return c.config.GroupID
}

// Close leaves the group and closes the client
func (c *Consumer) Close() {
	c.client.Close()
}
