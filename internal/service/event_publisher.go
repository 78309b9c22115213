package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/pkg/kafka"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// EventPublisher defines the interface for publishing payment outcome events
type EventPublisher interface {
	// PublishPaymentOutcome publishes to the success or failure topic by event type
	PublishPaymentOutcome(ctx context.Context, event *domain.PaymentOutcomeEvent) error

	// Close closes the event publisher
	Close() error
}

// MessageProducer is the part of kafka.Producer the publisher needs
type MessageProducer interface {
	Produce(ctx context.Context, msg *kafka.Message) error
	Close()
}

var _ MessageProducer = (*kafka.Producer)(nil)

// EventPublisherConfig contains configuration for the event publisher
type EventPublisherConfig struct {
	Brokers      []string
	SuccessTopic string
	FailureTopic string
	ServiceName  string
	ClientID     string
}

// KafkaEventPublisher implements EventPublisher using Kafka
type KafkaEventPublisher struct {
	producer     MessageProducer
	successTopic string
	failureTopic string
	serviceName  string
}

// NewKafkaEventPublisher connects a producer and creates a publisher on it
func NewKafkaEventPublisher(ctx context.Context, cfg *EventPublisherConfig) (*KafkaEventPublisher, error) {
	if cfg == nil {
		return nil, fmt.Errorf("event publisher config is required")
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers are required")
	}

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "ticket-rush-producer"
	}

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Brokers,
		ClientID:      clientID,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
		LingerMs:      5,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	return NewEventPublisher(producer, cfg), nil
}

// NewEventPublisher creates a publisher on an existing producer
func NewEventPublisher(producer MessageProducer, cfg *EventPublisherConfig) *KafkaEventPublisher {
	p := &KafkaEventPublisher{
		producer:     producer,
		successTopic: string(domain.PaymentEventSuccess),
		failureTopic: string(domain.PaymentEventFailure),
		serviceName:  "ticket-rush",
	}
	if cfg != nil {
		if cfg.SuccessTopic != "" {
			p.successTopic = cfg.SuccessTopic
		}
		if cfg.FailureTopic != "" {
			p.failureTopic = cfg.FailureTopic
		}
		if cfg.ServiceName != "" {
			p.serviceName = cfg.ServiceName
		}
	}
	return p
}

// PublishPaymentOutcome publishes the event keyed by reservation id
func (p *KafkaEventPublisher) PublishPaymentOutcome(ctx context.Context, event *domain.PaymentOutcomeEvent) error {
	topic := p.successTopic
	if event.EventType == domain.PaymentEventFailure {
		topic = p.failureTopic
	}

	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	headers := telemetry.InjectHeaders(ctx, map[string]string{
		"event_type":   string(event.EventType),
		"event_id":     event.EventID,
		"source":       p.serviceName,
		"content_type": "application/json",
	})

	msg := &kafka.Message{
		Topic:     topic,
		Key:       []byte(event.Key()),
		Value:     value,
		Headers:   headers,
		Timestamp: event.OccurredAt,
	}

	if err := p.producer.Produce(ctx, msg); err != nil {
		return fmt.Errorf("%w: failed to publish %s event: %w", domain.ErrInfrastructure, event.EventType, err)
	}
	return nil
}

// Close closes the event publisher
func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		p.producer.Close()
	}
	return nil
}

// NoOpEventPublisher is a no-op implementation of EventPublisher for testing
type NoOpEventPublisher struct{}

// NewNoOpEventPublisher creates a new no-op event publisher
func NewNoOpEventPublisher() *NoOpEventPublisher {
	return &NoOpEventPublisher{}
}

// PublishPaymentOutcome is a no-op
func (p *NoOpEventPublisher) PublishPaymentOutcome(ctx context.Context, event *domain.PaymentOutcomeEvent) error {
	return nil
}

// Close is a no-op
func (p *NoOpEventPublisher) Close() error {
	return nil
}
