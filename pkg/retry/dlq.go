package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// DLQMessage is an event that could not be processed after all retries
type DLQMessage struct {
	ID             string                 `json:"id"`
	OriginalTopic  string                 `json:"original_topic"`
	OriginalKey    string                 `json:"original_key"`
	Payload        json.RawMessage        `json:"payload"`
	Headers        map[string]string      `json:"headers,omitempty"`
	Error          string                 `json:"error"`
	ErrorCode      string                 `json:"error_code,omitempty"`
	Attempts       int                    `json:"attempts"`
	FirstAttemptAt time.Time              `json:"first_attempt_at"`
	LastAttemptAt  time.Time              `json:"last_attempt_at"`
	MovedToDLQAt   time.Time              `json:"moved_to_dlq_at"`
	Source         string                 `json:"source"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// DLQPublisher publishes failed messages to a dead letter topic
type DLQPublisher interface {
	PublishToDLQ(ctx context.Context, msg *DLQMessage) error
	GetDLQTopic(originalTopic string) string
}

// JSONProducer is satisfied by pkg/kafka.Producer
type JSONProducer interface {
	ProduceJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error
}

// DLQConfig contains configuration for DLQ publishing
type DLQConfig struct {
	// Topics maps an original topic to its dead letter topic
	Topics map[string]string
	// TopicSuffix is used for topics not listed in Topics (default: ".dlq")
	TopicSuffix string
	// Source is the service name recorded on each message
	Source string
}

// DefaultDLQConfig returns default DLQ configuration
func DefaultDLQConfig() *DLQConfig {
	return &DLQConfig{
		Topics:      map[string]string{},
		TopicSuffix: ".dlq",
		Source:      "unknown",
	}
}

// KafkaDLQPublisher publishes failed messages to Kafka
type KafkaDLQPublisher struct {
	producer JSONProducer
	config   *DLQConfig
}

// NewKafkaDLQPublisher creates a new Kafka DLQ publisher
func NewKafkaDLQPublisher(producer JSONProducer, config *DLQConfig) *KafkaDLQPublisher {
	if config == nil {
		config = DefaultDLQConfig()
	}
	if config.TopicSuffix == "" {
		config.TopicSuffix = ".dlq"
	}
	return &KafkaDLQPublisher{producer: producer, config: config}
}

// PublishToDLQ publishes a message keyed by its original key
func (p *KafkaDLQPublisher) PublishToDLQ(ctx context.Context, msg *DLQMessage) error {
	if msg == nil {
		return fmt.Errorf("DLQ message cannot be nil")
	}

	msg.MovedToDLQAt = time.Now()
	msg.Source = p.config.Source

	headers := map[string]string{
		"content_type":   "application/json",
		"original_topic": msg.OriginalTopic,
		"attempts":       fmt.Sprintf("%d", msg.Attempts),
		"source":         msg.Source,
	}
	if msg.ErrorCode != "" {
		headers["error_code"] = msg.ErrorCode
	}
	for k, v := range msg.Headers {
		if _, exists := headers[k]; !exists {
			headers["original_"+k] = v
		}
	}

	return p.producer.ProduceJSON(ctx, p.GetDLQTopic(msg.OriginalTopic), msg.OriginalKey, msg, headers)
}

// GetDLQTopic returns the dead letter topic for originalTopic
func (p *KafkaDLQPublisher) GetDLQTopic(originalTopic string) string {
	if topic, ok := p.config.Topics[originalTopic]; ok {
		return topic
	}
	return originalTopic + p.config.TopicSuffix
}

// DLQHandlerConfig contains configuration for DLQ handler
type DLQHandlerConfig struct {
	RetryConfig *Config
	Source      string
	// OnDLQ is called when a message is moved to DLQ
	OnDLQ func(msg *DLQMessage)
}

// DefaultDLQHandlerConfig returns default DLQ handler configuration
func DefaultDLQHandlerConfig() *DLQHandlerConfig {
	return &DLQHandlerConfig{
		RetryConfig: DefaultConfig(),
		Source:      "unknown",
	}
}

// DLQHandler retries an operation and parks the message when it keeps failing
type DLQHandler struct {
	retrier   *Retrier
	publisher DLQPublisher
	config    *DLQHandlerConfig
}

// NewDLQHandler creates a new DLQ handler
func NewDLQHandler(publisher DLQPublisher, config *DLQHandlerConfig) *DLQHandler {
	if config == nil {
		config = DefaultDLQHandlerConfig()
	}
	return &DLQHandler{
		retrier:   New(config.RetryConfig),
		publisher: publisher,
		config:    config,
	}
}

// MessageContext describes the message being processed
type MessageContext struct {
	ID             string
	Topic          string
	Key            string
	Payload        json.RawMessage
	Headers        map[string]string
	FirstAttemptAt time.Time
	Metadata       map[string]interface{}
}

// ProcessWithDLQ runs op with retries. When every attempt fails the message
// is published to the DLQ and the processing error is returned. A nil return
// means op eventually succeeded.
func (h *DLQHandler) ProcessWithDLQ(ctx context.Context, msgCtx *MessageContext, op Operation) error {
	if msgCtx.FirstAttemptAt.IsZero() {
		msgCtx.FirstAttemptAt = time.Now()
	}

	result := h.retrier.Do(ctx, op)
	if result.Err == nil {
		return nil
	}

	errMsg := result.Err.Error()
	if result.LastError != nil {
		errMsg = result.LastError.Error()
	}

	dlqMsg := &DLQMessage{
		ID:             msgCtx.ID,
		OriginalTopic:  msgCtx.Topic,
		OriginalKey:    msgCtx.Key,
		Payload:        msgCtx.Payload,
		Headers:        msgCtx.Headers,
		Error:          errMsg,
		Attempts:       result.Attempts,
		FirstAttemptAt: msgCtx.FirstAttemptAt,
		LastAttemptAt:  time.Now(),
		Source:         h.config.Source,
		Metadata:       msgCtx.Metadata,
	}

	if h.config.OnDLQ != nil {
		h.config.OnDLQ(dlqMsg)
	}

	if publishErr := h.publisher.PublishToDLQ(ctx, dlqMsg); publishErr != nil {
		return fmt.Errorf("%w: %w (original error: %s)", ErrDLQPublish, publishErr, errMsg)
	}
	return result.Err
}

// NoOpDLQPublisher drops messages, used when no DLQ topic is configured
type NoOpDLQPublisher struct{}

// NewNoOpDLQPublisher creates a new no-op DLQ publisher
func NewNoOpDLQPublisher() *NoOpDLQPublisher {
	return &NoOpDLQPublisher{}
}

// PublishToDLQ does nothing
func (p *NoOpDLQPublisher) PublishToDLQ(ctx context.Context, msg *DLQMessage) error {
	return nil
}

// GetDLQTopic returns the conventional DLQ topic name
func (p *NoOpDLQPublisher) GetDLQTopic(originalTopic string) string {
	return originalTopic + ".dlq"
}
