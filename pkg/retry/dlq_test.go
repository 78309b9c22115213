package retry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type capturedMessage struct {
	topic   string
	key     string
	data    interface{}
	headers map[string]string
}

type fakeProducer struct {
	messages []capturedMessage
	err      error
}

func (f *fakeProducer) ProduceJSON(ctx context.Context, topic string, key string, data interface{}, headers map[string]string) error {
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, capturedMessage{topic: topic, key: key, data: data, headers: headers})
	return nil
}

func TestKafkaDLQPublisher_GetDLQTopic(t *testing.T) {
	p := NewKafkaDLQPublisher(&fakeProducer{}, &DLQConfig{
		Topics: map[string]string{"payment.failure": "payment.failure.dlq.v2"},
		Source: "saga-worker",
	})

	if got := p.GetDLQTopic("payment.failure"); got != "payment.failure.dlq.v2" {
		t.Errorf("GetDLQTopic(mapped) = %s", got)
	}
	if got := p.GetDLQTopic("payment.success"); got != "payment.success.dlq" {
		t.Errorf("GetDLQTopic(unmapped) = %s", got)
	}
}

func TestKafkaDLQPublisher_PublishToDLQ(t *testing.T) {
	producer := &fakeProducer{}
	p := NewKafkaDLQPublisher(producer, &DLQConfig{Source: "saga-worker"})

	err := p.PublishToDLQ(context.Background(), &DLQMessage{
		ID:            "evt-1",
		OriginalTopic: "payment.failure",
		OriginalKey:   "res-1",
		Payload:       json.RawMessage(`{"reservationId":"res-1"}`),
		Headers:       map[string]string{"traceparent": "00-a-b-01"},
		Error:         "db down",
		ErrorCode:     "INFRASTRUCTURE",
		Attempts:      3,
	})
	if err != nil {
		t.Fatalf("PublishToDLQ() error = %v", err)
	}

	if len(producer.messages) != 1 {
		t.Fatalf("published %d messages, want 1", len(producer.messages))
	}
	got := producer.messages[0]
	if got.topic != "payment.failure.dlq" {
		t.Errorf("topic = %s", got.topic)
	}
	if got.key != "res-1" {
		t.Errorf("key = %s, want res-1", got.key)
	}
	if got.headers["error_code"] != "INFRASTRUCTURE" {
		t.Errorf("error_code header = %s", got.headers["error_code"])
	}
	if got.headers["original_traceparent"] != "00-a-b-01" {
		t.Errorf("original headers not carried: %v", got.headers)
	}
	if msg := got.data.(*DLQMessage); msg.Source != "saga-worker" || msg.MovedToDLQAt.IsZero() {
		t.Errorf("message not stamped: %+v", msg)
	}
}

func TestKafkaDLQPublisher_NilMessage(t *testing.T) {
	p := NewKafkaDLQPublisher(&fakeProducer{}, nil)
	if err := p.PublishToDLQ(context.Background(), nil); err == nil {
		t.Error("expected error for nil message")
	}
}

func TestDLQHandler_SuccessDoesNotPublish(t *testing.T) {
	producer := &fakeProducer{}
	h := NewDLQHandler(NewKafkaDLQPublisher(producer, nil), &DLQHandlerConfig{RetryConfig: fastConfig(2)})

	attempts := 0
	err := h.ProcessWithDLQ(context.Background(), &MessageContext{Topic: "payment.failure"}, func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errors.New("transient")
		}
		return nil
	})

	if err != nil {
		t.Errorf("err = %v, want nil", err)
	}
	if len(producer.messages) != 0 {
		t.Errorf("published %d messages, want 0", len(producer.messages))
	}
}

func TestDLQHandler_ExhaustedPublishes(t *testing.T) {
	producer := &fakeProducer{}
	var parked *DLQMessage
	h := NewDLQHandler(NewKafkaDLQPublisher(producer, nil), &DLQHandlerConfig{
		RetryConfig: fastConfig(1),
		Source:      "saga-worker",
		OnDLQ:       func(msg *DLQMessage) { parked = msg },
	})

	err := h.ProcessWithDLQ(context.Background(), &MessageContext{
		ID:    "evt-1",
		Topic: "payment.failure",
		Key:   "res-1",
	}, func(ctx context.Context) error {
		return errors.New("db down")
	})

	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Errorf("err = %v, want ErrMaxRetriesExceeded", err)
	}
	if parked == nil || parked.Error != "db down" || parked.Attempts != 2 {
		t.Errorf("parked = %+v", parked)
	}
	if parked != nil && parked.FirstAttemptAt.After(time.Now()) {
		t.Error("FirstAttemptAt should be set in the past")
	}
	if len(producer.messages) != 1 {
		t.Errorf("published %d messages, want 1", len(producer.messages))
	}
}

func TestDLQHandler_PublishFailure(t *testing.T) {
	producer := &fakeProducer{err: errors.New("kafka down")}
	h := NewDLQHandler(NewKafkaDLQPublisher(producer, nil), &DLQHandlerConfig{RetryConfig: fastConfig(0)})

	err := h.ProcessWithDLQ(context.Background(), &MessageContext{Topic: "payment.failure"}, func(ctx context.Context) error {
		return errors.New("boom")
	})
	if !errors.Is(err, ErrDLQPublish) {
		t.Fatalf("err = %v, want ErrDLQPublish", err)
	}
}
