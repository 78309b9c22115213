package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEventType is the topic-level type of an outcome event
type PaymentEventType string

const (
	PaymentEventSuccess PaymentEventType = "payment.success"
	PaymentEventFailure PaymentEventType = "payment.failure"
)

// PaymentOutcomeEvent is published after settlement finishes or fails. It
// carries everything compensation needs without reading the request state.
type PaymentOutcomeEvent struct {
	EventID        string           `json:"event_id"`
	EventType      PaymentEventType `json:"event_type"`
	PaymentID      string           `json:"payment_id"`
	UserID         string           `json:"user_id"`
	ReservationID  string           `json:"reservation_id"`
	SeatID         string           `json:"seat_id"`
	SaleSessionID  string           `json:"sale_session_id"`
	SaleID         string           `json:"sale_id"`
	TokenID        string           `json:"token_id"`
	Amount         int64            `json:"amount"`
	FailureKind    FailureKind      `json:"failure_kind,omitempty"`
	FailureMessage string           `json:"failure_message,omitempty"`
	OccurredAt     time.Time        `json:"occurred_at"`
}

// SettlementContext is what settlement knows about a payment attempt
type SettlementContext struct {
	PaymentID     string
	UserID        string
	ReservationID string
	SeatID        string
	SaleSessionID string
	SaleID        string
	TokenID       string
	Amount        int64
}

// NewPaymentSuccessEvent builds a payment.success event
func NewPaymentSuccessEvent(sc *SettlementContext) *PaymentOutcomeEvent {
	return newPaymentEvent(PaymentEventSuccess, sc)
}

// NewPaymentFailureEvent builds a payment.failure event for cause
func NewPaymentFailureEvent(sc *SettlementContext, kind FailureKind, cause error) *PaymentOutcomeEvent {
	e := newPaymentEvent(PaymentEventFailure, sc)
	e.FailureKind = kind
	if cause != nil {
		e.FailureMessage = cause.Error()
	}
	return e
}

func newPaymentEvent(eventType PaymentEventType, sc *SettlementContext) *PaymentOutcomeEvent {
	return &PaymentOutcomeEvent{
		EventID:       uuid.New().String(),
		EventType:     eventType,
		PaymentID:     sc.PaymentID,
		UserID:        sc.UserID,
		ReservationID: sc.ReservationID,
		SeatID:        sc.SeatID,
		SaleSessionID: sc.SaleSessionID,
		SaleID:        sc.SaleID,
		TokenID:       sc.TokenID,
		Amount:        sc.Amount,
		OccurredAt:    time.Now(),
	}
}

// Key returns the partition key, keeping all events of a reservation ordered
func (e *PaymentOutcomeEvent) Key() string {
	return e.ReservationID
}

// IsPreDebit reports whether the failure happened before any debit
func (e *PaymentOutcomeEvent) IsPreDebit() bool {
	return IsPreDebit(e.FailureKind)
}
