package domain

import "time"

// PaymentStatus is the state of a payment
type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "PENDING"
	PaymentStatusProcessing PaymentStatus = "PROCESSING"
	PaymentStatusSuccess    PaymentStatus = "SUCCESS"
	PaymentStatusFailed     PaymentStatus = "FAILED"
)

// Payment settles exactly one reservation
type Payment struct {
	ID            string        `json:"id"`
	UserID        string        `json:"user_id"`
	ReservationID string        `json:"reservation_id"`
	Amount        int64         `json:"amount"`
	Status        PaymentStatus `json:"status"`
	FailureReason string        `json:"failure_reason,omitempty"`
	// DebitedAmount is what was actually taken from the account and not yet refunded
	DebitedAmount int64     `json:"debited_amount"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// IsSuccess checks if the payment completed
func (p *Payment) IsSuccess() bool {
	return p.Status == PaymentStatusSuccess
}

// IsFailed checks if the payment failed
func (p *Payment) IsFailed() bool {
	return p.Status == PaymentStatusFailed
}

// ValidateAmount checks the amount is chargeable
func (p *Payment) ValidateAmount() error {
	if p.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// SettlementResult is returned by a successful settlement
type SettlementResult struct {
	PaymentID     string        `json:"payment_id"`
	ReservationID string        `json:"reservation_id"`
	SeatID        string        `json:"seat_id"`
	Amount        int64         `json:"amount"`
	Balance       int64         `json:"balance"`
	Status        PaymentStatus `json:"status"`
	SettledAt     time.Time     `json:"settled_at"`
}
