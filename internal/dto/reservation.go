package dto

import "time"

// ClaimSeatRequest represents request to reserve a seat
type ClaimSeatRequest struct {
	SaleID    string `json:"sale_id" binding:"required"`
	SessionID string `json:"session_id" binding:"required"`
	SeatID    string `json:"seat_id" binding:"required"`
}

// ReservationResponse represents a created reservation
type ReservationResponse struct {
	ReservationID string    `json:"reservation_id"`
	PaymentID     string    `json:"payment_id"`
	SeatID        string    `json:"seat_id"`
	SessionID     string    `json:"session_id"`
	Status        string    `json:"status"`
	Amount        int64     `json:"amount"`
	ExpiresAt     time.Time `json:"expires_at"`
}
