package domain

import "time"

// ReservationStatus is the state of a reservation
type ReservationStatus string

const (
	ReservationStatusPending   ReservationStatus = "PENDING"
	ReservationStatusSuccess   ReservationStatus = "SUCCESS"
	ReservationStatusFailed    ReservationStatus = "FAILED"
	ReservationStatusCancelled ReservationStatus = "CANCELLED"
	ReservationStatusExpired   ReservationStatus = "EXPIRED"
)

// DefaultReservationTTL bounds how long a PENDING reservation waits for payment
const DefaultReservationTTL = 5 * time.Minute

// Reservation is a user's temporary claim on a seat
type Reservation struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	SeatID        string            `json:"seat_id"`
	SaleSessionID string            `json:"sale_session_id"`
	Status        ReservationStatus `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	ExpiresAt     time.Time         `json:"expires_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// IsPending checks if the reservation is waiting for payment
func (r *Reservation) IsPending() bool {
	return r.Status == ReservationStatusPending
}

// IsExpired reports whether the payment window has passed at now
func (r *Reservation) IsExpired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// IsTerminal reports whether no further transition is possible
func (r *Reservation) IsTerminal() bool {
	return r.Status != ReservationStatusPending
}

// BelongsTo reports whether the reservation was made by userID
func (r *Reservation) BelongsTo(userID string) bool {
	return r.UserID == userID
}

// CanSettle checks that a payment may start for this reservation
func (r *Reservation) CanSettle(userID string, now time.Time) error {
	if !r.BelongsTo(userID) {
		return ErrReservationNotFound
	}
	if !r.IsPending() {
		return ErrReservationNotPending
	}
	if r.IsExpired(now) {
		return ErrReservationExpired
	}
	return nil
}
