package domain

// SeatStatus is the state of a seat
type SeatStatus string

const (
	SeatStatusAvailable SeatStatus = "AVAILABLE"
	SeatStatusReserved  SeatStatus = "RESERVED"
	SeatStatusAssigned  SeatStatus = "ASSIGNED"
)

// Seat is one seat of a sale session
type Seat struct {
	ID            string     `json:"id"`
	SaleSessionID string     `json:"sale_session_id"`
	SeatNo        int        `json:"seat_no"`
	Price         int64      `json:"price"`
	Grade         string     `json:"grade"`
	Status        SeatStatus `json:"status"`
	Version       int64      `json:"version"`
}

// IsAvailable checks if the seat can be claimed
func (s *Seat) IsAvailable() bool {
	return s.Status == SeatStatusAvailable
}

// BelongsTo reports whether the seat is part of the given session
func (s *Seat) BelongsTo(sessionID string) bool {
	return s.SaleSessionID == sessionID
}
