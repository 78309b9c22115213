package domain

import "time"

// Sale is a ticket sale, e.g. one concert
type Sale struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	OpenTime    time.Time  `json:"open_time"`
	SoldOutTime *time.Time `json:"sold_out_time,omitempty"`
}

// IsOpen reports whether booking has opened at now
func (s *Sale) IsOpen(now time.Time) bool {
	return !now.Before(s.OpenTime)
}

// IsSoldOut reports whether the sale was marked sold out
func (s *Sale) IsSoldOut() bool {
	return s.SoldOutTime != nil
}

// SoldOutScore is the number of seconds it took to sell out, used as the
// ranking score. Faster sales rank first.
func (s *Sale) SoldOutScore() int64 {
	if s.SoldOutTime == nil {
		return 0
	}
	secs := int64(s.SoldOutTime.Sub(s.OpenTime) / time.Second)
	if secs < 0 {
		return 0
	}
	return secs
}

// SaleSession is one date of a sale with its own seat inventory
type SaleSession struct {
	ID                 string    `json:"id"`
	SaleID             string    `json:"sale_id"`
	Date               time.Time `json:"date"`
	Deadline           time.Time `json:"deadline"`
	TotalSeats         int       `json:"total_seats"`
	AvailableSeatCount int       `json:"available_seat_count"`
	Version            int64     `json:"version"`
}

// IsBookable reports whether the booking deadline is still ahead of now
func (s *SaleSession) IsBookable(now time.Time) bool {
	return now.Before(s.Deadline)
}

// CanDecrement reports whether one more seat can be taken from inventory
func (s *SaleSession) CanDecrement() bool {
	return s.AvailableSeatCount > 0
}

// CanIncrement reports whether one seat can be returned to inventory
func (s *SaleSession) CanIncrement() bool {
	return s.AvailableSeatCount < s.TotalSeats
}
