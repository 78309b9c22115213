package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/repository"
)

// memStore keeps the relational state in memory with the same conditional
// update rules as the Postgres repositories
type memStore struct {
	mu           sync.Mutex
	sales        map[string]*domain.Sale
	sessions     map[string]*domain.SaleSession
	seats        map[string]*domain.Seat
	accounts     map[string]*domain.Account
	reservations map[string]*domain.Reservation
	payments     map[string]*domain.Payment

	// paymentTokens holds the token recorded when a payment entered PROCESSING
	paymentTokens map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		sales:        map[string]*domain.Sale{},
		sessions:     map[string]*domain.SaleSession{},
		seats:        map[string]*domain.Seat{},
		accounts:     map[string]*domain.Account{},
		reservations: map[string]*domain.Reservation{},
		payments:     map[string]*domain.Payment{},

		paymentTokens: map[string]string{},
	}
}

func (s *memStore) addSale(sale domain.Sale)              { s.sales[sale.ID] = &sale }
func (s *memStore) addSession(session domain.SaleSession) { s.sessions[session.ID] = &session }
func (s *memStore) addSeat(seat domain.Seat)              { s.seats[seat.ID] = &seat }
func (s *memStore) addReservation(r domain.Reservation)   { s.reservations[r.ID] = &r }
func (s *memStore) addPayment(p domain.Payment)           { s.payments[p.ID] = &p }

func (s *memStore) addAccount(id string, balance int64) {
	s.accounts[id] = &domain.Account{ID: id, Balance: balance}
}

func (s *memStore) seat(id string) domain.Seat {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.seats[id]
}

func (s *memStore) session(id string) domain.SaleSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.sessions[id]
}

func (s *memStore) balance(userID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accounts[userID].Balance
}

func (s *memStore) reservation(id string) domain.Reservation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.reservations[id]
}

func (s *memStore) paymentOf(reservationID string) domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ReservationID == reservationID {
			return *p
		}
	}
	return domain.Payment{}
}

func (s *memStore) reservationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.reservations)
}

// releaseSeat mirrors releaseSeatTx: only a seat in one of the from states
// goes back to inventory
func (s *memStore) releaseSeat(seatID, sessionID string, from ...domain.SeatStatus) bool {
	seat := s.seats[seatID]
	if seat == nil {
		return false
	}
	matched := false
	for _, st := range from {
		if seat.Status == st {
			matched = true
		}
	}
	if !matched {
		return false
	}
	seat.Status = domain.SeatStatusAvailable
	seat.Version++
	if session := s.sessions[sessionID]; session != nil && session.CanIncrement() {
		session.AvailableSeatCount++
		session.Version++
	}
	return true
}

type memSales struct{ *memStore }

func (m memSales) Exists(ctx context.Context, saleID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sales[saleID]
	return ok, nil
}

func (m memSales) Get(ctx context.Context, saleID string) (*domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sale, ok := m.sales[saleID]
	if !ok {
		return nil, domain.ErrSaleNotFound
	}
	c := *sale
	return &c, nil
}

func (m memSales) ListOpen(ctx context.Context, openedBefore time.Time) ([]*domain.Sale, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Sale
	for _, sale := range m.sales {
		if !sale.OpenTime.After(openedBefore) && sale.SoldOutTime == nil {
			c := *sale
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m memSales) RemainingInventory(ctx context.Context, saleID string) (int64, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var available, reserved int64
	for _, session := range m.sessions {
		if session.SaleID != saleID {
			continue
		}
		available += int64(session.AvailableSeatCount)
		for _, seat := range m.seats {
			if seat.SaleSessionID == session.ID && seat.Status == domain.SeatStatusReserved {
				reserved++
			}
		}
	}
	return available, reserved, nil
}

func (m memSales) MarkSoldOut(ctx context.Context, saleID string, at time.Time) (*domain.Sale, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sale, ok := m.sales[saleID]
	if !ok {
		return nil, false, domain.ErrSaleNotFound
	}
	set := false
	if sale.SoldOutTime == nil {
		sale.SoldOutTime = &at
		set = true
	}
	c := *sale
	return &c, set, nil
}

type memSessions struct{ *memStore }

func (m memSessions) Get(ctx context.Context, sessionID string) (*domain.SaleSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	c := *session
	return &c, nil
}

type memSeats struct{ *memStore }

func (m memSeats) Find(ctx context.Context, seatID string) (*domain.Seat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seat, ok := m.seats[seatID]
	if !ok {
		return nil, domain.ErrSeatNotFound
	}
	c := *seat
	return &c, nil
}

type memAccounts struct{ *memStore }

func (m memAccounts) Exists(ctx context.Context, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.accounts[userID]
	return ok, nil
}

func (m memAccounts) Get(ctx context.Context, userID string) (*domain.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	account, ok := m.accounts[userID]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	c := *account
	return &c, nil
}

type memReservations struct{ *memStore }

func (m memReservations) CreateClaim(ctx context.Context, params repository.CreateClaimParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := params.Reservation
	seat := m.seats[r.SeatID]
	if seat == nil || seat.Version != params.SeatVersion || seat.Status != domain.SeatStatusAvailable {
		return domain.ErrOptimisticConflict
	}
	for _, other := range m.reservations {
		if other.SeatID == r.SeatID && (other.Status == domain.ReservationStatusPending || other.Status == domain.ReservationStatusSuccess) {
			return domain.ErrSeatNotAvailable
		}
	}
	session := m.sessions[r.SaleSessionID]
	if session == nil || session.Version != params.SessionVersion || session.AvailableSeatCount <= 0 {
		return domain.ErrOptimisticConflict
	}

	seat.Status = domain.SeatStatusReserved
	seat.Version++
	session.AvailableSeatCount--
	session.Version++
	rc := *r
	pc := *params.Payment
	m.reservations[rc.ID] = &rc
	m.payments[pc.ID] = &pc
	return nil
}

func (m memReservations) GetByID(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[reservationID]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	c := *r
	return &c, nil
}

func (m memReservations) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for _, r := range m.reservations {
		if r.IsPending() && r.ExpiresAt.Before(now) {
			ids = append(ids, r.ID)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m memReservations) ExpireReservation(ctx context.Context, reservationID string, now time.Time) (*repository.ExpireResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[reservationID]
	if !ok {
		return nil, domain.ErrReservationNotFound
	}
	if !r.IsPending() || !r.ExpiresAt.Before(now) {
		c := *r
		return &repository.ExpireResult{Outcome: repository.ExpireOutcomeNotDue, Reservation: &c}, nil
	}

	var payment *domain.Payment
	for _, p := range m.payments {
		if p.ReservationID == reservationID {
			payment = p
		}
	}
	if payment != nil && (payment.Status == domain.PaymentStatusProcessing || payment.Status == domain.PaymentStatusSuccess) {
		c := *r
		return &repository.ExpireResult{Outcome: repository.ExpireOutcomePaymentInFlight, Reservation: &c}, nil
	}

	r.Status = domain.ReservationStatusExpired
	r.UpdatedAt = now
	if payment != nil && payment.Status == domain.PaymentStatusPending {
		payment.Status = domain.PaymentStatusFailed
		payment.FailureReason = string(domain.FailureReservationExpired)
	}
	released := m.releaseSeat(r.SeatID, r.SaleSessionID, domain.SeatStatusReserved)

	c := *r
	return &repository.ExpireResult{Outcome: repository.ExpireOutcomeExpired, Reservation: &c, SeatReleased: released}, nil
}

func (m memReservations) MarkFailed(ctx context.Context, reservationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[reservationID]
	if !ok || !r.IsPending() {
		return false, nil
	}
	r.Status = domain.ReservationStatusFailed
	return true, nil
}

func (m memReservations) ReleaseSeat(ctx context.Context, reservationID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reservations[reservationID]
	if !ok || r.Status != domain.ReservationStatusFailed {
		return false, nil
	}
	for _, other := range m.reservations {
		if other.ID != r.ID && other.SeatID == r.SeatID &&
			(other.Status == domain.ReservationStatusPending || other.Status == domain.ReservationStatusSuccess) {
			return false, nil
		}
	}
	return m.releaseSeat(r.SeatID, r.SaleSessionID, domain.SeatStatusReserved, domain.SeatStatusAssigned), nil
}

type memPayments struct{ *memStore }

func (m memPayments) GetByID(ctx context.Context, paymentID string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return nil, domain.ErrPaymentNotFound
	}
	c := *p
	return &c, nil
}

func (m memPayments) GetByReservationID(ctx context.Context, reservationID string) (*domain.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.ReservationID == reservationID {
			c := *p
			return &c, nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (m memPayments) MarkProcessing(ctx context.Context, paymentID, tokenID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok || p.Status != domain.PaymentStatusPending {
		return false, nil
	}
	m.paymentTokens[paymentID] = tokenID
	p.Status = domain.PaymentStatusProcessing
	p.UpdatedAt = time.Now()
	return true, nil
}

func (m memPayments) CompleteSettlement(ctx context.Context, params repository.CompleteSettlementParams) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	account, ok := m.accounts[params.UserID]
	if !ok {
		return 0, domain.ErrAccountNotFound
	}
	if !account.CanAfford(params.Amount) {
		return 0, domain.ErrInsufficientBalance
	}
	p := m.payments[params.PaymentID]
	if p == nil || p.Status != domain.PaymentStatusProcessing {
		return 0, domain.ErrOptimisticConflict
	}
	r := m.reservations[params.ReservationID]
	if r == nil || r.Status != domain.ReservationStatusPending {
		return 0, domain.ErrReservationNotPending
	}
	seat := m.seats[params.SeatID]
	if seat == nil || seat.Status != domain.SeatStatusReserved {
		return 0, domain.ErrSeatNotAvailable
	}

	account.Balance -= params.Amount
	p.Status = domain.PaymentStatusSuccess
	p.DebitedAmount = params.Amount
	r.Status = domain.ReservationStatusSuccess
	seat.Status = domain.SeatStatusAssigned
	seat.Version++
	return account.Balance, nil
}

func (m memPayments) MarkFailed(ctx context.Context, paymentID, reason string) (domain.PaymentStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return "", domain.ErrPaymentNotFound
	}
	previous := p.Status
	if previous != domain.PaymentStatusSuccess && previous != domain.PaymentStatusFailed {
		p.Status = domain.PaymentStatusFailed
		p.FailureReason = reason
	}
	return previous, nil
}

func (m memPayments) Refund(ctx context.Context, paymentID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[paymentID]
	if !ok {
		return 0, domain.ErrPaymentNotFound
	}
	if p.DebitedAmount == 0 {
		return 0, nil
	}
	amount := p.DebitedAmount
	m.accounts[p.UserID].Balance += amount
	p.DebitedAmount = 0
	return amount, nil
}

func (m memPayments) ListStuck(ctx context.Context, before time.Time, limit int) ([]*domain.SettlementContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.SettlementContext
	for _, p := range m.payments {
		if p.Status != domain.PaymentStatusProcessing || !p.UpdatedAt.Before(before) {
			continue
		}
		r := m.reservations[p.ReservationID]
		saleID := ""
		if session := m.sessions[r.SaleSessionID]; session != nil {
			saleID = session.SaleID
		}
		out = append(out, &domain.SettlementContext{
			PaymentID:     p.ID,
			UserID:        p.UserID,
			ReservationID: r.ID,
			SeatID:        r.SeatID,
			SaleSessionID: r.SaleSessionID,
			SaleID:        saleID,
			TokenID:       m.paymentTokens[p.ID],
			Amount:        p.Amount,
		})
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var (
	_ repository.SaleRepository        = memSales{}
	_ repository.SaleSessionCatalog    = memSessions{}
	_ repository.SeatCatalog           = memSeats{}
	_ repository.AccountDirectory      = memAccounts{}
	_ repository.ReservationRepository = memReservations{}
	_ repository.PaymentRepository     = memPayments{}
)

// backdate moves a reservation's deadline into the past
func (s *memStore) backdate(reservationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := s.reservations[reservationID]
	r.ExpiresAt = time.Now().Add(-time.Second)
}

func (s *memStore) setPaymentStatus(reservationID string, status domain.PaymentStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ReservationID == reservationID {
			p.Status = status
			p.UpdatedAt = time.Now().Add(-time.Hour)
		}
	}
}

// debit simulates a settlement that took the money and then died
func (s *memStore) debit(reservationID string, amount int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.ReservationID == reservationID {
			p.Status = domain.PaymentStatusProcessing
			p.DebitedAmount = amount
			s.accounts[p.UserID].Balance -= amount
		}
	}
}
