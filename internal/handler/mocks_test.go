package handler

import (
	"context"
	"errors"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/service"
)

// MockQueueService is a mock implementation of QueueService
type MockQueueService struct {
	mock.Mock
}

func (m *MockQueueService) IssueToken(ctx context.Context, userID, saleID string) (*domain.QueueToken, error) {
	args := m.Called(ctx, userID, saleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QueueToken), args.Error(1)
}

func (m *MockQueueService) QueueStatus(ctx context.Context, saleID, tokenID string) (*domain.QueueToken, error) {
	args := m.Called(ctx, saleID, tokenID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QueueToken), args.Error(1)
}

func (m *MockQueueService) ValidateActive(ctx context.Context, tokenID, saleID string) (*domain.QueueToken, error) {
	args := m.Called(ctx, tokenID, saleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QueueToken), args.Error(1)
}

func (m *MockQueueService) Promote(ctx context.Context, saleID string) (int, error) {
	args := m.Called(ctx, saleID)
	return args.Int(0), args.Error(1)
}

func (m *MockQueueService) ExpireStaleTokens(ctx context.Context, saleID string) (*domain.CleanupResult, error) {
	args := m.Called(ctx, saleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CleanupResult), args.Error(1)
}

func (m *MockQueueService) Revoke(ctx context.Context, tokenID string) error {
	args := m.Called(ctx, tokenID)
	return args.Error(0)
}

// MockReservationService is a mock implementation of ReservationService
type MockReservationService struct {
	mock.Mock
}

func (m *MockReservationService) ClaimSeat(ctx context.Context, req *service.ClaimSeatRequest) (*service.ClaimSeatResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.ClaimSeatResult), args.Error(1)
}

func (m *MockReservationService) ExpireReservation(ctx context.Context, reservationID string) (bool, error) {
	args := m.Called(ctx, reservationID)
	return args.Bool(0), args.Error(1)
}

func (m *MockReservationService) SweepExpired(ctx context.Context, limit int) (int, error) {
	args := m.Called(ctx, limit)
	return args.Int(0), args.Error(1)
}

// MockPaymentService is a mock implementation of PaymentService
type MockPaymentService struct {
	mock.Mock
}

func (m *MockPaymentService) Settle(ctx context.Context, req *service.SettleRequest) (*domain.SettlementResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SettlementResult), args.Error(1)
}

func (m *MockPaymentService) RecoverStuck(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	args := m.Called(ctx, olderThan, limit)
	return args.Int(0), args.Error(1)
}

type stubChecker struct {
	err error
}

func (s stubChecker) HealthCheck(ctx context.Context) error { return s.err }

var errDown = errors.New("connection refused")
