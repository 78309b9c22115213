package service

import (
	"context"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/repository"
	"github.com/prohmpiriya/ticket-rush/pkg/kafka"
)

// MockQueueRepository is a mock implementation of QueueRepository
type MockQueueRepository struct {
	mock.Mock
}

func (m *MockQueueRepository) LoadScripts(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockQueueRepository) IssueToken(ctx context.Context, params repository.IssueTokenParams) (*repository.IssueTokenResult, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.IssueTokenResult), args.Error(1)
}

func (m *MockQueueRepository) GetToken(ctx context.Context, tokenID string) (*domain.QueueToken, error) {
	args := m.Called(ctx, tokenID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.QueueToken), args.Error(1)
}

func (m *MockQueueRepository) WaitingRank(ctx context.Context, saleID, tokenID string) (int64, error) {
	args := m.Called(ctx, saleID, tokenID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQueueRepository) Promote(ctx context.Context, params repository.PromoteParams) ([]string, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockQueueRepository) ExpireStale(ctx context.Context, saleID string, now time.Time, waitingTTL time.Duration) (*domain.CleanupResult, error) {
	args := m.Called(ctx, saleID, now, waitingTTL)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.CleanupResult), args.Error(1)
}

func (m *MockQueueRepository) Revoke(ctx context.Context, tokenID string) (bool, error) {
	args := m.Called(ctx, tokenID)
	return args.Bool(0), args.Error(1)
}

func (m *MockQueueRepository) ActiveCount(ctx context.Context, saleID string, now time.Time) (int64, error) {
	args := m.Called(ctx, saleID, now)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQueueRepository) WaitingCount(ctx context.Context, saleID string) (int64, error) {
	args := m.Called(ctx, saleID)
	return args.Get(0).(int64), args.Error(1)
}

// MockSaleRepository is a mock implementation of SaleRepository
type MockSaleRepository struct {
	mock.Mock
}

func (m *MockSaleRepository) Exists(ctx context.Context, saleID string) (bool, error) {
	args := m.Called(ctx, saleID)
	return args.Bool(0), args.Error(1)
}

func (m *MockSaleRepository) Get(ctx context.Context, saleID string) (*domain.Sale, error) {
	args := m.Called(ctx, saleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Sale), args.Error(1)
}

func (m *MockSaleRepository) ListOpen(ctx context.Context, openedBefore time.Time) ([]*domain.Sale, error) {
	args := m.Called(ctx, openedBefore)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*domain.Sale), args.Error(1)
}

func (m *MockSaleRepository) RemainingInventory(ctx context.Context, saleID string) (int64, int64, error) {
	args := m.Called(ctx, saleID)
	return args.Get(0).(int64), args.Get(1).(int64), args.Error(2)
}

func (m *MockSaleRepository) MarkSoldOut(ctx context.Context, saleID string, at time.Time) (*domain.Sale, bool, error) {
	args := m.Called(ctx, saleID, at)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(*domain.Sale), args.Bool(1), args.Error(2)
}

// MockAccountDirectory is a mock implementation of AccountDirectory
type MockAccountDirectory struct {
	mock.Mock
}

func (m *MockAccountDirectory) Exists(ctx context.Context, userID string) (bool, error) {
	args := m.Called(ctx, userID)
	return args.Bool(0), args.Error(1)
}

func (m *MockAccountDirectory) Get(ctx context.Context, userID string) (*domain.Account, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Account), args.Error(1)
}

// MockRankRepository is a mock implementation of RankRepository
type MockRankRepository struct {
	mock.Mock
}

func (m *MockRankRepository) Record(ctx context.Context, saleID string, seconds int64) (bool, error) {
	args := m.Called(ctx, saleID, seconds)
	return args.Bool(0), args.Error(1)
}

func (m *MockRankRepository) Top(ctx context.Context, n int64) ([]repository.RankEntry, error) {
	args := m.Called(ctx, n)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.RankEntry), args.Error(1)
}

// MockReportRepository is a mock implementation of ReportRepository
type MockReportRepository struct {
	mock.Mock
}

func (m *MockReportRepository) LoadScripts(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockReportRepository) RecordOutcome(ctx context.Context, event *domain.PaymentOutcomeEvent) (bool, error) {
	args := m.Called(ctx, event)
	return args.Bool(0), args.Error(1)
}

func (m *MockReportRepository) Get(ctx context.Context, saleID string) (*domain.SaleReport, error) {
	args := m.Called(ctx, saleID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.SaleReport), args.Error(1)
}

// MockHoldRepository is a mock implementation of HoldRepository
type MockHoldRepository struct {
	mock.Mock
}

func (m *MockHoldRepository) Hold(ctx context.Context, seatID, userID, reservationID string, ttl time.Duration) error {
	return m.Called(ctx, seatID, userID, reservationID, ttl).Error(0)
}

func (m *MockHoldRepository) IsHeld(ctx context.Context, seatID, userID, reservationID string) (bool, error) {
	args := m.Called(ctx, seatID, userID, reservationID)
	return args.Bool(0), args.Error(1)
}

func (m *MockHoldRepository) Release(ctx context.Context, seatID, userID, reservationID string) error {
	return m.Called(ctx, seatID, userID, reservationID).Error(0)
}

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
	return m.Called(ctx, tokenID).Error(0)
}

// MockProducer is a mock implementation of MessageProducer
type MockProducer struct {
	mock.Mock
}

func (m *MockProducer) Produce(ctx context.Context, msg *kafka.Message) error {
	return m.Called(ctx, msg).Error(0)
}

func (m *MockProducer) Close() {
	m.Called()
}

// MockExpiryScheduler is a mock implementation of ExpiryScheduler
type MockExpiryScheduler struct {
	mock.Mock
}

func (m *MockExpiryScheduler) ScheduleExpiry(ctx context.Context, reservationID string, at time.Time) error {
	return m.Called(ctx, reservationID, at).Error(0)
}

// recordingPublisher keeps every published event
type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.PaymentOutcomeEvent
	err    error
}

func (p *recordingPublisher) PublishPaymentOutcome(ctx context.Context, event *domain.PaymentOutcomeEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) published() []*domain.PaymentOutcomeEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*domain.PaymentOutcomeEvent(nil), p.events...)
}

func (p *recordingPublisher) ofType(eventType domain.PaymentEventType) []*domain.PaymentOutcomeEvent {
	var out []*domain.PaymentOutcomeEvent
	for _, e := range p.published() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (p *recordingPublisher) failWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}
