package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/lock"
	"github.com/prohmpiriya/ticket-rush/internal/repository"
	pkgredis "github.com/prohmpiriya/ticket-rush/pkg/redis"
	"github.com/prohmpiriya/ticket-rush/pkg/saga"
)

const (
	envSale    = "sale-1"
	envSession = "session-1"
	envUser    = "user-1"
	envSeats   = 10
	seatPrice  = int64(50000)
)

// testEnv wires the services on miniredis and an in-memory relational store
type testEnv struct {
	mr           *miniredis.Miniredis
	store        *memStore
	queueRepo    *repository.RedisQueueRepository
	holds        *repository.RedisHoldRepository
	locker       lock.Locker
	publisher    *recordingPublisher
	queue        QueueService
	reservations ReservationService
	payments     PaymentService
	compensation CompensationService
}

func newTestEnv(t *testing.T, maxActive int) *testEnv {
	t.Helper()
	ctx := context.Background()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	client := pkgredis.NewFromClient(rdb, nil)

	queueRepo := repository.NewRedisQueueRepository(client)
	require.NoError(t, queueRepo.LoadScripts(ctx))
	holds := repository.NewRedisHoldRepository(client)
	locker := lock.NewRedisLocker(rdb, &lock.Config{
		WaitTimeout:     10 * time.Second,
		LeaseTimeout:    10 * time.Second,
		MaxPollInterval: 5 * time.Millisecond,
	})

	now := time.Now()
	store := newMemStore()
	store.addSale(domain.Sale{ID: envSale, Title: "Spring Concert", OpenTime: now.Add(-time.Hour)})
	store.addSession(domain.SaleSession{
		ID:                 envSession,
		SaleID:             envSale,
		Date:               now.Add(48 * time.Hour),
		Deadline:           now.Add(24 * time.Hour),
		TotalSeats:         envSeats,
		AvailableSeatCount: envSeats,
		Version:            1,
	})
	for i := 1; i <= envSeats; i++ {
		store.addSeat(domain.Seat{
			ID:            seatID(i),
			SaleSessionID: envSession,
			SeatNo:        i,
			Price:         seatPrice,
			Grade:         "VIP",
			Status:        domain.SeatStatusAvailable,
			Version:       1,
		})
	}
	store.addAccount(envUser, 100000)

	publisher := &recordingPublisher{}
	queue := NewQueueService(queueRepo, memSales{store}, memAccounts{store}, &QueueServiceConfig{MaxActive: maxActive})
	reservations := NewReservationService(queue, locker, memSales{store}, memSessions{store}, memSeats{store},
		memReservations{store}, holds, nil, &ReservationServiceConfig{MaxConflictRetries: 50})
	payments := NewPaymentService(queue, locker, memReservations{store}, memSessions{store}, memPayments{store}, memAccounts{store},
		holds, publisher, nil)
	runner := saga.NewRunner(saga.NewMemoryStore(), &saga.RunnerConfig{
		StepRetryInterval:    time.Millisecond,
		MaxStepRetryInterval: 5 * time.Millisecond,
	})
	compensation := NewCompensationService(runner, memPayments{store}, memReservations{store}, holds, queue, nil)

	return &testEnv{
		mr:           mr,
		store:        store,
		queueRepo:    queueRepo,
		holds:        holds,
		locker:       locker,
		publisher:    publisher,
		queue:        queue,
		reservations: reservations,
		payments:     payments,
		compensation: compensation,
	}
}

func seatID(i int) string {
	return fmt.Sprintf("seat-%d", i)
}

// activeToken issues a token for userID and requires it to be ACTIVE
func (e *testEnv) activeToken(t *testing.T, userID string) *domain.QueueToken {
	t.Helper()
	token, err := e.queue.IssueToken(context.Background(), userID, envSale)
	require.NoError(t, err)
	require.Equal(t, domain.TokenStatusActive, token.Status)
	return token
}

// claim claims seat i for the token holder
func (e *testEnv) claim(t *testing.T, token *domain.QueueToken, i int) *ClaimSeatResult {
	t.Helper()
	result, err := e.reservations.ClaimSeat(context.Background(), &ClaimSeatRequest{
		TokenID:   token.TokenID,
		SaleID:    envSale,
		SessionID: envSession,
		SeatID:    seatID(i),
	})
	require.NoError(t, err)
	return result
}

// isHeld reports whether userID holds seat for any reservation
func (e *testEnv) isHeld(t *testing.T, seat, userID string) bool {
	t.Helper()
	return e.mr.Exists("seat:hold:" + seat + ":" + userID)
}
