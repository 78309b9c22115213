package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/lock"
	"github.com/prohmpiriya/ticket-rush/internal/metrics"
	"github.com/prohmpiriya/ticket-rush/internal/repository"
	"github.com/prohmpiriya/ticket-rush/pkg/logger"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// SettleRequest asks to pay for a reservation
type SettleRequest struct {
	TokenID       string `json:"token_id"`
	ReservationID string `json:"reservation_id"`
}

// PaymentService defines the payment operations
type PaymentService interface {
	// Settle debits the user and finalises the reservation. Failures after the
	// payment entered PROCESSING publish a payment.failure event.
	Settle(ctx context.Context, req *SettleRequest) (*domain.SettlementResult, error)

	// RecoverStuck publishes a failure event for payments left in PROCESSING
	// longer than olderThan and returns how many were handed to compensation
	RecoverStuck(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

// PaymentServiceConfig contains configuration for payment service
type PaymentServiceConfig struct {
	Clock func() time.Time
}

type paymentService struct {
	queue        QueueService
	locker       lock.Locker
	reservations repository.ReservationRepository
	sessions     repository.SaleSessionCatalog
	payments     repository.PaymentRepository
	accounts     repository.AccountDirectory
	holds        repository.HoldRepository
	publisher    EventPublisher
	now          func() time.Time
	log          *logger.Logger
}

// NewPaymentService creates a new payment service
func NewPaymentService(
	queue QueueService,
	locker lock.Locker,
	reservations repository.ReservationRepository,
	sessions repository.SaleSessionCatalog,
	payments repository.PaymentRepository,
	accounts repository.AccountDirectory,
	holds repository.HoldRepository,
	publisher EventPublisher,
	cfg *PaymentServiceConfig,
) PaymentService {
	if publisher == nil {
		publisher = NewNoOpEventPublisher()
	}
	s := &paymentService{
		queue:        queue,
		locker:       locker,
		reservations: reservations,
		sessions:     sessions,
		payments:     payments,
		accounts:     accounts,
		holds:        holds,
		publisher:    publisher,
		now:          time.Now,
		log:          logger.Get(),
	}
	if cfg != nil && cfg.Clock != nil {
		s.now = cfg.Clock
	}
	return s
}

func (s *paymentService) Settle(ctx context.Context, req *SettleRequest) (*domain.SettlementResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.payment.settle")
	defer span.End()

	start := time.Now()
	span.SetAttributes(attribute.String("reservation_id", req.ReservationID))

	token, err := s.queue.ValidateActive(ctx, req.TokenID, "")
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("user_id", token.UserID))

	var result *domain.SettlementResult
	// user before reservation, always
	err = s.locker.WithLock(ctx, lock.UserKey(token.UserID), func(ctx context.Context) error {
		return s.locker.WithLock(ctx, lock.ReservationKey(req.ReservationID), func(ctx context.Context) error {
			var err error
			result, err = s.settle(ctx, token, req.ReservationID)
			return err
		})
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	metrics.RecordSettlement(ctx, token.SaleID, time.Since(start).Seconds())
	span.SetAttributes(attribute.String("payment_id", result.PaymentID))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// settle runs under the user and reservation locks
func (s *paymentService) settle(ctx context.Context, token *domain.QueueToken, reservationID string) (*domain.SettlementResult, error) {
	now := s.now()
	userID := token.UserID

	reservation, err := s.reservations.GetByID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	if !reservation.BelongsTo(userID) {
		return nil, domain.ErrReservationNotFound
	}
	session, err := s.sessions.Get(ctx, reservation.SaleSessionID)
	if err != nil {
		return nil, err
	}
	// a token admits its holder to one sale only
	if session.SaleID != token.SaleID {
		return nil, domain.ErrInvalidQueueToken
	}

	payment, err := s.payments.GetByReservationID(ctx, reservationID)
	if err != nil {
		return nil, err
	}
	// a duplicate request behind the locks finds the first one's result
	switch payment.Status {
	case domain.PaymentStatusSuccess:
		return nil, fmt.Errorf("%w: %w", domain.ErrAlreadyProcessed, domain.ErrAlreadyPaid)
	case domain.PaymentStatusProcessing:
		return nil, domain.ErrAlreadyProcessed
	}

	if err := reservation.CanSettle(userID, now); err != nil {
		return nil, err
	}

	started, err := s.payments.MarkProcessing(ctx, payment.ID, token.TokenID)
	if err != nil {
		return nil, err
	}
	if !started {
		return nil, domain.ErrAlreadyProcessed
	}

	sc := &domain.SettlementContext{
		PaymentID:     payment.ID,
		UserID:        userID,
		ReservationID: reservation.ID,
		SeatID:        reservation.SeatID,
		SaleSessionID: reservation.SaleSessionID,
		SaleID:        token.SaleID,
		TokenID:       token.TokenID,
		Amount:        payment.Amount,
	}

	// from here on the payment is PROCESSING and every failure goes to compensation
	balance, err := s.complete(ctx, sc, payment, now)
	if err != nil {
		s.publishFailure(ctx, sc, err)
		return nil, err
	}

	s.cleanupAfterSuccess(ctx, sc)

	if err := s.publisher.PublishPaymentOutcome(ctx, domain.NewPaymentSuccessEvent(sc)); err != nil {
		s.log.ErrorContext(ctx, fmt.Sprintf("Failed to publish success of payment %s", sc.PaymentID), zap.Error(err))
	}

	return &domain.SettlementResult{
		PaymentID:     payment.ID,
		ReservationID: reservation.ID,
		SeatID:        reservation.SeatID,
		Amount:        payment.Amount,
		Balance:       balance,
		Status:        domain.PaymentStatusSuccess,
		SettledAt:     now,
	}, nil
}

func (s *paymentService) complete(ctx context.Context, sc *domain.SettlementContext, payment *domain.Payment, now time.Time) (int64, error) {
	held, err := s.holds.IsHeld(ctx, sc.SeatID, sc.UserID, sc.ReservationID)
	if err != nil {
		return 0, err
	}
	if !held {
		return 0, domain.ErrSeatNotHeld
	}

	if err := payment.ValidateAmount(); err != nil {
		return 0, err
	}

	account, err := s.accounts.Get(ctx, sc.UserID)
	if err != nil {
		return 0, err
	}
	if !account.CanAfford(payment.Amount) {
		return 0, domain.ErrInsufficientBalance
	}

	return s.payments.CompleteSettlement(ctx, repository.CompleteSettlementParams{
		PaymentID:     sc.PaymentID,
		ReservationID: sc.ReservationID,
		SeatID:        sc.SeatID,
		UserID:        sc.UserID,
		Amount:        payment.Amount,
		SettledAt:     now,
	})
}

// publishFailure hands a failed payment to compensation. When the publish
// fails the payment stays PROCESSING and stuck recovery picks it up.
func (s *paymentService) publishFailure(ctx context.Context, sc *domain.SettlementContext, cause error) {
	kind := domain.FailureKindOf(cause)
	metrics.RecordPaymentFailure(ctx, string(kind))

	event := domain.NewPaymentFailureEvent(sc, kind, cause)
	if err := s.publisher.PublishPaymentOutcome(ctx, event); err != nil {
		s.log.ErrorContext(ctx, fmt.Sprintf("Failed to publish failure of payment %s", sc.PaymentID),
			zap.String("failure_kind", string(kind)),
			zap.Error(err),
		)
	}
}

func (s *paymentService) cleanupAfterSuccess(ctx context.Context, sc *domain.SettlementContext) {
	if err := s.holds.Release(ctx, sc.SeatID, sc.UserID, sc.ReservationID); err != nil {
		s.log.Warn(fmt.Sprintf("Failed to release hold of seat %s", sc.SeatID), zap.Error(err))
	}
	if err := s.queue.Revoke(ctx, sc.TokenID); err != nil {
		s.log.Warn(fmt.Sprintf("Failed to revoke token %s", sc.TokenID), zap.Error(err))
	}
}

func (s *paymentService) RecoverStuck(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.payment.recover_stuck")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}

	stuck, err := s.payments.ListStuck(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	recovered := 0
	for _, sc := range stuck {
		err := s.locker.WithLock(ctx, lock.ReservationKey(sc.ReservationID), func(ctx context.Context) error {
			payment, err := s.payments.GetByID(ctx, sc.PaymentID)
			if err != nil {
				return err
			}
			if payment.Status != domain.PaymentStatusProcessing {
				return errNotStuck
			}
			event := domain.NewPaymentFailureEvent(sc, domain.FailureStuck, nil)
			event.FailureMessage = fmt.Sprintf("payment processing since %s", payment.UpdatedAt.Format(time.RFC3339))
			return s.publisher.PublishPaymentOutcome(ctx, event)
		})
		switch {
		case err == nil:
			recovered++
			metrics.RecordPaymentFailure(ctx, string(domain.FailureStuck))
		case errors.Is(err, errNotStuck), lock.IsConflict(err):
		default:
			s.log.Warn(fmt.Sprintf("Failed to recover stuck payment %s", sc.PaymentID), zap.Error(err))
		}
	}

	span.SetAttributes(attribute.Int("recovered", recovered))
	span.SetStatus(codes.Ok, "")
	return recovered, nil
}

var errNotStuck = errors.New("payment no longer processing")
