package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/lock"
	"github.com/prohmpiriya/ticket-rush/internal/metrics"
	"github.com/prohmpiriya/ticket-rush/internal/repository"
	"github.com/prohmpiriya/ticket-rush/pkg/logger"
	"github.com/prohmpiriya/ticket-rush/pkg/retry"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// ClaimSeatRequest asks for one seat of a sale session
type ClaimSeatRequest struct {
	TokenID   string `json:"token_id"`
	SaleID    string `json:"sale_id"`
	SessionID string `json:"session_id"`
	SeatID    string `json:"seat_id"`
}

// ClaimSeatResult is returned by a successful claim
type ClaimSeatResult struct {
	Reservation *domain.Reservation `json:"reservation"`
	PaymentID   string              `json:"payment_id"`
	Amount      int64               `json:"amount"`
}

// ExpiryScheduler schedules the expiry of a reservation at its deadline
type ExpiryScheduler interface {
	ScheduleExpiry(ctx context.Context, reservationID string, at time.Time) error
}

// ReservationService defines the seat reservation operations
type ReservationService interface {
	// ClaimSeat reserves a seat for the holder of an ACTIVE token
	ClaimSeat(ctx context.Context, req *ClaimSeatRequest) (*ClaimSeatResult, error)

	// ExpireReservation expires one reservation if it is due. Reports whether it did.
	ExpireReservation(ctx context.Context, reservationID string) (bool, error)

	// SweepExpired expires up to limit due reservations and returns how many
	SweepExpired(ctx context.Context, limit int) (int, error)
}

// ReservationServiceConfig contains configuration for reservation service
type ReservationServiceConfig struct {
	ReservationTTL     time.Duration
	MaxConflictRetries int
	Clock              func() time.Time
}

type reservationService struct {
	queue        QueueService
	locker       lock.Locker
	sales        repository.SaleCatalog
	sessions     repository.SaleSessionCatalog
	seats        repository.SeatCatalog
	reservations repository.ReservationRepository
	holds        repository.HoldRepository
	scheduler    ExpiryScheduler
	ttl          time.Duration
	maxRetries   int
	now          func() time.Time
	log          *logger.Logger
}

// NewReservationService creates a new reservation service. scheduler may be nil,
// the background sweep then is the only expiry path.
func NewReservationService(
	queue QueueService,
	locker lock.Locker,
	sales repository.SaleCatalog,
	sessions repository.SaleSessionCatalog,
	seats repository.SeatCatalog,
	reservations repository.ReservationRepository,
	holds repository.HoldRepository,
	scheduler ExpiryScheduler,
	cfg *ReservationServiceConfig,
) ReservationService {
	s := &reservationService{
		queue:        queue,
		locker:       locker,
		sales:        sales,
		sessions:     sessions,
		seats:        seats,
		reservations: reservations,
		holds:        holds,
		scheduler:    scheduler,
		ttl:          domain.DefaultReservationTTL,
		maxRetries:   3,
		now:          time.Now,
		log:          logger.Get(),
	}
	if cfg != nil {
		if cfg.ReservationTTL > 0 {
			s.ttl = cfg.ReservationTTL
		}
		if cfg.MaxConflictRetries > 0 {
			s.maxRetries = cfg.MaxConflictRetries
		}
		if cfg.Clock != nil {
			s.now = cfg.Clock
		}
	}
	return s
}

func isOptimisticConflict(err error) bool {
	return errors.Is(err, domain.ErrOptimisticConflict)
}

func (s *reservationService) ClaimSeat(ctx context.Context, req *ClaimSeatRequest) (*ClaimSeatResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.claim_seat")
	defer span.End()

	span.SetAttributes(
		attribute.String("sale_id", req.SaleID),
		attribute.String("session_id", req.SessionID),
		attribute.String("seat_id", req.SeatID),
	)

	token, err := s.queue.ValidateActive(ctx, req.TokenID, req.SaleID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	userID := token.UserID
	span.SetAttributes(attribute.String("user_id", userID))

	var result *ClaimSeatResult
	err = s.locker.WithLock(ctx, lock.SeatKey(req.SeatID), func(ctx context.Context) error {
		return retry.Run(ctx, retry.ConflictConfig(s.maxRetries, isOptimisticConflict), func(ctx context.Context) error {
			claimed, err := s.claim(ctx, userID, req)
			if err != nil {
				return err
			}
			result = claimed
			return nil
		})
	})
	if err != nil {
		if domain.IsConflictError(err) {
			metrics.RecordClaimConflict(ctx, conflictReason(err))
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	reservation := result.Reservation

	// the delayed task is best-effort; the sweep covers a missed schedule
	if s.scheduler != nil {
		if err := s.scheduler.ScheduleExpiry(ctx, reservation.ID, reservation.ExpiresAt); err != nil {
			s.log.Warn(fmt.Sprintf("Failed to schedule expiry of reservation %s", reservation.ID), zap.Error(err))
		}
	}

	holdErr := retry.Run(ctx, &retry.Config{
		MaxRetries:      2,
		InitialInterval: 20 * time.Millisecond,
		MaxInterval:     200 * time.Millisecond,
		RetryIf:         domain.IsInfrastructureError,
	}, func(ctx context.Context) error {
		return s.holds.Hold(ctx, req.SeatID, userID, reservation.ID, reservation.ExpiresAt.Sub(s.now()))
	})
	if holdErr != nil {
		s.log.ErrorContext(ctx, fmt.Sprintf("Failed to hold seat %s for reservation %s", req.SeatID, reservation.ID), zap.Error(holdErr))
		span.RecordError(holdErr)
		span.SetStatus(codes.Error, holdErr.Error())
		return nil, fmt.Errorf("%w: seat hold not written: %w", domain.ErrInfrastructure, holdErr)
	}

	metrics.RecordClaim(ctx, req.SessionID)
	span.SetAttributes(attribute.String("reservation_id", reservation.ID))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// claim re-reads the catalog and writes the claim. It runs under the seat lock.
func (s *reservationService) claim(ctx context.Context, userID string, req *ClaimSeatRequest) (*ClaimSeatResult, error) {
	now := s.now()

	sale, err := s.sales.Get(ctx, req.SaleID)
	if err != nil {
		return nil, err
	}
	if !sale.IsOpen(now) {
		return nil, domain.ErrSaleNotOpen
	}

	session, err := s.sessions.Get(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.SaleID != sale.ID {
		return nil, domain.ErrSessionNotFound
	}
	if !session.IsBookable(now) {
		return nil, domain.ErrSessionClosed
	}

	seat, err := s.seats.Find(ctx, req.SeatID)
	if err != nil {
		return nil, err
	}
	if !seat.BelongsTo(session.ID) {
		return nil, domain.ErrSeatNotFound
	}
	if !seat.IsAvailable() || !session.CanDecrement() {
		return nil, domain.ErrSeatNotAvailable
	}

	reservation := &domain.Reservation{
		ID:            uuid.New().String(),
		UserID:        userID,
		SeatID:        seat.ID,
		SaleSessionID: session.ID,
		Status:        domain.ReservationStatusPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.ttl),
		UpdatedAt:     now,
	}
	payment := &domain.Payment{
		ID:            uuid.New().String(),
		UserID:        userID,
		ReservationID: reservation.ID,
		Amount:        seat.Price,
		Status:        domain.PaymentStatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.reservations.CreateClaim(ctx, repository.CreateClaimParams{
		Reservation:    reservation,
		Payment:        payment,
		SeatVersion:    seat.Version,
		SessionVersion: session.Version,
	}); err != nil {
		return nil, err
	}

	return &ClaimSeatResult{Reservation: reservation, PaymentID: payment.ID, Amount: payment.Amount}, nil
}

func conflictReason(err error) string {
	if lock.IsConflict(err) {
		return "lock"
	}
	return "version"
}

func (s *reservationService) ExpireReservation(ctx context.Context, reservationID string) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.expire")
	defer span.End()

	span.SetAttributes(attribute.String("reservation_id", reservationID))

	var result *repository.ExpireResult
	err := s.locker.WithLock(ctx, lock.ReservationKey(reservationID), func(ctx context.Context) error {
		var err error
		result, err = s.reservations.ExpireReservation(ctx, reservationID, s.now())
		return err
	})
	if errors.Is(err, domain.ErrReservationNotFound) {
		span.SetStatus(codes.Ok, "not found")
		return false, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
	if result.Outcome != repository.ExpireOutcomeExpired {
		span.SetStatus(codes.Ok, "")
		return false, nil
	}

	r := result.Reservation
	if err := s.holds.Release(ctx, r.SeatID, r.UserID, r.ID); err != nil {
		s.log.Warn(fmt.Sprintf("Failed to release hold of expired reservation %s", r.ID), zap.Error(err))
	}

	metrics.RecordExpiration(ctx, 1)
	span.SetStatus(codes.Ok, "")
	return true, nil
}

func (s *reservationService) SweepExpired(ctx context.Context, limit int) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.reservation.sweep_expired")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}

	ids, err := s.reservations.ListExpired(ctx, s.now(), limit)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	expired := 0
	for _, id := range ids {
		ok, err := s.ExpireReservation(ctx, id)
		if err != nil {
			// a busy lock means settlement holds the reservation right now
			if !lock.IsConflict(err) {
				s.log.Warn(fmt.Sprintf("Failed to expire reservation %s", id), zap.Error(err))
			}
			continue
		}
		if ok {
			expired++
		}
	}

	span.SetAttributes(
		attribute.Int("candidates", len(ids)),
		attribute.Int("expired", expired),
	)
	span.SetStatus(codes.Ok, "")
	return expired, nil
}
