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
	"github.com/prohmpiriya/ticket-rush/internal/metrics"
	"github.com/prohmpiriya/ticket-rush/internal/repository"
	"github.com/prohmpiriya/ticket-rush/pkg/logger"
	"github.com/prohmpiriya/ticket-rush/pkg/saga"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// Compensation step names
const (
	StepFailPayment     = "fail-payment"
	StepRefund          = "refund"
	StepFailReservation = "fail-reservation"
	StepReleaseSeat     = "release-seat"
	StepReleaseHold     = "release-hold"
	StepRevokeToken     = "revoke-token"
)

// CompensationService undoes the effects of a failed payment
type CompensationService interface {
	// Compensate runs the compensation saga for a payment.failure event. Running
	// it again for the same event does nothing more than the first run.
	Compensate(ctx context.Context, event *domain.PaymentOutcomeEvent) (*saga.Instance, error)
}

// CompensationServiceConfig contains configuration for compensation service
type CompensationServiceConfig struct {
	// StepRetries is the retry budget of each database step
	StepRetries int
	StepTimeout time.Duration
}

type compensationService struct {
	runner       *saga.Runner
	payments     repository.PaymentRepository
	reservations repository.ReservationRepository
	holds        repository.HoldRepository
	queue        QueueService
	stepRetries  int
	stepTimeout  time.Duration
	log          *logger.Logger
}

// NewCompensationService creates a new compensation service
func NewCompensationService(
	runner *saga.Runner,
	payments repository.PaymentRepository,
	reservations repository.ReservationRepository,
	holds repository.HoldRepository,
	queue QueueService,
	cfg *CompensationServiceConfig,
) CompensationService {
	s := &compensationService{
		runner:       runner,
		payments:     payments,
		reservations: reservations,
		holds:        holds,
		queue:        queue,
		stepRetries:  3,
		stepTimeout:  5 * time.Second,
		log:          logger.Get(),
	}
	if cfg != nil {
		if cfg.StepRetries > 0 {
			s.stepRetries = cfg.StepRetries
		}
		if cfg.StepTimeout > 0 {
			s.stepTimeout = cfg.StepTimeout
		}
	}
	return s
}

func (s *compensationService) Compensate(ctx context.Context, event *domain.PaymentOutcomeEvent) (*saga.Instance, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.compensation.compensate")
	defer span.End()

	span.SetAttributes(
		attribute.String("event_id", event.EventID),
		attribute.String("payment_id", event.PaymentID),
		attribute.String("reservation_id", event.ReservationID),
		attribute.String("failure_kind", string(event.FailureKind)),
	)

	if event.EventType != domain.PaymentEventFailure {
		span.SetStatus(codes.Error, "not a failure event")
		return nil, fmt.Errorf("compensation needs a %s event, got %q", domain.PaymentEventFailure, event.EventType)
	}

	instance, err := s.runner.Execute(ctx, s.definition(event), event.EventID)
	if err != nil {
		metrics.RecordCompensation(ctx, string(saga.StatusFailed))
		s.log.ErrorContext(ctx, fmt.Sprintf("Compensation of payment %s failed", event.PaymentID),
			zap.String("event_id", event.EventID),
			zap.String("user_id", event.UserID),
			zap.String("reservation_id", event.ReservationID),
			zap.String("seat_id", event.SeatID),
			zap.String("sale_id", event.SaleID),
			zap.Int64("amount", event.Amount),
			zap.String("failure_kind", string(event.FailureKind)),
			zap.Error(err),
		)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return instance, err
	}

	metrics.RecordCompensation(ctx, string(instance.Status))
	span.SetAttributes(attribute.String("status", string(instance.Status)))
	span.SetStatus(codes.Ok, "")
	return instance, nil
}

func (s *compensationService) definition(event *domain.PaymentOutcomeEvent) *saga.Definition {
	step := func(name string, retries int, run saga.StepFunc) *saga.Step {
		return &saga.Step{Name: name, Run: run, Timeout: s.stepTimeout, Retries: retries}
	}

	return saga.NewDefinition("payment-compensation").
		AddStepWith(step(StepFailPayment, s.stepRetries, func(ctx context.Context) error {
			return s.failPayment(ctx, event)
		})).
		AddStepWith(step(StepRefund, s.stepRetries, func(ctx context.Context) error {
			return s.refund(ctx, event)
		})).
		AddStepWith(step(StepFailReservation, s.stepRetries, func(ctx context.Context) error {
			_, err := s.reservations.MarkFailed(ctx, event.ReservationID)
			return err
		})).
		AddStepWith(step(StepReleaseSeat, s.stepRetries, func(ctx context.Context) error {
			released, err := s.reservations.ReleaseSeat(ctx, event.ReservationID)
			if err != nil {
				return err
			}
			if !released {
				return fmt.Errorf("%w: seat %s already released or owned by another reservation", saga.ErrSkipped, event.SeatID)
			}
			return nil
		})).
		AddStepWith(step(StepReleaseHold, 1, func(ctx context.Context) error {
			return s.holds.Release(ctx, event.SeatID, event.UserID, event.ReservationID)
		})).
		AddStepWith(step(StepRevokeToken, 1, func(ctx context.Context) error {
			if event.TokenID == "" {
				return fmt.Errorf("%w: event carries no token", saga.ErrSkipped)
			}
			return s.queue.Revoke(ctx, event.TokenID)
		}))
}

func (s *compensationService) failPayment(ctx context.Context, event *domain.PaymentOutcomeEvent) error {
	previous, err := s.payments.MarkFailed(ctx, event.PaymentID, string(event.FailureKind))
	if errors.Is(err, domain.ErrPaymentNotFound) {
		return fmt.Errorf("%w: payment %s not found", saga.ErrHalt, event.PaymentID)
	}
	if err != nil {
		return err
	}
	if previous == domain.PaymentStatusSuccess {
		return fmt.Errorf("%w: payment %s already succeeded", saga.ErrHalt, event.PaymentID)
	}
	return nil
}

func (s *compensationService) refund(ctx context.Context, event *domain.PaymentOutcomeEvent) error {
	if event.IsPreDebit() {
		return fmt.Errorf("%w: %s fails before any debit", saga.ErrSkipped, event.FailureKind)
	}

	refunded, err := s.payments.Refund(ctx, event.PaymentID)
	if err != nil {
		return err
	}
	if refunded > 0 {
		s.log.Info(fmt.Sprintf("Refunded %d to user %s for payment %s", refunded, event.UserID, event.PaymentID))
	}
	return nil
}
