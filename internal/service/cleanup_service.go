package service

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/repository"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// CleanupService repeats the post-payment cleanup of the settle path for
// payment.success events, so a crash right after commit leaves nothing behind
type CleanupService interface {
	AfterPayment(ctx context.Context, event *domain.PaymentOutcomeEvent) error
}

type cleanupService struct {
	holds repository.HoldRepository
	queue QueueService
}

// NewCleanupService creates a new cleanup service
func NewCleanupService(holds repository.HoldRepository, queue QueueService) CleanupService {
	return &cleanupService{holds: holds, queue: queue}
}

func (s *cleanupService) AfterPayment(ctx context.Context, event *domain.PaymentOutcomeEvent) error {
	ctx, span := telemetry.StartSpan(ctx, "service.cleanup.after_payment")
	defer span.End()

	span.SetAttributes(
		attribute.String("reservation_id", event.ReservationID),
		attribute.String("token_id", event.TokenID),
	)

	err := errors.Join(
		s.holds.Release(ctx, event.SeatID, event.UserID, event.ReservationID),
		s.queue.Revoke(ctx, event.TokenID),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}
