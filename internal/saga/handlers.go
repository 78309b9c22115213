package saga

import (
	"context"
	"fmt"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/service"
	"github.com/prohmpiriya/ticket-rush/pkg/logger"
	"github.com/prohmpiriya/ticket-rush/pkg/retry"
)

// EventHandler processes one payment outcome event. Handlers must be
// idempotent, since a record can be delivered more than once.
type EventHandler interface {
	Handle(ctx context.Context, event *domain.PaymentOutcomeEvent) error
}

// HandlerFunc adapts a function to EventHandler
type HandlerFunc func(ctx context.Context, event *domain.PaymentOutcomeEvent) error

// Handle calls f
func (f HandlerFunc) Handle(ctx context.Context, event *domain.PaymentOutcomeEvent) error {
	return f(ctx, event)
}

// CompensationHandler runs the compensation saga for payment.failure events
func CompensationHandler(compensation service.CompensationService) EventHandler {
	log := logger.Get()
	return HandlerFunc(func(ctx context.Context, event *domain.PaymentOutcomeEvent) error {
		if event.EventType != domain.PaymentEventFailure {
			return retry.Permanent(fmt.Errorf("unexpected %s event on the compensation path", event.EventType))
		}
		instance, err := compensation.Compensate(ctx, event)
		if err != nil {
			return err
		}
		log.Info(fmt.Sprintf("Compensation of payment %s %s", event.PaymentID, instance.Status))
		return nil
	})
}

// CleanupHandler releases the hold and revokes the token after a successful payment
func CleanupHandler(cleanup service.CleanupService) EventHandler {
	return HandlerFunc(func(ctx context.Context, event *domain.PaymentOutcomeEvent) error {
		if event.EventType != domain.PaymentEventSuccess {
			return nil
		}
		return cleanup.AfterPayment(ctx, event)
	})
}

// SoldOutHandler checks whether a successful payment sold the sale out
func SoldOutHandler(soldOut service.SoldOutService) EventHandler {
	return HandlerFunc(func(ctx context.Context, event *domain.PaymentOutcomeEvent) error {
		if event.EventType != domain.PaymentEventSuccess || event.SaleID == "" {
			return nil
		}
		_, err := soldOut.Check(ctx, event)
		return err
	})
}

// ReportHandler counts every outcome into the sale report
func ReportHandler(reports service.ReportService) EventHandler {
	return HandlerFunc(func(ctx context.Context, event *domain.PaymentOutcomeEvent) error {
		if event.SaleID == "" {
			return nil
		}
		_, err := reports.Record(ctx, event)
		return err
	})
}
