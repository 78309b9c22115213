package service

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/repository"
	"github.com/prohmpiriya/ticket-rush/pkg/logger"
	"github.com/prohmpiriya/ticket-rush/pkg/retry"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// SoldOutService records when a sale sells out and ranks sales by how fast
type SoldOutService interface {
	// Check marks the sale of a payment.success event sold out when no seat is
	// left. Reports whether the sale is now sold out.
	Check(ctx context.Context, event *domain.PaymentOutcomeEvent) (bool, error)

	// Ranking returns the n fastest sold-out sales
	Ranking(ctx context.Context, n int64) ([]repository.RankEntry, error)
}

// SoldOutServiceConfig contains configuration for sold-out service
type SoldOutServiceConfig struct {
	Retry *retry.Config
	Clock func() time.Time
}

type soldOutService struct {
	sales repository.SaleRepository
	rank  repository.RankRepository
	retry *retry.Config
	now   func() time.Time
	log   *logger.Logger
}

// NewSoldOutService creates a new sold-out service
func NewSoldOutService(sales repository.SaleRepository, rank repository.RankRepository, cfg *SoldOutServiceConfig) SoldOutService {
	s := &soldOutService{
		sales: sales,
		rank:  rank,
		retry: &retry.Config{
			MaxRetries:      3,
			InitialInterval: 50 * time.Millisecond,
			MaxInterval:     time.Second,
			JitterFactor:    0.2,
			RetryIf:         domain.IsInfrastructureError,
		},
		now: time.Now,
		log: logger.Get(),
	}
	if cfg != nil {
		if cfg.Retry != nil {
			s.retry = cfg.Retry
		}
		if cfg.Clock != nil {
			s.now = cfg.Clock
		}
	}
	return s
}

func (s *soldOutService) Check(ctx context.Context, event *domain.PaymentOutcomeEvent) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.sold_out.check")
	defer span.End()

	span.SetAttributes(attribute.String("sale_id", event.SaleID))

	var soldOut bool
	err := retry.Run(ctx, s.retryConfig(), func(ctx context.Context) error {
		available, reserved, err := s.sales.RemainingInventory(ctx, event.SaleID)
		if err != nil {
			return err
		}
		if available > 0 || reserved > 0 {
			soldOut = false
			return nil
		}

		sale, marked, err := s.sales.MarkSoldOut(ctx, event.SaleID, s.now())
		if err != nil {
			return err
		}
		if marked {
			s.log.Info(fmt.Sprintf("Sale %s sold out after %ds", sale.ID, sale.SoldOutScore()))
		}

		// the leaderboard keeps the first score, so a redelivery rewrites nothing
		if _, err := s.rank.Record(ctx, sale.ID, sale.SoldOutScore()); err != nil {
			return err
		}
		soldOut = true
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return false, err
	}

	span.SetAttributes(attribute.Bool("sold_out", soldOut))
	span.SetStatus(codes.Ok, "")
	return soldOut, nil
}

// retryConfig copies the template; retry.New fills zero fields in place
func (s *soldOutService) retryConfig() *retry.Config {
	cfg := *s.retry
	return &cfg
}

func (s *soldOutService) Ranking(ctx context.Context, n int64) ([]repository.RankEntry, error) {
	if n <= 0 {
		n = 10
	}
	return s.rank.Top(ctx, n)
}
