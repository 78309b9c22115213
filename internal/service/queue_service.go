package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/prohmpiriya/ticket-rush/internal/domain"
	"github.com/prohmpiriya/ticket-rush/internal/metrics"
	"github.com/prohmpiriya/ticket-rush/internal/repository"
	"github.com/prohmpiriya/ticket-rush/pkg/logger"
	"github.com/prohmpiriya/ticket-rush/pkg/telemetry"
)

// QueueService defines the admission queue operations
type QueueService interface {
	// IssueToken admits a user to a sale, ACTIVE when a slot is free and
	// WAITING otherwise. Calling it again returns the same live token.
	IssueToken(ctx context.Context, userID, saleID string) (*domain.QueueToken, error)

	// QueueStatus returns the token with its current position
	QueueStatus(ctx context.Context, saleID, tokenID string) (*domain.QueueToken, error)

	// ValidateActive checks the token is ACTIVE, unexpired and, when saleID
	// is not empty, issued for that sale
	ValidateActive(ctx context.Context, tokenID, saleID string) (*domain.QueueToken, error)

	// Promote fills free ACTIVE slots of a sale from its waiting line
	Promote(ctx context.Context, saleID string) (int, error)

	// ExpireStaleTokens garbage-collects expired members of a sale's sets
	ExpireStaleTokens(ctx context.Context, saleID string) (*domain.CleanupResult, error)

	// Revoke removes a token. Revoking an unknown token is not an error.
	Revoke(ctx context.Context, tokenID string) error
}

// QueueServiceConfig contains configuration for queue service
type QueueServiceConfig struct {
	MaxActive  int
	ActiveTTL  time.Duration
	WaitingTTL time.Duration
	Clock      func() time.Time
}

// queueService implements QueueService
type queueService struct {
	queueRepo  repository.QueueRepository
	sales      repository.SaleCatalog
	accounts   repository.AccountDirectory
	maxActive  int
	activeTTL  time.Duration
	waitingTTL time.Duration
	now        func() time.Time
	log        *logger.Logger
}

// NewQueueService creates a new queue service
func NewQueueService(
	queueRepo repository.QueueRepository,
	sales repository.SaleCatalog,
	accounts repository.AccountDirectory,
	cfg *QueueServiceConfig,
) QueueService {
	s := &queueService{
		queueRepo:  queueRepo,
		sales:      sales,
		accounts:   accounts,
		maxActive:  50,
		activeTTL:  10 * time.Minute,
		waitingTTL: 10 * time.Minute,
		now:        time.Now,
		log:        logger.Get(),
	}
	if cfg != nil {
		if cfg.MaxActive > 0 {
			s.maxActive = cfg.MaxActive
		}
		if cfg.ActiveTTL > 0 {
			s.activeTTL = cfg.ActiveTTL
		}
		if cfg.WaitingTTL > 0 {
			s.waitingTTL = cfg.WaitingTTL
		}
		if cfg.Clock != nil {
			s.now = cfg.Clock
		}
	}
	return s
}

func (s *queueService) IssueToken(ctx context.Context, userID, saleID string) (*domain.QueueToken, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.queue.issue_token")
	defer span.End()

	if userID == "" {
		span.SetStatus(codes.Error, "invalid user_id")
		return nil, domain.ErrInvalidUserID
	}
	if saleID == "" {
		span.SetStatus(codes.Error, "invalid sale_id")
		return nil, domain.ErrInvalidSaleID
	}

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("sale_id", saleID),
	)

	exists, err := s.accounts.Exists(ctx, userID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !exists {
		span.SetStatus(codes.Error, "user not found")
		return nil, domain.ErrAccountNotFound
	}

	exists, err = s.sales.Exists(ctx, saleID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if !exists {
		span.SetStatus(codes.Error, "sale not found")
		return nil, domain.ErrSaleNotFound
	}

	// the existing token can expire between the script and the read; one
	// more attempt then issues a fresh one
	for attempt := 0; attempt < 2; attempt++ {
		now := s.now()
		result, err := s.queueRepo.IssueToken(ctx, repository.IssueTokenParams{
			TokenID:    uuid.New().String(),
			UserID:     userID,
			SaleID:     saleID,
			Now:        now,
			MaxActive:  s.maxActive,
			ActiveTTL:  s.activeTTL,
			WaitingTTL: s.waitingTTL,
		})
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		if result.Created {
			token := &domain.QueueToken{
				TokenID:   result.TokenID,
				UserID:    userID,
				SaleID:    saleID,
				Status:    result.Status,
				Position:  result.Position,
				IssuedAt:  now,
				ExpiresAt: result.ExpiresAt,
			}
			if token.Status == domain.TokenStatusActive {
				token.EnteredAt = &now
			}
			metrics.RecordTokenIssued(ctx, saleID, string(token.Status))
			span.SetAttributes(
				attribute.String("token_id", token.TokenID),
				attribute.String("status", string(token.Status)),
				attribute.Int64("position", token.Position),
			)
			span.SetStatus(codes.Ok, "")
			return token, nil
		}

		token, err := s.QueueStatus(ctx, saleID, result.TokenID)
		if err == nil {
			span.SetAttributes(attribute.Bool("existing", true))
			span.SetStatus(codes.Ok, "")
			return token, nil
		}
		if !errors.Is(err, domain.ErrInvalidQueueToken) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
	}

	span.SetStatus(codes.Error, "token vanished while issuing")
	return nil, fmt.Errorf("%w: token for user %s vanished while issuing", domain.ErrInfrastructure, userID)
}

func (s *queueService) QueueStatus(ctx context.Context, saleID, tokenID string) (*domain.QueueToken, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.queue.status")
	defer span.End()

	span.SetAttributes(
		attribute.String("sale_id", saleID),
		attribute.String("token_id", tokenID),
	)

	// a token promoted between the two reads shows up on the second pass
	for attempt := 0; attempt < 2; attempt++ {
		token, err := s.liveToken(ctx, tokenID, saleID)
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if token.Status == domain.TokenStatusActive {
			token.Position = 0
			span.SetStatus(codes.Ok, "")
			return token, nil
		}

		rank, err := s.queueRepo.WaitingRank(ctx, token.SaleID, tokenID)
		if errors.Is(err, domain.ErrTokenNotFound) {
			continue
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}

		token.Position = rank + 1
		span.SetAttributes(attribute.Int64("position", token.Position))
		span.SetStatus(codes.Ok, "")
		return token, nil
	}

	span.SetStatus(codes.Error, "token left the waiting line")
	return nil, domain.ErrInvalidQueueToken
}

func (s *queueService) ValidateActive(ctx context.Context, tokenID, saleID string) (*domain.QueueToken, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.queue.validate_active")
	defer span.End()

	span.SetAttributes(attribute.String("token_id", tokenID))

	token, err := s.liveToken(ctx, tokenID, saleID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if token.Status != domain.TokenStatusActive {
		span.SetStatus(codes.Error, "token not active")
		return nil, domain.ErrTokenNotActive
	}

	span.SetStatus(codes.Ok, "")
	return token, nil
}

// liveToken loads an unexpired token, optionally checking its sale
func (s *queueService) liveToken(ctx context.Context, tokenID, saleID string) (*domain.QueueToken, error) {
	if tokenID == "" {
		return nil, domain.ErrInvalidQueueToken
	}

	token, err := s.queueRepo.GetToken(ctx, tokenID)
	if errors.Is(err, domain.ErrTokenNotFound) {
		return nil, domain.ErrInvalidQueueToken
	}
	if err != nil {
		return nil, err
	}
	if saleID != "" && token.SaleID != saleID {
		return nil, domain.ErrInvalidQueueToken
	}
	if token.IsExpired(s.now()) {
		return nil, domain.ErrInvalidQueueToken
	}
	return token, nil
}

func (s *queueService) Promote(ctx context.Context, saleID string) (int, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.queue.promote")
	defer span.End()

	span.SetAttributes(attribute.String("sale_id", saleID))

	promoted, err := s.queueRepo.Promote(ctx, repository.PromoteParams{
		SaleID:    saleID,
		Now:       s.now(),
		MaxActive: s.maxActive,
		ActiveTTL: s.activeTTL,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	if len(promoted) > 0 {
		s.log.Debug(fmt.Sprintf("Promoted %d tokens for sale %s", len(promoted), saleID))
	}
	metrics.RecordPromotion(ctx, saleID, len(promoted))
	span.SetAttributes(attribute.Int("promoted", len(promoted)))
	span.SetStatus(codes.Ok, "")
	return len(promoted), nil
}

func (s *queueService) ExpireStaleTokens(ctx context.Context, saleID string) (*domain.CleanupResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.queue.expire_stale")
	defer span.End()

	span.SetAttributes(attribute.String("sale_id", saleID))

	result, err := s.queueRepo.ExpireStale(ctx, saleID, s.now(), s.waitingTTL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	metrics.RecordTokensExpired(ctx, saleID, result.Total())
	span.SetAttributes(attribute.Int64("removed", result.Total()))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

func (s *queueService) Revoke(ctx context.Context, tokenID string) error {
	ctx, span := telemetry.StartSpan(ctx, "service.queue.revoke")
	defer span.End()

	span.SetAttributes(attribute.String("token_id", tokenID))

	if tokenID == "" {
		span.SetStatus(codes.Ok, "no token")
		return nil
	}

	if _, err := s.queueRepo.Revoke(ctx, tokenID); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}

	span.SetStatus(codes.Ok, "")
	return nil
}
