package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-rush/internal/repository"
	"github.com/prohmpiriya/ticket-rush/internal/service"
	"github.com/prohmpiriya/ticket-rush/pkg/logger"
)

// QueueWorkerConfig holds configuration for the queue worker
type QueueWorkerConfig struct {
	// PromoteInterval is the time between promotion rounds (default: 5 seconds)
	PromoteInterval time.Duration
	// CleanupInterval is the time between stale token sweeps (default: 30 seconds)
	CleanupInterval time.Duration
	Clock           func() time.Time
}

// DefaultQueueWorkerConfig returns default configuration
func DefaultQueueWorkerConfig() *QueueWorkerConfig {
	return &QueueWorkerConfig{
		PromoteInterval: 5 * time.Second,
		CleanupInterval: 30 * time.Second,
		Clock:           time.Now,
	}
}

// QueueWorker promotes waiting tokens and removes stale ones for every open sale
type QueueWorker struct {
	config *QueueWorkerConfig
	sales  repository.SaleCatalog
	queue  service.QueueService
	log    *logger.Logger

	mu            sync.Mutex
	totalPromoted int64
	totalExpired  int64
}

// NewQueueWorker creates a new queue worker
func NewQueueWorker(cfg *QueueWorkerConfig, sales repository.SaleCatalog, queue service.QueueService) *QueueWorker {
	if cfg == nil {
		cfg = DefaultQueueWorkerConfig()
	}
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = 5 * time.Second
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &QueueWorker{
		config: cfg,
		sales:  sales,
		queue:  queue,
		log:    logger.Get(),
	}
}

// Start runs promotion and cleanup until ctx is done
func (w *QueueWorker) Start(ctx context.Context) {
	promote := time.NewTicker(w.config.PromoteInterval)
	defer promote.Stop()
	cleanup := time.NewTicker(w.config.CleanupInterval)
	defer cleanup.Stop()

	w.log.Info(fmt.Sprintf("Queue worker started (promote every %v, cleanup every %v)",
		w.config.PromoteInterval, w.config.CleanupInterval))

	for {
		select {
		case <-ctx.Done():
			w.log.Info("Queue worker stopping...")
			return
		case <-promote.C:
			if _, err := w.PromoteOnce(ctx); err != nil {
				w.log.Error("Promotion round failed", zap.Error(err))
			}
		case <-cleanup.C:
			if _, err := w.CleanupOnce(ctx); err != nil {
				w.log.Error("Cleanup round failed", zap.Error(err))
			}
		}
	}
}

// PromoteOnce runs one promotion round over all open sales. A failing sale
// is logged and skipped.
func (w *QueueWorker) PromoteOnce(ctx context.Context) (int, error) {
	sales, err := w.sales.ListOpen(ctx, w.config.Clock())
	if err != nil {
		return 0, fmt.Errorf("failed to list open sales: %w", err)
	}

	total := 0
	for _, sale := range sales {
		if ctx.Err() != nil {
			break
		}
		promoted, err := w.queue.Promote(ctx, sale.ID)
		if err != nil {
			w.log.Error(fmt.Sprintf("Failed to promote tokens of sale %s", sale.ID), zap.Error(err))
			continue
		}
		if promoted > 0 {
			w.log.Info(fmt.Sprintf("Promoted %d tokens of sale %s", promoted, sale.ID))
		}
		total += promoted
	}

	w.mu.Lock()
	w.totalPromoted += int64(total)
	w.mu.Unlock()
	return total, nil
}

// CleanupOnce removes expired tokens of all open sales
func (w *QueueWorker) CleanupOnce(ctx context.Context) (int64, error) {
	sales, err := w.sales.ListOpen(ctx, w.config.Clock())
	if err != nil {
		return 0, fmt.Errorf("failed to list open sales: %w", err)
	}

	var total int64
	for _, sale := range sales {
		if ctx.Err() != nil {
			break
		}
		result, err := w.queue.ExpireStaleTokens(ctx, sale.ID)
		if err != nil {
			w.log.Error(fmt.Sprintf("Failed to clean up tokens of sale %s", sale.ID), zap.Error(err))
			continue
		}
		total += result.Total()
	}

	w.mu.Lock()
	w.totalExpired += total
	w.mu.Unlock()
	return total, nil
}

// GetMetrics returns current worker counters
func (w *QueueWorker) GetMetrics() (totalPromoted, totalExpired int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalPromoted, w.totalExpired
}
