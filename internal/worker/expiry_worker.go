package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-rush/internal/service"
	"github.com/prohmpiriya/ticket-rush/pkg/logger"
)

// ExpiryWorkerConfig contains configuration for the expiry worker
type ExpiryWorkerConfig struct {
	// ScanInterval is the interval between scanning for expired reservations
	ScanInterval time.Duration
	// BatchSize is the number of reservations to process in each scan
	BatchSize int
	// StuckAfter is how long a payment may stay PROCESSING before it is
	// handed to compensation
	StuckAfter time.Duration
}

// DefaultExpiryWorkerConfig returns default configuration
func DefaultExpiryWorkerConfig() *ExpiryWorkerConfig {
	return &ExpiryWorkerConfig{
		ScanInterval: 30 * time.Second,
		BatchSize:    100,
		StuckAfter:   2 * time.Minute,
	}
}

// ScanResult summarises one scan
type ScanResult struct {
	Expired   int
	Recovered int
}

// ExpiryWorker expires reservations past their deadline and recovers
// payments stuck in PROCESSING
type ExpiryWorker struct {
	reservations service.ReservationService
	payments     service.PaymentService
	config       *ExpiryWorkerConfig
	log          *logger.Logger
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex
	running      bool

	// Stats
	totalExpired   int64
	totalRecovered int64
	lastScanTime   time.Time
}

// NewExpiryWorker creates a new expiry worker
func NewExpiryWorker(
	reservations service.ReservationService,
	payments service.PaymentService,
	config *ExpiryWorkerConfig,
) *ExpiryWorker {
	if config == nil {
		config = DefaultExpiryWorkerConfig()
	}
	if config.ScanInterval <= 0 {
		config.ScanInterval = 30 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if config.StuckAfter <= 0 {
		config.StuckAfter = 2 * time.Minute
	}

	return &ExpiryWorker{
		reservations: reservations,
		payments:     payments,
		config:       config,
		log:          logger.Get(),
		stopCh:       make(chan struct{}),
	}
}

// Start starts the expiry worker
func (w *ExpiryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("expiry worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting expiry worker")

	w.wg.Add(1)
	go w.scanLoop(ctx)

	return nil
}

// Stop stops the expiry worker
func (w *ExpiryWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("Stopping expiry worker")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Expiry worker stopped")
}

func (w *ExpiryWorker) scanLoop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.ScanInterval)
	defer ticker.Stop()

	// Run immediately on start
	w.ScanOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.ScanOnce(ctx)
		}
	}
}

// ScanOnce expires due reservations, then recovers stuck payments. The two
// steps are independent, a failure of one does not skip the other.
func (w *ExpiryWorker) ScanOnce(ctx context.Context) ScanResult {
	var result ScanResult

	expired, err := w.reservations.SweepExpired(ctx, w.config.BatchSize)
	if err != nil {
		w.log.Error("Failed to sweep expired reservations", zap.Error(err))
	}
	result.Expired = expired
	if expired > 0 {
		w.log.Info(fmt.Sprintf("Expired %d reservations", expired))
	}

	recovered, err := w.payments.RecoverStuck(ctx, w.config.StuckAfter, w.config.BatchSize)
	if err != nil {
		w.log.Error("Failed to recover stuck payments", zap.Error(err))
	}
	result.Recovered = recovered
	if recovered > 0 {
		w.log.Warn(fmt.Sprintf("Handed %d stuck payments to compensation", recovered))
	}

	w.mu.Lock()
	w.totalExpired += int64(result.Expired)
	w.totalRecovered += int64(result.Recovered)
	w.lastScanTime = time.Now()
	w.mu.Unlock()

	return result
}

// GetStats returns worker statistics
func (w *ExpiryWorker) GetStats() (totalExpired, totalRecovered int64, lastScan time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.totalExpired, w.totalRecovered, w.lastScanTime
}
