package di

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/ticket-rush/internal/handler"
	"github.com/prohmpiriya/ticket-rush/internal/lock"
	"github.com/prohmpiriya/ticket-rush/internal/repository"
	"github.com/prohmpiriya/ticket-rush/internal/saga"
	"github.com/prohmpiriya/ticket-rush/internal/service"
	"github.com/prohmpiriya/ticket-rush/internal/worker"
	"github.com/prohmpiriya/ticket-rush/pkg/config"
	"github.com/prohmpiriya/ticket-rush/pkg/database"
	"github.com/prohmpiriya/ticket-rush/pkg/kafka"
	"github.com/prohmpiriya/ticket-rush/pkg/middleware"
	pkgredis "github.com/prohmpiriya/ticket-rush/pkg/redis"
	"github.com/prohmpiriya/ticket-rush/pkg/retry"
	pkgsaga "github.com/prohmpiriya/ticket-rush/pkg/saga"
)

// compensation saga instances are kept long enough to absorb redeliveries
const sagaRetention = 7 * 24 * time.Hour

// Container holds all dependencies of the ticket-rush processes
type Container struct {
	Config *config.Config

	// Infrastructure
	DB        database.Querier
	Redis     *pkgredis.Client
	Publisher service.EventPublisher
	DLQ       retry.DLQPublisher
	Locker    lock.Locker

	// Repositories
	QueueRepo       *repository.RedisQueueRepository
	SaleRepo        *repository.PostgresSaleRepository
	SessionRepo     *repository.PostgresSessionRepository
	SeatRepo        *repository.PostgresSeatRepository
	AccountRepo     *repository.PostgresAccountRepository
	ReservationRepo *repository.PostgresReservationRepository
	PaymentRepo     *repository.PostgresPaymentRepository
	HoldRepo        *repository.RedisHoldRepository
	RankRepo        *repository.RedisRankRepository
	ReportRepo      *repository.RedisReportRepository

	// Services
	Passes              *service.PassSigner
	QueueService        service.QueueService
	ReservationService  service.ReservationService
	PaymentService      service.PaymentService
	CompensationService service.CompensationService
	CleanupService      service.CleanupService
	SoldOutService      service.SoldOutService
	ReportService       service.ReportService

	// Handlers
	HealthHandler      *handler.HealthHandler
	QueueHandler       *handler.QueueHandler
	ReservationHandler *handler.ReservationHandler
}

// ContainerConfig contains the connected infrastructure the container is built on
type ContainerConfig struct {
	Config    *config.Config
	DB        database.Querier
	Redis     *pkgredis.Client
	Publisher service.EventPublisher
	// DLQ receives events consumers gave up on. Nil drops them.
	DLQ retry.DLQPublisher
	// Enqueuer schedules delayed expiry tasks. Nil leaves expiry to the sweep.
	Enqueuer worker.TaskEnqueuer
	// Health lists the components probed by /ready
	Health map[string]handler.HealthChecker
}

// NewContainer creates a new dependency injection container
func NewContainer(cfg *ContainerConfig) (*Container, error) {
	appCfg := cfg.Config
	c := &Container{
		Config:    appCfg,
		DB:        cfg.DB,
		Redis:     cfg.Redis,
		Publisher: cfg.Publisher,
		DLQ:       cfg.DLQ,
	}
	if c.Publisher == nil {
		c.Publisher = service.NewNoOpEventPublisher()
	}
	if c.DLQ == nil {
		c.DLQ = retry.NewNoOpDLQPublisher()
	}

	c.Locker = lock.NewRedisLocker(c.Redis.Client(), &lock.Config{
		WaitTimeout:  appCfg.Lock.WaitTimeout,
		LeaseTimeout: appCfg.Lock.LeaseTimeout,
	})

	// Initialize repositories
	c.QueueRepo = repository.NewRedisQueueRepository(c.Redis)
	c.SaleRepo = repository.NewPostgresSaleRepository(c.DB)
	c.SessionRepo = repository.NewPostgresSessionRepository(c.DB)
	c.SeatRepo = repository.NewPostgresSeatRepository(c.DB)
	c.AccountRepo = repository.NewPostgresAccountRepository(c.DB)
	c.ReservationRepo = repository.NewPostgresReservationRepository(c.DB)
	c.PaymentRepo = repository.NewPostgresPaymentRepository(c.DB)
	c.HoldRepo = repository.NewRedisHoldRepository(c.Redis)
	c.RankRepo = repository.NewRedisRankRepository(c.Redis)
	c.ReportRepo = repository.NewRedisReportRepository(c.Redis)

	// Initialize services
	passes, err := service.NewPassSigner(appCfg.JWT.Secret, appCfg.JWT.PassTTL, appCfg.JWT.Issuer)
	if err != nil {
		return nil, err
	}
	c.Passes = passes

	c.QueueService = service.NewQueueService(c.QueueRepo, c.SaleRepo, c.AccountRepo, &service.QueueServiceConfig{
		MaxActive:  appCfg.Queue.MaxActive,
		ActiveTTL:  appCfg.Queue.ActiveTTL,
		WaitingTTL: appCfg.Queue.WaitingTTL,
	})

	var scheduler service.ExpiryScheduler
	if cfg.Enqueuer != nil {
		scheduler = worker.NewExpiryTaskScheduler(cfg.Enqueuer, appCfg.Reservation.ExpiryQueue)
	}
	c.ReservationService = service.NewReservationService(
		c.QueueService,
		c.Locker,
		c.SaleRepo,
		c.SessionRepo,
		c.SeatRepo,
		c.ReservationRepo,
		c.HoldRepo,
		scheduler,
		&service.ReservationServiceConfig{
			ReservationTTL:     appCfg.Reservation.TTL,
			MaxConflictRetries: appCfg.Reservation.MaxConflictRetries,
		},
	)

	c.PaymentService = service.NewPaymentService(
		c.QueueService,
		c.Locker,
		c.ReservationRepo,
		c.SessionRepo,
		c.PaymentRepo,
		c.AccountRepo,
		c.HoldRepo,
		c.Publisher,
		nil,
	)

	runner := pkgsaga.NewRunner(pkgsaga.NewRedisStore(c.Redis.Client(), "saga:compensation:", sagaRetention), nil)
	c.CompensationService = service.NewCompensationService(runner, c.PaymentRepo, c.ReservationRepo, c.HoldRepo, c.QueueService, nil)
	c.CleanupService = service.NewCleanupService(c.HoldRepo, c.QueueService)
	c.SoldOutService = service.NewSoldOutService(c.SaleRepo, c.RankRepo, nil)
	c.ReportService = service.NewReportService(c.ReportRepo)

	// Initialize handlers
	c.HealthHandler = handler.NewHealthHandler(cfg.Health)
	c.QueueHandler = handler.NewQueueHandler(c.QueueService, c.Passes)
	c.ReservationHandler = handler.NewReservationHandler(c.ReservationService, c.PaymentService, c.Passes)

	return c, nil
}

// LoadScripts pre-loads the Lua scripts of the Redis repositories
func (c *Container) LoadScripts(ctx context.Context) error {
	if err := c.QueueRepo.LoadScripts(ctx); err != nil {
		return fmt.Errorf("failed to load queue scripts: %w", err)
	}
	if err := c.ReportRepo.LoadScripts(ctx); err != nil {
		return fmt.Errorf("failed to load report scripts: %w", err)
	}
	return nil
}

// Router builds the HTTP API
func (c *Container) Router() *gin.Engine {
	routes := &handler.RouterConfig{
		Queue:        c.QueueHandler,
		Reservations: c.ReservationHandler,
		Health:       c.HealthHandler,
		Idempotency:  middleware.DefaultIdempotencyConfig(c.Redis.Client()),
	}
	if c.Config.Server.RateLimitRPS > 0 {
		limit := middleware.DefaultRateLimitConfig(c.Redis.Client())
		limit.RequestsPerSecond = c.Config.Server.RateLimitRPS
		limit.Burst = c.Config.Server.RateLimitBurst
		routes.RateLimit = limit
	}
	return handler.NewRouter(routes)
}

// QueueWorker builds the promotion and cleanup worker
func (c *Container) QueueWorker() *worker.QueueWorker {
	return worker.NewQueueWorker(&worker.QueueWorkerConfig{
		PromoteInterval: c.Config.Worker.PromoteInterval,
		CleanupInterval: c.Config.Worker.CleanupInterval,
	}, c.SaleRepo, c.QueueService)
}

// ExpiryWorker builds the reservation sweep and stuck payment recovery worker
func (c *Container) ExpiryWorker() *worker.ExpiryWorker {
	return worker.NewExpiryWorker(c.ReservationService, c.PaymentService, &worker.ExpiryWorkerConfig{
		ScanInterval: c.Config.Worker.ExpirySweepInterval,
		BatchSize:    c.Config.Worker.ExpirySweepBatchSize,
		StuckAfter:   c.Config.Worker.StuckPaymentAfter,
	})
}

// ConsumerSpec describes one consumer group
type ConsumerSpec struct {
	Name    string
	GroupID string
	Topics  []string
	Handler saga.EventHandler
}

// ConsumerSpecs lists the consumer groups reacting to payment outcomes
func (c *Container) ConsumerSpecs() []ConsumerSpec {
	k := c.Config.Kafka
	return []ConsumerSpec{
		{Name: "compensation", GroupID: k.CompensationGroup, Topics: []string{k.FailureTopic}, Handler: saga.CompensationHandler(c.CompensationService)},
		{Name: "cleanup", GroupID: k.CleanupGroup, Topics: []string{k.SuccessTopic}, Handler: saga.CleanupHandler(c.CleanupService)},
		{Name: "inventory-rank", GroupID: k.InventoryRankGroup, Topics: []string{k.SuccessTopic}, Handler: saga.SoldOutHandler(c.SoldOutService)},
		{Name: "reporting", GroupID: k.ReportingGroup, Topics: []string{k.SuccessTopic, k.FailureTopic}, Handler: saga.ReportHandler(c.ReportService)},
	}
}

// NewEventConsumer builds the consumer of spec on source
func (c *Container) NewEventConsumer(spec ConsumerSpec, source saga.RecordSource) *saga.EventConsumer {
	k := c.Config.Kafka
	dlq := retry.NewDLQHandler(c.DLQ, &retry.DLQHandlerConfig{
		RetryConfig: &retry.Config{
			MaxRetries:      k.ConsumerRetryAttempts,
			InitialInterval: k.ConsumerRetryDelay,
			MaxInterval:     10 * k.ConsumerRetryDelay,
			Multiplier:      2,
			JitterFactor:    0.1,
		},
		Source: spec.GroupID,
	})
	return saga.NewEventConsumer(spec.Name, source, spec.Handler, dlq, &saga.EventConsumerConfig{
		Workers: k.ConsumerWorkers,
	})
}

// ConnectConsumers joins every consumer group. Consumers already joined are
// closed when a later one fails.
func (c *Container) ConnectConsumers(ctx context.Context) ([]*saga.EventConsumer, error) {
	k := c.Config.Kafka
	var consumers []*saga.EventConsumer
	for _, spec := range c.ConsumerSpecs() {
		source, err := kafka.NewConsumer(ctx, &kafka.ConsumerConfig{
			Brokers:    k.Brokers,
			GroupID:    spec.GroupID,
			Topics:     spec.Topics,
			ClientID:   k.ClientID + "-" + spec.Name,
			MaxRetries: 3,
		})
		if err != nil {
			for _, started := range consumers {
				started.Close()
			}
			return nil, fmt.Errorf("failed to join consumer group %s: %w", spec.GroupID, err)
		}
		consumers = append(consumers, c.NewEventConsumer(spec, source))
	}
	return consumers, nil
}
