package di

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"github.com/prohmpiriya/ticket-rush/internal/handler"
	"github.com/prohmpiriya/ticket-rush/internal/service"
	"github.com/prohmpiriya/ticket-rush/pkg/config"
	"github.com/prohmpiriya/ticket-rush/pkg/database"
	"github.com/prohmpiriya/ticket-rush/pkg/kafka"
	"github.com/prohmpiriya/ticket-rush/pkg/logger"
	pkgredis "github.com/prohmpiriya/ticket-rush/pkg/redis"
	"github.com/prohmpiriya/ticket-rush/pkg/retry"
)

// Infrastructure holds the connections of one process
type Infrastructure struct {
	DB       *database.PostgresDB
	Redis    *pkgredis.Client
	Producer *kafka.Producer
	Tasks    *asynq.Client
}

// Connect opens Postgres, Redis, the Kafka producer and the asynq client.
// A Kafka outage is not fatal: events fall back to a no-op publisher and
// stuck payment recovery catches up once the broker is back.
func Connect(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	log := logger.Get()
	infra := &Infrastructure{}

	db, err := database.NewPostgres(ctx, &database.PostgresConfig{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.DBName,
		SSLMode:         cfg.Database.SSLMode,
		MaxConns:        int32(cfg.Database.MaxOpenConns),
		MinConns:        int32(cfg.Database.MaxIdleConns),
		MaxConnLifetime: cfg.Database.ConnMaxLifetime,
		MaxConnIdleTime: cfg.Database.ConnMaxIdleTime,
		ConnectTimeout:  5 * time.Second,
		MaxRetries:      3,
		RetryInterval:   time.Second,
		EnableTracing:   cfg.OTel.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	infra.DB = db
	log.Info(fmt.Sprintf("Database connected (pool: max=%d)", cfg.Database.MaxOpenConns))

	redisClient, err := pkgredis.NewClient(ctx, &pkgredis.Config{
		Host:          cfg.Redis.Host,
		Port:          cfg.Redis.Port,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.DB,
		PoolSize:      cfg.Redis.PoolSize,
		MinIdleConns:  cfg.Redis.MinIdleConns,
		DialTimeout:   cfg.Redis.DialTimeout,
		ReadTimeout:   cfg.Redis.ReadTimeout,
		WriteTimeout:  cfg.Redis.WriteTimeout,
		MaxRetries:    3,
		RetryInterval: 100 * time.Millisecond,
	})
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	infra.Redis = redisClient
	log.Info(fmt.Sprintf("Redis connected (%s)", cfg.Redis.Addr()))

	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      cfg.Kafka.ClientID,
		MaxRetries:    3,
		RetryInterval: 2 * time.Second,
		LingerMs:      5,
	})
	if err != nil {
		log.Warn(fmt.Sprintf("Kafka connection failed, using no-op publisher: %v", err))
	} else {
		infra.Producer = producer
		log.Info("Kafka producer connected")
	}

	infra.Tasks = asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	return infra, nil
}

// ContainerConfig builds the container configuration on these connections
func (i *Infrastructure) ContainerConfig(cfg *config.Config) *ContainerConfig {
	cc := &ContainerConfig{
		Config: cfg,
		DB:     i.DB.Pool(),
		Redis:  i.Redis,
		Health: map[string]handler.HealthChecker{
			"database": i.DB,
			"redis":    i.Redis,
		},
	}
	if i.Producer != nil {
		cc.Publisher = service.NewEventPublisher(i.Producer, &service.EventPublisherConfig{
			SuccessTopic: cfg.Kafka.SuccessTopic,
			FailureTopic: cfg.Kafka.FailureTopic,
			ServiceName:  cfg.App.Name,
		})
		cc.DLQ = retry.NewKafkaDLQPublisher(i.Producer, &retry.DLQConfig{
			Topics: map[string]string{cfg.Kafka.FailureTopic: cfg.Kafka.DLQTopic},
			Source: cfg.App.Name,
		})
	}
	if i.Tasks != nil {
		cc.Enqueuer = i.Tasks
	}
	return cc
}

// Close releases every open connection
func (i *Infrastructure) Close() {
	if i.Tasks != nil {
		_ = i.Tasks.Close()
	}
	if i.Producer != nil {
		i.Producer.Close()
	}
	if i.Redis != nil {
		_ = i.Redis.Close()
	}
	if i.DB != nil {
		i.DB.Close()
	}
}
