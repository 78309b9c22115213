package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App         AppConfig         `mapstructure:"app"`
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Kafka       KafkaConfig       `mapstructure:"kafka"`
	JWT         JWTConfig         `mapstructure:"jwt"`
	OTel        OTelConfig        `mapstructure:"otel"`
	Queue       QueueConfig       `mapstructure:"queue"`
	Reservation ReservationConfig `mapstructure:"reservation"`
	Lock        LockConfig        `mapstructure:"lock"`
	Worker      WorkerConfig      `mapstructure:"worker"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
	LogLevel    string `mapstructure:"log_level"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	// RateLimitRPS limits token issuance per user. 0 disables the limiter.
	RateLimitRPS   int `mapstructure:"rate_limit_rps"`
	RateLimitBurst int `mapstructure:"rate_limit_burst"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka/Redpanda connection settings.
// Each consumer group owns one concern so it can fail and retry on its own.
type KafkaConfig struct {
	Brokers               []string      `mapstructure:"brokers"`
	ClientID              string        `mapstructure:"client_id"`
	SuccessTopic          string        `mapstructure:"success_topic"`
	FailureTopic          string        `mapstructure:"failure_topic"`
	DLQTopic              string        `mapstructure:"dlq_topic"`
	CompensationGroup     string        `mapstructure:"compensation_group"`
	CleanupGroup          string        `mapstructure:"cleanup_group"`
	InventoryRankGroup    string        `mapstructure:"inventory_rank_group"`
	ReportingGroup        string        `mapstructure:"reporting_group"`
	ConsumerWorkers       int           `mapstructure:"consumer_workers"`
	ConsumerRetryAttempts int           `mapstructure:"consumer_retry_attempts"`
	ConsumerRetryDelay    time.Duration `mapstructure:"consumer_retry_delay"`
}

// JWTConfig holds settings for the admission pass
type JWTConfig struct {
	Secret  string        `mapstructure:"secret"`
	PassTTL time.Duration `mapstructure:"pass_ttl"`
	Issuer  string        `mapstructure:"issuer"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool    `mapstructure:"enabled"`
	ServiceName   string  `mapstructure:"service_name"`
	CollectorAddr string  `mapstructure:"collector_addr"`
	SampleRatio   float64 `mapstructure:"sample_ratio"`
}

// QueueConfig holds admission queue settings
type QueueConfig struct {
	MaxActive  int           `mapstructure:"max_active"`
	ActiveTTL  time.Duration `mapstructure:"active_ttl"`
	WaitingTTL time.Duration `mapstructure:"waiting_ttl"`
}

// ReservationConfig holds seat reservation settings
type ReservationConfig struct {
	TTL                time.Duration `mapstructure:"ttl"`
	MaxConflictRetries int           `mapstructure:"max_conflict_retries"`
	ExpiryQueue        string        `mapstructure:"expiry_queue"`
}

// LockConfig holds distributed lock settings
type LockConfig struct {
	WaitTimeout  time.Duration `mapstructure:"wait_timeout"`
	LeaseTimeout time.Duration `mapstructure:"lease_timeout"`
}

// WorkerConfig holds background scheduler intervals
type WorkerConfig struct {
	PromoteInterval      time.Duration `mapstructure:"promote_interval"`
	CleanupInterval      time.Duration `mapstructure:"cleanup_interval"`
	ExpirySweepInterval  time.Duration `mapstructure:"expiry_sweep_interval"`
	ExpirySweepBatchSize int           `mapstructure:"expiry_sweep_batch_size"`
	StuckPaymentAfter    time.Duration `mapstructure:"stuck_payment_after"`
	TaskConcurrency      int           `mapstructure:"task_concurrency"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// A missing .env is fine, environment variables still apply
	_ = v.ReadInConfig()

	return load(v)
}

// LoadWithPath loads configuration from a specific path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	if err := bindConfig(v, cfg); err != nil {
		return nil, fmt.Errorf("failed to bind config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "ticket-rush")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")
	v.SetDefault("APP_LOG_LEVEL", "info")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")
	v.SetDefault("SERVER_RATE_LIMIT_RPS", 5)
	v.SetDefault("SERVER_RATE_LIMIT_BURST", 10)

	// Database defaults
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", 5432)
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_DBNAME", "ticket_rush")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 100)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 10)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "1h")
	v.SetDefault("DATABASE_CONN_MAX_IDLE_TIME", "30m")

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 100)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 10)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CLIENT_ID", "ticket-rush")
	v.SetDefault("KAFKA_SUCCESS_TOPIC", "payment.success")
	v.SetDefault("KAFKA_FAILURE_TOPIC", "payment.failure")
	v.SetDefault("KAFKA_DLQ_TOPIC", "payment.failure.dlq")
	v.SetDefault("KAFKA_COMPENSATION_GROUP", "ticket-rush-compensation")
	v.SetDefault("KAFKA_CLEANUP_GROUP", "ticket-rush-cleanup")
	v.SetDefault("KAFKA_INVENTORY_RANK_GROUP", "ticket-rush-inventory-rank")
	v.SetDefault("KAFKA_REPORTING_GROUP", "ticket-rush-reporting")
	v.SetDefault("KAFKA_CONSUMER_WORKERS", 8)
	v.SetDefault("KAFKA_CONSUMER_RETRY_ATTEMPTS", 3)
	v.SetDefault("KAFKA_CONSUMER_RETRY_DELAY", "200ms")

	// JWT defaults
	v.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	v.SetDefault("JWT_PASS_TTL", "10m")
	v.SetDefault("JWT_ISSUER", "ticket-rush")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "ticket-rush")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")
	v.SetDefault("OTEL_SAMPLE_RATIO", 1.0)

	// Admission queue defaults
	v.SetDefault("QUEUE_MAX_ACTIVE", 50)
	v.SetDefault("QUEUE_ACTIVE_TTL", "10m")
	v.SetDefault("QUEUE_WAITING_TTL", "10m")

	// Reservation defaults
	v.SetDefault("RESERVATION_TTL", "5m")
	v.SetDefault("RESERVATION_MAX_CONFLICT_RETRIES", 3)
	v.SetDefault("RESERVATION_EXPIRY_QUEUE", "reservation_expiry")

	// Lock defaults
	v.SetDefault("LOCK_WAIT_TIMEOUT", "3s")
	v.SetDefault("LOCK_LEASE_TIMEOUT", "10s")

	// Worker defaults
	v.SetDefault("WORKER_PROMOTE_INTERVAL", "5s")
	v.SetDefault("WORKER_CLEANUP_INTERVAL", "30s")
	v.SetDefault("WORKER_EXPIRY_SWEEP_INTERVAL", "30s")
	v.SetDefault("WORKER_EXPIRY_SWEEP_BATCH_SIZE", 100)
	v.SetDefault("WORKER_STUCK_PAYMENT_AFTER", "2m")
	v.SetDefault("WORKER_TASK_CONCURRENCY", 10)
}

func bindConfig(v *viper.Viper, cfg *Config) error {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")
	cfg.App.LogLevel = v.GetString("APP_LOG_LEVEL")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")
	cfg.Server.RateLimitRPS = v.GetInt("SERVER_RATE_LIMIT_RPS")
	cfg.Server.RateLimitBurst = v.GetInt("SERVER_RATE_LIMIT_BURST")

	// Database
	cfg.Database.Host = v.GetString("DATABASE_HOST")
	cfg.Database.Port = v.GetInt("DATABASE_PORT")
	cfg.Database.User = v.GetString("DATABASE_USER")
	cfg.Database.Password = v.GetString("DATABASE_PASSWORD")
	cfg.Database.DBName = v.GetString("DATABASE_DBNAME")
	cfg.Database.SSLMode = v.GetString("DATABASE_SSLMODE")
	cfg.Database.MaxOpenConns = v.GetInt("DATABASE_MAX_OPEN_CONNS")
	cfg.Database.MaxIdleConns = v.GetInt("DATABASE_MAX_IDLE_CONNS")
	cfg.Database.ConnMaxLifetime = v.GetDuration("DATABASE_CONN_MAX_LIFETIME")
	cfg.Database.ConnMaxIdleTime = v.GetDuration("DATABASE_CONN_MAX_IDLE_TIME")

	// Redis
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Kafka
	cfg.Kafka.Brokers = splitList(v.GetString("KAFKA_BROKERS"))
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")
	cfg.Kafka.SuccessTopic = v.GetString("KAFKA_SUCCESS_TOPIC")
	cfg.Kafka.FailureTopic = v.GetString("KAFKA_FAILURE_TOPIC")
	cfg.Kafka.DLQTopic = v.GetString("KAFKA_DLQ_TOPIC")
	cfg.Kafka.CompensationGroup = v.GetString("KAFKA_COMPENSATION_GROUP")
	cfg.Kafka.CleanupGroup = v.GetString("KAFKA_CLEANUP_GROUP")
	cfg.Kafka.InventoryRankGroup = v.GetString("KAFKA_INVENTORY_RANK_GROUP")
	cfg.Kafka.ReportingGroup = v.GetString("KAFKA_REPORTING_GROUP")
	cfg.Kafka.ConsumerWorkers = v.GetInt("KAFKA_CONSUMER_WORKERS")
	cfg.Kafka.ConsumerRetryAttempts = v.GetInt("KAFKA_CONSUMER_RETRY_ATTEMPTS")
	cfg.Kafka.ConsumerRetryDelay = v.GetDuration("KAFKA_CONSUMER_RETRY_DELAY")

	// JWT
	cfg.JWT.Secret = v.GetString("JWT_SECRET")
	cfg.JWT.PassTTL = v.GetDuration("JWT_PASS_TTL")
	cfg.JWT.Issuer = v.GetString("JWT_ISSUER")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")
	cfg.OTel.SampleRatio = v.GetFloat64("OTEL_SAMPLE_RATIO")

	// Queue
	cfg.Queue.MaxActive = v.GetInt("QUEUE_MAX_ACTIVE")
	cfg.Queue.ActiveTTL = v.GetDuration("QUEUE_ACTIVE_TTL")
	cfg.Queue.WaitingTTL = v.GetDuration("QUEUE_WAITING_TTL")

	// Reservation
	cfg.Reservation.TTL = v.GetDuration("RESERVATION_TTL")
	cfg.Reservation.MaxConflictRetries = v.GetInt("RESERVATION_MAX_CONFLICT_RETRIES")
	cfg.Reservation.ExpiryQueue = v.GetString("RESERVATION_EXPIRY_QUEUE")

	// Lock
	cfg.Lock.WaitTimeout = v.GetDuration("LOCK_WAIT_TIMEOUT")
	cfg.Lock.LeaseTimeout = v.GetDuration("LOCK_LEASE_TIMEOUT")

	// Workers
	cfg.Worker.PromoteInterval = v.GetDuration("WORKER_PROMOTE_INTERVAL")
	cfg.Worker.CleanupInterval = v.GetDuration("WORKER_CLEANUP_INTERVAL")
	cfg.Worker.ExpirySweepInterval = v.GetDuration("WORKER_EXPIRY_SWEEP_INTERVAL")
	cfg.Worker.ExpirySweepBatchSize = v.GetInt("WORKER_EXPIRY_SWEEP_BATCH_SIZE")
	cfg.Worker.StuckPaymentAfter = v.GetDuration("WORKER_STUCK_PAYMENT_AFTER")
	cfg.Worker.TaskConcurrency = v.GetInt("WORKER_TASK_CONCURRENCY")

	return nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if c.App.Environment == "production" && c.JWT.Secret == "your-secret-key-change-in-production" {
		return fmt.Errorf("JWT secret must be changed in production")
	}

	if c.Queue.MaxActive <= 0 {
		return fmt.Errorf("QUEUE_MAX_ACTIVE must be positive, got %d", c.Queue.MaxActive)
	}

	if c.Queue.ActiveTTL <= 0 || c.Queue.WaitingTTL <= 0 {
		return fmt.Errorf("queue TTLs must be positive")
	}

	if c.Reservation.TTL <= 0 {
		return fmt.Errorf("RESERVATION_TTL must be positive")
	}

	if c.Lock.WaitTimeout <= 0 || c.Lock.LeaseTimeout <= 0 {
		return fmt.Errorf("lock wait and lease timeouts must be positive")
	}

	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
