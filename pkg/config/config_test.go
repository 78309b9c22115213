package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "ticket-rush", cfg.App.Name)
	assert.Equal(t, 50, cfg.Queue.MaxActive)
	assert.Equal(t, 10*time.Minute, cfg.Queue.ActiveTTL)
	assert.Equal(t, 5*time.Minute, cfg.Reservation.TTL)
	assert.Equal(t, 3*time.Second, cfg.Lock.WaitTimeout)
	assert.Equal(t, 10*time.Second, cfg.Lock.LeaseTimeout)
	assert.Equal(t, "payment.success", cfg.Kafka.SuccessTopic)
	assert.Equal(t, "payment.failure", cfg.Kafka.FailureTopic)
	assert.Equal(t, []string{"localhost:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 5*time.Second, cfg.Worker.PromoteInterval)
	assert.Equal(t, 5, cfg.Server.RateLimitRPS)
	assert.Equal(t, 10, cfg.Server.RateLimitBurst)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("QUEUE_MAX_ACTIVE", "200")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("RESERVATION_TTL", "90s")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 200, cfg.Queue.MaxActive)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 90*time.Second, cfg.Reservation.TTL)
}

func TestLoadWithPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.env")
	require.NoError(t, os.WriteFile(path, []byte("APP_NAME=rush-test\nQUEUE_MAX_ACTIVE=7\n"), 0o600))

	cfg, err := LoadWithPath(path)
	require.NoError(t, err)
	assert.Equal(t, "rush-test", cfg.App.Name)
	assert.Equal(t, 7, cfg.Queue.MaxActive)
}

func TestLoadWithPath_Missing(t *testing.T) {
	_, err := LoadWithPath(filepath.Join(t.TempDir(), "nope.env"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			App:         AppConfig{Name: "ticket-rush", Environment: "development"},
			Server:      ServerConfig{Port: 8080},
			JWT:         JWTConfig{Secret: "s"},
			Queue:       QueueConfig{MaxActive: 50, ActiveTTL: time.Minute, WaitingTTL: time.Minute},
			Reservation: ReservationConfig{TTL: time.Minute},
			Lock:        LockConfig{WaitTimeout: time.Second, LeaseTimeout: time.Second},
			Kafka:       KafkaConfig{Brokers: []string{"localhost:9092"}},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing app name", func(c *Config) { c.App.Name = "" }, true},
		{"bad port", func(c *Config) { c.Server.Port = 70000 }, true},
		{"default secret in production", func(c *Config) {
			c.App.Environment = "production"
			c.JWT.Secret = "your-secret-key-change-in-production"
		}, true},
		{"zero max active", func(c *Config) { c.Queue.MaxActive = 0 }, true},
		{"zero reservation ttl", func(c *Config) { c.Reservation.TTL = 0 }, true},
		{"zero lock wait", func(c *Config) { c.Lock.WaitTimeout = 0 }, true},
		{"no brokers", func(c *Config) { c.Kafka.Brokers = nil }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	d := &DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", DBName: "ticket_rush", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=ticket_rush sslmode=disable", d.DSN())
}
