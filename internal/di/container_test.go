package di

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/ticket-rush/internal/handler"
	"github.com/prohmpiriya/ticket-rush/pkg/config"
	pkgredis "github.com/prohmpiriya/ticket-rush/pkg/redis"
)

func testConfig() *config.Config {
	return &config.Config{
		App: config.AppConfig{Name: "ticket-rush"},
		JWT: config.JWTConfig{Secret: "test-secret", PassTTL: 5 * time.Minute},
		Kafka: config.KafkaConfig{
			SuccessTopic:          "payment.success",
			FailureTopic:          "payment.failure",
			DLQTopic:              "payment.failure.dlq",
			CompensationGroup:     "ticket-rush-compensation",
			CleanupGroup:          "ticket-rush-cleanup",
			InventoryRankGroup:    "ticket-rush-inventory-rank",
			ReportingGroup:        "ticket-rush-reporting",
			ConsumerWorkers:       4,
			ConsumerRetryAttempts: 3,
			ConsumerRetryDelay:    10 * time.Millisecond,
		},
		Queue:       config.QueueConfig{MaxActive: 10, ActiveTTL: 10 * time.Minute, WaitingTTL: 10 * time.Minute},
		Reservation: config.ReservationConfig{TTL: 5 * time.Minute, MaxConflictRetries: 3},
		Lock:        config.LockConfig{WaitTimeout: time.Second, LeaseTimeout: 5 * time.Second},
	}
}

func newTestContainer(t *testing.T) *Container {
	t.Helper()
	gin.SetMode(gin.TestMode)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	redisClient := pkgredis.NewFromClient(client, nil)

	pool, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	c, err := NewContainer(&ContainerConfig{
		Config: testConfig(),
		DB:     pool,
		Redis:  redisClient,
		Health: map[string]handler.HealthChecker{"redis": redisClient},
	})
	require.NoError(t, err)
	return c
}

func TestNewContainer_WiresEverything(t *testing.T) {
	c := newTestContainer(t)

	assert.NotNil(t, c.QueueService)
	assert.NotNil(t, c.ReservationService)
	assert.NotNil(t, c.PaymentService)
	assert.NotNil(t, c.CompensationService)
	assert.NotNil(t, c.CleanupService)
	assert.NotNil(t, c.SoldOutService)
	assert.NotNil(t, c.ReportService)
	assert.NotNil(t, c.Publisher)
	assert.NotNil(t, c.DLQ)
	assert.NotNil(t, c.QueueWorker())
	assert.NotNil(t, c.ExpiryWorker())
}

func TestNewContainer_RequiresSecret(t *testing.T) {
	cfg := testConfig()
	cfg.JWT.Secret = ""
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	_, err := NewContainer(&ContainerConfig{Config: cfg, Redis: pkgredis.NewFromClient(client, nil)})
	assert.Error(t, err)
}

func TestContainer_Router(t *testing.T) {
	router := newTestContainer(t).Router()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"healthy"`)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/reservations", nil))
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestContainer_ConsumerSpecs(t *testing.T) {
	c := newTestContainer(t)
	specs := c.ConsumerSpecs()
	require.Len(t, specs, 4)

	byName := map[string]ConsumerSpec{}
	for _, s := range specs {
		byName[s.Name] = s
		assert.NotNil(t, s.Handler)
	}
	assert.Equal(t, []string{"payment.failure"}, byName["compensation"].Topics)
	assert.Equal(t, "ticket-rush-compensation", byName["compensation"].GroupID)
	assert.Equal(t, []string{"payment.success"}, byName["cleanup"].Topics)
	assert.Equal(t, []string{"payment.success"}, byName["inventory-rank"].Topics)
	assert.ElementsMatch(t, []string{"payment.success", "payment.failure"}, byName["reporting"].Topics)
}
