package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-rush/internal/service"
	"github.com/prohmpiriya/ticket-rush/pkg/logger"
)

// TypeReservationExpire is the asynq task type that expires one reservation
const TypeReservationExpire = "reservation:expire"

// DefaultExpiryQueue is the asynq queue expiry tasks are put on
const DefaultExpiryQueue = "reservation_expiry"

// ExpiryPayload is the payload of a reservation:expire task
type ExpiryPayload struct {
	ReservationID string `json:"reservation_id"`
}

// TaskEnqueuer is the part of asynq.Client used to schedule tasks
type TaskEnqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

var _ TaskEnqueuer = (*asynq.Client)(nil)

// ExpiryTaskScheduler schedules reservation expiry as delayed asynq tasks
type ExpiryTaskScheduler struct {
	client   TaskEnqueuer
	queue    string
	maxRetry int
	log      *logger.Logger
}

var _ service.ExpiryScheduler = (*ExpiryTaskScheduler)(nil)

// NewExpiryTaskScheduler creates a scheduler putting tasks on queue
func NewExpiryTaskScheduler(client TaskEnqueuer, queue string) *ExpiryTaskScheduler {
	if queue == "" {
		queue = DefaultExpiryQueue
	}
	return &ExpiryTaskScheduler{
		client:   client,
		queue:    queue,
		maxRetry: 5,
		log:      logger.Get(),
	}
}

// ScheduleExpiry enqueues a task processed at the reservation deadline. The
// reservation ID is the task ID, so scheduling twice is a no-op.
func (s *ExpiryTaskScheduler) ScheduleExpiry(ctx context.Context, reservationID string, at time.Time) error {
	payload, err := json.Marshal(ExpiryPayload{ReservationID: reservationID})
	if err != nil {
		return err
	}

	task := asynq.NewTask(TypeReservationExpire, payload)
	_, err = s.client.EnqueueContext(ctx, task,
		asynq.TaskID(reservationID),
		asynq.Queue(s.queue),
		asynq.ProcessAt(at),
		asynq.MaxRetry(s.maxRetry),
	)
	if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to enqueue expiry of reservation %s: %w", reservationID, err)
	}
	s.log.Debug(fmt.Sprintf("Scheduled expiry of reservation %s at %s", reservationID, at.Format(time.RFC3339)))
	return nil
}

// NewExpiryTaskHandler returns the asynq handler for reservation:expire
func NewExpiryTaskHandler(reservations service.ReservationService) asynq.HandlerFunc {
	log := logger.Get()
	return func(ctx context.Context, t *asynq.Task) error {
		var payload ExpiryPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("invalid expiry payload: %v: %w", err, asynq.SkipRetry)
		}
		if payload.ReservationID == "" {
			return fmt.Errorf("expiry payload without reservation id: %w", asynq.SkipRetry)
		}

		expired, err := reservations.ExpireReservation(ctx, payload.ReservationID)
		if err != nil {
			retried, _ := asynq.GetRetryCount(ctx)
			log.WarnContext(ctx, fmt.Sprintf("Failed to expire reservation %s", payload.ReservationID),
				zap.Int("retry", retried), zap.Error(err))
			return err
		}
		if expired {
			log.Info(fmt.Sprintf("Reservation %s expired", payload.ReservationID))
		}
		return nil
	}
}

// TaskServerConfig holds configuration for the asynq task server
type TaskServerConfig struct {
	Addr        string
	Password    string
	DB          int
	Concurrency int
	ExpiryQueue string
}

// NewTaskServer builds the asynq server and the mux serving expiry tasks
func NewTaskServer(cfg *TaskServerConfig, reservations service.ReservationService) (*asynq.Server, *asynq.ServeMux) {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}
	if cfg.ExpiryQueue == "" {
		cfg.ExpiryQueue = DefaultExpiryQueue
	}

	srv := asynq.NewServer(
		asynq.RedisClientOpt{Addr: cfg.Addr, Password: cfg.Password, DB: cfg.DB},
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues:      map[string]int{cfg.ExpiryQueue: 1},
			Logger:      logger.Get().Zap().Sugar(),
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeReservationExpire, NewExpiryTaskHandler(reservations))
	return srv, mux
}
