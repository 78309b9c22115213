package saga

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/ticket-rush/pkg/logger"
	"github.com/prohmpiriya/ticket-rush/pkg/retry"
)

// RunnerConfig holds runner configuration
type RunnerConfig struct {
	// StepRetryInterval is the first backoff between step retries
	StepRetryInterval time.Duration
	// MaxStepRetryInterval caps the step retry backoff
	MaxStepRetryInterval time.Duration
}

// DefaultRunnerConfig returns default runner configuration
func DefaultRunnerConfig() *RunnerConfig {
	return &RunnerConfig{
		StepRetryInterval:    100 * time.Millisecond,
		MaxStepRetryInterval: 2 * time.Second,
	}
}

// Runner executes definitions step by step and records progress in a Store.
// Steps run forward only; a failed run is retried from the first step, so
// every step must be idempotent.
type Runner struct {
	store  Store
	config *RunnerConfig
	log    *logger.Logger
}

// NewRunner creates a new saga runner
func NewRunner(store Store, cfg *RunnerConfig) *Runner {
	if cfg == nil {
		cfg = DefaultRunnerConfig()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Runner{store: store, config: cfg, log: logger.Get()}
}

// Execute runs def under instanceID. An instance already completed or halted
// under the same ID is returned as-is without re-running any step.
func (r *Runner) Execute(ctx context.Context, def *Definition, instanceID string) (*Instance, error) {
	if def == nil || len(def.Steps) == 0 {
		return nil, fmt.Errorf("saga definition has no steps")
	}

	instance, err := r.store.Get(ctx, instanceID)
	switch {
	case err == nil:
		if instance.Done() {
			return instance, nil
		}
	case errors.Is(err, ErrSagaNotFound):
		now := time.Now()
		instance = &Instance{
			ID:           instanceID,
			DefinitionID: def.Name,
			CreatedAt:    now,
		}
	default:
		return nil, fmt.Errorf("failed to load saga %s: %w", instanceID, err)
	}

	instance.Status = StatusRunning
	instance.StepResults = instance.StepResults[:0]
	instance.Error = ""
	instance.Runs++
	instance.UpdatedAt = time.Now()
	r.save(ctx, instance)

	for _, step := range def.Steps {
		if err := ctx.Err(); err != nil {
			instance.finish(StatusFailed, err)
			r.save(ctx, instance)
			return instance, err
		}

		result, stepErr := r.runStep(ctx, step)
		instance.StepResults = append(instance.StepResults, result)

		switch result.Status {
		case StepStatusHalted:
			r.log.Info(fmt.Sprintf("Saga %s halted at step %s: %s", instanceID, step.Name, result.Detail))
			instance.finish(StatusHalted, nil)
			r.save(ctx, instance)
			return instance, nil
		case StepStatusFailed:
			r.log.Error(fmt.Sprintf("Saga %s failed at step %s", instanceID, step.Name), zap.Error(stepErr))
			instance.finish(StatusFailed, stepErr)
			r.save(ctx, instance)
			return instance, fmt.Errorf("step %s: %w", step.Name, stepErr)
		}
	}

	instance.finish(StatusCompleted, nil)
	r.save(ctx, instance)
	return instance, nil
}

func (r *Runner) runStep(ctx context.Context, step *Step) (*StepResult, error) {
	result := &StepResult{StepName: step.Name, StartedAt: time.Now()}

	cfg := &retry.Config{
		MaxRetries:      step.Retries,
		InitialInterval: r.config.StepRetryInterval,
		MaxInterval:     r.config.MaxStepRetryInterval,
		Multiplier:      2.0,
		JitterFactor:    0.2,
		RetryIf: func(err error) bool {
			return !errors.Is(err, ErrSkipped) && !errors.Is(err, ErrHalt)
		},
		OnRetry: func(attempt int, err error, wait time.Duration) {
			r.log.Warn(fmt.Sprintf("Step %s attempt %d failed, retrying in %s", step.Name, attempt, wait), zap.Error(err))
		},
	}

	out := retry.Do(ctx, cfg, func(ctx context.Context) error {
		stepCtx, cancel := context.WithTimeout(ctx, step.Timeout)
		defer cancel()
		return step.Run(stepCtx)
	})

	result.Attempts = out.Attempts
	result.FinishedAt = time.Now()
	result.Duration = result.FinishedAt.Sub(result.StartedAt)

	lastErr := out.LastError
	if lastErr == nil {
		lastErr = out.Err
	}

	switch {
	case out.Err == nil:
		result.Status = StepStatusCompleted
		return result, nil
	case errors.Is(lastErr, ErrSkipped):
		result.Status = StepStatusSkipped
		result.Detail = lastErr.Error()
		return result, nil
	case errors.Is(lastErr, ErrHalt):
		result.Status = StepStatusHalted
		result.Detail = lastErr.Error()
		return result, nil
	default:
		result.Status = StepStatusFailed
		result.Detail = lastErr.Error()
		return result, lastErr
	}
}

func (r *Runner) save(ctx context.Context, instance *Instance) {
	if err := r.store.Save(ctx, instance); err != nil {
		r.log.Warn(fmt.Sprintf("Failed to persist saga %s", instance.ID), zap.Error(err))
	}
}
