package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

var (
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
	ErrContextCanceled    = errors.New("context canceled during retry")
	// ErrDLQPublish means a message failed and could not be parked either
	ErrDLQPublish = errors.New("failed to publish to DLQ")
)

// Config describes an exponential backoff policy
type Config struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	// InitialInterval is the first wait (default 1s)
	InitialInterval time.Duration
	// MaxInterval caps every wait (default 30s)
	MaxInterval time.Duration
	// Multiplier grows the wait after each retry (default 2)
	Multiplier float64
	// JitterFactor spreads each wait by up to ±JitterFactor, clamped to [0,1]
	JitterFactor float64
	// RetryIf restricts retries to matching errors. Nil retries everything
	// not marked Permanent.
	RetryIf func(err error) bool
	// OnRetry is called before each wait
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultConfig waits 1s, 2s, 4s, 8s, 16s
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:      5,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		JitterFactor:    0.1,
	}
}

// ConflictConfig is tuned for optimistic-lock conflicts: short, jittered
// waits so that racing writers spread out, retrying only when match says so.
func ConflictConfig(maxRetries int, match func(err error) bool) *Config {
	return &Config{
		MaxRetries:      maxRetries,
		InitialInterval: 5 * time.Millisecond,
		MaxInterval:     100 * time.Millisecond,
		Multiplier:      2.0,
		JitterFactor:    0.5,
		RetryIf:         match,
	}
}

// wait returns the pause before retry number attempt+1
func (c *Config) wait(attempt int) time.Duration {
	d := float64(c.InitialInterval) * math.Pow(c.Multiplier, float64(attempt))
	if c.JitterFactor > 0 {
		d += (rand.Float64()*2 - 1) * d * c.JitterFactor
	}
	d = math.Min(d, float64(c.MaxInterval))
	if d <= 0 {
		return c.InitialInterval
	}
	return time.Duration(d)
}

// Operation is the function being retried
type Operation func(ctx context.Context) error

// PermanentError stops the retry loop immediately
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent marks err as not worth retrying
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err was marked Permanent
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}

// Result reports how a retried operation ended
type Result struct {
	// Err is nil on success. Otherwise it is the permanent or non-matching
	// error, ErrMaxRetriesExceeded or ErrContextCanceled.
	Err error
	// LastError is what the last attempt returned
	LastError error
	// Attempts counts the first call too
	Attempts int
	Elapsed  time.Duration
}

// Retrier runs operations under one Config
type Retrier struct {
	config *Config
}

// New fills zero fields of config with defaults, in place
func New(config *Config) *Retrier {
	if config == nil {
		config = DefaultConfig()
	}
	if config.InitialInterval <= 0 {
		config.InitialInterval = time.Second
	}
	if config.MaxInterval <= 0 {
		config.MaxInterval = 30 * time.Second
	}
	if config.Multiplier <= 0 {
		config.Multiplier = 2.0
	}
	config.JitterFactor = math.Max(0, math.Min(1, config.JitterFactor))
	return &Retrier{config: config}
}

// Do calls op until it succeeds, fails permanently, runs out of retries or
// ctx is done
func (r *Retrier) Do(ctx context.Context, op Operation) *Result {
	start := time.Now()
	res := &Result{}
	done := func(err error) *Result {
		res.Err = err
		res.Elapsed = time.Since(start)
		return res
	}

	for attempt := 0; ; attempt++ {
		if ctx.Err() != nil {
			return done(ErrContextCanceled)
		}
		res.Attempts = attempt + 1

		err := op(ctx)
		res.LastError = err
		if err == nil {
			return done(nil)
		}

		var p *PermanentError
		if errors.As(err, &p) {
			res.LastError = p.Err
			return done(p.Err)
		}
		if r.config.RetryIf != nil && !r.config.RetryIf(err) {
			return done(err)
		}
		if attempt >= r.config.MaxRetries {
			return done(ErrMaxRetriesExceeded)
		}

		wait := r.config.wait(attempt)
		if r.config.OnRetry != nil {
			r.config.OnRetry(attempt+1, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return done(ErrContextCanceled)
		case <-timer.C:
		}
	}
}

// Do runs op with a Retrier built from config
func Do(ctx context.Context, config *Config, op Operation) *Result {
	return New(config).Do(ctx, op)
}

// Run is Do for callers that only need an error. The last attempt's error
// stays in the chain so errors.Is works on domain errors.
func Run(ctx context.Context, config *Config, op Operation) error {
	res := Do(ctx, config, op)
	switch {
	case res.Err == nil:
		return nil
	case res.LastError == nil, errors.Is(res.Err, res.LastError):
		return res.Err
	default:
		return errors.Join(res.Err, res.LastError)
	}
}
