// Package backoff wraps remote calls with exponential backoff, multiplicative
// jitter, retry-after honoring and a hard attempt cap. Retryability is
// decided once at the boundary by Classify; callers never re-inspect raw
// vendor error shapes.
package backoff

import (
	"context"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/parleyhq/parley/logging"
)

// Config is the immutable retry policy for one backend connection.
type Config struct {
	MaxAttempts   int
	InitialDelay  time.Duration
	Multiplier    float64
	MaxDelay      time.Duration
	Jitter        float64 // 0..1, multiplicative
	RetryStatuses map[int]bool
}

// DefaultConfig returns the policy used when a backend supplies none.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		Multiplier:   2.0,
		MaxDelay:     60 * time.Second,
		Jitter:       0.2,
		RetryStatuses: map[int]bool{
			429: true, 500: true, 502: true, 503: true, 504: true, 529: true,
		},
	}
}

// Metrics accumulates retry observability counters for one executor.
// Counters are monotonically increasing; accumulation is guarded so
// interleaved cooperative tasks cannot lose updates.
type Metrics struct {
	mu         sync.Mutex
	retryCount int
	totalDelay time.Duration
}

func (m *Metrics) record(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryCount++
	m.totalDelay += d
}

// RetryCount returns the number of retries performed so far.
func (m *Metrics) RetryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.retryCount
}

// TotalDelay returns the cumulative time spent sleeping between attempts.
func (m *Metrics) TotalDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totalDelay
}

// Options configures an Executor.
type Options struct {
	Logger  logging.Logger
	Metrics *Metrics
	// Sleep overrides the delay function, for tests.
	Sleep func(ctx context.Context, d time.Duration) error
	// Rand supplies jitter randomness.
	Rand *rand.Rand
}

// Executor retries an operation according to its Config. Safe for use from
// multiple cooperative tasks; per-call state lives on the stack.
type Executor struct {
	cfg     Config
	logger  logging.Logger
	metrics *Metrics
	sleep   func(ctx context.Context, d time.Duration) error
	rand    *rand.Rand
}

// New constructs an Executor with optional overrides.
func New(cfg Config, optFns ...func(o *Options)) *Executor {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Metrics == nil {
		opts.Metrics = &Metrics{}
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Executor{
		cfg:     cfg,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		sleep:   opts.Sleep,
		rand:    opts.Rand,
	}
}

// Metrics exposes the executor's retry counters.
func (e *Executor) Metrics() *Metrics { return e.metrics }

// Config returns the immutable retry policy.
func (e *Executor) Config() Config { return e.cfg }

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Operation is a retryable remote call.
type Operation[T any] func(ctx context.Context) (T, error)

// Execute runs op up to cfg.MaxAttempts times. Non-retryable errors and
// exhaustion both propagate the upstream error verbatim, preserving the
// original diagnostics.
func Execute[T any](ctx context.Context, e *Executor, op Operation[T]) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		cls := Classify(err, e.cfg)
		if !cls.Retryable || attempt == e.cfg.MaxAttempts {
			return zero, lastErr
		}

		delay := e.delayFor(attempt, cls)
		e.metrics.record(delay)
		e.logger.Warn("backoff.retry",
			"attempt", attempt, "max_attempts", e.cfg.MaxAttempts,
			"delay_ms", delay.Milliseconds(), "error", err.Error())

		if err := e.sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// delayFor computes the pre-jitter delay for the given attempt (1-based),
// preferring an upstream retry-after hint, then applies jitter.
func (e *Executor) delayFor(attempt int, cls Classification) time.Duration {
	var delay time.Duration
	if cls.HasRetryAfter {
		delay = cls.RetryAfter
	} else {
		d := float64(e.cfg.InitialDelay) * math.Pow(e.cfg.Multiplier, float64(attempt-1))
		delay = time.Duration(d)
	}
	if delay > e.cfg.MaxDelay {
		delay = e.cfg.MaxDelay
	}
	if e.cfg.Jitter > 0 {
		factor := 1 - e.cfg.Jitter + 2*e.cfg.Jitter*e.rand.Float64()
		delay = time.Duration(float64(delay) * factor)
	}
	return delay
}
