package tool

import (
	"sync"
	"time"
)

// CircuitBreaker suppresses calls to external tool servers that have failed
// repeatedly in the recent past. A server is blocked once its consecutive
// failure count reaches the threshold and stays blocked for the cooldown;
// any success resets its count.
type CircuitBreaker struct {
	mu           sync.Mutex
	threshold    int
	cooldown     time.Duration
	failures     map[string]int
	blockedUntil map[string]time.Time
	now          func() time.Time
}

// BreakerOptions configures a CircuitBreaker.
type BreakerOptions struct {
	// FailureThreshold is the consecutive failure count that trips the
	// breaker. Default 3.
	FailureThreshold int
	// Cooldown is how long a tripped server stays blocked. Default 60s.
	Cooldown time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewCircuitBreaker constructs a breaker with optional overrides.
func NewCircuitBreaker(optFns ...func(o *BreakerOptions)) *CircuitBreaker {
	opts := BreakerOptions{FailureThreshold: 3, Cooldown: 60 * time.Second, Now: time.Now}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &CircuitBreaker{
		threshold:    opts.FailureThreshold,
		cooldown:     opts.Cooldown,
		failures:     make(map[string]int),
		blockedUntil: make(map[string]time.Time),
		now:          opts.Now,
	}
}

// Allow reports whether calls to the server are currently permitted.
func (b *CircuitBreaker) Allow(server string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	until, blocked := b.blockedUntil[server]
	if !blocked {
		return true
	}
	if b.now().After(until) {
		delete(b.blockedUntil, server)
		b.failures[server] = 0
		return true
	}
	return false
}

// RecordFailure counts a failure and trips the breaker at the threshold.
func (b *CircuitBreaker) RecordFailure(server string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures[server]++
	if b.failures[server] >= b.threshold {
		b.blockedUntil[server] = b.now().Add(b.cooldown)
	}
}

// RecordSuccess resets the server's failure count.
func (b *CircuitBreaker) RecordSuccess(server string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures[server] = 0
	delete(b.blockedUntil, server)
}
