package recovery

import (
	"errors"
	"sync"
	"time"
)

// BreakerState represents the state of one artifact's circuit breaker.
type BreakerState int

const (
	// BreakerClosed is the normal operation state.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects all recovery attempts.
	BreakerOpen
	// BreakerHalfOpen allows exactly one probe attempt.
	BreakerHalfOpen
)

// String returns the string representation of the breaker state.
func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the per-identity circuit breakers.
type BreakerConfig struct {
	FailureThreshold     int           // Consecutive failures before opening (default: 3)
	ResetTimeout         time.Duration // Time before allowing a half-open probe (default: 30s)
	MaxBackoffMultiplier int           // Cap on reset timeout doubling (default: 4)
	Clock                Clock         // nil uses the system clock
}

// DefaultBreakerConfig returns sensible defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold:     3,
		ResetTimeout:         30 * time.Second,
		MaxBackoffMultiplier: 4,
	}
}

// ErrBreakerOpen is returned when recovery is disabled for an identity.
var ErrBreakerOpen = errors.New("recovery disabled: breaker is open")

// Breaker gates recovery attempts for a single artifact identity. Repeated
// probe failures double the reset timeout up to the configured cap; a
// successful probe restores both the counter and the base timeout.
type Breaker struct {
	mu sync.Mutex

	state       BreakerState
	failures    int
	lastFailure time.Time
	backoff     int  // current timeout multiplier
	probing     bool // half-open probe already handed out

	// Configuration
	failureThreshold int
	resetTimeout     time.Duration
	maxBackoff       int
	clock            Clock
}

// NewBreaker creates a breaker in the closed state.
func NewBreaker(cfg BreakerConfig) *Breaker {
	// Apply defaults for zero values
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.MaxBackoffMultiplier <= 0 {
		cfg.MaxBackoffMultiplier = 4
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock
	}

	return &Breaker{
		state:            BreakerClosed,
		backoff:          1,
		failureThreshold: cfg.FailureThreshold,
		resetTimeout:     cfg.ResetTimeout,
		maxBackoff:       cfg.MaxBackoffMultiplier,
		clock:            cfg.Clock,
	}
}

// Allow checks if a recovery attempt may proceed. On an open breaker whose
// reset timeout has elapsed it transitions to half-open and hands out the
// single probe slot; further calls are rejected until the probe resolves.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.clock.Now().Sub(b.lastFailure) > b.currentTimeout() {
			b.state = BreakerHalfOpen
			b.probing = true
			return nil
		}
		return ErrBreakerOpen
	case BreakerHalfOpen:
		if b.probing {
			return ErrBreakerOpen
		}
		b.probing = true
		return nil
	}
	return nil
}

// Success records a successful attempt.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerClosed
		b.failures = 0
		b.backoff = 1
		b.probing = false
	case BreakerClosed:
		b.failures = 0
	}
}

// Failure records a failed attempt.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.clock.Now()

	switch b.state {
	case BreakerClosed:
		if b.failures >= b.failureThreshold {
			b.state = BreakerOpen
		}
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.probing = false
		if b.backoff < b.maxBackoff {
			b.backoff *= 2
			if b.backoff > b.maxBackoff {
				b.backoff = b.maxBackoff
			}
		}
	}
}

// Release returns an unused probe slot, for attempts that were cancelled
// before producing an outcome. Cancelled attempts count neither as success
// nor failure.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen && b.probing {
		b.probing = false
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

func (b *Breaker) currentTimeout() time.Duration {
	return b.resetTimeout * time.Duration(b.backoff)
}

// Breakers is the per-identity breaker registry. One misbehaving artifact
// cannot block recovery for others: each identity gets its own breaker.
type Breakers struct {
	mu  sync.Mutex
	cfg BreakerConfig
	m   map[string]*Breaker
}

// NewBreakers creates an empty registry; breakers are created on first
// lookup with the given configuration.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{
		cfg: cfg,
		m:   make(map[string]*Breaker),
	}
}

// Get returns the breaker for an identity, creating it on first use.
func (r *Breakers) Get(identifier string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.m[identifier]
	if !ok {
		b = NewBreaker(r.cfg)
		r.m[identifier] = b
	}
	return b
}

// Len reports how many identities have breaker state.
func (r *Breakers) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.m)
}
