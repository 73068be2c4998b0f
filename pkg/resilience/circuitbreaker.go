// Package resilience provides fault-tolerance primitives for talking to the
// upstream content and sync endpoints: a circuit breaker, exponential-backoff
// retry with permanent-error short-circuiting, and a timeout wrapper.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("circuit breaker is open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = [...]string{StateClosed: "closed", StateOpen: "open", StateHalfOpen: "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the
	// circuit. Default 5.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before letting probe
	// calls through. Default 30s.
	ResetTimeout time.Duration
	// HalfOpenMaxRequests caps concurrent probe calls. Default 1.
	HalfOpenMaxRequests int
	// IsFailure decides whether an error counts against the circuit. By
	// default every error does except cancellation by the caller.
	IsFailure func(error) bool
	// OnStateChange, if set, is called with the lock held after every
	// transition. It must not call back into the breaker.
	OnStateChange func(name string, to State)
	Now           func() time.Time
}

func (c *CircuitBreakerConfig) fillDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 30 * time.Second
	}
	if c.HalfOpenMaxRequests <= 0 {
		c.HalfOpenMaxRequests = 1
	}
	if c.IsFailure == nil {
		c.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Counts is a snapshot of the breaker's bookkeeping.
type Counts struct {
	State               State
	ConsecutiveFailures int
	Probes              int
	OpenedAt            time.Time
}

// CircuitBreaker stops calling a failing endpoint for ResetTimeout after
// FailureThreshold consecutive failures, then lets a limited number of probe
// calls decide whether to close again.
type CircuitBreaker struct {
	name   string
	cfg    CircuitBreakerConfig
	logger *slog.Logger

	mu     sync.Mutex
	counts Counts
}

func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	cfg.fillDefaults()
	return &CircuitBreaker{
		name:   name,
		cfg:    cfg,
		logger: slog.Default().With("component", "circuit-breaker", "name", name),
	}
}

// Execute runs fn unless the circuit is open and records its outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.admit(); err != nil {
		return err
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *CircuitBreaker) GetState() State {
	return cb.Counts().State
}

func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.counts.State == StateOpen {
		wait := cb.cfg.ResetTimeout - cb.cfg.Now().Sub(cb.counts.OpenedAt)
		if wait > 0 {
			return fmt.Errorf("%w: %s (retry in %v)", ErrCircuitOpen, cb.name, wait.Round(time.Millisecond))
		}
		cb.transition(StateHalfOpen)
	}
	if cb.counts.State == StateHalfOpen {
		if cb.counts.Probes >= cb.cfg.HalfOpenMaxRequests {
			return fmt.Errorf("%w: %s (probe in flight)", ErrCircuitOpen, cb.name)
		}
		cb.counts.Probes++
	}
	return nil
}

func (cb *CircuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err == nil || !cb.cfg.IsFailure(err) {
		cb.counts.ConsecutiveFailures = 0
		if cb.counts.State == StateHalfOpen {
			cb.transition(StateClosed)
		}
		return
	}

	cb.counts.ConsecutiveFailures++
	switch {
	case cb.counts.State == StateHalfOpen:
		cb.transition(StateOpen)
	case cb.counts.ConsecutiveFailures >= cb.cfg.FailureThreshold:
		cb.transition(StateOpen)
	}
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to State) {
	if cb.counts.State == to {
		return
	}
	from := cb.counts.State
	cb.counts.State = to
	cb.counts.Probes = 0
	if to == StateOpen {
		cb.counts.OpenedAt = cb.cfg.Now()
	}
	cb.logger.Info("circuit state changed", "from", from, "to", to, "consecutive_failures", cb.counts.ConsecutiveFailures)
	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.name, to)
	}
}
