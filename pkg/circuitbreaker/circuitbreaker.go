// Package circuitbreaker stops calling a failing dependency for a while and
// lets a few probe calls through before trusting it again.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrOpen is returned when the breaker rejects a call.
var ErrOpen = errors.New("circuit breaker open")

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

var stateNames = map[State]string{
	StateClosed:   "closed",
	StateOpen:     "open",
	StateHalfOpen: "half-open",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

type Config struct {
	// FailureThreshold consecutive failures open a closed breaker.
	FailureThreshold int
	// SuccessThreshold consecutive successes close a half-open breaker.
	SuccessThreshold int
	// Timeout is how long the breaker stays open before probing.
	Timeout time.Duration
	// MaxRequestsHalfOpen caps probes after the one that ends the open period.
	MaxRequestsHalfOpen int
	// IsFailure decides whether an error counts against the breaker.
	// Nil means every error does.
	IsFailure func(error) bool
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		MaxRequestsHalfOpen: 3,
	}
}

// Stats is a point-in-time view of a breaker.
type Stats struct {
	State           State
	FailureCount    int
	SuccessCount    int
	Probes          int
	LastFailureTime time.Time
	StateChangeTime time.Time
}

type CircuitBreaker struct {
	config Config
	now    func() time.Time

	mu       sync.RWMutex
	stats    Stats
	listener func(from, to State)
}

func New(config Config) *CircuitBreaker {
	cb := &CircuitBreaker{config: config, now: time.Now}
	cb.stats.StateChangeTime = cb.now()
	return cb
}

// OnStateChange registers fn to be called, on its own goroutine, after every
// state transition.
func (cb *CircuitBreaker) OnStateChange(fn func(from, to State)) {
	cb.mu.Lock()
	cb.listener = fn
	cb.mu.Unlock()
}

func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	_, err := Call(ctx, cb, func() (struct{}, error) { return struct{}{}, fn() })
	return err
}

// Call runs fn through the breaker and returns its result. A cancelled ctx
// fails fast without touching the breaker.
func Call[T any](ctx context.Context, cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	if state, ok := cb.admit(); !ok {
		return zero, fmt.Errorf("%w (state %s)", ErrOpen, state)
	}

	result, err := fn()
	cb.record(err == nil || (cb.config.IsFailure != nil && !cb.config.IsFailure(err)))
	if err != nil {
		return zero, err
	}
	return result, nil
}

func (cb *CircuitBreaker) admit() (State, bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.stats.State {
	case StateOpen:
		if cb.now().Sub(cb.stats.StateChangeTime) < cb.config.Timeout {
			return StateOpen, false
		}
		cb.setState(StateHalfOpen)
	case StateHalfOpen:
		if cb.stats.Probes >= cb.config.MaxRequestsHalfOpen {
			return StateHalfOpen, false
		}
		cb.stats.Probes++
	}
	return cb.stats.State, true
}

func (cb *CircuitBreaker) record(ok bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	s := &cb.stats
	if ok {
		s.SuccessCount++
		s.FailureCount = 0
		if s.State == StateHalfOpen && s.SuccessCount >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
		}
		return
	}

	s.FailureCount++
	s.SuccessCount = 0
	s.LastFailureTime = cb.now()
	if s.State == StateHalfOpen || s.FailureCount >= cb.config.FailureThreshold {
		cb.setState(StateOpen)
	}
}

// setState must be called with mu held.
func (cb *CircuitBreaker) setState(to State) {
	from := cb.stats.State
	if from == to {
		return
	}
	cb.stats.State = to
	cb.stats.StateChangeTime = cb.now()
	if to != StateOpen {
		cb.stats.FailureCount = 0
		cb.stats.SuccessCount = 0
		cb.stats.Probes = 0
	}
	if cb.listener != nil {
		go cb.listener(from, to)
	}
}

func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.stats
}

// Reset closes the breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	cb.setState(StateClosed)
	cb.mu.Unlock()
}
