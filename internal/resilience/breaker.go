// Package resilience wraps calls to the event broker so a dead broker does
// not turn every broadcast into a slow failure.
package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open and rejecting calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker's externally visible state.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker opens after maxFailures consecutive failures and rejects calls
// until the timeout elapses, then lets a single probe through (half-open).
type Breaker struct {
	mu          sync.Mutex
	state       State
	failures    int
	maxFailures int
	timeout     time.Duration
	openedAt    time.Time
	probing     bool
	onChange    func(from, to State)
	now         func() time.Time
}

// NewBreaker creates a closed circuit breaker.
func NewBreaker(maxFailures int, timeout time.Duration) *Breaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	return &Breaker{
		state:       StateClosed,
		maxFailures: maxFailures,
		timeout:     timeout,
		now:         time.Now,
	}
}

// OnStateChange registers fn to be called (outside the lock) on every
// transition. Must be set before the breaker is shared.
func (b *Breaker) OnStateChange(fn func(from, to State)) {
	b.onChange = fn
}

// State reports the current state. An open breaker whose timeout has
// elapsed still reports open until the next call probes it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Execute runs fn if the circuit allows it.
// Returns ErrCircuitOpen without calling fn otherwise.
func (b *Breaker) Execute(fn func() error) error {
	from, to, ok := b.allowRequest()
	b.notify(from, to)
	if !ok {
		return ErrCircuitOpen
	}

	err := fn()

	b.mu.Lock()
	from = b.state
	if err != nil {
		b.onFailure()
	} else {
		b.onSuccess()
	}
	to = b.state
	b.mu.Unlock()

	b.notify(from, to)
	return err
}

func (b *Breaker) allowRequest() (from, to State, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	from = b.state
	switch b.state {
	case StateClosed:
		ok = true
	case StateOpen:
		if b.now().Sub(b.openedAt) >= b.timeout {
			b.state = StateHalfOpen
			b.probing = true
			ok = true
		}
	case StateHalfOpen:
		// one probe at a time
		if !b.probing {
			b.probing = true
			ok = true
		}
	}
	return from, b.state, ok
}

// onFailure must be called with b.mu held.
func (b *Breaker) onFailure() {
	b.failures++
	b.probing = false
	if b.state == StateHalfOpen || b.failures >= b.maxFailures {
		b.state = StateOpen
		b.openedAt = b.now()
	}
}

// onSuccess must be called with b.mu held.
func (b *Breaker) onSuccess() {
	b.failures = 0
	b.probing = false
	b.state = StateClosed
}

func (b *Breaker) notify(from, to State) {
	if from != to && b.onChange != nil {
		b.onChange(from, to)
	}
}
