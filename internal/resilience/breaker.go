// Package resilience guards calls to the real network with a circuit breaker.
package resilience

import (
	"errors"
	"sync"
	"time"
)

var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests")
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Settings configures the circuit breaker
type Settings struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold uint32
	// Cooldown is how long the circuit stays open before probing
	Cooldown time.Duration
	// Probes is the number of requests admitted while half-open; that many
	// successes close the circuit again
	Probes uint32
	// OnStateChange is called with the lock released after every transition
	OnStateChange func(name string, from, to State)
	// Now overrides the clock (tests)
	Now func() time.Time
}

// Counts holds the statistics of the current state
type Counts struct {
	Requests             uint32
	Successes            uint32
	Failures             uint32
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
}

// Breaker implements the circuit breaker pattern
type Breaker struct {
	name     string
	settings Settings

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	epoch    uint64
}

// New creates a breaker; zero settings get defaults
func New(name string, s Settings) *Breaker {
	if s.FailureThreshold == 0 {
		s.FailureThreshold = 5
	}
	if s.Cooldown == 0 {
		s.Cooldown = 30 * time.Second
	}
	if s.Probes == 0 {
		s.Probes = 1
	}
	if s.Now == nil {
		s.Now = time.Now
	}
	return &Breaker{name: name, settings: s}
}

// Name returns the breaker's name
func (b *Breaker) Name() string {
	return b.name
}

// State returns the current state, moving from open to half-open once the
// cooldown has elapsed
func (b *Breaker) State() State {
	b.mu.Lock()
	state, change := b.refresh()
	b.mu.Unlock()
	b.notify(change)
	return state
}

// Counts returns a copy of the counts of the current state
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Do runs fn if the breaker admits it and records the outcome
func (b *Breaker) Do(fn func() error) error {
	epoch, err := b.admit()
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			b.record(epoch, false)
			panic(r)
		}
	}()

	err = fn()
	b.record(epoch, err == nil)
	return err
}

type transition struct {
	from, to State
	ok       bool
}

func (b *Breaker) admit() (uint64, error) {
	b.mu.Lock()
	state, change := b.refresh()
	var err error
	switch {
	case state == StateOpen:
		err = ErrCircuitOpen
	case state == StateHalfOpen && b.counts.Requests >= b.settings.Probes:
		err = ErrTooManyRequests
	default:
		b.counts.Requests++
	}
	epoch := b.epoch
	b.mu.Unlock()

	b.notify(change)
	return epoch, err
}

func (b *Breaker) record(epoch uint64, success bool) {
	b.mu.Lock()
	var change transition
	if epoch == b.epoch {
		if success {
			b.counts.Successes++
			b.counts.ConsecutiveSuccesses++
			b.counts.ConsecutiveFailures = 0
			if b.state == StateHalfOpen && b.counts.ConsecutiveSuccesses >= b.settings.Probes {
				change = b.move(StateClosed)
			}
		} else {
			b.counts.Failures++
			b.counts.ConsecutiveFailures++
			b.counts.ConsecutiveSuccesses = 0
			if b.state == StateHalfOpen || b.counts.ConsecutiveFailures >= b.settings.FailureThreshold {
				change = b.move(StateOpen)
			}
		}
	}
	b.mu.Unlock()
	b.notify(change)
}

// refresh must be called with the lock held
func (b *Breaker) refresh() (State, transition) {
	if b.state == StateOpen && !b.settings.Now().Before(b.openedAt.Add(b.settings.Cooldown)) {
		return StateHalfOpen, b.move(StateHalfOpen)
	}
	return b.state, transition{}
}

// move must be called with the lock held; results from before the move are
// ignored because the epoch changes
func (b *Breaker) move(to State) transition {
	from := b.state
	b.state = to
	b.counts = Counts{}
	b.epoch++
	if to == StateOpen {
		b.openedAt = b.settings.Now()
	}
	return transition{from: from, to: to, ok: true}
}

func (b *Breaker) notify(t transition) {
	if t.ok && b.settings.OnStateChange != nil {
		b.settings.OnStateChange(b.name, t.from, t.to)
	}
}
