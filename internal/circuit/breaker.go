// Package circuit stops calling an archive backend that keeps failing and probes
// it again after a cooldown.
package circuit

import (
	"sync"
	"time"

	"github.com/ipfs-kit/perfmetrics/pkg/errors"
)

// State represents the breaker state
type State int

const (
	// StateClosed passes every call through
	StateClosed State = iota
	// StateOpen rejects calls until the cooldown elapses
	StateOpen
	// StateHalfOpen lets a single probe through
	StateHalfOpen
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config configures a Breaker
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32 `yaml:"failure_threshold"`

	// Cooldown is how long the breaker stays open before a probe is allowed.
	Cooldown time.Duration `yaml:"cooldown"`

	OnStateChange func(name string, from, to State) `yaml:"-"`
}

// DefaultConfig returns the default breaker configuration
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		Cooldown:         15 * time.Minute,
	}
}

// Counts holds the outcome counters of the current state.
type Counts struct {
	Requests            uint32    `json:"requests"`
	Failures            uint32    `json:"failures"`
	ConsecutiveFailures uint32    `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure"`
}

// Breaker tracks consecutive failures of one backend.
type Breaker struct {
	name   string
	config Config

	mu       sync.Mutex
	state    State
	counts   Counts
	openedAt time.Time
	probing  bool

	now func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(name string, config Config) *Breaker {
	d := DefaultConfig()
	if config.FailureThreshold == 0 {
		config.FailureThreshold = d.FailureThreshold
	}
	if config.Cooldown <= 0 {
		config.Cooldown = d.Cooldown
	}
	return &Breaker{
		name:   name,
		config: config,
		state:  StateClosed,
		now:    time.Now,
	}
}

// Allow reports whether a call may proceed. Every allowed call must be followed
// by exactly one Done.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.currentState() {
	case StateOpen:
		return b.openError()
	case StateHalfOpen:
		if b.probing {
			return b.openError()
		}
		b.probing = true
	}
	b.counts.Requests++
	return nil
}

// Done records the outcome of a call admitted by Allow.
func (b *Breaker) Done(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	state := b.currentState()
	b.probing = false

	if err == nil {
		b.counts.ConsecutiveFailures = 0
		if state == StateHalfOpen {
			b.setState(StateClosed)
		}
		return
	}

	b.counts.Failures++
	b.counts.ConsecutiveFailures++
	b.counts.LastFailure = b.now()

	switch state {
	case StateClosed:
		if b.counts.ConsecutiveFailures >= b.config.FailureThreshold {
			b.setState(StateOpen)
		}
	case StateHalfOpen:
		b.setState(StateOpen)
	}
}

func (b *Breaker) currentState() State {
	if b.state == StateOpen && !b.now().Before(b.openedAt.Add(b.config.Cooldown)) {
		b.setState(StateHalfOpen)
	}
	return b.state
}

func (b *Breaker) setState(state State) {
	prev := b.state
	if prev == state {
		return
	}

	b.state = state
	if state == StateOpen {
		b.openedAt = b.now()
	}
	if state == StateClosed {
		b.counts = Counts{}
	}

	if b.config.OnStateChange != nil {
		b.config.OnStateChange(b.name, prev, state)
	}
}

func (b *Breaker) openError() error {
	return errors.NewError(errors.ErrCodeArchiveOpen, "archive backend is failing, skipped until cooldown ends").
		WithComponent("circuit").
		WithOperation(b.name).
		WithDetail("retry_after", b.openedAt.Add(b.config.Cooldown).Sub(b.now()).Round(time.Second).String())
}

// Err returns the rejection error while the breaker is open, nil otherwise.
func (b *Breaker) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.currentState() == StateOpen {
		return b.openError()
	}
	return nil
}

// State returns the current state
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentState()
}

// Counts returns a copy of the current counters
func (b *Breaker) Counts() Counts {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.counts
}

// Reset closes the breaker and clears its counters
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.probing = false
	b.setState(StateClosed)
	b.counts = Counts{}
}

// Name returns the breaker name
func (b *Breaker) Name() string { return b.name }
