package breaker

import (
	"errors"
	"sync"
	"time"
)

// State represents the state of the circuit breaker.
type State int

const (
	// Closed is the initial state where calls are allowed.
	Closed State = iota
	// Open is the tripped state where calls are rejected immediately.
	Open
	// HalfOpen allows trial calls to test whether the downstream recovered.
	HalfOpen
)

// ErrOpen is returned when the breaker rejects a call in the Open state.
var ErrOpen = errors.New("circuit breaker is open")

// Breaker is a consecutive-failure circuit breaker. It trips after
// failureThreshold consecutive failures, rejects calls for the configured
// timeout, then lets trial calls through and closes again after
// successThreshold consecutive successes.
type Breaker struct {
	failureThreshold uint32
	successThreshold uint32
	timeout          time.Duration

	mu        sync.Mutex
	state     State
	failures  uint32
	successes uint32
	openedAt  time.Time
	now       func() time.Time
}

// New creates a new Breaker.
func New(failureThreshold, successThreshold uint32, timeout time.Duration) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		timeout:          timeout,
		state:            Closed,
		now:              time.Now,
	}
}

// State returns the current state of the breaker.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refresh()
	return b.state
}

// Do runs fn unless the breaker is open. The call's error is passed through
// unchanged; a rejected call returns ErrOpen without invoking fn.
func (b *Breaker) Do(fn func() error) error {
	b.mu.Lock()
	b.refresh()
	if b.state == Open {
		b.mu.Unlock()
		return ErrOpen
	}
	b.mu.Unlock()

	err := fn()

	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.onFailure()
		return err
	}
	b.onSuccess()
	return nil
}

// refresh moves an expired Open state to HalfOpen. Callers must hold mu.
func (b *Breaker) refresh() {
	if b.state == Open && b.now().Sub(b.openedAt) > b.timeout {
		b.state = HalfOpen
		b.successes = 0
	}
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case HalfOpen:
		b.successes++
		if b.successes >= b.successThreshold {
			b.state = Closed
			b.failures = 0
		}
	case Closed:
		b.failures = 0
	}
}

func (b *Breaker) onFailure() {
	switch b.state {
	case HalfOpen:
		b.trip()
	case Closed:
		b.failures++
		if b.failures >= b.failureThreshold {
			b.trip()
		}
	}
}

func (b *Breaker) trip() {
	b.state = Open
	b.openedAt = b.now()
	b.failures = 0
	b.successes = 0
}
