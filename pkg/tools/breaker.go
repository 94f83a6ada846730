package tools

import (
	"sync"
	"time"
)

// Breaker policy: trip after three consecutive failures, cool down, then
// allow a single half-open probe.
const (
	breakerFailureThreshold = 3
	defaultBreakerCooldown  = 60 * time.Second
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// breaker is the per-(task, tool) circuit breaker consulted before every
// MCP-backed tool call. Local tools bypass it entirely.
type breaker struct {
	mu                  sync.Mutex
	state               breakerState
	consecutiveFailures int
	openedAt            time.Time
	lastError           string
	cooldown            time.Duration
	probeInFlight       bool
}

func newBreaker(cooldown time.Duration) *breaker {
	if cooldown <= 0 {
		cooldown = defaultBreakerCooldown
	}
	return &breaker{cooldown: cooldown}
}

// Allow reports whether a call may proceed right now. When the cooldown
// has elapsed it flips to half-open and admits exactly one probe.
func (b *breaker) Allow(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if now.Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = stateHalfOpen
		b.probeInFlight = true
		return true
	case stateHalfOpen:
		if b.probeInFlight {
			return false
		}
		b.probeInFlight = true
		return true
	}
	return false
}

// RecordSuccess closes the breaker and resets failure tracking.
func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = stateClosed
	b.consecutiveFailures = 0
	b.lastError = ""
	b.probeInFlight = false
}

// RecordFailure counts a failure. In half-open state or at the failure
// threshold the breaker (re)opens and the cooldown restarts.
func (b *breaker) RecordFailure(now time.Time, errMsg string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.lastError = errMsg
	b.probeInFlight = false

	if b.state == stateHalfOpen || b.consecutiveFailures >= breakerFailureThreshold {
		b.state = stateOpen
		b.openedAt = now
	}
}

// LastError returns the most recent failure message.
func (b *breaker) LastError() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastError
}

// breakerSet holds the breakers for one task, keyed by tool id.
// Destroyed with the task; state never crosses task boundaries.
type breakerSet struct {
	mu       sync.Mutex
	breakers map[string]*breaker
	cooldown time.Duration
}

func newBreakerSet(cooldown time.Duration) *breakerSet {
	return &breakerSet{
		breakers: make(map[string]*breaker),
		cooldown: cooldown,
	}
}

func (s *breakerSet) forTool(name string) *breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[name]
	if !ok {
		b = newBreaker(s.cooldown)
		s.breakers[name] = b
	}
	return b
}
