// Package ratelimit implements the per-terminal output rate limiter:
// a three-state mode (Idle, Active, Limited) that gates how
// often a terminal's emulator is allowed to push screen-change
// notifications once output arrives in a sustained burst.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Mode is the limiter's current state.
type Mode int

const (
	Idle Mode = iota
	Active
	Limited
)

func (m Mode) String() string {
	switch m {
	case Idle:
		return "idle"
	case Active:
		return "active"
	case Limited:
		return "limited"
	default:
		return "unknown"
	}
}

// Limiter tracks Idle -> Active -> Limited transitions for one terminal's
// output stream. Active is entered on the first byte of a burst; if no
// idle gap exceeding threshold occurs within interval, it transitions to
// Limited, where pushChanges is gated to at most one activation per
// interval via an x/time/rate token bucket. Explicit input from the
// owning client resets to Idle.
type Limiter struct {
	interval  time.Duration
	threshold time.Duration

	mu          sync.Mutex
	mode        Mode
	firstByteAt time.Time
	lastByteAt  time.Time
	gate        *rate.Limiter
}

// New creates a Limiter. interval bounds how often pushChanges may fire
// once Limited; threshold is the idle gap between bytes that restarts the
// burst (and its interval clock) in Active mode.
func New(interval, threshold time.Duration) *Limiter {
	return &Limiter{
		interval:  interval,
		threshold: threshold,
		mode:      Idle,
		gate:      rate.NewLimiter(rate.Every(interval), 1),
	}
}

// OnData is called on every byte (or batch of bytes) of terminal output.
// It advances the state machine and returns the resulting mode.
func (l *Limiter) OnData(now time.Time) Mode {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.mode {
	case Idle:
		l.mode = Active
		l.firstByteAt = now
		l.lastByteAt = now
	case Active:
		if now.Sub(l.lastByteAt) > l.threshold {
			l.firstByteAt = now
		}
		l.lastByteAt = now
		if now.Sub(l.firstByteAt) >= l.interval {
			l.mode = Limited
		}
	case Limited:
		if now.Sub(l.lastByteAt) > l.threshold {
			l.mode = Active
			l.firstByteAt = now
		}
		l.lastByteAt = now
	}
	return l.mode
}

// OnInput is called on explicit input from the owning client and always
// resets the limiter to Idle.
func (l *Limiter) OnInput() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.mode = Idle
}

// Mode returns the current mode without mutating state.
func (l *Limiter) Mode() Mode {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.mode
}

// AllowPush reports whether pushChanges may fire right now. In Idle and
// Active it always allows; in Limited it defers to the token bucket,
// gating to at most one activation per interval.
func (l *Limiter) AllowPush() bool {
	l.mu.Lock()
	mode := l.mode
	l.mu.Unlock()

	if mode != Limited {
		return true
	}
	return l.gate.Allow()
}
