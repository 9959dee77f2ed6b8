package cooldown

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// state tracks the last committed escalation for one symbol.
type state struct {
	lastEscalation time.Time
	lastMagnitude  decimal.Decimal
}

// Scheduler suppresses repeated escalations per asset within a cooldown
// window. Every symbol starts READY; SUPPRESSED expires lazily once the
// window has elapsed, no background timer involved.
type Scheduler struct {
	mu       sync.Mutex
	duration time.Duration
	states   map[string]state
}

// New constructs a scheduler with the given cooldown duration.
func New(duration time.Duration) *Scheduler {
	return &Scheduler{
		duration: duration,
		states:   make(map[string]state),
	}
}

// IsSuppressed reports whether an actionable reading for symbol must be held
// back at instant now. A move at least twice the magnitude of the last
// escalated one breaks through an active window: a genuinely accelerating
// situation should not be silenced by its own earlier alert.
func (s *Scheduler) IsSuppressed(symbol string, magnitude decimal.Decimal, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.states[symbol]
	if !ok {
		return false
	}
	if now.Sub(st.lastEscalation) >= s.duration {
		delete(s.states, symbol)
		return false
	}
	if !st.lastMagnitude.IsZero() && magnitude.GreaterThanOrEqual(st.lastMagnitude.Mul(decimal.NewFromInt(2))) {
		return false
	}
	return true
}

// MarkEscalated stamps a committed escalation for symbol. Called only after
// notification dispatch was attempted with a successful sentinel analysis.
func (s *Scheduler) MarkEscalated(symbol string, magnitude decimal.Decimal, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[symbol] = state{lastEscalation: now, lastMagnitude: magnitude}
}

// Seed primes suppression state, typically from persisted events at startup
// when cooldown persistence across restarts is enabled. Entries older than
// one full window are ignored; they would expire on first check anyway.
func (s *Scheduler) Seed(symbol string, magnitude decimal.Decimal, escalatedAt time.Time, now time.Time) {
	if now.Sub(escalatedAt) >= s.duration {
		return
	}
	s.MarkEscalated(symbol, magnitude, escalatedAt)
}

// Reset clears suppression for one symbol.
func (s *Scheduler) Reset(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, symbol)
}
