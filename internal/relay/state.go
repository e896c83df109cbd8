package relay

import (
	"sync"
	"time"
)

const (
	DefaultMessageTimeout    = 30 * time.Minute
	DefaultEscalationTimeout = 3 * time.Hour
	DefaultThreadTimeout     = 15 * time.Minute
)

// State holds the process-wide seen-set and paging state. Both live behind one
// mutex so a dedup check and a cooldown decision commit together.
type State struct {
	messageTimeout    time.Duration
	escalationTimeout time.Duration

	mu               sync.Mutex
	seen             map[string]struct{}
	lastMessageAt    time.Time
	lastEscalationAt time.Time
}

// NewState returns an empty State. Non-positive timeouts fall back to the defaults.
func NewState(messageTimeout, escalationTimeout time.Duration) *State {
	if messageTimeout <= 0 {
		messageTimeout = DefaultMessageTimeout
	}
	if escalationTimeout <= 0 {
		escalationTimeout = DefaultEscalationTimeout
	}
	return &State{
		messageTimeout:    messageTimeout,
		escalationTimeout: escalationTimeout,
		seen:              make(map[string]struct{}),
	}
}

// Observe returns true the first time key is seen and false on every later call.
func (s *State) Observe(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.observeLocked(key)
}

// ConsiderPing decides whether an incident arriving at now should escalate.
// It skips the escalation only when both the last message and the last
// escalation are recent. A true result commits the escalation; the caller
// must ping.
func (s *State) ConsiderPing(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.considerPingLocked(now)
}

// Admit observes key and, if it is new, makes the cooldown decision in the
// same critical section. Duplicates do not touch the paging state.
func (s *State) Admit(key string, now time.Time) (isNew, shouldPing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.observeLocked(key) {
		return false, false
	}
	return true, s.considerPingLocked(now)
}

// Seen reports how many distinct keys have been observed.
func (s *State) Seen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}

func (s *State) observeLocked(key string) bool {
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}

func (s *State) considerPingLocked(now time.Time) bool {
	recentMessage := now.Sub(s.lastMessageAt) < s.messageTimeout
	recentEscalation := now.Sub(s.lastEscalationAt) < s.escalationTimeout
	willPing := !(recentMessage && recentEscalation)

	s.lastMessageAt = now
	if willPing {
		s.lastEscalationAt = now
	}
	return willPing
}
