// Package store holds per-instance intervention counters and pause state.
//
// The store is the only shared mutable resource in the monitoring core.
// All access goes through the key-scoped mutation API; records are never
// handed out for direct mutation. Unknown pids read as zero/false/nil
// rather than erroring: the store favors availability over strictness.
package store

import (
	"sync"
	"time"
)

// PendingObservation is the post-intervention grace period during which the
// supervisor watches for confirmation of recovery before counting a failure.
type PendingObservation struct {
	StartedAt time.Time
	// InitialInterventionCount is the automatic intervention count at the
	// moment the observation started. If the count has not grown when the
	// window closes, the intervention is counted as a failure.
	InitialInterventionCount int
}

// record is the mutable per-pid state. Counters are in-memory only; nothing
// survives a restart.
type record struct {
	interventions  int
	failures       int
	manuallyPaused bool
	observation    *PendingObservation
}

// Store is a pid-keyed counter store safe for concurrent per-pid ticks.
type Store struct {
	mu      sync.RWMutex
	records map[int]*record
}

// New creates an empty Store.
func New() *Store {
	return &Store{records: make(map[int]*record)}
}

func (s *Store) getOrCreate(pid int) *record {
	if r, ok := s.records[pid]; ok {
		return r
	}
	r := &record{}
	s.records[pid] = r
	return r
}

// IncrementAutomaticInterventions bumps the intervention counter for pid.
func (s *Store) IncrementAutomaticInterventions(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(pid).interventions++
}

// ResetAutomaticInterventions zeroes the intervention counter for pid.
func (s *Store) ResetAutomaticInterventions(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[pid]; ok {
		r.interventions = 0
	}
}

// AutomaticInterventions returns the intervention count for pid.
func (s *Store) AutomaticInterventions(pid int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.records[pid]; ok {
		return r.interventions
	}
	return 0
}

// IncrementConsecutiveRecoveryFailures bumps the failure counter for pid.
func (s *Store) IncrementConsecutiveRecoveryFailures(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(pid).failures++
}

// ResetConsecutiveRecoveryFailures zeroes the failure counter for pid.
func (s *Store) ResetConsecutiveRecoveryFailures(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[pid]; ok {
		r.failures = 0
	}
}

// ConsecutiveRecoveryFailures returns the failure count for pid.
func (s *Store) ConsecutiveRecoveryFailures(pid int) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.records[pid]; ok {
		return r.failures
	}
	return 0
}

// ResetCounters zeroes both counters for pid. The two counters are only
// ever reset together, when normal operation is confirmed.
func (s *Store) ResetCounters(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[pid]; ok {
		r.interventions = 0
		r.failures = 0
	}
}

// IsManuallyPaused reports the user-set pause flag for pid.
func (s *Store) IsManuallyPaused(pid int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.records[pid]; ok {
		return r.manuallyPaused
	}
	return false
}

// SetManuallyPaused sets the user pause flag. Toggled by user-facing
// actions only, never by the tick engine.
func (s *Store) SetManuallyPaused(pid int, paused bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(pid).manuallyPaused = paused
}

// StartPendingObservation opens the post-intervention window for pid,
// replacing any prior window (overwrite, not stack).
func (s *Store) StartPendingObservation(pid int, initialInterventionCount int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.getOrCreate(pid).observation = &PendingObservation{
		StartedAt:                time.Now(),
		InitialInterventionCount: initialInterventionCount,
	}
}

// PendingObservationFor returns a copy of pid's open observation window,
// or nil when none exists.
func (s *Store) PendingObservationFor(pid int) *PendingObservation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[pid]
	if !ok || r.observation == nil {
		return nil
	}
	obs := *r.observation
	return &obs
}

// ClearPendingObservation closes pid's observation window if one is open.
func (s *Store) ClearPendingObservation(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[pid]; ok {
		r.observation = nil
	}
}

// Forget drops the record for a pid no longer observed among running
// instances.
func (s *Store) Forget(pid int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, pid)
}

// Pids returns all pids with records, in no particular order.
func (s *Store) Pids() []int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pids := make([]int, 0, len(s.records))
	for pid := range s.records {
		pids = append(pids, pid)
	}
	return pids
}
