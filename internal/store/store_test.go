package store

import (
	"sync"
	"testing"
)

func TestCountersStartAtZero(t *testing.T) {
	s := New()
	if got := s.AutomaticInterventions(100); got != 0 {
		t.Errorf("AutomaticInterventions(unknown) = %d, want 0", got)
	}
	if got := s.ConsecutiveRecoveryFailures(100); got != 0 {
		t.Errorf("ConsecutiveRecoveryFailures(unknown) = %d, want 0", got)
	}
	if s.IsManuallyPaused(100) {
		t.Error("IsManuallyPaused(unknown) = true, want false")
	}
	if s.PendingObservationFor(100) != nil {
		t.Error("PendingObservationFor(unknown) should be nil")
	}
}

func TestIncrementAndReset(t *testing.T) {
	s := New()

	s.IncrementAutomaticInterventions(1)
	s.IncrementAutomaticInterventions(1)
	s.IncrementConsecutiveRecoveryFailures(1)

	if got := s.AutomaticInterventions(1); got != 2 {
		t.Errorf("interventions = %d, want 2", got)
	}
	if got := s.ConsecutiveRecoveryFailures(1); got != 1 {
		t.Errorf("failures = %d, want 1", got)
	}

	// Counters are per pid.
	if got := s.AutomaticInterventions(2); got != 0 {
		t.Errorf("interventions for other pid = %d, want 0", got)
	}

	s.ResetCounters(1)
	if got := s.AutomaticInterventions(1); got != 0 {
		t.Errorf("interventions after reset = %d, want 0", got)
	}
	if got := s.ConsecutiveRecoveryFailures(1); got != 0 {
		t.Errorf("failures after reset = %d, want 0", got)
	}
}

func TestResetCountersDoesNotTouchPause(t *testing.T) {
	s := New()
	s.SetManuallyPaused(1, true)
	s.IncrementAutomaticInterventions(1)

	s.ResetCounters(1)

	if !s.IsManuallyPaused(1) {
		t.Error("ResetCounters cleared the manual pause flag")
	}
}

func TestManualPauseToggle(t *testing.T) {
	s := New()

	s.SetManuallyPaused(5, true)
	if !s.IsManuallyPaused(5) {
		t.Error("expected paused after SetManuallyPaused(true)")
	}

	s.SetManuallyPaused(5, false)
	if s.IsManuallyPaused(5) {
		t.Error("expected unpaused after SetManuallyPaused(false)")
	}
}

func TestPendingObservationOverwrites(t *testing.T) {
	s := New()

	s.StartPendingObservation(1, 0)
	first := s.PendingObservationFor(1)
	if first == nil {
		t.Fatal("expected observation after start")
	}
	if first.InitialInterventionCount != 0 {
		t.Errorf("InitialInterventionCount = %d, want 0", first.InitialInterventionCount)
	}

	// A second intervention replaces the window, never stacks.
	s.StartPendingObservation(1, 3)
	second := s.PendingObservationFor(1)
	if second == nil {
		t.Fatal("expected observation after restart")
	}
	if second.InitialInterventionCount != 3 {
		t.Errorf("InitialInterventionCount = %d, want 3", second.InitialInterventionCount)
	}
	if !second.StartedAt.After(first.StartedAt) && !second.StartedAt.Equal(first.StartedAt) {
		t.Error("second observation should not start before the first")
	}
}

func TestPendingObservationReturnsCopy(t *testing.T) {
	s := New()
	s.StartPendingObservation(1, 2)

	obs := s.PendingObservationFor(1)
	obs.InitialInterventionCount = 99

	if got := s.PendingObservationFor(1).InitialInterventionCount; got != 2 {
		t.Errorf("stored observation mutated through returned copy: count = %d, want 2", got)
	}
}

func TestClearPendingObservation(t *testing.T) {
	s := New()
	s.StartPendingObservation(1, 0)
	s.ClearPendingObservation(1)
	if s.PendingObservationFor(1) != nil {
		t.Error("expected nil observation after clear")
	}

	// Clearing an unknown pid is a no-op.
	s.ClearPendingObservation(42)
}

func TestForget(t *testing.T) {
	s := New()
	s.IncrementAutomaticInterventions(1)
	s.SetManuallyPaused(1, true)
	s.StartPendingObservation(1, 1)

	s.Forget(1)

	if got := s.AutomaticInterventions(1); got != 0 {
		t.Errorf("interventions after Forget = %d, want 0", got)
	}
	if s.IsManuallyPaused(1) {
		t.Error("pause flag survived Forget")
	}
	if s.PendingObservationFor(1) != nil {
		t.Error("observation survived Forget")
	}
}

func TestPids(t *testing.T) {
	s := New()
	s.IncrementAutomaticInterventions(10)
	s.SetManuallyPaused(20, true)

	pids := s.Pids()
	if len(pids) != 2 {
		t.Fatalf("len(Pids()) = %d, want 2", len(pids))
	}
	seen := map[int]bool{}
	for _, pid := range pids {
		seen[pid] = true
	}
	if !seen[10] || !seen[20] {
		t.Errorf("Pids() = %v, want {10, 20}", pids)
	}
}

func TestConcurrentAccess(t *testing.T) {
	s := New()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.IncrementAutomaticInterventions(pid)
				s.AutomaticInterventions(pid)
				s.StartPendingObservation(pid, j)
				s.PendingObservationFor(pid)
			}
		}(i % 3)
	}
	wg.Wait()
}
