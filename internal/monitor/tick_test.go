package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/vigildev/vigil/internal/config"
	"github.com/vigildev/vigil/internal/instance"
	"github.com/vigildev/vigil/internal/store"
)

// fakeClassifier scripts classification results and records recovery calls.
type fakeClassifier struct {
	kind       instance.InterventionType
	dispatched bool

	classifyCalls int
	connCalls     int
	stuckCalls    int
}

func (f *fakeClassifier) DetermineInterventionType(context.Context, int) instance.InterventionType {
	f.classifyCalls++
	return f.kind
}

func (f *fakeClassifier) AttemptConnectionRecovery(context.Context, int) bool {
	f.connCalls++
	return f.dispatched
}

func (f *fakeClassifier) AttemptStuckStateRecovery(context.Context, int) bool {
	f.stuckCalls++
	return f.dispatched
}

func testMonitoringConfig() config.MonitoringConfig {
	return config.MonitoringConfig{
		IntervalSeconds:                5,
		MaxInterventionsBeforePause:    5,
		MaxConsecutiveRecoveryFailures: 3,
		ObservationWindowSeconds:       30,
		ProcessPattern:                 "Cursor",
	}
}

func newTestTick(fc *fakeClassifier) (*Tick, *store.Store) {
	st := store.New()
	return NewTick(st, fc, nil, nil, nil, nil), st
}

func TestManualPauseShortCircuits(t *testing.T) {
	fc := &fakeClassifier{kind: instance.ConnectionIssue, dispatched: true}
	tk, st := newTestTick(fc)
	st.SetManuallyPaused(1, true)

	result := tk.Run(context.Background(), 1, instance.Idle(), testMonitoringConfig())

	if result.Status.Kind != instance.StatePaused || result.Status.LimitPause {
		t.Errorf("status = %v, want manual pause", result.Status)
	}
	if !result.Stop {
		t.Error("expected Stop after manual pause")
	}
	if fc.classifyCalls != 0 {
		t.Errorf("classifier ran %d times during manual pause, want 0", fc.classifyCalls)
	}
	if fc.connCalls+fc.stuckCalls != 0 {
		t.Error("recovery dispatched during manual pause")
	}
}

func TestTerminalStatusStopsTick(t *testing.T) {
	tests := []struct {
		name  string
		prior instance.Status
	}{
		{"unrecoverable", instance.Unrecoverable("3 consecutive recovery attempts failed")},
		{"limit_paused", instance.LimitPaused()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fc := &fakeClassifier{kind: instance.ConnectionIssue, dispatched: true}
			tk, _ := newTestTick(fc)

			result := tk.Run(context.Background(), 1, tt.prior, testMonitoringConfig())

			if result.Status != tt.prior {
				t.Errorf("status = %v, want unchanged %v", result.Status, tt.prior)
			}
			if !result.Stop {
				t.Error("expected Stop for terminal prior status")
			}
			if fc.classifyCalls != 0 {
				t.Error("classifier ran for terminal instance")
			}
		})
	}
}

func TestPositiveEvidenceResetsCounters(t *testing.T) {
	for _, kind := range []instance.InterventionType{
		instance.PositiveWorkingState,
		instance.SidebarActivityDetected,
	} {
		t.Run(kind.String(), func(t *testing.T) {
			fc := &fakeClassifier{kind: kind}
			tk, st := newTestTick(fc)
			st.IncrementAutomaticInterventions(1)
			st.IncrementConsecutiveRecoveryFailures(1)
			st.StartPendingObservation(1, 0)

			result := tk.Run(context.Background(), 1, instance.Recovering(instance.RecoveryConnection, 0), testMonitoringConfig())

			if result.Status.Kind != instance.StateWorking {
				t.Errorf("status = %v, want working", result.Status)
			}
			if st.AutomaticInterventions(1) != 0 || st.ConsecutiveRecoveryFailures(1) != 0 {
				t.Error("counters not reset on positive evidence")
			}
			if st.PendingObservationFor(1) != nil {
				t.Error("observation window survived positive evidence")
			}
		})
	}
}

func TestQuietTickAfterErrorConfirmsRecovery(t *testing.T) {
	fc := &fakeClassifier{kind: instance.NoInterventionNeeded}
	tk, st := newTestTick(fc)
	st.IncrementAutomaticInterventions(1)

	result := tk.Run(context.Background(), 1, instance.Errored("banner"), testMonitoringConfig())

	if result.Status.Kind != instance.StateIdle {
		t.Errorf("status = %v, want idle", result.Status)
	}
	if st.AutomaticInterventions(1) != 0 {
		t.Error("counters not reset after quiet tick following error")
	}
}

func TestQuietTickFromIdleLeavesCountersAlone(t *testing.T) {
	fc := &fakeClassifier{kind: instance.NoInterventionNeeded}
	tk, st := newTestTick(fc)
	st.IncrementAutomaticInterventions(1)

	result := tk.Run(context.Background(), 1, instance.Idle(), testMonitoringConfig())

	if result.Status.Kind != instance.StateIdle {
		t.Errorf("status = %v, want idle", result.Status)
	}
	if st.AutomaticInterventions(1) != 1 {
		t.Errorf("interventions = %d, want untouched 1", st.AutomaticInterventions(1))
	}
}

func TestConnectionIssueDispatchesConnectionRecovery(t *testing.T) {
	fc := &fakeClassifier{kind: instance.ConnectionIssue, dispatched: true}
	tk, st := newTestTick(fc)

	result := tk.Run(context.Background(), 1, instance.Idle(), testMonitoringConfig())

	if fc.connCalls != 1 || fc.stuckCalls != 0 {
		t.Errorf("recovery calls: conn=%d stuck=%d, want 1/0", fc.connCalls, fc.stuckCalls)
	}
	if result.Status.Kind != instance.StateRecovering || result.Status.Recovery != instance.RecoveryConnection {
		t.Errorf("status = %v, want recovering(connection)", result.Status)
	}
	if st.AutomaticInterventions(1) != 1 {
		t.Errorf("interventions = %d, want 1", st.AutomaticInterventions(1))
	}

	obs := st.PendingObservationFor(1)
	if obs == nil {
		t.Fatal("no observation window after intervention")
	}
	// Seeded with the pre-increment count.
	if obs.InitialInterventionCount != 0 {
		t.Errorf("observation seed = %d, want 0", obs.InitialInterventionCount)
	}
}

func TestStuckRecoveryForGeneralErrorAndAutomatedRecovery(t *testing.T) {
	for _, kind := range []instance.InterventionType{
		instance.GeneralError,
		instance.AutomatedRecovery,
	} {
		t.Run(kind.String(), func(t *testing.T) {
			fc := &fakeClassifier{kind: kind, dispatched: true}
			tk, _ := newTestTick(fc)

			result := tk.Run(context.Background(), 1, instance.Idle(), testMonitoringConfig())

			if fc.stuckCalls != 1 || fc.connCalls != 0 {
				t.Errorf("recovery calls: conn=%d stuck=%d, want 0/1", fc.connCalls, fc.stuckCalls)
			}
			if result.Status.Recovery != instance.RecoveryStuck {
				t.Errorf("recovery kind = %v, want stuck", result.Status.Recovery)
			}
		})
	}
}

func TestNonActionableWithPriorRecoveringResets(t *testing.T) {
	fc := &fakeClassifier{kind: instance.UnknownIntervention}
	tk, st := newTestTick(fc)
	st.IncrementAutomaticInterventions(1)

	result := tk.Run(context.Background(), 1, instance.Recovering(instance.RecoveryStuck, 0), testMonitoringConfig())

	if result.Status.Kind != instance.StateIdle {
		t.Errorf("status = %v, want idle", result.Status)
	}
	if st.AutomaticInterventions(1) != 0 {
		t.Error("counters not reset when non-actionable tick follows recovering")
	}
}

func TestNonActionableFromIdleKeepsStatus(t *testing.T) {
	fc := &fakeClassifier{kind: instance.UnknownIntervention}
	tk, _ := newTestTick(fc)

	result := tk.Run(context.Background(), 1, instance.Idle(), testMonitoringConfig())

	if result.Status.Kind != instance.StateIdle {
		t.Errorf("status = %v, want unchanged idle", result.Status)
	}
}

func TestObservationWindowExpiryCountsFailure(t *testing.T) {
	fc := &fakeClassifier{kind: instance.UnknownIntervention}
	tk, st := newTestTick(fc)

	// One intervention happened: count is 1, window seeded with 0.
	st.IncrementAutomaticInterventions(1)
	st.StartPendingObservation(1, 0)

	tk.now = func() time.Time { return time.Now().Add(31 * time.Second) }
	tk.Run(context.Background(), 1, instance.Idle(), testMonitoringConfig())

	if got := st.ConsecutiveRecoveryFailures(1); got != 1 {
		t.Errorf("failures = %d, want 1 after window expiry without recovery", got)
	}
	if st.PendingObservationFor(1) != nil {
		t.Error("expired observation window not cleared")
	}
}

func TestQuietTickWipesExpiredWindowFailure(t *testing.T) {
	// A quiet tick right after the window expires confirms recovery, so the
	// failure counted at window close is immediately reset.
	fc := &fakeClassifier{kind: instance.NoInterventionNeeded}
	tk, st := newTestTick(fc)

	st.IncrementAutomaticInterventions(1)
	st.StartPendingObservation(1, 0)
	tk.now = func() time.Time { return time.Now().Add(31 * time.Second) }

	result := tk.Run(context.Background(), 1, instance.Recovering(instance.RecoveryConnection, 0), testMonitoringConfig())

	if result.Status.Kind != instance.StateIdle {
		t.Errorf("status = %v, want idle", result.Status)
	}
	if st.ConsecutiveRecoveryFailures(1) != 0 {
		t.Error("failure survived a recovery-confirming tick")
	}
}

func TestObservationWindowNotExpiredIsKept(t *testing.T) {
	fc := &fakeClassifier{kind: instance.UnknownIntervention}
	tk, st := newTestTick(fc)

	st.IncrementAutomaticInterventions(1)
	st.StartPendingObservation(1, 0)

	tk.Run(context.Background(), 1, instance.Idle(), testMonitoringConfig())

	if st.ConsecutiveRecoveryFailures(1) != 0 {
		t.Error("failure counted before window expired")
	}
	if st.PendingObservationFor(1) == nil {
		t.Error("open observation window was cleared early")
	}
}

func TestInterventionLimitPausesInstance(t *testing.T) {
	cfg := testMonitoringConfig()
	cfg.MaxInterventionsBeforePause = 2

	fc := &fakeClassifier{kind: instance.ConnectionIssue, dispatched: true}
	tk, st := newTestTick(fc)

	// Tick 1: first intervention.
	r1 := tk.Run(context.Background(), 1, instance.Idle(), cfg)
	if r1.Status.Kind != instance.StateRecovering {
		t.Fatalf("tick 1 status = %v, want recovering", r1.Status)
	}

	// Tick 2: second intervention crosses the limit in the same tick.
	r2 := tk.Run(context.Background(), 1, r1.Status, cfg)
	if !r2.Status.IsTerminal() || !r2.Status.LimitPause {
		t.Fatalf("tick 2 status = %v, want limit pause", r2.Status)
	}
	if !r2.Stop {
		t.Error("tick 2 should stop")
	}
	if st.AutomaticInterventions(1) != 2 {
		t.Errorf("interventions = %d, want 2", st.AutomaticInterventions(1))
	}

	// Tick 3: terminal state short-circuits, no further classification.
	calls := fc.classifyCalls
	r3 := tk.Run(context.Background(), 1, r2.Status, cfg)
	if fc.classifyCalls != calls {
		t.Error("classifier ran after limit pause")
	}
	if r3.Status != r2.Status {
		t.Errorf("tick 3 status = %v, want unchanged %v", r3.Status, r2.Status)
	}
}

func TestConsecutiveFailuresMarkUnrecoverable(t *testing.T) {
	cfg := testMonitoringConfig()
	cfg.MaxConsecutiveRecoveryFailures = 2

	fc := &fakeClassifier{kind: instance.UnknownIntervention}
	tk, st := newTestTick(fc)

	st.IncrementConsecutiveRecoveryFailures(1)
	// Second failure comes from an expired window this tick.
	st.IncrementAutomaticInterventions(1)
	st.StartPendingObservation(1, 0)
	tk.now = func() time.Time { return time.Now().Add(31 * time.Second) }

	result := tk.Run(context.Background(), 1, instance.Idle(), cfg)

	if result.Status.Kind != instance.StateUnrecoverable {
		t.Fatalf("status = %v, want unrecoverable", result.Status)
	}
	if !result.Stop {
		t.Error("expected Stop for unrecoverable")
	}
	if result.Status.Reason == "" {
		t.Error("unrecoverable status missing reason")
	}
}

func TestUnrecoverableOverridesLimitPause(t *testing.T) {
	cfg := testMonitoringConfig()
	cfg.MaxInterventionsBeforePause = 1
	cfg.MaxConsecutiveRecoveryFailures = 1

	fc := &fakeClassifier{kind: instance.ConnectionIssue, dispatched: true}
	tk, st := newTestTick(fc)
	st.IncrementConsecutiveRecoveryFailures(1)

	result := tk.Run(context.Background(), 1, instance.Idle(), cfg)

	if result.Status.Kind != instance.StateUnrecoverable {
		t.Errorf("status = %v, want unrecoverable to win over limit pause", result.Status)
	}
}

func TestEmptyPriorTreatedAsUnknown(t *testing.T) {
	fc := &fakeClassifier{kind: instance.NoInterventionNeeded}
	tk, _ := newTestTick(fc)

	result := tk.Run(context.Background(), 1, instance.Status{}, testMonitoringConfig())

	if result.Status.Kind != instance.StateIdle {
		t.Errorf("status = %v, want idle", result.Status)
	}
}

func TestInterventionNotDispatchedStillCounts(t *testing.T) {
	fc := &fakeClassifier{kind: instance.ConnectionIssue, dispatched: false}
	tk, st := newTestTick(fc)

	result := tk.Run(context.Background(), 1, instance.Idle(), testMonitoringConfig())

	// The attempt counts against the budget even when dispatch failed.
	if st.AutomaticInterventions(1) != 1 {
		t.Errorf("interventions = %d, want 1", st.AutomaticInterventions(1))
	}
	if result.Status.Kind != instance.StateRecovering {
		t.Errorf("status = %v, want recovering", result.Status)
	}
}
