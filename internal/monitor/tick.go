// Package monitor drives the supervision cycle: the per-instance tick
// state machine, the top-level loop, and the loopback control API.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vigildev/vigil/internal/config"
	"github.com/vigildev/vigil/internal/events"
	"github.com/vigildev/vigil/internal/history"
	"github.com/vigildev/vigil/internal/instance"
	"github.com/vigildev/vigil/internal/notify"
	"github.com/vigildev/vigil/internal/store"
)

// MessageManuallyPaused is the display message for user-paused instances.
const MessageManuallyPaused = "Manually Paused"

// MessageLimitPaused is the display message for the intervention-limit
// pause. Display only; control flow branches on the status payload.
const MessageLimitPaused = "Paused (Intervention Limit Reached)"

// Classifier is the slice of the intervention engine the tick consumes.
type Classifier interface {
	DetermineInterventionType(ctx context.Context, pid int) instance.InterventionType
	AttemptConnectionRecovery(ctx context.Context, pid int) bool
	AttemptStuckStateRecovery(ctx context.Context, pid int) bool
}

// TickResult is the outcome of one tick for one instance. Stop tells the
// loop to skip any further per-tick work for this pid; the pid stays in
// future cycles.
type TickResult struct {
	Status  instance.Status
	Message string
	Stop    bool
}

// Tick executes the per-instance supervision state machine. One Run call
// is one tick; ticks for the same pid never overlap (loop invariant).
type Tick struct {
	store    *store.Store
	engine   Classifier
	notifier *notify.Notifier
	journal  *history.Journal // nil disables journaling
	emitter  *events.Emitter  // nil disables events
	log      *slog.Logger
	now      func() time.Time
}

// NewTick wires a tick executor. journal and emitter may be nil.
func NewTick(st *store.Store, engine Classifier, notifier *notify.Notifier, journal *history.Journal, emitter *events.Emitter, log *slog.Logger) *Tick {
	if log == nil {
		log = slog.Default()
	}
	return &Tick{
		store:    st,
		engine:   engine,
		notifier: notifier,
		journal:  journal,
		emitter:  emitter,
		log:      log,
		now:      time.Now,
	}
}

// Run executes one tick for pid. prior is the status surfaced after the
// previous tick; cfg is the live monitoring configuration, read fresh
// each tick. The eight steps execute strictly in order: the limit checks
// must see counters as mutated by the branch that ran before them.
func (t *Tick) Run(ctx context.Context, pid int, prior instance.Status, cfg config.MonitoringConfig) TickResult {
	if prior.Kind == "" {
		prior = instance.Unknown()
	}

	// Step 1: manual pause overrides everything.
	if t.store.IsManuallyPaused(pid) {
		return TickResult{Status: instance.Paused(), Message: MessageManuallyPaused, Stop: true}
	}

	// Step 2: close an expired observation window. Runs unconditionally
	// before classification so a window never survives past its expiry.
	t.closeExpiredObservation(pid, cfg)

	// Step 3: terminal states stop the tick. This is also what makes the
	// limit notifications one-time: the tick that crossed the limit is the
	// only one that reaches step 8.
	if prior.IsTerminal() {
		return TickResult{Status: prior, Message: terminalMessage(prior), Stop: true}
	}

	// Step 4: classify.
	kind := t.engine.DetermineInterventionType(ctx, pid)
	t.log.Debug("tick classified", "pid", pid, "classification", kind.String())

	var result TickResult
	switch {
	case kind.Positive():
		// Step 5: positive working evidence. Sidebar activity feeds the
		// same reset path as positive working state.
		t.confirmRecovery(pid)
		result = TickResult{Status: instance.Working("assistant active"), Message: "Assistant working"}

	case kind == instance.NoInterventionNeeded:
		// Step 5: quiet and healthy.
		if priorNeedsRecoveryReset(prior) {
			t.confirmRecovery(pid)
			result = TickResult{Status: instance.Idle(), Message: "Recovered; monitoring"}
		} else {
			result = TickResult{Status: instance.Idle(), Message: "Monitoring"}
		}

	case kind.Actionable():
		// Step 6: dispatch exactly one recovery action.
		result = t.intervene(ctx, pid, kind)

	default:
		// Step 7: non-actionable classifications. If the prior status was
		// recovering, paused, or errored, the condition that caused it is
		// gone; treat as confirmed recovery.
		if priorNeedsRecoveryReset(prior) {
			t.confirmRecovery(pid)
			result = TickResult{Status: instance.Idle(), Message: "Recovered; monitoring"}
		} else {
			result = TickResult{Status: prior, Message: ""}
		}
	}

	// Step 8: limit checks, every tick, after the branch mutations.
	if limit := t.enforceLimits(pid, cfg); limit != nil {
		return *limit
	}
	return result
}

// closeExpiredObservation implements step 2. The observation is seeded
// with the pre-increment intervention count; the intervention that opened
// it brings the count to seed+1, so a count still at seed+1 when the
// window closes means no confirmed recovery and no newer intervention.
func (t *Tick) closeExpiredObservation(pid int, cfg config.MonitoringConfig) {
	obs := t.store.PendingObservationFor(pid)
	if obs == nil {
		return
	}
	window := time.Duration(cfg.ObservationWindowSeconds) * time.Second
	if t.now().Sub(obs.StartedAt) < window {
		return
	}

	if t.store.AutomaticInterventions(pid) <= obs.InitialInterventionCount+1 {
		t.store.IncrementConsecutiveRecoveryFailures(pid)
		t.log.Info("observation window closed without recovery",
			"pid", pid,
			"failures", t.store.ConsecutiveRecoveryFailures(pid))
	}
	t.store.ClearPendingObservation(pid)
}

// intervene implements step 6 for an actionable classification.
func (t *Tick) intervene(ctx context.Context, pid int, kind instance.InterventionType) TickResult {
	preCount := t.store.AutomaticInterventions(pid)

	var recovery instance.RecoveryKind
	var dispatched bool
	if kind == instance.ConnectionIssue {
		recovery = instance.RecoveryConnection
		dispatched = t.engine.AttemptConnectionRecovery(ctx, pid)
	} else {
		recovery = instance.RecoveryStuck
		dispatched = t.engine.AttemptStuckStateRecovery(ctx, pid)
	}

	t.store.IncrementAutomaticInterventions(pid)
	t.store.StartPendingObservation(pid, preCount)

	status := instance.Recovering(recovery, preCount)
	message := fmt.Sprintf("Recovering (%s, attempt %d)", recovery, preCount+1)
	if !dispatched {
		message = fmt.Sprintf("Recovery action not dispatched (%s, attempt %d)", recovery, preCount+1)
	}

	t.log.Info("intervention",
		"pid", pid,
		"classification", kind.String(),
		"recovery", recovery,
		"attempt", preCount+1,
		"dispatched", dispatched)

	if t.journal != nil {
		if err := t.journal.Record(&history.Entry{
			PID:      pid,
			Kind:     kind.String(),
			Recovery: string(recovery),
			Attempt:  preCount + 1,
			Message:  message,
		}); err != nil {
			t.log.Warn("journal record failed", "pid", pid, "err", err)
		}
	}
	if t.emitter != nil {
		t.emitter.Emit(events.Event{
			Type:    events.TypeInterventionSent,
			PID:     pid,
			Status:  status,
			Message: message,
		})
	}

	return TickResult{Status: status, Message: message}
}

// enforceLimits implements step 8. Returns nil when no limit tripped.
func (t *Tick) enforceLimits(pid int, cfg config.MonitoringConfig) *TickResult {
	var result *TickResult

	if t.store.AutomaticInterventions(pid) >= cfg.MaxInterventionsBeforePause {
		result = &TickResult{Status: instance.LimitPaused(), Message: MessageLimitPaused, Stop: true}
		t.log.Warn("intervention limit reached", "pid", pid, "limit", cfg.MaxInterventionsBeforePause)
		t.recordTerminal(pid, "intervention_limit", MessageLimitPaused)
		if cfg.NotifyOnMaxInterventions && t.notifier != nil {
			t.notifier.Notify(notify.Event{
				Type:       notify.EventInterventionLimit,
				PID:        pid,
				Title:      "Intervention limit reached",
				Message:    fmt.Sprintf("Instance %d paused after %d automatic interventions", pid, cfg.MaxInterventionsBeforePause),
				Identifier: fmt.Sprintf("limit-%d", pid),
			})
		}
	}

	if t.store.ConsecutiveRecoveryFailures(pid) >= cfg.MaxConsecutiveRecoveryFailures {
		reason := fmt.Sprintf("%d consecutive recovery attempts failed", cfg.MaxConsecutiveRecoveryFailures)
		result = &TickResult{Status: instance.Unrecoverable(reason), Message: "Unrecoverable: " + reason, Stop: true}
		t.log.Error("instance unrecoverable", "pid", pid, "reason", reason)
		t.recordTerminal(pid, "unrecoverable", reason)
		if cfg.NotifyOnPersistentError && t.notifier != nil {
			t.notifier.Notify(notify.Event{
				Type:       notify.EventUnrecoverable,
				PID:        pid,
				Title:      "Assistant unrecoverable",
				Message:    fmt.Sprintf("Instance %d: %s", pid, reason),
				Identifier: fmt.Sprintf("unrecoverable-%d", pid),
			})
		}
	}

	return result
}

// recordTerminal journals a terminal transition alongside interventions so
// history shows why an instance stopped being supervised.
func (t *Tick) recordTerminal(pid int, kind, message string) {
	if t.journal == nil {
		return
	}
	if err := t.journal.Record(&history.Entry{
		PID:     pid,
		Kind:    kind,
		Message: message,
	}); err != nil {
		t.log.Warn("journal record failed", "pid", pid, "err", err)
	}
}

// confirmRecovery resets both counters together and closes any open
// observation window. The counters are never reset independently.
func (t *Tick) confirmRecovery(pid int) {
	if t.store.AutomaticInterventions(pid) > 0 || t.store.ConsecutiveRecoveryFailures(pid) > 0 {
		t.log.Info("recovery confirmed", "pid", pid)
		if t.notifier != nil {
			t.notifier.Notify(notify.Event{
				Type:       notify.EventRecovered,
				PID:        pid,
				Title:      "Assistant recovered",
				Message:    fmt.Sprintf("Instance %d returned to normal operation", pid),
				Identifier: fmt.Sprintf("recovered-%d", pid),
			})
		}
	}
	t.store.ResetCounters(pid)
	t.store.ClearPendingObservation(pid)
}

// priorNeedsRecoveryReset reports whether the prior status represents a
// condition that a quiet or non-actionable tick confirms as resolved.
func priorNeedsRecoveryReset(prior instance.Status) bool {
	switch prior.Kind {
	case instance.StateError, instance.StateRecovering, instance.StatePaused:
		return true
	default:
		return false
	}
}

func terminalMessage(s instance.Status) string {
	if s.Kind == instance.StateUnrecoverable {
		return "Unrecoverable: " + s.Reason
	}
	return MessageLimitPaused
}
