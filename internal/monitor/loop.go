package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/vigildev/vigil/internal/bridge"
	"github.com/vigildev/vigil/internal/config"
	"github.com/vigildev/vigil/internal/events"
	"github.com/vigildev/vigil/internal/instance"
	"github.com/vigildev/vigil/internal/proc"
	"github.com/vigildev/vigil/internal/store"
)

// WindowID returns the bridge window id for an instance's main window.
func WindowID(pid int) string {
	return fmt.Sprintf("%d:main", pid)
}

// Loop is the top-level scheduler. Each cycle it enumerates running
// instances of the monitored application, reconciles tracked records, and
// dispatches one tick per instance. Ticks for different pids run
// concurrently; ticks for the same pid never overlap.
type Loop struct {
	provider *config.Provider
	lister   proc.Lister
	store    *store.Store
	tick     *Tick
	bridge   *bridge.Manager // nil disables bridge maintenance
	emitter  *events.Emitter // nil disables events
	log      *slog.Logger

	mu        sync.RWMutex
	snapshots map[int]*instance.Snapshot
	inflight  map[int]bool

	wg sync.WaitGroup
}

// NewLoop wires the scheduler. bridge and emitter may be nil.
func NewLoop(provider *config.Provider, lister proc.Lister, st *store.Store, tick *Tick, br *bridge.Manager, emitter *events.Emitter, log *slog.Logger) *Loop {
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		provider:  provider,
		lister:    lister,
		store:     st,
		tick:      tick,
		bridge:    br,
		emitter:   emitter,
		log:       log,
		snapshots: make(map[int]*instance.Snapshot),
		inflight:  make(map[int]bool),
	}
}

// Run drives the periodic cycle until ctx is cancelled. The stop is
// cooperative: in-flight ticks run to completion so counters are never
// left half-mutated.
func (l *Loop) Run(ctx context.Context) error {
	cfg := l.provider.Current()
	interval := time.Duration(cfg.Monitoring.IntervalSeconds) * time.Second
	l.log.Info("monitor loop starting", "interval", interval, "pattern", cfg.Monitoring.ProcessPattern)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// First cycle immediately rather than waiting one interval.
	l.cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			l.log.Info("monitor loop stopping, waiting for in-flight ticks")
			l.wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			l.cycle(ctx)

			// Pick up live interval edits for the next wait.
			if next := time.Duration(l.provider.Current().Monitoring.IntervalSeconds) * time.Second; next != interval {
				interval = next
				ticker.Reset(interval)
				l.log.Info("monitoring interval updated", "interval", interval)
			}
		}
	}
}

// cycle runs one pass over all running instances.
func (l *Loop) cycle(ctx context.Context) {
	cfg := l.provider.Current()

	instances, err := l.lister.List(ctx, cfg.Monitoring.ProcessPattern)
	if err != nil {
		l.log.Warn("instance enumeration failed", "err", err)
		return
	}

	l.reconcile(instances)
	l.maintainBridge(ctx, instances)

	for _, inst := range instances {
		pid := inst.PID

		l.mu.Lock()
		if l.inflight[pid] {
			// Previous tick for this pid still running; never overlap.
			l.mu.Unlock()
			l.log.Debug("skipping tick, previous still in flight", "pid", pid)
			continue
		}
		l.inflight[pid] = true
		prior := l.snapshots[pid].Status
		l.mu.Unlock()

		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			result := l.tick.Run(ctx, pid, prior, cfg.Monitoring)
			l.finishTick(pid, result)
		}()
	}
}

// reconcile creates records for newly observed pids and retires records
// for processes that are gone.
func (l *Loop) reconcile(instances []instance.Instance) {
	present := make(map[int]instance.Instance, len(instances))
	for _, inst := range instances {
		present[inst.PID] = inst
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	for pid, inst := range present {
		if snap, ok := l.snapshots[pid]; ok {
			snap.Instance = inst
			continue
		}
		l.snapshots[pid] = &instance.Snapshot{
			Instance:  inst,
			Status:    instance.Unknown(),
			Message:   "Discovered",
			UpdatedAt: time.Now(),
		}
		l.log.Info("tracking new instance", "pid", pid, "title", inst.Title)
		if l.emitter != nil {
			l.emitter.Emit(events.Event{Type: events.TypeInstanceAppeared, PID: pid, Status: instance.Unknown()})
		}
	}

	for pid := range l.snapshots {
		if _, ok := present[pid]; !ok && !l.inflight[pid] {
			delete(l.snapshots, pid)
			l.store.Forget(pid)
			l.log.Info("instance gone, record retired", "pid", pid)
			if l.emitter != nil {
				l.emitter.Emit(events.Event{Type: events.TypeInstanceDisappeared, PID: pid})
			}
		}
	}
}

// maintainBridge reconciles hooks against current windows, rediscovers
// channels that survived an app restart, and installs hooks for new
// windows. All best-effort: a missing bridge is a normal condition for
// classification.
func (l *Loop) maintainBridge(ctx context.Context, instances []instance.Instance) {
	if l.bridge == nil {
		return
	}

	windows := make([]string, 0, len(instances))
	for _, inst := range instances {
		windows = append(windows, WindowID(inst.PID))
	}
	l.bridge.UpdateWindows(windows)
	l.bridge.ProbePorts(ctx)

	for _, id := range windows {
		if l.bridge.IsWindowHooked(id) {
			continue
		}
		if err := l.bridge.InstallHook(ctx, id); err != nil {
			if errors.Is(err, bridge.ErrNoPortAvailable) {
				l.log.Error("bridge port range exhausted", "window", id)
			} else {
				l.log.Debug("hook install failed", "window", id, "err", err)
			}
		}
	}
}

// finishTick publishes the tick result and releases the pid's in-flight
// guard.
func (l *Loop) finishTick(pid int, result TickResult) {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.inflight, pid)
	snap, ok := l.snapshots[pid]
	if !ok {
		return
	}

	changed := snap.Status != result.Status || (result.Message != "" && snap.Message != result.Message)
	snap.Status = result.Status
	if result.Message != "" {
		snap.Message = result.Message
	}
	snap.Interventions = l.store.AutomaticInterventions(pid)
	snap.Failures = l.store.ConsecutiveRecoveryFailures(pid)
	snap.UpdatedAt = time.Now()

	if changed && l.emitter != nil {
		l.emitter.Emit(events.Event{
			Type:    events.TypeStatusChanged,
			PID:     pid,
			Status:  snap.Status,
			Message: snap.Message,
		})
	}
}

// Snapshots returns the current per-instance view, ordered by pid.
func (l *Loop) Snapshots() []instance.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]instance.Snapshot, 0, len(l.snapshots))
	for _, snap := range l.snapshots {
		out = append(out, *snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance.PID < out[j].Instance.PID })
	return out
}

// Pause sets the manual pause flag for pid. User-facing action; the tick
// engine itself never touches this flag.
func (l *Loop) Pause(pid int) {
	l.store.SetManuallyPaused(pid, true)
	l.setStatus(pid, instance.Paused(), MessageManuallyPaused)
}

// Resume clears the manual pause flag for pid.
func (l *Loop) Resume(pid int) {
	l.store.SetManuallyPaused(pid, false)
	l.setStatus(pid, instance.Unknown(), "Resumed; awaiting next tick")
}

// Reset performs the external reset that clears terminal states: both
// counters, any observation window, and the surfaced status.
func (l *Loop) Reset(pid int) {
	l.store.ResetCounters(pid)
	l.store.ClearPendingObservation(pid)
	l.setStatus(pid, instance.Unknown(), "Counters reset; awaiting next tick")
}

func (l *Loop) setStatus(pid int, status instance.Status, message string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	snap, ok := l.snapshots[pid]
	if !ok {
		return
	}
	snap.Status = status
	snap.Message = message
	snap.Interventions = l.store.AutomaticInterventions(pid)
	snap.Failures = l.store.ConsecutiveRecoveryFailures(pid)
	snap.UpdatedAt = time.Now()

	if l.emitter != nil {
		l.emitter.Emit(events.Event{Type: events.TypeStatusChanged, PID: pid, Status: status, Message: message})
	}
}
