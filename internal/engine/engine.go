// Package engine classifies what is wrong with a supervised instance and
// dispatches exactly one recovery action per invocation.
//
// Classification queries the cheap, reliable sources first: accessibility
// signatures, then the command bridge. Recovery actions are fire-and-forget
// relative to their outcome; success is only ever confirmed by a later
// tick's classification.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vigildev/vigil/internal/bridge"
	"github.com/vigildev/vigil/internal/instance"
	"github.com/vigildev/vigil/internal/probe"
)

// Bridge commands understood by an installed hook.
const (
	CmdStatus         = "status"
	CmdResume         = "resume"
	CmdNudge          = "nudge"
	CmdForceRefresh   = "force_refresh"
	CmdStopGeneration = "stop_generation"
)

// CommandBridge is the slice of the bridge manager the engine consumes.
type CommandBridge interface {
	IsWindowHooked(windowID string) bool
	SendCommand(ctx context.Context, windowID, command string) (*bridge.Response, error)
}

// Engine decides intervention types and executes recovery actions.
type Engine struct {
	querier probe.Querier
	clicker probe.Clicker
	bridge  CommandBridge
	log     *slog.Logger

	// windowFor maps a pid to its main window's bridge id.
	windowFor func(pid int) string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// WithWindowResolver overrides the pid-to-window-id mapping.
func WithWindowResolver(fn func(pid int) string) Option {
	return func(e *Engine) { e.windowFor = fn }
}

// New creates an Engine over the given collaborators.
func New(querier probe.Querier, clicker probe.Clicker, cb CommandBridge, opts ...Option) *Engine {
	e := &Engine{
		querier: querier,
		clicker: clicker,
		bridge:  cb,
		log:     slog.Default(),
		windowFor: func(pid int) string {
			return fmt.Sprintf("%d:main", pid)
		},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// DetermineInterventionType classifies the current condition of pid.
//
// Signature checks run in order of cheapness and reliability; the first
// match wins. A live, responsive bridge with no error signatures yields
// PositiveWorkingState; no signal at all yields NoInterventionNeeded.
// Transport failures are inconclusive and yield UnknownIntervention so the
// tick loop never crashes on a flaky UI query.
func (e *Engine) DetermineInterventionType(ctx context.Context, pid int) instance.InterventionType {
	conn, err := e.querier.Query(ctx, pid, probe.LocatorConnectionError)
	if err != nil {
		e.log.Warn("connection-error query failed", "pid", pid, "err", err)
		return instance.UnknownIntervention
	}
	if conn.Found {
		return instance.ConnectionIssue
	}

	genErr, err := e.querier.Query(ctx, pid, probe.LocatorGeneralError)
	if err != nil {
		e.log.Warn("general-error query failed", "pid", pid, "err", err)
		return instance.UnknownIntervention
	}
	if genErr.Found {
		resume, err := e.querier.Query(ctx, pid, probe.LocatorResumeControl)
		if err == nil && resume.Found {
			// Error surface with a one-click recovery control.
			return instance.AutomatedRecovery
		}
		return instance.GeneralError
	}

	stop, err := e.querier.Query(ctx, pid, probe.LocatorStopButton)
	if err != nil {
		e.log.Warn("stop-button query failed", "pid", pid, "err", err)
		return instance.UnknownIntervention
	}
	if stop.Found {
		// Stop-generating control visible means output is streaming.
		return instance.PositiveWorkingState
	}

	sidebar, err := e.querier.Query(ctx, pid, probe.LocatorSidebarActivity)
	if err != nil {
		e.log.Warn("sidebar query failed", "pid", pid, "err", err)
		return instance.UnknownIntervention
	}
	if sidebar.Found {
		return instance.SidebarActivityDetected
	}

	// No accessibility signatures. Ask the bridge, if one is installed.
	windowID := e.windowFor(pid)
	if e.bridge != nil && e.bridge.IsWindowHooked(windowID) {
		resp, err := e.bridge.SendCommand(ctx, windowID, CmdStatus)
		switch {
		case err == nil && resp.OK:
			return instance.PositiveWorkingState
		case errors.Is(err, bridge.ErrHookNotConnected):
			return instance.ConnectionIssue
		case err != nil:
			e.log.Warn("bridge status check failed", "pid", pid, "window", windowID, "err", err)
			return instance.UnknownIntervention
		}
	}

	// No bridge installed is a normal, non-error condition.
	return instance.NoInterventionNeeded
}

// AttemptConnectionRecovery tries to restore a dropped assistant
// connection. Returns whether an action was dispatched, not whether it
// fixed anything; confirmation comes from a later tick.
func (e *Engine) AttemptConnectionRecovery(ctx context.Context, pid int) bool {
	windowID := e.windowFor(pid)
	if e.bridge != nil && e.bridge.IsWindowHooked(windowID) {
		_, err := e.bridge.SendCommand(ctx, windowID, CmdResume)
		if err == nil {
			e.log.Info("dispatched resume via bridge", "pid", pid, "window", windowID)
			return true
		}
		e.log.Warn("bridge resume failed, falling back to click", "pid", pid, "err", err)
	}

	if err := e.clicker.Click(ctx, pid, probe.LocatorResumeControl); err != nil {
		e.log.Warn("resume click failed", "pid", pid, "err", err)
		return false
	}
	e.log.Info("dispatched resume click", "pid", pid)
	return true
}

// AttemptStuckStateRecovery nudges an assistant that errored or stalled
// mid-task. Prefers a bridge nudge, falls back to clicking the recovery
// control, and as a last resort asks the hook for a force refresh.
func (e *Engine) AttemptStuckStateRecovery(ctx context.Context, pid int) bool {
	windowID := e.windowFor(pid)
	if e.bridge != nil && e.bridge.IsWindowHooked(windowID) {
		if _, err := e.bridge.SendCommand(ctx, windowID, CmdNudge); err == nil {
			e.log.Info("dispatched nudge via bridge", "pid", pid, "window", windowID)
			return true
		}
		if _, err := e.bridge.SendCommand(ctx, windowID, CmdForceRefresh); err == nil {
			e.log.Info("dispatched force refresh via bridge", "pid", pid, "window", windowID)
			return true
		}
	}

	if err := e.clicker.Click(ctx, pid, probe.LocatorResumeControl); err != nil {
		e.log.Warn("stuck-state click failed", "pid", pid, "err", err)
		return false
	}
	e.log.Info("dispatched recovery click", "pid", pid)
	return true
}
