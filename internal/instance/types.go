// Package instance defines the status model for supervised IDE instances.
package instance

import (
	"fmt"
	"time"
)

// StateKind enumerates the top-level status of a supervised instance.
type StateKind string

const (
	StateIdle          StateKind = "idle"
	StateWorking       StateKind = "working"
	StateError         StateKind = "error"
	StateRecovering    StateKind = "recovering"
	StatePaused        StateKind = "paused"
	StateUnrecoverable StateKind = "unrecoverable"
	StateUnknown       StateKind = "unknown"
)

// RecoveryKind tags which recovery strategy was last attempted.
// Display and logging only; never a control input.
type RecoveryKind string

const (
	RecoveryConnection RecoveryKind = "connection"
	RecoveryStuck      RecoveryKind = "stuck"
)

// Status is the tagged union describing one instance at one point in time.
// Exactly one value exists per pid; transitions happen only inside the
// monitoring tick.
type Status struct {
	Kind StateKind `json:"kind"`

	// Detail carries the working/error payload.
	Detail string `json:"detail,omitempty"`

	// Recovery and Attempt are set while Kind == StateRecovering.
	Recovery RecoveryKind `json:"recovery,omitempty"`
	Attempt  int          `json:"attempt,omitempty"`

	// Reason is set while Kind == StateUnrecoverable.
	Reason string `json:"reason,omitempty"`

	// LimitPause distinguishes an intervention-limit pause from a manual
	// pause while Kind == StatePaused.
	LimitPause bool `json:"limit_pause,omitempty"`
}

// Idle returns the idle status.
func Idle() Status { return Status{Kind: StateIdle} }

// Working returns a working status with detail text.
func Working(detail string) Status { return Status{Kind: StateWorking, Detail: detail} }

// Errored returns an error status with detail text.
func Errored(detail string) Status { return Status{Kind: StateError, Detail: detail} }

// Recovering returns a recovering status for the given strategy and attempt.
func Recovering(kind RecoveryKind, attempt int) Status {
	return Status{Kind: StateRecovering, Recovery: kind, Attempt: attempt}
}

// Paused returns a manual-pause status.
func Paused() Status { return Status{Kind: StatePaused} }

// LimitPaused returns the intervention-limit pause status.
func LimitPaused() Status { return Status{Kind: StatePaused, LimitPause: true} }

// Unrecoverable returns a terminal status with a reason.
func Unrecoverable(reason string) Status {
	return Status{Kind: StateUnrecoverable, Reason: reason}
}

// Unknown returns the unknown status.
func Unknown() Status { return Status{Kind: StateUnknown} }

// IsHealthy reports whether the instance needs no attention.
func (s Status) IsHealthy() bool {
	return s.Kind == StateIdle || s.Kind == StateWorking
}

// IsTerminal reports whether the tick cycle stops acting on this instance
// until an external reset.
func (s Status) IsTerminal() bool {
	return s.Kind == StateUnrecoverable || (s.Kind == StatePaused && s.LimitPause)
}

func (s Status) String() string {
	switch s.Kind {
	case StateRecovering:
		return fmt.Sprintf("recovering(%s, attempt %d)", s.Recovery, s.Attempt)
	case StateUnrecoverable:
		return fmt.Sprintf("unrecoverable(%s)", s.Reason)
	case StatePaused:
		if s.LimitPause {
			return "paused(limit)"
		}
		return "paused"
	default:
		return string(s.Kind)
	}
}

// InterventionType is the result of one tick's classification. It is
// produced fresh every tick and never stored.
type InterventionType int

const (
	NoInterventionNeeded InterventionType = iota
	PositiveWorkingState
	ConnectionIssue
	GeneralError
	AutomatedRecovery
	SidebarActivityDetected
	UnrecoverableError
	ManualPause
	InterventionLimitReached
	AwaitingAction
	MonitoringPaused
	ProcessNotRunning
	UnknownIntervention
)

var interventionNames = map[InterventionType]string{
	NoInterventionNeeded:     "no_intervention_needed",
	PositiveWorkingState:     "positive_working_state",
	ConnectionIssue:          "connection_issue",
	GeneralError:             "general_error",
	AutomatedRecovery:        "automated_recovery",
	SidebarActivityDetected:  "sidebar_activity",
	UnrecoverableError:       "unrecoverable_error",
	ManualPause:              "manual_pause",
	InterventionLimitReached: "intervention_limit_reached",
	AwaitingAction:           "awaiting_action",
	MonitoringPaused:         "monitoring_paused",
	ProcessNotRunning:        "process_not_running",
	UnknownIntervention:      "unknown",
}

func (t InterventionType) String() string {
	if name, ok := interventionNames[t]; ok {
		return name
	}
	return "unknown"
}

// Actionable reports whether the classification triggers a recovery action.
func (t InterventionType) Actionable() bool {
	switch t {
	case ConnectionIssue, GeneralError, AutomatedRecovery:
		return true
	default:
		return false
	}
}

// Positive reports whether the classification counts as evidence of normal
// operation. Sidebar activity is always treated as positive evidence and
// feeds the same counter-reset path as positive working state.
func (t InterventionType) Positive() bool {
	return t == PositiveWorkingState || t == SidebarActivityDetected
}

// Instance describes one running process of the supervised IDE.
type Instance struct {
	PID       int       `json:"pid"`
	Title     string    `json:"title,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}

// Snapshot is the per-instance view surfaced to the control API and the
// dashboard. Message text is human-readable only, never a machine signal.
type Snapshot struct {
	Instance      Instance  `json:"instance"`
	Status        Status    `json:"status"`
	Message       string    `json:"message"`
	Interventions int       `json:"interventions"`
	Failures      int       `json:"failures"`
	UpdatedAt     time.Time `json:"updated_at"`
}
