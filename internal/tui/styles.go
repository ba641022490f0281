package tui

import (
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/vigildev/vigil/internal/instance"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62"))

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("245"))

	faintStyle  = lipgloss.NewStyle().Faint(true)
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	noticeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	spinnerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("62"))

	rowHealthy       = lipgloss.NewStyle().Foreground(lipgloss.Color("78"))
	rowError         = lipgloss.NewStyle().Foreground(lipgloss.Color("203"))
	rowRecovering    = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	rowPaused        = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	rowUnrecoverable = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	rowUnknown       = lipgloss.NewStyle().Foreground(lipgloss.Color("250"))
)

func rowStyleFor(s instance.Status) lipgloss.Style {
	switch s.Kind {
	case instance.StateIdle, instance.StateWorking:
		return rowHealthy
	case instance.StateError:
		return rowError
	case instance.StateRecovering:
		return rowRecovering
	case instance.StatePaused:
		return rowPaused
	case instance.StateUnrecoverable:
		return rowUnrecoverable
	default:
		return rowUnknown
	}
}

// DisableColor forces monochrome rendering, for --no-color and dumb
// terminals.
func DisableColor() {
	lipgloss.SetColorProfile(termenv.Ascii)
}
