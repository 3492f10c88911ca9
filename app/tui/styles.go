package tui

import (
	"github.com/charmbracelet/lipgloss"

	"github.com/oliversen/chatgpt-docstrings/framework"
)

var (
	colorPrimary = lipgloss.Color("39")
	colorSuccess = lipgloss.Color("42")
	colorWarning = lipgloss.Color("220")
	colorError   = lipgloss.Color("196")
	colorDim     = lipgloss.Color("241")

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorDim)

	detailStyle = lipgloss.NewStyle().
			Foreground(colorDim).
			Italic(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(colorSuccess)

	warningStyle = lipgloss.NewStyle().
			Foreground(colorWarning)

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorError)

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 2)

	buttonStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorPrimary).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorPrimary).
			Padding(0, 1)

	idleButtonStyle = lipgloss.NewStyle().
			Foreground(colorDim).
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorDim).
			Padding(0, 1)

	statusStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("255")).
			Padding(0, 1)
)

func severityStyle(s framework.Severity) lipgloss.Style {
	switch s {
	case framework.SeverityError:
		return errorStyle
	case framework.SeverityWarning:
		return warningStyle
	default:
		return infoStyle
	}
}

func severityLabel(s framework.Severity) string {
	switch s {
	case framework.SeverityError:
		return "✗ error"
	case framework.SeverityWarning:
		return "! warning"
	default:
		return "• info"
	}
}
