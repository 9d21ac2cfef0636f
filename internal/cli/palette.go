package cli

import "github.com/charmbracelet/lipgloss"

var (
	colorInk     = lipgloss.Color("#E5E9F0")
	colorDim     = lipgloss.Color("#7A8291")
	colorAccent  = lipgloss.Color("#88C0D0")
	colorSuccess = lipgloss.Color("#A3BE8C")
	colorWarn    = lipgloss.Color("#EBCB8B")
	colorError   = lipgloss.Color("#BF616A")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	labelStyle   = lipgloss.NewStyle().Foreground(colorDim)
	valueStyle   = lipgloss.NewStyle().Foreground(colorInk).Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDim)
	successStyle = lipgloss.NewStyle().Foreground(colorSuccess)
	warnStyle    = lipgloss.NewStyle().Foreground(colorWarn)
	errorStyle   = lipgloss.NewStyle().Foreground(colorError)
)
