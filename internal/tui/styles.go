package tui

import "github.com/charmbracelet/lipgloss"

var (
	// HeaderStyle styles the column header row.
	HeaderStyle = lipgloss.NewStyle().Bold(true)

	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	activeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	pendingStyle = lipgloss.NewStyle().Faint(true)

	statusStyles = map[string]lipgloss.Style{
		// Terminal states
		"resolved":  okStyle,
		"installed": okStyle,
		"fetched":   okStyle,
		"succeeded": okStyle,
		"cached":    okStyle,

		// Active states
		"resolving":   activeStyle,
		"downloading": activeStyle,
		"installing":  activeStyle,
		"verifying":   activeStyle,
		"fetching":    activeStyle,
		"cleaning":    activeStyle,
		"configuring": activeStyle,
		"compiling":   activeStyle,
		"running":     activeStyle,

		// Needs attention
		"pending_manual": warnStyle,
		"not_detected":   warnStyle,
		"cancelled":      warnStyle,
		"missing":        warnStyle,

		// Error
		"error":  errorStyle,
		"failed": errorStyle,

		"pending": pendingStyle,
	}
)

// StatusStyle returns the lipgloss style for the given status string.
func StatusStyle(status string) lipgloss.Style {
	if s, ok := statusStyles[status]; ok {
		return s
	}
	return lipgloss.NewStyle()
}
