package tui

import "github.com/charmbracelet/lipgloss"

// Color palette.
var (
	colorGreen = lipgloss.Color("2")
	colorRed   = lipgloss.Color("1")
	colorGray  = lipgloss.Color("8")
	colorWhite = lipgloss.Color("15")
	colorCyan  = lipgloss.Color("6")
	colorBlue  = lipgloss.Color("4")
)

// Layout styles.
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Underline(true).
			Foreground(colorWhite)

	cursorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorCyan)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorGray)

	helpStyle = lipgloss.NewStyle().
			Foreground(colorGray).
			PaddingTop(1)

	// Ancestry chain and pagination toggle.
	treeStyle = lipgloss.NewStyle().Foreground(colorBlue)
	moreStyle = lipgloss.NewStyle().Italic(true).Foreground(colorCyan)

	// Process owner color styles.
	userProcessStyle   = lipgloss.NewStyle().Foreground(colorGreen)
	systemProcessStyle = lipgloss.NewStyle().Foreground(colorGray)
	rootProcessStyle   = lipgloss.NewStyle().Foreground(colorRed)

	// Kill confirmation styles.
	dangerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("196")).
			Background(lipgloss.Color("52")).
			Padding(0, 1)

	warnStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("214"))

	successStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorGreen)

	errorStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(colorRed)
)

// systemOwners are service accounts whose listeners are dimmed.
var systemOwners = map[string]bool{
	"_postgres": true, "_mysql": true, "_www": true, "daemon": true,
	"nobody": true, "_windowserver": true, "_mdnsresponder": true,
	"_netbios": true, "postgres": true, "mysql": true, "www-data": true,
	"systemd-resolve": true, "systemd-network": true,
}

// processStyle returns the appropriate style based on the process owner.
func processStyle(owner string) lipgloss.Style {
	switch {
	case owner == "root":
		return rootProcessStyle
	case systemOwners[owner]:
		return systemProcessStyle
	default:
		return userProcessStyle
	}
}
