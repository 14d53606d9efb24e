package commands

import (
	"os"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/bondings/bondings/internal/ledger"
)

// Brand colors
var (
	ColorAccent  = lipgloss.Color("#a855f7") // Violet
	ColorSuccess = lipgloss.Color("#22c55e")
	ColorWarning = lipgloss.Color("#eab308")
	ColorError   = lipgloss.Color("#ef4444")
	ColorInfo    = lipgloss.Color("#3b82f6")
	ColorMuted   = lipgloss.Color("#6b7280")
	ColorDim     = lipgloss.Color("#4b5563")
	ColorWhite   = lipgloss.Color("#f9fafb")
)

// isTTY reports whether stdout is a terminal.
func isTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

var (
	StyleHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorWhite)

	StyleSubheader = lipgloss.NewStyle().
			Bold(true).
			Foreground(ColorMuted)

	StyleSuccess = lipgloss.NewStyle().
			Foreground(ColorSuccess)

	StyleWarning = lipgloss.NewStyle().
			Foreground(ColorWarning)

	StyleError = lipgloss.NewStyle().
			Foreground(ColorError)

	StyleInfo = lipgloss.NewStyle().
			Foreground(ColorInfo)

	StyleDim = lipgloss.NewStyle().
			Foreground(ColorDim)

	StyleLabel = lipgloss.NewStyle().
			Foreground(ColorMuted).
			Width(16)

	StyleValue = lipgloss.NewStyle().
			Foreground(ColorWhite)

	StyleBox = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(ColorDim).
			Padding(0, 1)
)

var (
	StyleTableHeader = lipgloss.NewStyle().
				Bold(true).
				Foreground(ColorAccent).
				Padding(0, 1)

	StyleTableRow = lipgloss.NewStyle().
			Foreground(ColorWhite).
			Padding(0, 1)

	StyleTableRowAlt = lipgloss.NewStyle().
				Foreground(ColorMuted).
				Padding(0, 1)
)

// StageBadge renders a bonding stage as a colored label.
func StageBadge(stage ledger.Stage) string {
	label := stage.String()
	if !isTTY() {
		return label
	}

	bg := ColorMuted
	switch stage {
	case ledger.StageFairLaunch:
		bg = ColorInfo
	case ledger.StageMintLimited:
		bg = ColorWarning
	case ledger.StageOpen:
		bg = ColorSuccess
	}
	return lipgloss.NewStyle().
		Foreground(lipgloss.Color("#000000")).
		Background(bg).
		Padding(0, 1).
		Bold(true).
		Render(label)
}
