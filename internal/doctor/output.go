package doctor

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	categoryStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#60A5FA"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#6B7280"))

	statusStyles = map[Status]lipgloss.Style{
		StatusOK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#22C55E")),
		StatusWarning: lipgloss.NewStyle().Foreground(lipgloss.Color("#EAB308")),
		StatusError:   lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444")),
		StatusSkipped: dimStyle,
	}

	statusIcons = map[Status]string{
		StatusOK:      "✓",
		StatusWarning: "!",
		StatusError:   "✗",
		StatusSkipped: "-",
	}
)

// Output renders a human-readable doctor report.
type Output struct {
	w         io.Writer
	useColors bool
}

// NewOutput creates an Output. Colors are only applied when useColors is set.
func NewOutput(w io.Writer, useColors bool) *Output {
	return &Output{w: w, useColors: useColors}
}

func (o *Output) style(s lipgloss.Style, text string) string {
	if !o.useColors {
		return text
	}
	return s.Render(text)
}

// Header prints the report title.
func (o *Output) Header() {
	title := "Bondings Doctor"
	fmt.Fprintf(o.w, "\n%s\n%s\n", o.style(titleStyle, title), strings.Repeat("=", len(title)))
}

// Category starts a new group of checks.
func (o *Output) Category(c Category) {
	fmt.Fprintf(o.w, "\n%s\n", o.style(categoryStyle, strings.ToUpper(string(c))))
}

// CheckStart prints the progress line for a check.
func (o *Output) CheckStart(index, total int, name string) {
	fmt.Fprintf(o.w, "[%d/%d] Checking %s...\n", index, total, name)
}

// CheckResult prints a single result with its details and fix hint.
func (o *Output) CheckResult(r CheckResult) {
	icon := statusIcons[r.Status]
	if icon == "" {
		icon = "?"
	}
	fmt.Fprintf(o.w, "  %s %s\n", o.style(statusStyles[r.Status], icon), r.Message)

	if r.Details != "" {
		fmt.Fprintf(o.w, "    %s\n", o.style(dimStyle, r.Details))
	}
	if r.Status != StatusOK && r.FixCommand != "" {
		fmt.Fprintf(o.w, "    Fix: %s\n", r.FixCommand)
	}
}

// Summary prints the closing tally.
func (o *Output) Summary(s Summary) {
	parts := []string{
		o.style(statusStyles[StatusOK], fmt.Sprintf("%d passed", s.Passed)),
		o.style(failedStyle(s), fmt.Sprintf("%d failed", s.Failed)),
	}
	if s.Warned > 0 {
		parts = append(parts, o.style(statusStyles[StatusWarning], fmt.Sprintf("%d warnings", s.Warned)))
	}
	if s.Skipped > 0 {
		parts = append(parts, o.style(dimStyle, fmt.Sprintf("%d skipped", s.Skipped)))
	}
	fmt.Fprintf(o.w, "\nSummary: %s\n", strings.Join(parts, ", "))
}

func failedStyle(s Summary) lipgloss.Style {
	if s.Failed > 0 {
		return statusStyles[StatusError]
	}
	return lipgloss.NewStyle()
}
