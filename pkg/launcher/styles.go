package launcher

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// Theme defines the colors of the check report.
type Theme struct {
	Primary lipgloss.Color
	Good    lipgloss.Color
	Bad     lipgloss.Color
	Dim     lipgloss.Color
}

// DefaultTheme matches the web page gradient.
var DefaultTheme = Theme{
	Primary: lipgloss.Color("#667eea"),
	Good:    lipgloss.Color("#2ed573"),
	Bad:     lipgloss.Color("#ff4757"),
	Dim:     lipgloss.Color("#64748b"),
}

// Styles holds the rendered styles of a theme.
type Styles struct {
	Title lipgloss.Style
	Step  lipgloss.Style
	OK    lipgloss.Style
	Fail  lipgloss.Style
	Hint  lipgloss.Style
	Rule  lipgloss.Style
}

// NewStyles derives styles from a theme.
func NewStyles(t Theme) Styles {
	return Styles{
		Title: lipgloss.NewStyle().Bold(true).Foreground(t.Primary),
		Step:  lipgloss.NewStyle().Bold(true),
		OK:    lipgloss.NewStyle().Foreground(t.Good),
		Fail:  lipgloss.NewStyle().Bold(true).Foreground(t.Bad),
		Hint:  lipgloss.NewStyle().Foreground(t.Dim),
		Rule:  lipgloss.NewStyle().Foreground(t.Primary),
	}
}

func (s Styles) banner(title, subtitle string) string {
	width := max(60, lipgloss.Width(title)+4)
	rule := s.Rule.Render(strings.Repeat("=", width))
	return strings.Join([]string{
		rule,
		s.Title.Render(title),
		s.Hint.Render("   " + subtitle),
		rule,
		"",
	}, "\n")
}
