package cli

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

type styles struct {
	banner    lipgloss.Style
	prompt    lipgloss.Style
	assistant lipgloss.Style
	tool      lipgloss.Style
	dim       lipgloss.Style
	warning   lipgloss.Style
	err       lipgloss.Style
}

// newStyles binds styles to w so colors are only emitted when w is a
// terminal.
func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		banner: r.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true),
		prompt: r.NewStyle().
			Foreground(lipgloss.Color("213")).
			Bold(true),
		assistant: r.NewStyle().
			Foreground(lipgloss.Color("39")),
		tool: r.NewStyle().
			Foreground(lipgloss.Color("214")),
		dim: r.NewStyle().
			Foreground(lipgloss.Color("242")),
		warning: r.NewStyle().
			Foreground(lipgloss.Color("226")),
		err: r.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),
	}
}
