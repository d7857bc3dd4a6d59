package color

import (
	"io"

	"github.com/charmbracelet/lipgloss"
)

// Semantic colors, adapted to the terminal background.
var (
	successColor = lipgloss.AdaptiveColor{Light: "28", Dark: "10"}
	errorColor   = lipgloss.AdaptiveColor{Light: "160", Dark: "9"}
	warningColor = lipgloss.AdaptiveColor{Light: "136", Dark: "11"}
	mutedColor   = lipgloss.AdaptiveColor{Light: "245", Dark: "241"}
)

// Palette is the set of styles used for CLI output.
type Palette struct {
	Header  lipgloss.Style
	Success lipgloss.Style
	Error   lipgloss.Style
	Warning lipgloss.Style
	Muted   lipgloss.Style
}

// For returns the palette for output written to w.
func For(w io.Writer) Palette {
	r := lipgloss.NewRenderer(w)
	return Palette{
		Header:  r.NewStyle().Bold(true),
		Success: r.NewStyle().Foreground(successColor),
		Error:   r.NewStyle().Foreground(errorColor).Bold(true),
		Warning: r.NewStyle().Foreground(warningColor),
		Muted:   r.NewStyle().Foreground(mutedColor),
	}
}
