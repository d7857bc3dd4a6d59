// Package color holds the terminal palette of kubelink.
//
// Styles are built per output through a lipgloss.Renderer, so the color
// profile follows the writer being rendered to: terminals get colors,
// pipes, files and NO_COLOR get plain text.
//
// # Usage Example
//
//	p := color.For(os.Stderr)
//	fmt.Fprintln(os.Stderr, p.Success.Render("ForwardingActive"))
//	fmt.Fprintln(os.Stderr, p.Error.Render("Failed"))
package color
