package output

import "github.com/charmbracelet/lipgloss"

// Styles are the lipgloss styles used in text mode.
type Styles struct {
	Header  lipgloss.Style
	Header2 lipgloss.Style
	NodeID  lipgloss.Style
	Kind    lipgloss.Style
	Muted   lipgloss.Style
	Warning lipgloss.Style
	Success lipgloss.Style
}

func newStyles(lr *lipgloss.Renderer) Styles {
	return Styles{
		Header:  lr.NewStyle().Bold(true).Foreground(lipgloss.Color("12")).Underline(true),
		Header2: lr.NewStyle().Bold(true).Foreground(lipgloss.Color("14")),
		NodeID:  lr.NewStyle().Foreground(lipgloss.Color("10")),
		Kind:    lr.NewStyle().Foreground(lipgloss.Color("13")),
		Muted:   lr.NewStyle().Foreground(lipgloss.Color("8")),
		Warning: lr.NewStyle().Foreground(lipgloss.Color("11")),
		Success: lr.NewStyle().Foreground(lipgloss.Color("10")).Bold(true),
	}
}
