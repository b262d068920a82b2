package ui

import "github.com/charmbracelet/lipgloss"

type Style struct {
	Header            lipgloss.Style
	UnselectedMessage lipgloss.Style
	SelectedMessage   lipgloss.Style
	FocusedMessage    lipgloss.Style
	Error             lipgloss.Style
	Role              lipgloss.Style
}

func DefaultStyles() *Style {
	border := lipgloss.RoundedBorder()
	return &Style{
		Header: lipgloss.NewStyle().Bold(true).Padding(0, 1),
		UnselectedMessage: lipgloss.NewStyle().
			Border(border).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		SelectedMessage: lipgloss.NewStyle().
			Border(border).
			BorderForeground(lipgloss.Color("63")).
			Padding(0, 1),
		FocusedMessage: lipgloss.NewStyle().
			Border(border).
			BorderForeground(lipgloss.Color("212")).
			Padding(0, 1),
		Error: lipgloss.NewStyle().
			Border(border).
			BorderForeground(lipgloss.Color("196")).
			Foreground(lipgloss.Color("196")).
			Padding(0, 1),
		Role: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("244")),
	}
}
