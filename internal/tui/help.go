package tui

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/lipgloss"
)

var (
	// HelpOverlayStyle defines the style for the expanded help.
	HelpOverlayStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("62")).
		Padding(0, 2)
)

// HelpModel wraps the bubbles help component.
type HelpModel struct {
	help    help.Model
	keymap  KeyMap
	showAll bool
}

// NewHelpModel creates a help model that starts collapsed.
func NewHelpModel(keymap KeyMap) HelpModel {
	return HelpModel{help: help.New(), keymap: keymap}
}

// Toggle switches between the short and the full help.
func (m *HelpModel) Toggle() {
	m.showAll = !m.showAll
}

// View renders the help for the given width.
func (m HelpModel) View(width int) string {
	if !m.showAll {
		m.help.Width = width
		return HelpStyle.Render(m.help.ShortHelpView(m.keymap.ShortHelp()))
	}
	m.help.Width = width - 6 // Account for padding and border
	return HelpOverlayStyle.Render(m.help.FullHelpView(m.keymap.FullHelp()))
}
