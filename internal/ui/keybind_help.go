package ui

import (
	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/lipgloss"
)

var helpBox = lipgloss.NewStyle().
	Border(lipgloss.RoundedBorder()).
	BorderForeground(lipgloss.Color(ColorAccent)).
	Padding(0, 1)

// leaderBindings turns the leader hints of a screen into help bindings,
// closed by the esc cancel entry.
func leaderBindings(reg *KeybindRegistry, mode AppMode) []key.Binding {
	hints := reg.LeaderHints(mode)
	if len(hints) == 0 {
		return nil
	}
	out := make([]key.Binding, 0, len(hints)+1)
	for _, h := range hints {
		out = append(out, key.NewBinding(key.WithKeys(h.Key), key.WithHelp(h.Key, h.Desc)))
	}
	return append(out, key.NewBinding(key.WithKeys("esc"), key.WithHelp("esc", "cancel")))
}

// RenderKeybindHelp renders the bar shown while the leader waits for a key.
func RenderKeybindHelp(h *KeyHandler, mode AppMode) string {
	if h == nil {
		return ""
	}
	bindings := leaderBindings(h.Registry, mode)
	if len(bindings) == 0 {
		return ""
	}
	m := help.New()
	m.Styles.ShortKey = lipgloss.NewStyle().Foreground(lipgloss.Color(ColorHighlight)).Bold(true)
	m.Styles.ShortDesc = Styles.Muted
	m.Styles.ShortSeparator = Styles.Muted
	return helpBox.Render(Styles.Muted.Render(leader) + " " + m.ShortHelpView(bindings))
}
