package ui

import (
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// ConfirmModal asks a yes/no question. The cursor starts on the safe
// choice: Enter on "Cancel" dismisses, y always confirms.
type ConfirmModal struct {
	Title   string
	Facts   []string // one line each, e.g. the device name
	Warning string   // consequence of confirming, if any
	Action  string   // label of the confirm button
	confirm tea.Msg
	onYes   bool
}

// Ensure ConfirmModal implements View.
var _ View = (*ConfirmModal)(nil)

// NewDisconnectConfirmModal asks before closing the session with the
// named device.
func NewDisconnectConfirmModal(name string, shellOpen bool) *ConfirmModal {
	m := &ConfirmModal{
		Title:   "Disconnect?",
		Facts:   []string{"Device: " + name},
		Action:  "Disconnect",
		confirm: ConfirmDisconnectMsg{},
	}
	if shellOpen {
		m.Warning = "The open shell will be closed"
	}
	return m
}

// Init implements View.
func (m *ConfirmModal) Init() tea.Cmd {
	return nil
}

// Update implements View.
func (m *ConfirmModal) Update(msg tea.Msg) (View, tea.Cmd) {
	k, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch k.String() {
	case "esc", "n":
		return m, dismiss
	case "y":
		return m, m.accept
	case "left", "right", "tab", "shift+tab", "h", "l":
		m.onYes = !m.onYes
	case "enter":
		if m.onYes {
			return m, m.accept
		}
		return m, dismiss
	}
	return m, nil
}

func (m *ConfirmModal) accept() tea.Msg { return m.confirm }

// View implements View.
func (m *ConfirmModal) View() string {
	var b strings.Builder
	b.WriteString(Styles.TitleWarning.Render(m.Title) + "\n\n")
	for _, f := range m.Facts {
		b.WriteString(Styles.Label.Render(f) + "\n")
	}
	if m.Warning != "" {
		b.WriteString(Styles.Details.Render(m.Warning) + "\n")
	}
	yes, no := Styles.Muted, Styles.Selected
	if m.onYes {
		yes, no = Styles.Selected, Styles.Muted
	}
	buttons := lipgloss.JoinHorizontal(lipgloss.Top,
		yes.Render("[ "+m.Action+" ]"), "  ", no.Render("[ Cancel ]"))
	b.WriteString("\n" + buttons + "\n\n")
	b.WriteString(Styles.Hint.Render("y: confirm  n/Esc: cancel  ←/→: choose"))
	return Styles.BoxDanger.Render(b.String())
}
