package ui

import (
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// ConnectingModal is shown while a session is being opened. It has no
// dismiss key; it goes away when the connect attempt ends.
type ConnectingModal struct {
	Name    string
	spinner spinner.Model
}

// Ensure ConnectingModal implements View.
var _ View = (*ConnectingModal)(nil)

// NewConnectingModal creates the modal for the backend called name.
func NewConnectingModal(name string) *ConnectingModal {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = Styles.Status
	return &ConnectingModal{Name: name, spinner: s}
}

// Init implements View.
func (m *ConnectingModal) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update implements View.
func (m *ConnectingModal) Update(msg tea.Msg) (View, tea.Cmd) {
	if msg, ok := msg.(spinner.TickMsg); ok {
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// View implements View.
func (m *ConnectingModal) View() string {
	content := Styles.Title.Render("Connecting") + "\n\n"
	content += m.spinner.View() + " " + m.Name + "\n\n"
	content += Styles.Hint.Render("Accept the debugging prompt on the device if one appears")
	return Styles.Box.Render(content)
}
