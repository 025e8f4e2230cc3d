package ui

import (
	tea "github.com/charmbracelet/bubbletea"
)

// MessageModal shows an error or notice until Enter or Esc.
type MessageModal struct {
	Title   string
	Body    string
	Warning bool
}

// Ensure MessageModal implements View.
var _ View = (*MessageModal)(nil)

// NewErrorModal shows err under title.
func NewErrorModal(title string, err error) *MessageModal {
	body := "unknown error"
	if err != nil {
		body = err.Error()
	}
	return &MessageModal{Title: title, Body: body, Warning: true}
}

// Init implements View.
func (m *MessageModal) Init() tea.Cmd {
	return nil
}

// Update implements View.
func (m *MessageModal) Update(msg tea.Msg) (View, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "esc", "enter":
			return m, dismiss
		}
	}
	return m, nil
}

// View implements View.
func (m *MessageModal) View() string {
	box, title := Styles.Box, Styles.Title
	if m.Warning {
		box, title = Styles.BoxDanger, Styles.TitleWarning
	}
	content := title.Render(m.Title) + "\n\n"
	content += Styles.Label.Width(60).Render(m.Body)
	content += "\n\n" + Styles.Hint.Render("Enter/Esc: close")
	return box.Render(content)
}
