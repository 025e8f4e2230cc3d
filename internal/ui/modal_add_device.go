package ui

import (
	"strings"

	"adbdash/internal/backend"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
)

// AddDeviceModal asks for the address of a device reachable with adb over
// TCP. The answer goes back to the waiting DevicePrompt.
type AddDeviceModal struct {
	input   textinput.Model
	reply   chan<- promptAnswer
	replied bool
}

// Ensure AddDeviceModal implements View.
var _ View = (*AddDeviceModal)(nil)

// NewAddDeviceModal creates the prompt. reply may be nil in tests.
func NewAddDeviceModal(reply chan<- promptAnswer) *AddDeviceModal {
	ti := textinput.New()
	ti.Placeholder = "192.168.1.20:" + backend.DefaultTCPPort
	ti.Width = 40
	ti.Focus()
	return &AddDeviceModal{input: ti, reply: reply}
}

// answer sends the result once; later calls do nothing.
func (m *AddDeviceModal) answer(a promptAnswer) {
	if m.replied || m.reply == nil {
		return
	}
	m.replied = true
	m.reply <- a // buffered by DevicePrompt.Ask
}

// Cancel answers "no device" if the modal goes away unanswered.
func (m *AddDeviceModal) Cancel() {
	m.answer(promptAnswer{})
}

// Init implements View.
func (m *AddDeviceModal) Init() tea.Cmd {
	return textinput.Blink
}

// Update implements View.
func (m *AddDeviceModal) Update(msg tea.Msg) (View, tea.Cmd) {
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "esc":
			m.Cancel()
			return m, dismiss
		case "enter":
			addr := strings.TrimSpace(m.input.Value())
			if addr == "" {
				return m, nil
			}
			m.answer(promptAnswer{Addr: addr, OK: true})
			return m, dismiss
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// Value returns the typed address.
func (m *AddDeviceModal) Value() string {
	return m.input.Value()
}

// View implements View.
func (m *AddDeviceModal) View() string {
	content := Styles.Title.Render("Add device") + "\n\n"
	content += Styles.Hint.Render("host[:port] of a device with adb over TCP enabled") + "\n"
	content += m.input.View() + "\n\n"
	content += Styles.Hint.Render("Enter: add  Esc: cancel")
	return Styles.Box.Render(content)
}

// CapturesInput implements inputCapturer; typed spaces are not the leader key.
func (m *AddDeviceModal) CapturesInput() bool { return true }
