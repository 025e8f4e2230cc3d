package ui

import (
	"fmt"
	"strings"

	"adbdash/internal/backend"
	"adbdash/internal/connect"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// backendItem implements list.Item for a backend.
type backendItem struct {
	backend   backend.Backend
	connected bool
}

func (b backendItem) FilterValue() string { return b.backend.Name() }
func (b backendItem) Title() string {
	line := kindBadge(b.backend.Kind()) + " " + b.backend.Name()
	if b.connected {
		line += " " + Styles.OK.Render("● connected")
	}
	return line
}
func (b backendItem) Description() string { return "" }

// ConnectView is the backend picker. The list is frozen while a session
// is open or being opened.
type ConnectView struct {
	list    list.Model
	State   connect.State
	spinner spinner.Model
	loading bool // true while a manual refresh is running
}

// Ensure ConnectView implements View.
var _ View = (*ConnectView)(nil)

// NewConnectView creates an empty picker; backends arrive with SetState.
func NewConnectView() *ConnectView {
	l := list.New(nil, NewCompactListDelegate(), 0, 0)
	l.Title = "Devices"
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.DisableQuitKeybindings()

	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = Styles.Status

	return &ConnectView{list: l, spinner: s}
}

// SetState shows st: the combined backend list with the selection and
// connection markers.
func (c *ConnectView) SetState(st connect.State) {
	c.State = st
	items := make([]list.Item, len(st.Backends))
	selected := -1
	for i, b := range st.Backends {
		items[i] = backendItem{backend: b, connected: b.Serial() == st.Connected}
		if b.Serial() == st.Selected {
			selected = i
		}
	}
	c.list.SetItems(items)
	if selected >= 0 {
		c.list.Select(selected)
	}
}

// SetLoading sets the loading state and returns a command to start the spinner.
func (c *ConnectView) SetLoading(loading bool) tea.Cmd {
	c.loading = loading
	if loading {
		return c.spinner.Tick
	}
	return nil
}

// Selected returns the backend under the cursor, or nil.
func (c *ConnectView) Selected() backend.Backend {
	if item, ok := c.list.SelectedItem().(backendItem); ok {
		return item.backend
	}
	return nil
}

// Init implements View.
func (c *ConnectView) Init() tea.Cmd {
	return nil
}

// Update implements View.
func (c *ConnectView) Update(msg tea.Msg) (View, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		c.list.SetWidth(msg.Width)
		c.list.SetHeight(msg.Height - 6) // Reserve space for header, status and hint
		return c, nil
	case spinner.TickMsg:
		if !c.loading {
			return c, nil
		}
		var cmd tea.Cmd
		c.spinner, cmd = c.spinner.Update(msg)
		return c, cmd
	case tea.KeyMsg:
		if !c.State.CanSelect() {
			return c, nil
		}
		if msg.String() == "enter" {
			if c.State.CanConnect() {
				return c, func() tea.Msg { return ConnectMsg{} }
			}
			return c, nil
		}
	}

	// The list handles j/k/g/G navigation natively.
	var cmd tea.Cmd
	c.list, cmd = c.list.Update(msg)
	if b := c.Selected(); b != nil && b.Serial() != c.State.Selected {
		serial := b.Serial()
		c.State.Selected = serial
		return c, tea.Batch(cmd, func() tea.Msg { return SelectBackendMsg{Serial: serial} })
	}
	return c, cmd
}

// View implements View.
func (c *ConnectView) View() string {
	if c.list.Width() == 0 {
		c.list.SetWidth(80)
	}
	if c.list.Height() == 0 {
		c.list.SetHeight(20)
	}

	var b strings.Builder
	title := fmt.Sprintf("Devices (%d)", len(c.State.Backends))
	if c.loading {
		title += " " + c.spinner.View()
	}
	b.WriteString(Styles.Title.Render(title) + "\n")

	switch {
	case c.State.Connecting:
		b.WriteString(Styles.Status.Render("Connecting…") + "\n")
	case c.State.Connected != "":
		name := c.State.Connected
		for _, be := range c.State.Backends {
			if be.Serial() == c.State.Connected {
				name = be.Name()
			}
		}
		b.WriteString(Styles.OK.Render("Connected to "+name) + Styles.Hint.Render("  (disconnect to pick another device)") + "\n")
	case !c.State.Supported:
		b.WriteString(Styles.Details.Render("USB devices unavailable") + "\n")
	default:
		b.WriteString("\n")
	}
	b.WriteString(Styles.Hint.Render("Enter: connect  j/k: select  Press [SPC] for commands") + "\n\n")

	if len(c.State.Backends) == 0 {
		b.WriteString(Styles.Empty.Render("No devices. Attach one over USB or press SPC a to add a TCP device."))
		return b.String()
	}
	if !c.State.CanSelect() {
		return b.String() + Styles.Muted.Render(c.list.View())
	}
	b.WriteString(c.list.View())
	return b.String()
}
