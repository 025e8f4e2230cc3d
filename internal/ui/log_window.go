package ui

import (
	"fmt"
	"strings"

	"adbdash/internal/eventlog"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// LogWindow displays the ADB packet log with scrollback.
// Shown as overlay with SPC l; Esc dismisses, c clears.
type LogWindow struct {
	log      *eventlog.Log
	entries  []eventlog.Entry
	follow   bool // stick to the bottom while new packets arrive
	viewport viewport.Model
	width    int
	height   int
}

// Ensure LogWindow implements View.
var _ View = (*LogWindow)(nil)

const defaultLogWidth = 90
const defaultLogHeight = 18

// NewLogWindow creates a window over log, which may be nil.
func NewLogWindow(log *eventlog.Log) *LogWindow {
	vp := viewport.New(defaultLogWidth, defaultLogHeight)
	vp.Style = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorHighlight)).
		Padding(0, 1)
	w := &LogWindow{
		log:      log,
		follow:   true,
		viewport: vp,
		width:    defaultLogWidth,
		height:   defaultLogHeight,
	}
	if log != nil {
		w.entries = log.Entries()
	}
	w.refreshContent()
	return w
}

// Init implements View.
func (w *LogWindow) Init() tea.Cmd {
	return w.viewport.Init()
}

// Update implements View.
func (w *LogWindow) Update(msg tea.Msg) (View, tea.Cmd) {
	switch msg := msg.(type) {
	case packetMsg:
		w.entries = append(w.entries, msg.Entry)
		w.refreshContent()
		return w, nil
	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			return w, dismiss
		case "c":
			if w.log != nil {
				w.log.Clear()
			}
			w.entries = nil
			w.follow = true
			w.refreshContent()
			return w, nil
		}
	case tea.WindowSizeMsg:
		w.width = msg.Width
		w.height = msg.Height
		// Use a portion of the window for the log overlay
		vw := msg.Width - 4
		vh := msg.Height/2 + 4
		if vw < 40 {
			vw = 40
		}
		if vh < 12 {
			vh = 12
		}
		w.viewport.Width = vw
		w.viewport.Height = vh
		w.refreshContent()
		return w, nil
	}

	var cmd tea.Cmd
	w.viewport, cmd = w.viewport.Update(msg)
	w.follow = w.viewport.AtBottom()
	return w, cmd
}

// View implements View.
func (w *LogWindow) View() string {
	header := Styles.Title.Render(fmt.Sprintf("Packets (%d)", len(w.entries)))
	if w.log != nil {
		if n := w.log.Dropped(); n > 0 {
			header += " " + Styles.Details.Render(fmt.Sprintf("%d not shown live", n))
		}
	}
	header += Styles.Hint.Render("  c: clear  Esc: close")
	return header + "\n" + w.viewport.View()
}

// refreshContent rebuilds the viewport content from the collected entries.
func (w *LogWindow) refreshContent() {
	lines := make([]string, 0, len(w.entries))
	for _, e := range w.entries {
		line := e.String()
		if e.Direction == eventlog.Out {
			line = Styles.Status.Render(line)
		}
		lines = append(lines, line)
	}
	content := strings.Join(lines, "\n")
	if content == "" {
		content = Styles.Empty.Render("No packets yet. Connect to a device to see traffic.")
	}
	w.viewport.SetContent(content)
	if w.follow {
		w.viewport.GotoBottom()
	}
}
