package ui

import (
	"bytes"
	"sync"

	"adbdash/internal/adb"
	"adbdash/internal/term"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// maxShellBuffer caps the scrollback kept by ShellView.
const maxShellBuffer = 256 << 10

// shellInputQueue bounds keystrokes waiting for the device.
const shellInputQueue = 256

// ShellOutputMsg carries bytes read from the device shell for display.
// Stream identifies the shell so output of a closed one is ignored.
type ShellOutputMsg struct {
	Stream *adb.Stream
	Data   []byte
	Closed bool
}

// ShellView is an overlay running an interactive shell on the device.
// Keys go to the shell; output is displayed in a viewport.
// Esc dismisses (does not pass through to the shell).
type ShellView struct {
	stream   *adb.Stream
	content  *bytes.Buffer
	viewport viewport.Model
	closed   bool
	width    int
	height   int

	// input feeds the single writer goroutine so keys reach the shell in
	// the order they were typed.
	input    chan []byte
	writeErr chan error
	stop     chan struct{}
	stopOnce sync.Once
}

// Ensure ShellView implements View.
var _ View = (*ShellView)(nil)

const defaultShellWidth = 70
const defaultShellHeight = 18

// NewShellView creates a shell view over an opened shell stream.
func NewShellView(st *adb.Stream) *ShellView {
	vp := viewport.New(defaultShellWidth, defaultShellHeight)
	vp.Style = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorHighlight)).
		Padding(0, 1)
	return &ShellView{
		stream:   st,
		content:  &bytes.Buffer{},
		viewport: vp,
		width:    defaultShellWidth,
		height:   defaultShellHeight,
		input:    make(chan []byte, shellInputQueue),
		writeErr: make(chan error, 1),
		stop:     make(chan struct{}),
	}
}

// Init implements View. Starts the writer, sizes the device shell and
// starts reading.
func (s *ShellView) Init() tea.Cmd {
	if s.stream == nil {
		return nil
	}
	go s.writeLoop()
	size := term.Size{Rows: uint16(s.viewport.Height - 2), Cols: uint16(s.viewport.Width - 4)}
	s.send([]byte(term.SttyCommand(size)))
	return tea.Batch(s.waitForOutput(), s.waitForWriteErr())
}

func (s *ShellView) waitForOutput() tea.Cmd {
	st := s.stream
	return func() tea.Msg {
		data, ok := <-st.Data()
		if !ok {
			return ShellOutputMsg{Stream: st, Closed: true}
		}
		return ShellOutputMsg{Stream: st, Data: data}
	}
}

// writeLoop is the only writer of the stream; each write waits for the
// device before the next one starts.
func (s *ShellView) writeLoop() {
	for {
		select {
		case p := <-s.input:
			if _, err := s.stream.Write(p); err != nil {
				s.writeErr <- err
				return
			}
		case <-s.stop:
			return
		}
	}
}

func (s *ShellView) waitForWriteErr() tea.Cmd {
	errs, stop := s.writeErr, s.stop
	return func() tea.Msg {
		select {
		case err := <-errs:
			return statusMsg{Text: "Shell: " + err.Error(), IsError: true}
		case <-stop:
			return nil
		}
	}
}

// send queues p for the writer. Input typed faster than the device takes
// it is dropped once the queue is full.
func (s *ShellView) send(p []byte) tea.Cmd {
	select {
	case s.input <- p:
		return nil
	default:
		return func() tea.Msg { return statusMsg{Text: "Shell: input dropped, device is not keeping up", IsError: true} }
	}
}

func (s *ShellView) stopWriter() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Update implements View.
func (s *ShellView) Update(msg tea.Msg) (View, tea.Cmd) {
	switch msg := msg.(type) {
	case ShellOutputMsg:
		if msg.Stream != s.stream || s.closed {
			return s, nil
		}
		if msg.Closed {
			s.closed = true
			s.stopWriter()
			s.content.WriteString("\n[shell closed]\n")
			s.refreshViewport()
			return s, nil
		}
		s.append(msg.Data)
		return s, s.waitForOutput()
	case tea.KeyMsg:
		if msg.String() == "esc" {
			return s, dismiss
		}
		if s.closed || s.stream == nil {
			return s, nil
		}
		if b := keyToShellBytes(msg); len(b) > 0 {
			return s, s.send(b)
		}
		return s, nil
	case tea.WindowSizeMsg:
		s.width = msg.Width
		s.height = msg.Height
		w := msg.Width - 4
		h := msg.Height/2 + 4
		if w < 40 {
			w = 40
		}
		if h < 12 {
			h = 12
		}
		s.viewport.Width = w
		s.viewport.Height = h
		s.refreshViewport()
		return s, nil
	}

	var cmd tea.Cmd
	s.viewport, cmd = s.viewport.Update(msg)
	return s, cmd
}

// append adds shell output, dropping carriage returns and the oldest
// bytes past maxShellBuffer.
func (s *ShellView) append(data []byte) {
	s.content.Write(bytes.ReplaceAll(data, []byte{'\r'}, nil))
	if over := s.content.Len() - maxShellBuffer; over > 0 {
		s.content.Next(over)
	}
	s.refreshViewport()
	s.viewport.GotoBottom()
}

// View implements View.
func (s *ShellView) View() string {
	header := Styles.Title.Render("Device shell") + Styles.Hint.Render("  Esc: exit")
	if s.closed {
		header += " " + Styles.Details.Render("closed")
	}
	return header + "\n" + s.viewport.View()
}

func (s *ShellView) refreshViewport() {
	s.viewport.SetContent(s.content.String())
}

// CapturesInput implements inputCapturer; every key belongs to the shell.
func (s *ShellView) CapturesInput() bool { return true }

// keyToShellBytes converts a Bubble Tea KeyMsg to the bytes a terminal sends.
func keyToShellBytes(msg tea.KeyMsg) []byte {
	switch msg.Type {
	case tea.KeyEnter:
		return []byte{'\r'}
	case tea.KeyBackspace:
		return []byte{0x7f}
	case tea.KeyTab:
		return []byte{'\t'}
	case tea.KeySpace:
		return []byte{' '}
	case tea.KeyUp:
		return []byte{0x1b, '[', 'A'}
	case tea.KeyDown:
		return []byte{0x1b, '[', 'B'}
	case tea.KeyRight:
		return []byte{0x1b, '[', 'C'}
	case tea.KeyLeft:
		return []byte{0x1b, '[', 'D'}
	case tea.KeyCtrlC:
		return []byte{0x03}
	case tea.KeyCtrlD:
		return []byte{0x04}
	case tea.KeyRunes:
		return []byte(string(msg.Runes))
	default:
		if len(msg.Runes) > 0 {
			return []byte(string(msg.Runes))
		}
		return nil
	}
}

// Close closes the shell stream. Call when dismissing the overlay.
func (s *ShellView) Close() error {
	s.stopWriter()
	if s.stream == nil {
		return nil
	}
	return s.stream.Close()
}
