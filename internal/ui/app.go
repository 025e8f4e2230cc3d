package ui

import (
	"context"

	"adbdash/internal/backend"
	"adbdash/internal/connect"
	"adbdash/internal/eventlog"
	"adbdash/internal/telemetry"
	"adbdash/internal/trace"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
)

// Controller is the part of connect.Controller the dashboard drives.
type Controller interface {
	State() connect.State
	Subscribe(fn func(connect.State)) (unsubscribe func())
	Events() <-chan connect.Event
	Select(serial string) error
	RequestAccess(ctx context.Context) error
	Connect(ctx context.Context) error
	Disconnect() error
	RefreshUSB(ctx context.Context) error
	RefreshRemote(ctx context.Context) error
	Session() backend.Session
	ConnectedBackend() backend.Backend
}

var _ Controller = (*connect.Controller)(nil)

// Refresher re-collects device information on demand (monitor.Monitor).
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Options wires the dashboard to the rest of adbdash. Everything but
// Controller may be nil.
type Options struct {
	Controller Controller
	Monitor    Refresher
	Snapshot   *telemetry.Snapshot
	Packets    *eventlog.Log
	Spans      *trace.Recorder
	Prompt     *DevicePrompt
	Logger     zerolog.Logger
}

// AppModel is the root model: the backend picker at the bottom of the
// view stack, the device screen above it while connected, and modals and
// windows on the overlay stack.
type AppModel struct {
	Mode          AppMode
	Views         ViewStack
	Connect       *ConnectView
	Device        *DeviceView // nil unless the device screen is open
	Overlays      OverlayStack
	KeyHandler    *KeyHandler
	Status        string
	StatusIsError bool

	opts       Options
	log        zerolog.Logger
	ctx        context.Context
	cancel     context.CancelFunc
	unsub      func()
	stateCh    chan struct{}
	snapshotCh chan struct{}
	spansCh    chan struct{}
	connecting *ConnectingModal
	shell      *ShellView
	width      int
	height     int
}

// Ensure AppModel can be used as tea.Model via adapter.
var _ tea.Model = (*appModelAdapter)(nil)

// appModelAdapter wraps AppModel to implement tea.Model.
type appModelAdapter struct {
	*AppModel
}

// NewAppModel creates the root application model.
func NewAppModel(opts Options) *AppModel {
	ctx, cancel := context.WithCancel(context.Background())
	a := &AppModel{
		Mode:       ModeConnect,
		Connect:    NewConnectView(),
		KeyHandler: NewKeyHandler(newRegistry()),
		opts:       opts,
		log:        opts.Logger.With().Str("component", "ui").Logger(),
		ctx:        ctx,
		cancel:     cancel,
		stateCh:    make(chan struct{}, 1),
		snapshotCh: make(chan struct{}, 1),
		spansCh:    make(chan struct{}, 1),
	}
	a.Views.Push(a.Connect)
	a.unsub = opts.Controller.Subscribe(func(connect.State) { signal(a.stateCh) })
	if opts.Spans != nil {
		opts.Spans.SetOnChange(func() { signal(a.spansCh) })
	}
	return a
}

func newRegistry() *KeybindRegistry {
	connectOnly := []AppMode{ModeConnect}
	reg := NewKeybindRegistry()
	reg.BindWithDesc("ctrl+c", tea.Quit, "Quit")
	reg.BindWithDesc("SPC q", tea.Quit, "Quit")
	reg.BindWithDesc("SPC c", func() tea.Msg { return ConnectMsg{} }, "Connect")
	reg.BindWithDesc("SPC d", func() tea.Msg { return DisconnectMsg{} }, "Disconnect")
	reg.BindWithDesc("SPC r", func() tea.Msg { return RefreshMsg{} }, "Refresh")
	reg.BindWithDescForMode("SPC a", func() tea.Msg { return AddDeviceMsg{} }, "Add device", connectOnly)
	reg.BindWithDescForMode("SPC i", func() tea.Msg { return ShowDeviceInfoMsg{} }, "Device info", connectOnly)
	reg.BindWithDesc("SPC s", func() tea.Msg { return OpenShellMsg{} }, "Shell")
	reg.BindWithDesc("SPC l", func() tea.Msg { return ShowLogMsg{} }, "Packet log")
	reg.BindWithDesc("SPC t", func() tea.Msg { return ShowTraceMsg{} }, "Traces")
	return reg
}

// signal does a non-blocking send; one pending signal is enough.
func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// NotifySnapshot tells the dashboard the telemetry snapshot changed. Safe
// to call from any goroutine; wire it to monitor.Options.OnChange.
func (m *AppModel) NotifySnapshot() {
	signal(m.snapshotCh)
}

// SetMonitor sets the refresher used by SPC r on the device screen.
// Call before the program starts.
func (m *AppModel) SetMonitor(r Refresher) {
	m.opts.Monitor = r
}

// Close stops background waits and the shell, and fails pending prompts.
func (m *AppModel) Close() {
	m.cancel()
	if m.unsub != nil {
		m.unsub()
	}
	if m.opts.Spans != nil {
		m.opts.Spans.SetOnChange(nil)
	}
	if m.opts.Prompt != nil {
		m.opts.Prompt.Close()
	}
	m.closeShell()
}

// AsTeaModel returns a tea.Model adapter for use with tea.NewProgram.
func (m *AppModel) AsTeaModel() tea.Model {
	return &appModelAdapter{AppModel: m}
}

// Init implements tea.Model.
func (a *appModelAdapter) Init() tea.Cmd {
	cmds := []tea.Cmd{
		a.currentView().Init(),
		func() tea.Msg { return stateMsg{} },
		a.waitState(),
		a.waitEvent(),
		a.waitSnapshot(),
		a.waitSpans(),
	}
	if a.opts.Packets != nil {
		cmds = append(cmds, a.waitPacket())
	}
	if a.opts.Prompt != nil {
		cmds = append(cmds, a.opts.Prompt.wait())
	}
	return tea.Batch(cmds...)
}

// View implements tea.Model.
func (a *appModelAdapter) View() string {
	base := a.currentView().View()
	if top, ok := a.Overlays.Peek(); ok {
		base = top.View()
		if a.width > 0 && a.height > 2 {
			base = lipgloss.Place(a.width, a.height-2, lipgloss.Center, lipgloss.Center, base)
		}
	}
	if a.Status != "" {
		style := Styles.Status
		if a.StatusIsError {
			style = Styles.Error
		}
		base += "\n" + style.Render(a.Status)
	}
	if a.KeyHandler != nil && a.KeyHandler.LeaderWaiting {
		base += "\n" + RenderKeybindHelp(a.KeyHandler, a.Mode)
	}
	return base
}

func (a *appModelAdapter) currentView() View {
	if v := a.Views.Peek(); v != nil {
		return v
	}
	return a.Connect
}

func (a *appModelAdapter) setCurrentView(v View) {
	if a.Views.Len() == 0 {
		a.Views.Push(v)
		return
	}
	a.Views.Stack[a.Views.Len()-1] = v
}

func (a *appModelAdapter) setStatus(text string, isError bool) {
	a.Status = text
	a.StatusIsError = isError
}

// pushOverlay shows v on top and sizes it to the window.
func (a *appModelAdapter) pushOverlay(v View) tea.Cmd {
	if a.width > 0 {
		v, _ = v.Update(tea.WindowSizeMsg{Width: a.width, Height: a.height})
	}
	a.Overlays.Push(v)
	return v.Init()
}

