package ui

import (
	"errors"
	"fmt"

	"adbdash/internal/connect"

	tea "github.com/charmbracelet/bubbletea"
)

// Update implements tea.Model.
func (a *appModelAdapter) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		return a.handleResize(msg)
	case stateMsg:
		return a, tea.Batch(a.handleState(), a.waitState())
	case controllerEventMsg:
		return a, tea.Batch(a.handleEvent(msg.Event), a.waitEvent())
	case snapshotMsg:
		if a.Device != nil {
			a.Device.Load(a.opts.Snapshot)
		}
		return a, a.waitSnapshot()
	case spansMsg:
		a.Overlays.Broadcast(msg)
		return a, a.waitSpans()
	case packetMsg:
		a.Overlays.Broadcast(msg)
		return a, a.waitPacket()
	case promptMsg:
		modal := NewAddDeviceModal(msg.reply)
		return a, tea.Batch(a.pushOverlay(modal), a.opts.Prompt.wait())
	case ConnectMsg:
		return a.handleConnect()
	case DisconnectMsg:
		return a.handleDisconnect()
	case ConfirmDisconnectMsg:
		a.Overlays.Pop()
		return a, disconnectCmd(a.opts.Controller)
	case RefreshMsg:
		return a.handleRefresh()
	case refreshDoneMsg:
		a.Connect.SetLoading(false)
		if msg.Err != nil {
			a.setStatus("Refresh: "+msg.Err.Error(), true)
		} else {
			a.setStatus("Refreshed", false)
		}
		return a, nil
	case AddDeviceMsg:
		if a.Mode != ModeConnect {
			return a, nil
		}
		return a, requestAccessCmd(a.ctx, a.opts.Controller)
	case SelectBackendMsg:
		return a, selectCmd(a.opts.Controller, msg.Serial)
	case ShowDeviceInfoMsg:
		return a.handleShowDeviceInfo()
	case OpenShellMsg:
		return a.handleOpenShell()
	case shellOpenedMsg:
		return a.handleShellOpened(msg)
	case ShowLogMsg:
		return a, a.pushOverlay(NewLogWindow(a.opts.Packets))
	case ShowTraceMsg:
		return a, a.pushOverlay(NewTraceView(a.opts.Spans))
	case actionErrMsg:
		a.setStatus(fmt.Sprintf("%s: %v", msg.Title, msg.Err), true)
		return a, a.pushOverlay(NewErrorModal(msg.Title, msg.Err))
	case statusMsg:
		a.setStatus(msg.Text, msg.IsError)
		return a, nil
	case DismissModalMsg:
		a.dismissTop()
		return a, nil
	case tea.KeyMsg:
		return a.handleKey(msg)
	}

	// Ticks, blinks and shell output: overlays first, then the screen.
	cmds := a.Overlays.Broadcast(msg)
	v, cmd := a.currentView().Update(msg)
	a.setCurrentView(v)
	return a, tea.Batch(append(cmds, cmd)...)
}

func (a *appModelAdapter) handleResize(msg tea.WindowSizeMsg) (tea.Model, tea.Cmd) {
	a.width, a.height = msg.Width, msg.Height
	for i, v := range a.Views.Stack {
		a.Views.Stack[i], _ = v.Update(msg)
	}
	a.Overlays.Broadcast(msg)
	return a, nil
}

func (a *appModelAdapter) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if a.Overlays.CapturesInput() {
		cmd, _ := a.Overlays.UpdateTop(msg)
		return a, cmd
	}
	// Keybind system (leader key, SPC-prefixed commands)
	if a.KeyHandler != nil {
		if consumed, keyCmd := a.KeyHandler.Handle(msg); consumed {
			return a, keyCmd
		}
	}
	if cmd, ok := a.Overlays.UpdateTop(msg); ok {
		return a, cmd
	}
	// App-level navigation
	if a.Mode == ModeDevice && msg.String() == "esc" {
		a.closeDevice()
		return a, nil
	}
	v, cmd := a.currentView().Update(msg)
	a.setCurrentView(v)
	return a, cmd
}

// dismissTop pops the top overlay and releases what it holds.
func (a *appModelAdapter) dismissTop() {
	top, ok := a.Overlays.Pop()
	if !ok {
		return
	}
	switch v := top.(type) {
	case *AddDeviceModal:
		v.Cancel()
	case *ShellView:
		if v == a.shell {
			a.shell = nil
		}
		v.Close()
	case *ConnectingModal:
		a.connecting = nil
	}
}

// handleState follows the controller: backend list, connecting modal and
// closing the device screen when the session is gone.
func (a *appModelAdapter) handleState() tea.Cmd {
	st := a.opts.Controller.State()
	a.Connect.SetState(st)

	var cmd tea.Cmd
	switch {
	case st.Connecting && a.connecting == nil:
		name := "device"
		if b := st.SelectedBackend(); b != nil {
			name = b.Name()
		}
		a.connecting = NewConnectingModal(name)
		cmd = a.pushOverlay(a.connecting)
	case !st.Connecting && a.connecting != nil:
		a.Overlays.Remove(a.connecting)
		a.connecting = nil
	}
	if st.Connected == "" {
		a.closeShell()
		a.closeDevice()
	}
	return cmd
}

// backendName is the display name of the listed backend with serial.
func (a *appModelAdapter) backendName(serial string) string {
	for _, b := range a.opts.Controller.State().Backends {
		if b.Serial() == serial {
			return b.Name()
		}
	}
	return serial
}

// handleEvent surfaces controller events to the user.
func (a *appModelAdapter) handleEvent(e connect.Event) tea.Cmd {
	a.log.Debug().Str("event", e.Kind.String()).Str("serial", e.Serial).Msg("controller event")
	switch e.Kind {
	case connect.EventUnsupported:
		a.setStatus("USB devices unavailable", true)
		return a.pushOverlay(&MessageModal{
			Title: "USB devices unavailable",
			Body:  "Local devices cannot be reached. Start the adb server or add a device over TCP with SPC a.",
		})
	case connect.EventConnected:
		name := e.Serial
		if b := a.opts.Controller.ConnectedBackend(); b != nil {
			name = b.Name()
		}
		a.setStatus("Connected to "+name, false)
		return a.openDevice()
	case connect.EventDisconnected:
		if errors.Is(e.Err, connect.ErrConnectionLost) {
			a.setStatus("Lost connection to "+a.backendName(e.Serial), true)
		} else if e.Err != nil {
			a.setStatus("Disconnected: "+e.Err.Error(), true)
		} else {
			a.setStatus("Disconnected", false)
		}
		a.closeShell()
		a.closeDevice()
	case connect.EventError:
		a.setStatus("Connection failed", true)
		return a.pushOverlay(NewErrorModal("Connection failed", e.Err))
	}
	return nil
}

func (a *appModelAdapter) handleConnect() (tea.Model, tea.Cmd) {
	st := a.opts.Controller.State()
	if st.Connected != "" {
		a.setStatus("Already connected; disconnect first", true)
		return a, nil
	}
	if !st.CanConnect() {
		a.setStatus("No device selected", true)
		return a, nil
	}
	return a, connectCmd(a.ctx, a.opts.Controller)
}

func (a *appModelAdapter) handleDisconnect() (tea.Model, tea.Cmd) {
	b := a.opts.Controller.ConnectedBackend()
	if b == nil {
		a.setStatus("Not connected", true)
		return a, nil
	}
	return a, a.pushOverlay(NewDisconnectConfirmModal(b.Name(), a.shell != nil))
}

func (a *appModelAdapter) handleRefresh() (tea.Model, tea.Cmd) {
	if a.Mode == ModeDevice {
		if a.opts.Monitor == nil {
			return a, nil
		}
		a.setStatus("Refreshing device info…", false)
		return a, refreshDeviceCmd(a.ctx, a.opts.Monitor)
	}
	return a, tea.Batch(a.Connect.SetLoading(true), refreshBackendsCmd(a.ctx, a.opts.Controller))
}

func (a *appModelAdapter) handleShowDeviceInfo() (tea.Model, tea.Cmd) {
	if a.Mode == ModeDevice {
		return a, nil
	}
	if a.opts.Controller.ConnectedBackend() == nil {
		a.setStatus("Connect to a device first", true)
		return a, nil
	}
	return a, a.openDevice()
}

// openDevice pushes the device screen for the connected backend.
func (a *appModelAdapter) openDevice() tea.Cmd {
	b := a.opts.Controller.ConnectedBackend()
	if b == nil || a.Device != nil {
		return nil
	}
	a.Device = NewDeviceView(b)
	if a.width > 0 {
		a.Device.resize(a.width, a.height)
	}
	a.Device.Load(a.opts.Snapshot)
	a.Views.Push(a.Device)
	a.setMode(ModeDevice)
	return a.Device.Init()
}

// closeDevice pops back to the backend picker.
func (a *appModelAdapter) closeDevice() {
	if a.Device == nil {
		return
	}
	for a.Views.Len() > 1 {
		a.Views.Pop()
	}
	a.Device = nil
	a.setMode(ModeConnect)
}

// setMode switches the screen and the bindings that apply to it.
func (a *appModelAdapter) setMode(mode AppMode) {
	a.Mode = mode
	a.KeyHandler.Mode = mode
}

func (a *appModelAdapter) handleOpenShell() (tea.Model, tea.Cmd) {
	if a.shell != nil {
		a.setStatus("A shell is already open", true)
		return a, nil
	}
	sess := a.opts.Controller.Session()
	if sess == nil {
		a.setStatus("Connect to a device first", true)
		return a, nil
	}
	a.setStatus("Opening shell…", false)
	return a, openShellCmd(a.ctx, sess)
}

func (a *appModelAdapter) handleShellOpened(msg shellOpenedMsg) (tea.Model, tea.Cmd) {
	if msg.Err != nil {
		return a, func() tea.Msg { return actionErrMsg{Title: "Open shell", Err: msg.Err} }
	}
	if a.shell != nil || a.opts.Controller.Session() == nil {
		msg.Stream.Close()
		return a, nil
	}
	a.setStatus("", false)
	a.shell = NewShellView(msg.Stream)
	return a, a.pushOverlay(a.shell)
}

// closeShell closes the open shell and drops its overlay.
func (m *AppModel) closeShell() {
	if m.shell == nil {
		return
	}
	m.Overlays.Remove(m.shell)
	m.shell.Close()
	m.shell = nil
}
