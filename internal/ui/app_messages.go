package ui

import (
	"adbdash/internal/adb"
	"adbdash/internal/connect"
	"adbdash/internal/eventlog"

	tea "github.com/charmbracelet/bubbletea"
)

// ConnectMsg connects to the selected backend (SPC c or Enter).
type ConnectMsg struct{}

// DisconnectMsg asks for confirmation before closing the session (SPC d).
type DisconnectMsg struct{}

// ConfirmDisconnectMsg closes the session after the user confirmed.
type ConfirmDisconnectMsg struct{}

// RefreshMsg refreshes the backend lists, or the device info on the device screen (SPC r).
type RefreshMsg struct{}

// AddDeviceMsg asks the user for a new TCP device (SPC a).
type AddDeviceMsg struct{}

// ShowDeviceInfoMsg opens the device info screen (SPC i).
type ShowDeviceInfoMsg struct{}

// OpenShellMsg opens an interactive shell on the device (SPC s).
type OpenShellMsg struct{}

// ShowLogMsg opens the packet log (SPC l).
type ShowLogMsg struct{}

// ShowTraceMsg opens the recent spans (SPC t).
type ShowTraceMsg struct{}

// SelectBackendMsg is sent when the cursor of the backend list moves.
type SelectBackendMsg struct {
	Serial string
}

// DismissModalMsg is sent when user cancels a modal (Esc).
type DismissModalMsg struct{}

func dismiss() tea.Msg { return DismissModalMsg{} }

// stateMsg signals that the controller state changed. Handlers read the
// state fresh so a late signal never rolls the screen back.
type stateMsg struct{}

// refreshDoneMsg ends a manual refresh.
type refreshDoneMsg struct {
	Err error
}

// controllerEventMsg carries a user-facing controller event.
type controllerEventMsg struct {
	Event connect.Event
}

// snapshotMsg signals that the telemetry snapshot changed.
type snapshotMsg struct{}

// spansMsg signals that new spans were recorded.
type spansMsg struct{}

// packetMsg carries one logged ADB packet.
type packetMsg struct {
	Entry eventlog.Entry
}

// promptMsg asks the app to show the add-device prompt; the answer goes to reply.
type promptMsg struct {
	reply chan<- promptAnswer
}

// actionErrMsg reports a failed user action in an error modal.
type actionErrMsg struct {
	Title string
	Err   error
}

// statusMsg replaces the status line.
type statusMsg struct {
	Text    string
	IsError bool
}

// shellOpenedMsg is sent when the interactive shell stream is ready.
type shellOpenedMsg struct {
	Stream *adb.Stream
	Err    error
}
