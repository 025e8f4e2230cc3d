package ui

import (
	"context"
	"errors"

	"adbdash/internal/backend"
	"adbdash/internal/connect"

	tea "github.com/charmbracelet/bubbletea"
)

// waitState delivers a stateMsg after the controller state changed.
func (a *appModelAdapter) waitState() tea.Cmd {
	return a.waitSignal(a.stateCh, stateMsg{})
}

// waitSnapshot delivers a snapshotMsg after the monitor updated the snapshot.
func (a *appModelAdapter) waitSnapshot() tea.Cmd {
	return a.waitSignal(a.snapshotCh, snapshotMsg{})
}

// waitSpans delivers a spansMsg after a span ended.
func (a *appModelAdapter) waitSpans() tea.Cmd {
	return a.waitSignal(a.spansCh, spansMsg{})
}

func (a *appModelAdapter) waitSignal(ch <-chan struct{}, msg tea.Msg) tea.Cmd {
	ctx := a.ctx
	return func() tea.Msg {
		select {
		case <-ch:
			return msg
		case <-ctx.Done():
			return nil
		}
	}
}

// waitEvent delivers the next controller event.
func (a *appModelAdapter) waitEvent() tea.Cmd {
	ctx, events := a.ctx, a.opts.Controller.Events()
	return func() tea.Msg {
		select {
		case e, ok := <-events:
			if !ok {
				return nil
			}
			return controllerEventMsg{Event: e}
		case <-ctx.Done():
			return nil
		}
	}
}

// waitPacket delivers the next logged packet.
func (a *appModelAdapter) waitPacket() tea.Cmd {
	ctx, packets := a.ctx, a.opts.Packets.C()
	return func() tea.Msg {
		select {
		case e := <-packets:
			return packetMsg{Entry: e}
		case <-ctx.Done():
			return nil
		}
	}
}

// connectCmd connects to the selected backend. Transport failures arrive
// as controller events; only refusals are reported here.
func connectCmd(ctx context.Context, ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		err := ctrl.Connect(ctx)
		switch {
		case errors.Is(err, connect.ErrNoBackend),
			errors.Is(err, connect.ErrAlreadyConnected),
			errors.Is(err, connect.ErrBusy):
			return statusMsg{Text: "Connect: " + err.Error(), IsError: true}
		}
		return nil
	}
}

// disconnectCmd disposes the session.
func disconnectCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		if err := ctrl.Disconnect(); err != nil && !errors.Is(err, connect.ErrNotConnected) {
			return actionErrMsg{Title: "Disconnect", Err: err}
		}
		return nil
	}
}

// selectCmd moves the controller selection to serial.
func selectCmd(ctrl Controller, serial string) tea.Cmd {
	return func() tea.Msg {
		if err := ctrl.Select(serial); err != nil {
			return statusMsg{Text: "Select: " + err.Error(), IsError: true}
		}
		return nil
	}
}

// refreshBackendsCmd refreshes the USB and remote lists.
func refreshBackendsCmd(ctx context.Context, ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		return refreshDoneMsg{Err: errors.Join(ctrl.RefreshUSB(ctx), ctrl.RefreshRemote(ctx))}
	}
}

// refreshDeviceCmd re-collects system information and packages.
func refreshDeviceCmd(ctx context.Context, r Refresher) tea.Cmd {
	return func() tea.Msg {
		return refreshDoneMsg{Err: r.Refresh(ctx)}
	}
}

// requestAccessCmd asks for a new device through the requester; with the
// DevicePrompt this shows the add-device modal.
func requestAccessCmd(ctx context.Context, ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		err := ctrl.RequestAccess(ctx)
		if err == nil || errors.Is(err, ErrPromptClosed) || errors.Is(err, context.Canceled) {
			return nil
		}
		return actionErrMsg{Title: "Add device", Err: err}
	}
}

// openShellCmd opens an interactive shell stream on sess.
func openShellCmd(ctx context.Context, sess backend.Session) tea.Cmd {
	return func() tea.Msg {
		st, err := sess.OpenStream(ctx, "")
		return shellOpenedMsg{Stream: st, Err: err}
	}
}
