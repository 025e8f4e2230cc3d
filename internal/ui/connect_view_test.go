package ui

import (
	"strings"
	"testing"

	"adbdash/internal/backend"
	"adbdash/internal/connect"

	tea "github.com/charmbracelet/bubbletea"
)

func testBackends() []backend.Backend {
	return []backend.Backend{
		&fakeBackend{serial: "R5CT", name: "Pixel 7", kind: backend.KindUSB},
		&fakeBackend{serial: "10.0.0.5:5555", name: "10.0.0.5:5555", kind: backend.KindTCP},
		&fakeBackend{serial: "wss://proxy/dev", name: "farm 12", kind: backend.KindWebSocket},
	}
}

func newSizedConnectView(st connect.State) *ConnectView {
	c := NewConnectView()
	c.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	c.SetState(st)
	return c
}

func TestConnectView_ListsBackends(t *testing.T) {
	c := newSizedConnectView(connect.State{Backends: testBackends(), Selected: "R5CT", Supported: true})

	out := c.View()
	for _, want := range []string{"Devices (3)", "[usb]", "Pixel 7", "[tcp]", "[ws]", "farm 12"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if b := c.Selected(); b == nil || b.Serial() != "R5CT" {
		t.Errorf("Selected = %v", b)
	}
}

func TestConnectView_FollowsControllerSelection(t *testing.T) {
	c := newSizedConnectView(connect.State{Backends: testBackends(), Selected: "wss://proxy/dev"})
	if b := c.Selected(); b == nil || b.Name() != "farm 12" {
		t.Errorf("Selected = %v, want farm 12", b)
	}
}

func TestConnectView_MovingSelects(t *testing.T) {
	c := newSizedConnectView(connect.State{Backends: testBackends(), Selected: "R5CT"})

	_, cmd := c.Update(keyMsg("j"))
	if cmd == nil {
		t.Fatal("expected a command after moving the cursor")
	}
	var sel SelectBackendMsg
	found := false
	for _, msg := range collect(cmd) {
		if m, ok := msg.(SelectBackendMsg); ok {
			sel, found = m, true
		}
	}
	if !found || sel.Serial != "10.0.0.5:5555" {
		t.Errorf("expected SelectBackendMsg for the TCP device, got %+v (found %v)", sel, found)
	}
}

func TestConnectView_EnterConnects(t *testing.T) {
	c := newSizedConnectView(connect.State{Backends: testBackends(), Selected: "R5CT"})

	_, cmd := c.Update(keyMsg("enter"))
	if cmd == nil {
		t.Fatal("expected ConnectMsg")
	}
	if _, ok := cmd().(ConnectMsg); !ok {
		t.Error("expected ConnectMsg")
	}
}

func TestConnectView_FrozenWhileConnected(t *testing.T) {
	c := newSizedConnectView(connect.State{Backends: testBackends(), Selected: "R5CT", Connected: "R5CT"})

	if _, cmd := c.Update(keyMsg("enter")); cmd != nil {
		t.Error("enter should do nothing while connected")
	}
	if _, cmd := c.Update(keyMsg("j")); cmd != nil {
		t.Error("moving should do nothing while connected")
	}
	out := c.View()
	if !strings.Contains(out, "Connected to Pixel 7") || !strings.Contains(out, "● connected") {
		t.Errorf("expected connected markers in view:\n%s", out)
	}
}

func TestConnectView_Empty(t *testing.T) {
	c := newSizedConnectView(connect.State{Supported: false})
	out := c.View()
	if !strings.Contains(out, "No devices") {
		t.Error("expected empty state")
	}
	if !strings.Contains(out, "USB devices unavailable") {
		t.Error("expected unsupported notice")
	}
}

// collect runs cmd and flattens batches.
func collect(cmd tea.Cmd) []tea.Msg {
	if cmd == nil {
		return nil
	}
	msg := cmd()
	if batch, ok := msg.(tea.BatchMsg); ok {
		var out []tea.Msg
		for _, c := range batch {
			out = append(out, collect(c)...)
		}
		return out
	}
	return []tea.Msg{msg}
}
