package ui

import (
	"strings"
	"testing"
)

func TestConfirmModal_EnterDefaultsToCancel(t *testing.T) {
	m := NewDisconnectConfirmModal("Pixel 7", false)
	_, cmd := m.Update(keyMsg("enter"))
	if cmd == nil {
		t.Fatal("expected a command")
	}
	if _, ok := cmd().(DismissModalMsg); !ok {
		t.Error("enter on Cancel should dismiss")
	}
}

func TestConfirmModal_MoveThenEnterConfirms(t *testing.T) {
	m := NewDisconnectConfirmModal("Pixel 7", false)
	m.Update(keyMsg("tab"))
	_, cmd := m.Update(keyMsg("enter"))
	if cmd == nil {
		t.Fatal("expected a command")
	}
	if _, ok := cmd().(ConfirmDisconnectMsg); !ok {
		t.Error("enter on Disconnect should confirm")
	}
}

func TestConfirmModal_ShellWarning(t *testing.T) {
	out := NewDisconnectConfirmModal("Pixel 7", true).View()
	for _, want := range []string{"Disconnect?", "Device: Pixel 7", "open shell will be closed", "[ Cancel ]"} {
		if !strings.Contains(out, want) {
			t.Errorf("view missing %q", want)
		}
	}
	if strings.Contains(NewDisconnectConfirmModal("Pixel 7", false).View(), "shell") {
		t.Error("no shell warning expected")
	}
}
