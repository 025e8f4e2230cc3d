package ui

import (
	"strings"
	"testing"

	"adbdash/internal/adb"
	"adbdash/internal/eventlog"
)

func TestLogWindow_ShowsAndClears(t *testing.T) {
	log := eventlog.New(10, 10)
	log.Outgoing(adb.Message{Command: adb.CmdOPEN, Arg0: 1, Payload: []byte("shell:uptime\x00")})

	w := NewLogWindow(log)
	if len(w.entries) != 1 {
		t.Fatalf("entries = %d, want 1 from the existing log", len(w.entries))
	}
	if !strings.Contains(w.viewport.View(), "OPEN") {
		t.Error("expected the OPEN packet in the window")
	}

	w.Update(keyMsg("c"))
	if len(w.entries) != 0 || len(log.Entries()) != 0 {
		t.Errorf("c should clear the window and the log, got %d/%d", len(w.entries), len(log.Entries()))
	}
	if !strings.Contains(w.viewport.View(), "No packets yet") {
		t.Error("expected empty state after clearing")
	}
}

func TestLogWindow_EscDismisses(t *testing.T) {
	w := NewLogWindow(nil)
	_, cmd := w.Update(keyMsg("esc"))
	if cmd == nil {
		t.Fatal("expected dismiss command")
	}
	if _, ok := cmd().(DismissModalMsg); !ok {
		t.Error("expected DismissModalMsg")
	}
}
