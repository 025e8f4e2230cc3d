package ui

import (
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
)

func TestKeybindRegistry_BindLookup(t *testing.T) {
	reg := NewKeybindRegistry()
	reg.Bind("q", tea.Quit)
	reg.Bind("SPC q", tea.Quit)
	reg.Bind("j", nil)

	if reg.Lookup("q") == nil {
		t.Error("expected q to be bound")
	}
	if reg.Lookup("SPC q") == nil {
		t.Error("expected SPC q to be bound")
	}
	if reg.Lookup("unknown") != nil {
		t.Error("expected unknown to be unbound")
	}
}

func TestKeyHandler_LeaderKey(t *testing.T) {
	reg := NewKeybindRegistry()
	var executed bool
	reg.Bind("SPC x", func() tea.Msg {
		executed = true
		return nil
	})
	h := NewKeyHandler(reg)

	// Press space -> leader waiting (Bubble Tea reports space as " ")
	consumed, cmd := h.Handle(keyMsg(" "))
	if !consumed || cmd != nil {
		t.Errorf("space: consumed=%v cmd=%v", consumed, cmd)
	}
	if !h.LeaderWaiting {
		t.Error("expected leader waiting after space")
	}

	// Press x -> execute SPC x
	consumed, cmd = h.Handle(keyMsg("x"))
	if !consumed {
		t.Errorf("x: expected consumed")
	}
	if h.LeaderWaiting {
		t.Error("leader should not be waiting after completing sequence")
	}
	if cmd != nil {
		cmd()
		if !executed {
			t.Error("expected command to execute")
		}
	}
}

func TestKeyHandler_EscCancelsLeader(t *testing.T) {
	reg := NewKeybindRegistry()
	reg.Bind("SPC x", tea.Quit)
	h := NewKeyHandler(reg)

	h.Handle(keyMsg(" "))
	if !h.LeaderWaiting {
		t.Fatal("expected leader waiting")
	}

	consumed, cmd := h.Handle(keyMsg("esc"))
	if !consumed || cmd != nil {
		t.Errorf("esc: consumed=%v cmd=%v", consumed, cmd)
	}
	if h.LeaderWaiting {
		t.Error("esc should cancel leader mode")
	}
}

func TestKeyHandler_SingleKey(t *testing.T) {
	reg := NewKeybindRegistry()
	reg.Bind("q", tea.Quit)
	h := NewKeyHandler(reg)

	consumed, cmd := h.Handle(keyMsg("q"))
	if !consumed || cmd == nil {
		t.Errorf("q: consumed=%v cmd=%v", consumed, cmd)
	}
}

func TestKeyHandler_UnboundFallsThrough(t *testing.T) {
	reg := NewKeybindRegistry()
	reg.Bind("q", tea.Quit)
	h := NewKeyHandler(reg)

	consumed, _ := h.Handle(keyMsg("j"))
	if consumed {
		t.Error("unbound j should not be consumed")
	}
}

func TestAppRegistry_ModeFilter(t *testing.T) {
	reg := newRegistry()

	connectHints := hintMap(reg.LeaderHints(ModeConnect))
	for _, k := range []string{"c", "d", "r", "a", "i", "s", "l", "t", "q"} {
		if _, ok := connectHints[k]; !ok {
			t.Errorf("connect screen: missing SPC %s", k)
		}
	}
	deviceHints := hintMap(reg.LeaderHints(ModeDevice))
	for _, k := range []string{"a", "i"} {
		if _, ok := deviceHints[k]; ok {
			t.Errorf("device screen: SPC %s should be hidden", k)
		}
	}
	if deviceHints["s"] != "Shell" {
		t.Errorf("SPC s = %q, want Shell", deviceHints["s"])
	}
}

func TestLeaderHints_RegistrationOrder(t *testing.T) {
	hints := newRegistry().LeaderHints(ModeConnect)
	if len(hints) == 0 || hints[0].Key != "q" {
		t.Fatalf("expected quit first, got %+v", hints)
	}
	if hints[1].Desc != "Connect" {
		t.Errorf("second hint = %+v, want Connect", hints[1])
	}
}

func TestKeyHandler_HiddenBindingIgnored(t *testing.T) {
	h := NewKeyHandler(newRegistry())
	h.Mode = ModeDevice
	h.Handle(keyMsg(" "))
	consumed, cmd := h.Handle(keyMsg("a"))
	if !consumed || cmd != nil {
		t.Errorf("SPC a on device screen: consumed=%v cmd=%v", consumed, cmd)
	}
	if h.LeaderWaiting {
		t.Error("leader should be cancelled")
	}
}

func TestKeyHandler_RebindReplaces(t *testing.T) {
	reg := NewKeybindRegistry()
	reg.BindWithDesc("SPC x", tea.Quit, "Old")
	reg.BindWithDesc("space x", tea.Quit, "New")
	hints := reg.LeaderHints(ModeConnect)
	if len(hints) != 1 || hints[0].Desc != "New" {
		t.Errorf("expected one replaced hint, got %+v", hints)
	}
}

func hintMap(hints []Hint) map[string]string {
	out := make(map[string]string, len(hints))
	for _, h := range hints {
		out[h.Key] = h.Desc
	}
	return out
}

func TestKeyHandler_CtrlCQuits(t *testing.T) {
	h := NewKeyHandler(newRegistry())
	consumed, cmd := h.Handle(keyMsg("ctrl+c"))
	if !consumed || cmd == nil {
		t.Fatalf("ctrl+c: consumed=%v cmd=%v", consumed, cmd)
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected QuitMsg")
	}
}

func TestRenderKeybindHelp(t *testing.T) {
	h := NewKeyHandler(newRegistry())
	h.Handle(keyMsg(" "))
	out := RenderKeybindHelp(h, ModeConnect)
	for _, want := range []string{"SPC", "Connect", "Add device", "cancel"} {
		if !strings.Contains(out, want) {
			t.Errorf("help missing %q:\n%s", want, out)
		}
	}
}

// keyMsg creates a tea.KeyMsg for testing. Bubble Tea uses KeyType and Runes.
// KeySpace.String() returns " ", KeyEsc returns "esc", etc.
func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "space", " ":
		return tea.KeyMsg{Type: tea.KeySpace}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "tab":
		return tea.KeyMsg{Type: tea.KeyTab}
	case "shift+tab":
		return tea.KeyMsg{Type: tea.KeyShiftTab}
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case "q":
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'q'}}
	case "x":
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'x'}}
	case "j":
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{'j'}}
	default:
		return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
	}
}
