package ui

import (
	"slices"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
)

// AppMode is the screen on top of the view stack.
type AppMode int

const (
	ModeConnect AppMode = iota
	ModeDevice
)

func (m AppMode) String() string {
	switch m {
	case ModeConnect:
		return "Connect"
	case ModeDevice:
		return "Device"
	default:
		return "Unknown"
	}
}

// leader is the sequence prefix typed with the space bar.
const leader = "SPC"

type binding struct {
	seq   string
	cmd   tea.Cmd
	desc  string
	modes []AppMode // empty means every screen
}

func (b binding) visibleIn(mode AppMode) bool {
	return len(b.modes) == 0 || slices.Contains(b.modes, mode)
}

// Hint is one entry of the leader help bar.
type Hint struct {
	Key  string
	Desc string
}

// KeybindRegistry maps key sequences to commands. A sequence is either a
// single key ("ctrl+c") or the leader followed by one key ("SPC c").
// Bindings keep their registration order, which is the help bar order.
type KeybindRegistry struct {
	bindings []binding
}

// NewKeybindRegistry creates an empty registry.
func NewKeybindRegistry() *KeybindRegistry {
	return &KeybindRegistry{}
}

// Bind registers seq without a help description.
func (r *KeybindRegistry) Bind(seq string, cmd tea.Cmd) {
	r.BindWithDescForMode(seq, cmd, "", nil)
}

// BindWithDesc registers seq on every screen.
func (r *KeybindRegistry) BindWithDesc(seq string, cmd tea.Cmd, desc string) {
	r.BindWithDescForMode(seq, cmd, desc, nil)
}

// BindWithDescForMode registers seq for the given screens only. Binding a
// sequence again replaces it in place.
func (r *KeybindRegistry) BindWithDescForMode(seq string, cmd tea.Cmd, desc string, modes []AppMode) {
	b := binding{seq: normalizeSeq(seq), cmd: cmd, desc: desc, modes: modes}
	for i := range r.bindings {
		if r.bindings[i].seq == b.seq {
			r.bindings[i] = b
			return
		}
	}
	r.bindings = append(r.bindings, b)
}

// Lookup returns the command bound to seq on any screen, or nil.
func (r *KeybindRegistry) Lookup(seq string) tea.Cmd {
	if b, ok := r.find(normalizeSeq(seq)); ok {
		return b.cmd
	}
	return nil
}

// LookupForMode returns the command bound to seq when it applies to mode.
func (r *KeybindRegistry) LookupForMode(seq string, mode AppMode) tea.Cmd {
	if b, ok := r.find(normalizeSeq(seq)); ok && b.visibleIn(mode) {
		return b.cmd
	}
	return nil
}

func (r *KeybindRegistry) find(seq string) (binding, bool) {
	for _, b := range r.bindings {
		if b.seq == seq {
			return b, true
		}
	}
	return binding{}, false
}

// LeaderHints lists the keys that may follow the leader on the given screen.
func (r *KeybindRegistry) LeaderHints(mode AppMode) []Hint {
	var out []Hint
	for _, b := range r.bindings {
		k, ok := strings.CutPrefix(b.seq, leader+" ")
		if !ok || b.cmd == nil || !b.visibleIn(mode) {
			continue
		}
		desc := b.desc
		if desc == "" {
			desc = b.seq
		}
		out = append(out, Hint{Key: k, Desc: desc})
	}
	return out
}

// normalizeSeq spells the space bar as the leader: Bubble Tea reports it
// as " ", configuration may say "space".
func normalizeSeq(seq string) string {
	if seq == " " {
		return leader
	}
	parts := strings.Fields(seq)
	for i, p := range parts {
		if p == "space" {
			parts[i] = leader
		}
	}
	return strings.Join(parts, " ")
}

// KeyHandler tracks the leader state and dispatches keys to the registry.
type KeyHandler struct {
	Registry *KeybindRegistry
	// Mode filters leader bindings; the app keeps it in sync with the screen.
	Mode          AppMode
	LeaderWaiting bool
}

// NewKeyHandler creates a handler with SPC as leader.
func NewKeyHandler(reg *KeybindRegistry) *KeyHandler {
	return &KeyHandler{Registry: reg}
}

// Handle processes a key. consumed means the key must not reach the views.
func (h *KeyHandler) Handle(msg tea.KeyMsg) (consumed bool, cmd tea.Cmd) {
	s := normalizeSeq(msg.String())

	if h.LeaderWaiting {
		// Any key ends leader mode; esc or an unbound key just cancels it.
		h.LeaderWaiting = false
		if s == "esc" {
			return true, nil
		}
		return true, h.Registry.LookupForMode(leader+" "+s, h.Mode)
	}
	if s == leader {
		h.LeaderWaiting = true
		return true, nil
	}
	if c := h.Registry.LookupForMode(s, h.Mode); c != nil {
		return true, c
	}
	return false, nil
}
