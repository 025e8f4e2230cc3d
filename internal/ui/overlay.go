package ui

import tea "github.com/charmbracelet/bubbletea"

// OverlayStack holds the modals and popups drawn over the current screen.
// Only the top one is drawn and receives keys; other messages reach all of
// them so a covered shell keeps reading and a covered spinner keeps turning.
type OverlayStack struct {
	views []View
}

// inputCapturer is implemented by overlays that want every key, including
// the leader.
type inputCapturer interface {
	CapturesInput() bool
}

// Push puts v on top.
func (s *OverlayStack) Push(v View) {
	s.views = append(s.views, v)
}

// Pop removes and returns the top overlay.
func (s *OverlayStack) Pop() (View, bool) {
	v, ok := s.Peek()
	if ok {
		s.views[len(s.views)-1] = nil
		s.views = s.views[:len(s.views)-1]
	}
	return v, ok
}

// Peek returns the top overlay.
func (s *OverlayStack) Peek() (View, bool) {
	if len(s.views) == 0 {
		return nil, false
	}
	return s.views[len(s.views)-1], true
}

// Len returns the number of overlays.
func (s *OverlayStack) Len() int { return len(s.views) }

// Remove drops v wherever it sits and reports whether it was there.
func (s *OverlayStack) Remove(v View) bool {
	kept := s.views[:0]
	for _, o := range s.views {
		if o != v {
			kept = append(kept, o)
		}
	}
	removed := len(kept) != len(s.views)
	clear(s.views[len(kept):])
	s.views = kept
	return removed
}

// CapturesInput reports whether the top overlay takes every key.
func (s *OverlayStack) CapturesInput() bool {
	top, ok := s.Peek()
	if !ok {
		return false
	}
	c, ok := top.(inputCapturer)
	return ok && c.CapturesInput()
}

// UpdateTop passes msg to the top overlay. ok is false when there is none.
func (s *OverlayStack) UpdateTop(msg tea.Msg) (cmd tea.Cmd, ok bool) {
	if len(s.views) == 0 {
		return nil, false
	}
	i := len(s.views) - 1
	s.views[i], cmd = s.views[i].Update(msg)
	return cmd, true
}

// Broadcast passes msg to every overlay, bottom first.
func (s *OverlayStack) Broadcast(msg tea.Msg) []tea.Cmd {
	cmds := make([]tea.Cmd, 0, len(s.views))
	for i, v := range s.views {
		var cmd tea.Cmd
		s.views[i], cmd = v.Update(msg)
		cmds = append(cmds, cmd)
	}
	return cmds
}
