package ui

import (
	"fmt"
	"strings"
	"time"

	"adbdash/internal/trace"
	"adbdash/internal/ui/textutil"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// TraceView displays recent spans as an ASCII tree, newest operation first.
type TraceView struct {
	recorder *trace.Recorder
	spans    []trace.Span
	viewport viewport.Model
	width    int
	height   int
}

// Ensure TraceView implements View
var _ View = (*TraceView)(nil)

// NewTraceView creates a trace view over rec, which may be nil.
func NewTraceView(rec *trace.Recorder) *TraceView {
	vp := viewport.New(80, 20)
	vp.Style = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color(ColorHighlight)).
		Padding(0, 1)
	v := &TraceView{
		recorder: rec,
		viewport: vp,
		width:    80,
		height:   20,
	}
	v.Reload()
	return v
}

// Reload re-reads the recorder.
func (v *TraceView) Reload() {
	v.spans = v.recorder.Spans()
	v.refreshContent()
}

// Init implements View
func (v *TraceView) Init() tea.Cmd {
	return v.viewport.Init()
}

// Update implements View
func (v *TraceView) Update(msg tea.Msg) (View, tea.Cmd) {
	switch msg := msg.(type) {
	case spansMsg:
		v.Reload()
		return v, nil
	case tea.WindowSizeMsg:
		v.SetSize(msg.Width-4, msg.Height/2+4)
		return v, nil
	case tea.KeyMsg:
		// Handle viewport scrolling keys
		switch msg.String() {
		case "esc":
			return v, dismiss
		case "j", "down":
			v.viewport.LineDown(1)
			return v, nil
		case "k", "up":
			v.viewport.LineUp(1)
			return v, nil
		case "ctrl+d", "pgdown":
			v.viewport.PageDown()
			return v, nil
		case "ctrl+u", "pgup":
			v.viewport.PageUp()
			return v, nil
		case "g", "home":
			v.viewport.GotoTop()
			return v, nil
		case "G", "end":
			v.viewport.GotoBottom()
			return v, nil
		}
	}

	var cmd tea.Cmd
	v.viewport, cmd = v.viewport.Update(msg)
	return v, cmd
}

// View implements View
func (v *TraceView) View() string {
	header := Styles.Title.Render(fmt.Sprintf("Traces (%d spans)", len(v.spans))) + Styles.Hint.Render("  j/k: scroll  Esc: close")
	return header + "\n" + v.viewport.View()
}

// SetSize sets the size of the trace view
func (v *TraceView) SetSize(width, height int) {
	if width < 40 {
		width = 40
	}
	if height < 12 {
		height = 12
	}
	v.width = width
	v.height = height
	v.viewport.Width = width
	v.viewport.Height = height
	v.refreshContent()
}

// refreshContent rebuilds the viewport content from the kept spans.
func (v *TraceView) refreshContent() {
	if len(v.spans) == 0 {
		v.viewport.SetContent(Styles.Muted.Render("  (no spans yet)"))
		return
	}
	v.viewport.SetContent(strings.Join(v.renderTree(), "\n"))
}

// renderTree lays out spans under their parents. Spans whose parent was
// evicted from the ring are shown as roots.
func (v *TraceView) renderTree() []string {
	known := make(map[string]bool, len(v.spans))
	for _, s := range v.spans {
		known[s.SpanID] = true
	}
	children := make(map[string][]trace.Span)
	var roots []trace.Span
	// spans are newest first; walk backwards so children end up oldest first
	for i := len(v.spans) - 1; i >= 0; i-- {
		s := v.spans[i]
		if s.ParentID != "" && known[s.ParentID] {
			children[s.ParentID] = append(children[s.ParentID], s)
		}
	}
	for _, s := range v.spans {
		if s.ParentID == "" || !known[s.ParentID] {
			roots = append(roots, s)
		}
	}

	var lines []string
	for i, root := range roots {
		if i > 0 {
			lines = append(lines, "")
		}
		lines = append(lines, Styles.Title.Render(root.Name)+" "+v.spanSuffix(root)+
			Styles.Muted.Render("  "+root.StartTime.Format("15:04:05")+" "+shortTraceID(root.TraceID)))
		lines = append(lines, v.renderChildren(root.SpanID, children, "")...)
	}
	return lines
}

// renderChildren recursively renders the children of spanID as a tree.
func (v *TraceView) renderChildren(spanID string, children map[string][]trace.Span, prefix string) []string {
	var lines []string
	kids := children[spanID]
	for i, span := range kids {
		isLast := i == len(kids)-1
		connector := "├─"
		childPrefix := prefix + "│  "
		if isLast {
			connector = "└─"
			childPrefix = prefix + "   "
		}

		name := span.Name
		if name == "" {
			name = "(unnamed)"
		}
		// reserve space for status and duration
		name = textutil.Truncate(name, max(v.width-textutil.Width(prefix)-30, 20))

		lines = append(lines, prefix+connector+" "+name+" "+v.spanSuffix(span))
		lines = append(lines, v.renderChildren(span.SpanID, children, childPrefix)...)
	}
	return lines
}

// spanSuffix renders duration and status.
func (v *TraceView) spanSuffix(s trace.Span) string {
	out := Styles.Muted.Render(formatSpanDuration(s.Duration))
	if s.Failed() {
		return out + " " + Styles.Error.Render("✗ "+s.Err)
	}
	return out + " " + Styles.OK.Render("✓")
}

// formatSpanDuration formats span durations, which are mostly sub-second.
func formatSpanDuration(d time.Duration) string {
	switch {
	case d < time.Millisecond:
		return fmt.Sprintf("%dµs", d.Microseconds())
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	d = d.Round(time.Second)
	return fmt.Sprintf("%dm%ds", d/time.Minute, (d%time.Minute)/time.Second)
}

// shortTraceID returns a shortened version of the trace ID for display
func shortTraceID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
