// Package trace wires OpenTelemetry for adbdash and keeps the most recent
// spans in memory so the dashboard can show what the device link is doing.
package trace

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// DefaultKeep is the number of spans kept when none is given.
const DefaultKeep = 200

// Span is a completed span.
type Span struct {
	TraceID    string
	SpanID     string
	ParentID   string
	Name       string
	StartTime  time.Time
	Duration   time.Duration
	Attributes map[string]string
	Err        string // status description when the span failed
}

// Failed reports whether the span ended with an error status.
func (s Span) Failed() bool { return s.Err != "" }

// Recorder is a span processor holding the latest completed spans.
type Recorder struct {
	mu       sync.RWMutex
	spans    []Span // ring buffer
	next     int
	full     bool
	onChange func()
}

var _ sdktrace.SpanProcessor = (*Recorder)(nil)

// NewRecorder keeps up to keep spans.
func NewRecorder(keep int) *Recorder {
	if keep <= 0 {
		keep = DefaultKeep
	}
	return &Recorder{spans: make([]Span, keep)}
}

// SetOnChange registers a callback run after every recorded span. It runs
// on the goroutine that ended the span and must not block.
func (r *Recorder) SetOnChange(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

func (r *Recorder) OnStart(context.Context, sdktrace.ReadWriteSpan) {}

func (r *Recorder) OnEnd(s sdktrace.ReadOnlySpan) {
	span := Span{
		TraceID:    s.SpanContext().TraceID().String(),
		SpanID:     s.SpanContext().SpanID().String(),
		Name:       s.Name(),
		StartTime:  s.StartTime(),
		Duration:   s.EndTime().Sub(s.StartTime()),
		Attributes: make(map[string]string, len(s.Attributes())),
	}
	if p := s.Parent(); p.IsValid() {
		span.ParentID = p.SpanID().String()
	}
	for _, kv := range s.Attributes() {
		span.Attributes[string(kv.Key)] = kv.Value.Emit()
	}
	if st := s.Status(); st.Code == codes.Error {
		span.Err = st.Description
		if span.Err == "" {
			span.Err = "error"
		}
	}

	r.mu.Lock()
	r.spans[r.next] = span
	r.next = (r.next + 1) % len(r.spans)
	if r.next == 0 {
		r.full = true
	}
	fn := r.onChange
	r.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (r *Recorder) Shutdown(context.Context) error   { return nil }
func (r *Recorder) ForceFlush(context.Context) error { return nil }

// Spans returns the kept spans, newest first.
func (r *Recorder) Spans() []Span {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := r.next
	if r.full {
		n = len(r.spans)
	}
	out := make([]Span, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.spans)) % len(r.spans)
		out = append(out, r.spans[idx])
	}
	return out
}

// Children returns the spans whose parent is spanID, oldest first.
func (r *Recorder) Children(spanID string) []Span {
	var out []Span
	spans := r.Spans()
	for i := len(spans) - 1; i >= 0; i-- {
		if spans[i].ParentID == spanID {
			out = append(out, spans[i])
		}
	}
	return out
}
