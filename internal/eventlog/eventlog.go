// Package eventlog records ADB packets for the log window.
package eventlog

import (
	"bytes"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"adbdash/internal/adb"
)

// Direction of a packet relative to the host.
type Direction string

const (
	In  Direction = "in"
	Out Direction = "out"
)

// DefaultCapacity is the ring size used when none is given.
const DefaultCapacity = 500

// previewLen caps the printable payload excerpt kept per entry.
const previewLen = 48

// Entry is one logged packet.
type Entry struct {
	Time      time.Time
	Direction Direction
	Command   string
	Arg0      uint32
	Arg1      uint32
	Size      int
	Preview   string
}

func (e Entry) String() string {
	arrow := "<-"
	if e.Direction == Out {
		arrow = "->"
	}
	s := fmt.Sprintf("%s %s %s %d %d (%d bytes)", e.Time.Format("15:04:05.000"), arrow, e.Command, e.Arg0, e.Arg1, e.Size)
	if e.Preview != "" {
		s += " " + e.Preview
	}
	return s
}

// Log keeps the most recent entries and forwards every new one to C. It
// implements adb.PacketLogger and is safe for concurrent use.
type Log struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
	dropped int

	ch  chan Entry
	now func() time.Time
}

var _ adb.PacketLogger = (*Log)(nil)

// New creates a log holding up to capacity entries. buffer sizes the
// notification channel; entries are dropped from the channel, never from
// the ring, when the reader falls behind.
func New(capacity, buffer int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		entries: make([]Entry, capacity),
		ch:      make(chan Entry, buffer),
		now:     time.Now,
	}
}

// C delivers new entries.
func (l *Log) C() <-chan Entry { return l.ch }

// Incoming records a packet received from the device.
func (l *Log) Incoming(m adb.Message) { l.add(In, m) }

// Outgoing records a packet sent to the device.
func (l *Log) Outgoing(m adb.Message) { l.add(Out, m) }

func (l *Log) add(dir Direction, m adb.Message) {
	e := Entry{
		Time:      l.now(),
		Direction: dir,
		Command:   adb.CommandName(m.Command),
		Arg0:      m.Arg0,
		Arg1:      m.Arg1,
		Size:      len(m.Payload),
		Preview:   preview(m.Payload),
	}

	l.mu.Lock()
	l.entries[l.next] = e
	l.next = (l.next + 1) % len(l.entries)
	if l.next == 0 {
		l.full = true
	}
	l.mu.Unlock()

	select {
	case l.ch <- e:
	default:
		l.mu.Lock()
		l.dropped++
		l.mu.Unlock()
	}
}

// Entries returns the retained entries, oldest first.
func (l *Log) Entries() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.full {
		return append([]Entry(nil), l.entries[:l.next]...)
	}
	out := make([]Entry, 0, len(l.entries))
	out = append(out, l.entries[l.next:]...)
	return append(out, l.entries[:l.next]...)
}

// Dropped counts entries that did not fit in the channel.
func (l *Log) Dropped() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.dropped
}

// Clear empties the ring.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	clear(l.entries)
	l.next = 0
	l.full = false
}

// preview keeps the leading printable text of a payload; binary payloads
// become a hex excerpt.
func preview(p []byte) string {
	if len(p) == 0 {
		return ""
	}
	n := min(len(p), previewLen)
	// service names and banners end in NUL
	text := bytes.TrimRight(p[:n], "\x00")
	if len(text) > 0 && utf8.Valid(text) && printable(text) {
		s := string(text)
		if n < len(p) {
			s += "…"
		}
		return fmt.Sprintf("%q", s)
	}
	hexLen := min(n, 16)
	s := fmt.Sprintf("% x", p[:hexLen])
	if hexLen < len(p) {
		s += " …"
	}
	return s
}

func printable(p []byte) bool {
	for _, b := range p {
		if b < 0x20 && b != '\n' && b != '\r' && b != '\t' || b == 0x7f {
			return false
		}
	}
	return true
}
