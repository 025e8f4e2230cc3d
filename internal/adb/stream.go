package adb

import (
	"errors"
	"sync"
)

// streamOps is the transport-specific half of a Stream.
type streamOps interface {
	// write sends one chunk and blocks until the peer accepted it.
	write(p []byte) error
	// ack tells the peer the consumer took a chunk (flow control).
	ack()
	// close notifies the peer that the local side is done.
	close() error
}

// Stream is a duplex byte channel opened on a device. Incoming chunks are
// pushed on Data() in order; the channel closes when the remote side
// closes or the session goes away.
type Stream struct {
	ops      streamOps
	maxChunk int

	in     chan []byte
	out    chan []byte
	local  chan struct{} // closed by Close
	remote chan struct{} // closed by finish
	done   chan struct{} // closed once delivery ended

	closeOnce  sync.Once
	finishOnce sync.Once

	// writeMu keeps one WRTE in flight per stream.
	writeMu sync.Mutex

	mu      sync.Mutex
	onClose func()
	err     error
}

func newStream(ops streamOps, maxChunk int, queue int) *Stream {
	if maxChunk <= 0 {
		maxChunk = int(DefaultMaxPayload)
	}
	s := &Stream{
		ops:      ops,
		maxChunk: maxChunk,
		in:       make(chan []byte, queue),
		out:      make(chan []byte),
		local:    make(chan struct{}),
		remote:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go s.pump()
	return s
}

func (s *Stream) pump() {
	defer func() {
		close(s.done)
		close(s.out)
		s.fireClose()
	}()
	for chunk := range s.in {
		select {
		case s.out <- chunk:
			s.ops.ack()
		case <-s.local:
			// closed locally; remaining data is discarded
		}
	}
}

// offer queues a chunk without blocking. It reports false when the peer
// sent more than flow control allows.
func (s *Stream) offer(chunk []byte) bool {
	select {
	case s.in <- chunk:
		return true
	default:
		return false
	}
}

// deliver queues a chunk, blocking until there is room or the stream was
// closed locally.
func (s *Stream) deliver(chunk []byte) bool {
	select {
	case s.in <- chunk:
		return true
	case <-s.local:
		return false
	}
}

// finish ends the inbound side. err is nil for an orderly remote close.
// Only the producer goroutine may call finish.
func (s *Stream) finish(err error) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.remote)
		close(s.in)
	})
}

func (s *Stream) fireClose() {
	s.mu.Lock()
	fn := s.onClose
	s.onClose = nil
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// Data returns the channel of incoming chunks.
func (s *Stream) Data() <-chan []byte {
	return s.out
}

// Done is closed after the last chunk was delivered (or discarded), just
// before Data() closes.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err reports why the stream ended: nil for a remote close, ErrDisposed
// when the session dropped underneath it.
func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// OnClose registers the single close handler. It runs once, after Data()
// is closed. Registering on an already-closed stream runs fn immediately.
func (s *Stream) OnClose(fn func()) error {
	s.mu.Lock()
	if s.onClose != nil {
		s.mu.Unlock()
		return errors.New("adb: close handler already registered")
	}
	select {
	case <-s.done:
		s.mu.Unlock()
		fn()
		return nil
	default:
	}
	s.onClose = fn
	s.mu.Unlock()
	return nil
}

// Write sends p to the device, split to the negotiated payload size.
// Concurrent writes are serialized; each chunk waits for the device's OKAY.
func (s *Stream) Write(p []byte) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	written := 0
	for len(p) > 0 {
		select {
		case <-s.local:
			return written, ErrStreamClosed
		case <-s.remote:
			return written, ErrStreamClosed
		default:
		}
		n := len(p)
		if n > s.maxChunk {
			n = s.maxChunk
		}
		chunk := make([]byte, n)
		copy(chunk, p[:n])
		if err := s.ops.write(chunk); err != nil {
			return written, err
		}
		written += n
		p = p[n:]
	}
	return written, nil
}

// Close closes the local side. Safe to call more than once.
func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.local)
		err = s.ops.close()
	})
	return err
}
