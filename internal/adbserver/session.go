package adbserver

import (
	"context"
	"fmt"
	"net"
	"slices"
	"sync"

	"adbdash/internal/adb"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Session is a device reached through the adb server. Every command opens
// its own socket; the session itself only watches the device list so it
// can report the device going away.
type Session struct {
	client   *Client
	serial   string
	features []string
	log      zerolog.Logger

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	handlers map[int]func()
	nextSub  int
	closed   bool

	ended       chan struct{}
	torn        chan struct{} // closed once every socket is closed
	cancelTrack context.CancelFunc
	trackDone   chan struct{}
}

// Connect checks that serial is online and starts watching it.
func (c *Client) Connect(ctx context.Context, serial string) (*Session, error) {
	ctx, span := tracer.Start(ctx, "adbserver.connect", oteltrace.WithAttributes(
		attribute.String("adb.serial", serial),
	))
	defer span.End()

	devices, err := c.Devices(ctx)
	if err != nil {
		span.RecordError(err)
		return nil, &adb.ConnectionError{Target: serial, Err: err}
	}
	idx := slices.IndexFunc(devices, func(d DeviceInfo) bool { return d.Serial == serial })
	if idx < 0 {
		return nil, &adb.ConnectionError{Target: serial, Err: fmt.Errorf("device not attached")}
	}
	if !devices[idx].Online() {
		return nil, &adb.ConnectionError{Target: serial, Err: fmt.Errorf("device is %s", devices[idx].State)}
	}
	features, err := c.Features(ctx, serial)
	if err != nil {
		span.RecordError(err)
		return nil, &adb.ConnectionError{Target: serial, Err: err}
	}

	trackCtx, cancel := context.WithCancel(context.Background())
	s := &Session{
		client:      c,
		serial:      serial,
		features:    features,
		log:         c.log.With().Str("serial", serial).Logger(),
		conns:       make(map[net.Conn]struct{}),
		handlers:    make(map[int]func()),
		ended:       make(chan struct{}),
		torn:        make(chan struct{}),
		cancelTrack: cancel,
		trackDone:   make(chan struct{}),
	}
	go s.watch(trackCtx)
	return s, nil
}

func (s *Session) watch(ctx context.Context) {
	err := s.client.Track(ctx, func(devices []DeviceInfo) {
		present := slices.ContainsFunc(devices, func(d DeviceInfo) bool {
			return d.Serial == s.serial && d.Online()
		})
		if !present {
			s.log.Info().Msg("device left the adb server")
			s.cancelTrack()
		}
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("lost the adb server")
	}
	// handlers may call Dispose, which waits on trackDone
	close(s.trackDone)
	s.end()
}

// end tears the session down once and fires the disconnect handlers.
func (s *Session) end() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	conns := s.conns
	handlers := s.handlers
	s.conns = map[net.Conn]struct{}{}
	s.handlers = map[int]func(){}
	s.mu.Unlock()

	close(s.ended)
	s.cancelTrack()
	for c := range conns {
		c.Close()
	}
	close(s.torn)
	for _, fn := range handlers {
		fn()
	}
}

// Serial returns the device serial.
func (s *Session) Serial() string { return s.serial }

// Features returns the features the server negotiated with the device.
func (s *Session) Features() []string { return s.features }

// OpenService opens service on the device over a new server socket.
func (s *Session) OpenService(ctx context.Context, service string) (*adb.Stream, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, adb.ErrDisposed
	}

	conn, err := s.client.openService(ctx, s.serial, service)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.Close()
		return nil, adb.ErrDisposed
	}
	s.conns[conn] = struct{}{}
	s.mu.Unlock()

	st := adb.NewConnStream(conn, s.ended)
	_ = st.OnClose(func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	})
	return st, nil
}

// OpenStream opens a long-lived shell command.
func (s *Session) OpenStream(ctx context.Context, cmd string) (*adb.Stream, error) {
	return s.OpenService(ctx, "shell:"+cmd)
}

// Exec runs cmd and returns its output.
func (s *Session) Exec(ctx context.Context, cmd string) (string, error) {
	return adb.RunShell(ctx, s.serial, s.OpenService, cmd, slices.Contains(s.features, "shell_v2"))
}

// OnDisconnected registers fn to run once when the device leaves the
// server's list, the server goes away, or the session is disposed.
func (s *Session) OnDisconnected(fn func()) (unsubscribe func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		fn()
		return func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.handlers[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.handlers, id)
		s.mu.Unlock()
	}
}

// Dispose closes every open socket and stops watching the device.
// Safe to call more than once and on a nil session.
func (s *Session) Dispose() error {
	if s == nil {
		return nil
	}
	s.cancelTrack()
	<-s.trackDone
	s.end()
	<-s.torn
	return nil
}
