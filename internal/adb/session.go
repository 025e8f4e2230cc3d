package adb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("adbdash/adb")

// Transport carries the raw ADB byte stream.
type Transport = io.ReadWriteCloser

// PacketLogger observes every packet crossing a session.
type PacketLogger interface {
	Incoming(m Message)
	Outgoing(m Message)
}

// Options configures Connect.
type Options struct {
	// Target names the device in errors and spans (serial, address or URL).
	Target string
	Keys   *KeyStore
	// Logger, when set, sees every packet.
	Logger PacketLogger
	Log    zerolog.Logger
}

// Session is one authenticated connection to a device.
type Session struct {
	target     string
	transport  Transport
	banner     Banner
	version    uint32
	maxPayload int
	packets    PacketLogger
	log        zerolog.Logger

	writeMu sync.Mutex

	mu       sync.Mutex
	nextID   uint32
	streams  map[uint32]*deviceStream
	opening  map[uint32]*pendingOpen
	handlers map[int]func()
	nextSub  int
	closed   bool

	closedCh    chan struct{}
	readerDone  chan struct{}
	disposeOnce sync.Once
}

// pendingOpen is a stream waiting for the device to answer OPEN. The
// reader promotes it into streams on OKAY, before any WRTE can arrive.
type pendingOpen struct {
	ds   *deviceStream
	done chan error
}

// Connect performs the CNXN/AUTH handshake over t. On any failure t is
// closed and a *ConnectionError is returned.
func Connect(ctx context.Context, t Transport, opts Options) (*Session, error) {
	ctx, span := tracer.Start(ctx, "adb.connect", oteltrace.WithAttributes(
		attribute.String("adb.target", opts.Target),
	))
	defer span.End()

	fail := func(err error) (*Session, error) {
		t.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, &ConnectionError{Target: opts.Target, Err: err}
	}

	// a blocked read is only interrupted by closing the transport
	stop := context.AfterFunc(ctx, func() { t.Close() })
	s := &Session{
		target:     opts.Target,
		transport:  t,
		packets:    opts.Logger,
		log:        opts.Log.With().Str("component", "adb").Str("target", opts.Target).Logger(),
		nextID:     1,
		streams:    make(map[uint32]*deviceStream),
		opening:    make(map[uint32]*pendingOpen),
		handlers:   make(map[int]func()),
		closedCh:   make(chan struct{}),
		readerDone: make(chan struct{}),
	}
	err := s.handshake(opts.Keys)
	if !stop() {
		return fail(ctx.Err())
	}
	if err != nil {
		return fail(err)
	}
	span.SetAttributes(
		attribute.String("adb.model", s.banner.Model),
		attribute.Int("adb.max_payload", s.maxPayload),
	)
	s.log.Debug().Str("model", s.banner.Model).Int("max_payload", s.maxPayload).Msg("connected")
	go s.readLoop()
	return s, nil
}

func (s *Session) handshake(keys *KeyStore) error {
	err := s.send(Message{
		Command: CmdCNXN,
		Arg0:    VersionSkipChecksum,
		Arg1:    DefaultMaxPayload,
		Payload: hostBanner(),
	})
	if err != nil {
		return err
	}
	signers := keys.Keys()
	next := 0
	sentPublic := false
	for {
		m, err := s.recv()
		if err != nil {
			return err
		}
		switch m.Command {
		case CmdCNXN:
			s.banner = ParseBanner(string(m.Payload))
			s.version = m.Arg0
			s.maxPayload = int(min(m.Arg1, DefaultMaxPayload))
			if s.maxPayload <= 0 {
				s.maxPayload = int(DefaultMaxPayload)
			}
			return nil
		case CmdAUTH:
			if m.Arg0 != AuthToken {
				return fmt.Errorf("unexpected AUTH type %d", m.Arg0)
			}
			if sentPublic {
				return errors.New("device did not accept the public key")
			}
			if next < len(signers) {
				sig, err := SignToken(signers[next], m.Payload)
				if err != nil {
					return err
				}
				next++
				if err := s.send(Message{Command: CmdAUTH, Arg0: AuthSignature, Payload: sig}); err != nil {
					return err
				}
				continue
			}
			if len(signers) == 0 {
				return errors.New("device requires authentication and no key is available")
			}
			pub, err := EncodePublicKey(&signers[0].PublicKey, keyComment())
			if err != nil {
				return err
			}
			sentPublic = true
			s.log.Info().Msg("waiting for the user to authorize this host on the device")
			if err := s.send(Message{Command: CmdAUTH, Arg0: AuthRSAPublicKey, Payload: append([]byte(pub), 0)}); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unexpected %s during handshake", CommandName(m.Command))
		}
	}
}

func (s *Session) send(m Message) error {
	if s.packets != nil {
		s.packets.Outgoing(m)
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return WriteMessage(s.transport, m)
}

func (s *Session) recv() (Message, error) {
	m, err := ReadMessage(s.transport)
	if err != nil {
		return m, err
	}
	if s.packets != nil {
		s.packets.Incoming(m)
	}
	return m, nil
}

func (s *Session) readLoop() {
	for {
		m, err := s.recv()
		if err != nil {
			s.shutdown(err)
			return
		}
		s.dispatch(m)
	}
}

func (s *Session) dispatch(m Message) {
	switch m.Command {
	case CmdOKAY:
		local, remote := m.Arg1, m.Arg0
		s.mu.Lock()
		if p, ok := s.opening[local]; ok {
			delete(s.opening, local)
			p.ds.remote = remote
			s.streams[local] = p.ds
			s.mu.Unlock()
			p.done <- nil
			return
		}
		st := s.streams[local]
		s.mu.Unlock()
		if st == nil {
			// an open we gave up on succeeded late
			_ = s.send(Message{Command: CmdCLSE, Arg0: local, Arg1: remote})
			return
		}
		select {
		case st.acks <- struct{}{}:
		default:
		}
	case CmdWRTE:
		local := m.Arg1
		s.mu.Lock()
		st := s.streams[local]
		s.mu.Unlock()
		if st == nil {
			_ = s.send(Message{Command: CmdCLSE, Arg0: local, Arg1: m.Arg0})
			return
		}
		if !st.stream.offer(m.Payload) {
			s.log.Warn().Uint32("local_id", local).Msg("device ignored flow control, dropping chunk")
		}
	case CmdCLSE:
		local := m.Arg1
		s.mu.Lock()
		if p, ok := s.opening[local]; ok {
			delete(s.opening, local)
			s.mu.Unlock()
			p.ds.stream.finish(ErrOpenRejected)
			p.done <- ErrOpenRejected
			return
		}
		st := s.streams[local]
		delete(s.streams, local)
		s.mu.Unlock()
		if st != nil {
			st.stream.finish(nil)
		}
	case CmdCNXN:
		// the device restarted adbd; every stream is gone
		s.transport.Close()
	default:
		s.log.Debug().Str("command", CommandName(m.Command)).Msg("ignoring packet")
	}
}

// shutdown runs once on the reader goroutine when the transport ends.
func (s *Session) shutdown(cause error) {
	s.mu.Lock()
	s.closed = true
	streams := s.streams
	opening := s.opening
	handlers := s.handlers
	s.streams = map[uint32]*deviceStream{}
	s.opening = map[uint32]*pendingOpen{}
	s.handlers = map[int]func(){}
	s.mu.Unlock()

	close(s.closedCh)
	if !errors.Is(cause, io.EOF) && !errors.Is(cause, io.ErrClosedPipe) {
		s.log.Debug().Err(cause).Msg("transport ended")
	}
	for _, p := range opening {
		p.ds.stream.finish(ErrDisposed)
		p.done <- ErrDisposed
	}
	for _, st := range streams {
		st.stream.finish(ErrDisposed)
	}
	// handlers may call Dispose, which waits on readerDone
	close(s.readerDone)
	for _, fn := range handlers {
		fn()
	}
}

// Banner returns what the device reported in CNXN.
func (s *Session) Banner() Banner { return s.banner }

// Serial returns the target the session was opened against.
func (s *Session) Serial() string { return s.target }

// MaxPayload is the negotiated maximum WRTE payload.
func (s *Session) MaxPayload() int { return s.maxPayload }

// OnDisconnected registers fn to run once when the session ends, whether
// the transport dropped or Dispose was called. The returned func removes
// the registration. Registering on an ended session runs fn immediately.
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

// Dispose closes every stream and the transport and waits for the reader
// to exit. Safe to call more than once and on a nil session.
func (s *Session) Dispose() error {
	if s == nil {
		return nil
	}
	var err error
	s.disposeOnce.Do(func() {
		err = s.transport.Close()
		<-s.readerDone
	})
	return err
}

// OpenService opens an arbitrary service ("shell:ls", "sync:", ...).
func (s *Session) OpenService(ctx context.Context, service string) (*Stream, error) {
	ctx, span := tracer.Start(ctx, "adb.open", oteltrace.WithAttributes(
		attribute.String("adb.target", s.target),
		attribute.String("adb.service", service),
	))
	defer span.End()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrDisposed
	}
	local := s.nextID
	s.nextID++
	ds := &deviceStream{session: s, local: local, acks: make(chan struct{}, 1)}
	// the device sends one WRTE at a time, so one slot is enough
	ds.stream = newStream(ds, s.maxPayload, 1)
	p := &pendingOpen{ds: ds, done: make(chan error, 1)}
	s.opening[local] = p
	s.mu.Unlock()

	fail := func(err error) (*Stream, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	payload := append([]byte(service), 0)
	if err := s.send(Message{Command: CmdOPEN, Arg0: local, Payload: payload}); err != nil {
		if s.abandon(p) {
			ds.stream.finish(err)
		}
		return fail(err)
	}

	select {
	case err := <-p.done:
		if err != nil {
			return fail(err)
		}
		return ds.stream, nil
	case <-ctx.Done():
		if s.abandon(p) {
			ds.stream.finish(ctx.Err())
		} else if err := <-p.done; err == nil {
			// the device accepted just now; tell it we are gone
			ds.stream.Close()
		}
		return fail(ctx.Err())
	}
}

// abandon withdraws a pending open. It reports false when the reader
// already resolved it.
func (s *Session) abandon(p *pendingOpen) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opening[p.ds.local] != p {
		return false
	}
	delete(s.opening, p.ds.local)
	return true
}

// OpenStream opens a long-lived shell command.
func (s *Session) OpenStream(ctx context.Context, cmd string) (*Stream, error) {
	return s.OpenService(ctx, "shell:"+cmd)
}

// Exec runs cmd to completion and returns its output. With shell_v2 the
// exit status is known and a non-zero status becomes a *CommandError.
func (s *Session) Exec(ctx context.Context, cmd string) (string, error) {
	return RunShell(ctx, s.target, s.OpenService, cmd, s.banner.HasFeature("shell_v2"))
}

// deviceStream binds a Stream to local/remote ids on a session.
type deviceStream struct {
	session *Session
	local   uint32
	remote  uint32
	acks    chan struct{}
	stream  *Stream
}

func (d *deviceStream) write(p []byte) error {
	if err := d.session.send(Message{Command: CmdWRTE, Arg0: d.local, Arg1: d.remote, Payload: p}); err != nil {
		return err
	}
	select {
	case <-d.acks:
		return nil
	case <-d.stream.remote:
		return ErrStreamClosed
	case <-d.session.closedCh:
		return ErrDisposed
	}
}

func (d *deviceStream) ack() {
	select {
	case <-d.session.closedCh:
		return
	default:
	}
	_ = d.session.send(Message{Command: CmdOKAY, Arg0: d.local, Arg1: d.remote})
}

func (d *deviceStream) close() error {
	select {
	case <-d.session.closedCh:
		return nil
	case <-d.stream.remote:
		return nil
	default:
	}
	return d.session.send(Message{Command: CmdCLSE, Arg0: d.local, Arg1: d.remote})
}
