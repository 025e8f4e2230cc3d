package connect

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"adbdash/internal/adb"
	"adbdash/internal/backend"
)

type fakeSession struct {
	serial   string
	mu       sync.Mutex
	handlers []func()
	disposed atomic.Int32
}

func (s *fakeSession) Serial() string { return s.serial }
func (s *fakeSession) Exec(context.Context, string) (string, error) {
	return "", nil
}
func (s *fakeSession) OpenStream(context.Context, string) (*adb.Stream, error) {
	return nil, errors.New("not supported")
}

func (s *fakeSession) OnDisconnected(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, fn)
	idx := len(s.handlers) - 1
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.handlers[idx] = nil
	}
}

func (s *fakeSession) Dispose() error {
	s.disposed.Add(1)
	return nil
}

// drop simulates the transport going away.
func (s *fakeSession) drop() {
	s.mu.Lock()
	handlers := append([]func(){}, s.handlers...)
	s.mu.Unlock()
	for _, fn := range handlers {
		if fn != nil {
			fn()
		}
	}
}

func (s *fakeSession) handlerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, fn := range s.handlers {
		if fn != nil {
			n++
		}
	}
	return n
}

type fakeBackend struct {
	serial  string
	kind    backend.Kind
	err     error
	session *fakeSession
	// partial is returned alongside err, as a backend that failed halfway
	partial *fakeSession
}

func (b *fakeBackend) Serial() string     { return b.serial }
func (b *fakeBackend) Name() string       { return b.serial }
func (b *fakeBackend) Kind() backend.Kind { return b.kind }

func (b *fakeBackend) Connect(context.Context, adb.Options) (backend.Session, error) {
	if b.err != nil {
		if b.partial != nil {
			return b.partial, b.err
		}
		return nil, b.err
	}
	if b.session == nil {
		b.session = &fakeSession{serial: b.serial}
	}
	return b.session, nil
}

type fakeLister struct {
	mu    sync.Mutex
	list  []backend.Backend
	err   error
	calls atomic.Int32
}

func (l *fakeLister) List(context.Context) ([]backend.Backend, error) {
	l.calls.Add(1)
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	return append([]backend.Backend(nil), l.list...), nil
}

func (l *fakeLister) set(list []backend.Backend, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.list = list
	l.err = err
}

type fakeUSB struct {
	fakeLister
	supported bool
	mu2       sync.Mutex
	fn        func(string)
	stopped   atomic.Bool
}

func (u *fakeUSB) Supported(context.Context) bool { return u.supported }

func (u *fakeUSB) Watch(_ context.Context, fn func(string)) (func(), error) {
	u.mu2.Lock()
	u.fn = fn
	u.mu2.Unlock()
	return func() { u.stopped.Store(true) }, nil
}

func (u *fakeUSB) attach(serial string) {
	u.mu2.Lock()
	fn := u.fn
	u.mu2.Unlock()
	fn(serial)
}

func serials(st State) []string {
	var out []string
	for _, b := range st.Backends {
		out = append(out, b.Serial())
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func newRemote(serials ...string) *fakeLister {
	l := &fakeLister{}
	for _, s := range serials {
		l.list = append(l.list, &fakeBackend{serial: s, kind: backend.KindWebSocket})
	}
	return l
}

func TestStartListsUSBThenRemote(t *testing.T) {
	usb := &fakeUSB{supported: true}
	usb.list = []backend.Backend{&fakeBackend{serial: "usb-1", kind: backend.KindUSB}}
	c := New(Options{USB: usb, Remote: []backend.Lister{newRemote("ws-1", "ws-2")}})
	c.Start(context.Background())
	defer c.Stop()

	st := c.State()
	if want := []string{"usb-1", "ws-1", "ws-2"}; !equal(serials(st), want) {
		t.Errorf("backends = %v, want %v", serials(st), want)
	}
	if st.Selected != "usb-1" {
		t.Errorf("Selected = %q, want first backend", st.Selected)
	}
	if !st.Supported {
		t.Error("Supported = false, want true")
	}
}

func TestRefreshUSBMarksSupported(t *testing.T) {
	usb := &fakeUSB{supported: true}
	usb.list = []backend.Backend{&fakeBackend{serial: "usb-1", kind: backend.KindUSB}}
	c := New(Options{USB: usb})

	if c.State().Supported {
		t.Fatal("Supported before any listing")
	}
	if err := c.RefreshUSB(context.Background()); err != nil {
		t.Fatalf("RefreshUSB: %v", err)
	}
	st := c.State()
	if !st.Supported {
		t.Error("Supported = false after a successful USB listing")
	}
	if !equal(serials(st), []string{"usb-1"}) {
		t.Errorf("backends = %v, want [usb-1]", serials(st))
	}
}

func TestRefreshUSBFailureLeavesUnsupported(t *testing.T) {
	usb := &fakeUSB{}
	usb.err = errors.New("connection refused")
	c := New(Options{USB: usb})
	if err := c.RefreshUSB(context.Background()); err == nil {
		t.Fatal("RefreshUSB succeeded with a failing lister")
	}
	if c.State().Supported {
		t.Error("Supported = true after a failed listing")
	}
}

func TestRestartAfterStop(t *testing.T) {
	usb := &fakeUSB{supported: true}
	c := New(Options{USB: usb, Remote: []backend.Lister{newRemote("ws")}})
	c.Start(context.Background())
	c.Stop()
	before := usb.calls.Load()
	usb.stopped.Store(false)

	c.Start(context.Background())
	if got := usb.calls.Load(); got <= before {
		t.Errorf("USB listed %d times after restart, want more than %d", got, before)
	}
	c.Stop()
	if !usb.stopped.Load() {
		t.Error("watcher of the second run was not stopped")
	}
}

func TestSelectEnablesConnect(t *testing.T) {
	c := New(Options{Remote: []backend.Lister{newRemote("a", "b")}})
	c.RefreshRemote(context.Background())

	if err := c.Select("b"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	st := c.State()
	if st.Selected != "b" || !st.CanConnect() {
		t.Errorf("state = %+v, want b selected and connectable", st)
	}
	if err := c.Select("nope"); err == nil {
		t.Error("Select(unknown) succeeded")
	}
}

func TestSelectionPreservedAcrossRefresh(t *testing.T) {
	remote := newRemote("a", "b", "c")
	c := New(Options{Remote: []backend.Lister{remote}})
	ctx := context.Background()
	c.RefreshRemote(ctx)
	c.Select("b")

	remote.set([]backend.Backend{
		&fakeBackend{serial: "c"},
		&fakeBackend{serial: "b"},
	}, nil)
	c.RefreshRemote(ctx)
	if got := c.State().Selected; got != "b" {
		t.Errorf("Selected = %q after refresh, want b", got)
	}

	remote.set([]backend.Backend{&fakeBackend{serial: "c"}}, nil)
	c.RefreshRemote(ctx)
	if got := c.State().Selected; got != "c" {
		t.Errorf("Selected = %q after b vanished, want first (c)", got)
	}

	remote.set(nil, nil)
	c.RefreshRemote(ctx)
	st := c.State()
	if st.Selected != "" || st.CanConnect() {
		t.Errorf("state = %+v, want no selection", st)
	}
}

func TestListErrorKeepsOldList(t *testing.T) {
	remote := newRemote("a")
	c := New(Options{Remote: []backend.Lister{remote}})
	ctx := context.Background()
	c.RefreshRemote(ctx)

	remote.set(nil, errors.New("proxy down"))
	if err := c.RefreshRemote(ctx); err == nil {
		t.Error("RefreshRemote succeeded, want error")
	}
	if got := serials(c.State()); !equal(got, []string{"a"}) {
		t.Errorf("backends = %v, want [a]", got)
	}
}

func TestConnectWithoutSelection(t *testing.T) {
	c := New(Options{})
	if err := c.Connect(context.Background()); !errors.Is(err, ErrNoBackend) {
		t.Errorf("Connect = %v, want ErrNoBackend", err)
	}
}

func TestFailedConnectLeavesListUnchanged(t *testing.T) {
	partial := &fakeSession{serial: "a"}
	boom := errors.New("handshake failed")
	remote := &fakeLister{list: []backend.Backend{
		&fakeBackend{serial: "a", err: boom, partial: partial},
		&fakeBackend{serial: "b"},
	}}
	c := New(Options{Remote: []backend.Lister{remote}})
	c.RefreshRemote(context.Background())
	before := serials(c.State())

	err := c.Connect(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("Connect = %v, want %v", err, boom)
	}
	st := c.State()
	if !equal(serials(st), before) {
		t.Errorf("backends = %v, want unchanged %v", serials(st), before)
	}
	if c.Session() != nil || st.Connected != "" || st.Connecting {
		t.Errorf("state = %+v, want no session", st)
	}
	if partial.disposed.Load() != 1 {
		t.Errorf("partial session disposed %d times, want 1", partial.disposed.Load())
	}

	select {
	case ev := <-c.Events():
		if ev.Kind != EventError || !errors.Is(ev.Err, boom) {
			t.Errorf("event = %+v, want error event", ev)
		}
	default:
		t.Error("no error event emitted")
	}
}

func TestConnectAndDisconnect(t *testing.T) {
	b := &fakeBackend{serial: "a"}
	c := New(Options{Remote: []backend.Lister{&fakeLister{list: []backend.Backend{b, &fakeBackend{serial: "z"}}}}})
	c.RefreshRemote(context.Background())

	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	st := c.State()
	if st.Connected != "a" || st.CanConnect() || st.CanSelect() {
		t.Errorf("state = %+v, want connected to a with picker disabled", st)
	}
	if err := c.Select("z"); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("Select while connected = %v, want ErrAlreadyConnected", err)
	}
	if err := c.Connect(context.Background()); !errors.Is(err, ErrAlreadyConnected) {
		t.Errorf("second Connect = %v, want ErrAlreadyConnected", err)
	}
	if n := b.session.handlerCount(); n != 1 {
		t.Errorf("disconnect handlers = %d, want exactly 1", n)
	}

	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	st = c.State()
	if c.Session() != nil || st.Connected != "" || !st.CanSelect() {
		t.Errorf("state = %+v, want disconnected and selectable", st)
	}
	if b.session.disposed.Load() != 1 {
		t.Errorf("session disposed %d times, want 1", b.session.disposed.Load())
	}
	if n := b.session.handlerCount(); n != 0 {
		t.Errorf("disconnect handlers after Disconnect = %d, want 0", n)
	}
	if err := c.Select("z"); err != nil {
		t.Errorf("Select after disconnect: %v", err)
	}
	if err := c.Disconnect(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("second Disconnect = %v, want ErrNotConnected", err)
	}
}

func TestUserDisconnectHasNoError(t *testing.T) {
	c := New(Options{Remote: []backend.Lister{newRemote("a")}})
	c.RefreshRemote(context.Background())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-c.Events() // connected
	if err := c.Disconnect(); err != nil {
		t.Fatalf("Disconnect: %v", err)
	}
	ev := <-c.Events()
	if ev.Kind != EventDisconnected || ev.Err != nil {
		t.Errorf("event = %+v, want disconnected without error", ev)
	}
}

func TestTransportDropClearsSession(t *testing.T) {
	b := &fakeBackend{serial: "a"}
	c := New(Options{Remote: []backend.Lister{&fakeLister{list: []backend.Backend{b}}}})
	c.RefreshRemote(context.Background())
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	<-c.Events() // connected

	var states []State
	c.Subscribe(func(st State) { states = append(states, st) })

	b.session.drop()

	if c.Session() != nil {
		t.Error("session still set after drop")
	}
	if len(states) == 0 || states[len(states)-1].Connected != "" {
		t.Errorf("subscribers not told about the drop: %+v", states)
	}
	ev := <-c.Events()
	if ev.Kind != EventDisconnected || ev.Serial != "a" {
		t.Errorf("event = %+v, want disconnected a", ev)
	}
	if !errors.Is(ev.Err, ErrConnectionLost) {
		t.Errorf("event Err = %v, want ErrConnectionLost", ev.Err)
	}
	// a late duplicate drop is ignored
	b.session.drop()
	if b.session.disposed.Load() != 1 {
		t.Errorf("session disposed %d times, want 1", b.session.disposed.Load())
	}
}

func TestUnsupportedUSB(t *testing.T) {
	usb := &fakeUSB{supported: false}
	c := New(Options{USB: usb, Remote: []backend.Lister{newRemote("ws")}})
	c.Start(context.Background())
	defer c.Stop()

	select {
	case ev := <-c.Events():
		if ev.Kind != EventUnsupported {
			t.Errorf("event = %v, want unsupported", ev.Kind)
		}
	default:
		t.Fatal("no unsupported event")
	}
	if usb.calls.Load() != 0 {
		t.Error("listed USB devices although unsupported")
	}
	if got := serials(c.State()); !equal(got, []string{"ws"}) {
		t.Errorf("backends = %v, want [ws]", got)
	}
}

func TestUSBAttachSelectsDevice(t *testing.T) {
	usb := &fakeUSB{supported: true}
	usb.list = []backend.Backend{&fakeBackend{serial: "old"}}
	c := New(Options{USB: usb})
	c.Start(context.Background())

	usb.set([]backend.Backend{&fakeBackend{serial: "old"}, &fakeBackend{serial: "new"}}, nil)
	usb.attach("new")
	if got := c.State().Selected; got != "new" {
		t.Errorf("Selected = %q, want new", got)
	}

	usb.set([]backend.Backend{&fakeBackend{serial: "old"}}, nil)
	usb.attach("")
	if got := c.State().Selected; got != "old" {
		t.Errorf("Selected = %q after detach, want old", got)
	}

	c.Stop()
	if !usb.stopped.Load() {
		t.Error("watcher not stopped")
	}
	c.Stop()
}

type fakeRequester struct {
	b   backend.Backend
	err error
}

func (r fakeRequester) Request(context.Context) (backend.Backend, error) { return r.b, r.err }

func TestRequestAccess(t *testing.T) {
	c := New(Options{
		Remote:    []backend.Lister{newRemote("ws")},
		Requester: fakeRequester{b: &fakeBackend{serial: "10.0.0.2:5555", kind: backend.KindTCP}},
	})
	c.RefreshRemote(context.Background())

	if err := c.RequestAccess(context.Background()); err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}
	st := c.State()
	if want := []string{"ws", "10.0.0.2:5555"}; !equal(serials(st), want) {
		t.Errorf("backends = %v, want %v", serials(st), want)
	}
	if st.Selected != "10.0.0.2:5555" {
		t.Errorf("Selected = %q, want the new backend", st.Selected)
	}
	// requested backends survive refreshes
	c.RefreshRemote(context.Background())
	if got := c.State().Selected; got != "10.0.0.2:5555" {
		t.Errorf("Selected = %q after refresh", got)
	}
}

func TestRequestAccessCancelled(t *testing.T) {
	c := New(Options{Remote: []backend.Lister{newRemote("ws")}, Requester: fakeRequester{}})
	c.RefreshRemote(context.Background())
	if err := c.RequestAccess(context.Background()); err != nil {
		t.Fatalf("RequestAccess: %v", err)
	}
	if got := serials(c.State()); !equal(got, []string{"ws"}) {
		t.Errorf("backends = %v, want unchanged", got)
	}
}

func TestRemoteRefreshPausedWhileConnected(t *testing.T) {
	remote := newRemote("a")
	c := New(Options{Remote: []backend.Lister{remote}, RefreshInterval: 5 * time.Millisecond})
	c.Start(context.Background())
	defer c.Stop()

	waitFor(t, func() bool { return remote.calls.Load() >= 3 })
	if err := c.Connect(context.Background()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	// let a refresh that was already in flight finish
	time.Sleep(20 * time.Millisecond)
	before := remote.calls.Load()
	time.Sleep(40 * time.Millisecond)
	if after := remote.calls.Load(); after != before {
		t.Errorf("remote listed %d times while connected", after-before)
	}

	c.Disconnect()
	waitFor(t, func() bool { return remote.calls.Load() > before })
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met")
}
