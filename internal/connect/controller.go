// Package connect is the headless state machine behind the backend picker:
// it keeps the backend lists fresh, preserves the selection across
// refreshes and owns the single active device session.
package connect

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"adbdash/internal/adb"
	"adbdash/internal/backend"

	"github.com/rs/zerolog"
)

// DefaultRefreshInterval is how often remote lists are refreshed while idle.
const DefaultRefreshInterval = 10 * time.Second

var (
	ErrNoBackend        = errors.New("connect: no backend selected")
	ErrAlreadyConnected = errors.New("connect: a device is already connected")
	ErrNotConnected     = errors.New("connect: no device connected")
	ErrBusy             = errors.New("connect: connection in progress")
	// ErrConnectionLost is the Err of the EventDisconnected sent when the
	// transport dropped rather than the user disconnecting.
	ErrConnectionLost = errors.New("connect: device connection lost")
)

// USBSource enumerates and watches locally attached devices.
type USBSource interface {
	backend.Lister
	backend.Watcher
	Supported(ctx context.Context) bool
}

// EventKind classifies controller events.
type EventKind int

const (
	// EventUnsupported means local USB devices cannot be reached.
	EventUnsupported EventKind = iota
	EventConnected
	EventDisconnected
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventUnsupported:
		return "unsupported"
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is surfaced to the user (error dialogs, status line).
type Event struct {
	Kind   EventKind
	Serial string
	Err    error
}

// State is a snapshot of the controller.
type State struct {
	// Backends is the USB list followed by the remote and requested ones.
	Backends   []backend.Backend
	Selected   string
	Connecting bool
	// Connected is the serial of the backend with the active session.
	Connected string
	Supported bool
}

// CanConnect reports whether the connect action is enabled.
func (s State) CanConnect() bool {
	return s.Selected != "" && !s.Connecting && s.Connected == ""
}

// CanSelect reports whether the backend picker is enabled.
func (s State) CanSelect() bool {
	return !s.Connecting && s.Connected == ""
}

// SelectedBackend returns the selected backend, or nil.
func (s State) SelectedBackend() backend.Backend {
	for _, b := range s.Backends {
		if b.Serial() == s.Selected {
			return b
		}
	}
	return nil
}

// Options configures a Controller.
type Options struct {
	USB             USBSource
	Remote          []backend.Lister
	Requester       backend.Requester
	RefreshInterval time.Duration
	ConnectOptions  adb.Options
	Logger          zerolog.Logger
}

// Controller is safe for concurrent use.
type Controller struct {
	opts Options
	log  zerolog.Logger

	mu         sync.RWMutex
	usb        []backend.Backend
	remote     []backend.Backend
	requested  []backend.Backend
	selected   string
	connecting bool
	supported  bool
	session    backend.Session
	connected  backend.Backend
	unsubDrop  func()
	subs       map[int]func(State)
	nextSub    int
	ctx        context.Context

	events chan Event

	runMu     sync.Mutex
	cancel    context.CancelFunc
	stopWatch func()
	wg        sync.WaitGroup
}

// New creates a controller. Nothing happens until Start.
func New(opts Options) *Controller {
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = DefaultRefreshInterval
	}
	return &Controller{
		opts:   opts,
		log:    opts.Logger.With().Str("component", "connect").Logger(),
		subs:   make(map[int]func(State)),
		events: make(chan Event, 16),
		ctx:    context.Background(),
	}
}

// Start probes USB support, fills every list, starts watching for USB
// attach events and refreshes the remote lists periodically while idle.
func (c *Controller) Start(ctx context.Context) {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel != nil {
		return
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	if c.opts.USB != nil {
		supported := c.opts.USB.Supported(ctx)
		c.mu.Lock()
		c.supported = supported
		c.mu.Unlock()
		if !supported {
			c.emit(Event{Kind: EventUnsupported, Err: errors.New("adb server is not reachable; USB devices are unavailable")})
		} else {
			_ = c.RefreshUSB(ctx)
			stop, err := c.opts.USB.Watch(ctx, c.onAttach)
			if err != nil {
				c.log.Warn().Err(err).Msg("watch usb devices")
			} else {
				c.stopWatch = stop
			}
		}
	}
	_ = c.RefreshRemote(ctx)

	c.wg.Add(1)
	go c.refreshLoop(ctx)
}

// Stop ends the watcher and the refresh loop. It does not disconnect.
func (c *Controller) Stop() {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.cancel == nil {
		return
	}
	c.cancel()
	c.cancel = nil
	if c.stopWatch != nil {
		c.stopWatch()
		c.stopWatch = nil
	}
	c.wg.Wait()
}

func (c *Controller) refreshLoop(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(c.opts.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.RLock()
			busy := c.connecting || c.session != nil
			c.mu.RUnlock()
			if busy {
				continue
			}
			_ = c.RefreshRemote(ctx)
		}
	}
}

func (c *Controller) onAttach(serial string) {
	c.mu.RLock()
	ctx := c.ctx
	c.mu.RUnlock()
	if err := c.RefreshUSB(ctx); err != nil {
		return
	}
	if serial == "" {
		return
	}
	c.mu.Lock()
	if c.session == nil && !c.connecting && c.find(serial) != nil {
		c.selected = serial
	}
	c.mu.Unlock()
	c.notify()
}

// RefreshUSB replaces the USB list. On error the old list stays.
func (c *Controller) RefreshUSB(ctx context.Context) error {
	if c.opts.USB == nil {
		return nil
	}
	list, err := c.opts.USB.List(ctx)
	if err != nil {
		c.log.Warn().Err(err).Msg("list usb devices")
		return err
	}
	c.mu.Lock()
	c.usb = list
	// a successful listing proves the adb server is reachable
	c.supported = true
	c.reselect()
	c.mu.Unlock()
	c.notify()
	return nil
}

// RefreshRemote replaces the WebSocket/TCP lists. A failing source
// contributes nothing this round; when every source fails the old list
// stays.
func (c *Controller) RefreshRemote(ctx context.Context) error {
	var (
		list []backend.Backend
		errs []error
	)
	for _, l := range c.opts.Remote {
		got, err := l.List(ctx)
		if err != nil {
			c.log.Warn().Err(err).Msg("list remote devices")
			errs = append(errs, err)
			continue
		}
		list = append(list, got...)
	}
	if len(errs) > 0 && len(errs) == len(c.opts.Remote) {
		return errors.Join(errs...)
	}
	c.mu.Lock()
	c.remote = list
	c.reselect()
	c.mu.Unlock()
	c.notify()
	return errors.Join(errs...)
}

// all returns the combined list. Callers hold mu.
func (c *Controller) all() []backend.Backend {
	out := make([]backend.Backend, 0, len(c.usb)+len(c.remote)+len(c.requested))
	out = append(out, c.usb...)
	out = append(out, c.remote...)
	for _, b := range c.requested {
		if !slices.ContainsFunc(out, func(x backend.Backend) bool { return x.Serial() == b.Serial() }) {
			out = append(out, b)
		}
	}
	return out
}

func (c *Controller) find(serial string) backend.Backend {
	for _, b := range c.all() {
		if b.Serial() == serial {
			return b
		}
	}
	return nil
}

// reselect keeps the selection when it is still listed, else picks the
// first backend. The selection is frozen while a session is active.
func (c *Controller) reselect() {
	if c.session != nil || c.connecting {
		return
	}
	if c.selected != "" && c.find(c.selected) != nil {
		return
	}
	all := c.all()
	if len(all) == 0 {
		c.selected = ""
		return
	}
	c.selected = all[0].Serial()
}

// Select picks a backend. It is rejected while a session is active.
func (c *Controller) Select(serial string) error {
	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	if c.connecting {
		c.mu.Unlock()
		return ErrBusy
	}
	if c.find(serial) == nil {
		c.mu.Unlock()
		return fmt.Errorf("connect: unknown backend %q", serial)
	}
	c.selected = serial
	c.mu.Unlock()
	c.notify()
	return nil
}

// RequestAccess asks the requester for a new backend and selects it.
// A cancelled request changes nothing.
func (c *Controller) RequestAccess(ctx context.Context) error {
	if c.opts.Requester == nil {
		return errors.New("connect: adding devices is not supported")
	}
	b, err := c.opts.Requester.Request(ctx)
	if err != nil {
		return err
	}
	if b == nil {
		return nil
	}
	c.mu.Lock()
	if c.find(b.Serial()) == nil {
		c.requested = append(c.requested, b)
	}
	if c.session == nil && !c.connecting {
		c.selected = b.Serial()
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// Connect opens a session on the selected backend.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		return ErrAlreadyConnected
	}
	if c.connecting {
		c.mu.Unlock()
		return ErrBusy
	}
	b := c.find(c.selected)
	if b == nil {
		c.mu.Unlock()
		return ErrNoBackend
	}
	c.connecting = true
	c.mu.Unlock()
	c.notify()

	log := c.log.With().Str("serial", b.Name()).Str("kind", string(b.Kind())).Logger()
	log.Info().Msg("connecting")
	s, err := b.Connect(ctx, c.opts.ConnectOptions)
	if err != nil {
		if s != nil {
			s.Dispose()
		}
		c.mu.Lock()
		c.connecting = false
		c.mu.Unlock()
		log.Warn().Err(err).Msg("connect failed")
		c.notify()
		c.emit(Event{Kind: EventError, Serial: b.Serial(), Err: err})
		return err
	}

	c.mu.Lock()
	c.connecting = false
	c.session = s
	c.connected = b
	c.mu.Unlock()

	unsub := s.OnDisconnected(func() { c.dropped(s) })
	c.mu.Lock()
	if c.session == s {
		c.unsubDrop = unsub
	}
	c.mu.Unlock()

	log.Info().Msg("connected")
	c.notify()
	c.emit(Event{Kind: EventConnected, Serial: b.Serial()})
	return nil
}

// dropped runs when the transport of s went away.
func (c *Controller) dropped(s backend.Session) {
	c.mu.Lock()
	if c.session != s {
		c.mu.Unlock()
		return
	}
	serial := c.connected.Serial()
	c.session = nil
	c.connected = nil
	c.unsubDrop = nil
	c.mu.Unlock()

	s.Dispose()
	c.log.Info().Str("serial", serial).Msg("device disconnected")
	c.notify()
	c.emit(Event{Kind: EventDisconnected, Serial: serial, Err: ErrConnectionLost})
}

// Disconnect disposes the active session.
func (c *Controller) Disconnect() error {
	c.mu.Lock()
	s := c.session
	if s == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	serial := c.connected.Serial()
	unsub := c.unsubDrop
	c.session = nil
	c.connected = nil
	c.unsubDrop = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	err := s.Dispose()
	c.notify()
	c.emit(Event{Kind: EventDisconnected, Serial: serial})
	return err
}

// Session returns the active session, or nil.
func (c *Controller) Session() backend.Session {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.session
}

// ConnectedBackend returns the backend of the active session, or nil.
func (c *Controller) ConnectedBackend() backend.Backend {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// State returns a snapshot.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st := State{
		Backends:   c.all(),
		Selected:   c.selected,
		Connecting: c.connecting,
		Supported:  c.supported,
	}
	if c.connected != nil {
		st.Connected = c.connected.Serial()
	}
	return st
}

// Subscribe registers fn for state changes. fn runs on the goroutine that
// caused the change and must not block.
func (c *Controller) Subscribe(fn func(State)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.subs[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

func (c *Controller) notify() {
	st := c.State()
	c.mu.RLock()
	subs := make([]func(State), 0, len(c.subs))
	for _, fn := range c.subs {
		subs = append(subs, fn)
	}
	c.mu.RUnlock()
	for _, fn := range subs {
		fn(st)
	}
}

// Events delivers user-facing events. Events are dropped when nobody
// drains the channel.
func (c *Controller) Events() <-chan Event {
	return c.events
}

func (c *Controller) emit(e Event) {
	select {
	case c.events <- e:
	default:
		c.log.Debug().Str("event", e.Kind.String()).Msg("event dropped")
	}
}
