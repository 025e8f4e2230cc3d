// Package monitor ties telemetry collection to the controller's session.
// Sampling starts when a device connects and stops when it goes away; the
// one-shot system information and package list are collected on connect and
// on demand.
package monitor

import (
	"context"
	"errors"
	"sync"

	"adbdash/internal/backend"
	"adbdash/internal/config"
	"adbdash/internal/connect"
	"adbdash/internal/history"
	"adbdash/internal/telemetry"

	"github.com/rs/zerolog"
)

// ErrNotConnected is returned by Refresh when no device is monitored.
var ErrNotConnected = errors.New("monitor: no device connected")

// Source is the part of the connection controller the monitor follows.
type Source interface {
	State() connect.State
	Session() backend.Session
	ConnectedBackend() backend.Backend
	Subscribe(fn func(connect.State)) (unsubscribe func())
}

var _ Source = (*connect.Controller)(nil)

// Options configures a Monitor.
type Options struct {
	Telemetry config.Telemetry
	Snapshot  *telemetry.Snapshot
	// History records every sample when set.
	History *history.Store
	Logger  zerolog.Logger
	// OnChange runs after the snapshot changed. It must not block.
	OnChange func()
}

// Monitor is safe for concurrent use.
type Monitor struct {
	src  Source
	opts Options
	log  zerolog.Logger

	mu     sync.Mutex
	parent context.Context
	unsub  func()
	serial string
	name   string
	sess   backend.Session
	gen    int
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a monitor. Nothing happens until Start.
func New(src Source, opts Options) *Monitor {
	if opts.Snapshot == nil {
		opts.Snapshot = telemetry.NewSnapshot()
	}
	return &Monitor{
		src:  src,
		opts: opts,
		log:  opts.Logger.With().Str("component", "monitor").Logger(),
	}
}

// Snapshot returns the snapshot the monitor writes to.
func (m *Monitor) Snapshot() *telemetry.Snapshot { return m.opts.Snapshot }

// Start follows the controller until ctx is done or Stop is called.
func (m *Monitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.unsub != nil {
		m.mu.Unlock()
		return
	}
	m.parent = ctx
	m.mu.Unlock()

	unsub := m.src.Subscribe(m.sync)
	m.mu.Lock()
	m.unsub = unsub
	m.mu.Unlock()
	m.sync(m.src.State())
}

// Stop ends any running collection and waits for it.
func (m *Monitor) Stop() {
	m.mu.Lock()
	unsub := m.unsub
	m.unsub = nil
	m.stopLocked()
	m.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	m.wg.Wait()
}

// Serial is the serial of the monitored device, or "".
func (m *Monitor) Serial() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.serial
}

func (m *Monitor) sync(st connect.State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.parent == nil || st.Connected == m.serial {
		return
	}
	m.stopLocked()
	if st.Connected == "" {
		return
	}
	sess := m.src.Session()
	b := m.src.ConnectedBackend()
	if sess == nil || b == nil || b.Serial() != st.Connected {
		return
	}

	ctx, cancel := context.WithCancel(m.parent)
	m.serial, m.name, m.sess, m.cancel = b.Serial(), b.Name(), sess, cancel
	m.gen++
	gen := m.gen
	m.log.Info().Str("serial", b.Name()).Msg("monitoring device")

	sampler := &telemetry.Sampler{
		Device:    sess,
		Interval:  m.opts.Telemetry.Interval.Std(),
		Interface: m.opts.Telemetry.Interface,
		Logger:    m.opts.Logger,
	}
	record := m.opts.History.Sink(ctx, b.Serial())
	m.wg.Add(2)
	go func() {
		defer m.wg.Done()
		sampler.Run(ctx, func(s telemetry.Sample) {
			if !m.apply(gen, func() { m.opts.Snapshot.Update(s) }) {
				return
			}
			record(s)
			m.changed()
		})
	}()
	go func() {
		defer m.wg.Done()
		m.collect(ctx, gen, sess, b.Name())
	}()
}

// stopLocked cancels the running collection and clears the snapshot.
func (m *Monitor) stopLocked() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	m.log.Info().Str("serial", m.name).Msg("monitoring stopped")
	m.cancel, m.serial, m.name, m.sess = nil, "", "", nil
	m.gen++
	m.opts.Snapshot.Reset()
	go m.changed()
}

// apply runs write while gen is still the live collection. Holding m.mu
// keeps stopLocked's Reset from slipping in between the check and write.
func (m *Monitor) apply(gen int, write func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return false
	}
	write()
	return true
}

func (m *Monitor) changed() {
	if m.opts.OnChange != nil {
		m.opts.OnChange()
	}
}

// Refresh collects the system information and package list again.
func (m *Monitor) Refresh(ctx context.Context) error {
	m.mu.Lock()
	sess, name, gen := m.sess, m.name, m.gen
	m.mu.Unlock()
	if sess == nil {
		return ErrNotConnected
	}
	m.collect(ctx, gen, sess, name)
	return nil
}

func (m *Monitor) collect(ctx context.Context, gen int, sess backend.Session, name string) {
	c := telemetry.Collector{Exec: sess.Exec, Interface: m.opts.Telemetry.Interface}
	rows := c.SystemInfo(ctx, name)
	if ctx.Err() != nil || !m.apply(gen, func() { m.opts.Snapshot.SetRows(rows) }) {
		return
	}
	m.changed()

	pkgs, err := c.Packages(ctx, m.opts.Telemetry.PackageFilter)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		m.log.Warn().Err(err).Msg("list packages")
		return
	}
	if m.apply(gen, func() { m.opts.Snapshot.SetPackages(pkgs) }) {
		m.changed()
	}
}
