package telemetry

import (
	"context"
	"sync"
	"time"

	"adbdash/internal/adb"

	"github.com/rs/zerolog"
)

// DefaultInterval is the polling period of the sampler.
const DefaultInterval = 2 * time.Second

// Metric names a sampled value.
type Metric string

const (
	MetricCPU         Metric = "cpu"
	MetricMemory      Metric = "mem"
	MetricDisk        Metric = "disk"
	MetricRx          Metric = "rx"
	MetricTx          Metric = "tx"
	MetricTemperature Metric = "temp"
)

// Metrics lists every metric in display order.
var Metrics = []Metric{MetricCPU, MetricMemory, MetricDisk, MetricRx, MetricTx, MetricTemperature}

// Unit returns the display unit of m.
func (m Metric) Unit() string {
	switch m {
	case MetricCPU, MetricMemory, MetricDisk:
		return "%"
	case MetricRx, MetricTx:
		return "B/s"
	case MetricTemperature:
		return "°C"
	}
	return ""
}

// Sample is one observation.
type Sample struct {
	Metric Metric    `json:"metric"`
	Value  float64   `json:"value"`
	Time   time.Time `json:"time"`
}

// Device is what the sampler needs from a session.
type Device interface {
	Exec(ctx context.Context, cmd string) (string, error)
	OpenStream(ctx context.Context, cmd string) (*adb.Stream, error)
}

// disconnecter is implemented by sessions that report transport drops.
type disconnecter interface {
	OnDisconnected(fn func()) (unsubscribe func())
}

// Sampler polls a device. Metrics are sampled by independent loops; a
// failed command or unparsable output drops that tick only.
type Sampler struct {
	Device    Device
	Interval  time.Duration
	Interface string
	Logger    zerolog.Logger
	// Now is time.Now when nil.
	Now func() time.Time
}

// Run samples until ctx is cancelled or the device disconnects. sink is
// called from several goroutines.
func (s *Sampler) Run(ctx context.Context, sink func(Sample)) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if d, ok := s.Device.(disconnecter); ok {
		unsubscribe := d.OnDisconnected(cancel)
		defer unsubscribe()
	}

	log := s.Logger.With().Str("component", "telemetry").Logger()
	cfg := *s
	r := &run{Sampler: &cfg, log: log, sink: sink}
	if r.Interval <= 0 {
		r.Interval = DefaultInterval
	}
	if r.Interface == "" {
		r.Interface = DefaultInterface
	}

	var wg sync.WaitGroup
	for _, loop := range []func(context.Context){r.network, r.temperature, r.storage, r.cpu} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			loop(ctx)
		}()
	}
	wg.Wait()
}

type run struct {
	*Sampler
	log  zerolog.Logger
	sink func(Sample)
}

func (r *run) now() time.Time {
	if r.Now != nil {
		return r.Now()
	}
	return time.Now()
}

func (r *run) emit(m Metric, v float64) {
	r.sink(Sample{Metric: m, Value: v, Time: r.now()})
}

// every runs fn now and then once per interval until ctx ends.
func (r *run) every(ctx context.Context, fn func(context.Context)) {
	fn(ctx)
	t := time.NewTicker(r.Interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			fn(ctx)
		}
	}
}

func (r *run) exec(ctx context.Context, metric Metric, cmd string) (string, bool) {
	out, err := r.Device.Exec(ctx, cmd)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Debug().Err(err).Str("metric", string(metric)).Msg("tick skipped")
		}
		return "", false
	}
	return out, true
}

func (r *run) skip(metric Metric, err error) {
	r.log.Debug().Err(err).Str("metric", string(metric)).Msg("tick skipped")
}

// network reports rx/tx rates from counter deltas. The first reading only
// sets the baseline and reports zero.
func (r *run) network(ctx context.Context) {
	var (
		last   time.Time
		rx, tx uint64
	)
	r.every(ctx, func(ctx context.Context) {
		out, ok := r.exec(ctx, MetricRx, CmdNetDev)
		if !ok {
			return
		}
		newRx, newTx, err := ParseNetDev(out, r.Interface)
		if err != nil {
			r.skip(MetricRx, err)
			return
		}
		now := r.now()
		rxRate, txRate := 0.0, 0.0
		if !last.IsZero() {
			secs := now.Sub(last).Seconds()
			if secs <= 0 {
				secs = r.Interval.Seconds()
			}
			rxRate = rate(rx, newRx, secs)
			txRate = rate(tx, newTx, secs)
		}
		last, rx, tx = now, newRx, newTx
		r.emit(MetricRx, rxRate)
		r.emit(MetricTx, txRate)
	})
}

// rate is zero when the counter went backwards (interface reset).
func rate(prev, cur uint64, secs float64) float64 {
	if cur < prev {
		return 0
	}
	return float64(cur-prev) / secs
}

func (r *run) temperature(ctx context.Context) {
	r.every(ctx, func(ctx context.Context) {
		out, ok := r.exec(ctx, MetricTemperature, CmdTemperature)
		if !ok {
			return
		}
		v, err := ParseTemperature(out)
		if err != nil {
			r.skip(MetricTemperature, err)
			return
		}
		r.emit(MetricTemperature, v)
	})
}

func (r *run) storage(ctx context.Context) {
	r.every(ctx, func(ctx context.Context) {
		if out, ok := r.exec(ctx, MetricMemory, CmdMemInfo); ok {
			if m, err := ParseMemInfo(out); err != nil {
				r.skip(MetricMemory, err)
			} else {
				r.emit(MetricMemory, m.Percent())
			}
		}
		if out, ok := r.exec(ctx, MetricDisk, CmdDisk); ok {
			if d, err := ParseDF(out, DataMount); err != nil {
				r.skip(MetricDisk, err)
			} else {
				r.emit(MetricDisk, d.Percent())
			}
		}
	})
}

// cpu follows a long-running top. When the stream cannot be opened or ends
// early it is reopened on the next interval.
func (r *run) cpu(ctx context.Context) {
	for {
		r.follow(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.Interval):
		}
	}
}

func (r *run) follow(ctx context.Context) {
	st, err := r.Device.OpenStream(ctx, CmdCPUTop)
	if err != nil {
		if ctx.Err() == nil {
			r.skip(MetricCPU, err)
		}
		return
	}
	defer st.Close()
	var p CPUParser
	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-st.Data():
			if !ok {
				return
			}
			if v, ok := p.Feed(chunk); ok {
				r.emit(MetricCPU, v)
			}
		}
	}
}
