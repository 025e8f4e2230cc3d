package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"adbdash/internal/adb"
)

type fakeDevice struct {
	mu       sync.Mutex
	outputs  map[string][]string // successive outputs; the last one repeats
	calls    map[string]int
	cpu      []string
	streams  int
	handlers []func()
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{outputs: make(map[string][]string), calls: make(map[string]int)}
}

func (d *fakeDevice) set(cmd string, outs ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.outputs[cmd] = outs
}

func (d *fakeDevice) count(cmd string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[cmd]
}

func (d *fakeDevice) Exec(ctx context.Context, cmd string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	outs, ok := d.outputs[cmd]
	n := d.calls[cmd]
	d.calls[cmd]++
	if !ok || len(outs) == 0 {
		return "", &adb.CommandError{Command: cmd, ExitCode: 127}
	}
	if n >= len(outs) {
		n = len(outs) - 1
	}
	return outs[n], nil
}

func (d *fakeDevice) OpenStream(ctx context.Context, cmd string) (*adb.Stream, error) {
	d.mu.Lock()
	d.streams++
	chunks := d.cpu
	d.mu.Unlock()
	if chunks == nil {
		return nil, errors.New("no top")
	}
	host, dev := net.Pipe()
	go func() {
		defer dev.Close()
		for _, c := range chunks {
			if _, err := dev.Write([]byte(c)); err != nil {
				return
			}
		}
		// hold the stream open until the host closes it
		dev.Read(make([]byte, 1))
	}()
	return adb.NewConnStream(host, nil), nil
}

func (d *fakeDevice) OnDisconnected(fn func()) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers = append(d.handlers, fn)
	return func() {}
}

func (d *fakeDevice) disconnect() {
	d.mu.Lock()
	hs := d.handlers
	d.mu.Unlock()
	for _, fn := range hs {
		fn()
	}
}

type recorder struct {
	mu      sync.Mutex
	samples []Sample
}

func (r *recorder) sink(s Sample) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.samples = append(r.samples, s)
}

func (r *recorder) values(m Metric) []float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []float64
	for _, s := range r.samples {
		if s.Metric == m {
			out = append(out, s.Value)
		}
	}
	return out
}

func netDevOutput(rx, tx uint64) string {
	return fmt.Sprintf(" wlan0: %d 0 0 0 0 0 0 0 %d 0 0 0 0 0 0 0\n", rx, tx)
}

// fakeClock advances one second per reading.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Second)
	return c.t
}

func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSamplerReportsEveryMetric(t *testing.T) {
	dev := newFakeDevice()
	dev.set(CmdNetDev, netDevOutput(1000, 500), netDevOutput(3000, 1500))
	dev.set(CmdTemperature, "45000\n")
	dev.set(CmdMemInfo, "Total RAM: 1,000K\nUsed RAM: 400K\nLost RAM: 100K\n")
	dev.set(CmdDisk, "/dev/block/dm-2 4G 1G 3G 25% /data\n")
	dev.cpu = []string{"CPU: ", "37% usr\n"}

	clock := &fakeClock{t: time.Unix(0, 0)}
	s := &Sampler{Device: dev, Interval: 5 * time.Millisecond, Now: clock.now}
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, rec.sink)
		close(done)
	}()

	waitUntil(t, "two rx samples", func() bool { return len(rec.values(MetricRx)) >= 2 })
	waitUntil(t, "cpu sample", func() bool { return len(rec.values(MetricCPU)) >= 1 })
	cancel()
	<-done

	rx := rec.values(MetricRx)
	if rx[0] != 0 {
		t.Errorf("first rx rate = %v, want 0", rx[0])
	}
	if rx[1] <= 0 {
		t.Errorf("second rx rate = %v, want positive", rx[1])
	}
	if got := rec.values(MetricTemperature); len(got) == 0 || got[0] != 45 {
		t.Errorf("temperature samples = %v, want 45", got)
	}
	if got := rec.values(MetricMemory); len(got) == 0 || got[0] != 50 {
		t.Errorf("memory samples = %v, want 50", got)
	}
	if got := rec.values(MetricDisk); len(got) == 0 || got[0] != 25 {
		t.Errorf("disk samples = %v, want 25", got)
	}
	if got := rec.values(MetricCPU); got[0] != 37 {
		t.Errorf("cpu samples = %v, want 37", got)
	}
}

func TestSamplerSurvivesBadTicks(t *testing.T) {
	dev := newFakeDevice()
	dev.set(CmdTemperature, "garbage", "", "41\n")
	// memory and disk commands fail outright
	s := &Sampler{Device: dev, Interval: 2 * time.Millisecond}
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		s.Run(ctx, rec.sink)
		close(done)
	}()

	waitUntil(t, "temperature after bad ticks", func() bool { return len(rec.values(MetricTemperature)) > 0 })
	waitUntil(t, "repeated memory polls", func() bool { return dev.count(CmdMemInfo) >= 3 })
	waitUntil(t, "cpu stream retries", func() bool {
		dev.mu.Lock()
		defer dev.mu.Unlock()
		return dev.streams >= 2
	})
	if got := rec.values(MetricMemory); len(got) != 0 {
		t.Errorf("memory samples from failing command: %v", got)
	}
	cancel()
	<-done
}

func TestSamplerStopsOnDisconnect(t *testing.T) {
	dev := newFakeDevice()
	dev.cpu = []string{"CPU: 5%\n"}
	s := &Sampler{Device: dev, Interval: time.Hour}
	done := make(chan struct{})
	go func() {
		s.Run(context.Background(), func(Sample) {})
		close(done)
	}()
	waitUntil(t, "handler registration", func() bool {
		dev.mu.Lock()
		defer dev.mu.Unlock()
		return len(dev.handlers) == 1
	})
	dev.disconnect()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after disconnect")
	}
}

func TestSnapshot(t *testing.T) {
	s := NewSnapshot()
	t0 := time.Unix(100, 0)
	s.Update(Sample{Metric: MetricCPU, Value: 10, Time: t0})
	s.Update(Sample{Metric: MetricTemperature, Value: 40, Time: t0.Add(time.Second)})
	s.Update(Sample{Metric: MetricCPU, Value: 20, Time: t0.Add(2 * time.Second)})

	if v, ok := s.Get(MetricCPU); !ok || v.Value != 20 {
		t.Errorf("Get(cpu) = %+v, %v", v, ok)
	}
	if _, ok := s.Get(MetricDisk); ok {
		t.Error("Get(disk) found a sample that was never recorded")
	}
	got := s.Samples()
	if len(got) != 2 || got[0].Metric != MetricCPU || got[1].Metric != MetricTemperature {
		t.Errorf("Samples = %+v, want cpu then temp", got)
	}
	if !s.Updated().Equal(t0.Add(2 * time.Second)) {
		t.Errorf("Updated = %v", s.Updated())
	}

	rows := []Row{{Key: "k", Name: "n", Value: "v"}}
	s.SetRows(rows)
	rows[0].Value = "changed"
	if s.Rows()[0].Value != "v" {
		t.Error("SetRows kept a reference to the caller's slice")
	}

	s.Reset()
	if len(s.Samples()) != 0 || len(s.Rows()) != 0 || !s.Updated().IsZero() {
		t.Error("Reset left data behind")
	}
}

func TestCollectSystemInfo(t *testing.T) {
	dev := newFakeDevice()
	dev.set(CmdProps, "[ro.product.model]: [X1]\n[ro.product.brand]: [Acme]\n[ro.other]: [skip]\n")
	dev.set(CmdCPUSerial, "Serial\t: 00ff\n")
	dev.set(CmdUptime, "3661.2 10.0\n")
	dev.set(CmdCameraCount, "Number of camera devices: 2\n")
	dev.set(CmdCameraOpen, "1\n")
	dev.set(CmdNetDev, netDevOutput(2048, 1024))
	dev.set(CmdDisk, "/dev/block/dm-2 24G 6.0G 18G 25% /data\n")
	dev.set(CmdMemInfo, "Total RAM: 2,097,152K\nUsed RAM: 1,048,576K\nLost RAM: 0K\n")
	// no display command output: the row is dropped

	rows := CollectSystemInfo(context.Background(), dev.Exec, "aliyun_68694")
	got := make(map[string]string)
	var keys []string
	for _, r := range rows {
		got[r.Key] = r.Value
		keys = append(keys, r.Key)
	}

	want := map[string]string{
		"id":               "68694",
		"ro.product.model": "X1",
		"ro.product.brand": "Acme",
		"serial":           "00ff",
		"boottime":         "01:01:01",
		"cameranum":        "2",
		"cameraopened":     "1",
		"nettraffic":       "received 2.0 KiB, sent 1.0 KiB",
		"diskused":         "6.0G / 24G",
		"memused":          "1.0 GiB / 2.0 GiB",
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("row %s = %q, want %q", k, got[k], v)
		}
	}
	if _, ok := got["displaysize"]; ok {
		t.Error("display row present although the command failed")
	}
	if _, ok := got["ro.other"]; ok {
		t.Error("unlabelled property shown")
	}
	if keys[0] != "id" || keys[1] != "ro.product.model" || keys[2] != "ro.product.brand" {
		t.Errorf("row order = %v", keys)
	}
}

func TestCollectPackages(t *testing.T) {
	dev := newFakeDevice()
	cmd := PackagesCommand("com\\.example.*")
	dev.set(cmd, "Package [com.example.a] (1):\n versionName=1.2\n lastUpdateTime=2024-01-01 00:00:00\n")
	pkgs, err := CollectPackages(context.Background(), dev.Exec, "com\\.example.*")
	if err != nil {
		t.Fatalf("CollectPackages: %v", err)
	}
	if len(pkgs) != 1 || pkgs[0].Name != "com.example.a" || pkgs[0].Version != "1.2" {
		t.Errorf("packages = %+v", pkgs)
	}
	if _, err := CollectPackages(context.Background(), dev.Exec, "other"); err == nil {
		t.Error("CollectPackages succeeded although the command failed")
	}
}

func TestPackagesCommand(t *testing.T) {
	if got := PackagesCommand(""); !strings.Contains(got, "pm list packages -3") {
		t.Errorf("empty filter should list third-party packages: %s", got)
	}
	got := PackagesCommand("it's")
	if !strings.Contains(got, `grep -E 'it'\''s'`) {
		t.Errorf("filter not quoted: %s", got)
	}
}

func TestFormatHelpers(t *testing.T) {
	if got := FormatKB(1024); got != "1.0 MiB" {
		t.Errorf("FormatKB(1024) = %q", got)
	}
	if got := FormatRate(2048); got != "2.0 KiB/s" {
		t.Errorf("FormatRate(2048) = %q", got)
	}
	if got := FormatRate(-5); got != "0 B/s" {
		t.Errorf("FormatRate(-5) = %q", got)
	}
}
