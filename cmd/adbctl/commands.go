package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"adbdash/internal/adb"
	"adbdash/internal/connect"
	"adbdash/internal/history"
	"adbdash/internal/telemetry"
	"adbdash/internal/term"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/pflag"
)

var headerStyle = lipgloss.NewStyle().Bold(true)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.HiddenBorder()).
		Headers(headers...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return lipgloss.NewStyle()
		})
}

func runDevices(ctx context.Context, e *env, args []string) error {
	if err := e.refresh(ctx); err != nil {
		e.log.Warn().Err(err).Msg("remote devices")
	}
	st := e.ctrl.State()
	if e.cfg.ADBServer.Enabled && !st.Supported {
		fmt.Fprintln(os.Stderr, "USB devices unavailable (is the adb server running?)")
	}
	if len(st.Backends) == 0 {
		fmt.Fprintln(e.out, "no devices")
		return nil
	}
	t := newTable("KIND", "SERIAL", "NAME")
	for _, b := range st.Backends {
		t.Row(string(b.Kind()), b.Serial(), b.Name())
	}
	fmt.Fprintln(e.out, t.Render())
	return nil
}

func runExec(ctx context.Context, e *env, args []string) error {
	if len(args) == 0 {
		return errors.New("exec: missing command")
	}
	sess, _, err := e.connect(ctx)
	if err != nil {
		return err
	}
	out, err := sess.Exec(ctx, strings.Join(args, " "))
	var cmdErr *adb.CommandError
	if errors.As(err, &cmdErr) {
		out = cmdErr.Output
	}
	fmt.Fprint(e.out, out)
	return err
}

func runInfo(ctx context.Context, e *env, args []string) error {
	sess, b, err := e.connect(ctx)
	if err != nil {
		return err
	}
	c := telemetry.Collector{Exec: sess.Exec, Interface: e.cfg.Telemetry.Interface}

	t := newTable("PROPERTY", "VALUE")
	for _, r := range c.SystemInfo(ctx, b.Name()) {
		t.Row(r.Name, r.Value)
	}
	fmt.Fprintln(e.out, t.Render())

	pkgs, err := c.Packages(ctx, e.cfg.Telemetry.PackageFilter)
	if err != nil {
		return fmt.Errorf("packages: %w", err)
	}
	pt := newTable("PACKAGE", "VERSION", "UPDATED")
	for _, p := range pkgs {
		pt.Row(p.Name, p.Version, p.LastUpdated)
	}
	fmt.Fprintf(e.out, "\n%d packages\n%s\n", len(pkgs), pt.Render())
	return nil
}

func runTop(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("top", pflag.ContinueOnError)
	count := fs.IntP("count", "n", 0, "stop after N samples (0: until interrupted)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	sess, _, err := e.connect(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	samples := make(chan telemetry.Sample, 16)
	s := &telemetry.Sampler{
		Device:    sess,
		Interval:  e.cfg.Telemetry.Interval.Std(),
		Interface: e.cfg.Telemetry.Interface,
		Logger:    e.log,
	}
	go func() {
		s.Run(ctx, func(sample telemetry.Sample) {
			select {
			case samples <- sample:
			case <-ctx.Done():
			}
		})
		close(samples)
	}()

	n := 0
	for sample := range samples {
		fmt.Fprintf(e.out, "%s %-5s %s\n", sample.Time.Format(time.TimeOnly), sample.Metric, formatValue(sample))
		n++
		if *count > 0 && n >= *count {
			cancel()
		}
	}
	return nil
}

func formatValue(s telemetry.Sample) string {
	if s.Metric == telemetry.MetricRx || s.Metric == telemetry.MetricTx {
		return telemetry.FormatRate(s.Value)
	}
	return fmt.Sprintf("%.1f%s", s.Value, s.Metric.Unit())
}

func runShell(ctx context.Context, e *env, args []string) error {
	sess, _, err := e.connect(ctx)
	if err != nil {
		return err
	}
	st, err := sess.OpenStream(ctx, strings.Join(args, " "))
	if err != nil {
		return err
	}
	return term.Bridge(ctx, st, os.Stdin, e.out)
}

func runWatch(ctx context.Context, e *env, args []string) error {
	changed := make(chan struct{}, 1)
	unsub := e.ctrl.Subscribe(func(connect.State) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer unsub()
	e.ctrl.Start(ctx)
	defer e.ctrl.Stop()

	seen := map[string]bool{}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-e.ctrl.Events():
			line := fmt.Sprintf("%s %s %s", time.Now().Format(time.TimeOnly), ev.Kind, ev.Serial)
			if ev.Err != nil {
				line += ": " + ev.Err.Error()
			}
			fmt.Fprintln(e.out, line)
		case <-changed:
			now := map[string]bool{}
			for _, b := range e.ctrl.State().Backends {
				now[b.Serial()] = true
				if !seen[b.Serial()] {
					fmt.Fprintf(e.out, "%s + %s %s (%s)\n", time.Now().Format(time.TimeOnly), b.Kind(), b.Serial(), b.Name())
				}
			}
			for serial := range seen {
				if !now[serial] {
					fmt.Fprintf(e.out, "%s - %s\n", time.Now().Format(time.TimeOnly), serial)
				}
			}
			seen = now
		}
	}
}

func runHistory(ctx context.Context, e *env, args []string) error {
	fs := pflag.NewFlagSet("history", pflag.ContinueOnError)
	metric := fs.StringP("metric", "m", string(telemetry.MetricCPU), "metric to print (cpu, mem, disk, rx, tx, temp)")
	limit := fs.IntP("limit", "n", 20, "number of samples")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if e.cfg.History.Path == "" {
		return errors.New("history is disabled (set history.path)")
	}
	if e.device == "" {
		return errors.New("history needs --device with a serial")
	}
	store, err := history.Open(e.cfg.History.Path, e.log)
	if err != nil {
		return err
	}
	defer store.Close()

	samples, err := store.Recent(ctx, e.device, telemetry.Metric(*metric), *limit)
	if err != nil {
		return err
	}
	t := newTable("TIME", "VALUE")
	for _, s := range samples {
		t.Row(s.Time.Format(time.DateTime), formatValue(s))
	}
	fmt.Fprintln(e.out, t.Render())
	return nil
}
