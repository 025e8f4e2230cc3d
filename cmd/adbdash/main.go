package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"adbdash/internal/adb"
	"adbdash/internal/config"
	"adbdash/internal/connect"
	"adbdash/internal/eventlog"
	"adbdash/internal/history"
	"adbdash/internal/logging"
	"adbdash/internal/monitor"
	"adbdash/internal/statusapi"
	"adbdash/internal/telemetry"
	"adbdash/internal/trace"
	"adbdash/internal/ui"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

// packetBuffer is how many packets may queue for the log window.
const packetBuffer = 256

func main() {
	configPath := pflag.StringP("config", "c", "", "config file (default $ADBDASH_HOME/config.yaml)")
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: adbdash [flags]\n\n")
		fmt.Fprintf(os.Stderr, "adbdash is a terminal dashboard for Android devices reachable over\n")
		fmt.Fprintf(os.Stderr, "USB, adb over TCP or a WebSocket proxy.\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "adbdash: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, closer, err := logging.New(logging.Options{Logging: cfg.Logging})
	if err != nil {
		return err
	}
	defer closer.Close()
	log = log.With().Str("component", "adbdash").Logger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, err := trace.Init(ctx, "adbdash", trace.DefaultKeep)
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer tp.Shutdown(context.Background())

	keys, err := adb.LoadKeyStore(cfg.Auth.KeyPath)
	if err != nil {
		return err
	}
	packets := eventlog.New(eventlog.DefaultCapacity, packetBuffer)
	prompt := ui.NewDevicePrompt()

	opts := connect.OptionsFromConfig(cfg, keys, packets, log)
	opts.Requester = prompt.Requester()
	ctrl := connect.New(opts)

	store, err := openHistory(ctx, cfg.History, log)
	if err != nil {
		return err
	}
	defer store.Close()

	snap := telemetry.NewSnapshot()
	app := ui.NewAppModel(ui.Options{
		Controller: ctrl,
		Snapshot:   snap,
		Packets:    packets,
		Spans:      tp.Recorder(),
		Prompt:     prompt,
		Logger:     log,
	})
	defer app.Close()

	mon := monitor.New(ctrl, monitor.Options{
		Telemetry: cfg.Telemetry,
		Snapshot:  snap,
		History:   store,
		Logger:    log,
		OnChange:  app.NotifySnapshot,
	})
	app.SetMonitor(mon)

	if cfg.Status.Enabled {
		srv := statusapi.New(ctrl, snap, cfg.Status.Port, log)
		if err := srv.Start(); err != nil {
			log.Warn().Err(err).Msg("status server disabled")
		} else {
			defer func() {
				stopCtx, stop := context.WithTimeout(context.Background(), 2*time.Second)
				defer stop()
				srv.Stop(stopCtx)
			}()
		}
	}

	ctrl.Start(ctx)
	defer ctrl.Stop()
	// runs after the monitor stops so the device sees a clean close
	defer func() {
		if err := ctrl.Disconnect(); err != nil && !errors.Is(err, connect.ErrNotConnected) {
			log.Warn().Err(err).Msg("disconnect on exit")
		}
	}()
	mon.Start(ctx)
	defer mon.Stop()

	log.Info().Bool("exporting_spans", tp.Exporting).Msg("dashboard started")
	p := tea.NewProgram(app.AsTeaModel(), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return err
	}
	return nil
}

// openHistory opens the sample recorder and drops samples past retention.
// It returns nil when history is disabled.
func openHistory(ctx context.Context, cfg config.History, log zerolog.Logger) (*history.Store, error) {
	if cfg.Path == "" {
		return nil, nil
	}
	store, err := history.Open(cfg.Path, log)
	if err != nil {
		return nil, err
	}
	if cfg.Retention > 0 {
		n, err := store.Prune(ctx, time.Now().Add(-cfg.Retention.Std()))
		if err != nil {
			log.Warn().Err(err).Msg("prune history")
		} else if n > 0 {
			log.Info().Int64("samples", n).Msg("pruned history")
		}
	}
	return store, nil
}
