package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"adbdash/internal/adb"
	"adbdash/internal/backend"
	"adbdash/internal/config"
	"adbdash/internal/connect"
	"adbdash/internal/logging"

	"github.com/rs/zerolog"
)

type globals struct {
	configPath string
	device     string
	verbose    bool
}

// env is what every command shares: configuration, logger and a
// controller over the configured sources.
type env struct {
	cfg    config.Config
	log    zerolog.Logger
	ctrl   *connect.Controller
	device string
	out    io.Writer
	closer io.Closer
}

func newEnv(g globals) (*env, error) {
	cfg, err := config.Load(g.configPath)
	if err != nil {
		return nil, err
	}
	lc := cfg.Logging
	if !g.verbose {
		lc.Level = "warn"
	}
	log, closer, err := logging.New(logging.Options{Logging: lc, Console: true})
	if err != nil {
		return nil, err
	}
	keys, err := adb.LoadKeyStore(cfg.Auth.KeyPath)
	if err != nil {
		closer.Close()
		return nil, err
	}
	ctrl := connect.New(connect.OptionsFromConfig(cfg, keys, nil, log))
	return &env{cfg: cfg, log: log, ctrl: ctrl, device: g.device, out: os.Stdout, closer: closer}, nil
}

func (e *env) Close() {
	e.ctrl.Disconnect()
	e.closer.Close()
}

// refresh fills the controller's backend list once.
func (e *env) refresh(ctx context.Context) error {
	if err := e.ctrl.RefreshUSB(ctx); err != nil {
		e.log.Warn().Err(err).Msg("usb devices")
	}
	return e.ctrl.RefreshRemote(ctx)
}

// pick returns the backend named by --device, or the first one.
func (e *env) pick(ctx context.Context) (backend.Backend, error) {
	if err := e.refresh(ctx); err != nil {
		e.log.Warn().Err(err).Msg("remote devices")
	}
	backends := e.ctrl.State().Backends
	if len(backends) == 0 {
		return nil, fmt.Errorf("no devices found")
	}
	if e.device == "" {
		return backends[0], nil
	}
	for _, b := range backends {
		if b.Serial() == e.device || b.Name() == e.device {
			return b, nil
		}
	}
	return nil, fmt.Errorf("device %q not found", e.device)
}

// connect opens a session on the picked device.
func (e *env) connect(ctx context.Context) (backend.Session, backend.Backend, error) {
	b, err := e.pick(ctx)
	if err != nil {
		return nil, nil, err
	}
	if err := e.ctrl.Select(b.Serial()); err != nil {
		return nil, nil, err
	}
	if err := e.ctrl.Connect(ctx); err != nil {
		return nil, nil, err
	}
	return e.ctrl.Session(), b, nil
}
