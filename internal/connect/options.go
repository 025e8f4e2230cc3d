package connect

import (
	"net/http"
	"time"

	"adbdash/internal/adb"
	"adbdash/internal/adbserver"
	"adbdash/internal/backend"
	"adbdash/internal/config"

	"github.com/rs/zerolog"
)

// listTimeout bounds one fetch of the remote device list.
const listTimeout = 15 * time.Second

// OptionsFromConfig builds controller options for cfg: the adb server as
// the USB source when enabled, then the TCP targets, the configured proxy
// logins and the device-list endpoint as remote sources. The requester is
// left to the caller.
func OptionsFromConfig(cfg config.Config, keys *adb.KeyStore, packets adb.PacketLogger, log zerolog.Logger) Options {
	opts := Options{
		RefreshInterval: cfg.WebSocket.RefreshInterval.Std(),
		ConnectOptions:  adb.Options{Keys: keys, Logger: packets, Log: log},
		Logger:          log,
	}
	if cfg.ADBServer.Enabled {
		opts.USB = backend.NewServerSource(adbserver.New(cfg.ADBServer.Addr, log))
	}
	if len(cfg.TCP.Targets) > 0 {
		opts.Remote = append(opts.Remote, &backend.TCPSource{Targets: cfg.TCP.Targets})
	}
	if cfg.WebSocket.ProxyURL != "" && len(cfg.WebSocket.Devices) > 0 {
		opts.Remote = append(opts.Remote, &backend.StaticWebSocketSource{
			ProxyURL:    cfg.WebSocket.ProxyURL,
			Credentials: cfg.WebSocket.Devices,
		})
	}
	if cfg.WebSocket.DeviceListURL != "" {
		opts.Remote = append(opts.Remote, &backend.HTTPListSource{
			ListURL: cfg.WebSocket.DeviceListURL,
			Client:  &http.Client{Timeout: listTimeout},
		})
	}
	return opts
}
