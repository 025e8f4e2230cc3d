// Package config loads the adbdash configuration file and its environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"adbdash/internal/backend"

	"gopkg.in/yaml.v3"
)

const (
	// HomeEnv is the env var override for ~/.adbdash.
	HomeEnv = "ADBDASH_HOME"
	// DefaultHome is the default state directory under $HOME.
	DefaultHome = ".adbdash"

	EnvADBServer  = "ADBDASH_ADB_SERVER"
	EnvStatusPort = "ADBDASH_STATUS_PORT"
	EnvLogLevel   = "ADBDASH_LOG_LEVEL"
	EnvHistory    = "ADBDASH_HISTORY"
)

// ResolveHome returns the state directory, using ADBDASH_HOME if set,
// otherwise ~/.adbdash.
func ResolveHome() (string, error) {
	if base := os.Getenv(HomeEnv); base != "" {
		return base, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DefaultHome), nil
}

// Config is the whole configuration file.
type Config struct {
	ADBServer ADBServer `yaml:"adb_server"`
	WebSocket WebSocket `yaml:"websocket"`
	TCP       TCP       `yaml:"tcp"`
	Auth      Auth      `yaml:"auth"`
	Telemetry Telemetry `yaml:"telemetry"`
	Status    Status    `yaml:"status"`
	History   History   `yaml:"history"`
	Logging   Logging   `yaml:"logging"`
}

// ADBServer is the local adb server that owns USB devices.
type ADBServer struct {
	Addr    string `yaml:"addr"`
	Enabled bool   `yaml:"enabled"`
}

// WebSocket configures the tunnelling proxy.
type WebSocket struct {
	ProxyURL        string               `yaml:"proxy_url"`
	Devices         []backend.Credential `yaml:"devices"`
	DeviceListURL   string               `yaml:"device_list_url"`
	RefreshInterval Duration             `yaml:"refresh_interval"`
}

// TCP lists devices reachable with adb over TCP.
type TCP struct {
	Targets []string `yaml:"targets"`
}

// Auth locates the RSA key used for device authorization.
type Auth struct {
	KeyPath string `yaml:"key_path"`
}

// Telemetry tunes the device info sampler.
type Telemetry struct {
	Interval      Duration `yaml:"interval"`
	Interface     string   `yaml:"interface"`
	PackageFilter string   `yaml:"package_filter"`
}

// Status is the read-only HTTP status server.
type Status struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// History is the SQLite telemetry recorder. An empty path disables it.
type History struct {
	Path string `yaml:"path"`
	// Retention drops older samples at startup; zero keeps everything.
	Retention Duration `yaml:"retention"`
}

// Logging configures the log file and level.
type Logging struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Duration is a time.Duration written as "2s" in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Default returns the configuration used when no file exists. home is the
// state directory from ResolveHome.
func Default(home string) Config {
	return Config{
		ADBServer: ADBServer{Addr: "127.0.0.1:5037", Enabled: true},
		WebSocket: WebSocket{RefreshInterval: Duration(10 * time.Second)},
		Auth:      Auth{KeyPath: defaultKeyPath()},
		Telemetry: Telemetry{Interval: Duration(2 * time.Second), Interface: "wlan0"},
		Status:    Status{Port: 9877},
		History:   History{Retention: Duration(7 * 24 * time.Hour)},
		Logging:   Logging{Level: "info", File: filepath.Join(home, "adbdash.log")},
	}
}

func defaultKeyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".android", "adbkey")
}

// Load reads path on top of the defaults and applies environment
// overrides. A missing file is not an error. An empty path means
// <home>/config.yaml.
func Load(path string) (Config, error) {
	home, err := ResolveHome()
	if err != nil {
		return Config{}, err
	}
	cfg := Default(home)
	if path == "" {
		path = filepath.Join(home, "config.yaml")
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return Config{}, fmt.Errorf("read config: %w", err)
	default:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	if v := os.Getenv(EnvADBServer); v != "" {
		c.ADBServer.Addr = v
		c.ADBServer.Enabled = true
	}
	if v := os.Getenv(EnvStatusPort); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvStatusPort, err)
		}
		c.Status.Port = p
		c.Status.Enabled = true
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv(EnvHistory); v != "" {
		c.History.Path = v
	}
	return nil
}

// Validate rejects settings that cannot work.
func (c Config) Validate() error {
	var errs []error
	if c.WebSocket.RefreshInterval <= 0 {
		errs = append(errs, errors.New("websocket.refresh_interval must be positive"))
	}
	if c.Telemetry.Interval <= 0 {
		errs = append(errs, errors.New("telemetry.interval must be positive"))
	}
	if c.ADBServer.Enabled {
		if _, _, err := net.SplitHostPort(c.ADBServer.Addr); err != nil {
			errs = append(errs, fmt.Errorf("adb_server.addr: %w", err))
		}
	}
	if c.WebSocket.ProxyURL != "" {
		if err := checkURL(c.WebSocket.ProxyURL, "ws", "wss"); err != nil {
			errs = append(errs, fmt.Errorf("websocket.proxy_url: %w", err))
		}
	}
	if len(c.WebSocket.Devices) > 0 && c.WebSocket.ProxyURL == "" {
		errs = append(errs, errors.New("websocket.devices needs websocket.proxy_url"))
	}
	if c.WebSocket.DeviceListURL != "" {
		if err := checkURL(c.WebSocket.DeviceListURL, "http", "https"); err != nil {
			errs = append(errs, fmt.Errorf("websocket.device_list_url: %w", err))
		}
	}
	for _, t := range c.TCP.Targets {
		if strings.TrimSpace(t) == "" {
			errs = append(errs, errors.New("tcp.targets: empty target"))
		}
	}
	if c.History.Retention < 0 {
		errs = append(errs, errors.New("history.retention must not be negative"))
	}
	if c.Status.Port < 0 || c.Status.Port > 65535 {
		errs = append(errs, fmt.Errorf("status.port %d out of range", c.Status.Port))
	}
	return errors.Join(errs...)
}

func checkURL(raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	for _, s := range schemes {
		if u.Scheme == s {
			if u.Host == "" {
				return errors.New("missing host")
			}
			return nil
		}
	}
	return fmt.Errorf("scheme %q not one of %s", u.Scheme, strings.Join(schemes, ", "))
}
