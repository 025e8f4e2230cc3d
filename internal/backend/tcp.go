package backend

import (
	"context"
	"fmt"
	"net"
	"time"

	"adbdash/internal/adb"
)

// DefaultTCPPort is adbd's port when "adb tcpip" is enabled.
const DefaultTCPPort = "5555"

// TCPBackend is a device whose adbd listens on a TCP port.
type TCPBackend struct {
	Addr        string
	DialTimeout time.Duration
}

// NewTCPBackend normalizes addr, adding the default port when missing.
func NewTCPBackend(addr string) *TCPBackend {
	return &TCPBackend{Addr: NormalizeAddr(addr), DialTimeout: 5 * time.Second}
}

// NormalizeAddr appends DefaultTCPPort to a bare host.
func NormalizeAddr(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, DefaultTCPPort)
}

func (b *TCPBackend) Serial() string { return b.Addr }
func (b *TCPBackend) Name() string   { return b.Addr }
func (b *TCPBackend) Kind() Kind     { return KindTCP }

// Connect dials the device and runs the ADB handshake.
func (b *TCPBackend) Connect(ctx context.Context, opts adb.Options) (Session, error) {
	d := net.Dialer{Timeout: b.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", b.Addr)
	if err != nil {
		return nil, &adb.ConnectionError{Target: b.Addr, Err: fmt.Errorf("dial: %w", err)}
	}
	opts.Target = b.Addr
	s, err := adb.Connect(ctx, conn, opts)
	if err != nil {
		return nil, err
	}
	return s, nil
}
