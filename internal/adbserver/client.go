// Package adbserver talks to the local adb server (127.0.0.1:5037), which
// owns USB-attached devices. Requests use the smart-socket protocol: a
// four-hex-digit length, the request text, then an OKAY or FAIL reply.
package adbserver

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// DefaultAddr is where the platform tools' adb server listens.
const DefaultAddr = "127.0.0.1:5037"

var tracer = otel.Tracer("adbdash/adbserver")

// ServerError is a FAIL reply.
type ServerError struct {
	Request string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("adb server: %s: %s", e.Request, e.Message)
}

// DeviceInfo is one row of "host:devices-l".
type DeviceInfo struct {
	Serial      string
	State       string
	Product     string
	Model       string
	Device      string
	USB         string
	TransportID int
}

// Online reports whether the device accepts commands.
func (d DeviceInfo) Online() bool { return d.State == "device" }

// Client issues requests to one adb server.
type Client struct {
	addr        string
	dialTimeout time.Duration
	log         zerolog.Logger
}

// New returns a client for addr (DefaultAddr when empty).
func New(addr string, log zerolog.Logger) *Client {
	if addr == "" {
		addr = DefaultAddr
	}
	return &Client{
		addr:        addr,
		dialTimeout: 3 * time.Second,
		log:         log.With().Str("component", "adbserver").Logger(),
	}
}

// Addr returns the server address.
func (c *Client) Addr() string { return c.addr }

func (c *Client) dial(ctx context.Context) (net.Conn, error) {
	d := net.Dialer{Timeout: c.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return nil, fmt.Errorf("dial adb server %s: %w", c.addr, err)
	}
	return conn, nil
}

// send writes one request and waits for its status.
func send(conn net.Conn, req string) error {
	if _, err := fmt.Fprintf(conn, "%04x%s", len(req), req); err != nil {
		return fmt.Errorf("send %q: %w", req, err)
	}
	return readStatus(conn, req)
}

func readStatus(r io.Reader, req string) error {
	var status [4]byte
	if _, err := io.ReadFull(r, status[:]); err != nil {
		return fmt.Errorf("read status for %q: %w", req, err)
	}
	switch string(status[:]) {
	case "OKAY":
		return nil
	case "FAIL":
		msg, err := readString(r)
		if err != nil {
			return fmt.Errorf("read failure for %q: %w", req, err)
		}
		return &ServerError{Request: req, Message: msg}
	default:
		return fmt.Errorf("adb server: unexpected status %q for %q", status[:], req)
	}
}

// readString reads a hex length followed by that many bytes.
func readString(r io.Reader) (string, error) {
	var hexLen [4]byte
	if _, err := io.ReadFull(r, hexLen[:]); err != nil {
		return "", err
	}
	n, err := strconv.ParseUint(string(hexLen[:]), 16, 32)
	if err != nil {
		return "", fmt.Errorf("bad length prefix %q", hexLen[:])
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// query runs a host request that answers with one length-prefixed string.
func (c *Client) query(ctx context.Context, req string) (string, error) {
	ctx, span := tracer.Start(ctx, "adbserver.query", oteltrace.WithAttributes(
		attribute.String("adb.request", req),
	))
	defer span.End()

	conn, err := c.dial(ctx)
	if err != nil {
		span.RecordError(err)
		return "", err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := send(conn, req); err != nil {
		span.RecordError(err)
		return "", err
	}
	out, err := readString(conn)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("read reply to %q: %w", req, err)
	}
	return out, nil
}

// Version returns the server's protocol version. It doubles as the probe
// for whether USB devices can be reached at all.
func (c *Client) Version(ctx context.Context) (int, error) {
	out, err := c.query(ctx, "host:version")
	if err != nil {
		return 0, err
	}
	v, err := strconv.ParseInt(strings.TrimSpace(out), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("parse adb server version %q: %w", out, err)
	}
	return int(v), nil
}

// Devices lists every device the server knows, in any state.
func (c *Client) Devices(ctx context.Context) ([]DeviceInfo, error) {
	out, err := c.query(ctx, "host:devices-l")
	if err != nil {
		return nil, err
	}
	return ParseDevices(out), nil
}

// Features returns the feature list negotiated with serial.
func (c *Client) Features(ctx context.Context, serial string) ([]string, error) {
	out, err := c.query(ctx, "host-serial:"+serial+":features")
	if err != nil {
		return nil, err
	}
	var features []string
	for _, f := range strings.Split(strings.TrimSpace(out), ",") {
		if f != "" {
			features = append(features, f)
		}
	}
	return features, nil
}

// Track calls fn with the full device list every time it changes, starting
// with the current list, until ctx is done. It returns nil on cancellation
// and an error when the server connection fails.
func (c *Client) Track(ctx context.Context, fn func([]DeviceInfo)) error {
	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := send(conn, "host:track-devices-l"); err != nil {
		return err
	}
	for {
		out, err := readString(conn)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("track devices: %w", err)
		}
		fn(ParseDevices(out))
	}
}

// openService switches a fresh connection to serial and opens service on
// it. The returned connection carries the service's byte stream.
func (c *Client) openService(ctx context.Context, serial, service string) (net.Conn, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := send(conn, "host:transport:"+serial); err != nil {
		conn.Close()
		return nil, err
	}
	if err := send(conn, service); err != nil {
		conn.Close()
		return nil, err
	}
	if ctx.Err() != nil {
		conn.Close()
		return nil, ctx.Err()
	}
	return conn, nil
}

var deviceKeys = map[string]bool{
	"usb":          true,
	"product":      true,
	"model":        true,
	"device":       true,
	"transport_id": true,
}

// ParseDevices parses "host:devices-l" output:
//
//	emulator-5554  device product:sdk_phone model:Pixel_7 device:emu64 transport_id:1
func ParseDevices(out string) []DeviceInfo {
	var devices []DeviceInfo
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		d := DeviceInfo{Serial: fields[0]}
		// the state may be several words ("no permissions (...)")
		i := 1
		var state []string
		for ; i < len(fields); i++ {
			if k, _, ok := strings.Cut(fields[i], ":"); ok && deviceKeys[k] {
				break
			}
			state = append(state, fields[i])
		}
		for _, f := range fields[i:] {
			k, v, _ := strings.Cut(f, ":")
			switch k {
			case "product":
				d.Product = v
			case "model":
				d.Model = v
			case "device":
				d.Device = v
			case "usb":
				d.USB = v
			case "transport_id":
				d.TransportID, _ = strconv.Atoi(v)
			}
		}
		d.State = strings.Join(state, " ")
		devices = append(devices, d)
	}
	return devices
}
