package backend

import (
	"context"
	"fmt"
	"sync"

	"adbdash/internal/adb"
	"adbdash/internal/adbserver"
)

// USBBackend is a device attached to the local adb server.
type USBBackend struct {
	Info   adbserver.DeviceInfo
	client *adbserver.Client
}

func (b *USBBackend) Serial() string { return b.Info.Serial }
func (b *USBBackend) Kind() Kind     { return KindUSB }

func (b *USBBackend) Name() string {
	if b.Info.Model != "" {
		return fmt.Sprintf("%s (%s)", b.Info.Model, b.Info.Serial)
	}
	return b.Info.Serial
}

// Connect attaches through the adb server. Packets are not visible on this
// path, so opts.Logger is unused.
func (b *USBBackend) Connect(ctx context.Context, _ adb.Options) (Session, error) {
	s, err := b.client.Connect(ctx, b.Info.Serial)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// ServerSource lists and watches the adb server's devices.
type ServerSource struct {
	client *adbserver.Client
}

// NewServerSource wraps an adb server client.
func NewServerSource(client *adbserver.Client) *ServerSource {
	return &ServerSource{client: client}
}

// Supported reports whether the adb server answers at all.
func (s *ServerSource) Supported(ctx context.Context) bool {
	_, err := s.client.Version(ctx)
	return err == nil
}

// List returns the devices that are ready for commands.
func (s *ServerSource) List(ctx context.Context) ([]Backend, error) {
	devices, err := s.client.Devices(ctx)
	if err != nil {
		return nil, err
	}
	return s.backends(devices), nil
}

func (s *ServerSource) backends(devices []adbserver.DeviceInfo) []Backend {
	var out []Backend
	for _, d := range devices {
		if d.Online() {
			out = append(out, &USBBackend{Info: d, client: s.client})
		}
	}
	return out
}

// Watch follows the server's device list. The first list is the baseline;
// afterwards fn gets each newly online serial, or "" when one disappears.
func (s *ServerSource) Watch(ctx context.Context, fn func(serial string)) (func(), error) {
	if _, err := s.client.Version(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		var known map[string]bool
		_ = s.client.Track(ctx, func(devices []adbserver.DeviceInfo) {
			current := make(map[string]bool)
			for _, d := range devices {
				if d.Online() {
					current[d.Serial] = true
				}
			}
			if known != nil {
				for serial := range current {
					if !known[serial] {
						fn(serial)
					}
				}
				for serial := range known {
					if !current[serial] {
						fn("")
					}
				}
			}
			known = current
		})
	}()
	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}
