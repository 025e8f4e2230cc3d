// Package backend describes the ways a device can be reached (USB through
// the adb server, ADB over TCP, ADB tunneled through a WebSocket proxy) and
// the sources that enumerate them.
package backend

import (
	"context"
	"strings"

	"adbdash/internal/adb"
	"adbdash/internal/adbserver"
)

// Kind is the transport family of a backend.
type Kind string

const (
	KindUSB       Kind = "usb"
	KindTCP       Kind = "tcp"
	KindWebSocket Kind = "websocket"
)

// Session is a connected device, whatever the transport.
type Session interface {
	Serial() string
	Exec(ctx context.Context, cmd string) (string, error)
	OpenStream(ctx context.Context, cmd string) (*adb.Stream, error)
	OnDisconnected(fn func()) (unsubscribe func())
	Dispose() error
}

var (
	_ Session = (*adb.Session)(nil)
	_ Session = (*adbserver.Session)(nil)
)

// Backend is a device that can be connected to.
type Backend interface {
	// Serial identifies the backend across list refreshes.
	Serial() string
	Name() string
	Kind() Kind
	Connect(ctx context.Context, opts adb.Options) (Session, error)
}

// Lister enumerates backends.
type Lister interface {
	List(ctx context.Context) ([]Backend, error)
}

// Watcher reports attach and detach events. fn receives the serial of a
// newly attached device, or "" when one went away.
type Watcher interface {
	Watch(ctx context.Context, fn func(serial string)) (stop func(), err error)
}

// Requester asks the user for a new backend. A cancelled request returns
// nil, nil.
type Requester interface {
	Request(ctx context.Context) (Backend, error)
}

// DeviceID extracts the device number from a proxy user name such as
// "aliyun_68694". Names without an underscore yield "".
func DeviceID(name string) string {
	_, rest, ok := strings.Cut(name, "_")
	if !ok {
		return ""
	}
	id, _, _ := strings.Cut(rest, "_")
	return id
}
