package adb

import (
	"encoding/binary"
	"errors"
)

// Shell protocol v2 packet ids.
const (
	ShellStdin      byte = 0
	ShellStdout     byte = 1
	ShellStderr     byte = 2
	ShellExit       byte = 3
	ShellCloseStdin byte = 4
	ShellWindowSize byte = 5
)

const shellHeaderSize = 5

// ShellDecoder reassembles shell v2 packets from arbitrary chunk boundaries.
type ShellDecoder struct {
	buf      []byte
	Stdout   []byte
	Stderr   []byte
	ExitCode int
	Exited   bool
}

// NewShellDecoder returns a decoder with an unknown exit code.
func NewShellDecoder() *ShellDecoder {
	return &ShellDecoder{ExitCode: -1}
}

// Feed consumes one chunk of stream data.
func (d *ShellDecoder) Feed(chunk []byte) error {
	d.buf = append(d.buf, chunk...)
	for len(d.buf) >= shellHeaderSize {
		id := d.buf[0]
		n := int(binary.LittleEndian.Uint32(d.buf[1:5]))
		if len(d.buf) < shellHeaderSize+n {
			return nil
		}
		data := d.buf[shellHeaderSize : shellHeaderSize+n]
		switch id {
		case ShellStdout:
			d.Stdout = append(d.Stdout, data...)
		case ShellStderr:
			d.Stderr = append(d.Stderr, data...)
		case ShellExit:
			if n < 1 {
				return errors.New("adb: empty shell exit packet")
			}
			d.ExitCode = int(data[0])
			d.Exited = true
		}
		d.buf = d.buf[shellHeaderSize+n:]
	}
	return nil
}

// EncodeShellPacket frames data as a shell v2 packet.
func EncodeShellPacket(id byte, data []byte) []byte {
	out := make([]byte, shellHeaderSize+len(data))
	out[0] = id
	binary.LittleEndian.PutUint32(out[1:], uint32(len(data)))
	copy(out[shellHeaderSize:], data)
	return out
}
