// Package adb speaks the ADB wire protocol to a device over any byte
// transport (TCP socket, WebSocket tunnel). A Session multiplexes shell
// commands and long-lived streams over one authenticated connection.
package adb

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Command words as they appear on the wire (little-endian ASCII).
const (
	CmdSYNC uint32 = 0x434e5953
	CmdCNXN uint32 = 0x4e584e43
	CmdAUTH uint32 = 0x48545541
	CmdOPEN uint32 = 0x4e45504f
	CmdOKAY uint32 = 0x59414b4f
	CmdCLSE uint32 = 0x45534c43
	CmdWRTE uint32 = 0x45545257
)

// AUTH message types carried in arg0.
const (
	AuthToken        uint32 = 1
	AuthSignature    uint32 = 2
	AuthRSAPublicKey uint32 = 3
)

const (
	// VersionSkipChecksum is the first protocol version where the payload
	// checksum may be zero.
	VersionSkipChecksum uint32 = 0x01000001
	// DefaultMaxPayload is what the host advertises in CNXN.
	DefaultMaxPayload uint32 = 256 * 1024

	headerSize = 24
	// hard ceiling on accepted payloads regardless of what the peer claims
	maxAcceptedPayload = 1024 * 1024
)

// Message is one ADB packet.
type Message struct {
	Command uint32
	Arg0    uint32
	Arg1    uint32
	Payload []byte
}

// CommandName returns the four-letter name of a command word.
func CommandName(cmd uint32) string {
	switch cmd {
	case CmdSYNC:
		return "SYNC"
	case CmdCNXN:
		return "CNXN"
	case CmdAUTH:
		return "AUTH"
	case CmdOPEN:
		return "OPEN"
	case CmdOKAY:
		return "OKAY"
	case CmdCLSE:
		return "CLSE"
	case CmdWRTE:
		return "WRTE"
	default:
		return fmt.Sprintf("0x%08x", cmd)
	}
}

func (m Message) String() string {
	return fmt.Sprintf("%s(%d, %d, %d bytes)", CommandName(m.Command), m.Arg0, m.Arg1, len(m.Payload))
}

// checksum is the byte sum used by protocol versions before VersionSkipChecksum.
func checksum(p []byte) uint32 {
	var sum uint32
	for _, b := range p {
		sum += uint32(b)
	}
	return sum
}

// Encode renders the header and payload into one buffer so a framed
// transport (WebSocket) sends a single frame per packet.
func (m Message) Encode() []byte {
	buf := make([]byte, headerSize+len(m.Payload))
	binary.LittleEndian.PutUint32(buf[0:], m.Command)
	binary.LittleEndian.PutUint32(buf[4:], m.Arg0)
	binary.LittleEndian.PutUint32(buf[8:], m.Arg1)
	binary.LittleEndian.PutUint32(buf[12:], uint32(len(m.Payload)))
	binary.LittleEndian.PutUint32(buf[16:], checksum(m.Payload))
	binary.LittleEndian.PutUint32(buf[20:], m.Command^0xffffffff)
	copy(buf[headerSize:], m.Payload)
	return buf
}

// WriteMessage writes one packet to w.
func WriteMessage(w io.Writer, m Message) error {
	_, err := w.Write(m.Encode())
	return err
}

// ReadMessage reads one packet from r. A non-zero checksum is verified;
// zero is accepted since newer daemons skip it.
func ReadMessage(r io.Reader) (Message, error) {
	var hdr [headerSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return Message{}, err
	}
	m := Message{
		Command: binary.LittleEndian.Uint32(hdr[0:]),
		Arg0:    binary.LittleEndian.Uint32(hdr[4:]),
		Arg1:    binary.LittleEndian.Uint32(hdr[8:]),
	}
	length := binary.LittleEndian.Uint32(hdr[12:])
	sum := binary.LittleEndian.Uint32(hdr[16:])
	magic := binary.LittleEndian.Uint32(hdr[20:])
	if magic != m.Command^0xffffffff {
		return Message{}, fmt.Errorf("adb: bad magic for %s", CommandName(m.Command))
	}
	if length > maxAcceptedPayload {
		return Message{}, fmt.Errorf("adb: payload of %d bytes exceeds limit", length)
	}
	if length > 0 {
		m.Payload = make([]byte, length)
		if _, err := io.ReadFull(r, m.Payload); err != nil {
			return Message{}, err
		}
		if sum != 0 && checksum(m.Payload) != sum {
			return Message{}, fmt.Errorf("adb: checksum mismatch for %s", CommandName(m.Command))
		}
	}
	return m, nil
}
